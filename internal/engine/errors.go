// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package engine

import (
	"errors"
	"fmt"

	"github.com/HiveRun/hive-sub001/internal/services"
	"github.com/HiveRun/hive-sub001/internal/worktree"
)

// WorktreeError wraps a worktree.Error encountered during provisioning
// or deletion with the cell it occurred for.
type WorktreeError struct {
	CellID string
	Cause  *worktree.Error
}

func (e *WorktreeError) Kind() string { return "worktree_error" }

func (e *WorktreeError) Error() string {
	return fmt.Sprintf("cell %s: worktree error: %v", e.CellID, e.Cause)
}

func (e *WorktreeError) Unwrap() error { return e.Cause }

// TemplateSetupError is preserve-on-failure: the worktree and cell row
// remain, status flips to error, and the user may inspect or retry.
type TemplateSetupError struct {
	TemplateID    string
	WorkspacePath string
	Command       string
	ExitCode      int
	Cause         error
}

func (e *TemplateSetupError) Kind() string { return "template_setup_error" }

func (e *TemplateSetupError) Error() string {
	return fmt.Sprintf(
		"template %s setup failed in %s: command %q exited %d: %v",
		e.TemplateID, e.WorkspacePath, e.Command, e.ExitCode, e.Cause,
	)
}

func (e *TemplateSetupError) Unwrap() error { return e.Cause }

// CommandExecutionError is a supervisor-launched process that exited
// non-zero outside the one-time setup sequence (e.g. a service failing
// immediately on start).
type CommandExecutionError struct {
	Command  string
	Cwd      string
	ExitCode int
	Cause    error
}

func (e *CommandExecutionError) Kind() string { return "command_execution_error" }

func (e *CommandExecutionError) Error() string {
	return fmt.Sprintf("command %q (cwd %s) exited %d: %v", e.Command, e.Cwd, e.ExitCode, e.Cause)
}

func (e *CommandExecutionError) Unwrap() error { return e.Cause }

// CancellationError marks that a provisioning attempt observed the
// cell transition to deleting mid-flight. Recovery must not mark the
// cell error or resurrect the row — the deletion pipeline owns
// finalization.
type CancellationError struct {
	CellID string
	Phase  string
}

func (e *CancellationError) Kind() string { return "cancellation_error" }

func (e *CancellationError) Error() string {
	return fmt.Sprintf("cell %s: provisioning cancelled during %s", e.CellID, e.Phase)
}

func (e *CancellationError) Unwrap() error { return nil }

// ConflictError signals a 409: a provisioning workflow is already
// in-flight for the cell, or the cell is deleting.
type ConflictError struct {
	CellID string
	Reason string
}

func (e *ConflictError) Kind() string { return "conflict_error" }

func (e *ConflictError) Error() string {
	return fmt.Sprintf("cell %s: conflict: %s", e.CellID, e.Reason)
}

func (e *ConflictError) Unwrap() error { return nil }

// rehydrateSetupError walks err's cause chain, re-hydrating services.SetupCommandError
// into a TemplateSetupError carrying the template/workspace context the
// supervisor layer does not know about. Used after any Service
// Supervisor call during provisioning.
func rehydrateSetupError(templateID, workspacePath string, err error) error {
	if err == nil {
		return nil
	}
	var setupErr *services.SetupCommandError
	if errors.As(err, &setupErr) {
		return &TemplateSetupError{
			TemplateID:    templateID,
			WorkspacePath: workspacePath,
			Command:       setupErr.Command,
			ExitCode:      setupErr.ExitCode,
			Cause:         setupErr.Cause,
		}
	}
	return err
}
