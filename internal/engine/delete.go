// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package engine

import (
	"context"
	"fmt"

	"github.com/HiveRun/hive-sub001/internal/eventbus"
	"github.com/HiveRun/hive-sub001/internal/worktree"
	"github.com/HiveRun/hive-sub001/pkg/types"
)

// DeleteCell flips cellID to deleting (the cancellation signal for any
// in-flight provisioning) and launches the deletion pipeline in the
// background. It does not return a ConflictError: if a provisioning or
// deletion workflow is already active for the cell, no second pipeline
// is launched and the call returns nil.
func (e *Engine) DeleteCell(ctx context.Context, cellID string) error {
	cell, err := e.cells.Get(ctx, cellID)
	if err != nil {
		return err
	}

	if cell.Status != types.CellDeleting {
		if err := e.cells.UpdateStatus(ctx, cellID, types.CellDeleting, nil); err != nil {
			return fmt.Errorf("flip cell to deleting: %w", err)
		}
		e.publishCellStatus(cell.WorkspaceID, cellID)
	}

	if !e.startDeletionWorkflow(cellID) {
		// A workflow (provisioning or a prior delete) is already
		// in-flight; it will observe the deleting status itself, or
		// deletion is already underway. Either way this call succeeds.
		e.log.Info("delete: workflow already active, deleting status will be observed", "cell_id", cellID)
	}
	return nil
}

// DeleteCells fans bulk deletion out sequentially, per spec section
// 4.H: partial failures are logged and omitted; the call succeeds as a
// whole iff at least one cell was actually removed.
func (e *Engine) DeleteCells(ctx context.Context, cellIDs []string) ([]string, error) {
	var deleted []string
	for _, id := range cellIDs {
		if err := e.deleteCellSync(ctx, id); err != nil {
			e.log.Warn("bulk delete: cell failed", "cell_id", id, "error", err)
			continue
		}
		deleted = append(deleted, id)
	}
	if len(deleted) == 0 && len(cellIDs) > 0 {
		return nil, fmt.Errorf("bulk delete: no cells were removed")
	}
	return deleted, nil
}

// deleteCellSync runs the deletion pipeline inline (not detached),
// used by bulk delete so the response can report exactly which IDs
// were actually removed. Guarded by the same single-flight slot as
// every other workflow so it can never race a concurrent create/retry
// attempt for the same cell.
func (e *Engine) deleteCellSync(ctx context.Context, cellID string) error {
	cell, err := e.cells.Get(ctx, cellID)
	if err != nil {
		return err
	}
	if cell.Status != types.CellDeleting {
		if err := e.cells.UpdateStatus(ctx, cellID, types.CellDeleting, nil); err != nil {
			return err
		}
	}
	e.publishCellStatus(cell.WorkspaceID, cellID)

	wfCtx, _, ok := e.tryBeginWorkflow(cellID)
	if !ok {
		return fmt.Errorf("cell %s: another workflow is already handling its removal", cellID)
	}
	defer e.endWorkflow(cellID)
	return e.runDeletionPipeline(wfCtx, cellID)
}

// startDeletionWorkflow launches runDeletionPipeline on the single-flight
// set, the same guard used for provisioning so a delete can never race a
// create/retry attempt for the same cell.
func (e *Engine) startDeletionWorkflow(cellID string) bool {
	ctx, _, ok := e.tryBeginWorkflow(cellID)
	if !ok {
		return false
	}
	e.runDetached(cellID, ctx, func(ctx context.Context) {
		if err := e.runDeletionPipeline(ctx, cellID); err != nil {
			e.log.Error("deletion pipeline failed", "cell_id", cellID, "error", err)
		}
	})
	return true
}

// runDeletionPipeline implements spec section 4.H's seven steps. Every
// step after the status flip is best-effort: a failure is logged and
// the pipeline proceeds, since an interrupted delete must still be able
// to finish cleanly on the next resume pass.
func (e *Engine) runDeletionPipeline(ctx context.Context, cellID string) error {
	cell, err := e.cells.Get(ctx, cellID)
	if err != nil {
		return fmt.Errorf("deletion: cell already gone: %w", err)
	}

	if err := e.agent.CloseSession(ctx, cellID); err != nil {
		e.log.Warn("deletion: close agent session failed", "cell_id", cellID, "error", err)
	}

	e.closeTerminals(cellID)

	if tmpl, err := e.resolveTemplate(cell.TemplateID); err == nil {
		if err := e.supervisor.StopCellServices(ctx, cellID, tmpl.Services, true); err != nil {
			e.log.Warn("deletion: stop services failed", "cell_id", cellID, "error", err)
		}
	} else {
		e.log.Warn("deletion: template unresolved, skipping graceful service stop", "cell_id", cellID, "error", err)
	}
	if err := e.cellServices.DeleteServicesForCell(ctx, cellID); err != nil {
		e.log.Warn("deletion: delete service rows failed", "cell_id", cellID, "error", err)
	}
	e.deleteChildRows(ctx, cellID)

	if cell.BaseCommit != "" {
		if err := e.worktrees.RemoveWorktree(ctx, cellID); err != nil {
			e.log.Warn("deletion: remove worktree failed, falling back to filesystem removal", "cell_id", cellID, "error", err)
			if fsErr := worktree.RemoveFilesystemFallback(cell.WorkspacePath); fsErr != nil {
				e.log.Error("deletion: filesystem fallback removal failed", "cell_id", cellID, "error", fsErr)
			}
		}
	}

	if err := e.cells.Delete(ctx, cellID); err != nil {
		return fmt.Errorf("deletion: delete cell row: %w", err)
	}

	e.bus.Publish(eventbus.CellStatusTopic(cell.WorkspaceID), cellID)
	return nil
}

// deleteChildRows removes every row the cells table's foreign keys
// reference before the cell row itself is deleted. None of those
// foreign keys cascade, and PRAGMA foreign_keys is on, so cells.Delete
// fails with a constraint violation unless these are cleared first.
// Each delete is best-effort and logged, consistent with the rest of
// the pipeline: a partial failure here must not block the cell row
// from eventually being removed on a resumed delete.
func (e *Engine) deleteChildRows(ctx context.Context, cellID string) {
	if err := e.provisioning.Delete(ctx, cellID); err != nil {
		e.log.Warn("deletion: delete provisioning state failed", "cell_id", cellID, "error", err)
	}
	if err := e.timings.Delete(ctx, cellID); err != nil {
		e.log.Warn("deletion: delete timing events failed", "cell_id", cellID, "error", err)
	}
	if err := e.activity.Delete(ctx, cellID); err != nil {
		e.log.Warn("deletion: delete activity events failed", "cell_id", cellID, "error", err)
	}
}

// closeTerminals clears every PTY session flavor a user could have
// attached to this cell, per the standing decision to clear terminals
// unconditionally on delete (recorded in DESIGN.md). The setup registry
// uses "setup:<cellId>" as its key, the same convention internal/services
// uses internally for the one-time setup recipe's terminal.
func (e *Engine) closeTerminals(cellID string) {
	if e.shellPTY != nil {
		e.shellPTY.CloseSession(cellID)
	}
	if e.chatPTY != nil {
		e.chatPTY.CloseSession(cellID)
	}
	if e.setupPTY != nil {
		e.setupPTY.CloseSession("setup:" + cellID)
	}
}
