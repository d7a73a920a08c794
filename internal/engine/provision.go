// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/HiveRun/hive-sub001/internal/agentrt"
	"github.com/HiveRun/hive-sub001/internal/eventbus"
	"github.com/HiveRun/hive-sub001/internal/worktree"
	"github.com/HiveRun/hive-sub001/pkg/types"
)

func sqlNullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: true}
}

const maxProvisioningAttempts = 3

// CreateCellRequest is the synchronous create-path input.
type CreateCellRequest struct {
	ID                 string
	WorkspaceID        string
	WorkspaceRootPath  string
	TemplateID         string
	Name               string
	Description        string
	ModelIDOverride    string
	ProviderIDOverride string
	StartMode          types.StartMode // empty lets the template/defaults decide
}

// CreateCell pre-reserves the cell row and provisioning state, returns
// the spawning cell immediately, and launches the provisioning workflow
// in the background. Mirrors spec section 4.G's "create path (synchronous
// portion)".
func (e *Engine) CreateCell(ctx context.Context, req CreateCellRequest) (*types.Cell, error) {
	tmpl, err := e.resolveTemplate(req.TemplateID)
	if err != nil {
		return nil, fmt.Errorf("resolve template %s: %w", req.TemplateID, err)
	}

	startMode := req.StartMode
	if startMode == "" {
		startMode = types.StartModePlan
	}

	cellID := req.ID
	cell := &types.Cell{
		ID:                cellID,
		WorkspaceID:       req.WorkspaceID,
		WorkspaceRootPath: req.WorkspaceRootPath,
		WorkspacePath:     e.worktrees.Path(cellID),
		BranchName:        e.worktrees.Branch(cellID),
		TemplateID:        req.TemplateID,
		Name:              req.Name,
		Description:       req.Description,
		CreatedAt:         time.Now(),
		Status:            types.CellSpawning,
	}
	if err := e.cells.Insert(ctx, cell); err != nil {
		return nil, fmt.Errorf("reserve cell row: %w", err)
	}

	state := &types.CellProvisioningState{
		CellID:             cellID,
		ModelIDOverride:    req.ModelIDOverride,
		ProviderIDOverride: req.ProviderIDOverride,
		StartMode:          startMode,
		AttemptCount:       0,
	}
	if err := e.provisioning.Upsert(ctx, state); err != nil {
		return nil, fmt.Errorf("reserve provisioning state: %w", err)
	}

	_ = tmpl // resolved up front to fail fast on an unknown template
	e.startProvisioningWorkflow(cellID)
	return cell, nil
}

// startProvisioningWorkflow launches runProvisioningWorkflow in the
// background, guarded by the single-flight set. Returns false, a no-op,
// if a workflow is already active for cellID.
func (e *Engine) startProvisioningWorkflow(cellID string) bool {
	ctx, _, ok := e.tryBeginWorkflow(cellID)
	if !ok {
		return false
	}
	runID := newRunID()
	e.runDetached(cellID, ctx, func(ctx context.Context) {
		e.runProvisioningWorkflow(ctx, cellID, runID)
	})
	return true
}

// RetrySetup resets a failed cell to spawning and restarts the
// provisioning workflow with a fresh run ID and incremented attempt
// count. Returns a ConflictError if a workflow is already in flight.
func (e *Engine) RetrySetup(ctx context.Context, cellID string) (*types.Cell, error) {
	if e.isWorkflowActive(cellID) {
		return nil, &ConflictError{CellID: cellID, Reason: "provisioning already in progress"}
	}

	cell, err := e.cells.Get(ctx, cellID)
	if err != nil {
		return nil, err
	}
	if cell.Status == types.CellDeleting {
		return nil, &ConflictError{CellID: cellID, Reason: "cell is being deleted"}
	}

	if err := e.cells.UpdateStatus(ctx, cellID, types.CellSpawning, nil); err != nil {
		return nil, fmt.Errorf("reset cell status: %w", err)
	}
	cell.Status = types.CellSpawning
	cell.LastSetupError = nil

	if _, err := e.provisioning.Get(ctx, cellID); err != nil {
		state := &types.CellProvisioningState{CellID: cellID, StartMode: types.StartModePlan}
		if err := e.provisioning.Upsert(ctx, state); err != nil {
			return nil, fmt.Errorf("re-insert provisioning state: %w", err)
		}
	}

	if !e.startProvisioningWorkflow(cellID) {
		return nil, &ConflictError{CellID: cellID, Reason: "provisioning already in progress"}
	}
	return cell, nil
}

// runProvisioningWorkflow runs the six timed phases of spec section 4.G,
// checking for cancellation between each, and recovers per the
// preserve-on-failure rules on any phase failure.
func (e *Engine) runProvisioningWorkflow(ctx context.Context, cellID, runID string) {
	cell, err := e.cells.Get(ctx, cellID)
	if err != nil {
		e.log.Error("provisioning workflow: cell vanished", "cell_id", cellID, "error", err)
		return
	}
	state, err := e.provisioning.Get(ctx, cellID)
	if err != nil {
		e.log.Error("provisioning workflow: provisioning state vanished", "cell_id", cellID, "error", err)
		return
	}

	attempt := state.AttemptCount + 1
	priorSessionID := cell.OpencodeSessionID

	if recErr := e.runPhase(ctx, cellID, runID, "begin_attempt", func(ctx context.Context) (map[string]any, error) {
		now := time.Now()
		if err := e.provisioning.IncrementAttempt(ctx, cellID, sqlNullTime(now)); err != nil {
			return nil, err
		}
		return map[string]any{"attempt": attempt}, nil
	}); recErr != nil {
		e.recoverFromFailure(ctx, cellID, recErr)
		return
	}

	if reason, cancelled := e.checkCancellation(ctx, cellID); cancelled {
		e.recoverFromFailure(ctx, cellID, &CancellationError{CellID: cellID, Phase: reason})
		return
	}

	tmpl, err := e.resolveTemplate(cell.TemplateID)
	if err != nil {
		e.recoverFromFailure(ctx, cellID, fmt.Errorf("resolve template %s: %w", cell.TemplateID, err))
		return
	}

	if recErr := e.runPhase(ctx, cellID, runID, "create_worktree", func(ctx context.Context) (map[string]any, error) {
		result, err := e.worktrees.CreateWorktree(ctx, cellID, worktree.CreateOptions{
			TemplateID:  cell.TemplateID,
			IncludeCopy: tmpl.IncludeCopy,
			Force:       true,
			OnTimingEvent: func(step string, d time.Duration, metadata map[string]any) {
				e.persistTiming(ctx, cellID, runID, "create_worktree:"+step, types.TimingOK, d, metadata)
			},
		})
		if err != nil {
			var wtErr *worktree.Error
			if errors.As(err, &wtErr) {
				return nil, &WorktreeError{CellID: cellID, Cause: wtErr}
			}
			return nil, err
		}
		if err := e.cells.UpdateWorktreeInfo(ctx, cellID, result.Path, result.Branch, result.BaseCommit); err != nil {
			return nil, err
		}
		cell.WorkspacePath = result.Path
		cell.BranchName = result.Branch
		cell.BaseCommit = result.BaseCommit
		return map[string]any{"branch": result.Branch, "base_commit": result.BaseCommit}, nil
	}); recErr != nil {
		e.recoverFromFailure(ctx, cellID, recErr)
		return
	}

	if reason, cancelled := e.checkCancellation(ctx, cellID); cancelled {
		e.recoverFromFailure(ctx, cellID, &CancellationError{CellID: cellID, Phase: reason})
		return
	}

	if recErr := e.runPhase(ctx, cellID, runID, "ensure_services", func(ctx context.Context) (map[string]any, error) {
		err := e.supervisor.EnsureCellServices(ctx, *cell, tmpl, func(step string, d time.Duration, status types.TimingStatus, metadata map[string]any) {
			e.persistTiming(ctx, cellID, runID, "ensure_services:"+step, status, d, metadata)
		})
		if err != nil {
			return nil, rehydrateSetupError(cell.TemplateID, cell.WorkspacePath, err)
		}
		return nil, nil
	}); recErr != nil {
		e.recoverFromFailure(ctx, cellID, recErr)
		return
	}

	if reason, cancelled := e.checkCancellation(ctx, cellID); cancelled {
		e.recoverFromFailure(ctx, cellID, &CancellationError{CellID: cellID, Phase: reason})
		return
	}

	var sessionInfo agentStub
	if recErr := e.runPhase(ctx, cellID, runID, "ensure_agent_session", func(ctx context.Context) (map[string]any, error) {
		info, err := e.agent.EnsureSession(ctx, cellID, agentrt.EnsureOptions{
			ModelID:    state.ModelIDOverride,
			ProviderID: state.ProviderIDOverride,
			StartMode:  string(state.StartMode),
		})
		if err != nil {
			return nil, err
		}
		sessionInfo = agentStub{id: info.ID}
		if err := e.cells.UpdateOpencodeSessionID(ctx, cellID, info.ID); err != nil {
			return nil, err
		}
		cell.OpencodeSessionID = &info.ID
		return map[string]any{"session_id": info.ID}, nil
	}); recErr != nil {
		e.recoverFromFailure(ctx, cellID, recErr)
		return
	}

	if reason, cancelled := e.checkCancellation(ctx, cellID); cancelled {
		e.recoverFromFailure(ctx, cellID, &CancellationError{CellID: cellID, Phase: reason})
		return
	}

	if attempt == 1 || priorSessionID == nil {
		_ = e.runPhase(ctx, cellID, runID, "send_initial_prompt", func(ctx context.Context) (map[string]any, error) {
			e.sendInitialPromptBestEffort(cellID, sessionInfo.id)
			return nil, nil
		})
	}

	if recErr := e.runPhase(ctx, cellID, runID, "mark_ready", func(ctx context.Context) (map[string]any, error) {
		if err := e.cells.UpdateStatus(ctx, cellID, types.CellReady, nil); err != nil {
			return nil, err
		}
		now := time.Now()
		return nil, e.provisioning.MarkFinished(ctx, cellID, sqlNullTime(now))
	}); recErr != nil {
		e.recoverFromFailure(ctx, cellID, recErr)
		return
	}

	e.publishCellStatus(cell.WorkspaceID, cellID)
}

// agentStub carries just the session ID forward between phase closures
// without exposing agentrt.SessionInfo outside this file.
type agentStub struct{ id string }

// sendInitialPromptBestEffort sends the fixed opening prompt "Get started."
// on a detached goroutine bounded by a 30-second timeout; the provisioning workflow does not
// wait for it, per spec section 4.G step 5.
func (e *Engine) sendInitialPromptBestEffort(cellID, sessionID string) {
	if sessionID == "" {
		return
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := e.agent.SendMessage(ctx, cellID, "Get started."); err != nil {
			e.log.Warn("initial prompt send failed", "cell_id", cellID, "error", err)
		}
	}()
}

// runPhase times fn, persists and publishes the resulting CellTimingEvent,
// and returns fn's error unwrapped for the caller's recovery logic.
func (e *Engine) runPhase(ctx context.Context, cellID, runID, step string, fn func(ctx context.Context) (map[string]any, error)) error {
	start := time.Now()
	metadata, err := fn(ctx)
	status := types.TimingOK
	if err != nil {
		status = types.TimingError
	}
	e.persistTiming(ctx, cellID, runID, step, status, time.Since(start), metadata)
	return err
}

func (e *Engine) persistTiming(ctx context.Context, cellID, runID, step string, status types.TimingStatus, d time.Duration, metadata map[string]any) {
	ev := &types.CellTimingEvent{
		CellID:     cellID,
		RunID:      runID,
		Workflow:   types.WorkflowCreate,
		Step:       step,
		Status:     status,
		DurationMs: d.Milliseconds(),
		Metadata:   metadata,
		CreatedAt:  time.Now(),
	}
	if err := e.timings.Append(ctx, ev); err != nil {
		e.log.Error("persist timing event failed", "cell_id", cellID, "step", step, "error", err)
		return
	}
	e.bus.Publish(eventbus.TimingTopic(cellID), ev)
}

func (e *Engine) publishCellStatus(workspaceID, cellID string) {
	e.bus.Publish(eventbus.CellStatusTopic(workspaceID), cellID)
}

// checkCancellation implements resolveProvisioningCancellationReason:
// if the cell row is gone or has flipped to deleting, the current
// workflow attempt must abort without resurrecting or erroring the row.
func (e *Engine) checkCancellation(ctx context.Context, cellID string) (string, bool) {
	cell, err := e.cells.Get(ctx, cellID)
	if err != nil {
		return "row_missing", true
	}
	if cell.Status == types.CellDeleting {
		return "cell_deleting", true
	}
	return "", false
}

// recoverFromFailure implements the recover branch of the state
// machine: preserve-on-failure for TemplateSetupError, best-effort
// service teardown, and worktree/row rollback otherwise.
func (e *Engine) recoverFromFailure(ctx context.Context, cellID string, failure error) {
	var cancelErr *CancellationError
	if errors.As(failure, &cancelErr) {
		// The cell flipped to deleting mid-flight. Recovery must not
		// resurrect the row or mark it error; the deletion pipeline owns
		// finalization. Run it here, still inside this attempt's
		// single-flight slot, rather than racing DeleteCell's own
		// attempt to acquire that same slot.
		e.log.Info("provisioning cancelled, handing off to deletion", "cell_id", cellID, "phase", cancelErr.Phase)
		if err := e.runDeletionPipeline(ctx, cellID); err != nil {
			e.log.Error("deletion handoff after cancelled provisioning failed", "cell_id", cellID, "error", err)
		}
		return
	}

	cell, err := e.cells.Get(ctx, cellID)
	if err != nil {
		e.log.Warn("recover: cell row already gone", "cell_id", cellID)
		return
	}

	var setupErr *TemplateSetupError
	preserve := errors.As(failure, &setupErr)

	msg := failure.Error()
	e.log.Error("provisioning attempt failed", "cell_id", cellID, "preserve", preserve, "error", msg)

	if tmpl, tmplErr := e.resolveTemplate(cell.TemplateID); tmplErr == nil {
		_ = e.supervisor.StopCellServices(ctx, cellID, tmpl.Services, true)
	}

	if !preserve {
		if cell.BaseCommit != "" {
			if err := e.worktrees.RemoveWorktree(ctx, cellID); err != nil {
				e.log.Warn("recover: remove worktree failed", "cell_id", cellID, "error", err)
				_ = worktree.RemoveFilesystemFallback(cell.WorkspacePath)
			}
		}
		_ = e.cellServices.DeleteServicesForCell(ctx, cellID)
		e.deleteChildRows(ctx, cellID)
		if err := e.cells.Delete(ctx, cellID); err != nil {
			e.log.Warn("recover: delete cell row failed", "cell_id", cellID, "error", err)
		}
		e.publishCellStatus(cell.WorkspaceID, cellID)
		return
	}

	if err := e.cells.UpdateStatus(ctx, cellID, types.CellError, &msg); err != nil {
		e.log.Warn("recover: mark cell error failed", "cell_id", cellID, "error", err)
	}
	e.publishCellStatus(cell.WorkspaceID, cellID)
}
