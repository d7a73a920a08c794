// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package engine

import (
	"context"
	"fmt"

	"github.com/HiveRun/hive-sub001/pkg/types"
)

// ResumeInterrupted scans for cells left mid-flight by a prior process
// exit and either restarts or gives up on them, then re-runs any
// in-progress deletion. Called once at server boot, before the HTTP
// listener starts accepting requests, the way cmd/reactor/main.go
// sequences initializeInfrastructure ahead of serving work.
func (e *Engine) ResumeInterrupted(ctx context.Context) error {
	if err := e.resumeSpawning(ctx); err != nil {
		return fmt.Errorf("resume spawning cells: %w", err)
	}
	if err := e.resumeDeleting(ctx); err != nil {
		return fmt.Errorf("resume deleting cells: %w", err)
	}
	return nil
}

func (e *Engine) resumeSpawning(ctx context.Context) error {
	cells, err := e.cells.ListByStatus(ctx, types.CellSpawning)
	if err != nil {
		return err
	}

	for _, cell := range cells {
		state, err := e.provisioning.Get(ctx, cell.ID)
		if err != nil {
			e.log.Error("resume: provisioning state missing for spawning cell", "cell_id", cell.ID, "error", err)
			continue
		}

		if state.AttemptCount >= maxProvisioningAttempts {
			msg := "Provisioning interrupted by server restart. Retry limit exceeded."
			if err := e.cells.UpdateStatus(ctx, cell.ID, types.CellError, &msg); err != nil {
				e.log.Error("resume: failed to mark cell error", "cell_id", cell.ID, "error", err)
			}
			continue
		}

		e.log.Info("resume: restarting interrupted provisioning", "cell_id", cell.ID, "attempt", state.AttemptCount)
		if !e.startProvisioningWorkflow(cell.ID) {
			e.log.Warn("resume: workflow already active, skipping", "cell_id", cell.ID)
		}
	}
	return nil
}

func (e *Engine) resumeDeleting(ctx context.Context) error {
	cells, err := e.cells.ListByStatus(ctx, types.CellDeleting)
	if err != nil {
		return err
	}

	for _, cell := range cells {
		e.log.Info("resume: re-running interrupted deletion", "cell_id", cell.ID)
		if !e.startDeletionWorkflow(cell.ID) {
			e.log.Warn("resume: deletion workflow already active, skipping", "cell_id", cell.ID)
		}
	}
	return nil
}
