// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/HiveRun/hive-sub001/pkg/types"
)

const provisioningStateColumns = `cell_id, model_id_override, provider_id_override, start_mode,
	started_at, finished_at, attempt_count`

// ProvisioningStateRepository persists CellProvisioningState rows.
type ProvisioningStateRepository struct {
	db *sql.DB
}

// NewProvisioningStateRepository creates a ProvisioningStateRepository
// over db.
func NewProvisioningStateRepository(db *DB) *ProvisioningStateRepository {
	return &ProvisioningStateRepository{db: db.Conn()}
}

func scanProvisioningState(scanner interface{ Scan(...any) error }) (*provisioningStateModel, error) {
	var m provisioningStateModel
	err := scanner.Scan(
		&m.CellID, &m.ModelIDOverride, &m.ProviderIDOverride, &m.StartMode,
		&m.StartedAt, &m.FinishedAt, &m.AttemptCount,
	)
	return &m, err
}

// Upsert inserts or replaces a cell's provisioning state row.
func (r *ProvisioningStateRepository) Upsert(ctx context.Context, s *types.CellProvisioningState) error {
	m := fromProvisioningStateDomain(s)
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO cell_provisioning_state (`+provisioningStateColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(cell_id) DO UPDATE SET
			model_id_override = excluded.model_id_override,
			provider_id_override = excluded.provider_id_override,
			start_mode = excluded.start_mode,
			started_at = excluded.started_at,
			finished_at = excluded.finished_at,
			attempt_count = excluded.attempt_count`,
		m.CellID, m.ModelIDOverride, m.ProviderIDOverride, m.StartMode,
		m.StartedAt, m.FinishedAt, m.AttemptCount,
	)
	if err != nil {
		return fmt.Errorf("upsert provisioning state: %w", err)
	}
	return nil
}

// Get retrieves a cell's provisioning state.
func (r *ProvisioningStateRepository) Get(ctx context.Context, cellID string) (*types.CellProvisioningState, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+provisioningStateColumns+` FROM cell_provisioning_state WHERE cell_id = ?`, cellID)
	m, err := scanProvisioningState(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &ProvisioningStateNotFoundError{CellID: cellID}
	}
	if err != nil {
		return nil, fmt.Errorf("get provisioning state: %w", err)
	}
	return m.toDomain(), nil
}

// IncrementAttempt bumps attempt_count and sets started_at, used at
// the start of each (re)provisioning attempt.
func (r *ProvisioningStateRepository) IncrementAttempt(ctx context.Context, cellID string, startedAt sql.NullTime) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE cell_provisioning_state SET attempt_count = attempt_count + 1, started_at = ?, finished_at = NULL WHERE cell_id = ?`,
		startedAt, cellID,
	)
	if err != nil {
		return fmt.Errorf("increment provisioning attempt: %w", err)
	}
	return requireRowsAffected(result, &ProvisioningStateNotFoundError{CellID: cellID})
}

// MarkFinished sets finished_at for the current attempt.
func (r *ProvisioningStateRepository) MarkFinished(ctx context.Context, cellID string, finishedAt sql.NullTime) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE cell_provisioning_state SET finished_at = ? WHERE cell_id = ?`, finishedAt, cellID,
	)
	if err != nil {
		return fmt.Errorf("mark provisioning finished: %w", err)
	}
	return requireRowsAffected(result, &ProvisioningStateNotFoundError{CellID: cellID})
}

// Delete removes a cell's provisioning state row.
func (r *ProvisioningStateRepository) Delete(ctx context.Context, cellID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM cell_provisioning_state WHERE cell_id = ?`, cellID)
	if err != nil {
		return fmt.Errorf("delete provisioning state: %w", err)
	}
	return nil
}
