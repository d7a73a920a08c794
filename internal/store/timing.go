// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/HiveRun/hive-sub001/pkg/types"
)

const timingEventColumns = `id, cell_id, run_id, workflow, step, status, duration_ms, attempt, metadata, created_at`

// CellTimingEventRepository persists the append-only timing event
// stream for cell provisioning/deletion runs.
type CellTimingEventRepository struct {
	db *sql.DB
}

// NewCellTimingEventRepository creates a CellTimingEventRepository
// over db.
func NewCellTimingEventRepository(db *DB) *CellTimingEventRepository {
	return &CellTimingEventRepository{db: db.Conn()}
}

func scanTimingEvent(scanner interface{ Scan(...any) error }) (*timingEventModel, error) {
	var m timingEventModel
	err := scanner.Scan(
		&m.ID, &m.CellID, &m.RunID, &m.Workflow, &m.Step, &m.Status, &m.DurationMs,
		&m.Attempt, &m.Metadata, &m.CreatedAt,
	)
	return &m, err
}

// Append inserts a new timing event row and sets its assigned ID.
func (r *CellTimingEventRepository) Append(ctx context.Context, ev *types.CellTimingEvent) error {
	var metadata []byte
	var err error
	if len(ev.Metadata) > 0 {
		metadata, err = json.Marshal(ev.Metadata)
		if err != nil {
			return fmt.Errorf("encode timing event metadata: %w", err)
		}
	} else {
		metadata = []byte("{}")
	}

	var attempt sql.NullInt64
	if ev.Attempt != nil {
		attempt = sql.NullInt64{Int64: int64(*ev.Attempt), Valid: true}
	}

	result, err := r.db.ExecContext(ctx,
		`INSERT INTO cell_timing_events (cell_id, run_id, workflow, step, status, duration_ms, attempt, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.CellID, ev.RunID, string(ev.Workflow), ev.Step, string(ev.Status), ev.DurationMs, attempt, string(metadata), ev.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append timing event: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get timing event id: %w", err)
	}
	ev.ID = id
	return nil
}

// ListByCell lists every timing event for a cell, oldest first.
func (r *CellTimingEventRepository) ListByCell(ctx context.Context, cellID string) ([]*types.CellTimingEvent, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+timingEventColumns+` FROM cell_timing_events WHERE cell_id = ? ORDER BY id ASC`, cellID)
	if err != nil {
		return nil, fmt.Errorf("list timing events: %w", err)
	}
	defer rows.Close()
	return scanTimingEvents(rows)
}

// ListByRun lists every timing event sharing a run ID, oldest first.
func (r *CellTimingEventRepository) ListByRun(ctx context.Context, runID string) ([]*types.CellTimingEvent, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+timingEventColumns+` FROM cell_timing_events WHERE run_id = ? ORDER BY id ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("list timing events by run: %w", err)
	}
	defer rows.Close()
	return scanTimingEvents(rows)
}

// ListRecent lists the most recent timing events across every cell,
// newest first, capped at limit, for the global timings view.
func (r *CellTimingEventRepository) ListRecent(ctx context.Context, limit int) ([]*types.CellTimingEvent, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+timingEventColumns+` FROM cell_timing_events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent timing events: %w", err)
	}
	defer rows.Close()
	return scanTimingEvents(rows)
}

// Delete removes every timing event recorded for a cell.
func (r *CellTimingEventRepository) Delete(ctx context.Context, cellID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM cell_timing_events WHERE cell_id = ?`, cellID)
	if err != nil {
		return fmt.Errorf("delete timing events: %w", err)
	}
	return nil
}

func scanTimingEvents(rows *sql.Rows) ([]*types.CellTimingEvent, error) {
	var out []*types.CellTimingEvent
	for rows.Next() {
		m, err := scanTimingEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan timing event row: %w", err)
		}
		ev, err := m.toDomain()
		if err != nil {
			return nil, fmt.Errorf("decode timing event row: %w", err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate timing event rows: %w", err)
	}
	return out, nil
}
