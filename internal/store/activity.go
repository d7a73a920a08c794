// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/HiveRun/hive-sub001/pkg/types"
)

const activityEventColumns = `id, cell_id, action, source, tool, audit_tag, service_name, detail, created_at`

// CellActivityEventRepository persists the append-only user-visible
// activity audit trail.
type CellActivityEventRepository struct {
	db *sql.DB
}

// NewCellActivityEventRepository creates a CellActivityEventRepository
// over db.
func NewCellActivityEventRepository(db *DB) *CellActivityEventRepository {
	return &CellActivityEventRepository{db: db.Conn()}
}

func scanActivityEvent(scanner interface{ Scan(...any) error }) (*activityEventModel, error) {
	var m activityEventModel
	err := scanner.Scan(
		&m.ID, &m.CellID, &m.Action, &m.Source, &m.Tool, &m.AuditTag, &m.ServiceName, &m.Detail, &m.CreatedAt,
	)
	return &m, err
}

// Append inserts a new activity event row and sets its assigned ID.
func (r *CellActivityEventRepository) Append(ctx context.Context, ev *types.CellActivityEvent) error {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO cell_activity_events (cell_id, action, source, tool, audit_tag, service_name, detail, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.CellID, ev.Action, ev.Source, ev.Tool, ev.AuditTag, ev.ServiceName, ev.Detail, ev.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append activity event: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get activity event id: %w", err)
	}
	ev.ID = id
	return nil
}

// Delete removes every activity event recorded for a cell.
func (r *CellActivityEventRepository) Delete(ctx context.Context, cellID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM cell_activity_events WHERE cell_id = ?`, cellID)
	if err != nil {
		return fmt.Errorf("delete activity events: %w", err)
	}
	return nil
}

// ListByCell lists every activity event for a cell, newest first.
func (r *CellActivityEventRepository) ListByCell(ctx context.Context, cellID string, limit int) ([]*types.CellActivityEvent, error) {
	return r.ListByCellBefore(ctx, cellID, 0, limit)
}

// ListByCellBefore cursor-paginates a cell's activity feed: rows with
// id < beforeID (or every row, when beforeID <= 0), newest first,
// capped at limit.
func (r *CellActivityEventRepository) ListByCellBefore(ctx context.Context, cellID string, beforeID int64, limit int) ([]*types.CellActivityEvent, error) {
	query := `SELECT ` + activityEventColumns + ` FROM cell_activity_events WHERE cell_id = ?`
	args := []any{cellID}
	if beforeID > 0 {
		query += ` AND id < ?`
		args = append(args, beforeID)
	}
	query += ` ORDER BY id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list activity events: %w", err)
	}
	defer rows.Close()

	var out []*types.CellActivityEvent
	for rows.Next() {
		m, err := scanActivityEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan activity event row: %w", err)
		}
		out = append(out, m.toDomain())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate activity event rows: %w", err)
	}
	return out, nil
}
