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

const cellColumns = `id, workspace_id, workspace_root_path, workspace_path, branch_name,
	base_commit, template_id, name, description, created_at, status,
	opencode_session_id, last_setup_error`

// CellRepository persists Cell rows.
type CellRepository struct {
	db *sql.DB
}

// NewCellRepository creates a CellRepository over db.
func NewCellRepository(db *DB) *CellRepository {
	return &CellRepository{db: db.Conn()}
}

func scanCell(scanner interface{ Scan(...any) error }) (*cellModel, error) {
	var m cellModel
	err := scanner.Scan(
		&m.ID, &m.WorkspaceID, &m.WorkspaceRootPath, &m.WorkspacePath, &m.BranchName,
		&m.BaseCommit, &m.TemplateID, &m.Name, &m.Description, &m.CreatedAt, &m.Status,
		&m.OpencodeSessionID, &m.LastSetupError,
	)
	return &m, err
}

// Insert creates a new cell row.
func (r *CellRepository) Insert(ctx context.Context, c *types.Cell) error {
	m := fromCellDomain(c)
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO cells (`+cellColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.WorkspaceID, m.WorkspaceRootPath, m.WorkspacePath, m.BranchName,
		m.BaseCommit, m.TemplateID, m.Name, m.Description, m.CreatedAt, m.Status,
		m.OpencodeSessionID, m.LastSetupError,
	)
	if err != nil {
		return fmt.Errorf("insert cell: %w", err)
	}
	return nil
}

// Get retrieves a cell by ID.
func (r *CellRepository) Get(ctx context.Context, id string) (*types.Cell, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+cellColumns+` FROM cells WHERE id = ?`, id)
	m, err := scanCell(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &CellNotFoundError{CellID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("get cell: %w", err)
	}
	return m.toDomain(), nil
}

// ListByWorkspace lists every cell belonging to workspaceID, newest
// first.
func (r *CellRepository) ListByWorkspace(ctx context.Context, workspaceID string) ([]*types.Cell, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+cellColumns+` FROM cells WHERE workspace_id = ? ORDER BY created_at DESC`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list cells: %w", err)
	}
	defer rows.Close()

	var out []*types.Cell
	for rows.Next() {
		m, err := scanCell(rows)
		if err != nil {
			return nil, fmt.Errorf("scan cell row: %w", err)
		}
		out = append(out, m.toDomain())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cell rows: %w", err)
	}
	return out, nil
}

// ListByStatus lists every cell across every workspace in the given
// status, used by the engine's boot-time resume scan.
func (r *CellRepository) ListByStatus(ctx context.Context, status types.CellStatus) ([]*types.Cell, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+cellColumns+` FROM cells WHERE status = ?`, string(status))
	if err != nil {
		return nil, fmt.Errorf("list cells by status: %w", err)
	}
	defer rows.Close()

	var out []*types.Cell
	for rows.Next() {
		m, err := scanCell(rows)
		if err != nil {
			return nil, fmt.Errorf("scan cell row: %w", err)
		}
		out = append(out, m.toDomain())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cell rows: %w", err)
	}
	return out, nil
}

// UpdateStatus transitions a cell's status and, when non-nil, its
// last setup error.
func (r *CellRepository) UpdateStatus(ctx context.Context, id string, status types.CellStatus, lastSetupError *string) error {
	var errVal sql.NullString
	if lastSetupError != nil {
		errVal = sql.NullString{String: *lastSetupError, Valid: true}
	}
	result, err := r.db.ExecContext(ctx,
		`UPDATE cells SET status = ?, last_setup_error = ? WHERE id = ?`,
		string(status), errVal, id,
	)
	if err != nil {
		return fmt.Errorf("update cell status: %w", err)
	}
	return requireRowsAffected(result, &CellNotFoundError{CellID: id})
}

// UpdateWorktreeInfo records the concrete worktree path, branch, and
// base commit once the worktree has actually been created; the row is
// pre-reserved with a deterministic path/branch before this point, so
// in the common case this only fills in baseCommit.
func (r *CellRepository) UpdateWorktreeInfo(ctx context.Context, id, workspacePath, branchName, baseCommit string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE cells SET workspace_path = ?, branch_name = ?, base_commit = ? WHERE id = ?`,
		workspacePath, branchName, baseCommit, id,
	)
	if err != nil {
		return fmt.Errorf("update cell worktree info: %w", err)
	}
	return requireRowsAffected(result, &CellNotFoundError{CellID: id})
}

// UpdateOpencodeSessionID records the agent session ID once ensured.
func (r *CellRepository) UpdateOpencodeSessionID(ctx context.Context, id, sessionID string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE cells SET opencode_session_id = ? WHERE id = ?`, sessionID, id,
	)
	if err != nil {
		return fmt.Errorf("update cell opencode session id: %w", err)
	}
	return requireRowsAffected(result, &CellNotFoundError{CellID: id})
}

// Delete removes a cell row.
func (r *CellRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM cells WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete cell: %w", err)
	}
	return requireRowsAffected(result, &CellNotFoundError{CellID: id})
}

func requireRowsAffected(result sql.Result, notFound error) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}
