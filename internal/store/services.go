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

	"github.com/HiveRun/hive-sub001/internal/services"
	"github.com/HiveRun/hive-sub001/pkg/types"
)

const cellServiceColumns = `id, cell_id, name, type, command, cwd, env, depends_on,
	port, pid, container_id, status, last_known_error, port_reachable, updated_at`

// CellServiceRepository persists CellService rows. It implements the
// services.Store interface consumed by internal/services's Supervisor.
type CellServiceRepository struct {
	db *sql.DB
}

// NewCellServiceRepository creates a CellServiceRepository over db.
func NewCellServiceRepository(db *DB) *CellServiceRepository {
	return &CellServiceRepository{db: db.Conn()}
}

func scanCellService(scanner interface{ Scan(...any) error }) (*cellServiceModel, error) {
	var m cellServiceModel
	err := scanner.Scan(
		&m.ID, &m.CellID, &m.Name, &m.Type, &m.Command, &m.Cwd, &m.Env, &m.DependsOn,
		&m.Port, &m.PID, &m.ContainerID, &m.Status, &m.LastKnownError, &m.PortReachable, &m.UpdatedAt,
	)
	return &m, err
}

// UpsertService inserts a new service row or replaces it entirely,
// keyed by (cell_id, name) per the template's declaration.
func (r *CellServiceRepository) UpsertService(ctx context.Context, svc *types.CellService) error {
	m, err := fromCellServiceDomain(svc)
	if err != nil {
		return fmt.Errorf("encode service: %w", err)
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO cell_services (`+cellServiceColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(cell_id, name) DO UPDATE SET
			type = excluded.type,
			command = excluded.command,
			cwd = excluded.cwd,
			env = excluded.env,
			depends_on = excluded.depends_on,
			port = excluded.port,
			pid = excluded.pid,
			container_id = excluded.container_id,
			status = excluded.status,
			last_known_error = excluded.last_known_error,
			port_reachable = excluded.port_reachable,
			updated_at = excluded.updated_at`,
		m.ID, m.CellID, m.Name, m.Type, m.Command, m.Cwd, m.Env, m.DependsOn,
		m.Port, m.PID, m.ContainerID, m.Status, m.LastKnownError, m.PortReachable, m.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert service: %w", err)
	}
	return nil
}

// GetService retrieves one service by cell ID and declared name.
func (r *CellServiceRepository) GetService(ctx context.Context, cellID, name string) (*types.CellService, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+cellServiceColumns+` FROM cell_services WHERE cell_id = ? AND name = ?`, cellID, name)
	m, err := scanCellService(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &services.NotFoundError{ServiceID: cellID + ":" + name}
	}
	if err != nil {
		return nil, fmt.Errorf("get service: %w", err)
	}
	return m.toDomain()
}

// ListServices lists every declared service for a cell.
func (r *CellServiceRepository) ListServices(ctx context.Context, cellID string) ([]*types.CellService, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+cellServiceColumns+` FROM cell_services WHERE cell_id = ? ORDER BY name`, cellID)
	if err != nil {
		return nil, fmt.Errorf("list services: %w", err)
	}
	defer rows.Close()

	var out []*types.CellService
	for rows.Next() {
		m, err := scanCellService(rows)
		if err != nil {
			return nil, fmt.Errorf("scan service row: %w", err)
		}
		svc, err := m.toDomain()
		if err != nil {
			return nil, fmt.Errorf("decode service row: %w", err)
		}
		out = append(out, svc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate service rows: %w", err)
	}
	return out, nil
}

// UpdateServiceRuntime records a service's runtime transition: status,
// PID (process services), container ID (docker services), and the
// last known error, if any.
func (r *CellServiceRepository) UpdateServiceRuntime(ctx context.Context, id string, status types.ServiceStatus, pid *int, containerID string, lastErr *string) error {
	var pidVal sql.NullInt64
	if pid != nil {
		pidVal = sql.NullInt64{Int64: int64(*pid), Valid: true}
	}
	var errVal sql.NullString
	if lastErr != nil {
		errVal = sql.NullString{String: *lastErr, Valid: true}
	}

	result, err := r.db.ExecContext(ctx,
		`UPDATE cell_services SET status = ?, pid = ?, container_id = ?, last_known_error = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		string(status), pidVal, containerID, errVal, id,
	)
	if err != nil {
		return fmt.Errorf("update service runtime: %w", err)
	}
	return requireRowsAffected(result, &ServiceNotFoundError{ID: id})
}

// UpdatePortReachable records the last observed port-reachability
// probe result for a service.
func (r *CellServiceRepository) UpdatePortReachable(ctx context.Context, id string, reachable bool) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE cell_services SET port_reachable = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, reachable, id,
	)
	if err != nil {
		return fmt.Errorf("update service port reachability: %w", err)
	}
	return requireRowsAffected(result, &ServiceNotFoundError{ID: id})
}

// DeleteServicesForCell removes every service row belonging to a cell,
// used by the deletion pipeline.
func (r *CellServiceRepository) DeleteServicesForCell(ctx context.Context, cellID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM cell_services WHERE cell_id = ?`, cellID)
	if err != nil {
		return fmt.Errorf("delete services for cell: %w", err)
	}
	return nil
}
