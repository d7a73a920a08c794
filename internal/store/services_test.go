// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/HiveRun/hive-sub001/internal/services"
	"github.com/HiveRun/hive-sub001/pkg/types"
)

func seedCell(t *testing.T, db *DB, id string) {
	t.Helper()
	require.NoError(t, NewCellRepository(db).Insert(context.Background(), &types.Cell{
		ID: id, WorkspaceID: "ws-1", CreatedAt: time.Now(), Status: types.CellSpawning,
	}))
}

func TestCellServiceRepositoryUpsertAndGet(t *testing.T) {
	db := openTestDB(t)
	seedCell(t, db, "cell-1")
	repo := NewCellServiceRepository(db)
	ctx := context.Background()

	port := 3000
	svc := &types.CellService{
		ID: "cell-1:web", CellID: "cell-1", Name: "web", Type: types.ServiceTypeProcess,
		Command: "npm run dev", Cwd: "/repo", Env: map[string]string{"PORT": "3000"},
		DependsOn: []string{"db"}, Port: &port, Status: types.ServicePending, UpdatedAt: time.Now(),
	}
	require.NoError(t, repo.UpsertService(ctx, svc))

	got, err := repo.GetService(ctx, "cell-1", "web")
	require.NoError(t, err)
	require.Equal(t, "npm run dev", got.Command)
	require.Equal(t, "3000", got.Env["PORT"])
	require.Equal(t, []string{"db"}, got.DependsOn)
	require.Equal(t, 3000, *got.Port)
}

func TestCellServiceRepositoryGetMissingReturnsServicesNotFound(t *testing.T) {
	db := openTestDB(t)
	repo := NewCellServiceRepository(db)

	_, err := repo.GetService(context.Background(), "cell-1", "web")
	require.Error(t, err)
	var notFound *services.NotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestCellServiceRepositoryUpdateServiceRuntime(t *testing.T) {
	db := openTestDB(t)
	seedCell(t, db, "cell-1")
	repo := NewCellServiceRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.UpsertService(ctx, &types.CellService{
		ID: "cell-1:web", CellID: "cell-1", Name: "web", Type: types.ServiceTypeProcess,
		Status: types.ServicePending, UpdatedAt: time.Now(),
	}))

	pid := 4242
	require.NoError(t, repo.UpdateServiceRuntime(ctx, "cell-1:web", types.ServiceRunning, &pid, "", nil))

	got, err := repo.GetService(ctx, "cell-1", "web")
	require.NoError(t, err)
	require.Equal(t, types.ServiceRunning, got.Status)
	require.Equal(t, 4242, *got.PID)
}

func TestCellServiceRepositoryListServices(t *testing.T) {
	db := openTestDB(t)
	seedCell(t, db, "cell-1")
	repo := NewCellServiceRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.UpsertService(ctx, &types.CellService{ID: "cell-1:web", CellID: "cell-1", Name: "web", Status: types.ServicePending, UpdatedAt: time.Now()}))
	require.NoError(t, repo.UpsertService(ctx, &types.CellService{ID: "cell-1:db", CellID: "cell-1", Name: "db", Status: types.ServicePending, UpdatedAt: time.Now()}))

	all, err := repo.ListServices(ctx, "cell-1")
	require.NoError(t, err)
	require.Len(t, all, 2)
}
