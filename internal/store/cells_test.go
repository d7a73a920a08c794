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

	"github.com/HiveRun/hive-sub001/pkg/types"
)

func TestCellRepositoryInsertAndGet(t *testing.T) {
	db := openTestDB(t)
	repo := NewCellRepository(db)
	ctx := context.Background()

	cell := &types.Cell{
		ID: "cell-1", WorkspaceID: "ws-1", WorkspaceRootPath: "/repo",
		WorkspacePath: "/repo/.cells/cell-1", BranchName: "hive/cell-1",
		BaseCommit: "deadbeef", TemplateID: "tmpl-1", Name: "my cell",
		CreatedAt: time.Now(), Status: types.CellSpawning,
	}
	require.NoError(t, repo.Insert(ctx, cell))

	got, err := repo.Get(ctx, "cell-1")
	require.NoError(t, err)
	require.Equal(t, "ws-1", got.WorkspaceID)
	require.Equal(t, types.CellSpawning, got.Status)
	require.Nil(t, got.OpencodeSessionID)
}

func TestCellRepositoryGetMissingReturnsNotFound(t *testing.T) {
	db := openTestDB(t)
	repo := NewCellRepository(db)

	_, err := repo.Get(context.Background(), "nope")
	require.Error(t, err)
	var notFound *CellNotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestCellRepositoryUpdateStatus(t *testing.T) {
	db := openTestDB(t)
	repo := NewCellRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Insert(ctx, &types.Cell{
		ID: "cell-1", WorkspaceID: "ws-1", CreatedAt: time.Now(), Status: types.CellSpawning,
	}))

	msg := "setup failed"
	require.NoError(t, repo.UpdateStatus(ctx, "cell-1", types.CellError, &msg))

	got, err := repo.Get(ctx, "cell-1")
	require.NoError(t, err)
	require.Equal(t, types.CellError, got.Status)
	require.Equal(t, "setup failed", *got.LastSetupError)
}

func TestCellRepositoryListByWorkspaceAndStatus(t *testing.T) {
	db := openTestDB(t)
	repo := NewCellRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Insert(ctx, &types.Cell{ID: "c1", WorkspaceID: "ws-1", CreatedAt: time.Now(), Status: types.CellReady}))
	require.NoError(t, repo.Insert(ctx, &types.Cell{ID: "c2", WorkspaceID: "ws-1", CreatedAt: time.Now(), Status: types.CellSpawning}))
	require.NoError(t, repo.Insert(ctx, &types.Cell{ID: "c3", WorkspaceID: "ws-2", CreatedAt: time.Now(), Status: types.CellSpawning}))

	byWorkspace, err := repo.ListByWorkspace(ctx, "ws-1")
	require.NoError(t, err)
	require.Len(t, byWorkspace, 2)

	byStatus, err := repo.ListByStatus(ctx, types.CellSpawning)
	require.NoError(t, err)
	require.Len(t, byStatus, 2)
}

func TestCellRepositoryDelete(t *testing.T) {
	db := openTestDB(t)
	repo := NewCellRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Insert(ctx, &types.Cell{ID: "cell-1", WorkspaceID: "ws-1", CreatedAt: time.Now(), Status: types.CellReady}))
	require.NoError(t, repo.Delete(ctx, "cell-1"))

	_, err := repo.Get(ctx, "cell-1")
	var notFound *CellNotFoundError
	require.ErrorAs(t, err, &notFound)
}
