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

func TestCellActivityEventRepositoryAppendAndList(t *testing.T) {
	db := openTestDB(t)
	seedCell(t, db, "cell-1")
	repo := NewCellActivityEventRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Append(ctx, &types.CellActivityEvent{
		CellID: "cell-1", Action: "setup_retried", Source: "user", CreatedAt: time.Now(),
	}))
	require.NoError(t, repo.Append(ctx, &types.CellActivityEvent{
		CellID: "cell-1", Action: "service_restarted", Source: "user", ServiceName: "web", CreatedAt: time.Now(),
	}))

	events, err := repo.ListByCell(ctx, "cell-1", 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, "service_restarted", events[0].Action)

	limited, err := repo.ListByCell(ctx, "cell-1", 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
}
