// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package worktree

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func initTestRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		out, err := cmd.CombinedOutput()
		require.NoErrorf(t, err, "git %v: %s", args, out)
	}
	run("init", "-b", "main")
	run("config", "user.email", "test@example.com")
	run("config", "user.name", "test")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("hello\n"), 0o644))
	run("add", "README.md")
	run("commit", "-m", "initial commit")
	return dir
}

func TestCreateWorktreeCreatesPathAndBranch(t *testing.T) {
	repo := initTestRepo(t)
	cellsRoot := filepath.Join(t.TempDir(), "cells")
	mgr := NewManager(repo, cellsRoot)

	var steps []string
	result, err := mgr.CreateWorktree(context.Background(), "abc123", CreateOptions{
		OnTimingEvent: func(step string, _ time.Duration, _ map[string]any) {
			steps = append(steps, step)
		},
	})
	require.NoError(t, err)
	require.Equal(t, filepath.Join(cellsRoot, "abc123"), result.Path)
	require.Equal(t, "cell-abc123", result.Branch)
	require.NotEmpty(t, result.BaseCommit)

	info, err := os.Stat(filepath.Join(result.Path, "README.md"))
	require.NoError(t, err)
	require.False(t, info.IsDir())

	require.Contains(t, steps, "resolve_head")
	require.Contains(t, steps, "create_worktree")
}

func TestCreateWorktreeRejectsInvalidCellID(t *testing.T) {
	repo := initTestRepo(t)
	mgr := NewManager(repo, filepath.Join(t.TempDir(), "cells"))

	_, err := mgr.CreateWorktree(context.Background(), "not/valid", CreateOptions{})
	require.Error(t, err)

	var werr *Error
	require.ErrorAs(t, err, &werr)
	require.Equal(t, KindFilesystem, werr.Kind)
}

func TestCreateWorktreeForceIsIdempotent(t *testing.T) {
	repo := initTestRepo(t)
	mgr := NewManager(repo, filepath.Join(t.TempDir(), "cells"))

	_, err := mgr.CreateWorktree(context.Background(), "retry-me", CreateOptions{})
	require.NoError(t, err)

	_, err = mgr.CreateWorktree(context.Background(), "retry-me", CreateOptions{Force: true})
	require.NoError(t, err)
}

func TestCreateWorktreeWithoutForceFailsOnExistingPath(t *testing.T) {
	repo := initTestRepo(t)
	mgr := NewManager(repo, filepath.Join(t.TempDir(), "cells"))

	_, err := mgr.CreateWorktree(context.Background(), "dup", CreateOptions{})
	require.NoError(t, err)

	_, err = mgr.CreateWorktree(context.Background(), "dup", CreateOptions{})
	require.Error(t, err)
	var werr *Error
	require.ErrorAs(t, err, &werr)
	require.Equal(t, KindWorktreeExists, werr.Kind)
}

func TestRemoveWorktree(t *testing.T) {
	repo := initTestRepo(t)
	mgr := NewManager(repo, filepath.Join(t.TempDir(), "cells"))

	result, err := mgr.CreateWorktree(context.Background(), "to-remove", CreateOptions{})
	require.NoError(t, err)

	require.NoError(t, mgr.RemoveWorktree(context.Background(), "to-remove"))
	_, statErr := os.Stat(result.Path)
	require.True(t, os.IsNotExist(statErr))
}
