// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package engine

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/HiveRun/hive-sub001/internal/agentrt"
	"github.com/HiveRun/hive-sub001/internal/eventbus"
	"github.com/HiveRun/hive-sub001/internal/pty"
	"github.com/HiveRun/hive-sub001/internal/services"
	"github.com/HiveRun/hive-sub001/internal/store"
	"github.com/HiveRun/hive-sub001/internal/template"
	"github.com/HiveRun/hive-sub001/internal/worktree"
	"github.com/HiveRun/hive-sub001/pkg/types"
)

// fakeAgent is an in-memory AgentRuntime, avoiding the need for a live
// opencode server in the provisioning workflow tests.
type fakeAgent struct {
	mu       sync.Mutex
	sessions map[string]string
	failNext bool
	delay    time.Duration
}

func newFakeAgent() *fakeAgent {
	return &fakeAgent{sessions: make(map[string]string)}
}

func (f *fakeAgent) EnsureSession(ctx context.Context, cellID string, opts agentrt.EnsureOptions) (agentrt.SessionInfo, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		f.failNext = false
		return agentrt.SessionInfo{}, fmt.Errorf("agent runtime unavailable")
	}
	id := "session-" + cellID
	f.sessions[cellID] = id
	return agentrt.SessionInfo{ID: id, ModelID: opts.ModelID, ProviderID: opts.ProviderID, StartMode: opts.StartMode}, nil
}

func (f *fakeAgent) SendMessage(ctx context.Context, cellID, content string) error {
	return nil
}

func (f *fakeAgent) CloseSession(ctx context.Context, cellID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, cellID)
	return nil
}

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

type testEngine struct {
	*Engine
	db     *store.DB
	cells  *store.CellRepository
	agent  *fakeAgent
	tmpl   template.Template
	failTm bool
}

func newTestEngine(t *testing.T, tmpl template.Template) *testEngine {
	t.Helper()
	db, err := store.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	repo := initTestRepo(t)
	cellsRoot := filepath.Join(t.TempDir(), "cells")

	cells := store.NewCellRepository(db)
	provisioning := store.NewProvisioningStateRepository(db)
	cellServices := store.NewCellServiceRepository(db)
	timings := store.NewCellTimingEventRepository(db)
	activity := store.NewCellActivityEventRepository(db)

	sup := services.NewSupervisor(cellServices, pty.NewRegistry(pty.FlavorService, nil))
	agent := newFakeAgent()

	te := &testEngine{db: db, cells: cells, agent: agent, tmpl: tmpl}

	te.Engine = New(Deps{
		Cells:        cells,
		Provisioning: provisioning,
		CellServices: cellServices,
		Timings:      timings,
		Activity:     activity,
		Worktrees:    worktree.NewManager(repo, cellsRoot),
		Supervisor:   sup,
		Agent:        agent,
		Bus:          eventbus.New(),
		ShellPTY:     pty.NewRegistry(pty.FlavorShell, nil),
		ChatPTY:      pty.NewRegistry(pty.FlavorChat, nil),
		SetupPTY:     pty.NewRegistry(pty.FlavorService, nil),
		ResolveTemplate: func(id string) (template.Template, error) {
			if te.failTm {
				return template.Template{}, fmt.Errorf("no such template %s", id)
			}
			return te.tmpl, nil
		},
	})
	return te
}

func waitForStatus(t *testing.T, te *testEngine, cellID string, want types.CellStatus) *types.Cell {
	t.Helper()
	var cell *types.Cell
	require.Eventually(t, func() bool {
		c, err := te.cells.Get(context.Background(), cellID)
		if err != nil {
			return false
		}
		cell = c
		return c.Status == want
	}, 5*time.Second, 10*time.Millisecond, "cell %s never reached status %s", cellID, want)
	return cell
}

func TestCreateCellProvisionsToReady(t *testing.T) {
	te := newTestEngine(t, template.Template{
		ID:            "default",
		SetupCommands: []string{"true"},
	})

	cell, err := te.CreateCell(context.Background(), CreateCellRequest{
		ID: "cell-1", WorkspaceID: "ws-1", TemplateID: "default", Name: "my cell",
	})
	require.NoError(t, err)
	require.Equal(t, types.CellSpawning, cell.Status)

	ready := waitForStatus(t, te, "cell-1", types.CellReady)
	require.NotNil(t, ready.OpencodeSessionID)
	require.Equal(t, "session-cell-1", *ready.OpencodeSessionID)
	require.NotEmpty(t, ready.BranchName)
	require.NotEmpty(t, ready.BaseCommit)

	state, err := te.Engine.provisioning.Get(context.Background(), "cell-1")
	require.NoError(t, err)
	require.Equal(t, 1, state.AttemptCount)
	require.NotNil(t, state.FinishedAt)

	timings, err := te.Engine.timings.ListByCell(context.Background(), "cell-1")
	require.NoError(t, err)
	var steps []string
	for _, ev := range timings {
		steps = append(steps, ev.Step)
	}
	require.Contains(t, steps, "begin_attempt")
	require.Contains(t, steps, "ensure_services")
	require.Contains(t, steps, "ensure_agent_session")
	require.Contains(t, steps, "mark_ready")
}

func TestCreateCellSetupFailurePreservesWorktreeAndRow(t *testing.T) {
	te := newTestEngine(t, template.Template{
		ID:            "broken",
		SetupCommands: []string{"false"},
	})

	_, err := te.CreateCell(context.Background(), CreateCellRequest{
		ID: "cell-2", WorkspaceID: "ws-1", TemplateID: "broken", Name: "broken cell",
	})
	require.NoError(t, err)

	failed := waitForStatus(t, te, "cell-2", types.CellError)
	require.NotNil(t, failed.LastSetupError)
	require.Contains(t, *failed.LastSetupError, "setup failed")

	_, err = os.Stat(failed.WorkspacePath)
	require.NoError(t, err, "worktree must survive a template setup failure")
}

func TestRetrySetupReturnsConflictWhileWorkflowActive(t *testing.T) {
	te := newTestEngine(t, template.Template{ID: "default"})
	te.agent.delay = 300 * time.Millisecond // keeps the workflow in-flight for the assertion below

	_, err := te.CreateCell(context.Background(), CreateCellRequest{
		ID: "cell-3", WorkspaceID: "ws-1", TemplateID: "default",
	})
	require.NoError(t, err)

	_, err = te.RetrySetup(context.Background(), "cell-3")
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)

	waitForStatus(t, te, "cell-3", types.CellReady)
}

func TestRetrySetupAfterFailureIncrementsAttempt(t *testing.T) {
	te := newTestEngine(t, template.Template{SetupCommands: []string{"false"}})

	_, err := te.CreateCell(context.Background(), CreateCellRequest{
		ID: "cell-4", WorkspaceID: "ws-1", TemplateID: "broken",
	})
	require.NoError(t, err)
	waitForStatus(t, te, "cell-4", types.CellError)

	_, err = te.RetrySetup(context.Background(), "cell-4")
	require.NoError(t, err)
	waitForStatus(t, te, "cell-4", types.CellError)

	state, err := te.Engine.provisioning.Get(context.Background(), "cell-4")
	require.NoError(t, err)
	require.Equal(t, 2, state.AttemptCount)
}

func TestDeleteCellRemovesRowAndWorktree(t *testing.T) {
	te := newTestEngine(t, template.Template{SetupCommands: []string{"true"}})

	_, err := te.CreateCell(context.Background(), CreateCellRequest{
		ID: "cell-5", WorkspaceID: "ws-1", TemplateID: "default",
	})
	require.NoError(t, err)
	ready := waitForStatus(t, te, "cell-5", types.CellReady)

	require.NoError(t, te.DeleteCell(context.Background(), "cell-5"))

	require.Eventually(t, func() bool {
		_, err := te.cells.Get(context.Background(), "cell-5")
		return err != nil
	}, 5*time.Second, 10*time.Millisecond, "cell row must eventually be removed")

	_, statErr := os.Stat(ready.WorkspacePath)
	require.Error(t, statErr, "worktree directory must be removed")
}

func TestDeleteCellsBulkReportsOnlyRemoved(t *testing.T) {
	te := newTestEngine(t, template.Template{SetupCommands: []string{"true"}})

	_, err := te.CreateCell(context.Background(), CreateCellRequest{ID: "cell-6", WorkspaceID: "ws-1", TemplateID: "default"})
	require.NoError(t, err)
	waitForStatus(t, te, "cell-6", types.CellReady)

	deleted, err := te.DeleteCells(context.Background(), []string{"cell-6", "does-not-exist"})
	require.NoError(t, err)
	require.Equal(t, []string{"cell-6"}, deleted)
}

func TestResumeInterruptedMarksErrorPastAttemptCap(t *testing.T) {
	te := newTestEngine(t, template.Template{})

	cell := &types.Cell{
		ID: "cell-7", WorkspaceID: "ws-1", TemplateID: "default",
		WorkspacePath: "/tmp/does-not-matter", BranchName: "cell-cell-7",
		CreatedAt: time.Now(), Status: types.CellSpawning,
	}
	require.NoError(t, te.cells.Insert(context.Background(), cell))
	require.NoError(t, te.Engine.provisioning.Upsert(context.Background(), &types.CellProvisioningState{
		CellID: "cell-7", AttemptCount: maxProvisioningAttempts,
	}))

	require.NoError(t, te.ResumeInterrupted(context.Background()))

	got, err := te.cells.Get(context.Background(), "cell-7")
	require.NoError(t, err)
	require.Equal(t, types.CellError, got.Status)
	require.NotNil(t, got.LastSetupError)
	require.Contains(t, *got.LastSetupError, "Retry limit exceeded")
}
