// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/HiveRun/hive-sub001/internal/agentrt"
	"github.com/HiveRun/hive-sub001/internal/engine"
	"github.com/HiveRun/hive-sub001/internal/eventbus"
	"github.com/HiveRun/hive-sub001/internal/pty"
	"github.com/HiveRun/hive-sub001/internal/services"
	"github.com/HiveRun/hive-sub001/internal/store"
	"github.com/HiveRun/hive-sub001/internal/template"
	"github.com/HiveRun/hive-sub001/internal/worktree"
	"github.com/HiveRun/hive-sub001/pkg/types"
)

// fakeAgent is a minimal in-memory engine.AgentRuntime, the same shape
// internal/engine's own tests use to avoid a live opencode server.
type fakeAgent struct {
	delay time.Duration
}

func (f fakeAgent) EnsureSession(ctx context.Context, cellID string, opts agentrt.EnsureOptions) (agentrt.SessionInfo, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return agentrt.SessionInfo{ID: "session-" + cellID}, nil
}
func (fakeAgent) SendMessage(ctx context.Context, cellID, content string) error { return nil }
func (fakeAgent) CloseSession(ctx context.Context, cellID string) error         { return nil }

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

func newTestServer(t *testing.T, agentDelay time.Duration) (*httptest.Server, *store.CellRepository) {
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
	bus := eventbus.New()
	worktrees := worktree.NewManager(repo, cellsRoot)
	shellPTY := pty.NewRegistry(pty.FlavorShell, nil)
	chatPTY := pty.NewRegistry(pty.FlavorChat, nil)
	setupPTY := pty.NewRegistry(pty.FlavorService, nil)
	sup := services.NewSupervisor(cellServices, setupPTY)

	resolveTemplate := func(id string) (template.Template, error) {
		return template.Template{ID: id, SetupCommands: []string{"true"}}, nil
	}

	eng := engine.New(engine.Deps{
		Cells: cells, Provisioning: provisioning, CellServices: cellServices,
		Timings: timings, Activity: activity, Worktrees: worktrees, Supervisor: sup,
		Agent: fakeAgent{delay: agentDelay}, Bus: bus,
		ShellPTY: shellPTY, ChatPTY: chatPTY,
		SetupPTY: setupPTY, ResolveTemplate: resolveTemplate,
	})

	handler := NewRouter(Deps{
		Engine: eng, Cells: cells, CellServices: cellServices, Timings: timings, Activity: activity,
		Bus: bus, Supervisor: sup, Worktrees: worktrees,
		ShellPTY: shellPTY, ChatPTY: chatPTY,
		SetupPTY: setupPTY, ResolveTemplate: resolveTemplate,
	})

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv, cells
}

func TestCreateListGetDeleteCellEndToEnd(t *testing.T) {
	srv, cells := newTestServer(t, 0)

	body, _ := json.Marshal(createCellBody{
		ID: "cell-1", WorkspaceID: "ws-1", TemplateID: "default", Name: "my cell",
	})
	resp, err := http.Post(srv.URL+"/api/cells", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created types.Cell
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	resp.Body.Close()
	require.Equal(t, types.CellSpawning, created.Status)

	require.Eventually(t, func() bool {
		c, err := cells.Get(context.Background(), "cell-1")
		return err == nil && c.Status == types.CellReady
	}, 5*time.Second, 10*time.Millisecond)

	listResp, err := http.Get(srv.URL + "/api/cells?workspaceId=ws-1")
	require.NoError(t, err)
	defer listResp.Body.Close()
	require.Equal(t, http.StatusOK, listResp.StatusCode)
	var list []*types.Cell
	require.NoError(t, json.NewDecoder(listResp.Body).Decode(&list))
	require.Len(t, list, 1)

	getResp, err := http.Get(srv.URL + "/api/cells/cell-1")
	require.NoError(t, err)
	defer getResp.Body.Close()
	require.Equal(t, http.StatusOK, getResp.StatusCode)

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/api/cells/cell-1", nil)
	require.NoError(t, err)
	delResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, delResp.StatusCode)
	delResp.Body.Close()

	require.Eventually(t, func() bool {
		_, err := cells.Get(context.Background(), "cell-1")
		return err != nil
	}, 5*time.Second, 10*time.Millisecond)
}

func TestCreateCellMissingFieldsReturns400(t *testing.T) {
	srv, _ := newTestServer(t, 0)

	resp, err := http.Post(srv.URL+"/api/cells", "application/json", bytes.NewReader([]byte(`{}`)))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRetrySetupConflictWhileActive(t *testing.T) {
	srv, cells := newTestServer(t, 300*time.Millisecond)

	body, _ := json.Marshal(createCellBody{ID: "cell-2", WorkspaceID: "ws-1", TemplateID: "default"})
	resp, err := http.Post(srv.URL+"/api/cells", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()

	retryResp, err := http.Post(srv.URL+"/api/cells/cell-2/setup/retry", "application/json", nil)
	require.NoError(t, err)
	defer retryResp.Body.Close()
	require.Equal(t, http.StatusConflict, retryResp.StatusCode)

	require.Eventually(t, func() bool {
		c, err := cells.Get(context.Background(), "cell-2")
		return err == nil && c.Status == types.CellReady
	}, 5*time.Second, 10*time.Millisecond)
}
