// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package sse

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/HiveRun/hive-sub001/internal/eventbus"
	"github.com/HiveRun/hive-sub001/internal/pty"
	"github.com/HiveRun/hive-sub001/internal/store"
	"github.com/HiveRun/hive-sub001/pkg/types"
)

// syncRecorder is an httptest.ResponseRecorder safe to read from one
// goroutine while the stream handler writes from another, which every
// test here does by design (the handler runs until ctx is cancelled).
type syncRecorder struct {
	mu  sync.Mutex
	rec *httptest.ResponseRecorder
}

func newSyncRecorder() *syncRecorder {
	return &syncRecorder{rec: httptest.NewRecorder()}
}

func (s *syncRecorder) Header() http.Header {
	return s.rec.Header()
}

func (s *syncRecorder) Write(b []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec.Write(b)
}

func (s *syncRecorder) WriteHeader(statusCode int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rec.WriteHeader(statusCode)
}

func (s *syncRecorder) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rec.Flush()
}

func (s *syncRecorder) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec.Body.String()
}

var _ http.Flusher = (*syncRecorder)(nil)
var _ http.ResponseWriter = (*syncRecorder)(nil)

// readEvents parses every "event: ...\ndata: ...\n\n" frame in body,
// in order.
func readEvents(t *testing.T, body string) []string {
	t.Helper()
	var names []string
	sc := bufio.NewScanner(strings.NewReader(body))
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, "event: ") {
			names = append(names, strings.TrimPrefix(line, "event: "))
		}
	}
	return names
}

func TestWorkspaceCellsEmitsReadySnapshotThenTail(t *testing.T) {
	db, err := store.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cells := store.NewCellRepository(db)
	require.NoError(t, cells.Insert(context.Background(), &types.Cell{
		ID: "cell-1", WorkspaceID: "ws-1", TemplateID: "default",
		CreatedAt: time.Now(), Status: types.CellReady,
	}))

	bus := eventbus.New()

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/api/cells/workspace/ws-1/stream", nil)
	rec := newSyncRecorder()

	done := make(chan error, 1)
	go func() {
		done <- WorkspaceCells(ctx, rec, req, bus, cells, "ws-1")
	}()

	require.Eventually(t, func() bool {
		return strings.Contains(rec.String(), "event: snapshot")
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, cells.UpdateStatus(context.Background(), "cell-1", types.CellError, nil))
	bus.Publish(eventbus.CellStatusTopic("ws-1"), "cell-1")

	require.Eventually(t, func() bool {
		return strings.Count(rec.String(), "event: cell\n") >= 2
	}, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	events := readEvents(t, rec.String())
	require.Equal(t, []string{"ready", "cell", "snapshot", "cell"}, events)
}

func TestWorkspaceCellsEmitsCellRemovedOnDeletion(t *testing.T) {
	db, err := store.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cells := store.NewCellRepository(db)
	require.NoError(t, cells.Insert(context.Background(), &types.Cell{
		ID: "cell-2", WorkspaceID: "ws-2", TemplateID: "default",
		CreatedAt: time.Now(), Status: types.CellReady,
	}))

	bus := eventbus.New()
	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/api/cells/workspace/ws-2/stream", nil)
	rec := newSyncRecorder()

	done := make(chan error, 1)
	go func() {
		done <- WorkspaceCells(ctx, rec, req, bus, cells, "ws-2")
	}()

	require.Eventually(t, func() bool {
		return strings.Contains(rec.String(), "event: snapshot")
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, cells.Delete(context.Background(), "cell-2"))
	bus.Publish(eventbus.CellStatusTopic("ws-2"), "cell-2")

	require.Eventually(t, func() bool {
		return strings.Contains(rec.String(), "event: cell_removed")
	}, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestTerminalStreamReplaysSnapshotThenTailsData(t *testing.T) {
	registry := pty.NewRegistry(pty.FlavorShell, nil)
	_, err := registry.EnsureSession(context.Background(), pty.EnsureParams{
		Key: "cell-3", Cwd: t.TempDir(), Argv: []string{"/bin/sh", "-c", "echo hello; sleep 5"},
	})
	require.NoError(t, err)
	t.Cleanup(func() { registry.CloseSession("cell-3") })

	require.Eventually(t, func() bool {
		buf, ok := registry.ReadOutput("cell-3")
		return ok && strings.Contains(string(buf), "hello")
	}, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/api/cells/cell-3/terminal/stream", nil)
	rec := newSyncRecorder()

	done := make(chan error, 1)
	go func() {
		done <- Terminal(ctx, rec, req, registry, "cell-3")
	}()

	require.Eventually(t, func() bool {
		return strings.Contains(rec.String(), "event: snapshot")
	}, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	events := readEvents(t, rec.String())
	require.Equal(t, "ready", events[0])
	require.Equal(t, "snapshot", events[1])
}
