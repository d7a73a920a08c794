// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package sse

import (
	"context"
	"net/http"
	"time"

	"github.com/HiveRun/hive-sub001/internal/eventbus"
	"github.com/HiveRun/hive-sub001/internal/pty"
	"github.com/HiveRun/hive-sub001/internal/store"
	"github.com/HiveRun/hive-sub001/pkg/types"
)

const heartbeatInterval = 15 * time.Second

// cellRemoved is the payload for a cell_removed event.
type cellRemoved struct {
	ID string `json:"id"`
}

// WorkspaceCells streams spec §4.I's workspace cell stream: ready, one
// cell event per existing non-deleting cell, snapshot, then tail.
// Every cell-status publication on the bus is re-read from cells so the
// client always sees current row state rather than a stale payload.
func WorkspaceCells(ctx context.Context, w http.ResponseWriter, r *http.Request, bus *eventbus.Bus, cells *store.CellRepository, workspaceID string) error {
	sub := bus.Subscribe(eventbus.CellStatusTopic(workspaceID), 0)
	defer sub.Close()

	sw, err := NewWriter(w)
	if err != nil {
		return err
	}
	if err := sw.Send("ready", struct{}{}); err != nil {
		return err
	}

	initial, err := cells.ListByWorkspace(ctx, workspaceID)
	if err != nil {
		return err
	}
	for _, c := range initial {
		if c.Status == types.CellDeleting {
			continue
		}
		if err := sw.Send("cell", c); err != nil {
			return err
		}
	}
	if err := sw.Send("snapshot", struct{}{}); err != nil {
		return err
	}

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-r.Context().Done():
			return nil
		case <-ticker.C:
			if err := sw.Heartbeat(); err != nil {
				return err
			}
		case ev, ok := <-sub.Events:
			if !ok {
				return nil
			}
			cellID, ok := ev.(string)
			if !ok {
				continue
			}
			cell, err := cells.Get(ctx, cellID)
			if err != nil || cell.Status == types.CellDeleting {
				if err := sw.Send("cell_removed", cellRemoved{ID: cellID}); err != nil {
					return err
				}
				continue
			}
			if err := sw.Send("cell", cell); err != nil {
				return err
			}
		}
	}
}

// CellServices streams spec §4.I's per-cell services stream: ready,
// one service event per currently declared service, snapshot, then a
// heartbeat-interleaved tail of service lifecycle events published on
// the cell's service topic.
func CellServices(ctx context.Context, w http.ResponseWriter, r *http.Request, bus *eventbus.Bus, services *store.CellServiceRepository, cellID string) error {
	sub := bus.Subscribe(eventbus.ServiceTopic(cellID), 0)
	defer sub.Close()

	sw, err := NewWriter(w)
	if err != nil {
		return err
	}
	if err := sw.Send("ready", struct{}{}); err != nil {
		return err
	}

	initial, err := services.ListServices(ctx, cellID)
	if err != nil {
		return err
	}
	for _, svc := range initial {
		if err := sw.Send("service", svc); err != nil {
			return err
		}
	}
	if err := sw.Send("snapshot", struct{}{}); err != nil {
		return err
	}

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-r.Context().Done():
			return nil
		case <-ticker.C:
			if err := sw.Heartbeat(); err != nil {
				return err
			}
		case ev, ok := <-sub.Events:
			if !ok {
				return nil
			}
			if err := sw.Send("service", ev); err != nil {
				return err
			}
		}
	}
}

// CellTimings streams spec §4.I's per-cell timing stream, filterable
// by workflow ("create", "delete", or "" / "all" for both).
func CellTimings(ctx context.Context, w http.ResponseWriter, r *http.Request, bus *eventbus.Bus, timings *store.CellTimingEventRepository, cellID string, workflowFilter string) error {
	matches := func(ev *types.CellTimingEvent) bool {
		switch workflowFilter {
		case "", "all":
			return true
		default:
			return string(ev.Workflow) == workflowFilter
		}
	}

	sub := bus.Subscribe(eventbus.TimingTopic(cellID), 0)
	defer sub.Close()

	sw, err := NewWriter(w)
	if err != nil {
		return err
	}
	if err := sw.Send("ready", struct{}{}); err != nil {
		return err
	}

	initial, err := timings.ListByCell(ctx, cellID)
	if err != nil {
		return err
	}
	for _, ev := range initial {
		if !matches(ev) {
			continue
		}
		if err := sw.Send("timing", ev); err != nil {
			return err
		}
	}
	if err := sw.Send("snapshot", struct{}{}); err != nil {
		return err
	}

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-r.Context().Done():
			return nil
		case <-ticker.C:
			if err := sw.Heartbeat(); err != nil {
				return err
			}
		case raw, ok := <-sub.Events:
			if !ok {
				return nil
			}
			ev, ok := raw.(*types.CellTimingEvent)
			if !ok || !matches(ev) {
				continue
			}
			if err := sw.Send("timing", ev); err != nil {
				return err
			}
		}
	}
}

// Terminal streams spec §4.I's per-terminal stream for one PTY session
// (shell, chat, setup, or a service terminal): ready, the current ring
// buffer replayed as a snapshot, then a tail of data/exit events until
// the client disconnects or the session is closed.
func Terminal(ctx context.Context, w http.ResponseWriter, r *http.Request, registry *pty.Registry, sessionKey string) error {
	sw, err := NewWriter(w)
	if err != nil {
		return err
	}
	if err := sw.Send("ready", struct{}{}); err != nil {
		return err
	}

	if buf, ok := registry.ReadOutput(sessionKey); ok && len(buf) > 0 {
		if err := sw.Send("snapshot", string(buf)); err != nil {
			return err
		}
	}

	events := make(chan pty.Event, 256)
	dispose := registry.Subscribe(sessionKey, func(ev pty.Event) {
		select {
		case events <- ev:
		default:
		}
	})
	defer dispose()

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-r.Context().Done():
			return nil
		case <-ticker.C:
			if err := sw.Heartbeat(); err != nil {
				return err
			}
		case ev := <-events:
			switch ev.Type {
			case pty.EventData:
				if err := sw.Send("data", string(ev.Chunk)); err != nil {
					return err
				}
			case pty.EventExit:
				if err := sw.Send("exit", struct {
					ExitCode int    `json:"exitCode"`
					Signal   string `json:"signal,omitempty"`
				}{ExitCode: ev.ExitCode, Signal: ev.Signal}); err != nil {
					return err
				}
				return nil
			}
		}
	}
}
