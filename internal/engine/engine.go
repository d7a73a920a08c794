// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

// Package engine is the cell provisioning and deletion orchestrator: it
// wires the Worktree Manager, Service Supervisor, Agent Runtime Adapter,
// and the SQLite-backed repositories into the create/retry/delete/resume
// workflows described for the system as a whole, publishing progress to
// the event bus as it goes.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/HiveRun/hive-sub001/internal/agentrt"
	"github.com/HiveRun/hive-sub001/internal/eventbus"
	"github.com/HiveRun/hive-sub001/internal/pty"
	"github.com/HiveRun/hive-sub001/internal/services"
	"github.com/HiveRun/hive-sub001/internal/store"
	"github.com/HiveRun/hive-sub001/internal/template"
	"github.com/HiveRun/hive-sub001/internal/worktree"
)

// TemplateResolver looks up a template by ID. Template registry loading
// lives outside this package (spec.md §1's non-goals); the engine only
// needs to resolve one once a cell names it.
type TemplateResolver func(templateID string) (template.Template, error)

// AgentRuntime is the subset of *agentrt.Adapter the provisioning and
// deletion workflows need. Accepting an interface here, the same way
// internal/services accepts a Store interface rather than a concrete
// repository, keeps the workflow state machine testable with a fake
// runtime instead of a live opencode server.
type AgentRuntime interface {
	EnsureSession(ctx context.Context, cellID string, opts agentrt.EnsureOptions) (agentrt.SessionInfo, error)
	SendMessage(ctx context.Context, cellID, content string) error
	CloseSession(ctx context.Context, cellID string) error
}

// Engine owns the full lifecycle of every cell: provisioning, retry,
// deletion, and boot-time resume of interrupted work.
type Engine struct {
	log *slog.Logger

	cells        *store.CellRepository
	provisioning *store.ProvisioningStateRepository
	cellServices *store.CellServiceRepository
	timings      *store.CellTimingEventRepository
	activity     *store.CellActivityEventRepository

	worktrees  *worktree.Manager
	supervisor *services.Supervisor
	agent      AgentRuntime
	bus        *eventbus.Bus

	shellPTY *pty.Registry
	chatPTY  *pty.Registry
	setupPTY *pty.Registry

	resolveTemplate TemplateResolver

	mu              sync.Mutex
	activeWorkflows map[string]context.CancelFunc
	wg              sync.WaitGroup
	shuttingDown    bool
}

// Deps bundles every collaborator Engine needs. All fields are
// required except Log, which defaults to slog.Default().
type Deps struct {
	Log *slog.Logger

	Cells        *store.CellRepository
	Provisioning *store.ProvisioningStateRepository
	CellServices *store.CellServiceRepository
	Timings      *store.CellTimingEventRepository
	Activity     *store.CellActivityEventRepository

	Worktrees  *worktree.Manager
	Supervisor *services.Supervisor
	Agent      AgentRuntime
	Bus        *eventbus.Bus

	ShellPTY *pty.Registry
	ChatPTY  *pty.Registry
	SetupPTY *pty.Registry

	ResolveTemplate TemplateResolver
}

// New creates an Engine from deps.
func New(deps Deps) *Engine {
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		log:             log,
		cells:           deps.Cells,
		provisioning:    deps.Provisioning,
		cellServices:    deps.CellServices,
		timings:         deps.Timings,
		activity:        deps.Activity,
		worktrees:       deps.Worktrees,
		supervisor:      deps.Supervisor,
		agent:           deps.Agent,
		bus:             deps.Bus,
		shellPTY:        deps.ShellPTY,
		chatPTY:         deps.ChatPTY,
		setupPTY:        deps.SetupPTY,
		resolveTemplate: deps.ResolveTemplate,
		activeWorkflows: make(map[string]context.CancelFunc),
	}
}

// tryBeginWorkflow registers cellID as having an in-flight workflow,
// returning false if one is already running. Mirrors teacher
// workflow_canceller.go's pendingCancellations map: the single-flight
// guard that keeps a second CreateCell/RetrySetup/DeleteCell from racing
// an existing provisioning or deletion attempt for the same cell.
func (e *Engine) tryBeginWorkflow(cellID string) (context.Context, context.CancelFunc, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.shuttingDown {
		return nil, nil, false
	}
	if _, active := e.activeWorkflows[cellID]; active {
		return nil, nil, false
	}
	ctx, cancel := context.WithCancel(context.Background())
	e.activeWorkflows[cellID] = cancel
	return ctx, cancel, true
}

func (e *Engine) endWorkflow(cellID string) {
	e.mu.Lock()
	if cancel, ok := e.activeWorkflows[cellID]; ok {
		cancel()
		delete(e.activeWorkflows, cellID)
	}
	e.mu.Unlock()
}

// isWorkflowActive reports whether cellID currently has an in-flight
// create/retry/delete workflow.
func (e *Engine) isWorkflowActive(cellID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, active := e.activeWorkflows[cellID]
	return active
}

// runDetached launches fn on its own goroutine, tracked by e.wg so
// Shutdown can wait for it, and clears cellID's single-flight entry when
// fn returns regardless of outcome. Callers must have already reserved
// cellID via tryBeginWorkflow and pass the ctx it returned.
func (e *Engine) runDetached(cellID string, ctx context.Context, fn func(ctx context.Context)) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer e.endWorkflow(cellID)
		defer func() {
			if r := recover(); r != nil {
				e.log.Error("provisioning workflow panicked", "cell_id", cellID, "panic", r)
			}
		}()
		fn(ctx)
	}()
}

func newRunID() string {
	return uuid.NewString()
}

// Shutdown cancels every in-flight workflow and waits for their
// goroutines to finish, up to ctx's deadline.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.shuttingDown = true
	for id, cancel := range e.activeWorkflows {
		e.log.Info("cancelling in-flight workflow for shutdown", "cell_id", id)
		cancel()
	}
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		e.bus.Shutdown()
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown: %w", ctx.Err())
	}
}
