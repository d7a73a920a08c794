// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

// Package pty hosts one generic session registry shared by the three PTY
// flavors the engine needs: interactive shell terminals, the coding-agent
// chat terminal, and setup/service terminals. The three differ only in
// how their caller builds EnsureParams.Argv — the registry itself is
// flavor-agnostic, mirroring teacher-style process management generalized
// from "one opencode server" to "any PTY-backed child process."
package pty

import (
	"context"
	"log/slog"
	"sync"
)

// Flavor labels a Registry for logging/metrics only.
type Flavor string

const (
	FlavorShell   Flavor = "shell"
	FlavorChat    Flavor = "chat"
	FlavorService Flavor = "service"
)

// Registry owns every live PTY session of one flavor, keyed by an
// opaque caller-chosen string (cellId for shell and chat sessions,
// "setup:"+cellId for setup runs, cellId+":service:"+serviceId for
// service terminals).
type Registry struct {
	flavor Flavor
	log    *slog.Logger

	mu       sync.Mutex
	sessions map[string]*session
}

// NewRegistry creates an empty Registry for the given flavor.
func NewRegistry(flavor Flavor, log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{flavor: flavor, log: log, sessions: make(map[string]*session)}
}

// EnsureSession returns a handle for key, reusing a running session
// launched with identical parameters, or killing any stale prior
// session and spawning a fresh one.
func (r *Registry) EnsureSession(ctx context.Context, params EnsureParams) (Handle, error) {
	r.mu.Lock()
	existing, ok := r.sessions[params.Key]
	r.mu.Unlock()

	if ok {
		h := existing.HandleCopy()
		if h.Status == StatusRunning && existing.params.sameLaunch(params) {
			return h, nil
		}
		existing.Close()
		r.mu.Lock()
		delete(r.sessions, params.Key)
		r.mu.Unlock()
	}

	s, err := startSession(params.Key, params)
	if err != nil {
		r.log.Error("pty session spawn failed", "flavor", r.flavor, "key", params.Key, "error", err)
		return Handle{}, err
	}

	r.mu.Lock()
	r.sessions[params.Key] = s
	r.mu.Unlock()
	r.log.Info("pty session started", "flavor", r.flavor, "key", params.Key, "pid", s.handle.PID)

	return s.HandleCopy(), nil
}

func (r *Registry) get(key string) (*session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[key]
	return s, ok
}

// Subscribe registers fn for every event on key's session. The returned
// disposer must be called to unsubscribe; it is a no-op if key has no
// session.
func (r *Registry) Subscribe(key string, fn Subscriber) func() {
	s, ok := r.get(key)
	if !ok {
		return func() {}
	}
	return s.Subscribe(fn)
}

// Write forwards data to key's PTY.
func (r *Registry) Write(key string, data []byte) error {
	s, ok := r.get(key)
	if !ok {
		return &Error{Kind: KindNotRunning, Key: key}
	}
	return s.Write(data)
}

// Resize applies a terminal resize to key's PTY.
func (r *Registry) Resize(key string, cols, rows int) error {
	s, ok := r.get(key)
	if !ok {
		return &Error{Kind: KindNotRunning, Key: key}
	}
	return s.Resize(cols, rows)
}

// ReadOutput returns a snapshot of key's ring buffer, used to backfill
// newly attached SSE subscribers.
func (r *Registry) ReadOutput(key string) ([]byte, bool) {
	s, ok := r.get(key)
	if !ok {
		return nil, false
	}
	return s.Snapshot(), true
}

// Handle returns the current handle for key.
func (r *Registry) Handle(key string) (Handle, bool) {
	s, ok := r.get(key)
	if !ok {
		return Handle{}, false
	}
	return s.HandleCopy(), true
}

// CloseSession kills key's PTY, ignoring an already-exited process.
func (r *Registry) CloseSession(key string) {
	r.mu.Lock()
	s, ok := r.sessions[key]
	delete(r.sessions, key)
	r.mu.Unlock()
	if ok {
		s.Close()
	}
}

// StopAll closes every registered session, used on server shutdown.
func (r *Registry) StopAll() {
	r.mu.Lock()
	sessions := make([]*session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.sessions = make(map[string]*session)
	r.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}
