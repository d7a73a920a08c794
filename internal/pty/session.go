// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package pty

import (
	"os"
	"os/exec"
	"slices"
	"sync"
	"syscall"
	"time"

	creackpty "github.com/creack/pty"
)

// Status is the lifecycle status of a PTY session.
type Status string

const (
	StatusRunning Status = "running"
	StatusExited  Status = "exited"
)

// Handle is the public, serializable view of a session.
type Handle struct {
	SessionID string
	PID       int
	Cols      int
	Rows      int
	Status    Status
	ExitCode  *int
	StartedAt time.Time
}

// EnsureParams are the launch parameters for a session. Two calls with
// identical Key/Cwd/Argv/Env against a still-running session are treated
// as the same logical session and the existing one is reused.
type EnsureParams struct {
	Key          string
	Cwd          string
	Argv         []string
	Env          []string
	StartingCols int
	StartingRows int
}

func (p EnsureParams) sameLaunch(o EnsureParams) bool {
	return p.Cwd == o.Cwd && slices.Equal(p.Argv, o.Argv) && slices.Equal(p.Env, o.Env)
}

// EventType discriminates a session Event.
type EventType string

const (
	EventData EventType = "data"
	EventExit EventType = "exit"
)

// Event is delivered to every subscriber of a session.
type Event struct {
	Type     EventType
	Chunk    []byte
	ExitCode int
	Signal   string
}

// Subscriber receives session Events until its disposer is called.
type Subscriber func(Event)

type session struct {
	mu     sync.Mutex
	key    string
	params EnsureParams
	handle Handle

	cmd  *exec.Cmd
	ptmx *os.File
	ring *ringBuffer

	nextSubID int
	subs      map[int]Subscriber

	closed bool
}

func startSession(key string, params EnsureParams) (*session, error) {
	if len(params.Argv) == 0 {
		return nil, &Error{Kind: KindInvalidArgv, Key: key}
	}
	cmd := exec.Command(params.Argv[0], params.Argv[1:]...)
	cmd.Dir = params.Cwd
	if len(params.Env) > 0 {
		cmd.Env = params.Env
	} else {
		cmd.Env = os.Environ()
	}

	ptmx, err := creackpty.StartWithSize(cmd, &creackpty.Winsize{
		Rows: uint16(params.StartingRows),
		Cols: uint16(params.StartingCols),
	})
	if err != nil {
		return nil, &Error{Kind: KindSpawnFailed, Key: key, Cause: err}
	}

	s := &session{
		key:    key,
		params: params,
		cmd:    cmd,
		ptmx:   ptmx,
		ring:   newRingBuffer(defaultSoftCap),
		subs:   make(map[int]Subscriber),
		handle: Handle{
			SessionID: key,
			PID:       cmd.Process.Pid,
			Cols:      params.StartingCols,
			Rows:      params.StartingRows,
			Status:    StatusRunning,
			StartedAt: time.Now(),
		},
	}
	go s.readLoop()
	return s, nil
}

func (s *session) readLoop() {
	buf := make([]byte, 32*1024)
	for {
		n, err := s.ptmx.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			s.ring.Write(chunk)
			s.broadcast(Event{Type: EventData, Chunk: chunk})
		}
		if err != nil {
			s.finish()
			return
		}
	}
}

func (s *session) finish() {
	_ = s.cmd.Wait()
	exitCode := -1
	signal := ""
	if s.cmd.ProcessState != nil {
		exitCode = s.cmd.ProcessState.ExitCode()
		if ws, ok := s.cmd.ProcessState.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			signal = ws.Signal().String()
		}
	}

	s.mu.Lock()
	s.handle.Status = StatusExited
	s.handle.ExitCode = &exitCode
	s.mu.Unlock()

	s.broadcast(Event{Type: EventExit, ExitCode: exitCode, Signal: signal})
}

func (s *session) broadcast(ev Event) {
	s.mu.Lock()
	subs := make([]Subscriber, 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()
	for _, fn := range subs {
		fn(ev)
	}
}

func (s *session) Subscribe(fn Subscriber) func() {
	s.mu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subs[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

func (s *session) Write(data []byte) error {
	s.mu.Lock()
	running := s.handle.Status == StatusRunning
	s.mu.Unlock()
	if !running {
		return &Error{Kind: KindNotRunning, Key: s.key}
	}
	_, err := s.ptmx.Write(data)
	if err != nil {
		return &Error{Kind: KindIOFailed, Key: s.key, Cause: err}
	}
	return nil
}

func (s *session) Resize(cols, rows int) error {
	s.mu.Lock()
	running := s.handle.Status == StatusRunning
	s.mu.Unlock()
	if !running {
		return &Error{Kind: KindNotRunning, Key: s.key}
	}
	if err := creackpty.Setsize(s.ptmx, &creackpty.Winsize{Rows: uint16(rows), Cols: uint16(cols)}); err != nil {
		return &Error{Kind: KindIOFailed, Key: s.key, Cause: err}
	}
	s.mu.Lock()
	s.handle.Cols, s.handle.Rows = cols, rows
	s.mu.Unlock()
	return nil
}

func (s *session) Snapshot() []byte {
	return s.ring.Snapshot()
}

func (s *session) HandleCopy() Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.handle
	return h
}

// Close kills the PTY's process group, ignoring the "already exited"
// case — the session may have exited on its own between the caller's
// decision to close it and this call taking effect.
func (s *session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	if s.cmd.Process != nil {
		pgid, err := syscall.Getpgid(s.cmd.Process.Pid)
		if err == nil {
			_ = syscall.Kill(-pgid, syscall.SIGTERM)
			time.Sleep(100 * time.Millisecond)
			_ = syscall.Kill(-pgid, syscall.SIGKILL)
		} else {
			_ = s.cmd.Process.Kill()
		}
	}
	_ = s.ptmx.Close()
}
