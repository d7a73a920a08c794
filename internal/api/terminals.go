// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package api

import (
	"encoding/json"
	"net/http"
	"os"

	"github.com/HiveRun/hive-sub001/internal/pty"
	"github.com/HiveRun/hive-sub001/internal/sse"
)

// keyFunc derives a PTY registry key from the request's route params.
// The three flavors differ only in how they compose this key and the
// launch argv below; the registry itself is flavor-agnostic.
type keyFunc func(r *http.Request) string

func terminalKeyShell(r *http.Request) string { return urlParam(r, "id") }
func terminalKeyChat(r *http.Request) string  { return urlParam(r, "id") }
func terminalKeySetup(r *http.Request) string { return "setup:" + urlParam(r, "id") }
func terminalKeyService(r *http.Request) string {
	return urlParam(r, "id") + ":service:" + urlParam(r, "serviceId")
}

// terminalStream implements every GET .../terminal/stream route.
func (s *server) terminalStream(registry *pty.Registry, key keyFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionKey := key(r)
		if _, ok := registry.Handle(sessionKey); !ok {
			writeError(w, http.StatusConflict, errTerminalNotRunning(sessionKey))
			return
		}
		if err := sse.Terminal(r.Context(), w, r, registry, sessionKey); err != nil {
			s.log.Warn("terminal stream ended with error", "key", sessionKey, "error", err)
		}
	}
}

type terminalInputBody struct {
	Data string `json:"data"`
}

// terminalInput implements every POST .../terminal/input route.
func (s *server) terminalInput(registry *pty.Registry, key keyFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body terminalInputBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if err := registry.Write(key(r), []byte(body.Data)); err != nil {
			writeError(w, http.StatusConflict, err)
			return
		}
		writeJSON(w, http.StatusOK, struct{}{})
	}
}

type terminalResizeBody struct {
	Cols int `json:"cols"`
	Rows int `json:"rows"`
}

// terminalResize implements every POST .../terminal/resize route.
func (s *server) terminalResize(registry *pty.Registry, key keyFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body terminalResizeBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if err := registry.Resize(key(r), body.Cols, body.Rows); err != nil {
			writeError(w, http.StatusConflict, err)
			return
		}
		writeJSON(w, http.StatusOK, struct{}{})
	}
}

// terminalRestart implements POST .../terminal/restart for the shell
// and chat flavors: it kills the current session (if any) and
// relaunches it against the cell's current worktree, the same argv
// composition EnsureSession uses on first attach.
func (s *server) terminalRestart(registry *pty.Registry, key keyFunc, flavor string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cell, err := s.Cells.Get(r.Context(), urlParam(r, "id"))
		if err != nil {
			writeEngineError(w, err)
			return
		}
		sessionKey := key(r)
		registry.CloseSession(sessionKey)

		params := pty.EnsureParams{Key: sessionKey, Cwd: cell.WorkspacePath}
		switch flavor {
		case "chat":
			sessionID := ""
			if cell.OpencodeSessionID != nil {
				sessionID = *cell.OpencodeSessionID
			}
			params.Argv = pty.BuildChatArgv(pty.ChatArgsInput{SessionID: sessionID, Dir: cell.WorkspacePath})
		default:
			params.Argv = shellArgv()
		}

		if _, err := registry.EnsureSession(r.Context(), params); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		s.recordActivity(r, cell.ID, flavor+"_terminal_restart", "")
		writeJSON(w, http.StatusOK, struct{}{})
	}
}

func shellArgv() []string {
	shell := os.Getenv("SHELL")
	if shell == "" {
		shell = "/bin/sh"
	}
	return []string{shell}
}

func errTerminalNotRunning(key string) error {
	return &notRunningError{key: key}
}

type notRunningError struct{ key string }

func (e *notRunningError) Error() string { return "terminal session " + e.key + " is not running" }
