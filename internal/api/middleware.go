// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/HiveRun/hive-sub001/internal/engine"
	"github.com/HiveRun/hive-sub001/internal/services"
	"github.com/HiveRun/hive-sub001/internal/store"
)

func errRequiredFields(fields ...string) error {
	return fmt.Errorf("missing required field(s): %s", strings.Join(fields, ", "))
}

func errCellNotReady(cellID string) error {
	return fmt.Errorf("cell %s has no worktree to diff yet", cellID)
}

// auditInfo carries the per-request audit headers spec section 6 says
// to record on activity-event inserts when present.
type auditInfo struct {
	Source      string
	Tool        string
	AuditEvent  string
	ServiceName string
}

type auditInfoKey struct{}

// auditContext captures x-hive-source/tool/audit-event/service-name
// once per request so any handler can attach them to an activity-event
// row without re-reading the raw headers.
func auditContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info := auditInfo{
			Source:      r.Header.Get("x-hive-source"),
			Tool:        r.Header.Get("x-hive-tool"),
			AuditEvent:  r.Header.Get("x-hive-audit-event"),
			ServiceName: r.Header.Get("x-hive-service-name"),
		}
		ctx := context.WithValue(r.Context(), auditInfoKey{}, info)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func auditFromContext(ctx context.Context) auditInfo {
	info, _ := ctx.Value(auditInfoKey{}).(auditInfo)
	return info
}

func urlParam(r *http.Request, name string) string {
	return chi.URLParam(r, name)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// apiError is the client-facing shape of any failed request, per spec
// section 7's "{message, details?}" propagation rule.
type apiError struct {
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, apiError{Message: err.Error()})
}

// writeEngineError maps the engine's typed errors onto HTTP status
// codes; anything unrecognized falls back to 500.
func writeEngineError(w http.ResponseWriter, err error) {
	var notFound *store.CellNotFoundError
	if errors.As(err, &notFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	var conflict *engine.ConflictError
	if errors.As(err, &conflict) {
		writeError(w, http.StatusConflict, err)
		return
	}
	var svcNotFound *services.NotFoundError
	if errors.As(err, &svcNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeError(w, http.StatusInternalServerError, err)
}
