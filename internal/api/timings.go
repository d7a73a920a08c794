// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package api

import (
	"net/http"

	"github.com/HiveRun/hive-sub001/internal/sse"
)

// listTimings implements GET /api/cells/:id/timings.
func (s *server) listTimings(w http.ResponseWriter, r *http.Request) {
	events, err := s.Timings.ListByCell(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// globalTimings implements GET /api/cells/timings/global.
func (s *server) globalTimings(w http.ResponseWriter, r *http.Request) {
	limit := parseIntDefault(r.URL.Query().Get("limit"), 200)
	events, err := s.Timings.ListRecent(r.Context(), limit)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// timingsStream implements GET /api/cells/:id/timings/stream,
// filterable by ?workflow=create|delete|all.
func (s *server) timingsStream(w http.ResponseWriter, r *http.Request) {
	workflow := r.URL.Query().Get("workflow")
	if err := sse.CellTimings(r.Context(), w, r, s.Bus, s.Timings, urlParam(r, "id"), workflow); err != nil {
		s.log.Warn("timings stream ended with error", "error", err)
	}
}
