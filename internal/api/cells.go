// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/HiveRun/hive-sub001/internal/engine"
	"github.com/HiveRun/hive-sub001/internal/sse"
	"github.com/HiveRun/hive-sub001/pkg/types"
)

type createCellBody struct {
	ID                 string `json:"id"`
	WorkspaceID        string `json:"workspaceId"`
	WorkspaceRootPath  string `json:"workspaceRootPath"`
	TemplateID         string `json:"templateId"`
	Name               string `json:"name"`
	Description        string `json:"description"`
	ModelIDOverride    string `json:"modelId,omitempty"`
	ProviderIDOverride string `json:"providerId,omitempty"`
	StartMode          string `json:"startMode,omitempty"`
}

// createCell implements POST /api/cells.
func (s *server) createCell(w http.ResponseWriter, r *http.Request) {
	var body createCellBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if body.ID == "" || body.WorkspaceID == "" || body.TemplateID == "" {
		writeError(w, http.StatusBadRequest, errRequiredFields("id", "workspaceId", "templateId"))
		return
	}

	cell, err := s.Engine.CreateCell(r.Context(), engine.CreateCellRequest{
		ID:                 body.ID,
		WorkspaceID:        body.WorkspaceID,
		WorkspaceRootPath:  body.WorkspaceRootPath,
		TemplateID:         body.TemplateID,
		Name:               body.Name,
		Description:        body.Description,
		ModelIDOverride:    body.ModelIDOverride,
		ProviderIDOverride: body.ProviderIDOverride,
		StartMode:          types.StartMode(body.StartMode),
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusCreated, cell)
}

// listCells implements GET /api/cells?workspaceId=... excluding
// deleting cells, per spec section 6.
func (s *server) listCells(w http.ResponseWriter, r *http.Request) {
	workspaceID := r.URL.Query().Get("workspaceId")
	if workspaceID == "" {
		writeError(w, http.StatusBadRequest, errRequiredFields("workspaceId"))
		return
	}
	cells, err := s.Cells.ListByWorkspace(r.Context(), workspaceID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	visible := make([]*types.Cell, 0, len(cells))
	for _, c := range cells {
		if c.Status != types.CellDeleting {
			visible = append(visible, c)
		}
	}
	writeJSON(w, http.StatusOK, visible)
}

// getCell implements GET /api/cells/:id, optionally including a
// setupLog tail sourced from the setup PTY's ring buffer.
func (s *server) getCell(w http.ResponseWriter, r *http.Request) {
	cell, err := s.Cells.Get(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeEngineError(w, err)
		return
	}

	type cellResponse struct {
		*types.Cell
		SetupLog string `json:"setupLog,omitempty"`
	}
	resp := cellResponse{Cell: cell}
	if buf, ok := s.SetupPTY.ReadOutput("setup:" + cell.ID); ok {
		resp.SetupLog = string(buf)
	}
	writeJSON(w, http.StatusOK, resp)
}

// deleteCell implements DELETE /api/cells/:id.
func (s *server) deleteCell(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	if err := s.Engine.DeleteCell(r.Context(), id); err != nil {
		writeEngineError(w, err)
		return
	}
	s.recordActivity(r, id, "delete", "")
	writeJSON(w, http.StatusOK, struct{}{})
}

type deleteCellsBody struct {
	IDs []string `json:"ids"`
}

type deleteCellsResponse struct {
	DeletedIDs []string `json:"deletedIds"`
}

// deleteCellsBulk implements DELETE /api/cells (bulk form). Per the
// standing decision recorded in DESIGN.md, deletedIds reports only the
// cells that actually succeeded, not the original request list.
func (s *server) deleteCellsBulk(w http.ResponseWriter, r *http.Request) {
	var body deleteCellsBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	deleted, err := s.Engine.DeleteCells(r.Context(), body.IDs)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, deleteCellsResponse{DeletedIDs: deleted})
}

// retrySetup implements POST /api/cells/:id/setup/retry.
func (s *server) retrySetup(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	cell, err := s.Engine.RetrySetup(r.Context(), id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	s.recordActivity(r, id, "setup_retry", "")
	writeJSON(w, http.StatusOK, cell)
}

// workspaceStream implements GET
// /api/cells/workspace/:workspaceId/stream.
func (s *server) workspaceStream(w http.ResponseWriter, r *http.Request) {
	if err := sse.WorkspaceCells(r.Context(), w, r, s.Bus, s.Cells, urlParam(r, "workspaceId")); err != nil {
		s.log.Warn("workspace stream ended with error", "error", err)
	}
}

// diff implements GET /api/cells/:id/diff through the Worktree Manager's
// Diff, a read-only, on-demand git diff that sits outside the worktree
// create/remove lifecycle.
func (s *server) diff(w http.ResponseWriter, r *http.Request) {
	cell, err := s.Cells.Get(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if cell.Status == types.CellDeleting || cell.BaseCommit == "" {
		writeError(w, http.StatusConflict, errCellNotReady(cell.ID))
		return
	}
	out, err := s.Worktrees.Diff(r.Context(), cell.ID, cell.BaseCommit)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Diff string `json:"diff"`
	}{Diff: out})
}

// listActivity implements GET /api/cells/:id/activity, cursor-paginated
// by the last-seen activity event ID (query param "before"), default
// page size 50, max 200.
func (s *server) listActivity(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	limit := parseIntDefault(r.URL.Query().Get("limit"), 50)
	if limit > 200 {
		limit = 200
	}
	before := parseIntDefault(r.URL.Query().Get("before"), 0)

	events, err := s.Activity.ListByCellBefore(r.Context(), id, int64(before), limit)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// recordActivity appends an activity-event row carrying whatever audit
// headers were present on the request, per spec section 6.
func (s *server) recordActivity(r *http.Request, cellID, action, detail string) {
	info := auditFromContext(r.Context())
	ev := &types.CellActivityEvent{
		CellID:      cellID,
		Action:      action,
		Source:      info.Source,
		Tool:        info.Tool,
		AuditTag:    info.AuditEvent,
		ServiceName: info.ServiceName,
		Detail:      detail,
		CreatedAt:   time.Now(),
	}
	if err := s.Activity.Append(r.Context(), ev); err != nil {
		s.log.Warn("record activity failed", "cell_id", cellID, "action", action, "error", err)
	}
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
