// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package api

import (
	"net/http"

	"github.com/HiveRun/hive-sub001/internal/eventbus"
	"github.com/HiveRun/hive-sub001/internal/services"
	"github.com/HiveRun/hive-sub001/internal/sse"
	"github.com/HiveRun/hive-sub001/pkg/types"
)

// listServices implements GET /api/cells/:id/services: it reconciles
// each service's persisted status against the OS (process liveness,
// port reachability) before returning the list, per spec section 6.
func (s *server) listServices(w http.ResponseWriter, r *http.Request) {
	cellID := urlParam(r, "id")
	rows, err := s.CellServices.ListServices(r.Context(), cellID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	for _, svc := range rows {
		var derived types.ServiceStatus
		var lastErr *string
		if svc.Type == types.ServiceTypeDocker {
			derived, lastErr = s.Supervisor.DeriveDockerStatus(r.Context(), *svc)
		} else {
			derived, lastErr = services.DeriveStatus(*svc)
		}
		if derived != svc.Status {
			_ = s.CellServices.UpdateServiceRuntime(r.Context(), svc.ID, derived, svc.PID, svc.ContainerID, lastErr)
			svc.Status = derived
			svc.LastKnownError = lastErr
		}
		reachable := services.PortReachable(*svc)
		if reachable != svc.PortReachable {
			_ = s.CellServices.UpdatePortReachable(r.Context(), svc.ID, reachable)
			svc.PortReachable = reachable
		}
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *server) templateFor(r *http.Request, cellID string) (string, error) {
	cell, err := s.Cells.Get(r.Context(), cellID)
	if err != nil {
		return "", err
	}
	return cell.TemplateID, nil
}

// startServices implements POST /api/cells/:id/services/start, driving
// every declared service through the supervisor in dependency order.
func (s *server) startServices(w http.ResponseWriter, r *http.Request) {
	cellID := urlParam(r, "id")
	templateID, err := s.templateFor(r, cellID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	tmpl, err := s.ResolveTemplate(templateID)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.Supervisor.StartCellServices(r.Context(), cellID, tmpl.Services, nil); err != nil {
		writeEngineError(w, err)
		return
	}
	s.recordActivity(r, cellID, "services_start", "")
	s.Bus.Publish(eventbus.ServiceTopic(cellID), "services started")
	writeJSON(w, http.StatusOK, struct{}{})
}

// stopServices implements POST /api/cells/:id/services/stop.
func (s *server) stopServices(w http.ResponseWriter, r *http.Request) {
	cellID := urlParam(r, "id")
	templateID, err := s.templateFor(r, cellID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	tmpl, err := s.ResolveTemplate(templateID)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.Supervisor.StopCellServices(r.Context(), cellID, tmpl.Services, false); err != nil {
		writeEngineError(w, err)
		return
	}
	s.recordActivity(r, cellID, "services_stop", "")
	s.Bus.Publish(eventbus.ServiceTopic(cellID), "services stopped")
	writeJSON(w, http.StatusOK, struct{}{})
}

// restartServices implements POST /api/cells/:id/services/restart.
func (s *server) restartServices(w http.ResponseWriter, r *http.Request) {
	cellID := urlParam(r, "id")
	templateID, err := s.templateFor(r, cellID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	tmpl, err := s.ResolveTemplate(templateID)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.Supervisor.StopCellServices(r.Context(), cellID, tmpl.Services, false); err != nil {
		writeEngineError(w, err)
		return
	}
	if err := s.Supervisor.StartCellServices(r.Context(), cellID, tmpl.Services, nil); err != nil {
		writeEngineError(w, err)
		return
	}
	s.recordActivity(r, cellID, "services_restart", "")
	s.Bus.Publish(eventbus.ServiceTopic(cellID), "services restarted")
	writeJSON(w, http.StatusOK, struct{}{})
}

// startOneService implements POST /api/cells/:id/services/:serviceName/start.
func (s *server) startOneService(w http.ResponseWriter, r *http.Request) {
	cellID, name := urlParam(r, "id"), urlParam(r, "serviceName")
	if err := s.Supervisor.StartCellService(r.Context(), cellID, name); err != nil {
		writeEngineError(w, err)
		return
	}
	s.recordActivity(r, cellID, "service_start", name)
	s.Bus.Publish(eventbus.ServiceTopic(cellID), name+" started")
	writeJSON(w, http.StatusOK, struct{}{})
}

// stopOneService implements POST /api/cells/:id/services/:serviceName/stop.
func (s *server) stopOneService(w http.ResponseWriter, r *http.Request) {
	cellID, name := urlParam(r, "id"), urlParam(r, "serviceName")
	if err := s.Supervisor.StopCellService(r.Context(), cellID, name, false); err != nil {
		writeEngineError(w, err)
		return
	}
	s.recordActivity(r, cellID, "service_stop", name)
	s.Bus.Publish(eventbus.ServiceTopic(cellID), name+" stopped")
	writeJSON(w, http.StatusOK, struct{}{})
}

// restartOneService implements POST /api/cells/:id/services/:serviceName/restart.
func (s *server) restartOneService(w http.ResponseWriter, r *http.Request) {
	cellID, name := urlParam(r, "id"), urlParam(r, "serviceName")
	if err := s.Supervisor.StopCellService(r.Context(), cellID, name, false); err != nil {
		writeEngineError(w, err)
		return
	}
	if err := s.Supervisor.StartCellService(r.Context(), cellID, name); err != nil {
		writeEngineError(w, err)
		return
	}
	s.recordActivity(r, cellID, "service_restart", name)
	s.Bus.Publish(eventbus.ServiceTopic(cellID), name+" restarted")
	writeJSON(w, http.StatusOK, struct{}{})
}

// servicesStream implements GET /api/cells/:id/services/stream.
func (s *server) servicesStream(w http.ResponseWriter, r *http.Request) {
	if err := sse.CellServices(r.Context(), w, r, s.Bus, s.CellServices, urlParam(r, "id")); err != nil {
		s.log.Warn("services stream ended with error", "error", err)
	}
}
