// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

// Package api wires the cell engine, its repositories, and the SSE
// streams onto an HTTP surface. Grounded on teacher
// examples/pokemon-api/internal/api/router.go's chi.NewRouter +
// chi.Route shape, enriched with the production middleware stack
// (request ID, panic recovery, structured logging) from
// tomtom215-cartographus/internal/api/chi_router.go.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/HiveRun/hive-sub001/internal/engine"
	"github.com/HiveRun/hive-sub001/internal/eventbus"
	"github.com/HiveRun/hive-sub001/internal/pty"
	"github.com/HiveRun/hive-sub001/internal/services"
	"github.com/HiveRun/hive-sub001/internal/store"
	"github.com/HiveRun/hive-sub001/internal/template"
	"github.com/HiveRun/hive-sub001/internal/worktree"
)

// Deps bundles every collaborator the HTTP surface needs.
type Deps struct {
	Log *slog.Logger

	Engine *engine.Engine

	Cells        *store.CellRepository
	CellServices *store.CellServiceRepository
	Timings      *store.CellTimingEventRepository
	Activity     *store.CellActivityEventRepository

	Bus        *eventbus.Bus
	Supervisor *services.Supervisor
	Worktrees  *worktree.Manager

	ShellPTY *pty.Registry
	ChatPTY  *pty.Registry
	SetupPTY *pty.Registry

	ResolveTemplate func(id string) (template.Template, error)
}

// server holds the Deps plus the logger resolved to a non-nil value;
// every handler hangs off this type.
type server struct {
	Deps
	log *slog.Logger
}

// NewRouter builds the complete /api/cells HTTP surface described in
// spec section 6.
func NewRouter(deps Deps) http.Handler {
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}
	s := &server{Deps: deps, log: log}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(requestLogger(log))
	r.Use(auditContext)

	r.Route("/api/cells", func(r chi.Router) {
		r.Post("/", s.createCell)
		r.Get("/", s.listCells)
		r.Delete("/", s.deleteCellsBulk)

		r.Get("/timings/global", s.globalTimings)
		r.Get("/workspace/{workspaceId}/stream", s.workspaceStream)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.getCell)
			r.Delete("/", s.deleteCell)
			r.Post("/setup/retry", s.retrySetup)
			r.Get("/diff", s.diff)
			r.Get("/activity", s.listActivity)

			r.Get("/timings", s.listTimings)
			r.Get("/timings/stream", s.timingsStream)

			r.Get("/services", s.listServices)
			r.Post("/services/start", s.startServices)
			r.Post("/services/stop", s.stopServices)
			r.Post("/services/restart", s.restartServices)
			r.Post("/services/{serviceName}/start", s.startOneService)
			r.Post("/services/{serviceName}/stop", s.stopOneService)
			r.Post("/services/{serviceName}/restart", s.restartOneService)
			r.Get("/services/stream", s.servicesStream)

			r.Get("/terminal/stream", s.terminalStream(s.ShellPTY, terminalKeyShell))
			r.Post("/terminal/input", s.terminalInput(s.ShellPTY, terminalKeyShell))
			r.Post("/terminal/resize", s.terminalResize(s.ShellPTY, terminalKeyShell))
			r.Post("/terminal/restart", s.terminalRestart(s.ShellPTY, terminalKeyShell, "shell"))

			r.Get("/chat/terminal/stream", s.terminalStream(s.ChatPTY, terminalKeyChat))
			r.Post("/chat/terminal/input", s.terminalInput(s.ChatPTY, terminalKeyChat))
			r.Post("/chat/terminal/resize", s.terminalResize(s.ChatPTY, terminalKeyChat))
			r.Post("/chat/terminal/restart", s.terminalRestart(s.ChatPTY, terminalKeyChat, "chat"))

			r.Get("/setup/terminal/stream", s.terminalStream(s.SetupPTY, terminalKeySetup))
			r.Post("/setup/terminal/input", s.terminalInput(s.SetupPTY, terminalKeySetup))
			r.Post("/setup/terminal/resize", s.terminalResize(s.SetupPTY, terminalKeySetup))

			r.Get("/services/{serviceId}/terminal/stream", s.terminalStream(s.SetupPTY, terminalKeyService))
			r.Post("/services/{serviceId}/terminal/input", s.terminalInput(s.SetupPTY, terminalKeyService))
			r.Post("/services/{serviceId}/terminal/resize", s.terminalResize(s.SetupPTY, terminalKeyService))
		})
	})

	return r
}

// requestLogger mirrors teacher's RequestIDWithLogging: it logs one
// structured line per request carrying the chi request ID, method,
// path, status, and latency.
func requestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			log.Info("http request",
				"request_id", chimiddleware.GetReqID(r.Context()),
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration_ms", time.Since(start).Milliseconds(),
			)
		})
	}
}
