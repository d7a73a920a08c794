// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/HiveRun/hive-sub001/internal/agentrt"
	"github.com/HiveRun/hive-sub001/internal/api"
	"github.com/HiveRun/hive-sub001/internal/engine"
	"github.com/HiveRun/hive-sub001/internal/eventbus"
	"github.com/HiveRun/hive-sub001/internal/hiveconfig"
	"github.com/HiveRun/hive-sub001/internal/pty"
	"github.com/HiveRun/hive-sub001/internal/services"
	"github.com/HiveRun/hive-sub001/internal/store"
	"github.com/HiveRun/hive-sub001/internal/telemetry"
	"github.com/HiveRun/hive-sub001/internal/worktree"
)

func main() {
	configPath := flag.String("config", "hive.yaml", "Path to the server config file")
	flag.Parse()

	cfg, err := hiveconfig.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	logger.Info("hive-server starting",
		"listen_addr", cfg.Server.ListenAddr,
		"cells_root", cfg.Paths.CellsRoot,
		"database_path", cfg.Paths.DatabasePath,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tp, err := telemetry.NewTracerProvider(ctx, telemetry.DefaultConfig())
	if err != nil {
		log.Fatalf("init tracer provider: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Warn("tracer shutdown failed", "error", err)
		}
	}()

	db, err := store.Open(ctx, cfg.Paths.DatabasePath)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()

	templates, err := hiveconfig.LoadTemplates(cfg.Paths.TemplatesDir)
	if err != nil {
		log.Fatalf("load templates: %v", err)
	}
	logger.Info("templates loaded", "count", len(templates))
	resolveTemplate := hiveconfig.Resolver(templates)

	cells := store.NewCellRepository(db)
	provisioning := store.NewProvisioningStateRepository(db)
	cellServices := store.NewCellServiceRepository(db)
	timings := store.NewCellTimingEventRepository(db)
	activity := store.NewCellActivityEventRepository(db)

	bus := eventbus.New()
	worktrees := worktree.NewManager(cfg.Paths.WorktreeRepoDir, cfg.Paths.CellsRoot)

	shellPTY := pty.NewRegistry(pty.FlavorShell, logger)
	chatPTY := pty.NewRegistry(pty.FlavorChat, logger)
	setupPTY := pty.NewRegistry(pty.FlavorService, logger)

	supervisor := services.NewSupervisor(cellServices, setupPTY)
	agent := agentrt.NewAdapter(opencodeBaseURLResolver(cellServices, cfg.Service))

	eng := engine.New(engine.Deps{
		Log:             logger,
		Cells:           cells,
		Provisioning:    provisioning,
		CellServices:    cellServices,
		Timings:         timings,
		Activity:        activity,
		Worktrees:       worktrees,
		Supervisor:      supervisor,
		Agent:           agent,
		Bus:             bus,
		ShellPTY:        shellPTY,
		ChatPTY:         chatPTY,
		SetupPTY:        setupPTY,
		ResolveTemplate: resolveTemplate,
	})

	logger.Info("resuming interrupted provisioning workflows")
	if err := eng.ResumeInterrupted(ctx); err != nil {
		logger.Error("resume interrupted workflows failed", "error", err)
	}

	handler := api.NewRouter(api.Deps{
		Log:             logger,
		Engine:          eng,
		Cells:           cells,
		CellServices:    cellServices,
		Timings:         timings,
		Activity:        activity,
		Bus:             bus,
		Supervisor:      supervisor,
		Worktrees:       worktrees,
		ShellPTY:        shellPTY,
		ChatPTY:         chatPTY,
		SetupPTY:        setupPTY,
		ResolveTemplate: resolveTemplate,
	})

	srv := &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: handler,
	}

	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal received, draining in-flight requests and workflows")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http server shutdown failed", "error", err)
		}
		if err := eng.Shutdown(shutdownCtx); err != nil {
			logger.Warn("engine shutdown failed", "error", err)
		}
	}()

	logger.Info("hive-server listening", "addr", cfg.Server.ListenAddr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("http server: %v", err)
	}
	logger.Info("hive-server stopped")
}

// opencodeBaseURLResolver looks up the cell's supervised opencode
// service by convention (a service declared with name "opencode" in the
// cell's template) and composes its reachable URL from the configured
// service host/protocol.
func opencodeBaseURLResolver(cellServices *store.CellServiceRepository, svcCfg hiveconfig.ServiceConfig) agentrt.BaseURLResolver {
	return func(ctx context.Context, cellID string) (string, error) {
		svc, err := cellServices.GetService(ctx, cellID, "opencode")
		if err != nil {
			return "", fmt.Errorf("resolve opencode service for cell %s: %w", cellID, err)
		}
		if svc.Port == nil {
			return "", fmt.Errorf("opencode service for cell %s has no declared port", cellID)
		}
		return svcCfg.URLFor(*svc.Port), nil
	}
}

func parseLevel(level string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return l
}
