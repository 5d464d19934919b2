package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"lead_lifecycle_engine/internal/bootstrap"
	apphttp "lead_lifecycle_engine/internal/http"
	"lead_lifecycle_engine/internal/http/router"
	"lead_lifecycle_engine/internal/scheduler"
	"lead_lifecycle_engine/platform/config"
	"lead_lifecycle_engine/platform/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	// Initialize structured logger
	log := logger.New(cfg.Env)
	log.Info("starting server", "env", cfg.Env, "addr", cfg.GetHTTPAddr(), "store", cfg.StoreDriver)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Without a task queue there is no worker binary to run timers, sweeps
	// and the outbox, so this process runs them itself.
	standalone := !cfg.IsTaskQueueEnabled()

	// ========================================================================
	// Engine (Composition Root)
	// ========================================================================

	rt, err := bootstrap.Build(ctx, cfg, log, bootstrap.Options{
		Migrate:   true,
		Seed:      true,
		Scheduler: standalone,
	})
	if err != nil {
		log.Error("failed to initialize engine", "error", err)
		panic("failed to initialize engine: " + err.Error())
	}
	defer rt.Close()

	if standalone {
		log.Info("no task queue configured; running scheduler, sweeps and outbox in process")
		startBackground(ctx, cfg, log, rt)
	}

	// ========================================================================
	// HTTP Layer
	// ========================================================================

	app := &apphttp.App{
		Config:  cfg,
		Logger:  log,
		Health:  rt.Health,
		Modules: []apphttp.Module{rt.Module},
	}

	srv := &http.Server{
		Addr:              cfg.GetHTTPAddr(),
		Handler:           router.New(app),
		ReadHeaderTimeout: 10 * time.Second,
	}

	srvErr := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", srv.Addr)
		srvErr <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, gracefully shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("http shutdown failed", "error", err)
		}
		if rt.Scheduler != nil {
			if err := rt.Scheduler.Shutdown(shutdownCtx); err != nil {
				log.Error("scheduler shutdown failed", "error", err)
			}
		}
	case err := <-srvErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			panic("server error: " + err.Error())
		}
	}
}

func startBackground(ctx context.Context, cfg *config.Config, log *logger.Logger, rt *bootstrap.Runtime) {
	eng := rt.Module.Engine()

	rt.Scheduler.Start()

	go rt.Module.Notifications().Run(ctx)

	go func() {
		jobs := eng.SweepJobs(cfg.GetSLASweepInterval(), cfg.GetApprovalSweepInterval(), 0)
		if err := scheduler.RunSweeps(ctx, log, jobs...); err != nil {
			log.Error("sweep runner stopped", "error", err)
		}
	}()
}
