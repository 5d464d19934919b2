package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"lead_lifecycle_engine/internal/bootstrap"
	"lead_lifecycle_engine/internal/scheduler"
	"lead_lifecycle_engine/platform/config"
	"lead_lifecycle_engine/platform/logger"
)

// scheduleSyncInterval is how often timers are reconciled with definitions
// written through the api.
const scheduleSyncInterval = time.Minute

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting worker", "env", cfg.Env)

	if !cfg.IsTaskQueueEnabled() {
		panic("worker requires REDIS_URL; without it the api runs scheduled work in process")
	}
	if cfg.UsesMemoryStore() {
		panic("worker cannot share an in-memory store with the api; set STORE_DRIVER=postgres")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := bootstrap.Build(ctx, cfg, log, bootstrap.Options{
		Scheduler: true,
		Queue:     true,
	})
	if err != nil {
		log.Error("failed to initialize engine", "error", err)
		panic("failed to initialize engine: " + err.Error())
	}
	defer rt.Close()

	eng := rt.Module.Engine()

	worker, err := scheduler.NewWorker(cfg, eng, log)
	if err != nil {
		log.Error("failed to initialize task worker", "error", err)
		panic("failed to initialize task worker: " + err.Error())
	}

	rt.Scheduler.Start()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := rt.Scheduler.Shutdown(shutdownCtx); err != nil {
			log.Error("scheduler shutdown failed", "error", err)
		}
	}()

	go rt.Module.Notifications().Run(ctx)

	go func() {
		jobs := eng.SweepJobs(cfg.GetSLASweepInterval(), cfg.GetApprovalSweepInterval(), scheduleSyncInterval)
		if err := scheduler.RunSweeps(ctx, log, jobs...); err != nil {
			log.Error("sweep runner stopped", "error", err)
		}
	}()

	worker.Run(ctx)
}
