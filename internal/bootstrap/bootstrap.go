// Package bootstrap assembles the engine runtime shared by the api and worker
// binaries: store selection, locking, audit sinks, report export, scheduler,
// task queue and the automation module.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"lead_lifecycle_engine/internal/audit"
	"lead_lifecycle_engine/internal/automation"
	"lead_lifecycle_engine/internal/events"
	apphttp "lead_lifecycle_engine/internal/http"
	"lead_lifecycle_engine/internal/locking"
	"lead_lifecycle_engine/internal/notification"
	"lead_lifecycle_engine/internal/reports"
	"lead_lifecycle_engine/internal/scheduler"
	"lead_lifecycle_engine/internal/seed"
	"lead_lifecycle_engine/internal/store/memory"
	"lead_lifecycle_engine/migrations"
	"lead_lifecycle_engine/platform/config"
	"lead_lifecycle_engine/platform/db"
	"lead_lifecycle_engine/platform/logger"
	"lead_lifecycle_engine/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	retryAttempts  = 5
	retryBaseDelay = 2 * time.Second
	redisLockTTL   = 30 * time.Second
)

// Options select the parts a binary needs.
type Options struct {
	// Migrate applies the embedded migrations before use.
	Migrate bool
	// Seed applies the configured seed file.
	Seed bool
	// Scheduler creates an in-process cron scheduler and registers every
	// active scheduled workflow and report with it.
	Scheduler bool
	// Queue hands firings and sweeps to asynq when redis is configured.
	Queue bool
}

// Runtime is the assembled engine of one process.
type Runtime struct {
	Module    *automation.Module
	Bus       *events.InMemoryBus
	Scheduler *scheduler.Scheduler
	Queue     *scheduler.Client
	Health    apphttp.HealthChecker

	closers []func()
}

// Close releases every resource in reverse order of acquisition.
func (r *Runtime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
	r.closers = nil
}

func (r *Runtime) onClose(fn func()) { r.closers = append(r.closers, fn) }

// Build assembles the runtime. On error every resource acquired so far is
// released.
func Build(ctx context.Context, cfg *config.Config, log *logger.Logger, opts Options) (_ *Runtime, err error) {
	rt := &Runtime{Health: apphttp.NopHealth{}}
	defer func() {
		if err != nil {
			rt.Close()
		}
	}()

	repos, err := rt.openStore(ctx, cfg, log, opts.Migrate)
	if err != nil {
		return nil, err
	}

	locker, err := rt.locker(cfg, log)
	if err != nil {
		return nil, err
	}

	infra := automation.Infrastructure{
		Repos:     repos,
		Locker:    locker,
		Validator: validator.New(),
	}

	if cfg.IsKafkaAuditEnabled() {
		kw := audit.NewKafkaWriter(cfg.GetKafkaBrokers(), cfg.GetKafkaAuditTopic())
		rt.onClose(func() { _ = kw.Close() })
		infra.AuditSinks = append(infra.AuditSinks, kw)
		log.Info("audit stream enabled", "topic", cfg.GetKafkaAuditTopic())
	}

	if cfg.IsMinIOEnabled() {
		exporter, err := reports.NewMinIOExporter(cfg)
		if err != nil {
			return nil, err
		}
		if err := WithRetry(ctx, log, "ensure report bucket", retryAttempts, retryBaseDelay, func() error {
			return exporter.EnsureBucketExists(ctx)
		}); err != nil {
			return nil, fmt.Errorf("failed to ensure report bucket exists: %w", err)
		}
		infra.Exporter = exporter
		log.Info("report export initialized", "bucket", cfg.GetReportExportBucket())
	} else {
		log.Warn("MINIO_ENDPOINT not configured; scheduled reports are logged only")
	}

	if opts.Scheduler {
		rt.Scheduler = scheduler.New(log, scheduler.Options{
			Workers:  cfg.GetSchedulerWorkers(),
			Location: cfg.GetSchedulerLocation(),
		})
		infra.Scheduler = rt.Scheduler
	}

	if opts.Queue && cfg.IsTaskQueueEnabled() {
		client, err := scheduler.NewClient(cfg)
		if err != nil {
			return nil, err
		}
		rt.onClose(func() { _ = client.Close() })
		rt.Queue = client
		infra.Queue = client
	}

	rt.Bus = events.NewInMemoryBus(log)
	infra.Bus = rt.Bus

	rt.Module = automation.NewModule(infra, cfg, log)
	rt.Module.RegisterHandlers(rt.Bus)
	registerSenders(rt.Module.Notifications(), cfg, log)

	if opts.Seed && cfg.GetSeedFile() != "" {
		doc, err := seed.Load(cfg.GetSeedFile())
		if err != nil {
			return nil, err
		}
		if _, err := rt.Module.Seed(ctx, doc, log); err != nil {
			return nil, err
		}
	}

	if rt.Scheduler != nil {
		n, err := rt.Module.RegisterSchedules(ctx)
		if err != nil {
			return nil, fmt.Errorf("register schedules: %w", err)
		}
		log.Info("schedules registered", "count", n)
	}

	return rt, nil
}

func (rt *Runtime) openStore(ctx context.Context, cfg *config.Config, log *logger.Logger, migrate bool) (automation.Repositories, error) {
	if cfg.UsesMemoryStore() {
		log.Warn("using in-memory store; state is lost on restart")
		return automation.MemoryRepositories(memory.New()), nil
	}

	var pool *pgxpool.Pool
	if err := WithRetry(ctx, log, "database connection", retryAttempts, retryBaseDelay, func() error {
		p, err := db.NewPool(ctx, cfg)
		if err != nil {
			return err
		}
		pool = p
		return nil
	}); err != nil {
		return automation.Repositories{}, fmt.Errorf("failed to connect to database: %w", err)
	}
	rt.onClose(pool.Close)
	rt.Health = pool
	log.Info("database connection established")

	if migrate {
		if err := WithRetry(ctx, log, "database migrations", retryAttempts, retryBaseDelay, func() error {
			return db.RunMigrations(ctx, pool, migrations.FS)
		}); err != nil {
			return automation.Repositories{}, fmt.Errorf("failed to run database migrations: %w", err)
		}
		log.Info("database migrations complete")
	}

	return automation.PostgresRepositories(pool), nil
}

// locker serialises work per lead inside the process and, with redis,
// across replicas.
func (rt *Runtime) locker(cfg *config.Config, log *logger.Logger) (locking.Locker, error) {
	local := locking.NewKeyedMutex()
	if cfg.GetRedisURL() == "" {
		log.Warn("REDIS_URL not configured; lead locks are process-local")
		return local, nil
	}

	client, err := locking.NewRedisClient(cfg.GetRedisURL(), cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}
	rt.onClose(func() { _ = client.Close() })
	return locking.Layered{local, locking.NewRedisLocker(client, redisLockTTL, 0)}, nil
}

func registerSenders(svc *notification.Service, cfg *config.Config, log *logger.Logger) {
	if s := notification.NewSMTPSender(cfg); s != nil {
		svc.RegisterSender(notification.ChannelEmail, s)
	} else {
		log.Warn("SMTP not configured; email notifications will fail")
	}
	if s := notification.NewSMSSender(cfg); s != nil {
		svc.RegisterSender(notification.ChannelSMS, s)
	} else {
		log.Warn("SMS gateway not configured; sms notifications will fail")
	}
}

// WithRetry runs fn up to attempts times with quadratic backoff.
func WithRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return fmt.Errorf("%s: invalid retry attempts", name)
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
			log.Warn("retryable operation failed", "operation", name, "attempt", attempt, "error", err)
		}

		if attempt < attempts {
			delay := time.Duration(attempt*attempt) * baseDelay
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return errors.New(name + ": " + lastErr.Error())
}
