package scheduler

import (
	"context"
	"time"

	"lead_lifecycle_engine/platform/logger"

	"golang.org/x/sync/errgroup"
)

// SweepJob is a periodic maintenance pass such as the SLA sweep.
type SweepJob struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context, now time.Time) error
}

// RunSweeps runs every job on its own ticker until ctx is cancelled. Each job
// runs once at start. A failing pass is logged and retried on the next tick.
func RunSweeps(ctx context.Context, log *logger.Logger, jobs ...SweepJob) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, job := range jobs {
		if job.Run == nil || job.Interval <= 0 {
			continue
		}
		g.Go(func() error {
			runSweep(gctx, log, job)
			return nil
		})
	}
	return g.Wait()
}

func runSweep(ctx context.Context, log *logger.Logger, job SweepJob) {
	pass := func() {
		if err := job.Run(ctx, time.Now()); err != nil && ctx.Err() == nil {
			log.Warn("sweep failed", "sweep", job.Name, "error", err)
		}
	}

	pass()

	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pass()
		}
	}
}
