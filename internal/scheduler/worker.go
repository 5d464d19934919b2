package scheduler

import (
	"context"
	"fmt"
	"time"

	"lead_lifecycle_engine/platform/config"
	"lead_lifecycle_engine/platform/logger"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// TaskHandler runs the work behind queued tasks.
type TaskHandler interface {
	HandleScheduledWorkflow(ctx context.Context, workflowID uuid.UUID, firedAt time.Time) error
	HandleScheduledReport(ctx context.Context, reportID uuid.UUID, firedAt time.Time) error
	HandleSLASweep(ctx context.Context, now time.Time) error
	HandleApprovalExpiry(ctx context.Context, now time.Time) error
}

type Worker struct {
	server  *asynq.Server
	mux     *asynq.ServeMux
	handler TaskHandler
	log     *logger.Logger
}

func NewWorker(cfg config.SchedulerConfig, handler TaskHandler, log *logger.Logger) (*Worker, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL, cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}

	queue := cfg.GetAsynqQueueName()
	if queue == "" {
		queue = "default"
	}

	concurrency := cfg.GetAsynqConcurrency()
	if concurrency < 1 {
		concurrency = 10
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			queue: 1,
		},
	})

	mux := asynq.NewServeMux()
	w := &Worker{
		server:  server,
		mux:     mux,
		handler: handler,
		log:     log.WithComponent("task_worker"),
	}

	mux.HandleFunc(TaskWorkflowScheduled, w.handleWorkflowScheduled)
	mux.HandleFunc(TaskReportScheduled, w.handleReportScheduled)
	mux.HandleFunc(TaskSLASweep, w.handleSLASweep)
	mux.HandleFunc(TaskApprovalExpiry, w.handleApprovalExpiry)

	return w, nil
}

func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.server == nil {
		return
	}

	go func() {
		<-ctx.Done()
		w.server.Shutdown()
	}()

	if err := w.server.Run(w.mux); err != nil {
		w.log.Error("task worker stopped", "error", err)
	}
}

func (w *Worker) handleWorkflowScheduled(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseScheduledFiringPayload(task)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(payload.TargetID)
	if err != nil {
		return err
	}
	if err := w.handler.HandleScheduledWorkflow(ctx, id, payload.FiredAt); err != nil {
		w.log.SchedulerFiringFailed(payload.TargetID, err)
		return err
	}
	return nil
}

func (w *Worker) handleReportScheduled(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseScheduledFiringPayload(task)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(payload.TargetID)
	if err != nil {
		return err
	}
	if err := w.handler.HandleScheduledReport(ctx, id, payload.FiredAt); err != nil {
		w.log.SchedulerFiringFailed(payload.TargetID, err)
		return err
	}
	return nil
}

func (w *Worker) handleSLASweep(ctx context.Context, task *asynq.Task) error {
	if _, err := ParseSweepPayload(task); err != nil {
		return err
	}
	return w.handler.HandleSLASweep(ctx, time.Now())
}

func (w *Worker) handleApprovalExpiry(ctx context.Context, task *asynq.Task) error {
	if _, err := ParseSweepPayload(task); err != nil {
		return err
	}
	return w.handler.HandleApprovalExpiry(ctx, time.Now())
}
