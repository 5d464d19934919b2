package engine

import (
	"context"
	"errors"
	"strings"
	"time"

	"lead_lifecycle_engine/internal/lead"
	"lead_lifecycle_engine/internal/reports"
	"lead_lifecycle_engine/internal/rules"
	"lead_lifecycle_engine/internal/scheduler"
	"lead_lifecycle_engine/internal/workflow"

	"github.com/google/uuid"
)

const (
	workflowSchedulePrefix = "workflow:"
	reportSchedulePrefix   = "report:"
)

// WorkflowScheduleID is the scheduler id of a scheduled workflow.
func WorkflowScheduleID(id uuid.UUID) string { return workflowSchedulePrefix + id.String() }

// ReportScheduleID is the scheduler id of a scheduled report.
func ReportScheduleID(id uuid.UUID) string { return reportSchedulePrefix + id.String() }

// RegisterWorkflow implements workflow.TriggerRegistrar.
func (e *Engine) RegisterWorkflow(def workflow.Definition) error {
	if e.sched == nil || !def.Trigger.IsScheduled() {
		return nil
	}
	return e.sched.Register(WorkflowScheduleID(def.ID), def.Trigger.Schedule, e.workflowFiring(def.ID))
}

// UnregisterWorkflow implements workflow.TriggerRegistrar.
func (e *Engine) UnregisterWorkflow(id uuid.UUID) {
	if e.sched != nil {
		e.sched.Unregister(WorkflowScheduleID(id))
	}
}

// RegisterReport implements reports.Registrar.
func (e *Engine) RegisterReport(d reports.Definition) error {
	if e.sched == nil {
		return nil
	}
	return e.sched.Register(ReportScheduleID(d.ID), d.Schedule, e.reportFiring(d.ID))
}

// UnregisterReport implements reports.Registrar.
func (e *Engine) UnregisterReport(id uuid.UUID) {
	if e.sched != nil {
		e.sched.Unregister(ReportScheduleID(id))
	}
}

// workflowFiring hands the firing to the task queue when there is one, so
// exactly one worker runs it; otherwise it runs here.
func (e *Engine) workflowFiring(id uuid.UUID) scheduler.FireFunc {
	return func(ctx context.Context, firedAt time.Time) error {
		if e.queue != nil {
			return e.queue.EnqueueFiring(ctx, scheduler.TaskWorkflowScheduled, id.String(), firedAt)
		}
		return e.HandleScheduledWorkflow(ctx, id, firedAt)
	}
}

func (e *Engine) reportFiring(id uuid.UUID) scheduler.FireFunc {
	return func(ctx context.Context, firedAt time.Time) error {
		if e.queue != nil {
			return e.queue.EnqueueFiring(ctx, scheduler.TaskReportScheduled, id.String(), firedAt)
		}
		return e.HandleScheduledReport(ctx, id, firedAt)
	}
}

// HandleScheduledWorkflow starts the workflow for every open lead matching
// its conditions, bounded by the scheduled batch limit.
func (e *Engine) HandleScheduledWorkflow(ctx context.Context, workflowID uuid.UUID, firedAt time.Time) error {
	def, err := e.workflows.GetDefinition(ctx, workflowID)
	if err != nil {
		return err
	}
	if !def.IsActive || !def.Trigger.IsScheduled() {
		e.log.Info("scheduled workflow no longer active, firing ignored", "workflowId", workflowID)
		return nil
	}

	open, err := e.leads.ListOpen(ctx, lead.ListParams{Limit: e.opts.ScheduledBatchLimit})
	if err != nil {
		return err
	}

	input := map[string]any{"scheduledAt": firedAt.UTC().Format(time.RFC3339)}
	started := 0
	var errs []error
	for _, snapshot := range open {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if !rules.EvaluateAll(def.Conditions, snapshot.Document()) {
			continue
		}
		if _, err := e.workflows.Execute(ctx, def.ID, snapshot.LeadID, "schedule", input); err != nil {
			errs = append(errs, err)
			continue
		}
		started++
	}
	e.log.Info("scheduled workflow fired", "workflowId", workflowID, "candidates", len(open), "started", started)
	return errors.Join(errs...)
}

// HandleScheduledReport generates one scheduled report.
func (e *Engine) HandleScheduledReport(ctx context.Context, reportID uuid.UUID, firedAt time.Time) error {
	_, err := e.reports.Run(ctx, reportID, firedAt)
	return err
}

// HandleSLASweep escalates overdue SLAs.
func (e *Engine) HandleSLASweep(ctx context.Context, now time.Time) error {
	res, err := e.routing.SweepSLA(ctx, now)
	if res.Escalated > 0 {
		e.log.Info("sla sweep escalated leads", "checked", res.Checked, "escalated", res.Escalated)
	}
	return err
}

// HandleApprovalExpiry expires approvals past their deadline.
func (e *Engine) HandleApprovalExpiry(ctx context.Context, now time.Time) error {
	n, err := e.workflows.ExpireApprovals(ctx, now)
	if n > 0 {
		e.log.Info("approvals expired", "count", n)
	}
	return err
}

// SyncSchedules makes the scheduler match the stored definitions. Workers
// run it periodically so definitions changed through another process are
// picked up and removed ones stop firing.
func (e *Engine) SyncSchedules(ctx context.Context) error {
	if e.sched == nil {
		return nil
	}

	type wanted struct {
		expression string
		register   func() error
	}
	desired := make(map[string]wanted)

	defs, err := e.workflows.ListDefinitions(ctx)
	if err != nil {
		return err
	}
	for _, def := range defs {
		if def.IsActive && def.Trigger.IsScheduled() {
			desired[WorkflowScheduleID(def.ID)] = wanted{def.Trigger.Schedule, func() error { return e.RegisterWorkflow(def) }}
		}
	}
	if e.reports != nil {
		reps, err := e.reports.List(ctx)
		if err != nil {
			return err
		}
		for _, d := range reps {
			if d.IsActive {
				desired[ReportScheduleID(d.ID)] = wanted{d.Schedule, func() error { return e.RegisterReport(d) }}
			}
		}
	}

	current := make(map[string]string)
	for _, entry := range e.sched.Entries() {
		current[entry.ID] = entry.Expression
	}

	var errs []error
	for id, w := range desired {
		if expr, ok := current[id]; ok && expr == w.expression {
			continue
		}
		if err := w.register(); err != nil {
			errs = append(errs, err)
		}
	}
	for id := range current {
		if _, ok := desired[id]; ok {
			continue
		}
		if strings.HasPrefix(id, workflowSchedulePrefix) || strings.HasPrefix(id, reportSchedulePrefix) {
			e.sched.Unregister(id)
		}
	}
	return errors.Join(errs...)
}

// SweepJobs returns the periodic passes of a process. With a task queue each
// pass is enqueued once per interval across replicas; otherwise it runs in
// process.
func (e *Engine) SweepJobs(slaEvery, approvalEvery, syncEvery time.Duration) []scheduler.SweepJob {
	jobs := []scheduler.SweepJob{
		{Name: "sla", Interval: slaEvery, Run: e.sweep(scheduler.TaskSLASweep, slaEvery, e.HandleSLASweep)},
		{Name: "approval_expiry", Interval: approvalEvery, Run: e.sweep(scheduler.TaskApprovalExpiry, approvalEvery, e.HandleApprovalExpiry)},
	}
	if syncEvery > 0 {
		jobs = append(jobs, scheduler.SweepJob{
			Name:     "schedule_sync",
			Interval: syncEvery,
			Run:      func(ctx context.Context, _ time.Time) error { return e.SyncSchedules(ctx) },
		})
	}
	return jobs
}

func (e *Engine) sweep(taskType string, every time.Duration, run func(context.Context, time.Time) error) func(context.Context, time.Time) error {
	return func(ctx context.Context, now time.Time) error {
		if e.queue != nil {
			return e.queue.EnqueueSweep(ctx, taskType, now, every)
		}
		return run(ctx, now)
	}
}

// Schedules lists the timers currently registered in this process.
func (e *Engine) Schedules() []scheduler.Entry {
	if e.sched == nil {
		return nil
	}
	return e.sched.Entries()
}
