// Package engine ties scoring, routing, workflows and reports together. It
// reacts to lead events, executes the actions carried by rules, score bands
// and workflow steps, and keeps scheduled triggers registered.
package engine

import (
	"context"
	"time"

	"lead_lifecycle_engine/internal/events"
	"lead_lifecycle_engine/internal/lead"
	"lead_lifecycle_engine/internal/notification"
	"lead_lifecycle_engine/internal/reports"
	"lead_lifecycle_engine/internal/routing"
	"lead_lifecycle_engine/internal/scheduler"
	"lead_lifecycle_engine/internal/scoring"
	"lead_lifecycle_engine/internal/workflow"
	"lead_lifecycle_engine/platform/logger"
)

// Scheduler registers recurring firings.
type Scheduler interface {
	Register(id, expression string, fn scheduler.FireFunc) error
	Unregister(id string) bool
	Entries() []scheduler.Entry
}

// TaskQueue hands firings and sweeps to the distributed worker.
type TaskQueue interface {
	EnqueueFiring(ctx context.Context, taskType, targetID string, firedAt time.Time) error
	EnqueueSweep(ctx context.Context, taskType string, at time.Time, uniqueFor time.Duration) error
}

// Notifier queues outbound messages.
type Notifier interface {
	Queue(ctx context.Context, msg notification.Message) (notification.Message, error)
}

// Deps are the collaborators of an Engine. Scheduler and Queue are optional:
// without a scheduler nothing recurring is registered, and without a queue
// firings run in the calling process.
type Deps struct {
	Leads     lead.Repository
	Scoring   *scoring.Service
	Routing   *routing.Service
	Workflows *workflow.Service
	Reports   *reports.Service
	Notifier  Notifier
	Bus       events.Bus
	Scheduler Scheduler
	Queue     TaskQueue
}

// Options tunes the engine.
type Options struct {
	ScheduledBatchLimit int
	Now                 func() time.Time
}

// Engine is the lifecycle automation entry point.
type Engine struct {
	leads     lead.Repository
	scoring   *scoring.Service
	routing   *routing.Service
	workflows *workflow.Service
	reports   *reports.Service
	notifier  Notifier
	bus       events.Bus
	sched     Scheduler
	queue     TaskQueue
	log       *logger.Logger
	opts      Options
}

// New builds the engine and wires it into the services as their action
// executor and schedule registrar.
func New(d Deps, log *logger.Logger, opts Options) *Engine {
	if opts.ScheduledBatchLimit <= 0 {
		opts.ScheduledBatchLimit = 1000
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	e := &Engine{
		leads:     d.Leads,
		scoring:   d.Scoring,
		routing:   d.Routing,
		workflows: d.Workflows,
		reports:   d.Reports,
		notifier:  d.Notifier,
		bus:       d.Bus,
		sched:     d.Scheduler,
		queue:     d.Queue,
		log:       log.WithComponent("engine"),
		opts:      opts,
	}
	e.scoring.SetBandActionHandler(e)
	e.routing.SetRuleActionHandler(e)
	e.workflows.SetExecutor(e)
	e.workflows.SetRegistrar(e)
	if e.reports != nil {
		e.reports.SetRegistrar(e)
	}
	return e
}

// Subscribe registers the engine for every lead event on bus.
func (e *Engine) Subscribe(bus events.Bus) {
	for _, name := range events.LeadEventNames {
		bus.Subscribe(name, e)
	}
}

// Handle implements events.Handler.
func (e *Engine) Handle(ctx context.Context, event events.Event) error {
	return e.OnDomainEvent(ctx, event)
}

var (
	_ scoring.BandActionHandler = (*Engine)(nil)
	_ routing.RuleActionHandler = (*Engine)(nil)
	_ workflow.ActionExecutor   = (*Engine)(nil)
	_ workflow.TriggerRegistrar = (*Engine)(nil)
	_ reports.Registrar         = (*Engine)(nil)
	_ scheduler.TaskHandler     = (*Engine)(nil)
	_ events.Handler            = (*Engine)(nil)
)
