// Package automation provides the lead lifecycle automation module: scoring,
// routing, workflows, notifications and scheduled reports behind one HTTP
// surface and one event subscription.
package automation

import (
	"context"

	"lead_lifecycle_engine/internal/adapters"
	"lead_lifecycle_engine/internal/audit"
	auditrepo "lead_lifecycle_engine/internal/audit/repository"
	"lead_lifecycle_engine/internal/automation/engine"
	"lead_lifecycle_engine/internal/automation/handler"
	"lead_lifecycle_engine/internal/events"
	apphttp "lead_lifecycle_engine/internal/http"
	"lead_lifecycle_engine/internal/lead"
	leadrepo "lead_lifecycle_engine/internal/lead/repository"
	"lead_lifecycle_engine/internal/locking"
	"lead_lifecycle_engine/internal/notification"
	notificationrepo "lead_lifecycle_engine/internal/notification/repository"
	"lead_lifecycle_engine/internal/reports"
	reportsrepo "lead_lifecycle_engine/internal/reports/repository"
	"lead_lifecycle_engine/internal/routing"
	routingrepo "lead_lifecycle_engine/internal/routing/repository"
	"lead_lifecycle_engine/internal/scoring"
	scoringrepo "lead_lifecycle_engine/internal/scoring/repository"
	"lead_lifecycle_engine/internal/seed"
	"lead_lifecycle_engine/internal/store/memory"
	"lead_lifecycle_engine/internal/workflow"
	workflowrepo "lead_lifecycle_engine/internal/workflow/repository"
	"lead_lifecycle_engine/platform/config"
	"lead_lifecycle_engine/platform/logger"
	"lead_lifecycle_engine/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repositories are the storage ports of the module.
type Repositories struct {
	Leads     lead.Repository
	Scoring   scoring.Repository
	Routing   routing.Repository
	Workflows workflow.Repository
	Outbox    notification.Outbox
	Reports   reports.Repository
	Audit     adapters.AuditLog
}

// PostgresRepositories backs every port with pgx.
func PostgresRepositories(pool *pgxpool.Pool) Repositories {
	return Repositories{
		Leads:     leadrepo.New(pool),
		Scoring:   scoringrepo.New(pool),
		Routing:   routingrepo.New(pool),
		Workflows: workflowrepo.New(pool),
		Outbox:    notificationrepo.New(pool),
		Reports:   reportsrepo.New(pool),
		Audit:     auditrepo.New(pool),
	}
}

// MemoryRepositories backs every port with one in-process store.
func MemoryRepositories(store *memory.Store) Repositories {
	return Repositories{
		Leads:     store.Leads(),
		Scoring:   store.Scoring(),
		Routing:   store.Routing(),
		Workflows: store.Workflows(),
		Outbox:    store.Outbox(),
		Reports:   store.Reports(),
		Audit:     store.Audit(),
	}
}

// Config is the configuration the module reads.
type Config interface {
	config.EngineConfig
	config.NotificationConfig
	config.SMSConfig
}

// Infrastructure carries the shared runtime pieces built by main. Scheduler,
// Queue, Exporter and AuditSinks are optional.
type Infrastructure struct {
	Repos      Repositories
	Bus        *events.InMemoryBus
	Locker     locking.Locker
	Scheduler  engine.Scheduler
	Queue      engine.TaskQueue
	Exporter   reports.Exporter
	AuditSinks []audit.Writer
	Validator  *validator.Validator
}

// Module is the automation bounded context implementing http.Module.
type Module struct {
	handler       *handler.Handler
	engine        *engine.Engine
	scoring       *scoring.Service
	routing       *routing.Service
	workflows     *workflow.Service
	reports       *reports.Service
	notifications *notification.Service
}

// NewModule builds the services, wires them into the engine and prepares
// the HTTP handler.
func NewModule(infra Infrastructure, cfg Config, log *logger.Logger) *Module {
	repos := infra.Repos
	auditLog := adapters.NewStreamedAuditLog(repos.Audit, infra.AuditSinks...)

	notifications := notification.New(repos.Outbox, adapters.NewOwnerDirectory(repos.Routing), log, notification.Options{
		RatePerSecond: cfg.GetNotifyRatePerSecond(),
	})
	scoringSvc := scoring.New(repos.Scoring, repos.Leads, infra.Bus, auditLog, infra.Locker, log)
	routingSvc := routing.New(repos.Routing, repos.Leads, infra.Bus, auditLog, infra.Locker, notifications, log, routing.Options{
		DefaultSLAHours: cfg.GetSLADefaultHours(),
	})
	workflowSvc := workflow.New(repos.Workflows, repos.Leads, infra.Bus, auditLog, notifications, log, workflow.Options{
		ApprovalTTL: cfg.GetApprovalTTL(),
	})
	reportsSvc := reports.New(repos.Reports, routingSvc, repos.Leads, infra.Exporter, auditLog, log)

	eng := engine.New(engine.Deps{
		Leads:     repos.Leads,
		Scoring:   scoringSvc,
		Routing:   routingSvc,
		Workflows: workflowSvc,
		Reports:   reportsSvc,
		Notifier:  notifications,
		Bus:       infra.Bus,
		Scheduler: infra.Scheduler,
		Queue:     infra.Queue,
	}, log, engine.Options{ScheduledBatchLimit: cfg.GetScheduledBatchLimit()})

	h := handler.New(handler.Services{
		Engine:        eng,
		Scoring:       scoringSvc,
		Routing:       routingSvc,
		Workflows:     workflowSvc,
		Reports:       reportsSvc,
		Notifications: notifications,
		Audit:         auditLog,
	}, infra.Validator, cfg.GetSMSDefaultRegion())

	return &Module{
		handler:       h,
		engine:        eng,
		scoring:       scoringSvc,
		routing:       routingSvc,
		workflows:     workflowSvc,
		reports:       reportsSvc,
		notifications: notifications,
	}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "automation"
}

// Engine returns the lifecycle engine.
func (m *Module) Engine() *engine.Engine { return m.engine }

// Notifications returns the notification service so main can register
// senders and run the dispatcher.
func (m *Module) Notifications() *notification.Service { return m.notifications }

// Scoring returns the scoring service.
func (m *Module) Scoring() *scoring.Service { return m.scoring }

// Routing returns the routing service.
func (m *Module) Routing() *routing.Service { return m.routing }

// Workflows returns the workflow service.
func (m *Module) Workflows() *workflow.Service { return m.workflows }

// Reports returns the report service.
func (m *Module) Reports() *reports.Service { return m.reports }

// RegisterHandlers subscribes the engine to lead events.
func (m *Module) RegisterHandlers(bus *events.InMemoryBus) {
	m.engine.Subscribe(bus)
}

// RegisterSchedules installs the timers of every active scheduled workflow
// and report.
func (m *Module) RegisterSchedules(ctx context.Context) (int, error) {
	workflows, err := m.workflows.RegisterScheduled(ctx)
	if err != nil {
		return workflows, err
	}
	reps, err := m.reports.RegisterAll(ctx)
	return workflows + reps, err
}

// Seed applies a seed document through the module's services, so seeded
// configuration passes the same validation as API writes.
func (m *Module) Seed(ctx context.Context, doc seed.Document, log *logger.Logger) (seed.Summary, error) {
	return seed.Apply(ctx, doc, seed.Targets{
		Owners:    m.routing,
		Rules:     m.routing,
		Models:    m.scoring,
		Workflows: m.workflows,
		Reports:   m.reports,
	}, log)
}

// RegisterRoutes mounts engine routes on the provided router context.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	h := m.handler
	v1 := ctx.V1

	leads := v1.Group("/leads")
	leads.POST("", h.IntakeLead)
	leads.GET("/:id", h.GetLead)
	leads.POST("/:id/events", h.Signal)
	leads.GET("/:id/score", h.GetScore)
	leads.POST("/:id/score", h.Recalculate)
	leads.GET("/:id/score/preview", h.PreviewScore)
	leads.POST("/:id/assign", h.Assign)
	leads.POST("/:id/reassign", h.Reassign)
	leads.POST("/:id/first-contact", h.RecordFirstContact)
	leads.GET("/:id/assignment", h.GetAssignment)
	leads.GET("/:id/sla", h.GetSLA)
	leads.GET("/:id/history", h.History)
	leads.GET("/:id/audit", h.AuditTrail)
	leads.GET("/:id/notifications", h.Notifications)

	v1.GET("/owners", h.ListOwners)
	v1.POST("/owners", h.CreateOwner)
	v1.PUT("/owners/:id", h.UpdateOwner)
	v1.GET("/workloads", h.Workloads)

	rules := v1.Group("/rules")
	rules.GET("", h.ListRules)
	rules.POST("", h.CreateRule)
	rules.GET("/:id", h.GetRule)
	rules.PUT("/:id", h.UpdateRule)
	rules.POST("/:id/activate", h.ActivateRule)
	rules.POST("/:id/deactivate", h.DeactivateRule)

	models := v1.Group("/scoring/models")
	models.GET("", h.ListModels)
	models.POST("", h.CreateModel)
	models.GET("/:id", h.GetModel)
	models.PUT("/:id", h.UpdateModel)
	models.POST("/:id/activate", h.ActivateModel)

	workflows := v1.Group("/workflows")
	workflows.GET("", h.ListWorkflows)
	workflows.POST("", h.CreateWorkflow)
	workflows.GET("/:id", h.GetWorkflow)
	workflows.PUT("/:id", h.UpdateWorkflow)
	workflows.POST("/:id/activate", h.ActivateWorkflow)
	workflows.POST("/:id/deactivate", h.DeactivateWorkflow)
	workflows.POST("/:id/execute", h.ExecuteWorkflow)

	v1.GET("/executions", h.ListExecutions)
	v1.GET("/executions/:id", h.GetExecution)
	v1.POST("/executions/:id/cancel", h.CancelExecution)

	v1.GET("/approvals", h.ListApprovals)
	v1.GET("/approvals/:id", h.GetApproval)
	v1.POST("/approvals/:id/respond", h.RespondApproval)

	reportsGroup := v1.Group("/reports")
	reportsGroup.GET("", h.ListReports)
	reportsGroup.POST("", h.CreateReport)
	reportsGroup.PUT("/:id", h.UpdateReport)
	reportsGroup.POST("/:id/activate", h.ActivateReport)
	reportsGroup.POST("/:id/deactivate", h.DeactivateReport)
	reportsGroup.POST("/:id/run", h.RunReport)

	v1.POST("/sweeps/sla", h.SweepSLA)
	v1.POST("/sweeps/approvals", h.SweepApprovals)
	v1.GET("/schedules", h.ListSchedules)
	v1.POST("/schedules/sync", h.SyncSchedules)
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
