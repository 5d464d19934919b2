// Package reports builds scheduled pipeline summaries (owner workload, SLA
// backlog, open pipeline) and exports them through an Exporter.
package reports

import (
	"context"
	"sort"
	"strings"
	"time"

	"lead_lifecycle_engine/internal/audit"
	"lead_lifecycle_engine/internal/lead"
	"lead_lifecycle_engine/internal/routing"
	"lead_lifecycle_engine/platform/apperr"
	"lead_lifecycle_engine/platform/cronspec"
	"lead_lifecycle_engine/platform/logger"

	"github.com/google/uuid"
)

// Kind selects what a report contains.
type Kind string

const (
	KindWorkload Kind = "workload_summary"
	KindSLA      Kind = "sla_summary"
	KindPipeline Kind = "pipeline_summary"
)

func (k Kind) valid() bool {
	return k == KindWorkload || k == KindSLA || k == KindPipeline
}

// Definition is a report generated on a cron schedule.
type Definition struct {
	ID        uuid.UUID  `json:"id"`
	Name      string     `json:"name"`
	Schedule  string     `json:"schedule"`
	Kind      Kind       `json:"kind"`
	IsActive  bool       `json:"isActive"`
	LastRunAt *time.Time `json:"lastRunAt,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// DefinitionInput is the writable part of a definition.
type DefinitionInput struct {
	Name     string `json:"name" yaml:"name" validate:"required,max=200"`
	Schedule string `json:"schedule" yaml:"schedule" validate:"required,cron"`
	Kind     Kind   `json:"kind" yaml:"kind" validate:"required"`
	IsActive *bool  `json:"isActive,omitempty" yaml:"isActive,omitempty"`
}

func (in DefinitionInput) validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return apperr.Validation("report name is required")
	}
	if !in.Kind.valid() {
		return apperr.Validation("unknown report kind").WithDetail("kind", string(in.Kind))
	}
	if _, err := cronspec.Parse(in.Schedule); err != nil {
		return apperr.Wrap(apperr.KindValidation, "invalid report schedule", err)
	}
	return nil
}

// Report is one generated document.
type Report struct {
	DefinitionID uuid.UUID `json:"definitionId"`
	Name         string    `json:"name"`
	Kind         Kind      `json:"kind"`
	GeneratedAt  time.Time `json:"generatedAt"`
	Data         any       `json:"data"`
}

// Result is a generated report and where it was exported to.
type Result struct {
	Report   Report `json:"report"`
	Location string `json:"location,omitempty"`
}

// Repository persists report definitions.
type Repository interface {
	CreateReport(ctx context.Context, d Definition) error
	UpdateReport(ctx context.Context, d Definition) error
	GetReport(ctx context.Context, id uuid.UUID) (Definition, error)
	ListReports(ctx context.Context) ([]Definition, error)
	ListActiveReports(ctx context.Context) ([]Definition, error)
	RecordReportRun(ctx context.Context, id uuid.UUID, at time.Time) error
}

// Source is the routing state reports summarise.
type Source interface {
	Workloads(ctx context.Context) ([]routing.Workload, error)
	Owners(ctx context.Context, activeOnly bool) ([]routing.Owner, error)
	OverdueSLAs(ctx context.Context, now time.Time, limit int) ([]routing.SLAState, error)
}

// Exporter stores a generated report and returns its location.
type Exporter interface {
	Export(ctx context.Context, r Report) (string, error)
}

// Registrar keeps the scheduler in step with definitions.
type Registrar interface {
	RegisterReport(d Definition) error
	UnregisterReport(id uuid.UUID)
}

const reportRowLimit = 500

type Service struct {
	repo      Repository
	source    Source
	leads     lead.Store
	exporter  Exporter
	audit     audit.Writer
	registrar Registrar
	now       func() time.Time
	log       *logger.Logger
}

// New builds the service. exporter may be nil, in which case reports are
// only returned to the caller.
func New(repo Repository, source Source, leads lead.Store, exporter Exporter, auditWriter audit.Writer, log *logger.Logger) *Service {
	return &Service{
		repo:     repo,
		source:   source,
		leads:    leads,
		exporter: exporter,
		audit:    auditWriter,
		now:      time.Now,
		log:      log.WithComponent("reports"),
	}
}

func (s *Service) SetRegistrar(r Registrar) { s.registrar = r }

func (s *Service) Create(ctx context.Context, in DefinitionInput, actor string) (Definition, error) {
	if err := in.validate(); err != nil {
		return Definition{}, err
	}
	now := s.now().UTC()
	d := Definition{
		ID:        uuid.New(),
		Name:      strings.TrimSpace(in.Name),
		Schedule:  strings.TrimSpace(in.Schedule),
		Kind:      in.Kind,
		IsActive:  in.IsActive == nil || *in.IsActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.CreateReport(ctx, d); err != nil {
		return Definition{}, err
	}
	s.configAudit(ctx, d.ID, "report_created", actor)
	return d, s.sync(d)
}

func (s *Service) Update(ctx context.Context, id uuid.UUID, in DefinitionInput, actor string) (Definition, error) {
	if err := in.validate(); err != nil {
		return Definition{}, err
	}
	d, err := s.repo.GetReport(ctx, id)
	if err != nil {
		return Definition{}, err
	}
	d.Name = strings.TrimSpace(in.Name)
	d.Schedule = strings.TrimSpace(in.Schedule)
	d.Kind = in.Kind
	if in.IsActive != nil {
		d.IsActive = *in.IsActive
	}
	d.UpdatedAt = s.now().UTC()
	if err := s.repo.UpdateReport(ctx, d); err != nil {
		return Definition{}, err
	}
	s.configAudit(ctx, d.ID, "report_updated", actor)
	return d, s.sync(d)
}

func (s *Service) SetActive(ctx context.Context, id uuid.UUID, active bool, actor string) (Definition, error) {
	d, err := s.repo.GetReport(ctx, id)
	if err != nil {
		return Definition{}, err
	}
	d.IsActive = active
	d.UpdatedAt = s.now().UTC()
	if err := s.repo.UpdateReport(ctx, d); err != nil {
		return Definition{}, err
	}
	action := "report_deactivated"
	if active {
		action = "report_activated"
	}
	s.configAudit(ctx, d.ID, action, actor)
	return d, s.sync(d)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (Definition, error) {
	return s.repo.GetReport(ctx, id)
}

func (s *Service) List(ctx context.Context) ([]Definition, error) {
	return s.repo.ListReports(ctx)
}

// RegisterAll registers every active definition, returning how many were
// registered. Definitions that fail to register are logged and skipped.
func (s *Service) RegisterAll(ctx context.Context) (int, error) {
	if s.registrar == nil {
		return 0, nil
	}
	defs, err := s.repo.ListActiveReports(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, d := range defs {
		if err := s.registrar.RegisterReport(d); err != nil {
			s.log.Warn("report registration failed", "report_id", d.ID, "error", err)
			continue
		}
		n++
	}
	return n, nil
}

func (s *Service) sync(d Definition) error {
	if s.registrar == nil {
		return nil
	}
	if d.IsActive {
		return s.registrar.RegisterReport(d)
	}
	s.registrar.UnregisterReport(d.ID)
	return nil
}

// Run generates and exports the report of definition id.
func (s *Service) Run(ctx context.Context, id uuid.UUID, at time.Time) (Result, error) {
	d, err := s.repo.GetReport(ctx, id)
	if err != nil {
		return Result{}, err
	}
	if !d.IsActive {
		return Result{}, apperr.Conflict("report is inactive").WithDetail("reportId", id.String())
	}

	report, err := s.Build(ctx, d, at)
	if err != nil {
		return Result{}, err
	}

	res := Result{Report: report}
	if s.exporter != nil {
		loc, err := s.exporter.Export(ctx, report)
		if err != nil {
			return Result{}, apperr.Wrap(apperr.KindInternal, "report export failed", err).WithDetail("reportId", id.String())
		}
		res.Location = loc
	}

	if err := s.repo.RecordReportRun(ctx, id, report.GeneratedAt); err != nil {
		s.log.Warn("report run not recorded", "report_id", id, "error", err)
	}
	s.log.Info("report generated", "report_id", id, "kind", d.Kind, "location", res.Location)
	return res, nil
}

// Build generates the report content without exporting it.
func (s *Service) Build(ctx context.Context, d Definition, at time.Time) (Report, error) {
	if at.IsZero() {
		at = s.now()
	}
	at = at.UTC()

	var (
		data any
		err  error
	)
	switch d.Kind {
	case KindWorkload:
		data, err = s.workload(ctx)
	case KindSLA:
		data, err = s.slaBacklog(ctx, at)
	case KindPipeline:
		data, err = s.pipeline(ctx)
	default:
		err = apperr.Validation("unknown report kind").WithDetail("kind", string(d.Kind))
	}
	if err != nil {
		return Report{}, err
	}
	return Report{DefinitionID: d.ID, Name: d.Name, Kind: d.Kind, GeneratedAt: at, Data: data}, nil
}

// OwnerLoad is one row of the workload summary.
type OwnerLoad struct {
	OwnerID     uuid.UUID  `json:"ownerId"`
	Name        string     `json:"name"`
	IsActive    bool       `json:"isActive"`
	ActiveCount int        `json:"activeCount"`
	Score       float64    `json:"workloadScore"`
	IdleSince   *time.Time `json:"idleSince,omitempty"`
}

func (s *Service) workload(ctx context.Context) ([]OwnerLoad, error) {
	owners, err := s.source.Owners(ctx, false)
	if err != nil {
		return nil, err
	}
	loads, err := s.source.Workloads(ctx)
	if err != nil {
		return nil, err
	}
	byOwner := make(map[uuid.UUID]routing.Workload, len(loads))
	for _, w := range loads {
		byOwner[w.OwnerID] = w
	}

	rows := make([]OwnerLoad, 0, len(owners))
	for _, o := range owners {
		w := byOwner[o.ID]
		rows = append(rows, OwnerLoad{
			OwnerID:     o.ID,
			Name:        o.Name,
			IsActive:    o.IsActive,
			ActiveCount: w.ActiveCount,
			Score:       w.Score,
			IdleSince:   w.IdleSince,
		})
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Score > rows[j].Score })
	return rows, nil
}

// OverdueLead is one row of the SLA backlog.
type OverdueLead struct {
	LeadID       uuid.UUID `json:"leadId"`
	OwnerID      uuid.UUID `json:"ownerId"`
	Deadline     time.Time `json:"slaDeadline"`
	HoursOverdue float64   `json:"hoursOverdue"`
}

func (s *Service) slaBacklog(ctx context.Context, at time.Time) ([]OverdueLead, error) {
	states, err := s.source.OverdueSLAs(ctx, at, reportRowLimit)
	if err != nil {
		return nil, err
	}
	rows := make([]OverdueLead, 0, len(states))
	for _, st := range states {
		rows = append(rows, OverdueLead{
			LeadID:       st.LeadID,
			OwnerID:      st.OwnerID,
			Deadline:     st.Deadline,
			HoursOverdue: at.Sub(st.Deadline).Hours(),
		})
	}
	return rows, nil
}

// Pipeline counts open leads.
type Pipeline struct {
	Open       int            `json:"open"`
	Unassigned int            `json:"unassigned"`
	ByStatus   map[string]int `json:"byStatus"`
	ByBand     map[string]int `json:"byBand"`
}

func (s *Service) pipeline(ctx context.Context) (Pipeline, error) {
	open, err := s.leads.ListOpen(ctx, lead.ListParams{Limit: 10 * reportRowLimit})
	if err != nil {
		return Pipeline{}, err
	}
	p := Pipeline{Open: len(open), ByStatus: map[string]int{}, ByBand: map[string]int{}}
	for _, l := range open {
		p.ByStatus[l.Status]++
		band := "unscored"
		if l.Score != nil {
			band = l.Score.Band
		}
		p.ByBand[band]++
		if l.AssignedTo == nil {
			p.Unassigned++
		}
	}
	return p, nil
}

func (s *Service) configAudit(ctx context.Context, id uuid.UUID, action, actor string) {
	entry := audit.NewEntry(audit.EntityConfig, id, nil, action, actor, map[string]any{"kind": "scheduled_report"})
	if err := s.audit.Write(ctx, entry); err != nil {
		s.log.Warn("audit write failed", "report_id", id, "error", err)
	}
}
