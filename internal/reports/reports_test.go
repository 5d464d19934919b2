package reports_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"lead_lifecycle_engine/internal/audit"
	"lead_lifecycle_engine/internal/lead"
	"lead_lifecycle_engine/internal/reports"
	"lead_lifecycle_engine/internal/routing"
	"lead_lifecycle_engine/internal/store/memory"
	"lead_lifecycle_engine/platform/apperr"
	"lead_lifecycle_engine/platform/logger"

	"github.com/google/uuid"
)

type fakeSource struct {
	owners  []routing.Owner
	loads   []routing.Workload
	overdue []routing.SLAState
}

func (f fakeSource) Workloads(context.Context) ([]routing.Workload, error) { return f.loads, nil }

func (f fakeSource) Owners(context.Context, bool) ([]routing.Owner, error) { return f.owners, nil }

func (f fakeSource) OverdueSLAs(context.Context, time.Time, int) ([]routing.SLAState, error) {
	return f.overdue, nil
}

type fakeExporter struct {
	exported []reports.Report
	err      error
}

func (f *fakeExporter) Export(_ context.Context, r reports.Report) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.exported = append(f.exported, r)
	return "reports/" + r.DefinitionID.String() + ".json", nil
}

type fakeRegistrar struct {
	registered   map[uuid.UUID]string
	unregistered int
}

func (f *fakeRegistrar) RegisterReport(d reports.Definition) error {
	f.registered[d.ID] = d.Schedule
	return nil
}

func (f *fakeRegistrar) UnregisterReport(id uuid.UUID) {
	delete(f.registered, id)
	f.unregistered++
}

func newService(src fakeSource, exp reports.Exporter) (*reports.Service, *memory.Store) {
	store := memory.New()
	svc := reports.New(store.Reports(), src, store.Leads(), exp, audit.Nop{}, logger.Discard())
	return svc, store
}

func TestRunExportsWorkloadSummary(t *testing.T) {
	ctx := context.Background()
	busy, idle := uuid.New(), uuid.New()
	src := fakeSource{
		owners: []routing.Owner{
			{ID: idle, Name: "Idle", IsActive: true},
			{ID: busy, Name: "Busy", IsActive: true},
		},
		loads: []routing.Workload{{OwnerID: busy, ActiveCount: 3, Score: 4.5}},
	}
	exp := &fakeExporter{}
	svc, _ := newService(src, exp)

	def, err := svc.Create(ctx, reports.DefinitionInput{Name: "daily", Schedule: "0 7 * * *", Kind: reports.KindWorkload}, "test")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	at := time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC)
	res, err := svc.Run(ctx, def.ID, at)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Location == "" || len(exp.exported) != 1 {
		t.Fatalf("expected one export, got %q and %d", res.Location, len(exp.exported))
	}

	rows, ok := res.Report.Data.([]reports.OwnerLoad)
	if !ok || len(rows) != 2 {
		t.Fatalf("unexpected report data %#v", res.Report.Data)
	}
	if rows[0].OwnerID != busy || rows[0].ActiveCount != 3 {
		t.Fatalf("expected busiest owner first, got %+v", rows[0])
	}

	got, err := svc.Get(ctx, def.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.LastRunAt == nil || !got.LastRunAt.Equal(at) {
		t.Fatalf("expected last run %s, got %v", at, got.LastRunAt)
	}
}

func TestSLASummaryReportsHoursOverdue(t *testing.T) {
	at := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	src := fakeSource{overdue: []routing.SLAState{{
		LeadID:   uuid.New(),
		OwnerID:  uuid.New(),
		Deadline: at.Add(-6 * time.Hour),
	}}}
	svc, _ := newService(src, nil)

	report, err := svc.Build(context.Background(), reports.Definition{ID: uuid.New(), Kind: reports.KindSLA}, at)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	rows := report.Data.([]reports.OverdueLead)
	if len(rows) != 1 || rows[0].HoursOverdue != 6 {
		t.Fatalf("expected 6 hours overdue, got %+v", rows)
	}
}

func TestPipelineCountsOpenLeads(t *testing.T) {
	ctx := context.Background()
	svc, store := newService(fakeSource{}, nil)

	for _, status := range []string{lead.StatusNew, lead.StatusNew, lead.StatusContacted, lead.StatusWon} {
		if _, err := store.Leads().Upsert(ctx, lead.Snapshot{LeadID: uuid.New(), Status: status}); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}

	report, err := svc.Build(ctx, reports.Definition{ID: uuid.New(), Kind: reports.KindPipeline}, time.Time{})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	p := report.Data.(reports.Pipeline)
	if p.Open != 3 || p.Unassigned != 3 {
		t.Fatalf("expected 3 open unassigned leads, got %+v", p)
	}
	if p.ByStatus[lead.StatusNew] != 2 || p.ByBand["unscored"] != 3 {
		t.Fatalf("unexpected breakdown %+v", p)
	}
}

func TestDefinitionsSyncWithRegistrar(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(fakeSource{}, nil)
	reg := &fakeRegistrar{registered: map[uuid.UUID]string{}}
	svc.SetRegistrar(reg)

	def, err := svc.Create(ctx, reports.DefinitionInput{Name: "sla", Schedule: "*/15 * * * *", Kind: reports.KindSLA}, "test")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if reg.registered[def.ID] != "*/15 * * * *" {
		t.Fatalf("expected registration, got %v", reg.registered)
	}

	if _, err := svc.SetActive(ctx, def.ID, false, "test"); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if len(reg.registered) != 0 || reg.unregistered != 1 {
		t.Fatalf("expected unregistration, got %v", reg.registered)
	}

	_, err = svc.Run(ctx, def.ID, time.Time{})
	if !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("expected conflict running inactive report, got %v", err)
	}
}

func TestCreateRejectsInvalidDefinitions(t *testing.T) {
	svc, _ := newService(fakeSource{}, nil)
	tests := []struct {
		name string
		in   reports.DefinitionInput
	}{
		{"bad schedule", reports.DefinitionInput{Name: "x", Schedule: "every day", Kind: reports.KindSLA}},
		{"unknown kind", reports.DefinitionInput{Name: "x", Schedule: "0 7 * * *", Kind: "revenue"}},
		{"blank name", reports.DefinitionInput{Name: " ", Schedule: "0 7 * * *", Kind: reports.KindSLA}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Create(context.Background(), tt.in, "test")
			if !apperr.Is(err, apperr.KindValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestExportFailureIsInternal(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(fakeSource{}, &fakeExporter{err: errors.New("bucket unavailable")})

	def, err := svc.Create(ctx, reports.DefinitionInput{Name: "pipeline", Schedule: "0 7 * * *", Kind: reports.KindPipeline}, "test")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	_, err = svc.Run(ctx, def.ID, time.Time{})
	if !apperr.Is(err, apperr.KindInternal) {
		t.Fatalf("expected internal error, got %v", err)
	}
}
