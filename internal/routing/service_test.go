package routing_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"lead_lifecycle_engine/internal/actions"
	"lead_lifecycle_engine/internal/audit"
	"lead_lifecycle_engine/internal/events"
	"lead_lifecycle_engine/internal/lead"
	"lead_lifecycle_engine/internal/locking"
	"lead_lifecycle_engine/internal/routing"
	"lead_lifecycle_engine/internal/store/memory"
	"lead_lifecycle_engine/platform/logger"

	"github.com/google/uuid"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// hookedRepo runs a callback once, right after the wrapped read returns.
type hookedRepo struct {
	*memory.Routing
	afterDueSLAs     func()
	afterActiveRules func()
}

func (r *hookedRepo) ListDueSLAs(ctx context.Context, now time.Time, limit int) ([]routing.SLAState, error) {
	due, err := r.Routing.ListDueSLAs(ctx, now, limit)
	if hook := r.afterDueSLAs; hook != nil {
		r.afterDueSLAs = nil
		hook()
	}
	return due, err
}

func (r *hookedRepo) ListActiveRules(ctx context.Context) ([]routing.Rule, error) {
	list, err := r.Routing.ListActiveRules(ctx)
	if hook := r.afterActiveRules; hook != nil {
		r.afterActiveRules = nil
		hook()
	}
	return list, err
}

type notified struct {
	mu     sync.Mutex
	owners []uuid.UUID
}

func (n *notified) NotifySLAEscalated(_ context.Context, owner routing.Owner, _ routing.SLAState) error {
	n.mu.Lock()
	n.owners = append(n.owners, owner.ID)
	n.mu.Unlock()
	return nil
}

type fixture struct {
	svc      *routing.Service
	repo     *hookedRepo
	store    *memory.Store
	clock    *clock
	notified *notified
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := logger.Discard()
	store := memory.New()
	bus := events.NewInMemoryBus(log)
	t.Cleanup(bus.Wait)

	f := &fixture{
		repo:     &hookedRepo{Routing: store.Routing()},
		store:    store,
		clock:    &clock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)},
		notified: &notified{},
	}
	f.svc = routing.New(f.repo, store.Leads(), bus, audit.Nop{}, locking.NewKeyedMutex(), f.notified, log,
		routing.Options{DefaultSLAHours: 24, Now: f.clock.Now})
	return f
}

func (f *fixture) owner(t *testing.T, name string) routing.Owner {
	t.Helper()
	o, err := f.svc.UpsertOwner(context.Background(), routing.Owner{Name: name, IsActive: true})
	if err != nil {
		t.Fatalf("upsert owner: %v", err)
	}
	return o
}

func (f *fixture) lead(t *testing.T) uuid.UUID {
	t.Helper()
	id := uuid.New()
	if _, err := f.store.Leads().Upsert(context.Background(), lead.Snapshot{LeadID: id, Source: "web", Status: lead.StatusNew}); err != nil {
		t.Fatalf("upsert lead: %v", err)
	}
	return id
}

func (f *fixture) workload(t *testing.T, ownerID uuid.UUID) routing.Workload {
	t.Helper()
	loads, err := f.svc.Workloads(context.Background())
	if err != nil {
		t.Fatalf("workloads: %v", err)
	}
	for _, w := range loads {
		if w.OwnerID == ownerID {
			return w
		}
	}
	t.Fatalf("no workload for %s", ownerID)
	return routing.Workload{}
}

func TestSweepSkipsStateReassignedAfterListing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a, b := f.owner(t, "Ada"), f.owner(t, "Ben")
	leadID := f.lead(t)

	start := f.clock.Now()
	if _, err := f.svc.Assign(ctx, leadID, &a.ID, "test"); err != nil {
		t.Fatalf("assign: %v", err)
	}

	sweepAt := start.Add(25 * time.Hour)
	f.clock.Set(sweepAt)
	f.repo.afterDueSLAs = func() {
		if _, err := f.svc.Reassign(ctx, leadID, b.ID, "handover", "test"); err != nil {
			t.Errorf("reassign: %v", err)
		}
	}

	res, err := f.svc.SweepSLA(ctx, sweepAt)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if res.Checked != 1 || res.Escalated != 0 {
		t.Fatalf("expected the listed state to be skipped, got %+v", res)
	}

	st, err := f.svc.GetSLA(ctx, leadID)
	if err != nil {
		t.Fatalf("get sla: %v", err)
	}
	if st.OwnerID != b.ID || st.EscalatedAt != nil || st.IsOverdue {
		t.Fatalf("fresh state must stay open, got %+v", st)
	}
	if len(f.notified.owners) != 0 {
		t.Fatalf("no one should be notified, got %v", f.notified.owners)
	}

	late := st.Deadline.Add(time.Hour)
	res, err = f.svc.SweepSLA(ctx, late)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if res.Escalated != 1 || len(f.notified.owners) != 1 || f.notified.owners[0] != b.ID {
		t.Fatalf("expected the new owner's state to escalate once, got %+v notified=%v", res, f.notified.owners)
	}
}

func TestSweepSkipsStateClearedAfterListing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.owner(t, "Ada")
	leadID := f.lead(t)

	if _, err := f.svc.Assign(ctx, leadID, &a.ID, "test"); err != nil {
		t.Fatalf("assign: %v", err)
	}
	f.repo.afterDueSLAs = func() {
		if err := f.svc.RecordFirstContact(ctx, leadID, "test"); err != nil {
			t.Errorf("first contact: %v", err)
		}
	}

	res, err := f.svc.SweepSLA(ctx, f.clock.Now().Add(48*time.Hour))
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if res.Escalated != 0 || len(f.notified.owners) != 0 {
		t.Fatalf("cleared state must not escalate, got %+v", res)
	}
}

func TestRuleCacheDropsLoadRacingDeactivation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.owner(t, "Ada")
	f.owner(t, "Ben")

	rule, err := f.svc.CreateRule(ctx, routing.RuleInput{
		Name:     "to Ada",
		Priority: 1,
		Actions:  actions.Specs(actions.AssignToUser{UserID: a.ID}),
	}, "test")
	if err != nil {
		t.Fatalf("create rule: %v", err)
	}

	f.repo.afterActiveRules = func() {
		if err := f.svc.SetRuleActive(ctx, rule.ID, false, "test"); err != nil {
			t.Errorf("deactivate: %v", err)
		}
	}
	if _, err := f.svc.Assign(ctx, f.lead(t), nil, "test"); err != nil {
		t.Fatalf("assign: %v", err)
	}

	next, err := f.svc.Assign(ctx, f.lead(t), nil, "test")
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if next.Method != routing.MethodWorkloadBalance || next.RuleID != nil {
		t.Fatalf("deactivated rule must not be served from cache, got %+v", next)
	}
}

func TestReassignToSameOwnerKeepsWorkload(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.owner(t, "Ada")
	leadID := f.lead(t)

	if _, err := f.svc.Assign(ctx, leadID, &a.ID, "test"); err != nil {
		t.Fatalf("assign: %v", err)
	}
	f.clock.Set(f.clock.Now().Add(2 * time.Hour))
	res, err := f.svc.Reassign(ctx, leadID, a.ID, "reset sla", "test")
	if err != nil {
		t.Fatalf("reassign: %v", err)
	}
	if res.PreviousOwnerID == nil || *res.PreviousOwnerID != a.ID {
		t.Fatalf("expected previous owner %s, got %v", a.ID, res.PreviousOwnerID)
	}

	w := f.workload(t, a.ID)
	if w.ActiveCount != 1 {
		t.Fatalf("expected one active lead, got %d", w.ActiveCount)
	}
	if w.IdleSince != nil {
		t.Fatalf("owner never became idle, got idleSince %v", w.IdleSince)
	}
}
