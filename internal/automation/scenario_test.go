package automation_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"lead_lifecycle_engine/internal/actions"
	"lead_lifecycle_engine/internal/automation"
	"lead_lifecycle_engine/internal/events"
	"lead_lifecycle_engine/internal/lead"
	"lead_lifecycle_engine/internal/locking"
	"lead_lifecycle_engine/internal/routing"
	"lead_lifecycle_engine/internal/rules"
	"lead_lifecycle_engine/internal/scoring"
	"lead_lifecycle_engine/internal/store/memory"
	"lead_lifecycle_engine/internal/workflow"
	"lead_lifecycle_engine/platform/apperr"
	"lead_lifecycle_engine/platform/config"
	"lead_lifecycle_engine/platform/logger"
	"lead_lifecycle_engine/platform/validator"

	"github.com/google/uuid"
)

type harness struct {
	module *automation.Module
	bus    *events.InMemoryBus
	store  *memory.Store
}

func newHarness(t *testing.T, opts ...func(*automation.Infrastructure)) *harness {
	t.Helper()
	log := logger.Discard()
	store := memory.New()
	bus := events.NewInMemoryBus(log)
	cfg := &config.Config{SLADefaultHours: 24, ApprovalTTL: 72 * time.Hour, ScheduledBatchLimit: 100}
	infra := automation.Infrastructure{
		Repos:     automation.MemoryRepositories(store),
		Bus:       bus,
		Locker:    locking.NewKeyedMutex(),
		Validator: validator.New(),
	}
	for _, opt := range opts {
		opt(&infra)
	}
	m := automation.NewModule(infra, cfg, log)
	t.Cleanup(bus.Wait)
	return &harness{module: m, bus: bus, store: store}
}

// record counts published events by name.
type record struct {
	mu     sync.Mutex
	counts map[string]int
}

func (h *harness) record(names ...string) *record {
	r := &record{counts: map[string]int{}}
	for _, name := range names {
		h.bus.Subscribe(name, events.HandlerFunc(func(_ context.Context, e events.Event) error {
			r.mu.Lock()
			r.counts[e.EventName()]++
			r.mu.Unlock()
			return nil
		}))
	}
	return r
}

func (r *record) count(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[name]
}

func (h *harness) owner(t *testing.T, name string, roles ...string) routing.Owner {
	t.Helper()
	o, err := h.module.Routing().UpsertOwner(context.Background(), routing.Owner{
		Name:     name,
		Email:    strings.ToLower(name) + "@example.com",
		Roles:    roles,
		IsActive: true,
	})
	if err != nil {
		t.Fatalf("upsert owner %s: %v", name, err)
	}
	return o
}

func (h *harness) lead(t *testing.T, size int) uuid.UUID {
	t.Helper()
	id := uuid.New()
	if _, err := h.store.Leads().Upsert(context.Background(), lead.Snapshot{
		LeadID:  id,
		Company: lead.Company{Name: "Acme", Size: size},
		Source:  "web",
		Status:  lead.StatusNew,
	}); err != nil {
		t.Fatalf("upsert lead: %v", err)
	}
	return id
}

func sizeModel() scoring.ModelInput {
	return scoring.ModelInput{
		Name: "size",
		Groups: []scoring.CriteriaGroup{{
			Name:   scoring.GroupProfileFit,
			Weight: 1,
			Criteria: []scoring.Criterion{{
				Name:       "large company",
				Conditions: []rules.Predicate{{Field: "company.size", Operator: rules.OpGreaterThan, Value: 100}},
				Points:     10,
			}},
		}},
		Bands: []scoring.Band{
			{Label: "cold", Min: 0, Max: 80},
			{Label: "hot", Min: 81, Max: 100},
		},
		Activate: true,
	}
}

func TestRoutingPrefersFirstMatchingRuleAndEscalatesOnce(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	seen := h.record(events.SLAEscalated{}.EventName())

	u1 := h.owner(t, "Ada", "sales")
	u2 := h.owner(t, "Ben", "sales")

	if _, err := h.module.Scoring().CreateModel(ctx, sizeModel()); err != nil {
		t.Fatalf("create model: %v", err)
	}
	hot, err := h.module.Routing().CreateRule(ctx, routing.RuleInput{
		Name:       "hot leads",
		Priority:   1,
		Conditions: []rules.Predicate{{Field: "score.value", Operator: rules.OpGreaterThan, Value: 80}},
		Actions:    actions.Specs(actions.AssignToUser{UserID: u1.ID}),
	}, "test")
	if err != nil {
		t.Fatalf("create rule: %v", err)
	}
	if _, err := h.module.Routing().CreateRule(ctx, routing.RuleInput{
		Name:     "catch all",
		Priority: 10,
		Actions:  actions.Specs(actions.AssignToUser{UserID: u2.ID}),
	}, "test"); err != nil {
		t.Fatalf("create rule: %v", err)
	}

	eng := h.module.Engine()
	big, err := eng.Intake(ctx, lead.Snapshot{Company: lead.Company{Name: "Big", Size: 500}, Source: "web"}, "test")
	if err != nil {
		t.Fatalf("intake big: %v", err)
	}
	small, err := eng.Intake(ctx, lead.Snapshot{Company: lead.Company{Name: "Small", Size: 5}, Source: "web"}, "test")
	if err != nil {
		t.Fatalf("intake small: %v", err)
	}

	if !big.Created || big.Event != "lead.created" {
		t.Fatalf("expected created event, got %+v", big)
	}
	if big.Snapshot.Score == nil || big.Snapshot.Score.Value != 100 {
		t.Fatalf("expected score 100, got %+v", big.Snapshot.Score)
	}
	if big.Snapshot.AssignedTo == nil || *big.Snapshot.AssignedTo != u1.ID {
		t.Fatalf("expected big lead assigned to %s, got %v", u1.ID, big.Snapshot.AssignedTo)
	}
	if small.Snapshot.AssignedTo == nil || *small.Snapshot.AssignedTo != u2.ID {
		t.Fatalf("expected small lead assigned to %s, got %v", u2.ID, small.Snapshot.AssignedTo)
	}

	current, err := h.module.Routing().GetCurrentAssignment(ctx, big.Snapshot.LeadID)
	if err != nil {
		t.Fatalf("current assignment: %v", err)
	}
	if current.Method != routing.MethodRule || current.RuleID == nil || *current.RuleID != hot.ID {
		t.Fatalf("expected assignment by rule %s, got %+v", hot.ID, current)
	}

	if err := h.module.Routing().RecordFirstContact(ctx, small.Snapshot.LeadID, "test"); err != nil {
		t.Fatalf("first contact: %v", err)
	}

	sla, err := h.module.Routing().GetSLA(ctx, big.Snapshot.LeadID)
	if err != nil {
		t.Fatalf("get sla: %v", err)
	}
	if got := sla.Deadline.Sub(sla.AssignedAt); got != 24*time.Hour {
		t.Fatalf("expected 24h sla window, got %s", got)
	}

	later := sla.AssignedAt.Add(25 * time.Hour)
	first, err := h.module.Routing().SweepSLA(ctx, later)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if first.Escalated != 1 {
		t.Fatalf("expected one escalation, got %+v", first)
	}
	second, err := h.module.Routing().SweepSLA(ctx, later.Add(time.Hour))
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if second.Escalated != 0 {
		t.Fatalf("expected no repeated escalation, got %+v", second)
	}

	h.bus.Wait()
	if n := seen.count(events.SLAEscalated{}.EventName()); n != 1 {
		t.Fatalf("expected one escalation event, got %d", n)
	}
}

func TestReassignRequiresReason(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	u1 := h.owner(t, "Ada", "sales")
	u2 := h.owner(t, "Ben", "sales")
	leadID := h.lead(t, 10)

	if _, err := h.module.Routing().Assign(ctx, leadID, &u1.ID, "test"); err != nil {
		t.Fatalf("assign: %v", err)
	}

	_, err := h.module.Routing().Reassign(ctx, leadID, u2.ID, "  ", "manager")
	if !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}

	res, err := h.module.Routing().Reassign(ctx, leadID, u2.ID, "customer asked for Ben", "manager")
	if err != nil {
		t.Fatalf("reassign: %v", err)
	}
	if res.Method != routing.MethodReassign || res.OwnerID == nil || *res.OwnerID != u2.ID {
		t.Fatalf("unexpected reassignment %+v", res)
	}
	if res.PreviousOwnerID == nil || *res.PreviousOwnerID != u1.ID {
		t.Fatalf("expected previous owner %s, got %v", u1.ID, res.PreviousOwnerID)
	}

	history, err := h.module.Routing().History(ctx, leadID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected two history entries, got %d", len(history))
	}
}

func TestIntakeWithoutOwnersLeavesLeadUnassigned(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	seen := h.record(events.LeadUnassignable{}.EventName())

	res, err := h.module.Engine().Intake(ctx, lead.Snapshot{Company: lead.Company{Name: "Lonely"}}, "test")
	if err != nil {
		t.Fatalf("intake: %v", err)
	}
	if res.Snapshot.AssignedTo != nil {
		t.Fatalf("expected no owner, got %v", res.Snapshot.AssignedTo)
	}
	if res.Snapshot.Status != lead.StatusNew {
		t.Fatalf("expected default status new, got %q", res.Snapshot.Status)
	}

	h.bus.Wait()
	if n := seen.count(events.LeadUnassignable{}.EventName()); n != 1 {
		t.Fatalf("expected one unassignable event, got %d", n)
	}
}

func TestClosingLeadReleasesAssignment(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.owner(t, "Ada", "sales")

	eng := h.module.Engine()
	res, err := eng.Intake(ctx, lead.Snapshot{Company: lead.Company{Name: "Acme"}}, "test")
	if err != nil {
		t.Fatalf("intake: %v", err)
	}
	if res.Snapshot.AssignedTo == nil {
		t.Fatal("expected lead to be assigned")
	}

	closed := res.Snapshot.WithStatus(lead.StatusWon)
	out, err := eng.Intake(ctx, closed, "test")
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if out.Event != "lead.closed" {
		t.Fatalf("expected lead.closed, got %q", out.Event)
	}
	if out.Snapshot.AssignedTo != nil {
		t.Fatalf("expected assignment released, got %v", out.Snapshot.AssignedTo)
	}
	if _, err := h.module.Routing().GetSLA(ctx, res.Snapshot.LeadID); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected sla cleared, got %v", err)
	}
}

func approvalWorkflow(t *testing.T, h *harness) workflow.Definition {
	t.Helper()
	def, err := h.module.Workflows().CreateDefinition(context.Background(), workflow.DefinitionInput{
		Name:    "discount approval",
		Trigger: workflow.Trigger{Event: "lead.discount_requested"},
		Actions: actions.Specs(
			actions.UpdateLeadStatus{Status: lead.StatusContacted},
			actions.RequestApproval{ApproverRole: "manager", Reason: "discount above 10%"},
			actions.SendNotification{Channel: actions.ChannelEmail, Recipient: "deals@example.com", Subject: "Discount", Message: "approved"},
		),
	}, "test")
	if err != nil {
		t.Fatalf("create workflow: %v", err)
	}
	return def
}

func suspended(t *testing.T, h *harness, def workflow.Definition, leadID uuid.UUID) (workflow.Execution, uuid.UUID) {
	t.Helper()
	exec, err := h.module.Workflows().Execute(context.Background(), def.ID, leadID, "test", nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if exec.Status != workflow.StatusAwaitingApproval {
		t.Fatalf("expected awaiting_approval, got %s (%s)", exec.Status, exec.Error)
	}
	if exec.Position != 2 {
		t.Fatalf("expected position 2, got %d", exec.Position)
	}
	raw, _ := exec.Context["approvalId"].(string)
	approvalID, err := uuid.Parse(raw)
	if err != nil {
		t.Fatalf("approval id missing from context: %v", exec.Context)
	}
	return exec, approvalID
}

func TestApprovalResumesAtNextAction(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	leadID := h.lead(t, 10)
	def := approvalWorkflow(t, h)

	_, approvalID := suspended(t, h, def, leadID)

	done, err := h.module.Workflows().Respond(ctx, approvalID, "manager-1", workflow.DecisionApproved, "")
	if err != nil {
		t.Fatalf("respond: %v", err)
	}
	if done.Status != workflow.StatusCompleted {
		t.Fatalf("expected completed, got %s (%s)", done.Status, done.Error)
	}
	if len(done.ExecutedActions) != 3 {
		t.Fatalf("expected three action results, got %d", len(done.ExecutedActions))
	}
	last := done.ExecutedActions[2]
	if last.Type != actions.TypeSendNotification || last.Status != workflow.ResultSucceeded {
		t.Fatalf("unexpected final action %+v", last)
	}
	if done.Context["approvedBy"] != "manager-1" {
		t.Fatalf("expected approver in context, got %v", done.Context["approvedBy"])
	}

	snap, err := h.module.Engine().Lead(ctx, leadID)
	if err != nil {
		t.Fatalf("lead: %v", err)
	}
	if snap.Status != lead.StatusContacted {
		t.Fatalf("expected status contacted, got %q", snap.Status)
	}

	_, err = h.module.Workflows().Respond(ctx, approvalID, "manager-2", workflow.DecisionApproved, "")
	if !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("expected conflict on second response, got %v", err)
	}
}

func TestApprovalRejectionCancelsExecution(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	leadID := h.lead(t, 10)
	def := approvalWorkflow(t, h)

	_, approvalID := suspended(t, h, def, leadID)

	out, err := h.module.Workflows().Respond(ctx, approvalID, "manager-1", workflow.DecisionRejected, "over budget")
	if err != nil {
		t.Fatalf("respond: %v", err)
	}
	if out.Status != workflow.StatusCancelled {
		t.Fatalf("expected cancelled, got %s", out.Status)
	}
	if out.Error != "approval rejected: over budget" {
		t.Fatalf("unexpected error %q", out.Error)
	}
	if len(out.ExecutedActions) != 2 {
		t.Fatalf("expected actions after the gate to be skipped, got %d results", len(out.ExecutedActions))
	}
}

func TestApprovalExpiryCancelsExecution(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	leadID := h.lead(t, 10)
	def := approvalWorkflow(t, h)

	exec, approvalID := suspended(t, h, def, leadID)

	n, err := h.module.Workflows().ExpireApprovals(ctx, time.Now().Add(73*time.Hour))
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected one expired approval, got %d", n)
	}

	got, err := h.module.Workflows().GetExecution(ctx, exec.ID)
	if err != nil {
		t.Fatalf("get execution: %v", err)
	}
	if got.Status != workflow.StatusCancelled || got.Error != "approval expired" {
		t.Fatalf("expected cancelled by expiry, got %s (%s)", got.Status, got.Error)
	}
	req, err := h.module.Workflows().GetApproval(ctx, approvalID)
	if err != nil {
		t.Fatalf("get approval: %v", err)
	}
	if req.Status != workflow.ApprovalExpired {
		t.Fatalf("expected expired approval, got %s", req.Status)
	}
}

func TestCancelRequiresPendingOrRunning(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	leadID := h.lead(t, 10)
	def := approvalWorkflow(t, h)

	exec, _ := suspended(t, h, def, leadID)

	_, err := h.module.Workflows().Cancel(ctx, exec.ID, "operator")
	if !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("expected conflict cancelling a suspended execution, got %v", err)
	}
}

func TestFailingActionFailsExecution(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	leadID := h.lead(t, 10)

	def, err := h.module.Workflows().CreateDefinition(ctx, workflow.DefinitionInput{
		Name:    "notify owner",
		Trigger: workflow.Trigger{Event: "lead.nudge"},
		Actions: actions.Specs(
			actions.SendNotification{Channel: actions.ChannelEmail, Recipient: actions.RecipientOwner, Message: "follow up"},
			actions.UpdateLeadStatus{Status: lead.StatusContacted},
		),
	}, "test")
	if err != nil {
		t.Fatalf("create workflow: %v", err)
	}

	exec, err := h.module.Workflows().Execute(ctx, def.ID, leadID, "test", nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if exec.Status != workflow.StatusFailed {
		t.Fatalf("expected failed, got %s", exec.Status)
	}
	if len(exec.ExecutedActions) != 1 || exec.ExecutedActions[0].Status != workflow.ResultFailed {
		t.Fatalf("expected a single failed action, got %+v", exec.ExecutedActions)
	}
	if !strings.Contains(exec.Error, "send_notification") {
		t.Fatalf("expected failing stage in error, got %q", exec.Error)
	}

	snap, err := h.module.Engine().Lead(ctx, leadID)
	if err != nil {
		t.Fatalf("lead: %v", err)
	}
	if snap.Status != lead.StatusNew {
		t.Fatalf("expected later actions skipped, status is %q", snap.Status)
	}
}

func TestInactiveWorkflowCannotExecute(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	leadID := h.lead(t, 10)
	inactive := false

	def, err := h.module.Workflows().CreateDefinition(ctx, workflow.DefinitionInput{
		Name:     "dormant",
		Trigger:  workflow.Trigger{Event: "lead.nudge"},
		Actions:  actions.Specs(actions.RecalculateScore{}),
		IsActive: &inactive,
	}, "test")
	if err != nil {
		t.Fatalf("create workflow: %v", err)
	}

	_, err = h.module.Workflows().Execute(ctx, def.ID, leadID, "test", nil)
	if !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestSelfTriggeringWorkflowStopsAtDepthLimit(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	leadID := h.lead(t, 10)
	wf := h.module.Workflows()

	in := workflow.DefinitionInput{
		Name:    "loop",
		Trigger: workflow.Trigger{Event: "lead.loop"},
		Actions: actions.Specs(actions.RecalculateScore{}),
	}
	def, err := wf.CreateDefinition(ctx, in, "test")
	if err != nil {
		t.Fatalf("create workflow: %v", err)
	}
	in.Actions = actions.Specs(actions.TriggerWorkflow{WorkflowID: def.ID})
	if _, err := wf.UpdateDefinition(ctx, def.ID, in, "test"); err != nil {
		t.Fatalf("update workflow: %v", err)
	}

	root, err := wf.Execute(ctx, def.ID, leadID, "test", nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if root.Status != workflow.StatusCompleted {
		t.Fatalf("expected root execution completed, got %s (%s)", root.Status, root.Error)
	}

	all, err := wf.ListExecutions(ctx, workflow.ExecutionFilter{WorkflowID: &def.ID, Limit: 100})
	if err != nil {
		t.Fatalf("list executions: %v", err)
	}
	if len(all) != events.MaxTriggerDepth+1 {
		t.Fatalf("expected %d executions, got %d", events.MaxTriggerDepth+1, len(all))
	}
	failed := 0
	for _, e := range all {
		if e.Status == workflow.StatusFailed {
			failed++
			if !strings.Contains(e.Error, "depth") {
				t.Fatalf("expected depth error, got %q", e.Error)
			}
		}
	}
	if failed != 1 {
		t.Fatalf("expected only the deepest execution to fail, got %d", failed)
	}
}

func TestEventTriggersMatchingWorkflow(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	leadID := h.lead(t, 10)

	def, err := h.module.Workflows().CreateDefinition(ctx, workflow.DefinitionInput{
		Name:       "demo follow-up",
		Trigger:    workflow.Trigger{Event: "lead.demo_booked"},
		Conditions: []rules.Predicate{{Field: "event.plan", Operator: rules.OpEquals, Value: "enterprise"}},
		Actions:    actions.Specs(actions.UpdateLeadStatus{Status: lead.StatusQualified}),
	}, "test")
	if err != nil {
		t.Fatalf("create workflow: %v", err)
	}

	eng := h.module.Engine()
	if err := eng.Signal(ctx, "lead.demo_booked", leadID, map[string]any{"plan": "starter"}); err != nil {
		t.Fatalf("signal: %v", err)
	}
	if err := eng.Signal(ctx, "lead.demo_booked", leadID, map[string]any{"plan": "enterprise"}); err != nil {
		t.Fatalf("signal: %v", err)
	}

	runs, err := h.module.Workflows().ListExecutions(ctx, workflow.ExecutionFilter{WorkflowID: &def.ID})
	if err != nil {
		t.Fatalf("list executions: %v", err)
	}
	if len(runs) != 1 || runs[0].Status != workflow.StatusCompleted {
		t.Fatalf("expected one completed run, got %+v", runs)
	}
	if runs[0].TriggeredBy != "event:lead.demo_booked" {
		t.Fatalf("unexpected trigger %q", runs[0].TriggeredBy)
	}
}
