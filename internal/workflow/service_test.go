package workflow_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"lead_lifecycle_engine/internal/actions"
	"lead_lifecycle_engine/internal/audit"
	"lead_lifecycle_engine/internal/events"
	"lead_lifecycle_engine/internal/lead"
	"lead_lifecycle_engine/internal/store/memory"
	"lead_lifecycle_engine/internal/workflow"
	"lead_lifecycle_engine/platform/logger"

	"github.com/google/uuid"
)

// recordingExecutor records every action it runs. When gate is set, the
// first action announces its execution on started and waits for release.
type recordingExecutor struct {
	mu      sync.Mutex
	ran     []actions.Action
	gate    bool
	started chan uuid.UUID
	release chan struct{}
}

func (e *recordingExecutor) ExecuteAction(_ context.Context, exec workflow.Execution, _ lead.Snapshot, action actions.Action) (map[string]any, error) {
	e.mu.Lock()
	e.ran = append(e.ran, action)
	first := len(e.ran) == 1
	e.mu.Unlock()

	if first && e.gate {
		e.started <- exec.ID
		<-e.release
	}
	return map[string]any{}, nil
}

func (e *recordingExecutor) executed() []actions.Action {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]actions.Action(nil), e.ran...)
}

func newService(t *testing.T, exec workflow.ActionExecutor) (*workflow.Service, uuid.UUID) {
	t.Helper()
	log := logger.Discard()
	store := memory.New()
	bus := events.NewInMemoryBus(log)
	t.Cleanup(bus.Wait)

	svc := workflow.New(store.Workflows(), store.Leads(), bus, audit.Nop{}, nil, log, workflow.Options{ApprovalTTL: time.Hour})
	svc.SetExecutor(exec)

	leadID := uuid.New()
	if _, err := store.Leads().Upsert(context.Background(), lead.Snapshot{LeadID: leadID, Source: "web", Status: lead.StatusNew}); err != nil {
		t.Fatalf("upsert lead: %v", err)
	}
	return svc, leadID
}

func notify(recipient string) actions.SendNotification {
	return actions.SendNotification{Channel: actions.ChannelEmail, Recipient: recipient, Subject: "Update", Message: "lead changed"}
}

func TestCancelStopsRunningExecutionBeforeNextAction(t *testing.T) {
	ctx := context.Background()
	executor := &recordingExecutor{gate: true, started: make(chan uuid.UUID, 1), release: make(chan struct{})}
	svc, leadID := newService(t, executor)

	def, err := svc.CreateDefinition(ctx, workflow.DefinitionInput{
		Name:    "two steps",
		Trigger: workflow.Trigger{Event: "lead.created"},
		Actions: actions.Specs(actions.UpdateLeadStatus{Status: lead.StatusContacted}, notify("sales@example.com")),
	}, "test")
	if err != nil {
		t.Fatalf("create workflow: %v", err)
	}

	type outcome struct {
		exec workflow.Execution
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		exec, err := svc.Execute(ctx, def.ID, leadID, "test", nil)
		done <- outcome{exec, err}
	}()

	execID := <-executor.started
	cancelled, err := svc.Cancel(ctx, execID, "operator")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != workflow.StatusCancelled {
		t.Fatalf("expected cancelled, got %s", cancelled.Status)
	}
	close(executor.release)

	got := <-done
	if got.err != nil {
		t.Fatalf("execute: %v", got.err)
	}
	if got.exec.Status != workflow.StatusCancelled {
		t.Fatalf("expected Execute to return the cancelled record, got %s", got.exec.Status)
	}
	if ran := executor.executed(); len(ran) != 1 {
		t.Fatalf("expected only the first action to run, got %d", len(ran))
	}

	stored, err := svc.GetExecution(ctx, execID)
	if err != nil {
		t.Fatalf("get execution: %v", err)
	}
	if stored.Status != workflow.StatusCancelled || stored.Position != 0 {
		t.Fatalf("expected stored cancelled execution at position 0, got %s at %d", stored.Status, stored.Position)
	}
}

func TestResumeRunsActionsCapturedAtStart(t *testing.T) {
	ctx := context.Background()
	executor := &recordingExecutor{}
	svc, leadID := newService(t, executor)

	trigger := workflow.Trigger{Event: "lead.discount_requested"}
	def, err := svc.CreateDefinition(ctx, workflow.DefinitionInput{
		Name:    "discount",
		Trigger: trigger,
		Actions: actions.Specs(
			actions.UpdateLeadStatus{Status: lead.StatusContacted},
			actions.RequestApproval{ApproverRole: "manager"},
			notify("before@example.com"),
		),
	}, "test")
	if err != nil {
		t.Fatalf("create workflow: %v", err)
	}

	exec, err := svc.Execute(ctx, def.ID, leadID, "test", nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if exec.Status != workflow.StatusAwaitingApproval {
		t.Fatalf("expected awaiting_approval, got %s", exec.Status)
	}

	if _, err := svc.UpdateDefinition(ctx, def.ID, workflow.DefinitionInput{
		Name:    "discount",
		Trigger: trigger,
		Actions: actions.Specs(notify("after@example.com")),
	}, "test"); err != nil {
		t.Fatalf("update workflow: %v", err)
	}

	approvalID, err := uuid.Parse(exec.Context["approvalId"].(string))
	if err != nil {
		t.Fatalf("approval id: %v", err)
	}
	done, err := svc.Respond(ctx, approvalID, "manager-1", workflow.DecisionApproved, "")
	if err != nil {
		t.Fatalf("respond: %v", err)
	}
	if done.Status != workflow.StatusCompleted || len(done.ExecutedActions) != 3 {
		t.Fatalf("expected completed run with three results, got %s with %d", done.Status, len(done.ExecutedActions))
	}

	ran := executor.executed()
	last, ok := ran[len(ran)-1].(actions.SendNotification)
	if !ok || last.Recipient != "before@example.com" {
		t.Fatalf("expected the captured notification to run, got %#v", ran[len(ran)-1])
	}
}
