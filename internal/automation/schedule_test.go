package automation_test

import (
	"context"
	"testing"

	"lead_lifecycle_engine/internal/actions"
	"lead_lifecycle_engine/internal/automation"
	"lead_lifecycle_engine/internal/automation/engine"
	"lead_lifecycle_engine/internal/lead"
	"lead_lifecycle_engine/internal/scheduler"
	"lead_lifecycle_engine/internal/workflow"
	"lead_lifecycle_engine/platform/logger"
)

func TestDefinitionWritesSwapSchedulerRegistration(t *testing.T) {
	ctx := context.Background()
	sched := scheduler.New(logger.Discard(), scheduler.Options{})
	t.Cleanup(func() { _ = sched.Shutdown(context.Background()) })
	h := newHarness(t, func(infra *automation.Infrastructure) { infra.Scheduler = sched })
	wf := h.module.Workflows()

	input := func(trigger workflow.Trigger) workflow.DefinitionInput {
		return workflow.DefinitionInput{
			Name:    "nightly follow-up",
			Trigger: trigger,
			Actions: actions.Specs(actions.UpdateLeadStatus{Status: lead.StatusContacted}),
		}
	}
	expect := func(step, expression string) {
		t.Helper()
		entries := sched.Entries()
		if expression == "" {
			if len(entries) != 0 {
				t.Fatalf("%s: expected no timers, got %+v", step, entries)
			}
			return
		}
		if len(entries) != 1 || entries[0].Expression != expression {
			t.Fatalf("%s: expected one timer on %q, got %+v", step, expression, entries)
		}
	}

	def, err := wf.CreateDefinition(ctx, input(workflow.Trigger{Schedule: "0 2 * * *"}), "test")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	expect("create", "0 2 * * *")
	if got := sched.Entries()[0].ID; got != engine.WorkflowScheduleID(def.ID) {
		t.Fatalf("expected timer id %s, got %s", engine.WorkflowScheduleID(def.ID), got)
	}

	if _, err := wf.UpdateDefinition(ctx, def.ID, input(workflow.Trigger{Schedule: "30 6 * * 1-5"}), "test"); err != nil {
		t.Fatalf("update schedule: %v", err)
	}
	expect("schedule change", "30 6 * * 1-5")

	if _, err := wf.SetDefinitionActive(ctx, def.ID, false, "test"); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	expect("deactivate", "")

	if _, err := wf.SetDefinitionActive(ctx, def.ID, true, "test"); err != nil {
		t.Fatalf("activate: %v", err)
	}
	expect("reactivate", "30 6 * * 1-5")

	if _, err := wf.UpdateDefinition(ctx, def.ID, input(workflow.Trigger{Event: "lead.created"}), "test"); err != nil {
		t.Fatalf("switch to event: %v", err)
	}
	expect("switch to event trigger", "")
}
