package seed_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"lead_lifecycle_engine/internal/automation"
	"lead_lifecycle_engine/internal/events"
	"lead_lifecycle_engine/internal/locking"
	"lead_lifecycle_engine/internal/seed"
	"lead_lifecycle_engine/internal/store/memory"
	"lead_lifecycle_engine/platform/apperr"
	"lead_lifecycle_engine/platform/config"
	"lead_lifecycle_engine/platform/logger"
	"lead_lifecycle_engine/platform/validator"
)

func newModule(t *testing.T) *automation.Module {
	t.Helper()
	log := logger.Discard()
	cfg := &config.Config{SLADefaultHours: 24, ApprovalTTL: 72 * time.Hour, ScheduledBatchLimit: 100}
	return automation.NewModule(automation.Infrastructure{
		Repos:     automation.MemoryRepositories(memory.New()),
		Bus:       events.NewInMemoryBus(log),
		Locker:    locking.NewKeyedMutex(),
		Validator: validator.New(),
	}, cfg, log)
}

func TestLoadAndApplyIsIdempotent(t *testing.T) {
	ctx := context.Background()
	doc, err := seed.Load("testdata/seed.yaml")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(doc.Owners) != 3 || len(doc.Rules) != 2 || len(doc.Workflows) != 2 {
		t.Fatalf("unexpected document shape: %+v", doc)
	}

	m := newModule(t)
	first, err := m.Seed(ctx, doc, logger.Discard())
	if err != nil {
		t.Fatalf("first apply: %v", err)
	}
	want := seed.Summary{Owners: 3, Models: 1, Rules: 2, Workflows: 2, Reports: 1}
	if first != want {
		t.Fatalf("expected %+v, got %+v", want, first)
	}

	second, err := m.Seed(ctx, doc, logger.Discard())
	if err != nil {
		t.Fatalf("second apply: %v", err)
	}
	if second != (seed.Summary{Skipped: 9}) {
		t.Fatalf("expected everything skipped, got %+v", second)
	}

	model, err := m.Scoring().ActiveModel(ctx)
	if err != nil {
		t.Fatalf("active model: %v", err)
	}
	if model.Name != "default" {
		t.Fatalf("expected seeded model to be active, got %q", model.Name)
	}

	owners, err := m.Routing().Owners(ctx, true)
	if err != nil {
		t.Fatalf("owners: %v", err)
	}
	if len(owners) != 2 {
		t.Fatalf("expected 2 active owners, got %d", len(owners))
	}
}

func TestApplyRejectsInvalidEntry(t *testing.T) {
	doc, err := seed.Decode(strings.NewReader(`
scoringModels:
  - name: broken
    groups:
      - name: profile_fit
        weight: 0.4
    bands:
      - label: all
        min: 0
        max: 100
`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	_, err = newModule(t).Seed(context.Background(), doc, logger.Discard())
	if err == nil {
		t.Fatal("expected weights not summing to one to be rejected")
	}
	var appErr *apperr.Error
	if !errors.As(err, &appErr) || appErr.Kind != apperr.KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	if !strings.Contains(err.Error(), `scoringModels[0] "broken"`) {
		t.Fatalf("expected entry position in error, got %v", err)
	}
}

func TestDecodeRejectsUnknownKeys(t *testing.T) {
	_, err := seed.Decode(strings.NewReader("owner:\n  - name: typo\n"))
	if err == nil {
		t.Fatal("expected unknown top-level key to be rejected")
	}
}

func TestDecodeEmptyDocument(t *testing.T) {
	doc, err := seed.Decode(strings.NewReader(""))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(doc.Owners)+len(doc.Rules)+len(doc.ScoringModels) != 0 {
		t.Fatalf("expected empty document, got %+v", doc)
	}
}

func TestDecodeRejectsUnknownActionType(t *testing.T) {
	_, err := seed.Decode(strings.NewReader(`
rules:
  - name: bad
    actions:
      - type: teleport
`))
	if err == nil {
		t.Fatal("expected unknown action type to be rejected")
	}
}
