// Package seed loads engine configuration documents (owners, scoring models,
// assignment rules, workflow definitions and scheduled reports) from a YAML
// file and applies them through the same services the HTTP API uses.
package seed

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"lead_lifecycle_engine/internal/reports"
	"lead_lifecycle_engine/internal/routing"
	"lead_lifecycle_engine/internal/scoring"
	"lead_lifecycle_engine/internal/workflow"
	"lead_lifecycle_engine/platform/apperr"
	"lead_lifecycle_engine/platform/logger"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

const seedActor = "seed"

// Owner is an owner entry of the seed file. Owners are active unless
// isActive is false.
type Owner struct {
	ID       uuid.UUID `yaml:"id"`
	Name     string    `yaml:"name"`
	Email    string    `yaml:"email"`
	Phone    string    `yaml:"phone"`
	Roles    []string  `yaml:"roles"`
	IsActive *bool     `yaml:"isActive"`
}

func (o Owner) owner() routing.Owner {
	active := o.IsActive == nil || *o.IsActive
	return routing.Owner{ID: o.ID, Name: o.Name, Email: o.Email, Phone: o.Phone, Roles: o.Roles, IsActive: active}
}

// Document is the top-level shape of a seed file.
type Document struct {
	Owners        []Owner                    `yaml:"owners"`
	ScoringModels []scoring.ModelInput       `yaml:"scoringModels"`
	Rules         []routing.RuleInput        `yaml:"rules"`
	Workflows     []workflow.DefinitionInput `yaml:"workflows"`
	Reports       []reports.DefinitionInput  `yaml:"reports"`
}

// Load reads and decodes the seed file at path.
func Load(path string) (Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Document{}, fmt.Errorf("read seed file: %w", err)
	}
	return Decode(bytes.NewReader(raw))
}

// Decode parses a seed document. Unknown keys are rejected.
func Decode(r io.Reader) (Document, error) {
	var doc Document
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return Document{}, nil
		}
		return Document{}, apperr.Validation("invalid seed document").WithDetail("error", err.Error())
	}
	return doc, nil
}

// OwnerStore is the owner side of the routing service.
type OwnerStore interface {
	Owners(ctx context.Context, activeOnly bool) ([]routing.Owner, error)
	UpsertOwner(ctx context.Context, o routing.Owner) (routing.Owner, error)
}

// RuleStore is the rule side of the routing service.
type RuleStore interface {
	ListRules(ctx context.Context) ([]routing.Rule, error)
	CreateRule(ctx context.Context, in routing.RuleInput, actor string) (routing.Rule, error)
}

// ModelStore is the model side of the scoring service.
type ModelStore interface {
	ListModels(ctx context.Context) ([]scoring.Model, error)
	CreateModel(ctx context.Context, in scoring.ModelInput) (scoring.Model, error)
}

// WorkflowStore is the definition side of the workflow service.
type WorkflowStore interface {
	ListDefinitions(ctx context.Context) ([]workflow.Definition, error)
	CreateDefinition(ctx context.Context, in workflow.DefinitionInput, actor string) (workflow.Definition, error)
}

// ReportStore is the definition side of the reports service.
type ReportStore interface {
	List(ctx context.Context) ([]reports.Definition, error)
	Create(ctx context.Context, in reports.DefinitionInput, actor string) (reports.Definition, error)
}

// Targets are the services a document is applied through. Nil targets are
// skipped.
type Targets struct {
	Owners    OwnerStore
	Rules     RuleStore
	Models    ModelStore
	Workflows WorkflowStore
	Reports   ReportStore
}

// Summary counts what Apply created.
type Summary struct {
	Owners    int
	Models    int
	Rules     int
	Workflows int
	Reports   int
	Skipped   int
}

// Apply creates every entry of doc that does not exist yet. Entries are
// matched by name (owners by id or email), so applying the same file twice
// is a no-op. Owners go first so rules can reference them.
func Apply(ctx context.Context, doc Document, t Targets, log *logger.Logger) (Summary, error) {
	var sum Summary
	steps := []func(context.Context, Document, Targets, *Summary) error{
		applyOwners, applyModels, applyRules, applyWorkflows, applyReports,
	}
	for _, step := range steps {
		if err := step(ctx, doc, t, &sum); err != nil {
			return sum, err
		}
	}
	log.Info("seed applied",
		"owners", sum.Owners,
		"models", sum.Models,
		"rules", sum.Rules,
		"workflows", sum.Workflows,
		"reports", sum.Reports,
		"skipped", sum.Skipped,
	)
	return sum, nil
}

func applyOwners(ctx context.Context, doc Document, t Targets, sum *Summary) error {
	if t.Owners == nil || len(doc.Owners) == 0 {
		return nil
	}
	existing, err := t.Owners.Owners(ctx, false)
	if err != nil {
		return err
	}
	for i, o := range doc.Owners {
		if ownerExists(existing, o) {
			sum.Skipped++
			continue
		}
		created, err := t.Owners.UpsertOwner(ctx, o.owner())
		if err != nil {
			return entryError("owners", i, o.Name, err)
		}
		existing = append(existing, created)
		sum.Owners++
	}
	return nil
}

func ownerExists(existing []routing.Owner, o Owner) bool {
	for _, e := range existing {
		if o.ID != uuid.Nil && e.ID == o.ID {
			return true
		}
		if o.Email != "" && strings.EqualFold(e.Email, o.Email) {
			return true
		}
	}
	return false
}

func applyModels(ctx context.Context, doc Document, t Targets, sum *Summary) error {
	if t.Models == nil || len(doc.ScoringModels) == 0 {
		return nil
	}
	existing, err := t.Models.ListModels(ctx)
	if err != nil {
		return err
	}
	names := make(map[string]bool, len(existing))
	for _, m := range existing {
		names[m.Name] = true
	}
	for i, in := range doc.ScoringModels {
		if names[in.Name] {
			sum.Skipped++
			continue
		}
		if _, err := t.Models.CreateModel(ctx, in); err != nil {
			return entryError("scoringModels", i, in.Name, err)
		}
		names[in.Name] = true
		sum.Models++
	}
	return nil
}

func applyRules(ctx context.Context, doc Document, t Targets, sum *Summary) error {
	if t.Rules == nil || len(doc.Rules) == 0 {
		return nil
	}
	existing, err := t.Rules.ListRules(ctx)
	if err != nil {
		return err
	}
	names := make(map[string]bool, len(existing))
	for _, r := range existing {
		names[r.Name] = true
	}
	for i, in := range doc.Rules {
		if names[in.Name] {
			sum.Skipped++
			continue
		}
		if _, err := t.Rules.CreateRule(ctx, in, seedActor); err != nil {
			return entryError("rules", i, in.Name, err)
		}
		names[in.Name] = true
		sum.Rules++
	}
	return nil
}

func applyWorkflows(ctx context.Context, doc Document, t Targets, sum *Summary) error {
	if t.Workflows == nil || len(doc.Workflows) == 0 {
		return nil
	}
	existing, err := t.Workflows.ListDefinitions(ctx)
	if err != nil {
		return err
	}
	names := make(map[string]bool, len(existing))
	for _, d := range existing {
		names[d.Name] = true
	}
	for i, in := range doc.Workflows {
		if names[in.Name] {
			sum.Skipped++
			continue
		}
		if _, err := t.Workflows.CreateDefinition(ctx, in, seedActor); err != nil {
			return entryError("workflows", i, in.Name, err)
		}
		names[in.Name] = true
		sum.Workflows++
	}
	return nil
}

func applyReports(ctx context.Context, doc Document, t Targets, sum *Summary) error {
	if t.Reports == nil || len(doc.Reports) == 0 {
		return nil
	}
	existing, err := t.Reports.List(ctx)
	if err != nil {
		return err
	}
	names := make(map[string]bool, len(existing))
	for _, d := range existing {
		names[d.Name] = true
	}
	for i, in := range doc.Reports {
		if names[in.Name] {
			sum.Skipped++
			continue
		}
		if _, err := t.Reports.Create(ctx, in, seedActor); err != nil {
			return entryError("reports", i, in.Name, err)
		}
		names[in.Name] = true
		sum.Reports++
	}
	return nil
}

func entryError(section string, index int, name string, err error) error {
	return fmt.Errorf("seed %s[%d] %q: %w", section, index, name, err)
}
