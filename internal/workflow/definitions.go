package workflow

import (
	"context"

	"lead_lifecycle_engine/internal/audit"

	"github.com/google/uuid"
)

// CreateDefinition validates, stores and, for active scheduled
// definitions, registers the recurring trigger.
func (s *Service) CreateDefinition(ctx context.Context, in DefinitionInput, actor string) (Definition, error) {
	if err := in.validate(); err != nil {
		return Definition{}, err
	}
	now := s.opts.Now()
	def := Definition{
		ID:         uuid.New(),
		Name:       in.Name,
		Trigger:    in.Trigger,
		Conditions: in.Conditions,
		Actions:    in.Actions,
		Priority:   in.Priority,
		IsActive:   in.IsActive == nil || *in.IsActive,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.repo.CreateDefinition(ctx, def); err != nil {
		return Definition{}, err
	}
	if err := s.syncTrigger(def); err != nil {
		return Definition{}, err
	}
	s.configAudit(ctx, def.ID, "workflow_created", actor)
	return def, nil
}

// UpdateDefinition replaces a definition and swaps its scheduler
// registration.
func (s *Service) UpdateDefinition(ctx context.Context, id uuid.UUID, in DefinitionInput, actor string) (Definition, error) {
	if err := in.validate(); err != nil {
		return Definition{}, err
	}
	def, err := s.repo.GetDefinition(ctx, id)
	if err != nil {
		return Definition{}, err
	}
	def.Name = in.Name
	def.Trigger = in.Trigger
	def.Conditions = in.Conditions
	def.Actions = in.Actions
	def.Priority = in.Priority
	if in.IsActive != nil {
		def.IsActive = *in.IsActive
	}
	def.UpdatedAt = s.opts.Now()
	if err := s.repo.UpdateDefinition(ctx, def); err != nil {
		return Definition{}, err
	}
	if err := s.syncTrigger(def); err != nil {
		return Definition{}, err
	}
	s.configAudit(ctx, def.ID, "workflow_updated", actor)
	return def, nil
}

// SetDefinitionActive toggles a definition and its scheduler registration.
func (s *Service) SetDefinitionActive(ctx context.Context, id uuid.UUID, active bool, actor string) (Definition, error) {
	def, err := s.repo.GetDefinition(ctx, id)
	if err != nil {
		return Definition{}, err
	}
	def.IsActive = active
	def.UpdatedAt = s.opts.Now()
	if err := s.repo.UpdateDefinition(ctx, def); err != nil {
		return Definition{}, err
	}
	if err := s.syncTrigger(def); err != nil {
		return Definition{}, err
	}
	action := "workflow_deactivated"
	if active {
		action = "workflow_activated"
	}
	s.configAudit(ctx, def.ID, action, actor)
	return def, nil
}

// RegisterScheduled registers every active scheduled definition, used at
// process start.
func (s *Service) RegisterScheduled(ctx context.Context) (int, error) {
	defs, err := s.repo.ListActiveScheduled(ctx)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, def := range defs {
		if err := s.syncTrigger(def); err != nil {
			s.log.Error("schedule registration failed", "workflowId", def.ID, "error", err)
			continue
		}
		count++
	}
	return count, nil
}

// syncTrigger replaces the previous registration: tear down the old timer
// and register the new one, or only tear down when inactive or event based.
func (s *Service) syncTrigger(def Definition) error {
	if s.registrar == nil {
		return nil
	}
	if def.IsActive && def.Trigger.IsScheduled() {
		return s.registrar.RegisterWorkflow(def)
	}
	s.registrar.UnregisterWorkflow(def.ID)
	return nil
}

// GetDefinition returns one definition.
func (s *Service) GetDefinition(ctx context.Context, id uuid.UUID) (Definition, error) {
	return s.repo.GetDefinition(ctx, id)
}

// ListDefinitions returns every definition.
func (s *Service) ListDefinitions(ctx context.Context) ([]Definition, error) {
	return s.repo.ListDefinitions(ctx)
}

// DefinitionsForEvent returns active definitions triggered by event.
func (s *Service) DefinitionsForEvent(ctx context.Context, event string) ([]Definition, error) {
	return s.repo.ListActiveByEvent(ctx, event)
}

func (s *Service) configAudit(ctx context.Context, id uuid.UUID, action, actor string) {
	entry := audit.NewEntry(audit.EntityConfig, id, nil, action, actor, nil)
	if err := s.audit.Write(ctx, entry); err != nil {
		s.log.Error("audit write failed", "entity", audit.EntityConfig, "error", err)
	}
}
