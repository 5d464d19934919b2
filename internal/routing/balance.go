package routing

import (
	"context"
	"sort"
	"time"

	"lead_lifecycle_engine/internal/actions"
	"lead_lifecycle_engine/internal/audit"
	"lead_lifecycle_engine/platform/apperr"

	"github.com/google/uuid"
)

// resolveOwner maps an assignment action to an eligible owner.
func (s *Service) resolveOwner(ctx context.Context, action actions.Action) (Owner, bool, error) {
	switch a := action.(type) {
	case actions.AssignToUser:
		owner, err := s.repo.GetOwner(ctx, a.UserID)
		if apperr.Is(err, apperr.KindNotFound) {
			return Owner{}, false, nil
		}
		if err != nil {
			return Owner{}, false, err
		}
		return owner, owner.IsActive, nil
	case actions.AssignToRole:
		return s.leastLoaded(ctx, a.Role)
	case actions.AssignToLeastLoaded:
		return s.leastLoaded(ctx, a.Role)
	default:
		return Owner{}, false, nil
	}
}

// leastLoaded picks the active owner (optionally holding role) with the
// lowest workload score. Ties go to the most recently idle owner, then to
// the lowest id so the choice is deterministic.
func (s *Service) leastLoaded(ctx context.Context, role string) (Owner, bool, error) {
	owners, err := s.repo.ListOwners(ctx, true)
	if err != nil {
		return Owner{}, false, err
	}
	workloads, err := s.repo.ListWorkloads(ctx)
	if err != nil {
		return Owner{}, false, err
	}
	byOwner := make(map[uuid.UUID]Workload, len(workloads))
	for _, w := range workloads {
		byOwner[w.OwnerID] = w
	}

	candidates := make([]Owner, 0, len(owners))
	for _, o := range owners {
		if o.IsActive && o.HasRole(role) {
			candidates = append(candidates, o)
		}
	}
	if len(candidates) == 0 {
		return Owner{}, false, nil
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return lessLoaded(byOwner[candidates[i].ID], byOwner[candidates[j].ID], candidates[i].ID, candidates[j].ID)
	})
	return candidates[0], true, nil
}

const scoreEpsilon = 1e-9

func lessLoaded(a, b Workload, aID, bID uuid.UUID) bool {
	if diff := a.Score - b.Score; diff < -scoreEpsilon || diff > scoreEpsilon {
		return a.Score < b.Score
	}
	aIdle, bIdle := idleTime(a), idleTime(b)
	if !aIdle.Equal(bIdle) {
		return aIdle.After(bIdle)
	}
	return aID.String() < bID.String()
}

func idleTime(w Workload) time.Time {
	if w.IdleSince == nil {
		return time.Time{}
	}
	return *w.IdleSince
}

// Workloads returns every owner's current workload.
func (s *Service) Workloads(ctx context.Context) ([]Workload, error) {
	return s.repo.ListWorkloads(ctx)
}

// Owners lists owners.
func (s *Service) Owners(ctx context.Context, activeOnly bool) ([]Owner, error) {
	return s.repo.ListOwners(ctx, activeOnly)
}

// GetOwner returns one owner.
func (s *Service) GetOwner(ctx context.Context, id uuid.UUID) (Owner, error) {
	return s.repo.GetOwner(ctx, id)
}

// UpsertOwner creates or updates an owner.
func (s *Service) UpsertOwner(ctx context.Context, o Owner) (Owner, error) {
	if o.Name == "" {
		return Owner{}, apperr.Validation("owner name is required")
	}
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	if err := s.repo.UpsertOwner(ctx, o); err != nil {
		return Owner{}, err
	}
	return o, nil
}

// activeRules serves rules from the cache; writes invalidate it. A load that
// overlaps an invalidation is returned to its caller but never cached.
func (s *Service) activeRules(ctx context.Context) ([]Rule, error) {
	s.mu.RLock()
	if s.rulesLoaded {
		out := s.rules
		s.mu.RUnlock()
		return out, nil
	}
	gen := s.rulesGen
	s.mu.RUnlock()

	loaded, err := s.repo.ListActiveRules(ctx)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(loaded, func(i, j int) bool { return loaded[i].Priority < loaded[j].Priority })

	s.mu.Lock()
	if s.rulesGen == gen {
		s.rules = loaded
		s.rulesLoaded = true
	}
	s.mu.Unlock()
	return loaded, nil
}

func (s *Service) invalidateRules() {
	s.mu.Lock()
	s.rules = nil
	s.rulesLoaded = false
	s.rulesGen++
	s.mu.Unlock()
}

// CreateRule validates and stores a rule.
func (s *Service) CreateRule(ctx context.Context, in RuleInput, actor string) (Rule, error) {
	if err := in.validate(); err != nil {
		return Rule{}, err
	}
	now := s.opts.Now()
	r := Rule{
		ID:         uuid.New(),
		Name:       in.Name,
		Priority:   in.Priority,
		Conditions: in.Conditions,
		Actions:    in.Actions,
		SLAHours:   in.SLAHours,
		IsActive:   in.IsActive == nil || *in.IsActive,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.repo.CreateRule(ctx, r); err != nil {
		return Rule{}, err
	}
	s.invalidateRules()
	s.configAudit(ctx, r.ID, "assignment_rule_created", actor)
	return r, nil
}

// UpdateRule replaces a rule's definition.
func (s *Service) UpdateRule(ctx context.Context, id uuid.UUID, in RuleInput, actor string) (Rule, error) {
	if err := in.validate(); err != nil {
		return Rule{}, err
	}
	r, err := s.repo.GetRule(ctx, id)
	if err != nil {
		return Rule{}, err
	}
	r.Name = in.Name
	r.Priority = in.Priority
	r.Conditions = in.Conditions
	r.Actions = in.Actions
	r.SLAHours = in.SLAHours
	if in.IsActive != nil {
		r.IsActive = *in.IsActive
	}
	r.UpdatedAt = s.opts.Now()
	if err := s.repo.UpdateRule(ctx, r); err != nil {
		return Rule{}, err
	}
	s.invalidateRules()
	s.configAudit(ctx, r.ID, "assignment_rule_updated", actor)
	return r, nil
}

// SetRuleActive soft-activates or deactivates a rule.
func (s *Service) SetRuleActive(ctx context.Context, id uuid.UUID, active bool, actor string) error {
	if err := s.repo.SetRuleActive(ctx, id, active); err != nil {
		return err
	}
	s.invalidateRules()
	action := "assignment_rule_deactivated"
	if active {
		action = "assignment_rule_activated"
	}
	s.configAudit(ctx, id, action, actor)
	return nil
}

// GetRule returns one rule.
func (s *Service) GetRule(ctx context.Context, id uuid.UUID) (Rule, error) {
	return s.repo.GetRule(ctx, id)
}

// ListRules returns all rules ordered by priority.
func (s *Service) ListRules(ctx context.Context) ([]Rule, error) {
	return s.repo.ListRules(ctx)
}

func (s *Service) configAudit(ctx context.Context, id uuid.UUID, action, actor string) {
	entry := audit.NewEntry(audit.EntityConfig, id, nil, action, actor, nil)
	if err := s.audit.Write(ctx, entry); err != nil {
		s.log.Error("audit write failed", "entity", audit.EntityConfig, "error", err)
	}
}
