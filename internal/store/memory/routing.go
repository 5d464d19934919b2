package memory

import (
	"context"
	"sort"
	"time"

	"lead_lifecycle_engine/internal/routing"
	"lead_lifecycle_engine/platform/apperr"

	"github.com/google/uuid"
)

// Routing implements routing.Repository.
type Routing struct{ s *Store }

var _ routing.Repository = (*Routing)(nil)

func cloneRule(r routing.Rule) routing.Rule {
	out := r
	out.Conditions = append(out.Conditions[:0:0], r.Conditions...)
	out.Actions = append(out.Actions[:0:0], r.Actions...)
	if r.SLAHours != nil {
		h := *r.SLAHours
		out.SLAHours = &h
	}
	return out
}

func cloneOwner(o routing.Owner) routing.Owner {
	out := o
	out.Roles = append([]string(nil), o.Roles...)
	return out
}

func cloneSLA(st routing.SLAState) routing.SLAState {
	out := st
	out.EscalatedAt = cloneTime(st.EscalatedAt)
	return out
}

func (r *Routing) sortedRules(activeOnly bool) []routing.Rule {
	out := make([]routing.Rule, 0, len(r.s.rules))
	for _, rule := range r.s.rules {
		if !activeOnly || rule.IsActive {
			out = append(out, cloneRule(rule))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (r *Routing) ListActiveRules(context.Context) ([]routing.Rule, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.sortedRules(true), nil
}

func (r *Routing) ListRules(context.Context) ([]routing.Rule, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.sortedRules(false), nil
}

func (r *Routing) GetRule(_ context.Context, id uuid.UUID) (routing.Rule, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rule, ok := r.s.rules[id]
	if !ok {
		return routing.Rule{}, apperr.NotFound("assignment rule not found").WithDetail("ruleId", id.String())
	}
	return cloneRule(rule), nil
}

func (r *Routing) CreateRule(_ context.Context, rule routing.Rule) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.rules[rule.ID] = cloneRule(rule)
	return nil
}

func (r *Routing) UpdateRule(_ context.Context, rule routing.Rule) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.rules[rule.ID]; !ok {
		return apperr.NotFound("assignment rule not found").WithDetail("ruleId", rule.ID.String())
	}
	r.s.rules[rule.ID] = cloneRule(rule)
	return nil
}

func (r *Routing) SetRuleActive(_ context.Context, id uuid.UUID, active bool) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rule, ok := r.s.rules[id]
	if !ok {
		return apperr.NotFound("assignment rule not found").WithDetail("ruleId", id.String())
	}
	rule.IsActive = active
	rule.UpdatedAt = time.Now().UTC()
	r.s.rules[id] = rule
	return nil
}

func (r *Routing) GetOwner(_ context.Context, id uuid.UUID) (routing.Owner, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	o, ok := r.s.owners[id]
	if !ok {
		return routing.Owner{}, apperr.NotFound("owner not found").WithDetail("ownerId", id.String())
	}
	return cloneOwner(o), nil
}

func (r *Routing) ListOwners(_ context.Context, activeOnly bool) ([]routing.Owner, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]routing.Owner, 0, len(r.s.owners))
	for _, o := range r.s.owners {
		if !activeOnly || o.IsActive {
			out = append(out, cloneOwner(o))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (r *Routing) UpsertOwner(_ context.Context, o routing.Owner) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.owners[o.ID] = cloneOwner(o)
	if _, ok := r.s.workloads[o.ID]; !ok {
		r.s.workloads[o.ID] = routing.Workload{OwnerID: o.ID}
	}
	return nil
}

func (r *Routing) ListWorkloads(context.Context) ([]routing.Workload, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]routing.Workload, 0, len(r.s.workloads))
	for _, w := range r.s.workloads {
		w.IdleSince = cloneTime(w.IdleSince)
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OwnerID.String() < out[j].OwnerID.String() })
	return out, nil
}

func (r *Routing) GetCurrentAssignment(_ context.Context, leadID uuid.UUID) (routing.CurrentAssignment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.assignments[leadID]
	if !ok {
		return routing.CurrentAssignment{}, apperr.NotFound("lead is not assigned").WithDetail("leadId", leadID.String())
	}
	a.RuleID = cloneID(a.RuleID)
	return a, nil
}

func (r *Routing) ApplyAssignment(_ context.Context, p routing.ApplyParams) (*uuid.UUID, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.leads[p.LeadID]; !ok {
		return nil, apperr.NotFound("lead not found").WithDetail("leadId", p.LeadID.String())
	}

	var previous *uuid.UUID
	prev, reassigned := r.s.assignments[p.LeadID]
	if reassigned {
		id := prev.OwnerID
		previous = &id
	}

	w := r.s.workloads[p.OwnerID]
	w.OwnerID = p.OwnerID
	if reassigned && prev.OwnerID == p.OwnerID {
		w.Score = max(w.Score-prev.Weight+p.Weight, 0)
	} else {
		if reassigned {
			r.decrementLocked(prev.OwnerID, prev.Weight, p.AssignedAt)
		}
		w.ActiveCount++
		w.Score += p.Weight
	}
	r.s.workloads[p.OwnerID] = w

	r.s.assignments[p.LeadID] = routing.CurrentAssignment{
		LeadID:     p.LeadID,
		OwnerID:    p.OwnerID,
		Weight:     p.Weight,
		Method:     p.Method,
		Reason:     p.Reason,
		RuleID:     cloneID(p.RuleID),
		AssignedAt: p.AssignedAt,
	}
	r.s.slas[p.LeadID] = routing.SLAState{
		LeadID:     p.LeadID,
		OwnerID:    p.OwnerID,
		AssignedAt: p.AssignedAt,
		Deadline:   p.Deadline,
	}
	r.s.history = append(r.s.history, routing.HistoryEntry{
		ID:              uuid.New(),
		LeadID:          p.LeadID,
		OwnerID:         p.OwnerID,
		PreviousOwnerID: cloneID(previous),
		Method:          p.Method,
		Reason:          p.Reason,
		RuleID:          cloneID(p.RuleID),
		Actor:           p.Actor,
		AssignedAt:      p.AssignedAt,
	})
	return previous, nil
}

func (r *Routing) ReleaseAssignment(_ context.Context, leadID uuid.UUID, at time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.assignments[leadID]
	if !ok {
		return false, nil
	}
	r.decrementLocked(a.OwnerID, a.Weight, at)
	delete(r.s.assignments, leadID)
	delete(r.s.slas, leadID)
	return true, nil
}

func (r *Routing) decrementLocked(ownerID uuid.UUID, weight float64, at time.Time) {
	w, ok := r.s.workloads[ownerID]
	if !ok {
		return
	}
	w.ActiveCount = max(w.ActiveCount-1, 0)
	w.Score = max(w.Score-weight, 0)
	idle := at
	w.IdleSince = &idle
	r.s.workloads[ownerID] = w
}

func (r *Routing) ClearSLA(_ context.Context, leadID uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.slas, leadID)
	return nil
}

func (r *Routing) GetSLA(_ context.Context, leadID uuid.UUID) (routing.SLAState, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	st, ok := r.s.slas[leadID]
	if !ok {
		return routing.SLAState{}, apperr.NotFound("sla state not found").WithDetail("leadId", leadID.String())
	}
	return cloneSLA(st), nil
}

func (r *Routing) ListDueSLAs(_ context.Context, now time.Time, limit int) ([]routing.SLAState, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]routing.SLAState, 0)
	for _, st := range r.s.slas {
		if st.EscalatedAt == nil && st.Deadline.Before(now) {
			out = append(out, cloneSLA(st))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Deadline.Before(out[j].Deadline) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *Routing) MarkEscalated(_ context.Context, leadID, ownerID uuid.UUID, at time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	st, ok := r.s.slas[leadID]
	if !ok || st.EscalatedAt != nil || st.OwnerID != ownerID || !st.Deadline.Before(at) {
		return false, nil
	}
	escalated := at
	st.EscalatedAt = &escalated
	st.IsOverdue = true
	r.s.slas[leadID] = st
	return true, nil
}

func (r *Routing) ListHistory(_ context.Context, leadID uuid.UUID) ([]routing.HistoryEntry, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]routing.HistoryEntry, 0)
	for i := len(r.s.history) - 1; i >= 0; i-- {
		h := r.s.history[i]
		if h.LeadID == leadID {
			h.PreviousOwnerID = cloneID(h.PreviousOwnerID)
			h.RuleID = cloneID(h.RuleID)
			out = append(out, h)
		}
	}
	return out, nil
}
