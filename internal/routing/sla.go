package routing

import (
	"context"
	"time"

	"lead_lifecycle_engine/internal/audit"
	"lead_lifecycle_engine/internal/events"
	"lead_lifecycle_engine/internal/locking"
	"lead_lifecycle_engine/platform/apperr"
)

// SweepResult summarises one SLA sweep.
type SweepResult struct {
	Checked   int `json:"checked"`
	Escalated int `json:"escalated"`
}

// SweepSLA escalates every SLA whose deadline passed before now. A state is
// escalated at most once; re-running the sweep is a no-op for it.
func (s *Service) SweepSLA(ctx context.Context, now time.Time) (SweepResult, error) {
	due, err := s.repo.ListDueSLAs(ctx, now, s.opts.SweepBatchSize)
	if err != nil {
		return SweepResult{}, err
	}

	result := SweepResult{Checked: len(due)}
	for _, state := range due {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		escalated, err := s.escalate(ctx, state, now)
		if err != nil {
			s.log.Error("sla escalation failed", "leadId", state.LeadID, "error", err)
			continue
		}
		if escalated {
			result.Escalated++
		}
	}
	if result.Escalated > 0 {
		s.log.Info("sla sweep escalated leads", "checked", result.Checked, "escalated", result.Escalated)
	}
	return result, nil
}

// escalate re-reads the state under the lead lock; a reassignment or first
// contact between the listing and the lock leaves nothing to escalate.
func (s *Service) escalate(ctx context.Context, listed SLAState, now time.Time) (bool, error) {
	unlock, err := s.locker.Lock(ctx, locking.LeadKey(listed.LeadID.String()))
	if err != nil {
		return false, err
	}
	defer unlock()

	state, err := s.repo.GetSLA(ctx, listed.LeadID)
	if apperr.Is(err, apperr.KindNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if state.EscalatedAt != nil || state.OwnerID != listed.OwnerID || !state.Deadline.Before(now) {
		return false, nil
	}

	marked, err := s.repo.MarkEscalated(ctx, state.LeadID, state.OwnerID, now)
	if err != nil || !marked {
		return false, err
	}

	state.IsOverdue = true
	state.EscalatedAt = &now
	s.log.StateTransition("sla_state", state.LeadID.String(), "open", "escalated")
	s.writeAudit(ctx, audit.EntitySLA, state.LeadID, state.LeadID, "sla_escalated", audit.ActorSystem, map[string]any{
		"ownerId":     state.OwnerID.String(),
		"slaDeadline": state.Deadline,
	})

	s.bus.Publish(ctx, events.SLAEscalated{
		BaseEvent:   events.NewBaseEvent(),
		LeadID:      state.LeadID,
		OwnerID:     state.OwnerID,
		Deadline:    state.Deadline,
		EscalatedAt: now,
	})

	if s.notifier != nil {
		owner, err := s.repo.GetOwner(ctx, state.OwnerID)
		if err != nil {
			s.log.Error("escalation owner lookup failed", "ownerId", state.OwnerID, "error", err)
			return true, nil
		}
		if err := s.notifier.NotifySLAEscalated(ctx, owner, state); err != nil {
			s.log.Error("escalation notification failed", "leadId", state.LeadID, "error", err)
		}
	}
	return true, nil
}

// OverdueSLAs lists SLA states past their deadline that have not been
// escalated yet, oldest deadline first.
func (s *Service) OverdueSLAs(ctx context.Context, now time.Time, limit int) ([]SLAState, error) {
	return s.repo.ListDueSLAs(ctx, now, limit)
}
