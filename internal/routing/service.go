// Package routing assigns leads to owners through prioritised rules with a
// workload-balanced fallback, and tracks first-contact SLA deadlines.
package routing

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"lead_lifecycle_engine/internal/actions"
	"lead_lifecycle_engine/internal/audit"
	"lead_lifecycle_engine/internal/events"
	"lead_lifecycle_engine/internal/lead"
	"lead_lifecycle_engine/internal/locking"
	"lead_lifecycle_engine/internal/rules"
	"lead_lifecycle_engine/platform/apperr"
	"lead_lifecycle_engine/platform/logger"

	"github.com/google/uuid"
)

// Repository persists rules, owners, workloads, assignments and SLA state.
type Repository interface {
	ListActiveRules(ctx context.Context) ([]Rule, error)
	ListRules(ctx context.Context) ([]Rule, error)
	GetRule(ctx context.Context, id uuid.UUID) (Rule, error)
	CreateRule(ctx context.Context, r Rule) error
	UpdateRule(ctx context.Context, r Rule) error
	SetRuleActive(ctx context.Context, id uuid.UUID, active bool) error

	GetOwner(ctx context.Context, id uuid.UUID) (Owner, error)
	ListOwners(ctx context.Context, activeOnly bool) ([]Owner, error)
	UpsertOwner(ctx context.Context, o Owner) error
	ListWorkloads(ctx context.Context) ([]Workload, error)

	GetCurrentAssignment(ctx context.Context, leadID uuid.UUID) (CurrentAssignment, error)
	// ApplyAssignment atomically moves the lead to p.OwnerID: decrements the
	// previous owner's workload, increments the new one, replaces the SLA
	// state and appends history. It returns the previous owner, if any.
	ApplyAssignment(ctx context.Context, p ApplyParams) (*uuid.UUID, error)
	// ReleaseAssignment removes the assignment and SLA state and decrements
	// the owner's workload. released is false when nothing was assigned.
	ReleaseAssignment(ctx context.Context, leadID uuid.UUID, at time.Time) (released bool, err error)
	ClearSLA(ctx context.Context, leadID uuid.UUID) error
	GetSLA(ctx context.Context, leadID uuid.UUID) (SLAState, error)
	ListDueSLAs(ctx context.Context, now time.Time, limit int) ([]SLAState, error)
	// MarkEscalated sets escalatedAt and isOverdue only when escalatedAt is
	// still empty, the state still belongs to ownerID and its deadline is
	// before at. It reports whether this call performed the escalation.
	MarkEscalated(ctx context.Context, leadID, ownerID uuid.UUID, at time.Time) (bool, error)
	ListHistory(ctx context.Context, leadID uuid.UUID) ([]HistoryEntry, error)
}

// EscalationNotifier informs people about an overdue SLA.
type EscalationNotifier interface {
	NotifySLAEscalated(ctx context.Context, owner Owner, state SLAState) error
}

// RuleActionHandler runs the non-assignment actions of a matched rule
// after the assignment is persisted.
type RuleActionHandler interface {
	HandleRuleActions(ctx context.Context, snapshot lead.Snapshot, rule Rule, follow []actions.Action) error
}

// Options tunes the service.
type Options struct {
	DefaultSLAHours int
	SweepBatchSize  int
	Now             func() time.Time
}

// Service is the assignment and routing engine.
type Service struct {
	repo     Repository
	leads    lead.Store
	bus      events.Bus
	audit    audit.Writer
	locker   locking.Locker
	notifier EscalationNotifier
	log      *logger.Logger
	opts     Options

	mu          sync.RWMutex
	rules       []Rule
	rulesLoaded bool
	rulesGen    uint64
	followUps   RuleActionHandler
}

// New creates a routing service.
func New(repo Repository, leads lead.Store, bus events.Bus, auditWriter audit.Writer, locker locking.Locker, notifier EscalationNotifier, log *logger.Logger, opts Options) *Service {
	if opts.DefaultSLAHours <= 0 {
		opts.DefaultSLAHours = 24
	}
	if opts.SweepBatchSize <= 0 {
		opts.SweepBatchSize = 500
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Service{
		repo:     repo,
		leads:    leads,
		bus:      bus,
		audit:    auditWriter,
		locker:   locker,
		notifier: notifier,
		log:      log.WithComponent("routing"),
		opts:     opts,
	}
}

// SetRuleActionHandler wires the engine executing follow-up rule actions.
func (s *Service) SetRuleActionHandler(h RuleActionHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.followUps = h
}

// Assign selects an owner for the lead. A non-nil manualAssignee bypasses
// rule evaluation. Follow-up actions of the matched rule run after the lead
// lock is released.
func (s *Service) Assign(ctx context.Context, leadID uuid.UUID, manualAssignee *uuid.UUID, actor string) (Assignment, error) {
	result, followUp, err := s.assignLocked(ctx, leadID, manualAssignee, actor)
	if err != nil {
		return Assignment{}, err
	}
	if followUp != nil {
		followUp(ctx)
	}
	return result, nil
}

func (s *Service) assignLocked(ctx context.Context, leadID uuid.UUID, manualAssignee *uuid.UUID, actor string) (Assignment, func(context.Context), error) {
	unlock, err := s.locker.Lock(ctx, locking.LeadKey(leadID.String()))
	if err != nil {
		return Assignment{}, nil, err
	}
	defer unlock()

	snapshot, err := s.openSnapshot(ctx, leadID)
	if err != nil {
		return Assignment{}, nil, err
	}

	if manualAssignee != nil {
		owner, err := s.eligibleOwner(ctx, *manualAssignee)
		if err != nil {
			return Assignment{}, nil, err
		}
		result, err := s.apply(ctx, snapshot, owner, MethodManual, ReasonManual, nil, s.opts.DefaultSLAHours, actor)
		return result, nil, err
	}
	return s.assignAutomatically(ctx, snapshot, actor)
}

// AssignWith assigns the lead through a single assignment action, as
// carried by workflow steps and score band actions.
func (s *Service) AssignWith(ctx context.Context, leadID uuid.UUID, action actions.Action, actor string) (Assignment, error) {
	if !actions.IsAssignment(action) {
		return Assignment{}, apperr.Validation(fmt.Sprintf("%s is not an assignment action", action.Type()))
	}
	unlock, err := s.locker.Lock(ctx, locking.LeadKey(leadID.String()))
	if err != nil {
		return Assignment{}, err
	}
	defer unlock()

	snapshot, err := s.openSnapshot(ctx, leadID)
	if err != nil {
		return Assignment{}, err
	}
	owner, found, err := s.resolveOwner(ctx, action)
	if err != nil {
		return Assignment{}, err
	}
	if !found {
		return s.unassigned(ctx, snapshot, fmt.Sprintf("no eligible owner for %s", action.Type()), actor), nil
	}
	return s.apply(ctx, snapshot, owner, MethodAction, fmt.Sprintf("Action %s", action.Type()), nil, s.opts.DefaultSLAHours, actor)
}

func (s *Service) assignAutomatically(ctx context.Context, snapshot lead.Snapshot, actor string) (Assignment, func(context.Context), error) {
	activeRules, err := s.activeRules(ctx)
	if err != nil {
		return Assignment{}, nil, err
	}

	doc := snapshot.Document()
	for _, rule := range activeRules {
		if !rules.EvaluateAll(rule.Conditions, doc) {
			continue
		}

		// First full match wins. Its assignment actions are tried in order
		// until one resolves an owner; the rest run after persistence.
		var (
			owner  Owner
			found  bool
			follow []actions.Action
		)
		for _, spec := range rule.Actions {
			if !actions.IsAssignment(spec.Action) {
				follow = append(follow, spec.Action)
				continue
			}
			if found {
				continue
			}
			owner, found, err = s.resolveOwner(ctx, spec.Action)
			if err != nil {
				return Assignment{}, nil, err
			}
		}

		slaHours := s.opts.DefaultSLAHours
		if rule.SLAHours != nil {
			slaHours = *rule.SLAHours
		}

		var result Assignment
		if found {
			ruleID := rule.ID
			result, err = s.apply(ctx, snapshot, owner, MethodRule, rule.Name, &ruleID, slaHours, actor)
		} else {
			result, err = s.balance(ctx, snapshot, fmt.Sprintf("Workload balance (rule %q had no eligible owner)", rule.Name), slaHours, actor)
		}
		if err != nil {
			return Assignment{}, nil, err
		}
		result.RuleName = rule.Name
		return result, func(ctx context.Context) { s.runFollowUps(ctx, snapshot, result, rule, follow) }, nil
	}

	result, err := s.balance(ctx, snapshot, "Workload balance", s.opts.DefaultSLAHours, actor)
	return result, nil, err
}

func (s *Service) runFollowUps(ctx context.Context, snapshot lead.Snapshot, result Assignment, rule Rule, follow []actions.Action) {
	s.mu.RLock()
	handler := s.followUps
	s.mu.RUnlock()
	if handler == nil || len(follow) == 0 {
		return
	}
	if result.OwnerID != nil {
		snapshot = snapshot.WithAssignee(result.OwnerID)
	}
	if err := handler.HandleRuleActions(ctx, snapshot, rule, follow); err != nil {
		s.log.Error("rule follow-up actions failed", "ruleId", rule.ID, "leadId", snapshot.LeadID, "error", err)
	}
}

func (s *Service) balance(ctx context.Context, snapshot lead.Snapshot, reason string, slaHours int, actor string) (Assignment, error) {
	owner, found, err := s.leastLoaded(ctx, "")
	if err != nil {
		return Assignment{}, err
	}
	if !found {
		return s.unassigned(ctx, snapshot, "no eligible owner", actor), nil
	}
	return s.apply(ctx, snapshot, owner, MethodWorkloadBalance, reason, nil, slaHours, actor)
}

// Reassign moves the lead to newOwner. A reason is mandatory.
func (s *Service) Reassign(ctx context.Context, leadID, newOwner uuid.UUID, reason, actor string) (Assignment, error) {
	if strings.TrimSpace(reason) == "" {
		return Assignment{}, apperr.Validation("reassignment reason is required").WithDetail("leadId", leadID.String())
	}
	unlock, err := s.locker.Lock(ctx, locking.LeadKey(leadID.String()))
	if err != nil {
		return Assignment{}, err
	}
	defer unlock()

	snapshot, err := s.openSnapshot(ctx, leadID)
	if err != nil {
		return Assignment{}, err
	}
	owner, err := s.eligibleOwner(ctx, newOwner)
	if err != nil {
		return Assignment{}, err
	}
	return s.apply(ctx, snapshot, owner, MethodReassign, reason, nil, s.opts.DefaultSLAHours, actor)
}

// Release frees the lead's owner and clears its SLA, used on lead closure.
func (s *Service) Release(ctx context.Context, leadID uuid.UUID, actor string) error {
	unlock, err := s.locker.Lock(ctx, locking.LeadKey(leadID.String()))
	if err != nil {
		return err
	}
	defer unlock()

	released, err := s.repo.ReleaseAssignment(ctx, leadID, s.opts.Now())
	if err != nil {
		return err
	}
	if released {
		s.writeAudit(ctx, audit.EntityAssignment, leadID, leadID, "assignment_released", actor, nil)
	}
	return nil
}

// RecordFirstContact stops the SLA clock for the lead.
func (s *Service) RecordFirstContact(ctx context.Context, leadID uuid.UUID, actor string) error {
	unlock, err := s.locker.Lock(ctx, locking.LeadKey(leadID.String()))
	if err != nil {
		return err
	}
	defer unlock()

	if _, err := s.repo.GetSLA(ctx, leadID); err != nil {
		return err
	}
	if err := s.repo.ClearSLA(ctx, leadID); err != nil {
		return err
	}
	s.writeAudit(ctx, audit.EntitySLA, leadID, leadID, "first_contact_recorded", actor, nil)
	return nil
}

func (s *Service) openSnapshot(ctx context.Context, leadID uuid.UUID) (lead.Snapshot, error) {
	snapshot, err := s.leads.GetSnapshot(ctx, leadID)
	if err != nil {
		return lead.Snapshot{}, err
	}
	if snapshot.IsClosed() {
		return lead.Snapshot{}, apperr.Conflict("lead is closed").
			WithDetail("leadId", leadID.String()).
			WithDetail("status", snapshot.Status)
	}
	return snapshot, nil
}

func (s *Service) eligibleOwner(ctx context.Context, id uuid.UUID) (Owner, error) {
	owner, err := s.repo.GetOwner(ctx, id)
	if err != nil {
		return Owner{}, err
	}
	if !owner.IsActive {
		return Owner{}, apperr.Validation("owner is inactive").WithDetail("ownerId", id.String())
	}
	return owner, nil
}

// apply persists the assignment and its SLA and publishes LeadAssigned.
func (s *Service) apply(ctx context.Context, snapshot lead.Snapshot, owner Owner, method Method, reason string, ruleID *uuid.UUID, slaHours int, actor string) (Assignment, error) {
	now := s.opts.Now()
	deadline := now.Add(time.Duration(slaHours) * time.Hour)

	weight := LeadWeight(0)
	if snapshot.Score != nil {
		weight = LeadWeight(snapshot.Score.Value)
	}

	previous, err := s.repo.ApplyAssignment(ctx, ApplyParams{
		LeadID:     snapshot.LeadID,
		OwnerID:    owner.ID,
		Weight:     weight,
		Method:     method,
		Reason:     reason,
		RuleID:     ruleID,
		Actor:      actor,
		AssignedAt: now,
		Deadline:   deadline,
	})
	if err != nil {
		return Assignment{}, err
	}

	ownerID := owner.ID
	result := Assignment{
		LeadID:          snapshot.LeadID,
		OwnerID:         &ownerID,
		PreviousOwnerID: previous,
		Method:          method,
		Reason:          reason,
		RuleID:          ruleID,
		SLADeadline:     &deadline,
		AssignedAt:      now,
	}

	from := ""
	if previous != nil {
		from = previous.String()
	}
	s.log.StateTransition("lead_assignment", snapshot.LeadID.String(), from, owner.ID.String())
	details := map[string]any{
		"ownerId":     owner.ID.String(),
		"method":      string(method),
		"reason":      reason,
		"slaDeadline": deadline,
		"slaHours":    slaHours,
	}
	if previous != nil {
		details["previousOwnerId"] = previous.String()
	}
	if ruleID != nil {
		details["ruleId"] = ruleID.String()
	}
	s.writeAudit(ctx, audit.EntityAssignment, snapshot.LeadID, snapshot.LeadID, "lead_assigned", actor, details)

	s.bus.Publish(ctx, events.LeadAssigned{
		BaseEvent:       events.NewBaseEvent(),
		LeadID:          snapshot.LeadID,
		OwnerID:         owner.ID,
		PreviousOwnerID: previous,
		Method:          string(method),
		Reason:          reason,
		RuleID:          ruleID,
		SLADeadline:     deadline,
	})
	return result, nil
}

func (s *Service) unassigned(ctx context.Context, snapshot lead.Snapshot, reason, actor string) Assignment {
	s.log.Warn("lead unassignable", "leadId", snapshot.LeadID, "reason", reason)
	s.writeAudit(ctx, audit.EntityAssignment, snapshot.LeadID, snapshot.LeadID, "lead_unassignable", actor, map[string]any{"reason": reason})
	s.bus.Publish(ctx, events.LeadUnassignable{
		BaseEvent: events.NewBaseEvent(),
		LeadID:    snapshot.LeadID,
		Reason:    reason,
	})
	return Assignment{
		LeadID:     snapshot.LeadID,
		Reason:     reason,
		AssignedAt: s.opts.Now(),
		Unassigned: true,
	}
}

func (s *Service) writeAudit(ctx context.Context, entity string, entityID, leadID uuid.UUID, action, actor string, details map[string]any) {
	entry := audit.NewEntry(entity, entityID, &leadID, action, actor, details)
	if err := s.audit.Write(ctx, entry); err != nil {
		s.log.Error("audit write failed", "entity", entity, "leadId", leadID, "error", err)
	}
}

// GetCurrentAssignment returns the persisted owner of the lead.
func (s *Service) GetCurrentAssignment(ctx context.Context, leadID uuid.UUID) (CurrentAssignment, error) {
	return s.repo.GetCurrentAssignment(ctx, leadID)
}

// GetSLA returns the lead's SLA state.
func (s *Service) GetSLA(ctx context.Context, leadID uuid.UUID) (SLAState, error) {
	return s.repo.GetSLA(ctx, leadID)
}

// History lists the lead's assignments, newest first.
func (s *Service) History(ctx context.Context, leadID uuid.UUID) ([]HistoryEntry, error) {
	return s.repo.ListHistory(ctx, leadID)
}
