package routing

import (
	"slices"
	"strings"
	"time"

	"lead_lifecycle_engine/internal/actions"
	"lead_lifecycle_engine/internal/rules"
	"lead_lifecycle_engine/platform/apperr"

	"github.com/google/uuid"
)

// Method records how an owner was chosen.
type Method string

const (
	MethodManual          Method = "manual"
	MethodRule            Method = "rule"
	MethodWorkloadBalance Method = "workload_balance"
	MethodReassign        Method = "reassign"
	MethodAction          Method = "action"
)

// ReasonManual is the fixed reason of the manual path.
const ReasonManual = "Manual assignment"

// Owner is a user leads can be assigned to.
type Owner struct {
	ID       uuid.UUID `json:"id" yaml:"id"`
	Name     string    `json:"name" yaml:"name"`
	Email    string    `json:"email" yaml:"email"`
	Phone    string    `json:"phone" yaml:"phone"`
	Roles    []string  `json:"roles" yaml:"roles"`
	IsActive bool      `json:"isActive" yaml:"isActive"`
}

// HasRole reports whether the owner belongs to role. An empty role matches.
func (o Owner) HasRole(role string) bool {
	if role == "" {
		return true
	}
	return slices.ContainsFunc(o.Roles, func(r string) bool { return strings.EqualFold(r, role) })
}

// Workload is the live burden of an owner. Score sums the weight of every
// active lead, where weight is 1 + leadScore/100.
type Workload struct {
	OwnerID     uuid.UUID  `json:"ownerId"`
	ActiveCount int        `json:"activeCount"`
	Score       float64    `json:"workloadScore"`
	IdleSince   *time.Time `json:"idleSince,omitempty"`
}

// LeadWeight is the workload contribution of a lead with the given score.
func LeadWeight(score int) float64 {
	return 1 + float64(score)/100
}

// Rule is a prioritised assignment rule. Lower priority values run first.
type Rule struct {
	ID         uuid.UUID         `json:"id"`
	Name       string            `json:"name"`
	Priority   int               `json:"priority"`
	Conditions []rules.Predicate `json:"conditions"`
	Actions    []actions.Spec    `json:"actions"`
	SLAHours   *int              `json:"slaHours,omitempty"`
	IsActive   bool              `json:"isActive"`
	CreatedAt  time.Time         `json:"createdAt"`
	UpdatedAt  time.Time         `json:"updatedAt"`
}

// RuleInput is the writable part of a rule.
type RuleInput struct {
	Name       string            `json:"name" yaml:"name" validate:"required,max=200"`
	Priority   int               `json:"priority" yaml:"priority" validate:"gte=0"`
	Conditions []rules.Predicate `json:"conditions" yaml:"conditions" validate:"dive"`
	Actions    []actions.Spec    `json:"actions" yaml:"actions" validate:"required,min=1"`
	SLAHours   *int              `json:"slaHours,omitempty" yaml:"slaHours,omitempty" validate:"omitempty,gt=0"`
	IsActive   *bool             `json:"isActive,omitempty" yaml:"isActive,omitempty"`
}

func (in RuleInput) validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return apperr.Validation("rule name is required")
	}
	if in.SLAHours != nil && *in.SLAHours <= 0 {
		return apperr.Validation("slaHours must be positive")
	}
	if err := rules.ValidateAll(in.Conditions); err != nil {
		return err
	}
	return actions.ValidateAll(in.Actions, true)
}

// SLAState tracks the first-contact deadline of an assigned lead.
type SLAState struct {
	LeadID      uuid.UUID  `json:"leadId"`
	OwnerID     uuid.UUID  `json:"ownerId"`
	AssignedAt  time.Time  `json:"assignedAt"`
	Deadline    time.Time  `json:"slaDeadline"`
	IsOverdue   bool       `json:"isOverdue"`
	EscalatedAt *time.Time `json:"escalatedAt,omitempty"`
}

// CurrentAssignment is the persisted owner of a lead.
type CurrentAssignment struct {
	LeadID     uuid.UUID  `json:"leadId"`
	OwnerID    uuid.UUID  `json:"ownerId"`
	Weight     float64    `json:"weight"`
	Method     Method     `json:"method"`
	Reason     string     `json:"reason"`
	RuleID     *uuid.UUID `json:"ruleId,omitempty"`
	AssignedAt time.Time  `json:"assignedAt"`
}

// Assignment is the outcome of Assign or Reassign. Unassigned is a valid
// terminal result, not an error: no owner was eligible and no SLA started.
type Assignment struct {
	LeadID          uuid.UUID  `json:"leadId"`
	OwnerID         *uuid.UUID `json:"ownerId,omitempty"`
	PreviousOwnerID *uuid.UUID `json:"previousOwnerId,omitempty"`
	Method          Method     `json:"method,omitempty"`
	Reason          string     `json:"reason"`
	RuleID          *uuid.UUID `json:"ruleId,omitempty"`
	RuleName        string     `json:"ruleName,omitempty"`
	SLADeadline     *time.Time `json:"slaDeadline,omitempty"`
	AssignedAt      time.Time  `json:"assignedAt"`
	Unassigned      bool       `json:"unassigned"`
}

// HistoryEntry is one persisted assignment.
type HistoryEntry struct {
	ID              uuid.UUID  `json:"id"`
	LeadID          uuid.UUID  `json:"leadId"`
	OwnerID         uuid.UUID  `json:"ownerId"`
	PreviousOwnerID *uuid.UUID `json:"previousOwnerId,omitempty"`
	Method          Method     `json:"method"`
	Reason          string     `json:"reason"`
	RuleID          *uuid.UUID `json:"ruleId,omitempty"`
	Actor           string     `json:"actor"`
	AssignedAt      time.Time  `json:"assignedAt"`
}

// ApplyParams is everything ApplyAssignment writes in one transaction.
type ApplyParams struct {
	LeadID     uuid.UUID
	OwnerID    uuid.UUID
	Weight     float64
	Method     Method
	Reason     string
	RuleID     *uuid.UUID
	Actor      string
	AssignedAt time.Time
	Deadline   time.Time
}
