// Package events provides domain event definitions for decoupled,
// event-driven communication between engine components.
// Infrastructure (Bus, Handler) is in platform/events.
package events

import (
	"context"
	"time"

	"lead_lifecycle_engine/platform/events"

	"github.com/google/uuid"
)

// Re-export platform types for convenience
type (
	Event       = events.Event
	Bus         = events.Bus
	Handler     = events.Handler
	HandlerFunc = events.HandlerFunc
	BaseEvent   = events.BaseEvent
)

// Re-export platform functions
var NewBaseEvent = events.NewBaseEvent

// LeadEvent is an event about a single lead. Only lead events can trigger
// workflow definitions.
type LeadEvent interface {
	Event
	LeadRef() uuid.UUID
}

// MaxTriggerDepth bounds event -> workflow -> event chains.
const MaxTriggerDepth = 5

type depthKey struct{}

// WithDepth records how many workflow hops produced the current context.
func WithDepth(ctx context.Context, depth int) context.Context {
	return context.WithValue(ctx, depthKey{}, depth)
}

// Depth returns the trigger depth stored in ctx, zero when absent.
func Depth(ctx context.Context) int {
	if d, ok := ctx.Value(depthKey{}).(int); ok {
		return d
	}
	return 0
}

// =============================================================================
// Lead Domain Events
// =============================================================================

// LeadCreated is published by the lead CRUD collaborator after insert.
type LeadCreated struct {
	BaseEvent
	LeadID uuid.UUID `json:"leadId"`
	Source string    `json:"source"`
}

func (e LeadCreated) EventName() string  { return "lead.created" }
func (e LeadCreated) LeadRef() uuid.UUID { return e.LeadID }

// LeadUpdated is published when lead fields change.
type LeadUpdated struct {
	BaseEvent
	LeadID        uuid.UUID `json:"leadId"`
	ChangedFields []string  `json:"changedFields,omitempty"`
}

func (e LeadUpdated) EventName() string  { return "lead.updated" }
func (e LeadUpdated) LeadRef() uuid.UUID { return e.LeadID }

// LeadClosed is published when a lead is won or lost.
type LeadClosed struct {
	BaseEvent
	LeadID uuid.UUID `json:"leadId"`
	Status string    `json:"status"`
}

func (e LeadClosed) EventName() string  { return "lead.closed" }
func (e LeadClosed) LeadRef() uuid.UUID { return e.LeadID }

// ScoreBandChanged is published when a recalculation moves a lead across bands.
type ScoreBandChanged struct {
	BaseEvent
	LeadID       uuid.UUID `json:"leadId"`
	ModelID      uuid.UUID `json:"modelId"`
	PreviousBand string    `json:"previousBand,omitempty"`
	Band         string    `json:"band"`
	Score        int       `json:"score"`
}

func (e ScoreBandChanged) EventName() string  { return "lead.score_band_changed" }
func (e ScoreBandChanged) LeadRef() uuid.UUID { return e.LeadID }

// LeadAssigned is published after an assignment is persisted.
type LeadAssigned struct {
	BaseEvent
	LeadID          uuid.UUID  `json:"leadId"`
	OwnerID         uuid.UUID  `json:"ownerId"`
	PreviousOwnerID *uuid.UUID `json:"previousOwnerId,omitempty"`
	Method          string     `json:"method"`
	Reason          string     `json:"reason"`
	RuleID          *uuid.UUID `json:"ruleId,omitempty"`
	SLADeadline     time.Time  `json:"slaDeadline"`
}

func (e LeadAssigned) EventName() string  { return "lead.assigned" }
func (e LeadAssigned) LeadRef() uuid.UUID { return e.LeadID }

// LeadUnassignable is published when no eligible owner exists.
type LeadUnassignable struct {
	BaseEvent
	LeadID uuid.UUID `json:"leadId"`
	Reason string    `json:"reason"`
}

func (e LeadUnassignable) EventName() string  { return "lead.unassignable" }
func (e LeadUnassignable) LeadRef() uuid.UUID { return e.LeadID }

// SLAEscalated is published once per overdue SLA.
type SLAEscalated struct {
	BaseEvent
	LeadID      uuid.UUID `json:"leadId"`
	OwnerID     uuid.UUID `json:"ownerId"`
	Deadline    time.Time `json:"deadline"`
	EscalatedAt time.Time `json:"escalatedAt"`
}

func (e SLAEscalated) EventName() string  { return "lead.sla_escalated" }
func (e SLAEscalated) LeadRef() uuid.UUID { return e.LeadID }

// LeadSignal is a lead event raised by an external collaborator under its
// own name, e.g. "lead.demo_booked".
type LeadSignal struct {
	BaseEvent
	Name    string         `json:"name"`
	LeadID  uuid.UUID      `json:"leadId"`
	Payload map[string]any `json:"payload,omitempty"`
}

func (e LeadSignal) EventName() string  { return e.Name }
func (e LeadSignal) LeadRef() uuid.UUID { return e.LeadID }

// =============================================================================
// Workflow Domain Events
// =============================================================================

// WorkflowExecutionCompleted is published when the last action succeeded.
type WorkflowExecutionCompleted struct {
	BaseEvent
	ExecutionID uuid.UUID `json:"executionId"`
	WorkflowID  uuid.UUID `json:"workflowId"`
	LeadID      uuid.UUID `json:"leadId"`
}

func (e WorkflowExecutionCompleted) EventName() string  { return "workflow.execution.completed" }
func (e WorkflowExecutionCompleted) LeadRef() uuid.UUID { return e.LeadID }

// WorkflowExecutionFailed is published when an action failed.
type WorkflowExecutionFailed struct {
	BaseEvent
	ExecutionID uuid.UUID `json:"executionId"`
	WorkflowID  uuid.UUID `json:"workflowId"`
	LeadID      uuid.UUID `json:"leadId"`
	Error       string    `json:"error"`
}

func (e WorkflowExecutionFailed) EventName() string  { return "workflow.execution.failed" }
func (e WorkflowExecutionFailed) LeadRef() uuid.UUID { return e.LeadID }

// ApprovalRequested is published when an execution suspends for approval.
type ApprovalRequested struct {
	BaseEvent
	ApprovalID   uuid.UUID `json:"approvalId"`
	ExecutionID  uuid.UUID `json:"executionId"`
	LeadID       uuid.UUID `json:"leadId"`
	ApproverRole string    `json:"approverRole"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

func (e ApprovalRequested) EventName() string  { return "approval.requested" }
func (e ApprovalRequested) LeadRef() uuid.UUID { return e.LeadID }

// ApprovalResolved is published on approve, reject or expiry.
type ApprovalResolved struct {
	BaseEvent
	ApprovalID  uuid.UUID `json:"approvalId"`
	ExecutionID uuid.UUID `json:"executionId"`
	LeadID      uuid.UUID `json:"leadId"`
	Status      string    `json:"status"`
}

func (e ApprovalResolved) EventName() string  { return "approval.resolved" }
func (e ApprovalResolved) LeadRef() uuid.UUID { return e.LeadID }

// LeadEventNames lists every event name that can trigger workflows.
var LeadEventNames = []string{
	LeadCreated{}.EventName(),
	LeadUpdated{}.EventName(),
	LeadClosed{}.EventName(),
	ScoreBandChanged{}.EventName(),
	LeadAssigned{}.EventName(),
	LeadUnassignable{}.EventName(),
	SLAEscalated{}.EventName(),
	WorkflowExecutionCompleted{}.EventName(),
	WorkflowExecutionFailed{}.EventName(),
	ApprovalRequested{}.EventName(),
	ApprovalResolved{}.EventName(),
}
