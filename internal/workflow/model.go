package workflow

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"lead_lifecycle_engine/internal/actions"
	"lead_lifecycle_engine/internal/rules"
	"lead_lifecycle_engine/platform/apperr"
	"lead_lifecycle_engine/platform/cronspec"

	"github.com/google/uuid"
)

// Status is the state of a workflow execution.
type Status string

const (
	StatusPending          Status = "pending"
	StatusRunning          Status = "running"
	StatusAwaitingApproval Status = "awaiting_approval"
	StatusCompleted        Status = "completed"
	StatusFailed           Status = "failed"
	StatusCancelled        Status = "cancelled"
)

// IsTerminal reports whether no further transition is allowed.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// ApprovalStatus is the state of an approval request.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
	ApprovalExpired  ApprovalStatus = "expired"
)

// Decision is a human response to an approval request.
type Decision string

const (
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
)

// Trigger starts a workflow: a named domain event or a cron schedule.
type Trigger struct {
	Event    string `json:"event,omitempty" yaml:"event,omitempty"`
	Schedule string `json:"schedule,omitempty" yaml:"schedule,omitempty" validate:"omitempty,cron"`
}

// IsScheduled reports whether the trigger is a recurring schedule.
func (t Trigger) IsScheduled() bool { return t.Schedule != "" }

var eventNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*(\.[a-z0-9_]+)*$`)

// Validate requires exactly one trigger kind and a parseable schedule.
func (t Trigger) Validate() error {
	event := strings.TrimSpace(t.Event)
	schedule := strings.TrimSpace(t.Schedule)
	switch {
	case event == "" && schedule == "":
		return apperr.Validation("trigger needs an event or a schedule")
	case event != "" && schedule != "":
		return apperr.Validation("trigger cannot have both an event and a schedule")
	case event != "":
		if !eventNamePattern.MatchString(event) {
			return apperr.Validation(fmt.Sprintf("invalid trigger event name %q", event))
		}
	default:
		if _, err := cronspec.Parse(schedule); err != nil {
			return apperr.Wrap(apperr.KindValidation, "invalid schedule expression", err).WithDetail("schedule", schedule)
		}
	}
	return nil
}

// Definition is a trigger -> condition -> action chain.
type Definition struct {
	ID             uuid.UUID         `json:"id"`
	Name           string            `json:"name"`
	Trigger        Trigger           `json:"trigger"`
	Conditions     []rules.Predicate `json:"conditions"`
	Actions        []actions.Spec    `json:"actions"`
	Priority       int               `json:"priority"`
	IsActive       bool              `json:"isActive"`
	ExecutionCount int64             `json:"executionCount"`
	LastExecutedAt *time.Time        `json:"lastExecutedAt,omitempty"`
	CreatedAt      time.Time         `json:"createdAt"`
	UpdatedAt      time.Time         `json:"updatedAt"`
}

// DefinitionInput is the writable part of a definition.
type DefinitionInput struct {
	Name       string            `json:"name" yaml:"name" validate:"required,max=200"`
	Trigger    Trigger           `json:"trigger" yaml:"trigger"`
	Conditions []rules.Predicate `json:"conditions" yaml:"conditions" validate:"dive"`
	Actions    []actions.Spec    `json:"actions" yaml:"actions" validate:"required,min=1"`
	Priority   int               `json:"priority" yaml:"priority"`
	IsActive   *bool             `json:"isActive,omitempty" yaml:"isActive,omitempty"`
}

func (in DefinitionInput) validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return apperr.Validation("workflow name is required")
	}
	if err := in.Trigger.Validate(); err != nil {
		return err
	}
	if err := rules.ValidateAll(in.Conditions); err != nil {
		return err
	}
	return actions.ValidateAll(in.Actions, true)
}

// ActionResult is one entry of an execution's forward-only log.
type ActionResult struct {
	Index      int            `json:"index"`
	Type       actions.Type   `json:"type"`
	Status     string         `json:"status"`
	Output     map[string]any `json:"output,omitempty"`
	Error      string         `json:"error,omitempty"`
	StartedAt  time.Time      `json:"startedAt"`
	FinishedAt time.Time      `json:"finishedAt"`
}

// Action result statuses.
const (
	ResultSucceeded = "succeeded"
	ResultFailed    = "failed"
	ResultSuspended = "suspended"
)

// Execution is a persisted workflow run. Actions is the action list captured
// when the run started and Position the index of the next one to run, so a
// suspended execution resumes in any process even after its definition is
// edited. Version increases on every write and guards concurrent transitions.
type Execution struct {
	ID              uuid.UUID      `json:"id"`
	WorkflowID      uuid.UUID      `json:"workflowId"`
	LeadID          uuid.UUID      `json:"leadId"`
	TriggeredBy     string         `json:"triggeredBy"`
	Status          Status         `json:"status"`
	Context         map[string]any `json:"context"`
	Actions         []actions.Spec `json:"actions"`
	Position        int            `json:"position"`
	ExecutedActions []ActionResult `json:"executedActions"`
	Error           string         `json:"error,omitempty"`
	StartedAt       time.Time      `json:"startedAt"`
	CompletedAt     *time.Time     `json:"completedAt,omitempty"`
	Version         int            `json:"version"`
	UpdatedAt       time.Time      `json:"updatedAt"`
}

// ApprovalRequest gates a suspended execution.
type ApprovalRequest struct {
	ID           uuid.UUID      `json:"id"`
	ExecutionID  uuid.UUID      `json:"workflowExecutionId"`
	LeadID       uuid.UUID      `json:"leadId"`
	RequestedBy  string         `json:"requestedBy"`
	ApproverRole string         `json:"approverRole"`
	Approver     *string        `json:"approver,omitempty"`
	Status       ApprovalStatus `json:"status"`
	RequestData  map[string]any `json:"requestData"`
	Reason       *string        `json:"reason,omitempty"`
	RespondedAt  *time.Time     `json:"respondedAt,omitempty"`
	ExpiresAt    time.Time      `json:"expiresAt"`
	CreatedAt    time.Time      `json:"createdAt"`
}

// Resolution is a conditional approval status change.
type Resolution struct {
	Status   ApprovalStatus
	Approver *string
	Reason   *string
	At       time.Time
}

// ExecutionFilter narrows ListExecutions.
type ExecutionFilter struct {
	WorkflowID *uuid.UUID
	LeadID     *uuid.UUID
	Status     *Status
	Limit      int
}

// ApprovalFilter narrows ListApprovals.
type ApprovalFilter struct {
	Status *ApprovalStatus
	LeadID *uuid.UUID
	Limit  int
}
