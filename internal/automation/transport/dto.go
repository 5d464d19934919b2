package transport

import (
	"time"

	"lead_lifecycle_engine/internal/lead"

	"github.com/google/uuid"
)

// IntakeLeadRequest carries a lead snapshot pushed by the CRUD collaborator.
type IntakeLeadRequest struct {
	LeadID        *uuid.UUID     `json:"leadId,omitempty"`
	Company       lead.Company   `json:"company"`
	Contact       lead.Contact   `json:"contact"`
	Source        string         `json:"source" validate:"required,max=100"`
	Status        string         `json:"status,omitempty" validate:"omitempty,max=50"`
	Qualification map[string]any `json:"qualification,omitempty"`
	Behavior      lead.Behavior  `json:"behavior"`
	Custom        map[string]any `json:"custom,omitempty"`
}

// Snapshot converts the request into a lead snapshot.
func (r IntakeLeadRequest) Snapshot() lead.Snapshot {
	s := lead.Snapshot{
		Company:       r.Company,
		Contact:       r.Contact,
		Source:        r.Source,
		Status:        r.Status,
		Qualification: r.Qualification,
		Behavior:      r.Behavior,
		Custom:        r.Custom,
	}
	if r.LeadID != nil {
		s.LeadID = *r.LeadID
	}
	return s
}

// SignalRequest raises a named event for a lead.
type SignalRequest struct {
	Event   string         `json:"event" validate:"required,max=100"`
	Payload map[string]any `json:"payload,omitempty"`
}

// AssignRequest triggers assignment; OwnerID forces a manual assignment.
type AssignRequest struct {
	OwnerID *uuid.UUID `json:"ownerId,omitempty"`
}

// ReassignRequest moves a lead to another owner.
type ReassignRequest struct {
	OwnerID uuid.UUID `json:"ownerId" validate:"required"`
	Reason  string    `json:"reason" validate:"required,min=1,max=500"`
}

// OwnerRequest creates or updates an owner.
type OwnerRequest struct {
	Name     string   `json:"name" validate:"required,max=200"`
	Email    string   `json:"email,omitempty" validate:"omitempty,email"`
	Phone    string   `json:"phone,omitempty" validate:"omitempty,max=32"`
	Roles    []string `json:"roles,omitempty" validate:"dive,required"`
	IsActive *bool    `json:"isActive,omitempty"`
}

// ExecuteWorkflowRequest starts a workflow manually.
type ExecuteWorkflowRequest struct {
	LeadID  uuid.UUID      `json:"leadId" validate:"required"`
	Context map[string]any `json:"context,omitempty"`
}

// RespondApprovalRequest records an approver's decision.
type RespondApprovalRequest struct {
	ApproverID string `json:"approverId" validate:"required,max=200"`
	Decision   string `json:"decision" validate:"required,oneof=approved rejected"`
	Reason     string `json:"reason,omitempty" validate:"max=1000"`
}

// SweepRequest optionally pins the sweep's clock.
type SweepRequest struct {
	At *time.Time `json:"at,omitempty"`
}

// ExecutionListQuery filters executions.
type ExecutionListQuery struct {
	WorkflowID string `form:"workflowId" validate:"omitempty,uuid"`
	LeadID     string `form:"leadId" validate:"omitempty,uuid"`
	Status     string `form:"status" validate:"omitempty,oneof=pending running awaiting_approval completed failed cancelled"`
	Limit      int    `form:"limit" validate:"omitempty,min=1,max=500"`
}

// ApprovalListQuery filters approval requests.
type ApprovalListQuery struct {
	LeadID string `form:"leadId" validate:"omitempty,uuid"`
	Status string `form:"status" validate:"omitempty,oneof=pending approved rejected expired"`
	Limit  int    `form:"limit" validate:"omitempty,min=1,max=500"`
}

// LimitQuery bounds a list.
type LimitQuery struct {
	Limit int `form:"limit" validate:"omitempty,min=1,max=500"`
}

// UpdateModelQuery selects in-place edit or a new superseding version.
type UpdateModelQuery struct {
	Supersede bool `form:"supersede"`
}

// ListResponse wraps a list.
type ListResponse[T any] struct {
	Items []T `json:"items"`
	Total int `json:"total"`
}

// NewList builds a ListResponse, never with nil items.
func NewList[T any](items []T) ListResponse[T] {
	if items == nil {
		items = []T{}
	}
	return ListResponse[T]{Items: items, Total: len(items)}
}

// ScheduleResponse is one registered timer.
type ScheduleResponse struct {
	ID         string    `json:"id"`
	Expression string    `json:"expression"`
	NextRun    time.Time `json:"nextRun"`
}

// SweepResponse reports a manual sweep.
type SweepResponse struct {
	Checked   int `json:"checked"`
	Escalated int `json:"escalated,omitempty"`
	Expired   int `json:"expired,omitempty"`
}

// ActiveResponse confirms an activation toggle.
type ActiveResponse struct {
	ID       uuid.UUID `json:"id"`
	IsActive bool      `json:"isActive"`
}
