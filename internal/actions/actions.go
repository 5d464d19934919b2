// Package actions defines the closed set of actions assignment rules, score
// bands and workflow definitions can carry. Each variant owns its typed
// parameters; consumers dispatch with an exhaustive type switch.
package actions

import (
	"encoding/json"
	"fmt"
	"strings"

	"lead_lifecycle_engine/platform/apperr"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Type identifies an action variant on the wire.
type Type string

const (
	TypeAssignToUser        Type = "assign_to_user"
	TypeAssignToRole        Type = "assign_to_role"
	TypeAssignToLeastLoaded Type = "assign_to_least_loaded"
	TypeRequestApproval     Type = "request_approval"
	TypeRecalculateScore    Type = "recalculate_score"
	TypeSendNotification    Type = "send_notification"
	TypeUpdateLeadStatus    Type = "update_lead_status"
	TypeTriggerWorkflow     Type = "trigger_workflow"
)

// Action is implemented only by the variants in this package.
type Action interface {
	Type() Type
	Validate() error
	isAction()
}

// AssignToUser assigns the lead to a specific owner.
type AssignToUser struct {
	UserID uuid.UUID `json:"userId" yaml:"userId"`
}

// AssignToRole assigns the least loaded eligible owner holding Role.
type AssignToRole struct {
	Role string `json:"role" yaml:"role"`
}

// AssignToLeastLoaded balances across every eligible owner, optionally
// restricted to Role.
type AssignToLeastLoaded struct {
	Role string `json:"role,omitempty" yaml:"role,omitempty"`
}

// RequestApproval suspends a workflow execution until an approver decides.
type RequestApproval struct {
	ApproverRole string `json:"approverRole" yaml:"approverRole"`
	Reason       string `json:"reason,omitempty" yaml:"reason,omitempty"`
	ExpiresHours int    `json:"expiresHours,omitempty" yaml:"expiresHours,omitempty"`
}

// RecalculateScore rescores the lead against the active model.
type RecalculateScore struct{}

// Notification channels.
const (
	ChannelEmail = "email"
	ChannelSMS   = "sms"
)

// RecipientOwner addresses the lead's current owner.
const RecipientOwner = "owner"

// SendNotification queues a message on the notification outbox.
type SendNotification struct {
	Channel   string `json:"channel" yaml:"channel"`
	Recipient string `json:"recipient" yaml:"recipient"`
	Subject   string `json:"subject,omitempty" yaml:"subject,omitempty"`
	Message   string `json:"message" yaml:"message"`
}

// UpdateLeadStatus moves the lead to Status through the lead store.
type UpdateLeadStatus struct {
	Status string `json:"status" yaml:"status"`
}

// TriggerWorkflow starts another workflow for the same lead.
type TriggerWorkflow struct {
	WorkflowID uuid.UUID `json:"workflowId" yaml:"workflowId"`
}

func (AssignToUser) Type() Type        { return TypeAssignToUser }
func (AssignToRole) Type() Type        { return TypeAssignToRole }
func (AssignToLeastLoaded) Type() Type { return TypeAssignToLeastLoaded }
func (RequestApproval) Type() Type     { return TypeRequestApproval }
func (RecalculateScore) Type() Type    { return TypeRecalculateScore }
func (SendNotification) Type() Type    { return TypeSendNotification }
func (UpdateLeadStatus) Type() Type    { return TypeUpdateLeadStatus }
func (TriggerWorkflow) Type() Type     { return TypeTriggerWorkflow }

func (AssignToUser) isAction()        {}
func (AssignToRole) isAction()        {}
func (AssignToLeastLoaded) isAction() {}
func (RequestApproval) isAction()     {}
func (RecalculateScore) isAction()    {}
func (SendNotification) isAction()    {}
func (UpdateLeadStatus) isAction()    {}
func (TriggerWorkflow) isAction()     {}

func (a AssignToUser) Validate() error {
	if a.UserID == uuid.Nil {
		return invalid(a, "userId is required")
	}
	return nil
}

func (a AssignToRole) Validate() error {
	if strings.TrimSpace(a.Role) == "" {
		return invalid(a, "role is required")
	}
	return nil
}

func (AssignToLeastLoaded) Validate() error { return nil }

func (a RequestApproval) Validate() error {
	if strings.TrimSpace(a.ApproverRole) == "" {
		return invalid(a, "approverRole is required")
	}
	if a.ExpiresHours < 0 {
		return invalid(a, "expiresHours must not be negative")
	}
	return nil
}

func (RecalculateScore) Validate() error { return nil }

func (a SendNotification) Validate() error {
	if a.Channel != ChannelEmail && a.Channel != ChannelSMS {
		return invalid(a, "channel must be email or sms")
	}
	if strings.TrimSpace(a.Recipient) == "" {
		return invalid(a, "recipient is required")
	}
	if strings.TrimSpace(a.Message) == "" {
		return invalid(a, "message is required")
	}
	return nil
}

func (a UpdateLeadStatus) Validate() error {
	if strings.TrimSpace(a.Status) == "" {
		return invalid(a, "status is required")
	}
	return nil
}

func (a TriggerWorkflow) Validate() error {
	if a.WorkflowID == uuid.Nil {
		return invalid(a, "workflowId is required")
	}
	return nil
}

// IsAssignment reports whether a resolves a lead owner.
func IsAssignment(a Action) bool {
	switch a.(type) {
	case AssignToUser, AssignToRole, AssignToLeastLoaded:
		return true
	default:
		return false
	}
}

func invalid(a Action, msg string) error {
	return apperr.Validation(fmt.Sprintf("%s: %s", a.Type(), msg)).WithDetail("actionType", string(a.Type()))
}

// Spec is the serialisable wrapper stored with rules, bands and workflows:
// {"type": "...", "params": {...}}.
type Spec struct {
	Action Action
}

// Of wraps an action.
func Of(a Action) Spec { return Spec{Action: a} }

// Specs wraps a list of actions.
func Specs(list ...Action) []Spec {
	out := make([]Spec, len(list))
	for i, a := range list {
		out[i] = Spec{Action: a}
	}
	return out
}

// Validate checks the wrapped action.
func (s Spec) Validate() error {
	if s.Action == nil {
		return apperr.Validation("action is required")
	}
	return s.Action.Validate()
}

// ValidateAll validates a list of specs; an empty list is rejected when
// required is set.
func ValidateAll(specs []Spec, required bool) error {
	if required && len(specs) == 0 {
		return apperr.Validation("at least one action is required")
	}
	for i, s := range specs {
		if err := s.Validate(); err != nil {
			return apperr.Wrap(apperr.KindValidation, fmt.Sprintf("action %d invalid", i), err)
		}
	}
	return nil
}

type envelope struct {
	Type   Type            `json:"type"`
	Params json.RawMessage `json:"params,omitempty"`
}

func (s Spec) MarshalJSON() ([]byte, error) {
	if s.Action == nil {
		return []byte("null"), nil
	}
	params, err := json.Marshal(s.Action)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Type: s.Action.Type(), Params: params})
}

func (s *Spec) UnmarshalJSON(data []byte) error {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	a, err := newVariant(env.Type)
	if err != nil {
		return err
	}
	if len(env.Params) > 0 && string(env.Params) != "null" {
		if err := json.Unmarshal(env.Params, a); err != nil {
			return apperr.Wrap(apperr.KindValidation, fmt.Sprintf("%s: invalid params", env.Type), err)
		}
	}
	s.Action = deref(a)
	return nil
}

// UnmarshalYAML decodes the same envelope from seed files.
func (s *Spec) UnmarshalYAML(node *yaml.Node) error {
	var env struct {
		Type   Type      `yaml:"type"`
		Params yaml.Node `yaml:"params"`
	}
	if err := node.Decode(&env); err != nil {
		return err
	}
	a, err := newVariant(env.Type)
	if err != nil {
		return err
	}
	if env.Params.Kind != 0 {
		if err := env.Params.Decode(a); err != nil {
			return apperr.Wrap(apperr.KindValidation, fmt.Sprintf("%s: invalid params", env.Type), err)
		}
	}
	s.Action = deref(a)
	return nil
}

func newVariant(t Type) (any, error) {
	switch t {
	case TypeAssignToUser:
		return &AssignToUser{}, nil
	case TypeAssignToRole:
		return &AssignToRole{}, nil
	case TypeAssignToLeastLoaded:
		return &AssignToLeastLoaded{}, nil
	case TypeRequestApproval:
		return &RequestApproval{}, nil
	case TypeRecalculateScore:
		return &RecalculateScore{}, nil
	case TypeSendNotification:
		return &SendNotification{}, nil
	case TypeUpdateLeadStatus:
		return &UpdateLeadStatus{}, nil
	case TypeTriggerWorkflow:
		return &TriggerWorkflow{}, nil
	default:
		return nil, apperr.Validation(fmt.Sprintf("unknown action type %q", t))
	}
}

func deref(v any) Action {
	switch a := v.(type) {
	case *AssignToUser:
		return *a
	case *AssignToRole:
		return *a
	case *AssignToLeastLoaded:
		return *a
	case *RequestApproval:
		return *a
	case *RecalculateScore:
		return *a
	case *SendNotification:
		return *a
	case *UpdateLeadStatus:
		return *a
	case *TriggerWorkflow:
		return *a
	default:
		panic(fmt.Sprintf("actions: unexpected variant %T", v))
	}
}
