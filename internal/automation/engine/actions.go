package engine

import (
	"context"
	"errors"
	"fmt"

	"lead_lifecycle_engine/internal/actions"
	"lead_lifecycle_engine/internal/events"
	"lead_lifecycle_engine/internal/lead"
	"lead_lifecycle_engine/internal/notification"
	"lead_lifecycle_engine/internal/routing"
	"lead_lifecycle_engine/internal/scoring"
	"lead_lifecycle_engine/internal/workflow"
	"lead_lifecycle_engine/platform/apperr"

	"github.com/google/uuid"
)

// origin identifies who asked for an action: the audit actor and, inside a
// workflow, the execution it belongs to.
type origin struct {
	actor       string
	executionID *uuid.UUID
}

// ExecuteAction implements workflow.ActionExecutor.
func (e *Engine) ExecuteAction(ctx context.Context, exec workflow.Execution, snapshot lead.Snapshot, action actions.Action) (map[string]any, error) {
	id := exec.ID
	return e.perform(ctx, snapshot, action, origin{
		actor:       "workflow:" + exec.WorkflowID.String(),
		executionID: &id,
	})
}

// HandleBandEntered runs the actions of a score band the lead just entered.
func (e *Engine) HandleBandEntered(ctx context.Context, snapshot lead.Snapshot, band scoring.Band, score scoring.Score) error {
	e.log.Info("score band entered", "leadId", snapshot.LeadID, "band", band.Label, "score", score.Total)
	return e.performAll(ctx, snapshot, band.Actions, origin{actor: "band:" + band.Label})
}

// HandleRuleActions runs the non-assignment actions of a matched rule.
func (e *Engine) HandleRuleActions(ctx context.Context, snapshot lead.Snapshot, rule routing.Rule, follow []actions.Action) error {
	return e.performAll(ctx, snapshot, actions.Specs(follow...), origin{actor: "rule:" + rule.ID.String()})
}

// performAll runs specs in order outside any workflow. A failing action is
// logged and the rest still run; approvals need a workflow and are skipped.
func (e *Engine) performAll(ctx context.Context, snapshot lead.Snapshot, specs []actions.Spec, o origin) error {
	var errs []error
	for i, spec := range specs {
		if _, ok := spec.Action.(actions.RequestApproval); ok {
			e.log.Warn("approval action outside a workflow skipped", "leadId", snapshot.LeadID, "actor", o.actor)
			continue
		}
		if i > 0 {
			if fresh, err := e.leads.GetSnapshot(ctx, snapshot.LeadID); err == nil {
				snapshot = fresh
			}
		}
		if _, err := e.perform(ctx, snapshot, spec.Action, o); err != nil {
			e.log.Error("action failed", "leadId", snapshot.LeadID, "action", spec.Action.Type(), "actor", o.actor, "error", err)
			errs = append(errs, fmt.Errorf("action %d (%s): %w", i, spec.Action.Type(), err))
		}
	}
	return errors.Join(errs...)
}

// perform executes one action against the lead and returns the values it
// contributes to a workflow context.
func (e *Engine) perform(ctx context.Context, snapshot lead.Snapshot, action actions.Action, o origin) (map[string]any, error) {
	switch a := action.(type) {
	case actions.AssignToUser, actions.AssignToRole, actions.AssignToLeastLoaded:
		return e.assign(ctx, snapshot, action, o)
	case actions.RequestApproval:
		return nil, apperr.Validation("request_approval can only run inside a workflow")
	case actions.RecalculateScore:
		res, err := e.scoring.Recalculate(ctx, snapshot.LeadID)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"score":       res.Score.Total,
			"band":        res.Score.Band,
			"bandChanged": res.BandChanged,
		}, nil
	case actions.SendNotification:
		return e.notify(ctx, snapshot, a)
	case actions.UpdateLeadStatus:
		return e.updateStatus(ctx, snapshot, a.Status, o)
	case actions.TriggerWorkflow:
		return e.triggerChild(ctx, snapshot, a, o)
	default:
		return nil, apperr.Internal(fmt.Sprintf("unsupported action %s", action.Type()))
	}
}

func (e *Engine) assign(ctx context.Context, snapshot lead.Snapshot, action actions.Action, o origin) (map[string]any, error) {
	res, err := e.routing.AssignWith(ctx, snapshot.LeadID, action, o.actor)
	if err != nil {
		return nil, err
	}
	out := map[string]any{
		"unassigned":       res.Unassigned,
		"assignmentReason": res.Reason,
	}
	if res.OwnerID != nil {
		out["assignedTo"] = res.OwnerID.String()
	}
	return out, nil
}

func (e *Engine) notify(ctx context.Context, snapshot lead.Snapshot, a actions.SendNotification) (map[string]any, error) {
	recipient := a.Recipient
	if recipient == actions.RecipientOwner {
		resolved, err := e.ownerContact(ctx, snapshot, a.Channel)
		if err != nil {
			return nil, err
		}
		recipient = resolved
	}

	leadID := snapshot.LeadID
	msg, err := e.notifier.Queue(ctx, notification.Message{
		Channel:   notification.Channel(a.Channel),
		Recipient: recipient,
		Subject:   a.Subject,
		Body:      a.Message,
		LeadID:    &leadID,
		Kind:      notification.KindWorkflowAction,
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"notificationId": msg.ID.String(),
		"recipient":      recipient,
	}, nil
}

// ownerContact resolves the "owner" recipient to the assignee's address
// for the channel.
func (e *Engine) ownerContact(ctx context.Context, snapshot lead.Snapshot, channel string) (string, error) {
	if snapshot.AssignedTo == nil {
		return "", apperr.Conflict("lead has no owner to notify").WithDetail("leadId", snapshot.LeadID.String())
	}
	owner, err := e.routing.GetOwner(ctx, *snapshot.AssignedTo)
	if err != nil {
		return "", err
	}
	contact := owner.Email
	if channel == actions.ChannelSMS {
		contact = owner.Phone
	}
	if contact == "" {
		return "", apperr.Validation(fmt.Sprintf("owner has no %s contact", channel)).
			WithDetail("ownerId", owner.ID.String())
	}
	return contact, nil
}

func (e *Engine) updateStatus(ctx context.Context, snapshot lead.Snapshot, status string, o origin) (map[string]any, error) {
	previous := snapshot.Status
	out := map[string]any{"status": status, "previousStatus": previous}
	if previous == status {
		return out, nil
	}
	if err := e.leads.UpdateStatus(ctx, snapshot.LeadID, status); err != nil {
		return nil, err
	}
	e.log.StateTransition("lead_status", snapshot.LeadID.String(), previous, status)

	base := events.NewBaseEvent()
	updated := snapshot.WithStatus(status)
	if updated.IsClosed() {
		e.bus.Publish(ctx, events.LeadClosed{BaseEvent: base, LeadID: snapshot.LeadID, Status: status})
	} else {
		e.bus.Publish(ctx, events.LeadUpdated{BaseEvent: base, LeadID: snapshot.LeadID, ChangedFields: []string{"status"}})
	}
	return out, nil
}

func (e *Engine) triggerChild(ctx context.Context, snapshot lead.Snapshot, a actions.TriggerWorkflow, o origin) (map[string]any, error) {
	depth := events.Depth(ctx)
	if depth >= events.MaxTriggerDepth {
		return nil, apperr.Conflict("workflow trigger depth exceeded").
			WithDetail("workflowId", a.WorkflowID.String()).
			WithDetail("depth", depth)
	}
	input := map[string]any{"depth": depth + 1}
	triggeredBy := o.actor
	if o.executionID != nil {
		input["parentExecutionId"] = o.executionID.String()
		triggeredBy = "workflow:" + o.executionID.String()
	}
	child, err := e.workflows.Execute(events.WithDepth(ctx, depth+1), a.WorkflowID, snapshot.LeadID, triggeredBy, input)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"triggeredExecutionId": child.ID.String(),
		"triggeredStatus":      string(child.Status),
	}, nil
}
