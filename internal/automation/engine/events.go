package engine

import (
	"context"
	"encoding/json"
	"errors"

	"lead_lifecycle_engine/internal/audit"
	"lead_lifecycle_engine/internal/events"
	"lead_lifecycle_engine/internal/lead"
	"lead_lifecycle_engine/internal/rules"
	"lead_lifecycle_engine/platform/apperr"

	"github.com/google/uuid"
)

const (
	eventLeadCreated = "lead.created"
	eventLeadUpdated = "lead.updated"
	eventLeadClosed  = "lead.closed"
)

// OnDomainEvent routes a lead event through the engine: new and changed
// leads are rescored and routed, closed leads are released, and every
// active workflow listening for the event whose conditions hold is started.
// Chains deeper than events.MaxTriggerDepth are dropped; closing still
// releases the assignment at any depth.
func (e *Engine) OnDomainEvent(ctx context.Context, event events.Event) error {
	le, ok := event.(events.LeadEvent)
	if !ok {
		return nil
	}
	leadID := le.LeadRef()
	name := event.EventName()
	depth := events.Depth(ctx)

	var errs []error
	if name == eventLeadClosed {
		if err := e.routing.Release(ctx, leadID, audit.ActorSystem); err != nil {
			errs = append(errs, err)
		}
	}
	if depth >= events.MaxTriggerDepth {
		e.log.Warn("trigger depth exceeded, event not processed",
			"event", name, "leadId", leadID, "depth", depth)
		return errors.Join(errs...)
	}
	ctx = events.WithDepth(ctx, depth+1)

	if name == eventLeadCreated || name == eventLeadUpdated {
		if err := e.refresh(ctx, leadID); err != nil {
			errs = append(errs, err)
		}
	}
	if err := e.triggerWorkflows(ctx, event, leadID); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// refresh rescores the lead and routes it when it has no owner yet.
func (e *Engine) refresh(ctx context.Context, leadID uuid.UUID) error {
	if _, err := e.scoring.Recalculate(ctx, leadID); err != nil {
		if !apperr.Is(err, apperr.KindNotFound) {
			return err
		}
		e.log.Warn("lead not scored", "leadId", leadID, "error", err)
	}

	snapshot, err := e.leads.GetSnapshot(ctx, leadID)
	if err != nil {
		return err
	}
	if snapshot.IsClosed() || snapshot.AssignedTo != nil {
		return nil
	}
	_, err = e.routing.Assign(ctx, leadID, nil, audit.ActorSystem)
	return err
}

func (e *Engine) triggerWorkflows(ctx context.Context, event events.Event, leadID uuid.UUID) error {
	name := event.EventName()
	defs, err := e.workflows.DefinitionsForEvent(ctx, name)
	if err != nil || len(defs) == 0 {
		return err
	}

	snapshot, err := e.leads.GetSnapshot(ctx, leadID)
	if err != nil {
		return err
	}
	doc := snapshot.Document()
	doc["event"] = eventDocument(event)

	var errs []error
	for _, def := range defs {
		if !rules.EvaluateAll(def.Conditions, doc) {
			continue
		}
		input := map[string]any{
			"triggerEvent": name,
			"depth":        events.Depth(ctx),
		}
		exec, err := e.workflows.Execute(ctx, def.ID, leadID, "event:"+name, input)
		if err != nil {
			e.log.Error("workflow trigger failed", "workflowId", def.ID, "leadId", leadID, "event", name, "error", err)
			errs = append(errs, err)
			continue
		}
		e.log.Info("workflow triggered", "workflowId", def.ID, "executionId", exec.ID,
			"leadId", leadID, "event", name, "status", exec.Status)
	}
	return errors.Join(errs...)
}

// eventDocument exposes the event's fields to workflow conditions under
// "event.*", together with its name.
func eventDocument(event events.Event) map[string]any {
	doc := map[string]any{}
	if raw, err := json.Marshal(event); err == nil {
		_ = json.Unmarshal(raw, &doc)
	}
	if signal, ok := event.(events.LeadSignal); ok {
		for k, v := range signal.Payload {
			if _, taken := doc[k]; !taken {
				doc[k] = v
			}
		}
	}
	doc["name"] = event.EventName()
	return doc
}

// Signal raises a named lead event on behalf of an external collaborator
// and processes it synchronously.
func (e *Engine) Signal(ctx context.Context, name string, leadID uuid.UUID, payload map[string]any) error {
	if _, err := e.leads.GetSnapshot(ctx, leadID); err != nil {
		return err
	}
	return e.OnDomainEvent(ctx, eventFor(name, leadID, payload))
}

// eventFor maps the core lifecycle names to their typed events so closed
// and updated leads behave the same whether raised internally or not.
func eventFor(name string, leadID uuid.UUID, payload map[string]any) events.Event {
	base := events.NewBaseEvent()
	switch name {
	case eventLeadCreated:
		source, _ := payload["source"].(string)
		return events.LeadCreated{BaseEvent: base, LeadID: leadID, Source: source}
	case eventLeadClosed:
		status, _ := payload["status"].(string)
		return events.LeadClosed{BaseEvent: base, LeadID: leadID, Status: status}
	case eventLeadUpdated:
		var changed []string
		if fields, ok := payload["changedFields"].([]any); ok {
			for _, f := range fields {
				if s, ok := f.(string); ok {
					changed = append(changed, s)
				}
			}
		}
		return events.LeadUpdated{BaseEvent: base, LeadID: leadID, ChangedFields: changed}
	default:
		return events.LeadSignal{BaseEvent: base, Name: name, LeadID: leadID, Payload: payload}
	}
}

// Lead returns the current snapshot.
func (e *Engine) Lead(ctx context.Context, leadID uuid.UUID) (lead.Snapshot, error) {
	return e.leads.GetSnapshot(ctx, leadID)
}
