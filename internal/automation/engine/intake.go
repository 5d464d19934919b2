package engine

import (
	"context"
	"reflect"
	"strings"

	"lead_lifecycle_engine/internal/events"
	"lead_lifecycle_engine/internal/lead"
	"lead_lifecycle_engine/platform/apperr"

	"github.com/google/uuid"
)

// IntakeResult reports the lead as it stands after the engine processed it.
type IntakeResult struct {
	Created  bool          `json:"created"`
	Event    string        `json:"event"`
	Snapshot lead.Snapshot `json:"lead"`
}

// Intake stores an inbound lead snapshot and runs the lifecycle for it as
// the matching created, updated or closed event.
func (e *Engine) Intake(ctx context.Context, snapshot lead.Snapshot, actor string) (IntakeResult, error) {
	if snapshot.LeadID == uuid.Nil {
		snapshot.LeadID = uuid.New()
	}
	snapshot.Status = strings.TrimSpace(snapshot.Status)
	if snapshot.Status == "" {
		snapshot.Status = lead.StatusNew
	}

	previous, err := e.leads.GetSnapshot(ctx, snapshot.LeadID)
	existed := err == nil
	if err != nil && !apperr.Is(err, apperr.KindNotFound) {
		return IntakeResult{}, err
	}

	created, err := e.leads.Upsert(ctx, snapshot)
	if err != nil {
		return IntakeResult{}, err
	}

	base := events.NewBaseEvent()
	var event events.Event
	switch {
	case created:
		event = events.LeadCreated{BaseEvent: base, LeadID: snapshot.LeadID, Source: snapshot.Source}
	case snapshot.IsClosed() && !(existed && previous.IsClosed()):
		event = events.LeadClosed{BaseEvent: base, LeadID: snapshot.LeadID, Status: snapshot.Status}
	default:
		event = events.LeadUpdated{BaseEvent: base, LeadID: snapshot.LeadID, ChangedFields: changedFields(previous, snapshot)}
	}
	e.log.Info("lead received", "leadId", snapshot.LeadID, "event", event.EventName(), "actor", actor)

	processErr := e.OnDomainEvent(ctx, event)

	current, err := e.leads.GetSnapshot(ctx, snapshot.LeadID)
	if err != nil {
		return IntakeResult{}, err
	}
	return IntakeResult{Created: created, Event: event.EventName(), Snapshot: current}, processErr
}

// changedFields names the top-level snapshot fields that differ.
func changedFields(before, after lead.Snapshot) []string {
	pairs := []struct {
		name string
		a, b any
	}{
		{"company", before.Company, after.Company},
		{"contact", before.Contact, after.Contact},
		{"source", before.Source, after.Source},
		{"status", before.Status, after.Status},
		{"qualification", before.Qualification, after.Qualification},
		{"behavior", before.Behavior, after.Behavior},
		{"custom", before.Custom, after.Custom},
	}
	var out []string
	for _, p := range pairs {
		if !reflect.DeepEqual(p.a, p.b) {
			out = append(out, p.name)
		}
	}
	return out
}
