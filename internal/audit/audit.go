// Package audit records every engine state transition: assignments, score
// recomputes, workflow transitions and approval decisions.
package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Entity types recorded in the audit log.
const (
	EntityAssignment = "assignment"
	EntityScore      = "lead_score"
	EntityExecution  = "workflow_execution"
	EntityApproval   = "approval_request"
	EntitySLA        = "sla_state"
	EntityConfig     = "configuration"
)

// Entry is one immutable audit record.
type Entry struct {
	ID         uuid.UUID      `json:"id"`
	EntityType string         `json:"entityType"`
	EntityID   uuid.UUID      `json:"entityId"`
	LeadID     *uuid.UUID     `json:"leadId,omitempty"`
	Action     string         `json:"action"`
	Actor      string         `json:"actor"`
	Details    map[string]any `json:"details,omitempty"`
	OccurredAt time.Time      `json:"occurredAt"`
}

// Writer persists audit entries.
type Writer interface {
	Write(ctx context.Context, entry Entry) error
}

// NewEntry fills id and timestamp.
func NewEntry(entityType string, entityID uuid.UUID, leadID *uuid.UUID, action, actor string, details map[string]any) Entry {
	if actor == "" {
		actor = ActorSystem
	}
	return Entry{
		ID:         uuid.New(),
		EntityType: entityType,
		EntityID:   entityID,
		LeadID:     leadID,
		Action:     action,
		Actor:      actor,
		Details:    details,
		OccurredAt: time.Now().UTC(),
	}
}

// ActorSystem marks transitions performed by the engine itself.
const ActorSystem = "system"

// MultiWriter fans an entry out to every writer and joins their errors.
type MultiWriter struct {
	writers []Writer
}

// NewMultiWriter skips nil writers.
func NewMultiWriter(writers ...Writer) *MultiWriter {
	out := make([]Writer, 0, len(writers))
	for _, w := range writers {
		if w != nil {
			out = append(out, w)
		}
	}
	return &MultiWriter{writers: out}
}

func (m *MultiWriter) Write(ctx context.Context, entry Entry) error {
	var errs []error
	for _, w := range m.writers {
		if err := w.Write(ctx, entry); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop discards entries.
type Nop struct{}

func (Nop) Write(context.Context, Entry) error { return nil }
