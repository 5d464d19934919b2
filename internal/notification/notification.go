// Package notification queues and delivers email and SMS messages raised by
// the lifecycle engine (SLA escalations, approval requests, workflow actions).
// Messages are written to an outbox first and delivered by Dispatcher.
package notification

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Channel is a delivery medium.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

// Status is the delivery state of an outbox message.
type Status string

const (
	StatusPending Status = "pending"
	StatusSending Status = "sending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
)

// Message kinds.
const (
	KindSLAEscalated      = "sla_escalated"
	KindApprovalRequested = "approval_requested"
	KindWorkflowAction    = "workflow_action"
)

// MaxAttempts bounds delivery retries before a message is marked failed.
const MaxAttempts = 5

// Message is one outbox entry.
type Message struct {
	ID        uuid.UUID  `json:"id"`
	Channel   Channel    `json:"channel"`
	Recipient string     `json:"recipient"`
	Subject   string     `json:"subject,omitempty"`
	Body      string     `json:"body"`
	LeadID    *uuid.UUID `json:"leadId,omitempty"`
	Kind      string     `json:"kind"`
	Status    Status     `json:"status"`
	Attempts  int        `json:"attempts"`
	LastError *string    `json:"lastError,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	SentAt    *time.Time `json:"sentAt,omitempty"`
}

// Outbox persists messages until they are delivered.
type Outbox interface {
	Enqueue(ctx context.Context, msg Message) error
	// ClaimPending moves up to limit pending messages to sending and bumps
	// their attempt counter.
	ClaimPending(ctx context.Context, limit int) ([]Message, error)
	MarkSent(ctx context.Context, id uuid.UUID, at time.Time) error
	MarkPending(ctx context.Context, id uuid.UUID, lastError string) error
	MarkFailed(ctx context.Context, id uuid.UUID, lastError string) error
	List(ctx context.Context, leadID *uuid.UUID, limit int) ([]Message, error)
}

// Sender delivers a message over one channel.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}
