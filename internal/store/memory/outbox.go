package memory

import (
	"context"
	"sort"
	"time"

	"lead_lifecycle_engine/internal/notification"

	"github.com/google/uuid"
)

// Outbox implements notification.Outbox.
type Outbox struct{ s *Store }

var _ notification.Outbox = (*Outbox)(nil)

func cloneMessage(m notification.Message) notification.Message {
	out := m
	out.LeadID = cloneID(m.LeadID)
	out.LastError = cloneString(m.LastError)
	out.SentAt = cloneTime(m.SentAt)
	return out
}

func (o *Outbox) Enqueue(_ context.Context, m notification.Message) error {
	o.s.mu.Lock()
	defer o.s.mu.Unlock()
	o.s.outbox = append(o.s.outbox, cloneMessage(m))
	return nil
}

func (o *Outbox) ClaimPending(_ context.Context, limit int) ([]notification.Message, error) {
	o.s.mu.Lock()
	defer o.s.mu.Unlock()
	out := make([]notification.Message, 0)
	for i := range o.s.outbox {
		if limit > 0 && len(out) >= limit {
			break
		}
		m := &o.s.outbox[i]
		if m.Status != notification.StatusPending {
			continue
		}
		m.Status = notification.StatusSending
		m.Attempts++
		out = append(out, cloneMessage(*m))
	}
	return out, nil
}

func (o *Outbox) update(id uuid.UUID, fn func(m *notification.Message)) {
	o.s.mu.Lock()
	defer o.s.mu.Unlock()
	for i := range o.s.outbox {
		if o.s.outbox[i].ID == id {
			fn(&o.s.outbox[i])
			return
		}
	}
}

func (o *Outbox) MarkSent(_ context.Context, id uuid.UUID, at time.Time) error {
	o.update(id, func(m *notification.Message) {
		sent := at
		m.Status = notification.StatusSent
		m.LastError = nil
		m.SentAt = &sent
	})
	return nil
}

func (o *Outbox) MarkPending(_ context.Context, id uuid.UUID, lastError string) error {
	o.update(id, func(m *notification.Message) {
		m.Status = notification.StatusPending
		m.LastError = &lastError
	})
	return nil
}

func (o *Outbox) MarkFailed(_ context.Context, id uuid.UUID, lastError string) error {
	o.update(id, func(m *notification.Message) {
		m.Status = notification.StatusFailed
		m.LastError = &lastError
	})
	return nil
}

func (o *Outbox) List(_ context.Context, leadID *uuid.UUID, limit int) ([]notification.Message, error) {
	o.s.mu.Lock()
	defer o.s.mu.Unlock()
	out := make([]notification.Message, 0)
	for _, m := range o.s.outbox {
		if leadID != nil && (m.LeadID == nil || *m.LeadID != *leadID) {
			continue
		}
		out = append(out, cloneMessage(m))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if l := limitOrDefault(limit); len(out) > l {
		out = out[:l]
	}
	return out, nil
}
