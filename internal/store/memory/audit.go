package memory

import (
	"context"

	"lead_lifecycle_engine/internal/audit"

	"github.com/google/uuid"
)

// Audit is an append-only audit log.
type Audit struct{ s *Store }

var _ audit.Writer = (*Audit)(nil)

func (a *Audit) Write(_ context.Context, e audit.Entry) error {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	e.LeadID = cloneID(e.LeadID)
	e.Details = cloneMap(e.Details)
	a.s.audit = append(a.s.audit, e)
	return nil
}

// ListForLead returns the newest entries first.
func (a *Audit) ListForLead(_ context.Context, leadID uuid.UUID, limit int) ([]audit.Entry, error) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	limit = limitOrDefault(limit)
	out := make([]audit.Entry, 0)
	for i := len(a.s.audit) - 1; i >= 0 && len(out) < limit; i-- {
		e := a.s.audit[i]
		if e.LeadID == nil || *e.LeadID != leadID {
			continue
		}
		e.LeadID = cloneID(e.LeadID)
		e.Details = cloneMap(e.Details)
		out = append(out, e)
	}
	return out, nil
}
