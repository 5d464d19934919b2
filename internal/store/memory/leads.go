package memory

import (
	"context"
	"sort"
	"time"

	"lead_lifecycle_engine/internal/lead"
	"lead_lifecycle_engine/platform/apperr"

	"github.com/google/uuid"
)

// Leads implements lead.Repository. Snapshots carry the current score and
// assignee held by the other views.
type Leads struct{ s *Store }

var _ lead.Repository = (*Leads)(nil)

func (r *Leads) GetSnapshot(_ context.Context, leadID uuid.UUID) (lead.Snapshot, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	l, ok := r.s.leads[leadID]
	if !ok {
		return lead.Snapshot{}, apperr.NotFound("lead not found").WithDetail("leadId", leadID.String())
	}
	return r.s.snapshotLocked(l), nil
}

func (r *Leads) ListOpen(_ context.Context, params lead.ListParams) ([]lead.Snapshot, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]lead.Snapshot, 0)
	for _, l := range r.s.leads {
		if !l.IsClosed() {
			out = append(out, r.s.snapshotLocked(l))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if params.Limit > 0 && len(out) > params.Limit {
		out = out[:params.Limit]
	}
	return out, nil
}

func (r *Leads) UpdateStatus(_ context.Context, leadID uuid.UUID, status string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	l, ok := r.s.leads[leadID]
	if !ok {
		return apperr.NotFound("lead not found").WithDetail("leadId", leadID.String())
	}
	r.s.leads[leadID] = l.WithStatus(status)
	return nil
}

func (r *Leads) Upsert(_ context.Context, snap lead.Snapshot) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	prev, exists := r.s.leads[snap.LeadID]
	stored := snap.WithAssignee(nil)
	stored.Score = nil
	if exists {
		stored.CreatedAt = prev.CreatedAt
	} else if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	r.s.leads[snap.LeadID] = stored
	return !exists, nil
}

func (s *Store) snapshotLocked(l lead.Snapshot) lead.Snapshot {
	out := l.WithAssignee(nil)
	out.Score = nil
	if sc, ok := s.scores[l.LeadID]; ok {
		out = out.WithScore(sc.Total, sc.Band)
	}
	if a, ok := s.assignments[l.LeadID]; ok {
		out = out.WithAssignee(&a.OwnerID)
	}
	out.CapturedAt = time.Now().UTC()
	return out
}
