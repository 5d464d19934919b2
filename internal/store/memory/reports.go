package memory

import (
	"context"
	"sort"
	"time"

	"lead_lifecycle_engine/internal/reports"
	"lead_lifecycle_engine/platform/apperr"

	"github.com/google/uuid"
)

// Reports implements reports.Repository.
type Reports struct{ s *Store }

var _ reports.Repository = (*Reports)(nil)

func cloneReport(d reports.Definition) reports.Definition {
	d.LastRunAt = cloneTime(d.LastRunAt)
	return d
}

func reportNotFound(id uuid.UUID) error {
	return apperr.NotFound("report not found").WithDetail("reportId", id.String())
}

func (r *Reports) CreateReport(_ context.Context, d reports.Definition) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.reports[d.ID] = cloneReport(d)
	return nil
}

func (r *Reports) UpdateReport(_ context.Context, d reports.Definition) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	prev, ok := r.s.reports[d.ID]
	if !ok {
		return reportNotFound(d.ID)
	}
	d.LastRunAt = prev.LastRunAt
	r.s.reports[d.ID] = cloneReport(d)
	return nil
}

func (r *Reports) GetReport(_ context.Context, id uuid.UUID) (reports.Definition, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	d, ok := r.s.reports[id]
	if !ok {
		return reports.Definition{}, reportNotFound(id)
	}
	return cloneReport(d), nil
}

func (r *Reports) list(activeOnly bool) []reports.Definition {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]reports.Definition, 0, len(r.s.reports))
	for _, d := range r.s.reports {
		if !activeOnly || d.IsActive {
			out = append(out, cloneReport(d))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (r *Reports) ListReports(context.Context) ([]reports.Definition, error) {
	return r.list(false), nil
}

func (r *Reports) ListActiveReports(context.Context) ([]reports.Definition, error) {
	return r.list(true), nil
}

func (r *Reports) RecordReportRun(_ context.Context, id uuid.UUID, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	d, ok := r.s.reports[id]
	if !ok {
		return nil
	}
	ranAt := at
	d.LastRunAt = &ranAt
	r.s.reports[id] = d
	return nil
}
