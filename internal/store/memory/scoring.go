package memory

import (
	"context"
	"sort"

	"lead_lifecycle_engine/internal/scoring"
	"lead_lifecycle_engine/platform/apperr"

	"github.com/google/uuid"
)

// Scoring implements scoring.Repository.
type Scoring struct{ s *Store }

var _ scoring.Repository = (*Scoring)(nil)

func cloneModel(m scoring.Model) scoring.Model {
	out := m
	out.Groups = append([]scoring.CriteriaGroup(nil), m.Groups...)
	out.Bands = append([]scoring.Band(nil), m.Bands...)
	out.SupersededBy = cloneID(m.SupersededBy)
	return out
}

func cloneScore(sc scoring.Score) scoring.Score {
	out := sc
	if sc.Breakdown != nil {
		out.Breakdown = make(map[scoring.GroupName]float64, len(sc.Breakdown))
		for k, v := range sc.Breakdown {
			out.Breakdown[k] = v
		}
	}
	return out
}

func (r *Scoring) CreateModel(_ context.Context, m scoring.Model) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if m.IsActive {
		r.deactivateAllLocked()
	}
	r.s.models[m.ID] = cloneModel(m)
	return nil
}

func (r *Scoring) UpdateModel(_ context.Context, m scoring.Model) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.models[m.ID]; !ok {
		return apperr.NotFound("scoring model not found").WithDetail("modelId", m.ID.String())
	}
	if m.IsActive {
		r.deactivateAllLocked()
	}
	r.s.models[m.ID] = cloneModel(m)
	return nil
}

func (r *Scoring) SupersedeModel(_ context.Context, previous, next scoring.Model) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	prev, ok := r.s.models[previous.ID]
	if !ok {
		return apperr.NotFound("scoring model not found").WithDetail("modelId", previous.ID.String())
	}
	if next.IsActive {
		r.deactivateAllLocked()
	}
	id := next.ID
	prev.SupersededBy = &id
	prev.IsActive = false
	r.s.models[prev.ID] = prev
	r.s.models[next.ID] = cloneModel(next)
	return nil
}

func (r *Scoring) GetModel(_ context.Context, id uuid.UUID) (scoring.Model, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m, ok := r.s.models[id]
	if !ok {
		return scoring.Model{}, apperr.NotFound("scoring model not found").WithDetail("modelId", id.String())
	}
	return cloneModel(m), nil
}

func (r *Scoring) GetActiveModel(context.Context) (scoring.Model, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, m := range r.s.models {
		if m.IsActive {
			return cloneModel(m), nil
		}
	}
	return scoring.Model{}, apperr.NotFound("no active scoring model")
}

func (r *Scoring) ListModels(context.Context) ([]scoring.Model, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]scoring.Model, 0, len(r.s.models))
	for _, m := range r.s.models {
		out = append(out, cloneModel(m))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Version > out[j].Version
	})
	return out, nil
}

func (r *Scoring) ActivateModel(_ context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m, ok := r.s.models[id]
	if !ok || m.SupersededBy != nil {
		return apperr.NotFound("scoring model not found").WithDetail("modelId", id.String())
	}
	r.deactivateAllLocked()
	m.IsActive = true
	r.s.models[id] = m
	return nil
}

func (r *Scoring) deactivateAllLocked() {
	for id, m := range r.s.models {
		if m.IsActive {
			m.IsActive = false
			r.s.models[id] = m
		}
	}
}

func (r *Scoring) IsModelReferenced(_ context.Context, id uuid.UUID) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, sc := range r.s.scoreHistory {
		if sc.ModelID == id {
			return true, nil
		}
	}
	return false, nil
}

func (r *Scoring) GetScore(_ context.Context, leadID uuid.UUID) (scoring.Score, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sc, ok := r.s.scores[leadID]
	if !ok {
		return scoring.Score{}, apperr.NotFound("lead score not found").WithDetail("leadId", leadID.String())
	}
	return cloneScore(sc), nil
}

func (r *Scoring) SaveScore(_ context.Context, sc scoring.Score) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.leads[sc.LeadID]; !ok {
		return apperr.NotFound("lead not found").WithDetail("leadId", sc.LeadID.String())
	}
	r.s.scores[sc.LeadID] = cloneScore(sc)
	r.s.scoreHistory = append(r.s.scoreHistory, cloneScore(sc))
	return nil
}
