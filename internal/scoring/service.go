// Package scoring computes weighted lead scores and score bands and keeps
// scoring models versioned.
package scoring

import (
	"context"
	"sync"
	"time"

	"lead_lifecycle_engine/internal/audit"
	"lead_lifecycle_engine/internal/events"
	"lead_lifecycle_engine/internal/lead"
	"lead_lifecycle_engine/internal/locking"
	"lead_lifecycle_engine/platform/apperr"
	"lead_lifecycle_engine/platform/logger"

	"github.com/google/uuid"
)

// Repository persists models and current scores.
type Repository interface {
	CreateModel(ctx context.Context, m Model) error
	UpdateModel(ctx context.Context, m Model) error
	// SupersedeModel stores next and marks previous as superseded by it in
	// one transaction; next inherits the active flag.
	SupersedeModel(ctx context.Context, previous Model, next Model) error
	GetModel(ctx context.Context, id uuid.UUID) (Model, error)
	GetActiveModel(ctx context.Context) (Model, error)
	ListModels(ctx context.Context) ([]Model, error)
	// ActivateModel marks id active and every other model inactive.
	ActivateModel(ctx context.Context, id uuid.UUID) error
	IsModelReferenced(ctx context.Context, id uuid.UUID) (bool, error)
	GetScore(ctx context.Context, leadID uuid.UUID) (Score, error)
	// SaveScore overwrites the current score and appends to history.
	SaveScore(ctx context.Context, s Score) error
}

// BandActionHandler runs a band's actions after a lead enters it.
type BandActionHandler interface {
	HandleBandEntered(ctx context.Context, snapshot lead.Snapshot, band Band, score Score) error
}

// ModelInput is the writable part of a model.
type ModelInput struct {
	Name     string          `json:"name" yaml:"name" validate:"required"`
	Groups   []CriteriaGroup `json:"groups" yaml:"groups" validate:"required,min=1"`
	Bands    []Band          `json:"bands" yaml:"bands" validate:"required,min=1"`
	Activate bool            `json:"activate" yaml:"activate"`
}

// Result describes one recalculation.
type Result struct {
	Score        Score  `json:"score"`
	PreviousBand string `json:"previousBand,omitempty"`
	BandChanged  bool   `json:"bandChanged"`
}

// Service is the scoring engine entry point.
type Service struct {
	repo   Repository
	leads  lead.Store
	bus    events.Bus
	audit  audit.Writer
	locker locking.Locker
	log    *logger.Logger

	mu          sync.RWMutex
	cached      *Model
	generation  uint64
	bandActions BandActionHandler
}

// New creates a scoring service.
func New(repo Repository, leads lead.Store, bus events.Bus, auditWriter audit.Writer, locker locking.Locker, log *logger.Logger) *Service {
	return &Service{
		repo:   repo,
		leads:  leads,
		bus:    bus,
		audit:  auditWriter,
		locker: locker,
		log:    log.WithComponent("scoring"),
	}
}

// SetBandActionHandler wires the engine that executes band actions.
func (s *Service) SetBandActionHandler(h BandActionHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bandActions = h
}

// ActiveModel returns the active model, served from cache when warm. A read
// that races a model write is not cached.
func (s *Service) ActiveModel(ctx context.Context) (Model, error) {
	s.mu.RLock()
	if s.cached != nil {
		m := *s.cached
		s.mu.RUnlock()
		return m, nil
	}
	gen := s.generation
	s.mu.RUnlock()

	m, err := s.repo.GetActiveModel(ctx)
	if err != nil {
		return Model{}, err
	}
	s.mu.Lock()
	if s.generation == gen {
		cached := m
		s.cached = &cached
	}
	s.mu.Unlock()
	return m, nil
}

func (s *Service) invalidate() {
	s.mu.Lock()
	s.cached = nil
	s.generation++
	s.mu.Unlock()
}

// Preview scores the lead with the active model without persisting.
func (s *Service) Preview(ctx context.Context, leadID uuid.UUID) (Score, error) {
	snapshot, err := s.leads.GetSnapshot(ctx, leadID)
	if err != nil {
		return Score{}, err
	}
	model, err := s.ActiveModel(ctx)
	if err != nil {
		return Score{}, err
	}
	return Calculate(snapshot, model), nil
}

// Recalculate scores the lead, stores the result and, on a band change,
// publishes ScoreBandChanged and runs the new band's actions. Band actions
// run after the lead's score lock is released.
func (s *Service) Recalculate(ctx context.Context, leadID uuid.UUID) (Result, error) {
	result, entered, err := s.recalculateLocked(ctx, leadID)
	if err != nil || entered == nil {
		return result, err
	}

	s.mu.RLock()
	handler := s.bandActions
	s.mu.RUnlock()
	if handler == nil {
		return result, nil
	}
	if err := handler.HandleBandEntered(ctx, entered.snapshot, entered.band, result.Score); err != nil {
		return result, err
	}
	return result, nil
}

type bandEntry struct {
	snapshot lead.Snapshot
	band     Band
}

func (s *Service) recalculateLocked(ctx context.Context, leadID uuid.UUID) (Result, *bandEntry, error) {
	unlock, err := s.locker.Lock(ctx, "score:"+leadID.String())
	if err != nil {
		return Result{}, nil, err
	}
	defer unlock()

	snapshot, err := s.leads.GetSnapshot(ctx, leadID)
	if err != nil {
		return Result{}, nil, err
	}
	model, err := s.ActiveModel(ctx)
	if err != nil {
		return Result{}, nil, err
	}

	previousBand := ""
	previous, err := s.repo.GetScore(ctx, leadID)
	switch {
	case err == nil:
		previousBand = previous.Band
	case apperr.Is(err, apperr.KindNotFound):
	default:
		return Result{}, nil, err
	}

	score := Calculate(snapshot, model)
	if err := s.repo.SaveScore(ctx, score); err != nil {
		return Result{}, nil, err
	}

	result := Result{Score: score, PreviousBand: previousBand, BandChanged: previousBand != score.Band}
	s.writeAudit(ctx, score, previousBand)

	if !result.BandChanged {
		return result, nil, nil
	}

	s.log.StateTransition("lead_score_band", leadID.String(), previousBand, score.Band)
	s.bus.Publish(ctx, events.ScoreBandChanged{
		BaseEvent:    events.NewBaseEvent(),
		LeadID:       leadID,
		ModelID:      model.ID,
		PreviousBand: previousBand,
		Band:         score.Band,
		Score:        score.Total,
	})

	band, ok := model.BandFor(score.Total)
	if !ok || len(band.Actions) == 0 {
		return result, nil, nil
	}
	return result, &bandEntry{snapshot: snapshot.WithScore(score.Total, score.Band), band: band}, nil
}

func (s *Service) writeAudit(ctx context.Context, score Score, previousBand string) {
	leadID := score.LeadID
	entry := audit.NewEntry(audit.EntityScore, score.LeadID, &leadID, "score_recalculated", "", map[string]any{
		"modelId":      score.ModelID.String(),
		"modelVersion": score.ModelVersion,
		"total":        score.Total,
		"band":         score.Band,
		"previousBand": previousBand,
		"breakdown":    score.Breakdown,
	})
	if err := s.audit.Write(ctx, entry); err != nil {
		s.log.Error("audit write failed", "entity", audit.EntityScore, "leadId", leadID, "error", err)
	}
}

// GetScore returns the lead's current score.
func (s *Service) GetScore(ctx context.Context, leadID uuid.UUID) (Score, error) {
	return s.repo.GetScore(ctx, leadID)
}

// CreateModel validates and stores a new model (version 1).
func (s *Service) CreateModel(ctx context.Context, in ModelInput) (Model, error) {
	now := time.Now().UTC()
	m := Model{
		ID:        uuid.New(),
		Name:      in.Name,
		Version:   1,
		Groups:    in.Groups,
		Bands:     in.Bands,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.Validate(); err != nil {
		return Model{}, err
	}
	if err := s.repo.CreateModel(ctx, m); err != nil {
		return Model{}, err
	}
	if in.Activate {
		if err := s.ActivateModel(ctx, m.ID); err != nil {
			return Model{}, err
		}
		m.IsActive = true
	}
	s.invalidate()
	return m, nil
}

// UpdateModel edits a model in place, or, once scores reference it,
// supersedes it with a new version. Editing a referenced model without
// supersede is a Conflict.
func (s *Service) UpdateModel(ctx context.Context, id uuid.UUID, in ModelInput, supersede bool) (Model, error) {
	current, err := s.repo.GetModel(ctx, id)
	if err != nil {
		return Model{}, err
	}
	if current.SupersededBy != nil {
		return Model{}, apperr.Conflict("model has been superseded").WithDetail("supersededBy", current.SupersededBy.String())
	}

	candidate := current
	candidate.Name = in.Name
	candidate.Groups = in.Groups
	candidate.Bands = in.Bands
	candidate.UpdatedAt = time.Now().UTC()
	if err := candidate.Validate(); err != nil {
		return Model{}, err
	}

	referenced, err := s.repo.IsModelReferenced(ctx, id)
	if err != nil {
		return Model{}, err
	}
	defer s.invalidate()

	if !referenced {
		if err := s.repo.UpdateModel(ctx, candidate); err != nil {
			return Model{}, err
		}
		if in.Activate && !candidate.IsActive {
			if err := s.repo.ActivateModel(ctx, id); err != nil {
				return Model{}, err
			}
			candidate.IsActive = true
		}
		return candidate, nil
	}
	if !supersede {
		return Model{}, apperr.Conflict("model is referenced by calculated scores; supersede to change it").
			WithDetail("modelId", id.String())
	}

	next := candidate
	next.ID = uuid.New()
	next.Version = current.Version + 1
	next.CreatedAt = candidate.UpdatedAt
	next.IsActive = current.IsActive
	if err := s.repo.SupersedeModel(ctx, current, next); err != nil {
		return Model{}, err
	}
	if in.Activate && !next.IsActive {
		if err := s.repo.ActivateModel(ctx, next.ID); err != nil {
			return Model{}, err
		}
		next.IsActive = true
	}
	s.log.Info("scoring model superseded", "previousId", id, "modelId", next.ID, "version", next.Version)
	return next, nil
}

// ActivateModel makes id the only active model.
func (s *Service) ActivateModel(ctx context.Context, id uuid.UUID) error {
	m, err := s.repo.GetModel(ctx, id)
	if err != nil {
		return err
	}
	if m.SupersededBy != nil {
		return apperr.Conflict("superseded models cannot be activated").WithDetail("modelId", id.String())
	}
	if err := s.repo.ActivateModel(ctx, id); err != nil {
		return err
	}
	s.invalidate()
	entry := audit.NewEntry(audit.EntityConfig, id, nil, "scoring_model_activated", "", map[string]any{"version": m.Version})
	if err := s.audit.Write(ctx, entry); err != nil {
		s.log.Error("audit write failed", "entity", audit.EntityConfig, "error", err)
	}
	return nil
}

// GetModel returns a model by id.
func (s *Service) GetModel(ctx context.Context, id uuid.UUID) (Model, error) {
	return s.repo.GetModel(ctx, id)
}

// ListModels returns every model version.
func (s *Service) ListModels(ctx context.Context) ([]Model, error) {
	return s.repo.ListModels(ctx)
}
