package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"lead_lifecycle_engine/internal/scoring"
	"lead_lifecycle_engine/platform/apperr"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const modelColumns = `id, name, version, groups, bands, is_active, superseded_by, created_at, updated_at`

type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) CreateModel(ctx context.Context, m scoring.Model) error {
	groups, bands, err := encodeModel(m)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO scoring_models (id, name, version, groups, bands, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, m.ID, m.Name, m.Version, groups, bands, m.IsActive, m.CreatedAt, m.UpdatedAt)
	return err
}

func (r *Repository) UpdateModel(ctx context.Context, m scoring.Model) error {
	groups, bands, err := encodeModel(m)
	if err != nil {
		return err
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE scoring_models
		SET name = $2, groups = $3, bands = $4, updated_at = $5
		WHERE id = $1 AND superseded_by IS NULL
	`, m.ID, m.Name, groups, bands, m.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("scoring model not found").WithDetail("modelId", m.ID.String())
	}
	return nil
}

func (r *Repository) SupersedeModel(ctx context.Context, previous, next scoring.Model) error {
	groups, bands, err := encodeModel(next)
	if err != nil {
		return err
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Lock the previous version so concurrent supersedes of the same model conflict.
	var supersededBy *uuid.UUID
	if err := tx.QueryRow(ctx, `SELECT superseded_by FROM scoring_models WHERE id = $1 FOR UPDATE`, previous.ID).Scan(&supersededBy); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperr.NotFound("scoring model not found").WithDetail("modelId", previous.ID.String())
		}
		return err
	}
	if supersededBy != nil {
		return apperr.Conflict("scoring model already superseded").WithDetail("supersededBy", supersededBy.String())
	}

	// Release the active slot first; the unique partial index allows one active row.
	if _, err := tx.Exec(ctx, `UPDATE scoring_models SET is_active = false, updated_at = now() WHERE id = $1`, previous.ID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO scoring_models (id, name, version, groups, bands, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, next.ID, next.Name, next.Version, groups, bands, next.IsActive, next.CreatedAt, next.UpdatedAt); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `UPDATE scoring_models SET superseded_by = $2 WHERE id = $1`, previous.ID, next.ID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *Repository) GetModel(ctx context.Context, id uuid.UUID) (scoring.Model, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+modelColumns+` FROM scoring_models WHERE id = $1`, id)
	m, err := scanModel(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return scoring.Model{}, apperr.NotFound("scoring model not found").WithDetail("modelId", id.String())
	}
	return m, err
}

func (r *Repository) GetActiveModel(ctx context.Context) (scoring.Model, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+modelColumns+` FROM scoring_models WHERE is_active`)
	m, err := scanModel(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return scoring.Model{}, apperr.NotFound("no active scoring model")
	}
	return m, err
}

func (r *Repository) ListModels(ctx context.Context) ([]scoring.Model, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+modelColumns+` FROM scoring_models ORDER BY name ASC, version DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]scoring.Model, 0)
	for rows.Next() {
		m, err := scanModel(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, m)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return items, nil
}

func (r *Repository) ActivateModel(ctx context.Context, id uuid.UUID) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `UPDATE scoring_models SET is_active = false, updated_at = now() WHERE is_active AND id <> $1`, id); err != nil {
		return err
	}
	tag, err := tx.Exec(ctx, `UPDATE scoring_models SET is_active = true, updated_at = now() WHERE id = $1 AND superseded_by IS NULL`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("scoring model not found").WithDetail("modelId", id.String())
	}
	return tx.Commit(ctx)
}

func (r *Repository) IsModelReferenced(ctx context.Context, id uuid.UUID) (bool, error) {
	var referenced bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM lead_scores WHERE model_id = $1)
		    OR EXISTS (SELECT 1 FROM lead_score_history WHERE model_id = $1)
	`, id).Scan(&referenced)
	return referenced, err
}

func (r *Repository) GetScore(ctx context.Context, leadID uuid.UUID) (scoring.Score, error) {
	var (
		s         scoring.Score
		breakdown []byte
	)
	err := r.pool.QueryRow(ctx, `
		SELECT lead_id, model_id, model_version, total_score, band, breakdown, calculated_at
		FROM lead_scores
		WHERE lead_id = $1
	`, leadID).Scan(&s.LeadID, &s.ModelID, &s.ModelVersion, &s.Total, &s.Band, &breakdown, &s.CalculatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return scoring.Score{}, apperr.NotFound("lead score not found").WithDetail("leadId", leadID.String())
	}
	if err != nil {
		return scoring.Score{}, err
	}
	if err := json.Unmarshal(breakdown, &s.Breakdown); err != nil {
		return scoring.Score{}, fmt.Errorf("decode score breakdown: %w", err)
	}
	return s, nil
}

func (r *Repository) SaveScore(ctx context.Context, s scoring.Score) error {
	breakdown, err := json.Marshal(s.Breakdown)
	if err != nil {
		return fmt.Errorf("marshal score breakdown: %w", err)
	}

	batch := &pgx.Batch{}
	batch.Queue(`
		INSERT INTO lead_scores (lead_id, model_id, model_version, total_score, band, breakdown, calculated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (lead_id) DO UPDATE
		SET model_id = EXCLUDED.model_id,
		    model_version = EXCLUDED.model_version,
		    total_score = EXCLUDED.total_score,
		    band = EXCLUDED.band,
		    breakdown = EXCLUDED.breakdown,
		    calculated_at = EXCLUDED.calculated_at
	`, s.LeadID, s.ModelID, s.ModelVersion, s.Total, s.Band, breakdown, s.CalculatedAt)
	batch.Queue(`
		INSERT INTO lead_score_history (lead_id, model_id, model_version, total_score, band, breakdown, calculated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, s.LeadID, s.ModelID, s.ModelVersion, s.Total, s.Band, breakdown, s.CalculatedAt)

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func encodeModel(m scoring.Model) ([]byte, []byte, error) {
	groups, err := json.Marshal(m.Groups)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal model groups: %w", err)
	}
	bands, err := json.Marshal(m.Bands)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal model bands: %w", err)
	}
	return groups, bands, nil
}

func scanModel(row pgx.Row) (scoring.Model, error) {
	var (
		m             scoring.Model
		groups, bands []byte
	)
	if err := row.Scan(&m.ID, &m.Name, &m.Version, &groups, &bands, &m.IsActive, &m.SupersededBy, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return scoring.Model{}, err
	}
	if err := json.Unmarshal(groups, &m.Groups); err != nil {
		return scoring.Model{}, fmt.Errorf("decode model groups: %w", err)
	}
	if err := json.Unmarshal(bands, &m.Bands); err != nil {
		return scoring.Model{}, fmt.Errorf("decode model bands: %w", err)
	}
	return m, nil
}

var _ scoring.Repository = (*Repository)(nil)
