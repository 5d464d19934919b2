package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"lead_lifecycle_engine/internal/lead"
	"lead_lifecycle_engine/platform/apperr"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const snapshotQuery = `
SELECT l.id, l.company, l.contact, l.source, l.status, l.qualification, l.behavior, l.custom,
       l.assigned_to, l.created_at, s.total_score, s.band
FROM leads l
LEFT JOIN lead_scores s ON s.lead_id = l.id`

type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ lead.Repository = (*Repository)(nil)

func (r *Repository) GetSnapshot(ctx context.Context, leadID uuid.UUID) (lead.Snapshot, error) {
	row := r.pool.QueryRow(ctx, snapshotQuery+` WHERE l.id = $1`, leadID)
	s, err := scanSnapshot(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return lead.Snapshot{}, apperr.NotFound("lead not found").WithDetail("leadId", leadID.String())
	}
	return s, err
}

func (r *Repository) ListOpen(ctx context.Context, params lead.ListParams) ([]lead.Snapshot, error) {
	limit := params.Limit
	if limit <= 0 {
		limit = 500
	}
	rows, err := r.pool.Query(ctx,
		snapshotQuery+` WHERE l.status NOT IN ('won', 'lost') ORDER BY l.created_at ASC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]lead.Snapshot, 0)
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, s)
	}
	return items, rows.Err()
}

func (r *Repository) UpdateStatus(ctx context.Context, leadID uuid.UUID, status string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE leads SET status = $2, updated_at = now() WHERE id = $1`, leadID, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("lead not found").WithDetail("leadId", leadID.String())
	}
	return nil
}

func (r *Repository) Upsert(ctx context.Context, s lead.Snapshot) (bool, error) {
	company, err := json.Marshal(s.Company)
	if err != nil {
		return false, fmt.Errorf("marshal company: %w", err)
	}
	contact, err := json.Marshal(s.Contact)
	if err != nil {
		return false, fmt.Errorf("marshal contact: %w", err)
	}
	behavior, err := json.Marshal(s.Behavior)
	if err != nil {
		return false, fmt.Errorf("marshal behavior: %w", err)
	}
	qualification, err := json.Marshal(nonNil(s.Qualification))
	if err != nil {
		return false, fmt.Errorf("marshal qualification: %w", err)
	}
	custom, err := json.Marshal(nonNil(s.Custom))
	if err != nil {
		return false, fmt.Errorf("marshal custom: %w", err)
	}
	createdAt := s.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	var inserted bool
	err = r.pool.QueryRow(ctx, `
		INSERT INTO leads (id, company, contact, source, status, qualification, behavior, custom, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			company = EXCLUDED.company,
			contact = EXCLUDED.contact,
			source = EXCLUDED.source,
			status = EXCLUDED.status,
			qualification = EXCLUDED.qualification,
			behavior = EXCLUDED.behavior,
			custom = EXCLUDED.custom,
			updated_at = now()
		RETURNING (xmax = 0)`,
		s.LeadID, company, contact, s.Source, s.Status, qualification, behavior, custom, createdAt,
	).Scan(&inserted)
	if err != nil {
		return false, err
	}
	return inserted, nil
}

func scanSnapshot(row pgx.Row) (lead.Snapshot, error) {
	var (
		s                                                   lead.Snapshot
		company, contact, qualification, behavior, custom []byte
		total                                               *int
		band                                                *string
	)
	if err := row.Scan(&s.LeadID, &company, &contact, &s.Source, &s.Status, &qualification, &behavior, &custom,
		&s.AssignedTo, &s.CreatedAt, &total, &band); err != nil {
		return lead.Snapshot{}, err
	}
	if err := json.Unmarshal(company, &s.Company); err != nil {
		return lead.Snapshot{}, fmt.Errorf("decode company: %w", err)
	}
	if err := json.Unmarshal(contact, &s.Contact); err != nil {
		return lead.Snapshot{}, fmt.Errorf("decode contact: %w", err)
	}
	if err := json.Unmarshal(behavior, &s.Behavior); err != nil {
		return lead.Snapshot{}, fmt.Errorf("decode behavior: %w", err)
	}
	if err := json.Unmarshal(qualification, &s.Qualification); err != nil {
		return lead.Snapshot{}, fmt.Errorf("decode qualification: %w", err)
	}
	if err := json.Unmarshal(custom, &s.Custom); err != nil {
		return lead.Snapshot{}, fmt.Errorf("decode custom: %w", err)
	}
	if total != nil && band != nil {
		s.Score = &lead.ScoreRef{Value: *total, Band: *band}
	}
	s.CapturedAt = time.Now().UTC()
	return s, nil
}

func nonNil(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
