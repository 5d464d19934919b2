package repository

import (
	"context"
	"encoding/json"

	"lead_lifecycle_engine/internal/audit"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository stores audit entries in Postgres.
type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Write(ctx context.Context, entry audit.Entry) error {
	details, err := json.Marshal(entry.Details)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO audit_log (id, entity_type, entity_id, lead_id, action, actor, details, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, entry.ID, entry.EntityType, entry.EntityID, entry.LeadID, entry.Action, entry.Actor, details, entry.OccurredAt)
	return err
}

// ListForLead returns the newest entries first.
func (r *Repository) ListForLead(ctx context.Context, leadID uuid.UUID, limit int) ([]audit.Entry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, entity_type, entity_id, lead_id, action, actor, details, occurred_at
		FROM audit_log
		WHERE lead_id = $1
		ORDER BY occurred_at DESC
		LIMIT $2
	`, leadID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]audit.Entry, 0)
	for rows.Next() {
		var (
			e       audit.Entry
			details []byte
		)
		if err := rows.Scan(&e.ID, &e.EntityType, &e.EntityID, &e.LeadID, &e.Action, &e.Actor, &details, &e.OccurredAt); err != nil {
			return nil, err
		}
		if len(details) > 0 {
			if err := json.Unmarshal(details, &e.Details); err != nil {
				return nil, err
			}
		}
		items = append(items, e)
	}
	return items, rows.Err()
}

var _ audit.Writer = (*Repository)(nil)
