package repository

import (
	"context"
	"errors"
	"time"

	"lead_lifecycle_engine/internal/notification"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const errRepoNotConfigured = "outbox repository not configured"

const messageColumns = `id, channel, recipient, subject, body, lead_id, kind, status, attempts, last_error, created_at, sent_at`

type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ notification.Outbox = (*Repository)(nil)

func (r *Repository) Enqueue(ctx context.Context, m notification.Message) error {
	if r == nil || r.pool == nil {
		return errors.New(errRepoNotConfigured)
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO notification_outbox (id, channel, recipient, subject, body, lead_id, kind, status, attempts, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0, $9)`,
		m.ID, string(m.Channel), m.Recipient, m.Subject, m.Body, m.LeadID, m.Kind, string(m.Status), m.CreatedAt,
	)
	return err
}

func (r *Repository) ClaimPending(ctx context.Context, limit int) ([]notification.Message, error) {
	if r == nil || r.pool == nil {
		return nil, errors.New(errRepoNotConfigured)
	}
	if limit < 1 {
		limit = 50
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `WITH cte AS (
		SELECT id
		FROM notification_outbox
		WHERE status = 'pending'
		ORDER BY created_at ASC
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	)
	UPDATE notification_outbox o
	SET status = 'sending', attempts = o.attempts + 1
	FROM cte
	WHERE o.id = cte.id
	RETURNING o.id, o.channel, o.recipient, o.subject, o.body, o.lead_id, o.kind, o.status, o.attempts, o.last_error, o.created_at, o.sent_at`, limit)
	if err != nil {
		return nil, err
	}
	results, err := collect(rows)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return results, nil
}

func (r *Repository) MarkSent(ctx context.Context, id uuid.UUID, at time.Time) error {
	if r == nil || r.pool == nil {
		return errors.New(errRepoNotConfigured)
	}
	_, err := r.pool.Exec(ctx,
		`UPDATE notification_outbox
		 SET status = 'sent', last_error = NULL, sent_at = $2
		 WHERE id = $1`,
		id, at,
	)
	return err
}

func (r *Repository) MarkPending(ctx context.Context, id uuid.UUID, lastError string) error {
	if r == nil || r.pool == nil {
		return errors.New(errRepoNotConfigured)
	}
	_, err := r.pool.Exec(ctx,
		`UPDATE notification_outbox
		 SET status = 'pending', last_error = $2
		 WHERE id = $1`,
		id, lastError,
	)
	return err
}

func (r *Repository) MarkFailed(ctx context.Context, id uuid.UUID, lastError string) error {
	if r == nil || r.pool == nil {
		return errors.New(errRepoNotConfigured)
	}
	_, err := r.pool.Exec(ctx,
		`UPDATE notification_outbox
		 SET status = 'failed', last_error = $2
		 WHERE id = $1`,
		id, lastError,
	)
	return err
}

func (r *Repository) List(ctx context.Context, leadID *uuid.UUID, limit int) ([]notification.Message, error) {
	if r == nil || r.pool == nil {
		return nil, errors.New(errRepoNotConfigured)
	}
	if limit < 1 || limit > 500 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx,
		`SELECT `+messageColumns+`
		 FROM notification_outbox
		 WHERE ($1::uuid IS NULL OR lead_id = $1)
		 ORDER BY created_at DESC
		 LIMIT $2`,
		leadID, limit,
	)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

func collect(rows pgx.Rows) ([]notification.Message, error) {
	defer rows.Close()

	var out []notification.Message
	for rows.Next() {
		var m notification.Message
		var channel, status string
		if err := rows.Scan(&m.ID, &channel, &m.Recipient, &m.Subject, &m.Body, &m.LeadID, &m.Kind,
			&status, &m.Attempts, &m.LastError, &m.CreatedAt, &m.SentAt); err != nil {
			return nil, err
		}
		m.Channel = notification.Channel(channel)
		m.Status = notification.Status(status)
		out = append(out, m)
	}
	return out, rows.Err()
}
