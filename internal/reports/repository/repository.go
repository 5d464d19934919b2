package repository

import (
	"context"
	"errors"
	"time"

	"lead_lifecycle_engine/internal/reports"
	"lead_lifecycle_engine/platform/apperr"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const reportColumns = `id, name, schedule, kind, is_active, last_run_at, created_at, updated_at`

type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ reports.Repository = (*Repository)(nil)

func (r *Repository) CreateReport(ctx context.Context, d reports.Definition) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO scheduled_reports (id, name, schedule, kind, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, d.ID, d.Name, d.Schedule, string(d.Kind), d.IsActive, d.CreatedAt, d.UpdatedAt)
	return err
}

func (r *Repository) UpdateReport(ctx context.Context, d reports.Definition) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE scheduled_reports
		SET name = $2, schedule = $3, kind = $4, is_active = $5, updated_at = $6
		WHERE id = $1
	`, d.ID, d.Name, d.Schedule, string(d.Kind), d.IsActive, d.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("report not found").WithDetail("reportId", d.ID.String())
	}
	return nil
}

func (r *Repository) GetReport(ctx context.Context, id uuid.UUID) (reports.Definition, error) {
	d, err := scanReport(r.pool.QueryRow(ctx, `SELECT `+reportColumns+` FROM scheduled_reports WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return reports.Definition{}, apperr.NotFound("report not found").WithDetail("reportId", id.String())
	}
	return d, err
}

func (r *Repository) ListReports(ctx context.Context) ([]reports.Definition, error) {
	return r.query(ctx, `SELECT `+reportColumns+` FROM scheduled_reports ORDER BY name ASC`)
}

func (r *Repository) ListActiveReports(ctx context.Context) ([]reports.Definition, error) {
	return r.query(ctx, `SELECT `+reportColumns+` FROM scheduled_reports WHERE is_active ORDER BY name ASC`)
}

func (r *Repository) RecordReportRun(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.pool.Exec(ctx, `UPDATE scheduled_reports SET last_run_at = $2 WHERE id = $1`, id, at)
	return err
}

func (r *Repository) query(ctx context.Context, query string, args ...any) ([]reports.Definition, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]reports.Definition, 0)
	for rows.Next() {
		d, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, d)
	}
	return items, rows.Err()
}

func scanReport(row pgx.Row) (reports.Definition, error) {
	var (
		d    reports.Definition
		kind string
	)
	if err := row.Scan(&d.ID, &d.Name, &d.Schedule, &kind, &d.IsActive, &d.LastRunAt, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return reports.Definition{}, err
	}
	d.Kind = reports.Kind(kind)
	return d, nil
}
