package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"lead_lifecycle_engine/internal/routing"
	"lead_lifecycle_engine/platform/apperr"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const ruleColumns = `id, name, priority, conditions, actions, sla_hours, is_active, created_at, updated_at`

type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// =============================================================================
// Rules
// =============================================================================

func (r *Repository) ListActiveRules(ctx context.Context) ([]routing.Rule, error) {
	return r.queryRules(ctx, `SELECT `+ruleColumns+` FROM assignment_rules WHERE is_active ORDER BY priority ASC, created_at ASC`)
}

func (r *Repository) ListRules(ctx context.Context) ([]routing.Rule, error) {
	return r.queryRules(ctx, `SELECT `+ruleColumns+` FROM assignment_rules ORDER BY priority ASC, created_at ASC`)
}

func (r *Repository) queryRules(ctx context.Context, query string) ([]routing.Rule, error) {
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]routing.Rule, 0)
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, rule)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return items, nil
}

func (r *Repository) GetRule(ctx context.Context, id uuid.UUID) (routing.Rule, error) {
	rule, err := scanRule(r.pool.QueryRow(ctx, `SELECT `+ruleColumns+` FROM assignment_rules WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return routing.Rule{}, apperr.NotFound("assignment rule not found").WithDetail("ruleId", id.String())
	}
	return rule, err
}

func (r *Repository) CreateRule(ctx context.Context, rule routing.Rule) error {
	conditions, actionsJSON, err := encodeRule(rule)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO assignment_rules (id, name, priority, conditions, actions, sla_hours, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, rule.ID, rule.Name, rule.Priority, conditions, actionsJSON, rule.SLAHours, rule.IsActive, rule.CreatedAt, rule.UpdatedAt)
	return err
}

func (r *Repository) UpdateRule(ctx context.Context, rule routing.Rule) error {
	conditions, actionsJSON, err := encodeRule(rule)
	if err != nil {
		return err
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE assignment_rules
		SET name = $2, priority = $3, conditions = $4, actions = $5, sla_hours = $6, is_active = $7, updated_at = $8
		WHERE id = $1
	`, rule.ID, rule.Name, rule.Priority, conditions, actionsJSON, rule.SLAHours, rule.IsActive, rule.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("assignment rule not found").WithDetail("ruleId", rule.ID.String())
	}
	return nil
}

func (r *Repository) SetRuleActive(ctx context.Context, id uuid.UUID, active bool) error {
	tag, err := r.pool.Exec(ctx, `UPDATE assignment_rules SET is_active = $2, updated_at = now() WHERE id = $1`, id, active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("assignment rule not found").WithDetail("ruleId", id.String())
	}
	return nil
}

// =============================================================================
// Owners and workloads
// =============================================================================

func (r *Repository) GetOwner(ctx context.Context, id uuid.UUID) (routing.Owner, error) {
	var o routing.Owner
	err := r.pool.QueryRow(ctx, `SELECT id, name, email, phone, roles, is_active FROM owners WHERE id = $1`, id).
		Scan(&o.ID, &o.Name, &o.Email, &o.Phone, &o.Roles, &o.IsActive)
	if errors.Is(err, pgx.ErrNoRows) {
		return routing.Owner{}, apperr.NotFound("owner not found").WithDetail("ownerId", id.String())
	}
	return o, err
}

func (r *Repository) ListOwners(ctx context.Context, activeOnly bool) ([]routing.Owner, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, email, phone, roles, is_active
		FROM owners
		WHERE ($1 = false OR is_active)
		ORDER BY name ASC
	`, activeOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]routing.Owner, 0)
	for rows.Next() {
		var o routing.Owner
		if err := rows.Scan(&o.ID, &o.Name, &o.Email, &o.Phone, &o.Roles, &o.IsActive); err != nil {
			return nil, err
		}
		items = append(items, o)
	}
	return items, rows.Err()
}

func (r *Repository) UpsertOwner(ctx context.Context, o routing.Owner) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `
		INSERT INTO owners (id, name, email, phone, roles, is_active)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name, email = EXCLUDED.email, phone = EXCLUDED.phone,
		    roles = EXCLUDED.roles, is_active = EXCLUDED.is_active
	`, o.ID, o.Name, o.Email, o.Phone, o.Roles, o.IsActive); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `INSERT INTO owner_workloads (owner_id) VALUES ($1) ON CONFLICT (owner_id) DO NOTHING`, o.ID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *Repository) ListWorkloads(ctx context.Context) ([]routing.Workload, error) {
	rows, err := r.pool.Query(ctx, `SELECT owner_id, active_count, workload_score, idle_since FROM owner_workloads`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]routing.Workload, 0)
	for rows.Next() {
		var w routing.Workload
		if err := rows.Scan(&w.OwnerID, &w.ActiveCount, &w.Score, &w.IdleSince); err != nil {
			return nil, err
		}
		items = append(items, w)
	}
	return items, rows.Err()
}

// =============================================================================
// Assignments and SLA
// =============================================================================

func (r *Repository) GetCurrentAssignment(ctx context.Context, leadID uuid.UUID) (routing.CurrentAssignment, error) {
	var (
		a      routing.CurrentAssignment
		method string
	)
	err := r.pool.QueryRow(ctx, `
		SELECT lead_id, owner_id, weight, method, reason, rule_id, assigned_at
		FROM lead_assignments
		WHERE lead_id = $1
	`, leadID).Scan(&a.LeadID, &a.OwnerID, &a.Weight, &method, &a.Reason, &a.RuleID, &a.AssignedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return routing.CurrentAssignment{}, apperr.NotFound("lead is not assigned").WithDetail("leadId", leadID.String())
	}
	a.Method = routing.Method(method)
	return a, err
}

func (r *Repository) ApplyAssignment(ctx context.Context, p routing.ApplyParams) (*uuid.UUID, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var (
		previous       *uuid.UUID
		previousWeight float64
	)
	var prevOwner uuid.UUID
	err = tx.QueryRow(ctx, `SELECT owner_id, weight FROM lead_assignments WHERE lead_id = $1 FOR UPDATE`, p.LeadID).
		Scan(&prevOwner, &previousWeight)
	switch {
	case err == nil:
		previous = &prevOwner
	case errors.Is(err, pgx.ErrNoRows):
	default:
		return nil, err
	}

	if previous != nil && *previous == p.OwnerID {
		// Same owner: only the weight moves; the owner never became idle.
		if _, err := tx.Exec(ctx, `
			UPDATE owner_workloads
			SET workload_score = GREATEST(workload_score - $2 + $3, 0), updated_at = now()
			WHERE owner_id = $1
		`, p.OwnerID, previousWeight, p.Weight); err != nil {
			return nil, err
		}
	} else {
		if previous != nil {
			if err := decrementWorkload(ctx, tx, *previous, previousWeight, p.AssignedAt); err != nil {
				return nil, err
			}
		}
		if err := incrementWorkload(ctx, tx, p.OwnerID, p.Weight); err != nil {
			return nil, err
		}
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO lead_assignments (lead_id, owner_id, weight, method, reason, rule_id, assigned_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (lead_id) DO UPDATE
		SET owner_id = EXCLUDED.owner_id, weight = EXCLUDED.weight, method = EXCLUDED.method,
		    reason = EXCLUDED.reason, rule_id = EXCLUDED.rule_id, assigned_at = EXCLUDED.assigned_at
	`, p.LeadID, p.OwnerID, p.Weight, string(p.Method), p.Reason, p.RuleID, p.AssignedAt); err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO sla_states (lead_id, owner_id, assigned_at, sla_deadline, is_overdue, escalated_at)
		VALUES ($1, $2, $3, $4, false, NULL)
		ON CONFLICT (lead_id) DO UPDATE
		SET owner_id = EXCLUDED.owner_id, assigned_at = EXCLUDED.assigned_at,
		    sla_deadline = EXCLUDED.sla_deadline, is_overdue = false, escalated_at = NULL
	`, p.LeadID, p.OwnerID, p.AssignedAt, p.Deadline); err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO assignment_history (id, lead_id, owner_id, previous_owner_id, method, reason, rule_id, actor, assigned_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, uuid.New(), p.LeadID, p.OwnerID, previous, string(p.Method), p.Reason, p.RuleID, p.Actor, p.AssignedAt); err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx, `UPDATE leads SET assigned_to = $2, updated_at = now() WHERE id = $1`, p.LeadID, p.OwnerID); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return previous, nil
}

func (r *Repository) ReleaseAssignment(ctx context.Context, leadID uuid.UUID, at time.Time) (bool, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var (
		ownerID uuid.UUID
		weight  float64
	)
	err = tx.QueryRow(ctx, `DELETE FROM lead_assignments WHERE lead_id = $1 RETURNING owner_id, weight`, leadID).Scan(&ownerID, &weight)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := decrementWorkload(ctx, tx, ownerID, weight, at); err != nil {
		return false, err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM sla_states WHERE lead_id = $1`, leadID); err != nil {
		return false, err
	}
	if _, err := tx.Exec(ctx, `UPDATE leads SET assigned_to = NULL, updated_at = now() WHERE id = $1`, leadID); err != nil {
		return false, err
	}
	return true, tx.Commit(ctx)
}

func incrementWorkload(ctx context.Context, tx pgx.Tx, ownerID uuid.UUID, weight float64) error {
	tag, err := tx.Exec(ctx, `
		UPDATE owner_workloads
		SET active_count = active_count + 1, workload_score = workload_score + $2, updated_at = now()
		WHERE owner_id = $1
	`, ownerID, weight)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		_, err = tx.Exec(ctx, `
			INSERT INTO owner_workloads (owner_id, active_count, workload_score) VALUES ($1, 1, $2)
		`, ownerID, weight)
	}
	return err
}

func decrementWorkload(ctx context.Context, tx pgx.Tx, ownerID uuid.UUID, weight float64, at time.Time) error {
	_, err := tx.Exec(ctx, `
		UPDATE owner_workloads
		SET active_count = GREATEST(active_count - 1, 0),
		    workload_score = GREATEST(workload_score - $2, 0),
		    idle_since = $3,
		    updated_at = now()
		WHERE owner_id = $1
	`, ownerID, weight, at)
	return err
}

func (r *Repository) ClearSLA(ctx context.Context, leadID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM sla_states WHERE lead_id = $1`, leadID)
	return err
}

func (r *Repository) GetSLA(ctx context.Context, leadID uuid.UUID) (routing.SLAState, error) {
	var s routing.SLAState
	err := r.pool.QueryRow(ctx, `
		SELECT lead_id, owner_id, assigned_at, sla_deadline, is_overdue, escalated_at
		FROM sla_states
		WHERE lead_id = $1
	`, leadID).Scan(&s.LeadID, &s.OwnerID, &s.AssignedAt, &s.Deadline, &s.IsOverdue, &s.EscalatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return routing.SLAState{}, apperr.NotFound("no SLA state for lead").WithDetail("leadId", leadID.String())
	}
	return s, err
}

func (r *Repository) ListDueSLAs(ctx context.Context, now time.Time, limit int) ([]routing.SLAState, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT lead_id, owner_id, assigned_at, sla_deadline, is_overdue, escalated_at
		FROM sla_states
		WHERE escalated_at IS NULL AND sla_deadline < $1
		ORDER BY sla_deadline ASC
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]routing.SLAState, 0)
	for rows.Next() {
		var s routing.SLAState
		if err := rows.Scan(&s.LeadID, &s.OwnerID, &s.AssignedAt, &s.Deadline, &s.IsOverdue, &s.EscalatedAt); err != nil {
			return nil, err
		}
		items = append(items, s)
	}
	return items, rows.Err()
}

func (r *Repository) MarkEscalated(ctx context.Context, leadID, ownerID uuid.UUID, at time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE sla_states
		SET escalated_at = $2, is_overdue = true
		WHERE lead_id = $1
		  AND owner_id = $3
		  AND escalated_at IS NULL
		  AND sla_deadline < $2
	`, leadID, at, ownerID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *Repository) ListHistory(ctx context.Context, leadID uuid.UUID) ([]routing.HistoryEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, lead_id, owner_id, previous_owner_id, method, reason, rule_id, actor, assigned_at
		FROM assignment_history
		WHERE lead_id = $1
		ORDER BY assigned_at DESC
	`, leadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]routing.HistoryEntry, 0)
	for rows.Next() {
		var (
			h      routing.HistoryEntry
			method string
		)
		if err := rows.Scan(&h.ID, &h.LeadID, &h.OwnerID, &h.PreviousOwnerID, &method, &h.Reason, &h.RuleID, &h.Actor, &h.AssignedAt); err != nil {
			return nil, err
		}
		h.Method = routing.Method(method)
		items = append(items, h)
	}
	return items, rows.Err()
}

func encodeRule(rule routing.Rule) ([]byte, []byte, error) {
	conditions, err := json.Marshal(rule.Conditions)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal rule conditions: %w", err)
	}
	actionsJSON, err := json.Marshal(rule.Actions)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal rule actions: %w", err)
	}
	return conditions, actionsJSON, nil
}

func scanRule(row pgx.Row) (routing.Rule, error) {
	var (
		rule                routing.Rule
		conditions, actions []byte
	)
	if err := row.Scan(&rule.ID, &rule.Name, &rule.Priority, &conditions, &actions, &rule.SLAHours, &rule.IsActive, &rule.CreatedAt, &rule.UpdatedAt); err != nil {
		return routing.Rule{}, err
	}
	if err := json.Unmarshal(conditions, &rule.Conditions); err != nil {
		return routing.Rule{}, fmt.Errorf("decode rule conditions: %w", err)
	}
	if err := json.Unmarshal(actions, &rule.Actions); err != nil {
		return routing.Rule{}, fmt.Errorf("decode rule actions: %w", err)
	}
	return rule, nil
}

var _ routing.Repository = (*Repository)(nil)
