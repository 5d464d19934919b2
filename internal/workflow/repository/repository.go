package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"lead_lifecycle_engine/internal/workflow"
	"lead_lifecycle_engine/platform/apperr"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	definitionColumns = `id, name, trigger_event, trigger_schedule, conditions, actions, priority, is_active, execution_count, last_executed_at, created_at, updated_at`
	executionColumns  = `id, workflow_id, lead_id, triggered_by, status, context, actions, position, executed_actions, error, started_at, completed_at, version, updated_at`
	approvalColumns   = `id, execution_id, lead_id, requested_by, approver_role, approver, status, request_data, reason, responded_at, expires_at, created_at`
	uniqueViolation   = "23505"
)

type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// =============================================================================
// Definitions
// =============================================================================

func (r *Repository) CreateDefinition(ctx context.Context, d workflow.Definition) error {
	conditions, actionsJSON, err := encodeDefinition(d)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO workflow_definitions (id, name, trigger_event, trigger_schedule, conditions, actions, priority, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, d.ID, d.Name, nullable(d.Trigger.Event), nullable(d.Trigger.Schedule), conditions, actionsJSON, d.Priority, d.IsActive, d.CreatedAt, d.UpdatedAt)
	return err
}

func (r *Repository) UpdateDefinition(ctx context.Context, d workflow.Definition) error {
	conditions, actionsJSON, err := encodeDefinition(d)
	if err != nil {
		return err
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE workflow_definitions
		SET name = $2, trigger_event = $3, trigger_schedule = $4, conditions = $5, actions = $6,
		    priority = $7, is_active = $8, updated_at = $9
		WHERE id = $1
	`, d.ID, d.Name, nullable(d.Trigger.Event), nullable(d.Trigger.Schedule), conditions, actionsJSON, d.Priority, d.IsActive, d.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return definitionNotFound(d.ID)
	}
	return nil
}

func (r *Repository) GetDefinition(ctx context.Context, id uuid.UUID) (workflow.Definition, error) {
	d, err := scanDefinition(r.pool.QueryRow(ctx, `SELECT `+definitionColumns+` FROM workflow_definitions WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return workflow.Definition{}, definitionNotFound(id)
	}
	return d, err
}

func (r *Repository) ListDefinitions(ctx context.Context) ([]workflow.Definition, error) {
	return r.queryDefinitions(ctx, `SELECT `+definitionColumns+` FROM workflow_definitions ORDER BY priority ASC, name ASC`)
}

func (r *Repository) ListActiveByEvent(ctx context.Context, event string) ([]workflow.Definition, error) {
	return r.queryDefinitions(ctx, `
		SELECT `+definitionColumns+`
		FROM workflow_definitions
		WHERE is_active AND trigger_event = $1
		ORDER BY priority ASC, created_at ASC
	`, event)
}

func (r *Repository) ListActiveScheduled(ctx context.Context) ([]workflow.Definition, error) {
	return r.queryDefinitions(ctx, `
		SELECT `+definitionColumns+`
		FROM workflow_definitions
		WHERE is_active AND trigger_schedule IS NOT NULL
		ORDER BY priority ASC
	`)
}

func (r *Repository) queryDefinitions(ctx context.Context, query string, args ...any) ([]workflow.Definition, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]workflow.Definition, 0)
	for rows.Next() {
		d, err := scanDefinition(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, d)
	}
	return items, rows.Err()
}

func (r *Repository) RecordDefinitionRun(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE workflow_definitions
		SET execution_count = execution_count + 1, last_executed_at = $2
		WHERE id = $1
	`, id, at)
	return err
}

// =============================================================================
// Executions
// =============================================================================

func (r *Repository) CreateExecution(ctx context.Context, e workflow.Execution) error {
	execCtx, executed, err := encodeExecution(e)
	if err != nil {
		return err
	}
	actionsJSON, err := json.Marshal(e.Actions)
	if err != nil {
		return fmt.Errorf("marshal execution actions: %w", err)
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO workflow_executions (id, workflow_id, lead_id, triggered_by, status, context, actions, position, executed_actions, error, started_at, completed_at, version, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, e.ID, e.WorkflowID, e.LeadID, e.TriggeredBy, string(e.Status), execCtx, actionsJSON, e.Position, executed, nullable(e.Error), e.StartedAt, e.CompletedAt, e.Version, e.UpdatedAt)
	return err
}

func (r *Repository) GetExecution(ctx context.Context, id uuid.UUID) (workflow.Execution, error) {
	e, err := scanExecution(r.pool.QueryRow(ctx, `SELECT `+executionColumns+` FROM workflow_executions WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return workflow.Execution{}, apperr.NotFound("workflow execution not found").WithDetail("executionId", id.String())
	}
	return e, err
}

func (r *Repository) UpdateExecution(ctx context.Context, e workflow.Execution) (workflow.Execution, error) {
	return updateExecution(ctx, r.pool, e)
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func updateExecution(ctx context.Context, db execer, e workflow.Execution) (workflow.Execution, error) {
	execCtx, executed, err := encodeExecution(e)
	if err != nil {
		return workflow.Execution{}, err
	}
	tag, err := db.Exec(ctx, `
		UPDATE workflow_executions
		SET status = $3, context = $4, position = $5, executed_actions = $6, error = $7,
		    completed_at = $8, version = version + 1, updated_at = $9
		WHERE id = $1 AND version = $2
	`, e.ID, e.Version, string(e.Status), execCtx, e.Position, executed, nullable(e.Error), e.CompletedAt, e.UpdatedAt)
	if err != nil {
		return workflow.Execution{}, err
	}
	if tag.RowsAffected() == 0 {
		return workflow.Execution{}, apperr.Conflict("workflow execution was modified concurrently").
			WithDetail("executionId", e.ID.String()).
			WithDetail("version", e.Version)
	}
	e.Version++
	return e, nil
}

func (r *Repository) ListExecutions(ctx context.Context, f workflow.ExecutionFilter) ([]workflow.Execution, error) {
	var (
		where []string
		args  []any
	)
	if f.WorkflowID != nil {
		args = append(args, *f.WorkflowID)
		where = append(where, fmt.Sprintf("workflow_id = $%d", len(args)))
	}
	if f.LeadID != nil {
		args = append(args, *f.LeadID)
		where = append(where, fmt.Sprintf("lead_id = $%d", len(args)))
	}
	if f.Status != nil {
		args = append(args, string(*f.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	query := `SELECT ` + executionColumns + ` FROM workflow_executions`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, limitOrDefault(f.Limit))
	query += fmt.Sprintf(` ORDER BY started_at DESC LIMIT $%d`, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]workflow.Execution, 0)
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, e)
	}
	return items, rows.Err()
}

func (r *Repository) SuspendForApproval(ctx context.Context, e workflow.Execution, req workflow.ApprovalRequest) (workflow.Execution, error) {
	data, err := json.Marshal(req.RequestData)
	if err != nil {
		return workflow.Execution{}, fmt.Errorf("marshal approval request data: %w", err)
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return workflow.Execution{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	saved, err := updateExecution(ctx, tx, e)
	if err != nil {
		return workflow.Execution{}, err
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO approval_requests (id, execution_id, lead_id, requested_by, approver_role, status, request_data, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, req.ID, req.ExecutionID, req.LeadID, req.RequestedBy, req.ApproverRole, string(req.Status), data, req.ExpiresAt, req.CreatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return workflow.Execution{}, apperr.Conflict("execution already has a pending approval request").
				WithDetail("executionId", e.ID.String())
		}
		return workflow.Execution{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return workflow.Execution{}, err
	}
	return saved, nil
}

// =============================================================================
// Approvals
// =============================================================================

func (r *Repository) GetApproval(ctx context.Context, id uuid.UUID) (workflow.ApprovalRequest, error) {
	a, err := scanApproval(r.pool.QueryRow(ctx, `SELECT `+approvalColumns+` FROM approval_requests WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return workflow.ApprovalRequest{}, apperr.NotFound("approval request not found").WithDetail("approvalId", id.String())
	}
	return a, err
}

func (r *Repository) ListApprovals(ctx context.Context, f workflow.ApprovalFilter) ([]workflow.ApprovalRequest, error) {
	var (
		where []string
		args  []any
	)
	if f.Status != nil {
		args = append(args, string(*f.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.LeadID != nil {
		args = append(args, *f.LeadID)
		where = append(where, fmt.Sprintf("lead_id = $%d", len(args)))
	}
	query := `SELECT ` + approvalColumns + ` FROM approval_requests`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, limitOrDefault(f.Limit))
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, len(args))
	return r.queryApprovals(ctx, query, args...)
}

func (r *Repository) ResolveApproval(ctx context.Context, id uuid.UUID, res workflow.Resolution) (workflow.ApprovalRequest, error) {
	a, err := scanApproval(r.pool.QueryRow(ctx, `
		UPDATE approval_requests
		SET status = $2, approver = $3, reason = $4, responded_at = $5
		WHERE id = $1 AND status = 'pending'
		RETURNING `+approvalColumns,
		id, string(res.Status), res.Approver, res.Reason, res.At))
	if errors.Is(err, pgx.ErrNoRows) {
		current, getErr := r.GetApproval(ctx, id)
		if getErr != nil {
			return workflow.ApprovalRequest{}, getErr
		}
		return workflow.ApprovalRequest{}, apperr.Conflict(fmt.Sprintf("approval request already %s", current.Status)).
			WithDetail("approvalId", id.String())
	}
	return a, err
}

func (r *Repository) ListExpiredApprovals(ctx context.Context, now time.Time, limit int) ([]workflow.ApprovalRequest, error) {
	return r.queryApprovals(ctx, `
		SELECT `+approvalColumns+`
		FROM approval_requests
		WHERE status = 'pending' AND expires_at < $1
		ORDER BY expires_at ASC
		LIMIT $2
	`, now, limitOrDefault(limit))
}

func (r *Repository) queryApprovals(ctx context.Context, query string, args ...any) ([]workflow.ApprovalRequest, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]workflow.ApprovalRequest, 0)
	for rows.Next() {
		a, err := scanApproval(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

// =============================================================================
// Scanning helpers
// =============================================================================

func scanDefinition(row pgx.Row) (workflow.Definition, error) {
	var (
		d                   workflow.Definition
		event, schedule     *string
		conditions, actions []byte
	)
	if err := row.Scan(&d.ID, &d.Name, &event, &schedule, &conditions, &actions, &d.Priority, &d.IsActive, &d.ExecutionCount, &d.LastExecutedAt, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return workflow.Definition{}, err
	}
	if event != nil {
		d.Trigger.Event = *event
	}
	if schedule != nil {
		d.Trigger.Schedule = *schedule
	}
	if err := json.Unmarshal(conditions, &d.Conditions); err != nil {
		return workflow.Definition{}, fmt.Errorf("decode workflow conditions: %w", err)
	}
	if err := json.Unmarshal(actions, &d.Actions); err != nil {
		return workflow.Definition{}, fmt.Errorf("decode workflow actions: %w", err)
	}
	return d, nil
}

func scanExecution(row pgx.Row) (workflow.Execution, error) {
	var (
		e                              workflow.Execution
		status                         string
		execCtx, actionsJSON, executed []byte
		errMsg                         *string
	)
	if err := row.Scan(&e.ID, &e.WorkflowID, &e.LeadID, &e.TriggeredBy, &status, &execCtx, &actionsJSON, &e.Position, &executed, &errMsg, &e.StartedAt, &e.CompletedAt, &e.Version, &e.UpdatedAt); err != nil {
		return workflow.Execution{}, err
	}
	e.Status = workflow.Status(status)
	if errMsg != nil {
		e.Error = *errMsg
	}
	if err := json.Unmarshal(execCtx, &e.Context); err != nil {
		return workflow.Execution{}, fmt.Errorf("decode execution context: %w", err)
	}
	if e.Context == nil {
		e.Context = map[string]any{}
	}
	if err := json.Unmarshal(actionsJSON, &e.Actions); err != nil {
		return workflow.Execution{}, fmt.Errorf("decode execution actions: %w", err)
	}
	if err := json.Unmarshal(executed, &e.ExecutedActions); err != nil {
		return workflow.Execution{}, fmt.Errorf("decode executed actions: %w", err)
	}
	return e, nil
}

func scanApproval(row pgx.Row) (workflow.ApprovalRequest, error) {
	var (
		a      workflow.ApprovalRequest
		status string
		data   []byte
	)
	if err := row.Scan(&a.ID, &a.ExecutionID, &a.LeadID, &a.RequestedBy, &a.ApproverRole, &a.Approver, &status, &data, &a.Reason, &a.RespondedAt, &a.ExpiresAt, &a.CreatedAt); err != nil {
		return workflow.ApprovalRequest{}, err
	}
	a.Status = workflow.ApprovalStatus(status)
	if err := json.Unmarshal(data, &a.RequestData); err != nil {
		return workflow.ApprovalRequest{}, fmt.Errorf("decode approval request data: %w", err)
	}
	return a, nil
}

func encodeDefinition(d workflow.Definition) ([]byte, []byte, error) {
	conditions, err := json.Marshal(d.Conditions)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal workflow conditions: %w", err)
	}
	actionsJSON, err := json.Marshal(d.Actions)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal workflow actions: %w", err)
	}
	return conditions, actionsJSON, nil
}

func encodeExecution(e workflow.Execution) ([]byte, []byte, error) {
	execCtx, err := json.Marshal(e.Context)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal execution context: %w", err)
	}
	executed, err := json.Marshal(e.ExecutedActions)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal executed actions: %w", err)
	}
	return execCtx, executed, nil
}

func definitionNotFound(id uuid.UUID) error {
	return apperr.NotFound("workflow definition not found").WithDetail("workflowId", id.String())
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func limitOrDefault(limit int) int {
	if limit < 1 || limit > 500 {
		return 100
	}
	return limit
}

var _ workflow.Repository = (*Repository)(nil)
