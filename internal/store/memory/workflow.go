package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"lead_lifecycle_engine/internal/workflow"
	"lead_lifecycle_engine/platform/apperr"

	"github.com/google/uuid"
)

// Workflows implements workflow.Repository.
type Workflows struct{ s *Store }

var _ workflow.Repository = (*Workflows)(nil)

func cloneDefinition(d workflow.Definition) workflow.Definition {
	out := d
	out.Conditions = append(out.Conditions[:0:0], d.Conditions...)
	out.Actions = append(out.Actions[:0:0], d.Actions...)
	out.LastExecutedAt = cloneTime(d.LastExecutedAt)
	return out
}

func cloneExecution(e workflow.Execution) workflow.Execution {
	out := e
	out.Context = cloneMap(e.Context)
	out.Actions = append(e.Actions[:0:0], e.Actions...)
	out.ExecutedActions = make([]workflow.ActionResult, len(e.ExecutedActions))
	for i, r := range e.ExecutedActions {
		r.Output = cloneMap(r.Output)
		out.ExecutedActions[i] = r
	}
	out.CompletedAt = cloneTime(e.CompletedAt)
	return out
}

func cloneApproval(a workflow.ApprovalRequest) workflow.ApprovalRequest {
	out := a
	out.RequestData = cloneMap(a.RequestData)
	out.Approver = cloneString(a.Approver)
	out.Reason = cloneString(a.Reason)
	out.RespondedAt = cloneTime(a.RespondedAt)
	return out
}

func (r *Workflows) CreateDefinition(_ context.Context, d workflow.Definition) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.definitions[d.ID] = cloneDefinition(d)
	return nil
}

func (r *Workflows) UpdateDefinition(_ context.Context, d workflow.Definition) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	prev, ok := r.s.definitions[d.ID]
	if !ok {
		return apperr.NotFound("workflow definition not found").WithDetail("workflowId", d.ID.String())
	}
	d.ExecutionCount = prev.ExecutionCount
	d.LastExecutedAt = prev.LastExecutedAt
	r.s.definitions[d.ID] = cloneDefinition(d)
	return nil
}

func (r *Workflows) GetDefinition(_ context.Context, id uuid.UUID) (workflow.Definition, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	d, ok := r.s.definitions[id]
	if !ok {
		return workflow.Definition{}, apperr.NotFound("workflow definition not found").WithDetail("workflowId", id.String())
	}
	return cloneDefinition(d), nil
}

func (r *Workflows) listDefinitions(keep func(workflow.Definition) bool) []workflow.Definition {
	out := make([]workflow.Definition, 0)
	for _, d := range r.s.definitions {
		if keep(d) {
			out = append(out, cloneDefinition(d))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (r *Workflows) ListDefinitions(context.Context) ([]workflow.Definition, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.listDefinitions(func(workflow.Definition) bool { return true }), nil
}

func (r *Workflows) ListActiveByEvent(_ context.Context, event string) ([]workflow.Definition, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.listDefinitions(func(d workflow.Definition) bool {
		return d.IsActive && !d.Trigger.IsScheduled() && d.Trigger.Event == event
	}), nil
}

func (r *Workflows) ListActiveScheduled(context.Context) ([]workflow.Definition, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.listDefinitions(func(d workflow.Definition) bool {
		return d.IsActive && d.Trigger.IsScheduled()
	}), nil
}

func (r *Workflows) RecordDefinitionRun(_ context.Context, id uuid.UUID, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	d, ok := r.s.definitions[id]
	if !ok {
		return nil
	}
	d.ExecutionCount++
	ranAt := at
	d.LastExecutedAt = &ranAt
	r.s.definitions[id] = d
	return nil
}

func (r *Workflows) CreateExecution(_ context.Context, e workflow.Execution) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.executions[e.ID]; ok {
		return apperr.Conflict("workflow execution already exists").WithDetail("executionId", e.ID.String())
	}
	r.s.executions[e.ID] = cloneExecution(e)
	return nil
}

func (r *Workflows) GetExecution(_ context.Context, id uuid.UUID) (workflow.Execution, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	e, ok := r.s.executions[id]
	if !ok {
		return workflow.Execution{}, apperr.NotFound("workflow execution not found").WithDetail("executionId", id.String())
	}
	return cloneExecution(e), nil
}

func (r *Workflows) UpdateExecution(_ context.Context, e workflow.Execution) (workflow.Execution, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.updateLocked(e)
}

func (r *Workflows) updateLocked(e workflow.Execution) (workflow.Execution, error) {
	current, ok := r.s.executions[e.ID]
	if !ok {
		return workflow.Execution{}, apperr.NotFound("workflow execution not found").WithDetail("executionId", e.ID.String())
	}
	if current.Version != e.Version {
		return workflow.Execution{}, apperr.Conflict("workflow execution was modified concurrently").
			WithDetail("executionId", e.ID.String()).
			WithDetail("version", e.Version)
	}
	e.Version++
	r.s.executions[e.ID] = cloneExecution(e)
	return cloneExecution(e), nil
}

func (r *Workflows) ListExecutions(_ context.Context, f workflow.ExecutionFilter) ([]workflow.Execution, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]workflow.Execution, 0)
	for _, e := range r.s.executions {
		if f.WorkflowID != nil && e.WorkflowID != *f.WorkflowID {
			continue
		}
		if f.LeadID != nil && e.LeadID != *f.LeadID {
			continue
		}
		if f.Status != nil && e.Status != *f.Status {
			continue
		}
		out = append(out, cloneExecution(e))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit := limitOrDefault(f.Limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *Workflows) SuspendForApproval(_ context.Context, e workflow.Execution, req workflow.ApprovalRequest) (workflow.Execution, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, a := range r.s.approvals {
		if a.ExecutionID == req.ExecutionID && a.Status == workflow.ApprovalPending {
			return workflow.Execution{}, apperr.Conflict("execution already has a pending approval request").
				WithDetail("executionId", e.ID.String())
		}
	}
	saved, err := r.updateLocked(e)
	if err != nil {
		return workflow.Execution{}, err
	}
	r.s.approvals[req.ID] = cloneApproval(req)
	return saved, nil
}

func (r *Workflows) GetApproval(_ context.Context, id uuid.UUID) (workflow.ApprovalRequest, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.approvals[id]
	if !ok {
		return workflow.ApprovalRequest{}, apperr.NotFound("approval request not found").WithDetail("approvalId", id.String())
	}
	return cloneApproval(a), nil
}

func (r *Workflows) ListApprovals(_ context.Context, f workflow.ApprovalFilter) ([]workflow.ApprovalRequest, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]workflow.ApprovalRequest, 0)
	for _, a := range r.s.approvals {
		if f.Status != nil && a.Status != *f.Status {
			continue
		}
		if f.LeadID != nil && a.LeadID != *f.LeadID {
			continue
		}
		out = append(out, cloneApproval(a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit := limitOrDefault(f.Limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *Workflows) ResolveApproval(_ context.Context, id uuid.UUID, res workflow.Resolution) (workflow.ApprovalRequest, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.approvals[id]
	if !ok {
		return workflow.ApprovalRequest{}, apperr.NotFound("approval request not found").WithDetail("approvalId", id.String())
	}
	if a.Status != workflow.ApprovalPending {
		return workflow.ApprovalRequest{}, apperr.Conflict(fmt.Sprintf("approval request already %s", a.Status)).
			WithDetail("approvalId", id.String())
	}
	at := res.At
	a.Status = res.Status
	a.Approver = cloneString(res.Approver)
	a.Reason = cloneString(res.Reason)
	a.RespondedAt = &at
	r.s.approvals[id] = a
	return cloneApproval(a), nil
}

func (r *Workflows) ListExpiredApprovals(_ context.Context, now time.Time, limit int) ([]workflow.ApprovalRequest, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]workflow.ApprovalRequest, 0)
	for _, a := range r.s.approvals {
		if a.Status == workflow.ApprovalPending && a.ExpiresAt.Before(now) {
			out = append(out, cloneApproval(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if l := limitOrDefault(limit); len(out) > l {
		out = out[:l]
	}
	return out, nil
}
