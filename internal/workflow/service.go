// Package workflow executes trigger -> condition -> action chains as a
// persisted state machine with an approval gate. The execution record is
// the only state carried across a suspension.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"lead_lifecycle_engine/internal/actions"
	"lead_lifecycle_engine/internal/audit"
	"lead_lifecycle_engine/internal/events"
	"lead_lifecycle_engine/internal/lead"
	"lead_lifecycle_engine/platform/apperr"
	"lead_lifecycle_engine/platform/logger"

	"github.com/google/uuid"
)

// Repository persists definitions, executions and approval requests.
type Repository interface {
	CreateDefinition(ctx context.Context, d Definition) error
	UpdateDefinition(ctx context.Context, d Definition) error
	GetDefinition(ctx context.Context, id uuid.UUID) (Definition, error)
	ListDefinitions(ctx context.Context) ([]Definition, error)
	// ListActiveByEvent returns active event-triggered definitions in
	// ascending priority order.
	ListActiveByEvent(ctx context.Context, event string) ([]Definition, error)
	ListActiveScheduled(ctx context.Context) ([]Definition, error)
	RecordDefinitionRun(ctx context.Context, id uuid.UUID, at time.Time) error

	CreateExecution(ctx context.Context, e Execution) error
	GetExecution(ctx context.Context, id uuid.UUID) (Execution, error)
	// UpdateExecution writes e when the stored version equals e.Version and
	// returns the record with the incremented version. A stale version is
	// a Conflict.
	UpdateExecution(ctx context.Context, e Execution) (Execution, error)
	ListExecutions(ctx context.Context, f ExecutionFilter) ([]Execution, error)
	// SuspendForApproval updates e (as UpdateExecution) and inserts req in
	// one transaction.
	SuspendForApproval(ctx context.Context, e Execution, req ApprovalRequest) (Execution, error)

	GetApproval(ctx context.Context, id uuid.UUID) (ApprovalRequest, error)
	ListApprovals(ctx context.Context, f ApprovalFilter) ([]ApprovalRequest, error)
	// ResolveApproval moves a pending request to r.Status; a request that
	// is no longer pending is a Conflict.
	ResolveApproval(ctx context.Context, id uuid.UUID, r Resolution) (ApprovalRequest, error)
	ListExpiredApprovals(ctx context.Context, now time.Time, limit int) ([]ApprovalRequest, error)
}

// ActionExecutor runs every non-approval action. The returned map is merged
// into the execution context.
type ActionExecutor interface {
	ExecuteAction(ctx context.Context, exec Execution, snapshot lead.Snapshot, action actions.Action) (map[string]any, error)
}

// ApprovalNotifier tells approvers a decision is needed.
type ApprovalNotifier interface {
	NotifyApprovalRequested(ctx context.Context, req ApprovalRequest) error
}

// TriggerRegistrar keeps the scheduler in step with scheduled definitions.
type TriggerRegistrar interface {
	RegisterWorkflow(def Definition) error
	UnregisterWorkflow(id uuid.UUID)
}

// Options tunes the service.
type Options struct {
	ApprovalTTL    time.Duration
	SweepBatchSize int
	Now            func() time.Time
}

// Service is the workflow engine.
type Service struct {
	repo      Repository
	leads     lead.Store
	executor  ActionExecutor
	bus       events.Bus
	audit     audit.Writer
	notifier  ApprovalNotifier
	registrar TriggerRegistrar
	log       *logger.Logger
	opts      Options
}

// New creates a workflow service. executor and registrar are wired with
// SetExecutor and SetRegistrar by the composition root.
func New(repo Repository, leads lead.Store, bus events.Bus, auditWriter audit.Writer, notifier ApprovalNotifier, log *logger.Logger, opts Options) *Service {
	if opts.ApprovalTTL <= 0 {
		opts.ApprovalTTL = 72 * time.Hour
	}
	if opts.SweepBatchSize <= 0 {
		opts.SweepBatchSize = 500
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Service{
		repo:     repo,
		leads:    leads,
		bus:      bus,
		audit:    auditWriter,
		notifier: notifier,
		log:      log.WithComponent("workflow"),
		opts:     opts,
	}
}

// SetExecutor wires the action executor.
func (s *Service) SetExecutor(e ActionExecutor) { s.executor = e }

// SetRegistrar wires the scheduler registration.
func (s *Service) SetRegistrar(r TriggerRegistrar) { s.registrar = r }

// Execute creates an execution for workflowID and runs it until it
// completes, fails or suspends for approval.
func (s *Service) Execute(ctx context.Context, workflowID, leadID uuid.UUID, triggeredBy string, input map[string]any) (Execution, error) {
	def, err := s.repo.GetDefinition(ctx, workflowID)
	if err != nil {
		return Execution{}, err
	}
	if !def.IsActive {
		return Execution{}, apperr.Conflict("workflow is inactive").WithDetail("workflowId", workflowID.String())
	}
	if _, err := s.leads.GetSnapshot(ctx, leadID); err != nil {
		return Execution{}, err
	}

	now := s.opts.Now()
	execCtx := make(map[string]any, len(input))
	for k, v := range input {
		execCtx[k] = v
	}
	exec := Execution{
		ID:              uuid.New(),
		WorkflowID:      def.ID,
		LeadID:          leadID,
		TriggeredBy:     triggeredBy,
		Status:          StatusPending,
		Context:         execCtx,
		Actions:         append([]actions.Spec(nil), def.Actions...),
		ExecutedActions: []ActionResult{},
		StartedAt:       now,
		Version:         1,
		UpdatedAt:       now,
	}
	if err := s.repo.CreateExecution(ctx, exec); err != nil {
		return Execution{}, err
	}
	if err := s.repo.RecordDefinitionRun(ctx, def.ID, now); err != nil {
		s.log.Error("record workflow run failed", "workflowId", def.ID, "error", err)
	}
	s.auditTransition(ctx, exec, "", StatusPending, triggeredBy)

	exec, err = s.transition(ctx, exec, StatusRunning, "", triggeredBy)
	if err != nil {
		return s.settle(ctx, exec.ID, err)
	}
	return s.run(ctx, exec)
}

// run executes the execution's actions from exec.Position onwards, strictly
// in order.
func (s *Service) run(ctx context.Context, exec Execution) (Execution, error) {
	if s.executor == nil {
		return exec, apperr.Internal("workflow action executor not configured")
	}

	for exec.Position < len(exec.Actions) {
		// Cancellation takes effect before the next action starts.
		latest, err := s.repo.GetExecution(ctx, exec.ID)
		if err != nil {
			return exec, err
		}
		if latest.Status != StatusRunning {
			return latest, nil
		}
		exec = latest

		index := exec.Position
		action := exec.Actions[index].Action

		if req, ok := action.(actions.RequestApproval); ok {
			return s.suspend(ctx, exec, index, req)
		}

		started := s.opts.Now()
		snapshot, err := s.leads.GetSnapshot(ctx, exec.LeadID)
		var output map[string]any
		if err == nil {
			output, err = s.executor.ExecuteAction(ctx, exec, snapshot, action)
		}
		result := ActionResult{
			Index:      index,
			Type:       action.Type(),
			Status:     ResultSucceeded,
			Output:     output,
			StartedAt:  started,
			FinishedAt: s.opts.Now(),
		}
		if err != nil {
			result.Status = ResultFailed
			result.Error = err.Error()
		}

		exec.ExecutedActions = append(exec.ExecutedActions, result)
		for k, v := range output {
			exec.Context[k] = v
		}
		exec.Position = index + 1

		if err != nil {
			failure := apperr.ActionFailure(fmt.Sprintf("action %d (%s) failed", index, action.Type()), err).
				WithDetail("executionId", exec.ID.String()).
				WithDetail("stage", string(action.Type()))
			return s.fail(ctx, exec, failure)
		}

		exec, err = s.repo.UpdateExecution(ctx, exec)
		if err != nil {
			return s.settle(ctx, exec.ID, err)
		}
	}

	return s.complete(ctx, exec)
}

// settle resolves a version conflict raised while persisting progress: when
// the execution was cancelled concurrently, the finished action is only
// audit-logged and the cancelled record is returned.
func (s *Service) settle(ctx context.Context, id uuid.UUID, cause error) (Execution, error) {
	if !apperr.Is(cause, apperr.KindConflict) {
		return Execution{}, cause
	}
	latest, err := s.repo.GetExecution(ctx, id)
	if err != nil {
		return Execution{}, errors.Join(cause, err)
	}
	if latest.Status.IsTerminal() {
		s.log.Info("execution changed while an action was in flight", "executionId", id, "status", latest.Status)
		return latest, nil
	}
	return latest, cause
}

func (s *Service) suspend(ctx context.Context, exec Execution, index int, req actions.RequestApproval) (Execution, error) {
	now := s.opts.Now()
	ttl := s.opts.ApprovalTTL
	if req.ExpiresHours > 0 {
		ttl = time.Duration(req.ExpiresHours) * time.Hour
	}
	approval := ApprovalRequest{
		ID:           uuid.New(),
		ExecutionID:  exec.ID,
		LeadID:       exec.LeadID,
		RequestedBy:  exec.TriggeredBy,
		ApproverRole: req.ApproverRole,
		Status:       ApprovalPending,
		RequestData: map[string]any{
			"workflowId":  exec.WorkflowID.String(),
			"actionIndex": index,
			"reason":      req.Reason,
			"context":     exec.Context,
		},
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	}

	exec.ExecutedActions = append(exec.ExecutedActions, ActionResult{
		Index:      index,
		Type:       actions.TypeRequestApproval,
		Status:     ResultSuspended,
		Output:     map[string]any{"approvalId": approval.ID.String()},
		StartedAt:  now,
		FinishedAt: now,
	})
	exec.Context["approvalId"] = approval.ID.String()
	exec.Position = index + 1
	exec.Status = StatusAwaitingApproval
	exec.UpdatedAt = now

	saved, err := s.repo.SuspendForApproval(ctx, exec, approval)
	if err != nil {
		return s.settle(ctx, exec.ID, err)
	}

	s.log.StateTransition("workflow_execution", exec.ID.String(), string(StatusRunning), string(StatusAwaitingApproval))
	s.auditTransition(ctx, saved, StatusRunning, StatusAwaitingApproval, audit.ActorSystem)
	s.bus.Publish(ctx, events.ApprovalRequested{
		BaseEvent:    events.NewBaseEvent(),
		ApprovalID:   approval.ID,
		ExecutionID:  exec.ID,
		LeadID:       exec.LeadID,
		ApproverRole: approval.ApproverRole,
		ExpiresAt:    approval.ExpiresAt,
	})
	if s.notifier != nil {
		if err := s.notifier.NotifyApprovalRequested(ctx, approval); err != nil {
			s.log.Error("approval notification failed", "approvalId", approval.ID, "error", err)
		}
	}
	return saved, nil
}

func (s *Service) complete(ctx context.Context, exec Execution) (Execution, error) {
	now := s.opts.Now()
	exec.Status = StatusCompleted
	exec.CompletedAt = &now
	exec.UpdatedAt = now
	saved, err := s.repo.UpdateExecution(ctx, exec)
	if err != nil {
		return s.settle(ctx, exec.ID, err)
	}
	s.log.StateTransition("workflow_execution", exec.ID.String(), string(StatusRunning), string(StatusCompleted))
	s.auditTransition(ctx, saved, StatusRunning, StatusCompleted, audit.ActorSystem)
	s.bus.Publish(ctx, events.WorkflowExecutionCompleted{
		BaseEvent:   events.NewBaseEvent(),
		ExecutionID: saved.ID,
		WorkflowID:  saved.WorkflowID,
		LeadID:      saved.LeadID,
	})
	return saved, nil
}

// fail records the error; actions that already ran are not rolled back.
func (s *Service) fail(ctx context.Context, exec Execution, cause error) (Execution, error) {
	now := s.opts.Now()
	exec.Status = StatusFailed
	exec.Error = cause.Error()
	exec.CompletedAt = &now
	exec.UpdatedAt = now
	saved, err := s.repo.UpdateExecution(ctx, exec)
	if err != nil {
		return s.settle(ctx, exec.ID, err)
	}
	s.log.StateTransition("workflow_execution", exec.ID.String(), string(StatusRunning), string(StatusFailed))
	s.auditTransition(ctx, saved, StatusRunning, StatusFailed, audit.ActorSystem)
	s.bus.Publish(ctx, events.WorkflowExecutionFailed{
		BaseEvent:   events.NewBaseEvent(),
		ExecutionID: saved.ID,
		WorkflowID:  saved.WorkflowID,
		LeadID:      saved.LeadID,
		Error:       saved.Error,
	})
	return saved, nil
}

func (s *Service) transition(ctx context.Context, exec Execution, to Status, errMsg, actor string) (Execution, error) {
	from := exec.Status
	now := s.opts.Now()
	exec.Status = to
	exec.UpdatedAt = now
	if errMsg != "" {
		exec.Error = errMsg
	}
	if to.IsTerminal() {
		exec.CompletedAt = &now
	}
	saved, err := s.repo.UpdateExecution(ctx, exec)
	if err != nil {
		return exec, err
	}
	s.log.StateTransition("workflow_execution", exec.ID.String(), string(from), string(to))
	s.auditTransition(ctx, saved, from, to, actor)
	return saved, nil
}

// Cancel stops a pending or running execution before its next action.
func (s *Service) Cancel(ctx context.Context, executionID uuid.UUID, actor string) (Execution, error) {
	const attempts = 3
	var lastErr error
	for i := 0; i < attempts; i++ {
		exec, err := s.repo.GetExecution(ctx, executionID)
		if err != nil {
			return Execution{}, err
		}
		if exec.Status != StatusPending && exec.Status != StatusRunning {
			return exec, apperr.Conflict(fmt.Sprintf("execution cannot be cancelled from %s", exec.Status)).
				WithDetail("executionId", executionID.String()).
				WithDetail("status", string(exec.Status))
		}
		saved, err := s.transition(ctx, exec, StatusCancelled, "cancelled by "+actorOrSystem(actor), actor)
		if err == nil {
			return saved, nil
		}
		if !apperr.Is(err, apperr.KindConflict) {
			return Execution{}, err
		}
		// The runner advanced concurrently; re-read and try again.
		lastErr = err
	}
	return Execution{}, lastErr
}

// GetExecution returns one execution.
func (s *Service) GetExecution(ctx context.Context, id uuid.UUID) (Execution, error) {
	return s.repo.GetExecution(ctx, id)
}

// ListExecutions filters executions.
func (s *Service) ListExecutions(ctx context.Context, f ExecutionFilter) ([]Execution, error) {
	return s.repo.ListExecutions(ctx, f)
}

func (s *Service) auditTransition(ctx context.Context, exec Execution, from, to Status, actor string) {
	leadID := exec.LeadID
	details := map[string]any{
		"workflowId": exec.WorkflowID.String(),
		"from":       string(from),
		"to":         string(to),
		"position":   exec.Position,
	}
	if exec.Error != "" {
		details["error"] = exec.Error
	}
	entry := audit.NewEntry(audit.EntityExecution, exec.ID, &leadID, "workflow_transition", actor, details)
	if err := s.audit.Write(ctx, entry); err != nil {
		s.log.Error("audit write failed", "entity", audit.EntityExecution, "executionId", exec.ID, "error", err)
	}
}

func actorOrSystem(actor string) string {
	if actor == "" {
		return audit.ActorSystem
	}
	return actor
}
