package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"lead_lifecycle_engine/internal/audit"
	"lead_lifecycle_engine/internal/events"
	"lead_lifecycle_engine/platform/apperr"

	"github.com/google/uuid"
)

// Respond records a human decision. approved resumes the execution at the
// action after the approval step; rejected cancels it with the reason as
// error. Late, duplicate or expired responses are Conflicts.
func (s *Service) Respond(ctx context.Context, approvalID uuid.UUID, approverID string, decision Decision, reason string) (Execution, error) {
	if decision != DecisionApproved && decision != DecisionRejected {
		return Execution{}, apperr.Validation(fmt.Sprintf("unknown decision %q", decision))
	}
	if strings.TrimSpace(approverID) == "" {
		return Execution{}, apperr.Validation("approver is required")
	}

	req, err := s.repo.GetApproval(ctx, approvalID)
	if err != nil {
		return Execution{}, err
	}
	if req.Status != ApprovalPending {
		return Execution{}, alreadyProcessed(req)
	}

	now := s.opts.Now()
	if now.After(req.ExpiresAt) {
		if _, err := s.expire(ctx, req, now); err != nil {
			return Execution{}, err
		}
		return Execution{}, apperr.Conflict("approval request has expired").
			WithDetail("approvalId", approvalID.String()).
			WithDetail("expiresAt", req.ExpiresAt)
	}

	exec, err := s.repo.GetExecution(ctx, req.ExecutionID)
	if err != nil {
		return Execution{}, err
	}
	if exec.Status != StatusAwaitingApproval {
		return Execution{}, apperr.Conflict(fmt.Sprintf("execution is %s, not awaiting approval", exec.Status)).
			WithDetail("executionId", exec.ID.String())
	}

	status := ApprovalApproved
	if decision == DecisionRejected {
		status = ApprovalRejected
	}
	approver := approverID
	var reasonPtr *string
	if strings.TrimSpace(reason) != "" {
		r := reason
		reasonPtr = &r
	}
	resolved, err := s.repo.ResolveApproval(ctx, approvalID, Resolution{
		Status:   status,
		Approver: &approver,
		Reason:   reasonPtr,
		At:       now,
	})
	if err != nil {
		return Execution{}, err
	}
	s.auditApproval(ctx, resolved, approverID)
	s.publishResolved(ctx, resolved)

	if status == ApprovalRejected {
		msg := "approval rejected"
		if reasonPtr != nil {
			msg += ": " + *reasonPtr
		}
		return s.transition(ctx, exec, StatusCancelled, msg, approverID)
	}

	exec.Context["approvedBy"] = approverID
	exec, err = s.transition(ctx, exec, StatusRunning, "", approverID)
	if err != nil {
		return s.settle(ctx, exec.ID, err)
	}
	return s.run(ctx, exec)
}

// ExpireApprovals marks pending requests past expiresAt as expired and
// cancels their executions. It returns the number expired by this call.
func (s *Service) ExpireApprovals(ctx context.Context, now time.Time) (int, error) {
	due, err := s.repo.ListExpiredApprovals(ctx, now, s.opts.SweepBatchSize)
	if err != nil {
		return 0, err
	}
	expired := 0
	for _, req := range due {
		if err := ctx.Err(); err != nil {
			return expired, err
		}
		ok, err := s.expire(ctx, req, now)
		if err != nil {
			s.log.Error("approval expiry failed", "approvalId", req.ID, "error", err)
			continue
		}
		if ok {
			expired++
		}
	}
	return expired, nil
}

// expire resolves req as expired and cancels its execution like a
// rejection. It reports false when another caller resolved it first.
func (s *Service) expire(ctx context.Context, req ApprovalRequest, now time.Time) (bool, error) {
	resolved, err := s.repo.ResolveApproval(ctx, req.ID, Resolution{Status: ApprovalExpired, At: now})
	if apperr.Is(err, apperr.KindConflict) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	s.auditApproval(ctx, resolved, audit.ActorSystem)
	s.publishResolved(ctx, resolved)

	exec, err := s.repo.GetExecution(ctx, req.ExecutionID)
	if err != nil {
		return true, err
	}
	if exec.Status != StatusAwaitingApproval {
		return true, nil
	}
	if _, err := s.transition(ctx, exec, StatusCancelled, "approval expired", audit.ActorSystem); err != nil {
		return true, err
	}
	return true, nil
}

// GetApproval returns one approval request.
func (s *Service) GetApproval(ctx context.Context, id uuid.UUID) (ApprovalRequest, error) {
	return s.repo.GetApproval(ctx, id)
}

// ListApprovals filters approval requests.
func (s *Service) ListApprovals(ctx context.Context, f ApprovalFilter) ([]ApprovalRequest, error) {
	return s.repo.ListApprovals(ctx, f)
}

func alreadyProcessed(req ApprovalRequest) error {
	return apperr.Conflict(fmt.Sprintf("approval request already %s", req.Status)).
		WithDetail("approvalId", req.ID.String()).
		WithDetail("status", string(req.Status))
}

func (s *Service) auditApproval(ctx context.Context, req ApprovalRequest, actor string) {
	leadID := req.LeadID
	details := map[string]any{
		"executionId": req.ExecutionID.String(),
		"status":      string(req.Status),
	}
	if req.Reason != nil {
		details["reason"] = *req.Reason
	}
	entry := audit.NewEntry(audit.EntityApproval, req.ID, &leadID, "approval_"+string(req.Status), actor, details)
	if err := s.audit.Write(ctx, entry); err != nil {
		s.log.Error("audit write failed", "entity", audit.EntityApproval, "approvalId", req.ID, "error", err)
	}
}

func (s *Service) publishResolved(ctx context.Context, req ApprovalRequest) {
	s.bus.Publish(ctx, events.ApprovalResolved{
		BaseEvent:   events.NewBaseEvent(),
		ApprovalID:  req.ID,
		ExecutionID: req.ExecutionID,
		LeadID:      req.LeadID,
		Status:      string(req.Status),
	})
}
