package handler

import (
	"net/http"
	"time"

	"lead_lifecycle_engine/internal/automation/transport"
	"lead_lifecycle_engine/internal/reports"
	"lead_lifecycle_engine/internal/workflow"
	"lead_lifecycle_engine/platform/httpkit"
	"lead_lifecycle_engine/platform/sanitize"

	"github.com/gin-gonic/gin"
)

// ListWorkflows lists workflow definitions.
// GET /api/v1/workflows
func (h *Handler) ListWorkflows(c *gin.Context) {
	result, err := h.svc.Workflows.ListDefinitions(c.Request.Context())
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, transport.NewList(result))
}

// GetWorkflow returns one definition.
// GET /api/v1/workflows/:id
func (h *Handler) GetWorkflow(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	result, err := h.svc.Workflows.GetDefinition(c.Request.Context(), id)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}

// CreateWorkflow adds a definition and registers its schedule.
// POST /api/v1/workflows
func (h *Handler) CreateWorkflow(c *gin.Context) {
	var req workflow.DefinitionInput
	if !h.bindJSON(c, &req) {
		return
	}
	result, err := h.svc.Workflows.CreateDefinition(c.Request.Context(), req, actor(c))
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.Created(c, result)
}

// UpdateWorkflow replaces a definition.
// PUT /api/v1/workflows/:id
func (h *Handler) UpdateWorkflow(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req workflow.DefinitionInput
	if !h.bindJSON(c, &req) {
		return
	}
	result, err := h.svc.Workflows.UpdateDefinition(c.Request.Context(), id, req, actor(c))
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}

// ActivateWorkflow enables a definition.
// POST /api/v1/workflows/:id/activate
func (h *Handler) ActivateWorkflow(c *gin.Context) { h.setWorkflowActive(c, true) }

// DeactivateWorkflow disables a definition.
// POST /api/v1/workflows/:id/deactivate
func (h *Handler) DeactivateWorkflow(c *gin.Context) { h.setWorkflowActive(c, false) }

func (h *Handler) setWorkflowActive(c *gin.Context, active bool) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	result, err := h.svc.Workflows.SetDefinitionActive(c.Request.Context(), id, active, actor(c))
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}

// ExecuteWorkflow runs a definition for one lead.
// POST /api/v1/workflows/:id/execute
func (h *Handler) ExecuteWorkflow(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req transport.ExecuteWorkflowRequest
	if !h.bindJSON(c, &req) {
		return
	}
	result, err := h.svc.Workflows.Execute(c.Request.Context(), id, req.LeadID, "manual:"+actor(c), req.Context)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.Created(c, result)
}

// ListExecutions lists executions, newest first.
// GET /api/v1/executions
func (h *Handler) ListExecutions(c *gin.Context) {
	var q transport.ExecutionListQuery
	if !h.bindQuery(c, &q) {
		return
	}
	filter := workflow.ExecutionFilter{
		WorkflowID: optionalID(q.WorkflowID),
		LeadID:     optionalID(q.LeadID),
		Limit:      q.Limit,
	}
	if q.Status != "" {
		status := workflow.Status(q.Status)
		filter.Status = &status
	}
	result, err := h.svc.Workflows.ListExecutions(c.Request.Context(), filter)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, transport.NewList(result))
}

// GetExecution returns one execution.
// GET /api/v1/executions/:id
func (h *Handler) GetExecution(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	result, err := h.svc.Workflows.GetExecution(c.Request.Context(), id)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}

// CancelExecution stops an execution before its next action.
// POST /api/v1/executions/:id/cancel
func (h *Handler) CancelExecution(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	result, err := h.svc.Workflows.Cancel(c.Request.Context(), id, actor(c))
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}

// ListApprovals lists approval requests, newest first.
// GET /api/v1/approvals
func (h *Handler) ListApprovals(c *gin.Context) {
	var q transport.ApprovalListQuery
	if !h.bindQuery(c, &q) {
		return
	}
	filter := workflow.ApprovalFilter{LeadID: optionalID(q.LeadID), Limit: q.Limit}
	if q.Status != "" {
		status := workflow.ApprovalStatus(q.Status)
		filter.Status = &status
	}
	result, err := h.svc.Workflows.ListApprovals(c.Request.Context(), filter)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, transport.NewList(result))
}

// GetApproval returns one approval request.
// GET /api/v1/approvals/:id
func (h *Handler) GetApproval(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	result, err := h.svc.Workflows.GetApproval(c.Request.Context(), id)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}

// RespondApproval approves or rejects a pending request and returns the
// execution as it stands afterwards.
// POST /api/v1/approvals/:id/respond
func (h *Handler) RespondApproval(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req transport.RespondApprovalRequest
	if !h.bindJSON(c, &req) {
		return
	}
	result, err := h.svc.Workflows.Respond(c.Request.Context(), id, req.ApproverID, workflow.Decision(req.Decision), sanitize.Text(req.Reason))
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}

// ListReports lists scheduled report definitions.
// GET /api/v1/reports
func (h *Handler) ListReports(c *gin.Context) {
	result, err := h.svc.Reports.List(c.Request.Context())
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, transport.NewList(result))
}

// CreateReport adds a scheduled report.
// POST /api/v1/reports
func (h *Handler) CreateReport(c *gin.Context) {
	var req reports.DefinitionInput
	if !h.bindJSON(c, &req) {
		return
	}
	result, err := h.svc.Reports.Create(c.Request.Context(), req, actor(c))
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.Created(c, result)
}

// UpdateReport replaces a scheduled report.
// PUT /api/v1/reports/:id
func (h *Handler) UpdateReport(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req reports.DefinitionInput
	if !h.bindJSON(c, &req) {
		return
	}
	result, err := h.svc.Reports.Update(c.Request.Context(), id, req, actor(c))
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}

// ActivateReport enables a report schedule.
// POST /api/v1/reports/:id/activate
func (h *Handler) ActivateReport(c *gin.Context) { h.setReportActive(c, true) }

// DeactivateReport disables a report schedule.
// POST /api/v1/reports/:id/deactivate
func (h *Handler) DeactivateReport(c *gin.Context) { h.setReportActive(c, false) }

func (h *Handler) setReportActive(c *gin.Context, active bool) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	result, err := h.svc.Reports.SetActive(c.Request.Context(), id, active, actor(c))
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}

// RunReport generates a report now.
// POST /api/v1/reports/:id/run
func (h *Handler) RunReport(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	result, err := h.svc.Reports.Run(c.Request.Context(), id, time.Now().UTC())
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}

// SweepSLA runs the SLA escalation pass now.
// POST /api/v1/sweeps/sla
func (h *Handler) SweepSLA(c *gin.Context) {
	at, ok := h.sweepTime(c)
	if !ok {
		return
	}
	result, err := h.svc.Routing.SweepSLA(c.Request.Context(), at)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, transport.SweepResponse{Checked: result.Checked, Escalated: result.Escalated})
}

// SweepApprovals expires overdue approvals now.
// POST /api/v1/sweeps/approvals
func (h *Handler) SweepApprovals(c *gin.Context) {
	at, ok := h.sweepTime(c)
	if !ok {
		return
	}
	n, err := h.svc.Workflows.ExpireApprovals(c.Request.Context(), at)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, transport.SweepResponse{Checked: n, Expired: n})
}

func (h *Handler) sweepTime(c *gin.Context) (time.Time, bool) {
	var req transport.SweepRequest
	if c.Request.ContentLength > 0 && !h.bindJSON(c, &req) {
		return time.Time{}, false
	}
	if req.At != nil {
		return req.At.UTC(), true
	}
	return time.Now().UTC(), true
}

// ListSchedules lists timers registered in this process.
// GET /api/v1/schedules
func (h *Handler) ListSchedules(c *gin.Context) {
	entries := h.svc.Engine.Schedules()
	out := make([]transport.ScheduleResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, transport.ScheduleResponse{ID: e.ID, Expression: e.Expression, NextRun: e.Next})
	}
	httpkit.OK(c, transport.NewList(out))
}

// SyncSchedules reloads timers from stored definitions.
// POST /api/v1/schedules/sync
func (h *Handler) SyncSchedules(c *gin.Context) {
	if err := h.svc.Engine.SyncSchedules(c.Request.Context()); httpkit.HandleError(c, err) {
		return
	}
	c.Status(http.StatusNoContent)
}
