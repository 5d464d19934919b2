package handler

import (
	"context"
	"net/http"

	"lead_lifecycle_engine/internal/audit"
	"lead_lifecycle_engine/internal/automation/engine"
	"lead_lifecycle_engine/internal/automation/transport"
	"lead_lifecycle_engine/internal/notification"
	"lead_lifecycle_engine/internal/reports"
	"lead_lifecycle_engine/internal/routing"
	"lead_lifecycle_engine/internal/scoring"
	"lead_lifecycle_engine/internal/workflow"
	"lead_lifecycle_engine/platform/httpkit"
	"lead_lifecycle_engine/platform/phone"
	"lead_lifecycle_engine/platform/sanitize"
	"lead_lifecycle_engine/platform/validator"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// AuditReader reads the audit trail of a lead.
type AuditReader interface {
	ListForLead(ctx context.Context, leadID uuid.UUID, limit int) ([]audit.Entry, error)
}

// Services groups what the handler serves.
type Services struct {
	Engine        *engine.Engine
	Scoring       *scoring.Service
	Routing       *routing.Service
	Workflows     *workflow.Service
	Reports       *reports.Service
	Notifications *notification.Service
	Audit         AuditReader
}

// Handler handles HTTP requests for the lifecycle engine.
type Handler struct {
	svc         Services
	val         *validator.Validator
	phoneRegion string
}

const (
	msgInvalidRequest   = "invalid request"
	msgValidationFailed = "validation failed"
	msgInvalidID        = "invalid ID"

	actorAPI = "api"
)

// New creates a new engine handler.
func New(svc Services, val *validator.Validator, phoneRegion string) *Handler {
	return &Handler{svc: svc, val: val, phoneRegion: phoneRegion}
}

func (h *Handler) bindJSON(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return false
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return false
	}
	return true
}

func (h *Handler) bindQuery(c *gin.Context, req any) bool {
	if err := c.ShouldBindQuery(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return false
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return false
	}
	return true
}

func pathID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidID, nil)
		return uuid.UUID{}, false
	}
	return id, true
}

func actor(c *gin.Context) string {
	return httpkit.ActorFromContext(c.Request.Context(), actorAPI)
}

func optionalID(raw string) *uuid.UUID {
	if raw == "" {
		return nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil
	}
	return &id
}

// IntakeLead stores a lead snapshot and runs the lifecycle for it.
// POST /api/v1/leads
func (h *Handler) IntakeLead(c *gin.Context) {
	var req transport.IntakeLeadRequest
	if !h.bindJSON(c, &req) {
		return
	}

	result, err := h.svc.Engine.Intake(c.Request.Context(), req.Snapshot(), actor(c))
	if httpkit.HandleError(c, err) {
		return
	}
	if result.Created {
		httpkit.Created(c, result)
		return
	}
	httpkit.OK(c, result)
}

// GetLead returns the engine's view of a lead.
// GET /api/v1/leads/:id
func (h *Handler) GetLead(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	result, err := h.svc.Engine.Lead(c.Request.Context(), id)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}

// Signal raises a named lead event.
// POST /api/v1/leads/:id/events
func (h *Handler) Signal(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req transport.SignalRequest
	if !h.bindJSON(c, &req) {
		return
	}
	if err := h.svc.Engine.Signal(c.Request.Context(), req.Event, id, req.Payload); httpkit.HandleError(c, err) {
		return
	}
	c.Status(http.StatusAccepted)
}

// Recalculate rescores a lead.
// POST /api/v1/leads/:id/score
func (h *Handler) Recalculate(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	result, err := h.svc.Scoring.Recalculate(c.Request.Context(), id)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}

// GetScore returns the current score.
// GET /api/v1/leads/:id/score
func (h *Handler) GetScore(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	result, err := h.svc.Scoring.GetScore(c.Request.Context(), id)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}

// PreviewScore scores a lead against the active model without saving.
// GET /api/v1/leads/:id/score/preview
func (h *Handler) PreviewScore(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	result, err := h.svc.Scoring.Preview(c.Request.Context(), id)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}

// Assign routes a lead, or assigns it to the given owner.
// POST /api/v1/leads/:id/assign
func (h *Handler) Assign(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req transport.AssignRequest
	if c.Request.ContentLength > 0 && !h.bindJSON(c, &req) {
		return
	}
	result, err := h.svc.Routing.Assign(c.Request.Context(), id, req.OwnerID, actor(c))
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}

// Reassign moves a lead to another owner.
// POST /api/v1/leads/:id/reassign
func (h *Handler) Reassign(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req transport.ReassignRequest
	if !h.bindJSON(c, &req) {
		return
	}
	result, err := h.svc.Routing.Reassign(c.Request.Context(), id, req.OwnerID, sanitize.Text(req.Reason), actor(c))
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}

// RecordFirstContact clears the lead's SLA.
// POST /api/v1/leads/:id/first-contact
func (h *Handler) RecordFirstContact(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := h.svc.Routing.RecordFirstContact(c.Request.Context(), id, actor(c)); httpkit.HandleError(c, err) {
		return
	}
	c.Status(http.StatusNoContent)
}

// GetAssignment returns the current assignment.
// GET /api/v1/leads/:id/assignment
func (h *Handler) GetAssignment(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	result, err := h.svc.Routing.GetCurrentAssignment(c.Request.Context(), id)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}

// GetSLA returns the lead's SLA state.
// GET /api/v1/leads/:id/sla
func (h *Handler) GetSLA(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	result, err := h.svc.Routing.GetSLA(c.Request.Context(), id)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}

// History returns the lead's assignment history, newest first.
// GET /api/v1/leads/:id/history
func (h *Handler) History(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	result, err := h.svc.Routing.History(c.Request.Context(), id)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, transport.NewList(result))
}

// AuditTrail returns the lead's audit entries, newest first.
// GET /api/v1/leads/:id/audit
func (h *Handler) AuditTrail(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var q transport.LimitQuery
	if !h.bindQuery(c, &q) {
		return
	}
	result, err := h.svc.Audit.ListForLead(c.Request.Context(), id, q.Limit)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, transport.NewList(result))
}

// Notifications lists outbox messages for a lead.
// GET /api/v1/leads/:id/notifications
func (h *Handler) Notifications(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var q transport.LimitQuery
	if !h.bindQuery(c, &q) {
		return
	}
	result, err := h.svc.Notifications.List(c.Request.Context(), &id, q.Limit)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, transport.NewList(result))
}

// ListOwners lists owners.
// GET /api/v1/owners
func (h *Handler) ListOwners(c *gin.Context) {
	activeOnly := c.Query("active") == "true"
	result, err := h.svc.Routing.Owners(c.Request.Context(), activeOnly)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, transport.NewList(result))
}

// CreateOwner adds an owner.
// POST /api/v1/owners
func (h *Handler) CreateOwner(c *gin.Context) {
	h.saveOwner(c, uuid.Nil)
}

// UpdateOwner replaces an owner.
// PUT /api/v1/owners/:id
func (h *Handler) UpdateOwner(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	h.saveOwner(c, id)
}

func (h *Handler) saveOwner(c *gin.Context, id uuid.UUID) {
	var req transport.OwnerRequest
	if !h.bindJSON(c, &req) {
		return
	}
	if req.Phone != "" && !phone.IsValid(req.Phone, h.phoneRegion) {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, "phone is not a valid number")
		return
	}
	owner := routing.Owner{
		ID:       id,
		Name:     sanitize.Text(req.Name),
		Email:    req.Email,
		Phone:    phone.NormalizeE164(req.Phone, h.phoneRegion),
		Roles:    req.Roles,
		IsActive: req.IsActive == nil || *req.IsActive,
	}
	result, err := h.svc.Routing.UpsertOwner(c.Request.Context(), owner)
	if httpkit.HandleError(c, err) {
		return
	}
	if id == uuid.Nil {
		httpkit.Created(c, result)
		return
	}
	httpkit.OK(c, result)
}

// Workloads returns every owner's workload.
// GET /api/v1/workloads
func (h *Handler) Workloads(c *gin.Context) {
	result, err := h.svc.Routing.Workloads(c.Request.Context())
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, transport.NewList(result))
}

// ListRules lists assignment rules by priority.
// GET /api/v1/rules
func (h *Handler) ListRules(c *gin.Context) {
	result, err := h.svc.Routing.ListRules(c.Request.Context())
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, transport.NewList(result))
}

// GetRule returns one rule.
// GET /api/v1/rules/:id
func (h *Handler) GetRule(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	result, err := h.svc.Routing.GetRule(c.Request.Context(), id)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}

// CreateRule adds an assignment rule.
// POST /api/v1/rules
func (h *Handler) CreateRule(c *gin.Context) {
	var req routing.RuleInput
	if !h.bindJSON(c, &req) {
		return
	}
	result, err := h.svc.Routing.CreateRule(c.Request.Context(), req, actor(c))
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.Created(c, result)
}

// UpdateRule replaces an assignment rule.
// PUT /api/v1/rules/:id
func (h *Handler) UpdateRule(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req routing.RuleInput
	if !h.bindJSON(c, &req) {
		return
	}
	result, err := h.svc.Routing.UpdateRule(c.Request.Context(), id, req, actor(c))
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}

// ActivateRule enables a rule.
// POST /api/v1/rules/:id/activate
func (h *Handler) ActivateRule(c *gin.Context) { h.setRuleActive(c, true) }

// DeactivateRule disables a rule.
// POST /api/v1/rules/:id/deactivate
func (h *Handler) DeactivateRule(c *gin.Context) { h.setRuleActive(c, false) }

func (h *Handler) setRuleActive(c *gin.Context, active bool) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := h.svc.Routing.SetRuleActive(c.Request.Context(), id, active, actor(c)); httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, transport.ActiveResponse{ID: id, IsActive: active})
}

// ListModels lists scoring models.
// GET /api/v1/scoring/models
func (h *Handler) ListModels(c *gin.Context) {
	result, err := h.svc.Scoring.ListModels(c.Request.Context())
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, transport.NewList(result))
}

// GetModel returns one scoring model.
// GET /api/v1/scoring/models/:id
func (h *Handler) GetModel(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	result, err := h.svc.Scoring.GetModel(c.Request.Context(), id)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}

// CreateModel adds a scoring model.
// POST /api/v1/scoring/models
func (h *Handler) CreateModel(c *gin.Context) {
	var req scoring.ModelInput
	if !h.bindJSON(c, &req) {
		return
	}
	result, err := h.svc.Scoring.CreateModel(c.Request.Context(), req)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.Created(c, result)
}

// UpdateModel edits a model in place or, with ?supersede=true, stores a new
// version that replaces it.
// PUT /api/v1/scoring/models/:id
func (h *Handler) UpdateModel(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var q transport.UpdateModelQuery
	if !h.bindQuery(c, &q) {
		return
	}
	var req scoring.ModelInput
	if !h.bindJSON(c, &req) {
		return
	}
	result, err := h.svc.Scoring.UpdateModel(c.Request.Context(), id, req, q.Supersede)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}

// ActivateModel makes a model the active one.
// POST /api/v1/scoring/models/:id/activate
func (h *Handler) ActivateModel(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := h.svc.Scoring.ActivateModel(c.Request.Context(), id); httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, transport.ActiveResponse{ID: id, IsActive: true})
}
