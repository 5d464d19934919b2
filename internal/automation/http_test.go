package automation_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	apphttp "lead_lifecycle_engine/internal/http"
	"lead_lifecycle_engine/internal/http/router"
	"lead_lifecycle_engine/platform/config"
	"lead_lifecycle_engine/platform/httpkit"
	"lead_lifecycle_engine/platform/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

func newServer(t *testing.T) (*gin.Engine, *harness) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	h := newHarness(t)
	app := &apphttp.App{
		Config:  &config.Config{},
		Logger:  logger.Discard(),
		Health:  apphttp.NopHealth{},
		Modules: []apphttp.Module{h.module},
	}
	return router.New(app), h
}

func do(t *testing.T, srv http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(httpkit.HeaderActorID, "tester")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func TestHTTPIntakeAndReassign(t *testing.T) {
	srv, _ := newServer(t)

	rec := do(t, srv, http.MethodPost, "/api/v1/owners", map[string]any{
		"name":  "Ada <b>Lovelace</b>",
		"email": "ada@example.com",
		"roles": []string{"sales"},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create owner: expected 201, got %d: %s", rec.Code, rec.Body)
	}
	var ada struct {
		ID   uuid.UUID `json:"id"`
		Name string    `json:"name"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &ada); err != nil {
		t.Fatalf("decode owner: %v", err)
	}
	if ada.Name != "Ada Lovelace" {
		t.Fatalf("expected sanitized name, got %q", ada.Name)
	}

	rec = do(t, srv, http.MethodPost, "/api/v1/owners", map[string]any{"name": "Ben", "roles": []string{"sales"}})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create owner: expected 201, got %d", rec.Code)
	}
	var ben struct {
		ID uuid.UUID `json:"id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &ben); err != nil {
		t.Fatalf("decode owner: %v", err)
	}

	rec = do(t, srv, http.MethodPost, "/api/v1/leads", map[string]any{
		"company": map[string]any{"name": "Acme", "size": 20},
		"source":  "web",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("intake: expected 201, got %d: %s", rec.Code, rec.Body)
	}
	var intake struct {
		Created bool `json:"created"`
		Lead    struct {
			LeadID     uuid.UUID  `json:"leadId"`
			AssignedTo *uuid.UUID `json:"assignedTo"`
		} `json:"lead"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &intake); err != nil {
		t.Fatalf("decode intake: %v", err)
	}
	if !intake.Created || intake.Lead.AssignedTo == nil {
		t.Fatalf("expected created and assigned lead, got %+v", intake)
	}
	leadPath := "/api/v1/leads/" + intake.Lead.LeadID.String()

	target := ben.ID
	if *intake.Lead.AssignedTo == ben.ID {
		target = ada.ID
	}

	rec = do(t, srv, http.MethodPost, leadPath+"/reassign", map[string]any{"ownerId": target, "reason": ""})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("reassign without reason: expected 400, got %d", rec.Code)
	}

	rec = do(t, srv, http.MethodPost, leadPath+"/reassign", map[string]any{"ownerId": target, "reason": "territory change"})
	if rec.Code != http.StatusOK {
		t.Fatalf("reassign: expected 200, got %d: %s", rec.Code, rec.Body)
	}

	rec = do(t, srv, http.MethodGet, leadPath+"/assignment", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("assignment: expected 200, got %d", rec.Code)
	}
	var current struct {
		OwnerID uuid.UUID `json:"ownerId"`
		Method  string    `json:"method"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &current); err != nil {
		t.Fatalf("decode assignment: %v", err)
	}
	if current.OwnerID != target || current.Method != "reassign" {
		t.Fatalf("unexpected assignment %+v", current)
	}
}

func TestHTTPErrorMapping(t *testing.T) {
	srv, _ := newServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"health", http.MethodGet, "/api/health", nil, http.StatusOK},
		{"intake without source", http.MethodPost, "/api/v1/leads", map[string]any{"company": map[string]any{"name": "Acme"}}, http.StatusBadRequest},
		{"malformed lead id", http.MethodGet, "/api/v1/leads/not-a-uuid", nil, http.StatusBadRequest},
		{"unknown lead", http.MethodGet, "/api/v1/leads/" + uuid.NewString(), nil, http.StatusNotFound},
		{"unknown approval", http.MethodPost, "/api/v1/approvals/" + uuid.NewString() + "/respond",
			map[string]any{"approverId": "m-1", "decision": "approved"}, http.StatusNotFound},
		{"bad decision", http.MethodPost, "/api/v1/approvals/" + uuid.NewString() + "/respond",
			map[string]any{"approverId": "m-1", "decision": "maybe"}, http.StatusBadRequest},
		{"invalid scoring weights", http.MethodPost, "/api/v1/scoring/models", map[string]any{
			"name":   "broken",
			"groups": []any{map[string]any{"name": "profile_fit", "weight": 0.5}},
			"bands":  []any{map[string]any{"label": "all", "min": 0, "max": 100}},
		}, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, srv, tt.method, tt.path, tt.body)
			if rec.Code != tt.want {
				t.Fatalf("expected %d, got %d: %s", tt.want, rec.Code, rec.Body)
			}
		})
	}
}
