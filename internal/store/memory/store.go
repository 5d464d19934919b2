// Package memory keeps every engine repository in process memory. It backs
// STORE_DRIVER=memory and the engine scenario tests. Values are copied on
// the way in and out so callers never share mutable state with the store.
package memory

import (
	"sync"
	"time"

	"lead_lifecycle_engine/internal/audit"
	"lead_lifecycle_engine/internal/lead"
	"lead_lifecycle_engine/internal/notification"
	"lead_lifecycle_engine/internal/reports"
	"lead_lifecycle_engine/internal/routing"
	"lead_lifecycle_engine/internal/scoring"
	"lead_lifecycle_engine/internal/workflow"

	"github.com/google/uuid"
)

// Store holds all engine state behind one lock.
type Store struct {
	mu sync.Mutex

	leads map[uuid.UUID]lead.Snapshot

	models       map[uuid.UUID]scoring.Model
	scores       map[uuid.UUID]scoring.Score
	scoreHistory []scoring.Score

	rules       map[uuid.UUID]routing.Rule
	owners      map[uuid.UUID]routing.Owner
	workloads   map[uuid.UUID]routing.Workload
	assignments map[uuid.UUID]routing.CurrentAssignment
	slas        map[uuid.UUID]routing.SLAState
	history     []routing.HistoryEntry

	definitions map[uuid.UUID]workflow.Definition
	executions  map[uuid.UUID]workflow.Execution
	approvals   map[uuid.UUID]workflow.ApprovalRequest

	outbox  []notification.Message
	audit   []audit.Entry
	reports map[uuid.UUID]reports.Definition
}

func New() *Store {
	return &Store{
		leads:       make(map[uuid.UUID]lead.Snapshot),
		models:      make(map[uuid.UUID]scoring.Model),
		scores:      make(map[uuid.UUID]scoring.Score),
		rules:       make(map[uuid.UUID]routing.Rule),
		owners:      make(map[uuid.UUID]routing.Owner),
		workloads:   make(map[uuid.UUID]routing.Workload),
		assignments: make(map[uuid.UUID]routing.CurrentAssignment),
		slas:        make(map[uuid.UUID]routing.SLAState),
		definitions: make(map[uuid.UUID]workflow.Definition),
		executions:  make(map[uuid.UUID]workflow.Execution),
		approvals:   make(map[uuid.UUID]workflow.ApprovalRequest),
		reports:     make(map[uuid.UUID]reports.Definition),
	}
}

// Leads returns the lead store view.
func (s *Store) Leads() *Leads { return &Leads{s} }

// Scoring returns the scoring repository view.
func (s *Store) Scoring() *Scoring { return &Scoring{s} }

// Routing returns the routing repository view.
func (s *Store) Routing() *Routing { return &Routing{s} }

// Workflows returns the workflow repository view.
func (s *Store) Workflows() *Workflows { return &Workflows{s} }

// Outbox returns the notification outbox view.
func (s *Store) Outbox() *Outbox { return &Outbox{s} }

// Audit returns the audit log view.
func (s *Store) Audit() *Audit { return &Audit{s} }

// Reports returns the scheduled report repository view.
func (s *Store) Reports() *Reports { return &Reports{s} }

func limitOrDefault(limit int) int {
	if limit < 1 || limit > 500 {
		return 100
	}
	return limit
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneID(id *uuid.UUID) *uuid.UUID {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}

func cloneString(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// cloneValue deep-copies the JSON-shaped values held in context maps.
func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = cloneValue(item)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}
