// Package lead defines the immutable lead snapshot the lifecycle engine
// evaluates, and the store contract of the lead CRUD collaborator.
package lead

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Status values the engine reacts to. Other statuses are passed through.
const (
	StatusNew       = "new"
	StatusContacted = "contacted"
	StatusQualified = "qualified"
	StatusWon       = "won"
	StatusLost      = "lost"
)

// Company describes the organisation behind a lead.
type Company struct {
	Name     string `json:"name" yaml:"name"`
	Industry string `json:"industry" yaml:"industry"`
	Size     int    `json:"size" yaml:"size"`
	Country  string `json:"country" yaml:"country"`
	Website  string `json:"website,omitempty" yaml:"website"`
}

// Contact is the person the lead refers to.
type Contact struct {
	FirstName string `json:"firstName" yaml:"firstName"`
	LastName  string `json:"lastName" yaml:"lastName"`
	Email     string `json:"email" yaml:"email"`
	Phone     string `json:"phone" yaml:"phone"`
	JobTitle  string `json:"jobTitle" yaml:"jobTitle"`
}

// Behavior holds engagement counters captured by the tracking collaborator.
type Behavior struct {
	EmailOpens      int        `json:"emailOpens" yaml:"emailOpens"`
	EmailClicks     int        `json:"emailClicks" yaml:"emailClicks"`
	WebsiteVisits   int        `json:"websiteVisits" yaml:"websiteVisits"`
	FormSubmissions int        `json:"formSubmissions" yaml:"formSubmissions"`
	LastActivityAt  *time.Time `json:"lastActivityAt,omitempty" yaml:"lastActivityAt"`
}

// ScoreRef is the lead's current score as seen by predicates.
type ScoreRef struct {
	Value int    `json:"value"`
	Band  string `json:"band"`
}

// Snapshot is a point-in-time view of a lead. Values are never mutated in
// place; the With* helpers return modified copies.
type Snapshot struct {
	LeadID        uuid.UUID      `json:"leadId"`
	Company       Company        `json:"company"`
	Contact       Contact        `json:"contact"`
	Source        string         `json:"source"`
	Status        string         `json:"status"`
	Qualification map[string]any `json:"qualification,omitempty"`
	Behavior      Behavior       `json:"behavior"`
	Score         *ScoreRef      `json:"score,omitempty"`
	AssignedTo    *uuid.UUID     `json:"assignedTo,omitempty"`
	Custom        map[string]any `json:"custom,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
	CapturedAt    time.Time      `json:"capturedAt"`
}

// IsClosed reports whether the lead left the active pipeline.
func (s Snapshot) IsClosed() bool {
	return s.Status == StatusWon || s.Status == StatusLost
}

// WithScore returns a copy carrying the given score and band.
func (s Snapshot) WithScore(value int, band string) Snapshot {
	out := s.clone()
	out.Score = &ScoreRef{Value: value, Band: band}
	return out
}

// WithAssignee returns a copy assigned to ownerID (nil clears it).
func (s Snapshot) WithAssignee(ownerID *uuid.UUID) Snapshot {
	out := s.clone()
	if ownerID == nil {
		out.AssignedTo = nil
		return out
	}
	id := *ownerID
	out.AssignedTo = &id
	return out
}

// WithStatus returns a copy with status replaced.
func (s Snapshot) WithStatus(status string) Snapshot {
	out := s.clone()
	out.Status = status
	return out
}

func (s Snapshot) clone() Snapshot {
	out := s
	out.Qualification = cloneMap(s.Qualification)
	out.Custom = cloneMap(s.Custom)
	if s.Score != nil {
		score := *s.Score
		out.Score = &score
	}
	if s.AssignedTo != nil {
		id := *s.AssignedTo
		out.AssignedTo = &id
	}
	if s.Behavior.LastActivityAt != nil {
		at := *s.Behavior.LastActivityAt
		out.Behavior.LastActivityAt = &at
	}
	return out
}

// Document renders the snapshot as the nested map predicates resolve dot
// paths against, e.g. "company.industry" or "score.value".
func (s Snapshot) Document() map[string]any {
	doc := map[string]any{
		"id":     s.LeadID.String(),
		"source": s.Source,
		"status": s.Status,
		"company": map[string]any{
			"name":     s.Company.Name,
			"industry": s.Company.Industry,
			"size":     s.Company.Size,
			"country":  s.Company.Country,
			"website":  s.Company.Website,
		},
		"contact": map[string]any{
			"firstName": s.Contact.FirstName,
			"lastName":  s.Contact.LastName,
			"email":     s.Contact.Email,
			"phone":     s.Contact.Phone,
			"jobTitle":  s.Contact.JobTitle,
		},
		"behavior": map[string]any{
			"emailOpens":      s.Behavior.EmailOpens,
			"emailClicks":     s.Behavior.EmailClicks,
			"websiteVisits":   s.Behavior.WebsiteVisits,
			"formSubmissions": s.Behavior.FormSubmissions,
		},
		"qualification": cloneMap(s.Qualification),
		"custom":        cloneMap(s.Custom),
	}
	if s.Behavior.LastActivityAt != nil {
		doc["behavior"].(map[string]any)["lastActivityAt"] = *s.Behavior.LastActivityAt
	}
	if !s.CreatedAt.IsZero() {
		doc["createdAt"] = s.CreatedAt
	}
	if s.Score != nil {
		doc["score"] = map[string]any{"value": s.Score.Value, "band": s.Score.Band}
	}
	if s.AssignedTo != nil {
		doc["assignedTo"] = s.AssignedTo.String()
	}
	return doc
}

func cloneMap(in map[string]any) map[string]any {
	if in == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// ListParams filters open leads for scheduled triggers.
type ListParams struct {
	Limit int
}

// Store is the lead CRUD collaborator the engine reads snapshots from.
type Store interface {
	GetSnapshot(ctx context.Context, leadID uuid.UUID) (Snapshot, error)
	ListOpen(ctx context.Context, params ListParams) ([]Snapshot, error)
	UpdateStatus(ctx context.Context, leadID uuid.UUID, status string) error
}

// Repository adds intake writes to Store.
type Repository interface {
	Store
	// Upsert stores s and reports whether the lead was new. Score and
	// assignee are owned by the engine and ignored.
	Upsert(ctx context.Context, s Snapshot) (created bool, err error)
}
