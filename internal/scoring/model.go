package scoring

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"lead_lifecycle_engine/internal/actions"
	"lead_lifecycle_engine/internal/rules"
	"lead_lifecycle_engine/platform/apperr"

	"github.com/google/uuid"
)

// GroupName identifies a criteria group.
type GroupName string

const (
	GroupProfileFit    GroupName = "profile_fit"
	GroupBehavioral    GroupName = "behavioral"
	GroupRecency       GroupName = "recency"
	GroupSource        GroupName = "source"
	GroupQualification GroupName = "qualification"
)

var knownGroups = map[GroupName]struct{}{
	GroupProfileFit: {}, GroupBehavioral: {}, GroupRecency: {}, GroupSource: {}, GroupQualification: {},
}

const (
	// weightEpsilon is the tolerance for group weights summing to 1.
	weightEpsilon = 1e-6
	minScore      = 0
	maxScore      = 100
)

// DefaultRecencyField is the time field recency buckets measure against.
const DefaultRecencyField = "behavior.lastActivityAt"

// Criterion awards Points when all Conditions hold.
type Criterion struct {
	Name       string            `json:"name" yaml:"name"`
	Conditions []rules.Predicate `json:"conditions" yaml:"conditions"`
	Points     float64           `json:"points" yaml:"points"`
}

// RecencyBucket awards Points when the measured field is at most
// WithinDays old.
type RecencyBucket struct {
	WithinDays int     `json:"withinDays" yaml:"withinDays"`
	Points     float64 `json:"points" yaml:"points"`
}

// Recency is a continuous contribution keyed by "within N days".
type Recency struct {
	Field   string          `json:"field,omitempty" yaml:"field,omitempty"`
	Buckets []RecencyBucket `json:"buckets" yaml:"buckets"`
}

// CriteriaGroup is one weighted part of a model. MaxPoints is the local
// ceiling used for normalisation; zero means the sum of positive points.
type CriteriaGroup struct {
	Name      GroupName   `json:"name" yaml:"name"`
	Weight    float64     `json:"weight" yaml:"weight"`
	MaxPoints float64     `json:"maxPoints,omitempty" yaml:"maxPoints,omitempty"`
	Criteria  []Criterion `json:"criteria,omitempty" yaml:"criteria,omitempty"`
	Recency   *Recency    `json:"recency,omitempty" yaml:"recency,omitempty"`
}

// Band labels an inclusive score range and the actions fired on entry.
type Band struct {
	Label   string         `json:"label" yaml:"label"`
	Min     int            `json:"min" yaml:"min"`
	Max     int            `json:"max" yaml:"max"`
	Actions []actions.Spec `json:"actions,omitempty" yaml:"actions,omitempty"`
}

// Model is a named, versioned scoring rubric.
type Model struct {
	ID           uuid.UUID       `json:"id"`
	Name         string          `json:"name"`
	Version      int             `json:"version"`
	Groups       []CriteriaGroup `json:"groups"`
	Bands        []Band          `json:"bands"`
	IsActive     bool            `json:"isActive"`
	SupersededBy *uuid.UUID      `json:"supersededBy,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// Validate enforces write-time rules: known unique groups, weights summing
// to one, valid predicates and full non-overlapping band coverage of 0..100.
func (m Model) Validate() error {
	if strings.TrimSpace(m.Name) == "" {
		return apperr.Validation("model name is required")
	}
	if len(m.Groups) == 0 {
		return apperr.Validation("model needs at least one criteria group")
	}

	seen := make(map[GroupName]struct{}, len(m.Groups))
	total := 0.0
	for _, g := range m.Groups {
		if _, ok := knownGroups[g.Name]; !ok {
			return apperr.Validation(fmt.Sprintf("unknown criteria group %q", g.Name))
		}
		if _, dup := seen[g.Name]; dup {
			return apperr.Validation(fmt.Sprintf("duplicate criteria group %q", g.Name))
		}
		seen[g.Name] = struct{}{}
		if g.Weight < 0 || g.MaxPoints < 0 {
			return apperr.Validation(fmt.Sprintf("group %q: weight and maxPoints must not be negative", g.Name))
		}
		total += g.Weight
		for _, c := range g.Criteria {
			if err := rules.ValidateAll(c.Conditions); err != nil {
				return apperr.Wrap(apperr.KindValidation, fmt.Sprintf("group %q criterion %q", g.Name, c.Name), err)
			}
		}
		if g.Recency != nil {
			for _, b := range g.Recency.Buckets {
				if b.WithinDays < 0 {
					return apperr.Validation(fmt.Sprintf("group %q: recency bucket days must not be negative", g.Name))
				}
			}
		}
	}
	if math.Abs(total-1.0) > weightEpsilon {
		return apperr.Validation(fmt.Sprintf("group weights must sum to 1.0, got %.6f", total)).
			WithDetail("weightSum", total)
	}

	return ValidateBands(m.Bands)
}

// ValidateBands requires labelled, contiguous, non-overlapping bands
// covering every integer in 0..100.
func ValidateBands(bands []Band) error {
	if len(bands) == 0 {
		return apperr.Validation("at least one score band is required")
	}
	sorted := sortedBands(bands)
	labels := make(map[string]struct{}, len(sorted))
	next := minScore
	for _, b := range sorted {
		if strings.TrimSpace(b.Label) == "" {
			return apperr.Validation("score band label is required")
		}
		if _, dup := labels[b.Label]; dup {
			return apperr.Validation(fmt.Sprintf("duplicate score band %q", b.Label))
		}
		labels[b.Label] = struct{}{}
		if b.Min > b.Max {
			return apperr.Validation(fmt.Sprintf("band %q: min %d exceeds max %d", b.Label, b.Min, b.Max))
		}
		if b.Min < next {
			return apperr.Validation(fmt.Sprintf("band %q overlaps at %d", b.Label, b.Min))
		}
		if b.Min > next {
			return apperr.Validation(fmt.Sprintf("score range %d..%d is not covered by any band", next, b.Min-1))
		}
		if err := actions.ValidateAll(b.Actions, false); err != nil {
			return apperr.Wrap(apperr.KindValidation, fmt.Sprintf("band %q actions", b.Label), err)
		}
		next = b.Max + 1
	}
	if next != maxScore+1 {
		return apperr.Validation(fmt.Sprintf("bands must end at %d, last ends at %d", maxScore, next-1))
	}
	return nil
}

// BandFor returns the first band containing total.
func (m Model) BandFor(total int) (Band, bool) {
	for _, b := range sortedBands(m.Bands) {
		if total >= b.Min && total <= b.Max {
			return b, true
		}
	}
	return Band{}, false
}

func sortedBands(bands []Band) []Band {
	out := make([]Band, len(bands))
	copy(out, bands)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Min < out[j].Min })
	return out
}

// ceiling is the normalisation base of a group.
func (g CriteriaGroup) ceiling() float64 {
	if g.MaxPoints > 0 {
		return g.MaxPoints
	}
	sum := 0.0
	for _, c := range g.Criteria {
		if c.Points > 0 {
			sum += c.Points
		}
	}
	if g.Recency != nil {
		best := 0.0
		for _, b := range g.Recency.Buckets {
			best = math.Max(best, b.Points)
		}
		sum += best
	}
	return sum
}
