package scoring

import (
	"math"
	"time"

	"lead_lifecycle_engine/internal/lead"
	"lead_lifecycle_engine/internal/rules"

	"github.com/google/uuid"
)

// Score is the current score of a lead.
type Score struct {
	LeadID       uuid.UUID             `json:"leadId"`
	ModelID      uuid.UUID             `json:"modelId"`
	ModelVersion int                   `json:"modelVersion"`
	Total        int                   `json:"totalScore"`
	Band         string                `json:"band"`
	Breakdown    map[GroupName]float64 `json:"breakdown"`
	CalculatedAt time.Time             `json:"calculatedAt"`
}

// Calculate scores snapshot against model. It is pure: the same snapshot
// and model always produce the same total, band and breakdown. Recency is
// measured relative to the snapshot's capture time.
func Calculate(snapshot lead.Snapshot, model Model) Score {
	doc := snapshot.Document()
	reference := snapshot.CapturedAt
	if reference.IsZero() {
		reference = time.Now().UTC()
	}

	breakdown := make(map[GroupName]float64, len(model.Groups))
	weighted := 0.0
	for _, g := range model.Groups {
		contribution := groupContribution(g, doc, reference)
		breakdown[g.Name] = roundTo(contribution, 2)
		weighted += contribution
	}

	total := int(math.Round(weighted))
	if total < minScore {
		total = minScore
	}
	if total > maxScore {
		total = maxScore
	}

	band, _ := model.BandFor(total)
	return Score{
		LeadID:       snapshot.LeadID,
		ModelID:      model.ID,
		ModelVersion: model.Version,
		Total:        total,
		Band:         band.Label,
		Breakdown:    breakdown,
		CalculatedAt: time.Now().UTC(),
	}
}

// groupContribution normalises the raw sub-score to 0..100 by the group
// ceiling and applies the group weight.
func groupContribution(g CriteriaGroup, doc map[string]any, reference time.Time) float64 {
	ceiling := g.ceiling()
	if ceiling <= 0 {
		return 0
	}
	raw := 0.0
	for _, c := range g.Criteria {
		if rules.EvaluateAll(c.Conditions, doc) {
			raw += c.Points
		}
	}
	if g.Recency != nil {
		raw += recencyPoints(*g.Recency, doc, reference)
	}
	normalised := math.Max(0, math.Min(100, raw/ceiling*100))
	return normalised * g.Weight
}

// recencyPoints takes the largest bucket the measured age qualifies for.
func recencyPoints(r Recency, doc map[string]any, reference time.Time) float64 {
	field := r.Field
	if field == "" {
		field = DefaultRecencyField
	}
	value, ok := rules.Lookup(doc, field)
	if !ok {
		return 0
	}
	at, ok := value.(time.Time)
	if !ok {
		return 0
	}
	ageDays := reference.Sub(at).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	best := 0.0
	found := false
	for _, b := range r.Buckets {
		if ageDays <= float64(b.WithinDays) && (!found || b.Points > best) {
			best = b.Points
			found = true
		}
	}
	return best
}

func roundTo(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
