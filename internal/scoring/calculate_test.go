package scoring

import (
	"math/rand"
	"testing"
	"time"

	"lead_lifecycle_engine/internal/actions"
	"lead_lifecycle_engine/internal/lead"
	"lead_lifecycle_engine/internal/rules"

	"github.com/google/uuid"
)

func standardBands() []Band {
	return []Band{
		{Label: "cold", Min: 0, Max: 39},
		{Label: "warm", Min: 40, Max: 69},
		{Label: "hot", Min: 70, Max: 100, Actions: actions.Specs(actions.AssignToLeastLoaded{Role: "senior"})},
	}
}

func testModel() Model {
	return Model{
		ID:      uuid.New(),
		Name:    "default",
		Version: 1,
		Groups: []CriteriaGroup{
			{
				Name:   GroupProfileFit,
				Weight: 0.4,
				Criteria: []Criterion{
					{Name: "tech", Points: 15, Conditions: []rules.Predicate{{Field: "company.industry", Operator: rules.OpEquals, Value: "technology"}}},
					{Name: "size", Points: 10, Conditions: []rules.Predicate{{Field: "company.size", Operator: rules.OpGreaterThan, Value: 100}}},
				},
			},
			{
				Name:      GroupBehavioral,
				Weight:    0.3,
				MaxPoints: 20,
				Criteria: []Criterion{
					{Name: "opens", Points: 10, Conditions: []rules.Predicate{{Field: "behavior.emailOpens", Operator: rules.OpGreaterThan, Value: 3}}},
				},
			},
			{
				Name:   GroupRecency,
				Weight: 0.3,
				Recency: &Recency{Buckets: []RecencyBucket{
					{WithinDays: 1, Points: 30},
					{WithinDays: 7, Points: 20},
					{WithinDays: 30, Points: 5},
				}},
			},
		},
		Bands: standardBands(),
	}
}

func testSnapshot(lastActivityDaysAgo int) lead.Snapshot {
	captured := time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)
	last := captured.Add(-time.Duration(lastActivityDaysAgo) * 24 * time.Hour)
	return lead.Snapshot{
		LeadID:     uuid.New(),
		Status:     lead.StatusNew,
		Company:    lead.Company{Industry: "technology", Size: 250},
		Behavior:   lead.Behavior{EmailOpens: 5, LastActivityAt: &last},
		CapturedAt: captured,
	}
}

func TestCalculateWeightsAndNormalises(t *testing.T) {
	model := testModel()
	if err := model.Validate(); err != nil {
		t.Fatalf("model should be valid: %v", err)
	}

	score := Calculate(testSnapshot(3), model)

	// profile 25/25 -> 100*0.4=40, behavioral 10/20 -> 50*0.3=15,
	// recency best qualifying bucket for 3 days is 20 of 30 -> 66.67*0.3=20
	if score.Total != 75 {
		t.Fatalf("expected total 75, got %d (%v)", score.Total, score.Breakdown)
	}
	if score.Band != "hot" {
		t.Fatalf("expected hot band, got %q", score.Band)
	}
	if score.Breakdown[GroupBehavioral] != 15 {
		t.Fatalf("unexpected behavioral contribution %v", score.Breakdown[GroupBehavioral])
	}
}

func TestCalculateRecencyTakesLargestQualifyingBucket(t *testing.T) {
	r := Recency{Buckets: []RecencyBucket{{WithinDays: 30, Points: 5}, {WithinDays: 1, Points: 30}, {WithinDays: 7, Points: 20}}}
	snap := testSnapshot(0)
	got := recencyPoints(r, snap.Document(), snap.CapturedAt)
	if got != 30 {
		t.Fatalf("expected 30 for same-day activity, got %v", got)
	}
	old := testSnapshot(90)
	if got := recencyPoints(r, old.Document(), old.CapturedAt); got != 0 {
		t.Fatalf("expected no bucket for 90 days, got %v", got)
	}
}

func TestCalculateIsIdempotent(t *testing.T) {
	model := testModel()
	snap := testSnapshot(5)
	first := Calculate(snap, model)
	second := Calculate(snap, model)
	if first.Total != second.Total || first.Band != second.Band {
		t.Fatalf("expected identical results, got %d/%s and %d/%s", first.Total, first.Band, second.Total, second.Band)
	}
	for k, v := range first.Breakdown {
		if second.Breakdown[k] != v {
			t.Fatalf("breakdown for %s differs", k)
		}
	}
}

func TestValidateRejectsBadWeights(t *testing.T) {
	model := testModel()
	model.Groups[0].Weight = 0.5
	if err := model.Validate(); err == nil {
		t.Fatal("weights summing to 1.1 must be rejected")
	}
}

func TestValidateBandsRejectsGapsAndOverlaps(t *testing.T) {
	cases := map[string][]Band{
		"gap":       {{Label: "a", Min: 0, Max: 40}, {Label: "b", Min: 42, Max: 100}},
		"overlap":   {{Label: "a", Min: 0, Max: 50}, {Label: "b", Min: 50, Max: 100}},
		"short":     {{Label: "a", Min: 0, Max: 99}},
		"late":      {{Label: "a", Min: 1, Max: 100}},
		"duplicate": {{Label: "a", Min: 0, Max: 50}, {Label: "a", Min: 51, Max: 100}},
		"inverted":  {{Label: "a", Min: 0, Max: 60}, {Label: "b", Min: 61, Max: 60}, {Label: "c", Min: 61, Max: 100}},
	}
	for name, bands := range cases {
		if err := ValidateBands(bands); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

// Every integer 0..100 falls into exactly one band for any band set that
// passes validation.
func TestValidatedBandsCoverEveryScoreExactlyOnce(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for iter := 0; iter < 500; iter++ {
		bands := randomBands(rng)
		if err := ValidateBands(bands); err != nil {
			continue
		}
		for score := 0; score <= 100; score++ {
			hits := 0
			for _, b := range bands {
				if score >= b.Min && score <= b.Max {
					hits++
				}
			}
			if hits != 1 {
				t.Fatalf("iteration %d: score %d matched %d bands %v", iter, score, hits, bands)
			}
		}
		m := Model{Bands: bands}
		if _, ok := m.BandFor(rng.Intn(101)); !ok {
			t.Fatalf("iteration %d: BandFor found no band", iter)
		}
	}
}

// randomBands mostly produces valid contiguous sets and occasionally
// perturbs a boundary to produce gaps or overlaps.
func randomBands(rng *rand.Rand) []Band {
	count := 1 + rng.Intn(6)
	cuts := make([]int, 0, count-1)
	for len(cuts) < count-1 {
		cuts = append(cuts, 1+rng.Intn(99))
	}
	bands := make([]Band, 0, count)
	start := 0
	for i := 0; i < count; i++ {
		end := 100
		if i < len(cuts) {
			end = start + (cuts[i] % (101 - start))
			if end > 100 {
				end = 100
			}
		}
		bands = append(bands, Band{Label: string(rune('a' + i)), Min: start, Max: end})
		start = end + 1
		if start > 100 {
			break
		}
	}
	if rng.Intn(4) == 0 && len(bands) > 1 {
		bands[1].Min += rng.Intn(3) - 1
	}
	rng.Shuffle(len(bands), func(i, j int) { bands[i], bands[j] = bands[j], bands[i] })
	return bands
}
