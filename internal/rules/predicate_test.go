package rules

import (
	"encoding/json"
	"testing"
	"time"
)

func TestEvaluateEqualsOnStatus(t *testing.T) {
	p := Predicate{Field: "status", Operator: OpEquals, Value: "new"}

	if !Evaluate(p, map[string]any{"status": "new"}) {
		t.Fatal("expected status=new to match")
	}
	if Evaluate(p, map[string]any{"status": "contacted"}) {
		t.Fatal("expected status=contacted not to match")
	}
}

func TestEvaluateMissingField(t *testing.T) {
	doc := map[string]any{}
	if !Evaluate(Predicate{Field: "missing.path", Operator: OpNotEquals, Value: "x"}, doc) {
		t.Fatal("not_equals on a missing field must be true")
	}
	for _, op := range []Operator{OpEquals, OpGreaterThan, OpLessThan, OpContains, OpIn} {
		value := any("x")
		if op == OpIn {
			value = []any{"x"}
		}
		if Evaluate(Predicate{Field: "missing.path", Operator: op, Value: value}, doc) {
			t.Fatalf("%s on a missing field must be false", op)
		}
	}
}

func TestEvaluateNumericAcrossRepresentations(t *testing.T) {
	var decoded map[string]any
	if err := json.Unmarshal([]byte(`{"score":{"value":90}}`), &decoded); err != nil {
		t.Fatal(err)
	}
	native := map[string]any{"score": map[string]any{"value": 90}}

	for name, doc := range map[string]map[string]any{"json": decoded, "native": native} {
		if !Evaluate(Predicate{Field: "score.value", Operator: OpGreaterThan, Value: 80}, doc) {
			t.Fatalf("%s: 90 > 80 expected", name)
		}
		if Evaluate(Predicate{Field: "score.value", Operator: OpLessThan, Value: 80.5}, doc) {
			t.Fatalf("%s: 90 < 80.5 not expected", name)
		}
		if !Evaluate(Predicate{Field: "score.value", Operator: OpEquals, Value: 90.0}, doc) {
			t.Fatalf("%s: 90 == 90.0 expected", name)
		}
	}
}

func TestEvaluateTypeMismatchIsFalse(t *testing.T) {
	doc := map[string]any{"company": map[string]any{"industry": "technology"}}
	if Evaluate(Predicate{Field: "company.industry", Operator: OpGreaterThan, Value: 3}, doc) {
		t.Fatal("string greater_than number must be false")
	}
	if Evaluate(Predicate{Field: "company.industry.name", Operator: OpEquals, Value: "x"}, doc) {
		t.Fatal("path through a scalar must not resolve")
	}
}

func TestEvaluateContainsAndIn(t *testing.T) {
	doc := map[string]any{
		"contact": map[string]any{"email": "Jane@Example.com"},
		"tags":    []string{"vip", "partner"},
		"source":  "referral",
	}
	if !Evaluate(Predicate{Field: "contact.email", Operator: OpContains, Value: "example.com"}, doc) {
		t.Fatal("string contains should be case-insensitive")
	}
	if !Evaluate(Predicate{Field: "tags", Operator: OpContains, Value: "vip"}, doc) {
		t.Fatal("array contains expected")
	}
	if !Evaluate(Predicate{Field: "source", Operator: OpIn, Value: []any{"website", "referral"}}, doc) {
		t.Fatal("in expected to match")
	}
	if Evaluate(Predicate{Field: "source", Operator: OpIn, Value: "referral"}, doc) {
		t.Fatal("in with non-array value must be false")
	}
}

func TestEvaluateTimes(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	doc := map[string]any{"createdAt": at}
	if !Evaluate(Predicate{Field: "createdAt", Operator: OpLessThan, Value: "2024-06-01T00:00:00Z"}, doc) {
		t.Fatal("time before RFC3339 literal expected")
	}
}

func TestEvaluateAllEmptyMatches(t *testing.T) {
	if !EvaluateAll(nil, map[string]any{}) {
		t.Fatal("empty condition list must match")
	}
	preds := []Predicate{
		{Field: "status", Operator: OpEquals, Value: "new"},
		{Field: "source", Operator: OpEquals, Value: "website"},
	}
	if EvaluateAll(preds, map[string]any{"status": "new", "source": "referral"}) {
		t.Fatal("AND semantics expected")
	}
}

func TestValidate(t *testing.T) {
	if err := (Predicate{Field: "status", Operator: "between"}).Validate(); err == nil {
		t.Fatal("unknown operator must be rejected")
	}
	if err := (Predicate{Field: "status", Operator: OpIn, Value: "new"}).Validate(); err == nil {
		t.Fatal("in without array must be rejected")
	}
	if err := ValidateAll([]Predicate{{Field: "status", Operator: OpEquals, Value: "new"}}); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
}
