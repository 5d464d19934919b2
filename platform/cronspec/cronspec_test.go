package cronspec

import (
	"testing"
	"time"
)

func TestParseAcceptsFiveAndSixFields(t *testing.T) {
	for _, expr := range []string{"0 9 * * 1-5", "30 0 9 * * *", "@daily", "@every 15m"} {
		if _, err := Parse(expr); err != nil {
			t.Errorf("expected %q to parse, got %v", expr, err)
		}
	}
}

func TestParseRejectsInvalidExpressions(t *testing.T) {
	for _, expr := range []string{"", "not a cron", "61 * * * *", "* * * *"} {
		if _, err := Parse(expr); err == nil {
			t.Errorf("expected %q to be rejected", expr)
		}
	}
}

func TestNextEvaluatesExpressionInsteadOfFixedOffset(t *testing.T) {
	from := time.Date(2026, 3, 2, 10, 15, 0, 0, time.UTC) // Monday
	next, err := Next("0 9 * * 1-5", from, time.UTC)
	if err != nil {
		t.Fatalf("Next returned error: %v", err)
	}
	want := time.Date(2026, 3, 3, 9, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("expected %s, got %s", want, next)
	}

	next, err = Next("*/10 * * * *", from, time.UTC)
	if err != nil {
		t.Fatalf("Next returned error: %v", err)
	}
	if want := from.Add(5 * time.Minute); !next.Equal(want) {
		t.Fatalf("expected %s, got %s", want, next)
	}
}
