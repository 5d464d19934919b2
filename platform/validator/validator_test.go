package validator

import "testing"

type scheduleRequest struct {
	Name     string `validate:"required"`
	Schedule string `validate:"omitempty,cron"`
}

func TestCronTag(t *testing.T) {
	val := New()

	if err := val.Struct(scheduleRequest{Name: "nightly", Schedule: "0 2 * * *"}); err != nil {
		t.Fatalf("expected valid schedule, got %v", err)
	}
	if err := val.Struct(scheduleRequest{Name: "nightly", Schedule: "every night"}); err == nil {
		t.Fatal("expected invalid schedule to fail validation")
	}
	if err := val.Struct(scheduleRequest{Name: "manual"}); err != nil {
		t.Fatalf("empty schedule should be allowed with omitempty, got %v", err)
	}
}
