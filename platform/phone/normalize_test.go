package phone

import "testing"

func TestNormalizeE164(t *testing.T) {
	if got := NormalizeE164("06 12345678", "NL"); got != "+31612345678" {
		t.Fatalf("expected +31612345678, got %s", got)
	}
	if got := NormalizeE164("+1 650-253-0000", "NL"); got != "+16502530000" {
		t.Fatalf("expected +16502530000, got %s", got)
	}
	if got := NormalizeE164("  not a number ", "NL"); got != "not a number" {
		t.Fatalf("expected trimmed input back, got %q", got)
	}
}

func TestIsValid(t *testing.T) {
	if !IsValid("0612345678", "") {
		t.Fatal("expected dutch mobile number to be valid with default region")
	}
	if IsValid("123", "NL") {
		t.Fatal("expected short number to be invalid")
	}
}
