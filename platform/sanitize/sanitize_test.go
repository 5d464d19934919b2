package sanitize

import "testing"

func TestText(t *testing.T) {
	cases := []struct{ in, want string }{
		{in: "  customer asked\n\tfor   a call ", want: "customer asked for a call"},
		{in: "<b>urgent</b> follow-up", want: "urgent follow-up"},
		{in: "&lt;script&gt;alert(1)&lt;/script&gt;ok", want: "alert(1)ok"},
		{in: "", want: ""},
	}
	for _, tc := range cases {
		if got := Text(tc.in); got != tc.want {
			t.Errorf("Text(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestTextBlankAfterStripping(t *testing.T) {
	if got := Text("<br/> <p></p>"); got != "" {
		t.Fatalf("expected empty result, got %q", got)
	}
}
