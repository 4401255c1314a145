package smtp

import "testing"

func TestReplyClasses(t *testing.T) {
	cases := []struct {
		code       int
		completion bool
		interm     bool
		transient  bool
		permanent  bool
	}{
		{250, true, false, false, false},
		{354, false, true, false, false},
		{421, false, false, true, false},
		{550, false, false, false, true},
	}

	for _, tc := range cases {
		r := Reply{Code: tc.code}
		if r.PositiveCompletion() != tc.completion {
			t.Fatalf("code %d: unexpected PositiveCompletion", tc.code)
		}
		if r.PositiveIntermediate() != tc.interm {
			t.Fatalf("code %d: unexpected PositiveIntermediate", tc.code)
		}
		if r.TransientNegative() != tc.transient {
			t.Fatalf("code %d: unexpected TransientNegative", tc.code)
		}
		if r.PermanentNegative() != tc.permanent {
			t.Fatalf("code %d: unexpected PermanentNegative", tc.code)
		}
	}
}

func TestReplyText(t *testing.T) {
	r := Reply{Code: 250, Lines: []string{"first", "second"}}
	if got := r.Text(); got != "first / second" {
		t.Fatalf("unexpected text: %q", got)
	}
}
