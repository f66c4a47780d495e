package core

import "testing"

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "already canonical",
			in:   "tim hortons",
			want: "tim hortons",
		},
		{
			name: "case and store number",
			in:   "TIM HORTONS #1234",
			want: "tim hortons 1234",
		},
		{
			name: "punctuation collapses to one space",
			in:   "PAYPAL *NETFLIX.COM",
			want: "paypal netflix com",
		},
		{
			name: "leading and trailing junk trimmed",
			in:   "  ***INTERAC E-TRF--  ",
			want: "interac e trf",
		},
		{
			name: "french accents folded",
			in:   "CAFÉ DÉPÔT MONTRÉAL",
			want: "cafe depot montreal",
		},
		{
			name: "empty",
			in:   "",
			want: "",
		},
		{
			name: "only punctuation",
			in:   "#*--*#",
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Normalize(tt.in); got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNormalizeEquivalence(t *testing.T) {
	// Pairs differing only by case, punctuation, or accents normalize to
	// the same form.
	pairs := [][2]string{
		{"Tim Hortons #123", "TIM HORTONS 123"},
		{"FIDO Mobile", "fido---mobile"},
		{"Métro Plus", "METRO PLUS"},
		{"A&W #0042", "a w 0042"},
	}
	for _, p := range pairs {
		if Normalize(p[0]) != Normalize(p[1]) {
			t.Errorf("Normalize(%q) = %q, Normalize(%q) = %q; want equal",
				p[0], Normalize(p[0]), p[1], Normalize(p[1]))
		}
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []string{"TIM HORTONS #1234", "Café Dépôt", "plain text"}
	for _, in := range inputs {
		once := Normalize(in)
		if twice := Normalize(once); twice != once {
			t.Errorf("Normalize not idempotent for %q: %q != %q", in, once, twice)
		}
	}
}

func TestNormalizePattern(t *testing.T) {
	if got := NormalizePattern("Tim Hortons #12"); got != "TIM HORTONS 12" {
		t.Errorf("NormalizePattern = %q, want %q", got, "TIM HORTONS 12")
	}
}
