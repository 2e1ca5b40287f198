package phone

import "testing"

func TestNormalizeE164(t *testing.T) {
	cases := []struct {
		input  string
		region string
		want   string
	}{
		{"(201) 555-0123", "US", "+12015550123"},
		{"+31 6 12345678", "US", "+31612345678"},
		{"  not a number  ", "US", "not a number"},
		{"", "US", ""},
	}

	for _, tc := range cases {
		if got := NormalizeE164(tc.input, tc.region); got != tc.want {
			t.Errorf("NormalizeE164(%q, %q) = %q, want %q", tc.input, tc.region, got, tc.want)
		}
	}
}
