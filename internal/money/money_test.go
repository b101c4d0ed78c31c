package money

import "testing"

func TestRound2HalfAwayFromZero(t *testing.T) {
	cases := []struct {
		in   float64
		want float64
	}{
		{1.005, 1.01},
		{1.004, 1.00},
		{-1.005, -1.01},
		{-1.004, -1.00},
		{2.675, 2.68},
		{0, 0},
		{12.3449, 12.34},
		{12.345, 12.35},
	}
	for _, tc := range cases {
		if got := Round2(tc.in); got != tc.want {
			t.Errorf("Round2(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestRound4(t *testing.T) {
	if got := Round4(0.123456); got != 0.1235 {
		t.Errorf("Round4(0.123456) = %v, want 0.1235", got)
	}
	if got := Round4(-0.00005); got != -0.0001 {
		t.Errorf("Round4(-0.00005) = %v, want -0.0001", got)
	}
}
