package types

import "testing"

func TestStateForRho(t *testing.T) {
	tests := []struct {
		rho  float64
		want string
	}{
		{0, StateStable},
		{0.79, StateStable},
		{0.8, StateSaturating},
		{0.999, StateSaturating},
		{1, StateUnstable},
		{3.2, StateUnstable},
	}
	for _, tc := range tests {
		if got := StateForRho(tc.rho); got != tc.want {
			t.Errorf("StateForRho(%v): got %q, want %q", tc.rho, got, tc.want)
		}
	}
}
