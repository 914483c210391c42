package cell

import (
	"testing"
	"time"
)

func TestPolicy_Factories(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		policy Policy
		period time.Duration
	}{
		{"PerSecond", PerSecond(5), time.Second},
		{"PerMinute", PerMinute(5), time.Minute},
		{"PerHour", PerHour(5), time.Hour},
		{"PerDay", PerDay(5), 24 * time.Hour},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if tc.policy.Tokens != 5 {
				t.Errorf("Tokens = %d, want 5", tc.policy.Tokens)
			}
			if tc.policy.Period != tc.period {
				t.Errorf("Period = %s, want %s", tc.policy.Period, tc.period)
			}
			if tc.policy.Burst != 0 {
				t.Errorf("Burst = %d, want 0", tc.policy.Burst)
			}
			if tc.policy.Apply != 1 {
				t.Errorf("Apply = %d, want 1", tc.policy.Apply)
			}
			if err := tc.policy.Validate(); err != nil {
				t.Errorf("Validate() error: %v", err)
			}
		})
	}
}

func TestPolicy_ModifiersReturnCopies(t *testing.T) {
	t.Parallel()

	base := PerMinute(10)
	modified := base.WithMaxBurst(3).WithApplyTokens(2).Named("writes")

	if base.Burst != 0 || base.Apply != 1 || base.Name != "" {
		t.Errorf("base policy mutated: %+v", base)
	}
	if modified.Burst != 3 {
		t.Errorf("Burst = %d, want 3", modified.Burst)
	}
	if modified.Apply != 2 {
		t.Errorf("Apply = %d, want 2", modified.Apply)
	}
	if modified.Name != "writes" {
		t.Errorf("Name = %q, want %q", modified.Name, "writes")
	}
}

func TestPolicy_Validate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		policy  Policy
		wantErr bool
	}{
		{"valid", PerMinute(10), false},
		{"zero tokens", Policy{Tokens: 0, Period: time.Minute, Apply: 1}, true},
		{"negative tokens", Policy{Tokens: -1, Period: time.Minute, Apply: 1}, true},
		{"sub-second period", Policy{Tokens: 1, Period: 500 * time.Millisecond, Apply: 1}, true},
		{"negative burst", Policy{Tokens: 1, Period: time.Minute, Burst: -1, Apply: 1}, true},
		{"zero apply", Policy{Tokens: 1, Period: time.Minute, Apply: 0}, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.policy.Validate()
			if tc.wantErr && err == nil {
				t.Errorf("Validate() = nil, want error for %+v", tc.policy)
			}
			if !tc.wantErr && err != nil {
				t.Errorf("Validate() error: %v", err)
			}
		})
	}
}
