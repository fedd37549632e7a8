package scheduler

import (
	"testing"
	"time"
)

func TestNextPollInterval(t *testing.T) {
	t.Parallel()
	base := 120 * time.Second

	tests := []struct {
		name      string
		base      time.Duration
		lastCycle time.Duration
		active    int
		max       int
		want      time.Duration
	}{
		{name: "calm cycle keeps base", base: base, lastCycle: time.Second, active: 0, max: 3, want: base},
		{name: "slow cycle doubles", base: base, lastCycle: 6 * time.Second, active: 0, max: 3, want: 240 * time.Second},
		{name: "slow cycle capped at 5m", base: 200 * time.Second, lastCycle: 10 * time.Second, active: 0, max: 3, want: 300 * time.Second},
		{name: "saturation bumps", base: base, lastCycle: time.Second, active: 3, max: 3, want: 150 * time.Second},
		{name: "saturation capped at 3m", base: 170 * time.Second, lastCycle: time.Second, active: 3, max: 3, want: 180 * time.Second},
		{name: "slow wins over saturation", base: base, lastCycle: 6 * time.Second, active: 3, max: 3, want: 240 * time.Second},
		{name: "exactly 5s is not slow", base: base, lastCycle: 5 * time.Second, active: 0, max: 3, want: base},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got := nextPollInterval(tt.base, tt.lastCycle, tt.active, tt.max)
			if got != tt.want {
				t.Fatalf("nextPollInterval = %v, want %v", got, tt.want)
			}
		})
	}
}

// The policy never returns less than base: backoff monotonicity.
func TestNextPollIntervalNeverBelowBase(t *testing.T) {
	t.Parallel()
	base := 90 * time.Second
	for _, cycle := range []time.Duration{0, time.Second, 6 * time.Second, time.Minute} {
		for active := 0; active <= 4; active++ {
			if got := nextPollInterval(base, cycle, active, 3); got < base {
				t.Fatalf("nextPollInterval(%v, %d) = %v < base", cycle, active, got)
			}
		}
	}
}

func TestErrorBackoff(t *testing.T) {
	t.Parallel()
	if got := errorBackoff(120 * time.Second); got != 240*time.Second {
		t.Fatalf("errorBackoff = %v, want 240s", got)
	}
	if got := errorBackoff(200 * time.Second); got != 300*time.Second {
		t.Fatalf("errorBackoff capped = %v, want 300s", got)
	}
}
