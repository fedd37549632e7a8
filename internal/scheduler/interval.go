package scheduler

import "time"

// nextPollInterval computes the sleep before the next poll.
//
// It is a pure, monotone policy of the two observed inputs; there is no
// hysteresis across cycles beyond what they already encode:
//   - a slow cycle signals backpressure: double the period, 5-minute ceiling
//   - at concurrency saturation: slow down modestly so in-flight work drains
//   - otherwise: the base interval, unchanged
func nextPollInterval(base, lastCycle time.Duration, active, maxActive int) time.Duration {
	if lastCycle > slowCycleThreshold {
		return minDuration(base*2, maxBackoffSleep)
	}
	if active >= maxActive {
		return minDuration(base+saturatedSleepBump, saturatedSleepCap)
	}
	return base
}

// errorBackoff is the sleep applied after a cycle-level failure.
func errorBackoff(base time.Duration) time.Duration {
	return minDuration(base*2, maxBackoffSleep)
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
