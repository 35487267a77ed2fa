package sched

import "time"

// Backoff returns base * 2^attempt, the delay waited before retrying a
// failed action. No jitter is applied; simultaneous clients backing off in
// lockstep is a known gap of the baseline policy.
func Backoff(base time.Duration, attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	// Clamp the shift so pathological attempt counts can't overflow.
	if attempt > 20 {
		attempt = 20
	}
	return base << uint(attempt)
}
