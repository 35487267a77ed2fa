// Package sched abstracts wall-clock time behind a small Clock interface so
// retry backoff, heartbeats, and TTL expiry can be tested with simulated time
// instead of real waits.
package sched

import "time"

// Clock provides the time operations used by the core.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that fires once after d has elapsed.
	After(d time.Duration) <-chan time.Time

	// NewTicker returns a ticker that fires every d.
	NewTicker(d time.Duration) Ticker
}

// Ticker delivers ticks on C until stopped.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// Real returns a Clock backed by the time package.
func Real() Clock {
	return realClock{}
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

func (realClock) NewTicker(d time.Duration) Ticker {
	return &realTicker{t: time.NewTicker(d)}
}

type realTicker struct {
	t *time.Ticker
}

func (rt *realTicker) C() <-chan time.Time { return rt.t.C }

func (rt *realTicker) Stop() { rt.t.Stop() }
