package sched

import (
	"sort"
	"sync"
	"time"
)

// FakeClock is a Clock driven manually by Advance. Timers registered with
// After or NewTicker fire when Advance moves the fake time past their
// deadline. Intended for tests only.
type FakeClock struct {
	mu      sync.Mutex
	now     time.Time
	waiters []*fakeWaiter
}

type fakeWaiter struct {
	deadline time.Time
	interval time.Duration // zero for one-shot timers
	ch       chan time.Time
	stopped  bool
}

// NewFakeClock returns a FakeClock starting at a fixed, arbitrary time.
func NewFakeClock() *FakeClock {
	return &FakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

// Now returns the current fake time.
func (f *FakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// After returns a channel that fires once the fake time advances past d.
func (f *FakeClock) After(d time.Duration) <-chan time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()

	ch := make(chan time.Time, 1)
	if d <= 0 {
		ch <- f.now
		return ch
	}
	f.waiters = append(f.waiters, &fakeWaiter{
		deadline: f.now.Add(d),
		ch:       ch,
	})
	return ch
}

// NewTicker returns a ticker that fires each time Advance crosses a multiple
// of d.
func (f *FakeClock) NewTicker(d time.Duration) Ticker {
	f.mu.Lock()
	defer f.mu.Unlock()

	w := &fakeWaiter{
		deadline: f.now.Add(d),
		interval: d,
		ch:       make(chan time.Time, 1),
	}
	f.waiters = append(f.waiters, w)
	return &fakeTicker{clock: f, w: w}
}

// Advance moves the fake time forward by d and fires all due timers in
// deadline order.
func (f *FakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.now = f.now.Add(d)

	sort.SliceStable(f.waiters, func(i, j int) bool {
		return f.waiters[i].deadline.Before(f.waiters[j].deadline)
	})

	remaining := f.waiters[:0]
	for _, w := range f.waiters {
		if w.stopped {
			continue
		}
		if w.deadline.After(f.now) {
			remaining = append(remaining, w)
			continue
		}
		select {
		case w.ch <- w.deadline:
		default:
		}
		if w.interval > 0 {
			// Re-arm repeating timers past the current fake time.
			for !w.deadline.After(f.now) {
				w.deadline = w.deadline.Add(w.interval)
			}
			remaining = append(remaining, w)
		}
	}
	f.waiters = remaining
}

// WaiterCount returns the number of pending timers. Tests use this to wait
// until the code under test has registered its timer before advancing.
func (f *FakeClock) WaiterCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, w := range f.waiters {
		if !w.stopped {
			n++
		}
	}
	return n
}

type fakeTicker struct {
	clock *FakeClock
	w     *fakeWaiter
}

func (ft *fakeTicker) C() <-chan time.Time { return ft.w.ch }

func (ft *fakeTicker) Stop() {
	ft.clock.mu.Lock()
	defer ft.clock.mu.Unlock()
	ft.w.stopped = true
}
