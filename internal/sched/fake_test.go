package sched

import (
	"testing"
	"time"
)

func TestFakeClockAfter(t *testing.T) {
	clock := NewFakeClock()
	ch := clock.After(100 * time.Millisecond)

	select {
	case <-ch:
		t.Fatal("timer fired before Advance")
	default:
	}

	clock.Advance(50 * time.Millisecond)
	select {
	case <-ch:
		t.Fatal("timer fired before deadline")
	default:
	}

	clock.Advance(50 * time.Millisecond)
	select {
	case <-ch:
	default:
		t.Fatal("timer did not fire at deadline")
	}
}

func TestFakeClockAfterZero(t *testing.T) {
	clock := NewFakeClock()
	select {
	case <-clock.After(0):
	default:
		t.Fatal("zero-duration timer should fire immediately")
	}
}

func TestFakeClockTicker(t *testing.T) {
	clock := NewFakeClock()
	ticker := clock.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	clock.Advance(10 * time.Millisecond)
	select {
	case <-ticker.C():
	default:
		t.Fatal("ticker did not fire after one interval")
	}

	clock.Advance(10 * time.Millisecond)
	select {
	case <-ticker.C():
	default:
		t.Fatal("ticker did not fire after second interval")
	}
}

func TestFakeClockTickerStop(t *testing.T) {
	clock := NewFakeClock()
	ticker := clock.NewTicker(10 * time.Millisecond)
	ticker.Stop()

	clock.Advance(50 * time.Millisecond)
	select {
	case <-ticker.C():
		t.Fatal("stopped ticker fired")
	default:
	}

	if n := clock.WaiterCount(); n != 0 {
		t.Errorf("expected 0 waiters after stop, got %d", n)
	}
}

func TestFakeClockNowAdvances(t *testing.T) {
	clock := NewFakeClock()
	start := clock.Now()
	clock.Advance(time.Hour)
	if got := clock.Now().Sub(start); got != time.Hour {
		t.Errorf("expected 1h elapsed, got %v", got)
	}
}
