package cache

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/driftlab/driftsync/internal/sched"
	"github.com/driftlab/driftsync/internal/store"
)

func setupCache(t *testing.T) (*Cache, *sched.FakeClock) {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	clock := sched.NewFakeClock()
	return New(st, clock, log.New(os.Stderr, "[test] ", 0)), clock
}

func TestSetGetRoundTrip(t *testing.T) {
	c, _ := setupCache(t)
	ctx := context.Background()

	type product struct {
		SKU   string `json:"sku"`
		Price int    `json:"price"`
	}

	want := product{SKU: "x-1", Price: 42}
	if err := c.Set(ctx, "products:x-1", want, time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, ok := Get[product](ctx, c, "products:x-1")
	if !ok {
		t.Fatal("expected cache hit")
	}
	if got != want {
		t.Errorf("expected %+v, got %+v", want, got)
	}
}

func TestGetMissing(t *testing.T) {
	c, _ := setupCache(t)

	if _, ok := c.GetRaw(context.Background(), "nope"); ok {
		t.Error("expected miss for unknown key")
	}
}

func TestTTLExpiry(t *testing.T) {
	c, clock := setupCache(t)
	ctx := context.Background()

	if err := c.Set(ctx, "k", "v", 100*time.Millisecond); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	if _, ok := c.GetRaw(ctx, "k"); !ok {
		t.Fatal("expected hit before TTL elapses")
	}

	clock.Advance(150 * time.Millisecond)

	if _, ok := c.GetRaw(ctx, "k"); ok {
		t.Error("expected miss after TTL elapsed")
	}
}

func TestExpiredEntryDeletedOpportunistically(t *testing.T) {
	c, clock := setupCache(t)
	ctx := context.Background()

	if err := c.Set(ctx, "k", 1, time.Millisecond); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	clock.Advance(time.Second)

	// First read observes expiry and deletes the entry.
	if _, ok := c.GetRaw(ctx, "k"); ok {
		t.Fatal("expected miss")
	}

	// Clear should therefore find nothing left.
	n, err := c.Clear(ctx)
	if err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if n != 0 {
		t.Errorf("expected expired entry already deleted, Clear removed %d", n)
	}
}

func TestDefaultTTLApplied(t *testing.T) {
	c, clock := setupCache(t)
	ctx := context.Background()

	if err := c.Set(ctx, "k", "v", 0); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	clock.Advance(DefaultTTL - time.Second)
	if _, ok := c.GetRaw(ctx, "k"); !ok {
		t.Error("entry should still be live inside the default TTL")
	}

	clock.Advance(2 * time.Second)
	if _, ok := c.GetRaw(ctx, "k"); ok {
		t.Error("entry should expire after the default TTL")
	}
}

func TestClearReportsCount(t *testing.T) {
	c, _ := setupCache(t)
	ctx := context.Background()

	for _, k := range []string{"a", "b"} {
		if err := c.Set(ctx, k, k, time.Minute); err != nil {
			t.Fatalf("Set %s failed: %v", k, err)
		}
	}

	n, err := c.Clear(ctx)
	if err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 cleared, got %d", n)
	}
}

func TestGetWrongShape(t *testing.T) {
	c, _ := setupCache(t)
	ctx := context.Background()

	if err := c.Set(ctx, "k", "not-a-number", time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	if _, ok := Get[int](ctx, c, "k"); ok {
		t.Error("expected decode failure to read as a miss")
	}
}
