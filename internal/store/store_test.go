package store

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/driftlab/driftsync/internal/schema"
)

// setupTestStore creates a temporary store for testing.
func setupTestStore(t *testing.T) *Store {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(dbPath)
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	return s
}

func testOp(id string, priority schema.Priority) schema.Operation {
	return schema.Operation{
		ID:         id,
		Method:     schema.MethodCreate,
		Endpoint:   "/api/things",
		Payload:    json.RawMessage(`{"name":"thing"}`),
		EnqueuedAt: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		Priority:   priority,
	}
}

func TestSaveLoadQueue(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	ops := []schema.Operation{
		testOp("op-1", schema.PriorityHigh),
		testOp("op-2", schema.PriorityLow),
		testOp("op-3", schema.PriorityMedium),
	}
	ops[1].RetryCount = 2

	if err := s.SaveQueue(ctx, ops); err != nil {
		t.Fatalf("SaveQueue failed: %v", err)
	}

	loaded, err := s.LoadQueue(ctx)
	if err != nil {
		t.Fatalf("LoadQueue failed: %v", err)
	}

	if !reflect.DeepEqual(ops, loaded) {
		t.Errorf("loaded queue differs from saved:\nsaved:  %+v\nloaded: %+v", ops, loaded)
	}
}

func TestSaveQueueRoundTripStable(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	ops := []schema.Operation{
		testOp("op-1", schema.PriorityMedium),
		testOp("op-2", schema.PriorityHigh),
	}

	if err := s.SaveQueue(ctx, ops); err != nil {
		t.Fatalf("SaveQueue failed: %v", err)
	}

	loaded, err := s.LoadQueue(ctx)
	if err != nil {
		t.Fatalf("LoadQueue failed: %v", err)
	}

	// saveQueue(loadQueue()) must be a no-op.
	if err := s.SaveQueue(ctx, loaded); err != nil {
		t.Fatalf("SaveQueue of loaded image failed: %v", err)
	}

	reloaded, err := s.LoadQueue(ctx)
	if err != nil {
		t.Fatalf("second LoadQueue failed: %v", err)
	}

	if !reflect.DeepEqual(loaded, reloaded) {
		t.Errorf("round trip not stable:\nfirst:  %+v\nsecond: %+v", loaded, reloaded)
	}
}

func TestSaveQueueReplacesPrevious(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	if err := s.SaveQueue(ctx, []schema.Operation{testOp("op-1", schema.PriorityLow)}); err != nil {
		t.Fatalf("SaveQueue failed: %v", err)
	}
	if err := s.SaveQueue(ctx, []schema.Operation{testOp("op-2", schema.PriorityLow)}); err != nil {
		t.Fatalf("second SaveQueue failed: %v", err)
	}

	loaded, err := s.LoadQueue(ctx)
	if err != nil {
		t.Fatalf("LoadQueue failed: %v", err)
	}
	if len(loaded) != 1 || loaded[0].ID != "op-2" {
		t.Errorf("expected only op-2 after replace, got %+v", loaded)
	}
}

func TestLoadQueueEmpty(t *testing.T) {
	s := setupTestStore(t)

	loaded, err := s.LoadQueue(context.Background())
	if err != nil {
		t.Fatalf("LoadQueue failed: %v", err)
	}
	if len(loaded) != 0 {
		t.Errorf("expected empty queue, got %d operations", len(loaded))
	}
}

func TestQueueSurvivesReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	s, err := Open(dbPath)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	if err := s.SaveQueue(ctx, []schema.Operation{testOp("op-1", schema.PriorityHigh)}); err != nil {
		t.Fatalf("SaveQueue failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	s2, err := Open(dbPath)
	if err != nil {
		t.Fatalf("failed to reopen store: %v", err)
	}
	defer s2.Close()

	loaded, err := s2.LoadQueue(ctx)
	if err != nil {
		t.Fatalf("LoadQueue after reopen failed: %v", err)
	}
	if len(loaded) != 1 || loaded[0].ID != "op-1" {
		t.Errorf("queue did not survive reopen: %+v", loaded)
	}
}

func TestCacheCRUD(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	entry := schema.CacheEntry{
		Key:      "products:list",
		Data:     json.RawMessage(`[1,2,3]`),
		StoredAt: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		TTL:      5 * time.Minute,
	}

	if err := s.SetCache(ctx, entry); err != nil {
		t.Fatalf("SetCache failed: %v", err)
	}

	got, err := s.GetCache(ctx, "products:list")
	if err != nil {
		t.Fatalf("GetCache failed: %v", err)
	}
	if !reflect.DeepEqual(entry, got) {
		t.Errorf("cache entry mismatch:\nset: %+v\ngot: %+v", entry, got)
	}

	if err := s.DeleteCache(ctx, "products:list"); err != nil {
		t.Fatalf("DeleteCache failed: %v", err)
	}

	if _, err := s.GetCache(ctx, "products:list"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestGetCacheMissing(t *testing.T) {
	s := setupTestStore(t)

	if _, err := s.GetCache(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteCacheIdempotent(t *testing.T) {
	s := setupTestStore(t)

	if err := s.DeleteCache(context.Background(), "nope"); err != nil {
		t.Errorf("DeleteCache of missing key should be nil, got %v", err)
	}
}

func TestClearCacheCount(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	for _, key := range []string{"a", "b", "c"} {
		entry := schema.CacheEntry{
			Key:      key,
			Data:     json.RawMessage(`1`),
			StoredAt: time.Now().UTC(),
			TTL:      time.Minute,
		}
		if err := s.SetCache(ctx, entry); err != nil {
			t.Fatalf("SetCache %s failed: %v", key, err)
		}
	}

	n, err := s.ClearCache(ctx)
	if err != nil {
		t.Fatalf("ClearCache failed: %v", err)
	}
	if n != 3 {
		t.Errorf("expected 3 entries cleared, got %d", n)
	}
}

func TestClearAll(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	if err := s.SaveQueue(ctx, []schema.Operation{testOp("op-1", schema.PriorityLow)}); err != nil {
		t.Fatalf("SaveQueue failed: %v", err)
	}
	entry := schema.CacheEntry{Key: "k", Data: json.RawMessage(`1`), StoredAt: time.Now().UTC(), TTL: time.Minute}
	if err := s.SetCache(ctx, entry); err != nil {
		t.Fatalf("SetCache failed: %v", err)
	}

	if err := s.ClearAll(ctx); err != nil {
		t.Fatalf("ClearAll failed: %v", err)
	}

	n, err := s.QueueLen(ctx)
	if err != nil {
		t.Fatalf("QueueLen failed: %v", err)
	}
	if n != 0 {
		t.Errorf("expected empty queue after ClearAll, got %d", n)
	}
	if _, err := s.GetCache(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected cache cleared, got %v", err)
	}
}
