// Package cache provides a TTL-bounded read cache over the durable store.
//
// The cache does not fetch on miss; read-through is the caller's
// responsibility. Expiry is lazy: a read checks the entry's age and treats
// expired entries as absent, deleting them opportunistically. Entries are
// never proactively scanned, and there is no size bound or LRU beyond TTL.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/driftlab/driftsync/internal/sched"
	"github.com/driftlab/driftsync/internal/schema"
	"github.com/driftlab/driftsync/internal/store"
)

// DefaultTTL is applied when Set is called with a non-positive TTL.
const DefaultTTL = 5 * time.Minute

// Cache exclusively owns the cache entries in the store.
type Cache struct {
	store  *store.Store
	clock  sched.Clock
	logger *log.Logger
}

// New creates a Cache backed by the given store.
// If logger is nil, a default logger writing to stderr is used.
func New(st *store.Store, clock sched.Clock, logger *log.Logger) *Cache {
	if clock == nil {
		clock = sched.Real()
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[cache] ", log.LstdFlags)
	}
	return &Cache{store: st, clock: clock, logger: logger}
}

// Set stores data under key with the given TTL. A non-positive ttl selects
// DefaultTTL. The data must be JSON-marshalable.
func (c *Cache) Set(ctx context.Context, key string, data any, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal cache value for %s: %w", key, err)
	}

	entry := schema.CacheEntry{
		Key:      key,
		Data:     raw,
		StoredAt: c.clock.Now().UTC(),
		TTL:      ttl,
	}
	if err := c.store.SetCache(ctx, entry); err != nil {
		return fmt.Errorf("failed to store cache entry %s: %w", key, err)
	}

	return nil
}

// GetRaw returns the raw JSON for key, or ok=false if the key is absent or
// expired. Expired entries are deleted opportunistically.
func (c *Cache) GetRaw(ctx context.Context, key string) (json.RawMessage, bool) {
	entry, err := c.store.GetCache(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return nil, false
	}
	if err != nil {
		c.logger.Printf("Warning: failed to read cache entry %s: %v", key, err)
		return nil, false
	}

	if entry.Expired(c.clock.Now()) {
		if err := c.store.DeleteCache(ctx, key); err != nil {
			c.logger.Printf("Warning: failed to delete expired entry %s: %v", key, err)
		}
		return nil, false
	}

	return entry.Data, true
}

// Delete removes an entry regardless of expiry.
func (c *Cache) Delete(ctx context.Context, key string) error {
	return c.store.DeleteCache(ctx, key)
}

// Clear removes all cache entries and returns the number cleared.
func (c *Cache) Clear(ctx context.Context) (int, error) {
	n, err := c.store.ClearCache(ctx)
	if err != nil {
		return 0, err
	}
	c.logger.Printf("Cleared %d cache entries", n)
	return n, nil
}

// Get decodes the cached value for key into T. The boolean is false when the
// key is absent, expired, or the stored JSON does not decode into T.
func Get[T any](ctx context.Context, c *Cache, key string) (T, bool) {
	var zero T

	raw, ok := c.GetRaw(ctx, key)
	if !ok {
		return zero, false
	}

	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		c.logger.Printf("Warning: cache entry %s does not decode: %v", key, err)
		return zero, false
	}
	return v, true
}
