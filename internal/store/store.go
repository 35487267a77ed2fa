// Package store provides the durable ledger backing the sync queue and the
// read cache.
//
// The store is a local SQLite database opened in embedded mode with WAL for
// concurrent reads. It holds two tables:
//   - queue: the full set of not-yet-confirmed operations
//   - cache: TTL-bounded read results
//
// The queue is persisted as a whole on every mutation: SaveQueue replaces the
// table contents inside one transaction, so a crash either sees the previous
// durable image or the new one, never a partial queue.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/driftlab/driftsync/internal/schema"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// ErrNotFound is returned by GetCache when no live entry exists for a key.
var ErrNotFound = errors.New("store: entry not found")

// Store wraps the SQLite connection with queue and cache persistence.
type Store struct {
	conn *sql.DB
	path string
}

// Open creates a new store at the specified path.
//
// The database is opened in embedded mode with WAL for concurrent reads.
// If the database doesn't exist, it is created along with the schema.
//
// The caller MUST call Close() when done to ensure proper cleanup.
func Open(path string) (*Store, error) {
	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	connStr := fmt.Sprintf("file:%s", path)
	conn, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{
		conn: conn,
		path: path,
	}

	// WAL mode for concurrent reads
	if _, err := s.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := s.conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if err := s.initSchema(); err != nil {
		_ = s.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the database connection.
// Performs a WAL checkpoint to ensure all changes are persisted.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}

	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	return nil
}

// initSchema creates the queue and cache tables. Idempotent.
func (s *Store) initSchema() error {
	stmt := `
	CREATE TABLE IF NOT EXISTS queue (
		position INTEGER PRIMARY KEY,
		id TEXT NOT NULL UNIQUE,
		method TEXT NOT NULL,
		endpoint TEXT NOT NULL,
		payload BLOB,
		priority INTEGER NOT NULL DEFAULT 1,
		retry_count INTEGER NOT NULL DEFAULT 0,
		enqueued_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS cache (
		key TEXT PRIMARY KEY,
		data BLOB,
		stored_at TEXT NOT NULL,
		ttl_ns INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_queue_priority ON queue(priority);
	`

	if _, err := s.conn.Exec(stmt); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return nil
}

// SaveQueue replaces the durable queue image with ops, preserving slice order.
func (s *Store) SaveQueue(ctx context.Context, ops []schema.Operation) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM queue"); err != nil {
		return fmt.Errorf("failed to clear queue: %w", err)
	}

	insert := `
	INSERT INTO queue (position, id, method, endpoint, payload, priority, retry_count, enqueued_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	for i, op := range ops {
		_, err := tx.ExecContext(ctx, insert,
			i,
			op.ID,
			string(op.Method),
			op.Endpoint,
			[]byte(op.Payload),
			int(op.Priority),
			op.RetryCount,
			op.EnqueuedAt.Format(time.RFC3339Nano),
		)
		if err != nil {
			return fmt.Errorf("failed to persist operation %s: %w", op.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit queue: %w", err)
	}

	return nil
}

// LoadQueue returns the durable queue image in persisted order.
func (s *Store) LoadQueue(ctx context.Context) ([]schema.Operation, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, method, endpoint, payload, priority, retry_count, enqueued_at
		FROM queue ORDER BY position
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query queue: %w", err)
	}
	defer rows.Close()

	var ops []schema.Operation
	for rows.Next() {
		var (
			op         schema.Operation
			method     string
			payload    []byte
			priority   int
			enqueuedAt string
		)
		if err := rows.Scan(&op.ID, &method, &op.Endpoint, &payload, &priority, &op.RetryCount, &enqueuedAt); err != nil {
			return nil, fmt.Errorf("failed to scan queue row: %w", err)
		}

		op.Method = schema.Method(method)
		op.Priority = schema.Priority(priority)
		if len(payload) > 0 {
			op.Payload = json.RawMessage(payload)
		}

		t, err := time.Parse(time.RFC3339Nano, enqueuedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to parse enqueued_at for %s: %w", op.ID, err)
		}
		op.EnqueuedAt = t

		ops = append(ops, op)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate queue rows: %w", err)
	}

	return ops, nil
}

// SetCache writes a cache entry, replacing any previous value for the key.
func (s *Store) SetCache(ctx context.Context, entry schema.CacheEntry) error {
	query := `
	INSERT INTO cache (key, data, stored_at, ttl_ns)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET
		data = excluded.data,
		stored_at = excluded.stored_at,
		ttl_ns = excluded.ttl_ns
	`

	_, err := s.conn.ExecContext(ctx, query,
		entry.Key,
		[]byte(entry.Data),
		entry.StoredAt.Format(time.RFC3339Nano),
		int64(entry.TTL),
	)
	if err != nil {
		return fmt.Errorf("failed to set cache entry %s: %w", entry.Key, err)
	}

	return nil
}

// GetCache returns the cache entry for key, or ErrNotFound.
// Expiry is the caller's concern; the store returns whatever is persisted.
func (s *Store) GetCache(ctx context.Context, key string) (schema.CacheEntry, error) {
	var (
		entry    schema.CacheEntry
		data     []byte
		storedAt string
		ttl      int64
	)

	err := s.conn.QueryRowContext(ctx,
		"SELECT key, data, stored_at, ttl_ns FROM cache WHERE key = ?", key,
	).Scan(&entry.Key, &data, &storedAt, &ttl)
	if errors.Is(err, sql.ErrNoRows) {
		return schema.CacheEntry{}, ErrNotFound
	}
	if err != nil {
		return schema.CacheEntry{}, fmt.Errorf("failed to get cache entry %s: %w", key, err)
	}

	if len(data) > 0 {
		entry.Data = json.RawMessage(data)
	}
	entry.TTL = time.Duration(ttl)

	t, err := time.Parse(time.RFC3339Nano, storedAt)
	if err != nil {
		return schema.CacheEntry{}, fmt.Errorf("failed to parse stored_at for %s: %w", key, err)
	}
	entry.StoredAt = t

	return entry, nil
}

// DeleteCache removes a cache entry. Returns nil if the key doesn't exist
// (idempotent).
func (s *Store) DeleteCache(ctx context.Context, key string) error {
	if _, err := s.conn.ExecContext(ctx, "DELETE FROM cache WHERE key = ?", key); err != nil {
		return fmt.Errorf("failed to delete cache entry %s: %w", key, err)
	}
	return nil
}

// ClearCache removes all cache entries and returns the number removed.
func (s *Store) ClearCache(ctx context.Context) (int, error) {
	res, err := s.conn.ExecContext(ctx, "DELETE FROM cache")
	if err != nil {
		return 0, fmt.Errorf("failed to clear cache: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count cleared entries: %w", err)
	}

	return int(n), nil
}

// ClearAll wipes both the queue and the cache.
func (s *Store) ClearAll(ctx context.Context) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM queue"); err != nil {
		return fmt.Errorf("failed to clear queue: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM cache"); err != nil {
		return fmt.Errorf("failed to clear cache: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit clear: %w", err)
	}

	return nil
}

// QueueLen returns the number of persisted operations.
func (s *Store) QueueLen(ctx context.Context) (int, error) {
	var count int
	if err := s.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM queue").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count queue: %w", err)
	}
	return count, nil
}
