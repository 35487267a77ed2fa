// Package schema provides the shared data structures for the driftsync core:
// queued operations, cache entries, and the realtime wire message shape.
package schema

import (
	"encoding/json"
	"fmt"
	"time"
)

// Method is the transport-level verb for a queued operation.
type Method string

const (
	// MethodCreate maps to a resource-creating request (HTTP POST).
	MethodCreate Method = "CREATE"
	// MethodRead maps to a read request (HTTP GET).
	MethodRead Method = "READ"
	// MethodUpdate maps to a resource-replacing request (HTTP PUT).
	MethodUpdate Method = "UPDATE"
	// MethodDelete maps to a resource-deleting request (HTTP DELETE).
	MethodDelete Method = "DELETE"
)

// Valid reports whether m is one of the known methods.
func (m Method) Valid() bool {
	switch m {
	case MethodCreate, MethodRead, MethodUpdate, MethodDelete:
		return true
	}
	return false
}

// Priority controls drain ordering. Higher priorities drain first;
// within a priority, operations drain in enqueue order (FIFO).
type Priority int

const (
	// PriorityLow drains after everything else.
	PriorityLow Priority = 0
	// PriorityMedium is the default for new operations.
	PriorityMedium Priority = 1
	// PriorityHigh drains before medium and low.
	PriorityHigh Priority = 2
)

// String returns a human-readable representation of the priority.
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityMedium:
		return "medium"
	case PriorityHigh:
		return "high"
	default:
		return "unknown"
	}
}

// ParsePriority converts a priority name to a Priority.
// Unknown names default to PriorityMedium.
func ParsePriority(s string) Priority {
	switch s {
	case "low":
		return PriorityLow
	case "high":
		return PriorityHigh
	default:
		return PriorityMedium
	}
}

// Operation is one pending, not-yet-confirmed state-changing request.
//
// Operations are created by the queue manager at enqueue time, retried by the
// sync processor with exponential backoff, and destroyed on success or when
// the retry budget is exhausted (eviction, reported as a permanent failure).
//
// The endpoint and payload are opaque to the core; their meaning belongs to
// the transport and the backend.
type Operation struct {
	ID         string          `json:"id"`
	Method     Method          `json:"method"`
	Endpoint   string          `json:"endpoint"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	RetryCount int             `json:"retry_count"`
	Priority   Priority        `json:"priority"`
}

// Validate checks if the Operation has valid field values.
func (op *Operation) Validate() error {
	if op.ID == "" {
		return fmt.Errorf("id is required")
	}
	if !op.Method.Valid() {
		return fmt.Errorf("invalid method %q", op.Method)
	}
	if op.Endpoint == "" {
		return fmt.Errorf("endpoint is required")
	}
	if op.EnqueuedAt.IsZero() {
		return fmt.Errorf("enqueued_at is required")
	}
	if op.RetryCount < 0 {
		return fmt.Errorf("retry_count must be non-negative (got %d)", op.RetryCount)
	}
	return nil
}

// CacheEntry is a cached read result with lazy TTL expiry.
// An entry is treated as absent once now - StoredAt exceeds TTL.
type CacheEntry struct {
	Key      string          `json:"key"`
	Data     json.RawMessage `json:"data"`
	StoredAt time.Time       `json:"stored_at"`
	TTL      time.Duration   `json:"ttl"`
}

// Expired reports whether the entry's TTL has elapsed relative to now.
func (e *CacheEntry) Expired(now time.Time) bool {
	return now.Sub(e.StoredAt) > e.TTL
}
