// Package queue owns the pending-operation queue: enqueue bookkeeping,
// priority ordering, and the durable persist that follows every mutation.
//
// The in-memory queue and the durable image are kept consistent by persisting
// the full queue after each mutation. A failed persist rolls the mutation
// back, so the in-memory queue never advances past its durable image; the
// caller gets the error and decides whether to retry the mutation.
package queue

import (
	"context"
	"fmt"
	"log"
	"os"
	"sort"
	"sync"

	"github.com/driftlab/driftsync/internal/sched"
	"github.com/driftlab/driftsync/internal/schema"
	"github.com/driftlab/driftsync/internal/store"
	"github.com/google/uuid"
)

// Draft is the caller-supplied part of an operation. The manager assigns
// the ID, enqueue timestamp, and retry bookkeeping.
type Draft struct {
	Method   schema.Method
	Endpoint string
	Payload  []byte
	Priority schema.Priority
}

// Manager exclusively owns the operation list.
type Manager struct {
	store  *store.Store
	clock  sched.Clock
	logger *log.Logger

	mu  sync.Mutex
	ops []schema.Operation
}

// New creates a Manager backed by the given store.
//
// If logger is nil, a default logger writing to stderr is used.
// The durable queue image, if any, is loaded so operations enqueued before a
// restart are not lost.
func New(st *store.Store, clock sched.Clock, logger *log.Logger) (*Manager, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "[queue] ", log.LstdFlags)
	}
	if clock == nil {
		clock = sched.Real()
	}

	ops, err := st.LoadQueue(context.Background())
	if err != nil {
		return nil, fmt.Errorf("failed to load persisted queue: %w", err)
	}
	if len(ops) > 0 {
		logger.Printf("Recovered %d pending operations", len(ops))
	}

	return &Manager{
		store:  st,
		clock:  clock,
		logger: logger,
		ops:    ops,
	}, nil
}

// Enqueue appends a new operation and persists the queue.
//
// The returned operation has its ID, timestamp, and retry count assigned.
// Enqueue never fails for transient delivery conditions, only for invalid
// drafts and persist failures; a persist failure rolls the enqueue back so
// memory and the durable image stay in step.
func (m *Manager) Enqueue(ctx context.Context, draft Draft) (schema.Operation, error) {
	op := schema.Operation{
		ID:         uuid.NewString(),
		Method:     draft.Method,
		Endpoint:   draft.Endpoint,
		Payload:    draft.Payload,
		EnqueuedAt: m.clock.Now().UTC(),
		RetryCount: 0,
		Priority:   draft.Priority,
	}
	if err := op.Validate(); err != nil {
		return schema.Operation{}, fmt.Errorf("invalid operation: %w", err)
	}

	m.mu.Lock()
	m.ops = append(m.ops, op)
	err := m.persistLocked(ctx)
	if err != nil {
		m.ops = m.ops[:len(m.ops)-1]
	}
	m.mu.Unlock()

	if err != nil {
		m.logger.Printf("Warning: rolled back enqueue of %s: %v", op.ID, err)
		return schema.Operation{}, err
	}

	m.logger.Printf("Enqueued %s %s %s (priority=%s)", op.ID[:8], op.Method, op.Endpoint, op.Priority)
	return op, nil
}

// Remove deletes the operation with the given ID and persists the queue.
// Removing an unknown ID is a no-op. A persist failure restores the
// operation at its old position.
func (m *Manager) Remove(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, op := range m.ops {
		if op.ID == id {
			removed := m.ops[i]
			m.ops = append(m.ops[:i], m.ops[i+1:]...)
			if err := m.persistLocked(ctx); err != nil {
				restored := make([]schema.Operation, 0, len(m.ops)+1)
				restored = append(restored, m.ops[:i]...)
				restored = append(restored, removed)
				restored = append(restored, m.ops[i:]...)
				m.ops = restored
				return err
			}
			return nil
		}
	}
	return nil
}

// Bump increments the retry count of the operation with the given ID,
// persists the queue, and returns the updated operation. A persist failure
// leaves the retry count unchanged.
func (m *Manager) Bump(ctx context.Context, id string) (schema.Operation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.ops {
		if m.ops[i].ID == id {
			m.ops[i].RetryCount++
			if err := m.persistLocked(ctx); err != nil {
				m.ops[i].RetryCount--
				return schema.Operation{}, err
			}
			return m.ops[i], nil
		}
	}
	return schema.Operation{}, fmt.Errorf("operation %s not in queue", id)
}

// Pending returns a copy of the queue in drain order: priority descending,
// then FIFO by enqueue time within a priority. The sort is stable and applied
// fresh on each call; the queue is small and re-sorted infrequently, so a
// priority heap would be overkill.
func (m *Manager) Pending() []schema.Operation {
	m.mu.Lock()
	ops := make([]schema.Operation, len(m.ops))
	copy(ops, m.ops)
	m.mu.Unlock()

	sort.SliceStable(ops, func(i, j int) bool {
		if ops[i].Priority != ops[j].Priority {
			return ops[i].Priority > ops[j].Priority
		}
		return ops[i].EnqueuedAt.Before(ops[j].EnqueuedAt)
	})

	return ops
}

// Len returns the number of pending operations.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.ops)
}

// persistLocked writes the full queue to the store. Caller holds m.mu.
func (m *Manager) persistLocked(ctx context.Context) error {
	if err := m.store.SaveQueue(ctx, m.ops); err != nil {
		return fmt.Errorf("failed to persist queue: %w", err)
	}
	return nil
}
