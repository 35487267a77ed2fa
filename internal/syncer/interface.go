// Package syncer drains the pending-operation queue when the network is
// reachable, applying exponential backoff, bounded batches, and retry
// eviction.
package syncer

import (
	"context"

	"github.com/driftlab/driftsync/internal/schema"
)

// Transport delivers one operation to the backend. The actual HTTP/RPC call
// is implemented outside the core; the processor only cares whether delivery
// succeeded.
//
// Delivery is at least once: if a send succeeds on the backend but the
// response is lost, the operation is retried on the next drain cycle. The
// endpoint is expected to treat replays idempotently.
type Transport interface {
	// Send attempts delivery of op. A nil return confirms delivery; any
	// error counts as a failed attempt against the operation's retry budget.
	Send(ctx context.Context, op schema.Operation) error
}

// TransportFunc adapts a function to the Transport interface.
type TransportFunc func(ctx context.Context, op schema.Operation) error

// Send implements Transport.
func (f TransportFunc) Send(ctx context.Context, op schema.Operation) error {
	return f(ctx, op)
}

// FailureListener is invoked with an operation's final state when its retry
// budget is exhausted and it is evicted from the queue.
type FailureListener func(op schema.Operation)
