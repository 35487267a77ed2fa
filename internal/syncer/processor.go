package syncer

import (
	"context"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/driftlab/driftsync/internal/netmon"
	"github.com/driftlab/driftsync/internal/queue"
	"github.com/driftlab/driftsync/internal/sched"
	"github.com/driftlab/driftsync/internal/schema"
)

// Config holds configuration for the processor.
type Config struct {
	// BatchSize bounds how many operations one drain pass attempts before
	// yielding, so a long queue doesn't monopolize the transport.
	BatchSize int

	// MaxRetry is the retry budget; an operation failing this many times is
	// evicted and reported as a permanent failure.
	MaxRetry int

	// BaseDelay seeds the per-operation exponential backoff.
	BaseDelay time.Duration

	// InterBatchDelay is the pause between batches when work remains.
	InterBatchDelay time.Duration

	// DrainInterval is the period of the safety-net timer that re-triggers a
	// drain in case a connectivity transition was missed.
	DrainInterval time.Duration

	// DispatchTimeout bounds a single delivery attempt.
	DispatchTimeout time.Duration

	// Clock drives backoff and timers. Defaults to the real clock.
	Clock sched.Clock

	// Logger for processor activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		BatchSize:       10,
		MaxRetry:        3,
		BaseDelay:       time.Second,
		InterBatchDelay: 500 * time.Millisecond,
		DrainInterval:   30 * time.Second,
		DispatchTimeout: 10 * time.Second,
		Clock:           sched.Real(),
		Logger:          log.New(os.Stderr, "[syncer] ", log.LstdFlags),
	}
}

// Processor owns the IDLE/DRAINING state machine.
//
// Only one drain runs at a time: a second trigger while draining is a no-op,
// and the in-flight drain re-checks the queue after each batch, so no work is
// lost by the dropped trigger.
type Processor struct {
	queue     *queue.Manager
	monitor   *netmon.Monitor
	transport Transport
	config    *Config

	draining atomic.Bool

	mu        sync.Mutex
	listeners []FailureListener

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a processor. Start must be called before drains are triggered
// automatically; TriggerDrain may be used standalone.
func New(q *queue.Manager, monitor *netmon.Monitor, transport Transport, config *Config) *Processor {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Clock == nil {
		config.Clock = sched.Real()
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[syncer] ", log.LstdFlags)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Processor{
		queue:     q,
		monitor:   monitor,
		transport: transport,
		config:    config,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start wires the processor to connectivity transitions and the periodic
// safety-net timer, then triggers an initial drain for any recovered backlog.
func (p *Processor) Start() {
	p.monitor.OnChange(func(online bool) {
		if online {
			p.TriggerDrain()
		}
	})

	p.wg.Add(1)
	go p.periodicDrain()

	p.TriggerDrain()
}

// Stop terminates background work and waits for an in-flight drain to yield.
func (p *Processor) Stop() {
	p.cancel()
	p.wg.Wait()
}

// Draining reports whether a drain pass is currently running.
func (p *Processor) Draining() bool {
	return p.draining.Load()
}

// OnPermanentFailure registers a listener for evicted operations.
func (p *Processor) OnPermanentFailure(l FailureListener) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, l)
}

// TriggerDrain starts a drain pass unless one is already running.
func (p *Processor) TriggerDrain() {
	if !p.draining.CompareAndSwap(false, true) {
		return
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.draining.Store(false)
		p.drain()
	}()
}

// periodicDrain guards against a missed connectivity transition: whenever
// online with a non-empty queue and an idle processor, kick a drain.
func (p *Processor) periodicDrain() {
	defer p.wg.Done()

	ticker := p.config.Clock.NewTicker(p.config.DrainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return

		case <-ticker.C():
			if p.monitor.IsOnline() && p.queue.Len() > 0 {
				p.TriggerDrain()
			}
		}
	}
}

// drain delivers queued operations in priority-then-FIFO order, one bounded
// batch at a time, until the queue empties or connectivity drops.
func (p *Processor) drain() {
	for {
		if p.ctx.Err() != nil {
			return
		}
		if !p.monitor.IsOnline() {
			return
		}

		batch := p.queue.Pending()
		if len(batch) == 0 {
			return
		}
		if len(batch) > p.config.BatchSize {
			batch = batch[:p.config.BatchSize]
		}

		p.config.Logger.Printf("Draining batch of %d (pending=%d)", len(batch), p.queue.Len())

		for _, op := range batch {
			if p.ctx.Err() != nil {
				return
			}
			p.dispatch(op)
		}

		if p.queue.Len() == 0 {
			return
		}

		select {
		case <-p.ctx.Done():
			return
		case <-p.config.Clock.After(p.config.InterBatchDelay):
		}
	}
}

// dispatch attempts one delivery, waiting out the operation's backoff first.
func (p *Processor) dispatch(op schema.Operation) {
	if delay := sched.Backoff(p.config.BaseDelay, op.RetryCount); delay > 0 {
		select {
		case <-p.ctx.Done():
			return
		case <-p.config.Clock.After(delay):
		}
	}

	sendCtx, cancel := context.WithTimeout(p.ctx, p.config.DispatchTimeout)
	err := p.transport.Send(sendCtx, op)
	cancel()

	if err == nil {
		if rmErr := p.queue.Remove(p.ctx, op.ID); rmErr != nil {
			p.config.Logger.Printf("Warning: failed to persist removal of %s: %v", op.ID, rmErr)
		}
		return
	}

	p.config.Logger.Printf("Delivery of %s failed (attempt %d): %v", op.ID[:8], op.RetryCount+1, err)

	updated, bumpErr := p.queue.Bump(p.ctx, op.ID)
	if bumpErr != nil {
		// Either the operation vanished from the queue (e.g. cleared) or the
		// retry could not be persisted; in the latter case the next drain
		// retries with the old count.
		p.config.Logger.Printf("Warning: failed to record retry for %s: %v", op.ID, bumpErr)
		return
	}

	if updated.RetryCount >= p.config.MaxRetry {
		if rmErr := p.queue.Remove(p.ctx, op.ID); rmErr != nil {
			p.config.Logger.Printf("Warning: failed to persist eviction of %s: %v", op.ID, rmErr)
		}
		p.config.Logger.Printf("Evicting %s after %d failed attempts", op.ID[:8], updated.RetryCount)
		p.notifyPermanentFailure(updated)
	}
}

func (p *Processor) notifyPermanentFailure(op schema.Operation) {
	p.mu.Lock()
	listeners := make([]FailureListener, len(p.listeners))
	copy(listeners, p.listeners)
	p.mu.Unlock()

	for _, l := range listeners {
		l(op)
	}
}
