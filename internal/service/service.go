// Package service assembles the driftsync runtime: durable store, operation
// queue, read cache, connectivity monitor, sync processor, and the realtime
// channel client, wired together behind one facade.
package service

import (
	"context"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"time"

	"github.com/driftlab/driftsync/internal/cache"
	"github.com/driftlab/driftsync/internal/config"
	"github.com/driftlab/driftsync/internal/netmon"
	"github.com/driftlab/driftsync/internal/queue"
	"github.com/driftlab/driftsync/internal/realtime"
	"github.com/driftlab/driftsync/internal/sched"
	"github.com/driftlab/driftsync/internal/schema"
	"github.com/driftlab/driftsync/internal/store"
	"github.com/driftlab/driftsync/internal/syncer"
	"github.com/driftlab/driftsync/internal/transport"
)

// dbFile is the SQLite file name under the data directory.
const dbFile = "driftsync.db"

// Options configures a Service. Config is required; everything else has a
// working default.
type Options struct {
	Config *config.Config

	// Transport overrides the HTTP transport built from Config.API.
	// Used by tests and embedders with custom delivery.
	Transport syncer.Transport

	// Clock drives every timer in the runtime. Defaults to the real clock.
	Clock sched.Clock

	// Logger is the base logger; components derive prefixed loggers from its
	// writer. A nil logger discards output.
	Logger *log.Logger
}

// Status is a point-in-time snapshot of the runtime.
type Status struct {
	Online        bool
	Draining      bool
	PendingCount  int
	RealtimeState realtime.State
	// RealtimeUnreachable is set when the channel client has exhausted its
	// reconnect budget and needs a manual Reconnect.
	RealtimeUnreachable bool
}

// Service is the top-level driftsync runtime.
type Service struct {
	config *config.Config
	logger *log.Logger

	store     *store.Store
	queue     *queue.Manager
	cache     *cache.Cache
	monitor   *netmon.Monitor
	processor *syncer.Processor
	channel   *realtime.Client

	started bool
}

// New builds the runtime from opts. The durable store opens immediately so
// queued operations from previous runs are recovered before Start.
func New(opts Options) (*Service, error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, fmt.Errorf("service: config is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	clk := opts.Clock
	if clk == nil {
		clk = sched.Real()
	}

	prefixed := func(prefix string) *log.Logger {
		return log.New(logger.Writer(), prefix, logger.Flags())
	}

	st, err := store.Open(filepath.Join(cfg.DataDir, dbFile))
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	q, err := queue.New(st, clk, prefixed("[queue] "))
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to load queue: %w", err)
	}

	monitor := netmon.New(&netmon.Config{
		ProbeAddr:       cfg.Network.ProbeAddr,
		ProbeInterval:   cfg.Network.ProbeInterval,
		StabilityWindow: cfg.Network.StabilityWindow,
		Clock:           clk,
		Logger:          prefixed("[netmon] "),
	})

	tr := opts.Transport
	if tr == nil {
		headers := map[string]string{}
		if cfg.API.Token != "" {
			headers["Authorization"] = "Bearer " + cfg.API.Token
		}
		tr = transport.NewHTTP(transport.Config{
			BaseURL: cfg.API.BaseURL,
			Headers: headers,
			Logger:  prefixed("[transport] "),
		})
	}

	processor := syncer.New(q, monitor, tr, &syncer.Config{
		BatchSize:       cfg.Sync.BatchSize,
		MaxRetry:        cfg.Sync.MaxRetry,
		BaseDelay:       cfg.Sync.BaseDelay,
		InterBatchDelay: cfg.Sync.InterBatchDelay,
		DrainInterval:   cfg.Sync.DrainInterval,
		DispatchTimeout: cfg.API.Timeout,
		Clock:           clk,
		Logger:          prefixed("[syncer] "),
	})

	rtConfig := realtime.DefaultConfig()
	rtConfig.URL = cfg.Realtime.URL
	rtConfig.HeartbeatInterval = cfg.Realtime.HeartbeatInterval
	rtConfig.MaxReconnectAttempts = cfg.Realtime.MaxReconnectAttempts
	rtConfig.Clock = clk
	rtConfig.Logger = prefixed("[realtime] ")
	if cfg.API.Token != "" {
		token := cfg.API.Token
		rtConfig.Credentials = func(ctx context.Context) (string, error) {
			return token, nil
		}
	}
	channel := realtime.New(rtConfig)

	return &Service{
		config:    cfg,
		logger:    logger,
		store:     st,
		queue:     q,
		cache:     cache.New(st, clk, prefixed("[cache] ")),
		monitor:   monitor,
		processor: processor,
		channel:   channel,
	}, nil
}

// Start brings the runtime online: connectivity probing, drain scheduling,
// and the realtime channel. The realtime connection is best effort; failures
// feed the client's own reconnect loop, and an online transition from the
// monitor revives a channel that has exhausted that loop's budget.
func (s *Service) Start(ctx context.Context) error {
	if s.started {
		return fmt.Errorf("service: already started")
	}
	s.started = true

	if s.config.Realtime.URL != "" {
		// The channel gives up after its reconnect budget; the monitor's
		// online report is the signal that it is worth trying again.
		s.monitor.OnChange(func(online bool) {
			if !online || !s.channel.Unreachable() {
				return
			}
			go func() {
				if err := s.channel.Reconnect(context.Background()); err != nil {
					s.logger.Printf("Realtime reconnect after online transition failed: %v", err)
				}
			}()
		})
	}

	s.monitor.Start()
	s.processor.Start()

	if s.config.Realtime.URL != "" {
		if err := s.channel.Connect(ctx); err != nil {
			s.logger.Printf("Realtime connect failed, retrying in background: %v", err)
		}
	}

	s.logger.Printf("Service started with %d recovered operations", s.queue.Len())
	return nil
}

// Stop shuts the runtime down and releases the durable store. Pending
// operations stay persisted for the next run.
func (s *Service) Stop() error {
	if !s.started {
		return nil
	}
	s.started = false

	// Monitor first, so no further online transition can revive the channel
	// mid-shutdown.
	s.monitor.Stop()
	s.processor.Stop()
	s.channel.Disconnect()

	if err := s.store.Close(); err != nil {
		return fmt.Errorf("failed to close store: %w", err)
	}
	s.logger.Printf("Service stopped with %d operations pending", s.queue.Len())
	return nil
}

// Enqueue records a mutation for delivery and returns its ID. When the
// network is reachable a drain starts immediately; otherwise the operation
// waits for the next connectivity transition.
func (s *Service) Enqueue(ctx context.Context, method schema.Method, endpoint string, payload []byte, priority schema.Priority) (string, error) {
	op, err := s.queue.Enqueue(ctx, queue.Draft{
		Method:   method,
		Endpoint: endpoint,
		Payload:  payload,
		Priority: priority,
	})
	if err != nil {
		return "", err
	}

	if s.monitor.IsOnline() {
		s.processor.TriggerDrain()
	}
	return op.ID, nil
}

// Pending returns the queued operations in drain order.
func (s *Service) Pending() []schema.Operation {
	return s.queue.Pending()
}

// PendingCount returns the number of queued operations.
func (s *Service) PendingCount() int {
	return s.queue.Len()
}

// Status snapshots the runtime state.
func (s *Service) Status() Status {
	return Status{
		Online:              s.monitor.IsOnline(),
		Draining:            s.processor.Draining(),
		PendingCount:        s.queue.Len(),
		RealtimeState:       s.channel.State(),
		RealtimeUnreachable: s.channel.Unreachable(),
	}
}

// OnPermanentFailure registers a callback for operations evicted after
// exhausting their retry budget.
func (s *Service) OnPermanentFailure(l syncer.FailureListener) {
	s.processor.OnPermanentFailure(l)
}

// OnConnectivityChange registers a callback for online/offline transitions.
func (s *Service) OnConnectivityChange(l netmon.Listener) {
	s.monitor.OnChange(l)
}

// SetOnline overrides the probed connectivity state, bypassing the
// stability window. Intended for callers with out-of-band signal.
func (s *Service) SetOnline(online bool) {
	s.monitor.SetOnline(online)
}

// CacheSet stores value under key with the given TTL. A non-positive ttl
// uses the configured default.
func (s *Service) CacheSet(ctx context.Context, key string, value any, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = s.config.Cache.DefaultTTL
	}
	return s.cache.Set(ctx, key, value, ttl)
}

// CacheGet returns the raw cached value for key, or false when absent or
// expired.
func (s *Service) CacheGet(ctx context.Context, key string) ([]byte, bool) {
	raw, ok := s.cache.GetRaw(ctx, key)
	return raw, ok
}

// CacheDelete removes one cache entry.
func (s *Service) CacheDelete(ctx context.Context, key string) error {
	return s.cache.Delete(ctx, key)
}

// CacheClear removes all cache entries and reports how many were dropped.
func (s *Service) CacheClear(ctx context.Context) (int, error) {
	return s.cache.Clear(ctx)
}

// Channel exposes the realtime client for subscriptions and emits.
func (s *Service) Channel() *realtime.Client {
	return s.channel
}
