// Package netmon observes network reachability and publishes binary
// online/offline transitions to registered listeners.
//
// The monitor is a best-effort signal, never authoritative: a send attempted
// while the monitor reports online may still fail, and downstream components
// must treat the signal accordingly. Probes are pluggable; the default probe
// dials a TCP endpoint with a short timeout.
package netmon

import (
	"context"
	"log"
	"net"
	"os"
	"sync"
	"time"

	"github.com/driftlab/driftsync/internal/sched"
)

// Probe reports whether the network currently looks reachable.
type Probe func(ctx context.Context) bool

// Listener is invoked on every reachability transition.
type Listener func(online bool)

// Config holds configuration for the monitor.
type Config struct {
	// Probe checks reachability. Defaults to a TCP dial probe.
	Probe Probe

	// ProbeAddr is the host:port the default probe dials.
	ProbeAddr string

	// ProbeInterval is how often to run the probe.
	ProbeInterval time.Duration

	// ProbeTimeout bounds a single probe attempt.
	ProbeTimeout time.Duration

	// StabilityWindow suppresses flaps: a transition is only reported after
	// the new state has held for this long. Zero disables debouncing.
	StabilityWindow time.Duration

	// Clock drives probe scheduling. Defaults to the real clock.
	Clock sched.Clock

	// Logger for monitor activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		ProbeAddr:       "1.1.1.1:443",
		ProbeInterval:   5 * time.Second,
		ProbeTimeout:    3 * time.Second,
		StabilityWindow: 2 * time.Second,
		Clock:           sched.Real(),
		Logger:          log.New(os.Stderr, "[netmon] ", log.LstdFlags),
	}
}

// Monitor polls a reachability probe and fans transitions out to listeners.
type Monitor struct {
	config *Config

	mu        sync.Mutex
	online    bool
	candidate bool      // last probed state, possibly not yet stable
	heldSince time.Time // when candidate was first observed
	listeners []Listener

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a monitor. Until the first probe completes the monitor assumes
// online, so a fresh client does not needlessly hold back its first drain.
func New(config *Config) *Monitor {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Clock == nil {
		config.Clock = sched.Real()
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[netmon] ", log.LstdFlags)
	}
	if config.ProbeAddr == "" {
		config.ProbeAddr = "1.1.1.1:443"
	}
	if config.ProbeInterval <= 0 {
		config.ProbeInterval = 5 * time.Second
	}
	if config.ProbeTimeout <= 0 {
		config.ProbeTimeout = 3 * time.Second
	}
	if config.Probe == nil {
		addr := config.ProbeAddr
		timeout := config.ProbeTimeout
		config.Probe = func(ctx context.Context) bool {
			dialCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			var d net.Dialer
			conn, err := d.DialContext(dialCtx, "tcp", addr)
			if err != nil {
				return false
			}
			_ = conn.Close()
			return true
		}
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Monitor{
		config:    config,
		online:    true,
		candidate: true,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start begins the probe loop. Returns immediately.
func (m *Monitor) Start() {
	m.wg.Add(1)
	go m.probeLoop()
}

// Stop terminates the probe loop and waits for it to finish.
func (m *Monitor) Stop() {
	m.cancel()
	m.wg.Wait()
}

// IsOnline returns the last stable reachability state.
func (m *Monitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// OnChange registers a listener invoked on every stable transition.
// Listeners registered after a transition see only later transitions.
func (m *Monitor) OnChange(l Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

// SetOnline overrides the reachability state directly, bypassing the probe
// and the stability window. Embedders that already track reachability (or
// tests) use this instead of running the probe loop.
func (m *Monitor) SetOnline(online bool) {
	m.apply(online, true)
}

func (m *Monitor) probeLoop() {
	defer m.wg.Done()

	ticker := m.config.Clock.NewTicker(m.config.ProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return

		case <-ticker.C():
			observed := m.config.Probe(m.ctx)
			m.observe(observed)
		}
	}
}

// observe feeds a probe result through the stability window.
func (m *Monitor) observe(observed bool) {
	now := m.config.Clock.Now()

	m.mu.Lock()
	if observed != m.candidate {
		m.candidate = observed
		m.heldSince = now
	}
	stable := now.Sub(m.heldSince) >= m.config.StabilityWindow
	m.mu.Unlock()

	if stable {
		m.apply(observed, false)
	}
}

// apply commits a state change and notifies listeners outside the lock.
func (m *Monitor) apply(online, force bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	if force {
		m.candidate = online
		m.heldSince = m.config.Clock.Now()
	}
	listeners := make([]Listener, len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.Unlock()

	if online {
		m.config.Logger.Printf("Network reachable")
	} else {
		m.config.Logger.Printf("Network unreachable")
	}

	for _, l := range listeners {
		l(online)
	}
}
