package service

import (
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/driftlab/driftsync/internal/config"
	"github.com/driftlab/driftsync/internal/hub"
	"github.com/driftlab/driftsync/internal/realtime"
	"github.com/driftlab/driftsync/internal/schema"
	"github.com/driftlab/driftsync/internal/syncer"
)

// capturingTransport records delivered operations and optionally fails
// every attempt.
type capturingTransport struct {
	mu        sync.Mutex
	delivered []schema.Operation
	failAll   bool
}

func (t *capturingTransport) Send(ctx context.Context, op schema.Operation) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.failAll {
		return fmt.Errorf("backend down")
	}
	t.delivered = append(t.delivered, op)
	return nil
}

func (t *capturingTransport) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.delivered)
}

func testConfig(t *testing.T, dataDir string) *config.Config {
	t.Helper()

	cfg, err := config.NewLoader(t.TempDir(), nil).Load()
	if err != nil {
		t.Fatalf("failed to load defaults: %v", err)
	}
	cfg.DataDir = dataDir
	// No realtime backend in these tests.
	cfg.Realtime.URL = ""
	// Tight timings so drains finish quickly; the safety ticker stays out
	// of the way.
	cfg.Sync.BaseDelay = time.Millisecond
	cfg.Sync.InterBatchDelay = time.Millisecond
	cfg.Sync.DrainInterval = time.Hour
	// Keep the real probe from fighting the explicit SetOnline calls.
	cfg.Network.ProbeInterval = time.Hour
	return cfg
}

func newTestService(t *testing.T, cfg *config.Config, tr syncer.Transport) *Service {
	t.Helper()

	svc, err := New(Options{Config: cfg, Transport: tr})
	if err != nil {
		t.Fatalf("failed to build service: %v", err)
	}
	t.Cleanup(func() { _ = svc.Stop() })
	return svc
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestOfflineEnqueueDrainsOnReconnect(t *testing.T) {
	cfg := testConfig(t, t.TempDir())
	tr := &capturingTransport{}
	svc := newTestService(t, cfg, tr)

	svc.SetOnline(false)
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		endpoint := fmt.Sprintf("/items/%d", i)
		if _, err := svc.Enqueue(ctx, schema.MethodCreate, endpoint, []byte(`{}`), schema.PriorityMedium); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
	}

	// Nothing moves while offline.
	time.Sleep(20 * time.Millisecond)
	if n := tr.count(); n != 0 {
		t.Fatalf("expected no deliveries while offline, got %d", n)
	}
	if n := svc.PendingCount(); n != 3 {
		t.Fatalf("expected 3 pending, got %d", n)
	}

	svc.SetOnline(true)

	waitFor(t, "queue to drain", func() bool {
		return tr.count() == 3 && svc.PendingCount() == 0
	})
}

func TestEnqueueWhileOnlineDrainsImmediately(t *testing.T) {
	cfg := testConfig(t, t.TempDir())
	tr := &capturingTransport{}
	svc := newTestService(t, cfg, tr)

	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	id, err := svc.Enqueue(context.Background(), schema.MethodUpdate, "/items/1", []byte(`{"v":2}`), schema.PriorityHigh)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if id == "" {
		t.Fatal("expected a generated operation ID")
	}

	waitFor(t, "immediate drain", func() bool { return tr.count() == 1 })

	tr.mu.Lock()
	defer tr.mu.Unlock()
	if tr.delivered[0].ID != id {
		t.Errorf("delivered wrong operation: %s", tr.delivered[0].ID)
	}
}

func TestQueueSurvivesRestart(t *testing.T) {
	dataDir := t.TempDir()
	cfg := testConfig(t, dataDir)

	svc := newTestService(t, cfg, &capturingTransport{})
	svc.SetOnline(false)
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if _, err := svc.Enqueue(context.Background(), schema.MethodDelete, "/items/9", nil, schema.PriorityLow); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if err := svc.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	tr := &capturingTransport{}
	revived := newTestService(t, testConfig(t, dataDir), tr)
	if n := revived.PendingCount(); n != 1 {
		t.Fatalf("expected 1 recovered operation, got %d", n)
	}

	if err := revived.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitFor(t, "recovered operation to drain", func() bool {
		return tr.count() == 1 && revived.PendingCount() == 0
	})
}

func TestPermanentFailureSurfacesThroughFacade(t *testing.T) {
	cfg := testConfig(t, t.TempDir())
	tr := &capturingTransport{failAll: true}
	svc := newTestService(t, cfg, tr)

	evicted := make(chan schema.Operation, 1)
	svc.OnPermanentFailure(func(op schema.Operation) { evicted <- op })

	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	id, err := svc.Enqueue(context.Background(), schema.MethodCreate, "/doomed", []byte(`{}`), schema.PriorityMedium)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	select {
	case op := <-evicted:
		if op.ID != id {
			t.Errorf("evicted wrong operation: %s", op.ID)
		}
		if op.RetryCount != 3 {
			t.Errorf("expected retry count 3 at eviction, got %d", op.RetryCount)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for permanent failure callback")
	}

	waitFor(t, "queue to empty after eviction", func() bool {
		return svc.PendingCount() == 0
	})
}

func TestRealtimeRevivedByOnlineTransition(t *testing.T) {
	// Reserve a port by briefly binding a hub, so the channel client has a
	// concrete address that is initially dead.
	seed := hub.NewServer(&hub.Config{Port: 0, Logger: log.New(io.Discard, "", 0)})
	if err := seed.Start(); err != nil {
		t.Fatalf("failed to start seed hub: %v", err)
	}
	_, portStr, err := net.SplitHostPort(seed.Addr())
	if err != nil {
		t.Fatalf("failed to parse hub address: %v", err)
	}
	port, _ := strconv.Atoi(portStr)
	if err := seed.Stop(); err != nil {
		t.Fatalf("failed to stop seed hub: %v", err)
	}

	cfg := testConfig(t, t.TempDir())
	cfg.Realtime.URL = fmt.Sprintf("ws://127.0.0.1:%d/ws", port)
	cfg.Realtime.MaxReconnectAttempts = 1

	svc := newTestService(t, cfg, &capturingTransport{})
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// With nothing listening, the channel burns its reconnect budget and
	// goes terminal.
	waitFor(t, "channel to give up", func() bool {
		return svc.Status().RealtimeUnreachable
	})

	// Backend comes back on the same port; the monitor's online report must
	// revive the channel without any manual Reconnect.
	revived := hub.NewServer(&hub.Config{Port: port, Logger: log.New(io.Discard, "", 0)})
	if err := revived.Start(); err != nil {
		t.Fatalf("failed to restart hub: %v", err)
	}
	t.Cleanup(func() { _ = revived.Stop() })

	svc.SetOnline(false)
	svc.SetOnline(true)

	waitFor(t, "channel to reconnect", func() bool {
		st := svc.Status()
		return !st.RealtimeUnreachable && st.RealtimeState == realtime.StateConnected
	})
}

func TestStatusSnapshot(t *testing.T) {
	cfg := testConfig(t, t.TempDir())
	svc := newTestService(t, cfg, &capturingTransport{})

	svc.SetOnline(false)
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if _, err := svc.Enqueue(context.Background(), schema.MethodCreate, "/x", []byte(`{}`), schema.PriorityLow); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	st := svc.Status()
	if st.Online {
		t.Error("expected offline status")
	}
	if st.PendingCount != 1 {
		t.Errorf("expected 1 pending, got %d", st.PendingCount)
	}
}

func TestCacheThroughFacade(t *testing.T) {
	cfg := testConfig(t, t.TempDir())
	svc := newTestService(t, cfg, &capturingTransport{})

	ctx := context.Background()
	if err := svc.CacheSet(ctx, "profile", map[string]string{"name": "ana"}, 0); err != nil {
		t.Fatalf("CacheSet failed: %v", err)
	}

	raw, ok := svc.CacheGet(ctx, "profile")
	if !ok {
		t.Fatal("expected cache hit")
	}
	if string(raw) != `{"name":"ana"}` {
		t.Errorf("unexpected cached value %s", raw)
	}

	n, err := svc.CacheClear(ctx)
	if err != nil {
		t.Fatalf("CacheClear failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 cleared entry, got %d", n)
	}
	if _, ok := svc.CacheGet(ctx, "profile"); ok {
		t.Error("expected miss after clear")
	}
}
