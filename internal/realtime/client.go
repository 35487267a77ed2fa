// Package realtime manages one logical persistent WebSocket connection to the
// backend: handshake auth, heartbeat, reconnect with backoff, and a
// subscribe/unsubscribe multiplexer that fans inbound messages out to
// per-channel handler sets.
//
// Subscriptions are registered locally and replayed on the wire after every
// successful connect, so a caller's registration survives network flaps
// without re-registration. Outbound Emit never buffers; buffering of
// state-changing intents is the sync queue's job.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/driftlab/driftsync/internal/sched"
	"github.com/driftlab/driftsync/internal/schema"
)

// ErrNotConnected is returned by Emit when no connection is established.
var ErrNotConnected = errors.New("realtime: not connected")

// ErrUnreachable is returned by Emit after the reconnect budget is exhausted;
// only an explicit Reconnect leaves this state. It wraps ErrNotConnected so
// callers checking the broader condition still match.
var ErrUnreachable = fmt.Errorf("realtime: backend unreachable: %w", ErrNotConnected)

// State is the connection state, owned solely by the client and exposed
// read-only to collaborators.
type State int

const (
	// StateDisconnected means no connection exists and none is being made.
	StateDisconnected State = iota
	// StateConnecting means a handshake is in flight.
	StateConnecting
	// StateConnected means the connection is established.
	StateConnected
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// Handler receives the payload of an inbound message on a subscribed channel.
type Handler func(data json.RawMessage)

// CredentialFunc supplies the credential attached to the handshake.
// The core does not issue credentials; it only attaches what the caller
// provides.
type CredentialFunc func(ctx context.Context) (string, error)

// Config holds configuration for the client.
type Config struct {
	// URL is the WebSocket endpoint (ws:// or wss://).
	URL string

	// Credentials supplies the handshake credential. Optional.
	Credentials CredentialFunc

	// DialTimeout bounds one connection attempt.
	DialTimeout time.Duration

	// HeartbeatInterval is the keep-alive ping period while connected.
	HeartbeatInterval time.Duration

	// WriteTimeout bounds one outbound frame write.
	WriteTimeout time.Duration

	// BaseDelay seeds the reconnect exponential backoff.
	BaseDelay time.Duration

	// MaxReconnectAttempts caps automatic reconnection. After exhausting the
	// budget the client is unreachable until Reconnect is called.
	MaxReconnectAttempts int

	// Clock drives backoff waits and the heartbeat. Defaults to real time.
	Clock sched.Clock

	// Logger for client activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DialTimeout:          10 * time.Second,
		HeartbeatInterval:    30 * time.Second,
		WriteTimeout:         5 * time.Second,
		BaseDelay:            time.Second,
		MaxReconnectAttempts: 5,
		Clock:                sched.Real(),
		Logger:               log.New(os.Stderr, "[realtime] ", log.LstdFlags),
	}
}

// subscription is one registered handler within a channel's handler set.
type subscription struct {
	id      uint64
	handler Handler
}

// Client owns the socket handle and the subscription table.
type Client struct {
	config *Config

	mu              sync.Mutex
	state           State
	conn            *websocket.Conn
	connCancel      context.CancelFunc // stops readLoop/heartbeat of the live conn
	reconnectCancel context.CancelFunc // aborts a backoff wait in the reconnect loop
	intentional     bool               // Disconnect was called; suppress reconnect
	unreachable     bool               // reconnect budget exhausted
	reconnecting    bool
	attempts        int
	subs            map[string][]subscription
	nextSubID       uint64

	wg sync.WaitGroup
}

// New creates a client. Connect must be called to establish the connection.
func New(config *Config) *Client {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Clock == nil {
		config.Clock = sched.Real()
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[realtime] ", log.LstdFlags)
	}
	if config.DialTimeout == 0 {
		config.DialTimeout = 10 * time.Second
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = 5 * time.Second
	}

	return &Client{
		config: config,
		subs:   make(map[string][]subscription),
	}
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Unreachable reports whether the client has exhausted its reconnect budget
// and is waiting for an explicit Reconnect.
func (c *Client) Unreachable() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unreachable
}

// Connect establishes the connection, attaching the configured credential to
// the handshake. On success the client resubscribes every channel in the
// subscription table and starts the heartbeat. On failure the client begins
// automatic reconnection in the background and returns the dial error.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateDisconnected {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("realtime: connect in state %s", state)
	}
	c.state = StateConnecting
	c.intentional = false
	c.unreachable = false
	c.mu.Unlock()

	if err := c.dial(ctx); err != nil {
		c.mu.Lock()
		c.state = StateDisconnected
		c.mu.Unlock()
		c.scheduleReconnect()
		return err
	}

	return nil
}

// Disconnect closes the connection intentionally. In-flight sends are allowed
// to complete or fail; only the automatic-reconnect behavior is suppressed.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.intentional = true
	conn := c.conn
	cancel := c.connCancel
	rcancel := c.reconnectCancel
	c.conn = nil
	c.connCancel = nil
	c.state = StateDisconnected
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if rcancel != nil {
		rcancel()
	}
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "client disconnect")
	}

	c.wg.Wait()
	c.config.Logger.Printf("Disconnected")
}

// Reconnect resets the attempt counter and restarts the connect sequence
// immediately. This is the manual override for the terminal unreachable
// state, typically driven by the connectivity monitor reporting online.
func (c *Client) Reconnect(ctx context.Context) error {
	c.mu.Lock()
	c.attempts = 0
	c.unreachable = false
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return nil
	}
	c.state = StateConnecting
	c.intentional = false
	c.mu.Unlock()

	if err := c.dial(ctx); err != nil {
		c.mu.Lock()
		c.state = StateDisconnected
		c.mu.Unlock()
		c.scheduleReconnect()
		return err
	}
	return nil
}

// Subscribe registers handler under channel and returns a function that
// removes it. If connected, a subscribe frame is sent immediately; otherwise
// the wire subscription is deferred until the next successful connect.
func (c *Client) Subscribe(channel string, handler Handler) func() {
	c.mu.Lock()
	c.nextSubID++
	id := c.nextSubID
	first := len(c.subs[channel]) == 0
	c.subs[channel] = append(c.subs[channel], subscription{id: id, handler: handler})
	conn := c.conn
	c.mu.Unlock()

	if first && conn != nil {
		c.sendControl(conn, schema.MessageTypeSubscribe, channel)
	}

	return func() { c.unsubscribe(channel, id) }
}

// unsubscribe removes one handler; when a channel's handler set becomes
// empty the wire subscription is dropped too.
func (c *Client) unsubscribe(channel string, id uint64) {
	c.mu.Lock()
	set := c.subs[channel]
	for i, sub := range set {
		if sub.id == id {
			set = append(set[:i], set[i+1:]...)
			break
		}
	}
	var conn *websocket.Conn
	if len(set) == 0 {
		delete(c.subs, channel)
		conn = c.conn
	} else {
		c.subs[channel] = set
	}
	c.mu.Unlock()

	if conn != nil {
		c.sendControl(conn, schema.MessageTypeUnsubscribe, channel)
	}
}

// Emit sends an event frame. It never buffers: when not connected it returns
// ErrNotConnected and the caller decides whether the intent belongs in the
// sync queue instead.
func (c *Client) Emit(event string, data any) error {
	c.mu.Lock()
	conn := c.conn
	unreachable := c.unreachable
	c.mu.Unlock()

	if conn == nil {
		if unreachable {
			return ErrUnreachable
		}
		return ErrNotConnected
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}

	msg := schema.Message{
		Channel: event,
		Type:    schema.MessageTypeEvent,
		Data:    raw,
	}
	if err := c.write(conn, msg); err != nil {
		return fmt.Errorf("failed to emit %s: %w", event, err)
	}
	return nil
}

// dial performs one connection attempt and, on success, installs the
// connection and starts its read loop and heartbeat.
func (c *Client) dial(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, c.config.DialTimeout)
	defer cancel()

	opts := &websocket.DialOptions{}
	if c.config.Credentials != nil {
		cred, err := c.config.Credentials(dialCtx)
		if err != nil {
			return fmt.Errorf("failed to obtain credential: %w", err)
		}
		opts.HTTPHeader = http.Header{"Authorization": []string{"Bearer " + cred}}
	}

	conn, _, err := websocket.Dial(dialCtx, c.config.URL, opts)
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", c.config.URL, err)
	}

	connCtx, connCancel := context.WithCancel(context.Background())

	c.mu.Lock()
	if c.intentional {
		// Disconnect raced the handshake; do not install the connection.
		c.mu.Unlock()
		connCancel()
		_ = conn.Close(websocket.StatusNormalClosure, "client disconnect")
		return fmt.Errorf("realtime: connect aborted by disconnect")
	}
	c.conn = conn
	c.connCancel = connCancel
	c.state = StateConnected
	c.attempts = 0
	c.unreachable = false
	channels := make([]string, 0, len(c.subs))
	for ch := range c.subs {
		channels = append(channels, ch)
	}
	c.mu.Unlock()

	c.config.Logger.Printf("Connected to %s", c.config.URL)

	// Replay the subscription table on the wire.
	sort.Strings(channels)
	for _, ch := range channels {
		c.sendControl(conn, schema.MessageTypeSubscribe, ch)
	}

	c.wg.Add(2)
	go c.readLoop(connCtx, conn)
	go c.heartbeat(connCtx, conn)

	return nil
}

// readLoop receives inbound messages and fans them out until the connection
// drops.
func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) {
	defer c.wg.Done()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			c.handleDisconnect(conn)
			return
		}

		var msg schema.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.config.Logger.Printf("Warning: dropping malformed message: %v", err)
			continue
		}

		c.dispatch(msg)
	}
}

// dispatch invokes every handler registered for the message's channel.
// A panicking handler is isolated so it cannot block delivery to the others
// or crash the client.
func (c *Client) dispatch(msg schema.Message) {
	if msg.Channel == "" {
		return
	}

	c.mu.Lock()
	set := make([]subscription, len(c.subs[msg.Channel]))
	copy(set, c.subs[msg.Channel])
	c.mu.Unlock()

	for _, sub := range set {
		func() {
			defer func() {
				if r := recover(); r != nil {
					c.config.Logger.Printf("Warning: handler for %q panicked: %v", msg.Channel, r)
				}
			}()
			sub.handler(msg.Data)
		}()
	}
}

// heartbeat sends fixed-interval keep-alive pings while the connection lives.
func (c *Client) heartbeat(ctx context.Context, conn *websocket.Conn) {
	defer c.wg.Done()

	ticker := c.config.Clock.NewTicker(c.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C():
			pingCtx, cancel := context.WithTimeout(ctx, c.config.WriteTimeout)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				c.config.Logger.Printf("Heartbeat failed: %v", err)
				// Closing makes the read loop observe the failure and run
				// the usual disconnect path.
				_ = conn.Close(websocket.StatusGoingAway, "heartbeat failed")
				return
			}
		}
	}
}

// handleDisconnect transitions to DISCONNECTED and, unless the disconnect was
// intentional, begins reconnection.
func (c *Client) handleDisconnect(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn != conn {
		// A newer connection already replaced this one.
		c.mu.Unlock()
		return
	}
	c.conn = nil
	cancel := c.connCancel
	c.connCancel = nil
	c.state = StateDisconnected
	intentional := c.intentional
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	_ = conn.Close(websocket.StatusNormalClosure, "")

	if intentional {
		return
	}

	c.config.Logger.Printf("Connection lost")
	c.scheduleReconnect()
}

// scheduleReconnect starts the reconnect loop unless one is already running,
// the disconnect was intentional, or the budget is exhausted.
func (c *Client) scheduleReconnect() {
	c.mu.Lock()
	if c.reconnecting || c.intentional || c.unreachable {
		c.mu.Unlock()
		return
	}
	c.reconnecting = true
	ctx, cancel := context.WithCancel(context.Background())
	c.reconnectCancel = cancel
	c.mu.Unlock()

	c.wg.Add(1)
	go c.reconnectLoop(ctx)
}

// reconnectLoop retries the connection with exponential backoff until it
// succeeds, the caller disconnects, or the attempt budget is exhausted.
func (c *Client) reconnectLoop(ctx context.Context) {
	defer c.wg.Done()
	defer func() {
		c.mu.Lock()
		c.reconnecting = false
		c.reconnectCancel = nil
		c.mu.Unlock()
	}()

	for {
		c.mu.Lock()
		if c.intentional {
			c.mu.Unlock()
			return
		}
		if c.attempts >= c.config.MaxReconnectAttempts {
			c.unreachable = true
			c.mu.Unlock()
			c.config.Logger.Printf("Giving up after %d reconnect attempts; call Reconnect to retry",
				c.config.MaxReconnectAttempts)
			return
		}
		attempt := c.attempts
		c.attempts++
		c.mu.Unlock()

		delay := sched.Backoff(c.config.BaseDelay, attempt)
		c.config.Logger.Printf("Reconnect attempt %d in %v", attempt+1, delay)
		select {
		case <-ctx.Done():
			return
		case <-c.config.Clock.After(delay):
		}

		c.mu.Lock()
		if c.intentional || c.state != StateDisconnected {
			c.mu.Unlock()
			return
		}
		c.state = StateConnecting
		c.mu.Unlock()

		if err := c.dial(ctx); err != nil {
			c.config.Logger.Printf("Reconnect failed: %v", err)
			c.mu.Lock()
			c.state = StateDisconnected
			c.mu.Unlock()
			continue
		}
		return
	}
}

// sendControl sends a subscribe/unsubscribe frame; failures are logged, not
// surfaced — a broken connection will be noticed by the read loop and the
// table replayed on reconnect.
func (c *Client) sendControl(conn *websocket.Conn, typ schema.MessageType, channel string) {
	msg := schema.Message{Channel: channel, Type: typ}
	if err := c.write(conn, msg); err != nil {
		c.config.Logger.Printf("Warning: failed to send %s for %q: %v", typ, channel, err)
	}
}

// write marshals and sends one frame with the configured write timeout.
func (c *Client) write(conn *websocket.Conn, msg schema.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.config.WriteTimeout)
	defer cancel()

	return conn.Write(ctx, websocket.MessageText, data)
}
