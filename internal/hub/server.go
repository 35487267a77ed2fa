// Package hub provides a WebSocket channel server compatible with the
// realtime client: clients subscribe to named channels and receive every
// event published on them. Intended as a development backend and for tests.
package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/driftlab/driftsync/internal/schema"
)

// writeTimeout bounds a single frame write to one client.
const writeTimeout = 5 * time.Second

// Config holds server configuration.
type Config struct {
	// Port to listen on. Port 0 picks a free port.
	Port int

	// Logger for server activity.
	Logger *log.Logger
}

// Server accepts WebSocket clients, tracks their channel subscriptions, and
// fans events out. An event emitted by one client is forwarded to every
// other subscriber of that channel; the sender does not get an echo.
type Server struct {
	addr     string
	listener net.Listener
	server   *http.Server
	logger   *log.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}

	publish chan schema.Message

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type client struct {
	conn *websocket.Conn

	mu       sync.Mutex
	channels map[string]struct{}
}

func (c *client) subscribed(channel string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.channels[channel]
	return ok
}

// NewServer creates a hub server. Start must be called before clients can
// connect.
func NewServer(config *Config) *Server {
	if config == nil {
		config = &Config{}
	}
	if config.Logger == nil {
		config.Logger = log.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		addr:    fmt.Sprintf(":%d", config.Port),
		logger:  config.Logger,
		clients: make(map[*client]struct{}),
		publish: make(chan schema.Message, 100),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start begins listening and serving WebSocket upgrades on /ws.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)

	s.server = &http.Server{
		Handler:     mux,
		ReadTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go s.publishLoop()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Hub listening on %s", ln.Addr())
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("Server error: %v", err)
		}
	}()

	return nil
}

// Stop disconnects all clients and shuts the server down.
func (s *Server) Stop() error {
	s.cancel()

	s.mu.Lock()
	for c := range s.clients {
		_ = c.conn.Close(websocket.StatusGoingAway, "server shutting down")
		delete(s.clients, c)
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	s.wg.Wait()
	return nil
}

// Publish queues an event for delivery to every subscriber of the channel.
// Drops the event when the queue is full rather than blocking the caller.
func (s *Server) Publish(channel string, data json.RawMessage) {
	msg := schema.Message{Channel: channel, Type: schema.MessageTypeEvent, Data: data}
	select {
	case s.publish <- msg:
	case <-s.ctx.Done():
	default:
		s.logger.Printf("Warning: publish queue full, dropping event on %s", channel)
	}
}

// Addr returns the bound listen address, usable after Start.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

func (s *Server) publishLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case msg := <-s.publish:
			s.fanOut(msg, nil)
		}
	}
}

// fanOut delivers msg to every subscriber of its channel except origin.
func (s *Server) fanOut(msg schema.Message, origin *client) {
	data, err := json.Marshal(msg)
	if err != nil {
		s.logger.Printf("Failed to marshal event: %v", err)
		return
	}

	s.mu.RLock()
	targets := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		if c != origin && c.subscribed(msg.Channel) {
			targets = append(targets, c)
		}
	}
	s.mu.RUnlock()

	for _, c := range targets {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err := c.conn.Write(ctx, websocket.MessageText, data)
		cancel()
		if err != nil {
			s.logger.Printf("Failed to send to client: %v", err)
			s.removeClient(c)
		}
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	c := &client{conn: conn, channels: make(map[string]struct{})}

	s.mu.Lock()
	s.clients[c] = struct{}{}
	total := len(s.clients)
	s.mu.Unlock()

	s.logger.Printf("Client connected (total: %d)", total)

	s.wg.Add(1)
	go s.readLoop(c)
}

func (s *Server) readLoop(c *client) {
	defer s.wg.Done()
	defer s.removeClient(c)

	for {
		_, data, err := c.conn.Read(s.ctx)
		if err != nil {
			return
		}

		var msg schema.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Printf("Dropping malformed frame: %v", err)
			continue
		}

		switch msg.Type {
		case schema.MessageTypeSubscribe:
			c.mu.Lock()
			c.channels[msg.Channel] = struct{}{}
			c.mu.Unlock()
		case schema.MessageTypeUnsubscribe:
			c.mu.Lock()
			delete(c.channels, msg.Channel)
			c.mu.Unlock()
		case schema.MessageTypeEvent:
			s.fanOut(msg, c)
		case schema.MessageTypePing:
			// Liveness only; transport-level pongs are automatic.
		default:
			s.logger.Printf("Dropping frame with unknown type %q", msg.Type)
		}
	}
}

func (s *Server) removeClient(c *client) {
	s.mu.Lock()
	if _, ok := s.clients[c]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.clients, c)
	total := len(s.clients)
	s.mu.Unlock()

	_ = c.conn.Close(websocket.StatusNormalClosure, "")
	s.logger.Printf("Client disconnected (total: %d)", total)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":  "ok",
		"clients": s.ClientCount(),
	})
}
