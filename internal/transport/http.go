// Package transport delivers queued operations to the backing API over HTTP.
package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/driftlab/driftsync/internal/schema"
)

// DefaultTimeout bounds each delivery attempt end to end.
const DefaultTimeout = 10 * time.Second

// errorBodyLimit caps how much of a failed response body lands in the error.
const errorBodyLimit = 512

// Config controls the HTTP transport.
type Config struct {
	// BaseURL is prefixed to every operation endpoint.
	BaseURL string

	// Headers are attached to every request (auth tokens, API versions).
	Headers map[string]string

	// Client is the underlying HTTP client. Defaults to one with
	// DefaultTimeout when nil.
	Client *http.Client

	// Logger receives delivery diagnostics. Defaults to a discard logger.
	Logger *log.Logger
}

// HTTP maps queued operations onto REST calls: CREATE posts, READ gets,
// UPDATE puts, DELETE deletes. Any non-2xx status is a failed attempt.
type HTTP struct {
	config Config
	client *http.Client
	logger *log.Logger
}

// NewHTTP creates a transport for the given backend.
func NewHTTP(config Config) *HTTP {
	client := config.Client
	if client == nil {
		client = &http.Client{Timeout: DefaultTimeout}
	}
	logger := config.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &HTTP{
		config: config,
		client: client,
		logger: logger,
	}
}

// Send delivers one operation. It implements syncer.Transport.
func (t *HTTP) Send(ctx context.Context, op schema.Operation) error {
	verb, err := httpVerb(op.Method)
	if err != nil {
		return err
	}

	url := strings.TrimRight(t.config.BaseURL, "/") + "/" + strings.TrimLeft(op.Endpoint, "/")

	var body io.Reader
	if len(op.Payload) > 0 && verb != http.MethodGet {
		body = bytes.NewReader(op.Payload)
	}

	req, err := http.NewRequestWithContext(ctx, verb, url, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range t.config.Headers {
		req.Header.Set(k, v)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to deliver %s %s: %w", op.Method, op.Endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		t.logger.Printf("Delivery rejected: %s %s -> %d", op.Method, op.Endpoint, resp.StatusCode)
		return fmt.Errorf("backend rejected %s %s: status %d: %s",
			op.Method, op.Endpoint, resp.StatusCode, strings.TrimSpace(string(excerpt)))
	}

	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func httpVerb(method schema.Method) (string, error) {
	switch method {
	case schema.MethodCreate:
		return http.MethodPost, nil
	case schema.MethodRead:
		return http.MethodGet, nil
	case schema.MethodUpdate:
		return http.MethodPut, nil
	case schema.MethodDelete:
		return http.MethodDelete, nil
	default:
		return "", fmt.Errorf("unknown operation method %q", method)
	}
}
