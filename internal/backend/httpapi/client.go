// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package httpapi implements the backend collaborators over HTTP.
//
// One Client owns the HTTP connections and a token-bucket limiter shared by
// every call. Records, Objects and Completion return adapters for the
// session record store, the object store and the completion backend.
//
// Non-2xx responses and network failures become *model.TransportError.
// Nothing is retried.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/jeranaias/rigrun-chatsync/internal/logging"
	"github.com/jeranaias/rigrun-chatsync/internal/model"
)

// Configuration defaults.
const (
	DefaultTimeout     = 30 * time.Second
	DefaultSessionType = "agent"
	DefaultAgentID     = "agno-agent"

	// MaxResponseSize caps non-streaming response bodies (10MB).
	MaxResponseSize = 10 * 1024 * 1024

	// maxErrorBody caps how much of an error body ends up in an error.
	maxErrorBody = 512
)

// Chat wire modes.
const (
	ModeRuns  = "runs"
	ModePlain = "plain"
)

// Options configures a Client.
type Options struct {
	BaseURL     string
	AgentID     string
	SessionType string
	Mode        string // ModeRuns or ModePlain

	// Timeout bounds non-streaming calls. Streams are bounded only by the
	// caller's context.
	Timeout time.Duration

	// RequestsPerSecond <= 0 disables rate limiting.
	RequestsPerSecond float64
	Burst             int

	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client
}

// =============================================================================
// CLIENT
// =============================================================================

// Client is the shared HTTP transport.
type Client struct {
	baseURL     string
	agentID     string
	sessionType string
	mode        string
	timeout     time.Duration

	httpClient *http.Client
	limiter    *rate.Limiter
	log        *slog.Logger
}

// New creates a client. Empty options take defaults.
func New(opts Options) *Client {
	c := &Client{
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
		agentID:     opts.AgentID,
		sessionType: opts.SessionType,
		mode:        opts.Mode,
		timeout:     opts.Timeout,
		httpClient:  opts.HTTPClient,
		limiter:     rate.NewLimiter(rate.Inf, 0),
		log:         logging.WithFields("component", "httpapi"),
	}
	if c.agentID == "" {
		c.agentID = DefaultAgentID
	}
	if c.sessionType == "" {
		c.sessionType = DefaultSessionType
	}
	if c.mode == "" {
		c.mode = ModeRuns
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if c.httpClient == nil {
		// No client-level timeout: it would cut streams off.
		c.httpClient = &http.Client{}
	}
	if opts.RequestsPerSecond > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}
	return c
}

// Records returns the session record store adapter.
func (c *Client) Records() *RecordClient { return &RecordClient{c: c} }

// Objects returns the object store adapter.
func (c *Client) Objects() *ObjectClient { return &ObjectClient{c: c} }

// Completion returns the chat completion adapter.
func (c *Client) Completion() *CompletionClient { return &CompletionClient{c: c} }

// =============================================================================
// REQUEST HELPERS
// =============================================================================

// endpoint builds an absolute URL for path with the session type and owner
// query parameters set.
func (c *Client) endpoint(path, owner string, withType bool) string {
	q := url.Values{}
	if withType {
		q.Set("type", c.sessionType)
	}
	if owner != "" {
		q.Set("user_id", owner)
	}
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u
}

// do waits for the limiter, sends req and converts failures into
// TransportErrors. The caller closes the body of a successful response.
func (c *Client) do(op string, req *http.Request) (*http.Response, error) {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return nil, model.NewTransportError(op, 0, err)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Debug("request failed", "op", op, "method", req.Method, "error", err)
		return nil, model.NewTransportError(op, 0, err)
	}
	c.log.Debug("request", "op", op, "method", req.Method, "status", resp.StatusCode, "duration", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		msg := strings.TrimSpace(string(body))
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, model.NewTransportError(op, resp.StatusCode, errors.New(msg))
	}
	return resp, nil
}

// doJSON performs a bounded request with an optional JSON body and decodes
// an optional JSON response into out.
func (c *Client) doJSON(ctx context.Context, op, method, rawURL string, in, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: marshal request: %w", op, err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return fmt.Errorf("%s: create request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.do(op, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, MaxResponseSize))
		return nil
	}
	if err := decodeJSON(resp, out); err != nil {
		return model.NewTransportError(op, resp.StatusCode, err)
	}
	return nil
}

// decodeJSON reads a size-limited body into out.
func decodeJSON(resp *http.Response, out any) error {
	data, err := readResponse(resp)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// readResponse reads a body with a size limit.
func readResponse(resp *http.Response) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize+1))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if len(body) > MaxResponseSize {
		return nil, fmt.Errorf("response exceeded maximum size of %d bytes", MaxResponseSize)
	}
	return body, nil
}
