// Package client talks to a running snatch daemon. Before each command
// it probes the page context; a detached page is reattached and probed
// again a bounded number of times before giving up.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hazyhaar/snatch/contact"
	"github.com/hazyhaar/snatch/engine"
)

// ErrUnreachable means the page context did not answer after reattaching.
var ErrUnreachable = errors.New("client: page not reachable, please refresh the page")

// APIError is a non-2xx answer of the daemon.
type APIError struct {
	Code    int
	Message string
}

func (e *APIError) Error() string { return fmt.Sprintf("client: %d: %s", e.Code, e.Message) }

func (e *APIError) detached() bool {
	return e.Code == http.StatusServiceUnavailable && e.Message == "page_detached"
}

// Client is a daemon client.
type Client struct {
	base     string
	token    string
	http     *http.Client
	attempts int
	wait     time.Duration
	logger   *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithToken sends a bearer token.
func WithToken(t string) Option { return func(c *Client) { c.token = t } }

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.http = h } }

// WithRetry sets the probe attempts and the wait after each reattach.
func WithRetry(attempts int, wait time.Duration) Option {
	return func(c *Client) { c.attempts, c.wait = attempts, wait }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(c *Client) { c.logger = l } }

// New creates a client for the daemon at addr ("host:port" or a URL).
func New(addr string, opts ...Option) *Client {
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	c := &Client{
		base:     strings.TrimRight(addr, "/"),
		http:     &http.Client{Timeout: 30 * time.Second},
		attempts: 3,
		wait:     500 * time.Millisecond,
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Ensure probes the page context, reattaching it when detached. It
// returns ErrUnreachable once the attempts are spent.
func (c *Client) Ensure(ctx context.Context) error {
	var last error
	for i := 0; i < c.attempts; i++ {
		var res engine.Result
		err := c.do(ctx, http.MethodGet, "/api/ping", nil, &res)
		if err == nil {
			return nil
		}
		last = err
		var apiErr *APIError
		if errors.As(err, &apiErr) && !apiErr.detached() {
			return err
		}
		if errors.As(err, &apiErr) {
			c.logger.Debug("client: page detached, reattaching", "attempt", i+1)
			if rerr := c.do(ctx, http.MethodPost, "/api/session/reattach", nil, nil); rerr != nil {
				c.logger.Debug("client: reattach failed", "error", rerr)
			}
		}
		if i < c.attempts-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.wait):
			}
		}
	}
	return fmt.Errorf("%w (%v)", ErrUnreachable, last)
}

// Send runs one command after making sure the page is reachable.
func (c *Client) Send(ctx context.Context, a engine.Action) (engine.Result, error) {
	if err := c.Ensure(ctx); err != nil {
		return engine.Result{}, err
	}
	var res engine.Result
	err := c.do(ctx, http.MethodPost, "/api/command", engine.Command{Action: a}, &res)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.detached() {
		// Lost between probe and command.
		if err := c.Ensure(ctx); err != nil {
			return engine.Result{}, err
		}
		err = c.do(ctx, http.MethodPost, "/api/command", engine.Command{Action: a}, &res)
	}
	return res, err
}

// Start begins or resumes a scan.
func (c *Client) Start(ctx context.Context) (engine.Result, error) {
	return c.Send(ctx, engine.ActionStart)
}

// Stop halts the scan.
func (c *Client) Stop(ctx context.Context) (engine.Result, error) {
	return c.Send(ctx, engine.ActionStop)
}

// Status reports the scan state.
func (c *Client) Status(ctx context.Context) (engine.Result, error) {
	return c.Send(ctx, engine.ActionStatus)
}

// Contacts lists the collected records.
func (c *Client) Contacts(ctx context.Context) ([]contact.Record, error) {
	var out struct {
		Contacts []contact.Record `json:"contacts"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/contacts", nil, &out); err != nil {
		return nil, err
	}
	return out.Contacts, nil
}

// Export downloads the records in format and returns the content and the
// suggested filename.
func (c *Client) Export(ctx context.Context, format string) ([]byte, string, error) {
	resp, err := c.request(ctx, http.MethodGet, "/api/export?format="+url.QueryEscape(format), nil)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("client: read export: %w", err)
	}
	name := ""
	if _, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition")); err == nil {
		name = params["filename"]
	}
	return data, name, nil
}

// Clear deletes the collected records.
func (c *Client) Clear(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/clear", nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	resp, err := c.request(ctx, method, path, in)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("client: decode %s: %w", path, err)
	}
	return nil
}

// request sends the call and turns non-2xx answers into *APIError.
func (c *Client) request(ctx context.Context, method, path string, in any) (*http.Response, error) {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("client: encode: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return nil, fmt.Errorf("client: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("client: %s %s: %w", method, path, err)
	}
	if resp.StatusCode/100 == 2 {
		return resp, nil
	}
	defer resp.Body.Close()
	var e struct {
		Error string `json:"error"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if json.Unmarshal(data, &e) != nil || e.Error == "" {
		e.Error = strings.TrimSpace(string(data))
	}
	return nil, &APIError{Code: resp.StatusCode, Message: e.Error}
}
