// Package client talks to a remote vyuha server. It implements
// expand.Fetcher over POST /graph/expand so a session can run against a
// graph it does not host.
package client

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
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/vyuha/vyuha-explorer/internal/graph"
	"github.com/vyuha/vyuha-explorer/internal/query"
)

var (
	// ErrUpstream wraps non-2xx responses from the server.
	ErrUpstream = errors.New("client: upstream error")
	// ErrUnavailable is returned while the circuit breaker rejects calls.
	ErrUnavailable = errors.New("client: upstream unavailable")
)

// ---------------------------------------------------------------------------
// Configuration
// ---------------------------------------------------------------------------

// Config describes the remote server and how hard to lean on it.
type Config struct {
	BaseURL string        `json:"base_url" yaml:"upstream_url" validate:"omitempty,url"`
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	// FailureThreshold consecutive failures open the breaker for
	// OpenTimeout before a probe is let through.
	FailureThreshold uint32        `json:"failure_threshold" yaml:"breaker_threshold"`
	OpenTimeout      time.Duration `json:"open_timeout" yaml:"breaker_open_timeout"`
}

// DefaultConfig returns the client defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:          10 * time.Second,
		FailureThreshold: 5,
		OpenTimeout:      30 * time.Second,
	}
}

// UpstreamError carries the status and error code of a failed call.
type UpstreamError struct {
	Status  int
	Code    string
	Message string
}

func (e *UpstreamError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("status %d: %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("status %d: %s", e.Status, e.Message)
}

// Unwrap lets callers match ErrUpstream.
func (e *UpstreamError) Unwrap() error { return ErrUpstream }

// ---------------------------------------------------------------------------
// Client
// ---------------------------------------------------------------------------

// Client is a goroutine-safe HTTP client for the graph endpoints.
type Client struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	cb         *gobreaker.CircuitBreaker
}

// New creates a Client for cfg.BaseURL.
func New(cfg Config) (*Client, error) {
	def := DefaultConfig()
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("client: base url is required")
	}
	if _, err := url.ParseRequestURI(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("client: base url %q: %w", cfg.BaseURL, err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = def.OpenTimeout
	}

	threshold := cfg.FailureThreshold
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "vyuha-upstream",
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			// 4xx is the caller's fault, not the server's.
			var ue *UpstreamError
			if errors.As(err, &ue) {
				return ue.Status < 500
			}
			return errors.Is(err, context.Canceled)
		},
	})

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{},
		timeout:    cfg.Timeout,
		cb:         cb,
	}, nil
}

// BreakerState reports the circuit breaker state ("closed", "open",
// "half-open").
func (c *Client) BreakerState() string {
	return c.cb.State().String()
}

// Fetch implements expand.Fetcher.
func (c *Client) Fetch(ctx context.Context, req graph.ExpandRequest) (*graph.ExpandResponse, error) {
	var resp graph.ExpandResponse
	if err := c.do(ctx, http.MethodPost, "/graph/expand", req, &resp); err != nil {
		return nil, fmt.Errorf("client: expand %v: %w", req.SeedIDs, err)
	}
	return &resp, nil
}

// Stats returns the size of the remote graph.
func (c *Client) Stats(ctx context.Context) (*graph.StatsResponse, error) {
	var resp graph.StatsResponse
	if err := c.do(ctx, http.MethodGet, "/graph/stats", nil, &resp); err != nil {
		return nil, fmt.Errorf("client: stats: %w", err)
	}
	return &resp, nil
}

// Search looks up seed candidates by text.
func (c *Client) Search(ctx context.Context, q string, limit int, semantic bool) ([]query.SearchHit, error) {
	v := url.Values{}
	v.Set("q", q)
	if limit > 0 {
		v.Set("limit", strconv.Itoa(limit))
	}
	if semantic {
		v.Set("semantic", "true")
	}
	var resp struct {
		Results []query.SearchHit `json:"results"`
	}
	if err := c.do(ctx, http.MethodGet, "/graph/search?"+v.Encode(), nil, &resp); err != nil {
		return nil, fmt.Errorf("client: search %q: %w", q, err)
	}
	return resp.Results, nil
}

// ---------------------------------------------------------------------------
// HTTP helper
// ---------------------------------------------------------------------------

func (c *Client) do(ctx context.Context, method, path string, reqBody, out any) error {
	_, err := c.cb.Execute(func() (interface{}, error) {
		return nil, c.doJSON(ctx, method, path, reqBody, out)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return err
}

func (c *Client) doJSON(ctx context.Context, method, path string, reqBody, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader
	if reqBody != nil {
		b, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("marshal: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		ue := &UpstreamError{Status: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
		var apiErr struct {
			Error string `json:"error"`
			Code  string `json:"code"`
		}
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error != "" {
			ue.Code, ue.Message = apiErr.Code, apiErr.Error
		}
		return ue
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}
