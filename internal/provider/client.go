// Package provider implements the authenticated transport to the Historical PowerTrack API.
package provider

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"historical/internal/apperrors"
	"historical/internal/config"
	"historical/internal/job"
)

// maxBodySize bounds how much of a response is kept. Job lists and status
// documents are small; anything larger is truncated.
const maxBodySize = 16 << 20

// MetricsRecorder is an optional interface for recording request metrics.
type MetricsRecorder interface {
	RecordProviderRequest(ctx context.Context, method, rawURL string, statusCode int, durationSeconds float64)
}

// Client sends basic-auth requests to the provider. It implements job.Transport.
type Client struct {
	http      *http.Client
	username  string
	password  string
	userAgent string
	logger    *slog.Logger
	metrics   MetricsRecorder
}

// Options tune a Client. Zero values use defaults.
type Options struct {
	Timeout   time.Duration // default: 60s
	UserAgent string        // default: "historical"
	Metrics   MetricsRecorder
	Logger    *slog.Logger
}

// New creates a client authenticating as the account's user.
func New(acct *config.Account, opts Options) (*Client, error) {
	password, err := acct.Password()
	if err != nil {
		return nil, apperrors.Config("account.password_encoded", "password_encoded is not valid base64")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "historical"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Client{
		http:      &http.Client{Timeout: opts.Timeout},
		username:  acct.Username,
		password:  password,
		userAgent: opts.UserAgent,
		logger:    opts.Logger.With("component", "provider"),
		metrics:   opts.Metrics,
	}, nil
}

// Get fetches a resource.
func (c *Client) Get(ctx context.Context, url string) (*job.Response, error) {
	return c.do(ctx, http.MethodGet, url, nil)
}

// Post creates a resource from a JSON body.
func (c *Client) Post(ctx context.Context, url string, body []byte) (*job.Response, error) {
	return c.do(ctx, http.MethodPost, url, body)
}

// Put updates a resource with a JSON body.
func (c *Client) Put(ctx context.Context, url string, body []byte) (*job.Response, error) {
	return c.do(ctx, http.MethodPut, url, body)
}

func (c *Client) do(ctx context.Context, method, url string, body []byte) (*job.Response, error) {
	reqID := uuid.NewString()
	start := time.Now()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.SetBasicAuth(c.username, c.password)
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.logger.Debug("Provider request", "reqId", reqID, "method", method, "url", url, "bytes", len(body))

	resp, err := c.http.Do(req)
	if err != nil {
		c.record(ctx, method, url, 0, start)
		c.logger.Warn("Provider request failed", "reqId", reqID, "method", method, "url", url,
			"error", err, "elapsedMs", time.Since(start).Milliseconds())
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		c.record(ctx, method, url, 0, start)
		return nil, fmt.Errorf("read response: %w", err)
	}

	c.record(ctx, method, url, resp.StatusCode, start)
	c.logger.Debug("Provider response", "reqId", reqID, "method", method, "url", url,
		"status", resp.StatusCode, "bytes", len(raw), "elapsedMs", time.Since(start).Milliseconds())

	return &job.Response{StatusCode: resp.StatusCode, Body: raw}, nil
}

func (c *Client) record(ctx context.Context, method, url string, status int, start time.Time) {
	if c.metrics != nil {
		c.metrics.RecordProviderRequest(ctx, method, url, status, time.Since(start).Seconds())
	}
}

// Verify Client implements job.Transport
var _ job.Transport = (*Client)(nil)
