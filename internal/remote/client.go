// Waypoint - Local-First Progress Tracking and Award Evaluation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waypoint

// Package remote holds the HTTP clients for Waypoint's two external
// collaborators: the sync endpoint that stores the authoritative copy of
// user records, and the CMS that serves award definitions and content
// metadata.
//
// Every request goes through a token-bucket limiter and a circuit breaker.
// Network errors, 5xx responses and open-breaker rejections wrap
// ErrUnavailable so callers can tell "no answer" apart from "answered with
// an error".
package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/tomtom215/waypoint/internal/logging"
	"github.com/tomtom215/waypoint/internal/metrics"
	"golang.org/x/time/rate"
)

// maxErrorBodySize limits how much of an error response is read.
const maxErrorBodySize = 64 * 1024

// ErrUnavailable means the remote could not be reached or did not answer usefully.
var ErrUnavailable = errors.New("remote unavailable")

// StatusError is a non-2xx HTTP response.
type StatusError struct {
	Operation  string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s failed with status %d: %s", e.Operation, e.StatusCode, e.Body)
}

// Unwrap makes server-side failures match ErrUnavailable.
func (e *StatusError) Unwrap() error {
	if e.clientError() {
		return nil
	}
	return ErrUnavailable
}

func (e *StatusError) clientError() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500 && e.StatusCode != http.StatusTooManyRequests
}

// Options configures a client.
type Options struct {
	BaseURL  string
	APIToken string
	Timeout  time.Duration

	RequestsPerSecond float64
	Burst             int

	BreakerFailures uint32
	BreakerTimeout  time.Duration

	// HTTPClient overrides the default client; Timeout is ignored when set.
	HTTPClient *http.Client
}

// httpClient is the transport shared by SyncClient and CMSClient.
type httpClient struct {
	name    string
	baseURL string
	token   string
	client  *http.Client
	limiter *rate.Limiter
	breaker *Breaker

	maxRetries     int
	retryBaseDelay time.Duration
}

func newHTTPClient(name string, opts Options) *httpClient {
	client := opts.HTTPClient
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}

	limit := rate.Inf
	burst := opts.Burst
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
		if burst <= 0 {
			burst = 1
		}
	}

	return &httpClient{
		name:    name,
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		token:   opts.APIToken,
		client:  client,
		limiter: rate.NewLimiter(limit, burst),
		breaker: NewBreaker(BreakerConfig{
			Name:                name,
			ConsecutiveFailures: opts.BreakerFailures,
			Timeout:             opts.BreakerTimeout,
		}),
		maxRetries:     3,
		retryBaseDelay: time.Second,
	}
}

// doJSON sends in (if non-nil) as JSON and decodes the response into out
// (if non-nil). operation labels metrics and errors.
func (c *httpClient) doJSON(ctx context.Context, operation, method, path string, query url.Values, in, out interface{}) error {
	var body []byte
	if in != nil {
		var err error
		body, err = json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal %s request: %w", operation, err)
		}
	}

	reqURL := c.baseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	start := time.Now()
	err := c.breaker.Execute(func() error {
		resp, err := c.doWithRetry(ctx, method, reqURL, body)
		if err != nil {
			return fmt.Errorf("%s: %w", operation, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return &StatusError{
				Operation:  operation,
				StatusCode: resp.StatusCode,
				Body:       string(readBodyForError(resp.Body)),
			}
		}
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode %s response: %w: %w", operation, ErrUnavailable, err)
		}
		return nil
	})
	metrics.RemoteRequestDuration.WithLabelValues(c.name, operation).Observe(time.Since(start).Seconds())
	return err
}

// doWithRetry waits for the limiter, then sends the request, retrying on
// HTTP 429 with exponential backoff or the server's Retry-After.
func (c *httpClient) doWithRetry(ctx context.Context, method, reqURL string, body []byte) (*http.Response, error) {
	for attempt := 0; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		var reader io.Reader = http.NoBody
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}
		requestID := logging.RequestIDFromContext(ctx)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		req.Header.Set("X-Request-ID", requestID)

		resp, err := c.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		if resp.StatusCode != http.StatusTooManyRequests || attempt >= c.maxRetries {
			return resp, nil
		}

		delay := c.retryBaseDelay * time.Duration(1<<uint(attempt))
		if retryAfter := resp.Header.Get("Retry-After"); retryAfter != "" {
			if seconds, err := strconv.Atoi(retryAfter); err == nil && seconds >= 0 {
				delay = time.Duration(seconds) * time.Second
			}
		}
		_ = resp.Body.Close()

		logging.Debug().
			Str("client", c.name).
			Int("attempt", attempt+1).
			Dur("delay", delay).
			Msg("Rate limited by remote, backing off")

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func readBodyForError(r io.Reader) []byte {
	body, err := io.ReadAll(io.LimitReader(r, maxErrorBodySize))
	if err != nil {
		return []byte("(failed to read response body)")
	}
	if len(body) == maxErrorBodySize {
		return append(body, []byte("\n... (truncated)")...)
	}
	return body
}
