package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/eink-dashboard/internal/circuitbreaker"
	"github.com/kjstillabower/eink-dashboard/internal/observability"
)

// maxBodyBytes caps how much of an upstream response is read into memory.
var maxBodyBytes int64 = 16 << 20

// Client performs single, unretried GETs against one upstream source, recording
// metrics and mapping failures onto FetchError and StatusError.
type Client struct {
	source    string
	userAgent string
	timeout   time.Duration
	client    *http.Client
	breaker   *circuitbreaker.CircuitBreaker
}

// NewClient returns a Client for source. timeout bounds each call; zero disables it.
func NewClient(source, userAgent string, timeout time.Duration) *Client {
	return &Client{
		source:    source,
		userAgent: userAgent,
		timeout:   timeout,
		client:    &http.Client{Timeout: timeout},
	}
}

// SetCircuitBreaker guards every Get with cb. Passing nil removes the guard.
func (c *Client) SetCircuitBreaker(cb *circuitbreaker.CircuitBreaker) {
	c.breaker = cb
}

// Source returns the metric/log label of this upstream.
func (c *Client) Source() string {
	return c.source
}

// Get fetches rawURL and returns the body of a 2xx response.
func (c *Client) Get(ctx context.Context, rawURL, accept string) ([]byte, error) {
	if rawURL == "" {
		err := &FetchError{Source: c.source, Err: ErrMissingURL}
		RecordError(c.source, err)
		return nil, err
	}

	var body []byte
	var err error
	if c.breaker != nil {
		err = c.breaker.Call(ctx, func() error {
			var callErr error
			body, callErr = c.do(ctx, rawURL, accept)
			return callErr
		})
		if errors.Is(err, circuitbreaker.ErrOpen) {
			err = &FetchError{Source: c.source, Err: err}
		}
	} else {
		body, err = c.do(ctx, rawURL, accept)
	}
	if err != nil {
		// Abandoned calls say nothing about the upstream.
		if !errors.Is(err, context.Canceled) {
			RecordError(c.source, err)
		}
		return nil, err
	}
	return body, nil
}

func (c *Client) do(ctx context.Context, rawURL, accept string) ([]byte, error) {
	start := time.Now()
	logger := observability.LoggerFromContext(ctx)

	reqCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		observability.UpstreamCallsTotal.WithLabelValues(c.source, "error").Inc()
		return nil, &FetchError{Source: c.source, Err: fmt.Errorf("build request: %w", err)}
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	if corrID := observability.CorrelationID(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		observability.UpstreamCallsTotal.WithLabelValues(c.source, "error").Inc()
		observability.UpstreamDuration.WithLabelValues(c.source, "error").Observe(time.Since(start).Seconds())
		// net/http reports the cancellation cause, which is a sibling's error under errgroup.
		if ctxErr := reqCtx.Err(); ctxErr != nil {
			return nil, &FetchError{Source: c.source, Err: ctxErr}
		}
		// The message ends up in the 500 body; keep feed tokens out of it.
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			urlErr.URL = RedactURL(urlErr.URL)
		}
		return nil, &FetchError{Source: c.source, Err: err}
	}
	defer resp.Body.Close()

	status := statusLabel(resp.StatusCode)
	observability.UpstreamCallsTotal.WithLabelValues(c.source, status).Inc()
	observability.UpstreamDuration.WithLabelValues(c.source, status).Observe(time.Since(start).Seconds())
	logger.Debug("upstream call",
		zap.String("source", c.source),
		zap.String("url", RedactURL(rawURL)),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{Source: c.source, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		if ctxErr := reqCtx.Err(); ctxErr != nil {
			return nil, &FetchError{Source: c.source, Err: ctxErr}
		}
		return nil, &FetchError{Source: c.source, Err: fmt.Errorf("read response body: %w", err)}
	}
	if int64(len(body)) > maxBodyBytes {
		return nil, &FetchError{Source: c.source, Err: ErrResponseTooLarge}
	}
	return body, nil
}

func statusLabel(statusCode int) string {
	if statusCode >= 200 && statusCode < 300 {
		return "success"
	}
	if statusCode == 429 {
		return "rate_limited"
	}
	if statusCode >= 400 && statusCode < 500 {
		return "client_error"
	}
	if statusCode >= 500 {
		return "server_error"
	}
	return "error"
}

// RedactURL keeps only scheme and host; private calendar URLs carry secret tokens in the path.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "(redacted)"
	}
	return u.Scheme + "://" + u.Host + "/...(redacted)"
}
