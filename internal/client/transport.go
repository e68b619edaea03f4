package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/trends-watcher/internal/circuitbreaker"
	"github.com/kjstillabower/trends-watcher/internal/observability"
)

const (
	// Upstream payloads are small listings; anything larger is treated as malformed.
	maxBodyBytes = 8 << 20

	defaultUserAgent = "Mozilla/5.0 (compatible; TrendsWatcher/1.0)"
	browserUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// Options configures an adapter. Zero values fall back to adapter defaults.
type Options struct {
	// Timeout bounds one upstream call, independent of the caller's deadline.
	Timeout    time.Duration
	HTTPClient *http.Client
	// Breaker, when set, short-circuits calls while the source is failing.
	Breaker *circuitbreaker.CircuitBreaker
	Logger  *zap.Logger
}

// transport performs the single GET attempt shared by every adapter.
type transport struct {
	source    string
	client    *http.Client
	timeout   time.Duration
	userAgent string
	breaker   *circuitbreaker.CircuitBreaker
	logger    *zap.Logger
}

func newTransport(source, userAgent string, defaultTimeout time.Duration, opts Options) *transport {
	t := &transport{
		source:    source,
		client:    opts.HTTPClient,
		timeout:   opts.Timeout,
		userAgent: userAgent,
		breaker:   opts.Breaker,
		logger:    opts.Logger,
	}
	if t.client == nil {
		t.client = &http.Client{}
	}
	if t.timeout <= 0 {
		t.timeout = defaultTimeout
	}
	if t.logger == nil {
		t.logger = zap.NewNop()
	}
	return t
}

// get issues one GET and returns the body of a 2xx response.
func (t *transport) get(ctx context.Context, rawURL, accept string) ([]byte, error) {
	if t.breaker == nil {
		return t.do(ctx, rawURL, accept)
	}
	var body []byte
	var rejected error
	err := t.breaker.Call(ctx, func() error {
		b, err := t.do(ctx, rawURL, accept)
		// 4xx is our request's fault, not the source's health.
		if errors.Is(err, ErrClientError) {
			rejected = err
			return nil
		}
		body = b
		return err
	})
	if err != nil {
		return nil, err
	}
	if rejected != nil {
		return nil, rejected
	}
	return body, nil
}

func (t *transport) do(ctx context.Context, rawURL, accept string) ([]byte, error) {
	start := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		t.observe("error", start)
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", t.userAgent)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	if corrID := observability.CorrelationID(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		t.observe("error", start)
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, fmt.Errorf("request timeout after %s: %w", t.timeout, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrNetwork, err)
	}
	defer resp.Body.Close()

	if err := handleErrorResponse(resp); err != nil {
		t.observe(statusLabel(resp.StatusCode), start)
		return nil, err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		t.observe("error", start)
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("read response body timeout: %w", err)
		}
		return nil, fmt.Errorf("%w: read response body: %w", ErrNetwork, err)
	}
	t.observe(statusLabel(resp.StatusCode), start)
	if len(body) > maxBodyBytes {
		return nil, fmt.Errorf("%w: body exceeds %d bytes", ErrParse, maxBodyBytes)
	}
	if body == nil {
		body = []byte{}
	}
	return body, nil
}

func (t *transport) observe(status string, start time.Time) {
	observability.UpstreamCallsTotal.WithLabelValues(t.source, status).Inc()
	observability.UpstreamDuration.WithLabelValues(t.source, status).Observe(time.Since(start).Seconds())
}

// degraded counts and logs a result replaced by the empty sentinel.
func (t *transport) degraded(ctx context.Context, reason string, err error) {
	observability.SourceDegradedTotal.WithLabelValues(t.source, reason).Inc()
	logger := observability.LoggerFromContext(ctx)
	if logger == nil {
		logger = t.logger
	}
	logger.Warn("upstream degraded",
		zap.String("source", t.source),
		zap.String("reason", reason),
		zap.Error(err))
}

func handleErrorResponse(resp *http.Response) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: HTTP %d", ErrRateLimited, resp.StatusCode)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return fmt.Errorf("%w: HTTP %d", ErrClientError, resp.StatusCode)
	default:
		return fmt.Errorf("%w: HTTP %d", ErrUpstreamFailure, resp.StatusCode)
	}
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
