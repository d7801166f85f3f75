// Package client provides the rate-limited fetch primitive used by the
// crawler: every request draws from a shared quota, transient failures are
// retried with exponential backoff, and other non-success responses are
// handed back to the caller.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/docket-sync/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for fetch operations.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docketsync_requests_total",
		Help: "Total provider requests by endpoint and status",
	}, []string{"endpoint", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "docketsync_request_duration_seconds",
		Help:    "Provider request duration in seconds by endpoint",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	}, []string{"endpoint"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docketsync_errors_total",
		Help: "Total provider errors by class",
	}, []string{"class"})
)

// Client is the rate-limited provider client.
type Client struct {
	httpClient *http.Client
	limiter    ratelimit.Limiter
	basePath   string
	config     Config
	logger     zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// BaseURL is the provider API root, e.g. https://api.regulations.gov/v4.
	BaseURL string

	// APIKey is sent in the X-Api-Key header of every request.
	APIKey string

	// Transport is the underlying round tripper (default http.DefaultTransport).
	Transport http.RoundTripper

	// Limiter is the process-wide request quota (REQUIRED).
	Limiter ratelimit.Limiter

	// MaxQuotaWait bounds one quota suspension; longer waits become retryable
	// local quota rejections. Zero waits as long as needed.
	MaxQuotaWait time.Duration

	// Timeout is the per-attempt HTTP timeout.
	Timeout time.Duration

	// Retry controls backoff for transient failures.
	Retry RetryConfig
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(baseURL, apiKey string, limiter ratelimit.Limiter) Config {
	return Config{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Limiter: limiter,
		Timeout: 30 * time.Second,
		Retry:   DefaultRetryConfig(),
	}
}

// Response is a provider response with its body fully read.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// OK reports whether the status is 2xx.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// New creates a new provider client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}

	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}

	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api key is required")
	}

	if cfg.Limiter == nil {
		return nil, fmt.Errorf("limiter is required")
	}

	if err := cfg.Retry.Validate(); err != nil {
		return nil, fmt.Errorf("retry config: %w", err)
	}

	transport := cfg.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}

	logger := log.With().Str("component", "fetcher").Logger()

	return &Client{
		httpClient: &http.Client{
			Transport: &APIKeyTransport{Key: cfg.APIKey, Base: transport},
			Timeout:   cfg.Timeout,
		},
		limiter:  cfg.Limiter,
		basePath: strings.TrimSuffix(base.Path, "/"),
		config:   cfg,
		logger:   logger,
	}, nil
}

// BaseURL returns the configured API root without a trailing slash.
func (c *Client) BaseURL() string {
	return strings.TrimSuffix(c.config.BaseURL, "/")
}

// Fetch performs a GET under the shared quota. Transient failures (timeout,
// connection failure, local quota rejection, remote 429) are retried until the
// retry budget is spent, which yields ErrRetryExhausted. Any other non-2xx
// status is logged and its body returned without error.
func (c *Client) Fetch(ctx context.Context, rawURL string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	endpoint := c.endpointLabel(req.URL.Path)

	var resp *Response
	retryErr := retryWithBackoff(ctx, c.config.Retry, c.logger, func() error {
		if err := ratelimit.Wait(ctx, c.limiter, c.config.MaxQuotaWait); err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("%w: %v", ErrContextCancelled, ctx.Err())
			}
			errorClass := ErrorClassNetwork
			if errors.Is(err, ratelimit.ErrQuotaExceeded) {
				errorClass = ErrorClassQuota
			}
			errorsTotal.WithLabelValues(string(errorClass)).Inc()
			return &FetchError{ErrorClass: errorClass, Message: "quota unavailable", Err: err}
		}

		startTime := time.Now()
		httpResp, err := c.httpClient.Do(req)
		requestDuration.WithLabelValues(endpoint).Observe(time.Since(startTime).Seconds())

		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("%w: %v", ErrContextCancelled, ctx.Err())
			}
			errorClass := classifyTransportError(err)
			errorsTotal.WithLabelValues(string(errorClass)).Inc()
			requestsTotal.WithLabelValues(endpoint, string(errorClass)).Inc()
			c.logger.Error().Err(err).Str("endpoint", endpoint).Msg("HTTP request failed")
			return &FetchError{ErrorClass: errorClass, Message: "request failed", Err: err}
		}
		defer httpResp.Body.Close()

		requestsTotal.WithLabelValues(endpoint, strconv.Itoa(httpResp.StatusCode)).Inc()
		c.logger.Info().
			Str("endpoint", endpoint).
			Int("status", httpResp.StatusCode).
			Interface("headers", httpResp.Header).
			Msg("Response received")

		if httpResp.StatusCode == http.StatusTooManyRequests {
			errorsTotal.WithLabelValues(string(ErrorClassRateLimit)).Inc()
			return &FetchError{
				StatusCode: httpResp.StatusCode,
				ErrorClass: ErrorClassRateLimit,
				Message:    httpResp.Status,
			}
		}

		body, err := io.ReadAll(httpResp.Body)
		if err != nil {
			errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
			return &FetchError{
				StatusCode: httpResp.StatusCode,
				ErrorClass: ErrorClassNetwork,
				Message:    "read body",
				Err:        err,
			}
		}

		// Non-success bodies are passed through; callers must tolerate them.
		if errorClass := classifyStatus(httpResp.StatusCode); errorClass != "" {
			errorsTotal.WithLabelValues(string(errorClass)).Inc()
			c.logger.Error().
				Str("endpoint", endpoint).
				Int("status", httpResp.StatusCode).
				Str("error_class", string(errorClass)).
				Msg("Provider returned non-success status")
		}

		c.logger.Debug().
			Str("endpoint", endpoint).
			Bytes("body", body).
			Msg("Response body")

		resp = &Response{
			StatusCode: httpResp.StatusCode,
			Header:     httpResp.Header,
			Body:       body,
		}
		return nil
	}, classOf)

	if retryErr != nil {
		return nil, retryErr
	}
	return resp, nil
}

// GetJSON fetches rawURL and decodes the body into out. A body that does not
// decode yields ErrDecode, whatever the status was.
func (c *Client) GetJSON(ctx context.Context, rawURL string, out any) error {
	resp, err := c.Fetch(ctx, rawURL)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(resp.Body, out); err != nil {
		return fmt.Errorf("%w (status %d): %v", ErrDecode, resp.StatusCode, err)
	}
	return nil
}

// endpointLabel reduces a request path to a low-cardinality metric label:
// the first segment below the base path, plus "/{id}" when deeper.
func (c *Client) endpointLabel(path string) string {
	trimmed := strings.Trim(strings.TrimPrefix(path, c.basePath), "/")
	if trimmed == "" {
		return "/"
	}
	first, rest, _ := strings.Cut(trimmed, "/")
	if rest != "" {
		return first + "/{id}"
	}
	return first
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}
