// Package client provides the pooled HTTP client used for upstream calls.
package client

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"chatgpt-proxy-go/internal/config"
	"chatgpt-proxy-go/internal/metrics"
	"chatgpt-proxy-go/internal/model"
)

// ErrPoolExhausted is returned when no upstream slot frees up before the
// request context ends.
var ErrPoolExhausted = errors.New("upstream connection pool exhausted")

// UpstreamClient sends requests to the upstream origin over a shared,
// bounded connection pool.
//
// Every exchange holds one pool slot from the moment it is issued until the
// response body is closed, so InFlight reports exchanges whose body has not
// been released yet.
type UpstreamClient struct {
	httpClient *http.Client
	slots      *semaphore.Weighted
	inFlight   atomic.Int64
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewUpstreamClient creates an UpstreamClient with connection pooling and timeouts.
// The metrics parameter is optional; pass nil to disable upstream metrics recording.
func NewUpstreamClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *UpstreamClient {
	maxConns := cfg.Upstream.MaxConnections
	if maxConns <= 0 {
		maxConns = 256
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          cfg.Upstream.IdleConnections,
		MaxIdleConnsPerHost:   cfg.Upstream.IdleConnections,
		MaxConnsPerHost:       maxConns,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: cfg.Upstream.Timeout(),
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:  true,
		DisableCompression: true, // relay bytes exactly as the upstream encodes them
	}

	return &UpstreamClient{
		httpClient: &http.Client{
			Transport: transport,
			// Redirects are relayed to the caller, not followed.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
			// No overall Timeout: bodies are long-lived streams. The header
			// wait is bounded by ResponseHeaderTimeout above.
		},
		slots:   semaphore.NewWeighted(int64(maxConns)),
		logger:  logger.With("component", "upstream_client"),
		metrics: m,
	}
}

// Do executes an HTTP request against the upstream and returns the raw response.
// The caller is responsible for closing the response body; closing it
// returns the pool slot.
func (c *UpstreamClient) Do(req *http.Request) (*model.ProxyResponse, error) {
	// Waiting only happens when the pool is full, so a context error from
	// Acquire always means the caller gave up on a saturated pool.
	if !c.slots.TryAcquire(1) {
		if err := c.slots.Acquire(req.Context(), 1); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrPoolExhausted, err)
		}
	}
	release := c.track()

	c.logger.Debug("upstream request",
		"method", req.Method,
		"path", req.URL.Path,
	)

	start := time.Now()
	resp, err := c.httpClient.Do(req) //nolint:bodyclose // body ownership transfers to caller via ProxyResponse
	duration := time.Since(start).Seconds()

	method := metrics.NormalizeMethod(req.Method)

	if err != nil {
		release()
		if c.metrics != nil {
			c.metrics.UpstreamDuration.WithLabelValues(method).Observe(duration)
		}
		return nil, fmt.Errorf("upstream request: %w", err)
	}

	if c.metrics != nil {
		status := strconv.Itoa(resp.StatusCode)
		c.metrics.UpstreamDuration.WithLabelValues(method).Observe(duration)
		c.metrics.UpstreamResponses.WithLabelValues(method, status).Inc()
	}

	return &model.ProxyResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       &releasingBody{ReadCloser: resp.Body, release: release},
	}, nil
}

// InFlight returns the number of exchanges currently holding a pool slot.
func (c *UpstreamClient) InFlight() int64 {
	return c.inFlight.Load()
}

// track records a newly admitted exchange and returns its idempotent release func.
func (c *UpstreamClient) track() func() {
	c.inFlight.Add(1)
	if c.metrics != nil {
		c.metrics.UpstreamInFlight.Inc()
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			c.inFlight.Add(-1)
			if c.metrics != nil {
				c.metrics.UpstreamInFlight.Dec()
			}
			c.slots.Release(1)
		})
	}
}

// releasingBody returns the pool slot when the upstream body is closed.
type releasingBody struct {
	io.ReadCloser
	release func()
}

func (b *releasingBody) Close() error {
	err := b.ReadCloser.Close()
	b.release()
	return err
}
