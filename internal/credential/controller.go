package credential

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v3"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"chatgpt-proxy-go/internal/config"
	"chatgpt-proxy-go/internal/metrics"
	"chatgpt-proxy-go/internal/service"
)

var (
	// ErrNotAttached is returned by Probe before Attach has been called.
	ErrNotAttached = errors.New("controller is not attached to a proxy route")
	// ErrNoAccessToken is returned by Probe when no access token is set.
	ErrNoAccessToken = errors.New("no access token configured")
	// ErrUpstreamUnavailable is returned by Probe when the proxy route
	// answered with a gateway failure (502, 503 or 504). Validity is left
	// unchanged.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
)

// retryInitialDivisor sets the first retry delay to a fraction of the
// configured retry delay. Later retries double up to the full delay.
const retryInitialDivisor = 16

// Controller holds the mutable credential set, the validity state and the
// liveness probe. Credential reads return snapshots; every setter replaces
// a whole field and takes effect on the next forwarded request.
type Controller struct {
	mu    sync.RWMutex
	creds CredentialSet

	validity atomic.Int32

	// Loopback route, set by Attach.
	routeMu sync.RWMutex
	handler http.Handler
	prefix  string

	probePath string
	interval  time.Duration
	retry     time.Duration

	policy  *Policy
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewController creates a Controller seeded from cfg.
// The metrics parameter is optional.
func NewController(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (*Controller, error) {
	target, err := service.NewUpstreamTarget(cfg.Upstream.BaseURL)
	if err != nil {
		return nil, err
	}

	c := &Controller{
		creds: CredentialSet{
			Clearance:   cfg.Credentials.Clearance,
			UserAgent:   cfg.Credentials.UserAgent,
			AccessToken: cfg.Credentials.AccessToken,
			Trust:       cfg.Credentials.Trust,
			Session:     cfg.Credentials.PUID,
		},
		probePath: cfg.Probe.Path,
		interval:  cfg.Probe.Interval(),
		retry:     cfg.Probe.Retry(),
		logger:    logger.With("component", "credential_controller"),
		metrics:   m,
	}

	referer := cfg.Upstream.Referer
	if referer == "" {
		referer = target.Origin() + "/chat"
	}
	c.policy = &Policy{ctrl: c, origin: target.Origin(), referer: referer}

	return c, nil
}

// Policy returns the rewrite policy backed by this controller.
func (c *Controller) Policy() *Policy {
	return c.policy
}

// Credentials returns a snapshot of the current credential set.
func (c *Controller) Credentials() CredentialSet {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.creds
}

// SetClearance replaces the clearance cookie value.
func (c *Controller) SetClearance(v string) error {
	return c.set(v, func(s *CredentialSet) { s.Clearance = v })
}

// SetAccessToken replaces the bearer access token.
func (c *Controller) SetAccessToken(v string) error {
	return c.set(v, func(s *CredentialSet) { s.AccessToken = v })
}

// SetUserAgent replaces the user agent sent upstream.
func (c *Controller) SetUserAgent(v string) error {
	return c.set(v, func(s *CredentialSet) { s.UserAgent = v })
}

func (c *Controller) setSession(v string) error {
	return c.set(v, func(s *CredentialSet) { s.Session = v })
}

func (c *Controller) set(v string, apply func(*CredentialSet)) error {
	if v == "" {
		return ErrEmptyValue
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	apply(&c.creds)
	return nil
}

// Validity returns the current validity state.
func (c *Controller) Validity() Validity {
	return Validity(c.validity.Load())
}

func (c *Controller) setValidity(v Validity) {
	if prev := Validity(c.validity.Swap(int32(v))); prev != v {
		c.logger.Info("credential validity changed", "from", prev.String(), "to", v.String())
	}
	c.recordValidity()
}

// promote moves unknown to valid and leaves any other state alone.
func (c *Controller) promote() {
	if c.validity.CompareAndSwap(int32(ValidityUnknown), int32(ValidityValid)) {
		c.logger.Info("credential validity changed", "from", ValidityUnknown.String(), "to", ValidityValid.String())
		c.recordValidity()
	}
}

func (c *Controller) recordValidity() {
	if c.metrics != nil {
		c.metrics.Validity.Set(c.Validity().gauge())
	}
}

// Attach points the probe at the proxy route mounted under prefix on h.
// Probes are served by h exactly like inbound traffic.
func (c *Controller) Attach(h http.Handler, prefix string) {
	c.routeMu.Lock()
	defer c.routeMu.Unlock()
	c.handler = h
	c.prefix = prefix
}

// Probe sends a request for the probe path through the attached proxy route
// with the current access token. It reports true when the upstream answered
// 200 or 401 and false for anything else. A 403 marks credentials invalid;
// other statuses leave validity unchanged. A gateway failure (502, 503, 504)
// also returns ErrUpstreamUnavailable so callers can retry sooner. A
// refreshed session cookie on a successful answer replaces the stored one.
func (c *Controller) Probe(ctx context.Context) (bool, error) {
	c.routeMu.RLock()
	h, prefix := c.handler, c.prefix
	c.routeMu.RUnlock()
	if h == nil {
		return false, ErrNotAttached
	}

	token := c.Credentials().AccessToken
	if token == "" {
		return false, ErrNoAccessToken
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, prefix+c.probePath, http.NoBody)
	if err != nil {
		return false, fmt.Errorf("build probe request: %w", err)
	}
	req.RemoteAddr = "127.0.0.1:0"
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set(echo.HeaderXRequestID, uuid.NewString())

	w := newProbeWriter()
	h.ServeHTTP(w, req)

	status := w.statusCode()
	log := c.logger.With("status", status, "request_id", req.Header.Get(echo.HeaderXRequestID))

	switch status {
	case http.StatusOK, http.StatusUnauthorized:
		c.setValidity(ValidityValid)
		c.captureSession(w.Header())
		c.recordProbe("success")
		log.Info("probe succeeded")
		return true, nil
	case http.StatusForbidden:
		c.setValidity(ValidityInvalid)
		c.recordProbe("blocked")
		log.Warn("probe blocked; credentials need refreshing")
		return false, nil
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		c.recordProbe("unavailable")
		log.Warn("probe could not reach upstream")
		return false, fmt.Errorf("%w: status %d", ErrUpstreamUnavailable, status)
	default:
		c.recordProbe("inconclusive")
		log.Warn("probe inconclusive")
		return false, nil
	}
}

// captureSession stores the session cookie set by h. Set-Cookie lines are
// read leniently so values net/http rejects are still captured.
func (c *Controller) captureSession(h http.Header) {
	for _, line := range h.Values("Set-Cookie") {
		pair, _, _ := strings.Cut(line, ";")
		name, value, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(name) != SessionCookie {
			continue
		}
		if value = strings.TrimSpace(value); value != "" {
			_ = c.setSession(value)
			c.logger.Info("session cookie refreshed")
			return
		}
	}
	c.logger.Info("session cookie not found in probe response")
}

func (c *Controller) recordProbe(result string) {
	if c.metrics != nil {
		c.metrics.ProbesTotal.WithLabelValues(result).Inc()
	}
}

// Run probes every interval until ctx is done. When a probe errors,
// including when the upstream cannot be reached, it retries sooner: the
// first retry waits a fraction of the retry delay and each further one
// doubles, capped at the retry delay. Without an access token there is
// nothing to probe with and Run returns immediately.
func (c *Controller) Run(ctx context.Context) {
	if c.Credentials().AccessToken == "" {
		c.logger.Info("access token not configured; liveness probe disabled")
		return
	}

	retry := c.newRetryBackOff()
	for {
		wait := c.interval
		if _, err := c.safeProbe(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			if !errors.Is(err, ErrUpstreamUnavailable) {
				c.recordProbe("error")
			}
			wait = min(retry.NextBackOff(), c.retry)
			c.logger.Error("probe failed; retrying", "err", err, "retry_in", wait.String())
		} else {
			retry.Reset()
		}

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

// newRetryBackOff returns the exponential schedule used after failed
// probes. It never gives up; Run stops only when its context ends.
func (c *Controller) newRetryBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retry / retryInitialDivisor
	b.MaxInterval = c.retry
	b.Multiplier = 2
	b.RandomizationFactor = 0.2
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// safeProbe runs Probe, turning a panic into an error so the loop survives.
func (c *Controller) safeProbe(ctx context.Context) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("probe panicked: %v", r)
		}
	}()
	return c.Probe(ctx)
}

// probeWriter captures the status and headers of a loopback response and
// discards the body.
type probeWriter struct {
	header http.Header
	status int
}

func newProbeWriter() *probeWriter {
	return &probeWriter{header: make(http.Header)}
}

func (w *probeWriter) Header() http.Header { return w.header }

func (w *probeWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
}

func (w *probeWriter) Write(p []byte) (int, error) {
	w.WriteHeader(http.StatusOK)
	return len(p), nil
}

func (w *probeWriter) Flush() {}

func (w *probeWriter) statusCode() int {
	if w.status == 0 {
		return http.StatusOK
	}
	return w.status
}
