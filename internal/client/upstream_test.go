package client

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"chatgpt-proxy-go/internal/config"
	"chatgpt-proxy-go/internal/metrics"
)

func testConfig(maxConns int) *config.Config {
	return &config.Config{
		Upstream: config.UpstreamConfig{
			TimeoutSeconds:  10,
			IdleConnections: 10,
			MaxConnections:  maxConns,
		},
	}
}

func newGet(t *testing.T, ctx context.Context, url string) *http.Request {
	t.Helper()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	return req
}

func TestUpstreamClient_Do(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := metrics.New()
	c := NewUpstreamClient(testConfig(4), logger, m)

	resp, err := c.Do(newGet(t, context.Background(), srv.URL+"/test"))
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}

	if resp.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if got := c.InFlight(); got != 1 {
		t.Errorf("InFlight() before Close = %d, want 1", got)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(body) != `{"status":"ok"}` {
		t.Errorf("body = %q, want %q", string(body), `{"status":"ok"}`)
	}

	_ = resp.Body.Close()
	_ = resp.Body.Close() // second close must not double-release
	if got := c.InFlight(); got != 0 {
		t.Errorf("InFlight() after Close = %d, want 0", got)
	}
}

func TestUpstreamClient_DoesNotFollowRedirects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/elsewhere", http.StatusFound)
	}))
	defer srv.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := NewUpstreamClient(testConfig(4), logger, nil)

	resp, err := c.Do(newGet(t, context.Background(), srv.URL+"/start"))
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusFound {
		t.Errorf("StatusCode = %d, want %d", resp.StatusCode, http.StatusFound)
	}
	if loc := resp.Header.Get("Location"); loc != "/elsewhere" {
		t.Errorf("Location = %q, want %q", loc, "/elsewhere")
	}
}

func TestUpstreamClient_Do_Error(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := NewUpstreamClient(testConfig(4), logger, nil)

	_, err := c.Do(newGet(t, context.Background(), "http://127.0.0.1:1/nonexistent"))
	if err == nil {
		t.Fatal("Do() expected error for unreachable host, got nil")
	}
	if got := c.InFlight(); got != 0 {
		t.Errorf("InFlight() after failed Do = %d, want 0", got)
	}
}

func TestUpstreamClient_Do_CanceledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := NewUpstreamClient(testConfig(4), logger, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Do(newGet(t, ctx, srv.URL+"/slow"))
	if err == nil {
		t.Fatal("Do() expected error for canceled context, got nil")
	}
}

func TestUpstreamClient_PoolBound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := NewUpstreamClient(testConfig(1), logger, nil)

	first, err := c.Do(newGet(t, context.Background(), srv.URL))
	if err != nil {
		t.Fatalf("first Do() error = %v", err)
	}

	// The only slot is held by first; the second exchange must wait and
	// give up when its context expires.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = c.Do(newGet(t, ctx, srv.URL))
	if !errors.Is(err, ErrPoolExhausted) {
		t.Fatalf("second Do() error = %v, want ErrPoolExhausted", err)
	}

	_ = first.Body.Close()

	third, err := c.Do(newGet(t, context.Background(), srv.URL))
	if err != nil {
		t.Fatalf("Do() after release error = %v", err)
	}
	_ = third.Body.Close()
}
