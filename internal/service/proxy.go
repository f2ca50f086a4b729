// Package service implements the forwarding engine: it rewrites inbound
// requests for the fixed upstream, issues them over the shared pool and
// hands back a streaming response envelope.
package service

import (
	"fmt"
	"log/slog"
	"net/http"

	"chatgpt-proxy-go/internal/client"
	"chatgpt-proxy-go/internal/config"
	"chatgpt-proxy-go/internal/model"
)

// ProxyService handles the forwarding logic for proxy requests.
type ProxyService struct {
	client *client.UpstreamClient
	target UpstreamTarget
	policy RewritePolicy
	hook   ResponseHook
	logger *slog.Logger
}

// NewProxyService creates a ProxyService for the configured upstream.
// policy may be nil; if it also implements ResponseHook it is notified of
// every upstream status.
func NewProxyService(c *client.UpstreamClient, cfg *config.Config, policy RewritePolicy, logger *slog.Logger) (*ProxyService, error) {
	target, err := NewUpstreamTarget(cfg.Upstream.BaseURL)
	if err != nil {
		return nil, err
	}

	s := &ProxyService{
		client: c,
		target: target,
		policy: policy,
		logger: logger.With("component", "proxy_service"),
	}
	if hook, ok := policy.(ResponseHook); ok {
		s.hook = hook
	}
	return s, nil
}

// Target returns the upstream this service forwards to.
func (s *ProxyService) Target() UpstreamTarget {
	return s.target
}

// Forward sends a ProxyRequest to the upstream and returns the response.
// The caller is responsible for closing the response body.
//
// The returned envelope carries upstream Set-Cookie entries in Cookies;
// Header holds everything else that may be relayed to the client.
func (s *ProxyService) Forward(pr *model.ProxyRequest) (*model.ProxyResponse, error) {
	rc := s.prepare(pr)

	req, err := s.buildRequest(pr, rc)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("forwarding request",
		"method", pr.Method,
		"path", pr.Path,
		"cookies", rc.Cookies.Len(),
	)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("forward to upstream: %w", err)
	}

	if s.hook != nil {
		s.hook.OnUpstreamResponse(resp.StatusCode)
	}

	resp.Header, resp.Cookies, resp.RawCookies = splitSetCookies(resp.Header)
	if n := len(resp.RawCookies); n > 0 {
		s.logger.Warn("relaying unparsable Set-Cookie entries verbatim",
			"count", n,
			"path", pr.Path,
		)
	}
	return resp, nil
}

// prepare derives the RewriteContext and lets the policy adjust it.
func (s *ProxyService) prepare(pr *model.ProxyRequest) *RewriteContext {
	rc := newRewriteContext(pr, s.target)
	if s.policy != nil {
		s.policy.AdjustHeaders(rc.Header)
		s.policy.AdjustCookies(rc.Cookies)
	}
	return rc
}

func (s *ProxyService) buildRequest(pr *model.ProxyRequest, rc *RewriteContext) (*http.Request, error) {
	body := pr.Body
	if body == http.NoBody {
		body = nil
	}

	req, err := http.NewRequestWithContext(pr.Ctx, pr.Method, s.target.URL(pr.Path, pr.RawQuery), body)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	if body != nil {
		req.ContentLength = pr.ContentLength
	}

	req.Host = rc.Header.Get("Host")
	rc.Header.Del("Host")
	if rc.Cookies.Len() > 0 {
		rc.Header.Set("Cookie", rc.Cookies.Header())
	}
	req.Header = rc.Header

	return req, nil
}
