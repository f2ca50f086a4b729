package service

import (
	"fmt"
	"net/url"
	"strings"
)

// UpstreamTarget describes the fixed origin every request is forwarded to.
// It is derived once from the configured base URL and never mutated.
type UpstreamTarget struct {
	base   url.URL
	host   string
	origin string
}

// NewUpstreamTarget parses rawURL into an UpstreamTarget.
func NewUpstreamTarget(rawURL string) (UpstreamTarget, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return UpstreamTarget{}, fmt.Errorf("parse upstream base_url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return UpstreamTarget{}, fmt.Errorf("upstream base_url %q must be absolute", rawURL)
	}
	u.RawQuery = ""
	u.Fragment = ""

	return UpstreamTarget{
		base:   *u,
		host:   u.Host,
		origin: u.Scheme + "://" + u.Host,
	}, nil
}

// BaseURL returns the configured base URL.
func (t UpstreamTarget) BaseURL() string { return t.base.String() }

// Host returns the upstream host[:port].
func (t UpstreamTarget) Host() string { return t.host }

// Origin returns scheme://host of the upstream.
func (t UpstreamTarget) Origin() string { return t.origin }

// URL joins an escaped path suffix and a raw query onto the base URL
// without re-encoding either.
func (t UpstreamTarget) URL(suffix, rawQuery string) string {
	var b strings.Builder
	b.WriteString(t.origin)
	b.WriteString(strings.TrimSuffix(t.base.EscapedPath(), "/"))
	b.WriteByte('/')
	b.WriteString(strings.TrimPrefix(suffix, "/"))
	if rawQuery != "" {
		b.WriteByte('?')
		b.WriteString(rawQuery)
	}
	return b.String()
}
