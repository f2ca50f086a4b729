package service

import (
	"net/http"
	"strings"

	"chatgpt-proxy-go/internal/model"
)

// RewritePolicy adjusts the outbound header set and cookie jar of every
// forwarded request. Implementations must be safe for concurrent use.
type RewritePolicy interface {
	AdjustHeaders(h http.Header)
	AdjustCookies(jar *CookieJar)
}

// ResponseHook is an optional capability of a RewritePolicy. It observes
// the upstream status of every forwarded request.
type ResponseHook interface {
	OnUpstreamResponse(status int)
}

// RewriteContext holds the values derived for a single outbound request.
type RewriteContext struct {
	Header  http.Header
	Cookies *CookieJar
}

// newRewriteContext derives the preset header set and cookie jar for pr.
// The inbound Cookie header is dropped in favour of the jar, hop-by-hop
// headers are removed, and host/origin/referer point at the upstream.
func newRewriteContext(pr *model.ProxyRequest, target UpstreamTarget) *RewriteContext {
	h := pr.Header.Clone()
	if h == nil {
		h = make(http.Header)
	}
	model.StripHopByHop(h)
	h.Del("Cookie")
	h.Del("Content-Length")

	h.Set("Host", target.Host())
	h.Set("Origin", target.Origin())
	h.Set("Referer", target.BaseURL())

	jar := NewCookieJar()
	for _, c := range pr.Cookies {
		jar.Set(c.Name, c.Value)
	}

	return &RewriteContext{Header: h, Cookies: jar}
}

// CookieJar is an insertion-ordered set of request cookies.
type CookieJar struct {
	names  []string
	values map[string]string
}

// NewCookieJar returns an empty CookieJar.
func NewCookieJar() *CookieJar {
	return &CookieJar{values: make(map[string]string)}
}

// Set stores value under name, replacing any existing value.
func (j *CookieJar) Set(name, value string) {
	if _, ok := j.values[name]; !ok {
		j.names = append(j.names, name)
	}
	j.values[name] = value
}

// SetDefault stores value under name only if name is absent and value is
// non-empty. It reports whether the jar changed.
func (j *CookieJar) SetDefault(name, value string) bool {
	if _, ok := j.values[name]; ok || value == "" {
		return false
	}
	j.Set(name, value)
	return true
}

// Get returns the value stored under name.
func (j *CookieJar) Get(name string) (string, bool) {
	v, ok := j.values[name]
	return v, ok
}

// Len returns the number of cookies in the jar.
func (j *CookieJar) Len() int { return len(j.names) }

// Header encodes the jar as a Cookie header value.
func (j *CookieJar) Header() string {
	parts := make([]string, 0, len(j.names))
	for _, name := range j.names {
		parts = append(parts, name+"="+j.values[name])
	}
	return strings.Join(parts, "; ")
}
