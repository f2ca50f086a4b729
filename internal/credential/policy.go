package credential

import (
	"net/http"

	"chatgpt-proxy-go/internal/service"
)

// Policy is the rewrite policy backed by a Controller's current credentials.
// It also implements service.ResponseHook to record validity from real traffic.
type Policy struct {
	ctrl    *Controller
	origin  string
	referer string
}

var (
	_ service.RewritePolicy = (*Policy)(nil)
	_ service.ResponseHook  = (*Policy)(nil)
)

// AdjustHeaders pins the browser identity headers and, in trust mode,
// lends the access token to requests that carry no Authorization.
func (p *Policy) AdjustHeaders(h http.Header) {
	creds := p.ctrl.Credentials()

	h.Set("Origin", p.origin)
	h.Set("Referer", p.referer)
	if creds.UserAgent != "" {
		h.Set("User-Agent", creds.UserAgent)
	}
	if creds.Trust && creds.AccessToken != "" && h.Get("Authorization") == "" {
		h.Set("Authorization", "Bearer "+creds.AccessToken)
	}
}

// AdjustCookies adds the clearance and session cookies unless the client sent its own.
func (p *Policy) AdjustCookies(jar *service.CookieJar) {
	creds := p.ctrl.Credentials()

	jar.SetDefault(ClearanceCookie, creds.Clearance)
	jar.SetDefault(SessionCookie, creds.Session)
}

// OnUpstreamResponse records the validity signal carried by status.
// A 403 always marks credentials invalid. A 200 only promotes unknown to
// valid; leaving invalid requires a successful probe.
func (p *Policy) OnUpstreamResponse(status int) {
	switch status {
	case http.StatusOK:
		p.ctrl.promote()
	case http.StatusForbidden:
		p.ctrl.setValidity(ValidityInvalid)
	}
}
