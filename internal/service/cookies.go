package service

import (
	"net/http"
	"strings"

	"chatgpt-proxy-go/internal/model"
)

// ParseCookieHeader splits the Cookie headers of h into name/value pairs.
// Values are kept byte-for-byte: quotes, backslashes and non-ASCII bytes
// that net/http would reject survive. Pieces without a name are skipped.
func ParseCookieHeader(h http.Header) []*http.Cookie {
	var cookies []*http.Cookie
	for _, line := range h.Values("Cookie") {
		for _, part := range strings.Split(line, ";") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			name, value, _ := strings.Cut(part, "=")
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			cookies = append(cookies, &http.Cookie{Name: name, Value: strings.TrimSpace(value)})
		}
	}
	return cookies
}

// splitSetCookies parses every upstream Set-Cookie entry into a
// client-facing cookie and returns the remaining relayable headers.
// Missing Path defaults to "/" and missing SameSite to Lax; every other
// attribute is carried over as sent. Entries net/http cannot parse are
// returned as raw directives with the same defaults appended.
func splitSetCookies(h http.Header) (relay http.Header, cookies []*http.Cookie, raw []string) {
	for _, line := range h.Values("Set-Cookie") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		c, err := http.ParseSetCookie(line)
		if err != nil {
			raw = append(raw, withCookieDefaults(line))
			continue
		}
		if c.Path == "" {
			c.Path = "/"
		}
		if c.SameSite == 0 || c.SameSite == http.SameSiteDefaultMode {
			c.SameSite = http.SameSiteLaxMode
		}
		c.Raw = ""
		c.Unparsed = nil
		cookies = append(cookies, c)
	}

	relay = h.Clone()
	relay.Del("Set-Cookie")
	model.StripHopByHop(relay)
	return relay, cookies, raw
}

// withCookieDefaults appends Path=/ and SameSite=Lax to a Set-Cookie line
// that lacks them. The line is otherwise left untouched.
func withCookieDefaults(line string) string {
	line = strings.TrimSpace(line)
	var hasPath, hasSameSite bool
	attrs := strings.Split(line, ";")
	for _, a := range attrs[1:] {
		key, _, _ := strings.Cut(strings.TrimSpace(a), "=")
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "path":
			hasPath = true
		case "samesite":
			hasSameSite = true
		}
	}
	if !hasPath {
		line += "; Path=/"
	}
	if !hasSameSite {
		line += "; SameSite=Lax"
	}
	return line
}
