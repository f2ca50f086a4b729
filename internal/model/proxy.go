// Package model defines shared types for the proxy.
package model

import (
	"context"
	"io"
	"net/http"
)

// ProxyRequest is the inbound request descriptor handed to the forwarding engine.
type ProxyRequest struct {
	Ctx    context.Context
	Method string
	// Path is the escaped path suffix below the registered prefix, e.g. "/models".
	Path string
	// RawQuery is forwarded byte-for-byte.
	RawQuery string
	Header   http.Header
	Cookies  []*http.Cookie
	Body     io.ReadCloser
	// ContentLength follows http.Request semantics: -1 means unknown.
	ContentLength int64
}

// ProxyResponse is the upstream response envelope streamed back to the client.
// Cookies holds the upstream Set-Cookie entries; Header never contains Set-Cookie.
type ProxyResponse struct {
	StatusCode int
	Header     http.Header
	Cookies    []*http.Cookie
	// RawCookies are Set-Cookie directives net/http cannot represent as a
	// Cookie (for example JSON values). They are relayed as written.
	RawCookies []string
	Body       io.ReadCloser
}
