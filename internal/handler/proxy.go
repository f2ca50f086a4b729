package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/labstack/echo/v4"

	"chatgpt-proxy-go/internal/client"
	"chatgpt-proxy-go/internal/model"
	"chatgpt-proxy-go/internal/service"
)

// secretPatterns match credential material that may end up in error strings.
var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(bearer\s+)[^\s"]+`),
	regexp.MustCompile(`(?i)((?:cf_clearance|_puid)=)[^;\s"]+`),
}

// ProxyMethods are the methods accepted on the proxy route.
var ProxyMethods = []string{
	http.MethodGet,
	http.MethodPost,
	http.MethodHead,
	http.MethodPut,
	http.MethodDelete,
	http.MethodOptions,
	http.MethodPatch,
	http.MethodTrace,
	http.MethodConnect,
}

const relayBufferSize = 32 * 1024

// ProxyHandler relays requests under a path prefix to the upstream.
type ProxyHandler struct {
	service *service.ProxyService
	logger  *slog.Logger
	prefix  string
}

// NewProxyHandler creates a ProxyHandler.
func NewProxyHandler(svc *service.ProxyService, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		service: svc,
		logger:  logger.With("component", "proxy_handler"),
	}
}

// Register mounts the proxy on "{prefix}/*" for every method in
// ProxyMethods and remembers prefix for suffix extraction.
func (h *ProxyHandler) Register(e *echo.Echo, prefix string) []*echo.Route {
	h.prefix = strings.TrimRight(prefix, "/")
	routes := e.Match(ProxyMethods, h.prefix+"/*", h.Handle)
	for _, r := range routes {
		r.Name = "proxy"
	}
	return routes
}

// Prefix returns the prefix bound by Register.
func (h *ProxyHandler) Prefix() string {
	return h.prefix
}

// Handle proxies the request to the upstream and streams the response back.
func (h *ProxyHandler) Handle(c echo.Context) error {
	req := c.Request()

	body := req.Body
	if req.ContentLength == 0 && len(req.TransferEncoding) == 0 {
		body = http.NoBody
	}

	pr := &model.ProxyRequest{
		Ctx:           req.Context(),
		Method:        req.Method,
		Path:          strings.TrimPrefix(req.URL.EscapedPath(), h.prefix),
		RawQuery:      req.URL.RawQuery,
		Header:        req.Header,
		Cookies:       service.ParseCookieHeader(req.Header),
		Body:          body,
		ContentLength: req.ContentLength,
	}

	resp, err := h.service.Forward(pr)
	if err != nil {
		return h.mapError(c, err)
	}
	// Closing releases the upstream connection on every exit path,
	// including a client that disconnects mid-stream.
	defer func() { _ = resp.Body.Close() }()

	for key, vals := range resp.Header {
		for _, v := range vals {
			c.Response().Header().Add(key, v)
		}
	}
	for _, ck := range resp.Cookies {
		c.SetCookie(ck)
	}
	for _, line := range resp.RawCookies {
		c.Response().Header().Add("Set-Cookie", line)
	}

	c.Response().WriteHeader(resp.StatusCode)

	// The status is already on the wire, so a failure here can only
	// truncate the body. It is logged, not returned.
	if err := relay(c.Response(), resp.Body); err != nil {
		h.logger.Warn("streaming response body",
			"err", sanitizeError(err),
			"path", req.URL.Path,
		)
	}

	return nil
}

// relay copies src to w, flushing after every chunk so event streams reach
// the client as they arrive.
func relay(w http.ResponseWriter, src io.Reader) error {
	rc := http.NewResponseController(w)
	buf := make([]byte, relayBufferSize)
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, err := w.Write(buf[:n]); err != nil {
				return err
			}
			_ = rc.Flush()
		}
		if rerr == io.EOF {
			return nil
		}
		if rerr != nil {
			return rerr
		}
	}
}

func (h *ProxyHandler) mapError(c echo.Context, err error) error {
	h.logger.Error("proxy error",
		"err", sanitizeError(err),
		"path", c.Request().URL.Path,
	)

	if errors.Is(err, client.ErrPoolExhausted) {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{
			"error": "upstream connection pool exhausted",
		})
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return c.JSON(http.StatusGatewayTimeout, map[string]string{
			"error": "upstream request timed out",
		})
	}

	if errors.Is(err, context.Canceled) {
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "client disconnected",
		})
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "upstream host unreachable",
		})
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "upstream connection failed",
		})
	}

	return c.JSON(http.StatusBadGateway, map[string]string{
		"error": "upstream request failed",
	})
}

// sanitizeError redacts tokens and credential cookies from error messages.
func sanitizeError(err error) string {
	s := err.Error()
	for _, p := range secretPatterns {
		s = p.ReplaceAllString(s, "${1}[REDACTED]")
	}
	return s
}
