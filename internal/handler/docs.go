package handler

import (
	"net/http"
	"sort"

	"github.com/labstack/echo/v4"
)

// RouteInfo describes one registered route.
type RouteInfo struct {
	Method string `json:"method"`
	Path   string `json:"path"`
}

// DocsHandler lists the routes registered on an Echo instance. Hidden
// routes still serve traffic but are left out of the listing.
type DocsHandler struct {
	e      *echo.Echo
	hidden map[RouteInfo]struct{}
}

// NewDocsHandler creates a DocsHandler for e.
func NewDocsHandler(e *echo.Echo) *DocsHandler {
	return &DocsHandler{e: e, hidden: make(map[RouteInfo]struct{})}
}

// Hide removes routes from the listing.
func (h *DocsHandler) Hide(routes ...*echo.Route) {
	for _, r := range routes {
		h.hidden[RouteInfo{Method: r.Method, Path: r.Path}] = struct{}{}
	}
}

// Routes returns the visible routes sorted by path then method.
func (h *DocsHandler) Routes(c echo.Context) error {
	out := make([]RouteInfo, 0)
	for _, r := range h.e.Routes() {
		ri := RouteInfo{Method: r.Method, Path: r.Path}
		if _, ok := h.hidden[ri]; ok {
			continue
		}
		out = append(out, ri)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Path != out[j].Path {
			return out[i].Path < out[j].Path
		}
		return out[i].Method < out[j].Method
	})
	return c.JSON(http.StatusOK, map[string]any{"routes": out})
}
