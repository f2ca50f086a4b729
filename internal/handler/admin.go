package handler

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"chatgpt-proxy-go/internal/config"
	"chatgpt-proxy-go/internal/credential"
)

// AdminHandler lets an operator replace credentials at runtime.
type AdminHandler struct {
	ctrl   *credential.Controller
	secret string
	logger *slog.Logger
}

// NewAdminHandler creates an AdminHandler guarded by the configured secret.
func NewAdminHandler(cfg *config.Config, ctrl *credential.Controller, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		ctrl:   ctrl,
		secret: cfg.Admin.Secret,
		logger: logger.With("component", "admin_handler"),
	}
}

// Enabled reports whether a secret is configured.
func (h *AdminHandler) Enabled() bool {
	return h.secret != ""
}

type updateInfoRequest struct {
	Clearance   string `json:"cf_clearance"`
	AccessToken string `json:"access_token"`
	UserAgent   string `json:"user_agent"`
}

// UpdateInfo replaces the supplied credentials and runs a probe with them.
// Omitted or empty fields keep their current value.
func (h *AdminHandler) UpdateInfo(c echo.Context) error {
	if !h.authorized(c.Request()) {
		return c.JSON(http.StatusUnauthorized, map[string]string{
			"error": "invalid authorization",
		})
	}

	var body updateInfoRequest
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "invalid request body",
		})
	}

	var updated []string
	if body.Clearance != "" {
		_ = h.ctrl.SetClearance(body.Clearance)
		updated = append(updated, "cf_clearance")
	}
	if body.AccessToken != "" {
		_ = h.ctrl.SetAccessToken(body.AccessToken)
		updated = append(updated, "access_token")
	}
	if body.UserAgent != "" {
		_ = h.ctrl.SetUserAgent(body.UserAgent)
		updated = append(updated, "user_agent")
	}
	h.logger.Info("credentials updated", "fields", updated)

	valid, err := h.ctrl.Probe(c.Request().Context())
	if err != nil {
		h.logger.Warn("probe after update failed", "err", err)
	}

	return c.JSON(http.StatusOK, map[string]any{
		"status":   "ok",
		"valid":    valid,
		"validity": h.ctrl.Validity().String(),
	})
}

// Status reports the current validity without probing.
func (h *AdminHandler) Status(c echo.Context) error {
	if !h.authorized(c.Request()) {
		return c.JSON(http.StatusUnauthorized, map[string]string{
			"error": "invalid authorization",
		})
	}
	creds := h.ctrl.Credentials()
	return c.JSON(http.StatusOK, map[string]any{
		"validity":         h.ctrl.Validity().String(),
		"trust":            creds.Trust,
		"has_clearance":    creds.Clearance != "",
		"has_access_token": creds.AccessToken != "",
		"has_session":      creds.Session != "",
	})
}

func (h *AdminHandler) authorized(r *http.Request) bool {
	if h.secret == "" {
		return false
	}
	got := r.Header.Get("Authorization")
	return subtle.ConstantTimeCompare([]byte(got), []byte(h.secret)) == 1
}
