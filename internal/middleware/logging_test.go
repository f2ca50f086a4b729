package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestRequestLogger(t *testing.T) {
	tests := []struct {
		name      string
		path      string
		status    int
		wantLevel string
	}{
		{"success at info", "/backend-api/models?token=secret", http.StatusOK, "INFO"},
		{"forbidden at warn", "/backend-api/models", http.StatusForbidden, "WARN"},
		{"gateway error at error", "/backend-api/models", http.StatusBadGateway, "ERROR"},
		{"quiet path at debug", "/healthz", http.StatusOK, "DEBUG"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

			e := echo.New()
			e.Use(RequestLogger(logger, "/healthz"))
			handler := func(c echo.Context) error {
				return c.String(tt.status, "body")
			}
			e.GET("/backend-api/*", handler)
			e.GET("/healthz", handler)

			req := httptest.NewRequest(http.MethodGet, tt.path, http.NoBody)
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}

			var entry map[string]any
			if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
				t.Fatalf("unmarshal log entry %q: %v", buf.String(), err)
			}
			if entry["level"] != tt.wantLevel {
				t.Errorf("level = %v, want %s", entry["level"], tt.wantLevel)
			}
			if entry["component"] != "http" {
				t.Errorf("component = %v, want http", entry["component"])
			}
			if strings.Contains(buf.String(), "secret") {
				t.Errorf("log entry leaked the query string: %s", buf.String())
			}
		})
	}
}

func TestRequestLogger_RecordsRoute(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	e := echo.New()
	e.Use(RequestLogger(logger))
	e.POST("/backend-api/*", func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodPost, "/backend-api/conversation", http.NoBody)
	e.ServeHTTP(httptest.NewRecorder(), req)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if entry["route"] != "/backend-api/*" {
		t.Errorf("route = %v, want %q", entry["route"], "/backend-api/*")
	}
	if entry["path"] != "/backend-api/conversation" {
		t.Errorf("path = %v, want %q", entry["path"], "/backend-api/conversation")
	}
}
