// Package config handles TOML configuration loading and validation.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/chatgpt-proxy/config.toml",
	"configs/config.toml",
}

// DefaultUserAgent is sent upstream when no user agent is configured.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/111.0.0.0 Safari/537.36 Edg/111.0.1661.54"

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config      string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host        string `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port        int    `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	Clearance   string `kong:"help='Upstream clearance cookie value (overrides config).',env='CF_CLEARANCE'"`
	UserAgent   string `kong:"help='User agent sent upstream (overrides config).',env='USER_AGENT'"`
	AccessToken string `kong:"help='Bearer access token used for probes (overrides config).',env='ACCESS_TOKEN'"`
	Trust       bool   `kong:"help='Inject the access token into requests without Authorization.',env='PROXY_TRUST_CLIENT'"`
	AdminSecret string `kong:"help='Secret enabling the /moderation endpoints (overrides config).',env='MOD_ACCESS_TOKEN'"`
	LogLevel    string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server      ServerConfig      `toml:"server"`
	Upstream    UpstreamConfig    `toml:"upstream"`
	Credentials CredentialsConfig `toml:"credentials"`
	Admin       AdminConfig       `toml:"admin"`
	Probe       ProbeConfig       `toml:"probe"`
	Log         LogConfig         `toml:"log"`
	Metrics     MetricsConfig     `toml:"metrics"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string          `toml:"host"`
	Port         int             `toml:"port"` // 0 means "use default" (7800); TOML cannot distinguish 0 from unset
	BodyMaxBytes int64           `toml:"body_max_bytes"` // 0 means no limit; request bodies are streamed upstream
	RateLimit    RateLimitConfig `toml:"rate_limit"`
}

// RateLimitConfig controls per-IP request rate limiting.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// UpstreamConfig holds upstream connection settings.
type UpstreamConfig struct {
	BaseURL         string `toml:"base_url"`
	PathPrefix      string `toml:"path_prefix"`
	Referer         string `toml:"referer"` // empty means "<origin>/chat"
	TimeoutSeconds  int    `toml:"timeout_seconds"`
	IdleConnections int    `toml:"idle_connections"`
	MaxConnections  int    `toml:"max_connections"`
}

// CredentialsConfig holds the initial identity material injected upstream.
type CredentialsConfig struct {
	Clearance   string `toml:"clearance"`
	UserAgent   string `toml:"user_agent"`
	AccessToken string `toml:"access_token"`
	PUID        string `toml:"puid"`
	Trust       bool   `toml:"trust"`
}

// AdminConfig holds the administrative endpoint secret.
// An empty secret disables the endpoints.
type AdminConfig struct {
	Secret string `toml:"secret"`
}

// ProbeConfig controls the background liveness probe.
type ProbeConfig struct {
	Path            string `toml:"path"`
	IntervalSeconds int    `toml:"interval_seconds"`
	RetrySeconds    int    `toml:"retry_seconds"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Load reads the TOML config file (if any) and applies CLI overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/chatgpt-proxy/config.toml then configs/config.toml. Running without
// any file is allowed; everything can come from flags and environment.
func Load(cli *CLI) (*Config, error) {
	var cfg Config

	path := cli.Config
	if path == "" {
		path = findConfig()
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
		cfg.filePath = path
	}

	cfg.applyCLI(cli)
	cfg.setDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	return &cfg, nil
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.Host != "" {
		c.Server.Host = cli.Host
	}
	if cli.Port != 0 {
		c.Server.Port = cli.Port
	}
	if cli.Clearance != "" {
		c.Credentials.Clearance = cli.Clearance
	}
	if cli.UserAgent != "" {
		c.Credentials.UserAgent = cli.UserAgent
	}
	if cli.AccessToken != "" {
		c.Credentials.AccessToken = cli.AccessToken
	}
	if cli.Trust {
		c.Credentials.Trust = true
	}
	if cli.AdminSecret != "" {
		c.Admin.Secret = cli.AdminSecret
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
}

func (c *Config) validate() error {
	// Upstream URL must be HTTPS.
	u, err := url.Parse(c.Upstream.BaseURL)
	if err != nil {
		return fmt.Errorf("upstream.base_url is not a valid URL: %w", err)
	}
	if u.Scheme != "https" || u.Host == "" {
		return fmt.Errorf("upstream.base_url must be an absolute HTTPS URL; got %q", c.Upstream.BaseURL)
	}

	p := c.Upstream.PathPrefix
	if p[0] != '/' {
		return fmt.Errorf("upstream.path_prefix must start with '/'; got %q", p)
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		return fmt.Errorf("upstream.path_prefix must not end with '/'; got %q", p)
	}

	// Numeric bounds.
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 0–65535; got %d", c.Server.Port)
	}
	if c.Server.BodyMaxBytes < 0 {
		return fmt.Errorf("server.body_max_bytes must be non-negative; got %d", c.Server.BodyMaxBytes)
	}
	if c.Upstream.TimeoutSeconds < 0 {
		return fmt.Errorf("upstream.timeout_seconds must be non-negative; got %d", c.Upstream.TimeoutSeconds)
	}
	if c.Upstream.IdleConnections < 0 {
		return fmt.Errorf("upstream.idle_connections must be non-negative; got %d", c.Upstream.IdleConnections)
	}
	if c.Upstream.MaxConnections < 0 {
		return fmt.Errorf("upstream.max_connections must be non-negative; got %d", c.Upstream.MaxConnections)
	}
	if c.Probe.IntervalSeconds < 0 || c.Probe.RetrySeconds < 0 {
		return fmt.Errorf("probe intervals must be non-negative; got interval=%d retry=%d", c.Probe.IntervalSeconds, c.Probe.RetrySeconds)
	}
	if c.Probe.Path[0] != '/' {
		return fmt.Errorf("probe.path must start with '/'; got %q", c.Probe.Path)
	}
	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("server.rate_limit.requests_per_second must be > 0 when rate limiting is enabled; got %v", c.Server.RateLimit.RequestsPerSecond)
	}

	// Log fields.
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
		// valid
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
		// valid
	default:
		return fmt.Errorf("log.format must be one of: json, text; got %q", c.Log.Format)
	}

	// Metrics path validation (only when metrics are enabled).
	if c.Metrics.Enabled {
		mp := c.Metrics.Path
		if mp[0] != '/' {
			return fmt.Errorf("metrics.path must start with '/'; got %q", mp)
		}
		for _, reserved := range c.ReservedPaths() {
			if mp == reserved || strings.HasPrefix(mp, reserved+"/") {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", mp, reserved)
			}
		}
	}

	return nil
}

// ReservedPaths returns the route prefixes owned by the proxy itself.
func (c *Config) ReservedPaths() []string {
	return []string{c.Upstream.PathPrefix, "/healthz", "/proxy/status", "/moderation", "/docs"}
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields (Port, TimeoutSeconds, etc.), zero means "unset" because TOML
// cannot distinguish between an explicit 0 and an omitted key.
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "127.0.0.1"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 7800
	}
	if c.Upstream.BaseURL == "" {
		c.Upstream.BaseURL = "https://chat.openai.com/backend-api/"
	}
	if c.Upstream.PathPrefix == "" {
		c.Upstream.PathPrefix = "/backend-api"
	}
	if c.Upstream.TimeoutSeconds == 0 {
		c.Upstream.TimeoutSeconds = 120
	}
	if c.Upstream.IdleConnections == 0 {
		c.Upstream.IdleConnections = 100
	}
	if c.Upstream.MaxConnections == 0 {
		c.Upstream.MaxConnections = 256
	}
	if c.Credentials.UserAgent == "" {
		c.Credentials.UserAgent = DefaultUserAgent
	}
	if c.Probe.Path == "" {
		c.Probe.Path = "/models"
	}
	if c.Probe.IntervalSeconds == 0 {
		c.Probe.IntervalSeconds = 6 * 60 * 60
	}
	if c.Probe.RetrySeconds == 0 {
		c.Probe.RetrySeconds = 60 * 60
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// findConfig returns the first config path that exists, or empty string.
func findConfig() string {
	return findConfigInPaths(configSearchPaths)
}

// findConfigInPaths returns the first path that exists on disk, or empty string.
func findConfigInPaths(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Addr returns the server listen address as host:port.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Timeout returns the upstream request timeout.
func (c *UpstreamConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Interval returns the delay between successful probe cycles.
func (c *ProbeConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// Retry returns the delay after a probe cycle that errored.
func (c *ProbeConfig) Retry() time.Duration {
	return time.Duration(c.RetrySeconds) * time.Second
}

// WarnPermissions logs a warning if the config file is readable by group or others.
func (c *Config) WarnPermissions(logger *slog.Logger) {
	if c.filePath == "" {
		return
	}
	info, err := os.Stat(c.filePath)
	if err != nil {
		return
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		logger.Warn("config file is readable by group/others; consider chmod 600",
			"path", c.filePath,
			"mode", fmt.Sprintf("%04o", perm),
		)
	}
}
