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
	"/etc/webrelay/config.toml",
	"configs/config.toml",
}

// reservedRoutes are served by the proxy itself and cannot host the metrics endpoint.
var reservedRoutes = []string{"/api/proxy", "/api/resource", "/healthz", "/status"}

// DefaultUserAgent is the browser identity sent upstream unless overridden.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Fetch timeout defaults, in seconds.
const (
	defaultNavigateTimeout       = 30
	defaultForwardConnectTimeout = 10
	defaultForwardBodyTimeout    = 30
)

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config    string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host      string `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port      int    `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	PublicURL string `kong:"name='public-url',help='Public base URL used in rewritten links (overrides config).',env='PUBLIC_URL'"`
	LogLevel  string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server  ServerConfig  `toml:"server"`
	Fetch   FetchConfig   `toml:"fetch"`
	Guard   GuardConfig   `toml:"guard"`
	Log     LogConfig     `toml:"log"`
	Metrics MetricsConfig `toml:"metrics"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string          `toml:"host"`
	Port         int             `toml:"port"` // 0 means "use default" (8080)
	PublicURL    string          `toml:"public_url"`
	BodyMaxBytes int64           `toml:"body_max_bytes"`
	RateLimit    RateLimitConfig `toml:"rate_limit"`
}

// RateLimitConfig controls per-IP request rate limiting.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// FetchConfig bounds outbound fetches to target sites.
type FetchConfig struct {
	NavigateTimeoutSeconds       int    `toml:"navigate_timeout_seconds"`
	ResourceTimeoutSeconds       int    `toml:"resource_timeout_seconds"`
	ForwardConnectTimeoutSeconds int    `toml:"forward_connect_timeout_seconds"`
	ForwardBodyTimeoutSeconds    int    `toml:"forward_body_timeout_seconds"`
	MaxBodyBytes                 int64  `toml:"max_body_bytes"`
	IdleConnections              int    `toml:"idle_connections"`
	UserAgent                    string `toml:"user_agent"`
}

// GuardConfig extends the built-in target block list.
type GuardConfig struct {
	BlockedHosts []string `toml:"blocked_hosts"`
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

// Load reads the TOML config file and applies CLI overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/webrelay/config.toml then configs/config.toml. If neither exists the
// built-in defaults are used.
func Load(cli *CLI) (*Config, error) {
	path := cli.Config
	if path == "" {
		path = findConfig()
	}

	var cfg Config
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

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}
	if err := cfg.validateTimeouts(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	cfg.setDefaults()
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
	if cli.PublicURL != "" {
		c.Server.PublicURL = cli.PublicURL
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
}

func (c *Config) validate() error {
	if c.Server.PublicURL != "" {
		u, err := url.Parse(c.Server.PublicURL)
		if err != nil {
			return fmt.Errorf("server.public_url is not a valid URL: %w", err)
		}
		if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("server.public_url must be an absolute http(s) URL; got %q", c.Server.PublicURL)
		}
	}

	// Numeric bounds.
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 0–65535; got %d", c.Server.Port)
	}
	if c.Server.BodyMaxBytes < 0 {
		return fmt.Errorf("server.body_max_bytes must be non-negative; got %d", c.Server.BodyMaxBytes)
	}
	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("server.rate_limit.requests_per_second must be > 0 when rate limiting is enabled; got %v", c.Server.RateLimit.RequestsPerSecond)
	}
	for name, v := range map[string]int{
		"fetch.navigate_timeout_seconds":        c.Fetch.NavigateTimeoutSeconds,
		"fetch.resource_timeout_seconds":        c.Fetch.ResourceTimeoutSeconds,
		"fetch.forward_connect_timeout_seconds": c.Fetch.ForwardConnectTimeoutSeconds,
		"fetch.forward_body_timeout_seconds":    c.Fetch.ForwardBodyTimeoutSeconds,
		"fetch.idle_connections":                c.Fetch.IdleConnections,
	} {
		if v < 0 {
			return fmt.Errorf("%s must be non-negative; got %d", name, v)
		}
	}
	if c.Fetch.MaxBodyBytes < 0 {
		return fmt.Errorf("fetch.max_body_bytes must be non-negative; got %d", c.Fetch.MaxBodyBytes)
	}
	for _, h := range c.Guard.BlockedHosts {
		if strings.TrimSpace(h) == "" {
			return fmt.Errorf("guard.blocked_hosts must not contain empty entries")
		}
	}

	// Log fields.
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error", "":
		// valid
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text", "":
		// valid
	default:
		return fmt.Errorf("log.format must be one of: json, text; got %q", c.Log.Format)
	}

	// Metrics path validation (only when metrics are enabled).
	if c.Metrics.Enabled && c.Metrics.Path != "" {
		p := c.Metrics.Path
		if p[0] != '/' {
			return fmt.Errorf("metrics.path must start with '/'; got %q", p)
		}
		for _, reserved := range reservedRoutes {
			if p == reserved || strings.HasPrefix(p, reserved+"/") {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, reserved)
			}
		}
	}

	return nil
}

// validateTimeouts checks that explicitly set forwarding-proxy bounds nest
// inside the overall navigate bound. Unset bounds are clamped by setDefaults.
func (c *Config) validateTimeouts() error {
	f := c.Fetch
	navigate := f.NavigateTimeoutSeconds
	if navigate == 0 {
		navigate = defaultNavigateTimeout
	}
	if f.ForwardConnectTimeoutSeconds != 0 && f.ForwardConnectTimeoutSeconds >= navigate {
		return fmt.Errorf("fetch.forward_connect_timeout_seconds (%d) must be shorter than fetch.navigate_timeout_seconds (%d)",
			f.ForwardConnectTimeoutSeconds, navigate)
	}
	if f.ForwardBodyTimeoutSeconds > navigate {
		return fmt.Errorf("fetch.forward_body_timeout_seconds (%d) must not exceed fetch.navigate_timeout_seconds (%d)",
			f.ForwardBodyTimeoutSeconds, navigate)
	}
	return nil
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields zero means "unset" because TOML cannot distinguish
// between an explicit 0 and an omitted key.
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	c.Server.PublicURL = strings.TrimRight(c.Server.PublicURL, "/")
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 1 << 20 // 1 MB; both endpoints are GET-only
	}
	if c.Fetch.NavigateTimeoutSeconds == 0 {
		c.Fetch.NavigateTimeoutSeconds = defaultNavigateTimeout
	}
	if c.Fetch.ResourceTimeoutSeconds == 0 {
		c.Fetch.ResourceTimeoutSeconds = 10
	}
	// forwarding bounds default to their usual values, clamped to the navigate bound
	if c.Fetch.ForwardConnectTimeoutSeconds == 0 {
		c.Fetch.ForwardConnectTimeoutSeconds = min(defaultForwardConnectTimeout, max(c.Fetch.NavigateTimeoutSeconds-1, 1))
	}
	if c.Fetch.ForwardBodyTimeoutSeconds == 0 {
		c.Fetch.ForwardBodyTimeoutSeconds = min(defaultForwardBodyTimeout, c.Fetch.NavigateTimeoutSeconds)
	}
	if c.Fetch.MaxBodyBytes == 0 {
		c.Fetch.MaxBodyBytes = 32 << 20 // 32 MB
	}
	if c.Fetch.IdleConnections == 0 {
		c.Fetch.IdleConnections = 100
	}
	if c.Fetch.UserAgent == "" {
		c.Fetch.UserAgent = DefaultUserAgent
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

// NavigateTimeout is the overall bound for a navigate-endpoint fetch.
func (c *FetchConfig) NavigateTimeout() time.Duration {
	return time.Duration(c.NavigateTimeoutSeconds) * time.Second
}

// ResourceTimeout is the overall bound for a resource-endpoint fetch.
func (c *FetchConfig) ResourceTimeout() time.Duration {
	return time.Duration(c.ResourceTimeoutSeconds) * time.Second
}

// ForwardConnectTimeout bounds the dial to a forwarding proxy.
func (c *FetchConfig) ForwardConnectTimeout() time.Duration {
	return time.Duration(c.ForwardConnectTimeoutSeconds) * time.Second
}

// ForwardBodyTimeout bounds the gap between body reads through a forwarding proxy.
func (c *FetchConfig) ForwardBodyTimeout() time.Duration {
	return time.Duration(c.ForwardBodyTimeoutSeconds) * time.Second
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
