// Package config handles TOML configuration loading and validation.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/market-relay/config.toml",
	"configs/config.toml",
}

// Built-in upstream endpoints used when the config leaves them empty.
const (
	DefaultRESTBaseURL   = "https://api.binance.com"
	DefaultStreamBaseURL = "wss://stream.binance.com:9443"
)

// DefaultRelayPrefixes are the request path prefixes accepted for stream upgrades.
var DefaultRelayPrefixes = []string{"/stream", "/ws"}

// reservedRoutes may not be shadowed by the metrics endpoint.
var reservedRoutes = []string{"/api", "/healthz", "/relay/status", "/stream", "/ws"}

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config        string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host          string `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port          int    `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	RESTBaseURL   string `kong:"name='rest-base-url',help='Upstream REST base URL (overrides config).',env='REST_BASE_URL'"`
	StreamBaseURL string `kong:"name='stream-base-url',help='Upstream stream base URL (overrides config).',env='STREAM_BASE_URL'"`
	LogLevel      string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Upstream UpstreamConfig `toml:"upstream"`
	Relay    RelayConfig    `toml:"relay"`
	CORS     CORSConfig     `toml:"cors"`
	Log      LogConfig      `toml:"log"`
	Metrics  MetricsConfig  `toml:"metrics"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `toml:"host"`
	Port         int    `toml:"port"` // 0 means "use default" (4000); TOML cannot distinguish 0 from unset
	BodyMaxBytes int64  `toml:"body_max_bytes"`
}

// UpstreamConfig holds upstream connection settings for both the REST and
// the streaming side.
type UpstreamConfig struct {
	RESTBaseURL      string `toml:"rest_base_url"`
	StreamBaseURL    string `toml:"stream_base_url"`
	TimeoutSeconds   int    `toml:"timeout_seconds"`
	IdleConnections  int    `toml:"idle_connections"`
	ResponseMaxBytes int64  `toml:"response_max_bytes"`

	// StreamHandshakeTimeoutSeconds bounds the outbound websocket handshake.
	// Zero leaves the handshake unbounded.
	StreamHandshakeTimeoutSeconds int `toml:"stream_handshake_timeout_seconds"`
}

// RelayConfig controls the streaming relay.
type RelayConfig struct {
	Prefixes []string `toml:"prefixes"`

	// PreconnectBuffer is the number of client messages held while the
	// upstream connection is still being dialed. Zero drops them.
	PreconnectBuffer int   `toml:"preconnect_buffer"`
	ReadLimitBytes   int64 `toml:"read_limit_bytes"`
}

// CORSConfig holds the cross-origin policy for HTTP routes.
type CORSConfig struct {
	AllowOrigins []string `toml:"allow_origins"`
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
// /etc/market-relay/config.toml then configs/config.toml. If neither exists
// the built-in defaults are used.
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

	if err := cfg.validate(); err != nil {
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
	if cli.RESTBaseURL != "" {
		c.Upstream.RESTBaseURL = cli.RESTBaseURL
	}
	if cli.StreamBaseURL != "" {
		c.Upstream.StreamBaseURL = cli.StreamBaseURL
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
}

func (c *Config) validate() error {
	// Upstream URLs are optional; when set they must use a secure scheme.
	if c.Upstream.RESTBaseURL != "" {
		u, err := url.Parse(c.Upstream.RESTBaseURL)
		if err != nil {
			return fmt.Errorf("upstream.rest_base_url is not a valid URL: %w", err)
		}
		if u.Scheme != "https" {
			return fmt.Errorf("upstream.rest_base_url must use HTTPS; got %q", c.Upstream.RESTBaseURL)
		}
	}
	if c.Upstream.StreamBaseURL != "" {
		u, err := url.Parse(c.Upstream.StreamBaseURL)
		if err != nil {
			return fmt.Errorf("upstream.stream_base_url is not a valid URL: %w", err)
		}
		if u.Scheme != "wss" && u.Scheme != "ws" {
			return fmt.Errorf("upstream.stream_base_url must use ws or wss; got %q", c.Upstream.StreamBaseURL)
		}
		if u.RawQuery != "" || strings.HasSuffix(u.Path, "/") {
			return fmt.Errorf("upstream.stream_base_url must not end in '/' or carry a query; got %q", c.Upstream.StreamBaseURL)
		}
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
	if c.Upstream.ResponseMaxBytes < 0 {
		return fmt.Errorf("upstream.response_max_bytes must be non-negative; got %d", c.Upstream.ResponseMaxBytes)
	}
	if c.Upstream.StreamHandshakeTimeoutSeconds < 0 {
		return fmt.Errorf("upstream.stream_handshake_timeout_seconds must be non-negative; got %d", c.Upstream.StreamHandshakeTimeoutSeconds)
	}
	if c.Relay.PreconnectBuffer < 0 {
		return fmt.Errorf("relay.preconnect_buffer must be non-negative; got %d", c.Relay.PreconnectBuffer)
	}
	if c.Relay.ReadLimitBytes < 0 {
		return fmt.Errorf("relay.read_limit_bytes must be non-negative; got %d", c.Relay.ReadLimitBytes)
	}

	for _, p := range c.Relay.Prefixes {
		if p == "" || p[0] != '/' {
			return fmt.Errorf("relay.prefixes entries must start with '/'; got %q", p)
		}
	}

	// Log fields.
	level := strings.ToLower(c.Log.Level)
	switch level {
	case "debug", "info", "warn", "error", "":
		// valid
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	format := strings.ToLower(c.Log.Format)
	switch format {
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
			if p == reserved || strings.HasPrefix(p, reserved) {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, reserved)
			}
		}
	}

	return nil
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields (Port, BodyMaxBytes, etc.), zero means "unset" because TOML
// cannot distinguish between an explicit 0 and an omitted key. Setting port=0 in
// the config file therefore results in the default port (4000).
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 4000
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 10 * 1024 * 1024 // 10 MB
	}
	if c.Upstream.RESTBaseURL == "" {
		c.Upstream.RESTBaseURL = DefaultRESTBaseURL
	}
	if c.Upstream.StreamBaseURL == "" {
		c.Upstream.StreamBaseURL = DefaultStreamBaseURL
	}
	if c.Upstream.TimeoutSeconds == 0 {
		c.Upstream.TimeoutSeconds = 30
	}
	if c.Upstream.IdleConnections == 0 {
		c.Upstream.IdleConnections = 100
	}
	if c.Upstream.ResponseMaxBytes == 0 {
		c.Upstream.ResponseMaxBytes = 32 * 1024 * 1024 // exchangeInfo is large
	}
	if len(c.Relay.Prefixes) == 0 {
		c.Relay.Prefixes = append([]string(nil), DefaultRelayPrefixes...)
	}
	if c.Relay.ReadLimitBytes == 0 {
		c.Relay.ReadLimitBytes = 16 * 1024 * 1024
	}
	if len(c.CORS.AllowOrigins) == 0 {
		c.CORS.AllowOrigins = []string{"*"}
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
