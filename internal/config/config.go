// Package config assembles the proxy configuration from an optional TOML
// file overlaid with CLI flags and their environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"go.uber.org/multierr"
)

// searchPaths are tried in order when neither --config nor CONFIG_PATH is set.
var searchPaths = []string{
	"/etc/eventhub-proxy/config.toml",
	"configs/config.toml",
}

// reservedRoutes are served by the proxy itself and cannot be used as mounts.
var reservedRoutes = []string{"/healthz", "/proxy/status"}

// CLI is parsed by kong. Every flag can also come from its env variable and
// wins over the file.
type CLI struct {
	Config      string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host        string `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port        int    `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	UpstreamURL string `kong:"name='upstream-url',help='Upstream API origin (overrides config).',env='UPSTREAM_BASE_URL'"`
	LogLevel    string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
}

// Config is the complete, validated proxy configuration.
type Config struct {
	Server      ServerConfig      `toml:"server"`
	Upstream    UpstreamConfig    `toml:"upstream"`
	Mounts      MountsConfig      `toml:"mounts"`
	CORS        CORSConfig        `toml:"cors"`
	Log         LogConfig         `toml:"log"`
	Metrics     MetricsConfig     `toml:"metrics"`
	Diagnostics DiagnosticsConfig `toml:"diagnostics"`

	filePath string
}

// ServerConfig is the inbound listener.
type ServerConfig struct {
	Host          string          `toml:"host"`
	Port          int             `toml:"port"`
	BodyMaxBytes  int64           `toml:"body_max_bytes"`
	ProxyProtocol bool            `toml:"proxy_protocol"`
	RateLimit     RateLimitConfig `toml:"rate_limit"`
}

// RateLimitConfig is a per-client-IP token bucket.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// UpstreamConfig locates the upstream API and tunes the client that reaches it.
type UpstreamConfig struct {
	BaseURL         string `toml:"base_url"`
	APIPrefix       string `toml:"api_prefix"`
	TimeoutSeconds  int    `toml:"timeout_seconds"`
	IdleConnections int    `toml:"idle_connections"`
}

// MountsConfig holds the local path prefixes the proxy listens on.
type MountsConfig struct {
	API    string `toml:"api"`
	Static string `toml:"static"`
}

// CORSConfig holds the values of the CORS headers added to every proxy response.
type CORSConfig struct {
	AllowOrigin  string `toml:"allow_origin"`
	AllowMethods string `toml:"allow_methods"`
	AllowHeaders string `toml:"allow_headers"`
}

// LogConfig selects slog's level and handler.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// MetricsConfig exposes the Prometheus registry when enabled.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// DiagnosticsConfig controls the optional upstream connectivity check.
type DiagnosticsConfig struct {
	Enabled      bool   `toml:"enabled"`
	Path         string `toml:"path"`
	UpstreamPath string `toml:"upstream_path"`
}

// defaults supplies every optional key. Zero always means unset because TOML
// cannot tell an explicit 0 or "" from an omitted key, so port = 0 in a file
// still listens on 8000.
var defaults = Config{
	Server: ServerConfig{
		Host:         "0.0.0.0",
		Port:         8000,
		BodyMaxBytes: 50 << 20, // venue image uploads
	},
	Upstream: UpstreamConfig{
		APIPrefix:       "/api",
		TimeoutSeconds:  30,
		IdleConnections: 100,
	},
	Mounts: MountsConfig{
		API:    "/api/proxy",
		Static: "/api-static",
	},
	CORS: CORSConfig{
		AllowOrigin:  "*",
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
		AllowHeaders: "Content-Type, Authorization, Accept",
	},
	Log: LogConfig{
		Level:  "info",
		Format: "json",
	},
	Metrics: MetricsConfig{
		Path: "/metrics",
	},
	Diagnostics: DiagnosticsConfig{
		Path:         "/api/test",
		UpstreamPath: "/City/CityGetAll",
	},
}

// Load builds the configuration in three layers: the TOML file (the explicit
// path, else the first of searchPaths that exists, else none), then non-empty
// CLI/env values, then defaults. The result is validated as a whole.
func Load(cli *CLI) (*Config, error) {
	var cfg Config

	path := cli.Config
	if path == "" {
		path = findConfigInPaths(searchPaths)
	}
	if path != "" {
		if err := cfg.readFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyCLI(cli)
	cfg.setDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}
	return &cfg, nil
}

func (c *Config) readFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	c.filePath = path
	return nil
}

func (c *Config) applyCLI(cli *CLI) {
	replaceIfSet(&c.Server.Host, cli.Host)
	replaceIfSet(&c.Server.Port, cli.Port)
	replaceIfSet(&c.Upstream.BaseURL, cli.UpstreamURL)
	replaceIfSet(&c.Log.Level, cli.LogLevel)
}

func (c *Config) setDefaults() {
	d := defaults

	fillIfUnset(&c.Server.Host, d.Server.Host)
	fillIfUnset(&c.Server.Port, d.Server.Port)
	fillIfUnset(&c.Server.BodyMaxBytes, d.Server.BodyMaxBytes)

	fillIfUnset(&c.Upstream.APIPrefix, d.Upstream.APIPrefix)
	fillIfUnset(&c.Upstream.TimeoutSeconds, d.Upstream.TimeoutSeconds)
	fillIfUnset(&c.Upstream.IdleConnections, d.Upstream.IdleConnections)

	fillIfUnset(&c.Mounts.API, d.Mounts.API)
	fillIfUnset(&c.Mounts.Static, d.Mounts.Static)

	fillIfUnset(&c.CORS.AllowOrigin, d.CORS.AllowOrigin)
	fillIfUnset(&c.CORS.AllowMethods, d.CORS.AllowMethods)
	fillIfUnset(&c.CORS.AllowHeaders, d.CORS.AllowHeaders)

	fillIfUnset(&c.Log.Level, d.Log.Level)
	fillIfUnset(&c.Log.Format, d.Log.Format)

	fillIfUnset(&c.Metrics.Path, d.Metrics.Path)
	fillIfUnset(&c.Diagnostics.Path, d.Diagnostics.Path)
	fillIfUnset(&c.Diagnostics.UpstreamPath, d.Diagnostics.UpstreamPath)
}

func replaceIfSet[T comparable](dst *T, v T) {
	var zero T
	if v != zero {
		*dst = v
	}
}

func fillIfUnset[T comparable](dst *T, v T) {
	var zero T
	if *dst == zero {
		*dst = v
	}
}

// validate collects every problem instead of stopping at the first, so one
// failed start shows the operator everything to fix.
func (c *Config) validate() error {
	errs := validateUpstreamURL(c.Upstream.BaseURL)

	bounds := []struct {
		key      string
		val, max int64
	}{
		{"server.port", int64(c.Server.Port), 65535},
		{"server.body_max_bytes", c.Server.BodyMaxBytes, -1},
		{"upstream.timeout_seconds", int64(c.Upstream.TimeoutSeconds), -1},
		{"upstream.idle_connections", int64(c.Upstream.IdleConnections), -1},
	}
	for _, b := range bounds {
		if b.val < 0 || (b.max >= 0 && b.val > b.max) {
			errs = multierr.Append(errs, fmt.Errorf("%s out of range; got %d", b.key, b.val))
		}
	}

	if rl := c.Server.RateLimit; rl.Enabled && rl.RequestsPerSecond <= 0 {
		errs = multierr.Append(errs, fmt.Errorf("server.rate_limit.requests_per_second must be > 0 when enabled; got %v", rl.RequestsPerSecond))
	}

	errs = multierr.Append(errs, oneOf("log.level", c.Log.Level, "debug", "info", "warn", "error"))
	errs = multierr.Append(errs, oneOf("log.format", c.Log.Format, "json", "text"))

	if p := c.Upstream.APIPrefix; p[0] != '/' || strings.HasSuffix(p, "/") {
		errs = multierr.Append(errs, fmt.Errorf("upstream.api_prefix must start with '/' and not end with '/'; got %q", p))
	}

	return multierr.Append(errs, c.validateRoutes())
}

// oneOf accepts value case-insensitively.
func oneOf(key, value string, allowed ...string) error {
	for _, a := range allowed {
		if strings.EqualFold(value, a) {
			return nil
		}
	}
	return fmt.Errorf("%s must be one of %s; got %q", key, strings.Join(allowed, ", "), value)
}

func validateUpstreamURL(raw string) error {
	if raw == "" {
		return errors.New("upstream.base_url is required (set UPSTREAM_BASE_URL)")
	}
	u, err := url.Parse(raw)
	switch {
	case err != nil:
		return fmt.Errorf("upstream.base_url is not a valid URL: %w", err)
	case u.Scheme != "http" && u.Scheme != "https":
		return fmt.Errorf("upstream.base_url must use http or https; got %q", raw)
	case u.Host == "":
		return fmt.Errorf("upstream.base_url must include a host; got %q", raw)
	case u.RawQuery != "" || u.Fragment != "":
		return fmt.Errorf("upstream.base_url must not carry a query or fragment; got %q", raw)
	}
	return nil
}

// validateRoutes checks that mounts and auxiliary endpoints are well formed
// and do not shadow one another.
func (c *Config) validateRoutes() error {
	var errs error

	type route struct {
		name string
		path string
	}
	routes := []route{
		{"mounts.api", c.Mounts.API},
		{"mounts.static", c.Mounts.Static},
	}
	if c.Metrics.Enabled {
		routes = append(routes, route{"metrics.path", c.Metrics.Path})
	}
	if c.Diagnostics.Enabled {
		routes = append(routes, route{"diagnostics.path", c.Diagnostics.Path})
	}
	for _, r := range reservedRoutes {
		routes = append(routes, route{"reserved route", r})
	}

	for i, r := range routes {
		if r.path == "" || r.path[0] != '/' {
			errs = multierr.Append(errs, fmt.Errorf("%s must start with '/'; got %q", r.name, r.path))
			continue
		}
		if r.path != "/" && strings.HasSuffix(r.path, "/") {
			errs = multierr.Append(errs, fmt.Errorf("%s must not end with '/'; got %q", r.name, r.path))
			continue
		}
		for _, other := range routes[:i] {
			if overlaps(r.path, other.path) {
				errs = multierr.Append(errs, fmt.Errorf("%s %q conflicts with %s %q", r.name, r.path, other.name, other.path))
			}
		}
	}

	return errs
}

// overlaps reports whether either path is equal to or nested below the other.
func overlaps(a, b string) bool {
	return a == b || strings.HasPrefix(a, b+"/") || strings.HasPrefix(b, a+"/")
}

func findConfigInPaths(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Addr is the listen address; IPv6 hosts are bracketed.
func (s *ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// FilePath returns the file the configuration was read from, or "" when it
// came from flags and environment alone.
func (c *Config) FilePath() string {
	return c.filePath
}

// WarnPermissions warns when the config file is readable beyond its owner.
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
