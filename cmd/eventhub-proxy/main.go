package main

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	"github.com/dustin/go-humanize"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/pires/go-proxyproto"
	"go.uber.org/fx"
	"golang.org/x/time/rate"

	"eventhub-proxy/internal/client"
	"eventhub-proxy/internal/config"
	"eventhub-proxy/internal/handler"
	"eventhub-proxy/internal/metrics"
	"eventhub-proxy/internal/middleware"
	"eventhub-proxy/internal/service"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	var cli config.CLI
	kong.Parse(&cli,
		kong.Name("eventhub-proxy"),
		kong.Description("CORS-enabling forwarding proxy for the EventHub upstream API."),
		kong.Vars{"version": fmt.Sprintf("%s (%s, %s)", version, commit, date)},
	)

	fx.New(
		fx.Provide(
			func() *config.CLI { return &cli },
			func() handler.Version { return handler.Version(version) },
			config.Load,
			newLogger,
			newMetrics,
			newEcho,
			client.NewUpstreamClient,
			service.NewProxyService,
			handler.NewProxyHandler,
			handler.NewHealthHandler,
			handler.NewDiagnosticsHandler,
		),
		fx.Invoke(handler.RegisterRoutes, logStartupConfig, startServer),
	).Run()
}

// newLogger builds the process logger. Level names are matched
// case-insensitively; validation has already rejected unknown ones.
func newLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Log.Level)); err != nil {
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Log.Format, "text") {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

// newMetrics returns nil when metrics are disabled; every consumer accepts nil.
func newMetrics(cfg *config.Config) *metrics.Metrics {
	if !cfg.Metrics.Enabled {
		return nil
	}
	return metrics.New(
		cfg.Mounts.API,
		cfg.Mounts.Static,
		cfg.Diagnostics.Path,
		cfg.Metrics.Path,
		"/healthz",
		"/proxy/status",
	)
}

// newEcho configures the server and the middleware shared by every route.
// CORS is not here: RegisterRoutes installs it as pre-middleware scoped to
// the mounts.
func newEcho(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := e.Server
	s.ReadHeaderTimeout = 10 * time.Second
	s.ReadTimeout = 60 * time.Second
	s.IdleTimeout = 2 * time.Minute
	// No write timeout: media responses can be large and the upstream
	// client timeout already bounds each handler.
	s.WriteTimeout = 0

	chain := []echo.MiddlewareFunc{
		echomw.Recover(),
		echomw.RequestID(),
		middleware.RequestLogger(logger),
		middleware.MetricsMiddleware(m),
		echomw.BodyLimit(strconv.FormatInt(cfg.Server.BodyMaxBytes, 10) + "B"),
		middleware.SecurityHeaders(),
	}

	if rl := cfg.Server.RateLimit; rl.Enabled {
		store := echomw.NewRateLimiterMemoryStoreWithConfig(echomw.RateLimiterMemoryStoreConfig{
			Rate:      rate.Limit(rl.RequestsPerSecond),
			Burst:     int(math.Max(1, math.Ceil(rl.RequestsPerSecond))),
			ExpiresIn: 3 * time.Minute,
		})
		chain = append(chain, echomw.RateLimiterWithConfig(echomw.RateLimiterConfig{
			Store: store,
			DenyHandler: func(c echo.Context, _ string, _ error) error {
				return echo.ErrTooManyRequests
			},
		}))
		logger.Info("rate limiter enabled", "rps", rl.RequestsPerSecond)
	}

	e.Use(chain...)
	return e
}

func logStartupConfig(cfg *config.Config, logger *slog.Logger) {
	cfg.WarnPermissions(logger)

	source := cfg.FilePath()
	if source == "" {
		source = "environment"
	}
	logger.Info("configuration loaded",
		"source", source,
		"upstream", cfg.Upstream.BaseURL,
		"api_mount", cfg.Mounts.API,
		"static_mount", cfg.Mounts.Static,
		"upstream_timeout", time.Duration(cfg.Upstream.TimeoutSeconds)*time.Second,
		"body_limit", humanize.IBytes(uint64(cfg.Server.BodyMaxBytes)),
		"diagnostics", cfg.Diagnostics.Enabled,
		"metrics", cfg.Metrics.Enabled,
	)
}

// listen binds addr, wrapping the listener to decode PROXY protocol headers
// when the server sits behind an L4 load balancer.
func listen(cfg *config.Config) (net.Listener, error) {
	addr := cfg.Server.Addr()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("bind %s: %w", addr, err)
	}
	if cfg.Server.ProxyProtocol {
		ln = &proxyproto.Listener{
			Listener:          ln,
			ReadHeaderTimeout: 10 * time.Second,
		}
	}
	return ln, nil
}

func startServer(lc fx.Lifecycle, e *echo.Echo, cfg *config.Config, logger *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			ln, err := listen(cfg)
			if err != nil {
				return err
			}
			logger.Info("starting server",
				"addr", ln.Addr().String(),
				"proxy_protocol", cfg.Server.ProxyProtocol,
			)
			go func() {
				if err := e.Server.Serve(ln); err != nil && err != http.ErrServerClosed {
					logger.Error("server error", "err", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("shutting down server")
			return e.Shutdown(ctx)
		},
	})
}
