package middleware

import (
	"strings"

	"github.com/labstack/echo/v4"

	"eventhub-proxy/internal/config"
)

// CORS returns a middleware that sets the configured CORS headers on every
// response whose path falls under one of mounts. With no mounts it covers
// every path.
//
// Register it with Echo.Pre: pre-middleware runs ahead of the Use chain, so
// responses produced there (body limit, rate limit, recovered panics) carry
// the headers too. Headers are set before next runs so any later
// WriteHeader keeps them.
func CORS(cfg config.CORSConfig, mounts ...string) echo.MiddlewareFunc {
	var scoped []string
	for _, m := range mounts {
		if m != "" {
			scoped = append(scoped, m)
		}
	}

	covers := func(path string) bool {
		if len(scoped) == 0 {
			return true
		}
		for _, m := range scoped {
			if path == m || strings.HasPrefix(path, m+"/") {
				return true
			}
		}
		return false
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if covers(c.Request().URL.Path) {
				h := c.Response().Header()
				h.Set(echo.HeaderAccessControlAllowOrigin, cfg.AllowOrigin)
				h.Set(echo.HeaderAccessControlAllowMethods, cfg.AllowMethods)
				h.Set(echo.HeaderAccessControlAllowHeaders, cfg.AllowHeaders)
			}
			return next(c)
		}
	}
}
