// Package service implements the core proxy forwarding logic.
package service

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/golang/gddo/httputil/header"

	"eventhub-proxy/internal/client"
	"eventhub-proxy/internal/config"
	"eventhub-proxy/internal/model"
)

// deniedRequestHeaders describe the proxy's own transport or the hosting
// platform rather than the client's request. Keys are canonical.
var deniedRequestHeaders = map[string]bool{
	"Host":                true,
	"Forwarded":           true,
	"X-Real-Ip":           true,
	"X-Amzn-Trace-Id":     true,
	"Cf-Connecting-Ip":    true,
	"Cf-Ray":              true,
	"True-Client-Ip":      true,
	"Connection":          true,
	"Proxy-Connection":    true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Te":                  true,
	"Trailer":             true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
}

// deniedRequestHeaderPrefixes match whole families of platform-injected headers.
// Values are canonical-case prefixes.
var deniedRequestHeaderPrefixes = []string{
	"X-Forwarded-",
	"X-Vercel-",
}

// relayedResponseHeaders are the only upstream response headers sent to the client.
// The body is relayed byte for byte, so the upstream's Content-Encoding and
// Content-Length still describe it.
var relayedResponseHeaders = []string{
	"Content-Type",
	"Content-Encoding",
	"Content-Length",
}

// ProxyService handles the forwarding logic for proxy requests.
type ProxyService struct {
	client  *client.UpstreamClient
	logger  *slog.Logger
	baseURL string
	api     model.Route
	static  model.Route
}

// NewProxyService creates a ProxyService for the configured upstream origin.
func NewProxyService(c *client.UpstreamClient, cfg *config.Config, logger *slog.Logger) (*ProxyService, error) {
	u, err := url.Parse(cfg.Upstream.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse upstream base_url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("upstream base_url %q must be an absolute URL", cfg.Upstream.BaseURL)
	}

	return &ProxyService{
		client:  c,
		logger:  logger.With("component", "proxy_service"),
		baseURL: strings.TrimSuffix(cfg.Upstream.BaseURL, "/"),
		api: model.Route{
			Mount:          cfg.Mounts.API,
			UpstreamPrefix: cfg.Upstream.APIPrefix,
		},
		static: model.Route{
			Mount: cfg.Mounts.Static,
		},
	}, nil
}

// APIRoute returns the route for API calls (mount to upstream API prefix).
func (s *ProxyService) APIRoute() model.Route {
	return s.api
}

// StaticRoute returns the route for uploaded media (mount to upstream root).
func (s *ProxyService) StaticRoute() model.Route {
	return s.static
}

// Forward sends a ProxyRequest to the upstream along route and returns the response.
// The caller is responsible for closing the response body.
//
// Preflight requests must be answered by the caller; Forward sends every
// method it is given.
func (s *ProxyService) Forward(pr *model.ProxyRequest, route model.Route) (*model.ProxyResponse, error) {
	upstreamURL := s.BuildUpstreamURL(route, pr.Target)

	out := client.Outbound{
		Method: pr.Method,
		URL:    upstreamURL,
		Header: FilterRequestHeaders(pr.Header),
	}
	if model.ClassifyMethod(pr.Method) == model.MethodWithBody && pr.Body != nil {
		out.Body = pr.Body
		out.ContentLength = pr.ContentLength
	}

	s.logger.Debug("forwarding request",
		"method", pr.Method,
		"target", pr.Target,
		"mount", route.Mount,
	)

	resp, err := s.client.Send(pr.Ctx, out)
	if err != nil {
		return nil, fmt.Errorf("forward to upstream: %w", err)
	}

	resp.Header = filterResponseHeaders(resp.Header)
	return resp, nil
}

// BuildUpstreamURL strips the route's mount prefix from target and appends the
// remainder, unmodified, to the upstream origin plus the route's upstream prefix.
func (s *ProxyService) BuildUpstreamURL(route model.Route, target string) string {
	rest := strings.TrimPrefix(target, route.Mount)
	return s.baseURL + route.UpstreamPrefix + rest
}

// FilterRequestHeaders returns a copy of src without the deny-listed headers,
// hop-by-hop headers, or headers named in src's Connection header. All other
// headers are copied unchanged. Applying it to its own output is a no-op.
func FilterRequestHeaders(src http.Header) http.Header {
	connectionScoped := make(map[string]bool)
	for _, name := range header.ParseList(src, "Connection") {
		connectionScoped[http.CanonicalHeaderKey(name)] = true
	}

	dst := make(http.Header, len(src))
	for key, vals := range src {
		canonical := http.CanonicalHeaderKey(key)
		if isDeniedRequestHeader(canonical) || connectionScoped[canonical] {
			continue
		}
		dst[key] = append([]string(nil), vals...)
	}
	return dst
}

func isDeniedRequestHeader(canonical string) bool {
	if deniedRequestHeaders[canonical] {
		return true
	}
	for _, prefix := range deniedRequestHeaderPrefixes {
		if strings.HasPrefix(canonical, prefix) {
			return true
		}
	}
	return false
}

func filterResponseHeaders(src http.Header) http.Header {
	dst := make(http.Header)
	for _, key := range relayedResponseHeaders {
		if vals := src.Values(key); len(vals) > 0 {
			dst[key] = vals
		}
	}
	return dst
}
