// Package client sends forwarded requests to the upstream origin.
package client

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"eventhub-proxy/internal/config"
	"eventhub-proxy/internal/metrics"
	"eventhub-proxy/internal/model"
)

// Outbound is a single request to the upstream.
type Outbound struct {
	Method string
	URL    string
	Header http.Header
	// Body is streamed as-is; nil sends none.
	Body io.Reader
	// ContentLength is the body size, or -1 when unknown. Zero sends no body.
	ContentLength int64
}

// UpstreamClient owns the pooled transport to the upstream origin.
type UpstreamClient struct {
	http    *http.Client
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewUpstreamClient builds the client from the [upstream] config section.
// m may be nil.
//
// Transparent compression is off: the client's own Accept-Encoding decides
// what the upstream sends, and Content-Encoding and Content-Length are
// relayed as the upstream wrote them.
func NewUpstreamClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *UpstreamClient {
	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	return &UpstreamClient{
		http: &http.Client{
			Timeout: time.Duration(cfg.Upstream.TimeoutSeconds) * time.Second,
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				DialContext:         dialer.DialContext,
				DisableCompression:  true,
				ForceAttemptHTTP2:   true,
				MaxIdleConns:        cfg.Upstream.IdleConnections,
				MaxIdleConnsPerHost: cfg.Upstream.IdleConnections,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		logger:  logger.With("component", "upstream_client"),
		metrics: m,
	}
}

// Send performs out under ctx, which also bounds reading the response body.
// The caller closes the returned body.
//
// When the call fails because the inbound body could not be read, the
// returned error wraps a *RequestBodyError holding the reader's error.
func (c *UpstreamClient) Send(ctx context.Context, out Outbound) (*model.ProxyResponse, error) {
	var watcher *bodyWatcher
	var body io.Reader
	if out.Body != nil && out.ContentLength != 0 {
		watcher = &bodyWatcher{r: out.Body}
		body = watcher
	}

	req, err := http.NewRequestWithContext(ctx, out.Method, out.URL, body)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header = out.Header
	if body != nil {
		req.ContentLength = out.ContentLength
	}

	start := time.Now()
	resp, err := c.http.Do(req) //nolint:bodyclose // returned to the caller
	elapsed := time.Since(start)

	if err != nil {
		if bodyErr := watcher.failure(); bodyErr != nil {
			err = &RequestBodyError{Err: bodyErr}
		}
		failure := Classify(err)
		c.metrics.ObserveUpstreamFailure(out.Method, string(failure), elapsed)
		c.logger.Debug("upstream call failed",
			"method", out.Method,
			"failure", failure,
			"elapsed", elapsed,
		)
		return nil, fmt.Errorf("upstream %s: %w", out.Method, err)
	}

	c.metrics.ObserveUpstream(out.Method, resp.StatusCode, elapsed)
	c.logger.Debug("upstream responded",
		"method", out.Method,
		"status", resp.StatusCode,
		"elapsed", elapsed,
	)

	return &model.ProxyResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       resp.Body,
	}, nil
}
