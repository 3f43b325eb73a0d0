package service

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"eventhub-proxy/internal/client"
	"eventhub-proxy/internal/model"
)

// checkBodyLimit caps how much of the upstream body a check reports.
const checkBodyLimit = 4 << 10

// CheckUpstream issues a GET to upstreamPath below the upstream API prefix and
// summarizes the raw response. It exists for operators checking connectivity
// and is not part of the forwarding path.
func (s *ProxyService) CheckUpstream(ctx context.Context, upstreamPath string) (*model.UpstreamCheck, error) {
	target := s.baseURL + s.api.UpstreamPrefix + upstreamPath

	start := time.Now()
	resp, err := s.client.Send(ctx, client.Outbound{
		Method: http.MethodGet,
		URL:    target,
		Header: http.Header{"Accept": {"application/json"}},
	})
	if err != nil {
		return nil, fmt.Errorf("check upstream: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, checkBodyLimit+1))
	if err != nil {
		return nil, fmt.Errorf("check upstream: read body: %w", err)
	}

	result := &model.UpstreamCheck{
		UpstreamPath:   upstreamPath,
		UpstreamStatus: resp.StatusCode,
		ContentType:    resp.Header.Get("Content-Type"),
		DurationMillis: time.Since(start).Milliseconds(),
	}
	if len(body) > checkBodyLimit {
		body = body[:checkBodyLimit]
		result.Truncated = true
	}
	result.Body = string(body)

	return result, nil
}
