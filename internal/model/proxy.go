// Package model defines shared types for the proxy.
package model

import (
	"context"
	"io"
	"net/http"
)

// ProxyRequest represents a client request to be forwarded upstream.
type ProxyRequest struct {
	Ctx    context.Context
	Method string
	// Target is the raw request target (escaped path plus optional "?query")
	// exactly as the client sent it, mount prefix included.
	Target        string
	Header        http.Header
	Body          io.ReadCloser
	ContentLength int64
}

// ProxyResponse represents the upstream response to be streamed back.
type ProxyResponse struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}

// Route maps a local mount prefix onto a path prefix on the upstream origin.
type Route struct {
	Mount          string
	UpstreamPrefix string
}

// MethodClass groups HTTP methods by how the proxy treats them.
type MethodClass int

const (
	// MethodPreflight is a CORS preflight; answered locally.
	MethodPreflight MethodClass = iota
	// MethodBodiless is forwarded without a request body.
	MethodBodiless
	// MethodWithBody is forwarded with the inbound body.
	MethodWithBody
)

// ClassifyMethod returns the MethodClass for an HTTP method.
func ClassifyMethod(method string) MethodClass {
	switch method {
	case http.MethodOptions:
		return MethodPreflight
	case http.MethodGet, http.MethodHead:
		return MethodBodiless
	default:
		return MethodWithBody
	}
}

func (m MethodClass) String() string {
	switch m {
	case MethodPreflight:
		return "preflight"
	case MethodBodiless:
		return "bodiless"
	case MethodWithBody:
		return "with_body"
	default:
		return "unknown"
	}
}

// UpstreamCheck summarizes a diagnostic upstream call.
type UpstreamCheck struct {
	UpstreamPath   string `json:"upstream_path"`
	UpstreamStatus int    `json:"upstream_status"`
	ContentType    string `json:"content_type"`
	DurationMillis int64  `json:"duration_ms"`
	Body           string `json:"body"`
	Truncated      bool   `json:"truncated"`
}
