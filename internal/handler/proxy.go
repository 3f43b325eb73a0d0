package handler

import (
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"eventhub-proxy/internal/client"
	"eventhub-proxy/internal/model"
	"eventhub-proxy/internal/service"
)

// ProxyHandler forwards browser requests to the upstream API and relays the response.
type ProxyHandler struct {
	service *service.ProxyService
	logger  *slog.Logger
}

// NewProxyHandler creates a ProxyHandler.
func NewProxyHandler(svc *service.ProxyService, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		service: svc,
		logger:  logger.With("component", "proxy_handler"),
	}
}

// HandleAPI serves the API mount: any method, forwarded below the upstream API prefix.
func (h *ProxyHandler) HandleAPI(c echo.Context) error {
	return h.dispatch(c, h.service.APIRoute(), true)
}

// HandleStatic serves the media mount: GET and HEAD only, forwarded to the
// upstream origin root.
func (h *ProxyHandler) HandleStatic(c echo.Context) error {
	return h.dispatch(c, h.service.StaticRoute(), false)
}

func (h *ProxyHandler) dispatch(c echo.Context, route model.Route, acceptBody bool) error {
	switch model.ClassifyMethod(c.Request().Method) {
	case model.MethodPreflight:
		// CORS headers are already set by middleware; the upstream is not contacted.
		return c.NoContent(http.StatusOK)
	case model.MethodWithBody:
		if !acceptBody {
			c.Response().Header().Set(echo.HeaderAllow, "GET, HEAD, OPTIONS")
			return c.JSON(http.StatusMethodNotAllowed, ErrorResponse{
				Error:   methodNotAllowedKind,
				Message: "method not allowed on " + route.Mount,
			})
		}
	}
	return h.forward(c, route)
}

func (h *ProxyHandler) forward(c echo.Context, route model.Route) error {
	req := c.Request()

	pr := &model.ProxyRequest{
		Ctx:           req.Context(),
		Method:        req.Method,
		Target:        requestTarget(req),
		Header:        req.Header,
		Body:          req.Body,
		ContentLength: req.ContentLength,
	}

	resp, err := h.service.Forward(pr, route)
	if err != nil {
		h.logger.Error("proxy error",
			"err", err,
			"failure", client.Classify(err),
			"method", req.Method,
			"path", req.URL.Path,
		)
		return writeForwardError(c, err)
	}
	defer func() { _ = resp.Body.Close() }()

	for key, vals := range resp.Header {
		for _, v := range vals {
			c.Response().Header().Add(key, v)
		}
	}

	c.Response().WriteHeader(resp.StatusCode)

	// Once the status is sent a mid-stream failure can only truncate the
	// body; it is logged rather than reported.
	if _, err := io.Copy(c.Response(), resp.Body); err != nil {
		h.logger.Error("streaming response body",
			"err", err,
			"path", req.URL.Path,
		)
	}

	return nil
}

// requestTarget returns the path and query exactly as the client sent them.
func requestTarget(req *http.Request) string {
	if strings.HasPrefix(req.RequestURI, "/") {
		return req.RequestURI
	}
	return req.URL.RequestURI()
}
