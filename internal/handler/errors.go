package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"eventhub-proxy/internal/client"
)

// Values of ErrorResponse.Error.
const (
	proxyErrorKind       = "ProxyError"
	methodNotAllowedKind = "MethodNotAllowed"
)

// ErrorResponse is the body of every error the proxy produces itself.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// failureMessages never mention the upstream address.
var failureMessages = map[client.Failure]string{
	client.FailureTimeout:     "upstream request timed out",
	client.FailureCanceled:    "client disconnected",
	client.FailureDNS:         "upstream host unreachable",
	client.FailureConnect:     "upstream connection failed",
	client.FailureRequestBody: "request body could not be read",
}

func failureReason(err error) string {
	if msg, ok := failureMessages[client.Classify(err)]; ok {
		return msg
	}
	return "upstream request failed"
}

// writeForwardError answers a forward that produced no upstream response.
// An *echo.HTTPError raised while the inbound body was streaming (the body
// limit) is handed back to Echo with its own status; every other failure is
// the 500 ProxyError payload.
func writeForwardError(c echo.Context, err error) error {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he
	}
	return writeProxyError(c, err)
}

func writeProxyError(c echo.Context, err error) error {
	return c.JSON(http.StatusInternalServerError, ErrorResponse{
		Error:   proxyErrorKind,
		Message: failureReason(err),
	})
}
