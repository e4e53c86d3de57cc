package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"regexp"

	"github.com/labstack/echo/v4"

	"market-relay-go/internal/model"
	"market-relay-go/internal/service"
)

// signaturePattern matches signed-request signatures in URLs embedded in error messages.
var signaturePattern = regexp.MustCompile(`(?i)(signature=)[^&\s"]+`)

// proxyErrorLabel is the fixed error value of every REST forwarding failure.
const proxyErrorLabel = "Proxy Error"

// ProxyHandler forwards REST requests to the exchange API.
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

// Handle forwards the request path and query verbatim and replies with the
// upstream status and JSON body.
func (h *ProxyHandler) Handle(c echo.Context) error {
	req := c.Request()

	var body io.Reader
	if req.ContentLength != 0 {
		body = req.Body
	}

	pr := &model.ProxyRequest{
		Ctx:    req.Context(),
		Method: req.Method,
		URI:    req.RequestURI,
		Body:   body,
	}
	if pr.URI == "" {
		pr.URI = req.URL.RequestURI()
	}

	resp, err := h.service.Forward(pr)
	if err != nil {
		return h.mapError(c, err)
	}
	return c.JSONBlob(resp.StatusCode, resp.Body)
}

func (h *ProxyHandler) mapError(c echo.Context, err error) error {
	details := describeError(err) + ": " + sanitizeError(err)
	h.logger.Error("proxy error",
		"err", sanitizeError(err),
		"path", c.Request().URL.Path,
	)

	return c.JSON(http.StatusInternalServerError, map[string]string{
		"error":   proxyErrorLabel,
		"details": details,
	})
}

// describeError names the kind of failure for the client.
func describeError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "upstream request timed out"
	}

	if errors.Is(err, context.Canceled) {
		return "client disconnected"
	}

	if errors.Is(err, service.ErrNotJSON) {
		return "upstream returned a non-JSON body"
	}

	if errors.Is(err, service.ErrResponseTooLarge) {
		return "upstream response too large"
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return "upstream host unreachable"
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return "upstream connection failed"
	}

	return "upstream request failed"
}

// sanitizeError redacts request signatures from error messages that may contain upstream URLs.
func sanitizeError(err error) string {
	return signaturePattern.ReplaceAllString(err.Error(), "${1}[REDACTED]")
}
