// Package service implements the REST forwarding logic.
package service

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"market-relay-go/internal/client"
	"market-relay-go/internal/config"
	"market-relay-go/internal/model"
)

// Errors from the REST client, re-exported for callers of Forward.
var (
	ErrNotJSON          = client.ErrNotJSON
	ErrResponseTooLarge = client.ErrResponseTooLarge
)

// allowedUpstreamHosts restricts which hosts the relay will forward to.
var allowedUpstreamHosts = map[string]bool{
	"api.binance.com":         true,
	"api1.binance.com":        true,
	"api2.binance.com":        true,
	"api3.binance.com":        true,
	"api4.binance.com":        true,
	"api-gcp.binance.com":     true,
	"data-api.binance.vision": true,
	"testnet.binance.vision":  true,
}

const (
	userAgent   = "market-relay-go/1.0"
	contentType = "application/json"
)

// ProxyService handles the forwarding logic for REST requests.
type ProxyService struct {
	client  *client.RESTClient
	logger  *slog.Logger
	baseURL string
}

// NewProxyService creates a ProxyService.
func NewProxyService(c *client.RESTClient, cfg *config.Config, logger *slog.Logger) (*ProxyService, error) {
	u, err := url.Parse(cfg.Upstream.RESTBaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse upstream rest_base_url: %w", err)
	}

	if !allowedUpstreamHosts[u.Hostname()] {
		return nil, fmt.Errorf("upstream host %q is not in the allowlist", u.Hostname())
	}

	return newProxyService(c, cfg, logger), nil
}

// NewProxyServiceForTest creates a ProxyService without host allowlist validation.
// This is intended only for tests that use httptest servers on localhost.
func NewProxyServiceForTest(c *client.RESTClient, cfg *config.Config, logger *slog.Logger) (*ProxyService, error) {
	if _, err := url.Parse(cfg.Upstream.RESTBaseURL); err != nil {
		return nil, fmt.Errorf("parse upstream rest_base_url: %w", err)
	}
	return newProxyService(c, cfg, logger), nil
}

func newProxyService(c *client.RESTClient, cfg *config.Config, logger *slog.Logger) *ProxyService {
	return &ProxyService{
		client:  c,
		logger:  logger.With("component", "proxy_service"),
		baseURL: strings.TrimSuffix(cfg.Upstream.RESTBaseURL, "/"),
	}
}

// Forward sends a ProxyRequest to the upstream REST API and returns its
// status code and JSON body. The body is validated by the client but never
// re-encoded.
func (s *ProxyService) Forward(pr *model.ProxyRequest) (*model.JSONResponse, error) {
	target := s.UpstreamURL(pr.URI)

	header := make(http.Header)
	header.Set("Content-Type", contentType)
	header.Set("User-Agent", userAgent)

	s.logger.Debug("forwarding request",
		"method", pr.Method,
		"uri", pr.URI,
	)

	resp, err := s.client.Send(pr.Ctx, pr.Method, target, header, pr.Body)
	if err != nil {
		return nil, fmt.Errorf("forward to upstream: %w", err)
	}
	return resp, nil
}

// UpstreamURL returns the upstream target for the original request URI.
// The URI is appended verbatim; the query string is not re-encoded.
func (s *ProxyService) UpstreamURL(uri string) string {
	return s.baseURL + uri
}
