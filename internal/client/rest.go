// Package client provides the upstream clients for the Binance REST API and
// the Binance stream endpoint.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"market-relay-go/internal/config"
	"market-relay-go/internal/metrics"
	"market-relay-go/internal/model"
)

var (
	// ErrNotJSON is returned when the upstream body does not parse as JSON.
	ErrNotJSON = errors.New("upstream response is not valid JSON")

	// ErrResponseTooLarge is returned when the upstream body exceeds upstream.response_max_bytes.
	ErrResponseTooLarge = errors.New("upstream response exceeds size limit")
)

const defaultResponseMaxBytes = 32 * 1024 * 1024

// Failure reasons recorded in the upstream failures counter.
const (
	reasonTransport = "transport"
	reasonRead      = "read"
	reasonTooLarge  = "too_large"
	reasonNotJSON   = "not_json"
)

// RESTClient sends requests to the upstream REST API and returns validated
// JSON bodies.
type RESTClient struct {
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics
	maxBytes   int64
}

// NewRESTClient creates a RESTClient with connection pooling and timeouts.
// The metrics parameter is optional; pass nil to disable upstream metrics recording.
func NewRESTClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *RESTClient {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        cfg.Upstream.IdleConnections,
		MaxIdleConnsPerHost: cfg.Upstream.IdleConnections,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	maxBytes := cfg.Upstream.ResponseMaxBytes
	if maxBytes <= 0 {
		maxBytes = defaultResponseMaxBytes
	}

	return &RESTClient{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   time.Duration(cfg.Upstream.TimeoutSeconds) * time.Second,
		},
		logger:   logger.With("component", "rest_client"),
		metrics:  m,
		maxBytes: maxBytes,
	}
}

// Send issues one request to url and returns the upstream status code with
// the raw response body, once the body is known to be JSON no larger than
// the configured limit. The context bounds the whole exchange, so a client
// disconnect cancels the upstream request.
func (c *RESTClient) Send(ctx context.Context, method, url string, header http.Header, body io.Reader) (*model.JSONResponse, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header = header

	c.logger.Debug("upstream request",
		"method", req.Method,
		"path", req.URL.Path,
	)

	label := metrics.NormalizeMethod(method)
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	c.observe(label, time.Since(start))
	if err != nil {
		c.fail(reasonTransport)
		return nil, fmt.Errorf("upstream request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if c.metrics != nil {
		c.metrics.UpstreamResponses.WithLabelValues(label, strconv.Itoa(resp.StatusCode)).Inc()
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBytes+1))
	if err != nil {
		c.fail(reasonRead)
		return nil, fmt.Errorf("read upstream body: %w", err)
	}
	if int64(len(data)) > c.maxBytes {
		c.fail(reasonTooLarge)
		return nil, fmt.Errorf("%w (%d bytes)", ErrResponseTooLarge, c.maxBytes)
	}
	if !json.Valid(data) {
		c.fail(reasonNotJSON)
		return nil, fmt.Errorf("%w (status %d, content-type %q)", ErrNotJSON, resp.StatusCode, resp.Header.Get("Content-Type"))
	}

	return &model.JSONResponse{
		StatusCode: resp.StatusCode,
		Body:       data,
	}, nil
}

func (c *RESTClient) observe(method string, d time.Duration) {
	if c.metrics != nil {
		c.metrics.UpstreamDuration.WithLabelValues(method).Observe(d.Seconds())
	}
}

func (c *RESTClient) fail(reason string) {
	if c.metrics != nil {
		c.metrics.UpstreamFailures.WithLabelValues(reason).Inc()
	}
}
