package client

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"market-relay-go/internal/config"
	"market-relay-go/internal/metrics"
)

const userAgent = "market-relay-go/1.0"

// StreamDialer opens outbound websocket connections to the upstream stream
// endpoint. Every call dials a fresh connection; nothing is pooled.
type StreamDialer struct {
	baseURL string
	dialer  *websocket.Dialer
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewStreamDialer creates a StreamDialer for cfg.Upstream.StreamBaseURL.
// The metrics parameter is optional.
func NewStreamDialer(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *StreamDialer {
	return &StreamDialer{
		baseURL: cfg.Upstream.StreamBaseURL,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: time.Duration(cfg.Upstream.StreamHandshakeTimeoutSeconds) * time.Second,
			ReadBufferSize:   64 * 1024,
			WriteBufferSize:  16 * 1024,
		},
		logger:  logger.With("component", "stream_dialer"),
		metrics: m,
	}
}

// Target returns the upstream URL for suffix: the base URL followed by the
// suffix, byte for byte.
func (d *StreamDialer) Target(suffix string) string {
	return d.baseURL + suffix
}

// Dial opens a websocket connection to Target(suffix). Canceling ctx aborts
// a dial in progress.
func (d *StreamDialer) Dial(ctx context.Context, suffix string) (*websocket.Conn, error) {
	target := d.Target(suffix)

	header := make(http.Header)
	header.Set("User-Agent", userAgent)

	conn, resp, err := d.dialer.DialContext(ctx, target, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if d.metrics != nil {
			d.metrics.DialFailures.Inc()
		}
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", target, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", target, err)
	}

	d.logger.Debug("upstream stream connected", "target", target)
	return conn, nil
}
