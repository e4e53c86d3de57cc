package relay

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"market-relay-go/internal/config"
	"market-relay-go/internal/metrics"
)

// Descriptor is what the router knows about an upgrade request when deciding
// whether to relay it.
type Descriptor struct {
	// Path is the request path and query exactly as the client sent them.
	Path     string
	Eligible bool
}

// Router accepts or rejects websocket upgrade requests. Accepted requests
// become pairs; rejected ones have their transport closed.
type Router struct {
	prefixes []string
	upgrader websocket.Upgrader
	dialer   Dialer
	registry *Registry
	opts     PairOptions
	logger   *slog.Logger
	metrics  *metrics.Metrics
	seq      atomic.Uint64
}

// NewRouter creates a Router for the relay prefixes in cfg. The metrics
// parameter is optional.
func NewRouter(cfg *config.Config, dialer Dialer, registry *Registry, logger *slog.Logger, m *metrics.Metrics) *Router {
	prefixes := cfg.Relay.Prefixes
	if len(prefixes) == 0 {
		prefixes = config.DefaultRelayPrefixes
	}
	return &Router{
		prefixes: prefixes,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 64 * 1024,
			// Browsers on any origin may use the relay.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		dialer:   dialer,
		registry: registry,
		opts: PairOptions{
			Logger:           logger,
			Metrics:          m,
			PreconnectBuffer: cfg.Relay.PreconnectBuffer,
			ReadLimit:        cfg.Relay.ReadLimitBytes,
		},
		logger:  logger.With("component", "relay_router"),
		metrics: m,
	}
}

// Describe builds the Descriptor for r.
func (rt *Router) Describe(r *http.Request) Descriptor {
	path := r.RequestURI
	if path == "" && r.URL != nil && r.URL.Path != "" {
		path = r.URL.RequestURI()
	}
	return Descriptor{Path: path, Eligible: rt.eligible(path)}
}

func (rt *Router) eligible(path string) bool {
	if path == "" {
		return false
	}
	for _, prefix := range rt.prefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// ServeHTTP handles one websocket upgrade request. For an accepted request it
// blocks until the resulting pair has closed.
func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	d := rt.Describe(r)
	if !d.Eligible {
		rt.reject(w, d)
		return
	}

	conn, err := rt.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already replied with an HTTP error.
		rt.logger.Debug("upgrade failed", "path", d.Path, "err", err)
		return
	}

	id := rt.seq.Add(1)
	pair := NewPair(id, conn, d.Path, rt.dialer, rt.opts)
	rt.logger.Info("relaying stream", "pair_id", id, "path", d.Path, "remote_addr", r.RemoteAddr)

	// A pair ends on connection events or registry shutdown, never on
	// request cancellation.
	if err := rt.registry.Run(context.WithoutCancel(r.Context()), pair); err != nil {
		rt.logger.Debug("pair not started", "pair_id", id, "err", err)
	}
}

// reject closes the client's transport without writing anything.
func (rt *Router) reject(w http.ResponseWriter, d Descriptor) {
	if rt.metrics != nil {
		rt.metrics.UpgradesRejected.Inc()
	}
	rt.logger.Debug("rejecting upgrade", "path", d.Path)

	conn, _, err := http.NewResponseController(w).Hijack()
	if err != nil {
		// Not hijackable (HTTP/2); abort the stream instead.
		panic(http.ErrAbortHandler)
	}
	_ = conn.Close()
}
