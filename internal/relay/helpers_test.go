package relay

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"market-relay-go/internal/config"
	"market-relay-go/internal/metrics"
)

const testTimeout = 5 * time.Second

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// wsDialer dials base+suffix with the default gorilla dialer.
type wsDialer struct {
	base string
}

func (d wsDialer) Dial(ctx context.Context, suffix string) (*websocket.Conn, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, d.base+suffix, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, err
}

// gatedDialer holds every dial until gate is closed.
type gatedDialer struct {
	gate chan struct{}
	next Dialer
}

func (d gatedDialer) Dial(ctx context.Context, suffix string) (*websocket.Conn, error) {
	select {
	case <-d.gate:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return d.next.Dial(ctx, suffix)
}

// upstreamServer is a websocket server standing in for the exchange. Every
// accepted connection and its request URI are published on the channels.
type upstreamServer struct {
	*httptest.Server
	conns chan *websocket.Conn
	uris  chan string
}

func newUpstream(t *testing.T) *upstreamServer {
	t.Helper()
	u := &upstreamServer{
		conns: make(chan *websocket.Conn, 8),
		uris:  make(chan string, 8),
	}
	upgrader := websocket.Upgrader{}
	u.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		u.uris <- r.RequestURI
		u.conns <- conn
	}))
	t.Cleanup(u.Close)
	return u
}

// accept waits for the next upstream connection.
func (u *upstreamServer) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-u.conns:
		t.Cleanup(func() { _ = conn.Close() })
		_ = conn.SetReadDeadline(time.Now().Add(testTimeout))
		return conn
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for upstream connection")
		return nil
	}
}

type harness struct {
	upstream *upstreamServer
	registry *Registry
	metrics  *metrics.Metrics
	relay    *httptest.Server
}

// newHarness starts an upstream and a relay in front of it. wrap, if not
// nil, decorates the dialer used by the relay.
func newHarness(t *testing.T, cfg *config.Config, wrap func(Dialer) Dialer) *harness {
	t.Helper()
	if cfg == nil {
		cfg = &config.Config{}
	}
	up := newUpstream(t)
	var dialer Dialer = wsDialer{base: wsURL(up.Server)}
	if wrap != nil {
		dialer = wrap(dialer)
	}

	m := metrics.New()
	reg := NewRegistry(m)
	rt := NewRouter(cfg, dialer, reg, discardLogger(), m)
	srv := httptest.NewServer(rt)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
		defer cancel()
		if err := reg.Shutdown(ctx); err != nil {
			t.Errorf("registry shutdown: %v", err)
		}
		srv.Close()
	})

	return &harness{upstream: up, registry: reg, metrics: m, relay: srv}
}

// connect opens a client connection to the relay at path.
func (h *harness) connect(t *testing.T, path string) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(h.relay)+path, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("dial relay %s: %v", path, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	_ = conn.SetReadDeadline(time.Now().Add(testTimeout))
	return conn
}

// eventually polls cond until it holds or the test timeout passes.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(testTimeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// counterValue returns the value of a counter or gauge in m, matching labels.
func counterValue(t *testing.T, m *metrics.Metrics, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
	next:
		for _, metric := range f.GetMetric() {
			for _, lp := range metric.GetLabel() {
				if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
					continue next
				}
			}
			if c := metric.GetCounter(); c != nil {
				return c.GetValue()
			}
			return metric.GetGauge().GetValue()
		}
	}
	return 0
}

// expectText reads one message from conn and checks it is a text frame with want.
func expectText(t *testing.T, conn *websocket.Conn, want string) {
	t.Helper()
	mt, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage() error = %v, want %q", err, want)
	}
	if mt != websocket.TextMessage {
		t.Errorf("message type = %d, want text (%d)", mt, websocket.TextMessage)
	}
	if string(data) != want {
		t.Errorf("message = %q, want %q", data, want)
	}
}

// expectClosed reads from conn until an error and fails if data arrives first.
func expectClosed(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(testTimeout))
	_, data, err := conn.ReadMessage()
	if err == nil {
		t.Fatalf("ReadMessage() = %q, want connection closed", data)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		t.Fatalf("ReadMessage() timed out; connection was not closed")
	}
}
