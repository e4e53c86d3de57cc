package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"market-relay-go/internal/config"
	"market-relay-go/internal/metrics"
	"market-relay-go/internal/middleware"
	"market-relay-go/internal/relay"
)

type testDialer struct {
	base string
}

func (d testDialer) Dial(ctx context.Context, suffix string) (*websocket.Conn, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, d.base+suffix, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, err
}

// newStreamServer starts an Echo server with the stream interceptor in
// front of the REST middleware, relaying to a websocket upstream that sends
// the request URI it saw as its first message.
func newStreamServer(t *testing.T) (*httptest.Server, *relay.Registry) {
	t.Helper()

	upgrader := websocket.Upgrader{}
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer func() { _ = conn.Close() }()
		_ = conn.WriteMessage(websocket.BinaryMessage, []byte(r.RequestURI))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(upstream.Close)

	m := metrics.New()
	registry := relay.NewRegistry(m)
	dialer := testDialer{base: "ws" + strings.TrimPrefix(upstream.URL, "http")}
	router := relay.NewRouter(&config.Config{}, dialer, registry, discardLogger(), m)

	e := echo.New()
	e.Pre(NewStreamHandler(router).Intercept)
	e.Use(middleware.SecurityHeaders())
	e.GET("/healthz", NewHealthHandler(&config.Config{}, "test", registry).Healthz)

	srv := httptest.NewServer(e)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = registry.Shutdown(ctx)
		srv.Close()
	})
	return srv, registry
}

func TestStreamHandler_RelaysUpgrade(t *testing.T) {
	srv, _ := newStreamServer(t)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/stream?streams=btcusdt@aggTrade"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer func() { _ = conn.Close() }()

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	mt, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage() error = %v", err)
	}
	if mt != websocket.TextMessage {
		t.Errorf("message type = %d, want text", mt)
	}
	if string(data) != "/stream?streams=btcusdt@aggTrade" {
		t.Errorf("upstream saw %q", data)
	}
}

func TestStreamHandler_RejectsOtherPaths(t *testing.T) {
	srv, registry := newStreamServer(t)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/healthz"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		_ = conn.Close()
		t.Fatal("Dial() succeeded for /healthz")
	}
	if resp != nil {
		_ = resp.Body.Close()
		t.Errorf("got HTTP %d, want the connection closed without a response", resp.StatusCode)
	}
	if registry.Len() != 0 {
		t.Errorf("registry has %d pairs, want 0", registry.Len())
	}
}

func TestStreamHandler_PassesPlainRequests(t *testing.T) {
	srv, _ := newStreamServer(t)

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
}
