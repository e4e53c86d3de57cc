package relay

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// closeWriteWait bounds how long teardown waits to send a close frame.
const closeWriteWait = time.Second

// endpoint is one side of a pair. Once closed it stays closed, and a
// connection attached after that is refused.
type endpoint struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

func newEndpoint(conn *websocket.Conn) *endpoint {
	return &endpoint{conn: conn}
}

// attach sets the connection. It reports false if the endpoint was already
// closed, in which case the caller still owns conn.
func (e *endpoint) attach(conn *websocket.Conn) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return false
	}
	e.conn = conn
	return true
}

// get returns the connection if it is attached and open, nil otherwise.
func (e *endpoint) get() *websocket.Conn {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	return e.conn
}

// close sends a normal closure frame and closes the transport. Only the
// first call does anything.
func (e *endpoint) close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	conn := e.conn
	e.mu.Unlock()

	if conn == nil {
		return
	}
	// WriteControl and Close are safe to call concurrently with a writer.
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWriteWait))
	_ = conn.Close()
}

// classify maps a read error to the matching close or error event.
func classify(err error, closed, failed Event) Event {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return closed
	}
	return failed
}
