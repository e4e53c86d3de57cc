package relay

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"market-relay-go/internal/metrics"
	"market-relay-go/internal/model"
)

// Dialer opens the outbound connection of a pair. suffix is the original
// request path and query, to be appended verbatim to the upstream base.
type Dialer interface {
	Dial(ctx context.Context, suffix string) (*websocket.Conn, error)
}

// PairOptions configures a Pair. The zero value drops client messages sent
// before the upstream is connected and applies no read limit.
type PairOptions struct {
	Logger  *slog.Logger
	Metrics *metrics.Metrics

	// PreconnectBuffer is how many client messages to hold while the
	// outbound connection is being dialed. Zero drops them.
	PreconnectBuffer int

	// ReadLimit is the largest message accepted on either connection.
	ReadLimit int64
}

// Pair relays messages between one inbound client connection and the one
// outbound upstream connection it opens. A Pair is single use.
type Pair struct {
	id     uint64
	suffix string
	dialer Dialer
	opts   PairOptions
	logger *slog.Logger

	inbound  *endpoint
	outbound *endpoint

	state   atomic.Int32
	events  chan Event
	closing chan struct{}
	done    chan struct{}
	started atomic.Bool

	// mu serializes writes to the outbound connection and guards ready and pending.
	mu      sync.Mutex
	ready   bool
	pending []model.Message

	dropLog rate.Sometimes
	wg      sync.WaitGroup
}

// NewPair creates a pair around an upgraded inbound connection. The pair
// takes ownership of inbound; nothing else may read from or write to it.
func NewPair(id uint64, inbound *websocket.Conn, suffix string, dialer Dialer, opts PairOptions) *Pair {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.ReadLimit > 0 {
		inbound.SetReadLimit(opts.ReadLimit)
	}
	return &Pair{
		id:       id,
		suffix:   suffix,
		dialer:   dialer,
		opts:     opts,
		logger:   logger.With("component", "relay_pair", "pair_id", id, "suffix", suffix),
		inbound:  newEndpoint(inbound),
		outbound: newEndpoint(nil),
		events:   make(chan Event, 8),
		closing:  make(chan struct{}),
		done:     make(chan struct{}),
		dropLog:  rate.Sometimes{Interval: time.Second},
	}
}

// ID returns the pair's identifier.
func (p *Pair) ID() uint64 { return p.id }

// State returns the current lifecycle state.
func (p *Pair) State() State { return State(p.state.Load()) }

// Done is closed once both connections are closed and all of the pair's
// goroutines have exited.
func (p *Pair) Done() <-chan struct{} { return p.done }

// Close asks the pair to tear down. It does not wait; use Done for that.
func (p *Pair) Close() { p.emit(EventShutdown) }

// Run dials the upstream and forwards messages until either side closes or
// fails, or ctx is canceled. Connection errors end the pair; they are never
// returned. Run must be called exactly once.
func (p *Pair) Run(ctx context.Context) {
	if !p.started.CompareAndSwap(false, true) {
		panic("relay: Pair.Run called twice")
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p.logger.Debug("pair created")

	// Forwarding from the client is armed before the upstream is connected.
	p.wg.Add(2)
	go p.readInbound()
	go p.connect(ctx)

	for p.State() < StateClosing {
		var ev Event
		select {
		case ev = <-p.events:
		case <-ctx.Done():
			ev = EventShutdown
		}
		p.apply(ev)
	}
	close(p.closing)

	cancel()
	p.teardown()
	p.wg.Wait()
	p.setState(StateClosed)
	close(p.done)
	p.logger.Debug("pair closed")
}

// apply runs the transition function for ev.
func (p *Pair) apply(ev Event) {
	from := p.State()
	to := transition(from, ev)
	if to == from {
		return
	}
	p.setState(to)
	p.logger.Debug("pair state changed", "from", from, "to", to, "event", ev)
}

func (p *Pair) setState(s State) { p.state.Store(int32(s)) }

// emit delivers ev to the state machine unless the pair is already closing.
func (p *Pair) emit(ev Event) {
	select {
	case p.events <- ev:
	case <-p.closing:
	}
}

// teardown closes whichever connections are still open.
func (p *Pair) teardown() {
	p.inbound.close()
	p.outbound.close()
}

// connect dials the upstream. A failed dial is reported as an event like
// any later error.
func (p *Pair) connect(ctx context.Context) {
	defer p.wg.Done()

	conn, err := p.dialer.Dial(ctx, p.suffix)
	if err != nil {
		p.logger.Warn("upstream dial failed", "err", err)
		p.emit(EventOutboundFailed)
		return
	}
	if !p.outbound.attach(conn) {
		// Torn down while dialing.
		_ = conn.Close()
		return
	}
	if p.opts.ReadLimit > 0 {
		conn.SetReadLimit(p.opts.ReadLimit)
	}

	p.mu.Lock()
	for _, msg := range p.pending {
		if err := conn.WriteMessage(frameType(msg), msg.Data); err != nil {
			p.mu.Unlock()
			p.logger.Debug("flushing buffered messages failed", "err", err)
			p.emit(EventOutboundError)
			return
		}
		p.forwarded(metrics.DirectionUpstream)
	}
	p.pending = nil
	p.ready = true
	p.mu.Unlock()

	p.emit(EventOutboundOpen)

	p.wg.Add(1)
	go p.readOutbound(conn)
}

// readInbound forwards client messages to the upstream until the client
// connection fails.
func (p *Pair) readInbound() {
	defer p.wg.Done()

	// The inbound connection is fixed at construction; reading it after
	// teardown just returns an error.
	conn := p.inbound.conn
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			ev := classify(err, EventInboundClosed, EventInboundError)
			p.logger.Debug("inbound read ended", "event", ev, "err", err)
			p.emit(ev)
			return
		}
		p.sendUpstream(model.Message{Data: data, Binary: mt == websocket.BinaryMessage})
	}
}

// sendUpstream writes msg to the outbound connection if it is open. Before
// the outbound is ready, msg is buffered if there is room, else dropped.
func (p *Pair) sendUpstream(msg model.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.ready {
		if len(p.pending) < p.opts.PreconnectBuffer && p.State() == StateConnecting {
			p.pending = append(p.pending, msg)
			return
		}
		p.dropped(metrics.DirectionUpstream)
		return
	}

	conn := p.outbound.get()
	if conn == nil {
		p.dropped(metrics.DirectionUpstream)
		return
	}
	if err := conn.WriteMessage(frameType(msg), msg.Data); err != nil {
		p.logger.Debug("outbound write failed", "err", err)
		p.emit(EventOutboundError)
		return
	}
	p.forwarded(metrics.DirectionUpstream)
}

// readOutbound forwards upstream messages to the client as text frames until
// the upstream connection fails. It is the only writer of the inbound
// connection.
func (p *Pair) readOutbound(conn *websocket.Conn) {
	defer p.wg.Done()

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			ev := classify(err, EventOutboundClosed, EventOutboundError)
			p.logger.Debug("outbound read ended", "event", ev, "err", err)
			p.emit(ev)
			return
		}

		in := p.inbound.get()
		if in == nil {
			p.dropped(metrics.DirectionDownstream)
			continue
		}
		payload := textPayload(model.Message{Data: data, Binary: mt == websocket.BinaryMessage})
		if err := in.WriteMessage(websocket.TextMessage, payload); err != nil {
			p.logger.Debug("inbound write failed", "err", err)
			p.emit(EventInboundError)
			continue
		}
		p.forwarded(metrics.DirectionDownstream)
	}
}

func frameType(msg model.Message) int {
	if msg.Binary {
		return websocket.BinaryMessage
	}
	return websocket.TextMessage
}

func (p *Pair) forwarded(direction string) {
	if p.opts.Metrics != nil {
		p.opts.Metrics.MessagesForwarded.WithLabelValues(direction).Inc()
	}
}

func (p *Pair) dropped(direction string) {
	if p.opts.Metrics != nil {
		p.opts.Metrics.MessagesDropped.WithLabelValues(direction).Inc()
	}
	p.dropLog.Do(func() {
		p.logger.Debug("dropping message, peer not open", "direction", direction)
	})
}
