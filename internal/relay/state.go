package relay

// State is the lifecycle state of a Pair.
type State int32

const (
	StateConnecting State = iota
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Event is something that happened to one of a pair's connections.
type Event int

const (
	EventOutboundOpen Event = iota
	EventOutboundFailed
	EventOutboundClosed
	EventOutboundError
	EventInboundClosed
	EventInboundError
	EventShutdown
)

func (e Event) String() string {
	switch e {
	case EventOutboundOpen:
		return "outbound_open"
	case EventOutboundFailed:
		return "outbound_failed"
	case EventOutboundClosed:
		return "outbound_closed"
	case EventOutboundError:
		return "outbound_error"
	case EventInboundClosed:
		return "inbound_closed"
	case EventInboundError:
		return "inbound_error"
	case EventShutdown:
		return "shutdown"
	}
	return "unknown"
}

// transition returns the state reached from s on ev. Every event other than
// EventOutboundOpen ends the pair. CLOSING and CLOSED absorb all events; the
// move from CLOSING to CLOSED is made by the teardown itself.
func transition(s State, ev Event) State {
	switch s {
	case StateConnecting:
		if ev == EventOutboundOpen {
			return StateActive
		}
		return StateClosing
	case StateActive:
		if ev == EventOutboundOpen {
			return StateActive
		}
		return StateClosing
	}
	return s
}
