// Package relay implements the streaming half of the market relay.
//
// A Router inspects each websocket upgrade request. Requests whose raw URI
// starts with an allowed prefix are upgraded and handed to a new Pair; all
// others have their transport closed without a response.
//
// A Pair owns exactly two connections: the inbound connection to the client
// and the outbound connection it dials to the upstream stream endpoint. It
// forwards messages in both directions and, as soon as either side closes or
// fails, closes the other. Its lifecycle is a small state machine:
//
//	CONNECTING --OutboundOpen--> ACTIVE
//	CONNECTING/ACTIVE --any close, error or shutdown--> CLOSING
//	CLOSING --teardown--> CLOSED
//
// Live pairs are tracked by a Registry so that the process can close them
// all on shutdown.
package relay
