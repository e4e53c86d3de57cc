package model

// Message is an opaque websocket payload. Binary records whether the frame
// arrived as a binary frame; it is only consulted when deciding whether the
// payload must be normalized to text.
type Message struct {
	Data   []byte
	Binary bool
}
