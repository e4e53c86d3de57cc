package relay

import (
	"unicode/utf8"

	"golang.org/x/text/encoding/unicode"

	"market-relay-go/internal/model"
)

// textPayload returns the payload to send to the client as a text frame.
// Binary payloads are decoded as UTF-8 with invalid sequences replaced by
// U+FFFD; text payloads are returned untouched.
func textPayload(msg model.Message) []byte {
	if !msg.Binary || utf8.Valid(msg.Data) {
		return msg.Data
	}
	// The decoder replaces invalid sequences and never fails.
	out, _ := unicode.UTF8.NewDecoder().Bytes(msg.Data)
	return out
}
