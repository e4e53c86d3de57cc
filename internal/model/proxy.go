// Package model defines shared types for the relay.
package model

import (
	"context"
	"io"
)

// ProxyRequest represents a client REST request to be forwarded upstream.
type ProxyRequest struct {
	Ctx    context.Context
	Method string
	// URI is the original request path and query string, unmodified.
	URI  string
	Body io.Reader
}

// JSONResponse is a validated upstream JSON payload ready to be returned verbatim.
type JSONResponse struct {
	StatusCode int
	Body       []byte
}
