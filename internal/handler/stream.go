package handler

import (
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"market-relay-go/internal/relay"
)

// StreamHandler hands websocket upgrade requests to the relay router before
// Echo routing runs. Upgrades never reach the REST routes.
type StreamHandler struct {
	router *relay.Router
}

// NewStreamHandler creates a StreamHandler.
func NewStreamHandler(router *relay.Router) *StreamHandler {
	return &StreamHandler{router: router}
}

// Intercept is a pre-routing middleware. Upgrade requests for any path are
// served by the relay router; everything else continues down the chain.
func (h *StreamHandler) Intercept(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if !websocket.IsWebSocketUpgrade(c.Request()) {
			return next(c)
		}
		h.router.ServeHTTP(c.Response(), c.Request())
		return nil
	}
}
