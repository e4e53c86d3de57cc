package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"market-relay-go/internal/config"
	"market-relay-go/internal/relay"
)

// Version is a string type for dependency injection of the build version.
type Version string

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	cfg      *config.Config
	version  Version
	registry *relay.Registry
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(cfg *config.Config, v Version, registry *relay.Registry) *HealthHandler {
	return &HealthHandler{cfg: cfg, version: v, registry: registry}
}

// Healthz returns a simple OK response for liveness probes.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

type statusResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	RESTUpstream  string `json:"rest_upstream"`
	StreamUpstream string `json:"stream_upstream"`
	ActivePairs   int    `json:"active_pairs"`
}

// Status returns relay status information.
func (h *HealthHandler) Status(c echo.Context) error {
	resp := statusResponse{
		Status:        "ok",
		Version:       string(h.version),
		RESTUpstream:  h.cfg.Upstream.RESTBaseURL,
		StreamUpstream: h.cfg.Upstream.StreamBaseURL,
	}
	if h.registry != nil {
		resp.ActivePairs = h.registry.Len()
	}
	return c.JSON(http.StatusOK, resp)
}
