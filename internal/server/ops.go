package server

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/mohammad-safakhou/rmri/internal/orchestrator"
	"github.com/mohammad-safakhou/rmri/internal/queue/streams"
	"github.com/mohammad-safakhou/rmri/provider"
)

// OpsHandler exposes process health, queue and provider endpoints.
type OpsHandler struct {
	orch      Orchestrator
	providers ProviderHealth
	eventLag  func(ctx context.Context, group string) (streams.LagMetrics, error)
}

func (h *OpsHandler) Register(g *echo.Group) {
	g.GET("/health", h.health)
	g.GET("/queues", h.queues)
	g.GET("/providers/health", h.providerHealth)
	g.POST("/providers/:name/reset", h.resetProvider)
}

func (h *OpsHandler) health(c echo.Context) error {
	return c.JSON(http.StatusOK, h.orch.HealthCheck())
}

type queuesResponse struct {
	Tiers  map[string]orchestrator.QueueStats `json:"tiers"`
	Events *streams.LagMetrics                `json:"events,omitempty"`
	Error  string                             `json:"events_error,omitempty"`
}

// queues reports the tier queues and, with Redis, the event stream lag of ?group= (default watchers).
func (h *OpsHandler) queues(c echo.Context) error {
	resp := queuesResponse{Tiers: h.orch.QueueStats()}
	if h.eventLag != nil {
		group := c.QueryParam("group")
		if group == "" {
			group = "watchers"
		}
		ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()
		lag, err := h.eventLag(ctx, group)
		if err != nil {
			resp.Error = err.Error()
		} else {
			resp.Events = &lag
		}
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *OpsHandler) providerHealth(c echo.Context) error {
	if h.providers == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "provider health unavailable")
	}
	return c.JSON(http.StatusOK, h.providers.Snapshot())
}

func (h *OpsHandler) resetProvider(c echo.Context) error {
	if h.providers == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "provider health unavailable")
	}
	client, ok := provider.ParseClient(c.Param("name"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "unknown provider "+c.Param("name"))
	}
	h.providers.Reset(client)
	return c.NoContent(http.StatusNoContent)
}
