package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/mohammad-safakhou/rmri/internal/artifact"
	"github.com/mohammad-safakhou/rmri/internal/orchestrator"
	"github.com/mohammad-safakhou/rmri/internal/store"
)

type RunsHandler struct {
	orch      Orchestrator
	store     store.Store
	artifacts artifact.Store
}

func (h *RunsHandler) Register(g *echo.Group) {
	g.POST("", h.start)
	g.GET("", h.list)
	g.GET("/:id", h.status)
	g.POST("/:id/cancel", h.cancel)
	g.GET("/:id/report", h.report)
	g.GET("/:id/artifacts", h.listArtifacts)
	g.GET("/:id/artifacts/:agent/:key", h.readArtifact)
}

type startResponse struct {
	RunID  string `json:"run_id"`
	Status string `json:"status"`
}

// start launches a run and returns immediately.
//
//	@Summary	Start a run
//	@Tags		runs
//	@Accept		json
//	@Produce	json
//	@Success	202	{object}	startResponse
//	@Router		/api/runs [post]
func (h *RunsHandler) start(c echo.Context) error {
	var req orchestrator.StartRequest
	if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body: "+err.Error())
	}
	id, err := h.orch.Start(c.Request().Context(), req)
	if err != nil {
		return runError(err)
	}
	return c.JSON(http.StatusAccepted, startResponse{RunID: id, Status: string(orchestrator.StateInitializing)})
}

func (h *RunsHandler) list(c echo.Context) error {
	var statuses []string
	if raw := strings.TrimSpace(c.QueryParam("status")); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			if s = strings.TrimSpace(s); s != "" {
				statuses = append(statuses, s)
			}
		}
	}
	limit := 50
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = n
	}
	runs, err := h.store.ListRuns(c.Request().Context(), statuses, limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if runs == nil {
		runs = []store.Run{}
	}
	return c.JSON(http.StatusOK, runs)
}

func (h *RunsHandler) status(c echo.Context) error {
	st, err := h.orch.Status(c.Request().Context(), c.Param("id"))
	if err != nil {
		return runError(err)
	}
	return c.JSON(http.StatusOK, st)
}

func (h *RunsHandler) cancel(c echo.Context) error {
	id := c.Param("id")
	if err := h.orch.Cancel(id); err != nil {
		return runError(err)
	}
	return c.JSON(http.StatusAccepted, startResponse{RunID: id, Status: "cancelling"})
}

// report returns the final report once the run completed.
func (h *RunsHandler) report(c echo.Context) error {
	rec, err := h.store.GetRun(c.Request().Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "run not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if len(rec.FinalReport) == 0 {
		return echo.NewHTTPError(http.StatusNotFound, "report not available; run is "+rec.Status)
	}
	return c.JSONBlob(http.StatusOK, rec.FinalReport)
}

func (h *RunsHandler) listArtifacts(c echo.Context) error {
	infos, err := h.artifacts.List(c.Request().Context(), c.Param("id"), c.QueryParam("agent"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if infos == nil {
		infos = []artifact.Info{}
	}
	return c.JSON(http.StatusOK, infos)
}

func (h *RunsHandler) readArtifact(c echo.Context) error {
	req := artifact.ReadRequest{
		RunID:       c.Param("id"),
		AgentID:     c.Param("agent"),
		Key:         c.Param("key"),
		SummaryOnly: c.QueryParam("summary") == "true",
	}
	if raw := c.QueryParam("version"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "version must be a positive integer")
		}
		req.Version = &v
	}
	content, err := h.artifacts.Read(c.Request().Context(), req)
	if errors.Is(err, artifact.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, content)
}

// runError maps orchestrator errors onto HTTP status codes.
func runError(err error) error {
	var ve *orchestrator.ValidationError
	switch {
	case errors.As(err, &ve), errors.Is(err, orchestrator.ErrInvalidConfig):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, orchestrator.ErrRunNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, orchestrator.ErrRunExists), errors.Is(err, orchestrator.ErrRunNotActive):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}
