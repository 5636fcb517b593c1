package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/mohammad-safakhou/rmri/internal/artifact"
	"github.com/mohammad-safakhou/rmri/internal/llm"
	"github.com/mohammad-safakhou/rmri/internal/orchestrator"
	"github.com/mohammad-safakhou/rmri/internal/queue/streams"
	"github.com/mohammad-safakhou/rmri/internal/runtime"
	"github.com/mohammad-safakhou/rmri/internal/store"
	"github.com/mohammad-safakhou/rmri/provider"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Orchestrator is the part of *orchestrator.Orchestrator the API serves.
type Orchestrator interface {
	Start(ctx context.Context, req orchestrator.StartRequest) (string, error)
	Status(ctx context.Context, runID string) (orchestrator.RunStatus, error)
	Cancel(runID string) error
	HealthCheck() orchestrator.Health
	QueueStats() map[string]orchestrator.QueueStats
}

// ProviderHealth is satisfied by *llm.HealthRegistry.
type ProviderHealth interface {
	Snapshot() []llm.ProviderHealth
	Reset(c provider.Client)
}

// Deps are the handlers' collaborators. Metrics and EventLag are optional.
type Deps struct {
	Orchestrator Orchestrator
	Store        store.Store
	Artifacts    artifact.Store
	Providers    ProviderHealth
	Metrics      http.Handler
	EventLag     func(ctx context.Context, group string) (streams.LagMetrics, error)
	MetricsPath  string
}

// New builds the echo instance with every route mounted.
func New(d Deps) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	metricsHandler := d.Metrics
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}
	path := d.MetricsPath
	if path == "" {
		path = "/metrics"
	}
	e.GET(path, echo.WrapHandler(metricsHandler))

	api := e.Group("/api")
	rh := &RunsHandler{orch: d.Orchestrator, store: d.Store, artifacts: d.Artifacts}
	rh.Register(api.Group("/runs"))
	oh := &OpsHandler{orch: d.Orchestrator, providers: d.Providers, eventLag: d.EventLag}
	oh.Register(api)
	return e
}

// Run serves the API for svc until ctx is cancelled, then shuts down gracefully.
func Run(ctx context.Context, svc *runtime.Service, addr string) error {
	if addr == "" {
		addr = svc.Config.Server.Address
	}
	if addr == "" {
		addr = ":10002"
	}
	e := New(Deps{
		Orchestrator: svc.Orchestrator,
		Store:        svc.Store,
		Artifacts:    svc.Artifacts,
		Providers:    svc.Caller.Health(),
		Metrics:      svc.Metrics.Handler(),
		EventLag:     lagFunc(svc),
		MetricsPath:  svc.Config.Telemetry.MetricsPath,
	})

	errCh := make(chan error, 1)
	go func() {
		log.Printf("listening on %s", addr)
		errCh <- e.Start(addr)
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}

func lagFunc(svc *runtime.Service) func(context.Context, string) (streams.LagMetrics, error) {
	if svc.Redis == nil {
		return nil
	}
	return svc.EventLag
}
