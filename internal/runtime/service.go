package runtime

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/mohammad-safakhou/rmri/config"
	"github.com/mohammad-safakhou/rmri/internal/artifact"
	"github.com/mohammad-safakhou/rmri/internal/llm"
	"github.com/mohammad-safakhou/rmri/internal/metrics"
	"github.com/mohammad-safakhou/rmri/internal/orchestrator"
	"github.com/mohammad-safakhou/rmri/internal/queue/streams"
	"github.com/mohammad-safakhou/rmri/internal/store"
	"github.com/redis/go-redis/v9"
)

// Service is the wired process: model layer, storage, event stream and orchestrator.
type Service struct {
	Config       *config.Config
	Caller       *llm.Caller
	Metrics      *metrics.Collectors
	Store        store.Store
	Artifacts    artifact.Store
	Orchestrator *orchestrator.Orchestrator
	Redis        *redis.Client      // nil without storage.redis
	Events       *streams.Publisher // nil without storage.redis
	EventsStream string

	telemetry *Telemetry
	closers   []func() error
	logger    *log.Logger
}

// Build assembles a Service from configuration. Postgres and Redis are optional;
// without them runs and artifacts live in memory.
func Build(ctx context.Context, cfg *config.Config, version string) (*Service, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}
	s := &Service{
		Config:       cfg,
		EventsStream: cfg.Telemetry.EventsStream,
		logger:       log.New(os.Stdout, "[RUNTIME] ", log.LstdFlags),
	}
	if s.EventsStream == "" {
		s.EventsStream = streams.DefaultStream
	}
	ok := false
	defer func() {
		if !ok {
			_ = s.Close(context.Background())
		}
	}()

	tel, err := SetupTelemetry(ctx, cfg.Telemetry, "rmri", version)
	if err != nil {
		return nil, err
	}
	s.telemetry = tel

	s.Metrics = metrics.New()
	providers, err := llm.NewProvidersFromConfig(cfg.LLM)
	if err != nil {
		return nil, err
	}
	if len(providers) == 0 {
		s.logger.Printf("warn: no llm providers configured; every run will fail at the first model call")
	}
	health := llm.NewHealthRegistry(s.Metrics.ObserveHealth)
	callerOpts := append(llm.RoutingOptions(cfg.LLM.Routing),
		llm.WithHealthRegistry(health),
		llm.WithObserver(s.Metrics),
		llm.WithMaxPromptTokens(cfg.LLM.MaxPromptTokens),
	)
	s.Caller = llm.NewCaller(providers, callerOpts...)

	if cfg.Storage.Redis.Enabled() {
		client, err := NewRedisClient(ctx, cfg.Storage.Redis)
		if err != nil {
			return nil, err
		}
		s.Redis = client
		s.closers = append(s.closers, client.Close)
	}

	if cfg.Storage.Postgres.Enabled() {
		dsn, err := BuildPostgresDSN(cfg)
		if err != nil {
			return nil, err
		}
		pg, err := store.NewPostgres(ctx, dsn)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		s.Store = pg
		s.closers = append(s.closers, pg.Close)
	} else {
		s.logger.Printf("postgres not configured; run records are kept in memory")
		s.Store = store.NewMemory()
	}

	switch cfg.Storage.Artifacts.Backend {
	case "redis":
		if s.Redis == nil {
			return nil, fmt.Errorf("artifact backend redis requires storage.redis")
		}
		s.Artifacts = artifact.NewRedis(s.Redis, artifact.WithMaxBytes(cfg.Storage.Artifacts.MaxBytes))
	default:
		s.Artifacts = artifact.NewMemory(cfg.Storage.Artifacts.MaxBytes)
	}

	opts := []orchestrator.Option{
		orchestrator.WithWorkers(orchestrator.CallerWorkers(s.Caller)),
		orchestrator.WithHealthSource(health),
		orchestrator.WithObserver(s.Metrics),
	}
	if s.Redis != nil {
		reg, err := streams.NewRunEventRegistry()
		if err != nil {
			return nil, err
		}
		s.Events = streams.NewPublisher(s.Redis, reg, 10000)
		opts = append(opts, orchestrator.WithEventSink(orchestrator.EventSinkFunc(s.publishEvent)))
	}
	s.Orchestrator = orchestrator.New(cfg.Orchestrator, s.Store, s.Artifacts, opts...)
	ok = true
	return s, nil
}

func (s *Service) publishEvent(ctx context.Context, ev orchestrator.Event) error {
	_, err := s.Events.PublishEvent(ctx, s.EventsStream, ev.Type, ev.RunID, ev)
	return err
}

// EventLag reports how far group trails the run event stream.
func (s *Service) EventLag(ctx context.Context, group string) (streams.LagMetrics, error) {
	if s.Redis == nil {
		return streams.LagMetrics{}, fmt.Errorf("event stream requires storage.redis")
	}
	return streams.GroupLag(ctx, s.Redis, s.EventsStream, group)
}

// Close releases connections in reverse order and flushes telemetry.
func (s *Service) Close(ctx context.Context) error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	if err := s.telemetry.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
