package bootstrap

import (
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/soundloom/soundloom/config"
	"github.com/soundloom/soundloom/internal/adapters/blobfs"
	providerclient "github.com/soundloom/soundloom/internal/adapters/provider"
	redisadapter "github.com/soundloom/soundloom/internal/adapters/redis"
	"github.com/soundloom/soundloom/internal/data"
	"github.com/soundloom/soundloom/internal/monitor"
	"github.com/soundloom/soundloom/internal/observability/statsd"
	"github.com/soundloom/soundloom/internal/retry"
	"github.com/soundloom/soundloom/internal/service"
	"github.com/soundloom/soundloom/internal/urlcheck"
)

// ServiceContainer holds all application services.
type ServiceContainer struct {
	Generations  *data.GenerationRepo
	Monitor      *monitor.Monitor
	Retry        *retry.Engine
	Materializer *service.Materializer
	Reaper       *service.Reaper
	MetricsSink  *statsd.Client
}

// ServiceDeps groups dependencies for service initialization.
type ServiceDeps struct {
	Config      *config.AppConfig
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
}

// NewServices wires repositories, adapters, and domain services.
func NewServices(deps *ServiceDeps) (ServiceContainer, error) {
	if deps == nil || deps.Config == nil {
		return ServiceContainer{}, fmt.Errorf("service dependencies are required")
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg := deps.Config

	metricsSink := buildMetricsSink(cfg.Observability.Metrics, logger)
	var sink statsd.Sink
	if metricsSink != nil {
		sink = metricsSink
	}

	repo := data.NewGenerationRepo(deps.DB, data.RepoConfig{Logger: logger})

	mon := monitor.New(monitor.Options{
		Store:   repo,
		Config:  cfg.Monitor,
		Logger:  logger,
		Metrics: sink,
	})

	retryEngine := retry.NewEngine(retry.EngineOptions{
		Config:  cfg.Retry,
		Logger:  logger,
		Metrics: sink,
	})

	materializer, err := service.NewMaterializer(service.MaterializerOptions{
		Store:   repo,
		Blobs:   blobfs.New(cfg.Materialize.StorageRoot, cfg.Materialize.StorageBaseURL),
		Locker:  redisadapter.NewLockStore(deps.RedisClient),
		URLs:    urlcheck.New(cfg.Materialize.AllowedHosts, cfg.Materialize.AllowedExtensions),
		Retry:   retryEngine,
		Config:  cfg.Materialize,
		Logger:  logger,
		Metrics: sink,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("build materializer: %w", err)
	}

	reaper, err := service.NewReaper(service.ReaperOptions{
		Store:    repo,
		Provider: buildProviderClient(cfg.Provider, logger),
		Config:   cfg.Reaper,
		Logger:   logger,
		Metrics:  sink,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("build reaper: %w", err)
	}

	return ServiceContainer{
		Generations:  repo,
		Monitor:      mon,
		Retry:        retryEngine,
		Materializer: materializer,
		Reaper:       reaper,
		MetricsSink:  metricsSink,
	}, nil
}

func buildMetricsSink(cfg config.ObservabilityMetricsConfig, logger *slog.Logger) *statsd.Client {
	if !cfg.IsEnabled() {
		return nil
	}

	client, err := statsd.NewClient(statsd.Config{
		Enabled: true,
		Address: cfg.StatsdAddress,
		Prefix:  cfg.Prefix,
		Logger:  logger,
	})
	if err != nil {
		logger.Error("failed to initialise statsd client", "error", err)
		return nil
	}
	return client
}

// buildProviderClient returns nil when no provider endpoint is configured;
// the reaper then treats stuck generations as inconclusive.
func buildProviderClient(cfg config.ProviderConfig, logger *slog.Logger) service.ProviderStatusClient {
	if cfg.StatusBaseURL == "" {
		return nil
	}

	client, err := providerclient.NewStatusClient(cfg, logger)
	if err != nil {
		logger.Error("failed to initialise provider status client", "error", err)
		return nil
	}
	return client
}
