// Package app wires the recommender components from process configuration.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/raphaelgruber/movie-recommender/internal/catalog"
	"github.com/raphaelgruber/movie-recommender/internal/config"
	"github.com/raphaelgruber/movie-recommender/internal/embedding"
	"github.com/raphaelgruber/movie-recommender/internal/metrics"
	"github.com/raphaelgruber/movie-recommender/internal/modelconfig"
	"github.com/raphaelgruber/movie-recommender/internal/registry"
	"github.com/raphaelgruber/movie-recommender/internal/service"
	"github.com/raphaelgruber/movie-recommender/internal/storage"
)

// App holds every long-lived component.
type App struct {
	Config      config.Config
	Models      *modelconfig.Store
	Registry    *registry.Registry
	Cache       *catalog.Cache
	Recommender *service.Recommender
	Collector   *metrics.Collector
	Prometheus  *metrics.Prometheus
	Logger      *slog.Logger
}

// Options overrides parts of the default wiring. Zero values select the
// production defaults.
type Options struct {
	// AWS disables object storage, SSM and the AWS-hosted backends when false.
	// Nil means try the default credential chain.
	AWS *bool
	// Factory builds embedding backends; defaults to embedding.New.
	Factory registry.Factory
	// Memory probes available memory; defaults to the operating system.
	Memory registry.MemoryProbe
}

// New loads the model configuration and builds the component graph.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger, opts Options) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	stats := metrics.NewCollector()
	prom := metrics.NewPrometheus()

	embedding.ConfigureRuntime(cfg.ONNXRuntimeLib)

	deps := embedding.Deps{
		Logger:       logger,
		OllamaHost:   cfg.OllamaHost,
		OpenAIAPIKey: cfg.OpenAIAPIKey,
	}
	resolver := &storage.Resolver{}
	loader := &modelconfig.Loader{
		FilePath:      cfg.ModelsConfigPath,
		UseSSM:        cfg.UseSSM,
		ParameterName: cfg.SSMParameterName(),
		Logger:        logger,
	}

	if opts.AWS == nil || *opts.AWS {
		awsCfg, err := storage.LoadAWSConfig(ctx)
		if err != nil {
			logger.Warn("aws configuration unavailable, remote artifacts disabled", "error", err)
		} else {
			deps.AWS = &awsCfg
			resolver.Remote = storage.NewS3Store(s3.NewFromConfig(awsCfg), cfg.StagingDir, logger)
			loader.SSM = ssm.NewFromConfig(awsCfg)
		}
	}

	store := modelconfig.NewStore(loader)
	if _, err := store.Reload(ctx); err != nil {
		return nil, fmt.Errorf("load model configuration: %w", err)
	}

	reg := registry.New(store, registry.Options{
		Stager:     resolver,
		Memory:     opts.Memory,
		Factory:    opts.Factory,
		Deps:       deps,
		Collector:  stats,
		Prometheus: prom,
		Logger:     logger,
	})
	cache := catalog.New(catalog.Options{
		CatalogPath: cfg.MoviesCSVPath,
		Reader:      resolver,
		Collector:   stats,
		Prometheus:  prom,
		Logger:      logger,
	})
	rec := service.NewRecommender(store, reg, cache, service.Options{
		Writer:    resolver,
		Collector: stats,
		Logger:    logger,
	})

	return &App{
		Config:      cfg,
		Models:      store,
		Registry:    reg,
		Cache:       cache,
		Recommender: rec,
		Collector:   stats,
		Prometheus:  prom,
		Logger:      logger,
	}, nil
}

// Close releases every loaded model.
func (a *App) Close() {
	a.Registry.Clear()
}
