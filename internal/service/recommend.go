// Package service implements the recommendation engine and the operator
// actions around it (reload, cache clearing, warm-up, embedding builds).
package service

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/raphaelgruber/movie-recommender/internal/catalog"
	"github.com/raphaelgruber/movie-recommender/internal/metrics"
	"github.com/raphaelgruber/movie-recommender/internal/modelconfig"
	"github.com/raphaelgruber/movie-recommender/internal/models"
	"github.com/raphaelgruber/movie-recommender/internal/registry"
)

// WarmupQuery is the sentence used to warm up preloaded models.
const WarmupQuery = "Action movie with explosions and car chases"

// Request is a single recommendation query.
type Request struct {
	Sentence  string
	ModelName string
	TopK      int
	Filter    models.QueryFilter
}

// NewRequest returns a request with the default top_k and filter bounds.
func NewRequest(sentence, model string) Request {
	return Request{
		Sentence:  sentence,
		ModelName: model,
		TopK:      models.DefaultTopK,
		Filter:    models.DefaultFilter(),
	}
}

// Response holds ranked recommendations and the model that produced them.
type Response struct {
	Sentence        string                  `json:"sentence" yaml:"sentence"`
	Recommendations []models.Recommendation `json:"recommendations" yaml:"recommendations"`
	ModelInfo       models.ModelInfo        `json:"model_info" yaml:"model_info"`
}

// Options configures a Recommender.
type Options struct {
	Writer    Writer
	Collector *metrics.Collector
	Logger    *slog.Logger
}

// Recommender ranks catalog movies against free-text queries.
type Recommender struct {
	configs  *modelconfig.Store
	registry *registry.Registry
	cache    *catalog.Cache
	writer   Writer
	jobs     *JobManager
	stats    *metrics.Collector
	logger   *slog.Logger
}

// NewRecommender wires the engine to its model registry and data cache.
func NewRecommender(configs *modelconfig.Store, reg *registry.Registry, cache *catalog.Cache, opts Options) *Recommender {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Recommender{
		configs:  configs,
		registry: reg,
		cache:    cache,
		writer:   opts.Writer,
		jobs:     NewJobManager(logger),
		stats:    opts.Collector,
		logger:   logger,
	}
}

// Recommend returns the catalog movies most similar to req.Sentence among
// those passing req.Filter. A filter that matches nothing yields an empty
// result, not an error.
func (s *Recommender) Recommend(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	resp, err := s.recommend(ctx, req)
	if err != nil {
		s.stats.RecordError(metrics.OpRecommend)
		s.logger.Warn("recommend failed", "model", req.ModelName, "error", err)
		return nil, err
	}
	s.stats.RecordTiming(metrics.OpRecommend, time.Since(start))
	return resp, nil
}

func (s *Recommender) recommend(ctx context.Context, req Request) (*Response, error) {
	if req.TopK <= 0 {
		return nil, fmt.Errorf("%w: top_k must be positive, got %d", models.ErrInvalidInput, req.TopK)
	}

	cfg, err := s.configs.Current().Lookup(req.ModelName)
	if err != nil {
		return nil, err
	}

	table, matrix, err := s.cache.Load(ctx, req.ModelName, cfg.EmbeddingsPath)
	if err != nil {
		return nil, err
	}

	backend, err := s.registry.Get(ctx, req.ModelName)
	if err != nil {
		return nil, err
	}

	encodeStart := time.Now()
	vectors, err := backend.Encode(ctx, []string{req.Sentence}, false)
	if err != nil {
		return nil, err
	}
	s.stats.RecordRows(metrics.OpEncode, time.Since(encodeStart), 1)
	if len(vectors) != 1 {
		return nil, fmt.Errorf("%w: %s returned %d query embeddings", models.ErrModelLoad, req.ModelName, len(vectors))
	}
	query := toFloat64(vectors[0])

	if _, cols := matrix.Dims(); cols != len(query) {
		return nil, fmt.Errorf("%w: model %s produces %d-dimensional embeddings but %s has %d columns",
			models.ErrConfiguration, req.ModelName, len(query), cfg.EmbeddingsPath, cols)
	}

	resp := &Response{
		Sentence:        req.Sentence,
		Recommendations: []models.Recommendation{},
		ModelInfo:       cfg.Info(req.ModelName),
	}

	scanStart := time.Now()
	candidates := make([]scored, 0, table.Len())
	for i, movie := range table.Movies {
		if !req.Filter.Matches(movie) {
			continue
		}
		candidates = append(candidates, scored{row: i, score: CosineSimilarity(query, matrix.RawRowView(i))})
	}
	s.stats.RecordRows(metrics.OpScan, time.Since(scanStart), len(candidates))

	s.logger.Debug("filter applied", "model", req.ModelName, "total", table.Len(), "matched", len(candidates))
	if len(candidates) == 0 {
		s.logger.Info("no movies match the filter criteria", "model", req.ModelName)
		return resp, nil
	}

	rank(candidates)
	topK := min(req.TopK, len(candidates))
	for _, c := range candidates[:topK] {
		movie := table.Movies[c.row]
		resp.Recommendations = append(resp.Recommendations, models.Recommendation{
			Title:      movie.Title,
			Overview:   movie.Overview,
			Score:      c.score,
			Popularity: movie.Popularity,
			Rating:     movie.VoteAverage,
		})
	}
	return resp, nil
}

// RecommendByMovie uses the overview of the titled movie as the query and
// excludes that movie from the results.
func (s *Recommender) RecommendByMovie(ctx context.Context, title string, req Request) (*Response, error) {
	table, err := s.cache.Catalog(ctx)
	if err != nil {
		return nil, err
	}
	idx, ok := table.Find(title)
	if !ok {
		return nil, fmt.Errorf("%w: movie %q", models.ErrNotFound, title)
	}

	req.Sentence = table.Movies[idx].Overview
	req.Filter.ExcludeTitles = maps.Clone(req.Filter.ExcludeTitles)
	req.Filter.Exclude(title)
	return s.Recommend(ctx, req)
}

// ListTitles returns the sorted unique catalog titles.
func (s *Recommender) ListTitles(ctx context.Context) ([]string, error) {
	return s.cache.Titles(ctx)
}

// Models returns the configured model names in sorted order.
func (s *Recommender) Models() []string {
	return s.configs.Current().Names()
}

// ModelConfigs returns every configured model keyed by name.
func (s *Recommender) ModelConfigs() map[string]modelconfig.ModelConfig {
	return s.configs.Current().All()
}

// ModelInfo returns the identification block for a configured model.
func (s *Recommender) ModelInfo(name string) (models.ModelInfo, error) {
	cfg, err := s.configs.Current().Lookup(name)
	if err != nil {
		return models.ModelInfo{}, err
	}
	return cfg.Info(name), nil
}

// ReloadConfiguration loads a new model configuration, swaps it in and
// drops all cached data and model handles. On failure the previous
// configuration and caches stay in place.
func (s *Recommender) ReloadConfiguration(ctx context.Context) ([]string, error) {
	snap, err := s.configs.Reload(ctx)
	if err != nil {
		s.logger.Error("configuration reload failed", "error", err)
		return nil, err
	}
	s.cache.Clear()
	s.registry.Clear()
	s.logger.Info("configuration reloaded", "source", snap.Source(), "models", snap.Names())
	return snap.Names(), nil
}

// ClearCache drops the cached catalog and embedding matrices. Loaded models
// are kept.
func (s *Recommender) ClearCache() {
	s.cache.Clear()
}

// CacheKeys lists what the data cache currently holds.
func (s *Recommender) CacheKeys() []string {
	return s.cache.Keys()
}

// LoadedModels lists the models held by the registry.
func (s *Recommender) LoadedModels() []registry.LoadedModel {
	return s.registry.Loaded()
}

// Warmup runs one recommendation per preloaded model so the first user
// request does not pay for loading. Failures are logged and skipped.
// It returns the names of the models that warmed up.
func (s *Recommender) Warmup(ctx context.Context) []string {
	snap := s.configs.Current()
	var warmed []string
	for _, name := range snap.Names() {
		cfg, _ := snap.Get(name)
		if !cfg.Preload {
			continue
		}
		start := time.Now()
		if _, err := s.Recommend(ctx, NewRequest(WarmupQuery, name)); err != nil {
			s.logger.Warn("model warm-up failed", "model", name, "error", err)
			continue
		}
		s.logger.Info("model warmed up", "model", name, "duration_ms", time.Since(start).Milliseconds())
		warmed = append(warmed, name)
	}
	return warmed
}

// Jobs returns the background job manager.
func (s *Recommender) Jobs() *JobManager {
	return s.jobs
}
