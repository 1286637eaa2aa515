// Package registry owns the loaded embedding backends. It builds them on
// demand from the active model configuration and evicts them when declared
// memory estimates exceed what the system reports as available.
package registry

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/raphaelgruber/movie-recommender/internal/embedding"
	"github.com/raphaelgruber/movie-recommender/internal/metrics"
	"github.com/raphaelgruber/movie-recommender/internal/modelconfig"
	"github.com/raphaelgruber/movie-recommender/internal/models"
	"github.com/raphaelgruber/movie-recommender/internal/storage"
	"golang.org/x/sync/singleflight"
)

// Stager makes a possibly remote artifact available on local disk.
// *storage.Resolver satisfies it.
type Stager interface {
	Stage(ctx context.Context, path string) (string, error)
}

// Factory builds a backend. embedding.New is the production factory.
type Factory func(ctx context.Context, name string, cfg modelconfig.ModelConfig, deps embedding.Deps) (embedding.Backend, error)

// Options configures a Registry. Zero values select production defaults.
type Options struct {
	Stager     Stager
	Memory     MemoryProbe
	Factory    Factory
	Deps       embedding.Deps
	Collector  *metrics.Collector
	Prometheus *metrics.Prometheus
	Logger     *slog.Logger
}

type entry struct {
	backend  embedding.Backend
	ram      float64
	seq      uint64
	loadedAt time.Time
}

// LoadedModel describes a backend held by the registry.
type LoadedModel struct {
	Name     string    `json:"name" yaml:"name"`
	RAM      float64   `json:"ram_gb" yaml:"ram_gb"`
	LoadedAt time.Time `json:"loaded_at" yaml:"loaded_at"`
}

// Registry maps model names to loaded backends.
//
// Lookups of loaded models only take a read lock. Loads are collapsed per
// name with singleflight and serialized by loadMu, so eviction decisions
// never interleave.
type Registry struct {
	configs *modelconfig.Store
	stager  Stager
	memory  MemoryProbe
	factory Factory
	deps    embedding.Deps
	stats   *metrics.Collector
	prom    *metrics.Prometheus
	logger  *slog.Logger

	mu     sync.RWMutex
	loaded map[string]*entry
	seq    uint64

	loadMu sync.Mutex
	group  singleflight.Group
}

// New creates a registry reading model configs from configs.
func New(configs *modelconfig.Store, opts Options) *Registry {
	r := &Registry{
		configs: configs,
		stager:  opts.Stager,
		memory:  opts.Memory,
		factory: opts.Factory,
		deps:    opts.Deps,
		stats:   opts.Collector,
		prom:    opts.Prometheus,
		logger:  opts.Logger,
		loaded:  make(map[string]*entry),
	}
	if r.stager == nil {
		r.stager = &storage.Resolver{}
	}
	if r.memory == nil {
		r.memory = SystemMemory{}
	}
	if r.factory == nil {
		r.factory = embedding.New
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.deps.Logger == nil {
		r.deps.Logger = r.logger
	}
	return r
}

// Get returns the backend for name, loading it on first use.
func (r *Registry) Get(ctx context.Context, name string) (embedding.Backend, error) {
	if _, err := r.configs.Current().Lookup(name); err != nil {
		return nil, err
	}

	if e := r.lookup(name); e != nil {
		r.prom.ModelLoad(name, metrics.LoadHit)
		return e.backend, nil
	}

	v, err, _ := r.group.Do(name, func() (any, error) {
		return r.load(ctx, name)
	})
	if err != nil {
		return nil, err
	}
	return v.(embedding.Backend), nil
}

func (r *Registry) lookup(name string) *entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.loaded[name]
}

// load builds the backend under loadMu. The config is read after the lock is
// held, so a load queued behind a reload sees the new snapshot.
func (r *Registry) load(ctx context.Context, name string) (embedding.Backend, error) {
	r.loadMu.Lock()
	defer r.loadMu.Unlock()

	// Another load may have finished while we waited.
	if e := r.lookup(name); e != nil {
		return e.backend, nil
	}

	cfg, err := r.configs.Current().Lookup(name)
	if err != nil {
		return nil, err
	}

	if cfg.EmbeddingsPath == "" {
		return nil, fmt.Errorf("%w: model %s has no embeddings_path", models.ErrConfiguration, name)
	}

	if err := r.ensureMemory(name, cfg.RAM); err != nil {
		r.prom.ModelLoad(name, metrics.LoadFailure)
		r.stats.RecordError(metrics.OpModelLoad)
		return nil, err
	}

	start := time.Now()
	backend, err := r.build(ctx, name, cfg)
	duration := time.Since(start)
	if err != nil {
		r.logger.Error("model load failed", "model", name, "type", cfg.Type, "duration_ms", duration.Milliseconds(), "error", err)
		r.prom.ModelLoad(name, metrics.LoadFailure)
		r.stats.RecordError(metrics.OpModelLoad)
		return nil, err
	}

	r.mu.Lock()
	r.seq++
	r.loaded[name] = &entry{backend: backend, ram: cfg.RAM, seq: r.seq, loadedAt: time.Now()}
	count := len(r.loaded)
	r.mu.Unlock()

	r.prom.ModelLoad(name, metrics.LoadSuccess)
	r.prom.SetLoadedModels(count)
	r.stats.RecordTiming(metrics.OpModelLoad, duration)
	r.logger.Info("model loaded", "model", name, "type", cfg.Type, "ram_gb", cfg.RAM, "duration_ms", duration.Milliseconds())
	return backend, nil
}

// build stages remote artifacts and runs the factory. Errors without a
// sentinel are reported as model load errors.
func (r *Registry) build(ctx context.Context, name string, cfg modelconfig.ModelConfig) (embedding.Backend, error) {
	cfg, err := r.stage(ctx, name, cfg)
	if err != nil {
		return nil, err
	}

	backend, err := r.factory(ctx, name, cfg, r.deps)
	if err != nil {
		if errors.Is(err, models.ErrModelLoad) ||
			errors.Is(err, models.ErrUnsupportedModelType) ||
			errors.Is(err, models.ErrConfiguration) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s: %w", models.ErrModelLoad, name, err)
	}
	return backend, nil
}

// stage copies object storage artifacts for graph models and huggingface
// tokenizers to local disk and rewrites cfg to point at the local copies.
func (r *Registry) stage(ctx context.Context, name string, cfg modelconfig.ModelConfig) (modelconfig.ModelConfig, error) {
	if cfg.Type == modelconfig.TypeOptimizedGraph && storage.IsRemote(cfg.ModelPath) {
		local, err := r.stager.Stage(ctx, cfg.ModelPath)
		if err != nil {
			return cfg, fmt.Errorf("%w: %s: stage %s: %w", models.ErrModelLoad, name, cfg.ModelPath, err)
		}
		cfg.ModelPath = local
	}

	usesTokenizer := cfg.Type == modelconfig.TypeOptimizedGraph || cfg.Type == modelconfig.TypeRemoteEndpoint
	if usesTokenizer && cfg.Tokenizer == modelconfig.TokenizerHuggingFace && storage.IsRemote(cfg.TokenizerModel) {
		local, err := r.stager.Stage(ctx, cfg.TokenizerModel)
		if err != nil {
			return cfg, fmt.Errorf("%w: %s: stage %s: %w", models.ErrModelLoad, name, cfg.TokenizerModel, err)
		}
		cfg.TokenizerModel = local
	}
	return cfg, nil
}

// ensureMemory evicts loaded models, largest declared RAM first, until the
// probe reports at least need GB available. Caller must hold loadMu.
func (r *Registry) ensureMemory(name string, need float64) error {
	if need <= 0 {
		return nil
	}

	for {
		avail, err := r.memory.AvailableGB()
		if err != nil {
			r.logger.Warn("memory probe failed, skipping eviction", "model", name, "error", err)
			return nil
		}
		if avail >= need {
			return nil
		}

		victim, ok := r.pickVictim()
		if !ok {
			return fmt.Errorf("%w: model %s needs ~%.2f GB but only %.2f GB are available after evicting every model",
				models.ErrResourceExhausted, name, need, avail)
		}
		r.logger.Info("evicting model for memory", "model", victim, "requested_by", name,
			"needed_gb", need, "available_gb", avail)
		r.evict(victim)
		r.prom.Eviction()
	}
}

// pickVictim returns the loaded model with the largest declared RAM. Ties go
// to the model loaded first.
func (r *Registry) pickVictim() (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var (
		name string
		best *entry
	)
	for n, e := range r.loaded {
		if best == nil || e.ram > best.ram || (e.ram == best.ram && e.seq < best.seq) {
			name, best = n, e
		}
	}
	return name, best != nil
}

func (r *Registry) evict(name string) bool {
	r.mu.Lock()
	e, ok := r.loaded[name]
	delete(r.loaded, name)
	count := len(r.loaded)
	r.mu.Unlock()

	if !ok {
		return false
	}
	r.prom.SetLoadedModels(count)
	if err := e.backend.Close(); err != nil {
		r.logger.Warn("failed to close backend", "model", name, "error", err)
	}
	return true
}

// Evict drops the backend for name. It reports whether one was loaded.
func (r *Registry) Evict(name string) bool {
	r.loadMu.Lock()
	defer r.loadMu.Unlock()
	return r.evict(name)
}

// Clear drops every loaded backend.
func (r *Registry) Clear() {
	r.loadMu.Lock()
	defer r.loadMu.Unlock()

	r.mu.Lock()
	old := r.loaded
	r.loaded = make(map[string]*entry)
	r.mu.Unlock()

	r.prom.SetLoadedModels(0)
	for name, e := range old {
		if err := e.backend.Close(); err != nil {
			r.logger.Warn("failed to close backend", "model", name, "error", err)
		}
	}
	if len(old) > 0 {
		r.logger.Info("model registry cleared", "models", len(old))
	}
}

// Loaded returns the loaded models in load order.
func (r *Registry) Loaded() []LoadedModel {
	r.mu.RLock()
	type item struct {
		name string
		e    *entry
	}
	items := make([]item, 0, len(r.loaded))
	for name, e := range r.loaded {
		items = append(items, item{name, e})
	}
	r.mu.RUnlock()

	slices.SortFunc(items, func(a, b item) int { return cmp.Compare(a.e.seq, b.e.seq) })

	out := make([]LoadedModel, len(items))
	for i, it := range items {
		out[i] = LoadedModel{Name: it.name, RAM: it.e.ram, LoadedAt: it.e.loadedAt}
	}
	return out
}

// LoadedNames returns the names of loaded models in load order.
func (r *Registry) LoadedNames() []string {
	loaded := r.Loaded()
	names := make([]string, len(loaded))
	for i, m := range loaded {
		names[i] = m.Name
	}
	return names
}
