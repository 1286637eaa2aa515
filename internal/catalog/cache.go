// Package catalog loads the movie catalog and the per-model embedding
// matrices, keeping them in memory until cleared.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/raphaelgruber/movie-recommender/internal/metrics"
	"github.com/raphaelgruber/movie-recommender/internal/models"
	"golang.org/x/sync/singleflight"
	"gonum.org/v1/gonum/mat"
)

// CatalogKey is the cache key of the movie table.
const CatalogKey = "df"

// Reader fetches a whole file from local disk or object storage.
// *storage.Resolver satisfies it.
type Reader interface {
	Read(ctx context.Context, path string) ([]byte, error)
}

// Options configures a Cache.
type Options struct {
	CatalogPath string
	Reader      Reader
	Collector   *metrics.Collector
	Prometheus  *metrics.Prometheus
	Logger      *slog.Logger
}

type matrixEntry struct {
	path string
	m    *mat.Dense
}

// Cache memoizes the catalog and embedding matrices. Reads of populated
// entries share a read lock; loads are deduplicated per key.
type Cache struct {
	catalogPath string
	reader      Reader
	stats       *metrics.Collector
	prom        *metrics.Prometheus
	logger      *slog.Logger

	mu       sync.RWMutex
	table    *Table
	matrices map[string]matrixEntry
	// generation changes on Clear so loads started before a clear are not
	// stored afterwards.
	generation uint64

	group singleflight.Group
}

// New creates an empty cache.
func New(opts Options) *Cache {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		catalogPath: opts.CatalogPath,
		reader:      opts.Reader,
		stats:       opts.Collector,
		prom:        opts.Prometheus,
		logger:      logger,
		matrices:    make(map[string]matrixEntry),
	}
}

// Catalog returns the movie table, loading it on first use.
func (c *Cache) Catalog(ctx context.Context) (*Table, error) {
	c.mu.RLock()
	table, gen := c.table, c.generation
	c.mu.RUnlock()
	if table != nil {
		c.prom.CacheLookup("catalog", true)
		return table, nil
	}
	c.prom.CacheLookup("catalog", false)

	v, err, _ := c.group.Do(CatalogKey, func() (any, error) {
		c.logger.Info("loading movie catalog", "path", c.catalogPath)
		start := time.Now()
		if ext := strings.ToLower(path.Ext(c.catalogPath)); ext != ".csv" {
			return nil, fmt.Errorf("%w: unsupported catalog format %q", models.ErrConfiguration, ext)
		}
		data, err := c.read(ctx, c.catalogPath)
		if err != nil {
			return nil, err
		}
		table, err := ParseCSV(data)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		if c.generation == gen {
			c.table = table
		}
		c.mu.Unlock()

		c.stats.RecordTiming(metrics.OpDataLoad, time.Since(start))
		c.logger.Info("movie catalog loaded", "rows", table.Len(), "duration_ms", time.Since(start).Milliseconds())
		return table, nil
	})
	if err != nil {
		c.stats.RecordError(metrics.OpDataLoad)
		c.logger.Error("catalog load failed", "path", c.catalogPath, "error", err)
		return nil, err
	}
	return v.(*Table), nil
}

// Embeddings returns the embedding matrix for a model, loading it from
// embeddingsPath on first use. A cached matrix loaded from a different path
// is replaced.
func (c *Cache) Embeddings(ctx context.Context, model, embeddingsPath string) (*mat.Dense, error) {
	if embeddingsPath == "" {
		return nil, fmt.Errorf("%w: embeddings path not specified for model %s", models.ErrConfiguration, model)
	}

	c.mu.RLock()
	e, ok := c.matrices[model]
	gen := c.generation
	c.mu.RUnlock()
	if ok && e.path == embeddingsPath {
		c.prom.CacheLookup("embeddings", true)
		return e.m, nil
	}
	c.prom.CacheLookup("embeddings", false)

	v, err, _ := c.group.Do("emb:"+model+"|"+embeddingsPath, func() (any, error) {
		c.logger.Info("loading embeddings", "model", model, "path", embeddingsPath)
		start := time.Now()
		if ext := strings.ToLower(path.Ext(embeddingsPath)); ext != ".npy" {
			return nil, fmt.Errorf("%w: unsupported embeddings format %q", models.ErrConfiguration, ext)
		}
		data, err := c.read(ctx, embeddingsPath)
		if err != nil {
			return nil, err
		}
		m, err := ParseNPY(data)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		if c.generation == gen {
			c.matrices[model] = matrixEntry{path: embeddingsPath, m: m}
		}
		c.mu.Unlock()

		rows, cols := m.Dims()
		c.stats.RecordTiming(metrics.OpDataLoad, time.Since(start))
		c.logger.Info("embeddings loaded", "model", model, "rows", rows, "dim", cols, "duration_ms", time.Since(start).Milliseconds())
		return m, nil
	})
	if err != nil {
		c.evict(model)
		c.stats.RecordError(metrics.OpDataLoad)
		c.logger.Error("embeddings load failed", "model", model, "path", embeddingsPath, "error", err)
		return nil, err
	}
	return v.(*mat.Dense), nil
}

// Load returns the catalog and the model's embeddings after checking that
// they are row-aligned. A misaligned matrix is dropped from the cache.
func (c *Cache) Load(ctx context.Context, model, embeddingsPath string) (*Table, *mat.Dense, error) {
	table, err := c.Catalog(ctx)
	if err != nil {
		return nil, nil, err
	}
	m, err := c.Embeddings(ctx, model, embeddingsPath)
	if err != nil {
		return nil, nil, err
	}
	if rows, _ := m.Dims(); rows != table.Len() {
		c.evict(model)
		return nil, nil, fmt.Errorf("%w: embeddings for %s have %d rows but the catalog has %d",
			models.ErrConfiguration, model, rows, table.Len())
	}
	return table, m, nil
}

// Titles returns the sorted unique catalog titles.
func (c *Cache) Titles(ctx context.Context) ([]string, error) {
	table, err := c.Catalog(ctx)
	if err != nil {
		return nil, err
	}
	return table.Titles(), nil
}

// Clear drops the catalog and every embedding matrix.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.table = nil
	c.matrices = make(map[string]matrixEntry)
	c.generation++
	c.mu.Unlock()
	c.logger.Info("data cache cleared")
}

// Keys lists the cached keys: CatalogKey when the catalog is loaded, then
// model names in sorted order.
func (c *Cache) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	keys := make([]string, 0, len(c.matrices)+1)
	if c.table != nil {
		keys = append(keys, CatalogKey)
	}
	names := make([]string, 0, len(c.matrices))
	for name := range c.matrices {
		names = append(names, name)
	}
	slices.Sort(names)
	return append(keys, names...)
}

// Forget drops the cached matrix for one model.
func (c *Cache) Forget(model string) {
	c.evict(model)
}

func (c *Cache) evict(model string) {
	c.mu.Lock()
	delete(c.matrices, model)
	c.mu.Unlock()
}

func (c *Cache) read(ctx context.Context, p string) ([]byte, error) {
	if c.reader == nil {
		return nil, fmt.Errorf("%w: no reader configured for %s", models.ErrConfiguration, p)
	}
	data, err := c.reader.Read(ctx, p)
	if err != nil {
		if errors.Is(err, models.ErrConfiguration) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", models.ErrModelLoad, err)
	}
	return data, nil
}
