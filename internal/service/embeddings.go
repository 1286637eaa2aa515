package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/raphaelgruber/movie-recommender/internal/catalog"
	"github.com/raphaelgruber/movie-recommender/internal/embedding"
	"github.com/raphaelgruber/movie-recommender/internal/metrics"
	"github.com/raphaelgruber/movie-recommender/internal/models"
)

// Writer stores a file on local disk or in object storage.
// *storage.Resolver satisfies it.
type Writer interface {
	Write(ctx context.Context, path string, body io.Reader) error
}

// BuildResult describes a written embedding matrix.
type BuildResult struct {
	Model      string `json:"model_name" yaml:"model_name"`
	Path       string `json:"path" yaml:"path"`
	Rows       int    `json:"rows" yaml:"rows"`
	Dimension  int    `json:"dimension" yaml:"dimension"`
	DurationMs int64  `json:"duration_ms" yaml:"duration_ms"`
}

// BuildEmbeddings encodes every catalog overview with the model and writes
// the matrix as .npy to dest, or to the model's embeddings_path when dest is
// empty. Progress goes to the reporter attached with embedding.WithProgress.
func (s *Recommender) BuildEmbeddings(ctx context.Context, model, dest string) (*BuildResult, error) {
	cfg, err := s.configs.Current().Lookup(model)
	if err != nil {
		return nil, err
	}
	if dest == "" {
		dest = cfg.EmbeddingsPath
	}
	if dest == "" {
		return nil, fmt.Errorf("%w: no output path and no embeddings_path for model %s", models.ErrInvalidInput, model)
	}
	if s.writer == nil {
		return nil, fmt.Errorf("%w: no writer configured", models.ErrConfiguration)
	}

	table, err := s.cache.Catalog(ctx)
	if err != nil {
		return nil, err
	}
	backend, err := s.registry.Get(ctx, model)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	s.logger.Info("building embeddings", "model", model, "rows", table.Len(), "output", dest)
	rows, err := backend.Encode(ctx, table.Overviews(), true)
	if err != nil {
		s.stats.RecordError(metrics.OpEmbeddingJob)
		return nil, fmt.Errorf("encode catalog: %w", err)
	}

	matrix, err := catalog.NewMatrix(rows)
	if err != nil {
		s.stats.RecordError(metrics.OpEmbeddingJob)
		return nil, err
	}

	var buf bytes.Buffer
	if err := catalog.WriteNPY(&buf, matrix); err != nil {
		return nil, err
	}
	if err := s.writer.Write(ctx, dest, &buf); err != nil {
		s.stats.RecordError(metrics.OpEmbeddingJob)
		return nil, fmt.Errorf("write %s: %w", dest, err)
	}

	// A rebuilt file at the configured path must not be shadowed by the
	// cached matrix.
	if dest == cfg.EmbeddingsPath {
		s.cache.Forget(model)
	}

	n, dim := matrix.Dims()
	duration := time.Since(start)
	s.stats.RecordRows(metrics.OpEmbeddingJob, duration, n)
	s.logger.Info("embeddings written", "model", model, "rows", n, "dim", dim, "output", dest, "duration_ms", duration.Milliseconds())

	return &BuildResult{
		Model:      model,
		Path:       dest,
		Rows:       n,
		Dimension:  dim,
		DurationMs: duration.Milliseconds(),
	}, nil
}

// StartEmbeddingJob runs BuildEmbeddings in the background and returns the
// tracking job immediately.
func (s *Recommender) StartEmbeddingJob(model, dest string) (*Job, error) {
	cfg, err := s.configs.Current().Lookup(model)
	if err != nil {
		return nil, err
	}
	if dest == "" {
		dest = cfg.EmbeddingsPath
	}

	job := s.jobs.CreateJob(JobTypeEmbeddings, model, dest)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("embedding job panicked", "job_id", job.ID, "panic", r)
				s.jobs.Fail(job, fmt.Errorf("internal panic: %v", r))
			}
		}()

		s.jobs.SetRunning(job)
		ctx := embedding.WithProgress(context.Background(), func(done, total int) {
			s.jobs.UpdateProgress(job, done, total)
		})

		result, err := s.BuildEmbeddings(ctx, model, dest)
		if err != nil {
			s.jobs.Fail(job, err)
			return
		}
		s.jobs.Complete(job, result)
	}()

	return job, nil
}
