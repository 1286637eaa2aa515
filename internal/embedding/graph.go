package embedding

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/raphaelgruber/movie-recommender/internal/modelconfig"
)

// Tensor is a dense float32 output with its shape.
type Tensor struct {
	Shape []int64
	Data  []float32
}

// Rows splits a 2-D tensor into one slice per row.
func (t Tensor) Rows() ([][]float32, error) {
	if len(t.Shape) != 2 {
		return nil, fmt.Errorf("expected 2-D tensor, got shape %v", t.Shape)
	}
	b, d := int(t.Shape[0]), int(t.Shape[1])
	if b*d != len(t.Data) {
		return nil, fmt.Errorf("shape %v does not match %d values", t.Shape, len(t.Data))
	}
	out := make([][]float32, b)
	for i := range out {
		out[i] = t.Data[i*d : (i+1)*d]
	}
	return out, nil
}

// Tokens splits a 3-D tensor into [batch][seq][dim].
func (t Tensor) Tokens() ([][][]float32, error) {
	if len(t.Shape) != 3 {
		return nil, fmt.Errorf("expected 3-D tensor, got shape %v", t.Shape)
	}
	b, s, d := int(t.Shape[0]), int(t.Shape[1]), int(t.Shape[2])
	if b*s*d != len(t.Data) {
		return nil, fmt.Errorf("shape %v does not match %d values", t.Shape, len(t.Data))
	}
	out := make([][][]float32, b)
	for i := range out {
		out[i] = make([][]float32, s)
		for j := range out[i] {
			off := (i*s + j) * d
			out[i][j] = t.Data[off : off+d]
		}
	}
	return out, nil
}

// GraphRunner executes an inference graph on a tokenized batch and returns
// its first output.
type GraphRunner interface {
	Run(ids, mask [][]int64) (Tensor, error)
	Close() error
}

// RunnerFactory opens the graph at a local path.
type RunnerFactory func(modelPath string) (GraphRunner, error)

// GraphBackend runs a local inference graph behind the configurable
// preprocessing, tokenization and pooling pipeline.
type GraphBackend struct {
	name      string
	pipeline  Pipeline
	dimension int
	logger    *slog.Logger

	// runners are not safe for concurrent use
	mu     sync.Mutex
	runner GraphRunner
}

var _ Backend = (*GraphBackend)(nil)

// NewGraphBackend opens cfg.ModelPath, which must be a local file.
func NewGraphBackend(name string, cfg modelconfig.ModelConfig, deps Deps) (*GraphBackend, error) {
	pipeline, err := NewPipeline(cfg, deps)
	if err != nil {
		return nil, loadError(name, err)
	}

	open := deps.Runner
	if open == nil {
		open = defaultRunner
	}
	runner, err := open(cfg.ModelPath)
	if err != nil {
		return nil, loadError(name, err)
	}

	return &GraphBackend{
		name:      name,
		pipeline:  pipeline,
		dimension: cfg.Dimension,
		logger:    deps.logger(),
		runner:    runner,
	}, nil
}

// Name returns the configured model name.
func (g *GraphBackend) Name() string {
	return g.name
}

// Close releases the inference session.
func (g *GraphBackend) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.runner == nil {
		return nil
	}
	err := g.runner.Close()
	g.runner = nil
	return err
}

// Encode embeds texts in batches.
func (g *GraphBackend) Encode(ctx context.Context, texts []string, showProgress bool) ([][]float32, error) {
	return encodeBatches(ctx, g.logger, g.name, normalizeTexts(texts), DefaultBatchSize, showProgress, g.encodeBatch)
}

func (g *GraphBackend) encodeBatch(_ context.Context, texts []string) ([][]float32, error) {
	batch, err := g.pipeline.Prepare(texts)
	if err != nil {
		return nil, fmt.Errorf("prepare batch: %w", err)
	}

	g.mu.Lock()
	if g.runner == nil {
		g.mu.Unlock()
		return nil, loadError(g.name, fmt.Errorf("backend closed"))
	}
	out, err := g.runner.Run(batch.IDs, batch.Mask)
	g.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("run graph: %w", err)
	}

	var rows [][]float32
	switch len(out.Shape) {
	case 2:
		rows, err = out.Rows()
	case 3:
		var tokens [][][]float32
		tokens, err = out.Tokens()
		if err == nil {
			rows = g.pipeline.Reduce(tokens, batch)
		}
	default:
		err = fmt.Errorf("unexpected output shape %v", out.Shape)
	}
	if err != nil {
		return nil, err
	}

	if err := checkRows(g.name, rows, len(texts), g.dimension); err != nil {
		return nil, err
	}
	return rows, nil
}
