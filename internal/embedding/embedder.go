// Package embedding turns text into embedding vectors with one of several
// backend families: a sentence embedding service, a local inference graph,
// or a remote inference endpoint.
package embedding

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/raphaelgruber/movie-recommender/internal/modelconfig"
	"github.com/raphaelgruber/movie-recommender/internal/models"
)

// Backend generates embeddings for a batch of texts.
// Implementations: SentenceBackend, GraphBackend, RemoteBackend.
type Backend interface {
	// Encode returns one row per input text. Every row has the model's
	// fixed embedding dimension. With showProgress set, progress is reported
	// to the reporter attached via WithProgress after every batch.
	Encode(ctx context.Context, texts []string, showProgress bool) ([][]float32, error)

	// Name returns the configured model name.
	Name() string

	// Close releases any resources held by the backend.
	Close() error
}

// Deps carries the clients and settings backends are built from.
// Zero values select the production defaults.
type Deps struct {
	Logger *slog.Logger

	// Sentence providers
	OllamaHost   string
	OpenAIAPIKey string

	// AWS is used to build SageMaker and Bedrock clients when the explicit
	// clients below are nil.
	AWS       *aws.Config
	SageMaker SageMakerAPI
	Bedrock   BedrockAPI

	// Runner opens inference graphs. Defaults to the onnxruntime runner when
	// built with the ort tag.
	Runner RunnerFactory

	// Tokenizers resolves huggingface tokenizer files. Defaults to
	// LoadHuggingFaceTokenizer.
	Tokenizers func(path string) (Tokenizer, error)
}

func (d Deps) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// New creates the backend for a model config. Artifacts referenced by cfg
// must already be available locally; the registry stages remote ones first.
func New(ctx context.Context, name string, cfg modelconfig.ModelConfig, deps Deps) (Backend, error) {
	switch cfg.Type {
	case modelconfig.TypeSentenceEmbedder:
		return NewSentenceBackend(ctx, name, cfg, deps)

	case modelconfig.TypeOptimizedGraph:
		return NewGraphBackend(name, cfg, deps)

	case modelconfig.TypeRemoteEndpoint:
		return NewRemoteBackend(name, cfg, deps)

	default:
		return nil, fmt.Errorf("%w: %s", models.ErrUnsupportedModelType, cfg.Type)
	}
}

// loadError marks a constructor failure as a model load error.
func loadError(name string, err error) error {
	return fmt.Errorf("%w: %s: %w", models.ErrModelLoad, name, err)
}

// checkRows verifies the row count and, when dim > 0, the row width.
func checkRows(name string, rows [][]float32, want, dim int) error {
	if len(rows) != want {
		return fmt.Errorf("%w: %s returned %d embeddings, want %d", models.ErrModelLoad, name, len(rows), want)
	}
	if dim <= 0 {
		return nil
	}
	for i, r := range rows {
		if len(r) != dim {
			return fmt.Errorf("%w: %s embedding %d has dimension %d, want %d",
				models.ErrConfiguration, name, i, len(r), dim)
		}
	}
	return nil
}
