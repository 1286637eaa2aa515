package embedding

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/raphaelgruber/movie-recommender/internal/modelconfig"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// Sentence embedding providers.
const (
	ProviderOllama  = "ollama"
	ProviderOpenAI  = "openai"
	ProviderBedrock = "bedrock"
)

// DocumentEmbedder is the provider contract; langchaingo embedders satisfy it.
type DocumentEmbedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
}

var _ DocumentEmbedder = (embeddings.Embedder)(nil)

// SentenceBackend delegates to an off-the-shelf sentence embedding model.
type SentenceBackend struct {
	name      string
	model     string
	provider  string
	dimension int
	embedder  DocumentEmbedder
	logger    *slog.Logger
}

var _ Backend = (*SentenceBackend)(nil)

// NewSentenceBackend creates a sentence embedder for cfg.Provider, using
// cfg.ModelPath as the provider's model identifier.
func NewSentenceBackend(ctx context.Context, name string, cfg modelconfig.ModelConfig, deps Deps) (*SentenceBackend, error) {
	provider := cfg.Provider
	if provider == "" {
		provider = ProviderOllama
	}

	var embedder DocumentEmbedder
	switch provider {
	case ProviderOllama:
		llm, err := ollama.New(
			ollama.WithModel(cfg.ModelPath),
			ollama.WithServerURL(deps.OllamaHost),
		)
		if err != nil {
			return nil, loadError(name, fmt.Errorf("create ollama client: %w", err))
		}
		e, err := embeddings.NewEmbedder(llm)
		if err != nil {
			return nil, loadError(name, fmt.Errorf("create ollama embedder: %w", err))
		}
		embedder = e

	case ProviderOpenAI:
		if deps.OpenAIAPIKey == "" {
			return nil, loadError(name, fmt.Errorf("OpenAI API key required"))
		}
		llm, err := openai.New(
			openai.WithToken(deps.OpenAIAPIKey),
			openai.WithEmbeddingModel(cfg.ModelPath),
		)
		if err != nil {
			return nil, loadError(name, fmt.Errorf("create openai client: %w", err))
		}
		e, err := embeddings.NewEmbedder(llm)
		if err != nil {
			return nil, loadError(name, fmt.Errorf("create openai embedder: %w", err))
		}
		embedder = e

	case ProviderBedrock:
		client := deps.Bedrock
		if client == nil {
			if deps.AWS == nil {
				return nil, loadError(name, fmt.Errorf("bedrock provider requires AWS configuration"))
			}
			client = newBedrockClient(*deps.AWS)
		}
		embedder = NewBedrockEmbedder(client, cfg.ModelPath)

	default:
		return nil, loadError(name, fmt.Errorf("unknown sentence provider %q", provider))
	}

	return NewSentenceBackendWith(name, cfg, provider, embedder, deps.logger()), nil
}

// NewSentenceBackendWith wraps an existing provider.
func NewSentenceBackendWith(name string, cfg modelconfig.ModelConfig, provider string, e DocumentEmbedder, logger *slog.Logger) *SentenceBackend {
	if logger == nil {
		logger = slog.Default()
	}
	return &SentenceBackend{
		name:      name,
		model:     cfg.ModelPath,
		provider:  provider,
		dimension: cfg.Dimension,
		embedder:  e,
		logger:    logger,
	}
}

// Name returns the configured model name.
func (s *SentenceBackend) Name() string {
	return s.name
}

// Close is a no-op; providers hold no native resources.
func (s *SentenceBackend) Close() error {
	return nil
}

// Encode embeds texts in batches of DefaultBatchSize.
func (s *SentenceBackend) Encode(ctx context.Context, texts []string, showProgress bool) ([][]float32, error) {
	texts = normalizeTexts(texts)

	return encodeBatches(ctx, s.logger, s.name, texts, DefaultBatchSize, showProgress,
		func(ctx context.Context, batch []string) ([][]float32, error) {
			start := time.Now()
			rows, err := s.embedder.EmbedDocuments(ctx, batch)
			duration := time.Since(start)
			if err != nil {
				s.logger.Warn("embedding failed", "model", s.name, "provider", s.provider,
					"batch", len(batch), "duration_ms", duration.Milliseconds(), "error", err)
				return nil, fmt.Errorf("embed batch: %w", err)
			}
			if err := checkRows(s.name, rows, len(batch), s.dimension); err != nil {
				return nil, err
			}
			s.logger.Debug("embedding complete", "model", s.name, "batch", len(batch), "duration_ms", duration.Milliseconds())
			return rows, nil
		})
}
