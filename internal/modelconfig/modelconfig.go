// Package modelconfig describes the embedding models the recommender can serve
// and loads their configuration from a local file or AWS SSM Parameter Store.
package modelconfig

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/raphaelgruber/movie-recommender/internal/models"
)

// ModelType identifies the embedding backend family.
type ModelType string

const (
	// TypeSentenceEmbedder delegates to an off-the-shelf sentence embedding model.
	TypeSentenceEmbedder ModelType = "sentence-embedder"

	// TypeOptimizedGraph runs a local (or object-storage staged) inference graph.
	TypeOptimizedGraph ModelType = "optimized-graph"

	// TypeRemoteEndpoint dispatches tokenized input to a hosted inference endpoint.
	TypeRemoteEndpoint ModelType = "remote-endpoint"
)

// legacyTypes maps type names found in older config files to the current set.
var legacyTypes = map[string]ModelType{
	"sentence_transformer": TypeSentenceEmbedder,
	"bert":                 TypeSentenceEmbedder,
	"huggingface":          TypeSentenceEmbedder,
	"local":                TypeOptimizedGraph,
	"s3":                   TypeOptimizedGraph,
	"onnx":                 TypeOptimizedGraph,
	"sagemaker":            TypeRemoteEndpoint,
}

// Pipeline selector values.
const (
	PreprocessingDefault = "default"
	PreprocessingCustom  = "custom"

	TokenizerHuggingFace = "huggingface"
	TokenizerCustom      = "custom"

	PoolingDefault = "default"
	PoolingMean    = "mean"
)

// ModelConfig holds the settings for a single named model.
type ModelConfig struct {
	Type           ModelType `koanf:"type" json:"type" yaml:"type"`
	ModelPath      string    `koanf:"model_path" json:"model_path" yaml:"model_path"`
	EmbeddingsPath string    `koanf:"embeddings_path" json:"embeddings_path" yaml:"embeddings_path"`
	Preload        bool      `koanf:"preload" json:"preload" yaml:"preload"`

	// RAM is the declared memory estimate in GB, used only to rank eviction.
	RAM float64 `koanf:"RAM" json:"RAM" yaml:"RAM" validate:"gte=0"`

	Preprocessing  string `koanf:"preprocessing" json:"preprocessing,omitempty" yaml:"preprocessing,omitempty" validate:"omitempty,oneof=default custom"`
	Tokenizer      string `koanf:"tokenizer" json:"tokenizer,omitempty" yaml:"tokenizer,omitempty" validate:"omitempty,oneof=huggingface custom"`
	TokenizerModel string `koanf:"tokenizer_model" json:"tokenizer_model,omitempty" yaml:"tokenizer_model,omitempty"`
	Pooling        string `koanf:"pooling" json:"pooling,omitempty" yaml:"pooling,omitempty" validate:"omitempty,oneof=default mean"`

	// Provider selects the sentence embedding service (ollama, openai, bedrock).
	Provider string `koanf:"provider" json:"provider,omitempty" yaml:"provider,omitempty" validate:"omitempty,oneof=ollama openai bedrock"`

	// Dimension is the expected embedding width; 0 disables the check.
	Dimension int `koanf:"dimension" json:"dimension,omitempty" yaml:"dimension,omitempty" validate:"gte=0"`
}

// NormalizeType maps legacy and mixed-case type names onto the known set.
// Unknown names are returned lower-cased so the backend factory can reject them.
func NormalizeType(t string) ModelType {
	t = strings.ToLower(strings.TrimSpace(t))
	if t == "" {
		return TypeSentenceEmbedder
	}
	if mapped, ok := legacyTypes[t]; ok {
		return mapped
	}
	return ModelType(t)
}

// withDefaults fills the fields older config files leave implicit.
func (c ModelConfig) withDefaults(name string) ModelConfig {
	c.Type = NormalizeType(string(c.Type))
	if c.ModelPath == "" {
		c.ModelPath = name
	}
	if c.Preprocessing == "" {
		c.Preprocessing = PreprocessingDefault
	}
	if c.Tokenizer == "" {
		c.Tokenizer = TokenizerHuggingFace
	}
	if c.TokenizerModel == "" {
		c.TokenizerModel = name
	}
	if c.Pooling == "" {
		c.Pooling = PoolingDefault
	}
	return c
}

// Info returns the identification block attached to responses.
func (c ModelConfig) Info(name string) models.ModelInfo {
	return models.ModelInfo{
		ModelName: name,
		ModelType: string(c.Type),
		ModelPath: c.ModelPath,
	}
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Snapshot is an immutable view of the model configuration.
// Reloading produces a new Snapshot rather than mutating an existing one.
type Snapshot struct {
	source string
	models map[string]ModelConfig
}

// NewSnapshot validates raw configs, applies defaults and returns a snapshot.
func NewSnapshot(source string, raw map[string]ModelConfig) (*Snapshot, error) {
	out := make(map[string]ModelConfig, len(raw))
	for name, cfg := range raw {
		if strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("%w: empty model name", models.ErrConfiguration)
		}
		cfg = cfg.withDefaults(name)
		if err := getValidator().Struct(cfg); err != nil {
			return nil, fmt.Errorf("%w: model %q: %w", models.ErrConfiguration, name, err)
		}
		out[name] = cfg
	}
	return &Snapshot{source: source, models: out}, nil
}

// Source describes where the snapshot was loaded from.
func (s *Snapshot) Source() string {
	return s.source
}

// Get returns the config for a model name.
func (s *Snapshot) Get(name string) (ModelConfig, bool) {
	cfg, ok := s.models[name]
	return cfg, ok
}

// Lookup returns the config for a model name or ErrConfiguration.
func (s *Snapshot) Lookup(name string) (ModelConfig, error) {
	cfg, ok := s.models[name]
	if !ok {
		return ModelConfig{}, fmt.Errorf("%w: model %s does not exist in configuration", models.ErrConfiguration, name)
	}
	return cfg, nil
}

// Names returns the configured model names in sorted order.
func (s *Snapshot) Names() []string {
	names := make([]string, 0, len(s.models))
	for name := range s.models {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// All returns a copy of every model config keyed by name.
func (s *Snapshot) All() map[string]ModelConfig {
	out := make(map[string]ModelConfig, len(s.models))
	for name, cfg := range s.models {
		out[name] = cfg
	}
	return out
}

// Len returns the number of configured models.
func (s *Snapshot) Len() int {
	return len(s.models)
}
