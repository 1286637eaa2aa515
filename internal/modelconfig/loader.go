package modelconfig

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync/atomic"

	kjson "github.com/knadh/koanf/parsers/json"
	kyaml "github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/raphaelgruber/movie-recommender/internal/models"
)

// keyDelim separates koanf path segments. Model names may contain dots and
// slashes, so neither can be used.
const keyDelim = "::"

// DefaultEnvPrefix marks environment variables that override model fields,
// e.g. MOVIEREC_MODEL__minilm__preload=true.
const DefaultEnvPrefix = "MOVIEREC_MODEL__"

// Source produces configuration snapshots.
type Source interface {
	Load(ctx context.Context) (*Snapshot, error)
}

// Loader reads model configuration from SSM (when enabled) or a local file,
// then merges environment overrides on top.
type Loader struct {
	FilePath      string
	UseSSM        bool
	ParameterName string
	SSM           SSMAPI
	EnvPrefix     string
	Logger        *slog.Logger
}

var _ Source = (*Loader)(nil)

// Load builds a new snapshot. When SSM is enabled but fails, the local file
// is used instead.
func (l *Loader) Load(ctx context.Context) (*Snapshot, error) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}

	k := koanf.New(keyDelim)
	source := ""

	if l.UseSSM && l.SSM != nil {
		logger.Info("loading model config from ssm", "parameter", l.ParameterName)
		if err := k.Load(NewSSMProvider(ctx, l.SSM, l.ParameterName), kjson.Parser()); err != nil {
			logger.Warn("ssm config unavailable, falling back to local file", "parameter", l.ParameterName, "error", err)
		} else {
			source = "ssm:" + l.ParameterName
		}
	}

	if source == "" {
		logger.Info("loading model config from file", "path", l.FilePath)
		if err := k.Load(file.Provider(l.FilePath), parserFor(l.FilePath)); err != nil {
			return nil, fmt.Errorf("%w: load %s: %w", models.ErrConfiguration, l.FilePath, err)
		}
		source = "file:" + l.FilePath
	}

	prefix := l.EnvPrefix
	if prefix == "" {
		prefix = DefaultEnvPrefix
	}
	if err := k.Load(env.Provider(prefix, keyDelim, envTransform(prefix)), nil); err != nil {
		return nil, fmt.Errorf("%w: environment overrides: %w", models.ErrConfiguration, err)
	}

	raw := make(map[string]ModelConfig)
	if err := k.Unmarshal("", &raw); err != nil {
		return nil, fmt.Errorf("%w: decode model config: %w", models.ErrConfiguration, err)
	}

	snap, err := NewSnapshot(source, raw)
	if err != nil {
		return nil, err
	}
	logger.Info("model config loaded", "source", source, "models", snap.Names())
	return snap, nil
}

func parserFor(path string) koanf.Parser {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return kyaml.Parser()
	default:
		return kjson.Parser()
	}
}

// envTransform maps MOVIEREC_MODEL__<name>__<field> to <name>::<field>.
// Variables without both segments are dropped.
func envTransform(prefix string) func(string) string {
	return func(key string) string {
		parts := strings.Split(strings.TrimPrefix(key, prefix), "__")
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return ""
		}
		field := strings.ToLower(parts[1])
		if field == "ram" {
			field = "RAM"
		}
		return parts[0] + keyDelim + field
	}
}

// Store holds the current snapshot and swaps it atomically on reload.
type Store struct {
	source  Source
	current atomic.Pointer[Snapshot]
}

// NewStore creates a store backed by the given source. The store is empty
// until Reload or Set is called.
func NewStore(source Source) *Store {
	s := &Store{source: source}
	s.current.Store(&Snapshot{source: "empty", models: map[string]ModelConfig{}})
	return s
}

// Current returns the active snapshot. Never nil.
func (s *Store) Current() *Snapshot {
	return s.current.Load()
}

// Set replaces the active snapshot.
func (s *Store) Set(snap *Snapshot) {
	s.current.Store(snap)
}

// Reload loads a new snapshot from the source and swaps it in. On failure
// the previous snapshot stays active.
func (s *Store) Reload(ctx context.Context) (*Snapshot, error) {
	snap, err := s.source.Load(ctx)
	if err != nil {
		return nil, err
	}
	s.current.Store(snap)
	return snap, nil
}

// StaticSource serves a fixed set of configs. Useful for tests and for
// embedding the recommender in other programs.
type StaticSource map[string]ModelConfig

// Load returns a snapshot of the static configs.
func (s StaticSource) Load(context.Context) (*Snapshot, error) {
	return NewSnapshot("static", s)
}
