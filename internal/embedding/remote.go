package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sagemakerruntime"
	"github.com/goccy/go-json"
	"github.com/raphaelgruber/movie-recommender/internal/modelconfig"
	"github.com/raphaelgruber/movie-recommender/internal/models"
	"github.com/sony/gobreaker/v2"
)

// Circuit breaker settings for remote endpoints.
const (
	breakerFailureThreshold = 5
	breakerOpenTimeout      = 30 * time.Second
)

// SageMakerAPI is the subset of the SageMaker runtime client used here.
type SageMakerAPI interface {
	InvokeEndpoint(ctx context.Context, params *sagemakerruntime.InvokeEndpointInput, optFns ...func(*sagemakerruntime.Options)) (*sagemakerruntime.InvokeEndpointOutput, error)
}

var _ SageMakerAPI = (*sagemakerruntime.Client)(nil)

type endpointRequest struct {
	Instances [][]int64 `json:"instances"`
}

// RemoteBackend tokenizes locally and sends token ids to a hosted endpoint.
type RemoteBackend struct {
	name     string
	endpoint string
	pipeline Pipeline
	dim      int
	client   SageMakerAPI
	breaker  *gobreaker.CircuitBreaker[[]byte]
	logger   *slog.Logger
}

var _ Backend = (*RemoteBackend)(nil)

// NewRemoteBackend creates a backend for the endpoint named by cfg.ModelPath.
func NewRemoteBackend(name string, cfg modelconfig.ModelConfig, deps Deps) (*RemoteBackend, error) {
	pipeline, err := NewPipeline(cfg, deps)
	if err != nil {
		return nil, loadError(name, err)
	}

	client := deps.SageMaker
	if client == nil {
		if deps.AWS == nil {
			return nil, loadError(name, errors.New("remote endpoint requires AWS configuration"))
		}
		client = sagemakerruntime.NewFromConfig(*deps.AWS)
	}

	logger := deps.logger()
	breaker := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "endpoint-" + name,
		MaxRequests: 1,
		Timeout:     breakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerFailureThreshold
		},
		OnStateChange: func(breakerName string, from, to gobreaker.State) {
			logger.Warn("endpoint circuit breaker state changed",
				"breaker", breakerName, "from", from.String(), "to", to.String())
		},
	})

	return &RemoteBackend{
		name:     name,
		endpoint: cfg.ModelPath,
		pipeline: pipeline,
		dim:      cfg.Dimension,
		client:   client,
		breaker:  breaker,
		logger:   logger,
	}, nil
}

// Name returns the configured model name.
func (r *RemoteBackend) Name() string {
	return r.name
}

// Close is a no-op.
func (r *RemoteBackend) Close() error {
	return nil
}

// Encode embeds texts in batches, one endpoint invocation per batch.
func (r *RemoteBackend) Encode(ctx context.Context, texts []string, showProgress bool) ([][]float32, error) {
	return encodeBatches(ctx, r.logger, r.name, normalizeTexts(texts), DefaultBatchSize, showProgress, r.encodeBatch)
}

func (r *RemoteBackend) encodeBatch(ctx context.Context, texts []string) ([][]float32, error) {
	batch, err := r.pipeline.Prepare(texts)
	if err != nil {
		return nil, fmt.Errorf("prepare batch: %w", err)
	}

	payload, err := json.Marshal(endpointRequest{Instances: batch.IDs})
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	start := time.Now()
	body, err := r.breaker.Execute(func() ([]byte, error) {
		out, err := r.client.InvokeEndpoint(ctx, &sagemakerruntime.InvokeEndpointInput{
			EndpointName: aws.String(r.endpoint),
			Body:         payload,
			ContentType:  aws.String("application/json"),
			Accept:       aws.String("application/json"),
		})
		if err != nil {
			return nil, err
		}
		return out.Body, nil
	})
	if err != nil {
		r.logger.Warn("endpoint invocation failed", "model", r.name, "endpoint", r.endpoint,
			"duration_ms", time.Since(start).Milliseconds(), "error", err)
		return nil, fmt.Errorf("%w: invoke endpoint %s: %w", models.ErrModelLoad, r.endpoint, err)
	}

	rows, err := r.parse(body, batch)
	if err != nil {
		return nil, err
	}
	if err := checkRows(r.name, rows, len(texts), r.dim); err != nil {
		return nil, err
	}
	return rows, nil
}

// parse accepts a bare JSON array or an object with a "predictions" or
// "embeddings" field, holding either sentence vectors or token vectors.
func (r *RemoteBackend) parse(body []byte, batch Batch) ([][]float32, error) {
	raw := json.RawMessage(body)

	var wrapped struct {
		Predictions json.RawMessage `json:"predictions"`
		Embeddings  json.RawMessage `json:"embeddings"`
	}
	if err := json.Unmarshal(body, &wrapped); err == nil {
		switch {
		case len(wrapped.Predictions) > 0:
			raw = wrapped.Predictions
		case len(wrapped.Embeddings) > 0:
			raw = wrapped.Embeddings
		}
	}

	var tokens [][][]float32
	if err := json.Unmarshal(raw, &tokens); err == nil {
		return r.pipeline.Reduce(tokens, batch), nil
	}

	var rows [][]float32
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("%w: parse endpoint response: %w", models.ErrModelLoad, err)
	}
	return rows, nil
}
