package embedding_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/sagemakerruntime"
	"github.com/goccy/go-json"
	"github.com/raphaelgruber/movie-recommender/internal/embedding"
	"github.com/raphaelgruber/movie-recommender/internal/modelconfig"
	"github.com/raphaelgruber/movie-recommender/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func customPipeline(typ modelconfig.ModelType, pooling string) modelconfig.ModelConfig {
	return modelconfig.ModelConfig{
		Type:          typ,
		ModelPath:     "model",
		Preprocessing: modelconfig.PreprocessingCustom,
		Tokenizer:     modelconfig.TokenizerCustom,
		Pooling:       pooling,
	}
}

// fakeEmbedder returns [len(text), index] for every text.
type fakeEmbedder struct {
	mu      sync.Mutex
	batches [][]string
	err     error
	short   bool
}

func (f *fakeEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.batches = append(f.batches, texts)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), float32(i)}
	}
	if f.short {
		out = out[:len(out)-1]
	}
	return out, nil
}

func texts(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("movie overview %d", i)
	}
	return out
}

func TestNewRejectsUnsupportedType(t *testing.T) {
	_, err := embedding.New(context.Background(), "m", modelconfig.ModelConfig{Type: "word2vec"}, embedding.Deps{})
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrUnsupportedModelType)
}

func TestSentenceBackendBatchesInOrder(t *testing.T) {
	fake := &fakeEmbedder{}
	b := embedding.NewSentenceBackendWith("mini", modelconfig.ModelConfig{ModelPath: "all-minilm"}, embedding.ProviderOllama, fake, quietLogger())

	rows, err := b.Encode(context.Background(), texts(70), false)
	require.NoError(t, err)

	require.Len(t, rows, 70)
	require.Len(t, fake.batches, 3)
	assert.Len(t, fake.batches[0], embedding.DefaultBatchSize)
	assert.Len(t, fake.batches[2], 70-2*embedding.DefaultBatchSize)
	assert.Equal(t, float32(len("movie overview 69")), rows[69][0])
	assert.Equal(t, "mini", b.Name())
	assert.NoError(t, b.Close())
}

func TestSentenceBackendEmptyInput(t *testing.T) {
	fake := &fakeEmbedder{}
	b := embedding.NewSentenceBackendWith("mini", modelconfig.ModelConfig{}, embedding.ProviderOllama, fake, quietLogger())

	rows, err := b.Encode(context.Background(), nil, false)
	require.NoError(t, err)
	assert.Empty(t, rows)
	assert.Empty(t, fake.batches, "provider is not called for empty input")
}

func TestSentenceBackendReportsProgress(t *testing.T) {
	fake := &fakeEmbedder{}
	b := embedding.NewSentenceBackendWith("mini", modelconfig.ModelConfig{}, embedding.ProviderOllama, fake, quietLogger())

	var reports [][2]int
	ctx := embedding.WithProgress(context.Background(), func(done, total int) {
		reports = append(reports, [2]int{done, total})
	})

	_, err := b.Encode(ctx, texts(40), true)
	require.NoError(t, err)
	assert.Equal(t, [][2]int{{32, 40}, {40, 40}}, reports)

	reports = nil
	_, err = b.Encode(ctx, texts(40), false)
	require.NoError(t, err)
	assert.Empty(t, reports, "no reports without showProgress")
}

func TestSentenceBackendDimensionMismatch(t *testing.T) {
	fake := &fakeEmbedder{}
	b := embedding.NewSentenceBackendWith("mini", modelconfig.ModelConfig{Dimension: 384}, embedding.ProviderOllama, fake, quietLogger())

	_, err := b.Encode(context.Background(), texts(2), false)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrConfiguration)
}

func TestSentenceBackendRowCountMismatch(t *testing.T) {
	fake := &fakeEmbedder{short: true}
	b := embedding.NewSentenceBackendWith("mini", modelconfig.ModelConfig{}, embedding.ProviderOllama, fake, quietLogger())

	_, err := b.Encode(context.Background(), texts(3), false)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrModelLoad)
}

func TestSentenceBackendProviderError(t *testing.T) {
	fake := &fakeEmbedder{err: errors.New("connection refused")}
	b := embedding.NewSentenceBackendWith("mini", modelconfig.ModelConfig{}, embedding.ProviderOllama, fake, quietLogger())

	_, err := b.Encode(context.Background(), texts(1), false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestSentenceBackendCancelled(t *testing.T) {
	fake := &fakeEmbedder{}
	b := embedding.NewSentenceBackendWith("mini", modelconfig.ModelConfig{}, embedding.ProviderOllama, fake, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := b.Encode(ctx, texts(5), false)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewSentenceBackendOpenAIRequiresKey(t *testing.T) {
	cfg := modelconfig.ModelConfig{Type: modelconfig.TypeSentenceEmbedder, ModelPath: "text-embedding-3-small", Provider: embedding.ProviderOpenAI}

	_, err := embedding.New(context.Background(), "openai", cfg, embedding.Deps{})
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrModelLoad)
}

func TestNewSentenceBackendBedrockRequiresAWS(t *testing.T) {
	cfg := modelconfig.ModelConfig{Type: modelconfig.TypeSentenceEmbedder, Provider: embedding.ProviderBedrock}

	_, err := embedding.New(context.Background(), "titan", cfg, embedding.Deps{})
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrModelLoad)
}

type fakeBedrock struct {
	models []string
}

func (f *fakeBedrock) InvokeModel(_ context.Context, in *bedrockruntime.InvokeModelInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
	f.models = append(f.models, *in.ModelId)
	var req struct {
		InputText string `json:"inputText"`
	}
	if err := json.Unmarshal(in.Body, &req); err != nil {
		return nil, err
	}
	body, _ := json.Marshal(map[string]any{
		"embedding":           []float32{float32(len(req.InputText)), 1},
		"inputTextTokenCount": 3,
	})
	return &bedrockruntime.InvokeModelOutput{Body: body}, nil
}

func TestBedrockSentenceBackend(t *testing.T) {
	fake := &fakeBedrock{}
	cfg := modelconfig.ModelConfig{Type: modelconfig.TypeSentenceEmbedder, ModelPath: "", Provider: embedding.ProviderBedrock, Dimension: 2}

	b, err := embedding.New(context.Background(), "titan", cfg, embedding.Deps{Bedrock: fake, Logger: quietLogger()})
	require.NoError(t, err)

	rows, err := b.Encode(context.Background(), []string{"abc", "hello"}, false)
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{3, 1}, {5, 1}}, rows)
	assert.Equal(t, []string{embedding.DefaultBedrockModel, embedding.DefaultBedrockModel}, fake.models)
}

// fakeRunner returns token embeddings equal to the token id in every
// dimension, or sentence embeddings when sentence is set.
type fakeRunner struct {
	dim      int
	sentence bool
	closed   bool
}

func (f *fakeRunner) Run(ids, _ [][]int64) (embedding.Tensor, error) {
	b, s := len(ids), len(ids[0])
	if f.sentence {
		data := make([]float32, 0, b*f.dim)
		for i := range ids {
			for d := 0; d < f.dim; d++ {
				data = append(data, float32(ids[i][0]))
			}
		}
		return embedding.Tensor{Shape: []int64{int64(b), int64(f.dim)}, Data: data}, nil
	}
	data := make([]float32, 0, b*s*f.dim)
	for i := range ids {
		for j := range ids[i] {
			for d := 0; d < f.dim; d++ {
				data = append(data, float32(ids[i][j]))
			}
		}
	}
	return embedding.Tensor{Shape: []int64{int64(b), int64(s), int64(f.dim)}, Data: data}, nil
}

func (f *fakeRunner) Close() error {
	f.closed = true
	return nil
}

func TestGraphBackendMeanPooling(t *testing.T) {
	runner := &fakeRunner{dim: 3}
	deps := embedding.Deps{
		Logger: quietLogger(),
		Runner: func(string) (embedding.GraphRunner, error) { return runner, nil },
	}

	b, err := embedding.New(context.Background(), "graph", customPipeline(modelconfig.TypeOptimizedGraph, modelconfig.PoolingMean), deps)
	require.NoError(t, err)

	// ids: [1 2] and [6 0(pad)]
	rows, err := b.Encode(context.Background(), []string{"This is", "example"}, false)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.InDeltaSlice(t, []float32{1.5, 1.5, 1.5}, rows[0], 1e-6)
	assert.InDeltaSlice(t, []float32{6, 6, 6}, rows[1], 1e-6)

	require.NoError(t, b.Close())
	assert.True(t, runner.closed)
}

func TestGraphBackendFirstToken(t *testing.T) {
	deps := embedding.Deps{
		Logger: quietLogger(),
		Runner: func(string) (embedding.GraphRunner, error) { return &fakeRunner{dim: 2}, nil },
	}

	b, err := embedding.New(context.Background(), "graph", customPipeline(modelconfig.TypeOptimizedGraph, modelconfig.PoolingDefault), deps)
	require.NoError(t, err)

	rows, err := b.Encode(context.Background(), []string{"tokenizer example"}, false)
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{5, 5}}, rows)
}

func TestGraphBackendSentenceOutput(t *testing.T) {
	deps := embedding.Deps{
		Logger: quietLogger(),
		Runner: func(string) (embedding.GraphRunner, error) { return &fakeRunner{dim: 4, sentence: true}, nil },
	}
	cfg := customPipeline(modelconfig.TypeOptimizedGraph, modelconfig.PoolingMean)
	cfg.Dimension = 4

	b, err := embedding.New(context.Background(), "graph", cfg, deps)
	require.NoError(t, err)

	rows, err := b.Encode(context.Background(), []string{"custom", "a"}, false)
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{4, 4, 4, 4}, {3, 3, 3, 3}}, rows)
}

func TestGraphBackendOpenFailure(t *testing.T) {
	deps := embedding.Deps{
		Runner: func(path string) (embedding.GraphRunner, error) { return nil, fmt.Errorf("no such file %s", path) },
	}

	_, err := embedding.New(context.Background(), "graph", customPipeline(modelconfig.TypeOptimizedGraph, modelconfig.PoolingMean), deps)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrModelLoad)
}

func TestGraphBackendClosed(t *testing.T) {
	deps := embedding.Deps{
		Logger: quietLogger(),
		Runner: func(string) (embedding.GraphRunner, error) { return &fakeRunner{dim: 2}, nil },
	}
	b, err := embedding.New(context.Background(), "graph", customPipeline(modelconfig.TypeOptimizedGraph, modelconfig.PoolingMean), deps)
	require.NoError(t, err)
	require.NoError(t, b.Close())

	_, err = b.Encode(context.Background(), []string{"a"}, false)
	assert.ErrorIs(t, err, models.ErrModelLoad)
}

type fakeSageMaker struct {
	calls    int
	err      error
	response func(ids [][]int64) any
}

func (f *fakeSageMaker) InvokeEndpoint(_ context.Context, in *sagemakerruntime.InvokeEndpointInput, _ ...func(*sagemakerruntime.Options)) (*sagemakerruntime.InvokeEndpointOutput, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	var req struct {
		Instances [][]int64 `json:"instances"`
	}
	if err := json.Unmarshal(in.Body, &req); err != nil {
		return nil, err
	}
	body, err := json.Marshal(f.response(req.Instances))
	if err != nil {
		return nil, err
	}
	return &sagemakerruntime.InvokeEndpointOutput{Body: body}, nil
}

func tokenVectors(ids [][]int64) any {
	out := make([][][]float32, len(ids))
	for i := range ids {
		out[i] = make([][]float32, len(ids[i]))
		for j, id := range ids[i] {
			out[i][j] = []float32{float32(id), float32(id) * 2}
		}
	}
	return out
}

func TestRemoteBackendTokenOutput(t *testing.T) {
	fake := &fakeSageMaker{response: tokenVectors}
	deps := embedding.Deps{Logger: quietLogger(), SageMaker: fake}

	b, err := embedding.New(context.Background(), "endpoint", customPipeline(modelconfig.TypeRemoteEndpoint, modelconfig.PoolingMean), deps)
	require.NoError(t, err)

	rows, err := b.Encode(context.Background(), []string{"a custom", "is"}, false)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.InDeltaSlice(t, []float32{3.5, 7}, rows[0], 1e-6)
	assert.InDeltaSlice(t, []float32{2, 4}, rows[1], 1e-6)
	assert.Equal(t, 1, fake.calls)
}

func TestRemoteBackendWrappedSentenceOutput(t *testing.T) {
	fake := &fakeSageMaker{response: func(ids [][]int64) any {
		rows := make([][]float32, len(ids))
		for i := range ids {
			rows[i] = []float32{float32(ids[i][0]), 0}
		}
		return map[string]any{"predictions": rows}
	}}
	deps := embedding.Deps{Logger: quietLogger(), SageMaker: fake}

	b, err := embedding.New(context.Background(), "endpoint", customPipeline(modelconfig.TypeRemoteEndpoint, modelconfig.PoolingDefault), deps)
	require.NoError(t, err)

	rows, err := b.Encode(context.Background(), []string{"example", "this"}, false)
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{6, 0}, {1, 0}}, rows)
}

func TestRemoteBackendBreakerOpens(t *testing.T) {
	fake := &fakeSageMaker{err: errors.New("throttled")}
	deps := embedding.Deps{Logger: quietLogger(), SageMaker: fake}

	b, err := embedding.New(context.Background(), "endpoint", customPipeline(modelconfig.TypeRemoteEndpoint, modelconfig.PoolingMean), deps)
	require.NoError(t, err)

	for range 8 {
		_, err := b.Encode(context.Background(), []string{"a"}, false)
		require.Error(t, err)
		assert.ErrorIs(t, err, models.ErrModelLoad)
	}
	assert.Equal(t, 5, fake.calls, "breaker stops calling the endpoint after consecutive failures")
}

func TestRemoteBackendRequiresAWS(t *testing.T) {
	_, err := embedding.New(context.Background(), "endpoint", customPipeline(modelconfig.TypeRemoteEndpoint, modelconfig.PoolingMean), embedding.Deps{})
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrModelLoad)
}
