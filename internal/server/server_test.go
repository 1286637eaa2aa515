package server_test

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/raphaelgruber/movie-recommender/internal/catalog"
	"github.com/raphaelgruber/movie-recommender/internal/embedding"
	"github.com/raphaelgruber/movie-recommender/internal/metrics"
	"github.com/raphaelgruber/movie-recommender/internal/modelconfig"
	"github.com/raphaelgruber/movie-recommender/internal/registry"
	"github.com/raphaelgruber/movie-recommender/internal/server"
	"github.com/raphaelgruber/movie-recommender/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

const moviesCSV = `title,overview,release_date,popularity,vote_average
A,alpha,2000-01-01,10,7
B,bravo,2005-01-01,50,8
C,charlie,2030-01-01,100,6
`

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type memFiles struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (m *memFiles) Read(_ context.Context, path string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.data[path]
	if !ok {
		return nil, io.ErrUnexpectedEOF
	}
	return d, nil
}

func (m *memFiles) Write(_ context.Context, path string, body io.Reader) error {
	d, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[path] = d
	return nil
}

type constEmbedder struct{}

func (constEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if t == "bravo" {
			out[i] = []float32{0, 1}
		} else {
			out[i] = []float32{0.7, 0.7}
		}
	}
	return out, nil
}

type testServer struct {
	handler http.Handler
	prom    *metrics.Prometheus
	files   *memFiles
}

// blockingReader holds every read until the caller gives up.
type blockingReader struct{}

func (blockingReader) Read(ctx context.Context, _ string) ([]byte, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type serverSetup struct {
	rateLimit int
	timeout   time.Duration
	// matrix overrides the mini.npy rows, A B C in order.
	matrix []float64
	// reader replaces the in-memory files for catalog reads.
	reader catalog.Reader
}

func newTestServer(t *testing.T, rateLimit int) *testServer {
	return newTestServerWith(t, serverSetup{rateLimit: rateLimit})
}

func newTestServerWith(t *testing.T, setup serverSetup) *testServer {
	t.Helper()

	// A=[1,0] B=[0.8,0.6] C=[0,1]
	rows := []float64{1, 0, 0.8, 0.6, 0, 1}
	if setup.matrix != nil {
		rows = setup.matrix
	}
	var npy bytes.Buffer
	require.NoError(t, catalog.WriteNPY(&npy, mat.NewDense(3, 2, rows)))
	files := &memFiles{data: map[string][]byte{
		"movies.csv": []byte(moviesCSV),
		"mini.npy":   npy.Bytes(),
	}}

	store := modelconfig.NewStore(modelconfig.StaticSource{
		"mini": {EmbeddingsPath: "mini.npy"},
		"huge": {EmbeddingsPath: "mini.npy", RAM: 128},
	})
	_, err := store.Reload(context.Background())
	require.NoError(t, err)

	prom := metrics.NewPrometheus()
	stats := metrics.NewCollector()
	reg := registry.New(store, registry.Options{
		Memory: registry.FixedMemory(64),
		Factory: func(_ context.Context, name string, cfg modelconfig.ModelConfig, _ embedding.Deps) (embedding.Backend, error) {
			return embedding.NewSentenceBackendWith(name, cfg, embedding.ProviderOllama, constEmbedder{}, quietLogger()), nil
		},
		Prometheus: prom,
		Logger:     quietLogger(),
	})
	var reader catalog.Reader = files
	if setup.reader != nil {
		reader = setup.reader
	}
	cache := catalog.New(catalog.Options{CatalogPath: "movies.csv", Reader: reader, Prometheus: prom, Logger: quietLogger()})
	rec := service.NewRecommender(store, reg, cache, service.Options{Writer: files, Collector: stats, Logger: quietLogger()})

	srv := server.New(rec, server.Options{
		RateLimit:      setup.rateLimit,
		RequestTimeout: setup.timeout,
		Collector:      stats,
		Prometheus:     prom,
		Logger:         quietLogger(),
	})
	return &testServer{handler: srv.Router(), prom: prom, files: files}
}

func (ts *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	req.RemoteAddr = "192.0.2.1:1234"
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

type detail struct {
	Detail string `json:"detail"`
}

func TestRootAndHealth(t *testing.T) {
	ts := newTestServer(t, 0)

	rec := ts.do(t, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Welcome to the Movie Recommender API.", decode[map[string]string](t, rec)["message"])

	rec = ts.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("Content-Type"))
}

func TestRecommend(t *testing.T) {
	ts := newTestServer(t, 0)

	rec := ts.do(t, http.MethodPost, "/recommend", `{"sentence":"space","model_name":"mini","top_k":2}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[service.Response](t, rec)
	assert.Equal(t, "space", resp.Sentence)
	require.Len(t, resp.Recommendations, 2, "C is outside the default date window")
	assert.Equal(t, "B", resp.Recommendations[0].Title)
	assert.Equal(t, "A", resp.Recommendations[1].Title)
	assert.InDelta(t, 0.7071067811865476, resp.Recommendations[1].Score, 1e-6)
	assert.Equal(t, "mini", resp.ModelInfo.ModelName)
	assert.Equal(t, "sentence-embedder", resp.ModelInfo.ModelType)
}

func TestRecommendFilterFields(t *testing.T) {
	ts := newTestServer(t, 0)

	body := `{"sentence":"q","model_name":"mini","date_to":"2040-01-01","min_popularity":20,"exclude_titles":["B"]}`
	rec := ts.do(t, http.MethodPost, "/recommend", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[service.Response](t, rec)
	require.Len(t, resp.Recommendations, 1)
	assert.Equal(t, "C", resp.Recommendations[0].Title)
}

func TestRecommendEmptyMatchIsEmptyList(t *testing.T) {
	ts := newTestServer(t, 0)

	rec := ts.do(t, http.MethodPost, "/recommend", `{"sentence":"q","model_name":"mini","min_popularity":100,"max_popularity":50}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"recommendations":[]`)
}

func TestRecommendErrors(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		body   string
		status int
		detail string
	}{
		{"malformed json", "/recommend", `{"sentence":`, http.StatusBadRequest, "invalid JSON body"},
		{"missing model", "/recommend", `{"sentence":"q"}`, http.StatusBadRequest, "model_name failed required"},
		{"zero top_k", "/recommend", `{"sentence":"q","model_name":"mini","top_k":0}`, http.StatusBadRequest, "top_k failed gt"},
		{"bad date", "/recommend", `{"sentence":"q","model_name":"mini","date_from":"17/04/1902"}`, http.StatusBadRequest, "date_from failed datetime"},
		{"unknown model", "/recommend", `{"sentence":"q","model_name":"nope"}`, http.StatusBadRequest, "model nope does not exist in configuration"},
		{"out of memory", "/recommend", `{"sentence":"q","model_name":"huge"}`, http.StatusServiceUnavailable, "needs ~128.00 GB"},
		{"similar missing title", "/recommend/similar", `{"model_name":"mini"}`, http.StatusBadRequest, "title failed required"},
		{"similar unknown title", "/recommend/similar", `{"title":"Z","model_name":"mini"}`, http.StatusNotFound, `movie "Z"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, 0)
			rec := ts.do(t, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code)
			assert.Contains(t, decode[detail](t, rec).Detail, tt.detail)
		})
	}
}

func TestRecommendTimeout(t *testing.T) {
	ts := newTestServerWith(t, serverSetup{timeout: 20 * time.Millisecond, reader: blockingReader{}})

	rec := ts.do(t, http.MethodPost, "/recommend", `{"sentence":"q","model_name":"mini"}`)
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
	assert.Contains(t, decode[detail](t, rec).Detail, "deadline exceeded")
}

func TestRecommendNonFiniteEmbeddings(t *testing.T) {
	ts := newTestServerWith(t, serverSetup{matrix: []float64{math.NaN(), 0, 0.8, 0.6, 0, 1}})

	rec := ts.do(t, http.MethodPost, "/recommend", `{"sentence":"q","model_name":"mini"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode[detail](t, rec).Detail, "non-finite value NaN at row 0")
}

func TestRecommendSimilar(t *testing.T) {
	ts := newTestServer(t, 0)

	rec := ts.do(t, http.MethodPost, "/recommend/similar", `{"title":"B","model_name":"mini","date_to":"2040-01-01"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[service.Response](t, rec)
	assert.Equal(t, "bravo", resp.Sentence)
	require.Len(t, resp.Recommendations, 2)
	assert.Equal(t, "C", resp.Recommendations[0].Title)
	assert.Equal(t, "A", resp.Recommendations[1].Title)
}

func TestRecommendRateLimited(t *testing.T) {
	ts := newTestServer(t, 2)
	body := `{"sentence":"q","model_name":"mini"}`

	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/recommend", body).Code)
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/recommend", body).Code)
	assert.Equal(t, http.StatusTooManyRequests, ts.do(t, http.MethodPost, "/recommend", body).Code)

	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/titles", "").Code, "other routes are not limited")
}

func TestTitlesModelsAndCache(t *testing.T) {
	ts := newTestServer(t, 0)

	rec := ts.do(t, http.MethodGet, "/titles", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"A", "B", "C"}, decode[map[string][]string](t, rec)["titles"])

	rec = ts.do(t, http.MethodGet, "/cache", "")
	assert.Equal(t, []string{"df"}, decode[map[string][]string](t, rec)["keys"])

	ts.do(t, http.MethodPost, "/recommend", `{"sentence":"q","model_name":"mini"}`)

	rec = ts.do(t, http.MethodGet, "/models", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var listed struct {
		Models map[string]modelconfig.ModelConfig `json:"models"`
		Loaded []registry.LoadedModel             `json:"loaded"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	assert.Len(t, listed.Models, 2)
	assert.Equal(t, "mini.npy", listed.Models["mini"].EmbeddingsPath)
	require.Len(t, listed.Loaded, 1)
	assert.Equal(t, "mini", listed.Loaded[0].Name)

	rec = ts.do(t, http.MethodPost, "/cache/clear", "")
	require.Equal(t, http.StatusOK, rec.Code)
	rec = ts.do(t, http.MethodGet, "/cache", "")
	assert.Empty(t, decode[map[string][]string](t, rec)["keys"])
}

func TestReload(t *testing.T) {
	ts := newTestServer(t, 0)

	rec := ts.do(t, http.MethodPost, "/reload", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"huge", "mini"}, decode[map[string][]string](t, rec)["models"])
}

func TestEmbeddingJobEndpoints(t *testing.T) {
	ts := newTestServer(t, 0)

	rec := ts.do(t, http.MethodPost, "/jobs/embeddings", `{"model_name":"mini","output_path":"rebuilt.npy"}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	job := decode[service.JobInfo](t, rec)
	assert.Equal(t, service.JobTypeEmbeddings, job.Type)
	assert.Equal(t, "rebuilt.npy", job.OutputPath)

	require.Eventually(t, func() bool {
		req := httptest.NewRequest(http.MethodGet, "/jobs/"+job.ID, nil)
		r := httptest.NewRecorder()
		ts.handler.ServeHTTP(r, req)
		var info service.JobInfo
		return json.Unmarshal(r.Body.Bytes(), &info) == nil && info.Status == service.JobStatusCompleted
	}, 5*time.Second, 10*time.Millisecond)

	rec = ts.do(t, http.MethodGet, "/jobs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	jobs := decode[map[string][]service.JobInfo](t, rec)["jobs"]
	require.Len(t, jobs, 1)
	require.NotNil(t, jobs[0].Result)
	assert.Equal(t, 3, jobs[0].Result.Rows)

	_, err := ts.files.Read(context.Background(), "rebuilt.npy")
	assert.NoError(t, err)
}

func TestEmbeddingJobErrors(t *testing.T) {
	ts := newTestServer(t, 0)

	rec := ts.do(t, http.MethodPost, "/jobs/embeddings", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/jobs/embeddings", `{"model_name":"nope"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodGet, "/jobs/deadbeef", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, decode[detail](t, rec).Detail, "deadbeef")
}

func TestStatsAndMetrics(t *testing.T) {
	ts := newTestServer(t, 0)
	ts.do(t, http.MethodPost, "/recommend", `{"sentence":"q","model_name":"mini"}`)

	rec := ts.do(t, http.MethodGet, "/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	snap := decode[metrics.Snapshot](t, rec)
	require.NotNil(t, snap.Recommend)
	assert.Equal(t, int64(1), snap.Recommend.Count)

	rec = ts.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `movierec_http_requests_total{method="POST",route="/recommend",status="200"} 1`)
	assert.Contains(t, body, `movierec_model_loads_total{model="mini",result="success"} 1`)
	assert.Contains(t, body, `movierec_loaded_models 1`)
}

func TestUnknownRoute(t *testing.T) {
	ts := newTestServer(t, 0)

	rec := ts.do(t, http.MethodGet, "/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
