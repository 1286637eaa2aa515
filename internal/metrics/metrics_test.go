package metrics_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/raphaelgruber/movie-recommender/internal/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorTiming(t *testing.T) {
	c := metrics.NewCollector()
	c.RecordTiming(metrics.OpRecommend, 10*time.Millisecond)
	c.RecordTiming(metrics.OpRecommend, 30*time.Millisecond)
	c.RecordError(metrics.OpRecommend)

	snap := c.Snapshot()
	require.NotNil(t, snap.Recommend)
	assert.Equal(t, int64(2), snap.Recommend.Count)
	assert.Equal(t, int64(1), snap.Recommend.Errors)
	assert.Equal(t, int64(40), snap.Recommend.TotalTimeMs)
	assert.InDelta(t, 20, snap.Recommend.AvgTimeMs, 1e-9)
	assert.Equal(t, int64(10), snap.Recommend.MinTimeMs)
	assert.Equal(t, int64(30), snap.Recommend.MaxTimeMs)
	assert.Nil(t, snap.Recommend.TotalRows, "recommend carries no row stats")
	assert.Nil(t, snap.Encode)
}

func TestCollectorRows(t *testing.T) {
	c := metrics.NewCollector()
	c.RecordRows(metrics.OpScan, time.Millisecond, 100)
	c.RecordRows(metrics.OpScan, time.Millisecond, 300)

	snap := c.Snapshot()
	require.NotNil(t, snap.Scan)
	require.NotNil(t, snap.Scan.TotalRows)
	assert.Equal(t, int64(400), *snap.Scan.TotalRows)
	assert.InDelta(t, 200, *snap.Scan.AvgRows, 1e-9)
	assert.Equal(t, int64(300), *snap.Scan.MaxRows)
}

func TestCollectorErrorsOnly(t *testing.T) {
	c := metrics.NewCollector()
	c.RecordError(metrics.OpModelLoad)

	snap := c.Snapshot()
	require.NotNil(t, snap.ModelLoad)
	assert.Equal(t, int64(0), snap.ModelLoad.Count)
	assert.Equal(t, int64(0), snap.ModelLoad.MinTimeMs)
}

func TestNilCollectorIsNoop(t *testing.T) {
	var c *metrics.Collector
	assert.NotPanics(t, func() {
		c.RecordTiming(metrics.OpEncode, time.Millisecond)
		c.RecordRows(metrics.OpEncode, time.Millisecond, 1)
		c.RecordError(metrics.OpEncode)
	})
}

func TestPrometheusInstruments(t *testing.T) {
	p := metrics.NewPrometheus()

	p.ObserveRequest("/recommend", http.MethodPost, http.StatusOK, 20*time.Millisecond)
	p.ObserveRequest("/recommend", http.MethodPost, http.StatusOK, 30*time.Millisecond)
	p.ModelLoad("mini", metrics.LoadSuccess)
	p.ModelLoad("mini", metrics.LoadHit)
	p.ModelLoad("mini", metrics.LoadHit)
	p.Eviction()
	p.SetLoadedModels(3)
	p.CacheLookup("catalog", true)
	p.CacheLookup("embeddings", false)

	expected := `
# HELP movierec_model_loads_total Model registry lookups by model and result.
# TYPE movierec_model_loads_total counter
movierec_model_loads_total{model="mini",result="hit"} 2
movierec_model_loads_total{model="mini",result="success"} 1
# HELP movierec_model_evictions_total Models evicted under memory pressure.
# TYPE movierec_model_evictions_total counter
movierec_model_evictions_total 1
# HELP movierec_loaded_models Models currently held by the registry.
# TYPE movierec_loaded_models gauge
movierec_loaded_models 3
# HELP movierec_data_cache_lookups_total Data cache lookups by key kind and result.
# TYPE movierec_data_cache_lookups_total counter
movierec_data_cache_lookups_total{kind="catalog",result="hit"} 1
movierec_data_cache_lookups_total{kind="embeddings",result="miss"} 1
# HELP movierec_http_requests_total HTTP requests by route and status code.
# TYPE movierec_http_requests_total counter
movierec_http_requests_total{method="POST",route="/recommend",status="200"} 2
`
	err := testutil.GatherAndCompare(p.Gatherer(), strings.NewReader(expected),
		"movierec_model_loads_total",
		"movierec_model_evictions_total",
		"movierec_loaded_models",
		"movierec_data_cache_lookups_total",
		"movierec_http_requests_total",
	)
	assert.NoError(t, err)

	count, err := testutil.GatherAndCount(p.Gatherer(), "movierec_http_request_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestPrometheusHandler(t *testing.T) {
	p := metrics.NewPrometheus()
	p.Eviction()

	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "movierec_model_evictions_total 1")
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestNilPrometheusIsNoop(t *testing.T) {
	var p *metrics.Prometheus
	assert.NotPanics(t, func() {
		p.ObserveRequest("/", http.MethodGet, http.StatusOK, time.Millisecond)
		p.ModelLoad("mini", metrics.LoadFailure)
		p.Eviction()
		p.SetLoadedModels(1)
		p.CacheLookup("catalog", false)
	})

	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
