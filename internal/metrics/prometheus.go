package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "movierec"

// Model load results.
const (
	LoadSuccess = "success"
	LoadFailure = "failure"
	LoadHit     = "hit"
)

// Prometheus holds the exported instruments. Methods are safe to call on a
// nil receiver so components can run without metrics.
type Prometheus struct {
	registry *prometheus.Registry

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	modelLoads      *prometheus.CounterVec
	evictions       prometheus.Counter
	cacheLookups    *prometheus.CounterVec
	loadedModels    prometheus.Gauge
}

// NewPrometheus creates the instruments on a dedicated registry that also
// carries the Go runtime and process collectors.
func NewPrometheus() *Prometheus {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	p := &Prometheus{
		registry: reg,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"route", "method", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
		modelLoads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_loads_total",
			Help:      "Model registry lookups by model and result.",
		}, []string{"model", "result"}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_evictions_total",
			Help:      "Models evicted under memory pressure.",
		}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "data_cache_lookups_total",
			Help:      "Data cache lookups by key kind and result.",
		}, []string{"kind", "result"}),
		loadedModels: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "loaded_models",
			Help:      "Models currently held by the registry.",
		}),
	}
	reg.MustRegister(p.requests, p.requestDuration, p.modelLoads, p.evictions, p.cacheLookups, p.loadedModels)
	return p
}

// Handler serves the registry in the Prometheus exposition format.
func (p *Prometheus) Handler() http.Handler {
	if p == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{Registry: p.registry})
}

// Gatherer exposes the underlying registry for tests.
func (p *Prometheus) Gatherer() prometheus.Gatherer {
	return p.registry
}

// ObserveRequest records one HTTP request.
func (p *Prometheus) ObserveRequest(route, method string, status int, duration time.Duration) {
	if p == nil {
		return
	}
	p.requests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	p.requestDuration.WithLabelValues(route, method).Observe(duration.Seconds())
}

// ModelLoad records a registry lookup outcome.
func (p *Prometheus) ModelLoad(model, result string) {
	if p == nil {
		return
	}
	p.modelLoads.WithLabelValues(model, result).Inc()
}

// Eviction records one evicted model.
func (p *Prometheus) Eviction() {
	if p == nil {
		return
	}
	p.evictions.Inc()
}

// SetLoadedModels sets the number of models held by the registry.
func (p *Prometheus) SetLoadedModels(n int) {
	if p == nil {
		return
	}
	p.loadedModels.Set(float64(n))
}

// CacheLookup records a data cache hit or miss.
func (p *Prometheus) CacheLookup(kind string, hit bool) {
	if p == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	p.cacheLookups.WithLabelValues(kind, result).Inc()
}
