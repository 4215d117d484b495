// Package metrics provides Prometheus metrics for the worker and the bridge.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns its registry so several sessions or tests can coexist.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	sampleWindows   *prometheus.CounterVec
	sampleBytes     prometheus.Counter
	mountedFiles    prometheus.Gauge
	chunkCacheHits  *prometheus.CounterVec
	pendingCalls    prometheus.Gauge
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sandsampler_requests_total",
				Help: "Total number of requests handled by the worker",
			},
			[]string{"action", "status"},
		),

		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sandsampler_request_duration_seconds",
				Help:    "Request handling duration in seconds",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
			},
			[]string{"action"},
		),

		sampleWindows: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sandsampler_sample_windows_total",
				Help: "Sample requests by outcome",
			},
			[]string{"outcome"},
		),

		sampleBytes: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "sandsampler_sample_bytes_visited_total",
				Help: "Bytes covered by returned sample windows",
			},
		),

		mountedFiles: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "sandsampler_mounted_files",
				Help: "Number of files currently mounted",
			},
		),

		chunkCacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sandsampler_chunk_cache_lookups_total",
				Help: "Derived chunk lookups by result",
			},
			[]string{"result"},
		),

		pendingCalls: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "sandsampler_bridge_pending_calls",
				Help: "Calls sent by the bridge and not yet settled",
			},
		),
	}
}

func (m *Metrics) RecordRequest(action, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(action, status).Inc()
	m.requestDuration.WithLabelValues(action).Observe(d.Seconds())
}

// RecordSample counts one sample outcome: window, done, no_boundary or error.
func (m *Metrics) RecordSample(outcome string, bytes int64) {
	if m == nil {
		return
	}
	m.sampleWindows.WithLabelValues(outcome).Inc()
	if bytes > 0 {
		m.sampleBytes.Add(float64(bytes))
	}
}

func (m *Metrics) SetMountedFiles(n int) {
	if m == nil {
		return
	}
	m.mountedFiles.Set(float64(n))
}

func (m *Metrics) RecordChunkLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.chunkCacheHits.WithLabelValues(result).Inc()
}

func (m *Metrics) SetPendingCalls(n int) {
	if m == nil {
		return
	}
	m.pendingCalls.Set(float64(n))
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the HTTP handler for /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
