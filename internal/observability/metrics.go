package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Ingestion outcomes used as metric labels.
const (
	OutcomeIndexed = "indexed"
	OutcomeFailed  = "failed"
	OutcomeNoText  = "no_text"
)

// PipelineMetrics holds the Prometheus collectors of the service.
type PipelineMetrics struct {
	Registry *prometheus.Registry

	IngestTotal     *prometheus.CounterVec
	IngestDuration  prometheus.Histogram
	StageDuration   *prometheus.HistogramVec
	IngestInFlight  prometheus.Gauge
	QueueDepth      prometheus.Gauge
	DuplicatesTotal prometheus.Counter

	IndexSize prometheus.Gauge

	SearchTotal    *prometheus.CounterVec
	SearchDuration *prometheus.HistogramVec
	SearchResults  prometheus.Histogram

	CallbackTotal *prometheus.CounterVec

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewPipelineMetrics registers all collectors on a fresh registry, together
// with the Go runtime and process collectors.
func NewPipelineMetrics() *PipelineMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &PipelineMetrics{
		Registry: reg,

		IngestTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "docintel_ingest_total",
			Help: "Documents processed, by outcome",
		}, []string{"outcome"}),
		IngestDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "docintel_ingest_duration_seconds",
			Help:    "End-to-end duration of one document ingestion",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		StageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "docintel_stage_duration_seconds",
			Help:    "Duration of each pipeline stage",
			Buckets: prometheus.DefBuckets,
		}, []string{"stage"}),
		IngestInFlight: f.NewGauge(prometheus.GaugeOpts{
			Name: "docintel_ingest_in_flight",
			Help: "Ingestions currently running",
		}),
		QueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "docintel_ingest_queue_depth",
			Help: "Ingestion requests waiting for a worker",
		}),
		DuplicatesTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "docintel_duplicates_total",
			Help: "Ingested documents whose content hash was already indexed",
		}),

		IndexSize: f.NewGauge(prometheus.GaugeOpts{
			Name: "docintel_index_size",
			Help: "Vectors stored in the index",
		}),

		SearchTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "docintel_search_total",
			Help: "Search requests, by kind",
		}, []string{"kind"}),
		SearchDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "docintel_search_duration_seconds",
			Help:    "Search latency, by kind",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind"}),
		SearchResults: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "docintel_search_results",
			Help:    "Number of results returned per search",
			Buckets: []float64{0, 1, 2, 5, 10, 20, 50},
		}),

		CallbackTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "docintel_callback_total",
			Help: "Result callbacks sent, by outcome",
		}, []string{"outcome"}),

		HTTPRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "docintel_http_requests_total",
			Help: "HTTP requests, by route and status code",
		}, []string{"route", "code"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "docintel_http_request_duration_seconds",
			Help:    "HTTP request latency, by route",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *PipelineMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

// RecordIngest records a finished ingestion.
func (m *PipelineMetrics) RecordIngest(duration time.Duration, outcome string) {
	m.IngestTotal.WithLabelValues(outcome).Inc()
	m.IngestDuration.Observe(duration.Seconds())
}

// ObserveStage records the duration of one pipeline stage.
func (m *PipelineMetrics) ObserveStage(stage string, start time.Time) {
	m.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

// RecordSearch records a finished search.
func (m *PipelineMetrics) RecordSearch(kind string, duration time.Duration, results int) {
	m.SearchTotal.WithLabelValues(kind).Inc()
	m.SearchDuration.WithLabelValues(kind).Observe(duration.Seconds())
	m.SearchResults.Observe(float64(results))
}

// RecordCallback records a callback delivery attempt.
func (m *PipelineMetrics) RecordCallback(err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.CallbackTotal.WithLabelValues(outcome).Inc()
}

var (
	globalMetrics *PipelineMetrics
	metricsOnce   sync.Once
)

// Metrics returns the process-wide metrics instance.
func Metrics() *PipelineMetrics {
	metricsOnce.Do(func() {
		globalMetrics = NewPipelineMetrics()
	})
	return globalMetrics
}
