package monitor

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors of one server. Each Metrics owns
// its registry so several servers can live in one process.
type Metrics struct {
	registry *prometheus.Registry

	queryLatency *prometheus.HistogramVec
	queries      *prometheus.CounterVec
	builds       *prometheus.CounterVec
	indexes      prometheus.Gauge
	segments     *prometheus.GaugeVec
	rateLimited  prometheus.Counter
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		queryLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "plaindex_query_duration_seconds",
			Help:    "Latency of index queries.",
			Buckets: prometheus.ExponentialBuckets(1e-7, 4, 10),
		}, []string{"op"}),
		queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "plaindex_queries_total",
			Help: "Index queries by operation and outcome.",
		}, []string{"op", "outcome"}),
		builds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "plaindex_builds_total",
			Help: "Index builds and loads by outcome.",
		}, []string{"outcome"}),
		indexes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "plaindex_indexes",
			Help: "Number of registered indexes.",
		}),
		segments: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "plaindex_index_segments",
			Help: "Segments per registered index.",
		}, []string{"index"}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "plaindex_rate_limited_total",
			Help: "Requests rejected by the rate limiter.",
		}),
	}
	m.registry.MustRegister(m.queryLatency, m.queries, m.builds, m.indexes, m.segments, m.rateLimited)
	return m
}

// ObserveQuery records one query. outcome is hit, miss, located or error.
func (m *Metrics) ObserveQuery(op, outcome string, elapsed time.Duration) {
	m.queryLatency.WithLabelValues(op).Observe(elapsed.Seconds())
	m.queries.WithLabelValues(op, outcome).Inc()
}

func (m *Metrics) ObserveBuild(err error) {
	if err != nil {
		m.builds.WithLabelValues("error").Inc()
		return
	}
	m.builds.WithLabelValues("ok").Inc()
}

// SetIndex publishes the segment count of a registered index.
func (m *Metrics) SetIndex(name string, segments int) {
	m.segments.WithLabelValues(name).Set(float64(segments))
}

func (m *Metrics) DropIndex(name string) {
	m.segments.DeleteLabelValues(name)
}

func (m *Metrics) SetIndexCount(n int) { m.indexes.Set(float64(n)) }

func (m *Metrics) RateLimited() { m.rateLimited.Inc() }

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
