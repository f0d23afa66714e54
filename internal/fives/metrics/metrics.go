// Package metrics exposes prometheus metrics for HTTP traffic, the pending
// queue and sync passes. All methods are safe on a nil *Metrics.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	httpInFlight        prometheus.Gauge
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	syncPasses   *prometheus.CounterVec
	syncDuration prometheus.Histogram
	replayedOps  *prometheus.CounterVec
	queueDepth   prometheus.Gauge
	deadLetters  prometheus.Gauge
	syncState    *prometheus.GaugeVec
	buildInfo    *prometheus.GaugeVec
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_in_flight_requests",
			Help: "In-flight HTTP requests.",
		}),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path", "status"}),
		httpRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
		syncPasses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fives_sync_passes_total",
			Help: "Sync passes by outcome.",
		}, []string{"outcome"}),
		syncDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "fives_sync_duration_seconds",
			Help:    "Duration of sync passes.",
			Buckets: prometheus.DefBuckets,
		}),
		replayedOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fives_replayed_operations_total",
			Help: "Queued operations replayed against the remote store, by result.",
		}, []string{"table", "result"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fives_pending_operations",
			Help: "Operations waiting in the pending queue.",
		}),
		deadLetters: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fives_dead_letter_operations",
			Help: "Operations that exhausted their retries.",
		}),
		syncState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fives_sync_state",
			Help: "1 for the current orchestrator state.",
		}, []string{"state"}),
		buildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "build_info",
			Help: "fives build information.",
		}, []string{"version", "commit"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpInFlight, m.httpRequestsTotal, m.httpRequestDuration,
		m.syncPasses, m.syncDuration, m.replayedOps,
		m.queueDepth, m.deadLetters, m.syncState, m.buildInfo,
	)
	return m
}

// Registry exposes the registry for scraping in tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// SetBuildInfo sets build_info{version,commit} to 1.
func (m *Metrics) SetBuildInfo(version, commit string) {
	if m == nil {
		return
	}
	m.buildInfo.WithLabelValues(version, commit).Set(1)
}

// ObserveSync records a finished sync pass.
func (m *Metrics) ObserveSync(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.syncPasses.WithLabelValues(outcome).Inc()
	m.syncDuration.Observe(d.Seconds())
}

// ObserveReplay counts one replayed operation.
func (m *Metrics) ObserveReplay(table, result string) {
	if m == nil {
		return
	}
	m.replayedOps.WithLabelValues(table, result).Inc()
}

// SetQueue publishes the queue depth and dead-letter count.
func (m *Metrics) SetQueue(pending, dead int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(pending))
	m.deadLetters.Set(float64(dead))
}

// SetState marks state as the current one among states.
func (m *Metrics) SetState(state string, states ...string) {
	if m == nil {
		return
	}
	for _, s := range states {
		m.syncState.WithLabelValues(s).Set(0)
	}
	m.syncState.WithLabelValues(state).Set(1)
}

// Instrument measures request count, latency and in-flight requests.
func (m *Metrics) Instrument(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		m.httpInFlight.Inc()
		defer m.httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		status := strconv.Itoa(sw.code)
		m.httpRequestDuration.WithLabelValues(method, path, status).Observe(time.Since(start).Seconds())
		m.httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	})
}

// collections are the /v1 path segments followed by a record id.
var collections = map[string]bool{
	"companies":    true,
	"environments": true,
	"criteria":     true,
	"models":       true,
	"audits":       true,
	"audit-items":  true,
	"users":        true,
	"queue":        true,
}

// CanonicalPath replaces record ids with ":id" so label cardinality stays bounded.
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	parts := strings.Split(path, "/")
	for i := 1; i < len(parts); i++ {
		if collections[parts[i-1]] && parts[i] != "" && !isAction(parts[i]) {
			parts[i] = ":id"
		}
	}
	return strings.Join(parts, "/")
}

// isAction tells fixed sub-routes from ids.
func isAction(segment string) bool {
	switch segment {
	case "tree", "master", "auditors", "dead-letters":
		return true
	}
	return false
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
