// Package metrics holds the Prometheus collectors of the service.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the HTTP and domain collectors.
type Metrics struct {
	registry *prometheus.Registry

	requests  *prometheus.CounterVec
	durations *prometheus.HistogramVec

	mutations   *prometheus.CounterVec
	summaries   *prometheus.CounterVec
	snapshots   prometheus.Counter
	skippedDocs prometheus.Counter
	subscribers prometheus.Gauge
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "salesboard_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "salesboard_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "salesboard_opportunity_mutations_total",
			Help: "Opportunity mutations by operation, mode and result",
		}, []string{"op", "mode", "result"}),
		summaries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "salesboard_summaries_total",
			Help: "Meeting summarization requests by result",
		}, []string{"result"}),
		snapshots: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "salesboard_store_snapshots_total",
			Help: "Collection snapshots delivered to subscribers",
		}),
		skippedDocs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "salesboard_store_skipped_documents_total",
			Help: "Stored documents skipped because they failed to decode",
		}),
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "salesboard_realtime_clients",
			Help: "Connected realtime clients",
		}),
	}
	m.registry.MustRegister(
		m.requests, m.durations, m.mutations, m.summaries, m.snapshots, m.skippedDocs, m.subscribers,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Middleware records request counts and latency by chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if p := rc.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.requests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		m.durations.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// Mutation counts one opportunity mutation.
func (m *Metrics) Mutation(op, mode string, err error) {
	if m == nil {
		return
	}
	m.mutations.WithLabelValues(op, mode, result(err)).Inc()
}

// Summary counts one summarization request. kind is ok, fallback or error.
func (m *Metrics) Summary(kind string) {
	if m == nil {
		return
	}
	m.summaries.WithLabelValues(kind).Inc()
}

// Snapshot counts one delivered collection snapshot.
func (m *Metrics) Snapshot() {
	if m == nil {
		return
	}
	m.snapshots.Inc()
}

// SkippedDocument counts one undecodable stored document.
func (m *Metrics) SkippedDocument() {
	if m == nil {
		return
	}
	m.skippedDocs.Inc()
}

// ClientConnected adjusts the realtime client gauge by delta.
func (m *Metrics) ClientConnected(delta int) {
	if m == nil {
		return
	}
	m.subscribers.Add(float64(delta))
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
