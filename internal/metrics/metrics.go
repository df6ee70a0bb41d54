// Package metrics provides Prometheus metrics for the bulk load generator.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for a load run.
type Metrics struct {
	Registry *prometheus.Registry

	// Document and byte throughput
	DocsSent   prometheus.Counter
	DocsFailed prometheus.Counter
	BytesSent  prometheus.Counter

	// Bulk request outcomes
	Batches         *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	TransportErrors prometheus.Counter

	// Worker lifecycle
	WorkersReady  prometheus.Gauge
	WorkersActive prometheus.Gauge
	WorkerErrors  prometheus.Counter

	// Throughput
	DocsPerSecond prometheus.Gauge
}

// Init creates the metrics on a fresh registry, so separate runs and tests
// never collide on registration.
func Init(namespace string) *Metrics {
	if namespace == "" {
		namespace = "bulk_loadgen"
	}

	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	m := &Metrics{
		Registry: reg,
		DocsSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "docs_sent_total",
			Help:      "Documents in bulk requests accepted by the endpoint",
		}),
		DocsFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "docs_failed_total",
			Help:      "Documents in bulk requests rejected by the endpoint",
		}),
		BytesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_sent_total",
			Help:      "Bulk body bytes delivered to the endpoint",
		}),
		Batches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_total",
			Help:      "Bulk requests by outcome",
		}, []string{"outcome"}),
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "bulk_request_duration_seconds",
			Help:      "Latency of a single bulk request",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 16), // 1ms to ~32s
		}, []string{"outcome"}),
		TransportErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transport_errors_total",
			Help:      "Bulk requests that failed below HTTP",
		}),
		WorkersReady: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "workers_ready",
			Help:      "Workers positioned at their range start and waiting for release",
		}),
		WorkersActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "workers_active",
			Help:      "Workers currently sending",
		}),
		WorkerErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_errors_total",
			Help:      "Workers that stopped on a fatal error",
		}),
		DocsPerSecond: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "docs_per_second",
			Help:      "Average documents sent per second since release",
		}),
	}

	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// StartServer starts an HTTP server for Prometheus metrics scraping.
// Blocks until the server exits.
func (m *Metrics) StartServer(address string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	srv := &http.Server{Addr: address, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	return srv.ListenAndServe()
}

// ObserveBatch records one bulk request that got an HTTP response.
func (m *Metrics) ObserveBatch(ok bool, docs, bytes int, latency time.Duration) {
	outcome := "failed"
	if ok {
		outcome = "ok"
		m.DocsSent.Add(float64(docs))
	} else {
		m.DocsFailed.Add(float64(docs))
	}
	m.BytesSent.Add(float64(bytes))
	m.Batches.WithLabelValues(outcome).Inc()
	m.RequestDuration.WithLabelValues(outcome).Observe(latency.Seconds())
}

// ObserveTransportError records a bulk request that never got a response.
func (m *Metrics) ObserveTransportError(docs int) {
	m.TransportErrors.Inc()
	m.DocsFailed.Add(float64(docs))
	m.Batches.WithLabelValues("transport_error").Inc()
}

// SetWorkersReady sets the number of workers waiting at the barrier.
func (m *Metrics) SetWorkersReady(n int) {
	m.WorkersReady.Set(float64(n))
}

// IncWorkerErrors counts a worker that stopped on a fatal error.
func (m *Metrics) IncWorkerErrors() {
	m.WorkerErrors.Inc()
}

// SetDocsPerSecond sets the current processing rate.
func (m *Metrics) SetDocsPerSecond(rate float64) {
	m.DocsPerSecond.Set(rate)
}
