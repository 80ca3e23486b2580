// Package metrics provides Prometheus instrumentation for sharecore workers
// and the shared catalog.
package metrics

import (
	"net/http"
	"time"

	"github.com/opd-ai/sharecore/catalog"
	"github.com/opd-ai/sharecore/transfer"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors of one node. Each instance owns its registry
// so several nodes can live in one process.
type Metrics struct {
	registry *prometheus.Registry

	workersActive  *prometheus.GaugeVec
	workersTotal   *prometheus.CounterVec
	workerDuration *prometheus.HistogramVec
	bytesTotal     *prometheus.CounterVec

	catalogEntries prometheus.Gauge
	catalogBytes   prometheus.Gauge
	catalogVersion prometheus.Gauge
}

// New creates the collectors on a fresh registry that also carries the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		workersActive: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "sharecore_workers_active",
				Help: "Number of running workers",
			},
			[]string{"role"},
		),
		workersTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sharecore_workers_total",
				Help: "Total finished workers by outcome",
			},
			[]string{"role", "op", "result"},
		),
		workerDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sharecore_worker_duration_seconds",
				Help:    "Worker lifetime from start to terminal event",
				Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
			},
			[]string{"role", "op"},
		),
		bytesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sharecore_bytes_total",
				Help: "File bytes moved, sent by servers and received by clients",
			},
			[]string{"role"},
		),

		catalogEntries: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "sharecore_catalog_entries",
				Help: "Number of files in the published catalog",
			},
		),
		catalogBytes: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "sharecore_catalog_bytes",
				Help: "Total size of the files in the published catalog",
			},
		),
		catalogVersion: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "sharecore_catalog_version",
				Help: "Version of the published catalog snapshot",
			},
		),
	}
}

// Registry returns the registry the collectors live in.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the Prometheus metrics HTTP handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// WorkerStarted records a worker entering its exchange.
func (m *Metrics) WorkerStarted(role transfer.Role, op transfer.Op) {
	m.workersActive.WithLabelValues(role.String()).Inc()
}

// WorkerFinished records a worker's terminal event.
func (m *Metrics) WorkerFinished(role transfer.Role, op transfer.Op, kind transfer.EventKind, duration time.Duration) {
	m.workersActive.WithLabelValues(role.String()).Dec()
	m.workersTotal.WithLabelValues(role.String(), op.String(), kind.String()).Inc()
	m.workerDuration.WithLabelValues(role.String(), op.String()).Observe(duration.Seconds())
}

// BytesTransferred adds n file bytes moved by a worker of role.
func (m *Metrics) BytesTransferred(role transfer.Role, n uint64) {
	m.bytesTotal.WithLabelValues(role.String()).Add(float64(n))
}

// ObserveCatalog records a newly published snapshot. It has the signature
// of a catalog publish hook.
func (m *Metrics) ObserveCatalog(snap *catalog.Snapshot) {
	m.catalogEntries.Set(float64(snap.Len()))
	m.catalogBytes.Set(float64(snap.TotalSize()))
	m.catalogVersion.Set(float64(snap.Version()))
}
