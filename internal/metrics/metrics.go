package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the engine's Prometheus collectors
// ⭐ SSOT: 메트릭 정의는 여기서만
type Metrics struct {
	registry *prometheus.Registry

	stageDuration *prometheus.HistogramVec
	stageOutcome  *prometheus.CounterVec
	rowsWritten   *prometheus.CounterVec
	rowsRejected  *prometheus.CounterVec
}

// New creates and registers all collectors on a fresh registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: reg,
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ecl",
			Name:      "stage_duration_seconds",
			Help:      "Wall time of one pipeline stage execution.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900, 3600},
		}, []string{"stage"}),
		stageOutcome: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ecl",
			Name:      "stage_runs_total",
			Help:      "Pipeline stage executions by final status.",
		}, []string{"stage", "status"}),
		rowsWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ecl",
			Name:      "rows_written_total",
			Help:      "Rows persisted per stage.",
		}, []string{"stage"}),
		rowsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ecl",
			Name:      "rows_rejected_total",
			Help:      "Rows excluded from a stage because of per-row errors.",
		}, []string{"stage"}),
	}

	reg.MustRegister(m.stageDuration, m.stageOutcome, m.rowsWritten, m.rowsRejected)
	return m
}

// ObserveStage records one stage execution
func (m *Metrics) ObserveStage(stage, status string, d time.Duration, rows int) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
	m.stageOutcome.WithLabelValues(stage, status).Inc()
	if rows > 0 {
		m.rowsWritten.WithLabelValues(stage).Add(float64(rows))
	}
}

// RejectRows counts rows excluded by per-row errors
func (m *Metrics) RejectRows(stage string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.rowsRejected.WithLabelValues(stage).Add(float64(n))
}

// Registry exposes the underlying registry (tests, custom exporters)
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the /metrics HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
