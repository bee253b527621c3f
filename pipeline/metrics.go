package pipeline

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds run level Prometheus collectors.
type Metrics struct {
	RunsTotal                *prometheus.CounterVec
	RunDuration              prometheus.Histogram
	RetriesTotal             prometheus.Counter
	RowsPersistedTotal       prometheus.Counter
	NormalizeDuplicatesTotal prometheus.Counter
	ExportFailuresTotal      prometheus.Counter
}

// NewMetrics creates the run metrics and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "etl_runs_total",
				Help: "Total pipeline runs by outcome.",
			},
			[]string{"status"},
		),
		RunDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "etl_run_duration_seconds",
				Help:    "Wall time of a single pipeline run.",
				Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
			},
		),
		RetriesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "etl_run_retries_total",
				Help: "Total number of whole-run retries.",
			},
		),
		RowsPersistedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "etl_rows_persisted_total",
				Help: "Total rows appended to the destination table.",
			},
		),
		NormalizeDuplicatesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "etl_normalize_duplicates_total",
				Help: "Total records dropped by the normalizer for a repeated title.",
			},
		),
		ExportFailuresTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "etl_export_failures_total",
				Help: "Total export writes that failed after the rows were committed.",
			},
		),
	}
	reg.MustRegister(m.RunsTotal, m.RunDuration, m.RetriesTotal, m.RowsPersistedTotal, m.NormalizeDuplicatesTotal, m.ExportFailuresTotal)
	return m
}

// ObserveRun counts a finished run and records its duration.
func (m *Metrics) ObserveRun(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(status).Inc()
	m.RunDuration.Observe(d.Seconds())
}

func (m *Metrics) IncRetry() {
	if m == nil {
		return
	}
	m.RetriesTotal.Inc()
}

func (m *Metrics) AddRows(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.RowsPersistedTotal.Add(float64(n))
}

func (m *Metrics) AddNormalizeDuplicates(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.NormalizeDuplicatesTotal.Add(float64(n))
}

func (m *Metrics) IncExportFailure() {
	if m == nil {
		return
	}
	m.ExportFailuresTotal.Inc()
}
