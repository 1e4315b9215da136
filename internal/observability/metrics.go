package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "amm_index"

// Metrics holds the Prometheus collectors for index runs.
type Metrics struct {
	StageDuration *prometheus.HistogramVec // labels: pipeline, stage
	Cells         *prometheus.CounterVec   // labels: stage, outcome={processed,masked,degenerate}
	RowsExported  *prometheus.CounterVec   // labels: pipeline, sink
	Runs          *prometheus.CounterVec   // labels: pipeline, status={ok,error}

	// MemberMismatch is the loaded minus the configured ensemble member count.
	MemberMismatch prometheus.Gauge
}

func newMetrics() *Metrics {
	return &Metrics{
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of each pipeline stage.",
			Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 15, 60},
		}, []string{"pipeline", "stage"}),
		Cells: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cells_total",
			Help:      "Grid cells handled by per-cell stages, by outcome.",
		}, []string{"stage", "outcome"}),
		RowsExported: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_exported_total",
			Help:      "Index rows written, by sink.",
		}, []string{"pipeline", "sink"}),
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Completed pipeline runs by status.",
		}, []string{"pipeline", "status"}),
		MemberMismatch: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ensemble_member_mismatch",
			Help:      "Loaded minus configured ensemble member count.",
		}),
	}
}

// NewMetrics creates the metrics and registers them with the default registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(m.collectors()...)
	return m
}

// NewMetricsForTesting creates unregistered metrics so tests can build as
// many as they need.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{m.StageDuration, m.Cells, m.RowsExported, m.Runs, m.MemberMismatch}
}
