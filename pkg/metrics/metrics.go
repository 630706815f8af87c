// Package metrics provides Prometheus metrics for a segmentation run.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"lapse-cohort/pkg/models"
)

const namespace = "lapse_cohort"

// Run holds the metrics of one run on a private registry. A nil *Run records nothing.
type Run struct {
	Registry *prometheus.Registry

	// SourceRows tracks rows read per source
	SourceRows *prometheus.CounterVec
	// DroppedRows tracks malformed rows dropped per source and reason
	DroppedRows *prometheus.CounterVec
	// StageRows tracks the size of every intermediate dataset
	StageRows *prometheus.GaugeVec
	// Runs tracks finished runs by status
	Runs *prometheus.CounterVec
	// Duration tracks run duration in seconds
	Duration prometheus.Histogram
}

// New creates the run metrics on a fresh registry.
func New() *Run {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Run{
		Registry: reg,
		SourceRows: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "source",
				Name:      "rows_total",
				Help:      "Total number of rows read per source",
			},
			[]string{"source"},
		),
		DroppedRows: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "source",
				Name:      "dropped_rows_total",
				Help:      "Total number of malformed rows dropped per source and reason",
			},
			[]string{"source", "reason"},
		),
		StageRows: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "pipeline",
				Name:      "stage_rows",
				Help:      "Number of rows produced by each pipeline stage",
			},
			[]string{"stage"},
		),
		Runs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "pipeline",
				Name:      "runs_total",
				Help:      "Total number of pipeline runs by status",
			},
			[]string{"status"},
		),
		Duration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "pipeline",
				Name:      "run_duration_seconds",
				Help:      "Duration of pipeline runs in seconds",
				Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300, 900, 1800},
			},
		),
	}
}

func (m *Run) ObserveSource(source string, rows int) {
	if m == nil {
		return
	}
	m.SourceRows.WithLabelValues(source).Add(float64(rows))
}

func (m *Run) ObserveStage(stage string, rows int) {
	if m == nil {
		return
	}
	m.StageRows.WithLabelValues(stage).Set(float64(rows))
}

func (m *Run) ObserveDrops(drops models.DropCounts) {
	if m == nil {
		return
	}
	for _, k := range drops.Keys() {
		m.DroppedRows.WithLabelValues(k.Source, k.Reason).Add(float64(drops[k]))
	}
}

func (m *Run) ObserveRun(status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Runs.WithLabelValues(status).Inc()
	m.Duration.Observe(elapsed.Seconds())
}

// WriteTextfile writes the registry in the node-exporter textfile format.
func (m *Run) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.Registry)
}
