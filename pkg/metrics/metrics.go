// Package metrics exports run results in the Prometheus text format, for the
// node exporter textfile collector.
package metrics

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ethpandaops/hwci/pkg/report"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "hwci"

// Metrics holds the gauges describing one run. Each Metrics has its own
// registry so repeated flushes replace rather than accumulate series.
type Metrics struct {
	registry *prometheus.Registry

	stepStatus     *prometheus.GaugeVec
	configDuration *prometheus.GaugeVec
	configs        *prometheus.GaugeVec
	totalDuration  prometheus.Gauge
	lastUpdate     prometheus.Gauge
}

// New creates a Metrics with a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		stepStatus: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "step_status",
			Help:      "Status code of a pipeline step (0 success, 1 build error, 2 load error, 3 test error, 4 not run)",
		}, []string{"run_id", "config", "target", "step"}),
		configDuration: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "config_duration_seconds",
			Help:      "Elapsed time of a configuration pipeline",
		}, []string{"run_id", "config", "target"}),
		configs: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "configurations",
			Help:      "Number of configurations by result",
		}, []string{"run_id", "result"}),
		totalDuration: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Sum of all configuration durations",
		}),
		lastUpdate: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_update_timestamp_seconds",
			Help:      "Time the report was last generated",
		}),
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Observe replaces all gauges with the values of the snapshot.
func (m *Metrics) Observe(snap *report.Snapshot) {
	m.stepStatus.Reset()
	m.configDuration.Reset()
	m.configs.Reset()

	for _, row := range snap.Rows() {
		for _, step := range snap.Steps {
			m.stepStatus.
				WithLabelValues(snap.RunID, row.Name, row.Entry.Target, step).
				Set(float64(row.Entry.Steps[step]))
		}

		m.configDuration.
			WithLabelValues(snap.RunID, row.Name, row.Entry.Target).
			Set(row.Entry.Duration)
	}

	s := snap.Summary
	m.configs.WithLabelValues(snap.RunID, "total").Set(float64(s.Total))
	m.configs.WithLabelValues(snap.RunID, "executed").Set(float64(s.Executed))
	m.configs.WithLabelValues(snap.RunID, "passed").Set(float64(s.Passed))
	m.configs.WithLabelValues(snap.RunID, "failed").Set(float64(s.Failed))

	m.totalDuration.Set(s.TotalDuration)
	m.lastUpdate.Set(float64(snap.GeneratedAt.Unix()))
}

// TextfileSink writes the metrics of every snapshot to a .prom file.
type TextfileSink struct {
	path    string
	metrics *Metrics
}

var _ report.Sink = (*TextfileSink)(nil)

// NewTextfileSink creates a sink writing to path.
func NewTextfileSink(path string) *TextfileSink {
	return &TextfileSink{path: path, metrics: New()}
}

// Name implements report.Sink.
func (s *TextfileSink) Name() string { return "metrics" }

// Write implements report.Sink.
func (s *TextfileSink) Write(_ context.Context, snap *report.Snapshot) error {
	s.metrics.Observe(snap)

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("creating metrics directory: %w", err)
	}

	if err := prometheus.WriteToTextfile(s.path, s.metrics.Registry()); err != nil {
		return fmt.Errorf("writing metrics textfile: %w", err)
	}

	return nil
}
