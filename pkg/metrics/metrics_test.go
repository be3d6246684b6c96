package metrics

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ethpandaops/hwci/pkg/report"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleSnapshot(t *testing.T) *report.Snapshot {
	t.Helper()

	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	rs := report.NewStore("run-1", []string{"setup", "test"}, start, "configs.yml")
	require.NoError(t, rs.Register("arty", "digilent_arty", ""))
	require.NoError(t, rs.Register("acorn", "sqrl_acorn", ""))
	require.NoError(t, rs.SetStatus("arty", "setup", report.StatusSuccess))
	require.NoError(t, rs.SetStatus("arty", "test", report.StatusTestError))
	require.NoError(t, rs.SetTiming("arty", start, 42*time.Second))

	return rs.Snapshot()
}

func gauge(t *testing.T, m *Metrics, name string, labels map[string]string) (float64, int) {
	t.Helper()

	families, err := m.Registry().Gather()
	require.NoError(t, err)

	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}

		for _, metric := range mf.GetMetric() {
			matched := 0

			for _, lp := range metric.GetLabel() {
				if v, ok := labels[lp.GetName()]; ok && v == lp.GetValue() {
					matched++
				}
			}

			if matched == len(labels) {
				return metric.GetGauge().GetValue(), len(mf.GetMetric())
			}
		}
	}

	t.Fatalf("metric %s%v not found", name, labels)

	return 0, 0
}

func TestObserve(t *testing.T) {
	m := New()
	m.Observe(sampleSnapshot(t))

	v, _ := gauge(t, m, "hwci_step_status", map[string]string{"config": "arty", "step": "test"})
	assert.InDelta(t, 3.0, v, 0)

	v, _ = gauge(t, m, "hwci_step_status", map[string]string{"config": "acorn", "step": "setup"})
	assert.InDelta(t, 4.0, v, 0)

	v, _ = gauge(t, m, "hwci_config_duration_seconds", map[string]string{"config": "arty"})
	assert.InDelta(t, 42.0, v, 0.001)

	v, _ = gauge(t, m, "hwci_configurations", map[string]string{"result": "failed"})
	assert.InDelta(t, 1.0, v, 0)

	v, _ = gauge(t, m, "hwci_configurations", map[string]string{"result": "total"})
	assert.InDelta(t, 2.0, v, 0)

	// Observing again must not duplicate series.
	m.Observe(sampleSnapshot(t))

	_, series := gauge(t, m, "hwci_step_status", map[string]string{"config": "arty"})
	assert.Equal(t, 4, series)
}

func TestTextfileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prom", "hwci.prom")
	sink := NewTextfileSink(path)

	require.NoError(t, sink.Write(context.Background(), sampleSnapshot(t)))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	text := string(data)
	assert.True(t, strings.Contains(text, `hwci_step_status{config="arty",run_id="run-1",step="test",target="digilent_arty"} 3`), text)
	assert.Contains(t, text, "hwci_run_duration_seconds 42")
}
