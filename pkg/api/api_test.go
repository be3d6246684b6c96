package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethpandaops/hwci/pkg/config"
	"github.com/ethpandaops/hwci/pkg/history"
	"github.com/ethpandaops/hwci/pkg/report"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	cfg   *config.Config
	build string
	snap  *report.Snapshot
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	root := t.TempDir()
	results := filepath.Join(root, "results")
	build := filepath.Join(root, "build")
	outDir := filepath.Join(build, "build_arty")

	require.NoError(t, os.MkdirAll(results, 0o755))
	require.NoError(t, os.MkdirAll(outDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(outDir, "test.rpt"), []byte("Memtest KO\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(build, "configs.yml"), []byte("secret_access_key: hunter2\n"), 0o644))

	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	rs := report.NewStore("run-1", []string{"setup", "test"}, start, "configs.yml")
	require.NoError(t, rs.Register("arty", "digilent_arty", outDir))
	require.NoError(t, rs.SetStatus("arty", "setup", report.StatusSuccess))
	require.NoError(t, rs.SetStatus("arty", "test", report.StatusTestError))
	require.NoError(t, rs.SetLog("arty", "test", filepath.Join(outDir, "test.rpt")))
	require.NoError(t, rs.SetTiming("arty", start, 30*time.Second))

	snap := rs.Snapshot()
	require.NoError(t, report.NewJSONSink(filepath.Join(results, "report.json"), nil).Write(context.Background(), snap))

	cfg := &config.Config{}
	cfg.Runner.ResultsDir = results
	cfg.Runner.BuildRoot = build
	cfg.Runner.Report.JSON = "report.json"
	cfg.Runner.Report.HTML = "report.html"
	cfg.Runner.API.Listen = "127.0.0.1:0"

	return &fixture{cfg: cfg, build: build, snap: snap}
}

func (f *fixture) handler(t *testing.T) http.Handler {
	t.Helper()

	log, _ := test.NewNullLogger()

	return newServer(log, f.cfg).buildRouter()
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	return rec
}

func TestRoutes(t *testing.T) {
	f := newFixture(t)
	h := f.handler(t)

	tests := []struct {
		name     string
		path     string
		status   int
		contains string
	}{
		{name: "health", path: "/api/v1/health", status: http.StatusOK, contains: `"ok"`},
		{name: "report", path: "/api/v1/report", status: http.StatusOK, contains: `"run_id":"run-1"`},
		{name: "report html missing", path: "/api/v1/report.html", status: http.StatusNotFound},
		{name: "config", path: "/api/v1/configs/arty", status: http.StatusOK, contains: `"TEST_ERROR"`},
		{name: "unknown config", path: "/api/v1/configs/nope", status: http.StatusNotFound},
		{name: "step log", path: "/api/v1/configs/arty/logs/test", status: http.StatusOK, contains: "Memtest KO"},
		{name: "step without log", path: "/api/v1/configs/arty/logs/setup", status: http.StatusNotFound},
		{name: "file", path: "/api/v1/files/build_arty/test.rpt", status: http.StatusOK, contains: "Memtest KO"},
		{name: "file traversal", path: "/api/v1/files/build_arty/../../x", status: http.StatusNotFound},
		{name: "config file in build root", path: "/api/v1/files/configs.yml", status: http.StatusNotFound},
		{name: "metrics", path: "/api/v1/metrics", status: http.StatusOK, contains: `hwci_step_status{config="arty",run_id="run-1",step="test",target="digilent_arty"} 3`},
		{name: "history disabled", path: "/api/v1/history/runs", status: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := get(t, h, tt.path)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())

			if tt.contains != "" {
				assert.Contains(t, rec.Body.String(), tt.contains)
			}

			assert.NotContains(t, rec.Body.String(), "hunter2")
		})
	}
}

func TestFilesServesConfiguredOutputDirsWithoutReport(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.Remove(filepath.Join(f.cfg.Runner.ResultsDir, "report.json")))

	f.cfg.Configurations = []config.ConfigurationConfig{{Name: "arty"}}
	h := f.handler(t)

	rec := get(t, h, "/api/v1/files/build_arty/test.rpt")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Memtest KO\n", rec.Body.String())

	rec = get(t, h, "/api/v1/files/configs.yml")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.NotContains(t, rec.Body.String(), "hunter2")
}

func TestConfigsListing(t *testing.T) {
	f := newFixture(t)

	rec := get(t, f.handler(t), "/api/v1/configs")
	require.Equal(t, http.StatusOK, rec.Code)

	var rows []configSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "arty", rows[0].Name)
	assert.Equal(t, "test", rows[0].Failed)
	assert.Equal(t, "SUCCESS", rows[0].Steps["setup"])
	assert.InDelta(t, 30.0, rows[0].Duration, 0.001)
}

func TestReportMissing(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.Remove(filepath.Join(f.cfg.Runner.ResultsDir, "report.json")))

	rec := get(t, f.handler(t), "/api/v1/report")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "no report available")
}

func TestRateLimit(t *testing.T) {
	f := newFixture(t)
	log, _ := test.NewNullLogger()

	s := newServer(log, f.cfg)
	s.limiter = newRateLimiterMap(2)
	h := s.buildRouter()

	assert.Equal(t, http.StatusOK, get(t, h, "/api/v1/health").Code)
	assert.Equal(t, http.StatusOK, get(t, h, "/api/v1/health").Code)
	assert.Equal(t, http.StatusTooManyRequests, get(t, h, "/api/v1/health").Code)
}

func TestExtractIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	assert.Equal(t, "10.0.0.1", extractIP(req))

	req.Header.Set("X-Forwarded-For", "192.168.1.5, 10.0.0.1")
	assert.Equal(t, "192.168.1.5", extractIP(req))
}

func TestServerLifecycleWithHistory(t *testing.T) {
	f := newFixture(t)
	f.cfg.Runner.History = config.HistoryConfig{
		Enabled: true,
		Driver:  "sqlite",
		SQLite:  config.SQLiteDatabaseConfig{Path: filepath.Join(t.TempDir(), "history.db")},
	}

	// Seed the database the same way a run does.
	log, _ := test.NewNullLogger()
	store := history.NewStore(log, &f.cfg.Runner.History)
	require.NoError(t, store.Start(context.Background()))
	require.NoError(t, store.RecordSnapshot(context.Background(), f.snap))
	require.NoError(t, store.Stop())

	srv := NewServer(log, f.cfg)
	require.NoError(t, srv.Start(context.Background()))
	t.Cleanup(func() { _ = srv.Stop() })

	base := "http://" + srv.Addr() + "/api/v1"

	resp, err := http.Get(base + "/history/runs")
	require.NoError(t, err)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var runs []history.Run
	require.NoError(t, json.Unmarshal(body, &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, "run-1", runs[0].RunID)
	assert.Equal(t, 1, runs[0].Failed)

	resp, err = http.Get(base + "/history/runs/missing")
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
