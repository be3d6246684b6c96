package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"slices"
	"strconv"

	"github.com/ethpandaops/hwci/pkg/history"
	"github.com/ethpandaops/hwci/pkg/metrics"
	"github.com/ethpandaops/hwci/pkg/report"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const defaultHistoryLimit = 50

// errorResponse is a standard error payload.
type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON encodes v as JSON and writes it to w.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encoding response", http.StatusInternalServerError)
	}
}

// configSummary is one row of the configuration listing.
type configSummary struct {
	Name     string            `json:"name"`
	Target   string            `json:"target,omitempty"`
	Steps    map[string]string `json:"steps"`
	Failed   string            `json:"failed_step,omitempty"`
	Duration float64           `json:"duration"`
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// loadSnapshot reads the latest report, answering 404 when no run has
// written one yet.
func (s *server) loadSnapshot(w http.ResponseWriter) (*report.Snapshot, bool) {
	snap, err := report.ReadSnapshot(s.reportPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			writeJSON(w, http.StatusNotFound, errorResponse{"no report available"})

			return nil, false
		}

		s.log.WithError(err).Warn("Failed to read report")
		writeJSON(w, http.StatusInternalServerError, errorResponse{"reading report"})

		return nil, false
	}

	return snap, true
}

func (s *server) handleReport(w http.ResponseWriter, _ *http.Request) {
	snap, ok := s.loadSnapshot(w)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, snap)
}

func (s *server) handleReportHTML(w http.ResponseWriter, r *http.Request) {
	if _, err := os.Stat(s.htmlPath); err != nil {
		writeJSON(w, http.StatusNotFound, errorResponse{"no report available"})

		return
	}

	http.ServeFile(w, r, s.htmlPath)
}

// handleMetrics renders the latest report in the Prometheus text format.
func (s *server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.loadSnapshot(w)
	if !ok {
		return
	}

	m := metrics.New()
	m.Observe(snap)

	promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{}).ServeHTTP(w, r)
}

func (s *server) handleConfigs(w http.ResponseWriter, _ *http.Request) {
	snap, ok := s.loadSnapshot(w)
	if !ok {
		return
	}

	rows := snap.Rows()
	out := make([]configSummary, 0, len(rows))

	for _, row := range rows {
		out = append(out, summarizeEntry(snap, row.Name, row.Entry))
	}

	writeJSON(w, http.StatusOK, out)
}

func (s *server) handleConfig(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.loadSnapshot(w)
	if !ok {
		return
	}

	name := chi.URLParam(r, "name")

	entry, exists := snap.Configs[name]
	if !exists {
		writeJSON(w, http.StatusNotFound, errorResponse{"configuration not found"})

		return
	}

	writeJSON(w, http.StatusOK, entry)
}

// handleStepLog serves the log a step wrote during the latest run.
func (s *server) handleStepLog(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.loadSnapshot(w)
	if !ok {
		return
	}

	name := chi.URLParam(r, "name")
	step := chi.URLParam(r, "step")

	entry, exists := snap.Configs[name]
	if !exists {
		writeJSON(w, http.StatusNotFound, errorResponse{"configuration not found"})

		return
	}

	logPath := entry.Logs[step]
	if logPath == "" {
		writeJSON(w, http.StatusNotFound, errorResponse{"no log for step"})

		return
	}

	if err := s.files.ServePath(w, r, logPath, s.servedOutputDirs(snap)); err != nil {
		writeJSON(w, http.StatusNotFound, errorResponse{"log not found"})
	}
}

func (s *server) handleFileRequest(w http.ResponseWriter, r *http.Request) {
	filePath := chi.URLParam(r, "*")
	if filePath == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{"file path is required"})

		return
	}

	// A missing report only limits the served directories to the configured
	// ones.
	snap, _ := report.ReadSnapshot(s.reportPath)

	if err := s.files.ServeFile(w, r, filePath, s.servedOutputDirs(snap)); err != nil {
		writeJSON(w, http.StatusNotFound, errorResponse{"file not found"})
	}
}

// servedOutputDirs returns the output directories of the configured
// configurations and of those recorded in snap.
func (s *server) servedOutputDirs(snap *report.Snapshot) []string {
	dirs := slices.Clone(s.outputDirs)

	if snap != nil {
		for _, name := range snap.Order {
			if e, ok := snap.Configs[name]; ok && e.OutputDir != "" {
				dirs = append(dirs, e.OutputDir)
			}
		}
	}

	return dirs
}

func (s *server) handleHistoryRuns(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit

	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{"invalid limit"})

			return
		}

		limit = n
	}

	runs, err := s.history.ListRuns(r.Context(), limit)
	if err != nil {
		s.log.WithError(err).Warn("Failed to list runs")
		writeJSON(w, http.StatusInternalServerError, errorResponse{"listing runs"})

		return
	}

	writeJSON(w, http.StatusOK, runs)
}

func (s *server) handleHistoryRun(w http.ResponseWriter, r *http.Request) {
	run, configs, steps, err := s.history.GetRun(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		if errors.Is(err, history.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorResponse{"run not found"})

			return
		}

		s.log.WithError(err).Warn("Failed to get run")
		writeJSON(w, http.StatusInternalServerError, errorResponse{"getting run"})

		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"run":            run,
		"configurations": configs,
		"steps":          steps,
	})
}

func summarizeEntry(snap *report.Snapshot, name string, e *report.Entry) configSummary {
	out := configSummary{
		Name:     name,
		Target:   e.Target,
		Steps:    make(map[string]string, len(e.Steps)),
		Duration: e.Duration,
	}

	for step, status := range e.Steps {
		out.Steps[step] = status.String()
	}

	if step, failed := e.Failed(snap.Steps); failed {
		out.Failed = step
	}

	return out
}
