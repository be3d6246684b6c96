package report

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/ethpandaops/hwci/pkg/sysinfo"
)

// Snapshot is the immutable view of a Store handed to renderers.
type Snapshot struct {
	RunID       string            `json:"run_id"`
	GeneratedAt time.Time         `json:"generated"`
	StartTime   time.Time         `json:"start_time"`
	ConfigsFile string            `json:"configs_file,omitempty"`
	Steps       []string          `json:"steps"`
	Order       []string          `json:"order"`
	Configs     map[string]*Entry `json:"configs"`
	System      *sysinfo.Info     `json:"system,omitempty"`
	Summary     Summary           `json:"summary"`
}

// Entry is the report row of a single configuration.
type Entry struct {
	Target    string            `json:"target,omitempty"`
	OutputDir string            `json:"output_dir,omitempty"`
	Steps     map[string]Status `json:"steps"`
	Logs      map[string]string `json:"logs,omitempty"`
	Time      *time.Time        `json:"time,omitempty"`
	// Duration is the elapsed wall-clock time in seconds.
	Duration float64 `json:"duration"`
}

// Summary aggregates a snapshot.
type Summary struct {
	Total    int `json:"total"`
	Executed int `json:"executed"`
	Passed   int `json:"passed"`
	Failed   int `json:"failed"`
	// TotalDuration is the sum of all configuration durations in seconds.
	TotalDuration float64 `json:"total_duration"`
}

// Row pairs a configuration name with its entry.
type Row struct {
	Name  string
	Entry *Entry
}

// Rows returns the entries in registration order.
func (s *Snapshot) Rows() []Row {
	rows := make([]Row, 0, len(s.Order))

	for _, name := range s.Order {
		if e, ok := s.Configs[name]; ok {
			rows = append(rows, Row{Name: name, Entry: e})
		}
	}

	return rows
}

// Executed reports whether any step of the entry ran.
func (e *Entry) Executed() bool {
	for _, status := range e.Steps {
		if status != StatusNotRun {
			return true
		}
	}

	return false
}

// Failed returns the first failing step in the given step order.
func (e *Entry) Failed(steps []string) (string, bool) {
	for _, step := range steps {
		if e.Steps[step].IsFailure() {
			return step, true
		}
	}

	return "", false
}

// HasFailures reports whether any configuration recorded an error.
func (s *Snapshot) HasFailures() bool {
	return s.Summary.Failed > 0
}

// TotalDuration returns the summed configuration durations.
func (s *Snapshot) TotalDuration() time.Duration {
	return time.Duration(s.Summary.TotalDuration * float64(time.Second))
}

// ReadSnapshot loads a snapshot previously written by the JSON sink.
func ReadSnapshot(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading report: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("parsing report: %w", err)
	}

	return &snap, nil
}

func summarize(snap *Snapshot) Summary {
	summary := Summary{Total: len(snap.Configs)}

	for _, e := range snap.Configs {
		summary.TotalDuration += e.Duration

		if !e.Executed() {
			continue
		}

		summary.Executed++

		if _, failed := e.Failed(snap.Steps); failed {
			summary.Failed++
		} else {
			summary.Passed++
		}
	}

	return summary
}
