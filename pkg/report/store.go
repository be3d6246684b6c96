package report

import (
	"fmt"
	"slices"
	"time"

	"github.com/ethpandaops/hwci/pkg/sysinfo"
)

// Store holds the per-configuration, per-step state of one invocation.
//
// A Store is owned by the single goroutine driving the pipelines. It does no
// locking: every mutation is followed by an explicit Snapshot handed to the
// renderers, which never see the Store itself.
type Store struct {
	runID       string
	startTime   time.Time
	configsFile string
	steps       []string
	order       []string
	entries     map[string]*entry
	system      *sysinfo.Info
}

type entry struct {
	target    string
	outputDir string
	statuses  map[string]Status
	logs      map[string]string
	started   *time.Time
	duration  time.Duration
}

// NewStore creates an empty store for the given ordered step names.
func NewStore(runID string, steps []string, startTime time.Time, configsFile string) *Store {
	return &Store{
		runID:       runID,
		startTime:   startTime,
		configsFile: configsFile,
		steps:       slices.Clone(steps),
		order:       make([]string, 0, 16),
		entries:     make(map[string]*entry, 16),
	}
}

// SetSystem attaches the test-bench host description to the report.
func (s *Store) SetSystem(info *sysinfo.Info) {
	s.system = info
}

// Register adds a configuration with every step set to NOT_RUN.
func (s *Store) Register(name, target, outputDir string) error {
	if _, exists := s.entries[name]; exists {
		return fmt.Errorf("configuration %q already registered", name)
	}

	statuses := make(map[string]Status, len(s.steps))
	for _, step := range s.steps {
		statuses[step] = StatusNotRun
	}

	s.entries[name] = &entry{
		target:    target,
		outputDir: outputDir,
		statuses:  statuses,
		logs:      make(map[string]string, len(s.steps)),
	}
	s.order = append(s.order, name)

	return nil
}

// SetStatus records the result of one step.
func (s *Store) SetStatus(name, step string, status Status) error {
	e, err := s.lookup(name, step)
	if err != nil {
		return err
	}

	e.statuses[step] = status

	return nil
}

// SetLog records where the log of a step was written.
func (s *Store) SetLog(name, step, path string) error {
	e, err := s.lookup(name, step)
	if err != nil {
		return err
	}

	e.logs[step] = path

	return nil
}

// SetTiming records when the configuration started and how long it has run
// so far.
func (s *Store) SetTiming(name string, start time.Time, duration time.Duration) error {
	e, ok := s.entries[name]
	if !ok {
		return fmt.Errorf("unknown configuration %q", name)
	}

	started := start
	e.started = &started
	e.duration = duration

	return nil
}

// status returns the recorded status of a step.
func (s *Store) status(name, step string) (Status, bool) {
	e, ok := s.entries[name]
	if !ok {
		return StatusNotRun, false
	}

	status, ok := e.statuses[step]

	return status, ok
}

// Snapshot returns a deep copy of the current state.
func (s *Store) Snapshot() *Snapshot {
	snap := &Snapshot{
		RunID:       s.runID,
		GeneratedAt: time.Now().UTC(),
		StartTime:   s.startTime,
		ConfigsFile: s.configsFile,
		Steps:       slices.Clone(s.steps),
		Order:       slices.Clone(s.order),
		Configs:     make(map[string]*Entry, len(s.entries)),
		System:      s.system,
	}

	for name, e := range s.entries {
		out := &Entry{
			Target:    e.target,
			OutputDir: e.outputDir,
			Steps:     make(map[string]Status, len(e.statuses)),
			Duration:  e.duration.Seconds(),
		}

		for step, status := range e.statuses {
			out.Steps[step] = status
		}

		if len(e.logs) > 0 {
			out.Logs = make(map[string]string, len(e.logs))
			for step, path := range e.logs {
				out.Logs[step] = path
			}
		}

		if e.started != nil {
			started := *e.started
			out.Time = &started
		}

		snap.Configs[name] = out
	}

	snap.Summary = summarize(snap)

	return snap
}

func (s *Store) lookup(name, step string) (*entry, error) {
	e, ok := s.entries[name]
	if !ok {
		return nil, fmt.Errorf("unknown configuration %q", name)
	}

	if _, ok := e.statuses[step]; !ok {
		return nil, fmt.Errorf("unknown step %q", step)
	}

	return e, nil
}
