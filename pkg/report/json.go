package report

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ethpandaops/hwci/pkg/fsutil"
)

// JSONSink writes the snapshot as indented JSON. Each write replaces the file
// atomically.
type JSONSink struct {
	path  string
	owner *fsutil.Owner
}

var _ Sink = (*JSONSink)(nil)

// NewJSONSink creates a JSON sink writing to path.
func NewJSONSink(path string, owner *fsutil.Owner) *JSONSink {
	return &JSONSink{path: path, owner: owner}
}

// Name implements Sink.
func (s *JSONSink) Name() string { return "json" }

// Write implements Sink.
func (s *JSONSink) Write(_ context.Context, snap *Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling report: %w", err)
	}

	if err := fsutil.WriteFileAtomic(s.path, append(data, '\n'), s.owner); err != nil {
		return fmt.Errorf("writing %s: %w", s.path, err)
	}

	return nil
}
