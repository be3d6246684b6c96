package report

import (
	"context"
)

// Recorder couples a Store with a Publisher: callers mutate the store and
// call Flush to hand the current snapshot to every sink.
type Recorder struct {
	*Store
	publisher *Publisher
	flushes   int
}

// NewRecorder creates a recorder.
func NewRecorder(store *Store, publisher *Publisher) *Recorder {
	return &Recorder{Store: store, publisher: publisher}
}

// Flush publishes a snapshot of the current state.
func (r *Recorder) Flush(ctx context.Context) {
	r.flushes++
	r.publisher.Publish(ctx, r.Snapshot())
}

// Flushes returns how many snapshots were published.
func (r *Recorder) Flushes() int {
	return r.flushes
}
