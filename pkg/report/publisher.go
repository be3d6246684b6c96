package report

import (
	"context"

	"github.com/sirupsen/logrus"
)

// Sink renders or persists a snapshot.
type Sink interface {
	// Name identifies the sink in logs.
	Name() string

	// Write consumes a snapshot. It may be called many times per run, once
	// after every pipeline step.
	Write(ctx context.Context, snap *Snapshot) error
}

// Publisher fans a snapshot out to all sinks. A failing sink is logged and
// skipped; it never aborts the run.
type Publisher struct {
	log   logrus.FieldLogger
	sinks []Sink
}

// NewPublisher creates a publisher over the given sinks.
func NewPublisher(log logrus.FieldLogger, sinks ...Sink) *Publisher {
	return &Publisher{
		log:   log.WithField("component", "report"),
		sinks: sinks,
	}
}

// Add appends a sink.
func (p *Publisher) Add(sink Sink) {
	p.sinks = append(p.sinks, sink)
}

// Publish writes the snapshot to every sink.
func (p *Publisher) Publish(ctx context.Context, snap *Snapshot) {
	for _, sink := range p.sinks {
		if err := sink.Write(ctx, snap); err != nil {
			p.log.WithError(err).WithField("sink", sink.Name()).Warn("Failed to write report")
		}
	}
}
