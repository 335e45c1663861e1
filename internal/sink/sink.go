// Package sink persists latency samples durably.
package sink

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/aaronlmathis/pingplot/internal/metrics"
	"github.com/aaronlmathis/pingplot/internal/timeseries"
)

// Record is one persisted observation
type Record struct {
	Timestamp time.Time
	Endpoint  string
	Latency   time.Duration // Zero when Failed
	Failed    bool
}

// FromSample converts a stored sample into a record
func FromSample(endpoint string, s timeseries.Sample) Record {
	return Record{
		Timestamp: s.T,
		Endpoint:  endpoint,
		Latency:   s.Outcome.Latency,
		Failed:    s.Outcome.Failed,
	}
}

// Sink is a durable destination for records
type Sink interface {
	Name() string
	Write(ctx context.Context, rec Record) error
	Close() error
}

// Fanout writes each record to every configured sink. Failures are dropped
// unless PersistFailures is set.
type Fanout struct {
	logger          *zap.Logger
	sinks           []Sink
	persistFailures bool
}

// NewFanout creates a new fanout over the given sinks
func NewFanout(logger *zap.Logger, persistFailures bool, sinks ...Sink) *Fanout {
	return &Fanout{
		logger:          logger,
		sinks:           sinks,
		persistFailures: persistFailures,
	}
}

// Len returns the number of sinks
func (f *Fanout) Len() int {
	return len(f.sinks)
}

// Write sends rec to every sink. A failing sink does not stop the others;
// the joined error is returned.
func (f *Fanout) Write(ctx context.Context, rec Record) error {
	if rec.Failed && !f.persistFailures {
		return nil
	}

	var errs []error
	for _, s := range f.sinks {
		err := s.Write(ctx, rec)
		metrics.RecordSinkWrite(s.Name(), err)
		if err != nil {
			f.logger.Warn("Failed to persist sample",
				zap.String("sink", s.Name()),
				zap.String("endpoint", rec.Endpoint),
				zap.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink
func (f *Fanout) Close() error {
	var errs []error
	for _, s := range f.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
