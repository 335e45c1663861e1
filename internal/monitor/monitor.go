// Package monitor wires the poller, the series store, the snapshot builder and
// the persistence sinks into one engine. A single consolidating goroutine
// receives every probe result and is the only writer to the store and sinks.
package monitor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/aaronlmathis/pingplot/internal/poller"
	"github.com/aaronlmathis/pingplot/internal/probe"
	"github.com/aaronlmathis/pingplot/internal/sink"
	"github.com/aaronlmathis/pingplot/internal/snapshot"
	"github.com/aaronlmathis/pingplot/internal/timeseries"
)

const sinkWriteTimeout = 5 * time.Second

// Config holds configuration for the monitor
type Config struct {
	Endpoints    []poller.Endpoint
	Interval     time.Duration
	ProbeTimeout time.Duration
	Store        timeseries.Config
}

// EndpointStatus describes one configured endpoint
type EndpointStatus struct {
	Name    string `json:"name"`
	Active  bool   `json:"active"`
	Samples int    `json:"samples"`
}

// Status is a summary of the engine state
type Status struct {
	State      string                    `json:"state"`
	Interval   string                    `json:"interval"`
	LastSample *time.Time                `json:"lastSample,omitempty"`
	Endpoints  []EndpointStatus          `json:"endpoints"`
	Health     timeseries.HealthSnapshot `json:"health"`
}

// Monitor is the latency sampling engine
type Monitor struct {
	logger  *zap.Logger
	store   *timeseries.MemStore
	poller  *poller.Poller
	builder *snapshot.Builder
	sinks   *sink.Fanout

	lastSample atomic.Int64 // Unix nanoseconds of the newest sample, 0 if none

	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// New creates a new monitor and starts its consolidating goroutine. sinks may be nil.
func New(logger *zap.Logger, prober probe.Prober, config Config, sinks *sink.Fanout) (*Monitor, error) {
	if len(config.Endpoints) == 0 {
		return nil, errors.New("monitor: at least one endpoint is required")
	}
	if config.Store.MaxSeries < len(config.Endpoints) {
		config.Store.MaxSeries = len(config.Endpoints)
	}
	if sinks == nil {
		sinks = sink.NewFanout(logger, false)
	}

	store := timeseries.NewMemStore(config.Store)

	p, err := poller.New(logger.Named("poller"), prober, config.Endpoints, poller.Config{
		Interval:     config.Interval,
		ProbeTimeout: config.ProbeTimeout,
		ResultBuffer: 4 * len(config.Endpoints),
	})
	if err != nil {
		return nil, err
	}
	p.SetGenerationSource(store)
	p.OnDeactivate(store.Clear)

	m := &Monitor{
		logger:  logger,
		store:   store,
		poller:  p,
		builder: snapshot.NewBuilder(store),
		sinks:   sinks,
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}

	go m.consolidate()
	return m, nil
}

// Start begins polling
func (m *Monitor) Start(ctx context.Context) error {
	return m.poller.Start(ctx)
}

// Stop ends polling; in-flight probes still complete and are recorded
func (m *Monitor) Stop() {
	m.poller.Stop()
}

// Running reports whether the poller is running
func (m *Monitor) Running() bool {
	return m.poller.State() == poller.Running
}

// SetActive toggles an endpoint. Deactivation clears its series.
func (m *Monitor) SetActive(endpoint string, active bool) error {
	return m.poller.SetActive(endpoint, active)
}

// SetInterval changes the poll interval
func (m *Monitor) SetInterval(d time.Duration) error {
	return m.poller.SetInterval(d)
}

// Interval returns the current poll interval
func (m *Monitor) Interval() time.Duration {
	return m.poller.Interval()
}

// Snapshot builds a snapshot of the active endpoints
func (m *Monitor) Snapshot() snapshot.Snapshot {
	return m.builder.Build(m.poller.Active())
}

// Endpoints returns every configured endpoint with its active flag and series length
func (m *Monitor) Endpoints() []EndpointStatus {
	eps := m.poller.Endpoints()
	out := make([]EndpointStatus, len(eps))
	for i, ep := range eps {
		out[i] = EndpointStatus{Name: ep.Name, Active: ep.Active, Samples: m.store.Len(ep.Name)}
	}
	return out
}

// LastSample returns the timestamp of the newest recorded sample
func (m *Monitor) LastSample() (time.Time, bool) {
	ns := m.lastSample.Load()
	if ns == 0 {
		return time.Time{}, false
	}
	return time.Unix(0, ns), true
}

// Health returns the store health snapshot
func (m *Monitor) Health() timeseries.HealthSnapshot {
	return m.store.GetHealthSnapshot()
}

// StoreHealth returns the store health counters
func (m *Monitor) StoreHealth() *timeseries.HealthMetrics {
	return m.store.GetHealth()
}

// Status returns a summary of the engine state
func (m *Monitor) Status() Status {
	st := Status{
		State:     m.poller.State().String(),
		Interval:  m.poller.Interval().String(),
		Endpoints: m.Endpoints(),
		Health:    m.Health(),
	}
	if last, ok := m.LastSample(); ok {
		st.LastSample = &last
	}
	return st
}

// Close stops polling, waits for in-flight probes, records their results and
// closes the sinks.
func (m *Monitor) Close() error {
	var err error
	m.closeOnce.Do(func() {
		m.poller.Stop()
		m.poller.Wait()
		close(m.quit)
		<-m.done
		err = m.sinks.Close()
	})
	return err
}

func (m *Monitor) consolidate() {
	defer close(m.done)

	results := m.poller.Results()
	for {
		select {
		case r := <-results:
			m.record(r)
		case <-m.quit:
			// Everything in flight has been delivered by now
			for {
				select {
				case r := <-results:
					m.record(r)
				default:
					return
				}
			}
		}
	}
}

func (m *Monitor) record(r poller.Result) {
	if r.Sample.Outcome.Failed {
		m.logger.Warn("Error pinging endpoint", zap.String("endpoint", r.Endpoint))
	} else {
		m.logger.Info("Latency sample",
			zap.String("endpoint", r.Endpoint),
			zap.Float64("latencyMs", r.Sample.Outcome.Milliseconds()))
	}

	if !m.store.AppendGeneration(r.Endpoint, r.Generation, r.Sample) {
		m.logger.Debug("Sample not stored",
			zap.String("endpoint", r.Endpoint),
			zap.Uint64("generation", r.Generation))
	} else {
		m.lastSample.Store(r.Sample.T.UnixNano())
	}

	ctx, cancel := context.WithTimeout(context.Background(), sinkWriteTimeout)
	defer cancel()
	_ = m.sinks.Write(ctx, sink.FromSample(r.Endpoint, r.Sample))
}
