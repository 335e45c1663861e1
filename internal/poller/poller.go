package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aaronlmathis/pingplot/internal/metrics"
	"github.com/aaronlmathis/pingplot/internal/probe"
	"github.com/aaronlmathis/pingplot/internal/timeseries"
)

var (
	// ErrNoActiveEndpoints is returned by Start when every endpoint is inactive
	ErrNoActiveEndpoints = errors.New("no active endpoints")

	// ErrUnknownEndpoint is returned when an endpoint is not configured
	ErrUnknownEndpoint = errors.New("unknown endpoint")

	// ErrInvalidInterval is returned for a non-positive poll interval
	ErrInvalidInterval = errors.New("poll interval must be positive")
)

// Bounds for intervals chosen by an operator at runtime
const (
	MinInterval = time.Second
	MaxInterval = 24 * time.Hour
)

// State is the poller lifecycle state
type State int

const (
	Idle State = iota
	Running
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	default:
		return "idle"
	}
}

// Endpoint describes a configured endpoint and whether it is probed
type Endpoint struct {
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

// Result is one completed probe
type Result struct {
	Endpoint   string
	Generation uint64
	Sample     timeseries.Sample
}

// GenerationSource reports the current series generation of an endpoint.
// Results carry the generation read when their probe was launched.
type GenerationSource interface {
	Generation(endpoint string) uint64
}

// Config holds configuration for the poller
type Config struct {
	Interval     time.Duration // Time between rounds
	ProbeTimeout time.Duration // Upper bound for one probe, capped at Interval
	ResultBuffer int           // Capacity of the result channel
}

// DefaultConfig returns the default poller configuration
func DefaultConfig() Config {
	return Config{
		Interval:     60 * time.Second,
		ProbeTimeout: 10 * time.Second,
		ResultBuffer: 64,
	}
}

type endpointState struct {
	name     string
	active   bool
	inflight bool
}

// Poller probes all active endpoints once per interval, each endpoint in its
// own goroutine, and delivers every completed probe on Results.
type Poller struct {
	logger *zap.Logger
	prober probe.Prober
	now    func() time.Time

	generations  GenerationSource
	onDeactivate func(endpoint string)

	mu           sync.Mutex
	endpoints    []*endpointState
	index        map[string]*endpointState
	interval     time.Duration
	probeTimeout time.Duration
	state        State

	// Per-run lifecycle
	stopCh     chan struct{}
	done       chan struct{}
	intervalCh chan time.Duration

	results  chan Result
	inflight sync.WaitGroup
}

// New creates a new poller for the given endpoints. Duplicate names are ignored.
func New(logger *zap.Logger, prober probe.Prober, endpoints []Endpoint, config Config) (*Poller, error) {
	if config.Interval <= 0 {
		return nil, ErrInvalidInterval
	}
	if config.ProbeTimeout <= 0 {
		config.ProbeTimeout = config.Interval
	}
	if config.ResultBuffer <= 0 {
		config.ResultBuffer = DefaultConfig().ResultBuffer
	}

	p := &Poller{
		logger:       logger,
		prober:       prober,
		now:          time.Now,
		index:        make(map[string]*endpointState, len(endpoints)),
		interval:     config.Interval,
		probeTimeout: config.ProbeTimeout,
		intervalCh:   make(chan time.Duration),
		results:      make(chan Result, config.ResultBuffer),
	}

	for _, ep := range endpoints {
		if _, exists := p.index[ep.Name]; exists {
			continue
		}
		st := &endpointState{name: ep.Name, active: ep.Active}
		p.endpoints = append(p.endpoints, st)
		p.index[ep.Name] = st
	}

	return p, nil
}

// SetGenerationSource sets where launch generations are read from
func (p *Poller) SetGenerationSource(src GenerationSource) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.generations = src
}

// OnDeactivate registers a hook run when an endpoint goes from active to inactive
func (p *Poller) OnDeactivate(fn func(endpoint string)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onDeactivate = fn
}

// SetClock replaces the timestamp source used for samples
func (p *Poller) SetClock(now func() time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.now = now
}

// Results returns the channel on which completed probes are delivered
func (p *Poller) Results() <-chan Result {
	return p.results
}

// Start begins probing. The first round is launched immediately.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == Running {
		return nil
	}
	if p.activeCountLocked() == 0 {
		return ErrNoActiveEndpoints
	}

	p.state = Running
	p.stopCh = make(chan struct{})
	p.done = make(chan struct{})

	p.logger.Info("Starting poller",
		zap.Duration("interval", p.interval),
		zap.Duration("probeTimeout", p.effectiveTimeoutLocked()),
		zap.Strings("active", p.activeLocked()),
	)

	go p.run(ctx, p.interval, p.stopCh, p.done)
	metrics.SetPollerRunning(true)
	return nil
}

// Stop ends probing at the next safe point. In-flight probes are not
// cancelled; their results are still delivered.
func (p *Poller) Stop() {
	p.mu.Lock()
	if p.state != Running {
		p.mu.Unlock()
		return
	}
	p.state = Idle
	stopCh, done := p.stopCh, p.done
	close(stopCh)
	p.mu.Unlock()

	<-done
	metrics.SetPollerRunning(false)
	p.logger.Info("Poller stopped")
}

// Wait blocks until every in-flight probe has delivered its result
func (p *Poller) Wait() {
	p.inflight.Wait()
}

// State returns the current lifecycle state
func (p *Poller) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Interval returns the current poll interval
func (p *Poller) Interval() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.interval
}

// SetInterval changes the poll interval. While running, the next round
// fires d after the change.
func (p *Poller) SetInterval(d time.Duration) error {
	if d <= 0 {
		return ErrInvalidInterval
	}

	p.mu.Lock()
	p.interval = d
	running := p.state == Running
	stopCh, done := p.stopCh, p.done
	p.mu.Unlock()

	p.logger.Info("Poll interval changed", zap.Duration("interval", d))

	if running {
		select {
		case p.intervalCh <- d:
		case <-stopCh:
		case <-done:
		}
	}
	return nil
}

// SetActive toggles whether an endpoint is probed. The change applies from
// the next round and never cancels an in-flight probe. Deactivation runs the
// OnDeactivate hook.
func (p *Poller) SetActive(name string, active bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	ep, ok := p.index[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEndpoint, name)
	}
	if ep.active == active {
		return nil
	}
	ep.active = active

	// The hook runs under the lock so that a concurrent round either sees the
	// endpoint active with its pre-clear generation or not at all.
	if !active && p.onDeactivate != nil {
		p.onDeactivate(name)
	}

	p.logger.Info("Endpoint toggled",
		zap.String("endpoint", name),
		zap.Bool("active", active),
		zap.Bool("inflight", ep.inflight),
	)
	return nil
}

// Endpoints returns the configured endpoints in order
func (p *Poller) Endpoints() []Endpoint {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]Endpoint, 0, len(p.endpoints))
	for _, ep := range p.endpoints {
		out = append(out, Endpoint{Name: ep.name, Active: ep.active})
	}
	return out
}

// Active returns the names of active endpoints in configured order
func (p *Poller) Active() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.activeLocked()
}

// run executes the round loop for one Start/Stop cycle
func (p *Poller) run(ctx context.Context, interval time.Duration, stopCh, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	p.round(ctx)

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Poller stopped due to context cancellation")
			p.mu.Lock()
			if p.done == done {
				p.state = Idle
			}
			p.mu.Unlock()
			metrics.SetPollerRunning(false)
			return
		case <-stopCh:
			return
		case d := <-p.intervalCh:
			ticker.Reset(d)
		case <-ticker.C:
			// Stop may have raced the tick
			select {
			case <-stopCh:
				return
			default:
			}
			p.round(ctx)
		}
	}
}

// round launches one probe per active endpoint that has no probe in flight
func (p *Poller) round(ctx context.Context) {
	type launch struct {
		name string
		gen  uint64
	}

	p.mu.Lock()
	timeout := p.effectiveTimeoutLocked()
	now := p.now
	var launches []launch
	for _, ep := range p.endpoints {
		if !ep.active {
			continue
		}
		if ep.inflight {
			p.logger.Debug("Skipping endpoint with probe still in flight", zap.String("endpoint", ep.name))
			metrics.RecordProbeSkipped(ep.name)
			continue
		}
		ep.inflight = true
		var gen uint64
		if p.generations != nil {
			gen = p.generations.Generation(ep.name)
		}
		launches = append(launches, launch{name: ep.name, gen: gen})
	}
	p.mu.Unlock()

	metrics.RecordRound()

	// Probes outlive Stop and shutdown cancellation; the timeout bounds them.
	base := context.WithoutCancel(ctx)
	for _, l := range launches {
		p.inflight.Add(1)
		go p.probe(base, l.name, l.gen, timeout, now)
	}
}

func (p *Poller) probe(base context.Context, name string, gen uint64, timeout time.Duration, now func() time.Time) {
	defer p.inflight.Done()

	ctx, cancel := context.WithTimeout(base, timeout)
	defer cancel()

	started := now()
	outcome := p.prober.Probe(ctx, name)

	metrics.RecordProbe(name, outcome.Latency, outcome.Failed)

	p.results <- Result{
		Endpoint:   name,
		Generation: gen,
		Sample:     timeseries.NewSample(started, outcome),
	}

	// Cleared only after delivery so one endpoint's results stay in order
	p.mu.Lock()
	if ep, ok := p.index[name]; ok {
		ep.inflight = false
	}
	p.mu.Unlock()
}

func (p *Poller) effectiveTimeoutLocked() time.Duration {
	if p.probeTimeout > 0 && p.probeTimeout < p.interval {
		return p.probeTimeout
	}
	return p.interval
}

func (p *Poller) activeCountLocked() int {
	n := 0
	for _, ep := range p.endpoints {
		if ep.active {
			n++
		}
	}
	return n
}

func (p *Poller) activeLocked() []string {
	out := make([]string, 0, len(p.endpoints))
	for _, ep := range p.endpoints {
		if ep.active {
			out = append(out, ep.name)
		}
	}
	return out
}
