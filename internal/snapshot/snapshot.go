// Package snapshot builds time-aligned, gap-filled views across the series of
// the active endpoints for one render tick.
package snapshot

import (
	"encoding/json"
	"math"
	"sort"
	"time"

	"github.com/aaronlmathis/pingplot/internal/metrics"
	"github.com/aaronlmathis/pingplot/internal/timeseries"
)

// FailureRank is the latency a failure is ranked as when ordering endpoints.
// It only affects ordering and is never stored.
const FailureRank = time.Duration(math.MaxInt64 - 1)

// noDataRank sorts endpoints without samples after failing ones
const noDataRank = time.Duration(math.MaxInt64)

// Kind classifies an aligned value
type Kind int

const (
	NoData Kind = iota
	Success
	Failure
)

func (k Kind) String() string {
	switch k {
	case Success:
		return "success"
	case Failure:
		return "failure"
	default:
		return "nodata"
	}
}

// Value is one endpoint's value at one union timestamp
type Value struct {
	Kind    Kind
	Latency time.Duration // Valid when Kind is Success
	Carried bool          // True when taken from an earlier sample
	At      time.Time     // Timestamp of the sample the value came from
}

// Failed reports whether the value is a failure, exact or carried
func (v Value) Failed() bool {
	return v.Kind == Failure
}

// Rank returns the ordering key for the value
func (v Value) Rank() time.Duration {
	switch v.Kind {
	case Success:
		return v.Latency
	case Failure:
		return FailureRank
	default:
		return noDataRank
	}
}

type valueJSON struct {
	Kind    string   `json:"kind"`
	MS      *float64 `json:"ms,omitempty"`
	Carried bool     `json:"carried,omitempty"`
}

// MarshalJSON encodes the value as {"kind": "success", "ms": 12.5}
func (v Value) MarshalJSON() ([]byte, error) {
	out := valueJSON{Kind: v.Kind.String(), Carried: v.Carried}
	if v.Kind == Success {
		ms := float64(v.Latency) / float64(time.Millisecond)
		out.MS = &ms
	}
	return json.Marshal(out)
}

func valueOf(s timeseries.Sample, carried bool) Value {
	v := Value{Kind: Success, Latency: s.Outcome.Latency, Carried: carried, At: s.T}
	if s.Outcome.Failed {
		v.Kind = Failure
		v.Latency = 0
	}
	return v
}

// EndpointSeries is the aligned row for one endpoint
type EndpointSeries struct {
	Endpoint string  `json:"endpoint"`
	Values   []Value `json:"values"` // One per union timestamp
	Latest   Value   `json:"latest"`
	Samples  int     `json:"samples"` // Stored samples behind the row
}

// Snapshot is a read-only, point-in-time view across the active endpoints
type Snapshot struct {
	Timestamps []time.Time
	Series     []EndpointSeries // Configured order
	Order      []int            // Indexes into Series in presentation order
	BuiltAt    time.Time
}

// Empty reports whether no endpoint has any sample
func (s Snapshot) Empty() bool {
	return len(s.Timestamps) == 0
}

// Ordered returns the series in presentation order
func (s Snapshot) Ordered() []EndpointSeries {
	out := make([]EndpointSeries, 0, len(s.Order))
	for _, i := range s.Order {
		out = append(out, s.Series[i])
	}
	return out
}

// Lookup returns the row for an endpoint
func (s Snapshot) Lookup(endpoint string) (EndpointSeries, bool) {
	for _, es := range s.Series {
		if es.Endpoint == endpoint {
			return es, true
		}
	}
	return EndpointSeries{}, false
}

type snapshotJSON struct {
	Timestamps []int64          `json:"timestamps"` // Unix milliseconds
	Series     []EndpointSeries `json:"series"`     // Presentation order
}

// MarshalJSON encodes timestamps as Unix milliseconds and the series in
// presentation order. BuiltAt is left out so unchanged data encodes identically.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	out := snapshotJSON{
		Timestamps: make([]int64, len(s.Timestamps)),
		Series:     s.Ordered(),
	}
	for i, ts := range s.Timestamps {
		out.Timestamps[i] = ts.UnixMilli()
	}
	return json.Marshal(out)
}

// Reader gives the builder copies of stored series
type Reader interface {
	Read(endpoint string) []timeseries.Sample
}

// Builder produces snapshots from a series reader
type Builder struct {
	reader Reader
	now    func() time.Time
}

// NewBuilder creates a new snapshot builder
func NewBuilder(reader Reader) *Builder {
	return &Builder{reader: reader, now: time.Now}
}

// Build aligns the series of the given endpoints, which must be in configured order
func (b *Builder) Build(endpoints []string) Snapshot {
	start := time.Now()
	defer func() {
		metrics.RecordSnapshotBuild(time.Since(start))
	}()

	series := make([][]timeseries.Sample, len(endpoints))
	for i, ep := range endpoints {
		series[i] = b.reader.Read(ep)
	}

	timestamps := unionTimestamps(series)
	rows := make([]EndpointSeries, len(endpoints))
	for i, ep := range endpoints {
		rows[i] = align(ep, series[i], timestamps)
	}

	return Snapshot{
		Timestamps: timestamps,
		Series:     rows,
		Order:      presentationOrder(rows),
		BuiltAt:    b.now(),
	}
}

// unionTimestamps returns the sorted, de-duplicated timestamps of all series
func unionTimestamps(series [][]timeseries.Sample) []time.Time {
	seen := make(map[int64]time.Time)
	for _, samples := range series {
		for _, s := range samples {
			seen[s.T.UnixNano()] = s.T
		}
	}

	keys := make([]int64, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	out := make([]time.Time, len(keys))
	for i, k := range keys {
		out[i] = seen[k]
	}
	return out
}

// align produces one value per timestamp. samples must be ordered oldest first.
func align(endpoint string, samples []timeseries.Sample, timestamps []time.Time) EndpointSeries {
	es := EndpointSeries{
		Endpoint: endpoint,
		Values:   make([]Value, len(timestamps)),
		Samples:  len(samples),
	}

	// next is the count of samples at or before the current timestamp
	next := 0
	for i, ts := range timestamps {
		at := ts.UnixNano()
		for next < len(samples) && samples[next].T.UnixNano() <= at {
			next++
		}
		if next == 0 {
			es.Values[i] = Value{Kind: NoData}
			continue
		}
		s := samples[next-1]
		es.Values[i] = valueOf(s, s.T.UnixNano() != at)
	}

	if n := len(samples); n > 0 {
		es.Latest = valueOf(samples[n-1], false)
	}
	return es
}

// presentationOrder sorts rows ascending by latest latency. Ties keep
// configured order.
func presentationOrder(rows []EndpointSeries) []int {
	order := make([]int, len(rows))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return rows[order[i]].Latest.Rank() < rows[order[j]].Latest.Rank()
	})
	return order
}
