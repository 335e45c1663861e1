package timeseries

import (
	"encoding/json"
	"time"
)

// Outcome is the result of one probe: a latency or an explicit failure.
// The zero value is a zero-latency success.
type Outcome struct {
	Latency time.Duration
	Failed  bool
}

// Success returns a successful outcome with the given latency.
func Success(latency time.Duration) Outcome {
	if latency < 0 {
		latency = 0
	}
	return Outcome{Latency: latency}
}

// Failure returns the failure outcome.
func Failure() Outcome {
	return Outcome{Failed: true}
}

// OK reports whether the outcome carries a latency
func (o Outcome) OK() bool {
	return !o.Failed
}

// Milliseconds returns the latency in fractional milliseconds, or -1 for a failure
func (o Outcome) Milliseconds() float64 {
	if o.Failed {
		return -1
	}
	return float64(o.Latency) / float64(time.Millisecond)
}

func (o Outcome) String() string {
	if o.Failed {
		return "failure"
	}
	return o.Latency.String()
}

// Sample is a single probe observation for one endpoint
type Sample struct {
	T       time.Time `json:"t"` // Timestamp taken when the probe started
	Outcome Outcome   `json:"-"`
}

// NewSample creates a new Sample with the given timestamp and outcome.
// The monotonic clock reading is stripped so that equality is wall-clock based.
func NewSample(t time.Time, o Outcome) Sample {
	return Sample{T: t.Round(0), Outcome: o}
}

// IsZero returns true if the sample is the zero value
func (s Sample) IsZero() bool {
	return s.T.IsZero() && s.Outcome == Outcome{}
}

type sampleJSON struct {
	T      int64    `json:"t"`            // Unix timestamp in milliseconds
	MS     *float64 `json:"ms,omitempty"` // Latency in milliseconds, absent on failure
	Failed bool     `json:"failed,omitempty"`
}

// MarshalJSON encodes the sample as {"t": unixMillis, "ms": latency} or
// {"t": unixMillis, "failed": true}.
func (s Sample) MarshalJSON() ([]byte, error) {
	out := sampleJSON{T: s.T.UnixMilli(), Failed: s.Outcome.Failed}
	if !s.Outcome.Failed {
		ms := s.Outcome.Milliseconds()
		out.MS = &ms
	}
	return json.Marshal(out)
}
