package timeseries

import (
	"sync"
)

// Series is a bounded, ordered history of samples for one endpoint.
// It is backed by a ring buffer of MaxPoints slots; once full, each append
// evicts the oldest sample.
type Series struct {
	mu     sync.RWMutex
	health *HealthMetrics

	ring []Sample
	head int
	full bool

	// generation is bumped on every Clear so that results of probes
	// launched before the clear can be recognised and dropped.
	generation uint64
}

// NewSeries creates a new Series holding at most maxPoints samples
func NewSeries(maxPoints int) *Series {
	if maxPoints < 1 {
		maxPoints = 1
	}
	return &Series{
		ring: make([]Sample, maxPoints),
	}
}

// NewSeriesWithHealth creates a new Series with health metrics tracking
func NewSeriesWithHealth(maxPoints int, health *HealthMetrics) *Series {
	s := NewSeries(maxPoints)
	s.health = health
	return s
}

// Add appends a sample, evicting the oldest one when the window is full.
// A sample older than the newest stored sample is rejected.
func (s *Series) Add(p Sample) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.addLocked(p)
}

// AddGeneration appends a sample only if gen matches the current generation
func (s *Series) AddGeneration(gen uint64, p Sample) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.generation {
		if s.health != nil {
			s.health.RecordStaleSample()
		}
		return false
	}
	return s.addLocked(p)
}

func (s *Series) addLocked(p Sample) bool {
	if n := s.size(); n > 0 {
		newest := s.ring[(s.head-1+len(s.ring))%len(s.ring)]
		if p.T.Before(newest.T) {
			if s.health != nil {
				s.health.RecordDroppedSample()
			}
			return false
		}
	}

	evicted := s.full
	s.ring[s.head] = p
	s.head = (s.head + 1) % len(s.ring)
	if s.head == 0 {
		s.full = true
	}

	if s.health != nil {
		s.health.RecordSampleAdded()
		if evicted {
			s.health.RecordEvictedSample()
		}
	}
	return true
}

// Samples returns a copy of the stored samples, oldest first
func (s *Series) Samples() []Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()

	size := s.size()
	out := make([]Sample, 0, size)

	// For a non-full buffer, samples are stored from index 0 to head-1.
	// For a full buffer, the oldest sample is at head.
	start := 0
	if s.full {
		start = s.head
	}
	for i := 0; i < size; i++ {
		out = append(out, s.ring[(start+i)%len(s.ring)])
	}
	return out
}

// Latest returns the newest sample, if any
func (s *Series) Latest() (Sample, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.size() == 0 {
		return Sample{}, false
	}
	return s.ring[(s.head-1+len(s.ring))%len(s.ring)], true
}

// Len returns the number of stored samples
func (s *Series) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.size()
}

// Cap returns the window size
func (s *Series) Cap() int {
	return len(s.ring)
}

// Clear empties the series and starts a new generation. Clearing an empty
// series still bumps the generation, so repeated calls are harmless.
func (s *Series) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.ring {
		s.ring[i] = Sample{}
	}
	s.head = 0
	s.full = false
	s.generation++
}

// Generation returns the current generation
func (s *Series) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generation
}

func (s *Series) size() int {
	if s.full {
		return len(s.ring)
	}
	return s.head
}
