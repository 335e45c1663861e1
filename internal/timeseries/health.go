package timeseries

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/aaronlmathis/pingplot/internal/metrics"
)

// HealthMetrics tracks health and performance metrics for the series store
type HealthMetrics struct {
	mu sync.RWMutex

	// Counters
	seriesCount        int64 // Current number of endpoint series
	totalSamplesAdded  int64 // Total samples added (lifetime)
	samplesAddedPerSec int64 // Samples added in the last second
	wsClientCount      int64 // Current WebSocket client count

	// Performance tracking
	lastResetTime     time.Time // Last time per-second counters were reset
	samplesThisSecond int64     // Samples added in current second

	// Window and error tracking
	errorCount     int64 // Total errors encountered
	evictedSamples int64 // Samples pushed out of the sliding window
	droppedSamples int64 // Out-of-order samples or samples over the series limit
	staleSamples   int64 // Samples from a generation that has since been cleared

	// Resource limits
	maxSeriesCount int // Maximum allowed series
	maxPoints      int // Sliding window size
	maxWSClients   int // Maximum WebSocket clients
}

// NewHealthMetrics creates a new health metrics tracker
func NewHealthMetrics() *HealthMetrics {
	defaults := DefaultConfig()
	return &HealthMetrics{
		lastResetTime:  time.Now(),
		maxSeriesCount: defaults.MaxSeries,
		maxPoints:      defaults.MaxPoints,
		maxWSClients:   defaults.MaxWSClients,
	}
}

// SetLimits configures resource limits
func (h *HealthMetrics) SetLimits(maxSeries, maxPoints, maxWSClients int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.maxSeriesCount = maxSeries
	h.maxPoints = maxPoints
	h.maxWSClients = maxWSClients
}

// IncrementSeriesCount increments the series count
func (h *HealthMetrics) IncrementSeriesCount() {
	metrics.SetSeriesCount(atomic.AddInt64(&h.seriesCount, 1))
}

// DecrementSeriesCount decrements the series count
func (h *HealthMetrics) DecrementSeriesCount() {
	metrics.SetSeriesCount(atomic.AddInt64(&h.seriesCount, -1))
}

// RecordSampleAdded records that a sample was appended to a series
func (h *HealthMetrics) RecordSampleAdded() {
	atomic.AddInt64(&h.totalSamplesAdded, 1)
	atomic.AddInt64(&h.samplesThisSecond, 1)
	h.updatePerSecondCounters()

	metrics.RecordSeriesSample("added")
}

// RecordEvictedSample records a sample that fell out of the sliding window
func (h *HealthMetrics) RecordEvictedSample() {
	atomic.AddInt64(&h.evictedSamples, 1)
	metrics.RecordSeriesSample("evicted")
}

// RecordDroppedSample records a sample that was rejected
func (h *HealthMetrics) RecordDroppedSample() {
	atomic.AddInt64(&h.droppedSamples, 1)
	metrics.RecordSeriesSample("dropped")
}

// RecordStaleSample records a sample discarded because its series was cleared
// after the probe started
func (h *HealthMetrics) RecordStaleSample() {
	atomic.AddInt64(&h.staleSamples, 1)
	metrics.RecordSeriesSample("stale")
}

// SetWSClientCount sets the current WebSocket client count
func (h *HealthMetrics) SetWSClientCount(count int64) {
	atomic.StoreInt64(&h.wsClientCount, count)
}

// RecordError records an error
func (h *HealthMetrics) RecordError() {
	atomic.AddInt64(&h.errorCount, 1)
}

// updatePerSecondCounters updates the per-second rate counters
func (h *HealthMetrics) updatePerSecondCounters() {
	now := time.Now()

	h.mu.Lock()
	defer h.mu.Unlock()

	// Reset counters every second
	if now.Sub(h.lastResetTime) >= time.Second {
		atomic.StoreInt64(&h.samplesAddedPerSec, atomic.LoadInt64(&h.samplesThisSecond))
		atomic.StoreInt64(&h.samplesThisSecond, 0)
		h.lastResetTime = now
	}
}

// CheckSeriesLimit checks if creating a new series would exceed limits
func (h *HealthMetrics) CheckSeriesLimit() bool {
	current := atomic.LoadInt64(&h.seriesCount)
	h.mu.RLock()
	limit := h.maxSeriesCount
	h.mu.RUnlock()

	return int(current) < limit
}

// CheckWSClientLimit checks if adding a WebSocket client would exceed limits
func (h *HealthMetrics) CheckWSClientLimit() bool {
	current := atomic.LoadInt64(&h.wsClientCount)
	h.mu.RLock()
	limit := h.maxWSClients
	h.mu.RUnlock()

	return int(current) < limit
}

// GetSnapshot returns a snapshot of current health metrics
func (h *HealthMetrics) GetSnapshot() HealthSnapshot {
	h.updatePerSecondCounters() // Ensure counters are up to date

	h.mu.RLock()
	defer h.mu.RUnlock()

	return HealthSnapshot{
		SeriesCount:        atomic.LoadInt64(&h.seriesCount),
		TotalSamplesAdded:  atomic.LoadInt64(&h.totalSamplesAdded),
		SamplesAddedPerSec: atomic.LoadInt64(&h.samplesAddedPerSec),
		WSClientCount:      atomic.LoadInt64(&h.wsClientCount),
		ErrorCount:         atomic.LoadInt64(&h.errorCount),
		EvictedSamples:     atomic.LoadInt64(&h.evictedSamples),
		DroppedSamples:     atomic.LoadInt64(&h.droppedSamples),
		StaleSamples:       atomic.LoadInt64(&h.staleSamples),
		MaxSeriesCount:     h.maxSeriesCount,
		MaxPoints:          h.maxPoints,
		MaxWSClients:       h.maxWSClients,
		Timestamp:          time.Now(),
	}
}

// HealthSnapshot represents a point-in-time snapshot of health metrics
type HealthSnapshot struct {
	SeriesCount        int64     `json:"series_count"`
	TotalSamplesAdded  int64     `json:"total_samples_added"`
	SamplesAddedPerSec int64     `json:"samples_added_per_sec"`
	WSClientCount      int64     `json:"ws_client_count"`
	ErrorCount         int64     `json:"error_count"`
	EvictedSamples     int64     `json:"evicted_samples"`
	DroppedSamples     int64     `json:"dropped_samples"`
	StaleSamples       int64     `json:"stale_samples"`
	MaxSeriesCount     int       `json:"max_series_count"`
	MaxPoints          int       `json:"max_points"`
	MaxWSClients       int       `json:"max_ws_clients"`
	Timestamp          time.Time `json:"timestamp"`
}

// IsHealthy returns true if the store is operating within healthy parameters
func (s HealthSnapshot) IsHealthy() bool {
	if s.MaxSeriesCount > 0 && float64(s.SeriesCount)/float64(s.MaxSeriesCount) > 0.9 {
		return false
	}

	if s.MaxWSClients > 0 && float64(s.WSClientCount)/float64(s.MaxWSClients) > 0.9 {
		return false
	}

	// Out-of-order drops point at a clock problem
	if s.TotalSamplesAdded > 0 && float64(s.DroppedSamples)/float64(s.TotalSamplesAdded) > 0.1 {
		return false
	}

	return true
}

// GetStatus returns a human-readable status string
func (s HealthSnapshot) GetStatus() string {
	if s.IsHealthy() {
		return "healthy"
	}

	if s.MaxSeriesCount > 0 && float64(s.SeriesCount)/float64(s.MaxSeriesCount) > 0.9 {
		return "warning: approaching series limit"
	}

	if s.MaxWSClients > 0 && float64(s.WSClientCount)/float64(s.MaxWSClients) > 0.9 {
		return "warning: approaching WebSocket client limit"
	}

	if s.TotalSamplesAdded > 0 && float64(s.DroppedSamples)/float64(s.TotalSamplesAdded) > 0.1 {
		return "warning: high drop rate"
	}

	return "degraded"
}
