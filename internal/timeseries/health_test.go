package timeseries

import (
	"testing"
	"time"
)

func TestHealthMetrics_Counters(t *testing.T) {
	health := NewHealthMetrics()

	health.IncrementSeriesCount()
	health.IncrementSeriesCount()
	if count := health.GetSnapshot().SeriesCount; count != 2 {
		t.Errorf("Expected series count 2, got %d", count)
	}

	health.DecrementSeriesCount()
	if count := health.GetSnapshot().SeriesCount; count != 1 {
		t.Errorf("Expected series count 1, got %d", count)
	}

	health.RecordSampleAdded()
	health.RecordSampleAdded()
	health.RecordEvictedSample()
	health.RecordDroppedSample()
	health.RecordStaleSample()
	health.RecordError()

	snapshot := health.GetSnapshot()
	if snapshot.TotalSamplesAdded != 2 {
		t.Errorf("Expected total samples 2, got %d", snapshot.TotalSamplesAdded)
	}
	if snapshot.EvictedSamples != 1 {
		t.Errorf("Expected evicted samples 1, got %d", snapshot.EvictedSamples)
	}
	if snapshot.DroppedSamples != 1 {
		t.Errorf("Expected dropped samples 1, got %d", snapshot.DroppedSamples)
	}
	if snapshot.StaleSamples != 1 {
		t.Errorf("Expected stale samples 1, got %d", snapshot.StaleSamples)
	}
	if snapshot.ErrorCount != 1 {
		t.Errorf("Expected error count 1, got %d", snapshot.ErrorCount)
	}
}

func TestHealthMetrics_Limits(t *testing.T) {
	health := NewHealthMetrics()
	health.SetLimits(2, 100, 1)

	if !health.CheckSeriesLimit() {
		t.Error("Expected series limit check to pass when count is 0")
	}
	health.IncrementSeriesCount()
	health.IncrementSeriesCount()
	if health.CheckSeriesLimit() {
		t.Error("Expected series limit check to fail when at limit")
	}

	if !health.CheckWSClientLimit() {
		t.Error("Expected WS client limit check to pass when count is 0")
	}
	health.SetWSClientCount(1)
	if health.CheckWSClientLimit() {
		t.Error("Expected WS client limit check to fail when at limit")
	}
}

func TestHealthMetrics_Eviction(t *testing.T) {
	config := DefaultConfig()
	config.MaxPoints = 3
	store := NewMemStore(config)
	now := time.Now()

	for i := 0; i < 4; i++ {
		store.Append("a", NewSample(now.Add(time.Duration(i)*time.Second), Success(time.Millisecond)))
	}

	snapshot := store.GetHealthSnapshot()
	if snapshot.TotalSamplesAdded != 4 {
		t.Errorf("Expected 4 samples added, got %d", snapshot.TotalSamplesAdded)
	}
	if snapshot.EvictedSamples != 1 {
		t.Errorf("Expected 1 eviction, got %d", snapshot.EvictedSamples)
	}
}

func TestHealthSnapshot_Status(t *testing.T) {
	tests := []struct {
		name     string
		snapshot HealthSnapshot
		healthy  bool
		status   string
	}{
		{
			name:     "healthy",
			snapshot: HealthSnapshot{SeriesCount: 3, MaxSeriesCount: 64, MaxWSClients: 100},
			healthy:  true,
			status:   "healthy",
		},
		{
			name:     "near series limit",
			snapshot: HealthSnapshot{SeriesCount: 63, MaxSeriesCount: 64, MaxWSClients: 100},
			healthy:  false,
			status:   "warning: approaching series limit",
		},
		{
			name:     "near ws limit",
			snapshot: HealthSnapshot{SeriesCount: 1, MaxSeriesCount: 64, WSClientCount: 99, MaxWSClients: 100},
			healthy:  false,
			status:   "warning: approaching WebSocket client limit",
		},
		{
			name:     "high drop rate",
			snapshot: HealthSnapshot{SeriesCount: 1, MaxSeriesCount: 64, MaxWSClients: 100, TotalSamplesAdded: 10, DroppedSamples: 5},
			healthy:  false,
			status:   "warning: high drop rate",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.snapshot.IsHealthy(); got != tt.healthy {
				t.Errorf("IsHealthy() = %v, want %v", got, tt.healthy)
			}
			if got := tt.snapshot.GetStatus(); got != tt.status {
				t.Errorf("GetStatus() = %q, want %q", got, tt.status)
			}
		})
	}
}
