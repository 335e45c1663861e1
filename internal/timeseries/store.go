package timeseries

import (
	"sort"
	"sync"
)

// Store defines the interface for storing per-endpoint latency series
type Store interface {
	// Append adds a sample to the endpoint's series, creating the series if needed
	Append(key string, s Sample) bool

	// AppendGeneration adds a sample only if gen is the series' current generation
	AppendGeneration(key string, gen uint64, s Sample) bool

	// Clear empties the endpoint's series and starts a new generation
	Clear(key string)

	// Read returns a copy of the endpoint's samples, oldest first
	Read(key string) []Sample

	// Generation returns the endpoint's current generation
	Generation(key string) uint64

	// Keys returns all series keys
	Keys() []string
}

// MemStore is an in-memory implementation of Store
type MemStore struct {
	mu     sync.RWMutex
	series map[string]*Series
	config Config
	health *HealthMetrics
}

// NewMemStore creates a new in-memory store with the given configuration
func NewMemStore(config Config) *MemStore {
	return NewMemStoreWithHealth(config, NewHealthMetrics())
}

// NewMemStoreWithHealth creates a new in-memory store with custom health metrics
func NewMemStoreWithHealth(config Config, health *HealthMetrics) *MemStore {
	// Ensure health limits are set from config
	health.SetLimits(config.MaxSeries, config.MaxPoints, config.MaxWSClients)

	return &MemStore{
		series: make(map[string]*Series),
		config: config,
		health: health,
	}
}

// Upsert returns the series for the given key, creating it if it doesn't exist.
// It returns nil when the series limit has been reached.
func (m *MemStore) Upsert(key string) *Series {
	m.mu.RLock()
	series, exists := m.series[key]
	m.mu.RUnlock()
	if exists {
		return series
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if series, exists := m.series[key]; exists {
		return series
	}

	// Check if we can create a new series (guardrail)
	if !m.health.CheckSeriesLimit() {
		m.health.RecordError()
		return nil
	}

	series = NewSeriesWithHealth(m.config.MaxPoints, m.health)
	m.series[key] = series
	m.health.IncrementSeriesCount()
	return series
}

// Get returns the series for the given key
func (m *MemStore) Get(key string) (*Series, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	series, exists := m.series[key]
	return series, exists
}

// Append adds a sample to the series for key
func (m *MemStore) Append(key string, s Sample) bool {
	series := m.Upsert(key)
	if series == nil {
		m.health.RecordDroppedSample()
		return false
	}
	return series.Add(s)
}

// AppendGeneration adds a sample to the series for key if gen is current
func (m *MemStore) AppendGeneration(key string, gen uint64, s Sample) bool {
	series := m.Upsert(key)
	if series == nil {
		m.health.RecordDroppedSample()
		return false
	}
	return series.AddGeneration(gen, s)
}

// Clear empties the series for key. The series is kept (and created if
// missing) so that its generation survives the clear.
func (m *MemStore) Clear(key string) {
	if series := m.Upsert(key); series != nil {
		series.Clear()
	}
}

// Read returns a copy of the samples for key, or nil if it has none
func (m *MemStore) Read(key string) []Sample {
	series, exists := m.Get(key)
	if !exists {
		return nil
	}
	return series.Samples()
}

// Generation returns the current generation for key
func (m *MemStore) Generation(key string) uint64 {
	series, exists := m.Get(key)
	if !exists {
		return 0
	}
	return series.Generation()
}

// Len returns the number of samples stored for key
func (m *MemStore) Len(key string) int {
	series, exists := m.Get(key)
	if !exists {
		return 0
	}
	return series.Len()
}

// Delete removes the series for the given key
func (m *MemStore) Delete(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.series[key]; exists {
		delete(m.series, key)
		m.health.DecrementSeriesCount()
		return true
	}
	return false
}

// Keys returns all series keys in sorted order
func (m *MemStore) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.series))
	for key := range m.series {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// GetHealth returns the health metrics for the store
func (m *MemStore) GetHealth() *HealthMetrics {
	return m.health
}

// GetHealthSnapshot returns a snapshot of current health metrics
func (m *MemStore) GetHealthSnapshot() HealthSnapshot {
	return m.health.GetSnapshot()
}
