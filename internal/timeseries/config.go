package timeseries

// Config holds configuration for latency series storage
type Config struct {
	// Sliding window: maximum samples retained per endpoint
	MaxPoints int

	// Guardrails
	MaxSeries    int // Maximum number of endpoint series
	MaxWSClients int // Maximum WebSocket snapshot subscribers
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		MaxPoints:    20,  // plot window of the original tool
		MaxSeries:    64,  // a small fixed set of endpoints
		MaxWSClients: 100, // Maximum 100 WebSocket clients
	}
}
