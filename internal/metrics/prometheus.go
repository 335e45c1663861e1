package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for pingplot
var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pingplot_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status_code"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pingplot_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status_code"},
	)

	// WebSocket metrics
	websocketConnectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pingplot_websocket_connections_total",
			Help: "Total number of snapshot stream connections",
		},
	)

	websocketConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pingplot_websocket_connections_active",
			Help: "Number of active snapshot stream connections",
		},
	)

	// Rate limiting metrics
	rateLimitedRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pingplot_rate_limited_requests_total",
			Help: "Total number of rate limited control requests",
		},
		[]string{"client", "endpoint"},
	)

	// Probe metrics
	probesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pingplot_probes_total",
			Help: "Total number of completed probes",
		},
		[]string{"endpoint", "outcome"},
	)

	probeLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pingplot_probe_latency_seconds",
			Help:    "Latency of successful probes in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"endpoint"},
	)

	probesSkippedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pingplot_probes_skipped_total",
			Help: "Probes not launched because the previous probe of the endpoint was still in flight",
		},
		[]string{"endpoint"},
	)

	roundsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pingplot_rounds_total",
			Help: "Total number of probing rounds",
		},
	)

	pollerRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pingplot_poller_running",
			Help: "1 while the poller is running, 0 when idle",
		},
	)

	// Series store metrics
	seriesSamplesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pingplot_series_samples_total",
			Help: "Series store sample events by kind (added, evicted, dropped, stale)",
		},
		[]string{"kind"},
	)

	seriesTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pingplot_series_total",
			Help: "Current number of endpoint series",
		},
	)

	snapshotBuildDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pingplot_snapshot_build_duration_seconds",
			Help:    "Time spent building a snapshot",
			Buckets: []float64{0.00001, 0.0001, 0.001, 0.01, 0.1},
		},
	)

	// Persistence metrics
	sinkWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pingplot_sink_writes_total",
			Help: "Total number of persistence sink writes",
		},
		[]string{"sink", "status"},
	)
)

// RecordHTTPRequest records metrics for HTTP requests
func RecordHTTPRequest(method, path string, statusCode int, duration time.Duration) {
	labels := prometheus.Labels{
		"method":      method,
		"path":        path,
		"status_code": strconv.Itoa(statusCode),
	}

	httpRequestsTotal.With(labels).Inc()
	httpRequestDuration.With(labels).Observe(duration.Seconds())
}

// RecordWebSocketConnection records WebSocket connection metrics
func RecordWebSocketConnection() {
	websocketConnectionsTotal.Inc()
	websocketConnectionsActive.Inc()
}

// RecordWebSocketDisconnection records WebSocket disconnection metrics
func RecordWebSocketDisconnection() {
	websocketConnectionsActive.Dec()
}

// RecordRateLimitedRequest records rate limiting metrics
func RecordRateLimitedRequest(client, endpoint string) {
	rateLimitedRequestsTotal.With(prometheus.Labels{
		"client":   client,
		"endpoint": endpoint,
	}).Inc()
}

// RecordProbe records a completed probe
func RecordProbe(endpoint string, latency time.Duration, failed bool) {
	if failed {
		probesTotal.With(prometheus.Labels{"endpoint": endpoint, "outcome": "failure"}).Inc()
		return
	}
	probesTotal.With(prometheus.Labels{"endpoint": endpoint, "outcome": "success"}).Inc()
	probeLatency.With(prometheus.Labels{"endpoint": endpoint}).Observe(latency.Seconds())
}

// RecordProbeSkipped records a probe skipped to avoid overlapping an in-flight one
func RecordProbeSkipped(endpoint string) {
	probesSkippedTotal.With(prometheus.Labels{"endpoint": endpoint}).Inc()
}

// RecordRound records the start of a probing round
func RecordRound() {
	roundsTotal.Inc()
}

// SetPollerRunning updates the poller state gauge
func SetPollerRunning(running bool) {
	if running {
		pollerRunning.Set(1)
		return
	}
	pollerRunning.Set(0)
}

// RecordSeriesSample records a series store event
func RecordSeriesSample(kind string) {
	seriesSamplesTotal.With(prometheus.Labels{"kind": kind}).Inc()
}

// SetSeriesCount updates the current number of series
func SetSeriesCount(count int64) {
	seriesTotal.Set(float64(count))
}

// RecordSnapshotBuild records how long building a snapshot took
func RecordSnapshotBuild(duration time.Duration) {
	snapshotBuildDuration.Observe(duration.Seconds())
}

// RecordSinkWrite records a persistence sink write
func RecordSinkWrite(sink string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	sinkWritesTotal.With(prometheus.Labels{"sink": sink, "status": status}).Inc()
}
