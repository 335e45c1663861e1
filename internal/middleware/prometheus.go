package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/aaronlmathis/pingplot/internal/metrics"
)

// PrometheusMiddleware records HTTP request metrics for Prometheus
func PrometheusMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Create a response writer wrapper to capture status code
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		// Process the request
		next.ServeHTTP(ww, r)

		// Record metrics
		duration := time.Since(start)
		path := sanitizePath(r.URL.Path)
		statusCode := ww.Status()
		if statusCode == 0 {
			// Hijacked connections (WebSocket) never write a status
			statusCode = http.StatusSwitchingProtocols
		}

		metrics.RecordHTTPRequest(r.Method, path, statusCode, duration)
	})
}

// RequestIDResponseMiddleware adds the request ID to response headers
func RequestIDResponseMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if reqID := middleware.GetReqID(r.Context()); reqID != "" {
			w.Header().Set("X-Request-ID", reqID)
		}
		next.ServeHTTP(w, r)
	})
}

// sanitizePath normalizes URL paths for metrics to prevent cardinality explosion
func sanitizePath(path string) string {
	path = strings.TrimSuffix(path, "/")
	if path == "" {
		return "/"
	}

	switch path {
	case "/healthz", "/version", "/metrics":
		return path
	}

	if !strings.HasPrefix(path, "/api/v1/") {
		return "other"
	}

	parts := strings.Split(path, "/")
	switch {
	case len(parts) == 4:
		// /api/v1/{resource}
		return path

	case parts[3] == "endpoints":
		// /api/v1/endpoints/{name...}; names may contain slashes
		return "/api/v1/endpoints/:endpoint"

	case parts[3] == "history":
		// /api/v1/history/{name...}
		return "/api/v1/history/:endpoint"
	}

	return "other"
}
