package middleware

import (
	"bytes"
	"crypto/md5"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// ETagMiddleware provides ETag support for polled JSON responses
type ETagMiddleware struct {
	logger *zap.Logger
}

// NewETagMiddleware creates a new ETag middleware
func NewETagMiddleware(logger *zap.Logger) *ETagMiddleware {
	return &ETagMiddleware{
		logger: logger,
	}
}

// Middleware returns the ETag middleware handler. The response is buffered
// so that a matching If-None-Match can still be answered with 304.
func (em *ETagMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Only apply to safe GET requests
		if r.Method != http.MethodGet {
			next.ServeHTTP(w, r)
			return
		}

		recorder := &ETagResponseRecorder{
			header: make(http.Header),
			status: http.StatusOK,
		}

		next.ServeHTTP(recorder, r)

		for k, v := range recorder.header {
			w.Header()[k] = v
		}

		// Only process successful responses
		if recorder.status == http.StatusOK && recorder.body.Len() > 0 {
			etag := em.calculateETag(recorder.body.Bytes())
			w.Header().Set("ETag", fmt.Sprintf(`"%s"`, etag))
			// Live data: clients may cache but must revalidate every time
			w.Header().Set("Cache-Control", "no-cache")

			if clientETag := r.Header.Get("If-None-Match"); clientETag != "" && em.etagMatches(clientETag, etag) {
				em.logger.Debug("ETag matched, serving 304",
					zap.String("path", r.URL.Path),
					zap.String("etag", etag),
					zap.String("requestId", middleware.GetReqID(r.Context())))

				w.Header().Del("Content-Length")
				w.WriteHeader(http.StatusNotModified)
				return
			}
		}

		w.WriteHeader(recorder.status)
		_, _ = w.Write(recorder.body.Bytes())
	})
}

// calculateETag calculates an ETag for the given content
func (em *ETagMiddleware) calculateETag(content []byte) string {
	sum := md5.Sum(content)
	return fmt.Sprintf("%x", sum)[:16] // Use first 16 chars for shorter ETags
}

// etagMatches checks if a client If-None-Match header matches the server ETag
func (em *ETagMiddleware) etagMatches(clientETag, serverETag string) bool {
	for _, candidate := range strings.Split(clientETag, ",") {
		candidate = strings.TrimSpace(candidate)
		candidate = strings.TrimPrefix(candidate, "W/")
		if candidate == "*" || strings.Trim(candidate, `"`) == serverETag {
			return true
		}
	}
	return false
}

// ETagResponseRecorder buffers a response for ETag calculation
type ETagResponseRecorder struct {
	header      http.Header
	status      int
	body        bytes.Buffer
	wroteHeader bool
}

// Header returns the buffered header map
func (r *ETagResponseRecorder) Header() http.Header {
	return r.header
}

// WriteHeader captures the status code
func (r *ETagResponseRecorder) WriteHeader(statusCode int) {
	if r.wroteHeader {
		return
	}
	r.wroteHeader = true
	r.status = statusCode
}

// Write captures the response body
func (r *ETagResponseRecorder) Write(data []byte) (int, error) {
	r.wroteHeader = true
	return r.body.Write(data)
}
