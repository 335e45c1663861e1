package api

import (
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"
)

// parseIntParam parses an integer query parameter. Malformed values yield -1.
func parseIntParam(param string, defaultValue int) int {
	if param == "" {
		return defaultValue
	}

	result, err := strconv.Atoi(param)
	if err != nil {
		return -1
	}
	return result
}

// endpointParam returns the endpoint name captured by a trailing wildcard.
// Routing matches the raw path when the request escapes it, so the capture
// is unescaped here; names may be sent raw or escaped.
func endpointParam(r *http.Request) (string, error) {
	return url.PathUnescape(chi.URLParam(r, "*"))
}
