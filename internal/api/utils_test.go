package api

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
)

func TestParseIntParam(t *testing.T) {
	assert.Equal(t, 7, parseIntParam("", 7))
	assert.Equal(t, 42, parseIntParam("42", 7))
	assert.Equal(t, -1, parseIntParam("many", 7))
}

func TestEndpointParam(t *testing.T) {
	tests := []struct {
		name    string
		capture string
		want    string
		wantErr bool
	}{
		{"plain", "a", "a", false},
		{"raw url", "https://www.google.com", "https://www.google.com", false},
		{"escaped url", "https%3A%2F%2Fwww.google.com", "https://www.google.com", false},
		{"bad escape", "https%3A%2F%2Fbad%ZZ", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rctx := chi.NewRouteContext()
			rctx.URLParams.Add("*", tt.capture)
			r := httptest.NewRequest("PUT", "/api/v1/endpoints/x", nil)
			r = r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))

			got, err := endpointParam(r)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
