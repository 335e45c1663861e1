package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/aaronlmathis/pingplot/internal/poller"
)

const (
	defaultHistoryLimit = 100
	maxHistoryLimit     = 10000
	maxBodyBytes        = 4096
)

// ErrorResponse is the body of every non-2xx JSON response
type ErrorResponse struct {
	Error string `json:"error"`
}

// HistoryPoint is one persisted sample in a history response
type HistoryPoint struct {
	T         int64    `json:"t"`                   // Unix timestamp in milliseconds
	LatencyMS *float64 `json:"latencyMs,omitempty"` // Absent for failures
	Failed    bool     `json:"failed,omitempty"`
}

// HistoryResponse is the response of the history endpoint
type HistoryResponse struct {
	Endpoint string         `json:"endpoint"`
	Points   []HistoryPoint `json:"points"`
}

type setActiveRequest struct {
	Active *bool `json:"active"`
}

type setIntervalRequest struct {
	Interval string `json:"interval"`
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.engine.Snapshot())
}

func (s *Server) handleListEndpoints(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.engine.Endpoints())
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.engine.Status())
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Start(s.baseCtx); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.logger.Info("Polling started via API", zap.String("requestId", middleware.GetReqID(r.Context())))
	s.writeJSON(w, http.StatusOK, s.engine.Status())
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.engine.Stop()
	s.logger.Info("Polling stopped via API", zap.String("requestId", middleware.GetReqID(r.Context())))
	s.writeJSON(w, http.StatusOK, s.engine.Status())
}

func (s *Server) handleSetActive(w http.ResponseWriter, r *http.Request) {
	endpoint, err := endpointParam(r)
	if err != nil {
		s.writeErrorMessage(w, http.StatusBadRequest, "malformed endpoint name")
		return
	}

	var req setActiveRequest
	if err := decodeBody(w, r, &req); err != nil || req.Active == nil {
		s.writeErrorMessage(w, http.StatusBadRequest, `body must be {"active": true|false}`)
		return
	}

	if err := s.engine.SetActive(endpoint, *req.Active); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.engine.Endpoints())
}

func (s *Server) handleSetInterval(w http.ResponseWriter, r *http.Request) {
	var req setIntervalRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeErrorMessage(w, http.StatusBadRequest, `body must be {"interval": "<duration>"}`)
		return
	}

	d, err := time.ParseDuration(req.Interval)
	if err != nil {
		s.writeErrorMessage(w, http.StatusBadRequest, "invalid interval: "+req.Interval)
		return
	}
	if d < poller.MinInterval || d > poller.MaxInterval {
		s.writeErrorMessage(w, http.StatusBadRequest,
			fmt.Sprintf("interval must be between %s and %s", poller.MinInterval, poller.MaxInterval))
		return
	}

	if err := s.engine.SetInterval(d); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.engine.Status())
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.writeErrorMessage(w, http.StatusNotFound, "history is not available: no sqlite sink configured")
		return
	}

	endpoint, err := endpointParam(r)
	if err != nil {
		s.writeErrorMessage(w, http.StatusBadRequest, "malformed endpoint name")
		return
	}
	limit := parseIntParam(r.URL.Query().Get("limit"), defaultHistoryLimit)
	if limit <= 0 || limit > maxHistoryLimit {
		s.writeErrorMessage(w, http.StatusBadRequest, "limit out of range")
		return
	}

	records, err := s.history.History(r.Context(), endpoint, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := HistoryResponse{Endpoint: endpoint, Points: make([]HistoryPoint, 0, len(records))}
	for _, rec := range records {
		p := HistoryPoint{T: rec.Timestamp.UnixMilli(), Failed: rec.Failed}
		if !rec.Failed {
			ms := float64(rec.Latency) / float64(time.Millisecond)
			p.LatencyMS = &ms
		}
		resp.Points = append(resp.Points, p)
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	s.wsHub.ServeWS(w, r, streamMessageType, s.engine.Snapshot())
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func (s *Server) writeErrorMessage(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, ErrorResponse{Error: message})
}

// writeError maps engine errors to status codes. Unexpected errors are
// logged and reported without detail.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("Request failed",
			zap.String("path", r.URL.Path),
			zap.String("requestId", middleware.GetReqID(r.Context())),
			zap.Error(err))
		s.writeErrorMessage(w, status, "internal error")
		return
	}
	s.writeErrorMessage(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, poller.ErrNoActiveEndpoints):
		return http.StatusConflict
	case errors.Is(err, poller.ErrUnknownEndpoint):
		return http.StatusNotFound
	case errors.Is(err, poller.ErrInvalidInterval):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
