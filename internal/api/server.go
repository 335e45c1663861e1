package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	pmw "github.com/aaronlmathis/pingplot/internal/middleware"
	"github.com/aaronlmathis/pingplot/internal/monitor"
	"github.com/aaronlmathis/pingplot/internal/sink"
	"github.com/aaronlmathis/pingplot/internal/snapshot"
	"github.com/aaronlmathis/pingplot/internal/version"
	"github.com/aaronlmathis/pingplot/internal/ws"
)

const (
	streamMessageType   = "snapshot"
	limiterCleanupEvery = 5 * time.Minute
	limiterIdle         = 10 * time.Minute
)

// Engine is the sampling engine driven by the API
type Engine interface {
	Start(ctx context.Context) error
	Stop()
	SetActive(endpoint string, active bool) error
	SetInterval(d time.Duration) error
	Snapshot() snapshot.Snapshot
	Endpoints() []monitor.EndpointStatus
	Status() monitor.Status
}

// HistorySource reads persisted samples
type HistorySource interface {
	History(ctx context.Context, endpoint string, limit int) ([]sink.Record, error)
}

// Options configures the API server
type Options struct {
	ControlPerMinute int
	ControlBurst     int
	StreamInterval   time.Duration
}

// Server represents the API server
type Server struct {
	logger  *zap.Logger
	engine  Engine
	history HistorySource
	wsHub   *ws.Hub
	router  chi.Router
	limiter *pmw.RateLimiter
	etag    *pmw.ETagMiddleware
	options Options

	// Lifetime context for polling started over HTTP; request contexts end
	// with the response.
	baseCtx context.Context
}

// NewServer creates a new API server. history may be nil when no queryable
// sink is configured.
func NewServer(logger *zap.Logger, engine Engine, hub *ws.Hub, history HistorySource, options Options) *Server {
	if options.StreamInterval <= 0 {
		options.StreamInterval = time.Second
	}

	s := &Server{
		logger:  logger,
		engine:  engine,
		history: history,
		wsHub:   hub,
		router:  chi.NewRouter(),
		limiter: pmw.NewRateLimiter(logger.Named("ratelimit"), options.ControlPerMinute, options.ControlBurst),
		etag:    pmw.NewETagMiddleware(logger),
		options: options,
		baseCtx: context.Background(),
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// Start starts the server components. ctx bounds the WebSocket hub, the
// snapshot publisher and any polling started through the API.
func (s *Server) Start(ctx context.Context) {
	s.baseCtx = ctx

	go s.wsHub.Run()
	go s.wsHub.Publish(ctx, streamMessageType, s.options.StreamInterval, func() interface{} {
		return s.engine.Snapshot()
	})
	go s.cleanupLimiters(ctx)
}

// Stop stops the server components
func (s *Server) Stop() {
	s.logger.Info("Stopping server components")

	if s.wsHub != nil {
		s.wsHub.Stop()
	}
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) cleanupLimiters(ctx context.Context) {
	ticker := time.NewTicker(limiterCleanupEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := s.limiter.Cleanup(limiterIdle); removed > 0 {
				s.logger.Debug("Removed idle rate limiters", zap.Int("count", removed))
			}
		}
	}
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(pmw.RequestIDResponseMiddleware)
	s.router.Use(pmw.PrometheusMiddleware)
	s.router.Use(middleware.Recoverer)

	// CORS middleware
	s.router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, If-None-Match")
			w.Header().Set("Access-Control-Expose-Headers", "ETag, X-Request-ID")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	})
}

func (s *Server) setupRoutes() {
	// Health endpoints
	s.router.Get("/healthz", s.handleHealth)
	s.router.Get("/version", s.handleVersion)
	s.router.Handle("/metrics", promhttp.Handler())

	s.router.Route("/api/v1", func(r chi.Router) {
		// Live stream; hijacks the connection so it stays outside the timeout group
		r.Get("/stream", s.handleStream)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))
			r.Use(s.etag.Middleware)

			r.Get("/snapshot", s.handleSnapshot)
			r.Get("/endpoints", s.handleListEndpoints)
			r.Get("/status", s.handleStatus)
			r.Get("/history/*", s.handleHistory)
		})

		// Control endpoints
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))
			r.Use(s.limiter.Middleware)

			r.Post("/start", s.handleStart)
			r.Post("/stop", s.handleStop)
			r.Put("/interval", s.handleSetInterval)
			r.Put("/endpoints/*", s.handleSetActive)
		})
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(version.Get())
}
