// Package api provides the HTTP REST surface over the observability
// backbone: logs, workflows, metrics, alerts and the live event stream.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/hugo-lorenzo-mato/beacon/internal/alerts"
	"github.com/hugo-lorenzo-mato/beacon/internal/events"
	"github.com/hugo-lorenzo-mato/beacon/internal/logstore"
	"github.com/hugo-lorenzo-mato/beacon/internal/metrics"
	"github.com/hugo-lorenzo-mato/beacon/internal/tracker"
	"github.com/hugo-lorenzo-mato/beacon/internal/web/sse"
)

// Server exposes the REST API over the four backbone components.
type Server struct {
	router      chi.Router
	logs        *logstore.Store
	workflows   *tracker.Tracker
	metrics     *metrics.Collector
	alerts      *alerts.Engine
	bus         *events.EventBus
	sse         *sse.Handler
	broadcaster *sse.Broadcaster
	logger      *slog.Logger
}

// ServerOption configures the server.
type ServerOption func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) { s.logger = logger }
}

// WithBroadcaster attaches the dashboard fan-out so its health shows up
// on /health.
func WithBroadcaster(b *sse.Broadcaster) ServerOption {
	return func(s *Server) { s.broadcaster = b }
}

// NewServer creates the API server over the backbone components.
func NewServer(logs *logstore.Store, workflows *tracker.Tracker, collector *metrics.Collector, engine *alerts.Engine, bus *events.EventBus, opts ...ServerOption) *Server {
	s := &Server{
		logs:      logs,
		workflows: workflows,
		metrics:   collector,
		alerts:    engine,
		bus:       bus,
		sse:       sse.NewHandler(bus),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.setupRouter()
	return s
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(s.loggingMiddleware)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Requested-With"},
		AllowCredentials: false,
		MaxAge:           300,
	})
	r.Use(corsHandler.Handler)

	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/logs", func(r chi.Router) {
			r.Get("/", s.handleQueryLogs)
			r.Post("/", s.handleWriteLog)
			r.Get("/recent", s.handleRecentLogs)
			r.Get("/reset-status", s.handleLogResetStatus)
			r.Post("/cleanup", s.handleLogCleanup)
		})

		r.Route("/workflows", func(r chi.Router) {
			r.Get("/", s.handleListActiveWorkflows)
			r.Post("/", s.handleCreateWorkflow)
			r.Get("/history", s.handleWorkflowHistory)

			r.Route("/{workflowID}", func(r chi.Router) {
				r.Get("/", s.handleGetWorkflow)
				r.Post("/start", s.handleStartWorkflow)
				r.Post("/complete", s.handleCompleteWorkflow)
				r.Post("/fail", s.handleFailWorkflow)
				r.Post("/cancel", s.handleCancelWorkflow)

				r.Route("/steps", func(r chi.Router) {
					r.Post("/", s.handleAddStep)
					r.Post("/{stepID}/start", s.handleStartStep)
					r.Post("/{stepID}/complete", s.handleCompleteStep)
					r.Post("/{stepID}/fail", s.handleFailStep)
					r.Post("/{stepID}/skip", s.handleSkipStep)
				})
			})
		})

		r.Route("/metrics", func(r chi.Router) {
			r.Get("/summary", s.handleMetricsSummary)
			r.Get("/system", s.handleSystemMetrics)
			r.Get("/modules", s.handleModuleMetrics)
			r.Post("/sample", s.handleSampleNow)
		})

		r.Route("/alerts", func(r chi.Router) {
			r.Get("/", s.handleListAlerts)
			r.Post("/", s.handleCreateAlert)
			r.Get("/summary", s.handleAlertSummary)
			r.Get("/history", s.handleAlertHistory)
			r.Post("/evaluate", s.handleEvaluateRules)

			r.Route("/rules", func(r chi.Router) {
				r.Get("/", s.handleListRules)
				r.Post("/", s.handleAddRule)
			})

			r.Route("/{alertID}", func(r chi.Router) {
				r.Post("/acknowledge", s.handleAcknowledgeAlert)
				r.Post("/dismiss", s.handleDismissAlert)
			})
		})

		r.Get("/events", s.sse.ServeHTTP)
	})

	return r
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			s.logger.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
				"bytes", ww.BytesWritten(),
			)
		}()

		next.ServeHTTP(ww, r)
	})
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			slog.Error("failed to encode response", "error", err)
		}
	}
}

// respondError sends a JSON error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// handleHealth reports per-component health for supervision.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	payload := map[string]any{
		"status":         "healthy",
		"time":           time.Now().UTC().Format(time.RFC3339),
		"logs":           s.logs.Health(),
		"metrics":        s.metrics.Health(),
		"alerts":         s.alerts.Health(),
		"sse_clients":    s.sse.ClientCount(),
		"dropped_events": s.bus.DroppedCount(),
	}
	if s.broadcaster != nil {
		payload["fanout"] = s.broadcaster.Status()
	}
	respondJSON(w, http.StatusOK, payload)
}

// ListenAndServe starts the HTTP server and shuts it down when ctx is
// cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("starting API server", "addr", addr)
	return srv.ListenAndServe()
}
