package api

import (
	"fmt"
	"log"
	"net/http"
	"time"

	"review-pulse/database"
	"review-pulse/database/analytics"
	"review-pulse/engine"
	"review-pulse/notifications"
	"review-pulse/realtime"
)

// Server handles HTTP API requests
type Server struct {
	engine     *engine.Engine
	repo       *database.ReviewRepository
	analytics  *analytics.Repository
	webhookMq  *notifications.WebhookManager
	broker     *realtime.Broker
	feedHealth func() bool
}

// NewServer creates a new API server instance
func NewServer(engine *engine.Engine, repo *database.ReviewRepository, analyticsRepo *analytics.Repository, webhookMq *notifications.WebhookManager, broker *realtime.Broker) *Server {
	return &Server{
		engine:    engine,
		repo:      repo,
		analytics: analyticsRepo,
		webhookMq: webhookMq,
		broker:    broker,
	}
}

// SetFeedHealth registers the feed consumer's health probe.
func (s *Server) SetFeedHealth(probe func() bool) {
	s.feedHealth = probe
}

// Start starts the HTTP server on the specified port
func (s *Server) Start(port int) error {
	mux := http.NewServeMux()

	mux.Handle("GET /api/events", s.broker) // SSE Endpoint

	// Engine routes
	mux.HandleFunc("POST /api/embed", s.handleEmbed)
	mux.HandleFunc("POST /api/anomaly-check", s.handleAnomalyCheck)
	mux.HandleFunc("POST /api/stats/update", s.handleStatsUpdate)
	mux.HandleFunc("GET /api/criticality", s.handleCriticality)
	mux.HandleFunc("POST /api/propagation/run", s.handleRunPropagation)
	mux.HandleFunc("GET /api/signals/{target}", s.handleGetSignal)
	mux.HandleFunc("GET /api/signals/{target}/history", s.handleGetSignalHistory)

	// Model lifecycle routes
	mux.HandleFunc("POST /api/model/retrain", s.handleRetrain)
	mux.HandleFunc("GET /api/model/status", s.handleModelStatus)

	// Store routes
	mux.HandleFunc("GET /api/locations", s.handleGetLocations)
	mux.HandleFunc("POST /api/locations", s.handleUpsertLocation)
	mux.HandleFunc("GET /api/anomalies", s.handleGetAnomalies)
	mux.HandleFunc("GET /api/analytics/volume", s.handleDailyVolume)
	mux.HandleFunc("GET /api/analytics/windows", s.handleRatingWindows)

	// Webhook Management Routes
	mux.HandleFunc("GET /api/config/webhooks", s.handleGetWebhooks)
	mux.HandleFunc("POST /api/config/webhooks", s.handleCreateWebhook)
	mux.HandleFunc("PUT /api/config/webhooks/{id}", s.handleUpdateWebhook)
	mux.HandleFunc("DELETE /api/config/webhooks/{id}", s.handleDeleteWebhook)

	mux.HandleFunc("GET /health", s.handleHealth)

	// Add middleware
	handler := s.corsMiddleware(s.loggingMiddleware(mux))

	serverAddr := fmt.Sprintf("0.0.0.0:%d", port)
	log.Printf("🚀 API Server starting on %s", serverAddr)
	return http.ListenAndServe(serverAddr, handler)
}

// Middleware
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s %v", r.Method, r.URL.Path, time.Since(start))
	})
}

// Handlers are distributed across multiple files:
// - handlers_engine.go: anomaly checks, criticality, signals, propagation
// - handlers_model.go: model lifecycle (retrain, status)
// - handlers_store.go: locations, anomaly history, analytics reads
// - handlers_config.go: webhooks, health check
