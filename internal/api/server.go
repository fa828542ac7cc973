// Package api provides the HTTP status API for the Hi-Therma bridge.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rotragit/Hi-Therma/internal/config"
	"github.com/rotragit/Hi-Therma/internal/domain"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// StatusSource supplies bridge-level status fields (connection state,
// announced entities) to the status endpoint.
type StatusSource interface {
	Status() map[string]interface{}
}

// Server represents the HTTP API server that exposes bridge monitoring data.
type Server struct {
	config    *config.Config
	server    *http.Server
	router    *mux.Router
	registry  *domain.StatsRegistry
	source    StatusSource
	logger    zerolog.Logger
	startTime time.Time
}

// NewServer creates a new HTTP API server.
func NewServer(cfg *config.Config, registry *domain.StatsRegistry, source StatusSource) *Server {
	router := mux.NewRouter()

	// Create API server instance
	apiServer := &Server{
		config:    cfg,
		router:    router,
		registry:  registry,
		source:    source,
		logger:    log.With().Str("component", "api").Logger(),
		startTime: time.Now(),
	}

	apiServer.setupRoutes()

	return apiServer
}

// setupRoutes configures all API endpoint handlers.
func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/status", s.handleStatus).Methods("GET")
	api.HandleFunc("/devices", s.handleListDevices).Methods("GET")
}

// Start begins listening for HTTP requests.
func (s *Server) Start(_ context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.API.Host, s.config.API.Port)

	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		s.logger.Info().
			Str("host", s.config.API.Host).
			Int("port", s.config.API.Port).
			Msg("Starting HTTP API server")

		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("HTTP server error")
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info().Msg("Stopping HTTP API server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if s.server != nil {
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("HTTP server shutdown error: %w", err)
		}
	}

	return nil
}

// handleStatus returns bridge status information.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	status := map[string]interface{}{
		"status": "ok",
		"uptime": time.Since(s.startTime).String(),
	}

	for key, value := range s.registry.Snapshot() {
		status[key] = value
	}

	if s.source != nil {
		for key, value := range s.source.Status() {
			status[key] = value
		}
	}

	s.writeJSON(w, status, http.StatusOK)
}

// handleListDevices returns stats for every bus device seen so far.
func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	devices := s.registry.Devices()

	s.writeJSON(w, map[string]interface{}{
		"devices": devices,
		"count":   len(devices),
	}, http.StatusOK)
}

// writeJSON writes a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
