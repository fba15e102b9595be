package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/aminedk/ws-chat-server/config"
	"github.com/aminedk/ws-chat-server/session"
	"github.com/aminedk/ws-chat-server/websocket"
)

// Server is the thin HTTP adapter in front of the connection lifecycle core:
// the WebSocket endpoint plus liveness and readiness probes.
type Server struct {
	httpServer *http.Server
}

// New creates and configures the server.
func New(addr string, cfg *config.ServerConfig, wsHandler http.HandlerFunc, store session.Store) *Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws/chat", wsHandler)
	mux.HandleFunc("/healthz", handleHealth)
	mux.HandleFunc("/readyz", handleReadiness(store))

	return &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  time.Duration(cfg.ReadTimeout) * time.Second,
			WriteTimeout: time.Duration(cfg.WriteTimeout) * time.Second,
		},
	}
}

// Start blocks serving HTTP until the server is shut down.
func (s *Server) Start() {
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("HTTP server error")
	}
}

// Shutdown drains all WebSocket connections through the manager, then stops
// accepting HTTP traffic. ctx carries the outer deployment deadline.
func (s *Server) Shutdown(ctx context.Context, manager *websocket.Manager) {
	manager.Shutdown(ctx)

	if err := s.httpServer.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("HTTP server shutdown error")
	}
}

// handleHealth is the liveness probe: the process is up and serving.
func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
		"service":   "ws-chat-server",
	})
}

// handleReadiness checks that the session store answers a round-trip before
// reporting ready.
func handleReadiness(store session.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		ready := true
		if err := store.Set(ctx, "readiness_check", 1, time.Second); err != nil {
			ready = false
		} else if _, ok, err := store.Get(ctx, "readiness_check"); err != nil || !ok {
			ready = false
		}

		status := http.StatusOK
		if !ready {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, map[string]interface{}{
			"ready":     ready,
			"timestamp": time.Now().Unix(),
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Debug().Err(err).Msg("Failed to encode response")
	}
}
