package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

var (
	// Connection metrics
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ws_connections_active",
		Help: "The current number of active WebSocket connections.",
	})
	TotalConnections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ws_connections_total",
		Help: "The total number of WebSocket connections accepted.",
	})
	Reconnections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ws_reconnections_total",
		Help: "The total number of connections that recovered a previous session.",
	})
	ConnectionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ws_connection_duration_seconds",
		Help:    "Duration of WebSocket connections.",
		Buckets: []float64{1, 10, 60, 300, 600, 1800, 3600, 7200},
	})

	// Message metrics
	Messages = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ws_messages_total",
		Help: "The total number of WebSocket messages processed.",
	})

	// Error metrics
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ws_errors_total",
		Help: "The total number of WebSocket errors.",
	}, []string{"error_type"})

	// Heartbeat metrics
	Heartbeats = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ws_heartbeats_total",
		Help: "The total number of heartbeats published.",
	})

	// Shutdown metrics
	ShutdownDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ws_shutdown_duration_seconds",
		Help:    "Time taken for graceful shutdown.",
		Buckets: []float64{0.1, 0.5, 1.0, 2.0, 5.0, 10.0},
	})

	// Health metrics
	AppReady = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "app_ready",
		Help: "Application readiness status (1=ready, 0=not ready).",
	})
	AppHealthy = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "app_healthy",
		Help: "Application health status (1=healthy, 0=unhealthy).",
	})
)

// StartServer starts the HTTP server for Prometheus metrics.
func StartServer(port int, path string) {
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.Handler())

	addr := fmt.Sprintf(":%d", port)
	log.Info().Str("addr", addr).Str("path", path).Msg("Starting metrics server")

	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Fatal().Err(err).Msg("Failed to start metrics server")
		}
	}()
}
