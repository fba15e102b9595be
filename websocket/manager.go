package websocket

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/aminedk/ws-chat-server/bus"
	"github.com/aminedk/ws-chat-server/config"
	"github.com/aminedk/ws-chat-server/metrics"
	"github.com/aminedk/ws-chat-server/session"
)

// Manager is the connection lifecycle manager: it owns the registry, the
// shared heartbeat, the session store handle and the process-wide shutdown
// flag, and coordinates the bounded-time graceful shutdown of every open
// connection. It is constructed once at process start.
type Manager struct {
	registry  *Registry
	heartbeat *Heartbeat
	store     session.Store
	bus       bus.Bus

	group           string
	sessionTTL      time.Duration
	shutdownTimeout time.Duration

	// mu serializes registry transitions with the heartbeat Start/Stop they
	// trigger and with the shutdown flag flip, so a transition signal can
	// never land out of order and an admission can never slip past shutdown.
	mu           sync.Mutex
	shuttingDown atomic.Bool
}

// NewManager creates the lifecycle manager.
func NewManager(store session.Store, b bus.Bus, cfg *config.AppConfig) *Manager {
	m := &Manager{
		registry:        NewRegistry(),
		store:           store,
		bus:             b,
		group:           cfg.Bus.BroadcastGroup,
		sessionTTL:      time.Duration(cfg.Session.TTL) * time.Second,
		shutdownTimeout: time.Duration(cfg.WebSocket.ShutdownTimeout) * time.Second,
	}
	m.heartbeat = NewHeartbeat(
		b,
		cfg.Bus.BroadcastGroup,
		time.Duration(cfg.WebSocket.HeartbeatInterval)*time.Second,
		m.ShuttingDown,
	)
	return m
}

// Registry exposes the connection registry.
func (m *Manager) Registry() *Registry {
	return m.registry
}

// Heartbeat exposes the heartbeat scheduler.
func (m *Manager) Heartbeat() *Heartbeat {
	return m.heartbeat
}

// ShuttingDown reports whether graceful shutdown has been triggered. Once
// set, new connections are rejected.
func (m *Manager) ShuttingDown() bool {
	return m.shuttingDown.Load()
}

// Register adds a client to the registry, starting the heartbeat when the
// registry becomes non-empty. It reports false without registering once
// shutdown has been triggered: the flag is checked under the same lock that
// Shutdown flips it, so a client is either part of the shutdown snapshot or
// refused, never neither.
func (m *Manager) Register(c *Client) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.shuttingDown.Load() {
		return false
	}
	if m.registry.Add(c) {
		m.heartbeat.Start()
	}
	return true
}

// Unregister removes a client from the registry, stopping the heartbeat when
// the registry becomes empty.
func (m *Manager) Unregister(c *Client) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registry.Remove(c) {
		m.heartbeat.Stop()
	}
}

// Shutdown drives the graceful close of every registered connection: it
// flips the shutdown flag (closing the admission path), stops the heartbeat,
// sends each connection a goodbye frame and a 1001 close, and waits for the
// cleanup of all of them within the configured budget. Re-entry while
// already shutting down is a no-op.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	if !m.shuttingDown.CompareAndSwap(false, true) {
		m.mu.Unlock()
		return
	}
	start := time.Now()

	m.heartbeat.Stop()
	snapshot := m.registry.Snapshot()
	m.mu.Unlock()
	log.Info().Int("connections", len(snapshot)).Msg("Starting graceful shutdown")

	var wg sync.WaitGroup
	for _, c := range snapshot {
		c.MarkGraceful()

		if err := c.WriteJSON(goodbyeFrame{Bye: true, Total: c.MessageCount()}); err != nil && !isClosedConnError(err) {
			log.Debug().Err(err).Str("connection_id", c.ID).Msg("Failed to send goodbye frame")
		}

		wg.Add(1)
		go func(c *Client) {
			defer wg.Done()
			c.Close(websocket.CloseGoingAway, "server shutting down")
			<-c.Done()
		}(c)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(m.shutdownTimeout):
		log.Warn().Dur("budget", m.shutdownTimeout).Msg("Shutdown wait timed out before all connections closed")
	case <-ctx.Done():
		log.Warn().Err(ctx.Err()).Msg("Shutdown context expired before all connections closed")
	}

	elapsed := time.Since(start)
	metrics.ShutdownDuration.Observe(elapsed.Seconds())
	log.Info().Dur("elapsed", elapsed).Msg("Graceful shutdown completed")
}
