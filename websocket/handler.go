package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/aminedk/ws-chat-server/config"
	"github.com/aminedk/ws-chat-server/metrics"
)

// Query parameter carrying the client's previous session identifier.
const sessionQueryParam = "session_uuid"

// errShuttingDown marks a connection refused because graceful shutdown began
// while its setup was in flight.
var errShuttingDown = errors.New("server is shutting down")

type countReply struct {
	Count int64 `json:"count"`
}

type errorReply struct {
	Error string `json:"error"`
}

type goodbyeFrame struct {
	Bye   bool  `json:"bye"`
	Total int64 `json:"total"`
}

// Upgrader for websocket connections
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler drives the per-connection state machine: connect with session
// recovery, the receive loop with message counting, and disconnect cleanup.
type Handler struct {
	manager *Manager
	cfg     *config.WebSocketConfig
}

// NewHandler creates a new websocket handler.
func NewHandler(manager *Manager, cfg *config.WebSocketConfig) *Handler {
	return &Handler{
		manager: manager,
		cfg:     cfg,
	}
}

// HandleWebSocket handles incoming websocket connections.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		metrics.Errors.WithLabelValues("connection_error").Inc()
		log.Error().Err(err).Str("remote", r.RemoteAddr).Msg("WebSocket upgrade failed")
		return
	}

	// Admission check: during shutdown, new connections are turned away with
	// 1001 and never touch the registry or the session store. Registration
	// re-checks the flag under the manager lock, so a shutdown triggered
	// between here and Register still refuses the connection.
	if h.manager.ShuttingDown() {
		h.rejectGoingAway(conn, r.RemoteAddr)
		return
	}

	if h.cfg.MessageSizeLimit > 0 {
		conn.SetReadLimit(int64(h.cfg.MessageSizeLimit))
	}

	// Suppress the automatic close-frame echo: disconnect cleanup sends the
	// goodbye frame first and then answers the close itself.
	conn.SetCloseHandler(func(int, string) error { return nil })

	client, err := h.connect(r, conn)
	if errors.Is(err, errShuttingDown) {
		h.rejectGoingAway(conn, r.RemoteAddr)
		return
	}
	if err != nil {
		metrics.Errors.WithLabelValues("connection_error").Inc()
		log.Error().Err(err).Str("remote", r.RemoteAddr).Msg("Connection setup failed")
		conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "internal error"),
			time.Now().Add(time.Duration(h.cfg.WriteTimeout)*time.Second),
		)
		conn.Close()
		return
	}

	closeCode := websocket.CloseAbnormalClosure
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if closeErr, ok := err.(*websocket.CloseError); ok {
				closeCode = closeErr.Code
			}
			if !isClosedConnError(err) && !websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Str("connection_id", client.ID).Msg("Read error")
			}
			break
		}
		h.handleFrame(client, msg)
	}

	h.disconnect(client, closeCode)
}

// rejectGoingAway turns a freshly upgraded socket away with a 1001 close.
// The connection is never registered and no session record is written.
func (h *Handler) rejectGoingAway(conn *websocket.Conn, remote string) {
	log.Info().Str("remote", remote).Msg("Rejecting new connection during shutdown")
	conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
		time.Now().Add(time.Duration(h.cfg.WriteTimeout)*time.Second),
	)
	conn.Close()
}

// connect runs the acceptance sequence: session recovery, registration,
// broadcast group membership. Any failure here is reported to the caller,
// which closes the socket with 1011.
func (h *Handler) connect(r *http.Request, conn *websocket.Conn) (*Client, error) {
	var initialCount int64
	recovered := false

	sessionID := r.URL.Query().Get(sessionQueryParam)
	if sessionID != "" {
		count, ok, err := h.manager.store.Get(r.Context(), sessionID)
		if err != nil {
			return nil, err
		}
		if ok {
			initialCount = count
			recovered = true
		}
	} else {
		sessionID = uuid.New().String()
	}

	client := NewClient(uuid.New().String(), sessionID, initialCount, conn, h.cfg)

	sub, err := h.manager.bus.Join(h.manager.group)
	if err != nil {
		return nil, err
	}
	client.sub = sub

	client.setState(StateOpen)
	if !h.manager.Register(client) {
		sub.Leave()
		return nil, errShuttingDown
	}
	metrics.ActiveConnections.Inc()
	metrics.TotalConnections.Inc()
	if recovered {
		metrics.Reconnections.Inc()
		log.Info().
			Str("session_id", sessionID).
			Int64("message_count", initialCount).
			Msg("Recovered session")
	}

	go client.forwardBroadcasts()

	log.Info().
		Str("connection_id", client.ID).
		Str("session_id", client.SessionID).
		Int64("message_count", client.MessageCount()).
		Int("active_connections", h.manager.registry.Size()).
		Msg("WebSocket connected")

	return client, nil
}

// handleFrame implements the receive semantics: malformed JSON is answered
// with an error frame and does not touch the counter; a well-formed frame
// bumps the counter and is answered with the running total.
func (h *Handler) handleFrame(c *Client, raw []byte) {
	var data map[string]interface{}
	if err := json.Unmarshal(raw, &data); err != nil {
		metrics.Errors.WithLabelValues("invalid_json").Inc()
		if werr := c.SafeWriteJSON(errorReply{Error: "Invalid JSON"}); werr != nil && !isClosedConnError(werr) {
			log.Debug().Err(werr).Str("connection_id", c.ID).Msg("Failed to send parse error reply")
		}
		return
	}

	count := c.IncrementMessageCount()
	metrics.Messages.Inc()

	if err := c.SafeWriteJSON(countReply{Count: count}); err != nil {
		metrics.Errors.WithLabelValues("receive_error").Inc()
		log.Error().Err(err).Str("connection_id", c.ID).Msg("Failed to send count reply")
		if werr := c.WriteJSON(errorReply{Error: "Internal error"}); werr != nil && !isClosedConnError(werr) {
			log.Debug().Err(werr).Str("connection_id", c.ID).Msg("Failed to send error reply")
		}
		return
	}

	log.Debug().
		Str("connection_id", c.ID).
		Str("session_id", c.SessionID).
		Int64("message_count", count).
		Int("message_length", len(raw)).
		Msg("Message received")
}

// disconnect runs the cleanup sequence. Failures here are logged and
// swallowed; nothing propagates to the caller and other connections are
// never affected.
func (h *Handler) disconnect(c *Client, closeCode int) {
	defer c.finish()

	c.sub.Leave()
	h.manager.Unregister(c)
	metrics.ActiveConnections.Dec()

	duration := time.Since(c.ConnectedAt())
	metrics.ConnectionDuration.Observe(duration.Seconds())

	// Session affinity: persist the counter so a reconnect within the TTL
	// window resumes from it. Nothing is written for an idle connection.
	if count := c.MessageCount(); count > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := h.manager.store.Set(ctx, c.SessionID, count, h.manager.sessionTTL); err != nil {
			metrics.Errors.WithLabelValues("disconnect_error").Inc()
			log.Error().Err(err).Str("session_id", c.SessionID).Msg("Failed to persist session")
		}
		cancel()
	}

	if !c.Graceful() && closeCode != websocket.CloseGoingAway {
		if err := c.WriteJSON(goodbyeFrame{Bye: true, Total: c.MessageCount()}); err != nil && !isClosedConnError(err) {
			log.Debug().Err(err).Str("connection_id", c.ID).Msg("Failed to send goodbye frame")
		}
	}

	c.Close(websocket.CloseNormalClosure, "")
	c.setState(StateClosed)

	log.Info().
		Str("connection_id", c.ID).
		Str("session_id", c.SessionID).
		Int("close_code", closeCode).
		Int64("message_count", c.MessageCount()).
		Dur("duration", duration).
		Int("active_connections", h.manager.registry.Size()).
		Msg("WebSocket disconnected")
}
