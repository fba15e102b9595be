package websocket

import (
	"errors"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/aminedk/ws-chat-server/bus"
	"github.com/aminedk/ws-chat-server/config"
)

const writeRetryDelay = 200 * time.Millisecond

// State is the lifecycle state of a connection.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateOpen:
		return "OPEN"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	}
	return "UNKNOWN"
}

// Client represents one open WebSocket connection and its per-connection
// state: message counter, session affinity and close bookkeeping.
type Client struct {
	ID        string
	SessionID string

	conn        *websocket.Conn
	cfg         *config.WebSocketConfig
	connectedAt time.Time

	messageCount atomic.Int64
	state        atomic.Int32
	graceful     atomic.Bool

	sub       *bus.Subscription
	mu        sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

// NewClient creates a client in the CONNECTING state. initialCount seeds the
// message counter from a recovered session record.
func NewClient(id, sessionID string, initialCount int64, conn *websocket.Conn, cfg *config.WebSocketConfig) *Client {
	c := &Client{
		ID:          id,
		SessionID:   sessionID,
		conn:        conn,
		cfg:         cfg,
		connectedAt: time.Now(),
		done:        make(chan struct{}),
	}
	c.messageCount.Store(initialCount)
	c.state.Store(int32(StateConnecting))
	return c
}

// State returns the connection's lifecycle state.
func (c *Client) State() State {
	return State(c.state.Load())
}

func (c *Client) setState(s State) {
	c.state.Store(int32(s))
}

// MessageCount returns the running message counter.
func (c *Client) MessageCount() int64 {
	return c.messageCount.Load()
}

// IncrementMessageCount bumps the counter by one and returns the new value.
func (c *Client) IncrementMessageCount() int64 {
	return c.messageCount.Add(1)
}

// ConnectedAt returns the time the connection was accepted.
func (c *Client) ConnectedAt() time.Time {
	return c.connectedAt
}

// MarkGraceful flags the connection as server-initiated close; the goodbye
// frame will not be repeated during disconnect cleanup.
func (c *Client) MarkGraceful() {
	c.graceful.Store(true)
}

// Graceful reports whether a server-initiated close is in progress.
func (c *Client) Graceful() bool {
	return c.graceful.Load()
}

// Done is closed once the connection's disconnect cleanup has finished.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) finish() {
	close(c.done)
}

func (c *Client) writeDeadline() time.Time {
	return time.Now().Add(time.Duration(c.cfg.WriteTimeout) * time.Second)
}

// WriteJSON writes a single JSON frame with no retries. Writes are
// serialized; gorilla connections do not support concurrent writers.
func (c *Client) WriteJSON(data interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.conn.SetWriteDeadline(c.writeDeadline())
	return c.conn.WriteJSON(data)
}

// SafeWriteJSON writes a JSON frame with bounded constant-backoff retries.
func (c *Client) SafeWriteJSON(data interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	operation := func() error {
		c.conn.SetWriteDeadline(c.writeDeadline())
		err := c.conn.WriteJSON(data)
		if isClosedConnError(err) {
			// Retrying against a dead socket only burns the backoff budget.
			return backoff.Permanent(err)
		}
		return err
	}

	backoffStrategy := backoff.WithMaxRetries(
		backoff.NewConstantBackOff(writeRetryDelay),
		uint64(c.cfg.WriteRetries),
	)

	return backoff.RetryNotify(operation, backoffStrategy, func(err error, d time.Duration) {
		log.Warn().Err(err).Str("connection_id", c.ID).Dur("next_attempt_in", d).Msg("Retrying WebSocket write")
	})
}

// writeRaw forwards a payload verbatim as a text frame.
func (c *Client) writeRaw(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.conn.SetWriteDeadline(c.writeDeadline())
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

// forwardBroadcasts pumps bus payloads (heartbeats and broadcasts) to the
// client until the subscription is closed. This is the only path by which
// heartbeat pings reach clients.
func (c *Client) forwardBroadcasts() {
	for payload := range c.sub.C {
		if err := c.writeRaw(payload); err != nil {
			if !isClosedConnError(err) {
				log.Debug().Err(err).Str("connection_id", c.ID).Msg("Failed to forward broadcast")
			}
			return
		}
	}
}

// Close sends a close frame with the given code and tears the socket down.
// Safe to call more than once; only the first call has any effect.
func (c *Client) Close(code int, text string) {
	c.closeOnce.Do(func() {
		c.setState(StateClosing)

		c.mu.Lock()
		err := c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(code, text),
			c.writeDeadline(),
		)
		c.mu.Unlock()
		if err != nil && !isClosedConnError(err) {
			log.Debug().Err(err).Str("connection_id", c.ID).Msg("Error sending close message")
		}

		c.conn.Close()
	})
}

// isClosedConnError reports whether the error indicates the peer or the
// transport is already gone, the one condition a best-effort send is allowed
// to swallow silently.
func isClosedConnError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, websocket.ErrCloseSent) {
		return true
	}
	if _, ok := err.(*websocket.CloseError); ok {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "use of closed network connection") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "connection reset by peer")
}
