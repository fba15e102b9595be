package websocket

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/aminedk/ws-chat-server/config"
)

func TestClient_MessageCounter(t *testing.T) {
	c := NewClient("conn-1", "sess-1", 0, nil, &config.WebSocketConfig{})

	assert.Equal(t, int64(0), c.MessageCount())
	assert.Equal(t, int64(1), c.IncrementMessageCount())
	assert.Equal(t, int64(2), c.IncrementMessageCount())
	assert.Equal(t, int64(2), c.MessageCount())
}

func TestClient_CounterSeededFromRecoveredSession(t *testing.T) {
	c := NewClient("conn-1", "sess-1", 41, nil, &config.WebSocketConfig{})

	assert.Equal(t, int64(41), c.MessageCount())
	assert.Equal(t, int64(42), c.IncrementMessageCount())
}

func TestClient_StateTransitions(t *testing.T) {
	c := NewClient("conn-1", "sess-1", 0, nil, &config.WebSocketConfig{})

	assert.Equal(t, StateConnecting, c.State())
	c.setState(StateOpen)
	assert.Equal(t, StateOpen, c.State())
	assert.Equal(t, "OPEN", c.State().String())
}

func TestClient_GracefulFlag(t *testing.T) {
	c := NewClient("conn-1", "sess-1", 0, nil, &config.WebSocketConfig{})

	assert.False(t, c.Graceful())
	c.MarkGraceful()
	assert.True(t, c.Graceful())
}
