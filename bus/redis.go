package bus

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"
)

// RedisBus implements Bus over Redis pub/sub so that multiple server
// instances share the same broadcast groups. One Redis subscription is held
// per group; inbound messages are fanned out locally through a MemoryBus.
type RedisBus struct {
	client *redis.Client
	local  *MemoryBus
	mu     sync.Mutex
	relays map[string]*redis.PubSub
	closed bool
}

// NewRedisBus creates a new Redis-backed bus.
func NewRedisBus(client *redis.Client) *RedisBus {
	return &RedisBus{
		client: client,
		local:  NewMemoryBus(),
		relays: make(map[string]*redis.PubSub),
	}
}

func channelName(group string) string {
	return fmt.Sprintf("ws:bus:%s", group)
}

// Join subscribes to a group, establishing the Redis relay for the group on
// first use.
func (b *RedisBus) Join(group string) (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, fmt.Errorf("bus is closed")
	}

	if _, ok := b.relays[group]; !ok {
		pubsub := b.client.Subscribe(context.Background(), channelName(group))
		// Force the subscription to be established before anyone publishes.
		if _, err := pubsub.Receive(context.Background()); err != nil {
			pubsub.Close()
			return nil, fmt.Errorf("failed to subscribe to %s: %w", group, err)
		}
		b.relays[group] = pubsub

		go func() {
			for msg := range pubsub.Channel() {
				if err := b.local.Publish(context.Background(), group, []byte(msg.Payload)); err != nil {
					return
				}
			}
		}()
	}

	return b.local.Join(group)
}

// Publish sends a payload through Redis; it comes back through the relay to
// every member on every instance.
func (b *RedisBus) Publish(ctx context.Context, group string, payload []byte) error {
	return b.client.Publish(ctx, channelName(group), payload).Err()
}

// Close stops all relays and closes local subscriptions.
func (b *RedisBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	for group, pubsub := range b.relays {
		if err := pubsub.Close(); err != nil {
			log.Error().Err(err).Str("group", group).Msg("Failed to close Redis subscription")
		}
	}
	b.relays = nil
	return b.local.Close()
}

// Type returns the bus implementation name.
func (b *RedisBus) Type() string {
	return "redis"
}
