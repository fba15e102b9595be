package bus

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

// Buffer per subscription; a member this far behind starts losing payloads.
const subscriptionBuffer = 16

// MemoryBus is a single-process Bus. It is the fan-out layer for the
// distributed implementations as well: the Redis and Kafka buses relay
// inbound payloads through a MemoryBus to their local subscribers.
type MemoryBus struct {
	mu     sync.RWMutex
	groups map[string]map[chan []byte]struct{}
	closed bool
}

// NewMemoryBus creates a new in-process bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		groups: make(map[string]map[chan []byte]struct{}),
	}
}

// Join subscribes to a group.
func (b *MemoryBus) Join(group string) (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, fmt.Errorf("bus is closed")
	}

	members, ok := b.groups[group]
	if !ok {
		members = make(map[chan []byte]struct{})
		b.groups[group] = members
	}

	ch := make(chan []byte, subscriptionBuffer)
	members[ch] = struct{}{}

	return &Subscription{
		C: ch,
		leave: func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if b.closed {
				return
			}
			delete(members, ch)
			if len(members) == 0 {
				delete(b.groups, group)
			}
			close(ch)
		},
	}, nil
}

// Publish delivers a payload to every member of the group. Members whose
// buffers are full are skipped.
func (b *MemoryBus) Publish(_ context.Context, group string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return fmt.Errorf("bus is closed")
	}

	for ch := range b.groups[group] {
		select {
		case ch <- payload:
		default:
			log.Debug().Str("group", group).Msg("Dropping payload for slow bus member")
		}
	}
	return nil
}

// Close closes every subscription channel and marks the bus unusable.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	for _, members := range b.groups {
		for ch := range members {
			close(ch)
		}
	}
	b.groups = nil
	return nil
}

// Type returns the bus implementation name.
func (b *MemoryBus) Type() string {
	return "memory"
}
