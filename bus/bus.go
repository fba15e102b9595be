package bus

import (
	"context"
	"sync"
)

// Bus is the publish/subscribe primitive used to fan payloads out to every
// connection handler that has joined a group. Delivery is best-effort: a
// member that cannot keep up loses payloads rather than blocking the bus,
// and no ordering guarantee holds across server instances.
type Bus interface {
	// Join subscribes to a group and returns a Subscription whose channel
	// receives every payload published to that group.
	Join(group string) (*Subscription, error)
	// Publish delivers a payload to every current member of the group.
	Publish(ctx context.Context, group string, payload []byte) error
	// Close tears down the bus and closes all subscription channels.
	Close() error
	// Type returns the bus implementation name, for logs and metrics.
	Type() string
}

// Subscription is one member's view of a group. The channel is closed when
// the member leaves or the bus shuts down.
type Subscription struct {
	C     <-chan []byte
	leave func()
	once  sync.Once
}

// Leave removes the member from the group. Safe to call more than once.
func (s *Subscription) Leave() {
	s.once.Do(s.leave)
}
