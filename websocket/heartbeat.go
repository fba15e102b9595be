package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/aminedk/ws-chat-server/bus"
	"github.com/aminedk/ws-chat-server/metrics"
)

type heartbeatFrame struct {
	TS string `json:"ts"`
}

// Heartbeat periodically publishes a timestamped ping on the bus while at
// least one connection is registered. Start and Stop are driven by registry
// occupancy transitions; both are safe under concurrent invocation. The
// running marker and the stop channel are swapped under one mutex so that a
// Start racing a Stop can never strand a dead loop behind a RUNNING state or
// close the same channel twice.
type Heartbeat struct {
	bus      bus.Bus
	group    string
	interval time.Duration
	draining func() bool // shutdown flag; no publish once it reports true

	mu      sync.Mutex
	running bool
	stop    chan struct{}
}

// NewHeartbeat creates a stopped heartbeat scheduler.
func NewHeartbeat(b bus.Bus, group string, interval time.Duration, draining func() bool) *Heartbeat {
	return &Heartbeat{
		bus:      b,
		group:    group,
		interval: interval,
		draining: draining,
	}
}

// Start transitions the scheduler to RUNNING. A concurrent or repeated Start
// is a no-op.
func (h *Heartbeat) Start() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.running {
		return
	}
	h.running = true
	h.stop = make(chan struct{})

	log.Debug().Dur("interval", h.interval).Msg("Heartbeat started")
	go h.loop(h.stop)
}

// Stop transitions the scheduler to STOPPED, interrupting a wait in
// progress. Stopping an already-stopped scheduler is a no-op.
func (h *Heartbeat) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.running {
		return
	}
	h.running = false
	close(h.stop)

	log.Debug().Msg("Heartbeat stopped")
}

// Running reports whether the scheduler is currently active.
func (h *Heartbeat) Running() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.running
}

func (h *Heartbeat) loop(stop chan struct{}) {
	timer := time.NewTimer(h.interval)
	defer timer.Stop()

	for {
		select {
		case <-stop:
			return
		case <-timer.C:
		}

		// A stop delivered while the timer fired must not produce an
		// orphaned heartbeat, and none may go out once shutdown began.
		select {
		case <-stop:
			return
		default:
		}
		if h.draining != nil && h.draining() {
			return
		}

		h.publish()
		timer.Reset(h.interval)
	}
}

func (h *Heartbeat) publish() {
	payload, err := json.Marshal(heartbeatFrame{TS: time.Now().UTC().Format(time.RFC3339)})
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal heartbeat")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := h.bus.Publish(ctx, h.group, payload); err != nil {
		log.Error().Err(err).Msg("Failed to publish heartbeat")
		return
	}
	metrics.Heartbeats.Inc()
}
