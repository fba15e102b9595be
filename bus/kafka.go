package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
)

const (
	kafkaMaxRetries     = 3
	kafkaInitialBackoff = 100 * time.Millisecond
	kafkaMaxBackoff     = 5 * time.Second
	kafkaReadyTimeout   = 10 * time.Second
)

// KafkaBus implements Bus using Apache Kafka. Each group maps to a topic and
// gets its own sarama consumer group; Consume on a shared handle does not
// tolerate concurrent callers. Every server instance consumes with its own
// consumer group ID so that a published payload reaches all instances; local
// members are then fanned out through a MemoryBus.
type KafkaBus struct {
	producer sarama.SyncProducer
	brokers  []string
	groupID  string
	config   *sarama.Config
	local    *MemoryBus
	mu       sync.Mutex
	relays   map[string]*kafkaRelay
	closed   bool
}

// kafkaRelay is the per-group consumer pumping one topic into the local
// fan-out.
type kafkaRelay struct {
	consumerGroup sarama.ConsumerGroup
	cancel        context.CancelFunc
}

// NewKafkaBus creates a new Kafka bus. groupID must be unique per server
// instance for broadcast semantics to hold.
func NewKafkaBus(brokers []string, groupID string) (*KafkaBus, error) {
	config := sarama.NewConfig()

	// Producer configuration
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = kafkaMaxRetries
	config.Producer.Return.Successes = true
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Flush.Frequency = 500 * time.Millisecond

	// Consumer configuration
	config.Consumer.Return.Errors = true
	config.Consumer.Offsets.Initial = sarama.OffsetNewest
	config.Consumer.Group.Rebalance.Strategy = sarama.NewBalanceStrategyRoundRobin()
	config.Consumer.Group.Session.Timeout = 10 * time.Second
	config.Consumer.Group.Heartbeat.Interval = 3 * time.Second

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}

	return &KafkaBus{
		producer: producer,
		brokers:  brokers,
		groupID:  groupID,
		config:   config,
		local:    NewMemoryBus(),
		relays:   make(map[string]*kafkaRelay),
	}, nil
}

// Join subscribes to a group, starting the Kafka relay for its topic on
// first use.
func (b *KafkaBus) Join(group string) (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, fmt.Errorf("bus is closed")
	}

	if _, ok := b.relays[group]; !ok {
		consumerGroup, err := sarama.NewConsumerGroup(b.brokers, b.groupID+"-"+group, b.config)
		if err != nil {
			return nil, fmt.Errorf("failed to create Kafka consumer group for %s: %w", group, err)
		}

		ctx, cancel := context.WithCancel(context.Background())
		handler := &relayHandler{
			local: b.local,
			group: group,
			ready: make(chan bool),
		}

		go func() {
			for err := range consumerGroup.Errors() {
				log.Error().Err(err).Str("group", group).Msg("Kafka consumer group error")
			}
		}()

		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				default:
					// Consume must be called in a loop to survive rebalances.
					if err := consumerGroup.Consume(ctx, []string{group}, handler); err != nil {
						log.Error().Err(err).Str("group", group).Msg("Kafka consume error")
						return
					}
				}
			}
		}()

		select {
		case <-handler.ready:
		case <-time.After(kafkaReadyTimeout):
			cancel()
			consumerGroup.Close()
			return nil, fmt.Errorf("timeout waiting for Kafka consumer to be ready")
		}

		b.relays[group] = &kafkaRelay{consumerGroup: consumerGroup, cancel: cancel}
	}

	return b.local.Join(group)
}

// Publish sends a payload to the group's topic with retry capability.
func (b *KafkaBus) Publish(ctx context.Context, group string, payload []byte) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return fmt.Errorf("bus is closed")
	}
	b.mu.Unlock()

	kafkaMsg := &sarama.ProducerMessage{
		Topic:     group,
		Value:     sarama.ByteEncoder(payload),
		Timestamp: time.Now(),
	}

	operation := func() error {
		_, _, err := b.producer.SendMessage(kafkaMsg)
		return err
	}

	backoffStrategy := backoff.WithContext(
		backoff.WithMaxRetries(
			backoff.NewExponentialBackOff(
				backoff.WithInitialInterval(kafkaInitialBackoff),
				backoff.WithMaxInterval(kafkaMaxBackoff),
			),
			kafkaMaxRetries,
		),
		ctx,
	)

	return backoff.RetryNotify(operation, backoffStrategy, func(err error, d time.Duration) {
		log.Warn().Err(err).Str("group", group).Dur("next_attempt_in", d).Msg("Retrying Kafka publish")
	})
}

// Close stops all relays and cleans up Kafka resources.
func (b *KafkaBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	var errs []error
	for group, relay := range b.relays {
		relay.cancel()
		if err := relay.consumerGroup.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close consumer group for %s: %w", group, err))
		}
	}
	b.relays = nil

	if err := b.producer.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close producer: %w", err))
	}
	if err := b.local.Close(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during close: %v", errs)
	}
	return nil
}

// Type returns the bus implementation name.
func (b *KafkaBus) Type() string {
	return "kafka"
}

// relayHandler implements sarama.ConsumerGroupHandler, forwarding consumed
// payloads into the local fan-out.
type relayHandler struct {
	local *MemoryBus
	group string
	ready chan bool
	once  sync.Once
}

// Setup is run at the beginning of a new session, before ConsumeClaim.
func (h *relayHandler) Setup(sarama.ConsumerGroupSession) error {
	h.once.Do(func() {
		close(h.ready)
	})
	return nil
}

// Cleanup is run at the end of a session, once all ConsumeClaim goroutines have exited.
func (h *relayHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim relays claimed messages to local subscribers.
func (h *relayHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case kafkaMsg := <-claim.Messages():
			if kafkaMsg == nil {
				return nil
			}
			if err := h.local.Publish(session.Context(), h.group, kafkaMsg.Value); err != nil {
				return nil
			}
			session.MarkMessage(kafkaMsg, "")

		case <-session.Context().Done():
			return nil
		}
	}
}
