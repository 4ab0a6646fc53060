package eventbus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"

	"github.com/ethan/trinetra/pkg/logger"
)

// DetectionHandler processes one decoded DetectionPayload. Returning an
// error leaves the message unmarked for commit on the next interval,
// matching the Frame Bus worker's fail-open-but-retry posture.
type DetectionHandler func(ctx context.Context, payload DetectionPayload) error

// Consumer joins a Kafka consumer group and dispatches
// trinetra.detections messages to a DetectionHandler.
type Consumer struct {
	group  sarama.ConsumerGroup
	logger *logger.Logger
}

// NewConsumer builds a Consumer for the given brokers and group,
// matching §4.4's 1s auto-commit interval.
func NewConsumer(brokers []string, group string, log *logger.Logger) (*Consumer, error) {
	cg, err := sarama.NewConsumerGroup(brokers, group, NewConsumerConfig())
	if err != nil {
		return nil, fmt.Errorf("eventbus: new consumer group: %w", err)
	}
	if log == nil {
		log = logger.Default()
	}
	return &Consumer{group: cg, logger: log}, nil
}

// Close leaves the consumer group.
func (c *Consumer) Close() error {
	return c.group.Close()
}

// Errors surfaces async consumer-group errors (e.g. rebalance
// failures) for the caller's logging loop.
func (c *Consumer) Errors() <-chan error {
	return c.group.Errors()
}

// Run blocks, repeatedly joining topics and dispatching messages to
// handle until ctx is cancelled. Callers run this in its own
// goroutine; sarama re-invokes Consume after every rebalance, so the
// loop continues until ctx signals shutdown.
func (c *Consumer) Run(ctx context.Context, topics []string, handle DetectionHandler) error {
	h := &groupHandler{handle: handle, logger: c.logger}
	for {
		if err := c.group.Consume(ctx, topics, h); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("eventbus: consume: %w", err)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

type groupHandler struct {
	handle DetectionHandler
	logger *logger.Logger
}

func (h *groupHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *groupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			h.logger.DebugBus("eventbus: received", "topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset)
			var payload DetectionPayload
			if err := json.Unmarshal(msg.Value, &payload); err != nil {
				h.logger.Warn("eventbus: dropping malformed message", "topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "error", err)
				sess.MarkMessage(msg, "")
				continue
			}
			if err := h.handle(sess.Context(), payload); err != nil {
				h.logger.Error("eventbus: handler error, will retry on redelivery", "topic", msg.Topic, "error", err)
				continue
			}
			sess.MarkMessage(msg, "")
		case <-sess.Context().Done():
			return nil
		}
	}
}
