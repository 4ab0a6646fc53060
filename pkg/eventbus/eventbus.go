// Package eventbus wraps the Event Bus (Kafka) collaborator contract:
// at-least-once, partitioned transport for detection events, resolved
// identities, and alerts.
package eventbus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"

	"github.com/ethan/trinetra/pkg/logger"
	"github.com/ethan/trinetra/pkg/schema"
)

// Topic names, fixed by the wire contract.
const (
	TopicDetections = "trinetra.detections"
	TopicIdentities = "trinetra.identities"
	TopicAlerts     = "trinetra.alerts"
)

// NewProducerConfig builds the sarama config matching §4.4: leader ack,
// LZ4 compression, 5 retries, idempotence off (retries alone satisfy
// the at-least-once contract; exactly-once is not a spec requirement).
func NewProducerConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Producer.RequiredAcks = sarama.WaitForLocal
	cfg.Producer.Compression = sarama.CompressionLZ4
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Return.Successes = true
	return cfg
}

// NewConsumerConfig builds the sarama config for the Identity Resolver's
// consumer group: offsets auto-committed every 1s, matching §4.4.
func NewConsumerConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Consumer.Offsets.AutoCommit.Enable = true
	cfg.Consumer.Offsets.AutoCommit.Interval = time.Second
	cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	return cfg
}

// DetectionPayload is the wire shape published to trinetra.detections.
type DetectionPayload struct {
	CameraID   string             `json:"camera_id"`
	CameraType schema.CameraType  `json:"camera_type"`
	IngestTS   float64            `json:"ingest_ts"`
	WorkerTS   float64            `json:"worker_ts"`
	Detections []schema.Detection `json:"detections"`
	Embeddings []schema.Embedding `json:"embeddings"`
}

// FromInferenceEvent converts an InferenceEvent into its wire payload.
func FromInferenceEvent(e schema.InferenceEvent) DetectionPayload {
	return DetectionPayload{
		CameraID:   e.CameraID,
		CameraType: e.CameraType,
		IngestTS:   e.IngestTS,
		WorkerTS:   e.WorkerTS,
		Detections: e.Detections,
		Embeddings: e.Embeddings,
	}
}

// Producer publishes detections, identities, and alerts. Delivery is
// at-least-once with per-key FIFO ordering within a partition.
type Producer struct {
	sp     sarama.SyncProducer
	logger *logger.Logger
}

// NewProducer builds a Producer over the given brokers.
func NewProducer(brokers []string, log *logger.Logger) (*Producer, error) {
	sp, err := sarama.NewSyncProducer(brokers, NewProducerConfig())
	if err != nil {
		return nil, fmt.Errorf("eventbus: new producer: %w", err)
	}
	if log == nil {
		log = logger.Default()
	}
	return &Producer{sp: sp, logger: log}, nil
}

// Close releases the producer's connections.
func (p *Producer) Close() error {
	return p.sp.Close()
}

// NewProducerFromClient wraps an existing sarama.SyncProducer, letting
// tests substitute mocks.NewSyncProducer for a live broker connection.
func NewProducerFromClient(sp sarama.SyncProducer, log *logger.Logger) *Producer {
	if log == nil {
		log = logger.Default()
	}
	return &Producer{sp: sp, logger: log}
}

// PublishDetection sends payload to trinetra.detections keyed by
// camera_id, preserving per-camera FIFO ordering.
func (p *Producer) PublishDetection(payload DetectionPayload) error {
	return p.publishKeyed(TopicDetections, payload.CameraID, payload)
}

// PublishIdentity sends identity to trinetra.identities keyed by
// camera_id.
func (p *Producer) PublishIdentity(identity schema.ResolvedIdentity) error {
	return p.publishKeyed(TopicIdentities, identity.CameraID, identity)
}

// PublishAlert sends alert to trinetra.alerts with no key, allowing
// random partition assignment (§4.4).
func (p *Producer) PublishAlert(alert schema.Alert) error {
	return p.publishUnkeyed(TopicAlerts, alert)
}

func (p *Producer) publishKeyed(topic, key string, v interface{}) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("eventbus: marshal %s payload: %w", topic, err)
	}
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(body),
	}
	partition, offset, err := p.sp.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("eventbus: publish %s: %w", topic, err)
	}
	p.logger.DebugBus("eventbus: published", "topic", topic, "key", key, "partition", partition, "offset", offset)
	return nil
}

func (p *Producer) publishUnkeyed(topic string, v interface{}) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("eventbus: marshal %s payload: %w", topic, err)
	}
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Value: sarama.ByteEncoder(body),
	}
	partition, offset, err := p.sp.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("eventbus: publish %s: %w", topic, err)
	}
	p.logger.DebugBus("eventbus: published", "topic", topic, "partition", partition, "offset", offset)
	return nil
}
