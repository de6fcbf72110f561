package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/scholarsift/retrieval-service/internal/observability"
)

// Config holds Kafka publisher settings.
type Config struct {
	// Brokers is the list of Kafka broker addresses.
	Brokers []string
	// Topic is the topic all service events are published to.
	Topic string
	// BatchSize caps how many messages accumulate before a send.
	// Zero selects the kafka-go default.
	BatchSize int
	// BatchTimeout caps how long a batch waits to fill before a send.
	// Zero selects the kafka-go default.
	BatchTimeout time.Duration
}

// envelope wraps every published payload with its event type so consumers
// of the shared topic can route on it.
type envelope struct {
	Type       string    `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Payload    any       `json:"payload"`
}

// messageWriter is the slice of *kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher publishes service events to a single Kafka topic, one
// JSON envelope per message. Messages are keyed (search key for digests,
// paper ID for analysis completions) so events about the same entity land
// on the same partition.
type KafkaPublisher struct {
	writer  messageWriter
	logger  zerolog.Logger
	metrics *observability.Metrics
}

// NewKafkaPublisher creates a publisher writing to cfg.Topic.
func NewKafkaPublisher(cfg Config, logger zerolog.Logger, metrics *observability.Metrics) *KafkaPublisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
	}

	return &KafkaPublisher{
		writer:  writer,
		logger:  logger.With().Str("component", "event_publisher").Logger(),
		metrics: metrics,
	}
}

// PublishRetrievalDigest implements Publisher.
func (p *KafkaPublisher) PublishRetrievalDigest(ctx context.Context, digest RetrievalDigest) error {
	return p.publish(ctx, TypeRetrievalDigest, digest.SearchKey, digest)
}

// PublishAnalysisCompleted implements Publisher.
func (p *KafkaPublisher) PublishAnalysisCompleted(ctx context.Context, event AnalysisCompleted) error {
	return p.publish(ctx, TypeAnalysisCompleted, event.PaperID, event)
}

func (p *KafkaPublisher) publish(ctx context.Context, eventType, key string, payload any) error {
	value, err := json.Marshal(envelope{
		Type:       eventType,
		OccurredAt: time.Now().UTC(),
		Payload:    payload,
	})
	if err != nil {
		p.metrics.RecordEventPublishFailed(eventType)
		return fmt.Errorf("marshal %s event: %w", eventType, err)
	}

	msg := kafka.Message{Key: []byte(key), Value: value}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.metrics.RecordEventPublishFailed(eventType)
		return fmt.Errorf("write %s event: %w", eventType, err)
	}

	p.metrics.RecordEventPublished(eventType)
	p.logger.Debug().
		Str("event_type", eventType).
		Str("key", key).
		Msg("event published")
	return nil
}

// Close flushes buffered messages and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
