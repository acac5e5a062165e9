package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// KafkaConfig configures the brokered event publisher.
type KafkaConfig struct {
	Brokers      []string      `json:"brokers"`
	Topic        string        `json:"topic"`
	WriteTimeout time.Duration `json:"write_timeout"`
	BatchTimeout time.Duration `json:"batch_timeout"`
	RequiredAcks int           `json:"required_acks"`
}

// DefaultKafkaConfig returns sensible defaults for a single-broker setup.
func DefaultKafkaConfig(brokers []string, topic string) *KafkaConfig {
	return &KafkaConfig{
		Brokers:      brokers,
		Topic:        topic,
		WriteTimeout: 5 * time.Second,
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: 1,
	}
}

// KafkaPublisher delivers JSON event envelopes to a Kafka topic, keyed by
// the event's entity id so per-listing ordering survives partitioning.
type KafkaPublisher struct {
	writer *kafka.Writer
	logger *zap.Logger
}

// NewKafkaPublisher creates a Kafka-backed publisher.
func NewKafkaPublisher(cfg *KafkaConfig, logger *zap.Logger) *KafkaPublisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		WriteTimeout: cfg.WriteTimeout,
		BatchTimeout: cfg.BatchTimeout,
		RequiredAcks: kafka.RequiredAcks(cfg.RequiredAcks),
	}
	return &KafkaPublisher{writer: writer, logger: logger}
}

// Publish implements Publisher.
func (p *KafkaPublisher) Publish(ctx context.Context, ev Event) error {
	env := Envelope{Type: ev.EventType(), Timestamp: now(), Data: ev}
	value, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", env.Type, err)
	}

	msg := kafka.Message{
		Key:   []byte(ev.Key()),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(env.Type)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error("failed to publish event",
			zap.String("type", env.Type), zap.Error(err))
		return fmt.Errorf("publish event %s: %w", env.Type, err)
	}
	return nil
}

// Close flushes and closes the underlying writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
