package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"
)

// KafkaWriter streams audit entries to a topic keyed by entity id.
type KafkaWriter struct {
	writer *kafka.Writer
}

// NewKafkaWriter creates a producer for topic.
func NewKafkaWriter(brokers []string, topic string) *KafkaWriter {
	return &KafkaWriter{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    topic,
			Balancer: &kafka.Hash{},
		},
	}
}

func (k *KafkaWriter) Write(ctx context.Context, entry Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(entry.EntityID.String()),
		Value: data,
		Headers: []kafka.Header{
			{Key: "entity_type", Value: []byte(entry.EntityType)},
			{Key: "action", Value: []byte(entry.Action)},
		},
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write audit entry to kafka: %w", err)
	}
	return nil
}

// Close flushes pending messages.
func (k *KafkaWriter) Close() error {
	return k.writer.Close()
}
