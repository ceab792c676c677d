// Package kafka wraps the outbound Kafka producer used by the market-data
// processor.
package kafka

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
)

// Producer publishes keyed messages to a single topic.
type Producer struct {
	writer *kafka.Writer
}

// NewProducer builds a synchronous producer with full-acknowledgement
// writes.
func NewProducer(brokers []string, topic string) *Producer {
	return &Producer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			RequiredAcks: kafka.RequireAll,
			Async:        false,
			BatchTimeout: 10 * time.Millisecond,
		},
	}
}

// Send writes one message.
func (p *Producer) Send(ctx context.Context, key, value []byte) error {
	return p.writer.WriteMessages(ctx, kafka.Message{Key: key, Value: value})
}

// Close flushes and shuts the writer down.
func (p *Producer) Close() error {
	return p.writer.Close()
}
