package notifications

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// MessageWriter is the subset of *kafka.Writer used for publishing.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher publishes JSON messages to Kafka topics, keyed so that
// messages for one form land on one partition.
type KafkaPublisher struct {
	writer MessageWriter
	logger *zap.Logger
}

// NewKafkaWriter returns a writer with no fixed topic; each message names its own.
func NewKafkaWriter(brokers []string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
}

func NewKafkaPublisher(writer MessageWriter, logger *zap.Logger) *KafkaPublisher {
	return &KafkaPublisher{writer: writer, logger: logger}
}

func (p *KafkaPublisher) Publish(ctx context.Context, topic string, msg Message) error {
	if topic == "" {
		return ErrNoTopic
	}

	body, err := json.Marshal(msg.Body)
	if err != nil {
		return fmt.Errorf("marshal message %s: %w", msg.Key, err)
	}

	headers := make([]kafka.Header, 0, len(msg.Attributes))
	for name, value := range msg.Attributes {
		headers = append(headers, kafka.Header{Key: name, Value: []byte(value)})
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Topic:   topic,
		Key:     []byte(msg.Key),
		Value:   body,
		Headers: headers,
	})
	if err != nil {
		return fmt.Errorf("publish %s to %s: %w", msg.Key, topic, err)
	}

	p.logger.Debug("Published notification", zap.String("topic", topic), zap.String("key", msg.Key))
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
