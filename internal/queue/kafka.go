package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/segmentio/kafka-go"

	"github.com/rsampath/routepulse/internal/logging"
)

// Producer wraps a Kafka writer for the events topic.
type Producer struct {
	writer *kafka.Writer
}

// NewProducer creates a new Kafka producer. Messages are partitioned by
// key so all events for one route stay on one partition, in order.
func NewProducer(brokers []string, topic string) *Producer {
	return &Producer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{}, // partition by key (route ID)
			RequiredAcks: kafka.RequireOne,
			Async:        false, // synchronous for reliability
		},
	}
}

// Publish sends a message to Kafka.
func (p *Producer) Publish(ctx context.Context, key string, value []byte) error {
	msg := kafka.Message{
		Key:   []byte(key),
		Value: value,
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}

	return nil
}

// Close closes the producer.
func (p *Producer) Close() error {
	return p.writer.Close()
}

// EnsureTopic creates the events topic if the cluster does not have it
// yet. An already existing topic is not an error.
func EnsureTopic(brokers []string, topic string, numPartitions, replicationFactor int) error {
	conn, err := kafka.Dial("tcp", brokers[0])
	if err != nil {
		return fmt.Errorf("failed to dial broker: %w", err)
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("failed to get controller: %w", err)
	}

	controllerConn, err := kafka.Dial("tcp", fmt.Sprintf("%s:%d", controller.Host, controller.Port))
	if err != nil {
		return fmt.Errorf("failed to dial controller: %w", err)
	}
	defer controllerConn.Close()

	err = controllerConn.CreateTopics(kafka.TopicConfig{
		Topic:             topic,
		NumPartitions:     numPartitions,
		ReplicationFactor: replicationFactor,
	})
	if err != nil && !errors.Is(err, kafka.TopicAlreadyExists) {
		return fmt.Errorf("failed to create topic: %w", err)
	}

	logging.Info().Str("topic", topic).Int("partitions", numPartitions).Msg("events topic ready")
	return nil
}
