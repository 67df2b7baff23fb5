package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaConfig holds Kafka sink settings
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	BatchTimeout time.Duration
	WriteTimeout time.Duration
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink writes job events to one topic, keyed by job id
type KafkaSink struct {
	writer messageWriter
	topic  string
	nowFn  func() time.Time
}

// NewKafkaSink creates a Kafka sink. Connections are opened lazily on first write.
func NewKafkaSink(cfg KafkaConfig) (*KafkaSink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("kafka topic is required")
	}

	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		RequiredAcks:           kafka.RequireAll,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: false,
		BatchTimeout:           cfg.BatchTimeout,
		WriteTimeout:           cfg.WriteTimeout,
	}
	return newKafkaSink(w, cfg.Topic), nil
}

func newKafkaSink(w messageWriter, topic string) *KafkaSink {
	return &KafkaSink{writer: w, topic: topic, nowFn: time.Now}
}

func (s *KafkaSink) Name() string { return "kafka" }

func (s *KafkaSink) Publish(ctx context.Context, msg Message) error {
	err := s.writer.WriteMessages(ctx, kafka.Message{
		Topic: s.topic,
		Key:   []byte(msg.Key),
		Value: msg.Body,
		Time:  s.nowFn().UTC(),
		Headers: []kafka.Header{
			{Key: "routing_key", Value: []byte(msg.RoutingKey)},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to write kafka message: %w", err)
	}
	return nil
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
