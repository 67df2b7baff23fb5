package events

import (
	"context"

	"github.com/cuongbtq/media-vetting/shared/rabbitmq"
)

// amqpPublisher is the subset of the RabbitMQ client the sink needs
type amqpPublisher interface {
	Publish(ctx context.Context, routingKey string, body []byte, contentType string) error
	Close() error
}

// RabbitSink publishes job events to a topic exchange
type RabbitSink struct {
	client amqpPublisher
}

// NewRabbitSink wraps a connected RabbitMQ client
func NewRabbitSink(client *rabbitmq.Client) *RabbitSink {
	return &RabbitSink{client: client}
}

func (s *RabbitSink) Name() string { return "rabbitmq" }

func (s *RabbitSink) Publish(ctx context.Context, msg Message) error {
	return s.client.Publish(ctx, msg.RoutingKey, msg.Body, "application/json")
}

func (s *RabbitSink) Close() error {
	return s.client.Close()
}
