package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/wevoice/wesub-sub003/internal/config"
	"github.com/wevoice/wesub-sub003/pkg/models"
)

// ExchangeName is the fanout exchange carrying core events.
const ExchangeName = "subtitle_events"

// Sink receives core events. Consumers include notifications, the
// activity feed and billing; failures there never surface to the write
// path.
type Sink interface {
	Publish(ctx context.Context, event models.Event) error
}

// AMQPSink publishes events to a fanout exchange.
type AMQPSink struct {
	conn    *amqp.Connection
	channel *amqp.Channel
}

// NewAMQPSink connects to the broker and declares the events exchange
func NewAMQPSink(cfg config.QueueConfig) (*AMQPSink, error) {
	url := fmt.Sprintf("amqp://%s:%s@%s:%d%s",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Vhost)

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	// Declare exchange
	err = channel.ExchangeDeclare(
		ExchangeName,
		"fanout",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	return &AMQPSink{conn: conn, channel: channel}, nil
}

// Close closes the broker connection
func (s *AMQPSink) Close() error {
	if s.channel != nil {
		s.channel.Close()
	}
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

// Publish sends one event to the exchange
func (s *AMQPSink) Publish(ctx context.Context, event models.Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	err = s.channel.PublishWithContext(ctx,
		ExchangeName,
		event.Type, // routing key, informational on a fanout exchange
		false,      // mandatory
		false,      // immediate
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			Body:         body,
			Timestamp:    event.Timestamp,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	return nil
}

// NopSink drops all events. Useful for tooling that runs the core
// without consumers.
type NopSink struct{}

// Publish implements Sink
func (NopSink) Publish(ctx context.Context, event models.Event) error { return nil }
