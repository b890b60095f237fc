package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/finsentry/finsentry/internal/config"
)

// AMQPSink publishes alerts to a durable topic exchange. A failed publish is
// a recoverable error: the dispatcher persists the notification records
// instead, so the alert is never lost.
type AMQPSink struct {
	conn       *amqp.Connection
	channel    *amqp.Channel
	exchange   string
	routingKey string
}

// alertMessage is the published payload.
type alertMessage struct {
	Category   string   `json:"category"`
	Recipients []string `json:"recipients"`
	Title      string   `json:"title"`
	Message    string   `json:"message"`
	Timestamp  string   `json:"timestamp"`
}

// NewAMQPSink connects to the broker and declares the topic exchange.
func NewAMQPSink(cfg config.AlertConfig) (*AMQPSink, error) {
	conn, err := amqp.Dial(cfg.AMQPURL)
	if err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	err = channel.ExchangeDeclare(
		cfg.Exchange, // name
		"topic",      // type
		true,         // durable
		false,        // auto-deleted
		false,        // internal
		false,        // no-wait
		nil,          // arguments
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	log.Printf("alert publisher initialized: exchange=%s, routing_key=%s", cfg.Exchange, cfg.RoutingKey)

	return &AMQPSink{
		conn:       conn,
		channel:    channel,
		exchange:   cfg.Exchange,
		routingKey: cfg.RoutingKey,
	}, nil
}

// Deliver publishes one JSON message covering all recipients.
func (s *AMQPSink) Deliver(ctx context.Context, a Alert, recipients []string) error {
	body, err := json.Marshal(alertMessage{
		Category:   string(a.Category),
		Recipients: recipients,
		Title:      a.Title,
		Message:    a.Message,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}

	err = s.channel.PublishWithContext(ctx,
		s.exchange,
		s.routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish alert: %w", err)
	}
	return nil
}

// Close closes the channel and connection.
func (s *AMQPSink) Close() error {
	if s.channel != nil {
		if err := s.channel.Close(); err != nil {
			log.Printf("alert publisher: closing channel: %v", err)
		}
	}
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}
