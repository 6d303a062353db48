package events

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// RabbitSink publishes envelopes as JSON to a durable topic exchange.
type RabbitSink struct {
	conn       *amqp.Connection
	channel    *amqp.Channel
	exchange   string
	routingKey string
}

// ConnectRabbit dials the broker and declares the exchange.
func ConnectRabbit(amqpURL, exchange, routingKey string) (*RabbitSink, error) {
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("rabbit connect: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("rabbit channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("rabbit exchange_declare: %w", err)
	}
	return &RabbitSink{conn: conn, channel: ch, exchange: exchange, routingKey: routingKey}, nil
}

func (s *RabbitSink) Name() string { return "rabbit" }

func (s *RabbitSink) Emit(ctx context.Context, env Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("serialize envelope: %w", err)
	}
	key := s.routingKey
	if key == "" {
		key = env.Event.Type
	}
	return s.channel.PublishWithContext(ctx, s.exchange, key, false, false, amqp.Publishing{
		ContentType:   "application/json",
		MessageId:     env.Event.ID,
		CorrelationId: env.CorrelationID,
		Body:          payload,
	})
}

// Close releases the channel and connection.
func (s *RabbitSink) Close() error {
	if err := s.channel.Close(); err != nil {
		s.conn.Close()
		return err
	}
	return s.conn.Close()
}
