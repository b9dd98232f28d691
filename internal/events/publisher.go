// Package events publishes appointment lifecycle events to an AMQP exchange
// so collaborators (mailers, reminder schedulers) can react without the
// booking engine knowing about them. Delivery is fire-and-forget: a publish
// failure is logged, never surfaced to the booking caller.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

const (
	RoutingCreated   = "appointment.created"
	RoutingConfirmed = "appointment.confirmed"
	RoutingCancelled = "appointment.cancelled"
	RoutingPostponed = "appointment.postponed"
	RoutingCompleted = "appointment.completed"
)

type Event struct {
	RoutingKey string
	Payload    any
}

type Publisher interface {
	Publish(ctx context.Context, ev Event)
	Close() error
}

type amqpPublisher struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
	log      zerolog.Logger
}

// NewAMQPPublisher connects to RabbitMQ and declares a durable topic
// exchange for appointment events.
func NewAMQPPublisher(uri, exchange string, log zerolog.Logger) (Publisher, error) {
	conn, err := amqp.Dial(uri)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}

	if err := channel.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = channel.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}

	return &amqpPublisher{
		conn:     conn,
		channel:  channel,
		exchange: exchange,
		log:      log.With().Str("component", "events").Logger(),
	}, nil
}

func (p *amqpPublisher) Publish(ctx context.Context, ev Event) {
	body, err := json.Marshal(ev.Payload)
	if err != nil {
		p.log.Error().Err(err).Str("routing_key", ev.RoutingKey).Msg("marshal event payload")
		return
	}

	pubCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	err = p.channel.PublishWithContext(pubCtx, p.exchange, ev.RoutingKey, false, false, amqp.Publishing{
		ContentType: "application/json",
		Timestamp:   time.Now(),
		Body:        body,
	})
	if err != nil {
		p.log.Error().Err(err).Str("routing_key", ev.RoutingKey).Msg("publish event")
	}
}

func (p *amqpPublisher) Close() error {
	if err := p.channel.Close(); err != nil {
		_ = p.conn.Close()
		return err
	}
	return p.conn.Close()
}

// NopPublisher drops every event. Used when AMQP_URL is not configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) {}
func (NopPublisher) Close() error                   { return nil }
