// Package events delivers booking lifecycle events to RabbitMQ or the log.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/warp/booking-engine/booking"
	"github.com/warp/booking-engine/logging"
)

// channel is the part of *amqp.Channel the publisher uses.
type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPPublisher publishes each event to a topic exchange, routed by type.
type AMQPPublisher struct {
	conn     *amqp.Connection
	mu       sync.Mutex
	ch       channel
	exchange string
	source   string
}

// NewAMQPPublisher dials url and declares a durable topic exchange.
func NewAMQPPublisher(url, exchange, source string) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	return &AMQPPublisher{conn: conn, ch: ch, exchange: exchange, source: source}, nil
}

func newAMQPPublisher(ch channel, exchange, source string) *AMQPPublisher {
	return &AMQPPublisher{ch: ch, exchange: exchange, source: source}
}

// Publish sends ev as persistent JSON. A channel is not safe for
// concurrent publishing, hence the mutex.
func (p *AMQPPublisher) Publish(ctx context.Context, ev booking.Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	err = p.ch.PublishWithContext(ctx, p.exchange, string(ev.Type), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    ev.OccurredAt,
		AppId:        p.source,
		MessageId:    fmt.Sprintf("%s:%s:%d", ev.Type, ev.AppointmentID, ev.OccurredAt.UnixNano()),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", ev.Type, err)
	}
	return nil
}

func (p *AMQPPublisher) Close() error {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// =============================================================================
// LOG PUBLISHER - Used when no broker is configured
// =============================================================================

type LogPublisher struct {
	logger *logging.Logger
}

func NewLogPublisher(logger *logging.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(_ context.Context, ev booking.Event) error {
	p.logger.Debug("event",
		"type", ev.Type,
		"appointment_id", ev.AppointmentID,
		"booking_number", ev.BookingNumber,
		"occurred_at", ev.OccurredAt.Format(time.RFC3339),
	)
	return nil
}

var (
	_ booking.Publisher = (*AMQPPublisher)(nil)
	_ booking.Publisher = (*LogPublisher)(nil)
)
