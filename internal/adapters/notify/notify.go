// Package notify delivers guest notifications. Messages are published to a
// RabbitMQ topic exchange for the mailer to consume; without a broker they are
// only logged.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"staybook/internal/domain"
)

const DefaultExchange = "staybook.notifications"

// Message is the JSON body published for every notification.
type Message struct {
	Recipient string         `json:"recipient"`
	Template  string         `json:"template"`
	Data      map[string]any `json:"data,omitempty"`
	SentAt    time.Time      `json:"sent_at"`
}

// Publisher is the slice of an AMQP channel the notifier needs.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, body []byte) error
}

// Notifier turns Send calls into messages routed by template name.
type Notifier struct {
	pub Publisher
	now func() time.Time
}

var _ domain.Notifier = (*Notifier)(nil)

func New(pub Publisher) *Notifier { return &Notifier{pub: pub, now: time.Now} }

func (n *Notifier) Send(ctx context.Context, recipient, template string, data map[string]any) error {
	if recipient == "" {
		return errors.New("notify: empty recipient")
	}
	body, err := json.Marshal(Message{Recipient: recipient, Template: template, Data: data, SentAt: n.now().UTC()})
	if err != nil {
		return fmt.Errorf("notify: encode %s: %w", template, err)
	}
	return n.pub.Publish(ctx, "notification."+template, body)
}

// ---- RabbitMQ ----

// AMQPPublisher owns one connection and channel and publishes to a durable
// topic exchange declared at startup.
type AMQPPublisher struct {
	mu       sync.Mutex
	conn     *amqp091.Connection
	channel  *amqp091.Channel
	exchange string
}

func sanitizeAMQPURL(raw string) (string, error) {
	clean := strings.Trim(strings.TrimSpace(raw), "\"'")
	u, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("AMQP scheme must be either 'amqp://' or 'amqps://'")
	}
	return clean, nil
}

func DialAMQP(amqpURL, exchange string) (*AMQPPublisher, error) {
	cleanURL, err := sanitizeAMQPURL(amqpURL)
	if err != nil {
		return nil, err
	}
	if exchange == "" {
		exchange = DefaultExchange
	}
	conn, err := amqp091.Dial(cleanURL)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return &AMQPPublisher{conn: conn, channel: ch, exchange: exchange}, nil
}

func (p *AMQPPublisher) Publish(ctx context.Context, routingKey string, body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.channel.PublishWithContext(ctx, p.exchange, routingKey, false, false, amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
}

func (p *AMQPPublisher) Close() {
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}

// ---- fallback ----

// LogPublisher writes each message to the logger instead of a broker.
type LogPublisher struct{ L zerolog.Logger }

func (p LogPublisher) Publish(ctx context.Context, routingKey string, body []byte) error {
	p.L.Info().Str("routing_key", routingKey).RawJSON("message", body).Msg("notification (no broker configured)")
	return nil
}
