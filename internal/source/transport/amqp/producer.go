package amqp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"mqsource/internal/source"
)

// Producer publishes messages to queues through the default exchange.
type Producer struct {
	conn *amqp.Connection

	mu sync.Mutex
	ch *amqp.Channel
}

// NewProducer dials a publishing connection using the factory settings.
func NewProducer(ctx context.Context, f *Factory) (*Producer, error) {
	conn, err := f.dial(ctx, nil)
	if err != nil {
		return nil, err
	}
	c := conn.(*connection)

	ch, err := c.conn.Channel()
	if err != nil {
		_ = c.conn.Close()
		return nil, classify("open channel", err)
	}

	return &Producer{conn: c.conn, ch: ch}, nil
}

// Declare creates a durable queue if it does not exist.
func (p *Producer) Declare(queue string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, err := p.ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return classify("declare queue "+queue, err)
	}
	return nil
}

// Send declares queue and publishes msgs to it in order.
func (p *Producer) Send(ctx context.Context, queue string, msgs ...source.Message) error {
	if err := p.Declare(queue); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for _, msg := range msgs {
		pub, err := publishing(msg)
		if err != nil {
			return fmt.Errorf("failed to encode message for queue %s: %w", queue, err)
		}
		if err := p.ch.PublishWithContext(ctx, "", queue, false, false, pub); err != nil {
			return classify("publish to "+queue, err)
		}
	}
	return nil
}

// Close closes the channel and the connection.
func (p *Producer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	_ = p.ch.Close()
	return p.conn.Close()
}

// publishing is the inverse of translate.
func publishing(msg source.Message) (amqp.Publishing, error) {
	pub := amqp.Publishing{DeliveryMode: amqp.Persistent}

	switch m := msg.(type) {
	case *source.MapMessage:
		if m == nil {
			return pub, source.ErrNilMessage
		}
		body, err := json.Marshal(m.Fields)
		if err != nil {
			return pub, err
		}
		pub.MessageId, pub.ContentType, pub.Body = m.ID, contentTypeJSON, body
	case *source.TextMessage:
		if m == nil {
			return pub, source.ErrNilMessage
		}
		pub.MessageId, pub.ContentType, pub.Body = m.ID, "text/plain", []byte(m.Text)
	case *source.BytesMessage:
		if m == nil {
			return pub, source.ErrNilMessage
		}
		contentType := m.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		pub.MessageId, pub.ContentType, pub.Body = m.ID, contentType, m.Body
	default:
		return pub, source.ErrNilMessage
	}

	if pub.MessageId == "" {
		pub.MessageId = uuid.NewString()
	}
	return pub, nil
}
