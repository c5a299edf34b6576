// Package amqp is the RabbitMQ transport. A connection is an AMQP
// connection, a session is a channel and a consumer is an auto-acknowledged
// channel subscription started together with its connection.
package amqp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"mqsource/internal/source"
	"mqsource/internal/validator"
)

// Factory dials RabbitMQ connections.
type Factory struct {
	cfg    Config
	logger *zap.Logger
}

var _ source.ConnectionFactory = (*Factory)(nil)

// NewFactory creates an AMQP connection factory.
func NewFactory(cfg Config, logger *zap.Logger) (*Factory, error) {
	if err := validator.Validate("amqp factory", logger); err != nil {
		return nil, fmt.Errorf("failed to validate amqp factory deps: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid amqp config: %w", err)
	}

	return &Factory{cfg: cfg, logger: logger.Named("amqp")}, nil
}

// CreateConnection implements source.ConnectionFactory.
func (f *Factory) CreateConnection(ctx context.Context) (source.Connection, error) {
	return f.dial(ctx, nil)
}

// CreateConnectionWithCredentials implements source.ConnectionFactory using
// PLAIN authentication.
func (f *Factory) CreateConnectionWithCredentials(ctx context.Context, username, password string) (source.Connection, error) {
	return f.dial(ctx, []amqp.Authentication{&amqp.PlainAuth{Username: username, Password: password}})
}

func (f *Factory) dial(ctx context.Context, sasl []amqp.Authentication) (source.Connection, error) {
	dialer := &net.Dialer{Timeout: f.cfg.DialTimeout}
	cfg := amqp.Config{
		SASL:      sasl,
		Vhost:     f.cfg.Vhost,
		Heartbeat: f.cfg.Heartbeat,
		Dial: func(network, addr string) (net.Conn, error) {
			return dialer.DialContext(ctx, network, addr)
		},
	}

	conn, err := amqp.DialConfig(f.cfg.URL, cfg)
	if err != nil {
		return nil, classify("connect", err)
	}

	f.logger.Debug("connected to broker", zap.String("vhost", conn.Config.Vhost))
	return &connection{
		conn:    conn,
		cfg:     f.cfg,
		logger:  f.logger,
		started: make(chan struct{}),
	}, nil
}

type connection struct {
	conn   *amqp.Connection
	cfg    Config
	logger *zap.Logger

	mu        sync.Mutex
	consumers []*consumer
	started   chan struct{}
	startErr  error
	startOnce sync.Once
}

func (c *connection) CreateSession(transacted bool, mode source.AckMode) (source.Session, error) {
	if mode != source.AutoAcknowledge {
		return nil, fmt.Errorf("unsupported acknowledge mode %d", mode)
	}

	ch, err := c.conn.Channel()
	if err != nil {
		return nil, classify("open channel", err)
	}

	if transacted {
		if err := ch.Tx(); err != nil {
			_ = ch.Close()
			return nil, classify("select transaction mode", err)
		}
	}

	if c.cfg.Prefetch > 0 {
		if err := ch.Qos(c.cfg.Prefetch, 0, false); err != nil {
			_ = ch.Close()
			return nil, classify("set prefetch", err)
		}
	}

	return &session{conn: c, ch: ch}, nil
}

// Start subscribes every consumer created so far.
func (c *connection) Start() error {
	c.startOnce.Do(func() {
		c.mu.Lock()
		defer c.mu.Unlock()

		for _, cons := range c.consumers {
			if err := cons.subscribe(); err != nil {
				c.startErr = err
				break
			}
		}
		close(c.started)
	})
	return c.startErr
}

func (c *connection) Close() error {
	if err := c.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		return classify("close connection", err)
	}
	return nil
}

type session struct {
	conn *connection
	ch   *amqp.Channel
}

type queueRef struct {
	name string
}

func (q *queueRef) QueueName() string { return q.name }

// CreateQueue resolves an existing queue. A missing queue closes the
// channel and is reported as an unknown object.
func (s *session) CreateQueue(name string) (source.Queue, error) {
	q, err := s.ch.QueueDeclarePassive(name, false, false, false, false, nil)
	if err != nil {
		return nil, classify("resolve queue "+name, err)
	}
	return &queueRef{name: q.Name}, nil
}

func (s *session) CreateConsumer(q source.Queue) (source.MessageConsumer, error) {
	if s.ch.IsClosed() {
		return nil, classify("create consumer", amqp.ErrClosed)
	}

	cons := &consumer{
		ch:     s.ch,
		queue:  q.QueueName(),
		tag:    s.conn.cfg.TagPrefix + "-" + uuid.NewString(),
		conn:   s.conn,
		closed: make(chan struct{}),
	}

	s.conn.mu.Lock()
	s.conn.consumers = append(s.conn.consumers, cons)
	s.conn.mu.Unlock()

	return cons, nil
}

type consumer struct {
	ch    *amqp.Channel
	queue string
	tag   string
	conn  *connection

	deliveries <-chan amqp.Delivery
	closed     chan struct{}
	closeOnce  sync.Once
}

func (c *consumer) subscribe() error {
	deliveries, err := c.ch.Consume(
		c.queue,
		c.tag,
		true,  // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return classify("consume "+c.queue, err)
	}

	c.deliveries = deliveries
	return nil
}

// Receive blocks until a delivery arrives, the connection is lost, the
// consumer is closed or ctx is done.
func (c *consumer) Receive(ctx context.Context) (source.Message, error) {
	select {
	case <-c.conn.started:
	case <-c.closed:
		return nil, source.ErrConsumerClosed
	case <-ctx.Done():
		return nil, classify("receive", ctx.Err())
	}

	if c.deliveries == nil {
		return nil, classify("receive", amqp.ErrClosed)
	}

	select {
	case d, ok := <-c.deliveries:
		if !ok {
			select {
			case <-c.closed:
				return nil, source.ErrConsumerClosed
			default:
				return nil, classify("receive", amqp.ErrClosed)
			}
		}
		return translate(d)
	case <-c.closed:
		return nil, source.ErrConsumerClosed
	case <-ctx.Done():
		return nil, classify("receive", ctx.Err())
	}
}

func (c *consumer) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)

		if c.ch.IsClosed() {
			return
		}
		if c.deliveries != nil {
			if cerr := c.ch.Cancel(c.tag, false); cerr != nil {
				err = classify("cancel consumer", cerr)
			}
		}
		if cerr := c.ch.Close(); cerr != nil && !errors.Is(cerr, amqp.ErrClosed) {
			err = errors.Join(err, classify("close channel", cerr))
		}
	})
	return err
}
