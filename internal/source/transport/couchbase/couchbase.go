// Package couchbase is a queue transport on top of Couchbase documents.
// Producers append message documents at increasing offsets; consumers share
// a cursor per queue and claim each message with a lease before moving the
// cursor past it, which gives auto-acknowledged at-most-once delivery.
package couchbase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/couchbase/gocb/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	cb "mqsource/internal/couchbase"
	"mqsource/internal/source"
	"mqsource/internal/validator"
)

// Factory opens cluster connections.
type Factory struct {
	cfg    Config
	logger *zap.Logger
}

var _ source.ConnectionFactory = (*Factory)(nil)

// NewFactory creates a Couchbase connection factory.
func NewFactory(cfg Config, logger *zap.Logger) (*Factory, error) {
	if err := validator.Validate("couchbase factory", logger); err != nil {
		return nil, fmt.Errorf("failed to validate couchbase factory deps: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid couchbase config: %w", err)
	}

	return &Factory{cfg: cfg, logger: logger.Named("couchbase")}, nil
}

// CreateConnection implements source.ConnectionFactory with the configured
// credentials.
func (f *Factory) CreateConnection(ctx context.Context) (source.Connection, error) {
	return f.open(ctx, f.cfg.Cluster.Username, f.cfg.Cluster.Password)
}

// CreateConnectionWithCredentials implements source.ConnectionFactory.
func (f *Factory) CreateConnectionWithCredentials(ctx context.Context, username, password string) (source.Connection, error) {
	return f.open(ctx, username, password)
}

func (f *Factory) open(ctx context.Context, username, password string) (source.Connection, error) {
	cluster, bucket, err := cb.Open(ctx, f.cfg.Cluster, username, password)
	if err != nil {
		return nil, classify("connect", err)
	}

	store, err := NewStore(cluster, bucket, f.cfg.Cluster.Scope, f.cfg.LeaseTimeout, f.cfg.Retention)
	if err != nil {
		_ = cluster.Close(nil)
		return nil, fmt.Errorf("failed to open queue store: %w", err)
	}

	return newConnection(store, f.cfg, f.logger, func() error { return cluster.Close(nil) }), nil
}

// queueStore is the part of Store that consumers work against.
type queueStore interface {
	Declared(ctx context.Context, queue string) (bool, error)
	GetCursor(ctx context.Context, queue string) (uint64, error)
	LoadMessages(ctx context.Context, queue string, from uint64, limit int) ([]Message, error)
	InsertLease(ctx context.Context, queue, consumer string, msg Message) error
	CommitCursor(queue string, offset uint64) error
}

var _ queueStore = (*Store)(nil)

func newConnection(store queueStore, cfg Config, logger *zap.Logger, closeFn func() error) *connection {
	return &connection{
		store:   store,
		closeFn: closeFn,
		cfg:     cfg,
		logger:  logger,
		started: make(chan struct{}),
	}
}

type connection struct {
	store   queueStore
	closeFn func() error
	cfg     Config
	logger  *zap.Logger

	started   chan struct{}
	startOnce sync.Once
	closeOnce sync.Once
}

func (c *connection) CreateSession(_ bool, mode source.AckMode) (source.Session, error) {
	if mode != source.AutoAcknowledge {
		return nil, fmt.Errorf("unsupported acknowledge mode %d", mode)
	}
	return &session{conn: c}, nil
}

func (c *connection) Start() error {
	c.startOnce.Do(func() {
		close(c.started)
	})
	return nil
}

func (c *connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		if cerr := c.closeFn(); cerr != nil {
			err = classify("close connection", cerr)
		}
	})
	return err
}

type session struct {
	conn *connection
}

type queueRef struct {
	name string
}

func (q *queueRef) QueueName() string { return q.name }

// CreateQueue resolves a declared queue.
func (s *session) CreateQueue(name string) (source.Queue, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.conn.cfg.Cluster.KVTimeout)
	defer cancel()

	ok, err := s.conn.store.Declared(ctx, name)
	if err != nil {
		return nil, classify("resolve queue "+name, err)
	}
	if !ok {
		return nil, source.NewTransportError("resolve queue "+name, source.ReasonUnknownObjectName,
			fmt.Errorf("queue %s is not declared", name))
	}

	return &queueRef{name: name}, nil
}

func (s *session) CreateConsumer(q source.Queue) (source.MessageConsumer, error) {
	return &consumer{
		conn:   s.conn,
		queue:  q.QueueName(),
		id:     uuid.NewString(),
		logger: s.conn.logger.With(zap.String("queue", q.QueueName())),
		closed: make(chan struct{}),
	}, nil
}

type consumer struct {
	conn   *connection
	queue  string
	id     string
	logger *zap.Logger

	closed    chan struct{}
	closeOnce sync.Once
}

// Receive polls the queue until a message can be claimed.
func (c *consumer) Receive(ctx context.Context) (source.Message, error) {
	select {
	case <-c.conn.started:
	case <-c.closed:
		return nil, source.ErrConsumerClosed
	case <-ctx.Done():
		return nil, classify("receive", ctx.Err())
	}

	ticker := time.NewTicker(c.conn.cfg.PollInterval)
	defer ticker.Stop()

	for {
		doc, ok, err := c.claim(ctx)
		if err != nil {
			if c.isClosed() {
				return nil, source.ErrConsumerClosed
			}
			return nil, classify("receive", err)
		}
		if ok {
			return decode(doc)
		}

		select {
		case <-ticker.C:
		case <-c.closed:
			return nil, source.ErrConsumerClosed
		case <-ctx.Done():
			return nil, classify("receive", ctx.Err())
		}
	}
}

// claim leases the first unclaimed message at or after the cursor and moves
// the cursor past it.
func (c *consumer) claim(ctx context.Context) (Message, bool, error) {
	store := c.conn.store

	cursor, err := store.GetCursor(ctx, c.queue)
	if err != nil {
		return Message{}, false, err
	}

	msgs, err := store.LoadMessages(ctx, c.queue, cursor, c.conn.cfg.BatchSize)
	if err != nil {
		return Message{}, false, err
	}

	for _, msg := range msgs {
		err := store.InsertLease(ctx, c.queue, c.id, msg)
		switch {
		case err == nil:
		case errors.Is(err, gocb.ErrDocumentExists):
			continue
		default:
			return Message{}, false, fmt.Errorf("failed to lease message %s: %w", msg.ID, err)
		}

		if err := store.CommitCursor(c.queue, msg.Offset+1); err != nil {
			return Message{}, false, err
		}

		c.logger.Debug("claimed message", zap.String("messageId", msg.ID), zap.Uint64("offset", msg.Offset))
		return msg, true, nil
	}

	return Message{}, false, nil
}

func (c *consumer) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *consumer) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
	})
	return nil
}
