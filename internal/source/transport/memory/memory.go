// Package memory is an in-process transport. Queues live in a Broker and
// every step of a connection can be made to fail, which makes the package
// suitable for local runs and tests.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"mqsource/internal/source"
)

// DefaultQueueCapacity is the number of deliveries a queue buffers.
const DefaultQueueCapacity = 1024

// Step names a point of the connection lifecycle where a fault can be
// injected.
type Step int

const (
	StepConnect Step = iota + 1
	StepSession
	StepQueue
	StepConsumer
	StepStart
	StepCloseConsumer
	StepCloseConnection
)

type delivery struct {
	msg source.Message
	err error
}

// Broker holds named queues.
type Broker struct {
	mu       sync.Mutex
	queues   map[string]chan delivery
	capacity int
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{
		queues:   make(map[string]chan delivery),
		capacity: DefaultQueueCapacity,
	}
}

// Declare creates the named queue if it does not exist.
func (b *Broker) Declare(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.queues[name]; !ok {
		b.queues[name] = make(chan delivery, b.capacity)
	}
}

func (b *Broker) queue(name string) (chan delivery, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	q, ok := b.queues[name]
	return q, ok
}

// Send enqueues msg on the named queue. Messages without an ID get one.
func (b *Broker) Send(name string, msg source.Message) error {
	switch m := msg.(type) {
	case *source.MapMessage:
		if m != nil && m.ID == "" {
			m.ID = uuid.NewString()
		}
	case *source.TextMessage:
		if m != nil && m.ID == "" {
			m.ID = uuid.NewString()
		}
	case *source.BytesMessage:
		if m != nil && m.ID == "" {
			m.ID = uuid.NewString()
		}
	}

	return b.put(name, delivery{msg: msg})
}

// Fail makes the next receive on the named queue return err.
func (b *Broker) Fail(name string, err error) error {
	return b.put(name, delivery{err: err})
}

func (b *Broker) put(name string, d delivery) error {
	q, ok := b.queue(name)
	if !ok {
		return fmt.Errorf("queue %s not declared", name)
	}

	select {
	case q <- d:
		return nil
	default:
		return fmt.Errorf("queue %s is full", name)
	}
}

// Len returns the number of pending deliveries on the named queue.
func (b *Broker) Len(name string) int {
	q, ok := b.queue(name)
	if !ok {
		return 0
	}
	return len(q)
}

// Factory creates connections to a Broker.
type Factory struct {
	broker *Broker

	mu          sync.Mutex
	faults      map[Step][]error
	credentials map[string]string
	connections int
	consumers   int
	attempts    int
}

// NewFactory creates a factory for broker.
func NewFactory(broker *Broker) *Factory {
	return &Factory{
		broker: broker,
		faults: make(map[Step][]error),
	}
}

// Inject queues err to be returned, once, the next time step runs. Several
// errors for the same step are returned in order.
func (f *Factory) Inject(step Step, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.faults[step] = append(f.faults[step], err)
}

// RequireCredentials makes the factory reject connections that do not
// present the given credentials.
func (f *Factory) RequireCredentials(username, password string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.credentials == nil {
		f.credentials = make(map[string]string)
	}
	f.credentials[username] = password
}

// OpenConnections returns the number of connections not yet closed.
func (f *Factory) OpenConnections() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connections
}

// OpenConsumers returns the number of consumers not yet closed.
func (f *Factory) OpenConsumers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.consumers
}

// Attempts returns the number of connection attempts made.
func (f *Factory) Attempts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts
}

func (f *Factory) fault(step Step) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	errs := f.faults[step]
	if len(errs) == 0 {
		return nil
	}
	f.faults[step] = errs[1:]
	return errs[0]
}

func (f *Factory) track(connections, consumers int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.connections += connections
	f.consumers += consumers
}

// CreateConnection implements source.ConnectionFactory.
func (f *Factory) CreateConnection(ctx context.Context) (source.Connection, error) {
	f.mu.Lock()
	required := f.credentials != nil
	f.mu.Unlock()

	if required {
		return nil, source.NewTransportError("connect", source.ReasonNotAuthorized, errors.New("credentials required"))
	}
	return f.connect(ctx)
}

// CreateConnectionWithCredentials implements source.ConnectionFactory.
func (f *Factory) CreateConnectionWithCredentials(ctx context.Context, username, password string) (source.Connection, error) {
	f.mu.Lock()
	want, known := f.credentials[username]
	checked := f.credentials != nil
	f.mu.Unlock()

	if checked && (!known || want != password) {
		return nil, source.NewTransportError("connect", source.ReasonNotAuthorized, fmt.Errorf("invalid credentials for %s", username))
	}
	return f.connect(ctx)
}

func (f *Factory) connect(ctx context.Context) (source.Connection, error) {
	f.mu.Lock()
	f.attempts++
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, source.NewTransportError("connect", source.ReasonHostNotAvailable, err)
	}
	if err := f.fault(StepConnect); err != nil {
		return nil, err
	}

	f.track(1, 0)
	return &connection{
		factory: f,
		started: make(chan struct{}),
		closed:  make(chan struct{}),
	}, nil
}

type connection struct {
	factory *Factory

	mu        sync.Mutex
	consumers []*consumer
	started   chan struct{}
	closed    chan struct{}
	startOnce sync.Once
	closeOnce sync.Once
}

func (c *connection) CreateSession(_ bool, _ source.AckMode) (source.Session, error) {
	if err := c.factory.fault(StepSession); err != nil {
		return nil, err
	}
	return &session{conn: c}, nil
}

func (c *connection) Start() error {
	if err := c.factory.fault(StepStart); err != nil {
		return err
	}
	c.startOnce.Do(func() { close(c.started) })
	return nil
}

func (c *connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		consumers := c.consumers
		c.mu.Unlock()

		for _, cons := range consumers {
			_ = cons.Close()
		}

		close(c.closed)
		c.factory.track(-1, 0)
		err = c.factory.fault(StepCloseConnection)
	})
	return err
}

type session struct {
	conn *connection
}

type queueRef struct {
	name string
	ch   chan delivery
}

func (q *queueRef) QueueName() string { return q.name }

func (s *session) CreateQueue(name string) (source.Queue, error) {
	if err := s.conn.factory.fault(StepQueue); err != nil {
		return nil, err
	}

	ch, ok := s.conn.factory.broker.queue(name)
	if !ok {
		return nil, source.NewTransportError("create queue", source.ReasonUnknownObjectName, fmt.Errorf("queue %s not found", name))
	}
	return &queueRef{name: name, ch: ch}, nil
}

func (s *session) CreateConsumer(q source.Queue) (source.MessageConsumer, error) {
	ref, ok := q.(*queueRef)
	if !ok {
		return nil, fmt.Errorf("queue %s was not created by this transport", q.QueueName())
	}
	if err := s.conn.factory.fault(StepConsumer); err != nil {
		return nil, err
	}

	c := &consumer{conn: s.conn, queue: ref, closed: make(chan struct{})}
	s.conn.mu.Lock()
	s.conn.consumers = append(s.conn.consumers, c)
	s.conn.mu.Unlock()
	s.conn.factory.track(0, 1)

	return c, nil
}

type consumer struct {
	conn      *connection
	queue     *queueRef
	closed    chan struct{}
	closeOnce sync.Once
}

func (c *consumer) Receive(ctx context.Context) (source.Message, error) {
	select {
	case <-c.conn.started:
	case <-c.closed:
		return nil, source.ErrConsumerClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case d := <-c.queue.ch:
		if d.err != nil {
			return nil, d.err
		}
		return d.msg, nil
	case <-c.closed:
		return nil, source.ErrConsumerClosed
	case <-c.conn.closed:
		return nil, source.NewTransportError("receive", source.ReasonConnectionBroken, errors.New("connection closed"))
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *consumer) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		c.conn.factory.track(0, -1)
		err = c.conn.factory.fault(StepCloseConsumer)
	})
	return err
}
