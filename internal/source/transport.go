package source

import "context"

// AckMode is the acknowledgement mode of a session.
type AckMode int

const (
	// AutoAcknowledge acknowledges a message as soon as it is received.
	AutoAcknowledge AckMode = iota + 1
)

// ConnectionFactory creates connections to a messaging backend. Host and
// transport details are configured on the factory itself.
type ConnectionFactory interface {
	// CreateConnection opens an unauthenticated connection.
	CreateConnection(ctx context.Context) (Connection, error)

	// CreateConnectionWithCredentials opens a connection authenticated with
	// the given credentials.
	CreateConnectionWithCredentials(ctx context.Context, username, password string) (Connection, error)
}

// Connection is one transport connection. Messages are not delivered to
// its consumers until Start is called.
type Connection interface {
	// CreateSession opens a session on the connection.
	CreateSession(transacted bool, mode AckMode) (Session, error)

	// Start begins delivery to the consumers of the connection.
	Start() error

	// Close releases the connection and everything created from it.
	Close() error
}

// Session creates queue references and consumers.
type Session interface {
	// CreateQueue resolves a queue by name.
	CreateQueue(name string) (Queue, error)

	// CreateConsumer creates a consumer bound to queue.
	CreateConsumer(queue Queue) (MessageConsumer, error)
}

// Queue identifies a resolved queue.
type Queue interface {
	QueueName() string
}

// MessageConsumer receives messages from one queue.
type MessageConsumer interface {
	// Receive blocks until a message arrives, the consumer is closed or ctx
	// is done.
	Receive(ctx context.Context) (Message, error)

	// Close stops the consumer. A blocked Receive returns an error.
	Close() error
}
