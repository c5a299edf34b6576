// Package source defines the contracts of the queue source: the consumer
// configuration, the message variants delivered by a transport, the transport
// abstraction itself and the collaborators a consumer group hands events and
// failures to.
package source

import "context"

// Listener receives translated events. It is invoked concurrently by every
// worker of a group and must be safe for concurrent use.
type Listener interface {
	// OnEvent is called once per received message. The payload is a
	// map[string]any for map messages, a string for text messages and the
	// message value itself for anything else. Metadata is always nil.
	OnEvent(payload any, metadata []string)
}

// ListenerFunc adapts a plain function to a Listener.
type ListenerFunc func(payload any, metadata []string)

// OnEvent implements Listener.
func (f ListenerFunc) OnEvent(payload any, metadata []string) {
	f(payload, metadata)
}

// RetryHandler is notified of failures that occur inside a running worker.
// Notification is fire-and-forget: OnError must not block the caller.
type RetryHandler interface {
	OnError(err error)
}

// RetryHandlerFunc adapts a plain function to a RetryHandler.
type RetryHandlerFunc func(err error)

// OnError implements RetryHandler.
func (f RetryHandlerFunc) OnError(err error) {
	f(err)
}

// Executor runs long-lived tasks on its own goroutines.
type Executor interface {
	// Submit schedules task for execution. It returns an error when the task
	// cannot be scheduled. The returned channel is closed once task has
	// returned and the executor can accept another task in its place.
	Submit(task func()) (<-chan struct{}, error)
}

// Source is a queue source with a managed lifecycle. Connect starts
// delivering events to the listener; Reconnect replaces the running
// consumers with fresh ones after a failure. A Listener may call Pause and
// Resume; it must not call Connect, Reconnect or Disconnect.
type Source interface {
	Connect(ctx context.Context, listener Listener) error
	Reconnect(ctx context.Context) error
	Pause()
	Resume()
	Disconnect()
}
