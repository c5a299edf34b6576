package amqp

import (
	"context"
	"errors"
	"io"
	"net"

	amqp "github.com/rabbitmq/amqp091-go"

	"mqsource/internal/source"
)

// classify maps a broker or network failure to a reason code.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	return source.NewTransportError(op, reasonFor(err), err)
}

func reasonFor(err error) source.Reason {
	var amqpErr *amqp.Error
	if errors.As(err, &amqpErr) {
		// ErrVhost shares its code with authentication failures
		if amqpErr == amqp.ErrVhost {
			return source.ReasonUnknownObjectName
		}

		switch amqpErr.Code {
		case amqp.ConnectionForced:
			return source.ReasonConnectionStopping
		case amqp.ChannelError:
			return source.ReasonConnectionBroken
		case amqp.ResourceError:
			return source.ReasonQueueManagerNotAvailable
		case amqp.AccessRefused:
			return source.ReasonNotAuthorized
		case amqp.NotFound, amqp.InvalidPath:
			return source.ReasonUnknownObjectName
		default:
			return source.ReasonUnknown
		}
	}

	var netErr net.Error
	switch {
	case errors.As(err, &netErr):
		return source.ReasonHostNotAvailable
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return source.ReasonHostNotAvailable
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return source.ReasonConnectionBroken
	default:
		return source.ReasonUnknown
	}
}
