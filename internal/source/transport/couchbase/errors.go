package couchbase

import (
	"context"
	"errors"
	"net"

	"github.com/couchbase/gocb/v2"

	"mqsource/internal/source"
)

// classify maps an SDK failure to a reason code.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	return source.NewTransportError(op, reasonFor(err), err)
}

func reasonFor(err error) source.Reason {
	var netErr net.Error
	switch {
	case errors.Is(err, gocb.ErrAuthenticationFailure):
		return source.ReasonNotAuthorized
	case errors.Is(err, gocb.ErrBucketNotFound),
		errors.Is(err, gocb.ErrScopeNotFound),
		errors.Is(err, gocb.ErrCollectionNotFound):
		return source.ReasonUnknownObjectName
	case errors.Is(err, gocb.ErrServiceNotAvailable),
		errors.Is(err, gocb.ErrTemporaryFailure):
		return source.ReasonQueueManagerNotAvailable
	case errors.Is(err, gocb.ErrRequestCanceled):
		return source.ReasonConnectionBroken
	case errors.Is(err, gocb.ErrTimeout),
		errors.Is(err, gocb.ErrUnambiguousTimeout),
		errors.Is(err, gocb.ErrAmbiguousTimeout),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled),
		errors.As(err, &netErr):
		return source.ReasonHostNotAvailable
	default:
		return source.ReasonUnknown
	}
}
