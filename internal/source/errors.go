package source

import (
	"errors"
	"fmt"
)

var (
	// ErrConnectionUnavailable marks a failure to reach the backend that may
	// succeed if retried later.
	ErrConnectionUnavailable = errors.New("connection unavailable")

	// ErrFatal marks a failure that retrying will not fix, such as a bad
	// destination name or an authorization failure.
	ErrFatal = errors.New("fatal source error")

	// ErrConsumerClosed is returned by Receive once the consumer is closed.
	ErrConsumerClosed = errors.New("consumer closed")
)

// Reason is a backend reason code attached to a transport failure.
type Reason int

// Reason codes. The numbering follows the MQ reason codes so that reasons
// reported by different transports share one vocabulary.
const (
	ReasonUnknown                  Reason = 0
	ReasonConnectionBroken         Reason = 2009
	ReasonNotAuthorized            Reason = 2035
	ReasonQueueManagerNotAvailable Reason = 2059
	ReasonUnknownObjectName        Reason = 2085
	ReasonQueueManagerQuiescing    Reason = 2161
	ReasonQueueManagerStopping     Reason = 2162
	ReasonConnectionQuiescing      Reason = 2202
	ReasonConnectionStopping       Reason = 2203
	ReasonChannelNotAvailable      Reason = 2537
	ReasonHostNotAvailable         Reason = 2538
)

// connectivityReasons are the reasons that indicate the backend is
// unreachable rather than misconfigured.
var connectivityReasons = map[Reason]struct{}{
	ReasonConnectionBroken:         {},
	ReasonQueueManagerNotAvailable: {},
	ReasonQueueManagerQuiescing:    {},
	ReasonQueueManagerStopping:     {},
	ReasonConnectionQuiescing:      {},
	ReasonConnectionStopping:       {},
	ReasonChannelNotAvailable:      {},
	ReasonHostNotAvailable:         {},
}

// Connectivity reports whether r belongs to the connectivity reasons.
func (r Reason) Connectivity() bool {
	_, ok := connectivityReasons[r]
	return ok
}

func (r Reason) String() string {
	switch r {
	case ReasonConnectionBroken:
		return "connection broken"
	case ReasonNotAuthorized:
		return "not authorized"
	case ReasonQueueManagerNotAvailable:
		return "queue manager not available"
	case ReasonUnknownObjectName:
		return "unknown object name"
	case ReasonQueueManagerQuiescing:
		return "queue manager quiescing"
	case ReasonQueueManagerStopping:
		return "queue manager stopping"
	case ReasonConnectionQuiescing:
		return "connection quiescing"
	case ReasonConnectionStopping:
		return "connection stopping"
	case ReasonChannelNotAvailable:
		return "channel not available"
	case ReasonHostNotAvailable:
		return "host not available"
	default:
		return fmt.Sprintf("reason %d", int(r))
	}
}

// TransportError is a backend failure classified with a reason code.
type TransportError struct {
	Op     string
	Reason Reason
	Err    error
}

func (e *TransportError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Reason)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Reason, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// NewTransportError wraps err with an operation name and a reason code.
func NewTransportError(op string, reason Reason, err error) *TransportError {
	return &TransportError{Op: op, Reason: reason, Err: err}
}

// IsConnectivity reports whether err carries a connectivity reason.
func IsConnectivity(err error) bool {
	var te *TransportError
	if !errors.As(err, &te) {
		return false
	}
	return te.Reason.Connectivity()
}

// ReasonOf returns the reason carried by err, or ReasonUnknown.
func ReasonOf(err error) Reason {
	var te *TransportError
	if errors.As(err, &te) {
		return te.Reason
	}
	return ReasonUnknown
}
