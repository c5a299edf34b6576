package source

import (
	"errors"
	"fmt"
	"maps"
)

// ErrNilMessage is returned when a consumer yields no message and no error.
var ErrNilMessage = errors.New("nil message")

// Event translates a received message into the payload handed to a
// Listener: a copy of the fields of a map message, the text of a text
// message, or the message itself for any other kind.
func Event(msg Message) (any, error) {
	switch m := msg.(type) {
	case *MapMessage:
		if m == nil {
			return nil, ErrNilMessage
		}
		event := make(map[string]any, len(m.Fields))
		maps.Copy(event, m.Fields)
		return event, nil
	case *TextMessage:
		if m == nil {
			return nil, ErrNilMessage
		}
		return m.Text, nil
	case *BytesMessage:
		if m == nil {
			return nil, ErrNilMessage
		}
		return m, nil
	case nil:
		return nil, ErrNilMessage
	default:
		return nil, fmt.Errorf("unsupported message type %T", msg)
	}
}

// Kind names the kind of a payload produced by Event. It is used as a label
// by metrics and tracing.
func Kind(payload any) string {
	switch payload.(type) {
	case map[string]any:
		return "map"
	case string:
		return "text"
	default:
		return "opaque"
	}
}
