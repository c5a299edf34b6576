package couchbase

import (
	"fmt"
	"time"

	cb "mqsource/internal/couchbase"
	"mqsource/internal/source"
)

// Message kinds stored in a Message document.
const (
	KindMap   = "map"
	KindText  = "text"
	KindBytes = "bytes"
)

// Message is a queued message. Exactly one of Fields, Text or Body is set,
// according to Kind.
type Message struct {
	ID          string         `json:"id"`
	Queue       string         `json:"queue"`
	Offset      uint64         `json:"offset"`
	Kind        string         `json:"kind"`
	ContentType string         `json:"contentType,omitempty"`
	Fields      map[string]any `json:"fields,omitempty"`
	Text        string         `json:"text,omitempty"`
	Body        []byte         `json:"body,omitempty"`
	PublishTime *time.Time     `json:"publishTime,omitempty"`

	cb.Cas `json:"-"`
}

// Offset is the next write position of a queue. Its presence declares the
// queue.
type Offset struct {
	ID    string `json:"id"`
	Queue string `json:"queue"`
	N     uint64 `json:"n"`

	cb.Cas `json:"-"`
}

// Cursor is the next read position of a queue, shared by its consumers.
type Cursor struct {
	ID     string `json:"id"`
	Queue  string `json:"queue"`
	Offset uint64 `json:"offset"`

	cb.Cas `json:"-"`
}

// Lease claims a message for one consumer.
type Lease struct {
	ID        string    `json:"id"`
	Queue     string    `json:"queue"`
	MessageID string    `json:"messageID"`
	Offset    uint64    `json:"offset"`
	Consumer  string    `json:"consumer"`
	Expires   time.Time `json:"expires"`

	cb.Cas `json:"-"`
}

func MessageKey(queue string, offset uint64) string {
	return fmt.Sprintf("message::%s::%d", queue, offset)
}

func OffsetKey(queue string) string {
	return fmt.Sprintf("offset::%s", queue)
}

func CursorKey(queue string) string {
	return fmt.Sprintf("cursor::%s", queue)
}

func LeaseKey(queue string, offset uint64) string {
	return fmt.Sprintf("lease::%s::%d", queue, offset)
}

// encode stores msg as the document at offset of queue.
func encode(queue string, offset uint64, msg source.Message, now time.Time) (Message, error) {
	doc := Message{
		ID:          MessageKey(queue, offset),
		Queue:       queue,
		Offset:      offset,
		PublishTime: &now,
	}

	switch m := msg.(type) {
	case *source.MapMessage:
		if m == nil {
			return Message{}, source.ErrNilMessage
		}
		doc.Kind = KindMap
		doc.Fields = m.Fields
	case *source.TextMessage:
		if m == nil {
			return Message{}, source.ErrNilMessage
		}
		doc.Kind = KindText
		doc.Text = m.Text
	case *source.BytesMessage:
		if m == nil {
			return Message{}, source.ErrNilMessage
		}
		doc.Kind = KindBytes
		doc.ContentType = m.ContentType
		doc.Body = m.Body
	default:
		return Message{}, source.ErrNilMessage
	}

	return doc, nil
}

// decode turns a stored document back into a message. The document ID
// becomes the message ID.
func decode(doc Message) (source.Message, error) {
	switch doc.Kind {
	case KindMap:
		fields := doc.Fields
		if fields == nil {
			fields = map[string]any{}
		}
		return &source.MapMessage{ID: doc.ID, Fields: fields}, nil
	case KindText:
		return &source.TextMessage{ID: doc.ID, Text: doc.Text}, nil
	case KindBytes:
		return &source.BytesMessage{ID: doc.ID, ContentType: doc.ContentType, Body: doc.Body}, nil
	default:
		return nil, fmt.Errorf("message %s has unknown kind %q", doc.ID, doc.Kind)
	}
}
