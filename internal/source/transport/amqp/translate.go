package amqp

import (
	"encoding/json"
	"fmt"
	"mime"
	"strings"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"mqsource/internal/source"
)

const contentTypeJSON = "application/json"

// translate turns a delivery into a message. JSON objects become map
// messages, text and untyped bodies become text messages and everything
// else is passed through as bytes.
func translate(d amqp.Delivery) (source.Message, error) {
	id := d.MessageId
	if id == "" {
		id = uuid.NewString()
	}

	mediaType := ""
	if d.ContentType != "" {
		mt, _, err := mime.ParseMediaType(d.ContentType)
		if err != nil {
			return nil, fmt.Errorf("failed to parse content type of message %s: %w", id, err)
		}
		mediaType = mt
	}

	switch {
	case mediaType == contentTypeJSON:
		var fields map[string]any
		if err := json.Unmarshal(d.Body, &fields); err != nil {
			return nil, fmt.Errorf("failed to decode map message %s: %w", id, err)
		}
		if fields == nil {
			return nil, fmt.Errorf("map message %s is not a JSON object", id)
		}
		return &source.MapMessage{ID: id, Fields: fields}, nil
	case mediaType == "" || strings.HasPrefix(mediaType, "text/"):
		return &source.TextMessage{ID: id, Text: string(d.Body)}, nil
	default:
		return &source.BytesMessage{ID: id, ContentType: d.ContentType, Body: d.Body}, nil
	}
}
