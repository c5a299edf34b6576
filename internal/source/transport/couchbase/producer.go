package couchbase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/couchbase/gocb/v2"

	"mqsource/internal/source"
	"mqsource/internal/validator"
)

// Producer appends messages to queues.
type Producer struct {
	store *Store
}

// NewProducer creates a producer writing to store.
func NewProducer(store *Store) (*Producer, error) {
	p := Producer{
		store: store,
	}

	if err := validator.Validate("producer", p.store); err != nil {
		return nil, fmt.Errorf("failed to validate producer store: %w", err)
	}

	return &p, nil
}

// Send declares queue if needed and appends msgs at the next offsets.
// Concurrent producers on one queue are not supported.
func (p *Producer) Send(ctx context.Context, queue string, msgs ...source.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	if err := p.store.Declare(ctx, queue); err != nil {
		return err
	}

	offset, err := p.store.GetOffset(ctx, queue)
	switch {
	case err == nil:
	case errors.Is(err, gocb.ErrDocumentNotFound):
		offset = 0
	default:
		return fmt.Errorf("failed to get offset for queue %s: %w", queue, err)
	}

	now := time.Now().UTC()
	for _, msg := range msgs {
		doc, err := encode(queue, offset, msg, now)
		if err != nil {
			return fmt.Errorf("failed to encode message for queue %s: %w", queue, err)
		}

		if err := p.store.InsertMessage(ctx, doc); err != nil && !errors.Is(err, gocb.ErrDocumentExists) {
			return fmt.Errorf("failed to insert message with ID %s: %w", doc.ID, err)
		}

		offset++
	}

	if err := p.store.CommitOffset(queue, offset); err != nil {
		return fmt.Errorf("failed to commit offset for queue %s: %w", queue, err)
	}

	return nil
}
