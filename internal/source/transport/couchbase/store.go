package couchbase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/couchbase/gocb/v2"

	cb "mqsource/internal/couchbase"
	"mqsource/internal/validator"
)

// Collection names inside the configured scope.
const (
	CollectionMessages = "messages"
	CollectionOffsets  = "offsets"
	CollectionCursors  = "cursors"
	CollectionLeases   = "leases"
)

// Store persists queues as message documents with per-queue offset and
// cursor documents. Leases arbitrate between competing consumers.
type Store struct {
	messages     *cb.Store[Message]
	offsets      *cb.Store[Offset]
	cursors      *cb.Store[Cursor]
	leases       *cb.Store[Lease]
	transactions *cb.Transactions
	leaseTTL     time.Duration
	retention    time.Duration
}

// NewStore opens the queue collections of scope.
func NewStore(cluster *gocb.Cluster, bucket *gocb.Bucket, scope string, leaseTTL, retention time.Duration) (*Store, error) {
	messages, err := cb.NewStore[Message](cluster, bucket, scope, CollectionMessages)
	if err != nil {
		return nil, fmt.Errorf("failed to create messages store: %w", err)
	}
	offsets, err := cb.NewStore[Offset](cluster, bucket, scope, CollectionOffsets)
	if err != nil {
		return nil, fmt.Errorf("failed to create offsets store: %w", err)
	}
	cursors, err := cb.NewStore[Cursor](cluster, bucket, scope, CollectionCursors)
	if err != nil {
		return nil, fmt.Errorf("failed to create cursors store: %w", err)
	}
	leases, err := cb.NewStore[Lease](cluster, bucket, scope, CollectionLeases)
	if err != nil {
		return nil, fmt.Errorf("failed to create leases store: %w", err)
	}
	transactions, err := cb.NewTransactions(cluster, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to create transactions: %w", err)
	}

	s := Store{
		messages:     messages,
		offsets:      offsets,
		cursors:      cursors,
		leases:       leases,
		transactions: transactions,
		leaseTTL:     leaseTTL,
		retention:    retention,
	}
	if err := validator.Validate("queue store", s.leaseTTL); err != nil {
		return nil, fmt.Errorf("failed to validate queue store deps: %w", err)
	}

	return &s, nil
}

// Declare creates the queue if it does not exist.
func (s *Store) Declare(ctx context.Context, queue string) error {
	err := s.offsets.Insert(ctx, OffsetKey(queue), Offset{ID: OffsetKey(queue), Queue: queue}, nil)
	if err != nil && !errors.Is(err, gocb.ErrDocumentExists) {
		return fmt.Errorf("failed to declare queue %s: %w", queue, err)
	}
	return nil
}

// Declared reports whether the queue exists.
func (s *Store) Declared(ctx context.Context, queue string) (bool, error) {
	return s.offsets.Exists(ctx, OffsetKey(queue))
}

// GetCursor returns the next read position of queue, 0 for a queue never
// read from.
func (s *Store) GetCursor(ctx context.Context, queue string) (uint64, error) {
	cur, err := s.cursors.Get(ctx, CursorKey(queue))
	switch {
	case err == nil:
		return cur.Offset, nil
	case errors.Is(err, gocb.ErrDocumentNotFound):
		return 0, nil
	default:
		return 0, fmt.Errorf("failed to get cursor: %w", err)
	}
}

// CommitCursor moves the cursor of queue forward to offset. A cursor already
// at or beyond offset is left alone.
func (s *Store) CommitCursor(queue string, offset uint64) error {
	key := CursorKey(queue)

	_, err := s.transactions.Run(func(r cb.TransactionRunner) error {
		for {
			res, err := r.Get(s.cursors, key)
			switch {
			case err == nil:
			case errors.Is(err, gocb.ErrDocumentNotFound):
				_, err := r.Insert(s.cursors, key, Cursor{ID: key, Queue: queue, Offset: offset})
				switch {
				case err == nil:
					return nil
				case errors.Is(err, gocb.ErrDocumentExists):
					// inserted concurrently, read it back
					continue
				default:
					return fmt.Errorf("failed to insert new cursor: %w", err)
				}
			default:
				return fmt.Errorf("failed to get cursor: %w", err)
			}

			var cursor Cursor
			if err := res.Content(&cursor); err != nil {
				return fmt.Errorf("failed to decode cursor: %w", err)
			}
			if !cursor.advance(offset) {
				return nil
			}

			if _, err := r.Replace(res, cursor); err != nil {
				return fmt.Errorf("failed to replace cursor: %w", err)
			}
			return nil
		}
	})
	if err != nil {
		return fmt.Errorf("failed to commit cursor for queue %s: %w", queue, err)
	}

	return nil
}

// advance moves the cursor forward to offset. It reports false, leaving the
// cursor alone, when the cursor is already at or beyond offset.
func (c *Cursor) advance(offset uint64) bool {
	if offset <= c.Offset {
		return false
	}
	c.Offset = offset
	return true
}

// GetOffset returns the next write position of queue.
func (s *Store) GetOffset(ctx context.Context, queue string) (uint64, error) {
	offset, err := s.offsets.Get(ctx, OffsetKey(queue))
	if err != nil {
		return 0, fmt.Errorf("failed to get offset: %w", err)
	}

	return offset.N, nil
}

// CommitOffset moves the write position of queue forward to n.
func (s *Store) CommitOffset(queue string, n uint64) error {
	key := OffsetKey(queue)

	_, err := s.transactions.Run(func(r cb.TransactionRunner) error {
		for {
			res, err := r.Get(s.offsets, key)
			switch {
			case err == nil:
			case errors.Is(err, gocb.ErrDocumentNotFound):
				_, err := r.Insert(s.offsets, key, Offset{ID: key, Queue: queue, N: n})
				switch {
				case err == nil:
					return nil
				case errors.Is(err, gocb.ErrDocumentExists):
					continue
				default:
					return fmt.Errorf("failed to insert new offset: %w", err)
				}
			default:
				return fmt.Errorf("failed to get offset for queue %s: %w", queue, err)
			}

			var existing Offset
			if err := res.Content(&existing); err != nil {
				return fmt.Errorf("failed to decode offset: %w", err)
			}
			if n <= existing.N {
				return nil
			}

			existing.N = n
			if _, err := r.Replace(res, existing); err != nil {
				return fmt.Errorf("failed to replace offset: %w", err)
			}
			return nil
		}
	})
	if err != nil {
		return fmt.Errorf("failed to commit offset for queue %s: %w", queue, err)
	}

	return nil
}

// InsertLease claims the message at offset for consumer. It fails with
// gocb.ErrDocumentExists when another consumer holds the message.
func (s *Store) InsertLease(ctx context.Context, queue, consumer string, msg Message) error {
	key := LeaseKey(queue, msg.Offset)

	lease := Lease{
		ID:        key,
		Queue:     queue,
		MessageID: msg.ID,
		Offset:    msg.Offset,
		Consumer:  consumer,
		Expires:   time.Now().UTC().Add(s.leaseTTL),
	}

	if err := s.leases.Insert(ctx, key, lease, &gocb.InsertOptions{Expiry: s.leaseTTL}); err != nil {
		return fmt.Errorf("failed to insert lease: %w", err)
	}

	return nil
}

// InsertMessage stores msg. It fails with gocb.ErrDocumentExists when the
// offset is taken.
func (s *Store) InsertMessage(ctx context.Context, msg Message) error {
	var opts *gocb.InsertOptions
	if s.retention > 0 {
		opts = &gocb.InsertOptions{Expiry: s.retention}
	}

	if err := s.messages.Insert(ctx, msg.ID, msg, opts); err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}

	return nil
}

// LoadMessages returns up to limit messages of queue starting at offset
// from, in offset order.
func (s *Store) LoadMessages(ctx context.Context, queue string, from uint64, limit int) ([]Message, error) {
	const query = "SELECT RAW m FROM {keyspace} m " +
		"WHERE m.queue = $1 AND m.`offset` >= $2 " +
		"ORDER BY m.`offset` ASC LIMIT $3"

	messages, err := s.messages.Query(ctx, query, queue, from, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}

	return messages, nil
}
