// Package couchbase is a thin generic layer over the Couchbase Go SDK: typed
// collection access with CAS tracking, parameterized queries, distributed
// transactions and cluster setup.
package couchbase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/couchbase/gocb/v2"
)

// Store gives typed access to the documents of one collection.
type Store[T any] struct {
	cluster    *gocb.Cluster
	collection *gocb.Collection
	keyspace   string
}

// NewStore creates a store for the named collection of scope.
func NewStore[T any](cluster *gocb.Cluster, bucket *gocb.Bucket, scope, collection string) (*Store[T], error) {
	if cluster == nil || bucket == nil {
		return nil, errors.New("invalid couchbase parameters: cluster and bucket must not be nil")
	}
	if scope == "" || collection == "" {
		return nil, errors.New("invalid couchbase parameters: scope and collection are required")
	}

	return &Store[T]{
		cluster:    cluster,
		collection: bucket.Scope(scope).Collection(collection),
		keyspace:   fmt.Sprintf("`%s`.`%s`.`%s`", bucket.Name(), scope, collection),
	}, nil
}

// Insert creates a document. It fails with gocb.ErrDocumentExists when the
// key is taken.
func (s *Store[T]) Insert(ctx context.Context, key string, value T, opts *gocb.InsertOptions) error {
	if opts == nil {
		opts = new(gocb.InsertOptions)
	}
	opts.Context = ctx

	if _, err := s.collection.Insert(key, value, opts); err != nil {
		return fmt.Errorf("failed to insert document with key %s: %w", key, err)
	}

	return nil
}

// Get loads a document. Values implementing CasSetter receive the CAS of the
// loaded revision.
func (s *Store[T]) Get(ctx context.Context, key string) (*T, error) {
	res, err := s.collection.Get(key, &gocb.GetOptions{Context: ctx})
	if err != nil {
		return nil, fmt.Errorf("failed to get document with key %s: %w", key, err)
	}

	var v T
	if err := res.Content(&v); err != nil {
		return nil, fmt.Errorf("failed to parse document content for key %s: %w", key, err)
	}

	if cs, ok := any(&v).(CasSetter); ok {
		cs.SetCas(uint64(res.Cas()))
	}

	return &v, nil
}

// Exists reports whether a document is stored under key.
func (s *Store[T]) Exists(ctx context.Context, key string) (bool, error) {
	res, err := s.collection.Exists(key, &gocb.ExistsOptions{Context: ctx})
	if err != nil {
		return false, fmt.Errorf("failed to check document with key %s: %w", key, err)
	}

	return res.Exists(), nil
}

// Replace overwrites a document. When v carries a CAS the write only
// succeeds against that revision, and the new CAS is stored back into v.
func (s *Store[T]) Replace(ctx context.Context, key string, v *T) error {
	opts := &gocb.ReplaceOptions{Context: ctx}
	if g, ok := any(v).(CasGetter); ok {
		opts.Cas = gocb.Cas(g.GetCas())
	}

	res, err := s.collection.Replace(key, v, opts)
	if err != nil {
		return fmt.Errorf("failed to replace document with key %s: %w", key, err)
	}

	if cs, ok := any(v).(CasSetter); ok {
		cs.SetCas(uint64(res.Cas()))
	}

	return nil
}

// Query runs a SQL++ statement with positional parameters and decodes each
// row into T. The statement may reference the collection as {keyspace}.
func (s *Store[T]) Query(ctx context.Context, statement string, args ...any) ([]T, error) {
	result, err := s.cluster.Query(s.expand(statement), &gocb.QueryOptions{
		Context:              ctx,
		PositionalParameters: args,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer result.Close()

	var items []T
	for result.Next() {
		var item T
		if err := result.Row(&item); err != nil {
			return nil, fmt.Errorf("failed to parse query row: %w", err)
		}
		items = append(items, item)
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("failed to read query results: %w", err)
	}

	return items, nil
}

func (s *Store[T]) expand(statement string) string {
	return strings.ReplaceAll(statement, "{keyspace}", s.keyspace)
}

// Collection returns the underlying collection.
func (s *Store[T]) Collection() *gocb.Collection {
	return s.collection
}
