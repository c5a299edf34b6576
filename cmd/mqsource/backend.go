package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	cb "mqsource/internal/couchbase"
	"mqsource/internal/source"
	"mqsource/internal/source/transport/amqp"
	"mqsource/internal/source/transport/couchbase"
	"mqsource/internal/source/transport/memory"
)

// Supported values of BACKEND.
const (
	backendMemory    = "memory"
	backendAMQP      = "amqp"
	backendCouchbase = "couchbase"
)

// backend is a connection factory plus a way to seed its queues.
type backend struct {
	factory source.ConnectionFactory
	send    func(ctx context.Context, queue string, msgs ...source.Message) error
}

func newBackend(cfg Config, logger *zap.Logger) (*backend, error) {
	switch cfg.Backend {
	case backendMemory:
		return newMemoryBackend(cfg), nil
	case backendAMQP:
		return newAMQPBackend(cfg, logger)
	case backendCouchbase:
		return newCouchbaseBackend(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

func newMemoryBackend(cfg Config) *backend {
	broker := memory.NewBroker()
	broker.Declare(cfg.Source.DestinationName)

	return &backend{
		factory: memory.NewFactory(broker),
		send: func(_ context.Context, queue string, msgs ...source.Message) error {
			for _, msg := range msgs {
				if err := broker.Send(queue, msg); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func newAMQPBackend(cfg Config, logger *zap.Logger) (*backend, error) {
	factory, err := amqp.NewFactory(cfg.AMQP, logger)
	if err != nil {
		return nil, err
	}

	b := &backend{factory: factory}
	b.send = func(ctx context.Context, queue string, msgs ...source.Message) error {
		producer, err := amqp.NewProducer(ctx, factory)
		if err != nil {
			return fmt.Errorf("failed to create producer: %w", err)
		}
		defer func() {
			if err := producer.Close(); err != nil {
				logger.Warn("failed to close producer", zap.Error(err))
			}
		}()

		return producer.Send(ctx, queue, msgs...)
	}

	return b, nil
}

func newCouchbaseBackend(cfg Config, logger *zap.Logger) (*backend, error) {
	factory, err := couchbase.NewFactory(cfg.Couchbase, logger)
	if err != nil {
		return nil, err
	}

	b := &backend{factory: factory}
	b.send = func(ctx context.Context, queue string, msgs ...source.Message) error {
		cluster, bucket, err := cb.Open(ctx, cfg.Couchbase.Cluster, cfg.Couchbase.Cluster.Username, cfg.Couchbase.Cluster.Password)
		if err != nil {
			return err
		}
		defer func() {
			if err := cluster.Close(nil); err != nil {
				logger.Warn("failed to close producer cluster", zap.Error(err))
			}
		}()

		store, err := couchbase.NewStore(cluster, bucket, cfg.Couchbase.Cluster.Scope, cfg.Couchbase.LeaseTimeout, cfg.Couchbase.Retention)
		if err != nil {
			return err
		}
		producer, err := couchbase.NewProducer(store)
		if err != nil {
			return err
		}

		return producer.Send(ctx, queue, msgs...)
	}

	return b, nil
}
