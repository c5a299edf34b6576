package couchbase

import (
	"context"
	"fmt"
	"time"

	"github.com/couchbase/gocb/v2"
)

// Config describes how to reach a bucket.
type Config struct {
	ConnectionString string        `env:"COUCHBASE_CONNECTION_STRING" envDefault:"couchbase://localhost"`
	Username         string        `env:"COUCHBASE_USERNAME" envDefault:"Administrator"`
	Password         string        `env:"COUCHBASE_PASSWORD" envDefault:"password"`
	Bucket           string        `env:"COUCHBASE_BUCKET_NAME" envDefault:"mqsource"`
	Scope            string        `env:"COUCHBASE_SCOPE_NAME" envDefault:"_default"`
	ConnectTimeout   time.Duration `env:"COUCHBASE_CONNECT_TIMEOUT" envDefault:"10s"`
	KVTimeout        time.Duration `env:"COUCHBASE_KV_TIMEOUT" envDefault:"5s"`
	QueryTimeout     time.Duration `env:"COUCHBASE_QUERY_TIMEOUT" envDefault:"30s"`
	ReadyTimeout     time.Duration `env:"COUCHBASE_READY_TIMEOUT" envDefault:"5s"`
}

// Open connects to the cluster with the given credentials and waits for the
// bucket to become ready.
func Open(ctx context.Context, cfg Config, username, password string) (*gocb.Cluster, *gocb.Bucket, error) {
	cluster, err := gocb.Connect(cfg.ConnectionString, gocb.ClusterOptions{
		Authenticator: gocb.PasswordAuthenticator{
			Username: username,
			Password: password,
		},
		TimeoutsConfig: gocb.TimeoutsConfig{
			ConnectTimeout: cfg.ConnectTimeout,
			KVTimeout:      cfg.KVTimeout,
			QueryTimeout:   cfg.QueryTimeout,
		},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to cluster: %w", err)
	}

	bucket := cluster.Bucket(cfg.Bucket)
	if err := bucket.WaitUntilReady(cfg.ReadyTimeout, &gocb.WaitUntilReadyOptions{Context: ctx}); err != nil {
		_ = cluster.Close(nil)
		return nil, nil, fmt.Errorf("bucket %s not ready: %w", cfg.Bucket, err)
	}

	return cluster, bucket, nil
}
