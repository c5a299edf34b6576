package couchbase

import (
	"errors"
	"time"

	cb "mqsource/internal/couchbase"
)

// Config configures the document-store transport.
type Config struct {
	Cluster      cb.Config
	PollInterval time.Duration `env:"COUCHBASE_POLL_INTERVAL" envDefault:"200ms"`
	BatchSize    int           `env:"COUCHBASE_BATCH_SIZE" envDefault:"50"`
	LeaseTimeout time.Duration `env:"COUCHBASE_LEASE_TIMEOUT" envDefault:"1m"`
	Retention    time.Duration `env:"COUCHBASE_RETENTION" envDefault:"168h"`
}

// Validate checks the config for errors.
func (c Config) Validate() error {
	switch {
	case c.Cluster.ConnectionString == "":
		return errors.New("couchbase connection string is required")
	case c.Cluster.Bucket == "" || c.Cluster.Scope == "":
		return errors.New("couchbase bucket and scope are required")
	case c.PollInterval <= 0:
		return errors.New("couchbase poll interval must be positive")
	case c.BatchSize < 1:
		return errors.New("couchbase batch size must be at least 1")
	case c.LeaseTimeout <= 0:
		return errors.New("couchbase lease timeout must be positive")
	}
	return nil
}
