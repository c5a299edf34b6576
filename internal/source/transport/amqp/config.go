package amqp

import (
	"errors"
	"time"
)

// Default values.
const (
	DefaultURL         = "amqp://localhost:5672/"
	DefaultDialTimeout = 10 * time.Second
	DefaultHeartbeat   = 10 * time.Second
)

// Config configures the AMQP 0.9.1 transport.
type Config struct {
	// URL of the broker. Credentials in the URL are used by CreateConnection;
	// CreateConnectionWithCredentials overrides them.
	URL         string        `env:"AMQP_URL" envDefault:"amqp://localhost:5672/"`
	Vhost       string        `env:"AMQP_VHOST"`
	DialTimeout time.Duration `env:"AMQP_DIAL_TIMEOUT" envDefault:"10s"`
	Heartbeat   time.Duration `env:"AMQP_HEARTBEAT" envDefault:"10s"`
	// Prefetch limits unacknowledged deliveries per channel. Zero leaves the
	// broker default.
	Prefetch  int    `env:"AMQP_PREFETCH" envDefault:"0"`
	TagPrefix string `env:"AMQP_CONSUMER_TAG_PREFIX" envDefault:"mqsource"`
}

// Validate checks the config for errors.
func (c Config) Validate() error {
	if c.URL == "" {
		return errors.New("amqp url is required")
	}
	if c.Prefetch < 0 {
		return errors.New("amqp prefetch must not be negative")
	}
	return nil
}
