package source

import (
	"errors"
	"time"
)

// Config is the consumer configuration shared, read-only, by every worker
// of a group.
type Config struct {
	QueueName       string `env:"QUEUE_NAME" envDefault:"events"`
	DestinationName string `env:"DESTINATION_NAME" envDefault:"events"`
	WorkerCount     int    `env:"WORKER_COUNT" envDefault:"1"`
	Secured         bool   `env:"SECURED" envDefault:"false"`
	Username        string `env:"USERNAME"`
	Password        string `env:"PASSWORD"`

	// ReceiveErrorDelay and ReceiveErrorBurst throttle receives after a
	// failure so a broken connection does not spin a worker.
	ReceiveErrorDelay time.Duration `env:"RECEIVE_ERROR_DELAY" envDefault:"1s"`
	ReceiveErrorBurst int           `env:"RECEIVE_ERROR_BURST" envDefault:"5"`
}

// Validate reports whether the configuration can start a group.
func (c Config) Validate() error {
	if c.DestinationName == "" {
		return errors.New("destination name is required")
	}
	if c.WorkerCount < 1 {
		return errors.New("worker count must be at least 1")
	}
	if c.Secured && c.Username == "" {
		return errors.New("username is required for a secured connection")
	}
	return nil
}
