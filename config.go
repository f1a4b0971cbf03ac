package dispatch

import (
	"time"

	"github.com/hirewire/dispatch/delivery"
)

// Config holds the configuration for a Dispatcher instance.
type Config struct {
	// MaxRetries is the number of retries after the initial attempt.
	MaxRetries int

	// Backoff maps a retry attempt number to the delay before it runs.
	Backoff delivery.Policy

	// RequestTimeout is the HTTP timeout per delivery attempt.
	RequestTimeout time.Duration

	// Concurrency bounds simultaneous delivery attempts (in-process
	// scheduler workers, or poll engine workers when polling).
	Concurrency int

	// Polling switches scheduling from the in-process timer queue to the
	// store-polling engine. The due time then lives on the delivery row.
	Polling bool

	// PollInterval is how often the poll engine checks for due deliveries.
	PollInterval time.Duration

	// BatchSize is the maximum deliveries claimed per poll cycle.
	BatchSize int

	// Retention deletes terminal deliveries older than this age.
	// 0 keeps delivery history forever.
	Retention time.Duration
}

// DefaultConfig returns a Config with the standard settings: 3 retries
// at 1/5/30 minute backoff and a 15 second request timeout.
func DefaultConfig() Config {
	return Config{
		MaxRetries:     delivery.DefaultMaxRetries,
		Backoff:        delivery.DefaultBackoff,
		RequestTimeout: 15 * time.Second,
		Concurrency:    10,
		PollInterval:   time.Second,
		BatchSize:      50,
	}
}
