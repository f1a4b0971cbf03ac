package dispatch

import (
	"log/slog"
	"time"

	"github.com/hirewire/dispatch/catalog"
	"github.com/hirewire/dispatch/delivery"
	"github.com/hirewire/dispatch/observability"
	"github.com/hirewire/dispatch/queue"
	"github.com/hirewire/dispatch/store"
)

// Option configures a Dispatcher instance.
type Option func(*Dispatcher) error

// WithStore sets the persistence backend for the Dispatcher.
func WithStore(s store.Store) Option {
	return func(d *Dispatcher) error {
		d.store = s
		return nil
	}
}

// WithLogger sets the structured logger for the Dispatcher.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) error {
		d.logger = logger
		return nil
	}
}

// WithQueue sets an external task queue (the host scheduler) instead of
// the default in-process timer queue.
func WithQueue(q queue.Queue) Option {
	return func(d *Dispatcher) error {
		d.queue = q
		return nil
	}
}

// WithPolling switches scheduling to the store-polling engine; Start and
// Stop then manage the engine's worker loop.
func WithPolling() Option {
	return func(d *Dispatcher) error {
		d.config.Polling = true
		return nil
	}
}

// WithCatalog sets the event type catalog used for subscription
// validation and optional payload schema checks. Defaults to the
// recruiting domain catalog; pass nil to disable validation entirely.
func WithCatalog(c *catalog.Catalog) Option {
	return func(d *Dispatcher) error {
		d.catalog = c
		d.catalogSet = true
		return nil
	}
}

// WithMaxRetries sets the retry budget per delivery.
func WithMaxRetries(n int) Option {
	return func(d *Dispatcher) error {
		d.config.MaxRetries = n
		return nil
	}
}

// WithBackoff sets the retry backoff policy.
func WithBackoff(p delivery.Policy) Option {
	return func(d *Dispatcher) error {
		d.config.Backoff = p
		return nil
	}
}

// WithRequestTimeout sets the HTTP timeout per delivery attempt.
func WithRequestTimeout(t time.Duration) Option {
	return func(d *Dispatcher) error {
		d.config.RequestTimeout = t
		return nil
	}
}

// WithConcurrency bounds simultaneous delivery attempts.
func WithConcurrency(n int) Option {
	return func(d *Dispatcher) error {
		d.config.Concurrency = n
		return nil
	}
}

// WithPollInterval sets how often the poll engine checks for due deliveries.
func WithPollInterval(t time.Duration) Option {
	return func(d *Dispatcher) error {
		d.config.PollInterval = t
		return nil
	}
}

// WithBatchSize sets the maximum deliveries claimed per poll cycle.
func WithBatchSize(n int) Option {
	return func(d *Dispatcher) error {
		d.config.BatchSize = n
		return nil
	}
}

// WithRetention enables periodic deletion of terminal deliveries older
// than the given age. Only effective with the polling engine.
func WithRetention(age time.Duration) Option {
	return func(d *Dispatcher) error {
		d.config.Retention = age
		return nil
	}
}

// WithMetrics enables Prometheus metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(d *Dispatcher) error {
		d.metrics = m
		return nil
	}
}

// WithTracer enables OpenTelemetry tracing of delivery attempts.
func WithTracer(t *observability.Tracer) Option {
	return func(d *Dispatcher) error {
		d.tracer = t
		return nil
	}
}
