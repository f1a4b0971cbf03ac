package dispatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/hirewire/dispatch/catalog"
	"github.com/hirewire/dispatch/delivery"
	"github.com/hirewire/dispatch/id"
	"github.com/hirewire/dispatch/internal/entity"
	"github.com/hirewire/dispatch/observability"
	"github.com/hirewire/dispatch/queue"
	"github.com/hirewire/dispatch/queue/inproc"
	"github.com/hirewire/dispatch/ratelimit"
	"github.com/hirewire/dispatch/store"
	"github.com/hirewire/dispatch/webhook"
)

// Dispatcher is the root webhook dispatch and delivery engine.
type Dispatcher struct {
	config     Config
	store      store.Store
	queue      queue.Queue
	catalog    *catalog.Catalog
	catalogSet bool

	webhookSvc *webhook.Service
	deliverer  *delivery.Deliverer
	engine     *delivery.Engine
	scheduler  *inproc.Scheduler
	limiter    *ratelimit.Limiter
	metrics    *observability.Metrics
	tracer     *observability.Tracer
	logger     *slog.Logger
}

// New creates a new Dispatcher with the given options.
func New(opts ...Option) (*Dispatcher, error) {
	d := &Dispatcher{
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(d); err != nil {
			return nil, err
		}
	}
	if d.store == nil {
		return nil, ErrNoStore
	}
	if !d.catalogSet {
		d.catalog = catalog.Default()
	}
	d.wireServices()
	return d, nil
}

// wireServices initializes the internal services after options are applied.
func (d *Dispatcher) wireServices() {
	d.limiter = ratelimit.New()
	d.webhookSvc = webhook.NewService(d.store, d.catalog, d.logger)

	if d.queue == nil {
		if d.config.Polling {
			d.queue = queue.StorePoller{}
		} else {
			d.scheduler = inproc.New(d.config.Concurrency, d.logger)
			d.queue = d.scheduler
		}
	}

	d.deliverer = delivery.NewDeliverer(d.store, d.store, d.queue, delivery.Config{
		RequestTimeout: d.config.RequestTimeout,
		Retrier:        delivery.NewRetrier(d.config.Backoff, d.config.MaxRetries),
		Limiter:        d.limiter,
		Metrics:        d.metrics,
		Tracer:         d.tracer,
	}, d.logger)

	if d.scheduler != nil {
		d.scheduler.Bind(d.deliverer.Deliver)
	}

	if d.config.Polling {
		d.engine = delivery.NewEngine(d.store, d.deliverer, delivery.EngineConfig{
			Concurrency:  d.config.Concurrency,
			PollInterval: d.config.PollInterval,
			BatchSize:    d.config.BatchSize,
			Retention:    d.config.Retention,
		}, d.logger)
	}
}

// Start begins the poll engine when polling is enabled. The in-process
// scheduler needs no start: it runs tasks as they are scheduled.
func (d *Dispatcher) Start(ctx context.Context) {
	if d.engine != nil {
		d.engine.Start(ctx)
	}
}

// Stop shuts down scheduling and waits for in-flight deliveries.
func (d *Dispatcher) Stop(ctx context.Context) {
	if d.engine != nil {
		d.engine.Stop(ctx)
	}
	if d.scheduler != nil {
		d.scheduler.Close()
	}
}

// Dispatch fans an event out to all active webhooks subscribed to it.
//
// Fire-and-forget: one pending delivery is created and scheduled per
// matching webhook, and failures for individual webhooks are logged but
// never surfaced to the caller. Unknown event names match zero webhooks.
func (d *Dispatcher) Dispatch(ctx context.Context, event string, data map[string]any) {
	if d.catalog != nil {
		if err := d.catalog.ValidateData(event, data); err != nil {
			d.logger.ErrorContext(ctx, "event payload rejected by schema",
				"event", event, "error", err)
			return
		}
	}

	hooks, err := d.store.FindActiveByEvent(ctx, event)
	if err != nil {
		d.logger.ErrorContext(ctx, "find webhooks for event failed",
			"event", event, "error", err)
		return
	}
	if len(hooks) == 0 {
		return
	}

	if d.metrics != nil {
		d.metrics.EventsDispatched.Inc()
	}

	now := time.Now().UTC()
	for _, wh := range hooks {
		del := &delivery.Delivery{
			Entity:     entity.New(),
			ID:         id.NewDeliveryID(),
			WebhookID:  wh.ID,
			Event:      event,
			RequestURL: wh.URL,
			Status:     delivery.StatusPending,
		}

		env := delivery.NewEnvelope(event, data, del.ID)
		body, err := env.Encode()
		if err != nil {
			d.logger.ErrorContext(ctx, "encode payload failed",
				"event", event, "webhook_id", wh.ID, "error", err)
			continue
		}
		del.RequestBody = body

		if err := d.store.CreateDelivery(ctx, del); err != nil {
			d.logger.ErrorContext(ctx, "create delivery failed",
				"event", event, "webhook_id", wh.ID, "error", err)
			continue
		}

		if d.metrics != nil {
			d.metrics.PendingDeliveries.Inc()
		}

		if err := d.queue.ScheduleAt(ctx, now, del.ID); err != nil {
			d.logger.ErrorContext(ctx, "schedule delivery failed",
				"delivery_id", del.ID, "error", err)
		}
	}

	d.logger.DebugContext(ctx, "event dispatched",
		"event", event, "webhooks", len(hooks))
}

// Deliver performs one delivery attempt. Exposed for host task queues
// that invoke deliveries themselves via queue.Queue.
func (d *Dispatcher) Deliver(ctx context.Context, deliveryID id.ID) error {
	return d.deliverer.Deliver(ctx, deliveryID)
}

// TestPing sends a synchronous diagnostic ping to a webhook.
func (d *Dispatcher) TestPing(ctx context.Context, whID id.ID) (*delivery.PingResult, error) {
	return d.deliverer.TestPing(ctx, whID)
}

// Webhooks returns the webhook registration service.
func (d *Dispatcher) Webhooks() *webhook.Service {
	return d.webhookSvc
}

// Catalog returns the event type catalog (nil when validation is disabled).
func (d *Dispatcher) Catalog() *catalog.Catalog {
	return d.catalog
}

// Store returns the underlying store.
func (d *Dispatcher) Store() store.Store {
	return d.store
}
