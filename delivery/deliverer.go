package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/hirewire/dispatch/catalog"
	"github.com/hirewire/dispatch/id"
	"github.com/hirewire/dispatch/internal/entity"
	"github.com/hirewire/dispatch/observability"
	"github.com/hirewire/dispatch/queue"
	"github.com/hirewire/dispatch/ratelimit"
	"github.com/hirewire/dispatch/signature"
	"github.com/hirewire/dispatch/webhook"
)

// Config holds deliverer configuration. Metrics, Tracer and Limiter are
// optional; a nil Retrier uses the default backoff schedule.
type Config struct {
	RequestTimeout time.Duration
	Retrier        *Retrier
	Limiter        *ratelimit.Limiter
	Metrics        *observability.Metrics
	Tracer         *observability.Tracer
}

// Deliverer performs individual delivery attempts: claim, sign, POST,
// record the outcome, and either finish, reschedule, or deactivate the
// webhook. All per-delivery errors are contained here; the audit trail
// on the delivery record is the only operator-visible signal.
type Deliverer struct {
	webhooks   webhook.Store
	deliveries Store
	queue      queue.Queue
	sender     *Sender
	retrier    *Retrier
	health     *webhook.HealthTracker
	limiter    *ratelimit.Limiter
	metrics    *observability.Metrics
	tracer     *observability.Tracer
	logger     *slog.Logger
}

// NewDeliverer creates a deliverer.
func NewDeliverer(webhooks webhook.Store, deliveries Store, q queue.Queue, cfg Config, logger *slog.Logger) *Deliverer {
	if logger == nil {
		logger = slog.Default()
	}
	retrier := cfg.Retrier
	if retrier == nil {
		retrier = NewRetrier(nil, 0)
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Deliverer{
		webhooks:   webhooks,
		deliveries: deliveries,
		queue:      q,
		sender:     NewSender(timeout),
		retrier:    retrier,
		health:     webhook.NewHealthTracker(webhooks, logger),
		limiter:    cfg.Limiter,
		metrics:    cfg.Metrics,
		tracer:     cfg.Tracer,
		logger:     logger,
	}
}

// Deliver performs one delivery attempt for the given delivery ID.
//
// A delivery that no longer exists, or is not pending, is a no-op: the
// claim step is an atomic pending→inflight transition, so duplicate or
// stale task invocations are discarded without a second HTTP call.
func (dl *Deliverer) Deliver(ctx context.Context, delID id.ID) error {
	d, err := dl.deliveries.Claim(ctx, delID)
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrNotPending) {
			dl.logger.DebugContext(ctx, "delivery skipped",
				"delivery_id", delID, "reason", err)
			return nil
		}
		return fmt.Errorf("claim delivery: %w", err)
	}

	return dl.DeliverClaimed(ctx, d)
}

// DeliverClaimed runs an attempt for a delivery already claimed
// (inflight), e.g. by the poll engine's Dequeue.
func (dl *Deliverer) DeliverClaimed(ctx context.Context, d *Delivery) error {
	wh, err := dl.webhooks.GetWebhook(ctx, d.WebhookID)
	if err != nil {
		if errors.Is(err, webhook.ErrNotFound) {
			// Orphaned delivery: close it out with no retry and no
			// counter updates — the referenced webhook no longer exists.
			d.Status = StatusFailed
			d.ErrorMessage = "webhook not found"
			d.NextRetryAt = nil
			dl.update(ctx, d)
			dl.pendingDone()
			return nil
		}
		// Transient store error: release the claim so the attempt reruns.
		d.Status = StatusPending
		dl.update(ctx, d)
		return fmt.Errorf("get webhook: %w", err)
	}

	// Rate-limited attempts are deferred, not failed: no retry budget is
	// consumed and no counters change.
	if dl.limiter != nil && wh.RateLimit > 0 && !dl.limiter.Allow(wh.ID.String(), wh.RateLimit) {
		at := time.Now().UTC().Add(time.Second)
		d.Status = StatusPending
		d.NextRetryAt = &at
		dl.update(ctx, d)
		if err := dl.queue.ScheduleAt(ctx, at, d.ID); err != nil {
			dl.logger.ErrorContext(ctx, "reschedule rate-limited delivery failed",
				"delivery_id", d.ID, "error", err)
		}
		return nil
	}

	var span trace.Span
	if dl.tracer != nil {
		ctx, span = dl.tracer.StartDeliverySpan(ctx, d.ID.String(), wh.ID.String(), d.Event)
	}

	res := dl.attempt(ctx, d, wh.Secret)

	if res.OK() {
		d.Status = StatusSuccess
		d.ErrorMessage = ""
		d.NextRetryAt = nil
		dl.health.OnSuccess(ctx, wh.ID)
		dl.record("success", res)
		dl.pendingDone()
		dl.logger.DebugContext(ctx, "delivered",
			"delivery_id", d.ID, "webhook_id", wh.ID,
			"status", res.StatusCode, "latency_ms", res.LatencyMs)
	} else {
		d.Status = StatusFailed
		d.NextRetryAt = nil
		dl.health.OnFailure(ctx, wh.ID)

		if at, attempt, ok := dl.retrier.Next(d.RetryCount); ok {
			d.Status = StatusPending
			d.RetryCount = attempt
			d.NextRetryAt = &at
			dl.update(ctx, d)
			if err := dl.queue.ScheduleAt(ctx, at, d.ID); err != nil {
				dl.logger.ErrorContext(ctx, "schedule retry failed",
					"delivery_id", d.ID, "error", err)
			}
			dl.record("retried", res)
			dl.logger.DebugContext(ctx, "retry scheduled",
				"delivery_id", d.ID, "attempt", attempt, "next_at", at)
			dl.endSpan(span, d)
			return nil
		}

		// Retry budget exhausted: the delivery stays failed and the
		// webhook stops receiving new dispatches until re-enabled.
		if err := dl.webhooks.Deactivate(ctx, wh.ID); err != nil {
			dl.logger.ErrorContext(ctx, "deactivate webhook failed",
				"webhook_id", wh.ID, "error", err)
		}
		if dl.metrics != nil {
			dl.metrics.WebhooksDeactivated.Inc()
		}
		dl.record("failed", res)
		dl.pendingDone()
		dl.logger.WarnContext(ctx, "webhook deactivated after exhausting retries",
			"webhook_id", wh.ID, "delivery_id", d.ID, "error", d.ErrorMessage)
	}

	dl.update(ctx, d)
	dl.endSpan(span, d)
	return nil
}

// PingResult is the synchronous outcome of a test ping.
type PingResult struct {
	Success        bool   `json:"success"`
	ResponseCode   int    `json:"response_code,omitempty"`
	ResponseTimeMs int    `json:"response_time_ms"`
	Error          string `json:"error,omitempty"`
}

// TestPing sends a diagnostic "ping" event to the webhook synchronously,
// bypassing the task queue. The delivery record and the webhook's
// counters are updated like a normal attempt, but a failure never
// schedules a retry and never deactivates the webhook.
func (dl *Deliverer) TestPing(ctx context.Context, whID id.ID) (*PingResult, error) {
	wh, err := dl.webhooks.GetWebhook(ctx, whID)
	if err != nil {
		return nil, err
	}

	d := &Delivery{
		Entity:     entity.New(),
		ID:         id.NewDeliveryID(),
		WebhookID:  wh.ID,
		Event:      catalog.Ping,
		RequestURL: wh.URL,
		Status:     StatusInflight, // never visible to the poll engine
	}

	env := NewEnvelope(catalog.Ping, map[string]any{"message": "Test ping"}, d.ID)
	body, err := env.Encode()
	if err != nil {
		return nil, fmt.Errorf("encode ping payload: %w", err)
	}
	d.RequestBody = body

	if err := dl.deliveries.CreateDelivery(ctx, d); err != nil {
		return nil, fmt.Errorf("create ping delivery: %w", err)
	}

	res := dl.attempt(ctx, d, wh.Secret)

	if res.OK() {
		d.Status = StatusSuccess
		d.ErrorMessage = ""
		dl.health.OnSuccess(ctx, wh.ID)
	} else {
		d.Status = StatusFailed
		dl.health.OnFailure(ctx, wh.ID)
	}
	dl.update(ctx, d)

	return &PingResult{
		Success:        res.OK(),
		ResponseCode:   res.StatusCode,
		ResponseTimeMs: res.LatencyMs,
		Error:          d.ErrorMessage,
	}, nil
}

// attempt signs the stored body, issues the HTTP call, and records the
// raw outcome on the delivery. Status transitions are the caller's job.
func (dl *Deliverer) attempt(ctx context.Context, d *Delivery, secret string) Result {
	sig := signature.Sign(d.RequestBody, secret)
	headers := map[string]string{
		"Content-Type": "application/json",
		"X-Event":      d.Event,
		"X-Delivery":   d.ID.String(),
		"X-Signature":  sig,
	}
	d.RequestHeaders = headers

	res := dl.sender.Send(ctx, d.RequestURL, headers, d.RequestBody)

	d.ResponseTimeMs = res.LatencyMs
	if res.Err != "" {
		d.ErrorMessage = res.Err
	} else {
		d.ResponseCode = res.StatusCode
		d.ResponseHeaders = res.Headers
		d.ResponseBody = res.Body
		if !res.OK() {
			d.ErrorMessage = fmt.Sprintf("HTTP %d", res.StatusCode)
		}
	}
	return res
}

func (dl *Deliverer) update(ctx context.Context, d *Delivery) {
	if err := dl.deliveries.UpdateDelivery(ctx, d); err != nil {
		dl.logger.ErrorContext(ctx, "update delivery failed",
			"delivery_id", d.ID, "error", err)
	}
}

func (dl *Deliverer) record(status string, res Result) {
	if dl.metrics == nil {
		return
	}
	dl.metrics.RecordDelivery(status, float64(res.LatencyMs)/1000.0)
}

// pendingDone balances the pending gauge incremented at dispatch time
// once a delivery reaches a terminal state. Retries stay pending and
// test pings are never counted, so neither touches the gauge.
func (dl *Deliverer) pendingDone() {
	if dl.metrics == nil {
		return
	}
	dl.metrics.PendingDeliveries.Dec()
}

func (dl *Deliverer) endSpan(span trace.Span, d *Delivery) {
	if span == nil {
		return
	}
	dl.tracer.EndDeliverySpan(span, d.ResponseCode, d.ResponseTimeMs, d.ErrorMessage)
}
