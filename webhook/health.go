package webhook

import (
	"context"
	"log/slog"
	"time"

	"github.com/hirewire/dispatch/id"
)

// HealthTracker maintains per-webhook rolling counters and timestamps.
// Update failures are logged, never propagated: health bookkeeping must
// not interfere with delivery processing.
type HealthTracker struct {
	store  Store
	logger *slog.Logger
}

// NewHealthTracker creates a health tracker backed by the given store.
func NewHealthTracker(store Store, logger *slog.Logger) *HealthTracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &HealthTracker{store: store, logger: logger}
}

// OnSuccess records a successful delivery attempt for the webhook.
func (t *HealthTracker) OnSuccess(ctx context.Context, whID id.ID) {
	if err := t.store.RecordSuccess(ctx, whID, time.Now().UTC()); err != nil {
		t.logger.ErrorContext(ctx, "record webhook success failed",
			"webhook_id", whID, "error", err)
	}
}

// OnFailure records a failed delivery attempt for the webhook.
func (t *HealthTracker) OnFailure(ctx context.Context, whID id.ID) {
	if err := t.store.RecordFailure(ctx, whID, time.Now().UTC()); err != nil {
		t.logger.ErrorContext(ctx, "record webhook failure failed",
			"webhook_id", whID, "error", err)
	}
}
