package webhook

import (
	"context"
	"time"

	"github.com/hirewire/dispatch/id"
)

// Store defines the persistence contract for webhook registrations.
type Store interface {
	// CreateWebhook persists a new webhook.
	CreateWebhook(ctx context.Context, w *Webhook) error

	// GetWebhook returns a webhook by ID.
	GetWebhook(ctx context.Context, whID id.ID) (*Webhook, error)

	// UpdateWebhook modifies an existing webhook's registration fields.
	UpdateWebhook(ctx context.Context, w *Webhook) error

	// DeleteWebhook removes a webhook.
	DeleteWebhook(ctx context.Context, whID id.ID) error

	// ListWebhooks returns webhooks, optionally filtered.
	ListWebhooks(ctx context.Context, opts ListOpts) ([]*Webhook, error)

	// FindActiveByEvent returns all active webhooks whose event set
	// contains the given name. This is the dispatch hot path.
	FindActiveByEvent(ctx context.Context, event string) ([]*Webhook, error)

	// Deactivate flips a webhook to inactive without deleting it.
	Deactivate(ctx context.Context, whID id.ID) error

	// RecordSuccess atomically increments the success counter and sets
	// last_triggered_at = last_success_at = at. Implementations must
	// apply the increment at the storage layer (count = count + 1), not
	// read-modify-write, so concurrent attempts never lose updates.
	RecordSuccess(ctx context.Context, whID id.ID, at time.Time) error

	// RecordFailure is RecordSuccess's counterpart for failed attempts.
	RecordFailure(ctx context.Context, whID id.ID, at time.Time) error
}
