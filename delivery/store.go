package delivery

import (
	"context"
	"time"

	"github.com/hirewire/dispatch/id"
)

// Store defines the persistence contract for deliveries.
type Store interface {
	// CreateDelivery persists a new pending delivery.
	CreateDelivery(ctx context.Context, d *Delivery) error

	// CreateBatch persists multiple deliveries atomically (fan-out).
	CreateBatch(ctx context.Context, ds []*Delivery) error

	// GetDelivery returns a delivery by ID.
	GetDelivery(ctx context.Context, delID id.ID) (*Delivery, error)

	// UpdateDelivery modifies a delivery's attempt fields.
	UpdateDelivery(ctx context.Context, d *Delivery) error

	// Claim atomically transitions a delivery from pending to inflight
	// and returns it. Exactly one of N concurrent claimers wins; the
	// rest get ErrNotPending. Returns ErrNotFound for unknown IDs.
	Claim(ctx context.Context, delID id.ID) (*Delivery, error)

	// Dequeue claims up to limit due pending deliveries (next_retry_at
	// unset or in the past), oldest due first. Used by the poll engine.
	Dequeue(ctx context.Context, limit int) ([]*Delivery, error)

	// ListByWebhook returns delivery history for a webhook, newest first.
	ListByWebhook(ctx context.Context, whID id.ID, opts ListOpts) ([]*Delivery, error)

	// CountPending returns the number of deliveries awaiting an attempt.
	CountPending(ctx context.Context) (int64, error)

	// PurgeOlderThan deletes terminal deliveries created before the
	// threshold, returning how many were removed.
	PurgeOlderThan(ctx context.Context, before time.Time) (int64, error)
}
