// Package memory provides an in-memory Store implementation for unit
// testing and single-process fallback deployments.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hirewire/dispatch/delivery"
	"github.com/hirewire/dispatch/id"
	dispatchstore "github.com/hirewire/dispatch/store"
	"github.com/hirewire/dispatch/webhook"
)

// compile-time interface check.
var _ dispatchstore.Store = (*Store)(nil)

// Store is an in-memory implementation of store.Store.
//
// Accessors return copies; counter updates mutate the stored record
// under the lock, matching the atomic-increment contract of
// webhook.Store. Operations after Close return store.ErrClosed.
type Store struct {
	mu     sync.RWMutex
	closed bool

	webhooks   map[string]*webhook.Webhook   // keyed by ID string
	deliveries map[string]*delivery.Delivery // keyed by ID string
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		webhooks:   make(map[string]*webhook.Webhook),
		deliveries: make(map[string]*delivery.Delivery),
	}
}

// Migrate is a no-op for the in-memory store.
func (s *Store) Migrate(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return dispatchstore.ErrClosed
	}
	return nil
}

// Ping reports whether the store is usable.
func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return dispatchstore.ErrClosed
	}
	return nil
}

// Close marks the store closed. Closing twice is a no-op.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// ──────────────────────────────────────────────────
// webhook.Store
// ──────────────────────────────────────────────────

// CreateWebhook persists a new webhook.
func (s *Store) CreateWebhook(_ context.Context, w *webhook.Webhook) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return dispatchstore.ErrClosed
	}

	s.webhooks[w.ID.String()] = copyWebhook(w)
	return nil
}

// GetWebhook returns a copy of the webhook by ID.
func (s *Store) GetWebhook(_ context.Context, whID id.ID) (*webhook.Webhook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, dispatchstore.ErrClosed
	}

	w, ok := s.webhooks[whID.String()]
	if !ok {
		return nil, webhook.ErrNotFound
	}
	return copyWebhook(w), nil
}

// UpdateWebhook modifies an existing webhook's registration fields.
// Health counters and timestamps are owned by RecordSuccess/RecordFailure
// and are preserved.
func (s *Store) UpdateWebhook(_ context.Context, w *webhook.Webhook) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return dispatchstore.ErrClosed
	}

	existing, ok := s.webhooks[w.ID.String()]
	if !ok {
		return webhook.ErrNotFound
	}

	updated := copyWebhook(w)
	updated.SuccessCount = existing.SuccessCount
	updated.FailureCount = existing.FailureCount
	updated.LastTriggeredAt = existing.LastTriggeredAt
	updated.LastSuccessAt = existing.LastSuccessAt
	updated.LastFailureAt = existing.LastFailureAt
	updated.UpdatedAt = time.Now().UTC()
	s.webhooks[w.ID.String()] = updated
	return nil
}

// DeleteWebhook removes a webhook. Delivery history is retained.
func (s *Store) DeleteWebhook(_ context.Context, whID id.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return dispatchstore.ErrClosed
	}

	if _, ok := s.webhooks[whID.String()]; !ok {
		return webhook.ErrNotFound
	}
	delete(s.webhooks, whID.String())
	return nil
}

// ListWebhooks returns webhooks, optionally filtered.
func (s *Store) ListWebhooks(_ context.Context, opts webhook.ListOpts) ([]*webhook.Webhook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, dispatchstore.ErrClosed
	}

	result := make([]*webhook.Webhook, 0, len(s.webhooks))
	for _, w := range s.webhooks {
		if opts.Active != nil && w.Active != *opts.Active {
			continue
		}
		result = append(result, copyWebhook(w))
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})

	return applyPagination(result, opts.Offset, opts.Limit), nil
}

// FindActiveByEvent returns all active webhooks subscribed to the event.
func (s *Store) FindActiveByEvent(_ context.Context, event string) ([]*webhook.Webhook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, dispatchstore.ErrClosed
	}

	var result []*webhook.Webhook
	for _, w := range s.webhooks {
		if !w.Active || !w.Subscribed(event) {
			continue
		}
		result = append(result, copyWebhook(w))
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// Deactivate flips a webhook to inactive.
func (s *Store) Deactivate(_ context.Context, whID id.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return dispatchstore.ErrClosed
	}

	w, ok := s.webhooks[whID.String()]
	if !ok {
		return webhook.ErrNotFound
	}
	w.Active = false
	w.UpdatedAt = time.Now().UTC()
	return nil
}

// RecordSuccess atomically increments the success counter.
func (s *Store) RecordSuccess(_ context.Context, whID id.ID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return dispatchstore.ErrClosed
	}

	w, ok := s.webhooks[whID.String()]
	if !ok {
		return webhook.ErrNotFound
	}
	w.SuccessCount++
	t := at
	w.LastTriggeredAt = &t
	w.LastSuccessAt = &t
	w.UpdatedAt = at
	return nil
}

// RecordFailure atomically increments the failure counter.
func (s *Store) RecordFailure(_ context.Context, whID id.ID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return dispatchstore.ErrClosed
	}

	w, ok := s.webhooks[whID.String()]
	if !ok {
		return webhook.ErrNotFound
	}
	w.FailureCount++
	t := at
	w.LastTriggeredAt = &t
	w.LastFailureAt = &t
	w.UpdatedAt = at
	return nil
}

// ──────────────────────────────────────────────────
// delivery.Store
// ──────────────────────────────────────────────────

// CreateDelivery persists a new delivery.
func (s *Store) CreateDelivery(_ context.Context, d *delivery.Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return dispatchstore.ErrClosed
	}

	s.deliveries[d.ID.String()] = copyDelivery(d)
	return nil
}

// CreateBatch persists multiple deliveries atomically.
func (s *Store) CreateBatch(_ context.Context, ds []*delivery.Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return dispatchstore.ErrClosed
	}

	for _, d := range ds {
		s.deliveries[d.ID.String()] = copyDelivery(d)
	}
	return nil
}

// GetDelivery returns a copy of the delivery by ID.
func (s *Store) GetDelivery(_ context.Context, delID id.ID) (*delivery.Delivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, dispatchstore.ErrClosed
	}

	d, ok := s.deliveries[delID.String()]
	if !ok {
		return nil, delivery.ErrNotFound
	}
	return copyDelivery(d), nil
}

// UpdateDelivery modifies a delivery's attempt fields.
func (s *Store) UpdateDelivery(_ context.Context, d *delivery.Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return dispatchstore.ErrClosed
	}

	if _, ok := s.deliveries[d.ID.String()]; !ok {
		return delivery.ErrNotFound
	}
	updated := copyDelivery(d)
	updated.UpdatedAt = time.Now().UTC()
	s.deliveries[d.ID.String()] = updated
	return nil
}

// Claim atomically transitions a delivery from pending to inflight.
func (s *Store) Claim(_ context.Context, delID id.ID) (*delivery.Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, dispatchstore.ErrClosed
	}

	d, ok := s.deliveries[delID.String()]
	if !ok {
		return nil, delivery.ErrNotFound
	}
	if d.Status != delivery.StatusPending {
		return nil, delivery.ErrNotPending
	}
	d.Status = delivery.StatusInflight
	d.UpdatedAt = time.Now().UTC()
	return copyDelivery(d), nil
}

// Dequeue claims up to limit due pending deliveries, oldest due first.
func (s *Store) Dequeue(_ context.Context, limit int) ([]*delivery.Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, dispatchstore.ErrClosed
	}

	now := time.Now()
	candidates := make([]*delivery.Delivery, 0, len(s.deliveries))

	for _, d := range s.deliveries {
		if d.Status != delivery.StatusPending {
			continue
		}
		if d.NextRetryAt != nil && d.NextRetryAt.After(now) {
			continue
		}
		candidates = append(candidates, d)
	}

	sort.Slice(candidates, func(i, j int) bool {
		return dueTime(candidates[i]).Before(dueTime(candidates[j]))
	})

	if limit > 0 && limit < len(candidates) {
		candidates = candidates[:limit]
	}

	result := make([]*delivery.Delivery, 0, len(candidates))
	for _, d := range candidates {
		d.Status = delivery.StatusInflight
		result = append(result, copyDelivery(d))
	}
	return result, nil
}

// ListByWebhook returns delivery history for a webhook, newest first.
func (s *Store) ListByWebhook(_ context.Context, whID id.ID, opts delivery.ListOpts) ([]*delivery.Delivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, dispatchstore.ErrClosed
	}

	result := make([]*delivery.Delivery, 0, len(s.deliveries))
	for _, d := range s.deliveries {
		if d.WebhookID.String() != whID.String() {
			continue
		}
		if opts.Status != nil && d.Status != *opts.Status {
			continue
		}
		result = append(result, copyDelivery(d))
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	return applyPagination(result, opts.Offset, opts.Limit), nil
}

// CountPending returns the number of deliveries awaiting an attempt.
func (s *Store) CountPending(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, dispatchstore.ErrClosed
	}

	var count int64
	for _, d := range s.deliveries {
		if d.Status == delivery.StatusPending {
			count++
		}
	}
	return count, nil
}

// PurgeOlderThan deletes terminal deliveries created before the threshold.
func (s *Store) PurgeOlderThan(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, dispatchstore.ErrClosed
	}

	var count int64
	for k, d := range s.deliveries {
		if d.Status != delivery.StatusSuccess && d.Status != delivery.StatusFailed {
			continue
		}
		if d.CreatedAt.Before(before) {
			delete(s.deliveries, k)
			count++
		}
	}
	return count, nil
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

func dueTime(d *delivery.Delivery) time.Time {
	if d.NextRetryAt != nil {
		return *d.NextRetryAt
	}
	return d.CreatedAt
}

func copyWebhook(w *webhook.Webhook) *webhook.Webhook {
	cp := *w
	cp.Events = append([]string(nil), w.Events...)
	return &cp
}

func copyDelivery(d *delivery.Delivery) *delivery.Delivery {
	cp := *d
	return &cp
}

func applyPagination[T any](items []*T, offset, limit int) []*T {
	if offset >= len(items) {
		return nil
	}
	if offset > 0 {
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
