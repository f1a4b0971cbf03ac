// Package webhook defines webhook registrations and their health bookkeeping.
package webhook

import (
	"errors"
	"time"

	"github.com/hirewire/dispatch/id"
	"github.com/hirewire/dispatch/internal/entity"
)

// ErrNotFound is returned when a webhook cannot be found.
var ErrNotFound = errors.New("webhook: not found")

// Webhook represents a registered external HTTP endpoint plus its
// subscribed event names, signing secret, and health state.
type Webhook struct {
	entity.Entity

	// ID is the unique TypeID for this webhook.
	ID id.ID `json:"id"`

	// Name is a human-readable label for the registration.
	Name string `json:"name"`

	// URL is the endpoint deliveries are POSTed to.
	URL string `json:"url"`

	// Secret is the HMAC signing secret. Never serialized.
	Secret string `json:"-"`

	// Events is the set of subscribed event names.
	Events []string `json:"events"`

	// Active indicates whether the webhook receives new deliveries.
	// Flipped to false permanently when the retry budget is exhausted.
	Active bool `json:"is_active"`

	// RateLimit is the maximum deliveries per second. 0 means unlimited.
	RateLimit int `json:"rate_limit,omitempty"`

	// SuccessCount and FailureCount are monotonically increasing attempt counters.
	SuccessCount int64 `json:"success_count"`
	FailureCount int64 `json:"failure_count"`

	// LastTriggeredAt is when the most recent attempt (either outcome) finished.
	LastTriggeredAt *time.Time `json:"last_triggered_at,omitempty"`

	// LastSuccessAt is when the most recent successful attempt finished.
	LastSuccessAt *time.Time `json:"last_success_at,omitempty"`

	// LastFailureAt is when the most recent failed attempt finished.
	LastFailureAt *time.Time `json:"last_failure_at,omitempty"`
}

// Subscribed reports whether the webhook's event set contains the given name.
func (w *Webhook) Subscribed(event string) bool {
	for _, e := range w.Events {
		if e == event {
			return true
		}
	}
	return false
}

// ListOpts configures filtering and pagination for webhook listing.
type ListOpts struct {
	Offset int
	Limit  int
	Active *bool
}
