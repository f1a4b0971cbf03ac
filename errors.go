package dispatch

import (
	"errors"

	"github.com/hirewire/dispatch/catalog"
	"github.com/hirewire/dispatch/delivery"
	"github.com/hirewire/dispatch/store"
	"github.com/hirewire/dispatch/webhook"
)

// Sentinel errors. The not-found and unknown-event sentinels are owned
// by their subsystem packages and aliased here for callers of the facade.
var (
	// ErrNoStore is returned when a Dispatcher is created without a store.
	ErrNoStore = errors.New("dispatch: store is required")

	// ErrWebhookNotFound is returned when a webhook cannot be found.
	ErrWebhookNotFound = webhook.ErrNotFound

	// ErrDeliveryNotFound is returned when a delivery cannot be found.
	ErrDeliveryNotFound = delivery.ErrNotFound

	// ErrDeliveryNotPending is returned when claiming a delivery that is
	// not awaiting an attempt.
	ErrDeliveryNotPending = delivery.ErrNotPending

	// ErrUnknownEvent is returned when a subscription names an event
	// type the catalog does not know.
	ErrUnknownEvent = catalog.ErrUnknownEvent

	// ErrStoreClosed is returned when a store operation is attempted
	// after the store is closed.
	ErrStoreClosed = store.ErrClosed
)
