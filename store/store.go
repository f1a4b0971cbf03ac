// Package store defines the composite Store interface for dispatch
// persistence. Each subsystem declares its own store contract; the
// aggregate composes them.
package store

import (
	"context"
	"errors"

	"github.com/hirewire/dispatch/delivery"
	"github.com/hirewire/dispatch/webhook"
)

// ErrClosed is returned for operations attempted after Close.
var ErrClosed = errors.New("dispatch: store is closed")

// Store is the aggregate persistence interface.
type Store interface {
	webhook.Store
	delivery.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
