// Package queue defines the asynchronous task queue contract used to
// invoke delivery attempts at their due time.
package queue

import (
	"context"
	"time"

	"github.com/hirewire/dispatch/id"
)

// Queue schedules a delivery attempt to run at (or after) a point in time.
// The zero duration case — at <= now — means "run as soon as possible".
type Queue interface {
	ScheduleAt(ctx context.Context, at time.Time, deliveryID id.ID) error
}

// StorePoller is a no-op Queue for deployments where the delivery engine
// polls the store for due work: the due time already lives on the
// delivery record (next_retry_at), so scheduling needs no side effect.
type StorePoller struct{}

// ScheduleAt implements Queue as a no-op.
func (StorePoller) ScheduleAt(context.Context, time.Time, id.ID) error { return nil }
