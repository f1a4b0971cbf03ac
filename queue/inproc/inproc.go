// Package inproc provides an in-process timer-based task queue.
//
// It preserves the delivery engine's scheduling semantics without a host
// queue: each scheduled task sleeps until its due time on its own
// goroutine, then runs through a bounded worker semaphore. Suitable for
// single-process deployments and tests; durable queueing requires the
// store-polling engine instead.
package inproc

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/hirewire/dispatch/id"
)

// Handler processes one scheduled delivery.
type Handler func(ctx context.Context, deliveryID id.ID) error

// Scheduler is an in-process Queue implementation.
type Scheduler struct {
	handler Handler
	sem     chan struct{}
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a scheduler running at most concurrency tasks at once.
// The handler must be bound with Bind before the first ScheduleAt call.
func New(concurrency int, logger *slog.Logger) *Scheduler {
	if concurrency <= 0 {
		concurrency = 1
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		sem:    make(chan struct{}, concurrency),
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Bind sets the handler invoked for each scheduled delivery.
func (s *Scheduler) Bind(h Handler) {
	s.handler = h
}

// ScheduleAt schedules a delivery attempt to run at the given time.
// Scheduling is asynchronous; the caller never blocks on execution.
func (s *Scheduler) ScheduleAt(_ context.Context, at time.Time, deliveryID id.ID) error {
	if s.handler == nil {
		return errors.New("inproc: no handler bound")
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		if delay := time.Until(at); delay > 0 {
			timer := time.NewTimer(delay)
			defer timer.Stop()
			select {
			case <-s.ctx.Done():
				return
			case <-timer.C:
			}
		}

		select {
		case <-s.ctx.Done():
			return
		case s.sem <- struct{}{}:
		}
		defer func() { <-s.sem }()

		if err := s.handler(s.ctx, deliveryID); err != nil {
			s.logger.Error("scheduled delivery failed",
				"delivery_id", deliveryID, "error", err)
		}
	}()

	return nil
}

// Close cancels pending timers and waits for running tasks to finish.
func (s *Scheduler) Close() {
	s.cancel()
	s.wg.Wait()
}
