package delivery

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// EngineStore is the interface the poll engine needs.
type EngineStore interface {
	Dequeue(ctx context.Context, limit int) ([]*Delivery, error)
	PurgeOlderThan(ctx context.Context, before time.Time) (int64, error)
}

// EngineConfig holds poll engine configuration.
type EngineConfig struct {
	Concurrency  int
	PollInterval time.Duration
	BatchSize    int

	// Retention deletes terminal deliveries older than this age.
	// 0 keeps delivery history forever.
	Retention     time.Duration
	PurgeInterval time.Duration
}

// Engine is the store-polling worker loop: it periodically claims due
// pending deliveries and runs them through the Deliverer. It is the
// production scheduling path when no host task queue is available.
type Engine struct {
	store     EngineStore
	deliverer *Deliverer
	config    EngineConfig
	logger    *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewEngine creates a poll engine.
func NewEngine(store EngineStore, deliverer *Deliverer, cfg EngineConfig, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 10
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.PurgeInterval <= 0 {
		cfg.PurgeInterval = time.Hour
	}
	return &Engine{
		store:     store,
		deliverer: deliverer,
		config:    cfg,
		logger:    logger,
	}
}

// Start begins the poll loop and, when retention is configured, the
// periodic purge loop.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.pollLoop(ctx)
	}()

	if e.config.Retention > 0 {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.purgeLoop(ctx)
		}()
	}
}

// Stop cancels the loops and waits for in-flight deliveries to complete.
func (e *Engine) Stop(_ context.Context) {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
}

func (e *Engine) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(e.config.PollInterval)
	defer ticker.Stop()

	sem := make(chan struct{}, e.config.Concurrency)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			batch, err := e.store.Dequeue(ctx, e.config.BatchSize)
			if err != nil {
				e.logger.ErrorContext(ctx, "dequeue failed", "error", err)
				continue
			}

			for _, d := range batch {
				select {
				case <-ctx.Done():
					return
				case sem <- struct{}{}:
				}

				e.wg.Add(1)
				go func(del *Delivery) {
					defer e.wg.Done()
					defer func() { <-sem }()
					if err := e.deliverer.DeliverClaimed(ctx, del); err != nil {
						e.logger.ErrorContext(ctx, "delivery attempt failed",
							"delivery_id", del.ID, "error", err)
					}
				}(d)
			}
		}
	}
}

func (e *Engine) purgeLoop(ctx context.Context) {
	ticker := time.NewTicker(e.config.PurgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			before := time.Now().UTC().Add(-e.config.Retention)
			n, err := e.store.PurgeOlderThan(ctx, before)
			if err != nil {
				e.logger.ErrorContext(ctx, "purge deliveries failed", "error", err)
				continue
			}
			if n > 0 {
				e.logger.InfoContext(ctx, "purged old deliveries", "count", n)
			}
		}
	}
}
