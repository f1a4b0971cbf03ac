// Package postgres provides a PostgreSQL Store implementation backed by
// a pgx connection pool.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hirewire/dispatch/delivery"
	"github.com/hirewire/dispatch/id"
	dispatchstore "github.com/hirewire/dispatch/store"
	"github.com/hirewire/dispatch/webhook"
)

// compile-time interface check.
var _ dispatchstore.Store = (*Store)(nil)

// Store is a PostgreSQL implementation of store.Store.
type Store struct {
	pool   *pgxpool.Pool
	closed atomic.Bool
}

// New creates a Store from an existing connection pool. The caller owns
// pool configuration; Close closes the pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Open connects to PostgreSQL using the given DSN and verifies the
// connection with a ping.
func Open(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Migrate creates the schema if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	queries := []string{
		`
		CREATE TABLE IF NOT EXISTS webhooks (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			url TEXT NOT NULL,
			secret TEXT NOT NULL,
			events TEXT[] NOT NULL DEFAULT '{}',
			active BOOLEAN NOT NULL DEFAULT TRUE,
			rate_limit INT NOT NULL DEFAULT 0,
			success_count BIGINT NOT NULL DEFAULT 0,
			failure_count BIGINT NOT NULL DEFAULT 0,
			last_triggered_at TIMESTAMPTZ,
			last_success_at TIMESTAMPTZ,
			last_failure_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
		`,
		`
		CREATE TABLE IF NOT EXISTS webhook_deliveries (
			id TEXT PRIMARY KEY,
			webhook_id TEXT NOT NULL,
			event TEXT NOT NULL,
			request_url TEXT NOT NULL,
			request_headers JSONB NOT NULL DEFAULT '{}',
			request_body JSONB NOT NULL DEFAULT '{}',
			response_code INT NOT NULL DEFAULT 0,
			response_headers JSONB NOT NULL DEFAULT '{}',
			response_body TEXT NOT NULL DEFAULT '',
			response_time_ms INT NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'pending',
			retry_count INT NOT NULL DEFAULT 0,
			next_retry_at TIMESTAMPTZ,
			error_message TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
		`,
		`CREATE INDEX IF NOT EXISTS webhooks_active_idx ON webhooks(active)`,
		`CREATE INDEX IF NOT EXISTS webhooks_events_idx ON webhooks USING GIN(events)`,
		`CREATE INDEX IF NOT EXISTS deliveries_webhook_idx ON webhook_deliveries(webhook_id, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS deliveries_due_idx ON webhook_deliveries(next_retry_at) WHERE status = 'pending'`,
	}

	for _, q := range queries {
		if _, err := s.pool.Exec(ctx, q); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// Ping verifies the database connection.
func (s *Store) Ping(ctx context.Context) error {
	if s.closed.Load() {
		return dispatchstore.ErrClosed
	}
	return s.pool.Ping(ctx)
}

// Close closes the connection pool.
func (s *Store) Close() error {
	s.closed.Store(true)
	s.pool.Close()
	return nil
}

// ──────────────────────────────────────────────────
// webhook.Store
// ──────────────────────────────────────────────────

const webhookColumns = `id, name, url, secret, events, active, rate_limit,
	success_count, failure_count, last_triggered_at, last_success_at,
	last_failure_at, created_at, updated_at`

func (s *Store) CreateWebhook(ctx context.Context, w *webhook.Webhook) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO webhooks (id, name, url, secret, events, active, rate_limit, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		w.ID, w.Name, w.URL, w.Secret, w.Events, w.Active, w.RateLimit,
		w.CreatedAt, w.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create webhook: %w", err)
	}
	return nil
}

func (s *Store) GetWebhook(ctx context.Context, whID id.ID) (*webhook.Webhook, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+webhookColumns+` FROM webhooks WHERE id = $1`, whID)
	return scanWebhook(row)
}

func (s *Store) UpdateWebhook(ctx context.Context, w *webhook.Webhook) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE webhooks
		SET name = $2, url = $3, secret = $4, events = $5, active = $6,
			rate_limit = $7, updated_at = NOW()
		WHERE id = $1`,
		w.ID, w.Name, w.URL, w.Secret, w.Events, w.Active, w.RateLimit,
	)
	if err != nil {
		return fmt.Errorf("update webhook: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return webhook.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteWebhook(ctx context.Context, whID id.ID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM webhooks WHERE id = $1`, whID)
	if err != nil {
		return fmt.Errorf("delete webhook: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return webhook.ErrNotFound
	}
	return nil
}

func (s *Store) ListWebhooks(ctx context.Context, opts webhook.ListOpts) ([]*webhook.Webhook, error) {
	query := `SELECT ` + webhookColumns + ` FROM webhooks`
	args := []any{}
	if opts.Active != nil {
		query += ` WHERE active = $1`
		args = append(args, *opts.Active)
	}
	query += ` ORDER BY created_at`
	if opts.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, opts.Limit)
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(` OFFSET %d`, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list webhooks: %w", err)
	}
	defer rows.Close()
	return scanWebhooks(rows)
}

func (s *Store) FindActiveByEvent(ctx context.Context, event string) ([]*webhook.Webhook, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+webhookColumns+`
		FROM webhooks
		WHERE active AND $1 = ANY(events)
		ORDER BY created_at`, event)
	if err != nil {
		return nil, fmt.Errorf("find webhooks by event: %w", err)
	}
	defer rows.Close()
	return scanWebhooks(rows)
}

func (s *Store) Deactivate(ctx context.Context, whID id.ID) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE webhooks SET active = FALSE, updated_at = NOW() WHERE id = $1`, whID)
	if err != nil {
		return fmt.Errorf("deactivate webhook: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return webhook.ErrNotFound
	}
	return nil
}

func (s *Store) RecordSuccess(ctx context.Context, whID id.ID, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE webhooks
		SET success_count = success_count + 1,
			last_triggered_at = $2, last_success_at = $2, updated_at = $2
		WHERE id = $1`, whID, at)
	if err != nil {
		return fmt.Errorf("record success: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return webhook.ErrNotFound
	}
	return nil
}

func (s *Store) RecordFailure(ctx context.Context, whID id.ID, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE webhooks
		SET failure_count = failure_count + 1,
			last_triggered_at = $2, last_failure_at = $2, updated_at = $2
		WHERE id = $1`, whID, at)
	if err != nil {
		return fmt.Errorf("record failure: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return webhook.ErrNotFound
	}
	return nil
}

// ──────────────────────────────────────────────────
// delivery.Store
// ──────────────────────────────────────────────────

const deliveryColumns = `id, webhook_id, event, request_url, request_headers,
	request_body, response_code, response_headers, response_body,
	response_time_ms, status, retry_count, next_retry_at, error_message,
	created_at, updated_at`

func (s *Store) CreateDelivery(ctx context.Context, d *delivery.Delivery) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO webhook_deliveries
			(id, webhook_id, event, request_url, request_body, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		d.ID, d.WebhookID, d.Event, d.RequestURL, []byte(d.RequestBody),
		d.Status, d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create delivery: %w", err)
	}
	return nil
}

func (s *Store) CreateBatch(ctx context.Context, ds []*delivery.Delivery) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin batch: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, d := range ds {
		if _, err := tx.Exec(ctx, `
			INSERT INTO webhook_deliveries
				(id, webhook_id, event, request_url, request_body, status, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			d.ID, d.WebhookID, d.Event, d.RequestURL, []byte(d.RequestBody),
			d.Status, d.CreatedAt, d.UpdatedAt,
		); err != nil {
			return fmt.Errorf("create delivery batch: %w", err)
		}
	}
	return tx.Commit(ctx)
}

func (s *Store) GetDelivery(ctx context.Context, delID id.ID) (*delivery.Delivery, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+deliveryColumns+` FROM webhook_deliveries WHERE id = $1`, delID)
	return scanDelivery(row)
}

func (s *Store) UpdateDelivery(ctx context.Context, d *delivery.Delivery) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE webhook_deliveries
		SET request_headers = $2, response_code = $3, response_headers = $4,
			response_body = $5, response_time_ms = $6, status = $7,
			retry_count = $8, next_retry_at = $9, error_message = $10,
			updated_at = NOW()
		WHERE id = $1`,
		d.ID, orEmpty(d.RequestHeaders), d.ResponseCode, orEmpty(d.ResponseHeaders),
		d.ResponseBody, d.ResponseTimeMs, d.Status, d.RetryCount,
		d.NextRetryAt, d.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("update delivery: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return delivery.ErrNotFound
	}
	return nil
}

// Claim transitions a delivery from pending to inflight with a
// compare-and-set UPDATE so concurrent workers cannot double-attempt.
func (s *Store) Claim(ctx context.Context, delID id.ID) (*delivery.Delivery, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE webhook_deliveries
		SET status = 'inflight', updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
		RETURNING `+deliveryColumns, delID)

	d, err := scanDelivery(row)
	if errors.Is(err, delivery.ErrNotFound) {
		// Distinguish a missing row from a lost claim race.
		var status delivery.Status
		lookupErr := s.pool.QueryRow(ctx,
			`SELECT status FROM webhook_deliveries WHERE id = $1`, delID).Scan(&status)
		if errors.Is(lookupErr, pgx.ErrNoRows) {
			return nil, delivery.ErrNotFound
		}
		if lookupErr != nil {
			return nil, fmt.Errorf("claim delivery: %w", lookupErr)
		}
		return nil, delivery.ErrNotPending
	}
	return d, err
}

// Dequeue claims up to limit due pending deliveries. FOR UPDATE SKIP
// LOCKED keeps concurrent poll engines from claiming the same rows.
func (s *Store) Dequeue(ctx context.Context, limit int) ([]*delivery.Delivery, error) {
	rows, err := s.pool.Query(ctx, `
		UPDATE webhook_deliveries
		SET status = 'inflight', updated_at = NOW()
		WHERE id IN (
			SELECT id FROM webhook_deliveries
			WHERE status = 'pending'
				AND (next_retry_at IS NULL OR next_retry_at <= NOW())
			ORDER BY COALESCE(next_retry_at, created_at)
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+deliveryColumns, limit)
	if err != nil {
		return nil, fmt.Errorf("dequeue deliveries: %w", err)
	}
	defer rows.Close()

	var result []*delivery.Delivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, d)
	}
	return result, rows.Err()
}

func (s *Store) ListByWebhook(ctx context.Context, whID id.ID, opts delivery.ListOpts) ([]*delivery.Delivery, error) {
	query := `SELECT ` + deliveryColumns + ` FROM webhook_deliveries WHERE webhook_id = $1`
	args := []any{whID}
	if opts.Status != nil {
		query += ` AND status = $2`
		args = append(args, *opts.Status)
	}
	query += ` ORDER BY created_at DESC`
	if opts.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, opts.Limit)
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(` OFFSET %d`, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list deliveries: %w", err)
	}
	defer rows.Close()

	var result []*delivery.Delivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, d)
	}
	return result, rows.Err()
}

func (s *Store) CountPending(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM webhook_deliveries WHERE status = 'pending'`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count pending: %w", err)
	}
	return count, nil
}

func (s *Store) PurgeOlderThan(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM webhook_deliveries
		WHERE status IN ('success', 'failed') AND created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("purge deliveries: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ──────────────────────────────────────────────────
// Scanning
// ──────────────────────────────────────────────────

func scanWebhook(row pgx.Row) (*webhook.Webhook, error) {
	var w webhook.Webhook
	err := row.Scan(
		&w.ID, &w.Name, &w.URL, &w.Secret, &w.Events, &w.Active, &w.RateLimit,
		&w.SuccessCount, &w.FailureCount, &w.LastTriggeredAt, &w.LastSuccessAt,
		&w.LastFailureAt, &w.CreatedAt, &w.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, webhook.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan webhook: %w", err)
	}
	return &w, nil
}

func scanWebhooks(rows pgx.Rows) ([]*webhook.Webhook, error) {
	var result []*webhook.Webhook
	for rows.Next() {
		w, err := scanWebhook(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, w)
	}
	return result, rows.Err()
}

func scanDelivery(row pgx.Row) (*delivery.Delivery, error) {
	var (
		d    delivery.Delivery
		body []byte
	)
	err := row.Scan(
		&d.ID, &d.WebhookID, &d.Event, &d.RequestURL, &d.RequestHeaders,
		&body, &d.ResponseCode, &d.ResponseHeaders, &d.ResponseBody,
		&d.ResponseTimeMs, &d.Status, &d.RetryCount, &d.NextRetryAt,
		&d.ErrorMessage, &d.CreatedAt, &d.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, delivery.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan delivery: %w", err)
	}
	d.RequestBody = body
	return &d, nil
}

// orEmpty keeps NOT NULL jsonb columns happy when the header maps are unset.
func orEmpty(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
