package redis

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/hirewire/dispatch/id"
	"github.com/hirewire/dispatch/internal/entity"
	"github.com/hirewire/dispatch/webhook"
)

// webhookModel is the JSON representation stored in Redis. Health
// counters are kept out of the blob; they live in the health hash.
type webhookModel struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	URL       string    `json:"url"`
	Secret    string    `json:"secret"`
	Events    []string  `json:"events"`
	Active    bool      `json:"active"`
	RateLimit int       `json:"rate_limit"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toWebhookModel(w *webhook.Webhook) *webhookModel {
	return &webhookModel{
		ID:        w.ID.String(),
		Name:      w.Name,
		URL:       w.URL,
		Secret:    w.Secret,
		Events:    w.Events,
		Active:    w.Active,
		RateLimit: w.RateLimit,
		CreatedAt: w.CreatedAt,
		UpdatedAt: w.UpdatedAt,
	}
}

func fromWebhookModel(m *webhookModel) (*webhook.Webhook, error) {
	whID, err := id.ParseWebhookID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse webhook ID %q: %w", m.ID, err)
	}
	return &webhook.Webhook{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:        whID,
		Name:      m.Name,
		URL:       m.URL,
		Secret:    m.Secret,
		Events:    m.Events,
		Active:    m.Active,
		RateLimit: m.RateLimit,
	}, nil
}

// Health hash fields.
const (
	hSuccessCount    = "success_count"
	hFailureCount    = "failure_count"
	hLastTriggeredAt = "last_triggered_at"
	hLastSuccessAt   = "last_success_at"
	hLastFailureAt   = "last_failure_at"
)

func (s *Store) CreateWebhook(ctx context.Context, w *webhook.Webhook) error {
	m := toWebhookModel(w)
	if err := s.setEntity(ctx, entityKey(prefixWebhook, m.ID), m); err != nil {
		return fmt.Errorf("dispatch/redis: create webhook: %w", err)
	}
	err := s.rdb.ZAdd(ctx, zWebhookAll, goredis.Z{
		Score:  scoreFromTime(m.CreatedAt),
		Member: m.ID,
	}).Err()
	if err != nil {
		return fmt.Errorf("dispatch/redis: create webhook index: %w", err)
	}
	return nil
}

func (s *Store) GetWebhook(ctx context.Context, whID id.ID) (*webhook.Webhook, error) {
	var m webhookModel
	if err := s.getEntity(ctx, entityKey(prefixWebhook, whID.String()), &m); err != nil {
		if isRedisNil(err) {
			return nil, webhook.ErrNotFound
		}
		return nil, fmt.Errorf("dispatch/redis: get webhook: %w", err)
	}
	w, err := fromWebhookModel(&m)
	if err != nil {
		return nil, err
	}
	if err := s.loadHealth(ctx, w); err != nil {
		return nil, err
	}
	return w, nil
}

func (s *Store) UpdateWebhook(ctx context.Context, w *webhook.Webhook) error {
	key := entityKey(prefixWebhook, w.ID.String())

	var existing webhookModel
	if err := s.getEntity(ctx, key, &existing); err != nil {
		if isRedisNil(err) {
			return webhook.ErrNotFound
		}
		return fmt.Errorf("dispatch/redis: update webhook: %w", err)
	}

	m := toWebhookModel(w)
	m.CreatedAt = existing.CreatedAt
	m.UpdatedAt = now()
	if err := s.setEntity(ctx, key, m); err != nil {
		return fmt.Errorf("dispatch/redis: update webhook: %w", err)
	}
	return nil
}

func (s *Store) DeleteWebhook(ctx context.Context, whID id.ID) error {
	key := entityKey(prefixWebhook, whID.String())

	removed, err := s.rdb.Del(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("dispatch/redis: delete webhook: %w", err)
	}
	if removed == 0 {
		return webhook.ErrNotFound
	}

	pipe := s.rdb.Pipeline()
	pipe.ZRem(ctx, zWebhookAll, whID.String())
	pipe.Del(ctx, prefixHealth+whID.String())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("dispatch/redis: delete webhook indexes: %w", err)
	}
	return nil
}

func (s *Store) ListWebhooks(ctx context.Context, opts webhook.ListOpts) ([]*webhook.Webhook, error) {
	ids, err := s.rdb.ZRange(ctx, zWebhookAll, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("dispatch/redis: list webhooks: %w", err)
	}

	result := make([]*webhook.Webhook, 0, len(ids))
	for _, entryID := range ids {
		var m webhookModel
		if err := s.getEntity(ctx, entityKey(prefixWebhook, entryID), &m); err != nil {
			if isRedisNil(err) {
				continue
			}
			return nil, fmt.Errorf("dispatch/redis: list webhooks: %w", err)
		}
		if opts.Active != nil && m.Active != *opts.Active {
			continue
		}
		w, err := fromWebhookModel(&m)
		if err != nil {
			return nil, err
		}
		if err := s.loadHealth(ctx, w); err != nil {
			return nil, err
		}
		result = append(result, w)
	}

	return applyPagination(result, opts.Offset, opts.Limit), nil
}

func (s *Store) FindActiveByEvent(ctx context.Context, event string) ([]*webhook.Webhook, error) {
	ids, err := s.rdb.ZRange(ctx, zWebhookAll, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("dispatch/redis: find webhooks by event: %w", err)
	}

	var result []*webhook.Webhook
	for _, entryID := range ids {
		var m webhookModel
		if err := s.getEntity(ctx, entityKey(prefixWebhook, entryID), &m); err != nil {
			if isRedisNil(err) {
				continue
			}
			return nil, fmt.Errorf("dispatch/redis: find webhooks by event: %w", err)
		}
		if !m.Active {
			continue
		}
		w, err := fromWebhookModel(&m)
		if err != nil {
			return nil, err
		}
		if !w.Subscribed(event) {
			continue
		}
		result = append(result, w)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (s *Store) Deactivate(ctx context.Context, whID id.ID) error {
	key := entityKey(prefixWebhook, whID.String())

	var m webhookModel
	if err := s.getEntity(ctx, key, &m); err != nil {
		if isRedisNil(err) {
			return webhook.ErrNotFound
		}
		return fmt.Errorf("dispatch/redis: deactivate webhook: %w", err)
	}

	m.Active = false
	m.UpdatedAt = now()
	if err := s.setEntity(ctx, key, &m); err != nil {
		return fmt.Errorf("dispatch/redis: deactivate webhook: %w", err)
	}
	return nil
}

func (s *Store) RecordSuccess(ctx context.Context, whID id.ID, at time.Time) error {
	return s.recordOutcome(ctx, whID, at, hSuccessCount, hLastSuccessAt)
}

func (s *Store) RecordFailure(ctx context.Context, whID id.ID, at time.Time) error {
	return s.recordOutcome(ctx, whID, at, hFailureCount, hLastFailureAt)
}

func (s *Store) recordOutcome(ctx context.Context, whID id.ID, at time.Time, counterField, atField string) error {
	key := prefixHealth + whID.String()
	stamp := at.UTC().Format(time.RFC3339Nano)

	pipe := s.rdb.Pipeline()
	pipe.HIncrBy(ctx, key, counterField, 1)
	pipe.HSet(ctx, key, hLastTriggeredAt, stamp, atField, stamp)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("dispatch/redis: record outcome: %w", err)
	}
	return nil
}

// loadHealth merges the health hash into the webhook.
func (s *Store) loadHealth(ctx context.Context, w *webhook.Webhook) error {
	fields, err := s.rdb.HGetAll(ctx, prefixHealth+w.ID.String()).Result()
	if err != nil {
		return fmt.Errorf("dispatch/redis: load health: %w", err)
	}
	if len(fields) == 0 {
		return nil
	}

	if v, ok := fields[hSuccessCount]; ok {
		w.SuccessCount, _ = strconv.ParseInt(v, 10, 64)
	}
	if v, ok := fields[hFailureCount]; ok {
		w.FailureCount, _ = strconv.ParseInt(v, 10, 64)
	}
	w.LastTriggeredAt = parseStamp(fields[hLastTriggeredAt])
	w.LastSuccessAt = parseStamp(fields[hLastSuccessAt])
	w.LastFailureAt = parseStamp(fields[hLastFailureAt])
	return nil
}

func parseStamp(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil
	}
	return &t
}
