package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/hirewire/dispatch/delivery"
	"github.com/hirewire/dispatch/id"
	"github.com/hirewire/dispatch/internal/entity"
)

// deliveryModel is the JSON representation stored in Redis.
type deliveryModel struct {
	ID              string            `json:"id"`
	WebhookID       string            `json:"webhook_id"`
	Event           string            `json:"event"`
	RequestURL      string            `json:"request_url"`
	RequestHeaders  map[string]string `json:"request_headers,omitempty"`
	RequestBody     json.RawMessage   `json:"request_body"`
	ResponseCode    int               `json:"response_code"`
	ResponseHeaders map[string]string `json:"response_headers,omitempty"`
	ResponseBody    string            `json:"response_body"`
	ResponseTimeMs  int               `json:"response_time_ms"`
	Status          string            `json:"status"`
	RetryCount      int               `json:"retry_count"`
	NextRetryAt     *time.Time        `json:"next_retry_at,omitempty"`
	ErrorMessage    string            `json:"error_message"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

func toDeliveryModel(d *delivery.Delivery) *deliveryModel {
	return &deliveryModel{
		ID:              d.ID.String(),
		WebhookID:       d.WebhookID.String(),
		Event:           d.Event,
		RequestURL:      d.RequestURL,
		RequestHeaders:  d.RequestHeaders,
		RequestBody:     d.RequestBody,
		ResponseCode:    d.ResponseCode,
		ResponseHeaders: d.ResponseHeaders,
		ResponseBody:    d.ResponseBody,
		ResponseTimeMs:  d.ResponseTimeMs,
		Status:          string(d.Status),
		RetryCount:      d.RetryCount,
		NextRetryAt:     d.NextRetryAt,
		ErrorMessage:    d.ErrorMessage,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}
}

func fromDeliveryModel(m *deliveryModel) (*delivery.Delivery, error) {
	delID, err := id.ParseDeliveryID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse delivery ID %q: %w", m.ID, err)
	}
	whID, err := id.ParseWebhookID(m.WebhookID)
	if err != nil {
		return nil, fmt.Errorf("parse webhook ID %q: %w", m.WebhookID, err)
	}
	return &delivery.Delivery{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:              delID,
		WebhookID:       whID,
		Event:           m.Event,
		RequestURL:      m.RequestURL,
		RequestHeaders:  m.RequestHeaders,
		RequestBody:     m.RequestBody,
		ResponseCode:    m.ResponseCode,
		ResponseHeaders: m.ResponseHeaders,
		ResponseBody:    m.ResponseBody,
		ResponseTimeMs:  m.ResponseTimeMs,
		Status:          delivery.Status(m.Status),
		RetryCount:      m.RetryCount,
		NextRetryAt:     m.NextRetryAt,
		ErrorMessage:    m.ErrorMessage,
	}, nil
}

// dueScore is the sorted-set score a delivery becomes due at.
func dueScore(m *deliveryModel) float64 {
	if m.NextRetryAt != nil {
		return scoreFromTime(*m.NextRetryAt)
	}
	return scoreFromTime(m.CreatedAt)
}

// dequeueScript atomically claims due pending delivery IDs.
// KEYS[1] = hooks:z:whd:pending
// ARGV[1] = current unix timestamp (score threshold)
// ARGV[2] = limit
var dequeueScript = goredis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
if #ids == 0 then return {} end
for i, id in ipairs(ids) do
    redis.call('ZREM', KEYS[1], id)
end
return ids
`)

func (s *Store) CreateDelivery(ctx context.Context, d *delivery.Delivery) error {
	m := toDeliveryModel(d)

	if err := s.setEntity(ctx, entityKey(prefixDelivery, m.ID), m); err != nil {
		return fmt.Errorf("dispatch/redis: create delivery: %w", err)
	}

	pipe := s.rdb.Pipeline()
	// Only pending deliveries enter the queue index; inflight ones
	// (synchronous pings) must stay invisible to the poll engine.
	if d.Status == delivery.StatusPending {
		pipe.ZAdd(ctx, zDeliveryPend, goredis.Z{Score: dueScore(m), Member: m.ID})
	}
	pipe.ZAdd(ctx, zDeliveryHook+m.WebhookID, goredis.Z{Score: scoreFromTime(m.CreatedAt), Member: m.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("dispatch/redis: create delivery indexes: %w", err)
	}
	return nil
}

func (s *Store) CreateBatch(ctx context.Context, ds []*delivery.Delivery) error {
	if len(ds) == 0 {
		return nil
	}

	pipe := s.rdb.Pipeline()
	for _, d := range ds {
		m := toDeliveryModel(d)
		raw, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("dispatch/redis: create batch marshal: %w", err)
		}
		pipe.Set(ctx, entityKey(prefixDelivery, m.ID), raw, 0)
		if d.Status == delivery.StatusPending {
			pipe.ZAdd(ctx, zDeliveryPend, goredis.Z{Score: dueScore(m), Member: m.ID})
		}
		pipe.ZAdd(ctx, zDeliveryHook+m.WebhookID, goredis.Z{Score: scoreFromTime(m.CreatedAt), Member: m.ID})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("dispatch/redis: create batch: %w", err)
	}
	return nil
}

func (s *Store) GetDelivery(ctx context.Context, delID id.ID) (*delivery.Delivery, error) {
	var m deliveryModel
	if err := s.getEntity(ctx, entityKey(prefixDelivery, delID.String()), &m); err != nil {
		if isRedisNil(err) {
			return nil, delivery.ErrNotFound
		}
		return nil, fmt.Errorf("dispatch/redis: get delivery: %w", err)
	}
	return fromDeliveryModel(&m)
}

func (s *Store) UpdateDelivery(ctx context.Context, d *delivery.Delivery) error {
	m := toDeliveryModel(d)
	m.UpdatedAt = now()

	if err := s.setEntity(ctx, entityKey(prefixDelivery, m.ID), m); err != nil {
		return fmt.Errorf("dispatch/redis: update delivery: %w", err)
	}

	switch d.Status {
	case delivery.StatusPending:
		// Back in the queue: scheduled retry or released claim.
		err := s.rdb.ZAdd(ctx, zDeliveryPend, goredis.Z{Score: dueScore(m), Member: m.ID}).Err()
		if err != nil {
			return fmt.Errorf("dispatch/redis: requeue delivery: %w", err)
		}
	case delivery.StatusSuccess, delivery.StatusFailed:
		pipe := s.rdb.Pipeline()
		pipe.ZRem(ctx, zDeliveryPend, m.ID)
		pipe.ZAdd(ctx, zDeliveryDone, goredis.Z{Score: scoreFromTime(m.CreatedAt), Member: m.ID})
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("dispatch/redis: finalize delivery indexes: %w", err)
		}
	}
	return nil
}

// Claim removes the delivery from the pending sorted set; ZREM returns
// the removal count, so exactly one concurrent claimer wins.
func (s *Store) Claim(ctx context.Context, delID id.ID) (*delivery.Delivery, error) {
	removed, err := s.rdb.ZRem(ctx, zDeliveryPend, delID.String()).Result()
	if err != nil {
		return nil, fmt.Errorf("dispatch/redis: claim delivery: %w", err)
	}

	key := entityKey(prefixDelivery, delID.String())
	var m deliveryModel
	if err := s.getEntity(ctx, key, &m); err != nil {
		if isRedisNil(err) {
			return nil, delivery.ErrNotFound
		}
		return nil, fmt.Errorf("dispatch/redis: claim delivery: %w", err)
	}
	if removed == 0 {
		return nil, delivery.ErrNotPending
	}
	// The entity is authoritative; a stale queue entry for a delivery
	// that already left pending must not be re-attempted.
	if m.Status != string(delivery.StatusPending) {
		return nil, delivery.ErrNotPending
	}

	m.Status = string(delivery.StatusInflight)
	m.UpdatedAt = now()
	if err := s.setEntity(ctx, key, &m); err != nil {
		return nil, fmt.Errorf("dispatch/redis: claim update: %w", err)
	}
	return fromDeliveryModel(&m)
}

func (s *Store) Dequeue(ctx context.Context, limit int) ([]*delivery.Delivery, error) {
	nowScore := fmt.Sprintf("%f", scoreFromTime(now()))
	ids, err := dequeueScript.Run(ctx, s.rdb, []string{zDeliveryPend}, nowScore, limit).StringSlice()
	if err != nil {
		if isRedisNil(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("dispatch/redis: dequeue script: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	deliveries := make([]*delivery.Delivery, 0, len(ids))
	for _, entryID := range ids {
		key := entityKey(prefixDelivery, entryID)
		var m deliveryModel
		if err := s.getEntity(ctx, key, &m); err != nil {
			if isRedisNil(err) {
				continue
			}
			return nil, fmt.Errorf("dispatch/redis: dequeue get: %w", err)
		}
		// Stale queue entry: the script already removed it from the
		// index, so a non-pending delivery simply drops out here.
		if m.Status != string(delivery.StatusPending) {
			continue
		}

		m.Status = string(delivery.StatusInflight)
		m.UpdatedAt = now()
		if err := s.setEntity(ctx, key, &m); err != nil {
			return nil, fmt.Errorf("dispatch/redis: dequeue update: %w", err)
		}

		d, err := fromDeliveryModel(&m)
		if err != nil {
			return nil, err
		}
		deliveries = append(deliveries, d)
	}
	return deliveries, nil
}

func (s *Store) ListByWebhook(ctx context.Context, whID id.ID, opts delivery.ListOpts) ([]*delivery.Delivery, error) {
	ids, err := s.rdb.ZRange(ctx, zDeliveryHook+whID.String(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("dispatch/redis: list by webhook: %w", err)
	}

	result := make([]*delivery.Delivery, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- { // reverse for newest first
		var m deliveryModel
		if err := s.getEntity(ctx, entityKey(prefixDelivery, ids[i]), &m); err != nil {
			if isRedisNil(err) {
				continue
			}
			return nil, fmt.Errorf("dispatch/redis: list by webhook: %w", err)
		}
		if opts.Status != nil && delivery.Status(m.Status) != *opts.Status {
			continue
		}
		d, err := fromDeliveryModel(&m)
		if err != nil {
			return nil, err
		}
		result = append(result, d)
	}

	return applyPagination(result, opts.Offset, opts.Limit), nil
}

func (s *Store) CountPending(ctx context.Context) (int64, error) {
	count, err := s.rdb.ZCard(ctx, zDeliveryPend).Result()
	if err != nil {
		return 0, fmt.Errorf("dispatch/redis: count pending: %w", err)
	}
	return count, nil
}

func (s *Store) PurgeOlderThan(ctx context.Context, before time.Time) (int64, error) {
	maxScore := fmt.Sprintf("%f", scoreFromTime(before))
	ids, err := s.rdb.ZRangeByScore(ctx, zDeliveryDone, &goredis.ZRangeBy{
		Min: "-inf",
		Max: "(" + maxScore,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("dispatch/redis: purge scan: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	var purged int64
	pipe := s.rdb.Pipeline()
	for _, entryID := range ids {
		var m deliveryModel
		if err := s.getEntity(ctx, entityKey(prefixDelivery, entryID), &m); err != nil {
			if isRedisNil(err) {
				pipe.ZRem(ctx, zDeliveryDone, entryID)
				continue
			}
			return 0, fmt.Errorf("dispatch/redis: purge get: %w", err)
		}
		pipe.Del(ctx, entityKey(prefixDelivery, entryID))
		pipe.ZRem(ctx, zDeliveryDone, entryID)
		pipe.ZRem(ctx, zDeliveryHook+m.WebhookID, entryID)
		purged++
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("dispatch/redis: purge: %w", err)
	}
	return purged, nil
}
