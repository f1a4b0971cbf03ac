package redis_test

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/hirewire/dispatch/delivery"
	"github.com/hirewire/dispatch/id"
	"github.com/hirewire/dispatch/internal/entity"
	redisstore "github.com/hirewire/dispatch/store/redis"
)

func newTestStore(t *testing.T) *redisstore.Store {
	t.Helper()
	srv := miniredis.RunT(t)
	return redisstore.New(goredis.NewClient(&goredis.Options{Addr: srv.Addr()}))
}

func seedDelivery(t *testing.T, st *redisstore.Store, status delivery.Status) *delivery.Delivery {
	t.Helper()
	d := &delivery.Delivery{
		Entity:      entity.New(),
		ID:          id.NewDeliveryID(),
		WebhookID:   id.NewWebhookID(),
		Event:       "application.received",
		RequestURL:  "https://example.com/hooks",
		RequestBody: []byte(`{}`),
		Status:      status,
	}
	if err := st.CreateDelivery(context.Background(), d); err != nil {
		t.Fatal(err)
	}
	return d
}

func TestDequeueSkipsInflight(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	// A synchronous ping creates its delivery already inflight; the poll
	// engine must never pick it up while its HTTP call is running.
	ping := seedDelivery(t, st, delivery.StatusInflight)
	due := seedDelivery(t, st, delivery.StatusPending)

	batch, err := st.Dequeue(ctx, 10)
	if err != nil {
		t.Fatalf("Dequeue() error: %v", err)
	}
	if len(batch) != 1 {
		t.Fatalf("Dequeue returned %d deliveries, want 1", len(batch))
	}
	if batch[0].ID.String() != due.ID.String() {
		t.Errorf("dequeued %s, want %s", batch[0].ID, due.ID)
	}
	if batch[0].Status != delivery.StatusInflight {
		t.Errorf("dequeued status = %q, want inflight", batch[0].Status)
	}

	// The inflight record itself is untouched.
	got, err := st.GetDelivery(ctx, ping.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != delivery.StatusInflight {
		t.Errorf("ping delivery status = %q, want inflight", got.Status)
	}
}

func TestInflightNeverEntersPendingQueue(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	d := seedDelivery(t, st, delivery.StatusInflight)

	count, err := st.CountPending(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Errorf("pending count = %d, want 0", count)
	}

	if _, err := st.Claim(ctx, d.ID); !errors.Is(err, delivery.ErrNotPending) {
		t.Errorf("Claim on inflight delivery: got %v, want ErrNotPending", err)
	}

	// History index still records it.
	ds, err := st.ListByWebhook(ctx, d.WebhookID, delivery.ListOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(ds) != 1 {
		t.Errorf("history has %d deliveries, want 1", len(ds))
	}
}

func TestClaimTransitions(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	d := seedDelivery(t, st, delivery.StatusPending)

	claimed, err := st.Claim(ctx, d.ID)
	if err != nil {
		t.Fatalf("Claim() error: %v", err)
	}
	if claimed.Status != delivery.StatusInflight {
		t.Errorf("claimed status = %q, want inflight", claimed.Status)
	}

	if _, err := st.Claim(ctx, d.ID); !errors.Is(err, delivery.ErrNotPending) {
		t.Errorf("second Claim: got %v, want ErrNotPending", err)
	}

	if _, err := st.Claim(ctx, id.NewDeliveryID()); !errors.Is(err, delivery.ErrNotFound) {
		t.Errorf("Claim of unknown delivery: got %v, want ErrNotFound", err)
	}
}

func TestUpdateTerminalLeavesQueue(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	d := seedDelivery(t, st, delivery.StatusPending)

	d.Status = delivery.StatusSuccess
	if err := st.UpdateDelivery(ctx, d); err != nil {
		t.Fatal(err)
	}

	batch, err := st.Dequeue(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(batch) != 0 {
		t.Errorf("terminal delivery dequeued %d times", len(batch))
	}
}
