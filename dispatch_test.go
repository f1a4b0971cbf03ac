package dispatch_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	dispatch "github.com/hirewire/dispatch"
	"github.com/hirewire/dispatch/catalog"
	"github.com/hirewire/dispatch/delivery"
	"github.com/hirewire/dispatch/observability"
	"github.com/hirewire/dispatch/signature"
	"github.com/hirewire/dispatch/store/memory"
	"github.com/hirewire/dispatch/webhook"
)

// recorder collects webhook requests for assertions.
type recorder struct {
	mu       sync.Mutex
	requests []recordedRequest
	status   int
}

type recordedRequest struct {
	headers http.Header
	body    []byte
}

func (r *recorder) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		body, _ := io.ReadAll(req.Body)
		r.mu.Lock()
		r.requests = append(r.requests, recordedRequest{headers: req.Header.Clone(), body: body})
		status := r.status
		r.mu.Unlock()
		if status == 0 {
			status = http.StatusOK
		}
		w.WriteHeader(status)
	}
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.requests)
}

func (r *recorder) first() recordedRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.requests[0]
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		if cond() {
			return
		}
		select {
		case <-deadline:
			t.Fatal("condition never met")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestNewRequiresStore(t *testing.T) {
	_, err := dispatch.New()
	if !errors.Is(err, dispatch.ErrNoStore) {
		t.Fatalf("expected ErrNoStore, got %v", err)
	}
}

func TestDispatchFanOut(t *testing.T) {
	rec := &recorder{}
	srv := httptest.NewServer(rec.handler())
	defer srv.Close()

	ctx := context.Background()
	st := memory.New()
	d, err := dispatch.New(dispatch.WithStore(st))
	if err != nil {
		t.Fatal(err)
	}
	defer d.Stop(ctx)

	// Two subscribers, one bystander on a different event, one inactive.
	mkHook := func(events ...string) *webhook.Webhook {
		w, err := d.Webhooks().Create(ctx, webhook.Input{URL: srv.URL, Events: events})
		if err != nil {
			t.Fatal(err)
		}
		return w
	}
	mkHook(catalog.ApplicationReceived)
	mkHook(catalog.ApplicationReceived, catalog.JobCreated)
	mkHook(catalog.JobCreated)
	off := mkHook(catalog.ApplicationReceived)
	if err := d.Webhooks().SetActive(ctx, off.ID, false); err != nil {
		t.Fatal(err)
	}

	d.Dispatch(ctx, catalog.ApplicationReceived, map[string]any{
		"application": map[string]any{"id": 42},
	})

	waitFor(t, func() bool { return rec.count() == 2 })

	// Verify the wire contract on one request.
	req := rec.first()
	if req.headers.Get("Content-Type") != "application/json" {
		t.Error("missing Content-Type")
	}
	if req.headers.Get("X-Event") != catalog.ApplicationReceived {
		t.Errorf("X-Event = %q", req.headers.Get("X-Event"))
	}

	var env struct {
		Event      string         `json:"event"`
		Timestamp  string         `json:"timestamp"`
		DeliveryID string         `json:"delivery_id"`
		Data       map[string]any `json:"data"`
	}
	if err := json.Unmarshal(req.body, &env); err != nil {
		t.Fatalf("body is not the JSON envelope: %v", err)
	}
	if env.Event != catalog.ApplicationReceived {
		t.Errorf("envelope event = %q", env.Event)
	}
	if env.DeliveryID != req.headers.Get("X-Delivery") {
		t.Errorf("envelope delivery_id %q != X-Delivery %q",
			env.DeliveryID, req.headers.Get("X-Delivery"))
	}
	if _, err := time.Parse(time.RFC3339, env.Timestamp); err != nil {
		t.Errorf("timestamp %q not RFC3339: %v", env.Timestamp, err)
	}
	if app, _ := env.Data["application"].(map[string]any); app["id"] != float64(42) {
		t.Errorf("data not carried through: %v", env.Data)
	}
}

func TestDispatchSignsPerWebhookSecret(t *testing.T) {
	rec := &recorder{}
	srv := httptest.NewServer(rec.handler())
	defer srv.Close()

	ctx := context.Background()
	st := memory.New()
	d, err := dispatch.New(dispatch.WithStore(st))
	if err != nil {
		t.Fatal(err)
	}
	defer d.Stop(ctx)

	w, err := d.Webhooks().Create(ctx, webhook.Input{
		URL:    srv.URL,
		Secret: "whsec_fanout_secret",
		Events: []string{catalog.JobPublished},
	})
	if err != nil {
		t.Fatal(err)
	}

	d.JobPublished(ctx, 7, "Backend Engineer")

	waitFor(t, func() bool { return rec.count() == 1 })

	req := rec.first()
	if !signature.Verify(req.body, w.Secret, req.headers.Get("X-Signature")) {
		t.Error("signature did not verify with the webhook's secret")
	}
}

func TestDispatchNoSubscribersIsQuiet(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	d, err := dispatch.New(dispatch.WithStore(st))
	if err != nil {
		t.Fatal(err)
	}
	defer d.Stop(ctx)

	// Never panics or errors; simply no deliveries are created.
	d.Dispatch(ctx, catalog.JobDeleted, map[string]any{"job_id": 1})
	d.Dispatch(ctx, "never.registered", nil)

	count, err := st.CountPending(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Errorf("pending deliveries = %d, want 0", count)
	}
}

func TestDispatchSchemaGate(t *testing.T) {
	rec := &recorder{}
	srv := httptest.NewServer(rec.handler())
	defer srv.Close()

	ctx := context.Background()
	st := memory.New()

	cat := catalog.Default()
	err := cat.Register(catalog.EventType{
		Name: catalog.ApplicationReceived,
		Schema: json.RawMessage(`{
			"type": "object",
			"required": ["application"]
		}`),
	})
	if err != nil {
		t.Fatal(err)
	}

	d, err := dispatch.New(dispatch.WithStore(st), dispatch.WithCatalog(cat))
	if err != nil {
		t.Fatal(err)
	}
	defer d.Stop(ctx)

	if _, err := d.Webhooks().Create(ctx, webhook.Input{
		URL:    srv.URL,
		Events: []string{catalog.ApplicationReceived},
	}); err != nil {
		t.Fatal(err)
	}

	// Payload missing the required key never reaches the webhook.
	d.Dispatch(ctx, catalog.ApplicationReceived, map[string]any{"wrong": true})

	time.Sleep(100 * time.Millisecond)
	if rec.count() != 0 {
		t.Errorf("schema-rejected event was delivered %d times", rec.count())
	}

	// Valid payload goes through.
	d.Dispatch(ctx, catalog.ApplicationReceived, map[string]any{
		"application": map[string]any{"id": 1},
	})
	waitFor(t, func() bool { return rec.count() == 1 })
}

func TestApplicationStatusChangedEmitsTerminalEvents(t *testing.T) {
	rec := &recorder{}
	srv := httptest.NewServer(rec.handler())
	defer srv.Close()

	ctx := context.Background()
	st := memory.New()
	d, err := dispatch.New(dispatch.WithStore(st))
	if err != nil {
		t.Fatal(err)
	}
	defer d.Stop(ctx)

	if _, err := d.Webhooks().Create(ctx, webhook.Input{
		URL:    srv.URL,
		Events: []string{catalog.ApplicationStatusChanged, catalog.ApplicationHired},
	}); err != nil {
		t.Fatal(err)
	}

	d.ApplicationStatusChanged(ctx, 42, "interview", "hired")

	// Both the generic status change and the dedicated hired event arrive.
	waitFor(t, func() bool { return rec.count() == 2 })

	events := map[string]bool{}
	rec.mu.Lock()
	for _, r := range rec.requests {
		events[r.headers.Get("X-Event")] = true
	}
	rec.mu.Unlock()

	if !events[catalog.ApplicationStatusChanged] || !events[catalog.ApplicationHired] {
		t.Errorf("received events = %v", events)
	}
}

func TestPendingGaugeDrainsOnDelivery(t *testing.T) {
	rec := &recorder{}
	srv := httptest.NewServer(rec.handler())
	defer srv.Close()

	ctx := context.Background()
	st := memory.New()
	m := observability.NewMetrics(prometheus.NewRegistry())
	d, err := dispatch.New(dispatch.WithStore(st), dispatch.WithMetrics(m))
	if err != nil {
		t.Fatal(err)
	}
	defer d.Stop(ctx)

	if _, err := d.Webhooks().Create(ctx, webhook.Input{
		URL:    srv.URL,
		Events: []string{catalog.ApplicationReceived},
	}); err != nil {
		t.Fatal(err)
	}

	d.Dispatch(ctx, catalog.ApplicationReceived, map[string]any{
		"application": map[string]any{"id": 1},
	})

	// Once nothing is pending in the store, the gauge must read zero
	// again; it tracks the queue, not the lifetime total.
	waitFor(t, func() bool {
		count, err := st.CountPending(ctx)
		return err == nil && count == 0 && rec.count() == 1
	})
	waitFor(t, func() bool {
		return testutil.ToFloat64(m.PendingDeliveries) == 0
	})
}

func TestDispatchAuditTrail(t *testing.T) {
	rec := &recorder{status: http.StatusInternalServerError}
	srv := httptest.NewServer(rec.handler())
	defer srv.Close()

	ctx := context.Background()
	st := memory.New()
	d, err := dispatch.New(dispatch.WithStore(st))
	if err != nil {
		t.Fatal(err)
	}
	defer d.Stop(ctx)

	w, err := d.Webhooks().Create(ctx, webhook.Input{
		URL:    srv.URL,
		Events: []string{catalog.JobArchived},
	})
	if err != nil {
		t.Fatal(err)
	}

	d.JobArchived(ctx, 3, "Old Role")

	waitFor(t, func() bool {
		ds, err := st.ListByWebhook(ctx, w.ID, delivery.ListOpts{})
		if err != nil || len(ds) != 1 {
			return false
		}
		// Failed attempt recorded with retry scheduled.
		return ds[0].ResponseCode == http.StatusInternalServerError && ds[0].RetryCount == 1
	})

	ds, _ := st.ListByWebhook(ctx, w.ID, delivery.ListOpts{})
	got := ds[0]
	if got.Status != delivery.StatusPending {
		t.Errorf("status = %q, want pending retry", got.Status)
	}
	if got.ErrorMessage != "HTTP 500" {
		t.Errorf("error message = %q", got.ErrorMessage)
	}
	if got.NextRetryAt == nil {
		t.Error("retry not scheduled")
	}
}
