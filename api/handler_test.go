package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	dispatch "github.com/hirewire/dispatch"
	"github.com/hirewire/dispatch/api"
	"github.com/hirewire/dispatch/catalog"
	"github.com/hirewire/dispatch/store/memory"
	"github.com/hirewire/dispatch/webhook"
)

func newTestRouter(t *testing.T) (*gin.Engine, *dispatch.Dispatcher) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	d, err := dispatch.New(dispatch.WithStore(memory.New()))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { d.Stop(context.Background()) })

	router := gin.New()
	api.NewHandler(d).Register(router.Group("/api/v1"))
	return router, d
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func createHook(t *testing.T, router *gin.Engine) map[string]any {
	t.Helper()
	rec := doJSON(t, router, http.MethodPost, "/api/v1/webhooks", map[string]any{
		"name":   "ats sync",
		"url":    "https://example.com/hooks",
		"events": []string{catalog.ApplicationReceived},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create returned %d: %s", rec.Code, rec.Body)
	}
	var created map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatal(err)
	}
	return created
}

func TestCreateWebhookReturnsSecretOnce(t *testing.T) {
	router, _ := newTestRouter(t)

	created := createHook(t, router)

	secret, _ := created["secret"].(string)
	if secret == "" {
		t.Fatal("create response must include the generated secret")
	}

	// Subsequent reads never expose it.
	rec := doJSON(t, router, http.MethodGet, "/api/v1/webhooks/"+created["id"].(string), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get returned %d", rec.Code)
	}
	var got map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if _, ok := got["secret"]; ok {
		t.Error("get response leaked the signing secret")
	}
}

func TestCreateWebhookValidation(t *testing.T) {
	router, _ := newTestRouter(t)

	tests := []struct {
		name string
		body map[string]any
	}{
		{"missing url", map[string]any{"events": []string{catalog.JobCreated}}},
		{"bad scheme", map[string]any{"url": "ftp://x", "events": []string{catalog.JobCreated}}},
		{"unknown event", map[string]any{"url": "https://example.com", "events": []string{"nope"}}},
		{"no events", map[string]any{"url": "https://example.com"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, router, http.MethodPost, "/api/v1/webhooks", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400 (%s)", rec.Code, rec.Body)
			}
		})
	}
}

func TestListWebhooks(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodGet, "/api/v1/webhooks", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list returned %d", rec.Code)
	}
	if body := rec.Body.String(); body != "[]" && body != "[]\n" {
		t.Errorf("empty list should be [], got %s", body)
	}

	createHook(t, router)

	rec = doJSON(t, router, http.MethodGet, "/api/v1/webhooks", nil)
	var hooks []map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &hooks); err != nil {
		t.Fatal(err)
	}
	if len(hooks) != 1 {
		t.Errorf("got %d hooks, want 1", len(hooks))
	}
}

func TestUpdateWebhookToggleActive(t *testing.T) {
	router, d := newTestRouter(t)
	created := createHook(t, router)
	whID := created["id"].(string)

	rec := doJSON(t, router, http.MethodPatch, "/api/v1/webhooks/"+whID, map[string]any{
		"is_active": false,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("patch returned %d: %s", rec.Code, rec.Body)
	}

	inactive := false
	hooks, err := d.Webhooks().List(context.Background(), webhook.ListOpts{Active: &inactive})
	if err != nil {
		t.Fatal(err)
	}
	if len(hooks) != 1 {
		t.Error("webhook was not deactivated")
	}
}

func TestDeleteWebhook(t *testing.T) {
	router, _ := newTestRouter(t)
	created := createHook(t, router)
	whID := created["id"].(string)

	rec := doJSON(t, router, http.MethodDelete, "/api/v1/webhooks/"+whID, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete returned %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodGet, "/api/v1/webhooks/"+whID, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("get after delete returned %d, want 404", rec.Code)
	}
}

func TestWebhookNotFound(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodGet, "/api/v1/webhooks/wh_01h455vb4pex5vsknk084sn02q", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestWebhookBadID(t *testing.T) {
	router, _ := newTestRouter(t)

	// A delivery-prefixed ID is not a webhook ID.
	rec := doJSON(t, router, http.MethodGet, "/api/v1/webhooks/whd_01h455vb4pex5vsknk084sn02q", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestRotateSecret(t *testing.T) {
	router, _ := newTestRouter(t)
	created := createHook(t, router)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/webhooks/"+created["id"].(string)+"/rotate-secret", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("rotate returned %d", rec.Code)
	}

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["secret"] == "" || body["secret"] == created["secret"] {
		t.Errorf("rotate returned %q", body["secret"])
	}
}

func TestListEvents(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodGet, "/api/v1/events", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("events returned %d", rec.Code)
	}

	var events []map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &events); err != nil {
		t.Fatal(err)
	}
	names := map[string]bool{}
	for _, e := range events {
		names[e["name"].(string)] = true
	}
	if !names[catalog.ApplicationReceived] || !names[catalog.Ping] {
		t.Errorf("catalog events missing from listing: %v", names)
	}
}

func TestListDeliveriesEmpty(t *testing.T) {
	router, _ := newTestRouter(t)
	created := createHook(t, router)

	rec := doJSON(t, router, http.MethodGet, "/api/v1/webhooks/"+created["id"].(string)+"/deliveries", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("deliveries returned %d", rec.Code)
	}
	if body := rec.Body.String(); body != "[]" && body != "[]\n" {
		t.Errorf("empty history should be [], got %s", body)
	}

	rec = doJSON(t, router, http.MethodGet, "/api/v1/webhooks/"+created["id"].(string)+"/deliveries?status=bogus", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bogus status filter returned %d, want 400", rec.Code)
	}
}

func TestGetDeliveryBadID(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodGet, "/api/v1/deliveries/not-an-id", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}
