package delivery_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/hirewire/dispatch/delivery"
	"github.com/hirewire/dispatch/id"
)

func TestNewEnvelope(t *testing.T) {
	delID := id.NewDeliveryID()
	env := delivery.NewEnvelope("application.received", map[string]any{
		"application": map[string]any{"id": float64(42)},
	}, delID)

	if env.Event != "application.received" {
		t.Errorf("Event = %q, want %q", env.Event, "application.received")
	}
	if env.DeliveryID != delID.String() {
		t.Errorf("DeliveryID = %q, want %q", env.DeliveryID, delID.String())
	}

	ts, err := time.Parse(time.RFC3339, env.Timestamp)
	if err != nil {
		t.Fatalf("Timestamp %q is not RFC3339: %v", env.Timestamp, err)
	}
	if ts.Location() != time.UTC {
		t.Errorf("Timestamp %q is not UTC", env.Timestamp)
	}
	if d := time.Since(ts); d < -time.Minute || d > time.Minute {
		t.Errorf("Timestamp %q is not near now", env.Timestamp)
	}
}

func TestEnvelopeEncodeShape(t *testing.T) {
	delID := id.NewDeliveryID()
	env := delivery.NewEnvelope("job.created", map[string]any{
		"job_id": float64(7),
		"title":  "Backend Engineer",
	}, delID)

	raw, err := env.Encode()
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("Encode() produced invalid JSON: %v", err)
	}

	for _, key := range []string{"event", "timestamp", "delivery_id", "data"} {
		if _, ok := decoded[key]; !ok {
			t.Errorf("encoded envelope missing %q key", key)
		}
	}

	data, _ := decoded["data"].(map[string]any)
	if data["title"] != "Backend Engineer" {
		t.Errorf("data.title = %v, want %q", data["title"], "Backend Engineer")
	}
}

func TestEnvelopeEncodeNilData(t *testing.T) {
	env := delivery.NewEnvelope("ping", nil, id.NewDeliveryID())

	raw, err := env.Encode()
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}

	var decoded struct {
		Data map[string]any `json:"data"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Data != nil {
		t.Errorf("nil data should encode as null, got %v", decoded.Data)
	}
}
