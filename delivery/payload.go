package delivery

import (
	"encoding/json"
	"time"

	"github.com/hirewire/dispatch/id"
)

// Envelope is the canonical payload sent to webhook endpoints.
//
// The encoded envelope is built once at dispatch time and stored as the
// delivery's RequestBody; every attempt signs and sends those stored
// bytes unchanged, so the signature always covers the exact body on the
// wire.
type Envelope struct {
	// Event is the dispatched event name.
	Event string `json:"event"`

	// Timestamp is the dispatch time in RFC3339 UTC. It does not change
	// across retries of the same delivery.
	Timestamp string `json:"timestamp"`

	// DeliveryID is the delivery's wire id ("whd_…").
	DeliveryID string `json:"delivery_id"`

	// Data is the arbitrary event payload.
	Data map[string]any `json:"data"`
}

// NewEnvelope assembles the envelope for an event and its delivery.
func NewEnvelope(event string, data map[string]any, deliveryID id.ID) Envelope {
	return Envelope{
		Event:      event,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		DeliveryID: deliveryID.String(),
		Data:       data,
	}
}

// Encode serializes the envelope to the byte sequence that is stored,
// signed, and transmitted.
func (e Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}
