// Package delivery implements delivery records, the HTTP sender, the
// retry policy, and the per-attempt deliverer.
package delivery

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/hirewire/dispatch/id"
	"github.com/hirewire/dispatch/internal/entity"
)

// Sentinel errors for delivery processing.
var (
	// ErrNotFound is returned when a delivery cannot be found.
	ErrNotFound = errors.New("delivery: not found")

	// ErrNotPending is returned by Claim when the delivery is not in the
	// pending state — a stale or duplicate task invocation.
	ErrNotPending = errors.New("delivery: not pending")
)

// Status represents the current state of a delivery.
type Status string

const (
	// StatusPending indicates the delivery is awaiting an attempt.
	StatusPending Status = "pending"

	// StatusInflight indicates an attempt has claimed the delivery and is
	// running. Transient: every attempt leaves inflight before finishing.
	StatusInflight Status = "inflight"

	// StatusSuccess indicates the endpoint accepted the delivery (2xx).
	StatusSuccess Status = "success"

	// StatusFailed indicates the most recent attempt failed. Terminal
	// once the retry budget is exhausted.
	StatusFailed Status = "failed"
)

// MaxResponseBody caps how much of the endpoint's response body is
// retained on the delivery record.
const MaxResponseBody = 64 << 10 // 64 KiB

// Delivery records one event→webhook pairing and its attempt history.
// Rows are retained for audit even after the owning webhook is
// deactivated or deleted.
type Delivery struct {
	entity.Entity

	// ID is the unique TypeID for this delivery ("whd_…"). Its string
	// form is the wire delivery id.
	ID id.ID `json:"id"`

	// WebhookID references the target webhook.
	WebhookID id.ID `json:"webhook_id"`

	// Event is the dispatched event name.
	Event string `json:"event"`

	// RequestURL is the webhook URL captured at dispatch time.
	RequestURL string `json:"request_url"`

	// RequestHeaders are the headers sent with the most recent attempt.
	RequestHeaders map[string]string `json:"request_headers,omitempty"`

	// RequestBody is the exact signed payload sent on every attempt.
	RequestBody json.RawMessage `json:"request_body"`

	// ResponseCode is the HTTP status of the most recent attempt.
	// 0 when no response was obtained (transport failure).
	ResponseCode int `json:"response_code,omitempty"`

	// ResponseHeaders are from the most recent attempt.
	ResponseHeaders map[string]string `json:"response_headers,omitempty"`

	// ResponseBody is the most recent response body, capped at MaxResponseBody.
	ResponseBody string `json:"response_body,omitempty"`

	// ResponseTimeMs is the wall-clock latency of the most recent attempt.
	ResponseTimeMs int `json:"response_time_ms,omitempty"`

	// Status is the current delivery state.
	Status Status `json:"status"`

	// RetryCount is the number of retries already consumed.
	RetryCount int `json:"retry_count"`

	// NextRetryAt is when the next attempt is due. Nil for first
	// attempts (due immediately) and for terminal deliveries.
	NextRetryAt *time.Time `json:"next_retry_at,omitempty"`

	// ErrorMessage describes the most recent failure.
	ErrorMessage string `json:"error_message,omitempty"`
}

// ListOpts configures filtering and pagination for delivery listing.
type ListOpts struct {
	Offset int
	Limit  int
	Status *Status
}
