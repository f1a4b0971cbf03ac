// Package dispatch provides a webhook dispatch and delivery engine for Go.
//
// Dispatch is a library — not a service. Import it into a recruiting or
// applicant-tracking host to fan internal domain events out to externally
// registered HTTP endpoints with HMAC-SHA256 payload signing, asynchronous
// delivery, exponential-backoff retries, and automatic deactivation of
// persistently failing endpoints.
//
// Key properties:
//   - At-least-once delivery: at most MaxRetries+1 attempts per event per endpoint
//   - Signature over the exact transmitted body ("sha256=<hex>")
//   - Composable store pattern with Postgres, Redis, and in-memory backends
//   - Pluggable scheduling: in-process timers, store polling, or a host task queue
//   - Full per-delivery audit trail retained for inspection
//
// Quick start:
//
//	d, err := dispatch.New(
//	    dispatch.WithStore(memoryStore),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	d.Webhooks().Create(ctx, webhook.Input{
//	    URL:    "https://example.com/hooks",
//	    Events: []string{"application.received"},
//	})
//
//	d.Dispatch(ctx, "application.received", map[string]any{
//	    "application": map[string]any{"id": 42},
//	})
package dispatch
