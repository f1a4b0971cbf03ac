package delivery

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Result holds the outcome of a single HTTP delivery attempt.
// Err is set only for transport-level failures (DNS, TLS, connect,
// timeout) where no response was obtained.
type Result struct {
	StatusCode int
	Headers    map[string]string
	Body       string
	LatencyMs  int
	Err        string
}

// OK reports whether the endpoint accepted the delivery (2xx).
func (r Result) OK() bool {
	return r.Err == "" && r.StatusCode >= 200 && r.StatusCode < 300
}

// Sender performs HTTP webhook delivery. TLS certificate verification is
// left at the default (enabled).
type Sender struct {
	client *http.Client
}

// NewSender creates a sender with the given HTTP timeout.
func NewSender(timeout time.Duration) *Sender {
	return &Sender{
		client: &http.Client{Timeout: timeout},
	}
}

// Send POSTs the body to the URL with the given headers and returns the
// result. The body bytes are transmitted exactly as passed; callers sign
// the same bytes.
func (s *Sender) Send(ctx context.Context, url string, headers map[string]string, body []byte) Result {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Result{Err: fmt.Sprintf("create request: %v", err)}
	}

	for k, v := range headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := s.client.Do(req) //nolint:gosec // G704: URL is an operator-registered webhook destination.
	latency := int(time.Since(start).Milliseconds())

	if err != nil {
		return Result{
			Err:       err.Error(),
			LatencyMs: latency,
		}
	}
	defer resp.Body.Close()

	respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, MaxResponseBody))
	if readErr != nil {
		return Result{
			StatusCode: resp.StatusCode,
			Headers:    flattenHeaders(resp.Header),
			Err:        fmt.Sprintf("read response: %v", readErr),
			LatencyMs:  latency,
		}
	}

	return Result{
		StatusCode: resp.StatusCode,
		Headers:    flattenHeaders(resp.Header),
		Body:       string(respBody),
		LatencyMs:  latency,
	}
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k := range h {
		out[k] = h.Get(k)
	}
	return out
}
