package delivery_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hirewire/dispatch/delivery"
	"github.com/hirewire/dispatch/signature"
)

func TestSenderHappyPath(t *testing.T) {
	var receivedMethod string
	var receivedHeaders http.Header
	var receivedBody []byte

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedMethod = r.Method
		receivedHeaders = r.Header
		receivedBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	body := []byte(`{"event":"job.created","delivery_id":"whd_test","data":{"job_id":7}}`)
	secret := "whsec_test_secret_1234567890abcdef1234567890abcdef"
	headers := map[string]string{
		"Content-Type": "application/json",
		"X-Event":      "job.created",
		"X-Delivery":   "whd_test",
		"X-Signature":  signature.Sign(body, secret),
	}

	sender := delivery.NewSender(5 * time.Second)
	result := sender.Send(context.Background(), srv.URL, headers, body)

	if result.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", result.StatusCode)
	}
	if result.Err != "" {
		t.Fatalf("unexpected error: %s", result.Err)
	}
	if !result.OK() {
		t.Fatal("OK() should be true for 200")
	}
	if result.Body != `{"ok":true}` {
		t.Fatalf("unexpected response body: %s", result.Body)
	}
	if result.LatencyMs < 0 {
		t.Fatal("latency should be non-negative")
	}

	if receivedMethod != http.MethodPost {
		t.Fatalf("expected POST, got %s", receivedMethod)
	}
	if string(receivedBody) != string(body) {
		t.Fatalf("body: got %q, want %q", receivedBody, body)
	}
	if receivedHeaders.Get("Content-Type") != "application/json" {
		t.Fatal("missing Content-Type")
	}
	if receivedHeaders.Get("X-Event") != "job.created" {
		t.Fatal("missing X-Event")
	}
	if receivedHeaders.Get("X-Delivery") != "whd_test" {
		t.Fatal("missing X-Delivery")
	}

	// A receiver verifies the signature over the exact body it read.
	sig := receivedHeaders.Get("X-Signature")
	if !strings.HasPrefix(sig, "sha256=") {
		t.Fatalf("signature should start with sha256=, got %q", sig)
	}
	if !signature.Verify(receivedBody, secret, sig) {
		t.Fatal("signature verification failed on received body")
	}
}

func TestSenderNon2xxIsNotOK(t *testing.T) {
	tests := []struct {
		name   string
		status int
		wantOK bool
	}{
		{"200 OK", 200, true},
		{"204 No Content", 204, true},
		{"299 edge of range", 299, true},
		{"301 redirect-ish", 301, false},
		{"400 Bad Request", 400, false},
		{"404 Not Found", 404, false},
		{"500 Internal Server Error", 500, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			sender := delivery.NewSender(5 * time.Second)
			result := sender.Send(context.Background(), srv.URL, nil, []byte(`{}`))

			if result.StatusCode != tt.status {
				t.Fatalf("expected %d, got %d", tt.status, result.StatusCode)
			}
			if result.OK() != tt.wantOK {
				t.Fatalf("OK() = %v, want %v", result.OK(), tt.wantOK)
			}
		})
	}
}

func TestSenderTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sender := delivery.NewSender(50 * time.Millisecond)
	result := sender.Send(context.Background(), srv.URL, nil, []byte(`{}`))

	if result.StatusCode != 0 {
		t.Fatalf("expected status 0 on timeout, got %d", result.StatusCode)
	}
	if result.Err == "" {
		t.Fatal("expected error on timeout")
	}
	if result.OK() {
		t.Fatal("OK() should be false on timeout")
	}
}

func TestSenderConnectionRefused(t *testing.T) {
	sender := delivery.NewSender(5 * time.Second)
	result := sender.Send(context.Background(), "http://127.0.0.1:1", nil, []byte(`{}`))

	if result.StatusCode != 0 {
		t.Fatalf("expected status 0 on connection refused, got %d", result.StatusCode)
	}
	if result.Err == "" {
		t.Fatal("expected error on connection refused")
	}
}

func TestSenderResponseBodyCap(t *testing.T) {
	big := strings.Repeat("x", delivery.MaxResponseBody+1024)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, big)
	}))
	defer srv.Close()

	sender := delivery.NewSender(5 * time.Second)
	result := sender.Send(context.Background(), srv.URL, nil, []byte(`{}`))

	if len(result.Body) != delivery.MaxResponseBody {
		t.Fatalf("response body length = %d, want cap %d", len(result.Body), delivery.MaxResponseBody)
	}
}
