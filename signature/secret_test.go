package signature_test

import (
	"encoding/hex"
	"strings"
	"testing"

	"github.com/hirewire/dispatch/signature"
)

func TestGenerateSecretFormat(t *testing.T) {
	secret := signature.GenerateSecret()

	if !strings.HasPrefix(secret, "whsec_") {
		t.Errorf("expected prefix 'whsec_', got %q", secret)
	}

	// whsec_ (6) + 64 hex chars (32 bytes) = 70 total
	if len(secret) != 70 {
		t.Errorf("expected length 70, got %d for %q", len(secret), secret)
	}

	if _, err := hex.DecodeString(strings.TrimPrefix(secret, "whsec_")); err != nil {
		t.Errorf("secret suffix is not hex: %v", err)
	}
}

func TestGenerateSecretUniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		s := signature.GenerateSecret()
		if seen[s] {
			t.Fatalf("GenerateSecret() produced a duplicate: %q", s)
		}
		seen[s] = true
	}
}
