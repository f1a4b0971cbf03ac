// Package signature provides HMAC-SHA256 webhook payload signing and verification.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Sign generates the HMAC-SHA256 signature for the given payload bytes.
// The MAC is computed over the exact byte sequence transmitted as the
// request body; receivers recompute it over the body they read to
// authenticate the sender. Returns "sha256=<hex>".
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
