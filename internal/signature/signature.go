package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Compute generates the hex-encoded HMAC-SHA256 signature for a payload.
// Used for outbound signing in tests and tooling; the provider computes the
// same value over the raw body it sends us.
func Compute(payload []byte, secret string) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("secret cannot be empty")
	}

	mac := hmac.New(sha256.New, []byte(secret))
	if _, err := mac.Write(payload); err != nil {
		return "", fmt.Errorf("failed to write payload to HMAC: %w", err)
	}

	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Verify checks a claimed signature against the HMAC-SHA256 of the exact raw
// payload bytes. The comparison is constant-time and a malformed or empty
// claim is simply invalid, never an error. An optional "sha256=" prefix on
// the claim is accepted.
//
// Verification must run on the bytes as received: re-serializing a parsed
// body can reorder keys or change whitespace and silently break the MAC.
func Verify(payload []byte, claimed, secret string) bool {
	if secret == "" || claimed == "" {
		return false
	}

	claimed = strings.TrimPrefix(strings.TrimSpace(claimed), "sha256=")

	expected, err := Compute(payload, secret)
	if err != nil {
		return false
	}

	return hmac.Equal([]byte(expected), []byte(strings.ToLower(claimed)))
}
