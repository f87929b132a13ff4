// Package webhook verifies signed provider callbacks.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

var (
	ErrMissingHeaders   = errors.New("missing webhook signature headers")
	ErrInvalidSignature = errors.New("invalid webhook signature")
)

// Header names carrying the signature inputs.
const (
	HeaderID        = "webhook-id"
	HeaderTimestamp = "webhook-timestamp"
	HeaderSignature = "webhook-signature"
)

// Sign returns the hex HMAC-SHA256 of "{id}.{timestamp}.{body}". A "whsec_"
// prefix on secret is ignored.
func Sign(secret, id, timestamp string, body []byte) string {
	key := strings.TrimPrefix(secret, "whsec_")
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(id + "." + timestamp + "."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks signatureHeader against the expected signature. The header
// may hold a bare value or a comma-separated list, optionally as v1=<sig>
// pairs.
func Verify(secret, id, timestamp, signatureHeader string, body []byte) error {
	if id == "" || timestamp == "" || strings.TrimSpace(signatureHeader) == "" {
		return ErrMissingHeaders
	}
	expected := []byte(Sign(secret, id, timestamp, body))
	for _, candidate := range candidates(signatureHeader) {
		if hmac.Equal(expected, []byte(candidate)) {
			return nil
		}
	}
	return ErrInvalidSignature
}

func candidates(header string) []string {
	var out []string
	for _, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if version, value, ok := strings.Cut(part, "="); ok && version == "v1" {
			part = value
		}
		out = append(out, part)
	}
	return out
}
