package telemetry

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashID returns a stable pseudonym for a user identifier such as a WhatsApp
// id: the first 16 hex characters of its SHA-256. Use it wherever a phone
// number would otherwise reach logs or traces.
func HashID(id string) string {
	if id == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(id))
	return hex.EncodeToString(sum[:])[:16]
}
