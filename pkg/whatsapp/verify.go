package whatsapp

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"strings"

	"github.com/wisbric/slotowl/internal/httpserver"
)

// MaxBodyBytes bounds the webhook body size.
const MaxBodyBytes = 1 << 20

// SignatureHeader carries the HMAC-SHA256 of the raw body.
const SignatureHeader = "X-Hub-Signature-256"

// VerifyMiddleware verifies the X-Hub-Signature-256 header on incoming requests.
// If appSecret is empty, verification is skipped (dev mode).
func VerifyMiddleware(appSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if appSecret == "" {
				next.ServeHTTP(w, r)
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, MaxBodyBytes+1))
			if err != nil {
				httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "failed to read body")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			if !ValidSignature(appSecret, body, r.Header.Get(SignatureHeader)) {
				httpserver.RespondError(w, http.StatusForbidden, "invalid_signature", "signature verification failed")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ValidSignature reports whether header is "sha256=<hex>" of the body's
// HMAC under secret.
func ValidSignature(secret string, body []byte, header string) bool {
	sig, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return false
	}
	got, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	return hmac.Equal(got, Sign(secret, body))
}

// Sign computes the HMAC-SHA256 of body.
func Sign(secret string, body []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return mac.Sum(nil)
}
