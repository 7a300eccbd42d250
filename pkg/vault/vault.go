// Package vault encrypts tenant calendar credentials at rest.
//
// Ciphertexts are base64 (standard encoding) of nonce || tag || payload,
// sealed with XChaCha20-Poly1305 under a fresh random nonce per call.
package vault

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/oauth2"
)

const (
	nonceSize = chacha20poly1305.NonceSizeX
	tagSize   = chacha20poly1305.Overhead
	keyInfo   = "slotowl credential vault"
)

// ErrDecrypt is returned for tampered, truncated or otherwise malformed ciphertexts.
var ErrDecrypt = errors.New("vault: decrypt failed")

// ErrNoKey is returned by New when no key material is configured.
var ErrNoKey = errors.New("vault: no key configured")

// Vault seals and opens credential blobs with a single symmetric key.
type Vault struct {
	key  []byte
	rand io.Reader
}

// New creates a Vault. key is either a base64-encoded 32-byte key or a
// passphrase, which is stretched to 32 bytes with HKDF-SHA256.
func New(key string) (*Vault, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, ErrNoKey
	}

	if raw, err := base64.StdEncoding.DecodeString(key); err == nil && len(raw) == chacha20poly1305.KeySize {
		return &Vault{key: raw, rand: rand.Reader}, nil
	}

	derived := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(key), nil, []byte(keyInfo)), derived); err != nil {
		return nil, fmt.Errorf("vault: deriving key: %w", err)
	}
	return &Vault{key: derived, rand: rand.Reader}, nil
}

// Encrypt seals plaintext and returns the encoded ciphertext.
func (v *Vault) Encrypt(plaintext []byte) (string, error) {
	aead, err := chacha20poly1305.NewX(v.key)
	if err != nil {
		return "", fmt.Errorf("vault: creating cipher: %w", err)
	}

	nonce := make([]byte, nonceSize, nonceSize+tagSize+len(plaintext))
	if _, err := io.ReadFull(v.rand, nonce); err != nil {
		return "", fmt.Errorf("vault: generating nonce: %w", err)
	}

	// Seal returns payload || tag; the stored layout puts the tag first.
	sealed := aead.Seal(nil, nonce, plaintext, nil)
	body, tag := sealed[:len(plaintext)], sealed[len(plaintext):]

	out := append(nonce, tag...)
	out = append(out, body...)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt opens a ciphertext produced by Encrypt. Any failure wraps ErrDecrypt.
func (v *Vault) Decrypt(ciphertext string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(ciphertext))
	if err != nil {
		return nil, fmt.Errorf("%w: invalid encoding", ErrDecrypt)
	}
	if len(raw) < nonceSize+tagSize {
		return nil, fmt.Errorf("%w: ciphertext too short", ErrDecrypt)
	}

	aead, err := chacha20poly1305.NewX(v.key)
	if err != nil {
		return nil, fmt.Errorf("vault: creating cipher: %w", err)
	}

	nonce := raw[:nonceSize]
	tag := raw[nonceSize : nonceSize+tagSize]
	body := raw[nonceSize+tagSize:]

	sealed := make([]byte, 0, len(body)+tagSize)
	sealed = append(sealed, body...)
	sealed = append(sealed, tag...)

	plaintext, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: authentication failed", ErrDecrypt)
	}
	return plaintext, nil
}

// LooksEncrypted reports whether text has the shape of a vault ciphertext.
// It never attempts decryption.
func LooksEncrypted(text string) bool {
	text = strings.TrimSpace(text)
	if text == "" || len(text)%4 != 0 {
		return false
	}
	raw, err := base64.StdEncoding.DecodeString(text)
	if err != nil {
		return false
	}
	return len(raw) >= nonceSize+tagSize
}

// SealToken encrypts an OAuth2 token as JSON.
func (v *Vault) SealToken(tok *oauth2.Token) (string, error) {
	data, err := json.Marshal(tok)
	if err != nil {
		return "", fmt.Errorf("vault: encoding token: %w", err)
	}
	return v.Encrypt(data)
}

// OpenToken decrypts a credential produced by SealToken.
func (v *Vault) OpenToken(ciphertext string) (*oauth2.Token, error) {
	data, err := v.Decrypt(ciphertext)
	if err != nil {
		return nil, err
	}
	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("%w: invalid token payload", ErrDecrypt)
	}
	if tok.AccessToken == "" && tok.RefreshToken == "" {
		return nil, fmt.Errorf("%w: token has no access or refresh token", ErrDecrypt)
	}
	return &tok, nil
}
