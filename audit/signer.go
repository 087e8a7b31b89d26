package audit

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Signer produces and verifies keyed signatures over canonical record
// bytes. Key provisioning is an external concern (secret store); the
// ledger only ever sees the Signer interface.
type Signer interface {
	// Sign returns the hex-encoded signature over payload.
	Sign(payload []byte) string
	// Verify reports whether signature matches payload.
	Verify(payload []byte, signature string) bool
}

// HMACSigner signs with HMAC-SHA256 under a secret key held only by the
// ledger's owner.
type HMACSigner struct {
	key []byte
}

// NewHMACSigner constructs a signer over the given key.
func NewHMACSigner(key []byte) (*HMACSigner, error) {
	if len(key) == 0 {
		return nil, fmt.Errorf("hmac signer: key must not be empty")
	}
	k := make([]byte, len(key))
	copy(k, key)
	return &HMACSigner{key: k}, nil
}

// NewRandomHMACSigner generates an ephemeral 32-byte key. Suitable for
// development and tests; production keys come from a secret store.
func NewRandomHMACSigner() (*HMACSigner, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("hmac signer: generate key: %w", err)
	}
	return &HMACSigner{key: key}, nil
}

// Sign returns the hex-encoded HMAC-SHA256 of payload.
func (s *HMACSigner) Sign(payload []byte) string {
	mac := hmac.New(sha256.New, s.key)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify recomputes the signature and compares in constant time.
func (s *HMACSigner) Verify(payload []byte, signature string) bool {
	want, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, s.key)
	mac.Write(payload)
	return hmac.Equal(mac.Sum(nil), want)
}
