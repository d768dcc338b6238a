// Package cryptox holds the small cryptographic helpers used by the server:
// purpose-bound key derivation, HMAC tagging and token fingerprinting.
package cryptox

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"

	"golang.org/x/crypto/hkdf"
)

// ErrEmptySecret is returned when a key is derived from an empty secret.
var ErrEmptySecret = errors.New("empty secret")

// DeriveKey expands secret into a 32-byte key bound to purpose using
// HKDF-SHA256. Distinct purposes yield independent keys, so one configured
// secret can serve several uses without key reuse.
func DeriveKey(secret []byte, purpose string) ([]byte, error) {
	if len(secret) == 0 {
		return nil, ErrEmptySecret
	}
	r := hkdf.New(sha256.New, secret, nil, []byte(purpose))
	key := make([]byte, 32)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}
	return key, nil
}

// Sign returns the hex-encoded HMAC-SHA256 tag of msg under key.
func Sign(key, msg []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write(msg)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether tagHex is the HMAC-SHA256 tag of msg under key.
// The comparison is constant time; a tag that is not valid hex never matches.
func Verify(key, msg []byte, tagHex string) bool {
	tag, err := hex.DecodeString(tagHex)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, key)
	mac.Write(msg)
	return hmac.Equal(mac.Sum(nil), tag)
}

// Fingerprint returns the hex SHA-256 of s. It is used to store bearer
// tokens without keeping them in clear text.
func Fingerprint(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
