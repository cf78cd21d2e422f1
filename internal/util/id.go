package util

import (
	"crypto/rand"
	"encoding/hex"
)

// NewID returns 128 random bits as hex, optionally prefixed "prefix_".
// Used for token ids and opaque refresh tokens.
func NewID(prefix string) string {
	bytes := make([]byte, 16)
	_, _ = rand.Read(bytes)
	if prefix == "" {
		return hex.EncodeToString(bytes)
	}
	return prefix + "_" + hex.EncodeToString(bytes)
}

// NewSecret returns n random bytes hex encoded.
func NewSecret(n int) string {
	bytes := make([]byte, n)
	_, _ = rand.Read(bytes)
	return hex.EncodeToString(bytes)
}
