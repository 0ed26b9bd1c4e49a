// Package auth implements the peppered API key scheme guarding the coupon
// admin surface. Keys are never stored raw: the database holds an
// HMAC-SHA256 of the key under a server-side pepper, so a leaked table is
// useless without the pepper.
package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// ScopeAdmin grants access to the coupon administration endpoints.
const ScopeAdmin = "admin"

// HashKey computes the hex-encoded HMAC-SHA256 of a raw API key under the
// given pepper. Seeding and request authentication both go through this
// function, so a key matches only when both sides agree on the pepper.
func HashKey(pepper []byte, key string) string {
	mac := hmac.New(sha256.New, pepper)
	mac.Write([]byte(key))
	return hex.EncodeToString(mac.Sum(nil))
}

// APIKeyInfo holds the identity and permission data for a validated API key.
type APIKeyInfo struct {
	ID      string
	KeyHash string
	Name    string
	Scopes  []string
}

// Matches reports whether the presented hash equals the stored one. The
// comparison is constant time so response timing leaks nothing about
// stored hashes.
func (k *APIKeyInfo) Matches(hash string) bool {
	stored, err := hex.DecodeString(k.KeyHash)
	if err != nil {
		return false
	}
	presented, err := hex.DecodeString(hash)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(stored, presented) == 1
}

// HasScope reports whether the key carries the named scope.
func (k *APIKeyInfo) HasScope(scope string) bool {
	for _, s := range k.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// Repository provides lookup of API keys by their HMAC hash.
type Repository interface {
	FindByHash(ctx context.Context, hash string) (*APIKeyInfo, error)
}
