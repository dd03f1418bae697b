// Package apikey provides an API key authenticator that validates static
// keys using SHA-256 hashing and constant-time comparison. Keys are read
// from a bearer token or from the X-API-Key header.
package apikey

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/rhuss/codeexec/pkg/auth"
)

// HeaderName is the alternative header carrying a raw API key.
const HeaderName = "X-API-Key"

// KeyEntry maps a key hash to an identity.
type KeyEntry struct {
	KeyHash  [32]byte
	Identity auth.Identity
}

// RawKeyEntry is the configuration format for API keys.
type RawKeyEntry struct {
	Key      string
	Identity auth.Identity
}

// Authenticator validates keys against a static key store.
type Authenticator struct {
	keys []KeyEntry
}

// New creates an API key authenticator from a list of raw keys and identities.
// Keys are hashed immediately; plaintext keys are not stored.
func New(entries []RawKeyEntry) *Authenticator {
	a := &Authenticator{keys: make([]KeyEntry, 0, len(entries))}
	for _, e := range entries {
		a.keys = append(a.keys, KeyEntry{
			KeyHash:  sha256.Sum256([]byte(e.Key)),
			Identity: e.Identity,
		})
	}
	return a
}

// Authenticate accepts a known key, rejects a presented but unknown one and
// abstains when the request carries no key.
func (a *Authenticator) Authenticate(_ context.Context, r *http.Request) auth.Result {
	token, present := credential(r)
	if !present {
		return auth.Result{Decision: auth.Abstain}
	}
	if token == "" {
		return auth.Result{Decision: auth.Reject, Err: auth.ErrUnauthenticated}
	}

	tokenHash := sha256.Sum256([]byte(token))

	// Compare against every entry so timing does not reveal the match position.
	match := -1
	for i, entry := range a.keys {
		if subtle.ConstantTimeCompare(tokenHash[:], entry.KeyHash[:]) == 1 && match < 0 {
			match = i
		}
	}
	if match < 0 {
		return auth.Result{Decision: auth.Reject, Err: auth.ErrUnauthenticated}
	}

	id := a.keys[match].Identity
	return auth.Result{Decision: auth.Accept, Identity: &id}
}

// credential extracts the key from the request. The bool reports whether a
// key was presented at all.
func credential(r *http.Request) (string, bool) {
	if key, ok := r.Header[http.CanonicalHeaderKey(HeaderName)]; ok && len(key) > 0 {
		return strings.TrimSpace(key[0]), true
	}

	header := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(header, "Bearer "); ok {
		return strings.TrimSpace(token), true
	}
	return "", false
}
