package auth

import (
	"context"
	"errors"
	"net/http"
)

// Decision is an authenticator's vote on a request.
type Decision int

const (
	// Accept admits the request with the returned identity.
	Accept Decision = iota

	// Reject refuses the request. Credentials were presented but are invalid.
	Reject

	// Abstain passes the request to the next authenticator, typically
	// because the credential type is not one it understands.
	Abstain
)

func (d Decision) String() string {
	switch d {
	case Accept:
		return "accept"
	case Reject:
		return "reject"
	default:
		return "abstain"
	}
}

// Result is the outcome of one authentication attempt.
type Result struct {
	Decision Decision
	Identity *Identity // set on Accept
	Err      error     // set on Reject
}

// Identity is the caller a request runs on behalf of.
type Identity struct {
	// Subject names the caller. Never empty for an accepted request.
	Subject string

	// Tenant scopes execution history. Empty means the shared tenant.
	Tenant string

	// Tier selects the rate limit bucket. Empty means "default".
	Tier string

	Scopes []string
}

// TierName returns the rate limit tier, defaulting to "default".
func (id *Identity) TierName() string {
	if id == nil || id.Tier == "" {
		return "default"
	}
	return id.Tier
}

// Authenticator votes on the credentials of a request.
type Authenticator interface {
	Authenticate(ctx context.Context, r *http.Request) Result
}

// AuthenticatorFunc adapts a function to the Authenticator interface.
type AuthenticatorFunc func(ctx context.Context, r *http.Request) Result

// Authenticate calls f.
func (f AuthenticatorFunc) Authenticate(ctx context.Context, r *http.Request) Result {
	return f(ctx, r)
}

var (
	ErrUnauthenticated = errors.New("authentication required")
	ErrTooManyRequests = errors.New("rate limit exceeded")
)

// anonymous is the identity admitted when every authenticator abstains and
// the chain allows anonymous callers.
var anonymous = Identity{Subject: "anonymous"}

// Chain asks its authenticators in order. The first Accept or Reject wins.
type Chain struct {
	Authenticators []Authenticator

	// AllowAnonymous admits requests no authenticator claimed.
	AllowAnonymous bool
}

// Authenticate runs the chain.
func (c *Chain) Authenticate(ctx context.Context, r *http.Request) Result {
	for _, authn := range c.Authenticators {
		if res := authn.Authenticate(ctx, r); res.Decision != Abstain {
			return res
		}
	}
	if c.AllowAnonymous {
		id := anonymous
		return Result{Decision: Accept, Identity: &id}
	}
	return Result{Decision: Reject, Err: ErrUnauthenticated}
}

type identityCtxKey struct{}

// WithIdentity attaches the authenticated caller to ctx.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityCtxKey{}, id)
}

// FromContext returns the caller attached by Middleware.
func FromContext(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(identityCtxKey{}).(*Identity)
	return id, ok && id != nil
}
