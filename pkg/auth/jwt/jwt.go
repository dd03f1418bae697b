// Package jwt provides an authenticator for HMAC-signed JWT bearer tokens
// issued with a shared secret.
//
// Issuer and audience are validated when configured. Subject, tenant,
// service tier and scopes are read from configurable claims.
package jwt

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"github.com/rhuss/codeexec/pkg/auth"
	"github.com/rhuss/codeexec/pkg/debug"
)

// Config selects the key, the expected iss/aud and the claims an
// Identity is built from. Empty Issuer or Audience skips that check.
type Config struct {
	Secret   []byte // HMAC key, required
	Issuer   string
	Audience string

	UserClaim   string // "sub"
	TenantClaim string // "tenant_id"
	TierClaim   string // "tier"
	ScopesClaim string // "scope"; space separated string or array

	Leeway time.Duration // clock skew for exp and nbf, 30s
}

func (c *Config) applyDefaults() {
	c.UserClaim = cmp.Or(c.UserClaim, "sub")
	c.TenantClaim = cmp.Or(c.TenantClaim, "tenant_id")
	c.TierClaim = cmp.Or(c.TierClaim, "tier")
	c.ScopesClaim = cmp.Or(c.ScopesClaim, "scope")
	c.Leeway = cmp.Or(c.Leeway, 30*time.Second)
}

// Authenticator validates HMAC-signed JWT bearer tokens.
type Authenticator struct {
	config Config
	parser *jwtlib.Parser
}

// New returns an Authenticator for cfg. It fails without a secret.
func New(cfg Config) (*Authenticator, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("jwt: secret must not be empty")
	}
	cfg.applyDefaults()

	opts := []jwtlib.ParserOption{
		jwtlib.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
		jwtlib.WithLeeway(cfg.Leeway),
		jwtlib.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwtlib.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwtlib.WithAudience(cfg.Audience))
	}

	return &Authenticator{config: cfg, parser: jwtlib.NewParser(opts...)}, nil
}

// Authenticate abstains without a bearer token and rejects tokens that fail signature,
// expiry, issuer or audience checks.
func (a *Authenticator) Authenticate(_ context.Context, r *http.Request) auth.Result {
	tokenStr, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return auth.Result{Decision: auth.Abstain}
	}
	if tokenStr = strings.TrimSpace(tokenStr); tokenStr == "" {
		return auth.Result{Decision: auth.Reject, Err: fmt.Errorf("empty bearer token")}
	}

	claims := jwtlib.MapClaims{}
	_, err := a.parser.ParseWithClaims(tokenStr, claims, func(*jwtlib.Token) (any, error) {
		return a.config.Secret, nil
	})
	if err != nil {
		debug.Log("auth", "JWT validation failed", "error", err)
		return auth.Result{Decision: auth.Reject, Err: fmt.Errorf("invalid JWT: %w", err)}
	}

	subject := claimString(claims, a.config.UserClaim)
	if subject == "" {
		return auth.Result{
			Decision: auth.Reject,
			Err:      fmt.Errorf("JWT missing %q claim", a.config.UserClaim),
		}
	}

	return auth.Result{Decision: auth.Accept, Identity: &auth.Identity{
		Subject: subject,
		Tenant:  claimString(claims, a.config.TenantClaim),
		Tier:    claimString(claims, a.config.TierClaim),
		Scopes:  extractScopes(claims, a.config.ScopesClaim),
	}}
}

func claimString(claims jwtlib.MapClaims, key string) string {
	s, _ := claims[key].(string)
	return s
}

// extractScopes accepts "a b c" as well as ["a","b","c"].
func extractScopes(claims jwtlib.MapClaims, key string) []string {
	var out []string
	switch v := claims[key].(type) {
	case string:
		out = strings.Fields(v)
	case []any:
		for _, item := range v {
			if scope, ok := item.(string); ok {
				out = append(out, scope)
			}
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
