package auth

import (
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/rhuss/codeexec/pkg/api"
	"github.com/rhuss/codeexec/pkg/debug"
	"github.com/rhuss/codeexec/pkg/observability"
	"github.com/rhuss/codeexec/pkg/storage"
	"github.com/rhuss/codeexec/pkg/transport"
)

// DefaultBypassEndpoints are served without credentials.
var DefaultBypassEndpoints = []string{"/healthz", "/readyz", "/metrics"}

// Middleware requires every request outside bypass to be accepted by chain.
// The caller is attached to the request context and, when it carries a
// tenant, so is the storage tenant scope. A non-nil limiter is consulted
// after authentication. Bypass entries ending in "/" match whole subtrees.
func Middleware(chain *Chain, limiter RateLimiter, bypass []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if bypassed(r.URL.Path, bypass) {
				next.ServeHTTP(w, r)
				return
			}

			id, ok := admit(w, r, chain)
			if !ok {
				return
			}
			if limiter != nil && !withinLimit(w, r, limiter, id) {
				return
			}

			ctx := WithIdentity(r.Context(), id)
			if id.Tenant != "" {
				ctx = storage.WithTenant(ctx, id.Tenant)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func admit(w http.ResponseWriter, r *http.Request, chain *Chain) (*Identity, bool) {
	res := chain.Authenticate(r.Context(), r)
	switch {
	case res.Decision != Accept || res.Identity == nil:
		slog.Warn("request not authenticated",
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
			"decision", res.Decision.String(),
			"error", res.Err,
		)
		w.Header().Set("WWW-Authenticate", `Bearer realm="codeexec"`)
		transport.WriteAPIError(w, api.NewUnauthorizedError("authentication required"))
		return nil, false
	case res.Identity.Subject == "":
		slog.Error("authenticator accepted an identity without subject", "path", r.URL.Path)
		transport.WriteAPIError(w, api.NewServerError("internal authentication error"))
		return nil, false
	}
	debug.Log("auth", "accepted", "subject", res.Identity.Subject, "path", r.URL.Path)
	return res.Identity, true
}

func withinLimit(w http.ResponseWriter, r *http.Request, limiter RateLimiter, id *Identity) bool {
	err := limiter.Allow(r.Context(), id)
	if err == nil {
		return true
	}

	tier := id.TierName()
	slog.Warn("rate limit exceeded", "subject", id.Subject, "tier", tier)
	observability.RateLimitRejectedTotal.WithLabelValues(tier).Inc()

	var rl *RateLimitError
	if errors.As(err, &rl) && rl.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(rl.RetryAfter.Seconds()))))
	}
	transport.WriteAPIError(w, api.NewTooManyRequestsError("rate limit exceeded"))
	return false
}

func bypassed(path string, endpoints []string) bool {
	for _, ep := range endpoints {
		if path == ep || (strings.HasSuffix(ep, "/") && strings.HasPrefix(path, ep)) {
			return true
		}
	}
	return false
}
