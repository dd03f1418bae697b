package transport

import (
	"context"
	"crypto/rand"
	"encoding/hex"

	"github.com/rhuss/codeexec/pkg/api"
)

// RequestID returns middleware that assigns a unique request ID to each
// request. If the incoming request context already carries a request ID
// (set by the HTTP adapter from the X-Request-ID header), that value is
// used. Otherwise, a new unique ID is generated.
func RequestID() Middleware {
	return Hooks{
		Execute: func(ctx context.Context, req *api.ExecutionRequest, next func(context.Context, *api.ExecutionRequest) (*api.ExecutionResult, error)) (*api.ExecutionResult, error) {
			return next(ensureRequestID(ctx), req)
		},
		ExecuteBatch: func(ctx context.Context, req *api.BatchExecutionRequest, next func(context.Context, *api.BatchExecutionRequest) (*api.BatchExecutionResult, error)) (*api.BatchExecutionResult, error) {
			return next(ensureRequestID(ctx), req)
		},
		Coverage: func(ctx context.Context, req *api.CoverageRequest, next func(context.Context, *api.CoverageRequest) (*api.CoverageResult, error)) (*api.CoverageResult, error) {
			return next(ensureRequestID(ctx), req)
		},
	}.Wrap
}

func ensureRequestID(ctx context.Context) context.Context {
	if RequestIDFromContext(ctx) != "" {
		return ctx
	}
	return ContextWithRequestID(ctx, NewRequestID())
}

// NewRequestID creates a new unique request ID as a hex string.
func NewRequestID() string {
	b := make([]byte, 16)
	rand.Read(b)
	return hex.EncodeToString(b)
}
