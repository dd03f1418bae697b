package transport

import (
	"context"

	"github.com/rhuss/codeexec/pkg/api"
)

// Middleware wraps an Executor to add cross-cutting behavior.
// Middleware is applied in order: the first middleware in the chain is
// the outermost wrapper (executes first on the way in, last on the way out).
type Middleware func(Executor) Executor

// Chain composes multiple middleware into a single middleware.
// Middleware are applied in order: Chain(a, b, c) produces a(b(c(handler))).
func Chain(middlewares ...Middleware) Middleware {
	return func(next Executor) Executor {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}

// Hooks lets a middleware intercept the execution operations of an Executor
// without re-implementing the ones it does not care about. Each hook wraps
// the call it is named after; nil hooks pass through.
type Hooks struct {
	Execute      func(ctx context.Context, req *api.ExecutionRequest, next func(context.Context, *api.ExecutionRequest) (*api.ExecutionResult, error)) (*api.ExecutionResult, error)
	ExecuteBatch func(ctx context.Context, req *api.BatchExecutionRequest, next func(context.Context, *api.BatchExecutionRequest) (*api.BatchExecutionResult, error)) (*api.BatchExecutionResult, error)
	Coverage     func(ctx context.Context, req *api.CoverageRequest, next func(context.Context, *api.CoverageRequest) (*api.CoverageResult, error)) (*api.CoverageResult, error)
}

// Wrap returns an Executor that routes calls through the hooks before
// reaching next.
func (h Hooks) Wrap(next Executor) Executor {
	return &hookedExecutor{hooks: h, next: next}
}

type hookedExecutor struct {
	hooks Hooks
	next  Executor
}

func (e *hookedExecutor) Execute(ctx context.Context, req *api.ExecutionRequest) (*api.ExecutionResult, error) {
	if e.hooks.Execute == nil {
		return e.next.Execute(ctx, req)
	}
	return e.hooks.Execute(ctx, req, e.next.Execute)
}

func (e *hookedExecutor) ExecuteBatch(ctx context.Context, req *api.BatchExecutionRequest) (*api.BatchExecutionResult, error) {
	if e.hooks.ExecuteBatch == nil {
		return e.next.ExecuteBatch(ctx, req)
	}
	return e.hooks.ExecuteBatch(ctx, req, e.next.ExecuteBatch)
}

func (e *hookedExecutor) Coverage(ctx context.Context, req *api.CoverageRequest) (*api.CoverageResult, error) {
	if e.hooks.Coverage == nil {
		return e.next.Coverage(ctx, req)
	}
	return e.hooks.Coverage(ctx, req, e.next.Coverage)
}

func (e *hookedExecutor) Health(ctx context.Context) *api.HealthStatus {
	return e.next.Health(ctx)
}

// requestIDKeyType is the context key type for request IDs.
type requestIDKeyType struct{}

// requestIDKey is the context key for storing and retrieving request IDs.
var requestIDKey = requestIDKeyType{}

// RequestIDFromContext extracts the request ID from the context.
// Returns an empty string if no request ID is set.
func RequestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// ContextWithRequestID returns a new context with the given request ID.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}
