package transport

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rhuss/codeexec/pkg/api"
)

// Recovery returns middleware that catches panics in the executor and
// converts them to server errors. The server continues to accept new
// requests after a panic is recovered.
func Recovery() Middleware {
	return Hooks{
		Execute: func(ctx context.Context, req *api.ExecutionRequest, next func(context.Context, *api.ExecutionRequest) (*api.ExecutionResult, error)) (res *api.ExecutionResult, retErr error) {
			defer recoverInto(ctx, &retErr)
			return next(ctx, req)
		},
		ExecuteBatch: func(ctx context.Context, req *api.BatchExecutionRequest, next func(context.Context, *api.BatchExecutionRequest) (*api.BatchExecutionResult, error)) (res *api.BatchExecutionResult, retErr error) {
			defer recoverInto(ctx, &retErr)
			return next(ctx, req)
		},
		Coverage: func(ctx context.Context, req *api.CoverageRequest, next func(context.Context, *api.CoverageRequest) (*api.CoverageResult, error)) (res *api.CoverageResult, retErr error) {
			defer recoverInto(ctx, &retErr)
			return next(ctx, req)
		},
	}.Wrap
}

func recoverInto(ctx context.Context, errp *error) {
	if r := recover(); r != nil {
		slog.ErrorContext(ctx, "panic recovered", "request_id", RequestIDFromContext(ctx), "panic", r)
		*errp = api.NewServerError(fmt.Sprintf("internal server error: %v", r))
	}
}
