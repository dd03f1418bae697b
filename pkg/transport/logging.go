package transport

import (
	"context"
	"log/slog"
	"time"

	"github.com/rhuss/codeexec/pkg/api"
)

// Logging returns middleware that emits a structured log entry for each
// execution with the request ID, language, outcome and duration.
//
// HTTP method, path and status code are logged by the HTTP adapter.
func Logging(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return Hooks{
		Execute: func(ctx context.Context, req *api.ExecutionRequest, next func(context.Context, *api.ExecutionRequest) (*api.ExecutionResult, error)) (*api.ExecutionResult, error) {
			start := time.Now()
			res, err := next(ctx, req)

			attrs := []slog.Attr{
				slog.String("request_id", RequestIDFromContext(ctx)),
				slog.String("language", req.Language),
				slog.Duration("duration", time.Since(start)),
			}
			if err != nil {
				attrs = append(attrs, slog.String("error", err.Error()))
				logger.LogAttrs(ctx, slog.LevelError, "execution failed", attrs...)
				return res, err
			}
			attrs = append(attrs,
				slog.String("id", res.ID),
				slog.String("status", string(res.Status)),
				slog.Int("exit_code", res.ExitCode),
			)
			logger.LogAttrs(ctx, slog.LevelInfo, "execution completed", attrs...)
			return res, nil
		},
		ExecuteBatch: func(ctx context.Context, req *api.BatchExecutionRequest, next func(context.Context, *api.BatchExecutionRequest) (*api.BatchExecutionResult, error)) (*api.BatchExecutionResult, error) {
			start := time.Now()
			res, err := next(ctx, req)

			attrs := []slog.Attr{
				slog.String("request_id", RequestIDFromContext(ctx)),
				slog.String("language", req.Language),
				slog.Int("size", req.Len()),
				slog.Duration("duration", time.Since(start)),
			}
			if err != nil {
				attrs = append(attrs, slog.String("error", err.Error()))
				logger.LogAttrs(ctx, slog.LevelError, "batch failed", attrs...)
				return res, err
			}
			passed := 0
			for _, r := range res.Results {
				if r.Passed {
					passed++
				}
			}
			attrs = append(attrs, slog.Int("passed", passed))
			logger.LogAttrs(ctx, slog.LevelInfo, "batch completed", attrs...)
			return res, nil
		},
	}.Wrap
}
