package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/rhuss/codeexec/pkg/api"
	"github.com/rhuss/codeexec/pkg/debug"
	"github.com/rhuss/codeexec/pkg/observability"
	"github.com/rhuss/codeexec/pkg/runner"
	"github.com/rhuss/codeexec/pkg/storage"
	"github.com/rhuss/codeexec/pkg/transport"
)

// ErrResultCountMismatch is returned when a batch produced a different
// number of results than it had pairs. It indicates a bug, never a
// property of the submitted programs.
var ErrResultCountMismatch = errors.New("batch result count does not match request")

// Engine orchestrates request processing between the transport layer
// and the runner backend. It implements transport.Executor and
// transport.ExecutionHistory.
type Engine struct {
	runner  runner.Runner
	store   transport.ExecutionStore
	cfg     Config
	started time.Time
}

// Ensure Engine implements the transport interfaces at compile time.
var (
	_ transport.Executor         = (*Engine)(nil)
	_ transport.ExecutionHistory = (*Engine)(nil)
)

// New creates a new Engine. The runner must not be nil. The store
// can be nil when no execution history is kept.
func New(r runner.Runner, store transport.ExecutionStore, cfg Config) (*Engine, error) {
	if r == nil {
		return nil, fmt.Errorf("engine: runner must not be nil")
	}
	return &Engine{
		runner:  r,
		store:   store,
		cfg:     cfg,
		started: time.Now(),
	}, nil
}

// Execute validates and runs one program.
func (e *Engine) Execute(ctx context.Context, req *api.ExecutionRequest) (*api.ExecutionResult, error) {
	if apiErr := api.ValidateExecution(req, e.cfg.Validation); apiErr != nil {
		return nil, apiErr
	}

	res, err := e.execute(ctx, req)
	if err != nil {
		return nil, err
	}
	e.save(ctx, res)
	return res, nil
}

// ExecuteBatch validates the batch and runs every pair with bounded
// parallelism. results[i] always belongs to pair i; a pair whose run fails
// for infrastructure reasons gets an error result at its position instead
// of failing the whole batch.
func (e *Engine) ExecuteBatch(ctx context.Context, req *api.BatchExecutionRequest) (*api.BatchExecutionResult, error) {
	if apiErr := api.ValidateBatch(req, e.cfg.Validation); apiErr != nil {
		return nil, apiErr
	}

	n := req.Len()
	observability.BatchSize.Observe(float64(n))
	debug.Log("engine", "batch started", "size", n, "language", req.Language)

	results := make([]*api.ExecutionResult, n)

	var g errgroup.Group
	g.SetLimit(e.parallelism())
	for i := range n {
		g.Go(func() error {
			item := req.Item(i)
			res, err := e.execute(ctx, item)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				debug.Log("engine", "batch item failed", "index", i, "error", err)
				res = errorResult(item.Language, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i, res := range results {
		if res == nil {
			return nil, fmt.Errorf("%w: missing result at index %d", ErrResultCountMismatch, i)
		}
		e.save(ctx, res)
	}

	return &api.BatchExecutionResult{Results: results}, nil
}

// Coverage measures line coverage of a Python program. It requires a
// runner that implements runner.CoverageRunner.
func (e *Engine) Coverage(ctx context.Context, req *api.CoverageRequest) (*api.CoverageResult, error) {
	cr, ok := e.runner.(runner.CoverageRunner)
	if !ok {
		return nil, api.NewInvalidRequestError("", fmt.Sprintf("coverage is not supported by the %s runner", e.runner.Name()))
	}

	if limit := e.cfg.Validation.MaxCodeSize; limit > 0 && len(req.Code) > limit {
		return nil, api.NewInvalidRequestError("code", fmt.Sprintf("program exceeds maximum size of %d bytes", limit))
	}
	if req.TimeoutSeconds < 0 {
		return nil, api.NewInvalidRequestError("timeout_seconds", "timeout_seconds must not be negative")
	}
	if limit := e.cfg.Validation.MaxTimeoutSecs; limit > 0 && req.TimeoutSeconds > limit {
		return nil, api.NewInvalidRequestError("timeout_seconds", fmt.Sprintf("timeout_seconds exceeds maximum of %d", limit))
	}

	ctx, span := observability.Tracer("engine").Start(ctx, "engine.Coverage")
	defer span.End()

	pct, err := cr.Coverage(ctx, req.Code, e.cfg.timeout(req.TimeoutSeconds))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if errors.Is(err, runner.ErrCoverageUnsupported) {
			return nil, api.NewInvalidRequestError("", err.Error())
		}
		return nil, err
	}

	result := "ok"
	if pct < 0 {
		result = "failed"
	}
	observability.CoverageRunsTotal.WithLabelValues(result).Inc()
	span.SetAttributes(attribute.Int("codeexec.coverage", pct))

	return &api.CoverageResult{Coverage: pct}, nil
}

// Health reports the runner state. The status is "degraded" when a
// configured history store fails its health check.
func (e *Engine) Health(ctx context.Context) *api.HealthStatus {
	status := "ok"
	if e.store != nil {
		if err := e.store.HealthCheck(ctx); err != nil {
			slog.Warn("store health check failed", "error", err)
			status = "degraded"
		}
	}
	return &api.HealthStatus{
		Status:     status,
		Runner:     e.runner.Name(),
		Languages:  e.runner.Languages(),
		Capacity:   e.runner.Capacity(),
		InFlight:   e.runner.InFlight(),
		UptimeSecs: int64(time.Since(e.started).Seconds()),
	}
}

// HasHistory reports whether executions are being stored.
func (e *Engine) HasHistory() bool {
	return e.store != nil
}

// GetExecution retrieves a stored execution.
func (e *Engine) GetExecution(ctx context.Context, id string) (*api.ExecutionResult, error) {
	if e.store == nil {
		return nil, errHistoryDisabled
	}
	res, err := e.store.GetExecution(ctx, id)
	if err != nil {
		return nil, mapStoreError(err, id)
	}
	return res, nil
}

// ListExecutions returns a page of stored executions.
func (e *Engine) ListExecutions(ctx context.Context, opts transport.ListOptions) (*api.ExecutionList, error) {
	if e.store == nil {
		return nil, errHistoryDisabled
	}
	return e.store.ListExecutions(ctx, opts)
}

// DeleteExecution removes a stored execution.
func (e *Engine) DeleteExecution(ctx context.Context, id string) error {
	if e.store == nil {
		return errHistoryDisabled
	}
	if err := e.store.DeleteExecution(ctx, id); err != nil {
		return mapStoreError(err, id)
	}
	return nil
}

var errHistoryDisabled = api.NewNotFoundError("execution history is not enabled")

func mapStoreError(err error, id string) error {
	if errors.Is(err, storage.ErrNotFound) {
		return api.NewNotFoundError(fmt.Sprintf("execution %s not found", id))
	}
	return err
}

// execute runs an already validated request and builds its result.
func (e *Engine) execute(ctx context.Context, req *api.ExecutionRequest) (*api.ExecutionResult, error) {
	ctx, span := observability.Tracer("engine").Start(ctx, "engine.Execute",
		trace.WithAttributes(attribute.String("codeexec.language", req.Language)))
	defer span.End()

	prog := &runner.Program{
		Language: req.Language,
		Code:     api.Program(req.SourceCode, req.TestCode),
		Timeout:  e.cfg.timeout(req.TimeoutSeconds),
	}

	observability.RunnerInFlight.Inc()
	out, err := e.runner.Run(ctx, prog)
	observability.RunnerInFlight.Dec()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if errors.Is(err, runner.ErrUnsupportedLanguage) {
			return nil, api.NewInvalidRequestError("language",
				fmt.Sprintf("language %q is not available on the %s runner", req.Language, e.runner.Name()))
		}
		return nil, fmt.Errorf("running program: %w", err)
	}

	res := &api.ExecutionResult{
		ID:         api.NewExecutionID(),
		Language:   req.Language,
		ExitCode:   out.ExitCode,
		Stdout:     out.Stdout,
		Stderr:     out.Stderr,
		DurationMs: out.Duration.Milliseconds(),
		CreatedAt:  time.Now().Unix(),
	}
	res.SetStatus(out.Status)

	span.SetAttributes(
		attribute.String("codeexec.status", string(res.Status)),
		attribute.Int("codeexec.exit_code", res.ExitCode),
	)
	observability.ExecutionsTotal.WithLabelValues(res.Language, string(res.Status)).Inc()
	observability.ExecutionDuration.WithLabelValues(res.Language).Observe(out.Duration.Seconds())

	debug.Log("engine", "execution finished",
		"id", res.ID, "language", res.Language, "status", res.Status, "duration_ms", res.DurationMs)
	return res, nil
}

// save stores res when history is enabled. Storage failures are logged; the
// caller still gets its result.
func (e *Engine) save(ctx context.Context, res *api.ExecutionResult) {
	if e.store == nil {
		return
	}
	if err := e.store.SaveExecution(ctx, res); err != nil {
		slog.Warn("failed to store execution", "id", res.ID, "error", err)
	}
}

func (e *Engine) parallelism() int {
	if e.cfg.BatchParallelism > 0 {
		return e.cfg.BatchParallelism
	}
	if c := e.runner.Capacity(); c > 0 {
		return c
	}
	return 1
}

// errorResult reports an infrastructure failure of one batch item.
func errorResult(language string, err error) *api.ExecutionResult {
	res := &api.ExecutionResult{
		ID:        api.NewExecutionID(),
		Language:  language,
		ExitCode:  -1,
		Stderr:    err.Error(),
		CreatedAt: time.Now().Unix(),
	}
	res.SetStatus(api.StatusError)
	observability.ExecutionsTotal.WithLabelValues(language, string(api.StatusError)).Inc()
	return res
}
