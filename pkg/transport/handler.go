package transport

import (
	"context"

	"github.com/rhuss/codeexec/pkg/api"
)

// Executor runs programs on behalf of a request. It is the primary handler
// contract, available whether or not execution history is stored.
type Executor interface {
	// Execute runs one program. Failures of the program itself are reported
	// in the result; the error is reserved for invalid requests and
	// infrastructure failures.
	Execute(ctx context.Context, req *api.ExecutionRequest) (*api.ExecutionResult, error)

	// ExecuteBatch runs every pair of the batch and returns exactly one
	// result per pair, in input order.
	ExecuteBatch(ctx context.Context, req *api.BatchExecutionRequest) (*api.BatchExecutionResult, error)

	// Coverage measures line coverage of a Python program.
	Coverage(ctx context.Context, req *api.CoverageRequest) (*api.CoverageResult, error)

	// Health reports the runner state for probes.
	Health(ctx context.Context) *api.HealthStatus
}

// ListOptions controls pagination, filtering, and ordering for list operations.
type ListOptions struct {
	After    string              // Cursor: return items after this ID.
	Before   string              // Cursor: return items before this ID.
	Limit    int                 // Maximum number of items to return (default 20, max 100).
	Language string              // Filter by canonical language.
	Status   api.ExecutionStatus // Filter by status.
	Order    string              // Sort order: "asc" or "desc" (default "desc").
}

// ExecutionHistory gives read and delete access to stored executions.
type ExecutionHistory interface {
	// GetExecution retrieves an execution by ID.
	GetExecution(ctx context.Context, id string) (*api.ExecutionResult, error)

	// ListExecutions returns a paginated list of stored executions, filtered
	// by tenant (when present in context), language and status.
	ListExecutions(ctx context.Context, opts ListOptions) (*api.ExecutionList, error)

	// DeleteExecution removes an execution by ID.
	DeleteExecution(ctx context.Context, id string) error
}

// ExecutionStore handles persistence, retrieval, and deletion of execution
// results. It is only available when history storage is configured.
// Lookups of unknown IDs return storage.ErrNotFound.
type ExecutionStore interface {
	ExecutionHistory

	// SaveExecution persists a finished execution.
	SaveExecution(ctx context.Context, res *api.ExecutionResult) error

	// HealthCheck verifies the store connection is functional.
	HealthCheck(ctx context.Context) error

	// Close releases connections and resources.
	Close() error
}
