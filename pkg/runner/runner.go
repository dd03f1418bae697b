// Package runner executes assembled programs and reports their outcome.
//
// Two backends are provided: ProcessRunner runs the language interpreter as a
// local subprocess, DockerRunner runs it in a throwaway container. Both bound
// concurrency with a weighted semaphore and enforce a per-run deadline.
package runner

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rhuss/codeexec/pkg/api"

	"golang.org/x/sync/semaphore"
)

// ErrUnsupportedLanguage is returned when a program names a language the
// runner has no table entry for.
var ErrUnsupportedLanguage = errors.New("unsupported language")

// ErrCoverageUnsupported is returned by runners that cannot measure coverage.
var ErrCoverageUnsupported = errors.New("coverage is not supported by this runner")

// TimeoutMessage is reported on stderr when a program is killed at its
// deadline without having written anything itself.
const TimeoutMessage = "Timeout"

// Program is a fully assembled program ready to run.
type Program struct {
	Language string // canonical identifier
	Code     string
	Timeout  time.Duration
}

// Outcome is what a single run produced.
type Outcome struct {
	Status   api.ExecutionStatus
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Runner executes programs.
//
// Run returns an error only for infrastructure failures (the work directory
// could not be created, the container daemon is unreachable, the caller's
// context was cancelled). Anything the program itself does, including failing
// to start its interpreter, is reported in the Outcome.
type Runner interface {
	// Name identifies the backend, e.g. "process" or "docker".
	Name() string

	// Run executes p and blocks until it exits or its deadline passes.
	Run(ctx context.Context, p *Program) (*Outcome, error)

	// Languages returns the canonical identifiers this runner can execute.
	Languages() []string

	// Capacity is the maximum number of concurrent runs.
	Capacity() int

	// InFlight is the number of runs currently holding a permit.
	InFlight() int

	// Close releases resources held by the runner.
	Close() error
}

// CoverageRunner is implemented by runners that can measure Python line coverage.
type CoverageRunner interface {
	// Coverage runs code under the coverage tool and returns the total
	// percentage, or -1 when the program failed or the report was unreadable.
	Coverage(ctx context.Context, code string, timeout time.Duration) (int, error)
}

// limiter bounds concurrent runs and counts the permits in use.
type limiter struct {
	sem      *semaphore.Weighted
	capacity int
	inFlight atomic.Int64
}

func newLimiter(capacity int) *limiter {
	return &limiter{
		sem:      semaphore.NewWeighted(int64(capacity)),
		capacity: capacity,
	}
}

// acquire blocks until a permit is free or ctx is done. The returned
// function releases the permit.
func (l *limiter) acquire(ctx context.Context) (func(), error) {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	l.inFlight.Add(1)
	return func() {
		l.inFlight.Add(-1)
		l.sem.Release(1)
	}, nil
}

func (l *limiter) current() int {
	return int(l.inFlight.Load())
}
