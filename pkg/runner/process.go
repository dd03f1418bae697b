package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"

	"github.com/rhuss/codeexec/pkg/api"
	"github.com/rhuss/codeexec/pkg/debug"
)

// waitDelay bounds how long Wait blocks on output pipes held open by
// orphaned grandchildren after the process group was killed.
const waitDelay = 2 * time.Second

// ProcessConfig configures a ProcessRunner.
type ProcessConfig struct {
	// Languages is the language table. Nil means DefaultTable.
	Languages Table

	// MaxConcurrent bounds concurrent runs. Zero means runtime.NumCPU().
	MaxConcurrent int

	// WorkDir is the parent of the per-run directories.
	// Empty means $TMPDIR/codeexec.
	WorkDir string

	// MaxOutputBytes caps each of stdout and stderr. Zero means unlimited.
	MaxOutputBytes int

	// CoverageCommand is the coverage tool executable. Empty means "coverage".
	CoverageCommand string

	// CoverageReportTimeout bounds the report step of a coverage run.
	// Zero means 10s.
	CoverageReportTimeout time.Duration

	// Env is appended to the server's environment for every run.
	Env []string
}

// ProcessRunner runs programs as local subprocesses.
type ProcessRunner struct {
	cfg     ProcessConfig
	limiter *limiter
}

// NewProcessRunner creates a ProcessRunner and ensures its work directory exists.
func NewProcessRunner(cfg ProcessConfig) (*ProcessRunner, error) {
	if cfg.Languages == nil {
		cfg.Languages = DefaultTable()
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = runtime.NumCPU()
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = filepath.Join(os.TempDir(), "codeexec")
	}
	if cfg.CoverageCommand == "" {
		cfg.CoverageCommand = "coverage"
	}
	if cfg.CoverageReportTimeout <= 0 {
		cfg.CoverageReportTimeout = 10 * time.Second
	}
	if err := os.MkdirAll(cfg.WorkDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating work dir %s: %w", cfg.WorkDir, err)
	}

	return &ProcessRunner{
		cfg:     cfg,
		limiter: newLimiter(cfg.MaxConcurrent),
	}, nil
}

// Name returns "process".
func (r *ProcessRunner) Name() string { return "process" }

// Languages returns the languages in the runner's table.
func (r *ProcessRunner) Languages() []string { return r.cfg.Languages.Names() }

// Capacity returns the maximum number of concurrent runs.
func (r *ProcessRunner) Capacity() int { return r.limiter.capacity }

// InFlight returns the number of runs currently executing.
func (r *ProcessRunner) InFlight() int { return r.limiter.current() }

// Close is a no-op; per-run directories are removed as each run finishes.
func (r *ProcessRunner) Close() error { return nil }

// Run writes the program into a fresh directory and executes it with the
// language's interpreter.
func (r *ProcessRunner) Run(ctx context.Context, p *Program) (*Outcome, error) {
	lang, err := r.cfg.Languages.Lookup(p.Language)
	if err != nil {
		return nil, err
	}

	release, err := r.limiter.acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("waiting for run permit: %w", err)
	}
	defer release()

	dir, err := os.MkdirTemp(r.cfg.WorkDir, "run-*")
	if err != nil {
		return nil, fmt.Errorf("creating run dir: %w", err)
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "main"+lang.Extension)
	if err := os.WriteFile(path, []byte(p.Code), 0o644); err != nil {
		return nil, fmt.Errorf("writing program: %w", err)
	}

	debug.Log("runner", "process run", "language", p.Language, "dir", dir, "timeout", p.Timeout)
	return r.runCommand(ctx, dir, lang.Argv(path), p.Timeout)
}

// runCommand executes argv in dir under timeout and maps the result to an
// Outcome. The caller holds a permit.
func (r *ProcessRunner) runCommand(ctx context.Context, dir string, argv []string, timeout time.Duration) (*Outcome, error) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), r.cfg.Env...)
	cmd.WaitDelay = waitDelay
	configureProcessGroup(cmd)

	stdout := newCappedBuffer(r.cfg.MaxOutputBytes)
	stderr := newCappedBuffer(r.cfg.MaxOutputBytes)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start)

	out := &Outcome{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: elapsed,
	}

	// The caller going away is not the program's fault.
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var exitErr *exec.ExitError
	switch {
	case runErr == nil:
		out.Status = api.StatusPass
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		out.Status = api.StatusTimeout
		out.ExitCode = -1
		if stderr.Len() == 0 {
			out.Stderr = TimeoutMessage
		}
	case errors.As(runErr, &exitErr):
		out.Status = api.StatusFail
		out.ExitCode = exitErr.ExitCode()
	default:
		// The interpreter could not be started.
		out.Status = api.StatusError
		out.ExitCode = -1
		out.Stderr = runErr.Error()
		slog.Warn("program failed to start", "command", argv[0], "error", runErr)
	}

	debug.Log("runner", "process done",
		"command", argv[0],
		"status", out.Status,
		"exit_code", out.ExitCode,
		"duration_ms", elapsed.Milliseconds(),
		"stdout_len", len(out.Stdout),
		"stderr_len", len(out.Stderr),
	)
	return out, nil
}
