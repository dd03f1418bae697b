package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rhuss/codeexec/pkg/api"
	"github.com/rhuss/codeexec/pkg/runner"
	"github.com/rhuss/codeexec/pkg/storage/memory"
	"github.com/rhuss/codeexec/pkg/transport"
)

// fakeRunner implements runner.Runner for testing. By default every program
// passes and echoes its code on stdout.
type fakeRunner struct {
	capacity int
	runFn    func(ctx context.Context, p *runner.Program) (*runner.Outcome, error)

	mu       sync.Mutex
	programs []*runner.Program

	active atomic.Int32
	peak   atomic.Int32
}

func (f *fakeRunner) Name() string        { return "fake" }
func (f *fakeRunner) Languages() []string { return api.Languages() }
func (f *fakeRunner) Capacity() int       { return f.capacity }
func (f *fakeRunner) InFlight() int       { return int(f.active.Load()) }
func (f *fakeRunner) Close() error        { return nil }

func (f *fakeRunner) Run(ctx context.Context, p *runner.Program) (*runner.Outcome, error) {
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		old := f.peak.Load()
		if n <= old || f.peak.CompareAndSwap(old, n) {
			break
		}
	}

	f.mu.Lock()
	f.programs = append(f.programs, p)
	f.mu.Unlock()

	if f.runFn != nil {
		return f.runFn(ctx, p)
	}
	return &runner.Outcome{Status: api.StatusPass, Stdout: p.Code, Duration: time.Millisecond}, nil
}

func (f *fakeRunner) lastProgram() *runner.Program {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.programs[len(f.programs)-1]
}

// coverageRunner adds coverage support to fakeRunner.
type coverageRunner struct {
	fakeRunner
	pct     int
	timeout time.Duration
}

func (c *coverageRunner) Coverage(_ context.Context, _ string, timeout time.Duration) (int, error) {
	c.timeout = timeout
	return c.pct, nil
}

// failingStore is a memory store whose health check fails.
type failingStore struct {
	*memory.Store
}

func (s failingStore) HealthCheck(context.Context) error { return errors.New("connection refused") }

func newTestEngine(t *testing.T, r runner.Runner, store transport.ExecutionStore) *Engine {
	t.Helper()
	e, err := New(r, store, Config{Validation: api.DefaultValidationConfig()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

func requireAPIError(t *testing.T, err error, typ api.ErrorType, param string) {
	t.Helper()
	var apiErr *api.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *api.APIError, got %T: %v", err, err)
	}
	if apiErr.Type != typ {
		t.Errorf("error type = %q, want %q", apiErr.Type, typ)
	}
	if param != "" && apiErr.Param != param {
		t.Errorf("error param = %q, want %q", apiErr.Param, param)
	}
}

func TestNewRequiresRunner(t *testing.T) {
	if _, err := New(nil, nil, Config{}); err == nil {
		t.Fatal("expected error for nil runner")
	}
}

func TestExecute_Pass(t *testing.T) {
	r := &fakeRunner{capacity: 2}
	e := newTestEngine(t, r, nil)

	res, err := e.Execute(context.Background(), &api.ExecutionRequest{
		SourceCode: "x = 1",
		TestCode:   "assert x == 1",
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if !res.Passed || res.Status != api.StatusPass {
		t.Errorf("result = %+v, want pass", res)
	}
	if res.Language != api.LanguagePython {
		t.Errorf("language = %q, want default python", res.Language)
	}
	if !api.ValidateExecutionID(res.ID) {
		t.Errorf("malformed id %q", res.ID)
	}
	if res.CreatedAt == 0 {
		t.Error("created_at not set")
	}

	p := r.lastProgram()
	if p.Code != "x = 1\nassert x == 1" {
		t.Errorf("program = %q", p.Code)
	}
	if p.Timeout != 25*time.Second {
		t.Errorf("timeout = %v, want 25s default", p.Timeout)
	}
}

func TestExecute_StatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		status api.ExecutionStatus
		passed bool
	}{
		{"fail", api.StatusFail, false},
		{"timeout", api.StatusTimeout, false},
		{"error", api.StatusError, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &fakeRunner{runFn: func(context.Context, *runner.Program) (*runner.Outcome, error) {
				return &runner.Outcome{Status: tt.status, ExitCode: 1, Stderr: "AssertionError: boom"}, nil
			}}
			e := newTestEngine(t, r, nil)

			res, err := e.Execute(context.Background(), &api.ExecutionRequest{SourceCode: "assert False, 'boom'"})
			if err != nil {
				t.Fatalf("Execute: %v", err)
			}
			if res.Status != tt.status || res.Passed != tt.passed {
				t.Errorf("status=%q passed=%v, want %q/%v", res.Status, res.Passed, tt.status, tt.passed)
			}
			if res.Stderr != "AssertionError: boom" {
				t.Errorf("stderr = %q", res.Stderr)
			}
		})
	}
}

func TestExecute_RequestTimeout(t *testing.T) {
	r := &fakeRunner{}
	e := newTestEngine(t, r, nil)

	if _, err := e.Execute(context.Background(), &api.ExecutionRequest{SourceCode: "1", TimeoutSeconds: 3}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got := r.lastProgram().Timeout; got != 3*time.Second {
		t.Errorf("timeout = %v, want 3s", got)
	}

	_, err := e.Execute(context.Background(), &api.ExecutionRequest{SourceCode: "1", TimeoutSeconds: 1000})
	requireAPIError(t, err, api.ErrorTypeInvalidRequest, "timeout_seconds")
}

func TestExecute_LanguageErrors(t *testing.T) {
	e := newTestEngine(t, &fakeRunner{}, nil)
	_, err := e.Execute(context.Background(), &api.ExecutionRequest{SourceCode: "1", Language: "Python"})
	requireAPIError(t, err, api.ErrorTypeInvalidRequest, "language")

	unavailable := &fakeRunner{runFn: func(context.Context, *runner.Program) (*runner.Outcome, error) {
		return nil, runner.ErrUnsupportedLanguage
	}}
	e = newTestEngine(t, unavailable, nil)
	_, err = e.Execute(context.Background(), &api.ExecutionRequest{SourceCode: "1", Language: "go"})
	requireAPIError(t, err, api.ErrorTypeInvalidRequest, "language")
}

func TestExecute_InfrastructureError(t *testing.T) {
	boom := errors.New("work dir unavailable")
	r := &fakeRunner{runFn: func(context.Context, *runner.Program) (*runner.Outcome, error) {
		return nil, boom
	}}
	e := newTestEngine(t, r, nil)

	_, err := e.Execute(context.Background(), &api.ExecutionRequest{SourceCode: "1"})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped runner error, got %v", err)
	}
}

func TestExecuteBatch_PreservesOrder(t *testing.T) {
	r := &fakeRunner{capacity: 3, runFn: func(_ context.Context, p *runner.Program) (*runner.Outcome, error) {
		// Later items finish first.
		delay := 20 - len(p.Code)
		if delay > 0 {
			time.Sleep(time.Duration(delay) * time.Millisecond)
		}
		return &runner.Outcome{Status: api.StatusPass, Stdout: p.Code}, nil
	}}
	e := newTestEngine(t, r, nil)

	codes := make([]string, 12)
	tests := make([]string, 12)
	for i := range codes {
		codes[i] = strings.Repeat("x", i+1)
	}

	out, err := e.ExecuteBatch(context.Background(), &api.BatchExecutionRequest{
		SourceCodes: codes,
		TestCodes:   tests,
		Language:    "ts",
	})
	if err != nil {
		t.Fatalf("ExecuteBatch: %v", err)
	}

	if len(out.Results) != len(codes) {
		t.Fatalf("got %d results, want %d", len(out.Results), len(codes))
	}
	for i, res := range out.Results {
		if res.Stdout != codes[i] {
			t.Errorf("results[%d].stdout = %q, want %q", i, res.Stdout, codes[i])
		}
		if res.Language != api.LanguageTypeScript {
			t.Errorf("results[%d].language = %q", i, res.Language)
		}
	}
	if peak := r.peak.Load(); peak > 3 {
		t.Errorf("peak concurrency %d exceeds runner capacity 3", peak)
	}
}

func TestExecuteBatch_ParallelismOverride(t *testing.T) {
	r := &fakeRunner{capacity: 8, runFn: func(_ context.Context, p *runner.Program) (*runner.Outcome, error) {
		time.Sleep(5 * time.Millisecond)
		return &runner.Outcome{Status: api.StatusPass}, nil
	}}
	e, _ := New(r, nil, Config{BatchParallelism: 1})

	codes := []string{"a", "b", "c", "d"}
	if _, err := e.ExecuteBatch(context.Background(), &api.BatchExecutionRequest{
		SourceCodes: codes,
		TestCodes:   make([]string, len(codes)),
	}); err != nil {
		t.Fatalf("ExecuteBatch: %v", err)
	}
	if peak := r.peak.Load(); peak != 1 {
		t.Errorf("peak concurrency = %d, want 1", peak)
	}
}

func TestExecuteBatch_LengthMismatch(t *testing.T) {
	r := &fakeRunner{}
	e := newTestEngine(t, r, nil)

	_, err := e.ExecuteBatch(context.Background(), &api.BatchExecutionRequest{
		SourceCodes: []string{"a", "b"},
		TestCodes:   []string{"a"},
	})
	requireAPIError(t, err, api.ErrorTypeInvalidRequest, "test_codes")
	if len(r.programs) != 0 {
		t.Errorf("runner called %d times for an invalid batch", len(r.programs))
	}
}

func TestExecuteBatch_Empty(t *testing.T) {
	e := newTestEngine(t, &fakeRunner{}, nil)

	out, err := e.ExecuteBatch(context.Background(), &api.BatchExecutionRequest{
		SourceCodes: []string{},
		TestCodes:   []string{},
	})
	if err != nil {
		t.Fatalf("ExecuteBatch: %v", err)
	}
	if out.Results == nil || len(out.Results) != 0 {
		t.Errorf("expected empty non-nil results, got %#v", out.Results)
	}
}

func TestExecuteBatch_ItemErrorKeepsPosition(t *testing.T) {
	r := &fakeRunner{runFn: func(_ context.Context, p *runner.Program) (*runner.Outcome, error) {
		if p.Code == "boom" {
			return nil, errors.New("container create failed")
		}
		return &runner.Outcome{Status: api.StatusPass, Stdout: p.Code}, nil
	}}
	e := newTestEngine(t, r, nil)

	out, err := e.ExecuteBatch(context.Background(), &api.BatchExecutionRequest{
		SourceCodes: []string{"ok1", "boom", "ok2"},
		TestCodes:   []string{"", "", ""},
	})
	if err != nil {
		t.Fatalf("ExecuteBatch: %v", err)
	}
	if len(out.Results) != 3 {
		t.Fatalf("got %d results, want 3", len(out.Results))
	}
	if out.Results[1].Status != api.StatusError || out.Results[1].Passed {
		t.Errorf("results[1] = %+v, want error status", out.Results[1])
	}
	if !strings.Contains(out.Results[1].Stderr, "container create failed") {
		t.Errorf("results[1].stderr = %q", out.Results[1].Stderr)
	}
	if out.Results[0].Stdout != "ok1" || out.Results[2].Stdout != "ok2" {
		t.Errorf("neighbouring results disturbed: %+v %+v", out.Results[0], out.Results[2])
	}
}

func TestExecuteBatch_Cancelled(t *testing.T) {
	r := &fakeRunner{runFn: func(ctx context.Context, _ *runner.Program) (*runner.Outcome, error) {
		return nil, ctx.Err()
	}}
	e := newTestEngine(t, r, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.ExecuteBatch(ctx, &api.BatchExecutionRequest{
		SourceCodes: []string{"a", "b"},
		TestCodes:   []string{"", ""},
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestHistory(t *testing.T) {
	store := memory.New(100)
	e := newTestEngine(t, &fakeRunner{}, store)
	ctx := context.Background()

	if !e.HasHistory() {
		t.Fatal("expected history to be enabled")
	}

	res, err := e.Execute(ctx, &api.ExecutionRequest{SourceCode: "print(1)"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	batch, err := e.ExecuteBatch(ctx, &api.BatchExecutionRequest{
		SourceCodes: []string{"a", "b"},
		TestCodes:   []string{"", ""},
	})
	if err != nil {
		t.Fatalf("ExecuteBatch: %v", err)
	}

	got, err := e.GetExecution(ctx, res.ID)
	if err != nil {
		t.Fatalf("GetExecution: %v", err)
	}
	if got.Stdout != "print(1)" {
		t.Errorf("stored stdout = %q", got.Stdout)
	}

	list, err := e.ListExecutions(ctx, transport.ListOptions{})
	if err != nil {
		t.Fatalf("ListExecutions: %v", err)
	}
	if len(list.Data) != 3 {
		t.Errorf("listed %d executions, want 3", len(list.Data))
	}

	if err := e.DeleteExecution(ctx, batch.Results[0].ID); err != nil {
		t.Fatalf("DeleteExecution: %v", err)
	}
	_, err = e.GetExecution(ctx, batch.Results[0].ID)
	requireAPIError(t, err, api.ErrorTypeNotFound, "")

	err = e.DeleteExecution(ctx, "exec_missing")
	requireAPIError(t, err, api.ErrorTypeNotFound, "")
}

func TestHistoryDisabled(t *testing.T) {
	e := newTestEngine(t, &fakeRunner{}, nil)
	if e.HasHistory() {
		t.Fatal("expected history to be disabled")
	}

	_, err := e.GetExecution(context.Background(), "exec_x")
	requireAPIError(t, err, api.ErrorTypeNotFound, "")
	_, err = e.ListExecutions(context.Background(), transport.ListOptions{})
	requireAPIError(t, err, api.ErrorTypeNotFound, "")
}

func TestCoverage(t *testing.T) {
	r := &coverageRunner{pct: 83}
	e := newTestEngine(t, r, nil)

	out, err := e.Coverage(context.Background(), &api.CoverageRequest{Code: "def f():\n    return 1\nf()"})
	if err != nil {
		t.Fatalf("Coverage: %v", err)
	}
	if out.Coverage != 83 {
		t.Errorf("coverage = %d, want 83", out.Coverage)
	}
	if r.timeout != 25*time.Second {
		t.Errorf("timeout = %v, want 25s", r.timeout)
	}

	_, err = e.Coverage(context.Background(), &api.CoverageRequest{Code: "x", TimeoutSeconds: -1})
	requireAPIError(t, err, api.ErrorTypeInvalidRequest, "timeout_seconds")
}

func TestCoverage_UnsupportedRunner(t *testing.T) {
	e := newTestEngine(t, &fakeRunner{}, nil)

	_, err := e.Coverage(context.Background(), &api.CoverageRequest{Code: "x = 1"})
	requireAPIError(t, err, api.ErrorTypeInvalidRequest, "")
}

func TestHealth(t *testing.T) {
	e := newTestEngine(t, &fakeRunner{capacity: 4}, memory.New(10))
	h := e.Health(context.Background())
	if h.Status != "ok" || h.Runner != "fake" || h.Capacity != 4 {
		t.Errorf("health = %+v", h)
	}
	if len(h.Languages) != len(api.Languages()) {
		t.Errorf("languages = %v", h.Languages)
	}

	e = newTestEngine(t, &fakeRunner{}, failingStore{memory.New(10)})
	if h := e.Health(context.Background()); h.Status != "degraded" {
		t.Errorf("status = %q, want degraded", h.Status)
	}
}
