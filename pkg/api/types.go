package api

import "time"

// ExecutionStatus is the outcome of running one program.
type ExecutionStatus string

const (
	// StatusPass means the program exited with code 0.
	StatusPass ExecutionStatus = "pass"
	// StatusFail means the program exited with a non-zero code.
	StatusFail ExecutionStatus = "fail"
	// StatusTimeout means the program was killed after its deadline.
	StatusTimeout ExecutionStatus = "timeout"
	// StatusError means the program could not be run at all.
	StatusError ExecutionStatus = "error"
)

// ExecutionRequest asks the service to run one program.
//
// The executed program is SourceCode, followed by a newline and TestCode
// when TestCode is non-empty. An empty Language selects [DefaultLanguage].
type ExecutionRequest struct {
	SourceCode     string `json:"source_code"`
	TestCode       string `json:"test_code"`
	Language       string `json:"language,omitempty"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
}

// BatchExecutionRequest asks the service to run several programs in one call.
// SourceCodes[i] is paired with TestCodes[i]; both slices must have the
// same length. Language applies to the whole batch.
type BatchExecutionRequest struct {
	SourceCodes    []string `json:"source_codes"`
	TestCodes      []string `json:"test_codes"`
	Language       string   `json:"language,omitempty"`
	TimeoutSeconds int      `json:"timeout_seconds,omitempty"`
}

// Len returns the number of code/test pairs in the batch.
func (r *BatchExecutionRequest) Len() int {
	return len(r.SourceCodes)
}

// Item returns the single-execution request for position i.
func (r *BatchExecutionRequest) Item(i int) *ExecutionRequest {
	return &ExecutionRequest{
		SourceCode:     r.SourceCodes[i],
		TestCode:       r.TestCodes[i],
		Language:       r.Language,
		TimeoutSeconds: r.TimeoutSeconds,
	}
}

// ExecutionResult is the outcome of one program run.
type ExecutionResult struct {
	ID         string          `json:"id"`
	Language   string          `json:"language"`
	Status     ExecutionStatus `json:"status"`
	Passed     bool            `json:"passed"`
	ExitCode   int             `json:"exit_code"`
	Stdout     string          `json:"stdout"`
	Stderr     string          `json:"stderr"`
	DurationMs int64           `json:"duration_ms"`
	CreatedAt  int64           `json:"created_at"`
}

// SetStatus sets Status and keeps Passed consistent with it.
func (r *ExecutionResult) SetStatus(s ExecutionStatus) {
	r.Status = s
	r.Passed = s == StatusPass
}

// Duration returns the measured run time.
func (r *ExecutionResult) Duration() time.Duration {
	return time.Duration(r.DurationMs) * time.Millisecond
}

// BatchExecutionResult holds one result per submitted pair, in order.
type BatchExecutionResult struct {
	Results []*ExecutionResult `json:"results"`
}

// CoverageRequest asks the service to measure line coverage of a Python program.
type CoverageRequest struct {
	Code           string `json:"code"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
}

// CoverageResult carries the total coverage percentage, or -1 when the
// program failed or the report could not be read.
type CoverageResult struct {
	Coverage int `json:"coverage"`
}

// HealthStatus describes the service for health and readiness probes.
type HealthStatus struct {
	Status     string   `json:"status"`
	Runner     string   `json:"runner"`
	Languages  []string `json:"languages"`
	Capacity   int      `json:"capacity"`
	InFlight   int      `json:"in_flight"`
	UptimeSecs int64    `json:"uptime_seconds"`
}

// ExecutionList is a page of stored execution results.
type ExecutionList struct {
	Object  string             `json:"object"`
	Data    []*ExecutionResult `json:"data"`
	HasMore bool               `json:"has_more"`
	FirstID string             `json:"first_id"`
	LastID  string             `json:"last_id"`
}

// Program joins source and test code into the text that is executed.
func Program(source, test string) string {
	if test == "" {
		return source
	}
	return source + "\n" + test
}
