// Package api defines the wire types shared by the codeexec client and
// service.
//
// A single execution is described by an [ExecutionRequest]: a program's
// source code, an optional test snippet appended to it, and a language
// identifier selecting the runtime. A [BatchExecutionRequest] carries
// positionally paired source and test snippets; the service answers with a
// [BatchExecutionResult] holding exactly one [ExecutionResult] per pair, in
// submission order.
//
// Failures of the submitted program are results (status "fail" or
// "timeout"), never errors. Errors describe requests the service refused or
// could not process and are reported as [APIError] values wrapped in an
// [ErrorResponse].
//
// The package also carries the legacy plain-text form used by the
// /py_exec and /any_exec endpoints: a "0" or "1" status line followed by the
// captured stdout (on pass) or stderr (otherwise).
//
// The package performs no I/O.
package api
