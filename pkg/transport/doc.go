// Package transport defines the handler interfaces and middleware chain for
// the codeexec HTTP transport layer.
//
// The transport layer bridges external clients and the execution engine. It
// deserializes incoming requests into the types defined in pkg/api,
// dispatches them for execution, and serializes results back to the client
// as JSON (or as the legacy text form on the compatibility routes).
//
// # Handler Interfaces
//
// Two interfaces define the contract between the transport layer and the
// engine:
//
//   - Executor runs single, batched and coverage executions and reports
//     health. It is always available.
//   - ExecutionStore persists finished executions for later retrieval. It is
//     only available when history storage is configured.
//
// # Middleware
//
// The middleware chain wraps Executor with cross-cutting concerns. Built-in
// middleware provides panic recovery, request ID assignment (X-Request-ID)
// and structured logging via log/slog. Hooks lets a middleware intercept only
// the operations it cares about.
package transport
