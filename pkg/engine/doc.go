// Package engine implements the core orchestration logic for codeexec.
// The Engine struct implements transport.Executor, bridging incoming
// execution requests to a runner backend. It validates requests, assembles
// programs, fans batches out over a bounded worker group while keeping the
// one-result-per-pair invariant, records metrics, and saves results to the
// optional history store. Optional capabilities (storage, coverage) use
// nil-safe composition for graceful degradation.
package engine
