// Package storage provides utilities shared across storage adapter
// implementations, including sentinel errors, tenant context helpers and
// list pagination.
//
// Storage adapters (memory, postgres, redis) implement the
// transport.ExecutionStore interface defined in pkg/transport/handler.go.
package storage
