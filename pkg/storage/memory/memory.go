// Package memory provides an in-memory implementation of
// transport.ExecutionStore for testing and lightweight deployments.
// Executions are lost when the process restarts. Optional LRU eviction
// limits memory usage.
package memory

import (
	"container/list"
	"context"
	"sync"

	"github.com/rhuss/codeexec/pkg/api"
	"github.com/rhuss/codeexec/pkg/storage"
	"github.com/rhuss/codeexec/pkg/transport"
)

// entry holds a stored execution and its metadata.
type entry struct {
	res      *api.ExecutionResult
	tenantID string
	lruElem  *list.Element // position in LRU list
}

// Store is an in-memory ExecutionStore with optional LRU eviction.
type Store struct {
	mu      sync.Mutex
	entries map[string]*entry
	lruList *list.List // front = most recently used, back = least recently used
	maxSize int        // 0 = unlimited
}

// Ensure Store implements transport.ExecutionStore at compile time.
var _ transport.ExecutionStore = (*Store)(nil)

// New creates a new in-memory store. If maxSize is 0, the store grows
// without limit. If maxSize > 0, the least recently used entry is evicted
// when the limit is reached.
func New(maxSize int) *Store {
	return &Store{
		entries: make(map[string]*entry),
		lruList: list.New(),
		maxSize: maxSize,
	}
}

// SaveExecution stores an execution in memory.
func (s *Store) SaveExecution(ctx context.Context, res *api.ExecutionResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[res.ID]; exists {
		return storage.ErrConflict
	}

	if s.maxSize > 0 && len(s.entries) >= s.maxSize {
		s.evictOldest()
	}

	elem := s.lruList.PushFront(res.ID)
	s.entries[res.ID] = &entry{
		res:      res,
		tenantID: storage.TenantFrom(ctx),
		lruElem:  elem,
	}
	return nil
}

// GetExecution retrieves an execution by ID and marks it recently used.
// Scoped by tenant when a tenant is present in the context.
func (s *Store) GetExecution(ctx context.Context, id string) (*api.ExecutionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.lookup(ctx, id)
	if !ok {
		return nil, storage.ErrNotFound
	}
	s.lruList.MoveToFront(e.lruElem)
	return e.res, nil
}

// DeleteExecution removes an execution.
func (s *Store) DeleteExecution(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.lookup(ctx, id)
	if !ok {
		return storage.ErrNotFound
	}
	s.lruList.Remove(e.lruElem)
	delete(s.entries, id)
	return nil
}

// ListExecutions returns a paginated list of stored executions filtered by
// tenant, language and status.
func (s *Store) ListExecutions(ctx context.Context, opts transport.ListOptions) (*api.ExecutionList, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matches []*api.ExecutionResult
	for _, e := range s.entries {
		if storage.Visible(ctx, e.tenantID) && storage.Matches(e.res, opts) {
			matches = append(matches, e.res)
		}
	}
	return storage.Paginate(matches, opts), nil
}

// Len returns the number of stored executions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// HealthCheck always returns nil for the in-memory store.
func (s *Store) HealthCheck(_ context.Context) error {
	return nil
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error {
	return nil
}

// lookup finds an entry visible to the context's tenant.
// Must be called with s.mu held.
func (s *Store) lookup(ctx context.Context, id string) (*entry, bool) {
	e, ok := s.entries[id]
	if !ok || !storage.Visible(ctx, e.tenantID) {
		return nil, false
	}
	return e, true
}

// evictOldest removes the least recently used entry.
// Must be called with s.mu held.
func (s *Store) evictOldest() {
	back := s.lruList.Back()
	if back == nil {
		return
	}

	id := back.Value.(string)
	s.lruList.Remove(back)
	delete(s.entries, id)
}
