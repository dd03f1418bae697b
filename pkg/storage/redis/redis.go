// Package redis provides a Redis implementation of transport.ExecutionStore.
// Each execution is stored as a JSON value with a TTL; a sorted set per
// tenant, scored by creation time, indexes executions for listing.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/rhuss/codeexec/pkg/api"
	"github.com/rhuss/codeexec/pkg/debug"
	"github.com/rhuss/codeexec/pkg/storage"
	"github.com/rhuss/codeexec/pkg/transport"
)

// Config holds Redis connection and retention settings.
type Config struct {
	Addr     string
	Password string
	DB       int

	// TTL is how long an execution is kept (default: 24h).
	TTL time.Duration

	// Prefix namespaces all keys (default: "codeexec").
	Prefix string
}

func (c *Config) defaults() {
	if c.TTL <= 0 {
		c.TTL = 24 * time.Hour
	}
	if c.Prefix == "" {
		c.Prefix = "codeexec"
	}
}

// record is the stored JSON value.
type record struct {
	TenantID string               `json:"tenant_id,omitempty"`
	Result   *api.ExecutionResult `json:"result"`
}

// Store is a Redis-backed ExecutionStore.
type Store struct {
	client goredis.UniversalClient
	cfg    Config
}

// Ensure Store implements transport.ExecutionStore at compile time.
var _ transport.ExecutionStore = (*Store)(nil)

// New connects to Redis and verifies the connection.
func New(ctx context.Context, cfg Config) (*Store, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", cfg.Addr, err)
	}
	return NewWithClient(client, cfg), nil
}

// NewWithClient wraps an existing client. The store takes ownership and
// closes it in Close.
func NewWithClient(client goredis.UniversalClient, cfg Config) *Store {
	cfg.defaults()
	return &Store{client: client, cfg: cfg}
}

func (s *Store) execKey(id string) string {
	return s.cfg.Prefix + ":exec:" + id
}

func (s *Store) indexKey(tenantID string) string {
	if tenantID == "" {
		tenantID = "_"
	}
	return s.cfg.Prefix + ":idx:" + tenantID
}

// SaveExecution stores the execution with the configured TTL and adds it
// to the tenant index.
func (s *Store) SaveExecution(ctx context.Context, res *api.ExecutionResult) error {
	tenantID := storage.TenantFrom(ctx)
	data, err := json.Marshal(record{TenantID: tenantID, Result: res})
	if err != nil {
		return fmt.Errorf("marshaling execution: %w", err)
	}

	ok, err := s.client.SetNX(ctx, s.execKey(res.ID), data, s.cfg.TTL).Result()
	if err != nil {
		return fmt.Errorf("storing execution: %w", err)
	}
	if !ok {
		return storage.ErrConflict
	}

	idx := s.indexKey(tenantID)
	_, err = s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.ZAdd(ctx, idx, goredis.Z{Score: float64(res.CreatedAt), Member: res.ID})
		pipe.Expire(ctx, idx, s.cfg.TTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("indexing execution: %w", err)
	}
	return nil
}

// GetExecution retrieves an execution by ID, scoped by tenant when present.
func (s *Store) GetExecution(ctx context.Context, id string) (*api.ExecutionResult, error) {
	rec, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	return rec.Result, nil
}

func (s *Store) get(ctx context.Context, id string) (*record, error) {
	data, err := s.client.Get(ctx, s.execKey(id)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading execution: %w", err)
	}

	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshaling execution: %w", err)
	}
	if !storage.Visible(ctx, rec.TenantID) {
		return nil, storage.ErrNotFound
	}
	return &rec, nil
}

// DeleteExecution removes an execution and its index entry.
func (s *Store) DeleteExecution(ctx context.Context, id string) error {
	rec, err := s.get(ctx, id)
	if err != nil {
		return err
	}

	_, err = s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Del(ctx, s.execKey(id))
		pipe.ZRem(ctx, s.indexKey(rec.TenantID), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("deleting execution: %w", err)
	}
	return nil
}

// ListExecutions reads the tenant index, loads the referenced executions and
// paginates them. Index entries whose execution expired are pruned.
func (s *Store) ListExecutions(ctx context.Context, opts transport.ListOptions) (*api.ExecutionList, error) {
	idx := s.indexKey(storage.TenantFrom(ctx))

	ids, err := s.client.ZRange(ctx, idx, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("reading index: %w", err)
	}
	if len(ids) == 0 {
		return storage.Paginate(nil, opts), nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.execKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("reading executions: %w", err)
	}

	var (
		matches []*api.ExecutionResult
		expired []any
	)
	for i, v := range values {
		str, ok := v.(string)
		if !ok {
			expired = append(expired, ids[i])
			continue
		}
		var rec record
		if err := json.Unmarshal([]byte(str), &rec); err != nil {
			return nil, fmt.Errorf("unmarshaling execution %s: %w", ids[i], err)
		}
		if storage.Matches(rec.Result, opts) {
			matches = append(matches, rec.Result)
		}
	}

	if len(expired) > 0 {
		if err := s.client.ZRem(ctx, idx, expired...).Err(); err != nil {
			debug.Log("storage", "redis index prune failed", "index", idx, "error", err)
		}
	}

	return storage.Paginate(matches, opts), nil
}

// HealthCheck pings the server.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the client.
func (s *Store) Close() error {
	return s.client.Close()
}
