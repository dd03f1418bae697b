// Package postgres provides a PostgreSQL implementation of
// transport.ExecutionStore. It uses pgx/v5 for connection pooling and
// keyset pagination for listing.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rhuss/codeexec/pkg/api"
	"github.com/rhuss/codeexec/pkg/debug"
	"github.com/rhuss/codeexec/pkg/storage"
	"github.com/rhuss/codeexec/pkg/transport"
)

// uniqueViolation is the SQLSTATE for duplicate keys.
const uniqueViolation = "23505"

// Store is a PostgreSQL-backed ExecutionStore.
type Store struct {
	pool *pgxpool.Pool
}

// Ensure Store implements transport.ExecutionStore at compile time.
var _ transport.ExecutionStore = (*Store)(nil)

// New connects to cfg.DSN and, with MigrateOnStart, brings the schema up
// to date before returning.
func New(ctx context.Context, cfg Config) (*Store, error) {
	poolCfg, err := cfg.poolConfig()
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	s := &Store{pool: pool}

	if cfg.MigrateOnStart {
		if err := s.migrate(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("running migrations: %w", err)
		}
	}

	return s, nil
}

// SaveExecution persists a finished execution.
func (s *Store) SaveExecution(ctx context.Context, res *api.ExecutionResult) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO executions (
			id, tenant_id, language, status, exit_code,
			stdout, stderr, duration_ms, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		res.ID, storage.TenantFrom(ctx), res.Language, string(res.Status), res.ExitCode,
		res.Stdout, res.Stderr, res.DurationMs, res.CreatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return storage.ErrConflict
		}
		return fmt.Errorf("inserting execution: %w", err)
	}
	return nil
}

const selectColumns = `id, language, status, exit_code, stdout, stderr, duration_ms, created_at`

// GetExecution retrieves an execution by ID, scoped by tenant when present.
func (s *Store) GetExecution(ctx context.Context, id string) (*api.ExecutionResult, error) {
	query := "SELECT " + selectColumns + " FROM executions WHERE id = $1"
	args := []any{id}

	if tenantID := storage.TenantFrom(ctx); tenantID != "" {
		query += " AND tenant_id = $2"
		args = append(args, tenantID)
	}

	res, err := scanExecution(s.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying execution: %w", err)
	}
	return res, nil
}

// DeleteExecution removes an execution by ID.
func (s *Store) DeleteExecution(ctx context.Context, id string) error {
	query := "DELETE FROM executions WHERE id = $1"
	args := []any{id}

	if tenantID := storage.TenantFrom(ctx); tenantID != "" {
		query += " AND tenant_id = $2"
		args = append(args, tenantID)
	}

	result, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("deleting execution: %w", err)
	}
	if result.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ListExecutions returns a page of executions ordered by creation time.
// Cursors are resolved to (created_at, id) pairs so pages stay stable while
// new executions are inserted.
func (s *Store) ListExecutions(ctx context.Context, opts transport.ListOptions) (*api.ExecutionList, error) {
	q := newListQuery(storage.TenantFrom(ctx), opts)

	cursorID := opts.After
	if cursorID == "" {
		cursorID = opts.Before
	}
	if cursorID != "" {
		var createdAt int64
		err := s.pool.QueryRow(ctx, "SELECT created_at FROM executions WHERE id = $1", cursorID).Scan(&createdAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return storage.Paginate(nil, opts), nil
		}
		if err != nil {
			return nil, fmt.Errorf("resolving cursor: %w", err)
		}
		q.cursor(createdAt, cursorID, opts.After != "")
	}

	limit := storage.ClampLimit(opts.Limit)
	sql, args := q.build(limit + 1)
	debug.Log("storage", "postgres list", "sql", sql, "args", len(args))

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("listing executions: %w", err)
	}
	defer rows.Close()

	var matches []*api.ExecutionResult
	for rows.Next() {
		res, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning execution: %w", err)
		}
		matches = append(matches, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing executions: %w", err)
	}

	// The rows are already filtered and ordered; Paginate only trims to
	// the limit and builds the envelope.
	page := opts
	page.After, page.Before = "", ""
	return storage.Paginate(matches, page), nil
}

// HealthCheck verifies the database connection.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// listQuery assembles the filtered, ordered SELECT for ListExecutions.
type listQuery struct {
	where []string
	args  []any
	asc   bool
}

func newListQuery(tenantID string, opts transport.ListOptions) *listQuery {
	q := &listQuery{asc: opts.Order == "asc"}
	if tenantID != "" {
		q.add("tenant_id = $%d", tenantID)
	}
	if opts.Language != "" {
		q.add("language = $%d", opts.Language)
	}
	if opts.Status != "" {
		q.add("status = $%d", string(opts.Status))
	}
	return q
}

func (q *listQuery) add(cond string, arg any) {
	q.args = append(q.args, arg)
	q.where = append(q.where, fmt.Sprintf(cond, len(q.args)))
}

// cursor restricts the query to rows after (or before) the cursor row in
// the requested order.
func (q *listQuery) cursor(createdAt int64, id string, after bool) {
	// Rows after the cursor in descending order compare less than it.
	op := "<"
	if q.asc == after {
		op = ">"
	}
	q.args = append(q.args, createdAt, id)
	n := len(q.args)
	q.where = append(q.where, fmt.Sprintf("(created_at, id) %s ($%d, $%d)", op, n-1, n))
}

func (q *listQuery) build(limit int) (string, []any) {
	var b strings.Builder
	b.WriteString("SELECT " + selectColumns + " FROM executions")
	if len(q.where) > 0 {
		b.WriteString(" WHERE " + strings.Join(q.where, " AND "))
	}
	if q.asc {
		b.WriteString(" ORDER BY created_at ASC, id ASC")
	} else {
		b.WriteString(" ORDER BY created_at DESC, id DESC")
	}
	fmt.Fprintf(&b, " LIMIT %d", limit)
	return b.String(), q.args
}

// scanExecution reads one row in selectColumns order.
func scanExecution(row pgx.Row) (*api.ExecutionResult, error) {
	var res api.ExecutionResult
	var status string
	err := row.Scan(
		&res.ID, &res.Language, &status, &res.ExitCode,
		&res.Stdout, &res.Stderr, &res.DurationMs, &res.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	res.SetStatus(api.ExecutionStatus(status))
	return &res, nil
}

// isDuplicateKey checks if the error is a PostgreSQL unique violation.
func isDuplicateKey(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
