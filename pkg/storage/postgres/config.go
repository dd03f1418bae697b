package postgres

import (
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Config describes the connection pool. Zero fields take the defaults
// below; DSN is required.
type Config struct {
	DSN             string
	MaxConns        int32         // 25
	MinConns        int32         // 2, capped at MaxConns
	MaxConnLifetime time.Duration // 5m
	MigrateOnStart  bool
}

func (c Config) poolConfig() (*pgxpool.Config, error) {
	pc, err := pgxpool.ParseConfig(c.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing DSN: %w", err)
	}
	pc.MaxConns = orDefault(c.MaxConns, 25)
	pc.MinConns = min(orDefault(c.MinConns, 2), pc.MaxConns)
	pc.MaxConnLifetime = orDefault(c.MaxConnLifetime, 5*time.Minute)
	return pc, nil
}

func orDefault[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}
