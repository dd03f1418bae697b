package engine

import (
	"time"

	"github.com/rhuss/codeexec/pkg/api"
)

// Config holds configuration for the core engine.
type Config struct {
	// Validation bounds request sizes and timeouts.
	Validation api.ValidationConfig

	// DefaultTimeout applies when a request omits timeout_seconds.
	// Zero or negative means use the default of 25s.
	DefaultTimeout time.Duration

	// BatchParallelism is the number of batch items run concurrently.
	// Zero or negative means use the runner's capacity.
	BatchParallelism int
}

// defaultTimeout returns the effective default timeout, defaulting to 25s.
func (c Config) defaultTimeout() time.Duration {
	if c.DefaultTimeout <= 0 {
		return 25 * time.Second
	}
	return c.DefaultTimeout
}

// timeout resolves the per-run deadline for a request. Validation has
// already rejected values above the configured maximum.
func (c Config) timeout(secs int) time.Duration {
	if secs <= 0 {
		return c.defaultTimeout()
	}
	return time.Duration(secs) * time.Second
}
