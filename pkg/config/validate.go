package config

import (
	"errors"
	"fmt"

	"github.com/rhuss/codeexec/pkg/api"
)

// Validate checks the configuration for required fields and valid values.
// Returns an error with a descriptive field path on failure.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port))
	}

	switch c.Runner.Backend {
	case "process", "docker":
	default:
		errs = append(errs, fmt.Errorf("runner.backend must be \"process\" or \"docker\", got %q", c.Runner.Backend))
	}

	if c.Runner.MaxConcurrent < 0 {
		errs = append(errs, fmt.Errorf("runner.max_concurrent must be >= 0, got %d", c.Runner.MaxConcurrent))
	}

	if c.Runner.DefaultTimeout <= 0 {
		errs = append(errs, fmt.Errorf("runner.default_timeout must be > 0, got %s", c.Runner.DefaultTimeout))
	}
	if c.Runner.MaxTimeout < c.Runner.DefaultTimeout {
		errs = append(errs, fmt.Errorf("runner.max_timeout (%s) must be >= runner.default_timeout (%s)",
			c.Runner.MaxTimeout, c.Runner.DefaultTimeout))
	}

	for name, lc := range c.Runner.Languages {
		if canonical, ok := api.NormalizeLanguage(name); !ok || canonical != name {
			errs = append(errs, fmt.Errorf("runner.languages: %q is not a canonical language identifier", name))
		}
		if c.Runner.Backend == "process" && lc.Command != nil && len(lc.Command) == 0 {
			errs = append(errs, fmt.Errorf("runner.languages.%s.command must not be empty", name))
		}
	}

	if c.Batch.MaxSize <= 0 {
		errs = append(errs, fmt.Errorf("batch.max_size must be > 0, got %d", c.Batch.MaxSize))
	}
	if c.Batch.Parallelism < 0 {
		errs = append(errs, fmt.Errorf("batch.parallelism must be >= 0, got %d", c.Batch.Parallelism))
	}

	switch c.Storage.Type {
	case "none", "memory", "redis":
	case "postgres":
		if c.Storage.Postgres.DSN == "" && c.Storage.Postgres.DSNFile == "" {
			errs = append(errs, fmt.Errorf("storage.postgres.dsn or storage.postgres.dsn_file is required when storage.type is \"postgres\""))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.type must be \"none\", \"memory\", \"postgres\" or \"redis\", got %q", c.Storage.Type))
	}

	switch c.Auth.Type {
	case "none":
	case "apikey":
		if len(c.Auth.APIKeys) == 0 {
			errs = append(errs, fmt.Errorf("auth.api_keys must not be empty when auth.type is \"apikey\""))
		}
	case "jwt":
		if c.Auth.JWT.Secret == "" && c.Auth.JWT.SecretFile == "" {
			errs = append(errs, fmt.Errorf("auth.jwt.secret or auth.jwt.secret_file is required when auth.type is \"jwt\""))
		}
	default:
		errs = append(errs, fmt.Errorf("auth.type must be \"none\", \"apikey\", or \"jwt\", got %q", c.Auth.Type))
	}

	if c.Auth.RateLimit.RequestsPerMinute < 0 {
		errs = append(errs, fmt.Errorf("auth.rate_limit.requests_per_minute must be >= 0"))
	}

	if c.Observability.Tracing.SampleRatio < 0 || c.Observability.Tracing.SampleRatio > 1 {
		errs = append(errs, fmt.Errorf("observability.tracing.sample_ratio must be between 0 and 1, got %v",
			c.Observability.Tracing.SampleRatio))
	}

	switch c.Logging.Format {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be \"text\" or \"json\", got %q", c.Logging.Format))
	}

	return errors.Join(errs...)
}
