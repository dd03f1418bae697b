package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvConfigPath names the config file when no explicit path is given.
const EnvConfigPath = "CODEEXEC_CONFIG"

var searchPaths = []string{"config.yaml", "/etc/codeexec/config.yaml"}

// Load builds the configuration: defaults, then the YAML file (path,
// $CODEEXEC_CONFIG, ./config.yaml or /etc/codeexec/config.yaml, first hit
// wins), then CODEEXEC_* variables, then *_file secrets. The result is
// validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path = configFile(path); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg, os.Getenv); err != nil {
		return nil, fmt.Errorf("environment: %w", err)
	}
	if err := resolveSecrets(&cfg); err != nil {
		return nil, fmt.Errorf("secret files: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return &cfg, nil
}

func configFile(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p
	}
	for _, p := range searchPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// binding parses one environment variable into a config field.
type binding struct {
	env   string
	parse func(string) error
}

func str(dst *string) func(string) error {
	return func(v string) error { *dst = v; return nil }
}

func parsed[T any](dst *T, parse func(string) (T, error)) func(string) error {
	return func(v string) error {
		x, err := parse(v)
		if err != nil {
			return err
		}
		*dst = x
		return nil
	}
}

func envBindings(cfg *Config) []binding {
	return []binding{
		{"CODEEXEC_PORT", parsed(&cfg.Server.Port, strconv.Atoi)},
		{"CODEEXEC_RUNNER", str(&cfg.Runner.Backend)},
		{"CODEEXEC_MAX_CONCURRENT", parsed(&cfg.Runner.MaxConcurrent, strconv.Atoi)},
		{"CODEEXEC_DEFAULT_TIMEOUT", parsed(&cfg.Runner.DefaultTimeout, time.ParseDuration)},
		{"CODEEXEC_MAX_TIMEOUT", parsed(&cfg.Runner.MaxTimeout, time.ParseDuration)},
		{"CODEEXEC_WORK_DIR", str(&cfg.Runner.WorkDir)},
		{"CODEEXEC_BATCH_MAX_SIZE", parsed(&cfg.Batch.MaxSize, strconv.Atoi)},
		{"CODEEXEC_BATCH_PARALLELISM", parsed(&cfg.Batch.Parallelism, strconv.Atoi)},
		{"CODEEXEC_STORAGE", str(&cfg.Storage.Type)},
		{"CODEEXEC_STORAGE_SIZE", parsed(&cfg.Storage.MaxSize, strconv.Atoi)},
		{"CODEEXEC_POSTGRES_DSN", str(&cfg.Storage.Postgres.DSN)},
		{"CODEEXEC_REDIS_ADDR", str(&cfg.Storage.Redis.Addr)},
		{"CODEEXEC_AUTH_TYPE", str(&cfg.Auth.Type)},
		{"CODEEXEC_JWT_SECRET", str(&cfg.Auth.JWT.Secret)},
		{"CODEEXEC_RATE_LIMIT_RPM", parsed(&cfg.Auth.RateLimit.RequestsPerMinute, strconv.Atoi)},
		{"CODEEXEC_MCP_ENABLED", parsed(&cfg.MCP.Enabled, strconv.ParseBool)},
		{"CODEEXEC_METRICS_ENABLED", parsed(&cfg.Observability.Metrics.Enabled, strconv.ParseBool)},
		{"CODEEXEC_TRACING_ENABLED", parsed(&cfg.Observability.Tracing.Enabled, strconv.ParseBool)},
		{"CODEEXEC_OTLP_ENDPOINT", str(&cfg.Observability.Tracing.Endpoint)},
		{"CODEEXEC_LOG_FORMAT", str(&cfg.Logging.Format)},
		// JSON array of api key objects, replacing the file's list.
		{"CODEEXEC_API_KEYS", func(v string) error {
			var keys []APIKeyConfig
			if err := json.Unmarshal([]byte(v), &keys); err != nil {
				return err
			}
			if len(keys) > 0 {
				cfg.Auth.APIKeys = keys
			}
			return nil
		}},
	}
}

// applyEnv overrides fields from set variables. Every malformed value is
// reported.
func applyEnv(cfg *Config, getenv func(string) string) error {
	var errs []error
	for _, b := range envBindings(cfg) {
		v := getenv(b.env)
		if v == "" {
			continue
		}
		if err := b.parse(v); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", b.env, err))
		}
	}
	return errors.Join(errs...)
}

// resolveSecrets fills each secret from its *_file counterpart unless the
// secret was already set directly.
func resolveSecrets(cfg *Config) error {
	type secret struct {
		name        string
		value, file *string
	}
	secrets := []secret{
		{"storage.postgres.dsn_file", &cfg.Storage.Postgres.DSN, &cfg.Storage.Postgres.DSNFile},
		{"storage.redis.password_file", &cfg.Storage.Redis.Password, &cfg.Storage.Redis.PasswordFile},
		{"auth.jwt.secret_file", &cfg.Auth.JWT.Secret, &cfg.Auth.JWT.SecretFile},
	}
	for i := range cfg.Auth.APIKeys {
		k := &cfg.Auth.APIKeys[i]
		secrets = append(secrets, secret{fmt.Sprintf("auth.api_keys[%d].key_file", i), &k.Key, &k.KeyFile})
	}

	for _, s := range secrets {
		if *s.file == "" || *s.value != "" {
			continue
		}
		data, err := os.ReadFile(*s.file)
		if err != nil {
			return fmt.Errorf("%s: %w", s.name, err)
		}
		*s.value = strings.TrimSpace(string(data))
	}
	return nil
}
