package config

import (
	"os"
	"strings"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	if cfg.Server.Port != 8000 {
		t.Errorf("default server.port = %d, want 8000", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 30*time.Second {
		t.Errorf("default server.read_timeout = %v, want 30s", cfg.Server.ReadTimeout)
	}
	if cfg.Runner.Backend != "process" {
		t.Errorf("default runner.backend = %q, want \"process\"", cfg.Runner.Backend)
	}
	if cfg.Runner.DefaultTimeout != 25*time.Second {
		t.Errorf("default runner.default_timeout = %v, want 25s", cfg.Runner.DefaultTimeout)
	}
	if cfg.Runner.MaxTimeout != 120*time.Second {
		t.Errorf("default runner.max_timeout = %v, want 120s", cfg.Runner.MaxTimeout)
	}
	if cfg.Batch.MaxSize != 256 {
		t.Errorf("default batch.max_size = %d, want 256", cfg.Batch.MaxSize)
	}
	if cfg.Storage.Type != "memory" {
		t.Errorf("default storage.type = %q, want \"memory\"", cfg.Storage.Type)
	}
	if cfg.Storage.Postgres.MaxConns != 25 {
		t.Errorf("default storage.postgres.max_conns = %d, want 25", cfg.Storage.Postgres.MaxConns)
	}
	if cfg.Auth.Type != "none" {
		t.Errorf("default auth.type = %q, want \"none\"", cfg.Auth.Type)
	}
	if !cfg.MCP.Enabled || cfg.MCP.Path != "/mcp" {
		t.Errorf("default mcp = %+v, want enabled at /mcp", cfg.MCP)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Defaults().Validate() = %v, want nil", err)
	}
}

func TestLoadFromYAML(t *testing.T) {
	yamlContent := `
server:
  port: 9090
  read_timeout: 60s
runner:
  backend: docker
  max_concurrent: 4
  default_timeout: 10s
  max_timeout: 60s
  languages:
    python:
      command: ["python3.12"]
      image: python:3.12-slim
  docker:
    memory_mb: 256
    pids_limit: 64
batch:
  max_size: 32
  parallelism: 2
storage:
  type: redis
  redis:
    addr: redis:6379
    db: 3
    ttl: 1h
auth:
  type: apikey
  api_keys:
    - key: sk-test
      subject: tester
  rate_limit:
    requests_per_minute: 60
logging:
  level: DEBUG
  format: json
`
	tmpFile := writeTemp(t, "config-*.yaml", yamlContent)

	cfg, err := Load(tmpFile)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("server.port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 60*time.Second {
		t.Errorf("server.read_timeout = %v, want 60s", cfg.Server.ReadTimeout)
	}
	if cfg.Runner.Backend != "docker" {
		t.Errorf("runner.backend = %q, want docker", cfg.Runner.Backend)
	}
	if cfg.Runner.MaxConcurrent != 4 {
		t.Errorf("runner.max_concurrent = %d, want 4", cfg.Runner.MaxConcurrent)
	}
	if cfg.Runner.DefaultTimeout != 10*time.Second {
		t.Errorf("runner.default_timeout = %v, want 10s", cfg.Runner.DefaultTimeout)
	}
	py := cfg.Runner.Languages["python"]
	if len(py.Command) != 1 || py.Command[0] != "python3.12" || py.Image != "python:3.12-slim" {
		t.Errorf("runner.languages.python = %+v", py)
	}
	if cfg.Runner.Docker.MemoryMB != 256 || cfg.Runner.Docker.PidsLimit != 64 {
		t.Errorf("runner.docker = %+v", cfg.Runner.Docker)
	}
	// Unset docker fields keep defaults.
	if !cfg.Runner.Docker.NetworkDisabled {
		t.Error("runner.docker.network_disabled should keep default true")
	}
	if cfg.Batch.MaxSize != 32 || cfg.Batch.Parallelism != 2 {
		t.Errorf("batch = %+v", cfg.Batch)
	}
	if cfg.Storage.Type != "redis" || cfg.Storage.Redis.Addr != "redis:6379" || cfg.Storage.Redis.DB != 3 {
		t.Errorf("storage = %+v", cfg.Storage)
	}
	if cfg.Storage.Redis.TTL != time.Hour {
		t.Errorf("storage.redis.ttl = %v, want 1h", cfg.Storage.Redis.TTL)
	}
	if cfg.Auth.Type != "apikey" || len(cfg.Auth.APIKeys) != 1 || cfg.Auth.APIKeys[0].Subject != "tester" {
		t.Errorf("auth = %+v", cfg.Auth)
	}
	if cfg.Auth.RateLimit.RequestsPerMinute != 60 {
		t.Errorf("auth.rate_limit.requests_per_minute = %d, want 60", cfg.Auth.RateLimit.RequestsPerMinute)
	}
	if cfg.Logging.Level != "DEBUG" || cfg.Logging.Format != "json" {
		t.Errorf("logging = %+v", cfg.Logging)
	}
}

func TestEnvOverride(t *testing.T) {
	yamlContent := `
server:
  port: 9090
runner:
  default_timeout: 10s
`
	tmpFile := writeTemp(t, "config-*.yaml", yamlContent)

	t.Setenv("CODEEXEC_PORT", "7070")
	t.Setenv("CODEEXEC_DEFAULT_TIMEOUT", "5s")
	t.Setenv("CODEEXEC_STORAGE", "none")
	t.Setenv("CODEEXEC_BATCH_MAX_SIZE", "8")
	t.Setenv("CODEEXEC_MCP_ENABLED", "false")
	t.Setenv("CODEEXEC_AUTH_TYPE", "apikey")
	t.Setenv("CODEEXEC_API_KEYS", `[{"key":"sk-env","subject":"env-user","tenant_id":"org-env","service_tier":"standard"}]`)

	cfg, err := Load(tmpFile)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Server.Port != 7070 {
		t.Errorf("server.port = %d, want 7070 (env override)", cfg.Server.Port)
	}
	if cfg.Runner.DefaultTimeout != 5*time.Second {
		t.Errorf("runner.default_timeout = %v, want 5s (env override)", cfg.Runner.DefaultTimeout)
	}
	if cfg.Storage.Type != "none" {
		t.Errorf("storage.type = %q, want none", cfg.Storage.Type)
	}
	if cfg.Batch.MaxSize != 8 {
		t.Errorf("batch.max_size = %d, want 8", cfg.Batch.MaxSize)
	}
	if cfg.MCP.Enabled {
		t.Error("mcp.enabled should be false from env")
	}
	if len(cfg.Auth.APIKeys) != 1 {
		t.Fatalf("auth.api_keys length = %d, want 1", len(cfg.Auth.APIKeys))
	}
	if cfg.Auth.APIKeys[0].TenantID != "org-env" {
		t.Errorf("auth.api_keys[0].tenant_id = %q, want org-env", cfg.Auth.APIKeys[0].TenantID)
	}
}

func TestEnvOverrideMalformed(t *testing.T) {
	t.Setenv("CODEEXEC_CONFIG", "")
	t.Setenv("CODEEXEC_PORT", "eighty")
	t.Setenv("CODEEXEC_DEFAULT_TIMEOUT", "forever")

	_, err := Load("")
	if err == nil {
		t.Fatal("Load() expected error for malformed env values")
	}
	for _, want := range []string{"CODEEXEC_PORT", "CODEEXEC_DEFAULT_TIMEOUT"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestSecretFiles(t *testing.T) {
	tests := []struct {
		name    string
		content string
		yaml    func(file string) string
		got     func(*Config) string
		want    string
	}{
		{
			name:    "jwt secret",
			content: "  jwt-secret-from-file  \n",
			yaml:    func(f string) string { return "auth:\n  type: jwt\n  jwt:\n    secret_file: " + f + "\n" },
			got:     func(c *Config) string { return c.Auth.JWT.Secret },
			want:    "jwt-secret-from-file",
		},
		{
			name:    "api key",
			content: "sk-key-from-file\n",
			yaml: func(f string) string {
				return "auth:\n  type: apikey\n  api_keys:\n    - key_file: " + f + "\n      subject: file-user\n"
			},
			got:  func(c *Config) string { return c.Auth.APIKeys[0].Key },
			want: "sk-key-from-file",
		},
		{
			name:    "postgres dsn",
			content: " postgres://user:pass@db:5432/app \n",
			yaml:    func(f string) string { return "storage:\n  type: postgres\n  postgres:\n    dsn_file: " + f + "\n" },
			got:     func(c *Config) string { return c.Storage.Postgres.DSN },
			want:    "postgres://user:pass@db:5432/app",
		},
		{
			name:    "redis password",
			content: "hunter2\n",
			yaml:    func(f string) string { return "storage:\n  type: redis\n  redis:\n    password_file: " + f + "\n" },
			got:     func(c *Config) string { return c.Storage.Redis.Password },
			want:    "hunter2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			secret := writeTemp(t, "secret-*.txt", tt.content)
			cfg, err := Load(writeTemp(t, "config-*.yaml", tt.yaml(secret)))
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if got := tt.got(cfg); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSecretFileMissing(t *testing.T) {
	path := writeTemp(t, "config-*.yaml", "auth:\n  type: jwt\n  jwt:\n    secret_file: /nonexistent/codeexec/secret\n")

	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "auth.jwt.secret_file") {
		t.Errorf("Load() error = %v, want auth.jwt.secret_file error", err)
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"CODEEXEC_RUNNER":          "docker",
		"CODEEXEC_MAX_TIMEOUT":     "2m",
		"CODEEXEC_TRACING_ENABLED": "true",
		"CODEEXEC_API_KEYS":        "[]",
	}
	cfg := Defaults()
	cfg.Auth.APIKeys = []APIKeyConfig{{Key: "keep", Subject: "file"}}

	if err := applyEnv(&cfg, func(k string) string { return env[k] }); err != nil {
		t.Fatalf("applyEnv: %v", err)
	}
	if cfg.Runner.Backend != "docker" || cfg.Runner.MaxTimeout != 2*time.Minute || !cfg.Observability.Tracing.Enabled {
		t.Errorf("cfg = %+v %+v", cfg.Runner, cfg.Observability.Tracing)
	}
	if len(cfg.Auth.APIKeys) != 1 || cfg.Auth.APIKeys[0].Key != "keep" {
		t.Errorf("empty CODEEXEC_API_KEYS replaced keys: %+v", cfg.Auth.APIKeys)
	}

	env = map[string]string{"CODEEXEC_MCP_ENABLED": "maybe", "CODEEXEC_API_KEYS": "{"}
	err := applyEnv(&cfg, func(k string) string { return env[k] })
	for _, want := range []string{"CODEEXEC_MCP_ENABLED", "CODEEXEC_API_KEYS"} {
		if err == nil || !strings.Contains(err.Error(), want) {
			t.Errorf("error %v does not mention %s", err, want)
		}
	}
}

func TestFileDiscovery(t *testing.T) {
	// Explicit path.
	tmpFile := writeTemp(t, "config-*.yaml", "server:\n  port: 9001\n")

	cfg, err := Load(tmpFile)
	if err != nil {
		t.Fatalf("Load(explicit) error: %v", err)
	}
	if cfg.Server.Port != 9001 {
		t.Errorf("explicit path: port = %d, want 9001", cfg.Server.Port)
	}

	// CODEEXEC_CONFIG env var.
	envFile := writeTemp(t, "envconfig-*.yaml", "server:\n  port: 9002\n")
	t.Setenv("CODEEXEC_CONFIG", envFile)

	cfg, err = Load("")
	if err != nil {
		t.Fatalf("Load(CODEEXEC_CONFIG) error: %v", err)
	}
	if cfg.Server.Port != 9002 {
		t.Errorf("CODEEXEC_CONFIG: port = %d, want 9002", cfg.Server.Port)
	}

	// No file, defaults plus env overrides.
	t.Setenv("CODEEXEC_CONFIG", "")
	t.Setenv("CODEEXEC_PORT", "9003")

	cfg, err = Load("")
	if err != nil {
		t.Fatalf("Load(no file) error: %v", err)
	}
	if cfg.Server.Port != 9003 {
		t.Errorf("no file: port = %d, want env override 9003", cfg.Server.Port)
	}
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{
			name:    "invalid port",
			modify:  func(c *Config) { c.Server.Port = 0 },
			wantErr: "server.port must be between",
		},
		{
			name:    "unknown runner backend",
			modify:  func(c *Config) { c.Runner.Backend = "firecracker" },
			wantErr: "runner.backend must be",
		},
		{
			name:    "zero default timeout",
			modify:  func(c *Config) { c.Runner.DefaultTimeout = 0 },
			wantErr: "runner.default_timeout must be > 0",
		},
		{
			name:    "max timeout below default",
			modify:  func(c *Config) { c.Runner.MaxTimeout = time.Second },
			wantErr: "runner.max_timeout",
		},
		{
			name: "language alias as override key",
			modify: func(c *Config) {
				c.Runner.Languages = map[string]LanguageConfig{"py": {Command: []string{"python3"}}}
			},
			wantErr: "not a canonical language identifier",
		},
		{
			name: "empty language command",
			modify: func(c *Config) {
				c.Runner.Languages = map[string]LanguageConfig{"python": {Command: []string{}}}
			},
			wantErr: "runner.languages.python.command",
		},
		{
			name:    "zero batch size",
			modify:  func(c *Config) { c.Batch.MaxSize = 0 },
			wantErr: "batch.max_size must be > 0",
		},
		{
			name:    "invalid storage type",
			modify:  func(c *Config) { c.Storage.Type = "sqlite" },
			wantErr: "storage.type must be",
		},
		{
			name: "postgres without DSN",
			modify: func(c *Config) {
				c.Storage.Type = "postgres"
			},
			wantErr: "storage.postgres.dsn",
		},
		{
			name:    "invalid auth type",
			modify:  func(c *Config) { c.Auth.Type = "oauth2" },
			wantErr: "auth.type must be",
		},
		{
			name:    "apikey without keys",
			modify:  func(c *Config) { c.Auth.Type = "apikey" },
			wantErr: "auth.api_keys must not be empty",
		},
		{
			name:    "jwt without secret",
			modify:  func(c *Config) { c.Auth.Type = "jwt" },
			wantErr: "auth.jwt.secret",
		},
		{
			name:    "sample ratio out of range",
			modify:  func(c *Config) { c.Observability.Tracing.SampleRatio = 2 },
			wantErr: "sample_ratio",
		},
		{
			name:    "unknown log format",
			modify:  func(c *Config) { c.Logging.Format = "xml" },
			wantErr: "logging.format",
		},
		{
			name:    "valid config",
			modify:  func(c *Config) {},
			wantErr: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.modify(&cfg)
			err := cfg.Validate()

			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
				return
			}

			if err == nil {
				t.Fatalf("Validate() expected error containing %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %q, want it to contain %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestFileReferenceDoesNotOverrideExplicitValue(t *testing.T) {
	secretFile := writeTemp(t, "secret-*.txt", "from-file")

	yamlContent := `
auth:
  type: jwt
  jwt:
    secret: explicit
    secret_file: ` + secretFile + `
`
	tmpFile := writeTemp(t, "config-*.yaml", yamlContent)

	cfg, err := Load(tmpFile)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	// When both secret and secret_file are set, the explicit value takes precedence.
	if cfg.Auth.JWT.Secret != "explicit" {
		t.Errorf("auth.jwt.secret = %q, want \"explicit\"", cfg.Auth.JWT.Secret)
	}
}

// writeTemp creates a temporary file with the given content and returns its path.
// The file is automatically cleaned up when the test finishes.
func writeTemp(t *testing.T, pattern, content string) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), pattern)
	if err != nil {
		t.Fatalf("creating temp file: %v", err)
	}
	if _, err := f.WriteString(content); err != nil {
		f.Close()
		t.Fatalf("writing temp file: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("closing temp file: %v", err)
	}
	return f.Name()
}
