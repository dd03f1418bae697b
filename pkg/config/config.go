// Package config provides unified configuration for the codeexec service.
//
// Configuration is loaded with a layered approach:
//  1. Built-in defaults
//  2. YAML config file (discovered or explicitly specified)
//  3. Environment variable overrides (CODEEXEC_ prefix)
//  4. File reference resolution (_file suffix fields)
//  5. Validation
package config

import "time"

// Config holds all configuration for the codeexec service.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Runner        RunnerConfig        `yaml:"runner"`
	Batch         BatchConfig         `yaml:"batch"`
	Storage       StorageConfig       `yaml:"storage"`
	Auth          AuthConfig          `yaml:"auth"`
	MCP           MCPConfig           `yaml:"mcp"`
	Observability ObservabilityConfig `yaml:"observability"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`             // default: 8000
	ReadTimeout     time.Duration `yaml:"read_timeout"`     // default: 30s
	WriteTimeout    time.Duration `yaml:"write_timeout"`    // default: 10m, batches run long
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"` // default: 30s
	MaxBodySize     int64         `yaml:"max_body_size"`    // default: 32MB
}

// RunnerConfig holds program execution settings.
type RunnerConfig struct {
	Backend        string                    `yaml:"backend"`          // "process" or "docker", default: "process"
	MaxConcurrent  int                       `yaml:"max_concurrent"`   // 0 = number of CPUs
	DefaultTimeout time.Duration             `yaml:"default_timeout"`  // default: 25s
	MaxTimeout     time.Duration             `yaml:"max_timeout"`      // default: 120s
	WorkDir        string                    `yaml:"work_dir"`         // default: $TMPDIR/codeexec
	MaxOutputBytes int                       `yaml:"max_output_bytes"` // default: 1MB per stream
	MaxCodeSize    int                       `yaml:"max_code_size"`    // default: 1MB
	Languages      map[string]LanguageConfig `yaml:"languages"`        // overrides per canonical language
	Docker         DockerConfig              `yaml:"docker"`
	Coverage       CoverageConfig            `yaml:"coverage"`
}

// LanguageConfig overrides how one language is run.
type LanguageConfig struct {
	Command []string `yaml:"command"` // interpreter argv; the program path is appended
	Image   string   `yaml:"image"`   // container image for the docker backend
}

// DockerConfig holds container limits for the docker backend.
type DockerConfig struct {
	MemoryMB        int64   `yaml:"memory_mb"`        // default: 512
	CPUs            float64 `yaml:"cpus"`             // default: 1
	PidsLimit       int64   `yaml:"pids_limit"`       // default: 128
	NetworkDisabled bool    `yaml:"network_disabled"` // default: true
	PullImages      bool    `yaml:"pull_images"`      // default: false
}

// CoverageConfig holds settings for Python coverage measurement.
type CoverageConfig struct {
	Command       string        `yaml:"command"`        // default: "coverage"
	ReportTimeout time.Duration `yaml:"report_timeout"` // default: 10s
}

// BatchConfig holds batched execution settings.
type BatchConfig struct {
	MaxSize     int `yaml:"max_size"`    // default: 256
	Parallelism int `yaml:"parallelism"` // 0 = runner.max_concurrent
}

// StorageConfig holds execution history settings.
type StorageConfig struct {
	Type     string         `yaml:"type"`     // "none", "memory", "postgres" or "redis", default: "memory"
	MaxSize  int            `yaml:"max_size"` // for memory store, default: 10000
	Postgres PostgresConfig `yaml:"postgres"`
	Redis    RedisConfig    `yaml:"redis"`
}

// PostgresConfig holds PostgreSQL-specific settings.
type PostgresConfig struct {
	DSN            string `yaml:"dsn"`
	DSNFile        string `yaml:"dsn_file"`         // _file variant for dsn
	MaxConns       int32  `yaml:"max_conns"`        // default: 25
	MigrateOnStart bool   `yaml:"migrate_on_start"` // default: false
}

// RedisConfig holds Redis-specific settings.
type RedisConfig struct {
	Addr         string        `yaml:"addr"` // default: localhost:6379
	Password     string        `yaml:"password"`
	PasswordFile string        `yaml:"password_file"` // _file variant for password
	DB           int           `yaml:"db"`
	TTL          time.Duration `yaml:"ttl"` // default: 24h
}

// AuthConfig holds authentication settings.
type AuthConfig struct {
	Type      string          `yaml:"type"`     // "none", "apikey" or "jwt", default: "none"
	APIKeys   []APIKeyConfig  `yaml:"api_keys"` // API key entries for type=apikey
	JWT       JWTConfig       `yaml:"jwt"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// APIKeyConfig describes a single API key entry.
type APIKeyConfig struct {
	Key         string `yaml:"key" json:"key"`
	KeyFile     string `yaml:"key_file" json:"key_file"` // _file variant for key
	Subject     string `yaml:"subject" json:"subject"`
	TenantID    string `yaml:"tenant_id" json:"tenant_id"`
	ServiceTier string `yaml:"service_tier" json:"service_tier"`
}

// JWTConfig holds settings for HMAC-signed bearer tokens.
type JWTConfig struct {
	Secret     string `yaml:"secret"`
	SecretFile string `yaml:"secret_file"` // _file variant for secret
	Issuer     string `yaml:"issuer"`
	Audience   string `yaml:"audience"`
}

// RateLimitConfig holds per-subject request limits.
type RateLimitConfig struct {
	RequestsPerMinute int            `yaml:"requests_per_minute"` // 0 = unlimited
	Burst             int            `yaml:"burst"`               // default: requests_per_minute
	Tiers             map[string]int `yaml:"tiers"`               // service tier -> requests per minute
}

// MCPConfig holds settings for the MCP tool endpoint.
type MCPConfig struct {
	Enabled bool   `yaml:"enabled"` // default: true
	Path    string `yaml:"path"`    // default: "/mcp"
}

// ObservabilityConfig holds monitoring and instrumentation settings.
type ObservabilityConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// MetricsConfig holds Prometheus metrics endpoint settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"` // default: true
	Path    string `yaml:"path"`    // default: "/metrics"
}

// TracingConfig holds OpenTelemetry trace export settings.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`      // default: false
	Endpoint    string  `yaml:"endpoint"`     // OTLP/HTTP host:port, default: localhost:4318
	Insecure    bool    `yaml:"insecure"`     // default: true
	ServiceName string  `yaml:"service_name"` // default: "codeexec"
	SampleRatio float64 `yaml:"sample_ratio"` // default: 1.0
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // TRACE, DEBUG, INFO, WARN, ERROR; default: INFO
	Format string `yaml:"format"` // "text" or "json", default: "text"
	Debug  string `yaml:"debug"`  // comma-separated debug categories
}

// Defaults returns a Config with all default values filled in.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:            8000,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    10 * time.Minute,
			ShutdownTimeout: 30 * time.Second,
			MaxBodySize:     32 << 20,
		},
		Runner: RunnerConfig{
			Backend:        "process",
			DefaultTimeout: 25 * time.Second,
			MaxTimeout:     120 * time.Second,
			MaxOutputBytes: 1 << 20,
			MaxCodeSize:    1 << 20,
			Docker: DockerConfig{
				MemoryMB:        512,
				CPUs:            1,
				PidsLimit:       128,
				NetworkDisabled: true,
			},
			Coverage: CoverageConfig{
				Command:       "coverage",
				ReportTimeout: 10 * time.Second,
			},
		},
		Batch: BatchConfig{
			MaxSize: 256,
		},
		Storage: StorageConfig{
			Type:    "memory",
			MaxSize: 10000,
			Postgres: PostgresConfig{
				MaxConns: 25,
			},
			Redis: RedisConfig{
				Addr: "localhost:6379",
				TTL:  24 * time.Hour,
			},
		},
		Auth: AuthConfig{
			Type: "none",
		},
		MCP: MCPConfig{
			Enabled: true,
			Path:    "/mcp",
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
			Tracing: TracingConfig{
				Endpoint:    "localhost:4318",
				Insecure:    true,
				ServiceName: "codeexec",
				SampleRatio: 1.0,
			},
		},
		Logging: LoggingConfig{
			Level:  "INFO",
			Format: "text",
		},
	}
}
