// Command codeexec-server runs the code execution service.
//
// Configuration is read from a YAML file (-config, CODEEXEC_CONFIG,
// ./config.yaml or /etc/codeexec/config.yaml) and CODEEXEC_* environment
// variables. A .env file in the working directory is loaded first when
// present. Commonly used variables:
//
//	CODEEXEC_PORT            - Listen port (default: 8000)
//	CODEEXEC_RUNNER          - "process" or "docker" (default: process)
//	CODEEXEC_MAX_CONCURRENT  - Concurrent runs (default: number of CPUs)
//	CODEEXEC_STORAGE         - "none", "memory", "postgres" or "redis" (default: memory)
//	CODEEXEC_AUTH_TYPE       - "none", "apikey" or "jwt" (default: none)
//	CODEEXEC_DEBUG           - Debug categories, e.g. runner,engine
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/rhuss/codeexec/pkg/api"
	"github.com/rhuss/codeexec/pkg/auth"
	"github.com/rhuss/codeexec/pkg/auth/apikey"
	"github.com/rhuss/codeexec/pkg/auth/jwt"
	"github.com/rhuss/codeexec/pkg/config"
	"github.com/rhuss/codeexec/pkg/debug"
	"github.com/rhuss/codeexec/pkg/engine"
	"github.com/rhuss/codeexec/pkg/mcpserver"
	"github.com/rhuss/codeexec/pkg/observability"
	"github.com/rhuss/codeexec/pkg/runner"
	"github.com/rhuss/codeexec/pkg/storage/memory"
	"github.com/rhuss/codeexec/pkg/storage/postgres"
	redisstore "github.com/rhuss/codeexec/pkg/storage/redis"
	"github.com/rhuss/codeexec/pkg/transport"
	transporthttp "github.com/rhuss/codeexec/pkg/transport/http"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to the YAML config file")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("loading .env: %w", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	debug.Init(cfg.Logging.Debug, cfg.Logging.Level, cfg.Logging.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Observability.Tracing.Enabled {
		shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfig{
			Endpoint:    cfg.Observability.Tracing.Endpoint,
			Insecure:    cfg.Observability.Tracing.Insecure,
			ServiceName: cfg.Observability.Tracing.ServiceName,
			SampleRatio: cfg.Observability.Tracing.SampleRatio,
		})
		if err != nil {
			return fmt.Errorf("initializing tracing: %w", err)
		}
		defer func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTracing(flushCtx); err != nil {
				slog.Warn("flushing traces", "error", err)
			}
		}()
		slog.Info("tracing enabled", "endpoint", cfg.Observability.Tracing.Endpoint)
	}

	r, err := newRunner(cfg)
	if err != nil {
		return err
	}
	defer r.Close()

	store, err := newStore(ctx, cfg)
	if err != nil {
		return err
	}
	if store != nil {
		defer store.Close()
	}

	eng, err := engine.New(r, store, engine.Config{
		Validation: api.ValidationConfig{
			MaxCodeSize:    cfg.Runner.MaxCodeSize,
			MaxBatchSize:   cfg.Batch.MaxSize,
			MaxTimeoutSecs: int(cfg.Runner.MaxTimeout / time.Second),
		},
		DefaultTimeout:   cfg.Runner.DefaultTimeout,
		BatchParallelism: cfg.Batch.Parallelism,
	})
	if err != nil {
		return fmt.Errorf("creating engine: %w", err)
	}

	opts := []transporthttp.ServerOption{
		transporthttp.WithAddr(":" + strconv.Itoa(cfg.Server.Port)),
		transporthttp.WithMaxBodySize(cfg.Server.MaxBodySize),
		transporthttp.WithLegacyMaxTimeout(int(cfg.Runner.MaxTimeout / time.Second)),
		transporthttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout),
		transporthttp.WithShutdownTimeout(cfg.Server.ShutdownTimeout),
		transporthttp.WithTracing(cfg.Observability.Tracing.Enabled),
	}
	if cfg.Observability.Metrics.Enabled {
		opts = append(opts, transporthttp.WithMetricsPath(cfg.Observability.Metrics.Path))
	} else {
		opts = append(opts, transporthttp.WithMetricsPath(""))
	}

	authMW, err := newAuthMiddleware(cfg)
	if err != nil {
		return err
	}
	if authMW != nil {
		opts = append(opts, transporthttp.WithHTTPMiddleware(authMW))
	}

	if cfg.MCP.Enabled {
		opts = append(opts, transporthttp.WithMount(cfg.MCP.Path, mcpserver.Handler(mcpserver.New(eng, version))))
		slog.Info("mcp endpoint enabled", "path", cfg.MCP.Path)
	}

	var history transport.ExecutionHistory
	if eng.HasHistory() {
		history = eng
	}

	srv := transporthttp.NewServer(eng, history, opts...)

	slog.Info("codeexec starting",
		"version", version,
		"port", cfg.Server.Port,
		"runner", r.Name(),
		"capacity", r.Capacity(),
		"languages", r.Languages(),
		"storage", cfg.Storage.Type,
		"auth", cfg.Auth.Type,
	)
	return srv.Run(ctx)
}

func newRunner(cfg *config.Config) (runner.Runner, error) {
	overrides := make(map[string]runner.LanguageOverride, len(cfg.Runner.Languages))
	for name, lc := range cfg.Runner.Languages {
		overrides[name] = runner.LanguageOverride{Command: lc.Command, Image: lc.Image}
	}
	table, err := runner.NewTable(overrides)
	if err != nil {
		return nil, fmt.Errorf("building language table: %w", err)
	}

	switch cfg.Runner.Backend {
	case "docker":
		d := cfg.Runner.Docker
		r, err := runner.NewDockerRunner(runner.DockerConfig{
			Languages:       table,
			MaxConcurrent:   cfg.Runner.MaxConcurrent,
			MaxOutputBytes:  cfg.Runner.MaxOutputBytes,
			MemoryMB:        d.MemoryMB,
			CPUs:            d.CPUs,
			PidsLimit:       d.PidsLimit,
			NetworkDisabled: d.NetworkDisabled,
			PullImages:      d.PullImages,
		})
		if err != nil {
			return nil, fmt.Errorf("creating docker runner: %w", err)
		}
		return r, nil
	default:
		r, err := runner.NewProcessRunner(runner.ProcessConfig{
			Languages:             table,
			MaxConcurrent:         cfg.Runner.MaxConcurrent,
			WorkDir:               cfg.Runner.WorkDir,
			MaxOutputBytes:        cfg.Runner.MaxOutputBytes,
			CoverageCommand:       cfg.Runner.Coverage.Command,
			CoverageReportTimeout: cfg.Runner.Coverage.ReportTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("creating process runner: %w", err)
		}
		return r, nil
	}
}

// newStore returns nil when history is disabled.
func newStore(ctx context.Context, cfg *config.Config) (transport.ExecutionStore, error) {
	switch cfg.Storage.Type {
	case "memory":
		slog.Info("storage enabled", "type", "memory", "max_size", cfg.Storage.MaxSize)
		return memory.New(cfg.Storage.MaxSize), nil
	case "postgres":
		pg := cfg.Storage.Postgres
		s, err := postgres.New(ctx, postgres.Config{
			DSN:            pg.DSN,
			MaxConns:       pg.MaxConns,
			MigrateOnStart: pg.MigrateOnStart,
		})
		if err != nil {
			return nil, fmt.Errorf("connecting to postgres: %w", err)
		}
		slog.Info("storage enabled", "type", "postgres", "max_conns", pg.MaxConns)
		return s, nil
	case "redis":
		rc := cfg.Storage.Redis
		s, err := redisstore.New(ctx, redisstore.Config{
			Addr:     rc.Addr,
			Password: rc.Password,
			DB:       rc.DB,
			TTL:      rc.TTL,
		})
		if err != nil {
			return nil, fmt.Errorf("connecting to redis: %w", err)
		}
		slog.Info("storage enabled", "type", "redis", "addr", rc.Addr, "ttl", rc.TTL)
		return s, nil
	default:
		slog.Info("storage disabled")
		return nil, nil
	}
}

// newAuthMiddleware returns nil when neither authentication nor rate
// limiting is configured.
func newAuthMiddleware(cfg *config.Config) (func(next http.Handler) http.Handler, error) {
	chain := &auth.Chain{}

	switch cfg.Auth.Type {
	case "apikey":
		entries := make([]apikey.RawKeyEntry, 0, len(cfg.Auth.APIKeys))
		for _, k := range cfg.Auth.APIKeys {
			entries = append(entries, apikey.RawKeyEntry{
				Key:      k.Key,
				Identity: auth.Identity{Subject: k.Subject, Tenant: k.TenantID, Tier: k.ServiceTier},
			})
		}
		chain.Authenticators = []auth.Authenticator{apikey.New(entries)}
	case "jwt":
		authn, err := jwt.New(jwt.Config{
			Secret:   []byte(cfg.Auth.JWT.Secret),
			Issuer:   cfg.Auth.JWT.Issuer,
			Audience: cfg.Auth.JWT.Audience,
		})
		if err != nil {
			return nil, fmt.Errorf("configuring jwt auth: %w", err)
		}
		chain.Authenticators = []auth.Authenticator{authn}
	default:
		chain.AllowAnonymous = true
	}

	var limiter auth.RateLimiter
	if rl := cfg.Auth.RateLimit; rl.RequestsPerMinute > 0 || len(rl.Tiers) > 0 {
		tiers := make(map[string]auth.TierConfig, len(rl.Tiers))
		for name, rpm := range rl.Tiers {
			tiers[name] = auth.TierConfig{RequestsPerMinute: rpm}
		}
		limiter = auth.NewInProcessLimiter(tiers, auth.TierConfig{
			RequestsPerMinute: rl.RequestsPerMinute,
			Burst:             rl.Burst,
		})
	}

	if cfg.Auth.Type == "none" && limiter == nil {
		return nil, nil
	}

	bypass := append([]string(nil), auth.DefaultBypassEndpoints...)
	if cfg.Observability.Metrics.Path != "" {
		bypass = append(bypass, cfg.Observability.Metrics.Path)
	}
	return auth.Middleware(chain, limiter, bypass), nil
}
