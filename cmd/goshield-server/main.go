// Command goshield-server serves the authentication API behind the full
// request-defense pipeline.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v2"

	goShield "github.com/MrEthical07/goShield"
	"github.com/MrEthical07/goShield/accounts"
	"github.com/MrEthical07/goShield/internal/confloader"
	"github.com/MrEthical07/goShield/internal/observability"
)

// Build information, set via ldflags.
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

func main() {
	if err := app().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func app() *cli.App {
	return &cli.App{
		Name:    "goshield-server",
		Usage:   "Authentication API with rate limiting, lockout and CSRF protection",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildTime),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to YAML configuration file",
				EnvVars: []string{"GOSHIELD_CONFIG"},
			},
			&cli.StringSliceFlag{
				Name:  "env-file",
				Usage: "Dotenv file to load before the environment (repeatable)",
			},
		},
		Commands: []*cli.Command{
			serveCommand(),
			migrateCommand(),
		},
		DefaultCommand: "serve",
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "addr",
				Usage: "Listen address, overrides server.addr",
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Expose exception details in error responses",
			},
			&cli.BoolFlag{
				Name:  "embedded-redis",
				Usage: "Run an in-process Redis for local development",
			},
		},
		Action: serve,
	}
}

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Apply account store migrations and exit",
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			if cfg.Database.URL == "" {
				return errors.New("database.url is required")
			}
			db, err := accounts.Open(c.Context, cfg.Database.URL, cfg.Database.Pool)
			if err != nil {
				return err
			}
			defer db.Close()
			return accounts.Migrate(c.Context, db)
		},
	}
}

// loadConfig layers defaults, the config file, dotenv files and GOSHIELD_
// environment variables.
func loadConfig(c *cli.Context) (goShield.Config, error) {
	cfg := goShield.DefaultConfig()

	var opts []confloader.Option
	if path := c.String("config"); path != "" {
		opts = append(opts, confloader.WithConfigFile(path))
	}
	if files := c.StringSlice("env-file"); len(files) > 0 {
		opts = append(opts, confloader.WithEnvFiles(files...))
	}

	if err := confloader.NewLoader(opts...).Load(&cfg); err != nil {
		return cfg, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func serve(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if addr := c.String("addr"); addr != "" {
		cfg.Server.Addr = addr
	}
	if c.Bool("debug") {
		cfg.Server.Debug = true
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := observability.NewLogger(cfg.Observability.Log, os.Stdout)
	slog.SetDefault(logger)

	sentryEnabled, err := observability.InitSentry(cfg.Observability.Sentry)
	if err != nil {
		logger.Warn("sentry init failed", "error", err)
	}
	if sentryEnabled {
		defer observability.FlushSentry()
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	rdb, closeRedis, err := openRedis(cfg.Redis, c.Bool("embedded-redis"), logger)
	if err != nil {
		return err
	}
	defer closeRedis()

	store, db, err := openStore(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}

	shield, err := goShield.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithAccountStore(store).
		WithLogger(logger).
		Build()
	if err != nil {
		return fmt.Errorf("build shield: %w", err)
	}
	defer shield.Close()
	logPosture(logger, shield.SecurityReport())

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           shield.Handler(),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", cfg.Server.Addr, "version", version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("server stopped gracefully")
	return nil
}

func openRedis(cfg goShield.RedisConfig, embedded bool, logger *slog.Logger) (redis.UniversalClient, func(), error) {
	addr := cfg.Addr
	var mr *miniredis.Miniredis
	if embedded {
		var err error
		mr, err = miniredis.Run()
		if err != nil {
			return nil, nil, fmt.Errorf("start embedded redis: %w", err)
		}
		addr = mr.Addr()
		logger.Warn("using embedded redis; counters are lost on restart", "addr", addr)
	}

	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:        []string{addr},
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})
	cleanup := func() {
		_ = client.Close()
		if mr != nil {
			mr.Close()
		}
	}
	return client, cleanup, nil
}

func openStore(ctx context.Context, cfg goShield.DatabaseConfig, logger *slog.Logger) (accounts.Store, *sql.DB, error) {
	if cfg.URL == "" {
		logger.Warn("database.url not set; accounts are kept in memory")
		return accounts.NewMemoryStore(), nil, nil
	}

	db, err := accounts.Open(ctx, cfg.URL, cfg.Pool)
	if err != nil {
		return nil, nil, err
	}
	if cfg.AutoMigrate {
		if err := accounts.Migrate(ctx, db); err != nil {
			db.Close()
			return nil, nil, err
		}
	}
	return accounts.NewPostgresStore(db), db, nil
}

func logPosture(logger *slog.Logger, report goShield.SecurityReport) {
	logger.Info("security posture",
		"signing_algorithm", report.SigningAlgorithm,
		"access_ttl", report.AccessTTL,
		"refresh_ttl", report.RefreshTTL,
		"rate_limiting", report.RateLimitingActive,
		"login_limit", report.LoginLimit,
		"lockout_threshold", report.LockoutThreshold,
		"lockout_duration", report.LockoutDuration,
		"csrf", report.CSRFActive,
		"max_body_bytes", report.MaxBodyBytes,
		"audit", report.AuditActive,
	)
	for _, w := range report.Warnings {
		logger.Warn("security posture warning", "warning", w)
	}
}
