package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/erazemk/predaja/internal/api"
	"github.com/erazemk/predaja/internal/auth"
	"github.com/erazemk/predaja/internal/config"
	"github.com/erazemk/predaja/internal/db"
	"github.com/erazemk/predaja/internal/lock"
	"github.com/erazemk/predaja/internal/obs"
	"github.com/erazemk/predaja/internal/store"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// levelRouter is a slog.Handler that routes INFO/WARN to stdout and ERROR+ to stderr.
type levelRouter struct {
	stdout slog.Handler
	stderr slog.Handler
}

func (lr *levelRouter) Enabled(_ context.Context, level slog.Level) bool {
	return level >= slog.LevelInfo
}

func (lr *levelRouter) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= slog.LevelError {
		return lr.stderr.Handle(ctx, r)
	}
	return lr.stdout.Handle(ctx, r)
}

func (lr *levelRouter) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &levelRouter{
		stdout: lr.stdout.WithAttrs(attrs),
		stderr: lr.stderr.WithAttrs(attrs),
	}
}

func (lr *levelRouter) WithGroup(name string) slog.Handler {
	return &levelRouter{
		stdout: lr.stdout.WithGroup(name),
		stderr: lr.stderr.WithGroup(name),
	}
}

// setupLogger configures structured logging. INFO/WARN go to stdout, ERROR goes
// to stderr. If logPath is non-empty, all levels are also written to that file.
func setupLogger(logPath string) (func(), error) {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}

	var cleanup func()

	stdoutW := io.Writer(os.Stdout)
	stderrW := io.Writer(os.Stderr)

	if logPath != "" {
		f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("opening log file: %w", err)
		}
		cleanup = func() { f.Close() }
		stdoutW = io.MultiWriter(os.Stdout, f)
		stderrW = io.MultiWriter(os.Stderr, f)
	}

	handler := &levelRouter{
		stdout: slog.NewTextHandler(stdoutW, opts),
		stderr: slog.NewTextHandler(stderrW, opts),
	}
	slog.SetDefault(slog.New(handler).With("version", version))
	return cleanup, nil
}

func main() {
	cfg, err := config.Load(os.Args[1:], ".env", os.Stdout)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	closeLog, err := setupLogger(cfg.LogPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if closeLog != nil {
		defer closeLog()
	}

	if err := run(cfg); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config) error {
	database, err := db.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer database.Close()

	if err := db.Migrate(database); err != nil {
		return fmt.Errorf("migrating database: %w", err)
	}
	slog.Info("database ready", "path", cfg.DBPath)

	ctx := context.Background()
	if err := ensureFailsafe(ctx, database, cfg.FailsafeEmail); err != nil {
		return err
	}

	secret := cfg.JWTSecret
	if secret == "" {
		// Generated on first run and kept in the settings table.
		if secret, err = store.GetJWTSecret(ctx, database); err != nil {
			return fmt.Errorf("loading JWT secret: %w", err)
		}
	}

	locker, closeLocker, err := newLocker(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeLocker()

	metrics := obs.New()
	metrics.SetBuildInfo(version)

	handler := api.NewRouter(api.Options{
		DB:          database,
		Issuer:      auth.NewIssuer(secret, cfg.TokenTTL),
		Locker:      locker,
		Metrics:     metrics,
		LoginRate:   cfg.LoginRate,
		LoginBurst:  cfg.LoginBurst,
		CORSOrigins: cfg.CORSOrigins,
		PageLimit:   cfg.PageLimit,
	})

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Graceful shutdown on SIGINT/SIGTERM.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-quit
		slog.Info("shutdown signal received", "signal", sig.String())

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			slog.Error("server forced to shutdown", "error", err)
		}
	}()

	slog.Info("server started", "addr", cfg.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	slog.Info("server stopped, closing database")
	return nil
}

// ensureFailsafe creates the failsafe admin on first run and re-pins its
// role and activation on every start.
func ensureFailsafe(ctx context.Context, database *sql.DB, email string) error {
	existing, err := store.GetFailsafeUser(ctx, database)
	if err != nil {
		return fmt.Errorf("looking up failsafe account: %w", err)
	}

	if existing == nil {
		password, err := auth.GeneratePassword(16)
		if err != nil {
			return fmt.Errorf("generating password: %w", err)
		}
		hash, err := auth.HashPassword(password)
		if err != nil {
			return fmt.Errorf("hashing password: %w", err)
		}
		u, err := store.CreateFailsafeUser(ctx, database, email, hash)
		if err != nil {
			return fmt.Errorf("creating failsafe account: %w", err)
		}
		printFailsafe(u.Email, password)
	}

	if err := store.PinFailsafeUser(ctx, database); err != nil {
		return fmt.Errorf("pinning failsafe account: %w", err)
	}
	return nil
}

// printFailsafe prints the generated credentials to stdout.
func printFailsafe(email, password string) {
	fmt.Println("Failsafe admin account created:")
	fmt.Printf("  Email:    %s\n", email)
	fmt.Printf("  Password: %s\n", password)
	fmt.Println()
	fmt.Println("Save this password. It cannot be recovered or changed.")
	fmt.Println()
}

// newLocker returns a Redis-backed locker when an address is configured so
// several instances can share one database, and an in-process one otherwise.
func newLocker(ctx context.Context, cfg config.Config) (lock.Locker, func(), error) {
	if cfg.RedisAddr == "" {
		return lock.NewLocal(), func() {}, nil
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, nil, fmt.Errorf("connecting to redis at %s: %w", cfg.RedisAddr, err)
	}

	slog.Info("using redis locks", "addr", cfg.RedisAddr, "ttl", cfg.LockTTL)
	return lock.NewRedis(rdb, cfg.LockTTL), func() { rdb.Close() }, nil
}
