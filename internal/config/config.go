// Package config loads server settings from defaults, an optional .env file,
// PREDAJA_* environment variables and command-line flags, in that order.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the server settings.
type Config struct {
	DBPath        string
	Addr          string
	LogPath       string
	FailsafeEmail string
	JWTSecret     string
	TokenTTL      time.Duration
	LoginRate     float64 // login attempts per second per client
	LoginBurst    int
	CORSOrigins   []string
	RedisAddr     string
	LockTTL       time.Duration
	PageLimit     int
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		DBPath:        "predaja.sqlite3",
		Addr:          ":8080",
		FailsafeEmail: "failsafe@predaja.local",
		TokenTTL:      7 * 24 * time.Hour,
		LoginRate:     0.2,
		LoginBurst:    5,
		LockTTL:       30 * time.Second,
		PageLimit:     20,
	}
}

const usage = `Usage: predaja [flags]

Flags:
  -d, -db <path>          SQLite database path (default: predaja.sqlite3)
  -a, -addr <host:port>   listen address (default: :8080)
  -f, -failsafe <email>   failsafe admin email (default: failsafe@predaja.local)
  -l, -log <path>         log file path (default: no file, stdout/stderr only)
  -h, -help               show this help and exit

Environment (also read from .env):
  PREDAJA_DB, PREDAJA_ADDR, PREDAJA_LOG, PREDAJA_FAILSAFE_EMAIL,
  PREDAJA_JWT_SECRET, PREDAJA_TOKEN_TTL, PREDAJA_LOGIN_RATE,
  PREDAJA_LOGIN_BURST, PREDAJA_CORS_ORIGINS, PREDAJA_REDIS_ADDR,
  PREDAJA_LOCK_TTL, PREDAJA_PAGE_LIMIT
`

// Load builds the configuration. envFile may be empty to skip the .env file;
// a missing file is not an error. flag.ErrHelp is returned as is.
func Load(args []string, envFile string, out io.Writer) (Config, error) {
	cfg := Default()

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return cfg, fmt.Errorf("loading %s: %w", envFile, err)
		}
	}

	if err := cfg.fromEnv(os.Getenv); err != nil {
		return cfg, err
	}

	if err := cfg.fromFlags(args, out); err != nil {
		return cfg, err
	}

	return cfg, cfg.validate()
}

func (c *Config) fromEnv(getenv func(string) string) error {
	str := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	str("PREDAJA_DB", &c.DBPath)
	str("PREDAJA_ADDR", &c.Addr)
	str("PREDAJA_LOG", &c.LogPath)
	str("PREDAJA_FAILSAFE_EMAIL", &c.FailsafeEmail)
	str("PREDAJA_JWT_SECRET", &c.JWTSecret)
	str("PREDAJA_REDIS_ADDR", &c.RedisAddr)

	if v := getenv("PREDAJA_CORS_ORIGINS"); v != "" {
		c.CORSOrigins = nil
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				c.CORSOrigins = append(c.CORSOrigins, o)
			}
		}
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"PREDAJA_TOKEN_TTL", &c.TokenTTL},
		{"PREDAJA_LOCK_TTL", &c.LockTTL},
	}
	for _, d := range durations {
		v := getenv(d.key)
		if v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", d.key, err)
		}
		*d.dst = parsed
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"PREDAJA_LOGIN_BURST", &c.LoginBurst},
		{"PREDAJA_PAGE_LIMIT", &c.PageLimit},
	}
	for _, i := range ints {
		v := getenv(i.key)
		if v == "" {
			continue
		}
		parsed, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", i.key, err)
		}
		*i.dst = parsed
	}

	if v := getenv("PREDAJA_LOGIN_RATE"); v != "" {
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("PREDAJA_LOGIN_RATE: %w", err)
		}
		c.LoginRate = parsed
	}

	return nil
}

func (c *Config) fromFlags(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("predaja", flag.ContinueOnError)
	fs.SetOutput(out)

	fs.StringVar(&c.DBPath, "db", c.DBPath, "")
	fs.StringVar(&c.DBPath, "d", c.DBPath, "")
	fs.StringVar(&c.Addr, "addr", c.Addr, "")
	fs.StringVar(&c.Addr, "a", c.Addr, "")
	fs.StringVar(&c.FailsafeEmail, "failsafe", c.FailsafeEmail, "")
	fs.StringVar(&c.FailsafeEmail, "f", c.FailsafeEmail, "")
	fs.StringVar(&c.LogPath, "log", c.LogPath, "")
	fs.StringVar(&c.LogPath, "l", c.LogPath, "")

	fs.Usage = func() { fmt.Fprint(out, usage) }

	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() > 0 {
		fs.Usage()
		return fmt.Errorf("unexpected argument: %s", fs.Arg(0))
	}
	return nil
}

func (c *Config) validate() error {
	switch {
	case c.DBPath == "":
		return errors.New("database path must not be empty")
	case !strings.Contains(c.FailsafeEmail, "@"):
		return fmt.Errorf("invalid failsafe email %q", c.FailsafeEmail)
	case c.TokenTTL <= 0:
		return errors.New("token TTL must be positive")
	case c.LoginRate <= 0 || c.LoginBurst < 1:
		return errors.New("login rate and burst must be positive")
	case c.PageLimit < 1:
		return errors.New("page limit must be positive")
	}
	return nil
}
