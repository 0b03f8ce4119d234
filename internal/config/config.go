package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultAppName           = "Cashd"
	defaultAppEnv            = "development"
	defaultPort              = "8080"
	defaultLogLevel          = "info"
	defaultShutdownDelay     = 10 * time.Second
	defaultPINMaxAttempts    = 5
	defaultPINLockoutTTL     = 15 * time.Minute
	defaultPendingGrace      = time.Hour
	defaultReconcileInterval = time.Minute
	defaultMigrationsPath    = "migrations"
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName        string
	AppEnv         string
	Port           string
	LogLevel       string
	DatabaseURL    string
	RedisURL       string
	MigrationsPath string
	ShutdownPeriod time.Duration

	// PIN verification budget per account.
	PINMaxAttempts int
	PINLockoutTTL  time.Duration

	// Reconciliation job tuning.
	PendingGracePeriod time.Duration
	ReconcileInterval  time.Duration
}

// Load reads configuration values from the environment and populates a Config instance.
func Load() (Config, error) {
	cfg := Config{
		AppName:            getEnv("APP_NAME", defaultAppName),
		AppEnv:             getEnv("APP_ENV", defaultAppEnv),
		Port:               getEnv("PORT", defaultPort),
		LogLevel:           strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		RedisURL:           os.Getenv("REDIS_URL"),
		MigrationsPath:     getEnv("MIGRATIONS_PATH", defaultMigrationsPath),
		ShutdownPeriod:     defaultShutdownDelay,
		PINMaxAttempts:     defaultPINMaxAttempts,
		PINLockoutTTL:      defaultPINLockoutTTL,
		PendingGracePeriod: defaultPendingGrace,
		ReconcileInterval:  defaultReconcileInterval,
	}

	if v := os.Getenv("SHUTDOWN_TIMEOUT_SECONDS"); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid SHUTDOWN_TIMEOUT_SECONDS: %w", err)
		}
		cfg.ShutdownPeriod = time.Duration(seconds) * time.Second
	} else if v := os.Getenv("SHUTDOWN_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid SHUTDOWN_TIMEOUT: %w", err)
		}
		cfg.ShutdownPeriod = d
	}

	if v := os.Getenv("PIN_MAX_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return Config{}, fmt.Errorf("invalid PIN_MAX_ATTEMPTS: %q", v)
		}
		cfg.PINMaxAttempts = n
	}

	var err error
	if cfg.PINLockoutTTL, err = getDuration("PIN_LOCKOUT_TTL", cfg.PINLockoutTTL); err != nil {
		return Config{}, err
	}
	if cfg.PendingGracePeriod, err = getDuration("PENDING_GRACE_PERIOD", cfg.PendingGracePeriod); err != nil {
		return Config{}, err
	}
	if cfg.ReconcileInterval, err = getDuration("RECONCILE_INTERVAL", cfg.ReconcileInterval); err != nil {
		return Config{}, err
	}

	// Development runs fully in memory; everything else needs real backends.
	if !cfg.IsDev() {
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("DATABASE_URL must be set when APP_ENV=%s", cfg.AppEnv)
		}
		if cfg.RedisURL == "" {
			return Config{}, fmt.Errorf("REDIS_URL must be set when APP_ENV=%s", cfg.AppEnv)
		}
	}

	return cfg, nil
}

// IsDev reports whether the configured environment is a local development one.
func (c Config) IsDev() bool {
	switch strings.ToLower(c.AppEnv) {
	case "dev", "development", "local":
		return true
	default:
		return false
	}
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
