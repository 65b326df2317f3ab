package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is everything the provisioning store needs from its environment:
// the storage target (file-based SQLite or networked PostgreSQL),
// credentials, pool size and admission timeout.
type Config struct {
	Database DatabaseConfig
	Metrics  MetricsConfig
}

// DatabaseConfig selects and sizes the storage target.
type DatabaseConfig struct {
	// Driver is "pgx" for PostgreSQL or "sqlite3" for a file-based store.
	Driver string
	// DSN is the connection string, or a file path for sqlite3.
	DSN string
	// User and Password override credentials embedded in the DSN when set.
	User     string
	Password string

	MaxConns       int
	AcquireTimeout time.Duration
}

// MetricsConfig controls the optional scrape endpoint.
type MetricsConfig struct {
	// Addr is the listen address for /metrics; empty disables the endpoint.
	Addr string
}

// Load reads configuration from PROV_* environment variables. Malformed
// values are errors, never silent defaults.
func Load() (*Config, error) {
	maxConns, err := parseInt("PROV_DB_MAX_CONNS", 10)
	if err != nil {
		return nil, err
	}
	acquireTimeout, err := parseDuration("PROV_DB_ACQUIRE_TIMEOUT", "60s")
	if err != nil {
		return nil, err
	}
	cfg := &Config{
		Database: DatabaseConfig{
			Driver:         getEnv("PROV_DB_DRIVER", "pgx"),
			DSN:            os.Getenv("PROV_DB_DSN"),
			User:           os.Getenv("PROV_DB_USER"),
			Password:       os.Getenv("PROV_DB_PASSWORD"),
			MaxConns:       maxConns,
			AcquireTimeout: acquireTimeout,
		},
		Metrics: MetricsConfig{
			Addr: os.Getenv("PROV_METRICS_ADDR"),
		},
	}
	if cfg.Database.DSN == "" {
		return nil, fmt.Errorf("PROV_DB_DSN is required")
	}
	if cfg.Database.Driver != "pgx" && cfg.Database.Driver != "sqlite3" {
		return nil, fmt.Errorf("unsupported PROV_DB_DRIVER %q", cfg.Database.Driver)
	}
	if cfg.Database.MaxConns < 1 {
		return nil, fmt.Errorf("PROV_DB_MAX_CONNS must be positive")
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return n, nil
}

func parseDuration(key, fallback string) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		v = fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return d, nil
}
