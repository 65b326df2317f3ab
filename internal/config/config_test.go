package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PROV_DB_DSN", "postgres://localhost/prov")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Database.Driver != "pgx" {
		t.Fatalf("unexpected driver: %s", cfg.Database.Driver)
	}
	if cfg.Database.MaxConns != 10 {
		t.Fatalf("unexpected max conns: %d", cfg.Database.MaxConns)
	}
	if cfg.Database.AcquireTimeout != 60*time.Second {
		t.Fatalf("unexpected timeout: %s", cfg.Database.AcquireTimeout)
	}
}

func TestLoadFileBackedTarget(t *testing.T) {
	t.Setenv("PROV_DB_DRIVER", "sqlite3")
	t.Setenv("PROV_DB_DSN", "/var/lib/prov/store.db")
	t.Setenv("PROV_DB_MAX_CONNS", "1")
	t.Setenv("PROV_DB_ACQUIRE_TIMEOUT", "200ms")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Database.Driver != "sqlite3" {
		t.Fatalf("unexpected driver: %s", cfg.Database.Driver)
	}
	if cfg.Database.MaxConns != 1 {
		t.Fatalf("unexpected max conns: %d", cfg.Database.MaxConns)
	}
	if cfg.Database.AcquireTimeout != 200*time.Millisecond {
		t.Fatalf("unexpected timeout: %s", cfg.Database.AcquireTimeout)
	}
}

func TestLoadRequiresDSN(t *testing.T) {
	t.Setenv("PROV_DB_DSN", "")
	if _, err := Load(); err == nil {
		t.Fatal("expected error without DSN")
	}
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	t.Setenv("PROV_DB_DSN", "whatever")
	t.Setenv("PROV_DB_DRIVER", "oracle")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for unsupported driver")
	}
}

func TestLoadRejectsMalformedMaxConns(t *testing.T) {
	t.Setenv("PROV_DB_DSN", "postgres://localhost/prov")
	t.Setenv("PROV_DB_MAX_CONNS", "ten")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for malformed max conns")
	}
}

func TestLoadRejectsMalformedTimeout(t *testing.T) {
	t.Setenv("PROV_DB_DSN", "postgres://localhost/prov")
	t.Setenv("PROV_DB_ACQUIRE_TIMEOUT", "sixty")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for malformed timeout")
	}
}
