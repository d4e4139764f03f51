package config

import (
	"errors"
	"flag"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func noEnvFile(t *testing.T) {
	t.Helper()
	t.Setenv("NXLEDGER_ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
}

func TestLoadDefaults(t *testing.T) {
	noEnvFile(t)

	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DBDriver != "sqlite" || cfg.DSN != "nxledger.sqlite3" {
		t.Errorf("unexpected database %s %s", cfg.DBDriver, cfg.DSN)
	}
	if cfg.Addr != ":8080" {
		t.Errorf("expected :8080, got %s", cfg.Addr)
	}
	if cfg.AdminUser != "Admin" {
		t.Errorf("expected Admin, got %s", cfg.AdminUser)
	}
	if cfg.LockTTL != 30*time.Second {
		t.Errorf("expected 30s lock ttl, got %s", cfg.LockTTL)
	}
	if cfg.Blob.Driver != "sql" {
		t.Errorf("expected sql blob driver, got %s", cfg.Blob.Driver)
	}
	if cfg.RedisAddr != "" {
		t.Errorf("expected no redis, got %s", cfg.RedisAddr)
	}
}

func TestLoadEnvironment(t *testing.T) {
	noEnvFile(t)
	t.Setenv("NXLEDGER_DB_DRIVER", "pgx")
	t.Setenv("NXLEDGER_DB", "postgres://localhost/nxledger")
	t.Setenv("NXLEDGER_LOCK_TTL", "5s")
	t.Setenv("NXLEDGER_BLOB_S3_PATH_STYLE", "true")

	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DBDriver != "pgx" || cfg.DSN != "postgres://localhost/nxledger" {
		t.Errorf("unexpected database %s %s", cfg.DBDriver, cfg.DSN)
	}
	if cfg.LockTTL != 5*time.Second {
		t.Errorf("expected 5s, got %s", cfg.LockTTL)
	}
	if !cfg.Blob.S3.PathStyle {
		t.Error("expected path style")
	}
}

func TestLoadFlagsOverrideEnvironment(t *testing.T) {
	noEnvFile(t)
	t.Setenv("NXLEDGER_ADDR", ":7000")

	cfg, err := Load([]string{"-a", ":9000", "-redis", "localhost:6379", "-D", "mysql"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr != ":9000" {
		t.Errorf("expected :9000, got %s", cfg.Addr)
	}
	if cfg.RedisAddr != "localhost:6379" {
		t.Errorf("expected redis address, got %s", cfg.RedisAddr)
	}
	if cfg.DBDriver != "mysql" {
		t.Errorf("expected mysql, got %s", cfg.DBDriver)
	}
}

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	content := "NXLEDGER_ADDR=:6000\nNXLEDGER_ADMIN_USER=root\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing env file: %v", err)
	}
	t.Setenv("NXLEDGER_ENV_FILE", path)
	t.Setenv("NXLEDGER_ADMIN_USER", "operator")

	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr != ":6000" {
		t.Errorf("expected :6000 from file, got %s", cfg.Addr)
	}
	// The process environment wins over the file.
	if cfg.AdminUser != "operator" {
		t.Errorf("expected operator, got %s", cfg.AdminUser)
	}
}

func TestLoadErrors(t *testing.T) {
	noEnvFile(t)

	if _, err := Load([]string{"-h"}); !errors.Is(err, flag.ErrHelp) {
		t.Errorf("expected flag.ErrHelp, got %v", err)
	}
	if _, err := Load([]string{"extra"}); err == nil {
		t.Error("expected error for positional argument")
	}

	t.Setenv("NXLEDGER_LOCK_TTL", "soon")
	if _, err := Load(nil); err == nil {
		t.Error("expected error for bad lock ttl")
	}
}
