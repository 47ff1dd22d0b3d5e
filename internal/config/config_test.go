package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.yaml")
	body := []byte(`
server:
  port: 9090
database:
  driver: postgres
  host: db
  name: perms
index:
  search_cache_size: 5
log:
  level: debug
`)
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Server.BodyLimit != 16*1024*1024 {
		t.Fatalf("expected default body limit, got %d", cfg.Server.BodyLimit)
	}
	if cfg.Database.Driver != "postgres" || cfg.Database.Port != 5432 {
		t.Fatalf("unexpected database config: %+v", cfg.Database)
	}
	if cfg.Index.SearchCacheSize != 5 {
		t.Fatalf("expected search cache size 5, got %d", cfg.Index.SearchCacheSize)
	}
	if cfg.Log.Level != "debug" {
		t.Fatalf("expected debug level, got %q", cfg.Log.Level)
	}
	if !cfg.Activity.Enabled || cfg.Activity.BufferSize != 100 || cfg.Activity.RetentionDays != 30 {
		t.Fatalf("expected activity defaults, got %+v", cfg.Activity)
	}
}

func TestLoadFileMissing(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing explicit config file")
	}
}

func TestDSN(t *testing.T) {
	sqlite := DatabaseConfig{Driver: "sqlite", Path: "/tmp/data", Name: "perms"}
	if got := sqlite.DSN(); got != "/tmp/data/perms.db" {
		t.Fatalf("expected /tmp/data/perms.db, got %q", got)
	}

	pg := DatabaseConfig{Driver: "postgres", User: "u", Password: "p", Host: "h", Port: 5432, Name: "perms"}
	want := "postgres://u:p@h:5432/perms?sslmode=disable"
	if got := pg.DSN(); got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}

	if !(DatabaseConfig{}).IsSQLite() {
		t.Fatal("expected empty driver to mean sqlite")
	}
}

func TestAdminDisabledReason(t *testing.T) {
	cfg, err := LoadFile(writeEmptyConfig(t))
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.AdminDisabledReason() == "" {
		t.Fatal("expected admin API disabled with default config")
	}

	cfg.AdminPasswordHash = "$2a$10$hash"
	if cfg.AdminDisabledReason() == "" {
		t.Fatal("expected admin API disabled with the default jwt secret")
	}

	cfg.JWTSecret = "a-real-secret"
	if got := cfg.AdminDisabledReason(); got != "" {
		t.Fatalf("expected admin API enabled, got %q", got)
	}

	cfg.AdminPasswordHash = ""
	if cfg.AdminDisabledReason() == "" {
		t.Fatal("expected admin API disabled without a password hash")
	}
}

func writeEmptyConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "app.yaml")
	if err := os.WriteFile(path, []byte("log:\n  level: info\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}
