package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadWritesDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg, resolved, err := Load(nil, path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if resolved != path {
		t.Fatalf("resolved path = %q, want %q", resolved, path)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default config not written: %v", err)
	}
	if cfg.Port != 12345 || cfg.Host != "0.0.0.0" || cfg.HandshakeTimeout != 30*time.Second {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.RoomsPath() != filepath.Join("data", "chat_data.json") {
		t.Fatalf("rooms path = %q", cfg.RoomsPath())
	}
}

func TestLoadPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "port: 4000\nlog_level: debug\nsweep_interval: 1m\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CHATSERVER_LOG_LEVEL", "warn")

	cfg, _, err := Load(nil, path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 4000 {
		t.Errorf("file value not applied: port=%d", cfg.Port)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("env must override file: log_level=%q", cfg.LogLevel)
	}
	if cfg.SweepInterval != time.Minute {
		t.Errorf("duration not parsed: %v", cfg.SweepInterval)
	}
	if cfg.MaxConnections != 100 {
		t.Errorf("default lost: max_connections=%d", cfg.MaxConnections)
	}
}

func TestUpdateFromAndValidate(t *testing.T) {
	cfg := Default()
	cfg.UpdateFrom(Config{Port: 2020, Host: "127.0.0.1"})
	if cfg.ListenAddr() != "127.0.0.1:2020" {
		t.Fatalf("listen addr = %q", cfg.ListenAddr())
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	cfg.Port = 70000
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected invalid port error")
	}

	cfg = Default()
	cfg.AuditDB = ""
	if cfg.AuditPath() != "" {
		t.Fatal("empty audit_db must disable the audit trail")
	}
}
