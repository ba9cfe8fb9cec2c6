package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aegis-sec/aegis/internal/models"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Scanner.MaxArtifactSize != 100*1024*1024 {
		t.Errorf("expected 100MB artifact cap, got %d", cfg.Scanner.MaxArtifactSize)
	}
	if cfg.Scanner.SignatureMatchThreshold != 0.7 {
		t.Errorf("expected match threshold 0.7, got %f", cfg.Scanner.SignatureMatchThreshold)
	}
	if !cfg.Scanner.QuantumEnabled() {
		t.Error("quantum checks default on")
	}
	if cfg.Sandbox.Timeout != 30*time.Second {
		t.Errorf("expected 30s sandbox timeout, got %s", cfg.Sandbox.Timeout)
	}
	if !cfg.Sandbox.Limits.NetworkIsolated {
		t.Error("sandbox network isolation is not optional")
	}
	if cfg.Response.TriggerThreshold != 8.0 {
		t.Errorf("expected trigger threshold 8.0, got %f", cfg.Response.TriggerThreshold)
	}
	if cfg.Response.ElevatedLogThreshold != 7.0 {
		t.Errorf("expected elevated threshold 7.0, got %f", cfg.Response.ElevatedLogThreshold)
	}
	if cfg.Notifications.MinSeverity != models.SeverityHigh {
		t.Errorf("expected min severity HIGH, got %s", cfg.Notifications.MinSeverity)
	}
	if cfg.Retention.Days != 90 {
		t.Errorf("expected 90 day retention, got %d", cfg.Retention.Days)
	}
}

func TestLoad_FileOverridesAndEnvExpansion(t *testing.T) {
	t.Setenv("TEST_DB_PASSWORD", "hunter2")

	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
server:
  port: 9000
database:
  password: ${TEST_DB_PASSWORD}
scanner:
  quantum_checks_enabled: false
  signature_match_threshold: 0.85
response:
  trigger_threshold: 9.5
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Server.Port != 9000 {
		t.Errorf("expected port 9000, got %d", cfg.Server.Port)
	}
	if cfg.Database.Password != "hunter2" {
		t.Errorf("env expansion failed, got %q", cfg.Database.Password)
	}
	if cfg.Scanner.QuantumEnabled() {
		t.Error("quantum checks should be disabled by explicit false")
	}
	if cfg.Scanner.SignatureMatchThreshold != 0.85 {
		t.Errorf("expected threshold 0.85, got %f", cfg.Scanner.SignatureMatchThreshold)
	}
	if cfg.Response.TriggerThreshold != 9.5 {
		t.Errorf("expected trigger 9.5, got %f", cfg.Response.TriggerThreshold)
	}
	// Untouched fields still get defaults.
	if cfg.Database.Port != 5432 {
		t.Errorf("expected default db port, got %d", cfg.Database.Port)
	}
}

func TestDatabaseDSN(t *testing.T) {
	c := DatabaseConfig{Host: "db", Port: 5432, User: "aegis", Password: "pw", Database: "aegis", SSLMode: "disable"}
	want := "host=db port=5432 user=aegis password=pw dbname=aegis sslmode=disable"
	if got := c.DSN(); got != want {
		t.Errorf("DSN() = %q, want %q", got, want)
	}
}

func TestLoad_MalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("server: [not a map"), 0o600); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected a parse error")
	}
}
