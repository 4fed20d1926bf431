package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Auth.Mode != "tokenfile" || cfg.Gmail.RPS != 4 || cfg.Gmail.Concurrency != 1 {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.Gmail.CallTimeout != 30*time.Second {
		t.Fatalf("call timeout = %v", cfg.Gmail.CallTimeout)
	}
	if cfg.Ingest.Limit != 10 || cfg.Server.Addr != ":8080" || cfg.LogLevel != "info" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
database:
  path: /tmp/triage.db
auth:
  mode: localcred
  dir: /etc/triage
gmail:
  rps: 2
  call_timeout: 5s
  concurrency: 3
ingest:
  limit: 25
log_level: debug
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("TRIAGE_GMAIL_RPS", "9")
	t.Setenv("TRIAGE_SERVER_ADDR", "127.0.0.1:9000")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Database.Path != "/tmp/triage.db" || cfg.Auth.Mode != "localcred" || cfg.Auth.Dir != "/etc/triage" {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.Gmail.CallTimeout != 5*time.Second || cfg.Gmail.Concurrency != 3 || cfg.Ingest.Limit != 25 {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.Gmail.RPS != 9 {
		t.Fatalf("env override ignored: rps = %d", cfg.Gmail.RPS)
	}
	if cfg.Server.Addr != "127.0.0.1:9000" {
		t.Fatalf("env override ignored: addr = %q", cfg.Server.Addr)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("log level = %q", cfg.LogLevel)
	}
}

func TestLoadRejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"bad-mode", "auth:\n  mode: kerberos\n"},
		{"bad-limit", "ingest:\n  limit: 0\n"},
		{"bad-yaml", "gmail: [unclosed\n"},
	}
	for _, tt := range tests {
		tc := tt
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			if err := os.WriteFile(path, []byte(tc.yaml), 0o600); err != nil {
				t.Fatalf("write: %v", err)
			}
			if _, err := Load(path); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}
