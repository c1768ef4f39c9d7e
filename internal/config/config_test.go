package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/devlens-io/devlens/internal/audit"
)

func noSecrets(ref string) (string, error) {
	return "", fmt.Errorf("secret %q not found", ref)
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "devlens.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := load("", noSecrets)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Env != "dev" {
		t.Errorf("env = %q", cfg.Env)
	}
	if cfg.HTTPAddr != ":8080" || cfg.MetricsAddr != ":9090" {
		t.Errorf("addrs = %q %q", cfg.HTTPAddr, cfg.MetricsAddr)
	}
	if cfg.Audit.QueueCapacity != 10000 {
		t.Errorf("queue_capacity = %d", cfg.Audit.QueueCapacity)
	}
	if cfg.Audit.QueueOverflowPolicy != "drop_newest" {
		t.Errorf("overflow policy = %q", cfg.Audit.QueueOverflowPolicy)
	}
	if cfg.Audit.DefaultRetentionDays != 90 {
		t.Errorf("retention = %d", cfg.Audit.DefaultRetentionDays)
	}
	if cfg.Audit.DrainDeadline != 5*time.Second {
		t.Errorf("drain deadline = %v", cfg.Audit.DrainDeadline)
	}
}

func TestLoad_FileLayerOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
env: prod
ingest_api_key: k-123
audit:
  queue_capacity: 500
  queue_overflow_policy: drop_oldest
  sinks:
    - kind: sqlite
      name: primary
      path: /tmp/devlens-test-audit.db
      retention_days: 30
    - kind: file
      name: archive
      path: /tmp/devlens-test-audit.ndjson
      max_size_mb: 64
      compress: true
      filter:
        min_severity: warning
        include_anonymous: true
`)
	cfg, err := load(path, noSecrets)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Audit.QueueCapacity != 500 {
		t.Errorf("queue_capacity = %d", cfg.Audit.QueueCapacity)
	}
	if cfg.Audit.QueueOverflowPolicy != "drop_oldest" {
		t.Errorf("policy = %q", cfg.Audit.QueueOverflowPolicy)
	}
	// Defaults survive under keys the file does not set.
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("http_addr = %q", cfg.HTTPAddr)
	}
	if len(cfg.Audit.Sinks) != 2 {
		t.Fatalf("sinks = %d", len(cfg.Audit.Sinks))
	}
	archive := cfg.Audit.Sinks[1]
	if archive.Kind != "file" || archive.MaxSizeMB != 64 || !archive.Compress {
		t.Errorf("archive spec = %+v", archive)
	}
	if archive.Filter.MinSeverity != audit.SeverityWarning {
		t.Errorf("archive filter = %+v", archive.Filter)
	}
}

func TestLoad_EnvLayerWinsOverFile(t *testing.T) {
	path := writeConfig(t, "http_addr: \":7070\"\n")
	t.Setenv("DEVLENS_HTTP_ADDR", ":6060")
	cfg, err := load(path, noSecrets)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != ":6060" {
		t.Errorf("http_addr = %q, want env override :6060", cfg.HTTPAddr)
	}
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantSub string
	}{
		{
			name:    "unknown env",
			yaml:    "env: staging\n",
			wantSub: "env must be",
		},
		{
			name:    "unknown overflow policy",
			yaml:    "audit:\n  queue_overflow_policy: spill\n",
			wantSub: "queue_overflow_policy",
		},
		{
			name:    "block policy rejected",
			yaml:    "audit:\n  queue_overflow_policy: block\n",
			wantSub: "block",
		},
		{
			name: "tls over udp",
			yaml: `
audit:
  sinks:
    - kind: syslog
      name: siem
      host: h
      port: 514
      protocol: udp
      tls: true
`,
			wantSub: "tls=true requires protocol=tcp",
		},
		{
			name: "facility out of range",
			yaml: `
audit:
  sinks:
    - kind: syslog
      name: siem
      host: h
      port: 514
      protocol: tcp
      facility: 12
`,
			wantSub: "facility",
		},
		{
			name: "unresolvable secret ref",
			yaml: `
audit:
  sinks:
    - kind: http
      name: webhook
      url: https://example.com/hook
      signing_secret_ref: missing_secret
`,
			wantSub: "missing_secret",
		},
		{
			name:    "prod requires ingest key",
			yaml:    "env: prod\n",
			wantSub: "ingest_api_key",
		},
		{
			name: "unknown filter severity",
			yaml: `
audit:
  sinks:
    - kind: tracing
      name: mirror
      filter:
        min_severity: fatal
`,
			wantSub: "min_severity",
		},
		{
			name: "unknown filter event type",
			yaml: `
audit:
  sinks:
    - kind: tracing
      name: mirror
      filter:
        event_types: [login]
`,
			wantSub: "unknown event type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := load(writeConfig(t, tt.yaml), noSecrets)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("error %q does not mention %q", err, tt.wantSub)
			}
		})
	}
}

func TestLoad_SecretResolution(t *testing.T) {
	path := writeConfig(t, `
audit:
  sinks:
    - kind: http
      name: webhook
      url: https://example.com/hook
      signing_secret_ref: audit_webhook_secret
`)
	cfg, err := load(path, func(ref string) (string, error) {
		if ref != "audit_webhook_secret" {
			return "", fmt.Errorf("unexpected ref %q", ref)
		}
		return "whsec_resolved", nil
	})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Audit.Sinks[0].SigningSecret != "whsec_resolved" {
		t.Errorf("signing secret = %q", cfg.Audit.Sinks[0].SigningSecret)
	}
}

func TestEnvSecretResolver(t *testing.T) {
	t.Setenv("AUDIT_TEST_SECRET", "from-env")
	got, err := EnvSecretResolver("audit-test-secret")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got != "from-env" {
		t.Errorf("value = %q", got)
	}

	secretFile := filepath.Join(t.TempDir(), "secret")
	if err := os.WriteFile(secretFile, []byte("from-file\n"), 0o600); err != nil {
		t.Fatalf("write secret: %v", err)
	}
	t.Setenv("AUDIT_FILE_SECRET_FILE", secretFile)
	got, err = EnvSecretResolver("audit_file_secret")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got != "from-file" {
		t.Errorf("value = %q, want trimmed file contents", got)
	}

	if _, err := EnvSecretResolver("definitely_not_set_anywhere"); err == nil {
		t.Error("expected error for unknown secret")
	}
}

func TestServiceConfigConversion(t *testing.T) {
	cfg, err := load("", noSecrets)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	sc := cfg.ServiceConfig()
	if sc.QueueCapacity != 10000 || sc.OverflowPolicy != audit.OverflowDropNewest {
		t.Errorf("service config = %+v", sc)
	}
	if sc.DrainDeadline != 5*time.Second || sc.PublishTimeout != 10*time.Second {
		t.Errorf("timeouts = %v %v", sc.DrainDeadline, sc.PublishTimeout)
	}
}
