package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "pearlgate.yaml")
	if err := os.WriteFile(path, []byte(strings.TrimSpace(contents)), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

const minimalValidConfig = `
server:
  host: 127.0.0.1
  port: 8081
accounts:
  - id: acct-1
    provider: anthropic
    auth: apiKey
    credential: test-key
    enabled: true
rules:
  - name: default
    match:
      default: true
    target: acct-1
pricing:
  anthropic:
    "*":
      input_per_1k: 0.01
      output_per_1k: 0.03
`

func TestLoadAppliesDefaultsToMinimalConfig(t *testing.T) {
	path := writeConfig(t, minimalValidConfig)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.MetricsPort != 9090 {
		t.Errorf("expected default metrics port 9090, got %d", cfg.Server.MetricsPort)
	}
	if cfg.Auth.APIKeyHeader != "x-api-key" {
		t.Errorf("expected default api key header, got %q", cfg.Auth.APIKeyHeader)
	}
	if cfg.Memory.Limit != 10 {
		t.Errorf("expected default memory limit 10, got %d", cfg.Memory.Limit)
	}
	if cfg.Memory.HalfLife.Hours() != 168 {
		t.Errorf("expected default half life 168h, got %v", cfg.Memory.HalfLife)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("expected default logging level/format, got %q/%q", cfg.Logging.Level, cfg.Logging.Format)
	}
	if cfg.Accounts[0].Auth != "apiKey" {
		t.Errorf("expected account auth to round-trip, got %q", cfg.Accounts[0].Auth)
	}
	if cfg.Detection.BanWindow.BanDuration == 0 {
		t.Error("expected ban window to default to a non-zero ban config")
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, minimalValidConfig+"\nbogus_top_level_field: true\n")

	if _, err := Load(path); err == nil {
		t.Fatal("expected an error for an unknown top-level field")
	}
}

func TestLoadRejectsMultiDocument(t *testing.T) {
	path := writeConfig(t, minimalValidConfig+"\n---\nserver:\n  port: 9999\n")

	if _, err := Load(path); err == nil {
		t.Fatal("expected an error for a multi-document config file")
	}
}

func TestLoadExpandsEnvVars(t *testing.T) {
	t.Setenv("PEARLGATE_TEST_CREDENTIAL", "secret-from-env")

	path := writeConfig(t, `
accounts:
  - id: acct-1
    provider: anthropic
    credential: ${PEARLGATE_TEST_CREDENTIAL}
    enabled: true
rules:
  - name: default
    match:
      default: true
    target: acct-1
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Accounts[0].Credential != "secret-from-env" {
		t.Errorf("expected expanded credential, got %q", cfg.Accounts[0].Credential)
	}
}

func TestLoadRequiresAtLeastOneAccount(t *testing.T) {
	path := writeConfig(t, `
rules:
  - name: default
    match:
      default: true
    target: acct-1
`)

	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "at least one account") {
		t.Fatalf("expected a missing-account error, got %v", err)
	}
}

func TestLoadRejectsDuplicateAccountIDs(t *testing.T) {
	path := writeConfig(t, `
accounts:
  - id: acct-1
    provider: anthropic
    enabled: true
  - id: acct-1
    provider: openai
    enabled: true
rules:
  - name: default
    match:
      default: true
    target: acct-1
`)

	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "duplicate account id") {
		t.Fatalf("expected a duplicate-account error, got %v", err)
	}
}

func TestLoadRejectsRuleTargetingUnknownAccount(t *testing.T) {
	path := writeConfig(t, `
accounts:
  - id: acct-1
    provider: anthropic
    enabled: true
rules:
  - name: default
    match:
      default: true
    target: acct-missing
`)

	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "unknown account") {
		t.Fatalf("expected an unknown-account error, got %v", err)
	}
}

func TestLoadRequiresExactlyOneDefaultRule(t *testing.T) {
	path := writeConfig(t, `
accounts:
  - id: acct-1
    provider: anthropic
    enabled: true
rules:
  - name: a
    match:
      default: true
    target: acct-1
  - name: b
    match:
      default: true
    target: acct-1
`)

	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "exactly one default") {
		t.Fatalf("expected a default-rule-count error, got %v", err)
	}
}

func TestLoadRejectsUnsupportedTranscriptDriver(t *testing.T) {
	path := writeConfig(t, minimalValidConfig+"\ntranscript:\n  driver: mongodb\n")

	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "transcript driver") {
		t.Fatalf("expected an unsupported-driver error, got %v", err)
	}
}

func TestToDetectorConfigFillsDefaultActionMap(t *testing.T) {
	d := DetectionConfig{RegexEnabled: true}
	detCfg := d.ToDetectorConfig()
	if len(detCfg.ActionMap) == 0 {
		t.Fatal("expected ToDetectorConfig to fill a default action map")
	}
}
