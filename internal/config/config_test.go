package config

import (
	"os"
	"testing"
	"time"
)

const sampleConfig = `
server:
  host: 127.0.0.1
  port: "9090"
llm:
  base_url: https://api.example.com/v1
  api_key: dummy
  model: gpt-4o
  timeout: 15s
store:
  driver: memory
image:
  alternatives:
    - "A sketch of %s"
rate_limit:
  requests: 3
  window: 30s
`

// TestLoad_File verifies that Load correctly unmarshals a YAML config file.
func TestLoad_File(t *testing.T) {
	tmp, err := os.CreateTemp(t.TempDir(), "cfg-*.yaml")
	if err != nil {
		t.Fatalf("temp file: %v", err)
	}
	if _, err := tmp.WriteString(sampleConfig); err != nil {
		t.Fatalf("write: %v", err)
	}
	tmp.Close()

	t.Setenv("CONFIG_PATH", tmp.Name())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Server.Addr() != "127.0.0.1:9090" {
		t.Fatalf("unexpected addr: %s", cfg.Server.Addr())
	}
	if cfg.LLM.Model != "gpt-4o" || cfg.LLM.Timeout != 15*time.Second {
		t.Fatalf("unexpected llm config: %+v", cfg.LLM)
	}
	if cfg.Store.Driver != DriverMemory {
		t.Fatalf("unexpected store driver: %s", cfg.Store.Driver)
	}
	if len(cfg.Image.Alternatives) != 1 || cfg.Image.Alternatives[0] != "A sketch of %s" {
		t.Fatalf("unexpected alternatives: %v", cfg.Image.Alternatives)
	}
	if cfg.RateLimit.Requests != 3 || cfg.RateLimit.Window != 30*time.Second {
		t.Fatalf("unexpected rate limit: %+v", cfg.RateLimit)
	}
	// untouched keys keep their defaults
	if cfg.Chat.TitleLength != 50 || cfg.Chat.HistoryLimit != 50 {
		t.Fatalf("unexpected chat defaults: %+v", cfg.Chat)
	}
}

// TestLoad_Defaults verifies that a missing config file falls back to defaults and env overrides.
func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("RELAYCHAT_LLM_MODEL", "gpt-test")
	t.Setenv("RELAYCHAT_RELAY_FALLBACK_PACING", "0s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.LLM.Model != "gpt-test" {
		t.Fatalf("env override not applied: %s", cfg.LLM.Model)
	}
	if cfg.Relay.FallbackPacing != 0 {
		t.Fatalf("expected zero pacing, got %s", cfg.Relay.FallbackPacing)
	}
	if cfg.Store.Driver != DriverSQLite {
		t.Fatalf("unexpected default driver: %s", cfg.Store.Driver)
	}
	if len(cfg.Image.Alternatives) != 2 {
		t.Fatalf("expected 2 default alternatives, got %d", len(cfg.Image.Alternatives))
	}
}
