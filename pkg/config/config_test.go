package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("LoadConfig with missing file should use defaults: %v", err)
	}
	if cfg.Agents.Defaults.Model == "" {
		t.Fatalf("default model missing")
	}
	if cfg.Gateway.Port == 0 {
		t.Fatalf("default port missing")
	}
}

func TestLoadConfigFileOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	body := `{"agents":{"defaults":{"model":"claude-sonnet-4-5","max_tool_iterations":4}}}`
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Agents.Defaults.Model != "claude-sonnet-4-5" {
		t.Fatalf("model = %q", cfg.Agents.Defaults.Model)
	}
	if cfg.Agents.Defaults.MaxToolIterations != 4 {
		t.Fatalf("max_tool_iterations = %d", cfg.Agents.Defaults.MaxToolIterations)
	}
	// Unspecified fields keep their defaults.
	if cfg.Gateway.Port != 18780 {
		t.Fatalf("port should keep default, got %d", cfg.Gateway.Port)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("OPENSHELL_MODEL", "gpt-4o")
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-test")
	t.Setenv("TELEGRAM_BOT_TOKEN", "tg-token")

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Agents.Defaults.Model != "gpt-4o" {
		t.Fatalf("OPENSHELL_MODEL not applied: %q", cfg.Agents.Defaults.Model)
	}
	if cfg.Providers.Anthropic.APIKey != "sk-ant-test" {
		t.Fatalf("ANTHROPIC_API_KEY not applied")
	}
	if cfg.Channels.Telegram.Token != "tg-token" || !cfg.Channels.Telegram.Enabled {
		t.Fatalf("TELEGRAM_BOT_TOKEN should set token and enable the channel")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Agents.Defaults.Model = ""
	if err := cfg.Validate(); err == nil {
		t.Fatalf("empty model should fail validation")
	}

	cfg = DefaultConfig()
	cfg.Gateway.Port = 0
	if err := cfg.Validate(); err == nil {
		t.Fatalf("port 0 should fail validation")
	}

	cfg = DefaultConfig()
	cfg.Security.Approvals.Shell = "maybe"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("bad approval mode should fail validation")
	}

	cfg = DefaultConfig()
	cfg.Skills.InstallPolicy = "sometimes"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("bad install policy should fail validation")
	}
}

func TestModelKnown(t *testing.T) {
	cfg := DefaultConfig()
	if !cfg.ModelKnown(cfg.Agents.Defaults.Model) {
		t.Fatalf("default model must be known")
	}
	if !cfg.ModelKnown("GPT-4O") {
		t.Fatalf("model lookup should be case-insensitive")
	}
	if cfg.ModelKnown("made-up-model") {
		t.Fatalf("unknown model reported as known")
	}
}

func TestFlexibleStringSlice(t *testing.T) {
	var f FlexibleStringSlice
	if err := json.Unmarshal([]byte(`["abc", 123, 456]`), &f); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(f) != 3 || f[0] != "abc" || f[1] != "123" || f[2] != "456" {
		t.Fatalf("unexpected result: %v", f)
	}
}

func TestStoreApplyPatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	cfg := DefaultConfig()
	store, err := NewStore(path, cfg)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	h := store.Hash()

	newHash, err := store.ApplyPatch([]byte(`{"agents":{"defaults":{"temperature":0.2}}}`), h)
	if err != nil {
		t.Fatalf("ApplyPatch: %v", err)
	}
	if newHash == h {
		t.Fatalf("hash should change after patch")
	}

	// Stale hash leaves everything untouched.
	if _, err := store.ApplyPatch([]byte(`{"agents":{"defaults":{"temperature":0.9}}}`), h); err != ErrBaseHashMismatch {
		t.Fatalf("expected base_hash mismatch, got %v", err)
	}
	snap, hash := store.Snapshot()
	if snap.Agents.Defaults.Temperature != 0.2 {
		t.Fatalf("stale patch must not apply, temperature = %v", snap.Agents.Defaults.Temperature)
	}
	if hash != newHash {
		t.Fatalf("hash changed by rejected patch")
	}

	// Empty base_hash skips the check.
	if _, err := store.ApplyPatch([]byte(`{"agents":{"defaults":{"temperature":0.5}}}`), ""); err != nil {
		t.Fatalf("patch without base_hash should apply: %v", err)
	}

	// The config file was rewritten.
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("config file not written: %v", err)
	}
	reloaded := &Config{}
	if err := json.Unmarshal(data, reloaded); err != nil {
		t.Fatalf("written config not parseable: %v", err)
	}
	if reloaded.Agents.Defaults.Temperature != 0.5 {
		t.Fatalf("written config stale: %v", reloaded.Agents.Defaults.Temperature)
	}

	// Invalid patches are rejected before anything is replaced.
	if _, err := store.ApplyPatch([]byte(`{"gateway":{"port":0}}`), ""); err == nil {
		t.Fatalf("invalid patch should fail validation")
	}
}
