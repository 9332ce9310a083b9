package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNewManagerWritesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	mgr, err := NewManager(path)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	cfg := mgr.Get()
	if cfg.Server.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Dialog.MaxTurns != 8 || cfg.Dialog.PerTurnTimeoutMs != 8000 {
		t.Fatalf("unexpected dialog defaults: %+v", cfg.Dialog)
	}
	if cfg.LLM.APIKeyEnv != "OPENAI_API_KEY" {
		t.Fatalf("unexpected llm defaults: %+v", cfg.LLM)
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config file was not persisted: %v", err)
	}
}

func TestManagerLoadsAndFillsPartialConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	partial := []byte(`{"server": {"port": 9191}, "dialog": {"max_turns": 4}}`)
	if err := os.WriteFile(path, partial, 0644); err != nil {
		t.Fatalf("write partial config: %v", err)
	}

	mgr, err := NewManager(path)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	cfg := mgr.Get()
	if cfg.Server.Port != 9191 {
		t.Fatalf("explicit port lost: %d", cfg.Server.Port)
	}
	if cfg.Dialog.MaxTurns != 4 {
		t.Fatalf("explicit max_turns lost: %d", cfg.Dialog.MaxTurns)
	}
	if cfg.Dialog.PerTurnTimeoutMs != 8000 || cfg.Storage.DataDir != "output/db" {
		t.Fatalf("defaults not applied to missing fields: %+v", cfg)
	}
}

func TestManagerUpdatePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	mgr, err := NewManager(path)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	updated, err := mgr.Update(func(c *Config) {
		c.Dialog.MaxTurns = 12
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Dialog.MaxTurns != 12 {
		t.Fatalf("update not applied: %+v", updated.Dialog)
	}

	reloaded, err := NewManager(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.Get().Dialog.MaxTurns != 12 {
		t.Fatalf("update not persisted: %+v", reloaded.Get().Dialog)
	}
}

func TestManagerRejectsMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte("{broken"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := NewManager(path); err == nil {
		t.Fatal("expected error for malformed config file")
	}
}
