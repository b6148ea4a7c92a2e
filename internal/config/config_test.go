package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.Host != DefaultHost {
		t.Errorf("expected host %s, got %s", DefaultHost, cfg.Server.Host)
	}
	if cfg.Server.Port != DefaultPort {
		t.Errorf("expected port %d, got %d", DefaultPort, cfg.Server.Port)
	}

	if cfg.Failover.MaxProviderSwitches != 5 {
		t.Errorf("expected 5 max provider switches, got %d", cfg.Failover.MaxProviderSwitches)
	}
	if cfg.Failover.BreakerOpenTimeout != 30*time.Second {
		t.Errorf("expected 30s breaker open timeout, got %v", cfg.Failover.BreakerOpenTimeout)
	}

	if cfg.Streaming.DrainGrace != 10*time.Second {
		t.Errorf("expected 10s drain grace, got %v", cfg.Streaming.DrainGrace)
	}

	if cfg.Logging.Level != "info" {
		t.Errorf("expected log level 'info', got %s", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("expected log format 'json', got %s", cfg.Logging.Format)
	}
}

func TestLoadConfig_WithoutFile(t *testing.T) {
	dir := t.TempDir()
	cwd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { os.Chdir(cwd) })

	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("expected no error loading without a config file, got %v", err)
	}
	if cfg.Server.Port != DefaultPort {
		t.Errorf("expected default port to survive a missing config file, got %d", cfg.Server.Port)
	}
}

func TestLoadRuntimeSettings_DefaultsWithoutFile(t *testing.T) {
	dir := t.TempDir()
	cwd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { os.Chdir(cwd) })

	settings, err := LoadRuntimeSettings(nil)
	if err != nil {
		t.Fatalf("expected no error loading without a settings file, got %v", err)
	}
	if !settings.ThinkingSignatureRectifierEnabled {
		t.Error("expected the thinking-signature rectifier to default on")
	}
}

func TestLoadRuntimeSettings_ReadsFile(t *testing.T) {
	dir := t.TempDir()
	cwd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { os.Chdir(cwd) })

	body := `{"thinking_signature_rectifier_enabled": false, "response_fixer_enabled": true}`
	if err := os.WriteFile(filepath.Join(dir, "settings.json"), []byte(body), 0o644); err != nil {
		t.Fatalf("writing settings.json: %v", err)
	}

	settings, err := LoadRuntimeSettings(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if settings.ThinkingSignatureRectifierEnabled {
		t.Error("expected the thinking-signature rectifier to be disabled by the file")
	}
	if !settings.ResponseFixerEnabled {
		t.Error("expected the response fixer to remain enabled")
	}
}
