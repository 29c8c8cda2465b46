package commands

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "berth.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfig_PositionalsOverlayFile(t *testing.T) {
	configPath = writeConfig(t, `
host:
  ip: 10.0.0.1
deployments:
  - kind: container
    name: web
    image: nginx:1.27
`)
	defer func() { configPath = "" }()

	cfg, err := loadConfig([]string{"192.0.2.10", "9090", "container"})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if cfg.Host.IP != "192.0.2.10" {
		t.Errorf("Expected the positional IP to win, got %s", cfg.Host.IP)
	}
	if cfg.Host.Port != 9090 {
		t.Errorf("Expected port 9090, got %d", cfg.Host.Port)
	}
	if cfg.Host.Type != "container" {
		t.Errorf("Expected host type container, got %s", cfg.Host.Type)
	}
}

func TestLoadConfig_DefaultsApplyWithoutOptionals(t *testing.T) {
	configPath = ""

	cfg, err := loadConfig([]string{"192.0.2.10"})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if cfg.Host.Port != 8080 {
		t.Errorf("Expected default port 8080, got %d", cfg.Host.Port)
	}
	if cfg.Host.Type != "all" {
		t.Errorf("Expected default host type all, got %s", cfg.Host.Type)
	}
}

func TestLoadConfig_RejectsBadPort(t *testing.T) {
	configPath = ""

	if _, err := loadConfig([]string{"192.0.2.10", "eighty"}); err == nil {
		t.Error("Expected a non-numeric port to fail")
	}
	if _, err := loadConfig([]string{"192.0.2.10", "70000"}); err == nil {
		t.Error("Expected an out-of-range port to fail validation")
	}
}

func TestLoadConfig_RejectsBadHostType(t *testing.T) {
	configPath = ""

	if _, err := loadConfig([]string{"192.0.2.10", "8080", "vm"}); err == nil {
		t.Error("Expected an unknown host type to fail validation")
	}
}
