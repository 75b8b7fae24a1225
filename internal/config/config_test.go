package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}
	if cfg.Server.Address != ":8080" {
		t.Fatalf("unexpected server address: %q", cfg.Server.Address)
	}
	if cfg.Controller.CapacityPerReplica != 200 || cfg.Controller.BaselineReplicas != 3 {
		t.Fatalf("unexpected controller defaults: %+v", cfg.Controller)
	}
	if cfg.Controller.AutopilotDelay != 2*time.Second {
		t.Fatalf("unexpected autopilot delay: %v", cfg.Controller.AutopilotDelay)
	}
	if cfg.Registry.Driver != "sqlite3" {
		t.Fatalf("unexpected registry driver: %q", cfg.Registry.Driver)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `server:
  address: ":9090"
controller:
  baselineReplicas: 5
  autopilotDelay: 4s
logging:
  level: debug
  json: true
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Address != ":9090" {
		t.Fatalf("unexpected address: %q", cfg.Server.Address)
	}
	if cfg.Controller.BaselineReplicas != 5 || cfg.Controller.AutopilotDelay != 4*time.Second {
		t.Fatalf("unexpected controller config: %+v", cfg.Controller)
	}
	if !cfg.Logging.JSON || cfg.Logging.Level != "debug" {
		t.Fatalf("unexpected logging config: %+v", cfg.Logging)
	}
	// Unset fields keep their defaults.
	if cfg.Controller.CapacityPerReplica != 200 {
		t.Fatalf("expected default capacity, got %f", cfg.Controller.CapacityPerReplica)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("expected error for missing explicit config file")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("MIRADOR_REMEDIATE_SERVER_ADDRESS", ":7070")
	t.Setenv("MIRADOR_REMEDIATE_BASELINE_REPLICAS", "4")
	t.Setenv("MIRADOR_REMEDIATE_TARGET_TIMEOUT", "750ms")
	t.Setenv("MIRADOR_REMEDIATE_POLICY_WATCH", "true")
	t.Setenv("MIRADOR_REMEDIATE_LOG_FORMAT", "json")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Address != ":7070" {
		t.Fatalf("env override failed for address: %q", cfg.Server.Address)
	}
	if cfg.Controller.BaselineReplicas != 4 {
		t.Fatalf("env override failed for replicas: %d", cfg.Controller.BaselineReplicas)
	}
	if cfg.Target.Timeout != 750*time.Millisecond {
		t.Fatalf("env override failed for timeout: %v", cfg.Target.Timeout)
	}
	if !cfg.Policy.Watch || !cfg.Logging.JSON {
		t.Fatalf("env overrides failed for watch/json: %+v %+v", cfg.Policy, cfg.Logging)
	}
}

func TestEnvOverrideIgnoresInvalidNumbers(t *testing.T) {
	t.Setenv("MIRADOR_REMEDIATE_BASELINE_REPLICAS", "zero")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Controller.BaselineReplicas != 3 {
		t.Fatalf("invalid env value must keep the default, got %d", cfg.Controller.BaselineReplicas)
	}
}
