package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures the settings required to boot the remediation controller.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Controller ControllerConfig `yaml:"controller"`
	Policy     PolicyConfig     `yaml:"policy"`
	Registry   RegistryConfig   `yaml:"registry"`
	Target     TargetConfig     `yaml:"target"`
	Audit      AuditConfig      `yaml:"audit"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig controls the API and metrics listeners.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// ControllerConfig tunes the simulated workload and the autopilot.
type ControllerConfig struct {
	ServiceName        string        `yaml:"serviceName"`
	CapacityPerReplica float64       `yaml:"capacityPerReplica"`
	BaselineReplicas   int           `yaml:"baselineReplicas"`
	InitialDemand      float64       `yaml:"initialDemand"`
	CriticalCPULoad    float64       `yaml:"criticalCpuLoad"`
	DemandBase         float64       `yaml:"demandBase"`
	DemandStep         float64       `yaml:"demandStep"`
	AutopilotDelay     time.Duration `yaml:"autopilotDelay"`
	AutopilotHeadroom  float64       `yaml:"autopilotHeadroom"`
}

// PolicyConfig controls governance pack loading and hot reload.
type PolicyConfig struct {
	Path  string `yaml:"path"`
	Watch bool   `yaml:"watch"`
}

// RegistryConfig controls target registry persistence.
type RegistryConfig struct {
	Driver         string        `yaml:"driver"`
	DSN            string        `yaml:"dsn"`
	ActiveCacheTTL time.Duration `yaml:"activeCacheTTL"`
}

// TargetConfig controls the remote target client.
type TargetConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// AuditConfig controls the in-memory audit trail.
type AuditConfig struct {
	HistorySize int `yaml:"historySize"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("MIRADOR_REMEDIATE_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":8080",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
		},
		Controller: ControllerConfig{
			ServiceName:        "simulated-workload",
			CapacityPerReplica: 200,
			BaselineReplicas:   3,
			InitialDemand:      100,
			CriticalCPULoad:    90,
			DemandBase:         500,
			DemandStep:         500,
			AutopilotDelay:     2 * time.Second,
			AutopilotHeadroom:  1.2,
		},
		Policy: PolicyConfig{
			Path: "configs/policy.yaml",
		},
		Registry: RegistryConfig{
			Driver:         "sqlite3",
			DSN:            "remediate.db",
			ActiveCacheTTL: 5 * time.Second,
		},
		Target:  TargetConfig{Timeout: 5 * time.Second},
		Audit:   AuditConfig{HistorySize: 500},
		Logging: LoggingConfig{Level: "info", JSON: false},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MIRADOR_REMEDIATE_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("MIRADOR_REMEDIATE_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("MIRADOR_REMEDIATE_SERVICE_NAME"); v != "" {
		cfg.Controller.ServiceName = v
	}
	if v := os.Getenv("MIRADOR_REMEDIATE_CAPACITY_PER_REPLICA"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			cfg.Controller.CapacityPerReplica = f
		}
	}
	if v := os.Getenv("MIRADOR_REMEDIATE_BASELINE_REPLICAS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Controller.BaselineReplicas = n
		}
	}
	if v := os.Getenv("MIRADOR_REMEDIATE_AUTOPILOT_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Controller.AutopilotDelay = d
		}
	}
	if v := os.Getenv("MIRADOR_REMEDIATE_POLICY_PATH"); v != "" {
		cfg.Policy.Path = v
	}
	if v := os.Getenv("MIRADOR_REMEDIATE_POLICY_WATCH"); v != "" {
		cfg.Policy.Watch = strings.EqualFold(v, "true") || strings.EqualFold(v, "1")
	}
	if v := os.Getenv("MIRADOR_REMEDIATE_REGISTRY_DRIVER"); v != "" {
		cfg.Registry.Driver = v
	}
	if v := os.Getenv("MIRADOR_REMEDIATE_REGISTRY_DSN"); v != "" {
		cfg.Registry.DSN = v
	}
	if v := os.Getenv("MIRADOR_REMEDIATE_ACTIVE_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Registry.ActiveCacheTTL = d
		}
	}
	if v := os.Getenv("MIRADOR_REMEDIATE_TARGET_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Target.Timeout = d
		}
	}
	if v := os.Getenv("MIRADOR_REMEDIATE_AUDIT_HISTORY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Audit.HistorySize = n
		}
	}
	if v := os.Getenv("MIRADOR_REMEDIATE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("MIRADOR_REMEDIATE_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
}
