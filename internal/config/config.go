// Package config loads the service configuration from a YAML file.
// Environment variables in cmd/orblink override individual fields; the file
// is the bulk surface for deployments.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	Instance InstanceConfig `yaml:"instance"`
	Solver   SolverConfig   `yaml:"solver"`
	Auth     AuthConfig     `yaml:"auth"`
	Stream   StreamConfig   `yaml:"stream"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

type InstanceConfig struct {
	Path           string `yaml:"path"`
	PruneDeadLinks bool   `yaml:"prune_dead_links"`
}

type SolverConfig struct {
	StepSize float64 `yaml:"step_size"` // seconds
	Workers  int     `yaml:"workers"`
}

type AuthConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
}

type StreamConfig struct {
	MaxConcurrentPerIP int           `yaml:"max_concurrent_per_ip"`
	BandwidthLimit     int           `yaml:"bandwidth_limit"` // bytes/sec per client, 0 = unlimited
	KeepaliveInterval  time.Duration `yaml:"keepalive_interval"`
	TrustProxy         bool          `yaml:"trust_proxy"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		HTTP:   HTTPConfig{Addr: ":8080"},
		Solver: SolverConfig{StepSize: 1.0, Workers: 4},
		Stream: StreamConfig{
			MaxConcurrentPerIP: 4,
			KeepaliveInterval:  15 * time.Second,
		},
	}
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}

	if cfg.Instance.Path == "" {
		return Config{}, fmt.Errorf("instance.path is required")
	}
	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = ":8080"
	}
	if cfg.Solver.StepSize <= 0 {
		cfg.Solver.StepSize = 1.0
	}
	if cfg.Solver.Workers <= 0 {
		cfg.Solver.Workers = 4
	}
	if cfg.Auth.Enabled && cfg.Auth.Token == "" {
		return Config{}, fmt.Errorf("auth.token is required when auth.enabled is true")
	}
	if cfg.Stream.MaxConcurrentPerIP <= 0 {
		cfg.Stream.MaxConcurrentPerIP = 4
	}
	if cfg.Stream.BandwidthLimit < 0 {
		return Config{}, fmt.Errorf("stream.bandwidth_limit must be >= 0")
	}
	if cfg.Stream.KeepaliveInterval <= 0 {
		cfg.Stream.KeepaliveInterval = 15 * time.Second
	}

	return cfg, nil
}
