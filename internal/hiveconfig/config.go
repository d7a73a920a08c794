// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

// Package hiveconfig generalizes teacher internal/config.Config (a single
// .claude/opencode.yaml loader) into the loader for the server's own
// hive.yaml: listen address, on-disk paths, port-reachability timeouts,
// and the HIVE_OPENCODE_*/SERVICE_* environment overrides from spec
// section 6. It keeps the teacher's yaml.v3 + Validate() shape.
package hiveconfig

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete hive-server configuration.
type Config struct {
	Server   ServerConfig  `yaml:"server"`
	Paths    PathsConfig   `yaml:"paths"`
	Agent    AgentConfig   `yaml:"agent"`
	Service  ServiceConfig `yaml:"service"`
	LogLevel string        `yaml:"log_level"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// PathsConfig locates the server's on-disk state.
type PathsConfig struct {
	CellsRoot       string `yaml:"cells_root"`
	WorktreeRepoDir string `yaml:"worktree_repo_dir"`
	DatabasePath    string `yaml:"database_path"`
	TemplatesDir    string `yaml:"templates_dir"`
}

// AgentConfig mirrors the HIVE_OPENCODE_* environment overrides.
type AgentConfig struct {
	OpencodeServerURL string        `yaml:"opencode_server_url"`
	OpencodeBin       string        `yaml:"opencode_bin"`
	StartTimeout      time.Duration `yaml:"start_timeout"`
}

// ServiceConfig mirrors the SERVICE_* environment overrides.
// ReachabilityProbe is loaded but not read by internal/services, whose
// port-reachability probe uses a fixed timeout.
type ServiceConfig struct {
	Host              string        `yaml:"host"`
	Protocol          string        `yaml:"protocol"`
	ReachabilityProbe time.Duration `yaml:"reachability_probe_timeout"`
}

// URLFor composes the externally-reachable URL for a service bound to
// port, using the configured host and protocol.
func (c ServiceConfig) URLFor(port int) string {
	return fmt.Sprintf("%s://%s:%d", c.Protocol, c.Host, port)
}

// defaults applied before YAML unmarshal so a sparse hive.yaml still
// produces a usable Config.
func defaults() Config {
	return Config{
		Server: ServerConfig{ListenAddr: ":8080"},
		Paths: PathsConfig{
			CellsRoot:       "./data/cells",
			WorktreeRepoDir: "./data/repo",
			DatabasePath:    "./data/hive.db",
			TemplatesDir:    "./templates",
		},
		Agent: AgentConfig{
			OpencodeBin:  "opencode",
			StartTimeout: 20 * time.Second,
		},
		Service: ServiceConfig{
			Host:              "localhost",
			Protocol:          "http",
			ReachabilityProbe: 500 * time.Millisecond,
		},
		LogLevel: "info",
	}
}

// Load reads and parses path as YAML, falling back to built-in defaults
// for anything the file omits, then applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := defaults()

	data, err := readFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}
	if data != nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnvOverrides layers the HIVE_OPENCODE_*/SERVICE_*/LOG_LEVEL
// environment variables from spec section 6 on top of whatever hive.yaml
// and the built-in defaults already produced.
func applyEnvOverrides(cfg *Config) {
	cfg.Agent.OpencodeServerURL = getEnv("HIVE_OPENCODE_SERVER_URL", cfg.Agent.OpencodeServerURL)
	cfg.Agent.OpencodeBin = getEnv("HIVE_OPENCODE_BIN", cfg.Agent.OpencodeBin)
	cfg.Agent.StartTimeout = getDurationMsEnv("HIVE_OPENCODE_START_TIMEOUT_MS", cfg.Agent.StartTimeout)
	cfg.Service.Host = getEnv("SERVICE_HOST", cfg.Service.Host)
	cfg.Service.Protocol = getEnv("SERVICE_PROTOCOL", cfg.Service.Protocol)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
}

// Validate checks that the configuration is complete enough to boot the
// server.
func (c *Config) Validate() error {
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("server listen address is required")
	}
	if c.Paths.CellsRoot == "" {
		return fmt.Errorf("paths.cells_root is required")
	}
	if c.Paths.WorktreeRepoDir == "" {
		return fmt.Errorf("paths.worktree_repo_dir is required")
	}
	if c.Paths.DatabasePath == "" {
		return fmt.Errorf("paths.database_path is required")
	}
	if c.Agent.OpencodeBin == "" {
		return fmt.Errorf("agent.opencode_bin is required")
	}
	return nil
}
