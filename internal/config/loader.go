package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	envPrefix         = "DISPATCHD_"
	maxConfigFileSize = 1024 * 1024
)

// DefaultPath returns the default config file location,
// ~/.config/dispatchd/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".config", "dispatchd", "config.yaml"), nil
}

// Load reads configuration from the YAML file at configPath, then overrides
// with DISPATCHD_* environment variables, then fills defaults and validates.
// An empty configPath uses DefaultPath; a missing file is not an error.
//
// Environment variables map with the section as the first underscore-split
// segment: DISPATCHD_CONTEXT_BUDGET -> context.budget,
// DISPATCHD_ORCHESTRATOR_EXECUTOR_TIMEOUT -> orchestrator.executor_timeout.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath == "" {
		var err error
		configPath, err = DefaultPath()
		if err != nil {
			return nil, err
		}
	}

	if _, err := os.Stat(configPath); err == nil {
		// Open once and validate through the descriptor to avoid a TOCTOU
		// race between stat and read.
		f, err := os.Open(configPath)
		if err != nil {
			return nil, fmt.Errorf("opening config file: %w", err)
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return nil, fmt.Errorf("stating config file: %w", err)
		}
		if info.Size() > maxConfigFileSize {
			return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
		}

		content, err := io.ReadAll(f)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		// DISPATCHD_CONTEXT_BUDGET -> context.budget: the section is the
		// first segment, underscores in the field name survive.
		trimmed := strings.ToLower(strings.TrimPrefix(s, envPrefix))
		parts := strings.SplitN(trimmed, "_", 2)
		if len(parts) == 1 {
			return trimmed
		}
		return parts[0] + "." + parts[1]
	}), nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Context.Budget == 0 {
		cfg.Context.Budget = 32000
	}
	if cfg.Context.Reserve == 0 {
		cfg.Context.Reserve = 4000
	}
	if cfg.Context.KnowledgeShare == 0 {
		cfg.Context.KnowledgeShare = 0.15
	}
	if cfg.Context.MaxFileSize == 0 {
		cfg.Context.MaxFileSize = 1 << 20
	}
	if cfg.Context.OverrunPolicy == "" {
		cfg.Context.OverrunPolicy = "warn"
	}

	if cfg.Knowledge.Dir == "" {
		cfg.Knowledge.Dir = ".dispatchd/knowledge"
	}
	if cfg.Knowledge.MaxRetrieved == 0 {
		cfg.Knowledge.MaxRetrieved = 5
	}
	if cfg.Knowledge.SimilarityThreshold == 0 {
		cfg.Knowledge.SimilarityThreshold = 0.8
	}
	if cfg.Knowledge.MaxClusterSize == 0 {
		cfg.Knowledge.MaxClusterSize = 8
	}

	if cfg.Registry.UnitsDir == "" {
		cfg.Registry.UnitsDir = ".dispatchd/units"
	}

	if cfg.Workspace.Root == "" {
		cfg.Workspace.Root = "."
	}
	if cfg.Workspace.Mode == "" {
		cfg.Workspace.Mode = "in_place"
	}

	if cfg.Orchestrator.Concurrency == 0 {
		cfg.Orchestrator.Concurrency = 3
	}
	if cfg.Orchestrator.ExecutorTimeout == 0 {
		cfg.Orchestrator.ExecutorTimeout = 15 * time.Minute
	}
}
