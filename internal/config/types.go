// Package config provides configuration loading for dispatchd.
//
// Precedence, highest to lowest: DISPATCHD_* environment variables, the
// YAML config file, hardcoded defaults.
package config

import (
	"fmt"
	"time"
)

// Config is the complete dispatchd configuration.
type Config struct {
	Logging      LoggingConfig      `koanf:"logging"`
	Context      ContextConfig      `koanf:"context"`
	Knowledge    KnowledgeConfig    `koanf:"knowledge"`
	Registry     RegistryConfig     `koanf:"registry"`
	Workspace    WorkspaceConfig    `koanf:"workspace"`
	Orchestrator OrchestratorConfig `koanf:"orchestrator"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `koanf:"level"`
	// Format is json or console.
	Format string `koanf:"format"`
}

// ContextConfig tunes context assembly.
type ContextConfig struct {
	// Budget is the total token budget per bundle.
	Budget int `koanf:"budget"`
	// Reserve is held back from the budget for the executor's own output.
	Reserve int `koanf:"reserve"`
	// KnowledgeShare is the fraction of the budget reserved for learnings.
	KnowledgeShare float64 `koanf:"knowledge_share"`
	// MaxFileSize skips files larger than this many bytes.
	MaxFileSize int64 `koanf:"max_file_size"`
	// CriticalFiles overrides the always-include allowlist.
	CriticalFiles []string `koanf:"critical_files"`
	// OverrunPolicy is warn or fail when critical files exceed the budget.
	OverrunPolicy string `koanf:"overrun_policy"`
}

// KnowledgeConfig tunes the knowledge store.
type KnowledgeConfig struct {
	Dir                 string  `koanf:"dir"`
	MaxRetrieved        int     `koanf:"max_retrieved"`
	SimilarityThreshold float64 `koanf:"similarity_threshold"`
	MaxClusterSize      int     `koanf:"max_cluster_size"`
	// VectorIndex enables the embedded chromem index under Dir.
	VectorIndex bool `koanf:"vector_index"`
}

// RegistryConfig locates the work-unit store.
type RegistryConfig struct {
	UnitsDir string `koanf:"units_dir"`
}

// WorkspaceConfig controls execution isolation.
type WorkspaceConfig struct {
	// Root is the primary work tree.
	Root string `koanf:"root"`
	// Mode is in_place or isolated.
	Mode string `koanf:"mode"`
}

// OrchestratorConfig bounds run behavior.
type OrchestratorConfig struct {
	Concurrency     int           `koanf:"concurrency"`
	ExecutorTimeout time.Duration `koanf:"executor_timeout"`
}

// Validate checks cross-field constraints after defaults are applied.
func (c *Config) Validate() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format)
	}
	if c.Context.Budget <= 0 {
		return fmt.Errorf("context.budget must be positive, got %d", c.Context.Budget)
	}
	if c.Context.Reserve < 0 || c.Context.Reserve >= c.Context.Budget {
		return fmt.Errorf("context.reserve must be in [0, budget), got %d", c.Context.Reserve)
	}
	if c.Context.KnowledgeShare < 0 || c.Context.KnowledgeShare >= 1 {
		return fmt.Errorf("context.knowledge_share must be in [0, 1), got %g", c.Context.KnowledgeShare)
	}
	switch c.Context.OverrunPolicy {
	case "warn", "fail":
	default:
		return fmt.Errorf("context.overrun_policy must be warn or fail, got %q", c.Context.OverrunPolicy)
	}
	if c.Knowledge.SimilarityThreshold <= 0 || c.Knowledge.SimilarityThreshold > 1 {
		return fmt.Errorf("knowledge.similarity_threshold must be in (0, 1], got %g", c.Knowledge.SimilarityThreshold)
	}
	switch c.Workspace.Mode {
	case "in_place", "isolated":
	default:
		return fmt.Errorf("workspace.mode must be in_place or isolated, got %q", c.Workspace.Mode)
	}
	if c.Orchestrator.Concurrency < 1 {
		return fmt.Errorf("orchestrator.concurrency must be at least 1, got %d", c.Orchestrator.Concurrency)
	}
	return nil
}
