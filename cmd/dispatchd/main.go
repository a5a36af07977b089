// Package main implements the dispatchd CLI for managing work units and
// orchestration runs.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/dispatchd/internal/config"
	"github.com/fyrsmithlabs/dispatchd/internal/knowledge"
	"github.com/fyrsmithlabs/dispatchd/internal/logging"
	"github.com/fyrsmithlabs/dispatchd/internal/registry"
)

var (
	configPath string
	version    = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "dispatchd",
	Short: "Task orchestration and context engine",
	Long: `dispatchd tracks work units, assembles token-budgeted context for them,
and orchestrates concurrent execution with knowledge codification.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.config/dispatchd/config.yaml)")
	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(readyCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(gardenCmd)
	rootCmd.AddCommand(learnCmd)
}

// app bundles the pieces every command starts from.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	registry *registry.Registry
	store    *knowledge.Store
}

func newApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return nil, err
	}
	reg, err := registry.NewRegistry(cfg.Registry.UnitsDir, logger)
	if err != nil {
		return nil, err
	}
	store, err := openStore(cfg, logger)
	if err != nil {
		return nil, err
	}
	return &app{cfg: cfg, logger: logger, registry: reg, store: store}, nil
}

func openStore(cfg *config.Config, logger *zap.Logger) (*knowledge.Store, error) {
	var index knowledge.SimilarityIndex
	if cfg.Knowledge.VectorIndex {
		idx, err := knowledge.NewChromemIndex(filepath.Join(cfg.Knowledge.Dir, "index"), knowledge.NewHashEmbedder(), logger)
		if err != nil {
			return nil, err
		}
		index = idx
	}
	return knowledge.NewStore(cfg.Knowledge.Dir, index, logger)
}

func (a *app) close() {
	_ = a.logger.Sync()
}
