package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/dispatchd/internal/knowledge"
)

var (
	gardenDryRun    bool
	gardenThreshold float64

	learnCategory string
	learnTags     []string
	learnSource   string
)

func init() {
	gardenCmd.Flags().BoolVar(&gardenDryRun, "dry-run", false, "report what would merge without writing")
	gardenCmd.Flags().Float64Var(&gardenThreshold, "threshold", 0, "similarity threshold override (0 uses config)")

	learnCmd.Flags().StringVar(&learnCategory, "category", "pattern", "learning category")
	learnCmd.Flags().StringSliceVar(&learnTags, "tag", nil, "tags (repeatable)")
	learnCmd.Flags().StringVar(&learnSource, "source", "manual", "where the learning came from")
}

var gardenCmd = &cobra.Command{
	Use:   "garden",
	Short: "Compact near-duplicate learnings in the knowledge store",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		opts := knowledge.CompactionOptions{
			SimilarityThreshold: a.cfg.Knowledge.SimilarityThreshold,
			MaxClusterSize:      a.cfg.Knowledge.MaxClusterSize,
			DryRun:              gardenDryRun,
		}
		if gardenThreshold > 0 {
			opts.SimilarityThreshold = gardenThreshold
		}

		report, err := a.store.Compact(cmd.Context(), opts)
		if err != nil {
			return err
		}
		verb := "merged"
		if gardenDryRun {
			verb = "would merge"
		}
		fmt.Printf("%d learnings examined, %s %d into %d\n",
			report.TotalExamined, verb, len(report.Superseded), len(report.Created))
		return nil
	},
}

var learnCmd = &cobra.Command{
	Use:   "learn <summary>",
	Short: "Record a learning; content is read from stdin",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		content, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("reading stdin: %w", err)
		}

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		l, err := knowledge.NewLearning(learnCategory, args[0], string(content), learnSource, learnTags)
		if err != nil {
			return err
		}
		path, err := a.store.Save(cmd.Context(), l)
		if err != nil {
			return err
		}
		fmt.Printf("saved %s\n", path)
		return nil
	},
}
