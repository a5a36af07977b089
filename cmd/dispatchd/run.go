package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/dispatchd/internal/contextbuild"
	"github.com/fyrsmithlabs/dispatchd/internal/orchestrator"
	"github.com/fyrsmithlabs/dispatchd/internal/registry"
	"github.com/fyrsmithlabs/dispatchd/internal/workspace"
)

var (
	runIDs         []string
	runTag         string
	runPriority    string
	runDryRun      bool
	runConcurrency int
	runExecCommand string
)

func init() {
	runCmd.Flags().StringSliceVar(&runIDs, "id", nil, "run specific unit ids (repeatable)")
	runCmd.Flags().StringVar(&runTag, "tag", "", "run every ready unit with this tag")
	runCmd.Flags().StringVar(&runPriority, "priority", "", "run every ready unit at this priority")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "assemble context and report stats without executing")
	runCmd.Flags().IntVar(&runConcurrency, "concurrency", 0, "worker count (default from config)")
	runCmd.Flags().StringVar(&runExecCommand, "exec", "", "executor command; receives the rendered context on stdin")
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Orchestrate a batch of ready work units",
	Long: `Run claims the selected units, assembles a context bundle for each, and
hands them to the executor command concurrently. Exactly one of --id, --tag
or --priority selects the units.

Examples:
  dispatchd run --tag security --exec "./agent"
  dispatchd run --id 001 --id 002 --dry-run`,
	RunE: func(cmd *cobra.Command, args []string) error {
		pattern, err := selectionPattern()
		if err != nil {
			return err
		}
		if !runDryRun && runExecCommand == "" {
			return fmt.Errorf("--exec is required unless --dry-run is set")
		}

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		var collab workspace.Collaborator
		mode := workspace.Mode(a.cfg.Workspace.Mode)
		if mode == workspace.ModeIsolated {
			collab = &workspace.GitCollaborator{}
		}
		wsman, err := workspace.NewManager(a.cfg.Workspace.Root, mode, collab, a.logger)
		if err != nil {
			return err
		}

		concurrency := a.cfg.Orchestrator.Concurrency
		if runConcurrency > 0 {
			concurrency = runConcurrency
		}

		orch, err := orchestrator.New(orchestrator.Deps{
			Registry:   a.registry,
			Workspaces: wsman,
			Store:      a.store,
			Executor: orchestrator.WithTimeout(
				commandExecutor(runExecCommand), a.cfg.Orchestrator.ExecutorTimeout),
			Assemble: func(root string) (*contextbuild.Assembler, error) {
				return contextbuild.NewAssembler(root, a.store, contextbuild.AssemblerOptions{
					Budget:         a.cfg.Context.Budget,
					Reserve:        a.cfg.Context.Reserve,
					KnowledgeShare: a.cfg.Context.KnowledgeShare,
					MaxLearnings:   a.cfg.Knowledge.MaxRetrieved,
					MaxFileSize:    a.cfg.Context.MaxFileSize,
					CriticalFiles:  a.cfg.Context.CriticalFiles,
					OverrunPolicy:  contextbuild.OverrunPolicy(a.cfg.Context.OverrunPolicy),
				}, a.logger)
			},
			Metrics: orchestrator.NewMetrics(prometheus.DefaultRegisterer),
			Logger:  a.logger,
		}, concurrency)
		if err != nil {
			return err
		}

		// SIGINT stops new units; in-flight units finish first.
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		report, err := orch.Run(ctx, pattern, orchestrator.RunOptions{DryRun: runDryRun})
		if err != nil {
			return err
		}
		printReport(report)
		if report.Failed > 0 {
			os.Exit(1)
		}
		return nil
	},
}

func selectionPattern() (orchestrator.Pattern, error) {
	set := 0
	var pattern orchestrator.Pattern
	if len(runIDs) > 0 {
		set++
		pattern = orchestrator.ByID(runIDs...)
	}
	if runTag != "" {
		set++
		pattern = orchestrator.ByTag(runTag)
	}
	if runPriority != "" {
		set++
		pattern = orchestrator.ByPriority(registry.Priority(runPriority))
	}
	if set != 1 {
		return orchestrator.Pattern{}, fmt.Errorf("exactly one of --id, --tag or --priority must be set")
	}
	return pattern, nil
}

// commandExecutor shells out per unit: the rendered bundle arrives on
// stdin, the unit's identity in DISPATCHD_* environment variables, and the
// command runs inside the unit's workspace.
func commandExecutor(command string) orchestrator.Executor {
	return orchestrator.ExecutorFunc(func(ctx context.Context, ex orchestrator.Execution) (*orchestrator.Result, error) {
		cmd := exec.CommandContext(ctx, "sh", "-c", command)
		cmd.Dir = ex.WorkDir
		cmd.Stdin = strings.NewReader(contextbuild.RenderText(ex.Bundle))
		cmd.Env = append(os.Environ(),
			"DISPATCHD_UNIT_ID="+ex.Unit.ID,
			"DISPATCHD_UNIT_TITLE="+ex.Unit.Title,
		)
		out, err := cmd.CombinedOutput()
		if err != nil {
			return nil, fmt.Errorf("executor command failed: %w: %s", err, truncateOutput(out))
		}
		return &orchestrator.Result{Summary: truncateOutput(out)}, nil
	})
}

func truncateOutput(out []byte) string {
	const max = 400
	s := strings.TrimSpace(string(out))
	if len(s) > max {
		s = s[:max] + "..."
	}
	return s
}

func printReport(r *orchestrator.RunReport) {
	for _, res := range r.Results {
		switch res.Outcome {
		case orchestrator.OutcomeDryRun:
			fmt.Printf("%s  %-8s tokens=%d truncated=%v  %s\n",
				res.UnitID, res.Outcome, res.TotalTokens, res.Truncated, res.Title)
		case orchestrator.OutcomeFailed:
			fmt.Printf("%s  %-8s (%s) %s: %s\n",
				res.UnitID, res.Outcome, res.Failure, res.Title, res.Err)
		default:
			fmt.Printf("%s  %-8s %s (%s)\n", res.UnitID, res.Outcome, res.Title, res.Duration.Round(10*time.Millisecond))
		}
	}
	fmt.Printf("\n%d complete, %d failed, %d skipped in %s\n",
		r.Complete, r.Failed, r.Skipped, r.Duration.Round(10*time.Millisecond))
	if r.Cancelled {
		fmt.Println("run was cancelled; queued units were skipped")
	}
}
