package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/dispatchd/internal/contextbuild"
	"github.com/fyrsmithlabs/dispatchd/internal/knowledge"
	"github.com/fyrsmithlabs/dispatchd/internal/registry"
	"github.com/fyrsmithlabs/dispatchd/internal/workspace"
)

// DefaultConcurrency bounds the worker pool when none is configured.
const DefaultConcurrency = 3

// AssemblerFactory builds a context assembler rooted at a given work tree.
// Isolated units get a fresh assembler per clone.
type AssemblerFactory func(root string) (*contextbuild.Assembler, error)

// Deps wires an Orchestrator. Registry, Workspaces, Executor and Assemble
// are required; Store and Metrics may be nil.
type Deps struct {
	Registry   *registry.Registry
	Workspaces *workspace.Manager
	Store      *knowledge.Store
	Executor   Executor
	Assemble   AssemblerFactory
	Metrics    *Metrics
	Logger     *zap.Logger
}

// Orchestrator drives work units through their lifecycle.
type Orchestrator struct {
	deps        Deps
	concurrency int
	logger      *zap.Logger
}

// New validates dependencies and builds an Orchestrator. Concurrency below
// one takes DefaultConcurrency.
func New(deps Deps, concurrency int) (*Orchestrator, error) {
	if deps.Registry == nil {
		return nil, fmt.Errorf("orchestrator needs a registry")
	}
	if deps.Workspaces == nil {
		return nil, fmt.Errorf("orchestrator needs a workspace manager")
	}
	if deps.Executor == nil {
		return nil, ErrNoExecutor
	}
	if deps.Assemble == nil {
		return nil, fmt.Errorf("orchestrator needs an assembler factory")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if concurrency < 1 {
		concurrency = DefaultConcurrency
	}
	return &Orchestrator{
		deps:        deps,
		concurrency: concurrency,
		logger:      deps.Logger.Named("orchestrator"),
	}, nil
}

// RunOptions tune a single run.
type RunOptions struct {
	// DryRun resolves and assembles but claims, executes and transitions
	// nothing, reporting token stats per unit instead.
	DryRun bool
}

// Run processes every unit the pattern selects. The pattern resolves once
// at the start; units that become ready afterwards belong to the next run.
//
// Per-unit failures are contained in the report and never abort the batch.
// Cancelling ctx stops new units from starting; units already executing
// run to completion and record their outcome.
func (o *Orchestrator) Run(ctx context.Context, pattern Pattern, opts RunOptions) (*RunReport, error) {
	if err := pattern.validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPattern, err)
	}
	units, notReady, err := o.resolve(pattern)
	if err != nil {
		return nil, err
	}
	if len(units) == 0 && len(notReady) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyPattern, pattern.Kind)
	}

	o.deps.Metrics.recordRun()
	report := &RunReport{StartedAt: time.Now(), DryRun: opts.DryRun}
	for _, res := range notReady {
		report.Results = append(report.Results, res)
		report.Skipped++
	}
	o.logger.Info("starting run",
		zap.String("pattern", string(pattern.Kind)),
		zap.Int("units", len(units)),
		zap.Int("concurrency", o.concurrency),
		zap.Bool("dry_run", opts.DryRun))

	var mu sync.Mutex
	record := func(res UnitResult) {
		mu.Lock()
		defer mu.Unlock()
		report.Results = append(report.Results, res)
		switch res.Outcome {
		case OutcomeComplete:
			report.Complete++
		case OutcomeFailed:
			report.Failed++
		case OutcomeSkipped:
			report.Skipped++
		}
	}

	g := new(errgroup.Group)
	g.SetLimit(o.concurrency)
	for _, unit := range units {
		unit := unit
		g.Go(func() error {
			if ctx.Err() != nil {
				mu.Lock()
				report.Cancelled = true
				mu.Unlock()
				record(UnitResult{
					UnitID: unit.ID, Title: unit.Title,
					Outcome: OutcomeSkipped, Err: "run cancelled",
				})
				return nil
			}
			start := time.Now()
			var res UnitResult
			if opts.DryRun {
				res = o.dryRunUnit(ctx, unit)
			} else {
				res = o.runUnit(ctx, unit)
			}
			res.Duration = time.Since(start)
			o.deps.Metrics.recordUnit(res.Outcome, res.Duration.Seconds())
			record(res)
			return nil
		})
	}
	g.Wait()

	report.Duration = time.Since(report.StartedAt)
	o.logger.Info("run finished",
		zap.Int("complete", report.Complete),
		zap.Int("failed", report.Failed),
		zap.Int("skipped", report.Skipped),
		zap.Bool("cancelled", report.Cancelled),
		zap.Duration("duration", report.Duration))
	return report, nil
}

// resolve turns a pattern into a concrete unit list, ready units only. A
// unit named by ID but not in ready state comes back as a skipped result so
// the report accounts for it.
func (o *Orchestrator) resolve(pattern Pattern) ([]*registry.WorkUnit, []UnitResult, error) {
	switch pattern.Kind {
	case PatternByID:
		var out []*registry.WorkUnit
		var notReady []UnitResult
		for _, id := range pattern.IDs {
			u, err := o.deps.Registry.Get(id)
			if err != nil {
				return nil, nil, err
			}
			if u.Status != registry.StatusReady {
				notReady = append(notReady, UnitResult{
					UnitID: u.ID, Title: u.Title, Outcome: OutcomeSkipped,
					Err: fmt.Sprintf("unit %s is %s, want ready", u.ID, u.Status),
				})
				continue
			}
			out = append(out, u)
		}
		return out, notReady, nil
	case PatternByTag:
		units, err := o.deps.Registry.List(registry.Filter{Status: registry.StatusReady, Tags: []string{pattern.Tag}})
		return units, nil, err
	case PatternByPriority:
		units, err := o.deps.Registry.List(registry.Filter{Status: registry.StatusReady, Priority: pattern.Priority})
		return units, nil, err
	}
	return nil, nil, ErrBadPattern
}

// runUnit drives one unit end to end. Every error path resolves to a
// result; nothing propagates out to the batch.
func (o *Orchestrator) runUnit(ctx context.Context, unit *registry.WorkUnit) UnitResult {
	res := UnitResult{UnitID: unit.ID, Title: unit.Title}
	fail := func(err error) UnitResult {
		res.Outcome = OutcomeFailed
		res.Failure = classifyFailure(err)
		res.Err = err.Error()
		return res
	}

	// A cancelled run must not strand units mid-flight, so everything past
	// the claim runs on a cancellation-free context. The timeout wrapper
	// on the executor still applies.
	unitCtx := context.WithoutCancel(ctx)

	claimed, err := o.deps.Registry.Claim(unitCtx, unit.ID, "orchestrator")
	if err != nil {
		if classifyFailure(err) == FailClaim {
			res.Outcome = OutcomeSkipped
			res.Err = err.Error()
			return res
		}
		return fail(err)
	}

	lease, err := o.deps.Workspaces.Acquire(unitCtx, unit.ID)
	if err != nil {
		o.transitionContained(unitCtx, unit.ID, registry.StatusFailed, err.Error())
		return fail(err)
	}
	res.Branch = lease.Branch
	defer lease.Release(unitCtx, false) // idempotent backstop

	bundle, err := o.assemble(unitCtx, lease.Dir, claimed)
	if err != nil {
		lease.Release(unitCtx, false)
		o.transitionContained(unitCtx, unit.ID, registry.StatusFailed, err.Error())
		return fail(err)
	}
	res.TotalTokens = bundle.TotalTokens
	res.Truncated = bundle.Truncated

	result, execErr := o.deps.Executor.Execute(unitCtx, Execution{
		Unit: claimed, Bundle: bundle, WorkDir: lease.Dir,
	})
	if execErr != nil {
		lease.Release(unitCtx, false)
		o.transitionContained(unitCtx, unit.ID, registry.StatusFailed, execErr.Error())
		return fail(fmt.Errorf("executing unit %s: %w", unit.ID, execErr))
	}

	if err := lease.Release(unitCtx, true); err != nil {
		o.transitionContained(unitCtx, unit.ID, registry.StatusFailed, err.Error())
		return fail(err)
	}

	note := ""
	if result != nil {
		note = result.Summary
	}
	if _, err := o.deps.Registry.Transition(unitCtx, unit.ID, registry.StatusComplete, note); err != nil {
		return fail(err)
	}
	res.Outcome = OutcomeComplete
	res.Learnings = o.codify(unitCtx, claimed, result)
	return res
}

// dryRunUnit assembles context against the primary tree and reports what a
// real run would send, without claiming or executing anything.
func (o *Orchestrator) dryRunUnit(ctx context.Context, unit *registry.WorkUnit) UnitResult {
	res := UnitResult{UnitID: unit.ID, Title: unit.Title, Outcome: OutcomeDryRun}
	bundle, err := o.assemble(ctx, o.deps.Workspaces.Root(), unit)
	if err != nil {
		res.Outcome = OutcomeFailed
		res.Failure = classifyFailure(err)
		res.Err = err.Error()
		return res
	}
	res.TotalTokens = bundle.TotalTokens
	res.Truncated = bundle.Truncated
	return res
}

func (o *Orchestrator) assemble(ctx context.Context, root string, unit *registry.WorkUnit) (*contextbuild.Bundle, error) {
	asm, err := o.deps.Assemble(root)
	if err != nil {
		return nil, err
	}
	task := unit.Title
	if unit.Body != "" {
		task += "\n" + unit.Body
	}
	return asm.Build(ctx, task, unit.Tags)
}

// codify persists one learning per completed unit. Executors that extract
// their own learnings get them saved as-is; otherwise a learning is derived
// from the result summary, so every success leaves a record. Best-effort: a
// storage failure is logged and the unit stays complete.
func (o *Orchestrator) codify(ctx context.Context, unit *registry.WorkUnit, result *Result) int {
	if o.deps.Store == nil {
		return 0
	}
	var learnings []*knowledge.Learning
	if result != nil {
		learnings = result.Learnings
	}
	if len(learnings) == 0 {
		derived, err := o.deriveLearning(unit, result)
		if err != nil {
			o.logger.Warn("deriving learning failed",
				zap.String("unit", unit.ID), zap.Error(err))
			return 0
		}
		learnings = []*knowledge.Learning{derived}
	}
	saved := 0
	for _, l := range learnings {
		if l == nil {
			continue
		}
		l.SourceIDs = append(l.SourceIDs, unit.ID)
		if _, err := o.deps.Store.Save(ctx, l); err != nil {
			o.logger.Warn("saving learning failed",
				zap.String("unit", unit.ID), zap.Error(err))
			continue
		}
		saved++
	}
	return saved
}

// deriveLearning builds a learning from the unit and the executor summary
// when the executor did not extract one itself.
func (o *Orchestrator) deriveLearning(unit *registry.WorkUnit, result *Result) (*knowledge.Learning, error) {
	content := ""
	if result != nil {
		content = result.Summary
	}
	if content == "" {
		content = "Completed: " + unit.Title
	}
	return knowledge.NewLearning("work", unit.Title, content, unit.ID, unit.Tags)
}

// transitionContained records a failure transition, swallowing errors so a
// broken registry cannot mask the original failure.
func (o *Orchestrator) transitionContained(ctx context.Context, id string, to registry.Status, note string) {
	if _, err := o.deps.Registry.Transition(ctx, id, to, note); err != nil {
		o.logger.Warn("status transition failed",
			zap.String("unit", id),
			zap.String("to", string(to)),
			zap.Error(err))
	}
}
