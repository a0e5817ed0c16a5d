// Package bisect searches revision history for the changeset that turned a
// testcase from good to bad, building and testing one revision at a time.
package bisect

import (
	"context"
	"errors"
	"fmt"
	"time"

	"autobisect/internal/knownbroken"
	"autobisect/internal/revset"
	"autobisect/internal/types"
	"autobisect/pkg/telemetry"

	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// History evaluates revset expressions against the repository. Results are
// in history order.
type History interface {
	Evaluate(ctx context.Context, expr revset.Expr) ([]revset.Revision, error)
}

// Builder compiles a revision. An error with a BuildFailed() bool method
// returning true means the revision does not compile; any other error is a
// tooling fault.
type Builder interface {
	Build(ctx context.Context, rev revset.Revision, opts types.BuildOptions) (*types.Artifact, error)
}

type Oracle interface {
	Test(ctx context.Context, artifact *types.Artifact) (types.TestResult, error)
}

// Reporter observes a search. Implementations handle their own errors.
type Reporter interface {
	Started(ctx context.Context, state *SearchState)
	Stepped(ctx context.Context, state *SearchState, step Step)
	Finished(ctx context.Context, state *SearchState, err error)
}

type Config struct {
	JobID string
	// Start is assumed good. nil means the earliest known working revision
	// for Flags on this host.
	Start revset.Expr
	// End is assumed bad. nil means the tip of the default branch.
	End                    revset.Expr
	Flags                  []string
	Build                  types.BuildOptions
	CompilationFailedLabel types.Label
	VerifyEndpoints        bool
}

type Driver struct {
	history  History
	builder  Builder
	oracle   Oracle
	registry *knownbroken.Registry
	env      knownbroken.Environment
	reporter Reporter
	logger   *zap.Logger
}

type Option func(*Driver)

func WithReporter(r Reporter) Option {
	return func(d *Driver) { d.reporter = r }
}

func NewDriver(history History, builder Builder, oracle Oracle, registry *knownbroken.Registry, env knownbroken.Environment, logger *zap.Logger, opts ...Option) *Driver {
	d := &Driver{
		history:  history,
		builder:  builder,
		oracle:   oracle,
		registry: registry,
		env:      env,
		reporter: nopReporter{},
		logger:   logger.Named("bisect"),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

type buildFailure interface{ BuildFailed() bool }

// Run bisects until the search converges or is inconclusive. Errors are
// fatal: an unsupported host, a tooling fault, or ctx ending. The returned
// state is nil when the search could not start, and valid otherwise. The
// reporter sees Finished either way.
func (d *Driver) Run(ctx context.Context, cfg Config) (*SearchState, error) {
	if cfg.CompilationFailedLabel == "" {
		cfg.CompilationFailedLabel = types.LabelSkip
	}
	logger := d.logger.With(zap.String("job_id", cfg.JobID))

	tracer := telemetry.FromContext(ctx).Spawn("bisect")
	tracer.WithAttributes(telemetry.NewSpanAttributes(telemetry.Bisecting).WithJobID(cfg.JobID))
	tracer.Start()
	defer tracer.End()
	ctx = telemetry.WithTracer(ctx, tracer)

	state := &SearchState{JobID: cfg.JobID, StartedAt: time.Now()}
	startExpr, endExpr, broken, err := d.endpoints(ctx, cfg)
	if err != nil {
		tracer.SetStatus(codes.Error, err.Error())
		logger.Error("bisection could not start", zap.Error(err))
		d.reporter.Finished(ctx, state, err)
		return nil, err
	}
	err = d.search(ctx, cfg, state, startExpr, endExpr, broken, logger)

	switch {
	case err != nil:
		tracer.SetStatus(codes.Error, err.Error())
		logger.Error("bisection aborted", zap.Int("steps", len(state.Steps)), zap.Error(err))
	case state.Verdict == Converged:
		logger.Info("bisection converged",
			zap.String("culprit", string(state.Culprit)),
			zap.String("last_good", string(state.Good)),
			zap.Int("steps", len(state.Steps)))
	default:
		logger.Warn("bisection inconclusive",
			zap.String("reason", state.Reason),
			zap.Int("suspects", len(state.Suspects)))
	}
	tracer.WithAttributes(telemetry.EmptySpanAttributes().WithVerdict(state.Verdict.String()))
	d.reporter.Finished(ctx, state, err)
	return state, err
}

// endpoints resolves the search bounds and the known broken ranges for this host.
func (d *Driver) endpoints(ctx context.Context, cfg Config) (start, end revset.Expr, broken []revset.Expr, err error) {
	if err = knownbroken.CheckHost(d.env.Host); err != nil {
		return nil, nil, nil, err
	}
	broken, err = d.registry.KnownBrokenRanges(ctx, d.env, cfg.Build)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("known broken ranges: %w", err)
	}

	start = cfg.Start
	if start == nil {
		if start, err = d.registry.EarliestKnownWorkingRev(d.env, cfg.Flags, revset.Union(broken...)); err != nil {
			return nil, nil, nil, err
		}
	}
	end = cfg.End
	if end == nil {
		end = revset.Symbol("default")
	}
	return start, end, broken, nil
}

func (d *Driver) search(ctx context.Context, cfg Config, state *SearchState, startExpr, endExpr revset.Expr, broken []revset.Expr, logger *zap.Logger) error {
	starts, err := d.history.Evaluate(ctx, startExpr)
	if err != nil {
		return fmt.Errorf("evaluate start: %w", err)
	}
	ends, err := d.history.Evaluate(ctx, endExpr)
	if err != nil {
		return fmt.Errorf("evaluate end: %w", err)
	}
	if len(starts) == 0 || len(ends) == 0 {
		state.finish(Inconclusive, "no testable revision range: start or end matches no revision")
		return nil
	}
	state.Good = starts[0]
	state.Bad = ends[len(ends)-1]
	logger.Info("bisecting",
		zap.String("good", string(state.Good)),
		zap.String("bad", string(state.Bad)),
		zap.Strings("flags", cfg.Flags),
		zap.Int("known_broken", len(broken)))
	d.reporter.Started(ctx, state)

	if cfg.VerifyEndpoints {
		if ok, err := d.verify(ctx, cfg, state); err != nil || !ok {
			return err
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		suspectsExpr := revset.Conjunction(
			revset.Difference(revset.Descendants(revset.Rev(state.Good)), revset.Rev(state.Good)),
			revset.Ancestors(revset.Rev(state.Bad)),
		)
		suspects, err := d.history.Evaluate(ctx, suspectsExpr)
		if err != nil {
			return fmt.Errorf("evaluate suspects: %w", err)
		}
		state.Suspects = suspects

		switch len(suspects) {
		case 0:
			state.finish(Inconclusive, fmt.Sprintf("%s is not a descendant of %s", state.Bad.Short(), state.Good.Short()))
			return nil
		case 1:
			state.Culprit = suspects[0]
			state.finish(Converged, "")
			return nil
		}

		untestable := make([]revset.Expr, 0, len(state.Skipped)+len(broken))
		for _, r := range state.Skipped {
			untestable = append(untestable, revset.Rev(r))
		}
		untestable = append(untestable, broken...)
		candidates, err := d.history.Evaluate(ctx, revset.Difference(
			revset.Difference(suspectsExpr, revset.Rev(state.Bad)),
			revset.Union(untestable...),
		))
		if err != nil {
			return fmt.Errorf("evaluate candidates: %w", err)
		}
		if len(candidates) == 0 {
			state.finish(Inconclusive, fmt.Sprintf("none of the %d revisions between %s and %s can be tested",
				len(suspects), state.Good.Short(), state.Bad.Short()))
			return nil
		}

		rev := candidates[len(candidates)/2]
		logger.Debug("testing candidate",
			zap.String("revision", string(rev)),
			zap.Int("candidates", len(candidates)),
			zap.Int("suspects", len(suspects)))
		step, err := d.test(ctx, cfg, rev)
		if err != nil {
			return err
		}
		step.Candidates = len(candidates)
		state.apply(step)
		logger.Info("tested revision",
			zap.String("revision", rev.Short()),
			zap.String("label", string(step.Label)),
			zap.String("reason", step.Reason),
			zap.Duration("elapsed", step.Duration))
		d.reporter.Stepped(ctx, state, step)
	}
}

// verify tests both endpoints before searching. It reports false, with the
// state finished as Inconclusive, when either does not behave as assumed.
func (d *Driver) verify(ctx context.Context, cfg Config, state *SearchState) (bool, error) {
	endpoints := []struct {
		rev  revset.Revision
		want types.Label
		name string
	}{
		{state.Good, types.LabelGood, "start"},
		{state.Bad, types.LabelBad, "end"},
	}
	for _, e := range endpoints {
		step, err := d.test(ctx, cfg, e.rev)
		if err != nil {
			return false, err
		}
		state.Steps = append(state.Steps, step)
		d.reporter.Stepped(ctx, state, step)
		if step.BuildFailed {
			state.finish(Inconclusive, fmt.Sprintf("%s revision %s does not build", e.name, e.rev.Short()))
			return false, nil
		}
		if step.Label != e.want {
			state.finish(Inconclusive, fmt.Sprintf("%s revision %s tests %s: %s", e.name, e.rev.Short(), step.Label, step.Reason))
			return false, nil
		}
	}
	return true, nil
}

// test builds and runs one revision. Only fatal errors are returned.
func (d *Driver) test(ctx context.Context, cfg Config, rev revset.Revision) (Step, error) {
	start := time.Now()
	tracer := telemetry.FromContext(ctx).Spawn("bisect step")
	tracer.WithAttributes(telemetry.NewSpanAttributes(telemetry.Bisecting).WithRevision(string(rev)))
	tracer.Start()
	defer tracer.End()
	ctx = telemetry.WithTracer(ctx, tracer)

	step := Step{Rev: rev}
	artifact, err := d.builder.Build(ctx, rev, cfg.Build)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Step{}, ctxErr
		}
		var failure buildFailure
		if !errors.As(err, &failure) || !failure.BuildFailed() {
			tracer.SetStatus(codes.Error, err.Error())
			return Step{}, fmt.Errorf("build %s: %w", rev.Short(), err)
		}
		step.Label = cfg.CompilationFailedLabel
		step.BuildFailed = true
		step.Reason = err.Error()
	} else {
		res, err := d.oracle.Test(ctx, artifact)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return Step{}, ctxErr
			}
			tracer.SetStatus(codes.Error, err.Error())
			return Step{}, fmt.Errorf("test %s: %w", rev.Short(), err)
		}
		step.Label = types.LabelGood
		if res.Outcome == types.Bad {
			step.Label = types.LabelBad
		}
		step.Reason = res.Reason
	}
	step.Duration = time.Since(start)
	tracer.WithAttributes(telemetry.EmptySpanAttributes().WithOutcome(string(step.Label)))
	return step, nil
}

type nopReporter struct{}

func (nopReporter) Started(context.Context, *SearchState)         {}
func (nopReporter) Stepped(context.Context, *SearchState, Step)   {}
func (nopReporter) Finished(context.Context, *SearchState, error) {}
