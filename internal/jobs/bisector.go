package jobs

import (
	"context"
	"errors"
	"fmt"

	"autobisect/config"
	"autobisect/internal/bisect"
	"autobisect/internal/compile"
	"autobisect/internal/hg"
	"autobisect/internal/knownbroken"
	"autobisect/internal/oracle"
	"autobisect/internal/progress"
	"autobisect/internal/revset"
	"autobisect/internal/types"
	"autobisect/pkg/watchdog"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

// ErrInvalidJob marks jobs that can never succeed as submitted.
var ErrInvalidJob = errors.New("invalid job")

// ConfigFromJob translates a queued job into a driver configuration.
func ConfigFromJob(job types.BisectJob) (bisect.Config, error) {
	label, err := types.ParseLabel(job.CompilationFailedLabel)
	if err != nil {
		return bisect.Config{}, fmt.Errorf("%w: %v", ErrInvalidJob, err)
	}
	cfg := bisect.Config{
		JobID:                  job.JobID,
		Flags:                  job.Flags,
		Build:                  job.Build,
		CompilationFailedLabel: label,
		VerifyEndpoints:        job.VerifyEndpoints,
	}
	if job.Start != "" {
		cfg.Start = revset.Parse(job.Start)
	}
	if job.End != "" {
		cfg.End = revset.Parse(job.End)
	}
	return cfg, nil
}

// JobRunner runs one job to completion.
type JobRunner interface {
	RunJob(ctx context.Context, job types.BisectJob) (*bisect.SearchState, error)
}

// Bisector runs jobs against the shared checkout and shell cache, one at a time.
type Bisector struct {
	history     bisect.History
	builder     bisect.Builder
	registry    *knownbroken.Registry
	env         knownbroken.Environment
	watchDogFac *watchdog.WatchDogFactory
	recorder    *progress.Recorder
	settings    config.BisectConfig
	logger      *zap.Logger
}

type BisectorParams struct {
	fx.In

	Config      *config.AppConfig
	Repo        *hg.Repo
	Compiler    *compile.Compiler
	Registry    *knownbroken.Registry
	Env         knownbroken.Environment
	WatchDogFac *watchdog.WatchDogFactory
	Recorder    *progress.Recorder
	Logger      *zap.Logger
}

func NewBisector(p BisectorParams) *Bisector {
	return &Bisector{
		history:     p.Repo,
		builder:     p.Compiler,
		registry:    p.Registry,
		env:         p.Env,
		watchDogFac: p.WatchDogFac,
		recorder:    p.Recorder,
		settings:    p.Config.Bisect,
		logger:      p.Logger,
	}
}

func (b *Bisector) RunJob(ctx context.Context, job types.BisectJob) (*bisect.SearchState, error) {
	cfg, err := ConfigFromJob(job)
	if err != nil {
		return nil, err
	}
	o, err := oracle.NewOracle(oracle.Options{
		Flags:       job.Flags,
		Testcase:    job.Testcase,
		Timeout:     b.settings.OracleTimeout,
		Interesting: job.Interesting,
	}, b.watchDogFac, b.logger)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJob, err)
	}

	b.recorder.Track(job)
	driver := bisect.NewDriver(b.history, b.builder, o, b.registry, b.env, b.logger,
		bisect.WithReporter(b.recorder))
	return driver.Run(ctx, cfg)
}
