package main

import (
	"context"
	"errors"
	"os"

	"autobisect/config"
	"autobisect/internal/hg"
	"autobisect/internal/jobs"
	"autobisect/internal/progress"
	"autobisect/internal/toolchain"
	"autobisect/pkg/database"
	"autobisect/pkg/logger"
	"autobisect/pkg/telemetry"

	"github.com/jessevdk/go-flags"
	_ "go.uber.org/automaxprocs"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

type RunParams struct {
	fx.In

	Lifecycle     fx.Lifecycle
	Shutdowner    fx.Shutdowner
	Logger        *zap.Logger
	Options       *Options
	Repo          *hg.Repo
	Bisector      *jobs.Bisector
	Recorder      *progress.Recorder
	TracerFactory *telemetry.TracerFactory
}

// runOnce bisects in the background once the app has started, prints the
// result and shuts the app down with the matching exit code.
func runOnce(p RunParams) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	p.Lifecycle.Append(fx.Hook{
		OnStart: func(context.Context) error {
			job, err := p.Options.job()
			if err != nil {
				cancel()
				return err
			}
			go func() {
				defer close(done)

				tracer := p.TracerFactory.NewTracer(ctx, "bisect job").
					WithAttributes(telemetry.NewSpanAttributes(telemetry.Bisecting).WithJobID(job.JobID))
				tracer.Start()
				jobCtx := telemetry.WithTracer(ctx, tracer)
				p.Recorder.SaveTraceContext(jobCtx, job.JobID, tracer.Export())

				state, err := p.Bisector.RunJob(jobCtx, job)
				tracer.End()

				// the checkout may still be usable after an interrupt
				code := report(context.WithoutCancel(ctx), os.Stdout, p.Repo, state, err)
				if err := p.Shutdowner.Shutdown(fx.ExitCode(code)); err != nil {
					p.Logger.Error("failed to shut down", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
			case <-stopCtx.Done():
			}
			return nil
		},
	})
}

func main() {
	opts, err := parseOptions(os.Args[1:])
	if err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(exitError)
	}

	cfg := config.LoadConfig()
	opts.apply(cfg)

	provides := []any{
		func() *config.AppConfig { return cfg }, // inject config
		func() *Options { return opts },         // inject command line
		logger.NewLogger,                        // inject logger
		telemetry.NewTracerFactory,              // inject telemetry tracer factory
		database.NewRedisClient,                 // inject redis client, if configured
		database.NewDBConnection,                // inject db connection, if configured
		progress.NewRecorder,                    // inject run recorder
		jobs.NewBisector,                        // inject job runner
	}
	if opts.Telemetry {
		provides = append(provides, telemetry.NewTelemetry)
	}

	app := fx.New(
		fx.Provide(provides...),
		toolchain.Module,
		fx.Invoke(runOnce),
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log.Named("fx").WithOptions(zap.IncreaseLevel(zap.WarnLevel))}
		}),
	)
	app.Run()
}
