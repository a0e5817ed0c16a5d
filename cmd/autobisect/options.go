package main

import (
	"fmt"
	"path/filepath"
	"time"

	"autobisect/config"
	"autobisect/internal/types"

	"github.com/google/uuid"
	"github.com/jessevdk/go-flags"
)

type Options struct {
	Start string `short:"s" long:"start" value-name:"REV" description:"revision assumed good (default: earliest known working revision for the flags)"`
	End   string `short:"e" long:"end" value-name:"REV" description:"revision assumed bad (default: tip of the default branch)"`

	Repo     string `short:"R" long:"repo" value-name:"DIR" description:"mozilla-central checkout (default: $REPO_DIR or ~/trees/mozilla-central)"`
	CacheDir string `long:"cache-dir" value-name:"DIR" description:"shell cache (default: $SHELL_CACHE_DIR or ~/shell-cache)"`

	Testcase               string        `short:"t" long:"testcase" value-name:"FILE" required:"true" description:"JS file run by every shell"`
	CompilationFailedLabel string        `long:"compilation-failed-label" choice:"skip" choice:"bad" choice:"good" default:"skip" description:"what a revision that does not build counts as"`
	VerifyEndpoints        bool          `long:"verify" description:"build and test both endpoints before searching"`
	Interesting            []string      `short:"i" long:"interesting" value-name:"TEXT" description:"output that marks a run bad (repeatable; default: assertion failures and MOZ_CRASH)"`
	Timeout                time.Duration `long:"timeout" value-name:"DURATION" description:"per-run testcase timeout, after which the run counts as good"`
	BuildTimeout           time.Duration `long:"build-timeout" value-name:"DURATION" description:"per-revision compile timeout"`
	JobID                  string        `long:"job-id" description:"identifier for recorded runs (default: random)"`

	EnableDebug             bool `long:"enable-debug" description:"build with --enable-debug"`
	EnableOptimize          bool `long:"enable-optimize" description:"build with --enable-optimize"`
	DisableProfiling        bool `long:"disable-profiling" description:"build with --disable-profiling"`
	EnableMoreDeterministic bool `long:"enable-more-deterministic" description:"build with --enable-more-deterministic"`
	EnableSimulatorArm32    bool `long:"enable-simulator-arm32" description:"build a 32-bit ARM simulator shell"`

	Telemetry bool `long:"telemetry" description:"export traces and logs over OTLP"`

	Args struct {
		Flags []string `positional-arg-name:"SHELL-FLAGS"`
	} `positional-args:"yes"`
}

// parseOptions parses args (without the program name). Shell flags follow "--".
func parseOptions(args []string) (*Options, error) {
	opts := &Options{}
	parser := flags.NewParser(opts, flags.Default)
	parser.Usage = "[OPTIONS] --testcase FILE [-- SHELL-FLAGS...]"
	rest, err := parser.ParseArgs(args)
	if err != nil {
		return nil, err
	}
	if len(rest) > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", rest)
	}
	return opts, nil
}

func (o *Options) buildOptions() types.BuildOptions {
	return types.BuildOptions{
		EnableDbg:               o.EnableDebug,
		EnableOpt:               o.EnableOptimize,
		DisableProfiling:        o.DisableProfiling,
		EnableMoreDeterministic: o.EnableMoreDeterministic,
		EnableSimulatorArm32:    o.EnableSimulatorArm32,
	}
}

// job describes the run the same way a queued job would.
func (o *Options) job() (types.BisectJob, error) {
	testcase, err := filepath.Abs(o.Testcase)
	if err != nil {
		return types.BisectJob{}, err
	}
	id := o.JobID
	if id == "" {
		id = uuid.New().String()
	}
	return types.BisectJob{
		JobID:                  id,
		Start:                  o.Start,
		End:                    o.End,
		Flags:                  o.Args.Flags,
		Build:                  o.buildOptions(),
		Testcase:               testcase,
		CompilationFailedLabel: o.CompilationFailedLabel,
		VerifyEndpoints:        o.VerifyEndpoints,
		Interesting:            o.Interesting,
	}, nil
}

// apply lets command-line options win over the environment.
func (o *Options) apply(cfg *config.AppConfig) {
	if o.Repo != "" {
		cfg.Bisect.RepoDir = o.Repo
	}
	if o.CacheDir != "" {
		cfg.Bisect.ShellCacheDir = o.CacheDir
	}
	if o.Timeout > 0 {
		cfg.Bisect.OracleTimeout = o.Timeout
	}
	if o.BuildTimeout > 0 {
		cfg.Bisect.BuildTimeout = o.BuildTimeout
	}
}
