// Package toolchain provides the host-facing pieces both binaries share: the
// command runner, the hg checkout, the shell compiler, the known-broken
// tables and the detected host environment.
package toolchain

import (
	"context"
	"fmt"
	"time"

	"autobisect/config"
	"autobisect/internal/compile"
	"autobisect/internal/hg"
	"autobisect/internal/hostenv"
	"autobisect/internal/knownbroken"
	"autobisect/internal/tool"
	"autobisect/pkg/watchdog"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

const probeTimeout = 30 * time.Second

var Module = fx.Module("toolchain",
	fx.Provide(
		NewRunner,
		NewRepo,
		NewCompiler,
		NewRegistry,
		NewEnvironment,
		watchdog.NewWatchDogFactory,
	),
)

func NewRunner(logger *zap.Logger) tool.Runner {
	return tool.NewExecRunner(logger)
}

type RepoParams struct {
	fx.In

	Config *config.AppConfig
	Runner tool.Runner
	Logger *zap.Logger
}

// NewRepo opens the configured checkout; it must be an hg working directory.
func NewRepo(p RepoParams) (*hg.Repo, error) {
	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()

	dir := p.Config.Bisect.RepoDir
	ok, err := hg.IsRepo(ctx, p.Runner, dir)
	if err != nil {
		return nil, fmt.Errorf("check repository %s: %w", dir, err)
	}
	if !ok {
		return nil, fmt.Errorf("%s is not a Mercurial repository", dir)
	}
	p.Logger.Info("using repository", zap.String("dir", dir))
	return hg.NewRepo(dir, p.Runner, p.Logger), nil
}

type CompilerParams struct {
	fx.In

	Config *config.AppConfig
	Repo   *hg.Repo
	Runner tool.Runner
	Logger *zap.Logger
}

func NewCompiler(p CompilerParams) (*compile.Compiler, error) {
	return compile.NewCompiler(p.Repo, p.Runner, compile.Options{
		CacheDir:  p.Config.Bisect.ShellCacheDir,
		CoreCount: p.Config.CoreCount,
		Timeout:   p.Config.Bisect.BuildTimeout,
	}, p.Logger)
}

// NewRegistry returns the built-in tables, extended from KNOWN_BROKEN_FILE when set.
func NewRegistry(cfg *config.AppConfig, logger *zap.Logger) (*knownbroken.Registry, error) {
	if cfg.Bisect.KnownBrokenFile == "" {
		return knownbroken.NewRegistry(logger, nil), nil
	}
	overrides, err := knownbroken.LoadOverrides(cfg.Bisect.KnownBrokenFile)
	if err != nil {
		return nil, err
	}
	return knownbroken.NewRegistry(logger, overrides), nil
}

// NewEnvironment detects the host once at startup. The C library version is
// probed lazily, and only on Linux.
func NewEnvironment(runner tool.Runner, logger *zap.Logger) (knownbroken.Environment, error) {
	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()

	prober := hostenv.NewProber(runner, logger)
	host, err := prober.Detect(ctx)
	if err != nil {
		return knownbroken.Environment{}, fmt.Errorf("detect host: %w", err)
	}
	return knownbroken.Environment{Host: host, Libc: prober}, nil
}
