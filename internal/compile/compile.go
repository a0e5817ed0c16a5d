// Package compile builds engine shells for single revisions and keeps them in
// a shell cache, remembering revisions that failed to compile.
package compile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"autobisect/internal/revset"
	"autobisect/internal/tool"
	"autobisect/internal/types"
	"autobisect/internal/utils"
	"autobisect/pkg/telemetry"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

const (
	shellBinary    = "js"
	bustedSuffix   = ".busted"
	autoconfTool   = "autoconf2.13"
	defaultTimeout = 90 * time.Minute
)

// BuildFailure means the revision itself does not compile. It is an expected
// outcome during bisection, unlike a tool.FaultError.
type BuildFailure struct {
	Revision revset.Revision
	Stage    string
	Detail   string
	Cached   bool // reported from a .busted marker
}

func (e *BuildFailure) Error() string {
	msg := fmt.Sprintf("build of %s failed at %s", e.Revision.Short(), e.Stage)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *BuildFailure) BuildFailed() bool { return true }

// Checkout is the part of the history tool the compiler needs.
type Checkout interface {
	Dir() string
	Update(ctx context.Context, rev revset.Revision) error
}

type Options struct {
	CacheDir  string
	CoreCount int
	Timeout   time.Duration
}

// Compiler builds one revision at a time; the source checkout is shared.
type Compiler struct {
	repo    Checkout
	runner  tool.Runner
	options Options
	logger  *zap.Logger

	mu sync.Mutex
}

func NewCompiler(repo Checkout, runner tool.Runner, options Options, logger *zap.Logger) (*Compiler, error) {
	cacheDir, err := EnsureCacheDir(options.CacheDir)
	if err != nil {
		return nil, err
	}
	options.CacheDir = cacheDir
	if options.CoreCount < 1 {
		options.CoreCount = 1
	}
	if options.Timeout <= 0 {
		options.Timeout = defaultTimeout
	}
	return &Compiler{repo: repo, runner: runner, options: options, logger: logger.Named("compile")}, nil
}

// EnsureCacheDir creates dir, or ~/shell-cache when dir is empty, and returns it.
func EnsureCacheDir(dir string) (string, error) {
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("locate home directory: %w", err)
		}
		dir = filepath.Join(home, "shell-cache")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create shell cache: %w", err)
	}
	return dir, nil
}

func (c *Compiler) shellPath(name string) string {
	return filepath.Join(c.options.CacheDir, name, shellBinary)
}

func (c *Compiler) bustedPath(name string) string {
	return filepath.Join(c.options.CacheDir, name+bustedSuffix)
}

// Build returns a shell for rev. Errors are a *BuildFailure when rev does not
// compile, ctx.Err() when ctx ended, and a tooling fault otherwise.
func (c *Compiler) Build(ctx context.Context, rev revset.Revision, opts types.BuildOptions) (*types.Artifact, error) {
	name := opts.ShellName(string(rev))
	logger := c.logger.With(zap.String("revision", rev.Short()), zap.String("shell", name))

	tracer := telemetry.FromContext(ctx).Spawn("compile shell")
	tracer.WithAttributes(telemetry.NewSpanAttributes(telemetry.Building).
		WithRevision(string(rev)).
		WithBuildName(name))
	tracer.Start()
	defer tracer.End()

	if artifact, err := c.fromCache(rev, name); artifact != nil || err != nil {
		logger.Info("using cached result", zap.Bool("busted", err != nil))
		tracer.WithAttributes(telemetry.EmptySpanAttributes().WithCached(true))
		return artifact, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	start := time.Now()
	artifact, err := c.build(ctx, rev, name, opts, logger)
	var failure *BuildFailure
	switch {
	case err == nil:
		logger.Info("built shell", zap.Duration("elapsed", time.Since(start)))
	case errors.As(err, &failure):
		tracer.SetStatus(codes.Error, failure.Error())
		logger.Warn("revision does not compile", zap.String("stage", failure.Stage))
	default:
		tracer.SetStatus(codes.Error, err.Error())
	}
	return artifact, err
}

func (c *Compiler) fromCache(rev revset.Revision, name string) (*types.Artifact, error) {
	if data, err := os.ReadFile(c.bustedPath(name)); err == nil {
		return nil, &BuildFailure{Revision: rev, Stage: "cache", Detail: string(data), Cached: true}
	}
	shell := c.shellPath(name)
	if info, err := os.Stat(shell); err == nil && info.Mode().IsRegular() {
		return &types.Artifact{Revision: string(rev), ShellPath: shell, Cached: true}, nil
	}
	return nil, nil
}

func (c *Compiler) build(ctx context.Context, rev revset.Revision, name string, opts types.BuildOptions, logger *zap.Logger) (*types.Artifact, error) {
	if err := c.repo.Update(ctx, rev); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("check out %s: %w", rev.Short(), err)
	}

	buildCtx, cancel := context.WithTimeout(ctx, c.options.Timeout)
	defer cancel()

	srcDir := filepath.Join(c.repo.Dir(), "js", "src")
	configure := filepath.Join(srcDir, "configure")
	if _, err := os.Stat(configure); errors.Is(err, os.ErrNotExist) {
		if err := c.step(ctx, buildCtx, rev, name, "autoconf", tool.Command{Name: autoconfTool, Dir: srcDir}); err != nil {
			return nil, err
		}
	}

	objDir := filepath.Join(c.options.CacheDir, "objdir-"+uuid.NewString())
	if err := os.MkdirAll(objDir, 0o755); err != nil {
		return nil, fmt.Errorf("create objdir: %w", err)
	}
	defer os.RemoveAll(objDir)

	logger.Debug("configuring", zap.Strings("args", opts.ConfigureArgs()), zap.String("objdir", objDir))
	configureCmd := tool.Command{Name: configure, Args: opts.ConfigureArgs(), Dir: objDir}
	if err := c.step(ctx, buildCtx, rev, name, "configure", configureCmd); err != nil {
		return nil, err
	}

	makeCmd := tool.Command{Name: "make", Args: []string{fmt.Sprintf("-j%d", c.options.CoreCount), "-s"}, Dir: objDir}
	if err := c.step(ctx, buildCtx, rev, name, "make", makeCmd); err != nil {
		return nil, err
	}

	built := filepath.Join(objDir, "dist", "bin", shellBinary)
	if _, err := os.Stat(built); err != nil {
		return nil, c.markBusted(rev, name, "make", "no shell produced")
	}
	shell := c.shellPath(name)
	if err := os.MkdirAll(filepath.Dir(shell), 0o755); err != nil {
		return nil, fmt.Errorf("create shell dir: %w", err)
	}
	if err := utils.InstallFile(built, shell); err != nil {
		return nil, fmt.Errorf("store shell: %w", err)
	}
	return &types.Artifact{Revision: string(rev), ShellPath: shell}, nil
}

// step runs one compile stage. A non-zero exit marks the revision busted; the
// stage running out of time fails this attempt without marking it.
func (c *Compiler) step(ctx, buildCtx context.Context, rev revset.Revision, name, stage string, cmd tool.Command) error {
	res, err := c.runner.Run(buildCtx, cmd)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if buildCtx.Err() != nil {
		return &BuildFailure{Revision: rev, Stage: stage, Detail: fmt.Sprintf("timed out after %s", c.options.Timeout)}
	}
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return c.markBusted(rev, name, stage, tool.Tail(res.Stderr, 10))
	}
	return nil
}

func (c *Compiler) markBusted(rev revset.Revision, name, stage, detail string) error {
	failure := &BuildFailure{Revision: rev, Stage: stage, Detail: detail}
	if err := os.WriteFile(c.bustedPath(name), []byte(stage+": "+detail), 0o644); err != nil {
		c.logger.Error("failed to write busted marker", zap.String("shell", name), zap.Error(err))
	}
	return failure
}
