// Package hg drives a local Mercurial clone of the engine: it evaluates
// revset expressions and checks out revisions for the compiler.
package hg

import (
	"context"
	"fmt"
	"strings"

	"autobisect/internal/revset"
	"autobisect/internal/tool"

	"go.uber.org/zap"
)

const nodeTemplate = "{node}\n"

type Repo struct {
	dir    string
	runner tool.Runner
	logger *zap.Logger
}

func NewRepo(dir string, runner tool.Runner, logger *zap.Logger) *Repo {
	return &Repo{dir: dir, runner: runner, logger: logger.Named("hg")}
}

func (r *Repo) Dir() string { return r.dir }

func (r *Repo) hg(ctx context.Context, op string, args ...string) (*tool.Result, error) {
	cmd := tool.Command{Name: "hg", Args: append([]string{"-R", r.dir}, args...)}
	res, err := r.runner.Run(ctx, cmd)
	if err != nil {
		return nil, err
	}
	if err := res.Check(op, cmd); err != nil {
		return nil, err
	}
	return res, nil
}

// Evaluate resolves expr to full node hashes in revset order. An expression
// that matches nothing yields an empty slice; hg refusing the expression is a
// tooling fault.
func (r *Repo) Evaluate(ctx context.Context, expr revset.Expr) ([]revset.Revision, error) {
	spec := revset.Format(expr)
	res, err := r.hg(ctx, "evaluate revset", "log", "-r", spec, "--template", nodeTemplate)
	if err != nil {
		return nil, err
	}
	var revs []revset.Revision
	for _, line := range strings.Split(string(res.Stdout), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			revs = append(revs, revset.Revision(line))
		}
	}
	r.logger.Debug("evaluated revset", zap.String("revset", spec), zap.Int("count", len(revs)))
	return revs, nil
}

// Update checks out rev, discarding local changes.
func (r *Repo) Update(ctx context.Context, rev revset.Revision) error {
	_, err := r.hg(ctx, "update to "+rev.Short(), "update", "-C", "-r", string(rev))
	return err
}

// Describe returns "<short> <first line of the commit message>".
func (r *Repo) Describe(ctx context.Context, rev revset.Revision) (string, error) {
	res, err := r.hg(ctx, "describe "+rev.Short(), "log", "-r", revset.Format(revset.Rev(rev)),
		"--template", "{node|short} {desc|firstline}\n")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(res.Stdout)), nil
}

// IsRepo reports whether dir is the root of a Mercurial repository.
func IsRepo(ctx context.Context, runner tool.Runner, dir string) (bool, error) {
	cmd := tool.Command{Name: "hg", Args: []string{"-R", dir, "root"}}
	res, err := runner.Run(ctx, cmd)
	if err != nil {
		return false, fmt.Errorf("check repository %s: %w", dir, err)
	}
	return res.ExitCode == 0, nil
}
