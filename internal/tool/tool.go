// Package tool runs external programs (hg, ldd, autoconf, configure, make)
// and separates an unexpected tool failure from the exit status a caller
// chooses to interpret itself.
package tool

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"go.uber.org/zap"
)

type Command struct {
	Name  string
	Args  []string
	Dir   string
	Env   []string // appended to the current environment
	Stdin io.Reader
}

func (c Command) String() string {
	return strings.Join(append([]string{c.Name}, c.Args...), " ")
}

type Result struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte
}

// Check returns a FaultError when the command exited non-zero. Use it for
// commands that are expected to always succeed.
func (r *Result) Check(op string, cmd Command) error {
	if r.ExitCode == 0 {
		return nil
	}
	return &FaultError{
		Op:       op,
		Command:  cmd.String(),
		ExitCode: r.ExitCode,
		Stderr:   Tail(r.Stderr, 20),
	}
}

// Runner executes a command and waits for it. A non-zero exit is reported in
// the Result; err is only set when the process could not run at all or ctx
// ended first.
type Runner interface {
	Run(ctx context.Context, cmd Command) (*Result, error)
}

// FaultError is a failure of the tooling itself. It always aborts a bisection.
type FaultError struct {
	Op       string
	Command  string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *FaultError) Error() string {
	msg := fmt.Sprintf("%s: `%s`", e.Op, e.Command)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	} else {
		msg += fmt.Sprintf(" exited with status %d", e.ExitCode)
	}
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

func (e *FaultError) Unwrap() error { return e.Err }

type ExecRunner struct {
	logger *zap.Logger
}

func NewExecRunner(logger *zap.Logger) *ExecRunner {
	return &ExecRunner{logger: logger.Named("tool")}
}

func (r *ExecRunner) Run(ctx context.Context, c Command) (*Result, error) {
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	cmd.Stdin = c.Stdin
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	r.logger.Debug("running command", zap.String("command", cmd.String()), zap.String("dir", c.Dir))
	err := cmd.Run()
	res := &Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return res, ctxErr
	}
	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return res, nil
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
		r.logger.Debug("command exited non-zero",
			zap.String("command", c.String()),
			zap.Int("exit_code", res.ExitCode))
		return res, nil
	default:
		return res, &FaultError{Op: "start " + c.Name, Command: c.String(), ExitCode: -1, Err: err}
	}
}

// Tail returns the last n lines of out, trimmed.
func Tail(out []byte, n int) string {
	lines := strings.Split(strings.TrimRight(string(out), "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
