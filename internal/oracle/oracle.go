// Package oracle runs a testcase against a built shell and decides whether
// the revision shows the behavior being bisected for.
package oracle

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"syscall"
	"time"

	"autobisect/internal/tool"
	"autobisect/internal/types"
	"autobisect/pkg/telemetry"
	"autobisect/pkg/watchdog"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultInteresting are output fragments that mark a run bad on their own.
var DefaultInteresting = []string{
	"Assertion failure:",
	"Hit MOZ_CRASH",
}

const (
	defaultTimeout = 60 * time.Second
	killGrace      = 5 * time.Second
	reportPrefix   = "asan"
)

type Options struct {
	Flags        []string      // shell flags, placed before the testcase
	Testcase     string        // path to the JS file
	Timeout      time.Duration // a run still going after this is interrupted
	Interesting  []string      // output fragments that mark a run bad
	BadExitCodes []int         // exit codes that mark a run bad
	WorkDir      string        // parent for per-run scratch dirs
}

type Oracle struct {
	options     Options
	watchDogFac *watchdog.WatchDogFactory
	logger      *zap.Logger
}

func NewOracle(options Options, watchDogFac *watchdog.WatchDogFactory, logger *zap.Logger) (*Oracle, error) {
	if options.Testcase == "" {
		return nil, errors.New("no testcase given")
	}
	if _, err := os.Stat(options.Testcase); err != nil {
		return nil, fmt.Errorf("testcase: %w", err)
	}
	if options.Timeout <= 0 {
		options.Timeout = defaultTimeout
	}
	if options.Interesting == nil {
		options.Interesting = DefaultInteresting
	}
	if options.WorkDir == "" {
		options.WorkDir = os.TempDir()
	}
	return &Oracle{options: options, watchDogFac: watchDogFac, logger: logger.Named("oracle")}, nil
}

func (o *Oracle) Options() Options { return o.options }

func isReport(name string) bool {
	return strings.HasPrefix(filepath.Base(name), reportPrefix+".")
}

// Test runs the testcase once. It only errors when the shell could not be run
// at all, or when ctx ended.
func (o *Oracle) Test(ctx context.Context, artifact *types.Artifact) (types.TestResult, error) {
	tracer := telemetry.FromContext(ctx).Spawn("run testcase")
	tracer.WithAttributes(telemetry.NewSpanAttributes(telemetry.Testing).WithRevision(artifact.Revision))
	tracer.Start()
	defer tracer.End()

	runDir := filepath.Join(o.options.WorkDir, "autobisect-run-"+uuid.NewString())
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return types.TestResult{}, fmt.Errorf("create run dir: %w", err)
	}
	defer os.RemoveAll(runDir)

	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	reportChan := make(chan string, 64)
	wd, err := o.watchDogFac.New(watchCtx, reportChan, isReport)
	if err != nil {
		return types.TestResult{}, err
	}
	if err := wd.AddDir(runDir); err != nil {
		return types.TestResult{}, err
	}

	args := append(slices.Clone(o.options.Flags), o.options.Testcase)
	cmd := exec.CommandContext(ctx, artifact.ShellPath, args...)
	cmd.Env = append(os.Environ(),
		"ASAN_OPTIONS=log_path="+filepath.Join(runDir, reportPrefix),
		"UBSAN_OPTIONS=log_path="+filepath.Join(runDir, reportPrefix))
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	o.logger.Debug("running testcase", zap.String("command", cmd.String()))
	interrupted, err := o.run(ctx, cmd)
	if ctx.Err() != nil {
		return types.TestResult{}, ctx.Err()
	}
	if err != nil {
		return types.TestResult{}, &tool.FaultError{Op: "run shell", Command: cmd.String(), ExitCode: -1, Err: err}
	}

	stopWatch()
	<-wd.Done()
	reports := map[string]bool{}
	for r := range reportChan {
		reports[filepath.Base(r)] = true
	}
	// reports written right before exit may not have been delivered yet
	if entries, err := os.ReadDir(runDir); err == nil {
		for _, e := range entries {
			if isReport(e.Name()) {
				reports[e.Name()] = true
			}
		}
	}

	result := o.classify(cmd.ProcessState, interrupted, stdout.String()+stderr.String(), len(reports))
	tracer.WithAttributes(telemetry.EmptySpanAttributes().WithOutcome(result.Outcome.String()))
	o.logger.Info("testcase result",
		zap.String("revision", artifact.Revision),
		zap.Stringer("outcome", result.Outcome),
		zap.String("reason", result.Reason))
	return result, nil
}

// run starts cmd and waits for it. Past the timeout the shell gets SIGINT,
// then SIGKILL if it still has not exited after killGrace.
func (o *Oracle) run(ctx context.Context, cmd *exec.Cmd) (bool, error) {
	if err := cmd.Start(); err != nil {
		return false, err
	}

	done := make(chan struct{})
	go func() {
		_ = cmd.Wait() // exit status is read from ProcessState
		close(done)
	}()

	timer := time.NewTimer(o.options.Timeout)
	defer timer.Stop()

	select {
	case <-done:
		return false, nil
	case <-ctx.Done():
		<-done
		return false, nil
	case <-timer.C:
	}

	o.logger.Debug("testcase timed out, interrupting", zap.Duration("timeout", o.options.Timeout))
	_ = cmd.Process.Signal(syscall.SIGINT)
	grace := time.NewTimer(killGrace)
	defer grace.Stop()
	select {
	case <-done:
	case <-grace.C:
		_ = cmd.Process.Kill()
		<-done
	case <-ctx.Done():
		<-done
	}
	return true, nil
}

func (o *Oracle) classify(state *os.ProcessState, interrupted bool, output string, reports int) types.TestResult {
	for _, s := range o.options.Interesting {
		if s != "" && strings.Contains(output, s) {
			return types.TestResult{Outcome: types.Bad, Reason: fmt.Sprintf("output contains %q", s)}
		}
	}
	if reports > 0 {
		return types.TestResult{Outcome: types.Bad, Reason: fmt.Sprintf("%d sanitizer report(s)", reports)}
	}
	if interrupted {
		return types.TestResult{Outcome: types.Good, Reason: fmt.Sprintf("timed out after %s", o.options.Timeout)}
	}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return types.TestResult{Outcome: types.Bad, Reason: "killed by " + ws.Signal().String()}
	}
	if code := state.ExitCode(); slices.Contains(o.options.BadExitCodes, code) {
		return types.TestResult{Outcome: types.Bad, Reason: fmt.Sprintf("exit code %d", code)}
	}
	return types.TestResult{Outcome: types.Good, Reason: fmt.Sprintf("exit code %d", state.ExitCode())}
}
