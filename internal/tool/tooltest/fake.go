// Package tooltest fakes tool.Runner for tests.
package tooltest

import (
	"context"
	"fmt"
	"sync"

	"autobisect/internal/tool"
)

type Handler func(cmd tool.Command) (*tool.Result, error)

// Runner dispatches on the command name. Unknown commands fail the call.
type Runner struct {
	mu       sync.Mutex
	handlers map[string]Handler
	Calls    []tool.Command
}

func NewRunner() *Runner {
	return &Runner{handlers: make(map[string]Handler)}
}

func (r *Runner) Handle(name string, h Handler) *Runner {
	r.handlers[name] = h
	return r
}

// Reply registers a handler that always returns the given output.
func (r *Runner) Reply(name string, exitCode int, stdout, stderr string) *Runner {
	return r.Handle(name, func(tool.Command) (*tool.Result, error) {
		return &tool.Result{ExitCode: exitCode, Stdout: []byte(stdout), Stderr: []byte(stderr)}, nil
	})
}

func (r *Runner) Run(ctx context.Context, cmd tool.Command) (*tool.Result, error) {
	r.mu.Lock()
	r.Calls = append(r.Calls, cmd)
	h, ok := r.handlers[cmd.Name]
	r.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("tooltest: unexpected command %q", cmd.String())
	}
	return h(cmd)
}

// Count reports how many calls were made to the named command.
func (r *Runner) Count(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.Calls {
		if c.Name == name {
			n++
		}
	}
	return n
}
