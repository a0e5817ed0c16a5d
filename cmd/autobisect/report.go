package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"autobisect/internal/bisect"
	"autobisect/internal/revset"
)

const (
	exitConverged    = 0
	exitInconclusive = 1
	exitError        = 2
)

type describer interface {
	Describe(ctx context.Context, rev revset.Revision) (string, error)
}

// report prints the outcome of a run and returns the process exit code.
func report(ctx context.Context, w io.Writer, history describer, state *bisect.SearchState, err error) int {
	if state != nil && len(state.Steps) > 0 {
		fmt.Fprintf(w, "Tested %d revisions:\n", len(state.Steps))
		for _, s := range state.Steps {
			line := fmt.Sprintf("  %s %-4s", s.Rev.Short(), s.Label)
			if s.Reason != "" {
				line += " (" + s.Reason + ")"
			}
			fmt.Fprintln(w, line)
		}
	}

	if err != nil {
		fmt.Fprintf(w, "Bisection failed: %v\n", err)
		return exitError
	}
	if state == nil {
		fmt.Fprintln(w, "Bisection did not start")
		return exitError
	}

	switch state.Verdict {
	case bisect.Converged:
		desc, dErr := history.Describe(ctx, state.Culprit)
		if dErr != nil {
			desc = string(state.Culprit)
		}
		fmt.Fprintf(w, "The first bad revision is:\n  %s\n", strings.TrimSpace(desc))
		return exitConverged
	default:
		fmt.Fprintf(w, "Inconclusive: %s\n", state.Reason)
		if len(state.Suspects) > 0 {
			fmt.Fprintf(w, "The first bad revision is one of %d:\n", len(state.Suspects))
			for _, r := range state.Suspects {
				fmt.Fprintf(w, "  %s\n", r.Short())
			}
		}
		return exitInconclusive
	}
}
