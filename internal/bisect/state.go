package bisect

import (
	"time"

	"autobisect/internal/revset"
	"autobisect/internal/types"
)

type Verdict int

const (
	Searching Verdict = iota
	Converged
	Inconclusive
)

func (v Verdict) String() string {
	switch v {
	case Searching:
		return "searching"
	case Converged:
		return "converged"
	case Inconclusive:
		return "inconclusive"
	default:
		return "unknown"
	}
}

// Step is one tested revision. Label is what the revision was counted as:
// good or bad from the oracle, or the compilation-failed label.
type Step struct {
	Rev         revset.Revision
	Label       types.Label
	Reason      string
	BuildFailed bool
	Candidates  int // testable revisions left when Rev was picked
	Duration    time.Duration
}

// SearchState is the progress of one bisection. Good and Bad only move once a
// step has fully completed, so a cancelled run keeps every classification.
type SearchState struct {
	JobID     string
	Good      revset.Revision // latest revision known good
	Bad       revset.Revision // earliest revision known bad
	Skipped   []revset.Revision
	Steps     []Step
	Suspects  []revset.Revision // revisions that may be the culprit
	Verdict   Verdict
	Culprit   revset.Revision
	Reason    string
	StartedAt time.Time
}

func (s *SearchState) apply(step Step) {
	switch step.Label {
	case types.LabelGood:
		s.Good = step.Rev
	case types.LabelBad:
		s.Bad = step.Rev
	default:
		s.Skipped = append(s.Skipped, step.Rev)
	}
	s.Steps = append(s.Steps, step)
}

func (s *SearchState) finish(v Verdict, reason string) {
	s.Verdict = v
	s.Reason = reason
}

// JobResult is the published form of a finished search. err is the fatal
// error that ended it, if any.
func (s *SearchState) JobResult(err error) types.JobResult {
	res := types.JobResult{
		JobID:   s.JobID,
		Verdict: s.Verdict.String(),
		Culprit: string(s.Culprit),
		Reason:  s.Reason,
	}
	for _, r := range s.Suspects {
		res.Suspects = append(res.Suspects, string(r))
	}
	if err != nil {
		res.Verdict = "error"
		res.Error = err.Error()
	}
	return res
}
