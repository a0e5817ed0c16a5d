package types

// Artifact is a compiled engine shell for one revision.
type Artifact struct {
	Revision  string
	ShellPath string
	Cached    bool
}

// Outcome is the oracle's classification of a built shell.
type Outcome int

const (
	Good Outcome = iota
	Bad
)

func (o Outcome) String() string {
	if o == Bad {
		return "bad"
	}
	return "good"
}

// TestResult is an Outcome and what decided it, e.g. the matched assertion.
type TestResult struct {
	Outcome Outcome
	Reason  string
}
