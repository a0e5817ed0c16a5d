package types

import (
	"fmt"
	"strings"
)

// BuildOptions selects how an engine shell is configured and compiled.
type BuildOptions struct {
	EnableDbg               bool `json:"enable_debug" yaml:"enable_debug"`
	EnableOpt               bool `json:"enable_optimize" yaml:"enable_optimize"`
	DisableProfiling        bool `json:"disable_profiling" yaml:"disable_profiling"`
	EnableMoreDeterministic bool `json:"enable_more_deterministic" yaml:"enable_more_deterministic"`
	EnableSimulatorArm32    bool `json:"enable_simulator_arm32" yaml:"enable_simulator_arm32"`
}

// ConfigureArgs returns the js/src/configure arguments for these options.
func (o BuildOptions) ConfigureArgs() []string {
	var args []string
	if o.EnableDbg {
		args = append(args, "--enable-debug")
	} else {
		args = append(args, "--disable-debug")
	}
	if o.EnableOpt {
		args = append(args, "--enable-optimize")
	} else {
		args = append(args, "--disable-optimize")
	}
	if o.DisableProfiling {
		args = append(args, "--disable-profiling")
	}
	if o.EnableMoreDeterministic {
		args = append(args, "--enable-more-deterministic")
	}
	if o.EnableSimulatorArm32 {
		args = append(args, "--enable-simulator=arm", "--target=i686-pc-linux")
	}
	return append(args, "--enable-gczeal", "--enable-valgrind", "--without-intl-api")
}

// ShellName names a compiled shell for the shell cache, e.g. js-dbg-optDisabled-32-armSim-dm-f273ec2ec0ae.
func (o BuildOptions) ShellName(rev string) string {
	parts := []string{"js"}
	if o.EnableDbg {
		parts = append(parts, "dbg")
	}
	if !o.EnableOpt {
		parts = append(parts, "optDisabled")
	}
	if o.EnableSimulatorArm32 {
		parts = append(parts, "32", "armSim")
	} else {
		parts = append(parts, "64")
	}
	if o.DisableProfiling {
		parts = append(parts, "profDisabled")
	}
	if o.EnableMoreDeterministic {
		parts = append(parts, "dm")
	}
	if len(rev) > 12 {
		rev = rev[:12]
	}
	return strings.Join(append(parts, rev), "-")
}

// Label is what a revision that failed to compile counts as.
type Label string

const (
	LabelSkip Label = "skip"
	LabelBad  Label = "bad"
	LabelGood Label = "good"
)

func ParseLabel(s string) (Label, error) {
	switch l := Label(strings.ToLower(s)); l {
	case LabelSkip, LabelBad, LabelGood:
		return l, nil
	case "":
		return LabelSkip, nil
	}
	return "", fmt.Errorf("unknown compilation failed label %q", s)
}
