package knownbroken

import (
	"fmt"
	"os"

	"autobisect/internal/revset"

	"gopkg.in/yaml.v3"
)

// Overrides extends the built-in tables from a YAML file, e.g.
//
//	broken:
//	  - bug: "1700000"
//	    first_bad: 1111111111111111111111111111111111111111
//	    first_good: 2222222222222222222222222222222222222222
//	    os: Linux
//	    build: debug-disabled
//	floors:
//	  - bug: "1700001"
//	    mode: prefix
//	    flags: ["--baseline-offthread-compile="]
//	    rev: 3333333333333333333333333333333333333333
type Overrides struct {
	Broken []BrokenOverride `yaml:"broken"`
	Floors []FloorOverride  `yaml:"floors"`
}

type BrokenOverride struct {
	Bug       string `yaml:"bug"`
	FirstBad  string `yaml:"first_bad"`
	FirstGood string `yaml:"first_good"`
	OS        string `yaml:"os"`
	Arch      string `yaml:"arch"`
	Build     string `yaml:"build"`
	MinLibc   string `yaml:"min_libc"`
}

type FloorOverride struct {
	Bug      string   `yaml:"bug"`
	Mode     string   `yaml:"mode"`
	Flags    []string `yaml:"flags"`
	Platform string   `yaml:"platform"`
	Rev      string   `yaml:"rev"`
}

var buildConditions = map[string]BuildCondition{
	"":                   Always,
	"always":             Always,
	"debug-disabled":     DebugDisabled,
	"profiling-enabled":  ProfilingEnabled,
	"more-deterministic": MoreDeterministic,
	"simulator-arm32":    SimulatorArm32,
}

var matchModes = map[string]MatchMode{
	"":         MatchExact,
	"exact":    MatchExact,
	"prefix":   MatchPrefix,
	"any":      MatchAny,
	"platform": MatchPlatform,
}

// LoadOverrides reads and validates an overrides file.
func LoadOverrides(path string) (*Overrides, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read overrides: %w", err)
	}
	return ParseOverrides(data)
}

func ParseOverrides(data []byte) (*Overrides, error) {
	var o Overrides
	if err := yaml.Unmarshal(data, &o); err != nil {
		return nil, fmt.Errorf("parse overrides: %w", err)
	}
	for i, b := range o.Broken {
		if b.FirstBad == "" || b.FirstGood == "" {
			return nil, fmt.Errorf("broken[%d]: first_bad and first_good are required", i)
		}
		if _, ok := buildConditions[b.Build]; !ok {
			return nil, fmt.Errorf("broken[%d]: unknown build condition %q", i, b.Build)
		}
	}
	for i, f := range o.Floors {
		mode, ok := matchModes[f.Mode]
		if !ok {
			return nil, fmt.Errorf("floors[%d]: unknown mode %q", i, f.Mode)
		}
		if f.Rev == "" {
			return nil, fmt.Errorf("floors[%d]: rev is required", i)
		}
		if mode == MatchPlatform && f.Platform == "" {
			return nil, fmt.Errorf("floors[%d]: platform is required", i)
		}
		if mode != MatchPlatform && len(f.Flags) == 0 {
			return nil, fmt.Errorf("floors[%d]: flags are required", i)
		}
	}
	return &o, nil
}

func (o *Overrides) brokenEntries() []BrokenEntry {
	entries := make([]BrokenEntry, 0, len(o.Broken))
	for _, b := range o.Broken {
		entries = append(entries, BrokenEntry{
			Bug:     b.Bug,
			Range:   revset.Range(revset.Revision(b.FirstBad), revset.Revision(b.FirstGood)),
			OS:      b.OS,
			Arch:    b.Arch,
			Build:   buildConditions[b.Build],
			MinLibc: b.MinLibc,
		})
	}
	return entries
}

func (o *Overrides) flagConstraints() []FlagConstraint {
	constraints := make([]FlagConstraint, 0, len(o.Floors))
	for _, f := range o.Floors {
		constraints = append(constraints, FlagConstraint{
			Bug:      f.Bug,
			Mode:     matchModes[f.Mode],
			Flags:    f.Flags,
			Platform: f.Platform,
			Rev:      revset.Revision(f.Rev),
		})
	}
	return constraints
}
