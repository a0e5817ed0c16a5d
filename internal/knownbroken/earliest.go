package knownbroken

import (
	"fmt"
	"slices"
	"strings"

	"autobisect/internal/hostenv"
	"autobisect/internal/revset"

	"go.uber.org/zap"
)

// MatchMode is how a FlagConstraint tests the active shell flags. Entries keep
// the mode they were written with; the modes are not interchangeable.
type MatchMode int

const (
	// MatchExact: one of Flags appears verbatim.
	MatchExact MatchMode = iota
	// MatchPrefix: some active flag starts with Flags[0], for flags carrying a value.
	MatchPrefix
	// MatchAny: the active flags intersect the set Flags.
	MatchAny
	// MatchPlatform: the host OS equals Platform, whatever the flags.
	MatchPlatform
)

// FlagConstraint is the first revision that supports a flag (or a platform).
type FlagConstraint struct {
	Bug      string
	Mode     MatchMode
	Flags    []string
	Platform string
	Rev      revset.Revision
}

func (c FlagConstraint) matches(host hostenv.Host, flags []string) bool {
	switch c.Mode {
	case MatchExact:
		for _, want := range c.Flags {
			if slices.Contains(flags, want) {
				return true
			}
		}
	case MatchPrefix:
		for _, f := range flags {
			if strings.HasPrefix(f, c.Flags[0]) {
				return true
			}
		}
	case MatchAny:
		return slices.ContainsFunc(flags, func(f string) bool { return slices.Contains(c.Flags, f) })
	case MatchPlatform:
		return host.OS == c.Platform
	}
	return false
}

// absoluteFloor is the first revision with the revised template literals
// (bug 1317375, m-c 330353 Fx53).
const absoluteFloor revset.Revision = "bb868860dfc35876d2d9c421c037c75a4fb9b3d2"

// Newest first.
var flagConstraints = []FlagConstraint{
	{Bug: "1530372", Mode: MatchExact, Flags: []string{"--nursery-bigints=on", "--nursery-bigints=off"},
		Rev: "a0d1fb0a86b04c74a8809c35230382f90cdfe779"}, // m-c 509086 Fx74
	{Bug: "1587098", Mode: MatchExact, Flags: []string{"--enable-weak-refs"},
		Rev: "f273ec2ec0aecce1938a78f01925764d02af2ad2"}, // m-c 500139 Fx72
	// working Windows builds with a recent Win10 SDK and Rust 1.38+
	{Bug: "windows-sdk", Mode: MatchPlatform, Platform: hostenv.Windows,
		Rev: "fbcb7dcd82acfc9196c0dfd60e28248c25a4583b"}, // m-c 497927 Fx71
	{Bug: "1580378", Mode: MatchExact, Flags: []string{"--parser-deferred-alloc"},
		Rev: "d84743fd31a19e9fed54722203ad3222af993fa8"}, // m-c 494269 Fx71
	// also the first with blinterp in-tree test fixes
	{Bug: "1562129", Mode: MatchAny, Flags: []string{"--blinterp-eager", "--no-blinterp", "--blinterp"},
		Rev: "2e490776b07e35013ae07a47798a983f482ffaa3"}, // m-c 481620 Fx69
	{Bug: "1529758", Mode: MatchExact, Flags: []string{"--enable-experimental-fields"},
		Rev: "7a1ad6647c22bd34a6c70e67dc26e5b83f71cea4"}, // m-c 463705 Fx67
	{Bug: "1509441", Mode: MatchAny, Flags: []string{
		"--wasm-compiler=none", "--wasm-compiler=baseline+ion", "--wasm-compiler=baseline",
		"--wasm-compiler=ion", "--wasm-compiler=cranelift"},
		Rev: "48dc14f79fb0a51ca796257a4179fe6f16b71b14"}, // m-c 455252 Fx66
	{Bug: "1518753", Mode: MatchExact, Flags: []string{"--more-compartments"},
		Rev: "450b8f0cbb4e494b399ebcf23a33b8d9cb883245"}, // m-c 453627 Fx66
	{Bug: "1501734", Mode: MatchExact, Flags: []string{"--no-streams"},
		Rev: "c6a8b4d451afa922c4838bd202749c7e131cf05e"}, // m-c 442977 Fx65
	// successful Xcode 10.3 builds
	{Bug: "1270217", Mode: MatchPlatform, Platform: hostenv.Darwin,
		Rev: "6b7ace4745e30ba914ea8350bfc7fa12f2980c54"}, // m-c 420996 Fx62
	{Bug: "1445272", Mode: MatchExact, Flags: []string{"--wasm-gc"},
		Rev: "302befe7689abad94a75f66ded82d5e71b558dc4"}, // m-c 413255 Fx61
	{Bug: "903519", Mode: MatchExact, Flags: []string{"--nursery-strings=on", "--nursery-strings=off"},
		Rev: "321c29f4850882a2f0220a4dc041c53992c47992"}, // m-c 406115 Fx60
	{Bug: "1430053", Mode: MatchExact, Flags: []string{"--spectre-mitigations=on", "--spectre-mitigations=off"},
		Rev: "a98f615965d73f6462924188fc2b1f2a620337bb"}, // m-c 399868 Fx59
	{Bug: "1388785", Mode: MatchExact, Flags: []string{"--test-wasm-await-tier2"},
		Rev: "b1dc87a94262c1bf2747d2bf560e21af5deb3174"}, // m-c 387188 Fx58
	{Bug: "1206770", Mode: MatchPrefix, Flags: []string{"--cpu-count="},
		Rev: "1b55231e6628e70f0c2ee2b2cb40a1e9861ac4b4"}, // m-c 380023 Fx57
}

// CheckHost fails with ErrUnsupportedHost on Darwin releases older than
// MinDarwinVersion.
func CheckHost(host hostenv.Host) error {
	if host.OS != hostenv.Darwin {
		return nil
	}
	ok, err := hostenv.AtLeast(host.OSVersion, MinDarwinVersion)
	if err != nil {
		return fmt.Errorf("%w: macOS version %q: %v", ErrUnsupportedHost, host.OSVersion, err)
	}
	if !ok {
		return fmt.Errorf("%w: macOS %s is older than %s", ErrUnsupportedHost, host.OSVersion, MinDarwinVersion)
	}
	return nil
}

// RequiredRevisions lists the floor of every constraint matching host and
// flags, in table order, followed by the absolute floor.
func (r *Registry) RequiredRevisions(host hostenv.Host, flags []string) []revset.Revision {
	var required []revset.Revision
	for _, c := range r.constraints {
		if c.matches(host, flags) {
			required = append(required, c.Rev)
		}
	}
	return append(required, r.floor)
}

// EarliestKnownWorkingRev returns an expression for the first revision that
// descends from every matching floor and is outside skip. Floors are
// intersected, so adding flags can only move the result later.
func (r *Registry) EarliestKnownWorkingRev(env Environment, flags []string, skip revset.Expr) (revset.Expr, error) {
	if err := CheckHost(env.Host); err != nil {
		return nil, err
	}

	required := r.RequiredRevisions(env.Host, flags)
	r.logger.Debug("flag floors",
		zap.Strings("flags", flags),
		zap.Int("matched", len(required)-1))

	common := revset.CommonDescendants(required...)
	if skip == nil {
		return revset.First(common), nil
	}
	return revset.First(revset.Difference(common, skip)), nil
}
