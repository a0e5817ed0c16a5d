package knownbroken

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"autobisect/internal/hostenv"
	"autobisect/internal/revset"
	"autobisect/internal/revset/revsettest"
	"autobisect/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeLibc struct {
	version string
	err     error
	calls   int
}

func (f *fakeLibc) LibcVersion(context.Context) (string, error) {
	f.calls++
	return f.version, f.err
}

var glibcRange = revset.Range("e8d4a24e47a943db327206a4680fb75c156f9086", "7b85bf9c5210e5679fa6cfad92466a6e2ba30232")

func linuxEnv(libc *fakeLibc, arch string) Environment {
	return Environment{Host: hostenv.Host{OS: hostenv.Linux, Arch: arch}, Libc: libc}
}

func formatAll(exprs []revset.Expr) []string {
	out := make([]string, len(exprs))
	for i, e := range exprs {
		out[i] = revset.Format(e)
	}
	return out
}

func TestKnownBrokenRangesLinuxGlibc(t *testing.T) {
	reg := NewRegistry(zaptest.NewLogger(t), nil)
	ctx := context.Background()

	t.Run("glibc 2.30 includes the 2.28+ range", func(t *testing.T) {
		libc := &fakeLibc{version: "2.30"}
		ranges, err := reg.KnownBrokenRanges(ctx, linuxEnv(libc, "x86_64"), types.BuildOptions{EnableDbg: true})
		require.NoError(t, err)
		assert.Contains(t, formatAll(ranges), revset.Format(glibcRange))
		assert.Equal(t, 1, libc.calls)
	})

	t.Run("glibc 2.27 does not", func(t *testing.T) {
		libc := &fakeLibc{version: "2.27"}
		ranges, err := reg.KnownBrokenRanges(ctx, linuxEnv(libc, "x86_64"), types.BuildOptions{EnableDbg: true})
		require.NoError(t, err)
		assert.NotContains(t, formatAll(ranges), revset.Format(glibcRange))
		assert.Equal(t, 1, libc.calls)
	})

	t.Run("probe failure is fatal", func(t *testing.T) {
		probeErr := errors.New("ldd exploded")
		libc := &fakeLibc{err: probeErr}
		ranges, err := reg.KnownBrokenRanges(ctx, linuxEnv(libc, "x86_64"), types.BuildOptions{})
		require.ErrorIs(t, err, probeErr)
		assert.Nil(t, ranges)
	})
}

func TestKnownBrokenRangesPlatforms(t *testing.T) {
	reg := NewRegistry(zaptest.NewLogger(t), nil)
	ctx := context.Background()
	dbg := types.BuildOptions{EnableDbg: true, DisableProfiling: true}

	aarch64 := revset.Format(revset.Range("e8bb22053e65e2a82456e9243a07af023a8ebb13", "999757e9e5a576c884201746546a3420a92f7447"))
	darwin := revset.Format(revset.Range("3d0236f985f83c6b2f4800f814c004e0a2902468", "32cef42080b1f7443dfe767652ea44e0dafbfd9c"))
	windows := revset.Format(revset.Range("0ae96da6fdb236f70579eb2ca10cbe3cf992aa1f", "130b1fe87279432128efd58fda9d9d452f55a466"))

	t.Run("unconditional entries only", func(t *testing.T) {
		libc := &fakeLibc{}
		ranges, err := reg.KnownBrokenRanges(ctx, Environment{Host: hostenv.Host{OS: "FreeBSD"}, Libc: libc}, dbg)
		require.NoError(t, err)
		assert.Len(t, ranges, 11)
		assert.Zero(t, libc.calls, "libc is only probed on Linux")
	})

	t.Run("darwin", func(t *testing.T) {
		libc := &fakeLibc{}
		ranges, err := reg.KnownBrokenRanges(ctx, Environment{Host: hostenv.Host{OS: hostenv.Darwin, Arch: "arm64"}, Libc: libc}, dbg)
		require.NoError(t, err)
		got := formatAll(ranges)
		assert.Contains(t, got, darwin)
		assert.NotContains(t, got, aarch64)
		assert.NotContains(t, got, windows)
		assert.Zero(t, libc.calls)
	})

	t.Run("aarch64 only under linux", func(t *testing.T) {
		ranges, err := reg.KnownBrokenRanges(ctx, linuxEnv(&fakeLibc{version: "2.17"}, "aarch64"), dbg)
		require.NoError(t, err)
		assert.Contains(t, formatAll(ranges), aarch64)

		ranges, err = reg.KnownBrokenRanges(ctx, linuxEnv(&fakeLibc{version: "2.17"}, "x86_64"), dbg)
		require.NoError(t, err)
		assert.NotContains(t, formatAll(ranges), aarch64)
	})

	t.Run("windows", func(t *testing.T) {
		ranges, err := reg.KnownBrokenRanges(ctx, Environment{Host: hostenv.Host{OS: hostenv.Windows}}, dbg)
		require.NoError(t, err)
		assert.Contains(t, formatAll(ranges), windows)
	})
}

func TestKnownBrokenRangesBuildOptions(t *testing.T) {
	reg := NewRegistry(zaptest.NewLogger(t), nil)
	ctx := context.Background()
	env := Environment{Host: hostenv.Host{OS: hostenv.Windows}}

	count := func(opts types.BuildOptions) int {
		ranges, err := reg.KnownBrokenRanges(ctx, env, opts)
		require.NoError(t, err)
		return len(ranges)
	}

	base := count(types.BuildOptions{EnableDbg: true})
	assert.Equal(t, base+3, count(types.BuildOptions{}), "opt builds add three ranges")
	assert.Equal(t, base+2, count(types.BuildOptions{EnableDbg: true, EnableMoreDeterministic: true}))
	assert.Equal(t, base+4, count(types.BuildOptions{EnableDbg: true, EnableSimulatorArm32: true}))

	libc := &fakeLibc{version: "2.17"}
	linux := linuxEnv(libc, "x86_64")
	withProfiling, err := reg.KnownBrokenRanges(ctx, linux, types.BuildOptions{EnableDbg: true})
	require.NoError(t, err)
	withoutProfiling, err := reg.KnownBrokenRanges(ctx, linux, types.BuildOptions{EnableDbg: true, DisableProfiling: true})
	require.NoError(t, err)
	assert.Len(t, withProfiling, len(withoutProfiling)+1)
}

func TestKnownBrokenRangesDeterministic(t *testing.T) {
	reg := NewRegistry(zaptest.NewLogger(t), nil)
	ctx := context.Background()
	opts := types.BuildOptions{EnableMoreDeterministic: true}

	first, err := reg.KnownBrokenRanges(ctx, linuxEnv(&fakeLibc{version: "2.31"}, "aarch64"), opts)
	require.NoError(t, err)
	for range 5 {
		again, err := reg.KnownBrokenRanges(ctx, linuxEnv(&fakeLibc{version: "2.31"}, "aarch64"), opts)
		require.NoError(t, err)
		assert.Equal(t, formatAll(first), formatAll(again))
	}
}

// floorHistory places every floor revision on one linear history in
// mozilla-central order with filler changesets in between.
func floorHistory() *revsettest.Graph {
	floors := []revset.Revision{
		"bb868860dfc35876d2d9c421c037c75a4fb9b3d2",
		"1b55231e6628e70f0c2ee2b2cb40a1e9861ac4b4",
		"b1dc87a94262c1bf2747d2bf560e21af5deb3174",
		"a98f615965d73f6462924188fc2b1f2a620337bb",
		"321c29f4850882a2f0220a4dc041c53992c47992",
		"302befe7689abad94a75f66ded82d5e71b558dc4",
		"6b7ace4745e30ba914ea8350bfc7fa12f2980c54",
		"c6a8b4d451afa922c4838bd202749c7e131cf05e",
		"450b8f0cbb4e494b399ebcf23a33b8d9cb883245",
		"48dc14f79fb0a51ca796257a4179fe6f16b71b14",
		"7a1ad6647c22bd34a6c70e67dc26e5b83f71cea4",
		"2e490776b07e35013ae07a47798a983f482ffaa3",
		"d84743fd31a19e9fed54722203ad3222af993fa8",
		"fbcb7dcd82acfc9196c0dfd60e28248c25a4583b",
		"f273ec2ec0aecce1938a78f01925764d02af2ad2",
		"a0d1fb0a86b04c74a8809c35230382f90cdfe779",
	}
	var revs []revset.Revision
	revs = append(revs, "root")
	for i, f := range floors {
		revs = append(revs, f, revset.Revision(fmt.Sprintf("filler%02d", i)))
	}
	return revsettest.Linear(revs...)
}

func evalFloor(t *testing.T, g *revsettest.Graph, reg *Registry, env Environment, flags []string) revset.Revision {
	t.Helper()
	ctx := context.Background()
	skip, err := reg.KnownBrokenRanges(ctx, env, types.BuildOptions{EnableDbg: true})
	require.NoError(t, err)
	expr, err := reg.EarliestKnownWorkingRev(env, flags, revset.Union(skip...))
	require.NoError(t, err)
	got, err := g.Evaluate(ctx, expr)
	require.NoError(t, err)
	require.Len(t, got, 1, revset.Format(expr))
	return got[0]
}

func TestEarliestKnownWorkingRevScenarios(t *testing.T) {
	reg := NewRegistry(zaptest.NewLogger(t), nil)
	g := floorHistory()

	t.Run("no flags on linux is the absolute floor", func(t *testing.T) {
		env := linuxEnv(&fakeLibc{version: "2.30"}, "x86_64")
		assert.Equal(t, []revset.Revision{absoluteFloor}, reg.RequiredRevisions(env.Host, nil))
		assert.Equal(t, absoluteFloor, evalFloor(t, g, reg, env, nil))
	})

	t.Run("weak refs floor", func(t *testing.T) {
		env := linuxEnv(&fakeLibc{version: "2.30"}, "x86_64")
		got := evalFloor(t, g, reg, env, []string{"--enable-weak-refs"})
		assert.Equal(t, revset.Revision("f273ec2ec0aecce1938a78f01925764d02af2ad2"), got)
		assert.Equal(t, "f273ec2ec0ae", got.Short())
	})

	t.Run("windows imposes a floor without flags", func(t *testing.T) {
		env := Environment{Host: hostenv.Host{OS: hostenv.Windows}}
		got := evalFloor(t, g, reg, env, nil)
		assert.Equal(t, revset.Revision("fbcb7dcd82acfc9196c0dfd60e28248c25a4583b"), got)
	})

	t.Run("all matches collected, not first match", func(t *testing.T) {
		env := Environment{Host: hostenv.Host{OS: hostenv.Windows}}
		required := reg.RequiredRevisions(env.Host, []string{"--cpu-count=2", "--enable-weak-refs", "--no-blinterp"})
		assert.Equal(t, []revset.Revision{
			"f273ec2ec0aecce1938a78f01925764d02af2ad2",
			"fbcb7dcd82acfc9196c0dfd60e28248c25a4583b",
			"2e490776b07e35013ae07a47798a983f482ffaa3",
			"1b55231e6628e70f0c2ee2b2cb40a1e9861ac4b4",
			absoluteFloor,
		}, required)
	})

	t.Run("expression shape", func(t *testing.T) {
		env := Environment{Host: hostenv.Host{OS: "FreeBSD"}}
		expr, err := reg.EarliestKnownWorkingRev(env, []string{"--wasm-gc"}, revset.Range("aaa", "bbb"))
		require.NoError(t, err)
		assert.Equal(t,
			"first(((descendants(id(302befe7689abad94a75f66ded82d5e71b558dc4)) and "+
				"descendants(id(bb868860dfc35876d2d9c421c037c75a4fb9b3d2)))-"+
				"(descendants(id(aaa))-descendants(id(bbb)))))",
			revset.Format(expr))
	})
}

func TestFlagMatchModes(t *testing.T) {
	host := hostenv.Host{OS: hostenv.Linux}
	tests := []struct {
		name  string
		c     FlagConstraint
		flags []string
		want  bool
	}{
		{"exact hit", FlagConstraint{Mode: MatchExact, Flags: []string{"--wasm-gc"}}, []string{"--wasm-gc"}, true},
		{"exact is not prefix", FlagConstraint{Mode: MatchExact, Flags: []string{"--wasm-gc"}}, []string{"--wasm-gc=1"}, false},
		{"exact either value", FlagConstraint{Mode: MatchExact, Flags: []string{"--x=on", "--x=off"}}, []string{"--x=off"}, true},
		{"prefix with value", FlagConstraint{Mode: MatchPrefix, Flags: []string{"--cpu-count="}}, []string{"--cpu-count=4"}, true},
		{"prefix miss", FlagConstraint{Mode: MatchPrefix, Flags: []string{"--cpu-count="}}, []string{"--cpu-count"}, false},
		{"any intersects", FlagConstraint{Mode: MatchAny, Flags: []string{"--a", "--b"}}, []string{"--c", "--b"}, true},
		{"any disjoint", FlagConstraint{Mode: MatchAny, Flags: []string{"--a", "--b"}}, []string{"--c"}, false},
		{"platform", FlagConstraint{Mode: MatchPlatform, Platform: hostenv.Linux}, nil, true},
		{"other platform", FlagConstraint{Mode: MatchPlatform, Platform: hostenv.Darwin}, []string{"--a"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.c.matches(host, tt.flags))
		})
	}
}

func TestFloorIsMonotonicInFlags(t *testing.T) {
	reg := NewRegistry(zaptest.NewLogger(t), nil)
	g := floorHistory()
	env := Environment{Host: hostenv.Host{OS: "FreeBSD"}}

	pool := []string{
		"--enable-weak-refs",
		"--cpu-count=4",
		"--no-blinterp",
		"--wasm-compiler=ion",
		"--no-streams",
		"--nursery-strings=on",
		"--spectre-mitigations=off",
		"--unrelated-flag",
	}

	floors := make(map[int]int, 1<<len(pool))
	for mask := range 1 << len(pool) {
		var flags []string
		for i, f := range pool {
			if mask&(1<<i) != 0 {
				flags = append(flags, f)
			}
		}
		floors[mask] = g.Index(evalFloor(t, g, reg, env, flags))
	}

	for sub := range floors {
		for super := range floors {
			if sub&super == sub {
				assert.GreaterOrEqual(t, floors[super], floors[sub], "flags %b must not lower the floor of %b", super, sub)
			}
		}
	}
}

func TestCheckHost(t *testing.T) {
	assert.NoError(t, CheckHost(hostenv.Host{OS: hostenv.Linux}))
	assert.NoError(t, CheckHost(hostenv.Host{OS: hostenv.Darwin, OSVersion: "10.13"}))
	assert.NoError(t, CheckHost(hostenv.Host{OS: hostenv.Darwin, OSVersion: "13.4.1"}))
	assert.ErrorIs(t, CheckHost(hostenv.Host{OS: hostenv.Darwin, OSVersion: "10.12.6"}), ErrUnsupportedHost)
	assert.ErrorIs(t, CheckHost(hostenv.Host{OS: hostenv.Darwin, OSVersion: ""}), ErrUnsupportedHost)

	reg := NewRegistry(zaptest.NewLogger(t), nil)
	_, err := reg.EarliestKnownWorkingRev(Environment{Host: hostenv.Host{OS: hostenv.Darwin, OSVersion: "10.11"}}, nil, nil)
	assert.ErrorIs(t, err, ErrUnsupportedHost)
}
