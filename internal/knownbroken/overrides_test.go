package knownbroken

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"autobisect/internal/hostenv"
	"autobisect/internal/revset"
	"autobisect/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const sampleOverrides = `
broken:
  - bug: "1700000"
    first_bad: 1111111111111111111111111111111111111111
    first_good: 2222222222222222222222222222222222222222
    os: Linux
    build: debug-disabled
floors:
  - bug: "1700001"
    mode: prefix
    flags: ["--baseline-offthread-compile="]
    rev: 3333333333333333333333333333333333333333
  - bug: "1700002"
    mode: platform
    platform: FreeBSD
    rev: 4444444444444444444444444444444444444444
`

func TestLoadOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "known_broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleOverrides), 0o644))

	o, err := LoadOverrides(path)
	require.NoError(t, err)
	require.Len(t, o.Broken, 1)
	require.Len(t, o.Floors, 2)

	reg := NewRegistry(zaptest.NewLogger(t), o)
	extra := revset.Format(revset.Range("1111111111111111111111111111111111111111", "2222222222222222222222222222222222222222"))

	libc := &fakeLibc{version: "2.17"}
	ranges, err := reg.KnownBrokenRanges(context.Background(), linuxEnv(libc, "x86_64"), types.BuildOptions{})
	require.NoError(t, err)
	assert.Contains(t, formatAll(ranges), extra)

	ranges, err = reg.KnownBrokenRanges(context.Background(), linuxEnv(libc, "x86_64"), types.BuildOptions{EnableDbg: true})
	require.NoError(t, err)
	assert.NotContains(t, formatAll(ranges), extra)

	required := reg.RequiredRevisions(hostenv.Host{OS: "FreeBSD"}, []string{"--baseline-offthread-compile=off"})
	assert.Equal(t, []revset.Revision{
		"3333333333333333333333333333333333333333",
		"4444444444444444444444444444444444444444",
		absoluteFloor,
	}, required)
}

func TestLoadOverridesMissingFile(t *testing.T) {
	_, err := LoadOverrides(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestParseOverridesRejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		msg  string
	}{
		{"bad yaml", "broken: [", "parse overrides"},
		{"missing bounds", "broken:\n  - bug: x\n    first_bad: abc\n", "first_bad and first_good are required"},
		{"unknown condition", "broken:\n  - first_bad: a\n    first_good: b\n    build: sometimes\n", `unknown build condition "sometimes"`},
		{"unknown mode", "floors:\n  - mode: fuzzy\n    flags: [--x]\n    rev: a\n", `unknown mode "fuzzy"`},
		{"missing rev", "floors:\n  - flags: [--x]\n", "rev is required"},
		{"platform without platform", "floors:\n  - mode: platform\n    rev: a\n", "platform is required"},
		{"flags required", "floors:\n  - mode: any\n    rev: a\n", "flags are required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseOverrides([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestParseOverridesEmpty(t *testing.T) {
	o, err := ParseOverrides(nil)
	require.NoError(t, err)
	assert.Empty(t, o.Broken)
	assert.Empty(t, o.Floors)
}
