package hg

import (
	"context"
	"testing"

	"autobisect/internal/revset"
	"autobisect/internal/tool"
	"autobisect/internal/tool/tooltest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestEvaluate(t *testing.T) {
	runner := tooltest.NewRunner().Reply("hg", 0, "aaaa\nbbbb\n\n", "")
	repo := NewRepo("/src/mozilla-central", runner, zaptest.NewLogger(t))

	revs, err := repo.Evaluate(context.Background(), revset.Range("aaaa", "cccc"))
	require.NoError(t, err)
	assert.Equal(t, []revset.Revision{"aaaa", "bbbb"}, revs)

	require.Len(t, runner.Calls, 1)
	assert.Equal(t, []string{
		"-R", "/src/mozilla-central", "log",
		"-r", "(descendants(id(aaaa))-descendants(id(cccc)))",
		"--template", "{node}\n",
	}, runner.Calls[0].Args)
}

func TestEvaluateEmpty(t *testing.T) {
	runner := tooltest.NewRunner().Reply("hg", 0, "", "")
	repo := NewRepo("repo", runner, zaptest.NewLogger(t))

	revs, err := repo.Evaluate(context.Background(), revset.Rev("deadbeef"))
	require.NoError(t, err)
	assert.Empty(t, revs)
}

func TestEvaluateFault(t *testing.T) {
	runner := tooltest.NewRunner().Reply("hg", 255, "", "abort: unknown revision 'nope'!\n")
	repo := NewRepo("repo", runner, zaptest.NewLogger(t))

	_, err := repo.Evaluate(context.Background(), revset.Symbol("nope"))
	var fault *tool.FaultError
	require.ErrorAs(t, err, &fault)
	assert.Equal(t, 255, fault.ExitCode)
	assert.Contains(t, fault.Stderr, "unknown revision")
}

func TestUpdate(t *testing.T) {
	runner := tooltest.NewRunner().Reply("hg", 0, "", "")
	repo := NewRepo("repo", runner, zaptest.NewLogger(t))

	require.NoError(t, repo.Update(context.Background(), "f273ec2ec0aecce1938a78f01925764d02af2ad2"))
	assert.Equal(t, []string{"-R", "repo", "update", "-C", "-r", "f273ec2ec0aecce1938a78f01925764d02af2ad2"}, runner.Calls[0].Args)
}

func TestDescribe(t *testing.T) {
	runner := tooltest.NewRunner().Reply("hg", 0, "f273ec2ec0ae Bug 1587098 - Weak refs\n", "")
	repo := NewRepo("repo", runner, zaptest.NewLogger(t))

	desc, err := repo.Describe(context.Background(), "f273ec2ec0aecce1938a78f01925764d02af2ad2")
	require.NoError(t, err)
	assert.Equal(t, "f273ec2ec0ae Bug 1587098 - Weak refs", desc)
}

func TestIsRepo(t *testing.T) {
	ok, err := IsRepo(context.Background(), tooltest.NewRunner().Reply("hg", 0, "/src\n", ""), "/src")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = IsRepo(context.Background(), tooltest.NewRunner().Reply("hg", 255, "", "abort: no repository found"), "/tmp")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = IsRepo(context.Background(), tooltest.NewRunner(), "/tmp")
	assert.Error(t, err)
}
