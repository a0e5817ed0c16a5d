package main

import (
	"path/filepath"
	"testing"
	"time"

	"autobisect/config"
	"autobisect/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOptions(t *testing.T) {
	opts, err := parseOptions([]string{
		"-s", "f273ec2ec0ae", "--end", "tip",
		"--testcase", "crash.js",
		"--compilation-failed-label", "bad",
		"--enable-debug", "--disable-profiling",
		"-i", "Assertion failure: x",
		"--timeout", "2m",
		"--", "--fuzzing-safe", "--no-threads", "--cpu-count=2",
	})
	require.NoError(t, err)

	assert.Equal(t, "f273ec2ec0ae", opts.Start)
	assert.Equal(t, "tip", opts.End)
	assert.Equal(t, "bad", opts.CompilationFailedLabel)
	assert.Equal(t, []string{"Assertion failure: x"}, opts.Interesting)
	assert.Equal(t, 2*time.Minute, opts.Timeout)
	assert.Equal(t, []string{"--fuzzing-safe", "--no-threads", "--cpu-count=2"}, opts.Args.Flags)
	assert.Equal(t, types.BuildOptions{EnableDbg: true, DisableProfiling: true}, opts.buildOptions())
}

func TestParseOptionsDefaults(t *testing.T) {
	opts, err := parseOptions([]string{"-t", "crash.js"})
	require.NoError(t, err)
	assert.Equal(t, "skip", opts.CompilationFailedLabel)
	assert.Empty(t, opts.Args.Flags)
	assert.False(t, opts.VerifyEndpoints)
}

func TestParseOptionsErrors(t *testing.T) {
	_, err := parseOptions([]string{"--start", "abc"})
	assert.Error(t, err, "testcase is required")

	_, err = parseOptions([]string{"-t", "crash.js", "--compilation-failed-label", "maybe"})
	assert.Error(t, err)
}

func TestOptionsJob(t *testing.T) {
	opts, err := parseOptions([]string{"-t", "crash.js", "--verify", "--job-id", "local-1", "--", "--ion-eager"})
	require.NoError(t, err)

	job, err := opts.job()
	require.NoError(t, err)
	assert.Equal(t, "local-1", job.JobID)
	assert.True(t, filepath.IsAbs(job.Testcase))
	assert.Equal(t, "crash.js", filepath.Base(job.Testcase))
	assert.Equal(t, []string{"--ion-eager"}, job.Flags)
	assert.True(t, job.VerifyEndpoints)
	assert.Empty(t, job.Start, "the driver picks the start")

	opts.JobID = ""
	job, err = opts.job()
	require.NoError(t, err)
	assert.NotEmpty(t, job.JobID)
}

func TestOptionsApply(t *testing.T) {
	cfg := &config.AppConfig{Bisect: config.BisectConfig{
		RepoDir:       "/env/repo",
		ShellCacheDir: "/env/cache",
		OracleTimeout: time.Minute,
		BuildTimeout:  time.Hour,
	}}

	(&Options{}).apply(cfg)
	assert.Equal(t, "/env/repo", cfg.Bisect.RepoDir)
	assert.Equal(t, time.Minute, cfg.Bisect.OracleTimeout)

	(&Options{Repo: "/cli/repo", CacheDir: "/cli/cache", Timeout: 5 * time.Second, BuildTimeout: 10 * time.Minute}).apply(cfg)
	assert.Equal(t, "/cli/repo", cfg.Bisect.RepoDir)
	assert.Equal(t, "/cli/cache", cfg.Bisect.ShellCacheDir)
	assert.Equal(t, 5*time.Second, cfg.Bisect.OracleTimeout)
	assert.Equal(t, 10*time.Minute, cfg.Bisect.BuildTimeout)
}
