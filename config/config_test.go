package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadConfigDefaults(t *testing.T) {
	for _, key := range []string{
		"DATABASE_URL", "RABBITMQ_URL", "REDIS_SENTINEL_HOSTS", "REDIS_MASTER", "OVERRIDE_REDIS_URL",
		"LOG_LEVEL", "SERVICE_NAME", "CORE_COUNT", "BUILD_TIMEOUT", "ORACLE_TIMEOUT",
		"BISECT_QUEUE", "BISECT_RESULT_QUEUE",
	} {
		t.Setenv(key, "")
	}
	t.Setenv("HOME", "/home/fuzz")
	t.Setenv("REPO_DIR", "")
	t.Setenv("SHELL_CACHE_DIR", "")

	c := LoadConfig()
	assert.Equal(t, "info", c.LogLevel)
	assert.Equal(t, "autobisect", c.ServiceName)
	assert.GreaterOrEqual(t, c.CoreCount, 1)
	assert.Equal(t, "/home/fuzz/trees/mozilla-central", c.Bisect.RepoDir)
	assert.Equal(t, "/home/fuzz/shell-cache", c.Bisect.ShellCacheDir)
	assert.Equal(t, 90*time.Minute, c.Bisect.BuildTimeout)
	assert.Equal(t, time.Minute, c.Bisect.OracleTimeout)
	assert.Equal(t, "bisect_queue", c.Bisect.QueueName)
	assert.False(t, c.HasDatabase())
	assert.False(t, c.HasRedis())
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("CORE_COUNT", "4")
	t.Setenv("BUILD_TIMEOUT", "20m")
	t.Setenv("ORACLE_TIMEOUT", "not-a-duration")
	t.Setenv("REPO_DIR", "/src/m-c")
	t.Setenv("KNOWN_BROKEN_FILE", "/etc/autobisect/known_broken.yaml")
	t.Setenv("DATABASE_URL", "postgres://localhost/bisect")
	t.Setenv("OVERRIDE_REDIS_URL", "redis://localhost:6379/0")

	c := LoadConfig()
	assert.Equal(t, "debug", c.LogLevel)
	assert.Equal(t, 4, c.CoreCount)
	assert.Equal(t, 20*time.Minute, c.Bisect.BuildTimeout)
	assert.Equal(t, time.Minute, c.Bisect.OracleTimeout, "invalid durations fall back to the default")
	assert.Equal(t, "/src/m-c", c.Bisect.RepoDir)
	assert.Equal(t, "/etc/autobisect/known_broken.yaml", c.Bisect.KnownBrokenFile)
	assert.True(t, c.HasDatabase())
	assert.True(t, c.HasRedis())
}

func TestHasRedisSentinel(t *testing.T) {
	c := &AppConfig{RedisSentinelHosts: "a:26379,b:26379"}
	assert.False(t, c.HasRedis())
	c.RedisMasterName = "mymaster"
	assert.True(t, c.HasRedis())
}
