package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

type AppConfig struct {
	DatabaseURL        string
	RabbitMQURL        string
	RedisSentinelHosts string
	RedisMasterName    string
	RedisUrl           string
	LogLevel           string
	ServiceName        string
	CoreCount          int

	Bisect BisectConfig
}

type BisectConfig struct {
	RepoDir         string        // local mozilla-central clone
	ShellCacheDir   string        // compiled shells and .busted markers
	KnownBrokenFile string        // optional YAML overrides for the known-broken tables
	BuildTimeout    time.Duration // per-revision compile budget
	OracleTimeout   time.Duration // per-run testcase budget
	QueueName       string
	ResultQueueName string
}

// LoadConfig reads the environment (and a .env file, if any). Nothing is
// required here; the one-shot CLI works without any backing services.
func LoadConfig() *AppConfig {
	godotenv.Load()

	home, _ := os.UserHomeDir()
	config := &AppConfig{
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		RabbitMQURL:        os.Getenv("RABBITMQ_URL"),
		RedisSentinelHosts: os.Getenv("REDIS_SENTINEL_HOSTS"),
		RedisMasterName:    os.Getenv("REDIS_MASTER"),
		RedisUrl:           os.Getenv("OVERRIDE_REDIS_URL"), // optional, for local dev
		LogLevel:           os.Getenv("LOG_LEVEL"),
		ServiceName:        os.Getenv("SERVICE_NAME"),
		CoreCount:          parseInt(os.Getenv("CORE_COUNT"), runtime.NumCPU()),
		Bisect: BisectConfig{
			RepoDir:         os.Getenv("REPO_DIR"),
			ShellCacheDir:   os.Getenv("SHELL_CACHE_DIR"),
			KnownBrokenFile: os.Getenv("KNOWN_BROKEN_FILE"),
			BuildTimeout:    parseDuration(os.Getenv("BUILD_TIMEOUT"), 90*time.Minute),
			OracleTimeout:   parseDuration(os.Getenv("ORACLE_TIMEOUT"), 60*time.Second),
			QueueName:       os.Getenv("BISECT_QUEUE"),
			ResultQueueName: os.Getenv("BISECT_RESULT_QUEUE"),
		},
	}

	if config.LogLevel == "" {
		config.LogLevel = "info" // Set default log level
	}
	if config.ServiceName == "" {
		config.ServiceName = "autobisect" // Default service name
	}
	if config.CoreCount < 1 {
		config.CoreCount = 1
	}
	if config.Bisect.RepoDir == "" && home != "" {
		config.Bisect.RepoDir = filepath.Join(home, "trees", "mozilla-central")
	}
	if config.Bisect.ShellCacheDir == "" && home != "" {
		config.Bisect.ShellCacheDir = filepath.Join(home, "shell-cache")
	}
	if config.Bisect.QueueName == "" {
		config.Bisect.QueueName = "bisect_queue"
	}
	if config.Bisect.ResultQueueName == "" {
		config.Bisect.ResultQueueName = "bisect_results"
	}

	return config
}

// LoadServiceConfig is LoadConfig for the queue-driven daemon, which cannot
// start without its database, broker and cache.
func LoadServiceConfig() *AppConfig {
	// use a temporary logger for now
	logger := zap.NewExample().Named("config")

	config := LoadConfig()
	if config.DatabaseURL == "" {
		logger.Fatal("DATABASE_URL environment variable is required")
	}
	if config.RabbitMQURL == "" {
		logger.Fatal("RABBITMQ_URL environment variable is required")
	}
	if config.RedisUrl == "" {
		if config.RedisSentinelHosts == "" {
			logger.Fatal("REDIS_SENTINEL_HOSTS environment variable is required")
		}
		if config.RedisMasterName == "" {
			logger.Fatal("REDIS_MASTER environment variable is required")
		}
	}
	return config
}

// HasDatabase reports whether run history should be persisted.
func (c *AppConfig) HasDatabase() bool { return c.DatabaseURL != "" }

// HasRedis reports whether live job status should be published.
func (c *AppConfig) HasRedis() bool {
	return c.RedisUrl != "" || (c.RedisSentinelHosts != "" && c.RedisMasterName != "")
}

func parseDuration(val string, defaultVal time.Duration) time.Duration {
	if val == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return defaultVal
	}
	return d
}

func parseInt(val string, defaultVal int) int {
	if val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return i
}
