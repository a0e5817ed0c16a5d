package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"autobisect/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const redisPingTimeout = 5 * time.Second

type RedisParams struct {
	fx.In

	Lc     fx.Lifecycle
	Config *config.AppConfig
	Logger *zap.Logger
}

// NewRedisClient connects to the job status store, directly or through
// sentinels. It returns nil when no Redis is configured. The connection is
// checked on start and closed on stop.
func NewRedisClient(p RedisParams) (*redis.Client, error) {
	if !p.Config.HasRedis() {
		p.Logger.Debug("no redis configured, live job status disabled")
		return nil, nil
	}

	opts, err := redisOptions(p.Config)
	if err != nil {
		return nil, err
	}
	var client *redis.Client
	if opts.failover != nil {
		client = redis.NewFailoverClient(opts.failover)
	} else {
		client = redis.NewClient(opts.direct)
	}

	p.Lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, redisPingTimeout)
			defer cancel()
			if err := client.Ping(ctx).Err(); err != nil {
				return fmt.Errorf("redis %s: %w", opts.describe(), err)
			}
			p.Logger.Debug("connected to redis", zap.String("target", opts.describe()))
			return nil
		},
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return client, nil
}

type redisTarget struct {
	direct   *redis.Options
	failover *redis.FailoverOptions
}

func (t redisTarget) describe() string {
	if t.failover != nil {
		return fmt.Sprintf("master %q via %s", t.failover.MasterName, strings.Join(t.failover.SentinelAddrs, ","))
	}
	return t.direct.Addr
}

// redisOptions prefers OVERRIDE_REDIS_URL over the sentinel settings.
func redisOptions(cfg *config.AppConfig) (redisTarget, error) {
	if cfg.RedisUrl != "" {
		opts, err := redis.ParseURL(cfg.RedisUrl)
		if err != nil {
			return redisTarget{}, fmt.Errorf("parse redis url: %w", err)
		}
		return redisTarget{direct: opts}, nil
	}
	hosts := parseSentinelHosts(cfg.RedisSentinelHosts)
	if len(hosts) == 0 {
		return redisTarget{}, fmt.Errorf("no redis sentinel hosts in %q", cfg.RedisSentinelHosts)
	}
	return redisTarget{failover: &redis.FailoverOptions{
		MasterName:    cfg.RedisMasterName,
		SentinelAddrs: hosts,
	}}, nil
}

// parseSentinelHosts splits a comma-separated host list, dropping blanks.
func parseSentinelHosts(s string) []string {
	var hosts []string
	for _, h := range strings.Split(s, ",") {
		if h = strings.TrimSpace(h); h != "" {
			hosts = append(hosts, h)
		}
	}
	return hosts
}
