package cache

import (
	"context"

	redis "github.com/redis/go-redis/v9"
	"github.com/skilder-ai/identity/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("cache.redis",
	fx.Provide(NewRedis),
)

// NewRedis returns a client for the configured redis, or nil when REDIS_ADDR
// is unset. Consumers treat a nil client as "redis disabled".
func NewRedis(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) *redis.Client {
	if !cfg.Redis.Enabled() {
		log.Info("redis disabled")
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	if lc != nil {
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				return client.Ping(ctx).Err()
			},
			OnStop: func(ctx context.Context) error {
				log.Info("closing redis client")
				return client.Close()
			},
		})
	}

	log.Info("redis configured", zap.String("addr", cfg.Redis.Addr), zap.Int("db", cfg.Redis.DB))
	return client
}
