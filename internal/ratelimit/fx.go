package ratelimit

import (
	"context"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/feedlink/internal/config"
	ledgerdomain "github.com/smallbiznis/feedlink/internal/ledger/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("rate.limit",
	fx.Provide(NewRedisClient),
	fx.Provide(provideBackend),
	fx.Provide(NewLimiter),
	fx.Provide(NewLocker),
)

// NewRedisClient returns nil when REDIS_ADDR is unset.
func NewRedisClient(lc fx.Lifecycle, cfg config.Config) *redis.Client {
	if cfg.Redis.Addr == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error { return client.Close() },
	})
	return client
}

func provideBackend(client *redis.Client, ledger ledgerdomain.Ledger, log *zap.Logger) Backend {
	if client != nil {
		log.Info("ratelimit.backend", zap.String("backend", "redis"))
		return NewRedisBackend(client)
	}
	log.Info("ratelimit.backend", zap.String("backend", "ledger"))
	return NewLedgerBackend(ledger)
}
