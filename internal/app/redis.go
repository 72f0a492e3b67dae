package app

import (
	"context"
	"time"

	"admission-gateway/internal/circuitbreaker"
	"admission-gateway/internal/common/logging"
	"admission-gateway/internal/common/utils"
	"admission-gateway/internal/config"
	"admission-gateway/internal/redis"
)

// ConnectStore opens the shared store, retrying with backoff up to
// cfg.ConnectAttempts times.
func ConnectStore(ctx context.Context, cfg *config.Config, logger logging.Logger) (*redis.Client, error) {
	redisConfig := &redis.Config{
		Address:   cfg.RedisAddress,
		Password:  cfg.RedisPassword,
		DB:        cfg.RedisDB,
		PoolSize:  cfg.RedisPoolSize,
		OpTimeout: cfg.StoreTimeout,
		Breaker: circuitbreaker.Config{
			MaxFailures:           cfg.BreakerMaxFailures,
			Timeout:               cfg.BreakerTimeout,
			MaxConcurrentRequests: 1,
		},
	}

	retry := utils.DefaultRetryConfig()
	retry.MaxAttempts = cfg.ConnectAttempts
	retry.OnRetry = func(attempt int, delay time.Duration, err error) {
		logger.Warn("Redis: connection failed, retrying",
			logging.String("address", cfg.RedisAddress),
			logging.Int("attempt", attempt),
			logging.Duration("retry_in", delay),
			logging.Err(err),
		)
	}

	var client *redis.Client
	err := utils.RetryWithBackoff(ctx, retry, func() error {
		var err error
		client, err = redis.NewClient(redisConfig, logger)
		return err
	})
	if err != nil {
		return nil, err
	}
	return client, nil
}

func (app *App) initializeRedis() error {
	redisClient, err := ConnectStore(context.Background(), app.Config, app.Logger)
	if err != nil {
		return err
	}

	app.RedisClient = redisClient
	app.Logger.Info("Redis: Connected",
		logging.String("address", app.Config.RedisAddress),
		logging.Duration("op_timeout", app.Config.StoreTimeout),
	)
	return nil
}
