package db

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"example.com/quickpay/pkg/config"
)

// ConnectRedis создаёт клиент Redis и проверяет доступность ping'ом.
func ConnectRedis(cfg config.RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ошибка ping Redis %s: %w", cfg.Addr(), err)
	}

	return rdb, nil
}
