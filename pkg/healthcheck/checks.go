// Package healthcheck — проверки зависимостей для readiness probe (/readyz).
package healthcheck

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Check — одна проверка зависимости.
type Check func(ctx context.Context) error

// CheckMySQL пингует MySQL через пул GORM.
func CheckMySQL(ctx context.Context, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("mysql: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("mysql ping: %w", err)
	}
	return nil
}

// CheckRedis пингует Redis.
func CheckRedis(ctx context.Context, rdb redis.UniversalClient) error {
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// MySQL оборачивает CheckMySQL в Check.
func MySQL(db *gorm.DB) Check {
	return func(ctx context.Context) error { return CheckMySQL(ctx, db) }
}

// Redis оборачивает CheckRedis в Check.
func Redis(rdb redis.UniversalClient) Check {
	return func(ctx context.Context) error { return CheckRedis(ctx, rdb) }
}

// Composite выполняет проверки по порядку и возвращает первую ошибку.
func Composite(checks ...Check) Check {
	return func(ctx context.Context) error {
		for _, check := range checks {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}
