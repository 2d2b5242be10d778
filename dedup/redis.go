package dedup

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cargoflow/cargoflow/core"
)

// RedisGuardConfig конфигурация Redis guard
type RedisGuardConfig struct {
	// KeyPrefix префикс ключей в Redis
	KeyPrefix string
	// TTL время жизни записи; после истечения событие может быть
	// обработано повторно, поэтому TTL выбирается заведомо больше
	// максимального окна повторной доставки
	TTL time.Duration
}

// DefaultRedisGuardConfig возвращает конфигурацию Redis guard по умолчанию
func DefaultRedisGuardConfig() RedisGuardConfig {
	return RedisGuardConfig{
		KeyPrefix: "cargoflow:dedup:",
		TTL:       7 * 24 * time.Hour,
	}
}

// RedisGuard реализация Guard на Redis SET NX.
// Атомарность first-writer-wins обеспечивается семантикой SETNX
type RedisGuard struct {
	client *redis.Client
	config RedisGuardConfig
}

// NewRedisGuard создает guard на Redis
func NewRedisGuard(client *redis.Client, config RedisGuardConfig) (*RedisGuard, error) {
	if client == nil {
		return nil, core.NewError(core.ErrInvalidConfig, "redis client is required")
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = DefaultRedisGuardConfig().KeyPrefix
	}
	if config.TTL <= 0 {
		config.TTL = DefaultRedisGuardConfig().TTL
	}
	return &RedisGuard{client: client, config: config}, nil
}

// Acquire регистрирует пару (routingKey, businessID) через SET NX
func (g *RedisGuard) Acquire(ctx context.Context, routingKey, businessID string) (bool, error) {
	key := g.config.KeyPrefix + dedupKey(routingKey, businessID)

	fresh, err := g.client.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339Nano), g.config.TTL).Result()
	if err != nil {
		return false, core.Wrap(err, core.ErrDeliveryFailed, "failed to acquire dedup key")
	}
	return fresh, nil
}

// Release снимает регистрацию
func (g *RedisGuard) Release(ctx context.Context, routingKey, businessID string) error {
	key := g.config.KeyPrefix + dedupKey(routingKey, businessID)

	if err := g.client.Del(ctx, key).Err(); err != nil {
		return core.Wrap(err, core.ErrDeliveryFailed, "failed to release dedup key")
	}
	return nil
}
