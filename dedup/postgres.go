package dedup

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cargoflow/cargoflow/core"
)

// PostgresGuard реализация Guard на таблице processed_events.
// Атомарность обеспечивается уникальным ограничением и
// INSERT ... ON CONFLICT DO NOTHING
type PostgresGuard struct {
	pool *pgxpool.Pool
}

// NewPostgresGuard создает guard на Postgres
func NewPostgresGuard(pool *pgxpool.Pool) (*PostgresGuard, error) {
	if pool == nil {
		return nil, core.NewError(core.ErrInvalidConfig, "postgres pool is required")
	}
	return &PostgresGuard{pool: pool}, nil
}

// Acquire регистрирует пару (routingKey, businessID)
func (g *PostgresGuard) Acquire(ctx context.Context, routingKey, businessID string) (bool, error) {
	tag, err := g.pool.Exec(ctx,
		`INSERT INTO processed_events (routing_key, business_id, processed_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (routing_key, business_id) DO NOTHING`,
		routingKey, businessID)
	if err != nil {
		return false, core.Wrap(err, core.ErrDeliveryFailed, "failed to acquire dedup key")
	}
	return tag.RowsAffected() == 1, nil
}

// Release снимает регистрацию
func (g *PostgresGuard) Release(ctx context.Context, routingKey, businessID string) error {
	_, err := g.pool.Exec(ctx,
		`DELETE FROM processed_events WHERE routing_key = $1 AND business_id = $2`,
		routingKey, businessID)
	if err != nil {
		return core.Wrap(err, core.ErrDeliveryFailed, "failed to release dedup key")
	}
	return nil
}
