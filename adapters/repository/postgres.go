package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cargoflow/cargoflow/core"
)

// uniqueViolation код PostgreSQL для нарушения уникального ограничения
const uniqueViolation = "23505"

// Mapper интерфейс для преобразования между entity и database rows
type Mapper[T Entity] interface {
	ToRow(entity T) (map[string]interface{}, error)
	FromRow(row map[string]interface{}) (T, error)
}

// PostgresConfig конфигурация для PostgreSQL репозитория
type PostgresConfig struct {
	DSN        string
	TableName  string
	SchemaName string
	// UniqueKeyFunc извлекает естественный уникальный ключ сущности;
	// пустая строка означает отсутствие ключа. Конфликт по ключу
	// возвращает ALREADY_EXISTS
	UniqueKeyFunc func(row map[string]interface{}) string
}

// Validate проверяет корректность конфигурации
func (c PostgresConfig) Validate() error {
	if c.DSN == "" {
		return core.NewError(core.ErrInvalidConfig, "DSN cannot be empty")
	}
	if c.TableName == "" {
		return core.NewError(core.ErrInvalidConfig, "TableName cannot be empty")
	}
	return nil
}

// DefaultPostgresConfig возвращает конфигурацию PostgreSQL по умолчанию
func DefaultPostgresConfig() PostgresConfig {
	return PostgresConfig{
		SchemaName: "public",
	}
}

// PostgresRepository generic PostgreSQL репозиторий.
// Сущности хранятся как JSONB документы в таблицах вида
// (id text primary key, unique_key text unique, data jsonb)
type PostgresRepository[T Entity] struct {
	config PostgresConfig
	pool   *pgxpool.Pool
	mapper Mapper[T]
}

// NewPostgresRepository создает новый PostgreSQL репозиторий
func NewPostgresRepository[T Entity](pool *pgxpool.Pool, config PostgresConfig, mapper Mapper[T]) (*PostgresRepository[T], error) {
	if pool == nil {
		return nil, core.NewError(core.ErrInvalidConfig, "postgres pool is required")
	}
	if config.TableName == "" {
		return nil, core.NewError(core.ErrInvalidConfig, "TableName cannot be empty")
	}
	if config.SchemaName == "" {
		config.SchemaName = "public"
	}
	if mapper == nil {
		return nil, core.NewError(core.ErrInvalidConfig, "mapper is required")
	}

	return &PostgresRepository[T]{
		config: config,
		pool:   pool,
		mapper: mapper,
	}, nil
}

// Name возвращает имя компонента
func (p *PostgresRepository[T]) Name() string {
	return fmt.Sprintf("postgres-repository-%s", p.config.TableName)
}

// Type возвращает тип компонента
func (p *PostgresRepository[T]) Type() core.ComponentType {
	return core.ComponentTypeAdapter
}

func (p *PostgresRepository[T]) tableName() string {
	return fmt.Sprintf("%s.%s", p.config.SchemaName, p.config.TableName)
}

func (p *PostgresRepository[T]) rowData(entity T) ([]byte, string, error) {
	row, err := p.mapper.ToRow(entity)
	if err != nil {
		return nil, "", core.Wrap(err, core.ErrInvalidConfig, "failed to convert entity to row")
	}

	dataJSON, err := json.Marshal(row)
	if err != nil {
		return nil, "", core.Wrap(err, core.ErrInvalidConfig, "failed to marshal entity row")
	}

	uniqueKey := ""
	if p.config.UniqueKeyFunc != nil {
		uniqueKey = p.config.UniqueKeyFunc(row)
	}
	return dataJSON, uniqueKey, nil
}

// Insert сохраняет новую сущность; конфликт по ID или уникальному
// ключу возвращает ALREADY_EXISTS
func (p *PostgresRepository[T]) Insert(ctx context.Context, entity T) error {
	dataJSON, uniqueKey, err := p.rowData(entity)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, unique_key, data)
		VALUES ($1, NULLIF($2, ''), $3)
	`, p.tableName())

	if _, err := p.pool.Exec(ctx, query, entity.ID(), uniqueKey, dataJSON); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return core.Wrap(err, core.ErrAlreadyExists,
				fmt.Sprintf("entity already exists: %s", entity.ID()))
		}
		return core.Wrap(err, core.ErrDeliveryFailed, "failed to insert entity")
	}
	return nil
}

// Save сохраняет entity (INSERT/UPDATE)
func (p *PostgresRepository[T]) Save(ctx context.Context, entity T) error {
	dataJSON, uniqueKey, err := p.rowData(entity)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, unique_key, data)
		VALUES ($1, NULLIF($2, ''), $3)
		ON CONFLICT (id)
		DO UPDATE SET data = $3, updated_at = NOW()
	`, p.tableName())

	if _, err := p.pool.Exec(ctx, query, entity.ID(), uniqueKey, dataJSON); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return core.Wrap(err, core.ErrAlreadyExists,
				fmt.Sprintf("unique key conflict: %s", uniqueKey))
		}
		return core.Wrap(err, core.ErrDeliveryFailed, "failed to save entity")
	}
	return nil
}

// FindByID находит entity по ID
func (p *PostgresRepository[T]) FindByID(ctx context.Context, id string) (T, error) {
	var zero T

	query := fmt.Sprintf("SELECT data FROM %s WHERE id = $1", p.tableName())

	var dataJSON []byte
	err := p.pool.QueryRow(ctx, query, id).Scan(&dataJSON)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return zero, core.NewError(core.ErrNotFound, fmt.Sprintf("entity not found: %s", id))
		}
		return zero, core.Wrap(err, core.ErrDeliveryFailed, "failed to find entity")
	}

	return p.decodeRow(dataJSON)
}

// FindOneByUniqueKey находит entity по естественному уникальному ключу
func (p *PostgresRepository[T]) FindOneByUniqueKey(ctx context.Context, key string) (T, error) {
	var zero T

	query := fmt.Sprintf("SELECT data FROM %s WHERE unique_key = $1", p.tableName())

	var dataJSON []byte
	err := p.pool.QueryRow(ctx, query, key).Scan(&dataJSON)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return zero, core.NewError(core.ErrNotFound, fmt.Sprintf("entity not found by key: %s", key))
		}
		return zero, core.Wrap(err, core.ErrDeliveryFailed, "failed to find entity")
	}

	return p.decodeRow(dataJSON)
}

// FindAll возвращает все entities
func (p *PostgresRepository[T]) FindAll(ctx context.Context) ([]T, error) {
	query := fmt.Sprintf("SELECT data FROM %s", p.tableName())

	rows, err := p.pool.Query(ctx, query)
	if err != nil {
		return nil, core.Wrap(err, core.ErrDeliveryFailed, "failed to query entities")
	}
	defer rows.Close()

	var entities []T
	for rows.Next() {
		var dataJSON []byte
		if err := rows.Scan(&dataJSON); err != nil {
			return nil, core.Wrap(err, core.ErrDeliveryFailed, "failed to scan entity row")
		}

		entity, err := p.decodeRow(dataJSON)
		if err != nil {
			return nil, err
		}
		entities = append(entities, entity)
	}

	return entities, rows.Err()
}

// Delete удаляет entity
func (p *PostgresRepository[T]) Delete(ctx context.Context, id string) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE id = $1", p.tableName())

	result, err := p.pool.Exec(ctx, query, id)
	if err != nil {
		return core.Wrap(err, core.ErrDeliveryFailed, "failed to delete entity")
	}
	if result.RowsAffected() == 0 {
		return core.NewError(core.ErrNotFound, fmt.Sprintf("entity not found: %s", id))
	}
	return nil
}

func (p *PostgresRepository[T]) decodeRow(dataJSON []byte) (T, error) {
	var zero T

	var row map[string]interface{}
	if err := json.Unmarshal(dataJSON, &row); err != nil {
		return zero, core.Wrap(err, core.ErrDeliveryFailed, "failed to unmarshal entity row")
	}

	entity, err := p.mapper.FromRow(row)
	if err != nil {
		return zero, core.Wrap(err, core.ErrDeliveryFailed, "failed to convert row to entity")
	}
	return entity, nil
}
