package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cargoflow/cargoflow/adapters/repository"
	"github.com/cargoflow/cargoflow/core"
)

// indexOrderNumber имя уникального индекса по номеру заказа
const indexOrderNumber = "order_number"

// Store хранилище заказов
type Store interface {
	Insert(ctx context.Context, o *Order) error
	Save(ctx context.Context, o *Order) error
	FindByID(ctx context.Context, id string) (*Order, error)
	FindByNumber(ctx context.Context, number string) (*Order, error)
	// List возвращает страницу заказов (свежие первыми) и общее число
	// подходящих под фильтр; пустой status отключает фильтр
	List(ctx context.Context, status Status, offset, limit int) ([]*Order, int, error)
	// CountByStatus возвращает количество заказов в каждом статусе
	CountByStatus(ctx context.Context) (map[Status]int, error)
}

// InMemoryStore хранилище заказов в памяти
type InMemoryStore struct {
	repo *repository.InMemoryRepository[*Order]
}

// NewInMemoryStore создает хранилище заказов в памяти
func NewInMemoryStore() *InMemoryStore {
	repo := repository.NewInMemoryRepository[*Order](repository.DefaultInMemoryConfig())
	repo.AddUniqueIndex(indexOrderNumber, func(o *Order) string { return o.OrderNumber })
	repo.AddIndex("status", func(o *Order) string { return string(o.Status) })
	return &InMemoryStore{repo: repo}
}

// Insert сохраняет новый заказ
func (s *InMemoryStore) Insert(ctx context.Context, o *Order) error {
	return s.repo.Insert(ctx, o)
}

// Save сохраняет заказ
func (s *InMemoryStore) Save(ctx context.Context, o *Order) error {
	return s.repo.Save(ctx, o)
}

// FindByID находит заказ по идентификатору
func (s *InMemoryStore) FindByID(ctx context.Context, id string) (*Order, error) {
	return s.repo.FindByID(ctx, id)
}

// FindByNumber находит заказ по номеру
func (s *InMemoryStore) FindByNumber(ctx context.Context, number string) (*Order, error) {
	return s.repo.FindOneByIndex(ctx, indexOrderNumber, number)
}

// List возвращает страницу заказов
func (s *InMemoryStore) List(ctx context.Context, status Status, offset, limit int) ([]*Order, int, error) {
	all, err := s.repo.Find(ctx, func(o *Order) bool {
		return status == "" || o.Status == status
	})
	if err != nil {
		return nil, 0, err
	}

	sort.Slice(all, func(i, j int) bool {
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	total := len(all)
	if offset >= total {
		return []*Order{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

// CountByStatus возвращает количество заказов в каждом статусе
func (s *InMemoryStore) CountByStatus(ctx context.Context) (map[Status]int, error) {
	all, err := s.repo.FindAll(ctx)
	if err != nil {
		return nil, err
	}
	counts := make(map[Status]int)
	for _, o := range all {
		counts[o.Status]++
	}
	return counts, nil
}

// PostgresStore хранилище заказов в PostgreSQL.
// Заказ хранится как JSONB документ, уникальность номера обеспечивает
// колонка unique_key
type PostgresStore struct {
	pool  *pgxpool.Pool
	table string
}

// NewPostgresStore создает хранилище заказов в PostgreSQL
func NewPostgresStore(pool *pgxpool.Pool) (*PostgresStore, error) {
	if pool == nil {
		return nil, core.NewError(core.ErrInvalidConfig, "postgres pool is required")
	}
	return &PostgresStore{pool: pool, table: "orders"}, nil
}

// Insert сохраняет новый заказ
func (s *PostgresStore) Insert(ctx context.Context, o *Order) error {
	data, err := json.Marshal(o)
	if err != nil {
		return core.Wrap(err, core.ErrInvalidConfig, "failed to marshal order")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO orders (id, unique_key, data) VALUES ($1, $2, $3)`,
		o.OrderID, o.OrderNumber, data)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return core.Wrap(err, core.ErrAlreadyExists,
				fmt.Sprintf("order already exists: %s", o.OrderNumber))
		}
		return core.Wrap(err, core.ErrDeliveryFailed, "failed to insert order")
	}
	return nil
}

// Save сохраняет заказ
func (s *PostgresStore) Save(ctx context.Context, o *Order) error {
	data, err := json.Marshal(o)
	if err != nil {
		return core.Wrap(err, core.ErrInvalidConfig, "failed to marshal order")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO orders (id, unique_key, data) VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO UPDATE SET data = $3, updated_at = NOW()`,
		o.OrderID, o.OrderNumber, data)
	if err != nil {
		return core.Wrap(err, core.ErrDeliveryFailed, "failed to save order")
	}
	return nil
}

// FindByID находит заказ по идентификатору
func (s *PostgresStore) FindByID(ctx context.Context, id string) (*Order, error) {
	return s.queryOne(ctx, `SELECT data FROM orders WHERE id = $1`, id)
}

// FindByNumber находит заказ по номеру
func (s *PostgresStore) FindByNumber(ctx context.Context, number string) (*Order, error) {
	return s.queryOne(ctx, `SELECT data FROM orders WHERE unique_key = $1`, number)
}

// List возвращает страницу заказов
func (s *PostgresStore) List(ctx context.Context, status Status, offset, limit int) ([]*Order, int, error) {
	filter := ""
	args := []interface{}{}
	if status != "" {
		filter = `WHERE data->>'status' = $1`
		args = append(args, string(status))
	}

	var total int
	countQuery := fmt.Sprintf(`SELECT count(*) FROM orders %s`, filter)
	if err := s.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, core.Wrap(err, core.ErrDeliveryFailed, "failed to count orders")
	}

	query := fmt.Sprintf(
		`SELECT data FROM orders %s ORDER BY data->>'created_at' DESC OFFSET $%d LIMIT $%d`,
		filter, len(args)+1, len(args)+2)
	args = append(args, offset, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, core.Wrap(err, core.ErrDeliveryFailed, "failed to query orders")
	}
	defer rows.Close()

	var orders []*Order
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, 0, core.Wrap(err, core.ErrDeliveryFailed, "failed to scan order row")
		}
		var o Order
		if err := json.Unmarshal(data, &o); err != nil {
			return nil, 0, core.Wrap(err, core.ErrDeliveryFailed, "failed to unmarshal order")
		}
		orders = append(orders, &o)
	}
	return orders, total, rows.Err()
}

// CountByStatus возвращает количество заказов в каждом статусе
func (s *PostgresStore) CountByStatus(ctx context.Context) (map[Status]int, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT data->>'status', count(*) FROM orders GROUP BY data->>'status'`)
	if err != nil {
		return nil, core.Wrap(err, core.ErrDeliveryFailed, "failed to count orders by status")
	}
	defer rows.Close()

	counts := make(map[Status]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, core.Wrap(err, core.ErrDeliveryFailed, "failed to scan status count")
		}
		counts[Status(status)] = count
	}
	return counts, rows.Err()
}

func (s *PostgresStore) queryOne(ctx context.Context, query string, arg interface{}) (*Order, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, query, arg).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, core.NewError(core.ErrNotFound, fmt.Sprintf("order not found: %v", arg))
		}
		return nil, core.Wrap(err, core.ErrDeliveryFailed, "failed to query order")
	}

	var o Order
	if err := json.Unmarshal(data, &o); err != nil {
		return nil, core.Wrap(err, core.ErrDeliveryFailed, "failed to unmarshal order")
	}
	return &o, nil
}
