package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cargoflow/cargoflow/adapters/repository"
	"github.com/cargoflow/cargoflow/core"
)

// Store хранилище складского сервиса
type Store interface {
	InsertWarehouse(ctx context.Context, w *Warehouse) error
	ListWarehouses(ctx context.Context) ([]*Warehouse, error)
	FindWarehouseByCode(ctx context.Context, code string) (*Warehouse, error)

	InsertItem(ctx context.Context, item *Item) error
	SaveItem(ctx context.Context, item *Item) error
	// ListItems возвращает позиции; пустой warehouseID отключает фильтр
	ListItems(ctx context.Context, warehouseID string) ([]*Item, error)
	FindBySKU(ctx context.Context, sku string) ([]*Item, error)
	FindItem(ctx context.Context, warehouseID, sku string) (*Item, error)
	FindByItemID(ctx context.Context, itemID string) (*Item, error)
	LowStockItems(ctx context.Context) ([]*Item, error)

	// InsertTransaction сохраняет операцию; конфликт естественного
	// ключа reserve/release возвращает ALREADY_EXISTS
	InsertTransaction(ctx context.Context, t *Transaction) error
	FindReservations(ctx context.Context, orderNumber string) ([]*Transaction, error)
}

// InMemoryStore хранилище складского сервиса в памяти
type InMemoryStore struct {
	warehouses   *repository.InMemoryRepository[*Warehouse]
	items        *repository.InMemoryRepository[*Item]
	transactions *repository.InMemoryRepository[*Transaction]
}

// NewInMemoryStore создает складское хранилище в памяти
func NewInMemoryStore() *InMemoryStore {
	warehouses := repository.NewInMemoryRepository[*Warehouse](repository.DefaultInMemoryConfig())
	warehouses.AddUniqueIndex("code", func(w *Warehouse) string { return w.Code })

	items := repository.NewInMemoryRepository[*Item](repository.DefaultInMemoryConfig())
	items.AddUniqueIndex("warehouse_sku", func(i *Item) string {
		return i.WarehouseID + ":" + i.SKU
	})
	items.AddIndex("sku", func(i *Item) string { return i.SKU })

	transactions := repository.NewInMemoryRepository[*Transaction](repository.DefaultInMemoryConfig())
	transactions.AddUniqueIndex("natural_key", func(t *Transaction) string { return t.NaturalKey() })
	transactions.AddIndex("order_number", func(t *Transaction) string { return t.OrderNumber })

	return &InMemoryStore{
		warehouses:   warehouses,
		items:        items,
		transactions: transactions,
	}
}

// InsertWarehouse сохраняет склад
func (s *InMemoryStore) InsertWarehouse(ctx context.Context, w *Warehouse) error {
	return s.warehouses.Insert(ctx, w)
}

// ListWarehouses возвращает все склады
func (s *InMemoryStore) ListWarehouses(ctx context.Context) ([]*Warehouse, error) {
	return s.warehouses.FindAll(ctx)
}

// FindWarehouseByCode находит склад по коду
func (s *InMemoryStore) FindWarehouseByCode(ctx context.Context, code string) (*Warehouse, error) {
	return s.warehouses.FindOneByIndex(ctx, "code", code)
}

// InsertItem сохраняет новую позицию
func (s *InMemoryStore) InsertItem(ctx context.Context, item *Item) error {
	return s.items.Insert(ctx, item)
}

// SaveItem сохраняет позицию
func (s *InMemoryStore) SaveItem(ctx context.Context, item *Item) error {
	return s.items.Save(ctx, item)
}

// ListItems возвращает позиции склада
func (s *InMemoryStore) ListItems(ctx context.Context, warehouseID string) ([]*Item, error) {
	return s.items.Find(ctx, func(i *Item) bool {
		return warehouseID == "" || i.WarehouseID == warehouseID
	})
}

// FindBySKU возвращает позиции с указанным SKU по всем складам
func (s *InMemoryStore) FindBySKU(ctx context.Context, sku string) ([]*Item, error) {
	return s.items.FindByIndex(ctx, "sku", sku)
}

// FindItem находит позицию по складу и SKU
func (s *InMemoryStore) FindItem(ctx context.Context, warehouseID, sku string) (*Item, error) {
	return s.items.FindOneByIndex(ctx, "warehouse_sku", warehouseID+":"+sku)
}

// FindByItemID находит позицию по идентификатору
func (s *InMemoryStore) FindByItemID(ctx context.Context, itemID string) (*Item, error) {
	return s.items.FindByID(ctx, itemID)
}

// LowStockItems возвращает позиции с остатком на уровне пополнения
func (s *InMemoryStore) LowStockItems(ctx context.Context) ([]*Item, error) {
	return s.items.Find(ctx, func(i *Item) bool { return i.LowStock() })
}

// InsertTransaction сохраняет операцию
func (s *InMemoryStore) InsertTransaction(ctx context.Context, t *Transaction) error {
	return s.transactions.Insert(ctx, t)
}

// FindReservations возвращает резервы заказа
func (s *InMemoryStore) FindReservations(ctx context.Context, orderNumber string) ([]*Transaction, error) {
	all, err := s.transactions.FindByIndex(ctx, "order_number", orderNumber)
	if err != nil {
		return nil, err
	}
	var reservations []*Transaction
	for _, t := range all {
		if t.Type == TransactionReserve {
			reservations = append(reservations, t)
		}
	}
	return reservations, nil
}

// PostgresStore хранилище складского сервиса в PostgreSQL
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore создает складское хранилище в PostgreSQL
func NewPostgresStore(pool *pgxpool.Pool) (*PostgresStore, error) {
	if pool == nil {
		return nil, core.NewError(core.ErrInvalidConfig, "postgres pool is required")
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) insert(ctx context.Context, table, id, uniqueKey string, entity interface{}) error {
	data, err := json.Marshal(entity)
	if err != nil {
		return core.Wrap(err, core.ErrInvalidConfig, "failed to marshal entity")
	}

	query := fmt.Sprintf(
		`INSERT INTO %s (id, unique_key, data) VALUES ($1, NULLIF($2, ''), $3)`, table)
	if _, err := s.pool.Exec(ctx, query, id, uniqueKey, data); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return core.Wrap(err, core.ErrAlreadyExists,
				fmt.Sprintf("entity already exists in %s: %s", table, uniqueKey))
		}
		return core.Wrap(err, core.ErrDeliveryFailed, fmt.Sprintf("failed to insert into %s", table))
	}
	return nil
}

func (s *PostgresStore) save(ctx context.Context, table, id, uniqueKey string, entity interface{}) error {
	data, err := json.Marshal(entity)
	if err != nil {
		return core.Wrap(err, core.ErrInvalidConfig, "failed to marshal entity")
	}

	query := fmt.Sprintf(
		`INSERT INTO %s (id, unique_key, data) VALUES ($1, NULLIF($2, ''), $3)
		 ON CONFLICT (id) DO UPDATE SET data = $3, updated_at = NOW()`, table)
	if _, err := s.pool.Exec(ctx, query, id, uniqueKey, data); err != nil {
		return core.Wrap(err, core.ErrDeliveryFailed, fmt.Sprintf("failed to save into %s", table))
	}
	return nil
}

// InsertWarehouse сохраняет склад
func (s *PostgresStore) InsertWarehouse(ctx context.Context, w *Warehouse) error {
	return s.insert(ctx, "warehouses", w.WarehouseID, w.Code, w)
}

// ListWarehouses возвращает все склады
func (s *PostgresStore) ListWarehouses(ctx context.Context) ([]*Warehouse, error) {
	return queryMany[Warehouse](ctx, s.pool, `SELECT data FROM warehouses`)
}

// FindWarehouseByCode находит склад по коду
func (s *PostgresStore) FindWarehouseByCode(ctx context.Context, code string) (*Warehouse, error) {
	return queryOne[Warehouse](ctx, s.pool,
		`SELECT data FROM warehouses WHERE unique_key = $1`, code)
}

// InsertItem сохраняет новую позицию
func (s *PostgresStore) InsertItem(ctx context.Context, item *Item) error {
	return s.insert(ctx, "inventory_items", item.ItemID, item.WarehouseID+":"+item.SKU, item)
}

// SaveItem сохраняет позицию
func (s *PostgresStore) SaveItem(ctx context.Context, item *Item) error {
	return s.save(ctx, "inventory_items", item.ItemID, item.WarehouseID+":"+item.SKU, item)
}

// ListItems возвращает позиции склада
func (s *PostgresStore) ListItems(ctx context.Context, warehouseID string) ([]*Item, error) {
	if warehouseID == "" {
		return queryMany[Item](ctx, s.pool, `SELECT data FROM inventory_items`)
	}
	return queryMany[Item](ctx, s.pool,
		`SELECT data FROM inventory_items WHERE data->>'warehouse_id' = $1`, warehouseID)
}

// FindBySKU возвращает позиции с указанным SKU по всем складам
func (s *PostgresStore) FindBySKU(ctx context.Context, sku string) ([]*Item, error) {
	return queryMany[Item](ctx, s.pool,
		`SELECT data FROM inventory_items WHERE data->>'sku' = $1`, sku)
}

// FindItem находит позицию по складу и SKU
func (s *PostgresStore) FindItem(ctx context.Context, warehouseID, sku string) (*Item, error) {
	return queryOne[Item](ctx, s.pool,
		`SELECT data FROM inventory_items WHERE unique_key = $1`, warehouseID+":"+sku)
}

// FindByItemID находит позицию по идентификатору
func (s *PostgresStore) FindByItemID(ctx context.Context, itemID string) (*Item, error) {
	return queryOne[Item](ctx, s.pool,
		`SELECT data FROM inventory_items WHERE id = $1`, itemID)
}

// LowStockItems возвращает позиции с остатком на уровне пополнения
func (s *PostgresStore) LowStockItems(ctx context.Context) ([]*Item, error) {
	return queryMany[Item](ctx, s.pool,
		`SELECT data FROM inventory_items
		 WHERE (data->>'quantity')::int - (data->>'reserved_quantity')::int
		       <= (data->>'reorder_level')::int`)
}

// InsertTransaction сохраняет операцию
func (s *PostgresStore) InsertTransaction(ctx context.Context, t *Transaction) error {
	return s.insert(ctx, "inventory_transactions", t.TransactionID, t.NaturalKey(), t)
}

// FindReservations возвращает резервы заказа
func (s *PostgresStore) FindReservations(ctx context.Context, orderNumber string) ([]*Transaction, error) {
	return queryMany[Transaction](ctx, s.pool,
		`SELECT data FROM inventory_transactions
		 WHERE data->>'order_number' = $1 AND data->>'transaction_type' = 'reserve'`,
		orderNumber)
}

func queryOne[T any](ctx context.Context, pool *pgxpool.Pool, query string, args ...interface{}) (*T, error) {
	var data []byte
	err := pool.QueryRow(ctx, query, args...).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, core.NewError(core.ErrNotFound, "entity not found")
		}
		return nil, core.Wrap(err, core.ErrDeliveryFailed, "failed to query entity")
	}

	var entity T
	if err := json.Unmarshal(data, &entity); err != nil {
		return nil, core.Wrap(err, core.ErrDeliveryFailed, "failed to unmarshal entity")
	}
	return &entity, nil
}

func queryMany[T any](ctx context.Context, pool *pgxpool.Pool, query string, args ...interface{}) ([]*T, error) {
	rows, err := pool.Query(ctx, query, args...)
	if err != nil {
		return nil, core.Wrap(err, core.ErrDeliveryFailed, "failed to query entities")
	}
	defer rows.Close()

	var entities []*T
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, core.Wrap(err, core.ErrDeliveryFailed, "failed to scan entity row")
		}
		var entity T
		if err := json.Unmarshal(data, &entity); err != nil {
			return nil, core.Wrap(err, core.ErrDeliveryFailed, "failed to unmarshal entity")
		}
		entities = append(entities, &entity)
	}
	return entities, rows.Err()
}
