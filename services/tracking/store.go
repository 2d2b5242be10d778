package tracking

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

// Store хранилище сервиса отслеживания
type Store interface {
	// InsertShipment сохраняет отправление; повторный номер заказа
	// возвращает ALREADY_EXISTS
	InsertShipment(ctx context.Context, s *Shipment) error
	SaveShipment(ctx context.Context, s *Shipment) error
	FindByID(ctx context.Context, id string) (*Shipment, error)
	FindByTrackingNumber(ctx context.Context, trackingNumber string) (*Shipment, error)
	FindByOrderNumber(ctx context.Context, orderNumber string) (*Shipment, error)
	List(ctx context.Context, status ShipmentStatus, offset, limit int) ([]*Shipment, int, error)
	CountByStatus(ctx context.Context) (map[ShipmentStatus]int, error)

	InsertEvent(ctx context.Context, e *TrackingEvent) error
	// FindEvents возвращает журнал отправления, свежие записи первыми
	FindEvents(ctx context.Context, shipmentID string) ([]*TrackingEvent, error)
}

// InMemoryStore хранилище отслеживания в памяти
type InMemoryStore struct {
	shipments *repository.InMemoryRepository[*Shipment]
	events    *repository.InMemoryRepository[*TrackingEvent]
}

// NewInMemoryStore создает хранилище отслеживания в памяти
func NewInMemoryStore() *InMemoryStore {
	shipments := repository.NewInMemoryRepository[*Shipment](repository.DefaultInMemoryConfig())
	shipments.AddUniqueIndex("order_number", func(s *Shipment) string { return s.OrderNumber })
	shipments.AddUniqueIndex("tracking_number", func(s *Shipment) string { return s.TrackingNumber })
	shipments.AddIndex("status", func(s *Shipment) string { return string(s.Status) })

	events := repository.NewInMemoryRepository[*TrackingEvent](repository.DefaultInMemoryConfig())
	events.AddIndex("shipment_id", func(e *TrackingEvent) string { return e.ShipmentID })

	return &InMemoryStore{shipments: shipments, events: events}
}

// InsertShipment сохраняет отправление
func (s *InMemoryStore) InsertShipment(ctx context.Context, sh *Shipment) error {
	return s.shipments.Insert(ctx, sh)
}

// SaveShipment сохраняет отправление
func (s *InMemoryStore) SaveShipment(ctx context.Context, sh *Shipment) error {
	return s.shipments.Save(ctx, sh)
}

// FindByID находит отправление по идентификатору
func (s *InMemoryStore) FindByID(ctx context.Context, id string) (*Shipment, error) {
	return s.shipments.FindByID(ctx, id)
}

// FindByTrackingNumber находит отправление по номеру отслеживания
func (s *InMemoryStore) FindByTrackingNumber(ctx context.Context, trackingNumber string) (*Shipment, error) {
	return s.shipments.FindOneByIndex(ctx, "tracking_number", trackingNumber)
}

// FindByOrderNumber находит отправление по номеру заказа
func (s *InMemoryStore) FindByOrderNumber(ctx context.Context, orderNumber string) (*Shipment, error) {
	return s.shipments.FindOneByIndex(ctx, "order_number", orderNumber)
}

// List возвращает страницу отправлений
func (s *InMemoryStore) List(ctx context.Context, status ShipmentStatus, offset, limit int) ([]*Shipment, int, error) {
	all, err := s.shipments.Find(ctx, func(sh *Shipment) bool {
		return status == "" || sh.Status == status
	})
	if err != nil {
		return nil, 0, err
	}

	sort.Slice(all, func(i, j int) bool {
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	total := len(all)
	if offset >= total {
		return []*Shipment{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

// CountByStatus возвращает количество отправлений в каждом статусе
func (s *InMemoryStore) CountByStatus(ctx context.Context) (map[ShipmentStatus]int, error) {
	all, err := s.shipments.FindAll(ctx)
	if err != nil {
		return nil, err
	}
	counts := make(map[ShipmentStatus]int)
	for _, sh := range all {
		counts[sh.Status]++
	}
	return counts, nil
}

// InsertEvent сохраняет запись журнала
func (s *InMemoryStore) InsertEvent(ctx context.Context, e *TrackingEvent) error {
	return s.events.Insert(ctx, e)
}

// FindEvents возвращает журнал отправления
func (s *InMemoryStore) FindEvents(ctx context.Context, shipmentID string) ([]*TrackingEvent, error) {
	events, err := s.events.FindByIndex(ctx, "shipment_id", shipmentID)
	if err != nil {
		return nil, err
	}
	sort.Slice(events, func(i, j int) bool {
		return events[i].Timestamp.After(events[j].Timestamp)
	})
	return events, nil
}

// PostgresStore хранилище отслеживания в PostgreSQL
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore создает хранилище отслеживания в PostgreSQL
func NewPostgresStore(pool *pgxpool.Pool) (*PostgresStore, error) {
	if pool == nil {
		return nil, core.NewError(core.ErrInvalidConfig, "postgres pool is required")
	}
	return &PostgresStore{pool: pool}, nil
}

// InsertShipment сохраняет отправление
func (s *PostgresStore) InsertShipment(ctx context.Context, sh *Shipment) error {
	data, err := json.Marshal(sh)
	if err != nil {
		return core.Wrap(err, core.ErrInvalidConfig, "failed to marshal shipment")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO shipments (id, unique_key, data) VALUES ($1, $2, $3)`,
		sh.ShipmentID, sh.OrderNumber, data)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return core.Wrap(err, core.ErrAlreadyExists,
				fmt.Sprintf("shipment already exists for order %s", sh.OrderNumber))
		}
		return core.Wrap(err, core.ErrDeliveryFailed, "failed to insert shipment")
	}
	return nil
}

// SaveShipment сохраняет отправление
func (s *PostgresStore) SaveShipment(ctx context.Context, sh *Shipment) error {
	data, err := json.Marshal(sh)
	if err != nil {
		return core.Wrap(err, core.ErrInvalidConfig, "failed to marshal shipment")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO shipments (id, unique_key, data) VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO UPDATE SET data = $3, updated_at = NOW()`,
		sh.ShipmentID, sh.OrderNumber, data)
	if err != nil {
		return core.Wrap(err, core.ErrDeliveryFailed, "failed to save shipment")
	}
	return nil
}

// FindByID находит отправление по идентификатору
func (s *PostgresStore) FindByID(ctx context.Context, id string) (*Shipment, error) {
	return s.queryShipment(ctx, `SELECT data FROM shipments WHERE id = $1`, id)
}

// FindByTrackingNumber находит отправление по номеру отслеживания
func (s *PostgresStore) FindByTrackingNumber(ctx context.Context, trackingNumber string) (*Shipment, error) {
	return s.queryShipment(ctx,
		`SELECT data FROM shipments WHERE data->>'tracking_number' = $1`, trackingNumber)
}

// FindByOrderNumber находит отправление по номеру заказа
func (s *PostgresStore) FindByOrderNumber(ctx context.Context, orderNumber string) (*Shipment, error) {
	return s.queryShipment(ctx, `SELECT data FROM shipments WHERE unique_key = $1`, orderNumber)
}

// List возвращает страницу отправлений
func (s *PostgresStore) List(ctx context.Context, status ShipmentStatus, offset, limit int) ([]*Shipment, int, error) {
	filter := ""
	args := []interface{}{}
	if status != "" {
		filter = `WHERE data->>'status' = $1`
		args = append(args, string(status))
	}

	var total int
	countQuery := fmt.Sprintf(`SELECT count(*) FROM shipments %s`, filter)
	if err := s.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, core.Wrap(err, core.ErrDeliveryFailed, "failed to count shipments")
	}

	query := fmt.Sprintf(
		`SELECT data FROM shipments %s ORDER BY data->>'created_at' DESC OFFSET $%d LIMIT $%d`,
		filter, len(args)+1, len(args)+2)
	args = append(args, offset, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, core.Wrap(err, core.ErrDeliveryFailed, "failed to query shipments")
	}
	defer rows.Close()

	var shipments []*Shipment
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, 0, core.Wrap(err, core.ErrDeliveryFailed, "failed to scan shipment row")
		}
		var sh Shipment
		if err := json.Unmarshal(data, &sh); err != nil {
			return nil, 0, core.Wrap(err, core.ErrDeliveryFailed, "failed to unmarshal shipment")
		}
		shipments = append(shipments, &sh)
	}
	return shipments, total, rows.Err()
}

// CountByStatus возвращает количество отправлений в каждом статусе
func (s *PostgresStore) CountByStatus(ctx context.Context) (map[ShipmentStatus]int, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT data->>'status', count(*) FROM shipments GROUP BY data->>'status'`)
	if err != nil {
		return nil, core.Wrap(err, core.ErrDeliveryFailed, "failed to count shipments by status")
	}
	defer rows.Close()

	counts := make(map[ShipmentStatus]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, core.Wrap(err, core.ErrDeliveryFailed, "failed to scan status count")
		}
		counts[ShipmentStatus(status)] = count
	}
	return counts, rows.Err()
}

// InsertEvent сохраняет запись журнала
func (s *PostgresStore) InsertEvent(ctx context.Context, e *TrackingEvent) error {
	data, err := json.Marshal(e)
	if err != nil {
		return core.Wrap(err, core.ErrInvalidConfig, "failed to marshal tracking event")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO tracking_events (id, data) VALUES ($1, $2)`,
		e.EventID, data)
	if err != nil {
		return core.Wrap(err, core.ErrDeliveryFailed, "failed to insert tracking event")
	}
	return nil
}

// FindEvents возвращает журнал отправления
func (s *PostgresStore) FindEvents(ctx context.Context, shipmentID string) ([]*TrackingEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT data FROM tracking_events
		 WHERE data->>'shipment_id' = $1
		 ORDER BY data->>'timestamp' DESC`, shipmentID)
	if err != nil {
		return nil, core.Wrap(err, core.ErrDeliveryFailed, "failed to query tracking events")
	}
	defer rows.Close()

	var events []*TrackingEvent
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, core.Wrap(err, core.ErrDeliveryFailed, "failed to scan tracking event")
		}
		var e TrackingEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, core.Wrap(err, core.ErrDeliveryFailed, "failed to unmarshal tracking event")
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}

func (s *PostgresStore) queryShipment(ctx context.Context, query string, arg interface{}) (*Shipment, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, query, arg).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, core.NewError(core.ErrNotFound, fmt.Sprintf("shipment not found: %v", arg))
		}
		return nil, core.Wrap(err, core.ErrDeliveryFailed, "failed to query shipment")
	}

	var sh Shipment
	if err := json.Unmarshal(data, &sh); err != nil {
		return nil, core.Wrap(err, core.ErrDeliveryFailed, "failed to unmarshal shipment")
	}
	return &sh, nil
}
