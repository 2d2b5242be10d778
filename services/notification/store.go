package notification

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

// Store хранилище сервиса уведомлений
type Store interface {
	// Insert сохраняет уведомление; повторный натуральный ключ
	// возвращает ALREADY_EXISTS
	Insert(ctx context.Context, n *Notification) error
	Save(ctx context.Context, n *Notification) error
	FindByID(ctx context.Context, id string) (*Notification, error)
	List(ctx context.Context, status Status, offset, limit int) ([]*Notification, int, error)
	CountByStatus(ctx context.Context) (map[Status]int, error)
}

// InMemoryStore хранилище уведомлений в памяти
type InMemoryStore struct {
	notifications *repository.InMemoryRepository[*Notification]
}

// NewInMemoryStore создает хранилище уведомлений в памяти
func NewInMemoryStore() *InMemoryStore {
	notifications := repository.NewInMemoryRepository[*Notification](repository.DefaultInMemoryConfig())
	notifications.AddUniqueIndex("natural_key", func(n *Notification) string { return n.NaturalKey })
	notifications.AddIndex("status", func(n *Notification) string { return string(n.Status) })
	return &InMemoryStore{notifications: notifications}
}

// Insert сохраняет уведомление
func (s *InMemoryStore) Insert(ctx context.Context, n *Notification) error {
	return s.notifications.Insert(ctx, n)
}

// Save сохраняет уведомление
func (s *InMemoryStore) Save(ctx context.Context, n *Notification) error {
	return s.notifications.Save(ctx, n)
}

// FindByID находит уведомление по идентификатору
func (s *InMemoryStore) FindByID(ctx context.Context, id string) (*Notification, error) {
	return s.notifications.FindByID(ctx, id)
}

// List возвращает страницу уведомлений, свежие первыми
func (s *InMemoryStore) List(ctx context.Context, status Status, offset, limit int) ([]*Notification, int, error) {
	all, err := s.notifications.Find(ctx, func(n *Notification) bool {
		return status == "" || n.Status == status
	})
	if err != nil {
		return nil, 0, err
	}

	sort.Slice(all, func(i, j int) bool {
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	total := len(all)
	if offset >= total {
		return []*Notification{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

// CountByStatus возвращает количество уведомлений в каждом статусе
func (s *InMemoryStore) CountByStatus(ctx context.Context) (map[Status]int, error) {
	all, err := s.notifications.FindAll(ctx)
	if err != nil {
		return nil, err
	}
	counts := make(map[Status]int)
	for _, n := range all {
		counts[n.Status]++
	}
	return counts, nil
}

// PostgresStore хранилище уведомлений в PostgreSQL
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore создает хранилище уведомлений в PostgreSQL
func NewPostgresStore(pool *pgxpool.Pool) (*PostgresStore, error) {
	if pool == nil {
		return nil, core.NewError(core.ErrInvalidConfig, "postgres pool is required")
	}
	return &PostgresStore{pool: pool}, nil
}

// Insert сохраняет уведомление
func (s *PostgresStore) Insert(ctx context.Context, n *Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return core.Wrap(err, core.ErrInvalidConfig, "failed to marshal notification")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO notifications (id, unique_key, data) VALUES ($1, NULLIF($2, ''), $3)`,
		n.NotificationID, n.NaturalKey, data)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return core.Wrap(err, core.ErrAlreadyExists,
				fmt.Sprintf("notification already recorded for %s", n.NaturalKey))
		}
		return core.Wrap(err, core.ErrDeliveryFailed, "failed to insert notification")
	}
	return nil
}

// Save сохраняет уведомление
func (s *PostgresStore) Save(ctx context.Context, n *Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return core.Wrap(err, core.ErrInvalidConfig, "failed to marshal notification")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO notifications (id, unique_key, data) VALUES ($1, NULLIF($2, ''), $3)
		 ON CONFLICT (id) DO UPDATE SET data = $3, updated_at = NOW()`,
		n.NotificationID, n.NaturalKey, data)
	if err != nil {
		return core.Wrap(err, core.ErrDeliveryFailed, "failed to save notification")
	}
	return nil
}

// FindByID находит уведомление по идентификатору
func (s *PostgresStore) FindByID(ctx context.Context, id string) (*Notification, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM notifications WHERE id = $1`, id).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, core.NewError(core.ErrNotFound, fmt.Sprintf("notification not found: %s", id))
		}
		return nil, core.Wrap(err, core.ErrDeliveryFailed, "failed to query notification")
	}

	var n Notification
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, core.Wrap(err, core.ErrDeliveryFailed, "failed to unmarshal notification")
	}
	return &n, nil
}

// List возвращает страницу уведомлений, свежие первыми
func (s *PostgresStore) List(ctx context.Context, status Status, offset, limit int) ([]*Notification, int, error) {
	filter := ""
	args := []interface{}{}
	if status != "" {
		filter = `WHERE data->>'status' = $1`
		args = append(args, string(status))
	}

	var total int
	countQuery := fmt.Sprintf(`SELECT count(*) FROM notifications %s`, filter)
	if err := s.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, core.Wrap(err, core.ErrDeliveryFailed, "failed to count notifications")
	}

	query := fmt.Sprintf(
		`SELECT data FROM notifications %s ORDER BY data->>'created_at' DESC OFFSET $%d LIMIT $%d`,
		filter, len(args)+1, len(args)+2)
	args = append(args, offset, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, core.Wrap(err, core.ErrDeliveryFailed, "failed to query notifications")
	}
	defer rows.Close()

	var out []*Notification
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, 0, core.Wrap(err, core.ErrDeliveryFailed, "failed to scan notification row")
		}
		var n Notification
		if err := json.Unmarshal(data, &n); err != nil {
			return nil, 0, core.Wrap(err, core.ErrDeliveryFailed, "failed to unmarshal notification")
		}
		out = append(out, &n)
	}
	return out, total, rows.Err()
}

// CountByStatus возвращает количество уведомлений в каждом статусе
func (s *PostgresStore) CountByStatus(ctx context.Context) (map[Status]int, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT data->>'status', count(*) FROM notifications GROUP BY data->>'status'`)
	if err != nil {
		return nil, core.Wrap(err, core.ErrDeliveryFailed, "failed to count notifications by status")
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
