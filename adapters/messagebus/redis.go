package messagebus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cargoflow/cargoflow/core"
	"github.com/cargoflow/cargoflow/transport"
)

// Поля записи в Redis Stream
const (
	redisFieldSubject = "subject"
	redisFieldData    = "data"
	redisFieldHeaders = "headers"
)

// RedisConfig конфигурация для Redis Streams адаптера
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// Stream имя потока, через который идут все события
	Stream string
	// ConsumerName имя consumer внутри группы
	ConsumerName string
	// BlockTimeout время блокировки XREADGROUP
	BlockTimeout time.Duration
	// MaxStreamLen приблизительный предел длины потока (XADD MAXLEN ~)
	MaxStreamLen int64
	// MaxRedeliveries максимальное число попыток обработки
	MaxRedeliveries int
	// RedeliveryDelay задержка между попытками
	RedeliveryDelay time.Duration
}

// DefaultRedisConfig возвращает конфигурацию Redis по умолчанию
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:            "localhost:6379",
		Stream:          "cargoflow:events",
		ConsumerName:    "consumer-1",
		BlockTimeout:    time.Second,
		MaxStreamLen:    100000,
		MaxRedeliveries: 5,
		RedeliveryDelay: 100 * time.Millisecond,
	}
}

// Validate проверяет конфигурацию Redis
func (c *RedisConfig) Validate() error {
	if c.Addr == "" {
		return core.NewError(core.ErrInvalidConfig, "Redis address is required")
	}
	if c.Stream == "" {
		return core.NewError(core.ErrInvalidConfig, "stream name is required")
	}
	if c.MaxRedeliveries < 1 {
		return core.NewError(core.ErrInvalidConfig, "max redeliveries must be at least 1")
	}
	return nil
}

// redisSubscription подписка одной очереди: consumer group на общем потоке
type redisSubscription struct {
	queue    string
	patterns []string
	handler  transport.MessageHandler
	done     chan struct{}
	wg       sync.WaitGroup
}

// RedisAdapter реализация message bus через Redis Streams.
// Все события идут через один поток; каждая очередь — consumer group,
// фильтрующая записи по своим паттернам. Не подходящие записи
// подтверждаются сразу. Подтверждение обработанных — через XACK
type RedisAdapter struct {
	config RedisConfig
	client *redis.Client
	log    *slog.Logger

	mu      sync.RWMutex
	subs    map[string]*redisSubscription
	running bool
}

// NewRedisAdapter создает новый Redis Streams адаптер
func NewRedisAdapter(config RedisConfig) (*RedisAdapter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &RedisAdapter{
		config: config,
		subs:   make(map[string]*redisSubscription),
		log:    slog.Default().With(slog.String("component", "redis_adapter")),
	}, nil
}

// Start устанавливает соединение с Redis
func (r *RedisAdapter) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     r.config.Addr,
		Password: r.config.Password,
		DB:       r.config.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return core.Wrap(err, core.ErrDeliveryFailed, "failed to connect to Redis")
	}

	r.client = client
	r.running = true
	r.log.InfoContext(ctx, "redis_connected", slog.String("addr", r.config.Addr))
	return nil
}

// Stop останавливает consumers и закрывает соединение
func (r *RedisAdapter) Stop(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running {
		return nil
	}

	for _, sub := range r.subs {
		close(sub.done)
		sub.wg.Wait()
	}
	r.subs = make(map[string]*redisSubscription)

	if r.client != nil {
		if err := r.client.Close(); err != nil {
			return core.Wrap(err, core.ErrDeliveryFailed, "failed to close Redis client")
		}
		r.client = nil
	}
	r.running = false
	return nil
}

// IsRunning проверяет состояние адаптера
func (r *RedisAdapter) IsRunning() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.running
}

// Name возвращает имя компонента
func (r *RedisAdapter) Name() string {
	return "redis-messagebus-adapter"
}

// Type возвращает тип компонента
func (r *RedisAdapter) Type() core.ComponentType {
	return core.ComponentTypeAdapter
}

// HealthCheck проверяет соединение с Redis
func (r *RedisAdapter) HealthCheck(ctx context.Context) error {
	r.mu.RLock()
	client := r.client
	running := r.running
	r.mu.RUnlock()

	if !running || client == nil {
		return core.NewError(core.ErrDeliveryFailed, "Redis adapter is not running")
	}
	if err := client.Ping(ctx).Err(); err != nil {
		return core.Wrap(err, core.ErrDeliveryFailed, "Redis ping failed")
	}
	return nil
}

// Publish добавляет сообщение в поток
func (r *RedisAdapter) Publish(ctx context.Context, subject string, data []byte, headers map[string]string) error {
	r.mu.RLock()
	client := r.client
	running := r.running
	r.mu.RUnlock()

	if !running || client == nil {
		return core.NewError(core.ErrDeliveryFailed, "Redis adapter is not running")
	}

	headersJSON, err := json.Marshal(headers)
	if err != nil {
		return core.Wrap(err, core.ErrDeliveryFailed, "failed to marshal headers")
	}

	err = client.XAdd(ctx, &redis.XAddArgs{
		Stream: r.config.Stream,
		MaxLen: r.config.MaxStreamLen,
		Approx: true,
		Values: map[string]interface{}{
			redisFieldSubject: subject,
			redisFieldData:    string(data),
			redisFieldHeaders: string(headersJSON),
		},
	}).Err()
	if err != nil {
		return core.Wrap(err, core.ErrDeliveryFailed, "failed to publish to Redis stream")
	}
	return nil
}

// Subscribe создает consumer group очереди на общем потоке
func (r *RedisAdapter) Subscribe(ctx context.Context, queue string, patterns []string, handler transport.MessageHandler) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running || r.client == nil {
		return core.NewError(core.ErrDeliveryFailed, "Redis adapter is not running")
	}
	if _, exists := r.subs[queue]; exists {
		return core.NewError(core.ErrAlreadyExists, fmt.Sprintf("queue already subscribed: %s", queue))
	}

	err := r.client.XGroupCreateMkStream(ctx, r.config.Stream, queue, "$").Err()
	if err != nil && !isBusyGroup(err) {
		return core.Wrap(err, core.ErrDeliveryFailed, "failed to create consumer group")
	}

	sub := &redisSubscription{
		queue:    queue,
		patterns: patterns,
		handler:  handler,
		done:     make(chan struct{}),
	}
	r.subs[queue] = sub

	sub.wg.Add(1)
	go r.consumeLoop(sub)
	return nil
}

// Unsubscribe отписывает очередь
func (r *RedisAdapter) Unsubscribe(queue string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, exists := r.subs[queue]
	if !exists {
		return core.NewError(core.ErrNotFound, fmt.Sprintf("queue not subscribed: %s", queue))
	}

	close(sub.done)
	delete(r.subs, queue)
	return nil
}

// consumeLoop последовательно читает записи группы
func (r *RedisAdapter) consumeLoop(sub *redisSubscription) {
	defer sub.wg.Done()
	ctx := context.Background()

	for {
		select {
		case <-sub.done:
			return
		default:
		}

		r.mu.RLock()
		client := r.client
		r.mu.RUnlock()
		if client == nil {
			return
		}

		streams, err := client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    sub.queue,
			Consumer: r.config.ConsumerName,
			Streams:  []string{r.config.Stream, ">"},
			Count:    16,
			Block:    r.config.BlockTimeout,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			select {
			case <-sub.done:
				return
			case <-time.After(r.config.RedeliveryDelay):
				continue
			}
		}

		for _, stream := range streams {
			for _, entry := range stream.Messages {
				r.handleEntry(ctx, client, sub, entry)
			}
		}
	}
}

// handleEntry обрабатывает одну запись потока с in-process повторами
func (r *RedisAdapter) handleEntry(ctx context.Context, client *redis.Client, sub *redisSubscription, entry redis.XMessage) {
	msg := decodeStreamEntry(entry)
	if msg == nil || !r.matchesAny(msg.Subject, sub.patterns) {
		// чужая запись для этой группы
		_ = client.XAck(ctx, r.config.Stream, sub.queue, entry.ID).Err()
		return
	}

	current := msg
	for {
		err := sub.handler(ctx, current)
		if err == nil {
			break
		}

		attempt := current.DeliveryAttempt()
		if attempt >= r.config.MaxRedeliveries {
			r.log.Error("message_dropped_after_redeliveries",
				slog.String("queue", sub.queue),
				slog.String("subject", current.Subject),
				slog.Int("attempts", attempt))
			break
		}

		select {
		case <-sub.done:
			return
		case <-time.After(r.config.RedeliveryDelay):
		}
		current = current.WithHeader(transport.HeaderDeliveryAttempt, strconv.Itoa(attempt+1))
	}

	if err := client.XAck(ctx, r.config.Stream, sub.queue, entry.ID).Err(); err != nil {
		r.log.Error("redis_ack_failed",
			slog.String("queue", sub.queue),
			slog.String("entry_id", entry.ID),
			slog.String("error", err.Error()))
	}
}

func (r *RedisAdapter) matchesAny(subject string, patterns []string) bool {
	for _, p := range patterns {
		if transport.MatchSubject(subject, p) {
			return true
		}
	}
	return false
}

func decodeStreamEntry(entry redis.XMessage) *transport.Message {
	subject, _ := entry.Values[redisFieldSubject].(string)
	if subject == "" {
		return nil
	}
	data, _ := entry.Values[redisFieldData].(string)

	var headers map[string]string
	if raw, ok := entry.Values[redisFieldHeaders].(string); ok && raw != "" {
		_ = json.Unmarshal([]byte(raw), &headers)
	}

	return &transport.Message{
		Subject: subject,
		Data:    []byte(data),
		Headers: headers,
	}
}

func isBusyGroup(err error) bool {
	return err != nil && len(err.Error()) >= 9 && err.Error()[:9] == "BUSYGROUP"
}
