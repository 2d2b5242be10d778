// Package messagebus предоставляет адаптеры для различных message brokers.
package messagebus

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cargoflow/cargoflow/core"
	"github.com/cargoflow/cargoflow/transport"
)

// InMemoryConfig конфигурация для InMemory адаптера
type InMemoryConfig struct {
	BufferSize      int
	MaxRedeliveries int           // Предел повторных доставок после ошибки обработчика
	RedeliveryDelay time.Duration // Задержка перед повторной доставкой
}

// DefaultInMemoryConfig возвращает конфигурацию InMemory по умолчанию
func DefaultInMemoryConfig() InMemoryConfig {
	return InMemoryConfig{
		BufferSize:      1024,
		MaxRedeliveries: 5,
		RedeliveryDelay: 10 * time.Millisecond,
	}
}

// queueBinding очередь с привязанными паттернами и обработчиком
type queueBinding struct {
	name     string
	patterns []string
	handler  transport.MessageHandler
	ch       chan *transport.Message
	done     chan struct{}
}

// InMemoryAdapter реализация MessageBus в памяти.
// Семантика намеренно повторяет topic exchange: сообщение копируется в
// каждую очередь с подходящим паттерном, внутри очереди доставка строго
// последовательная (FIFO), повторная доставка после ошибки ограничена
// MaxRedeliveries.
type InMemoryAdapter struct {
	config   InMemoryConfig
	queues   map[string]*queueBinding
	mu       sync.RWMutex
	running  bool
	inflight atomic.Int64
}

// NewInMemoryAdapter создает новый InMemory адаптер
func NewInMemoryAdapter(config InMemoryConfig) *InMemoryAdapter {
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultInMemoryConfig().BufferSize
	}
	return &InMemoryAdapter{
		config: config,
		queues: make(map[string]*queueBinding),
	}
}

// Start запускает адаптер (реализация core.Lifecycle)
func (i *InMemoryAdapter) Start(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.running = true
	return nil
}

// Stop останавливает адаптер (реализация core.Lifecycle)
func (i *InMemoryAdapter) Stop(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if !i.running {
		return nil
	}

	for _, q := range i.queues {
		close(q.done)
	}
	i.queues = make(map[string]*queueBinding)
	i.running = false
	return nil
}

// IsRunning проверяет, запущен ли адаптер (реализация core.Lifecycle)
func (i *InMemoryAdapter) IsRunning() bool {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.running
}

// Name возвращает имя компонента (реализация core.Component)
func (i *InMemoryAdapter) Name() string {
	return "inmemory-adapter"
}

// Type возвращает тип компонента (реализация core.Component)
func (i *InMemoryAdapter) Type() core.ComponentType {
	return core.ComponentTypeAdapter
}

// HealthCheck проверяет здоровье адаптера (реализация core.HealthCheckable)
func (i *InMemoryAdapter) HealthCheck(ctx context.Context) error {
	if !i.IsRunning() {
		return fmt.Errorf("inmemory adapter is not running")
	}
	return nil
}

// Publish публикует сообщение: копия уходит в каждую очередь,
// хотя бы один паттерн которой совпадает с subject
func (i *InMemoryAdapter) Publish(ctx context.Context, subject string, data []byte, headers map[string]string) error {
	i.mu.RLock()
	if !i.running {
		i.mu.RUnlock()
		return fmt.Errorf("inmemory adapter is not running")
	}
	var targets []*queueBinding
	for _, q := range i.queues {
		for _, p := range q.patterns {
			if transport.MatchSubject(subject, p) {
				targets = append(targets, q)
				break
			}
		}
	}
	i.mu.RUnlock()

	msg := &transport.Message{
		Subject: subject,
		Data:    data,
		Headers: headers,
	}

	for _, q := range targets {
		i.inflight.Add(1)
		select {
		case q.ch <- msg:
		case <-ctx.Done():
			i.inflight.Add(-1)
			return ctx.Err()
		case <-q.done:
			i.inflight.Add(-1)
		}
	}

	return nil
}

// Subscribe привязывает очередь к паттернам и запускает воркер очереди
func (i *InMemoryAdapter) Subscribe(ctx context.Context, queue string, patterns []string, handler transport.MessageHandler) error {
	if queue == "" {
		return fmt.Errorf("queue name cannot be empty")
	}
	if len(patterns) == 0 {
		return fmt.Errorf("at least one pattern is required")
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	if _, exists := i.queues[queue]; exists {
		return fmt.Errorf("queue %s is already subscribed", queue)
	}

	q := &queueBinding{
		name:     queue,
		patterns: patterns,
		handler:  handler,
		ch:       make(chan *transport.Message, i.config.BufferSize),
		done:     make(chan struct{}),
	}
	i.queues[queue] = q

	go i.consumeLoop(ctx, q)

	return nil
}

// Unsubscribe отписывает очередь
func (i *InMemoryAdapter) Unsubscribe(queue string) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	q, exists := i.queues[queue]
	if !exists {
		return nil
	}
	close(q.done)
	delete(i.queues, queue)
	return nil
}

// consumeLoop последовательно обрабатывает сообщения одной очереди
func (i *InMemoryAdapter) consumeLoop(ctx context.Context, q *queueBinding) {
	for {
		select {
		case <-q.done:
			return
		case <-ctx.Done():
			return
		case msg := <-q.ch:
			i.deliver(ctx, q, msg)
		}
	}
}

// deliver доставляет сообщение обработчику; при ошибке планирует
// повторную доставку до MaxRedeliveries
func (i *InMemoryAdapter) deliver(ctx context.Context, q *queueBinding, msg *transport.Message) {
	err := q.handler(ctx, msg)
	if err == nil {
		i.inflight.Add(-1) // ack
		return
	}

	attempt := msg.DeliveryAttempt()
	if attempt >= i.config.MaxRedeliveries {
		// Предел достигнут: сообщение отбрасывается, решение о
		// dead-letter уже принято уровнем consumer
		i.inflight.Add(-1)
		return
	}

	redelivery := msg.WithHeader(transport.HeaderDeliveryAttempt, strconv.Itoa(attempt+1))
	go func() {
		if i.config.RedeliveryDelay > 0 {
			select {
			case <-time.After(i.config.RedeliveryDelay):
			case <-q.done:
				i.inflight.Add(-1)
				return
			}
		}
		select {
		case q.ch <- redelivery:
		case <-q.done:
			i.inflight.Add(-1)
		}
	}()
}

// WaitIdle блокируется, пока все опубликованные сообщения (включая
// follow-on публикации обработчиков) не будут обработаны (для тестирования)
func (i *InMemoryAdapter) WaitIdle(ctx context.Context) error {
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	for {
		if i.inflight.Load() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// QueueCount возвращает количество привязанных очередей (для тестирования)
func (i *InMemoryAdapter) QueueCount() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.queues)
}
