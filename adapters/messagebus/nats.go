package messagebus

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/cargoflow/cargoflow/core"
	"github.com/cargoflow/cargoflow/transport"
)

// NATSConfig конфигурация для NATS адаптера
type NATSConfig struct {
	URL string
	// Name имя соединения, видимое на сервере
	Name string
	// MaxRedeliveries максимальное число доставок одного сообщения
	MaxRedeliveries int
	// RedeliveryDelay задержка перед повторной доставкой
	RedeliveryDelay time.Duration
	// PendingBufferSize размер буфера внутренней очереди на подписку
	PendingBufferSize int
	ReconnectWait     time.Duration
	MaxReconnects     int
}

// DefaultNATSConfig возвращает конфигурацию NATS по умолчанию
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:               nats.DefaultURL,
		Name:              "cargoflow",
		MaxRedeliveries:   5,
		RedeliveryDelay:   100 * time.Millisecond,
		PendingBufferSize: 1024,
		ReconnectWait:     2 * time.Second,
		MaxReconnects:     10,
	}
}

// Validate проверяет конфигурацию NATS
func (c *NATSConfig) Validate() error {
	if c.URL == "" {
		return core.NewError(core.ErrInvalidConfig, "NATS URL is required")
	}
	if c.MaxRedeliveries < 1 {
		return core.NewError(core.ErrInvalidConfig, "max redeliveries must be at least 1")
	}
	return nil
}

// natsSubscription подписка одной очереди: NATS subscriptions по паттернам
// и единственный worker, обеспечивающий последовательную обработку
type natsSubscription struct {
	queue   string
	handler transport.MessageHandler
	subs    []*nats.Subscription
	ch      chan *transport.Message
	done    chan struct{}
}

// NATSAdapter реализация message bus через core NATS с queue groups.
// Каждая очередь сервиса получает свой queue group: при нескольких
// инстансах сервиса сообщение обрабатывает ровно один из них
type NATSAdapter struct {
	config NATSConfig
	conn   *nats.Conn
	log    *slog.Logger

	mu      sync.RWMutex
	subs    map[string]*natsSubscription
	running bool
}

// NewNATSAdapter создает новый NATS адаптер
func NewNATSAdapter(config NATSConfig) (*NATSAdapter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.PendingBufferSize <= 0 {
		config.PendingBufferSize = DefaultNATSConfig().PendingBufferSize
	}
	return &NATSAdapter{
		config: config,
		subs:   make(map[string]*natsSubscription),
		log:    slog.Default().With(slog.String("component", "nats_adapter")),
	}, nil
}

// Start устанавливает соединение с NATS
func (n *NATSAdapter) Start(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.running {
		return nil
	}

	conn, err := nats.Connect(n.config.URL,
		nats.Name(n.config.Name),
		nats.ReconnectWait(n.config.ReconnectWait),
		nats.MaxReconnects(n.config.MaxReconnects),
	)
	if err != nil {
		return core.Wrap(err, core.ErrDeliveryFailed, "failed to connect to NATS")
	}

	n.conn = conn
	n.running = true
	n.log.InfoContext(ctx, "nats_connected", slog.String("url", n.config.URL))
	return nil
}

// Stop разрывает соединение и останавливает workers
func (n *NATSAdapter) Stop(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.running {
		return nil
	}

	for _, sub := range n.subs {
		for _, s := range sub.subs {
			_ = s.Unsubscribe()
		}
		close(sub.done)
	}
	n.subs = make(map[string]*natsSubscription)

	if n.conn != nil {
		n.conn.Close()
		n.conn = nil
	}
	n.running = false
	return nil
}

// IsRunning проверяет состояние адаптера
func (n *NATSAdapter) IsRunning() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.running
}

// Name возвращает имя компонента
func (n *NATSAdapter) Name() string {
	return "nats-messagebus-adapter"
}

// Type возвращает тип компонента
func (n *NATSAdapter) Type() core.ComponentType {
	return core.ComponentTypeAdapter
}

// HealthCheck проверяет соединение с NATS
func (n *NATSAdapter) HealthCheck(ctx context.Context) error {
	n.mu.RLock()
	defer n.mu.RUnlock()

	if !n.running || n.conn == nil || !n.conn.IsConnected() {
		return core.NewError(core.ErrDeliveryFailed, "NATS connection is down")
	}
	return nil
}

// Publish публикует сообщение в subject
func (n *NATSAdapter) Publish(ctx context.Context, subject string, data []byte, headers map[string]string) error {
	n.mu.RLock()
	conn := n.conn
	running := n.running
	n.mu.RUnlock()

	if !running || conn == nil {
		return core.NewError(core.ErrDeliveryFailed, "NATS adapter is not running")
	}

	msg := nats.NewMsg(subject)
	msg.Data = data
	for k, v := range headers {
		msg.Header.Set(k, v)
	}

	if err := conn.PublishMsg(msg); err != nil {
		return core.Wrap(err, core.ErrDeliveryFailed, "failed to publish to NATS")
	}
	return nil
}

// Subscribe привязывает очередь к subject-паттернам через queue group.
// Все паттерны очереди питают один канал, обрабатываемый последовательно
func (n *NATSAdapter) Subscribe(ctx context.Context, queue string, patterns []string, handler transport.MessageHandler) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.running || n.conn == nil {
		return core.NewError(core.ErrDeliveryFailed, "NATS adapter is not running")
	}
	if _, exists := n.subs[queue]; exists {
		return core.NewError(core.ErrAlreadyExists, fmt.Sprintf("queue already subscribed: %s", queue))
	}

	sub := &natsSubscription{
		queue:   queue,
		handler: handler,
		ch:      make(chan *transport.Message, n.config.PendingBufferSize),
		done:    make(chan struct{}),
	}

	for _, pattern := range patterns {
		s, err := n.conn.QueueSubscribe(toNATSSubject(pattern), queue, func(m *nats.Msg) {
			msg := &transport.Message{
				Subject: m.Subject,
				Data:    m.Data,
				Headers: flattenNATSHeader(m.Header),
			}
			select {
			case sub.ch <- msg:
			case <-sub.done:
			}
		})
		if err != nil {
			for _, prev := range sub.subs {
				_ = prev.Unsubscribe()
			}
			return core.Wrap(err, core.ErrDeliveryFailed,
				fmt.Sprintf("failed to subscribe pattern %s", pattern))
		}
		sub.subs = append(sub.subs, s)
	}

	n.subs[queue] = sub
	go n.consumeLoop(sub)
	return nil
}

// Unsubscribe отписывает очередь
func (n *NATSAdapter) Unsubscribe(queue string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	sub, exists := n.subs[queue]
	if !exists {
		return core.NewError(core.ErrNotFound, fmt.Sprintf("queue not subscribed: %s", queue))
	}

	for _, s := range sub.subs {
		_ = s.Unsubscribe()
	}
	close(sub.done)
	delete(n.subs, queue)
	return nil
}

// consumeLoop последовательно обрабатывает сообщения одной очереди
func (n *NATSAdapter) consumeLoop(sub *natsSubscription) {
	ctx := context.Background()
	for {
		select {
		case <-sub.done:
			return
		case msg := <-sub.ch:
			n.deliver(ctx, sub, msg)
		}
	}
}

// deliver вызывает обработчик; ошибка ведет к повторной доставке
// с инкрементом счетчика попыток, до предела конфигурации
func (n *NATSAdapter) deliver(ctx context.Context, sub *natsSubscription, msg *transport.Message) {
	err := sub.handler(ctx, msg)
	if err == nil {
		return
	}

	attempt := msg.DeliveryAttempt()
	if attempt >= n.config.MaxRedeliveries {
		n.log.Error("message_dropped_after_redeliveries",
			slog.String("queue", sub.queue),
			slog.String("subject", msg.Subject),
			slog.Int("attempts", attempt))
		return
	}

	redelivery := msg.WithHeader(transport.HeaderDeliveryAttempt, strconv.Itoa(attempt+1))
	go func() {
		select {
		case <-time.After(n.config.RedeliveryDelay):
		case <-sub.done:
			return
		}
		select {
		case sub.ch <- redelivery:
		case <-sub.done:
		}
	}()
}

// toNATSSubject переводит topic-паттерн в синтаксис NATS (# становится >)
func toNATSSubject(pattern string) string {
	if pattern == "#" {
		return ">"
	}
	return strings.ReplaceAll(pattern, ".#", ".>")
}

func flattenNATSHeader(h nats.Header) map[string]string {
	if len(h) == 0 {
		return nil
	}
	headers := make(map[string]string, len(h))
	for k := range h {
		headers[k] = h.Get(k)
	}
	return headers
}
