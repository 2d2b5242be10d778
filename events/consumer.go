package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cargoflow/cargoflow/core"
	"github.com/cargoflow/cargoflow/metrics"
	"github.com/cargoflow/cargoflow/observability"
	"github.com/cargoflow/cargoflow/transport"
	"go.opentelemetry.io/otel/trace"
)

// Причины попадания сообщений в dead-letter
const (
	ReasonMalformedEvent     = "malformed_event"
	ReasonPermanentFailure   = "permanent_failure"
	ReasonRedeliveryExceeded = "max_redeliveries_exceeded"
)

// EventHandler обработчик доменного события. Возврат nil подтверждает
// сообщение. Ошибки классифицируются через Transient/Permanent;
// неклассифицированная ошибка считается временной
type EventHandler func(ctx context.Context, env *Envelope) error

// Registration регистрация обработчика на паттерн routing key
type Registration struct {
	Pattern string
	Name    string
	Handler EventHandler
}

// ConsumerConfig конфигурация потребителя событий
type ConsumerConfig struct {
	// Queue имя очереди сервиса; определяет и subject dead-letter очереди
	Queue string
	// HandlerTimeout предельное время обработки одного сообщения.
	// Превышение трактуется как временный сбой
	HandlerTimeout time.Duration
	// MaxRedeliveries максимальное число доставок до ухода в dead-letter
	MaxRedeliveries int
	EnableMetrics   bool
	EnableTracing   bool
}

// DefaultConsumerConfig возвращает конфигурацию потребителя по умолчанию
func DefaultConsumerConfig(queue string) ConsumerConfig {
	return ConsumerConfig{
		Queue:           queue,
		HandlerTimeout:  30 * time.Second,
		MaxRedeliveries: 5,
		EnableMetrics:   true,
		EnableTracing:   true,
	}
}

// Validate проверяет конфигурацию потребителя
func (c *ConsumerConfig) Validate() error {
	if c.Queue == "" {
		return core.NewError(core.ErrInvalidConfig, "queue name is required")
	}
	if c.HandlerTimeout <= 0 {
		return core.NewError(core.ErrInvalidConfig, "handler timeout must be positive")
	}
	if c.MaxRedeliveries < 1 {
		return core.NewError(core.ErrInvalidConfig, "max redeliveries must be at least 1")
	}
	return nil
}

// Consumer потребитель доменных событий очереди сервиса.
//
// Политика подтверждения: nil от обработчиков — ack; нечитаемый конверт
// и постоянные сбои — dead-letter и ack; временные сбои — повторная
// доставка до предела, затем dead-letter. Событие без подходящего
// обработчика подтверждается и отбрасывается
type Consumer struct {
	config        ConsumerConfig
	bus           transport.MessageBus
	dlq           transport.DeadLetterQueue
	registrations []Registration
	metrics       *metrics.Metrics
	log           *slog.Logger

	mu      sync.RWMutex
	running bool
}

// NewConsumer создает потребителя для очереди сервиса
func NewConsumer(bus transport.MessageBus, config ConsumerConfig) (*Consumer, error) {
	if bus == nil {
		return nil, core.NewError(core.ErrInvalidConfig, "message bus is required")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	dlq, err := NewBusDeadLetterQueue(bus, config.Queue)
	if err != nil {
		return nil, err
	}

	c := &Consumer{
		config: config,
		bus:    bus,
		dlq:    dlq,
		log:    slog.Default().With(slog.String("component", "consumer"), slog.String("queue", config.Queue)),
	}

	if config.EnableMetrics {
		c.metrics, err = metrics.NewMetrics()
		if err != nil {
			return nil, core.Wrap(err, core.ErrInvalidConfig, "failed to create metrics")
		}
	}

	return c, nil
}

// Register добавляет обработчик на паттерн routing key.
// Паттерн поддерживает wildcards: * (один токен) и # (все токены).
// Регистрация после Start не допускается
func (c *Consumer) Register(pattern, name string, handler EventHandler) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return core.NewError(core.ErrInvalidConfig, "cannot register handlers on a running consumer")
	}
	if pattern == "" || handler == nil {
		return core.NewError(core.ErrInvalidConfig, "pattern and handler are required")
	}

	c.registrations = append(c.registrations, Registration{Pattern: pattern, Name: name, Handler: handler})
	return nil
}

// Start подписывает очередь на объединение паттернов всех обработчиков
func (c *Consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return nil
	}
	if len(c.registrations) == 0 {
		return core.NewError(core.ErrInvalidConfig, "consumer has no registered handlers")
	}

	patterns := make([]string, 0, len(c.registrations))
	seen := make(map[string]bool)
	for _, r := range c.registrations {
		if !seen[r.Pattern] {
			seen[r.Pattern] = true
			patterns = append(patterns, r.Pattern)
		}
	}

	if err := c.bus.Subscribe(ctx, c.config.Queue, patterns, c.dispatch); err != nil {
		return core.Wrap(err, core.ErrDeliveryFailed, "failed to subscribe queue")
	}

	c.running = true
	c.log.InfoContext(ctx, "consumer_started",
		slog.Int("handlers", len(c.registrations)),
		slog.Any("patterns", patterns))
	return nil
}

// Stop отписывает очередь
func (c *Consumer) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return nil
	}
	if err := c.bus.Unsubscribe(c.config.Queue); err != nil {
		return err
	}
	c.running = false
	c.log.InfoContext(ctx, "consumer_stopped")
	return nil
}

// IsRunning возвращает статус работы потребителя
func (c *Consumer) IsRunning() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.running
}

// Name возвращает имя компонента
func (c *Consumer) Name() string {
	return fmt.Sprintf("consumer-%s", c.config.Queue)
}

// Type возвращает тип компонента
func (c *Consumer) Type() core.ComponentType {
	return core.ComponentTypeHandler
}

// dispatch разбирает конверт и проводит сообщение через обработчики.
// Возврат nil подтверждает сообщение, ошибка оставляет его
// неподтвержденным для повторной доставки
func (c *Consumer) dispatch(ctx context.Context, msg *transport.Message) error {
	start := time.Now()

	env, err := Decode(msg.Data)
	if err != nil {
		// нечитаемый конверт не станет читаемым при повторе
		c.log.ErrorContext(ctx, "event_malformed",
			slog.String("subject", msg.Subject),
			slog.String("error", err.Error()))
		c.deadLetter(ctx, msg, ReasonMalformedEvent)
		c.recordConsume(ctx, msg.Subject, start, false)
		return nil
	}

	routingKey := env.RoutingKey
	matched := c.matchHandlers(routingKey)
	if len(matched) == 0 {
		c.log.DebugContext(ctx, "event_dropped",
			slog.String("routing_key", routingKey),
			slog.String("event_id", env.EventID))
		c.recordConsume(ctx, routingKey, start, true)
		return nil
	}

	spanCtx := ctx
	if c.config.EnableTracing {
		var span trace.Span
		spanCtx, span = observability.StartConsumeSpan(ctx, c.config.Queue, routingKey)
		defer span.End()
	}

	for _, reg := range matched {
		if err := c.invoke(spanCtx, reg, env); err != nil {
			return c.handleFailure(spanCtx, msg, env, reg, err, start)
		}
	}

	c.recordConsume(spanCtx, routingKey, start, true)
	c.log.InfoContext(spanCtx, "message_processed",
		slog.String("routing_key", routingKey),
		slog.String("event_id", env.EventID),
		slog.Int("delivery_attempt", msg.DeliveryAttempt()),
		slog.Duration("duration", time.Since(start)))
	return nil
}

// invoke вызывает обработчик с предельным временем обработки
func (c *Consumer) invoke(ctx context.Context, reg Registration, env *Envelope) error {
	hctx, cancel := context.WithTimeout(ctx, c.config.HandlerTimeout)
	defer cancel()

	err := reg.Handler(hctx, env)
	if err != nil && errors.Is(err, context.DeadlineExceeded) {
		return Transient(fmt.Errorf("handler %s timed out after %s", reg.Name, c.config.HandlerTimeout))
	}
	return err
}

// handleFailure применяет политику обработки ошибок обработчика
func (c *Consumer) handleFailure(ctx context.Context, msg *transport.Message, env *Envelope, reg Registration, err error, start time.Time) error {
	attempt := msg.DeliveryAttempt()
	logAttrs := []any{
		slog.String("routing_key", env.RoutingKey),
		slog.String("event_id", env.EventID),
		slog.String("handler", reg.Name),
		slog.Int("delivery_attempt", attempt),
		slog.String("error", err.Error()),
	}

	if IsPermanent(err) {
		// повторная доставка не изменит исход
		c.log.ErrorContext(ctx, "message_failed_permanently", logAttrs...)
		c.deadLetter(ctx, msg, ReasonPermanentFailure)
		c.recordConsume(ctx, env.RoutingKey, start, false)
		return nil
	}

	if attempt >= c.config.MaxRedeliveries {
		c.log.ErrorContext(ctx, "message_redelivery_exhausted", logAttrs...)
		c.deadLetter(ctx, msg, ReasonRedeliveryExceeded)
		c.recordConsume(ctx, env.RoutingKey, start, false)
		return nil
	}

	c.log.WarnContext(ctx, "message_processing_failed", logAttrs...)
	c.recordConsume(ctx, env.RoutingKey, start, false)
	return err
}

// matchHandlers возвращает обработчики, чьи паттерны соответствуют routing key
func (c *Consumer) matchHandlers(routingKey string) []Registration {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var matched []Registration
	for _, r := range c.registrations {
		if transport.MatchSubject(routingKey, r.Pattern) {
			matched = append(matched, r)
		}
	}
	return matched
}

// deadLetter отправляет сообщение в DLQ; сбой отправки не блокирует подтверждение
func (c *Consumer) deadLetter(ctx context.Context, msg *transport.Message, reason string) {
	if err := c.dlq.Publish(ctx, msg, reason); err != nil {
		c.log.ErrorContext(ctx, "dead_letter_publish_failed",
			slog.String("reason", reason),
			slog.String("error", err.Error()))
	}
	if c.metrics != nil {
		c.metrics.RecordDeadLetter(ctx, c.config.Queue, reason)
	}
}

func (c *Consumer) recordConsume(ctx context.Context, routingKey string, start time.Time, success bool) {
	if c.metrics != nil {
		c.metrics.RecordConsume(ctx, c.config.Queue, routingKey, time.Since(start), success)
	}
}
