package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/cargoflow/cargoflow/core"
	"github.com/cargoflow/cargoflow/metrics"
	"github.com/cargoflow/cargoflow/transport"
)

// RetryConfig конфигурация retry для публикатора
type RetryConfig struct {
	MaxAttempts       int
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
}

// DefaultRetryConfig возвращает конфигурацию retry по умолчанию.
// Повторы ограничены: публикация не должна блокировать HTTP-путь
// бизнес-операции неопределенно долго
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialDelay:      100 * time.Millisecond,
		MaxDelay:          2 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// PublisherConfig конфигурация публикатора событий
type PublisherConfig struct {
	// Source имя сервиса-источника (для логов и заголовков)
	Source        string
	Retry         RetryConfig
	EnableMetrics bool
}

// DefaultPublisherConfig возвращает конфигурацию публикатора по умолчанию
func DefaultPublisherConfig(source string) PublisherConfig {
	return PublisherConfig{
		Source:        source,
		Retry:         DefaultRetryConfig(),
		EnableMetrics: true,
	}
}

// Publisher публикует доменные события в message bus.
//
// Контракт: Publish вызывается строго после коммита локального
// изменения состояния (publish-after-commit). Успешный возврат означает,
// что брокер принял событие; ошибка DeliveryError означает потерянное
// событие и окно несогласованности, но не откатывает бизнес-операцию
type Publisher struct {
	config  PublisherConfig
	bus     transport.Publisher
	metrics *metrics.Metrics
	log     *slog.Logger
}

// NewPublisher создает новый публикатор событий
func NewPublisher(bus transport.Publisher, config PublisherConfig) (*Publisher, error) {
	if bus == nil {
		return nil, core.NewError(core.ErrInvalidConfig, "message bus is required")
	}
	if config.Retry.MaxAttempts < 1 {
		config.Retry = DefaultRetryConfig()
	}

	p := &Publisher{
		config: config,
		bus:    bus,
		log:    slog.Default().With(slog.String("component", "publisher"), slog.String("service", config.Source)),
	}

	if config.EnableMetrics {
		var err error
		p.metrics, err = metrics.NewMetrics()
		if err != nil {
			return nil, core.Wrap(err, core.ErrInvalidConfig, "failed to create metrics")
		}
	}

	return p, nil
}

// Publish сериализует событие и передает его брокеру с routing key.
// payload может быть типизированной структурой каталога или map
func (p *Publisher) Publish(ctx context.Context, routingKey string, payload interface{}) error {
	start := time.Now()

	payloadMap, err := toPayloadMap(payload)
	if err != nil {
		return err
	}

	env := NewEnvelope(routingKey, payloadMap)
	data, err := env.Encode()
	if err != nil {
		return err
	}

	headers := map[string]string{
		transport.HeaderEventID:    env.EventID,
		transport.HeaderRoutingKey: env.RoutingKey,
	}

	err = p.publishWithRetry(ctx, routingKey, data, headers)
	if p.metrics != nil {
		p.metrics.RecordPublish(ctx, routingKey, time.Since(start), err == nil)
	}
	if err != nil {
		p.log.ErrorContext(ctx, "event_publish_failed",
			slog.String("routing_key", routingKey),
			slog.String("event_id", env.EventID),
			slog.String("error", err.Error()))
		return core.Wrap(err, core.ErrDeliveryFailed, "failed to hand event to broker")
	}

	p.log.InfoContext(ctx, "event_published",
		slog.String("routing_key", routingKey),
		slog.String("event_id", env.EventID))

	return nil
}

// publishWithRetry передает событие брокеру с ограниченным числом повторов
func (p *Publisher) publishWithRetry(ctx context.Context, subject string, data []byte, headers map[string]string) error {
	retry := p.config.Retry
	delay := retry.InitialDelay

	var lastErr error
	for attempt := 0; attempt < retry.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay = time.Duration(float64(delay) * retry.BackoffMultiplier)
			if delay > retry.MaxDelay {
				delay = retry.MaxDelay
			}
		}

		if lastErr = p.bus.Publish(ctx, subject, data, headers); lastErr == nil {
			return nil
		}
	}

	return lastErr
}

// toPayloadMap приводит полезную нагрузку к map через JSON round-trip
func toPayloadMap(payload interface{}) (map[string]interface{}, error) {
	if m, ok := payload.(map[string]interface{}); ok {
		return m, nil
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, core.Wrap(err, core.ErrMalformedEvent, "failed to encode payload")
	}

	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, core.Wrap(err, core.ErrMalformedEvent, "payload must encode to a JSON object")
	}
	return m, nil
}
