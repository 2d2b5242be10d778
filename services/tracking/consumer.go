package tracking

import (
	"context"
	"log/slog"

	"github.com/cargoflow/cargoflow/core"
	"github.com/cargoflow/cargoflow/dedup"
	"github.com/cargoflow/cargoflow/events"
	"github.com/cargoflow/cargoflow/metrics"
)

// QueueName очередь сервиса отслеживания
const QueueName = "tracking.queue"

// Handlers обработчики событий сервиса отслеживания
type Handlers struct {
	service *Service
	guard   dedup.Guard
	metrics *metrics.Metrics
	log     *slog.Logger
}

// NewHandlers создает обработчики событий сервиса отслеживания
func NewHandlers(service *Service, guard dedup.Guard) (*Handlers, error) {
	if service == nil {
		return nil, core.NewError(core.ErrInvalidConfig, "tracking service is required")
	}
	if guard == nil {
		return nil, core.NewError(core.ErrInvalidConfig, "dedup guard is required")
	}

	m, err := metrics.NewMetrics()
	if err != nil {
		return nil, core.Wrap(err, core.ErrInvalidConfig, "failed to create metrics")
	}

	return &Handlers{
		service: service,
		guard:   guard,
		metrics: m,
		log:     slog.Default().With(slog.String("service", "tracking")),
	}, nil
}

// Register регистрирует обработчики в потребителе очереди
func (h *Handlers) Register(c *events.Consumer) error {
	return c.Register(events.RoutingKeyOrderCreated, "tracking-create-shipment", h.handleOrderCreated)
}

// handleOrderCreated создает отправление для нового заказа
func (h *Handlers) handleOrderCreated(ctx context.Context, env *events.Envelope) error {
	var payload events.OrderCreated
	if err := env.DecodeAs(&payload); err != nil {
		return events.Permanent(err)
	}
	if payload.OrderNumber == "" {
		return events.Permanent(core.NewError(core.ErrMalformedEvent, "order_number is missing"))
	}

	fresh, err := h.guard.Acquire(ctx, env.RoutingKey, payload.OrderNumber)
	if err != nil {
		return events.Transient(err)
	}
	if !fresh {
		h.metrics.RecordDedupHit(ctx, env.RoutingKey)
		h.log.InfoContext(ctx, "duplicate_event_skipped",
			slog.String("routing_key", env.RoutingKey),
			slog.String("order_number", payload.OrderNumber))
		return nil
	}

	if _, err := h.service.CreateFromOrder(ctx, payload.OrderNumber, payload.OriginAddress); err != nil {
		if relErr := h.guard.Release(ctx, env.RoutingKey, payload.OrderNumber); relErr != nil {
			h.log.ErrorContext(ctx, "dedup_release_failed",
				slog.String("order_number", payload.OrderNumber),
				slog.String("error", relErr.Error()))
		}
		return err
	}
	return nil
}
