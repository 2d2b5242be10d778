package inventory

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cargoflow/cargoflow/core"
	"github.com/cargoflow/cargoflow/dedup"
	"github.com/cargoflow/cargoflow/events"
	"github.com/cargoflow/cargoflow/metrics"
)

// QueueName очередь складского сервиса
const QueueName = "inventory.queue"

// Handlers обработчики событий складского сервиса
type Handlers struct {
	service *Service
	guard   dedup.Guard
	metrics *metrics.Metrics
	log     *slog.Logger
}

// NewHandlers создает обработчики событий складского сервиса
func NewHandlers(service *Service, guard dedup.Guard) (*Handlers, error) {
	if service == nil {
		return nil, core.NewError(core.ErrInvalidConfig, "inventory service is required")
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
		log:     slog.Default().With(slog.String("service", "inventory")),
	}, nil
}

// Register регистрирует обработчики в потребителе очереди
func (h *Handlers) Register(c *events.Consumer) error {
	if err := c.Register(events.RoutingKeyOrderCreated, "inventory-reserve", h.handleOrderCreated); err != nil {
		return err
	}
	return c.Register(events.RoutingKeyOrderStatusChanged, "inventory-release", h.handleOrderStatusChanged)
}

// handleOrderCreated резервирует позиции нового заказа
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

	if err := h.service.Reserve(ctx, payload.OrderNumber, payload.Items); err != nil {
		// снимаем регистрацию, чтобы повторная доставка прошла обработку
		if relErr := h.guard.Release(ctx, env.RoutingKey, payload.OrderNumber); relErr != nil {
			h.log.ErrorContext(ctx, "dedup_release_failed",
				slog.String("order_number", payload.OrderNumber),
				slog.String("error", relErr.Error()))
		}
		return err
	}
	return nil
}

// handleOrderStatusChanged снимает резервы при отмене заказа
func (h *Handlers) handleOrderStatusChanged(ctx context.Context, env *events.Envelope) error {
	var payload events.OrderStatusChanged
	if err := env.DecodeAs(&payload); err != nil {
		return events.Permanent(err)
	}
	if payload.NewStatus != "cancelled" {
		return nil
	}
	if payload.OrderNumber == "" {
		return events.Permanent(core.NewError(core.ErrMalformedEvent, "order_number is missing"))
	}

	businessID := fmt.Sprintf("%s:%s", payload.OrderNumber, payload.NewStatus)
	fresh, err := h.guard.Acquire(ctx, env.RoutingKey, businessID)
	if err != nil {
		return events.Transient(err)
	}
	if !fresh {
		h.metrics.RecordDedupHit(ctx, env.RoutingKey)
		return nil
	}

	if err := h.service.Release(ctx, payload.OrderNumber); err != nil {
		if relErr := h.guard.Release(ctx, env.RoutingKey, businessID); relErr != nil {
			h.log.ErrorContext(ctx, "dedup_release_failed",
				slog.String("order_number", payload.OrderNumber),
				slog.String("error", relErr.Error()))
		}
		return err
	}
	return nil
}
