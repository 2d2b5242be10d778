package notification

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cargoflow/cargoflow/core"
	"github.com/cargoflow/cargoflow/dedup"
	"github.com/cargoflow/cargoflow/events"
	"github.com/cargoflow/cargoflow/metrics"
)

// QueueName очередь сервиса уведомлений
const QueueName = "notification.queue"

// Handlers обработчики событий сервиса уведомлений.
// Сервис слушает все доменные события платформы
type Handlers struct {
	service *Service
	guard   dedup.Guard
	metrics *metrics.Metrics
	log     *slog.Logger
}

// NewHandlers создает обработчики событий сервиса уведомлений
func NewHandlers(service *Service, guard dedup.Guard) (*Handlers, error) {
	if service == nil {
		return nil, core.NewError(core.ErrInvalidConfig, "notification service is required")
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
		log:     slog.Default().With(slog.String("service", "notification")),
	}, nil
}

// Register регистрирует обработчики в потребителе очереди
func (h *Handlers) Register(c *events.Consumer) error {
	registrations := []struct {
		pattern string
		name    string
	}{
		{events.RoutingKeyOrderCreated, "notify-order-created"},
		{events.RoutingKeyOrderStatusChanged, "notify-order-status"},
		{events.RoutingKeyShipmentCreated, "notify-shipment-created"},
		{events.RoutingKeyTrackingEventAdded, "notify-tracking-update"},
		{events.RoutingKeyInventoryLowStock, "notify-low-stock"},
	}
	for _, r := range registrations {
		if err := c.Register(r.pattern, r.name, h.handleEvent); err != nil {
			return err
		}
	}
	return nil
}

// handleEvent строит уведомление из любого известного события
func (h *Handlers) handleEvent(ctx context.Context, env *events.Envelope) error {
	businessID, err := businessIDFor(env)
	if err != nil {
		return events.Permanent(err)
	}

	fresh, err := h.guard.Acquire(ctx, env.RoutingKey, businessID)
	if err != nil {
		return events.Transient(err)
	}
	if !fresh {
		h.metrics.RecordDedupHit(ctx, env.RoutingKey)
		h.log.InfoContext(ctx, "duplicate_event_skipped",
			slog.String("routing_key", env.RoutingKey),
			slog.String("business_id", businessID))
		return nil
	}

	naturalKey := fmt.Sprintf("%s:%s", env.RoutingKey, businessID)
	if _, err := h.service.CreateFromEvent(ctx, env, naturalKey); err != nil {
		if relErr := h.guard.Release(ctx, env.RoutingKey, businessID); relErr != nil {
			h.log.ErrorContext(ctx, "dedup_release_failed",
				slog.String("business_id", businessID),
				slog.String("error", relErr.Error()))
		}
		return err
	}
	return nil
}

// businessIDFor выбирает стабильный бизнес-идентификатор события.
// Идентификатор не зависит от _event_id: переиздание того же
// бизнес-факта дает тот же ключ
func businessIDFor(env *events.Envelope) (string, error) {
	switch env.RoutingKey {
	case events.RoutingKeyOrderCreated:
		if n := env.String("order_number"); n != "" {
			return n, nil
		}
	case events.RoutingKeyOrderStatusChanged:
		if n := env.String("order_number"); n != "" {
			return fmt.Sprintf("%s:%s", n, env.String("new_status")), nil
		}
	case events.RoutingKeyShipmentCreated:
		if n := env.String("tracking_number"); n != "" {
			return n, nil
		}
	case events.RoutingKeyTrackingEventAdded:
		if n := env.String("tracking_number"); n != "" {
			return fmt.Sprintf("%s:%s:%s", n, env.String("event_type"), env.String("timestamp")), nil
		}
	case events.RoutingKeyInventoryLowStock:
		if sku := env.String("sku"); sku != "" {
			return fmt.Sprintf("%s:%v", sku, env.Payload["remaining_qty"]), nil
		}
	default:
		return "", core.NewError(core.ErrMalformedEvent,
			fmt.Sprintf("no business id rule for routing key %s", env.RoutingKey))
	}
	return "", core.NewError(core.ErrMalformedEvent,
		fmt.Sprintf("event %s is missing its business identifier", env.RoutingKey))
}
