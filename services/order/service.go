package order

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cargoflow/cargoflow/core"
	"github.com/cargoflow/cargoflow/events"
)

// EventPublisher контракт публикации доменных событий
type EventPublisher interface {
	Publish(ctx context.Context, routingKey string, payload interface{}) error
}

// ServiceConfig конфигурация сервиса заказов
type ServiceConfig struct {
	// EstimatedDeliveryDays срок доставки для расчета estimated_delivery
	EstimatedDeliveryDays int
}

// DefaultServiceConfig возвращает конфигурацию сервиса по умолчанию
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		EstimatedDeliveryDays: 3,
	}
}

// Service бизнес-логика заказов.
//
// События публикуются после фиксации изменения в хранилище
// (publish-after-commit): сбой публикации не откатывает заказ,
// а логируется как окно несогласованности
type Service struct {
	config    ServiceConfig
	store     Store
	publisher EventPublisher
	log       *slog.Logger
}

// NewService создает сервис заказов
func NewService(store Store, publisher EventPublisher, config ServiceConfig) (*Service, error) {
	if store == nil {
		return nil, core.NewError(core.ErrInvalidConfig, "order store is required")
	}
	if publisher == nil {
		return nil, core.NewError(core.ErrInvalidConfig, "event publisher is required")
	}
	if config.EstimatedDeliveryDays <= 0 {
		config.EstimatedDeliveryDays = DefaultServiceConfig().EstimatedDeliveryDays
	}
	return &Service{
		config:    config,
		store:     store,
		publisher: publisher,
		log:       slog.Default().With(slog.String("service", "order")),
	}, nil
}

// CreateRequest данные для создания заказа
type CreateRequest struct {
	CustomerName       string  `json:"customer_name" binding:"required"`
	CustomerEmail      string  `json:"customer_email" binding:"required,email"`
	OriginAddress      string  `json:"origin_address" binding:"required"`
	DestinationAddress string  `json:"destination_address" binding:"required"`
	PackageWeight      float64 `json:"package_weight" binding:"required,gt=0"`
	PackageDimensions  string  `json:"package_dimensions"`
	Items              []Item  `json:"items" binding:"required,min=1,dive"`
}

// Validate проверяет данные запроса
func (r *CreateRequest) Validate() error {
	if strings.TrimSpace(r.CustomerName) == "" {
		return core.NewError(core.ErrInvalidConfig, "customer_name is required")
	}
	if strings.TrimSpace(r.CustomerEmail) == "" {
		return core.NewError(core.ErrInvalidConfig, "customer_email is required")
	}
	if r.PackageWeight <= 0 {
		return core.NewError(core.ErrInvalidConfig, "package_weight must be positive")
	}
	if len(r.Items) == 0 {
		return core.NewError(core.ErrInvalidConfig, "at least one item is required")
	}
	for _, item := range r.Items {
		if item.Quantity <= 0 {
			return core.NewError(core.ErrInvalidConfig,
				fmt.Sprintf("item %s: quantity must be positive", item.ItemName))
		}
	}
	return nil
}

// Create создает заказ и публикует order.created
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Order, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	o := &Order{
		OrderID:            uuid.NewString(),
		OrderNumber:        GenerateOrderNumber(),
		CustomerName:       req.CustomerName,
		CustomerEmail:      req.CustomerEmail,
		OriginAddress:      req.OriginAddress,
		DestinationAddress: req.DestinationAddress,
		PackageWeight:      req.PackageWeight,
		PackageDimensions:  req.PackageDimensions,
		Status:             StatusPending,
		Items:              req.Items,
		CreatedAt:          now,
		UpdatedAt:          now,
		EstimatedDelivery:  now.AddDate(0, 0, s.config.EstimatedDeliveryDays),
	}

	if err := s.store.Insert(ctx, o); err != nil {
		return nil, err
	}

	s.log.InfoContext(ctx, "order_created",
		slog.String("order_number", o.OrderNumber),
		slog.String("customer", o.CustomerName),
		slog.Int("items_count", len(o.Items)))

	s.publishCreated(ctx, o)
	return o, nil
}

// publishCreated публикует order.created после фиксации заказа
func (s *Service) publishCreated(ctx context.Context, o *Order) {
	items := make([]events.OrderItemPayload, 0, len(o.Items))
	for _, item := range o.Items {
		items = append(items, events.OrderItemPayload{
			SKU:      item.SKU,
			ItemName: item.ItemName,
			Quantity: item.Quantity,
		})
	}

	payload := events.OrderCreated{
		OrderNumber:        o.OrderNumber,
		CustomerName:       o.CustomerName,
		CustomerEmail:      o.CustomerEmail,
		OriginAddress:      o.OriginAddress,
		DestinationAddress: o.DestinationAddress,
		PackageWeight:      o.PackageWeight,
		Items:              items,
	}

	if err := s.publisher.Publish(ctx, events.RoutingKeyOrderCreated, payload); err != nil {
		// заказ уже зафиксирован, событие потеряно
		s.log.ErrorContext(ctx, "order_event_lost",
			slog.String("order_number", o.OrderNumber),
			slog.String("routing_key", events.RoutingKeyOrderCreated),
			slog.String("error", err.Error()))
	}
}

// GetByID возвращает заказ по идентификатору
func (s *Service) GetByID(ctx context.Context, id string) (*Order, error) {
	return s.store.FindByID(ctx, id)
}

// GetByNumber возвращает заказ по номеру
func (s *Service) GetByNumber(ctx context.Context, number string) (*Order, error) {
	return s.store.FindByNumber(ctx, number)
}

// List возвращает страницу заказов
func (s *Service) List(ctx context.Context, status Status, page, pageSize int) ([]*Order, int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 10
	}
	if status != "" && !ValidStatus(status) {
		return nil, 0, core.NewError(core.ErrInvalidConfig, fmt.Sprintf("unknown status: %s", status))
	}
	return s.store.List(ctx, status, (page-1)*pageSize, pageSize)
}

// UpdateStatus переводит заказ в новый статус и публикует order.status_changed
func (s *Service) UpdateStatus(ctx context.Context, id string, newStatus Status) (*Order, error) {
	o, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	oldStatus := o.Status
	if err := o.Transition(newStatus); err != nil {
		return nil, err
	}
	if err := s.store.Save(ctx, o); err != nil {
		return nil, err
	}

	s.log.InfoContext(ctx, "order_status_updated",
		slog.String("order_number", o.OrderNumber),
		slog.String("old_status", string(oldStatus)),
		slog.String("new_status", string(newStatus)))

	payload := events.OrderStatusChanged{
		OrderNumber: o.OrderNumber,
		OldStatus:   string(oldStatus),
		NewStatus:   string(newStatus),
	}
	if err := s.publisher.Publish(ctx, events.RoutingKeyOrderStatusChanged, payload); err != nil {
		s.log.ErrorContext(ctx, "order_event_lost",
			slog.String("order_number", o.OrderNumber),
			slog.String("routing_key", events.RoutingKeyOrderStatusChanged),
			slog.String("error", err.Error()))
	}

	return o, nil
}

// Cancel отменяет заказ
func (s *Service) Cancel(ctx context.Context, id string) (*Order, error) {
	return s.UpdateStatus(ctx, id, StatusCancelled)
}

// Statistics статистика заказов по статусам
type Statistics struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Shipped    int `json:"shipped"`
	Delivered  int `json:"delivered"`
	Cancelled  int `json:"cancelled"`
}

// GetStatistics возвращает статистику заказов
func (s *Service) GetStatistics(ctx context.Context) (*Statistics, error) {
	counts, err := s.store.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}

	stats := &Statistics{
		Pending:    counts[StatusPending],
		Processing: counts[StatusProcessing],
		Shipped:    counts[StatusShipped],
		Delivered:  counts[StatusDelivered],
		Cancelled:  counts[StatusCancelled],
	}
	stats.Total = stats.Pending + stats.Processing + stats.Shipped + stats.Delivered + stats.Cancelled
	return stats, nil
}
