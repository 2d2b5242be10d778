package tracking

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/cargoflow/cargoflow/core"
	"github.com/cargoflow/cargoflow/events"
)

// EventPublisher контракт публикации доменных событий
type EventPublisher interface {
	Publish(ctx context.Context, routingKey string, payload interface{}) error
}

// Service бизнес-логика отслеживания отправлений.
//
// У заказа ровно одно отправление: уникальность номера заказа в
// хранилище делает создание идемпотентным при повторной доставке
// order.created
type Service struct {
	store     Store
	publisher EventPublisher
	log       *slog.Logger
}

// NewService создает сервис отслеживания
func NewService(store Store, publisher EventPublisher) (*Service, error) {
	if store == nil {
		return nil, core.NewError(core.ErrInvalidConfig, "tracking store is required")
	}
	if publisher == nil {
		return nil, core.NewError(core.ErrInvalidConfig, "event publisher is required")
	}
	return &Service{
		store:     store,
		publisher: publisher,
		log:       slog.Default().With(slog.String("service", "tracking")),
	}, nil
}

// CreateFromOrder создает отправление для нового заказа и публикует
// shipment.created. Если отправление уже существует, возвращает его
// без повторной публикации
func (s *Service) CreateFromOrder(ctx context.Context, orderNumber, originAddress string) (*Shipment, error) {
	if orderNumber == "" {
		return nil, core.NewError(core.ErrInvalidConfig, "order number is required")
	}

	if existing, err := s.store.FindByOrderNumber(ctx, orderNumber); err == nil {
		s.log.InfoContext(ctx, "shipment_already_exists",
			slog.String("order_number", orderNumber),
			slog.String("tracking_number", existing.TrackingNumber))
		return existing, nil
	} else if !core.HasCode(err, core.ErrNotFound) {
		return nil, err
	}

	location := originAddress
	if location == "" {
		location = "Warehouse"
	}

	now := time.Now().UTC()
	sh := &Shipment{
		ShipmentID:      uuid.NewString(),
		TrackingNumber:  GenerateTrackingNumber(),
		OrderNumber:     orderNumber,
		Carrier:         DefaultCarrier,
		CurrentLocation: location,
		Status:          StatusInTransit,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.store.InsertShipment(ctx, sh); err != nil {
		if core.HasCode(err, core.ErrAlreadyExists) {
			// конкурентный повтор: отправление уже создано
			return s.store.FindByOrderNumber(ctx, orderNumber)
		}
		return nil, err
	}

	s.log.InfoContext(ctx, "shipment_created",
		slog.String("tracking_number", sh.TrackingNumber),
		slog.String("order_number", orderNumber),
		slog.String("carrier", sh.Carrier))

	payload := events.ShipmentCreated{
		TrackingNumber:  sh.TrackingNumber,
		OrderNumber:     sh.OrderNumber,
		Carrier:         sh.Carrier,
		Status:          string(sh.Status),
		CurrentLocation: sh.CurrentLocation,
	}
	if err := s.publisher.Publish(ctx, events.RoutingKeyShipmentCreated, payload); err != nil {
		s.log.ErrorContext(ctx, "shipment_event_lost",
			slog.String("tracking_number", sh.TrackingNumber),
			slog.String("error", err.Error()))
	}

	return sh, nil
}

// GetByTrackingNumber возвращает отправление по номеру отслеживания
func (s *Service) GetByTrackingNumber(ctx context.Context, trackingNumber string) (*Shipment, error) {
	return s.store.FindByTrackingNumber(ctx, trackingNumber)
}

// GetByOrderNumber возвращает отправление по номеру заказа
func (s *Service) GetByOrderNumber(ctx context.Context, orderNumber string) (*Shipment, error) {
	return s.store.FindByOrderNumber(ctx, orderNumber)
}

// List возвращает страницу отправлений
func (s *Service) List(ctx context.Context, status ShipmentStatus, page, pageSize int) ([]*Shipment, int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 10
	}
	if status != "" && !ValidStatus(status) {
		return nil, 0, core.NewError(core.ErrInvalidConfig, "unknown shipment status")
	}
	return s.store.List(ctx, status, (page-1)*pageSize, pageSize)
}

// UpdateStatus переводит отправление в новый статус
func (s *Service) UpdateStatus(ctx context.Context, trackingNumber string, newStatus ShipmentStatus, location string) (*Shipment, error) {
	sh, err := s.store.FindByTrackingNumber(ctx, trackingNumber)
	if err != nil {
		return nil, err
	}

	oldStatus := sh.Status
	if err := sh.Transition(newStatus); err != nil {
		return nil, err
	}
	if location != "" {
		sh.CurrentLocation = location
	}
	if err := s.store.SaveShipment(ctx, sh); err != nil {
		return nil, err
	}

	s.log.InfoContext(ctx, "shipment_status_updated",
		slog.String("tracking_number", trackingNumber),
		slog.String("old_status", string(oldStatus)),
		slog.String("new_status", string(newStatus)))
	return sh, nil
}

// AddEventRequest данные для записи журнала отслеживания
type AddEventRequest struct {
	EventType   string `json:"event_type" binding:"required"`
	Location    string `json:"location" binding:"required"`
	Description string `json:"description" binding:"required"`
}

// AddEvent добавляет запись в журнал отправления, обновляет текущее
// местоположение и публикует tracking.event_added
func (s *Service) AddEvent(ctx context.Context, trackingNumber string, req AddEventRequest) (*TrackingEvent, error) {
	sh, err := s.store.FindByTrackingNumber(ctx, trackingNumber)
	if err != nil {
		return nil, err
	}

	event := &TrackingEvent{
		EventID:        uuid.NewString(),
		ShipmentID:     sh.ShipmentID,
		TrackingNumber: sh.TrackingNumber,
		EventType:      req.EventType,
		Location:       req.Location,
		Description:    req.Description,
		Timestamp:      time.Now().UTC(),
	}
	if err := s.store.InsertEvent(ctx, event); err != nil {
		return nil, err
	}

	sh.CurrentLocation = req.Location
	sh.UpdatedAt = time.Now().UTC()
	if err := s.store.SaveShipment(ctx, sh); err != nil {
		return nil, err
	}

	s.log.InfoContext(ctx, "tracking_event_created",
		slog.String("tracking_number", sh.TrackingNumber),
		slog.String("event_type", req.EventType),
		slog.String("location", req.Location))

	payload := events.TrackingEventAdded{
		TrackingNumber: sh.TrackingNumber,
		OrderNumber:    sh.OrderNumber,
		EventType:      req.EventType,
		Location:       req.Location,
		Description:    req.Description,
		Timestamp:      event.Timestamp,
	}
	if err := s.publisher.Publish(ctx, events.RoutingKeyTrackingEventAdded, payload); err != nil {
		s.log.ErrorContext(ctx, "tracking_event_lost",
			slog.String("tracking_number", sh.TrackingNumber),
			slog.String("error", err.Error()))
	}

	return event, nil
}

// GetEvents возвращает журнал отправления
func (s *Service) GetEvents(ctx context.Context, trackingNumber string) ([]*TrackingEvent, error) {
	sh, err := s.store.FindByTrackingNumber(ctx, trackingNumber)
	if err != nil {
		return nil, err
	}
	return s.store.FindEvents(ctx, sh.ShipmentID)
}

// Statistics статистика отправлений по статусам
type Statistics struct {
	Total          int `json:"total"`
	InTransit      int `json:"in_transit"`
	OutForDelivery int `json:"out_for_delivery"`
	Delivered      int `json:"delivered"`
}

// GetStatistics возвращает статистику отправлений
func (s *Service) GetStatistics(ctx context.Context) (*Statistics, error) {
	counts, err := s.store.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}

	stats := &Statistics{
		InTransit:      counts[StatusInTransit],
		OutForDelivery: counts[StatusOutForDelivery],
		Delivered:      counts[StatusDelivered],
	}
	stats.Total = stats.InTransit + stats.OutForDelivery + stats.Delivered
	return stats, nil
}
