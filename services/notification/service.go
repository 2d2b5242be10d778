package notification

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/cargoflow/cargoflow/core"
	"github.com/cargoflow/cargoflow/events"
)

// ServiceConfig настройки сервиса уведомлений
type ServiceConfig struct {
	// OpsRecipient получатель служебных уведомлений, у которых нет
	// адресата в событии (например, складские оповещения)
	OpsRecipient string
}

// DefaultServiceConfig возвращает настройки сервиса по умолчанию
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{OpsRecipient: "ops@cargoflow.local"}
}

// Service бизнес-логика уведомлений. Отправка симулируется: запись
// сохраняется в хранилище и логируется
type Service struct {
	store     Store
	templates *Registry
	config    ServiceConfig
	log       *slog.Logger
}

// NewService создает сервис уведомлений
func NewService(store Store, templates *Registry, config ServiceConfig) (*Service, error) {
	if store == nil {
		return nil, core.NewError(core.ErrInvalidConfig, "notification store is required")
	}
	if templates == nil {
		templates = NewRegistry()
	}
	return &Service{
		store:     store,
		templates: templates,
		config:    config,
		log:       slog.Default().With(slog.String("service", "notification")),
	}, nil
}

// Templates возвращает реестр шаблонов
func (s *Service) Templates() *Registry {
	return s.templates
}

// SendRequest данные для ручной отправки уведомления
type SendRequest struct {
	NotificationType string `json:"notification_type" binding:"required"`
	Recipient        string `json:"recipient" binding:"required"`
	Subject          string `json:"subject" binding:"required"`
	Message          string `json:"message" binding:"required"`
	Channel          string `json:"channel"`
	OrderNumber      string `json:"order_number"`
	TrackingNumber   string `json:"tracking_number"`
}

// Send отправляет уведомление и сохраняет запись о нем
func (s *Service) Send(ctx context.Context, req SendRequest) (*Notification, error) {
	channel := req.Channel
	if channel == "" {
		channel = ChannelEmail
	}
	n := &Notification{
		NotificationID:   uuid.NewString(),
		NotificationType: req.NotificationType,
		Recipient:        req.Recipient,
		Subject:          req.Subject,
		Message:          req.Message,
		Channel:          channel,
		Status:           StatusPending,
		OrderNumber:      req.OrderNumber,
		TrackingNumber:   req.TrackingNumber,
		CreatedAt:        time.Now().UTC(),
	}
	if err := s.store.Insert(ctx, n); err != nil {
		return nil, err
	}
	return s.deliver(ctx, n)
}

// CreateFromEvent строит уведомление из доменного события и отправляет
// его. naturalKey — синтетический бизнес-ключ события: повторная
// доставка того же события не создает второго уведомления.
// Возвращает nil без ошибки, если уведомление не требуется или уже
// было записано
func (s *Service) CreateFromEvent(ctx context.Context, env *events.Envelope, naturalKey string) (*Notification, error) {
	tmpl, err := s.templates.ForRoutingKey(env.RoutingKey)
	if err != nil {
		s.log.WarnContext(ctx, "no_template_for_event",
			slog.String("routing_key", env.RoutingKey))
		return nil, nil
	}

	recipient := env.String("customer_email")
	if recipient == "" {
		recipient = env.String("recipient")
	}
	if recipient == "" && env.RoutingKey == events.RoutingKeyInventoryLowStock {
		recipient = s.config.OpsRecipient
	}
	if recipient == "" {
		s.log.WarnContext(ctx, "no_recipient_in_event",
			slog.String("routing_key", env.RoutingKey))
		return nil, nil
	}

	subject, body := tmpl.Render(templateData(env))

	n := &Notification{
		NotificationID:   uuid.NewString(),
		NotificationType: env.RoutingKey,
		Recipient:        recipient,
		Subject:          subject,
		Message:          body,
		Channel:          tmpl.Channel,
		Status:           StatusPending,
		OrderNumber:      env.String("order_number"),
		TrackingNumber:   env.String("tracking_number"),
		NaturalKey:       naturalKey,
		CreatedAt:        time.Now().UTC(),
	}
	if err := s.store.Insert(ctx, n); err != nil {
		if core.HasCode(err, core.ErrAlreadyExists) {
			s.log.InfoContext(ctx, "notification_already_recorded",
				slog.String("natural_key", naturalKey))
			return nil, nil
		}
		return nil, err
	}
	return s.deliver(ctx, n)
}

// deliver симулирует отправку и фиксирует итоговый статус
func (s *Service) deliver(ctx context.Context, n *Notification) (*Notification, error) {
	s.log.InfoContext(ctx, "notification_sending",
		slog.String("notification_id", n.NotificationID),
		slog.String("notification_type", n.NotificationType),
		slog.String("recipient", n.Recipient),
		slog.String("channel", n.Channel))

	now := time.Now().UTC()
	n.Status = StatusSent
	n.SentAt = &now
	if err := s.store.Save(ctx, n); err != nil {
		return nil, err
	}

	s.log.InfoContext(ctx, "notification_sent",
		slog.String("notification_id", n.NotificationID),
		slog.String("recipient", n.Recipient),
		slog.String("channel", n.Channel))
	return n, nil
}

// GetByID возвращает уведомление по идентификатору
func (s *Service) GetByID(ctx context.Context, id string) (*Notification, error) {
	return s.store.FindByID(ctx, id)
}

// List возвращает страницу уведомлений
func (s *Service) List(ctx context.Context, status Status, page, pageSize int) ([]*Notification, int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 10
	}
	if status != "" && !ValidStatus(status) {
		return nil, 0, core.NewError(core.ErrInvalidConfig, "unknown notification status")
	}
	return s.store.List(ctx, status, (page-1)*pageSize, pageSize)
}

// Statistics статистика уведомлений по статусам
type Statistics struct {
	Total   int `json:"total"`
	Pending int `json:"pending"`
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
}

// GetStatistics возвращает статистику уведомлений
func (s *Service) GetStatistics(ctx context.Context) (*Statistics, error) {
	counts, err := s.store.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	stats := &Statistics{
		Pending: counts[StatusPending],
		Sent:    counts[StatusSent],
		Failed:  counts[StatusFailed],
	}
	stats.Total = stats.Pending + stats.Sent + stats.Failed
	return stats, nil
}

// templateData переводит полезную нагрузку события в строки для
// подстановки в шаблон
func templateData(env *events.Envelope) map[string]string {
	data := make(map[string]string, len(env.Payload)+1)
	for key, value := range env.Payload {
		switch v := value.(type) {
		case string:
			data[key] = v
		case float64:
			data[key] = strconv.FormatFloat(v, 'f', -1, 64)
		case bool:
			data[key] = strconv.FormatBool(v)
		case nil:
			data[key] = ""
		}
	}
	if data["customer_name"] == "" {
		data["customer_name"] = "Customer"
	}
	return data
}
