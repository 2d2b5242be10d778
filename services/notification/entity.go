package notification

import "time"

// Status статус уведомления
type Status string

const (
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
)

// ValidStatus проверяет, известен ли статус уведомления
func ValidStatus(s Status) bool {
	return s == StatusPending || s == StatusSent || s == StatusFailed
}

// ChannelEmail канал доставки по умолчанию
const ChannelEmail = "email"

// Notification запись об отправленном уведомлении.
//
// NaturalKey — синтетический бизнес-ключ события-источника
// (ключ маршрутизации плюс бизнес-идентификатор): уникальность ключа
// в хранилище гарантирует не более одного уведомления на событие
type Notification struct {
	NotificationID   string     `json:"notification_id"`
	NotificationType string     `json:"notification_type"`
	Recipient        string     `json:"recipient"`
	Subject          string     `json:"subject"`
	Message          string     `json:"message"`
	Channel          string     `json:"channel"`
	Status           Status     `json:"status"`
	OrderNumber      string     `json:"order_number,omitempty"`
	TrackingNumber   string     `json:"tracking_number,omitempty"`
	NaturalKey       string     `json:"natural_key,omitempty"`
	SentAt           *time.Time `json:"sent_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

// ID возвращает идентификатор уведомления
func (n *Notification) ID() string {
	return n.NotificationID
}
