// Package tracking реализует сервис отслеживания отправлений.
package tracking

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cargoflow/cargoflow/core"
)

// DefaultCarrier перевозчик по умолчанию для автоматически созданных отправлений
const DefaultCarrier = "Standard Carrier"

// ShipmentStatus статус отправления
type ShipmentStatus string

const (
	StatusInTransit      ShipmentStatus = "in_transit"
	StatusOutForDelivery ShipmentStatus = "out_for_delivery"
	StatusDelivered      ShipmentStatus = "delivered"
)

// shipmentTransitions допустимые переходы статусов отправления
var shipmentTransitions = map[ShipmentStatus][]ShipmentStatus{
	StatusInTransit:      {StatusOutForDelivery, StatusDelivered},
	StatusOutForDelivery: {StatusDelivered},
	StatusDelivered:      {},
}

// ValidStatus проверяет, известен ли статус отправления
func ValidStatus(s ShipmentStatus) bool {
	_, ok := shipmentTransitions[s]
	return ok
}

// Shipment отслеживаемое отправление. Номер заказа уникален:
// у заказа ровно одно отправление
type Shipment struct {
	ShipmentID      string         `json:"shipment_id"`
	TrackingNumber  string         `json:"tracking_number"`
	OrderNumber     string         `json:"order_number"`
	Carrier         string         `json:"carrier"`
	CurrentLocation string         `json:"current_location,omitempty"`
	Status          ShipmentStatus `json:"status"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// ID возвращает идентификатор отправления
func (s *Shipment) ID() string {
	return s.ShipmentID
}

// Transition переводит отправление в новый статус
func (s *Shipment) Transition(to ShipmentStatus) error {
	if !ValidStatus(to) {
		return core.NewError(core.ErrInvalidTransition, fmt.Sprintf("unknown shipment status: %s", to))
	}
	for _, allowed := range shipmentTransitions[s.Status] {
		if allowed == to {
			s.Status = to
			s.UpdatedAt = time.Now().UTC()
			return nil
		}
	}
	return core.NewError(core.ErrInvalidTransition,
		fmt.Sprintf("cannot transition shipment %s from %s to %s", s.TrackingNumber, s.Status, to))
}

// TrackingEvent запись журнала отслеживания (append-only)
type TrackingEvent struct {
	EventID        string    `json:"event_id"`
	ShipmentID     string    `json:"shipment_id"`
	TrackingNumber string    `json:"tracking_number"`
	EventType      string    `json:"event_type"`
	Location       string    `json:"location"`
	Description    string    `json:"description"`
	Timestamp      time.Time `json:"timestamp"`
}

// ID возвращает идентификатор записи
func (e *TrackingEvent) ID() string {
	return e.EventID
}

// GenerateTrackingNumber генерирует уникальный номер отслеживания
func GenerateTrackingNumber() string {
	ts := time.Now().UTC().Format("20060102150405")
	suffix := strings.ToUpper(uuid.NewString()[:8])
	return fmt.Sprintf("TRK-%s-%s", ts, suffix)
}
