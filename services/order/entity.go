// Package order реализует сервис заказов на доставку.
package order

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cargoflow/cargoflow/core"
)

// Status статус заказа
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusShipped    Status = "shipped"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
)

// transitions допустимые переходы статусов. delivered и cancelled
// терминальны; cancelled достижим из любого нетерминального статуса
var transitions = map[Status][]Status{
	StatusPending:    {StatusProcessing, StatusShipped, StatusCancelled},
	StatusProcessing: {StatusShipped, StatusCancelled},
	StatusShipped:    {StatusDelivered, StatusCancelled},
	StatusDelivered:  {},
	StatusCancelled:  {},
}

// ValidStatus проверяет, известен ли статус
func ValidStatus(s Status) bool {
	_, ok := transitions[s]
	return ok
}

// CanTransition проверяет допустимость перехода статусов
func CanTransition(from, to Status) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Item позиция заказа
type Item struct {
	SKU      string `json:"sku"`
	ItemName string `json:"item_name"`
	Quantity int    `json:"quantity"`
}

// Order заказ на доставку груза
type Order struct {
	OrderID            string    `json:"order_id"`
	OrderNumber        string    `json:"order_number"`
	CustomerName       string    `json:"customer_name"`
	CustomerEmail      string    `json:"customer_email"`
	OriginAddress      string    `json:"origin_address"`
	DestinationAddress string    `json:"destination_address"`
	PackageWeight      float64   `json:"package_weight"`
	PackageDimensions  string    `json:"package_dimensions,omitempty"`
	Status             Status    `json:"status"`
	Items              []Item    `json:"items"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
	EstimatedDelivery  time.Time `json:"estimated_delivery"`
}

// ID возвращает идентификатор заказа
func (o *Order) ID() string {
	return o.OrderID
}

// Transition переводит заказ в новый статус
func (o *Order) Transition(to Status) error {
	if !ValidStatus(to) {
		return core.NewError(core.ErrInvalidTransition, fmt.Sprintf("unknown status: %s", to))
	}
	if !CanTransition(o.Status, to) {
		return core.NewError(core.ErrInvalidTransition,
			fmt.Sprintf("cannot transition order %s from %s to %s", o.OrderNumber, o.Status, to))
	}
	o.Status = to
	o.UpdatedAt = time.Now().UTC()
	return nil
}

// GenerateOrderNumber генерирует уникальный номер заказа
func GenerateOrderNumber() string {
	ts := time.Now().UTC().Format("20060102150405")
	suffix := strings.ToUpper(uuid.NewString()[:8])
	return fmt.Sprintf("ORD-%s-%s", ts, suffix)
}
