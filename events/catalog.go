package events

import (
	"time"
)

// Ключи маршрутизации каталога событий платформы. Каждый ключ —
// фиксированный контракт, который независимые сервисы обязаны соблюдать
const (
	RoutingKeyOrderCreated       = "order.created"
	RoutingKeyOrderStatusChanged = "order.status_changed"
	RoutingKeyShipmentCreated    = "shipment.created"
	RoutingKeyTrackingEventAdded = "tracking.event_added"
	RoutingKeyInventoryLowStock  = "inventory.low_stock"
)

// OrderItemPayload позиция заказа в полезной нагрузке события
type OrderItemPayload struct {
	SKU      string `json:"sku"`
	ItemName string `json:"item_name,omitempty"`
	Quantity int    `json:"quantity"`
}

// OrderCreated полезная нагрузка order.created.
// Несет все бизнес-идентификаторы, необходимые потребителям для
// корреляции без обратных запросов к сервису заказов
type OrderCreated struct {
	OrderNumber        string             `json:"order_number"`
	CustomerName       string             `json:"customer_name,omitempty"`
	CustomerEmail      string             `json:"customer_email,omitempty"`
	OriginAddress      string             `json:"origin_address"`
	DestinationAddress string             `json:"destination_address"`
	PackageWeight      float64            `json:"package_weight,omitempty"`
	Items              []OrderItemPayload `json:"items"`
}

// OrderStatusChanged полезная нагрузка order.status_changed
type OrderStatusChanged struct {
	OrderNumber string `json:"order_number"`
	OldStatus   string `json:"old_status"`
	NewStatus   string `json:"new_status"`
}

// ShipmentCreated полезная нагрузка shipment.created
type ShipmentCreated struct {
	TrackingNumber  string `json:"tracking_number"`
	OrderNumber     string `json:"order_number"`
	Carrier         string `json:"carrier"`
	Status          string `json:"status"`
	CurrentLocation string `json:"current_location,omitempty"`
}

// TrackingEventAdded полезная нагрузка tracking.event_added
type TrackingEventAdded struct {
	TrackingNumber string    `json:"tracking_number"`
	OrderNumber    string    `json:"order_number"`
	EventType      string    `json:"event_type"`
	Location       string    `json:"location"`
	Description    string    `json:"description"`
	Timestamp      time.Time `json:"timestamp"`
}

// InventoryLowStock полезная нагрузка inventory.low_stock
type InventoryLowStock struct {
	SKU          string `json:"sku"`
	RemainingQty int    `json:"remaining_qty"`
	ReorderLevel int    `json:"reorder_level"`
}

// DecodeBody распаковывает полезную нагрузку конверта в типизированный
// вариант каталога по ключу маршрутизации. Для неизвестных ключей
// возвращает сырую полезную нагрузку: сервис не обязан понимать каждое
// событие на шине
func DecodeBody(env *Envelope) (interface{}, error) {
	switch env.RoutingKey {
	case RoutingKeyOrderCreated:
		var body OrderCreated
		if err := env.DecodeAs(&body); err != nil {
			return nil, err
		}
		return body, nil
	case RoutingKeyOrderStatusChanged:
		var body OrderStatusChanged
		if err := env.DecodeAs(&body); err != nil {
			return nil, err
		}
		return body, nil
	case RoutingKeyShipmentCreated:
		var body ShipmentCreated
		if err := env.DecodeAs(&body); err != nil {
			return nil, err
		}
		return body, nil
	case RoutingKeyTrackingEventAdded:
		var body TrackingEventAdded
		if err := env.DecodeAs(&body); err != nil {
			return nil, err
		}
		return body, nil
	case RoutingKeyInventoryLowStock:
		var body InventoryLowStock
		if err := env.DecodeAs(&body); err != nil {
			return nil, err
		}
		return body, nil
	default:
		return env.Payload, nil
	}
}
