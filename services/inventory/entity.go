// Package inventory реализует складской сервис: остатки, резервы
// и события о низком уровне запасов.
package inventory

import (
	"fmt"
	"time"
)

// Warehouse склад
type Warehouse struct {
	WarehouseID string    `json:"warehouse_id"`
	Code        string    `json:"warehouse_code"`
	Name        string    `json:"name"`
	Location    string    `json:"location"`
	Capacity    int       `json:"capacity"`
	CreatedAt   time.Time `json:"created_at"`
}

// ID возвращает идентификатор склада
func (w *Warehouse) ID() string {
	return w.WarehouseID
}

// Item складская позиция
type Item struct {
	ItemID           string    `json:"item_id"`
	WarehouseID      string    `json:"warehouse_id"`
	SKU              string    `json:"sku"`
	ItemName         string    `json:"item_name"`
	Quantity         int       `json:"quantity"`
	ReservedQuantity int       `json:"reserved_quantity"`
	ReorderLevel     int       `json:"reorder_level"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// ID возвращает идентификатор позиции
func (i *Item) ID() string {
	return i.ItemID
}

// Available возвращает доступное к резервированию количество
func (i *Item) Available() int {
	return i.Quantity - i.ReservedQuantity
}

// LowStock проверяет, упал ли остаток до уровня пополнения
func (i *Item) LowStock() bool {
	return i.Available() <= i.ReorderLevel
}

// TransactionType тип складской операции
type TransactionType string

const (
	TransactionReserve TransactionType = "reserve"
	TransactionRelease TransactionType = "release"
	TransactionAdjust  TransactionType = "adjust"
	TransactionReduce  TransactionType = "reduce"
)

// Transaction запись аудита складской операции.
// Для reserve и release пары (order_number, sku) уникальны: это
// естественный ключ идемпотентности при повторной доставке событий
type Transaction struct {
	TransactionID string          `json:"transaction_id"`
	ItemID        string          `json:"item_id"`
	Type          TransactionType `json:"transaction_type"`
	SKU           string          `json:"sku"`
	Quantity      int             `json:"quantity"`
	OrderNumber   string          `json:"order_number,omitempty"`
	Notes         string          `json:"notes,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// ID возвращает идентификатор операции
func (t *Transaction) ID() string {
	return t.TransactionID
}

// NaturalKey возвращает уникальный ключ операции для reserve/release;
// прочие типы не ограничены
func (t *Transaction) NaturalKey() string {
	if t.OrderNumber == "" {
		return ""
	}
	switch t.Type {
	case TransactionReserve, TransactionRelease:
		return fmt.Sprintf("%s:%s:%s", t.Type, t.OrderNumber, t.SKU)
	default:
		return ""
	}
}
