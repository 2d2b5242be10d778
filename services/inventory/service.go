package inventory

import (
	"context"
	"fmt"
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

// DefaultReorderLevel уровень пополнения по умолчанию
const DefaultReorderLevel = 10

// Service бизнес-логика складского сервиса.
//
// Reserve работает best-effort: каждая позиция резервируется в пределах
// доступного остатка, нехватка по одному SKU не отменяет остальные.
// Повторное резервирование того же заказа идемпотентно за счет
// уникальных ключей операций
type Service struct {
	store     Store
	publisher EventPublisher
	log       *slog.Logger
}

// NewService создает складской сервис
func NewService(store Store, publisher EventPublisher) (*Service, error) {
	if store == nil {
		return nil, core.NewError(core.ErrInvalidConfig, "inventory store is required")
	}
	if publisher == nil {
		return nil, core.NewError(core.ErrInvalidConfig, "event publisher is required")
	}
	return &Service{
		store:     store,
		publisher: publisher,
		log:       slog.Default().With(slog.String("service", "inventory")),
	}, nil
}

// CreateWarehouseRequest данные для создания склада
type CreateWarehouseRequest struct {
	Code     string `json:"warehouse_code" binding:"required"`
	Name     string `json:"name" binding:"required"`
	Location string `json:"location" binding:"required"`
	Capacity int    `json:"capacity" binding:"required,gt=0"`
}

// CreateWarehouse создает склад
func (s *Service) CreateWarehouse(ctx context.Context, req CreateWarehouseRequest) (*Warehouse, error) {
	if req.Code == "" || req.Name == "" {
		return nil, core.NewError(core.ErrInvalidConfig, "warehouse code and name are required")
	}
	if req.Capacity <= 0 {
		return nil, core.NewError(core.ErrInvalidConfig, "warehouse capacity must be positive")
	}

	w := &Warehouse{
		WarehouseID: uuid.NewString(),
		Code:        req.Code,
		Name:        req.Name,
		Location:    req.Location,
		Capacity:    req.Capacity,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.store.InsertWarehouse(ctx, w); err != nil {
		return nil, err
	}

	s.log.InfoContext(ctx, "warehouse_created",
		slog.String("warehouse_code", w.Code),
		slog.String("name", w.Name))
	return w, nil
}

// ListWarehouses возвращает все склады
func (s *Service) ListWarehouses(ctx context.Context) ([]*Warehouse, error) {
	return s.store.ListWarehouses(ctx)
}

// CreateItemRequest данные для создания складской позиции
type CreateItemRequest struct {
	WarehouseCode string `json:"warehouse_code" binding:"required"`
	SKU           string `json:"sku" binding:"required"`
	ItemName      string `json:"item_name" binding:"required"`
	Quantity      int    `json:"quantity" binding:"gte=0"`
	ReorderLevel  int    `json:"reorder_level"`
}

// CreateItem создает складскую позицию
func (s *Service) CreateItem(ctx context.Context, req CreateItemRequest) (*Item, error) {
	if req.SKU == "" || req.ItemName == "" {
		return nil, core.NewError(core.ErrInvalidConfig, "sku and item_name are required")
	}
	if req.Quantity < 0 {
		return nil, core.NewError(core.ErrInvalidConfig, "quantity cannot be negative")
	}

	w, err := s.store.FindWarehouseByCode(ctx, req.WarehouseCode)
	if err != nil {
		return nil, err
	}

	reorderLevel := req.ReorderLevel
	if reorderLevel <= 0 {
		reorderLevel = DefaultReorderLevel
	}

	item := &Item{
		ItemID:       uuid.NewString(),
		WarehouseID:  w.WarehouseID,
		SKU:          req.SKU,
		ItemName:     req.ItemName,
		Quantity:     req.Quantity,
		ReorderLevel: reorderLevel,
		UpdatedAt:    time.Now().UTC(),
	}
	if err := s.store.InsertItem(ctx, item); err != nil {
		return nil, err
	}

	s.log.InfoContext(ctx, "inventory_item_created",
		slog.String("sku", item.SKU),
		slog.Int("quantity", item.Quantity))
	return item, nil
}

// ListItems возвращает складские позиции
func (s *Service) ListItems(ctx context.Context, warehouseID string) ([]*Item, error) {
	return s.store.ListItems(ctx, warehouseID)
}

// GetBySKU возвращает позиции по SKU
func (s *Service) GetBySKU(ctx context.Context, sku string) ([]*Item, error) {
	items, err := s.store.FindBySKU(ctx, sku)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, core.NewError(core.ErrNotFound, fmt.Sprintf("sku not found: %s", sku))
	}
	return items, nil
}

// AvailabilityDetail результат проверки доступности одного SKU
type AvailabilityDetail struct {
	SKU        string `json:"sku"`
	Required   int    `json:"required"`
	Available  int    `json:"available"`
	Sufficient bool   `json:"sufficient"`
}

// CheckAvailability проверяет доступность позиций суммарно по складам
func (s *Service) CheckAvailability(ctx context.Context, items []events.OrderItemPayload) (bool, []AvailabilityDetail, error) {
	allAvailable := true
	details := make([]AvailabilityDetail, 0, len(items))

	for _, req := range items {
		if req.SKU == "" {
			continue
		}

		stock, err := s.store.FindBySKU(ctx, req.SKU)
		if err != nil {
			return false, nil, err
		}
		totalAvailable := 0
		for _, item := range stock {
			totalAvailable += item.Available()
		}

		sufficient := totalAvailable >= req.Quantity
		if !sufficient {
			allAvailable = false
		}
		details = append(details, AvailabilityDetail{
			SKU:        req.SKU,
			Required:   req.Quantity,
			Available:  totalAvailable,
			Sufficient: sufficient,
		})
	}

	return allAvailable, details, nil
}

// Reserve резервирует позиции заказа best-effort.
// SKU без достаточного остатка пропускается; повторный вызов для того
// же заказа не создает двойных резервов
func (s *Service) Reserve(ctx context.Context, orderNumber string, items []events.OrderItemPayload) error {
	if orderNumber == "" {
		return core.NewError(core.ErrInvalidConfig, "order number is required")
	}

	for _, req := range items {
		if req.SKU == "" || req.Quantity <= 0 {
			continue
		}
		if err := s.reserveOne(ctx, orderNumber, req.SKU, req.Quantity); err != nil {
			return err
		}
	}
	return nil
}

// reserveOne резервирует один SKU на первом складе с достаточным остатком
func (s *Service) reserveOne(ctx context.Context, orderNumber, sku string, quantity int) error {
	stock, err := s.store.FindBySKU(ctx, sku)
	if err != nil {
		return err
	}

	var target *Item
	for _, item := range stock {
		if item.Available() >= quantity {
			target = item
			break
		}
	}
	if target == nil {
		s.log.WarnContext(ctx, "insufficient_inventory",
			slog.String("sku", sku),
			slog.Int("required", quantity),
			slog.String("order_number", orderNumber))
		return nil
	}

	// естественный ключ (reserve, order, sku) защищает от повтора
	reservation := &Transaction{
		TransactionID: uuid.NewString(),
		ItemID:        target.ItemID,
		Type:          TransactionReserve,
		SKU:           sku,
		Quantity:      quantity,
		OrderNumber:   orderNumber,
		Notes:         fmt.Sprintf("Reserved for order %s", orderNumber),
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.store.InsertTransaction(ctx, reservation); err != nil {
		if core.HasCode(err, core.ErrAlreadyExists) {
			s.log.InfoContext(ctx, "reservation_already_applied",
				slog.String("sku", sku),
				slog.String("order_number", orderNumber))
			return nil
		}
		return err
	}

	target.ReservedQuantity += quantity
	target.UpdatedAt = time.Now().UTC()
	if err := s.store.SaveItem(ctx, target); err != nil {
		return err
	}

	s.log.InfoContext(ctx, "inventory_reserved",
		slog.String("sku", sku),
		slog.Int("quantity", quantity),
		slog.String("order_number", orderNumber))

	if target.LowStock() {
		s.publishLowStock(ctx, target)
	}
	return nil
}

// publishLowStock публикует inventory.low_stock
func (s *Service) publishLowStock(ctx context.Context, item *Item) {
	payload := events.InventoryLowStock{
		SKU:          item.SKU,
		RemainingQty: item.Available(),
		ReorderLevel: item.ReorderLevel,
	}
	if err := s.publisher.Publish(ctx, events.RoutingKeyInventoryLowStock, payload); err != nil {
		s.log.ErrorContext(ctx, "low_stock_event_lost",
			slog.String("sku", item.SKU),
			slog.String("error", err.Error()))
	}
}

// Release снимает резервы отмененного заказа. Повторный вызов
// безопасен: уже снятые резервы пропускаются
func (s *Service) Release(ctx context.Context, orderNumber string) error {
	reservations, err := s.store.FindReservations(ctx, orderNumber)
	if err != nil {
		return err
	}

	for _, reservation := range reservations {
		release := &Transaction{
			TransactionID: uuid.NewString(),
			ItemID:        reservation.ItemID,
			Type:          TransactionRelease,
			SKU:           reservation.SKU,
			Quantity:      reservation.Quantity,
			OrderNumber:   orderNumber,
			Notes:         fmt.Sprintf("Released from cancelled order %s", orderNumber),
			CreatedAt:     time.Now().UTC(),
		}
		if err := s.store.InsertTransaction(ctx, release); err != nil {
			if core.HasCode(err, core.ErrAlreadyExists) {
				continue
			}
			return err
		}

		item, err := s.store.FindByItemID(ctx, reservation.ItemID)
		if err != nil {
			return err
		}
		item.ReservedQuantity -= reservation.Quantity
		if item.ReservedQuantity < 0 {
			item.ReservedQuantity = 0
		}
		item.UpdatedAt = time.Now().UTC()
		if err := s.store.SaveItem(ctx, item); err != nil {
			return err
		}

		s.log.InfoContext(ctx, "inventory_released",
			slog.String("sku", reservation.SKU),
			slog.Int("quantity", reservation.Quantity),
			slog.String("order_number", orderNumber))
	}
	return nil
}

// AdjustRequest данные для корректировки остатка
type AdjustRequest struct {
	SKU            string `json:"sku" binding:"required"`
	WarehouseCode  string `json:"warehouse_code" binding:"required"`
	QuantityChange int    `json:"quantity_change" binding:"required"`
	Notes          string `json:"notes"`
}

// Adjust корректирует остаток позиции
func (s *Service) Adjust(ctx context.Context, req AdjustRequest) (*Item, error) {
	w, err := s.store.FindWarehouseByCode(ctx, req.WarehouseCode)
	if err != nil {
		return nil, err
	}
	item, err := s.store.FindItem(ctx, w.WarehouseID, req.SKU)
	if err != nil {
		return nil, err
	}

	item.Quantity += req.QuantityChange
	if item.Quantity < 0 {
		item.Quantity = 0
	}
	item.UpdatedAt = time.Now().UTC()
	if err := s.store.SaveItem(ctx, item); err != nil {
		return nil, err
	}

	txType := TransactionAdjust
	if req.QuantityChange < 0 {
		txType = TransactionReduce
	}
	notes := req.Notes
	if notes == "" {
		notes = fmt.Sprintf("Manual adjustment: %+d", req.QuantityChange)
	}
	adjustment := &Transaction{
		TransactionID: uuid.NewString(),
		ItemID:        item.ItemID,
		Type:          txType,
		SKU:           item.SKU,
		Quantity:      abs(req.QuantityChange),
		Notes:         notes,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.store.InsertTransaction(ctx, adjustment); err != nil {
		return nil, err
	}

	s.log.InfoContext(ctx, "inventory_adjusted",
		slog.String("sku", item.SKU),
		slog.String("warehouse", req.WarehouseCode),
		slog.Int("change", req.QuantityChange),
		slog.Int("new_quantity", item.Quantity))

	if item.LowStock() {
		s.publishLowStock(ctx, item)
	}
	return item, nil
}

// LowStockItems возвращает позиции с остатком на уровне пополнения
func (s *Service) LowStockItems(ctx context.Context) ([]*Item, error) {
	return s.store.LowStockItems(ctx)
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
