package inventory

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/cargoflow/cargoflow/core"
	"github.com/cargoflow/cargoflow/events"
)

type fakePublisher struct {
	mu       sync.Mutex
	fail     bool
	routings []string
	payloads []interface{}
}

func (p *fakePublisher) Publish(ctx context.Context, routingKey string, payload interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return errors.New("broker unavailable")
	}
	p.routings = append(p.routings, routingKey)
	p.payloads = append(p.payloads, payload)
	return nil
}

func (p *fakePublisher) lowStockEvents() []events.InventoryLowStock {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []events.InventoryLowStock
	for i, key := range p.routings {
		if key == events.RoutingKeyInventoryLowStock {
			out = append(out, p.payloads[i].(events.InventoryLowStock))
		}
	}
	return out
}

func newTestService(t *testing.T) (*Service, *fakePublisher) {
	t.Helper()
	pub := &fakePublisher{}
	svc, err := NewService(NewInMemoryStore(), pub)
	if err != nil {
		t.Fatalf("Failed to create service: %v", err)
	}
	return svc, pub
}

func seedItem(t *testing.T, svc *Service, warehouseCode, sku string, quantity, reorderLevel int) *Item {
	t.Helper()
	ctx := context.Background()

	if _, err := svc.store.FindWarehouseByCode(ctx, warehouseCode); err != nil {
		_, err := svc.CreateWarehouse(ctx, CreateWarehouseRequest{
			Code: warehouseCode, Name: "Main", Location: "Москва", Capacity: 1000,
		})
		if err != nil {
			t.Fatalf("Failed to create warehouse: %v", err)
		}
	}

	item, err := svc.CreateItem(ctx, CreateItemRequest{
		WarehouseCode: warehouseCode,
		SKU:           sku,
		ItemName:      "Item " + sku,
		Quantity:      quantity,
		ReorderLevel:  reorderLevel,
	})
	if err != nil {
		t.Fatalf("Failed to create item: %v", err)
	}
	return item
}

func TestReserve(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	seedItem(t, svc, "WH-1", "SKU-1", 100, 10)

	err := svc.Reserve(ctx, "ORD-1", []events.OrderItemPayload{{SKU: "SKU-1", Quantity: 5}})
	if err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}

	items, _ := svc.GetBySKU(ctx, "SKU-1")
	if items[0].ReservedQuantity != 5 {
		t.Errorf("Expected 5 reserved, got %d", items[0].ReservedQuantity)
	}
	if items[0].Available() != 95 {
		t.Errorf("Expected 95 available, got %d", items[0].Available())
	}
}

func TestReserveIsIdempotent(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	seedItem(t, svc, "WH-1", "SKU-1", 100, 10)

	items := []events.OrderItemPayload{{SKU: "SKU-1", Quantity: 5}}
	if err := svc.Reserve(ctx, "ORD-1", items); err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}
	// повторная доставка того же заказа не двигает остатки
	if err := svc.Reserve(ctx, "ORD-1", items); err != nil {
		t.Fatalf("Duplicate reserve must be a no-op: %v", err)
	}

	stored, _ := svc.GetBySKU(ctx, "SKU-1")
	if stored[0].ReservedQuantity != 5 {
		t.Errorf("Expected 5 reserved after duplicate, got %d", stored[0].ReservedQuantity)
	}
}

func TestReserveBestEffort(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	seedItem(t, svc, "WH-1", "SKU-1", 100, 10)
	seedItem(t, svc, "WH-1", "SKU-2", 1, 0)

	// нехватка SKU-2 не блокирует резерв SKU-1
	err := svc.Reserve(ctx, "ORD-1", []events.OrderItemPayload{
		{SKU: "SKU-1", Quantity: 5},
		{SKU: "SKU-2", Quantity: 50},
		{SKU: "SKU-MISSING", Quantity: 1},
	})
	if err != nil {
		t.Fatalf("Best-effort reserve must not fail: %v", err)
	}

	sku1, _ := svc.GetBySKU(ctx, "SKU-1")
	if sku1[0].ReservedQuantity != 5 {
		t.Errorf("Expected SKU-1 reserved, got %d", sku1[0].ReservedQuantity)
	}
	sku2, _ := svc.GetBySKU(ctx, "SKU-2")
	if sku2[0].ReservedQuantity != 0 {
		t.Errorf("Insufficient SKU-2 must not be reserved, got %d", sku2[0].ReservedQuantity)
	}
}

func TestReservePublishesLowStock(t *testing.T) {
	svc, pub := newTestService(t)
	ctx := context.Background()
	seedItem(t, svc, "WH-1", "SKU-1", 20, 10)

	if err := svc.Reserve(ctx, "ORD-1", []events.OrderItemPayload{{SKU: "SKU-1", Quantity: 15}}); err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}

	low := pub.lowStockEvents()
	if len(low) != 1 {
		t.Fatalf("Expected one low stock event, got %d", len(low))
	}
	if low[0].SKU != "SKU-1" || low[0].RemainingQty != 5 {
		t.Errorf("Unexpected low stock payload: %+v", low[0])
	}
}

func TestRelease(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	seedItem(t, svc, "WH-1", "SKU-1", 100, 10)

	items := []events.OrderItemPayload{{SKU: "SKU-1", Quantity: 5}}
	if err := svc.Reserve(ctx, "ORD-1", items); err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}
	if err := svc.Release(ctx, "ORD-1"); err != nil {
		t.Fatalf("Release failed: %v", err)
	}

	stored, _ := svc.GetBySKU(ctx, "SKU-1")
	if stored[0].ReservedQuantity != 0 {
		t.Errorf("Expected 0 reserved after release, got %d", stored[0].ReservedQuantity)
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	seedItem(t, svc, "WH-1", "SKU-1", 100, 10)

	if err := svc.Reserve(ctx, "ORD-1", []events.OrderItemPayload{{SKU: "SKU-1", Quantity: 5}}); err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}
	if err := svc.Release(ctx, "ORD-1"); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if err := svc.Release(ctx, "ORD-1"); err != nil {
		t.Fatalf("Duplicate release must be a no-op: %v", err)
	}

	stored, _ := svc.GetBySKU(ctx, "SKU-1")
	if stored[0].ReservedQuantity != 0 {
		t.Errorf("Expected 0 reserved after duplicate release, got %d", stored[0].ReservedQuantity)
	}
}

func TestReleaseWithoutReservations(t *testing.T) {
	svc, _ := newTestService(t)

	if err := svc.Release(context.Background(), "ORD-UNKNOWN"); err != nil {
		t.Errorf("Release without reservations must be a no-op: %v", err)
	}
}

func TestCheckAvailability(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	seedItem(t, svc, "WH-1", "SKU-1", 10, 0)
	seedItem(t, svc, "WH-2", "SKU-1", 5, 0)

	ok, details, err := svc.CheckAvailability(ctx, []events.OrderItemPayload{{SKU: "SKU-1", Quantity: 12}})
	if err != nil {
		t.Fatalf("CheckAvailability failed: %v", err)
	}
	// суммарно по складам: 15 >= 12
	if !ok {
		t.Error("Expected availability across warehouses")
	}
	if len(details) != 1 || details[0].Available != 15 {
		t.Errorf("Unexpected details: %+v", details)
	}

	ok, _, err = svc.CheckAvailability(ctx, []events.OrderItemPayload{{SKU: "SKU-1", Quantity: 20}})
	if err != nil {
		t.Fatalf("CheckAvailability failed: %v", err)
	}
	if ok {
		t.Error("Expected insufficient availability")
	}
}

func TestAdjust(t *testing.T) {
	svc, pub := newTestService(t)
	ctx := context.Background()
	seedItem(t, svc, "WH-1", "SKU-1", 20, 10)

	item, err := svc.Adjust(ctx, AdjustRequest{SKU: "SKU-1", WarehouseCode: "WH-1", QuantityChange: -15})
	if err != nil {
		t.Fatalf("Adjust failed: %v", err)
	}
	if item.Quantity != 5 {
		t.Errorf("Expected quantity 5, got %d", item.Quantity)
	}
	if len(pub.lowStockEvents()) != 1 {
		t.Errorf("Expected low stock event after reduction, got %d", len(pub.lowStockEvents()))
	}

	// остаток не уходит в минус
	item, err = svc.Adjust(ctx, AdjustRequest{SKU: "SKU-1", WarehouseCode: "WH-1", QuantityChange: -50})
	if err != nil {
		t.Fatalf("Adjust failed: %v", err)
	}
	if item.Quantity != 0 {
		t.Errorf("Expected quantity clamped to 0, got %d", item.Quantity)
	}
}

func TestCreateItemDuplicate(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	seedItem(t, svc, "WH-1", "SKU-1", 10, 0)

	_, err := svc.CreateItem(ctx, CreateItemRequest{
		WarehouseCode: "WH-1", SKU: "SKU-1", ItemName: "Duplicate", Quantity: 1,
	})
	if !core.HasCode(err, core.ErrAlreadyExists) {
		t.Errorf("Expected ALREADY_EXISTS for duplicate sku in warehouse, got %v", err)
	}
}

func TestCreateWarehouseDuplicateCode(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	req := CreateWarehouseRequest{Code: "WH-1", Name: "Main", Location: "Москва", Capacity: 100}
	if _, err := svc.CreateWarehouse(ctx, req); err != nil {
		t.Fatalf("CreateWarehouse failed: %v", err)
	}
	if _, err := svc.CreateWarehouse(ctx, req); !core.HasCode(err, core.ErrAlreadyExists) {
		t.Errorf("Expected ALREADY_EXISTS for duplicate code, got %v", err)
	}
}

func TestLowStockItems(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	seedItem(t, svc, "WH-1", "SKU-LOW", 5, 10)
	seedItem(t, svc, "WH-1", "SKU-OK", 50, 10)

	low, err := svc.LowStockItems(ctx)
	if err != nil {
		t.Fatalf("LowStockItems failed: %v", err)
	}
	if len(low) != 1 || low[0].SKU != "SKU-LOW" {
		t.Errorf("Expected only SKU-LOW, got %+v", low)
	}
}
