package events_test

import (
	"context"
	"testing"
	"time"

	"github.com/cargoflow/cargoflow/adapters/messagebus"
	"github.com/cargoflow/cargoflow/dedup"
	"github.com/cargoflow/cargoflow/events"
	"github.com/cargoflow/cargoflow/services/inventory"
	"github.com/cargoflow/cargoflow/services/notification"
	"github.com/cargoflow/cargoflow/services/order"
	"github.com/cargoflow/cargoflow/services/tracking"
)

// platform собирает все сервисы поверх одной in-memory шины
type platform struct {
	bus          *messagebus.InMemoryAdapter
	orderService *order.Service
	inventorySvc *inventory.Service
	trackingSvc  *tracking.Service
	notifySvc    *notification.Service
}

func newPlatform(t *testing.T) *platform {
	t.Helper()
	ctx := context.Background()

	busCfg := messagebus.DefaultInMemoryConfig()
	busCfg.RedeliveryDelay = time.Millisecond
	bus := messagebus.NewInMemoryAdapter(busCfg)
	if err := bus.Start(ctx); err != nil {
		t.Fatalf("Failed to start bus: %v", err)
	}
	t.Cleanup(func() { _ = bus.Stop(context.Background()) })

	newPublisher := func(source string) *events.Publisher {
		cfg := events.DefaultPublisherConfig(source)
		cfg.EnableMetrics = false
		pub, err := events.NewPublisher(bus, cfg)
		if err != nil {
			t.Fatalf("Failed to create publisher: %v", err)
		}
		return pub
	}

	startConsumer := func(queue string, register func(*events.Consumer) error) {
		cfg := events.DefaultConsumerConfig(queue)
		cfg.EnableMetrics = false
		cfg.EnableTracing = false
		c, err := events.NewConsumer(bus, cfg)
		if err != nil {
			t.Fatalf("Failed to create consumer for %s: %v", queue, err)
		}
		if err := register(c); err != nil {
			t.Fatalf("Failed to register handlers for %s: %v", queue, err)
		}
		if err := c.Start(ctx); err != nil {
			t.Fatalf("Failed to start consumer for %s: %v", queue, err)
		}
		t.Cleanup(func() { _ = c.Stop(context.Background()) })
	}

	p := &platform{bus: bus}

	var err error
	p.orderService, err = order.NewService(order.NewInMemoryStore(), newPublisher("order-service"), order.DefaultServiceConfig())
	if err != nil {
		t.Fatalf("Failed to create order service: %v", err)
	}

	p.inventorySvc, err = inventory.NewService(inventory.NewInMemoryStore(), newPublisher("inventory-service"))
	if err != nil {
		t.Fatalf("Failed to create inventory service: %v", err)
	}
	invHandlers, err := inventory.NewHandlers(p.inventorySvc, dedup.NewInMemoryGuard())
	if err != nil {
		t.Fatalf("Failed to create inventory handlers: %v", err)
	}
	startConsumer(inventory.QueueName, invHandlers.Register)

	p.trackingSvc, err = tracking.NewService(tracking.NewInMemoryStore(), newPublisher("tracking-service"))
	if err != nil {
		t.Fatalf("Failed to create tracking service: %v", err)
	}
	trkHandlers, err := tracking.NewHandlers(p.trackingSvc, dedup.NewInMemoryGuard())
	if err != nil {
		t.Fatalf("Failed to create tracking handlers: %v", err)
	}
	startConsumer(tracking.QueueName, trkHandlers.Register)

	p.notifySvc, err = notification.NewService(notification.NewInMemoryStore(), notification.NewRegistry(), notification.DefaultServiceConfig())
	if err != nil {
		t.Fatalf("Failed to create notification service: %v", err)
	}
	ntfHandlers, err := notification.NewHandlers(p.notifySvc, dedup.NewInMemoryGuard())
	if err != nil {
		t.Fatalf("Failed to create notification handlers: %v", err)
	}
	startConsumer(notification.QueueName, ntfHandlers.Register)

	return p
}

func (p *platform) waitIdle(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.bus.WaitIdle(ctx); err != nil {
		t.Fatalf("Bus did not drain: %v", err)
	}
}

func (p *platform) seedInventory(t *testing.T, sku string, quantity int) {
	t.Helper()
	ctx := context.Background()
	if _, err := p.inventorySvc.CreateWarehouse(ctx, inventory.CreateWarehouseRequest{
		Code: "WH-1", Name: "Main", Location: "Москва", Capacity: 10000,
	}); err != nil {
		t.Fatalf("Failed to create warehouse: %v", err)
	}
	if _, err := p.inventorySvc.CreateItem(ctx, inventory.CreateItemRequest{
		WarehouseCode: "WH-1", SKU: sku, ItemName: "Item " + sku, Quantity: quantity, ReorderLevel: 5,
	}); err != nil {
		t.Fatalf("Failed to create item: %v", err)
	}
}

func createOrderRequest() order.CreateRequest {
	return order.CreateRequest{
		CustomerName:       "Иван Петров",
		CustomerEmail:      "ivan@example.com",
		OriginAddress:      "Москва, ул. Складская 1",
		DestinationAddress: "Казань, ул. Доставочная 5",
		PackageWeight:      2.5,
		Items:              []order.Item{{SKU: "SKU-1", ItemName: "Widget", Quantity: 2}},
	}
}

func TestOrderCreationChoreography(t *testing.T) {
	p := newPlatform(t)
	ctx := context.Background()
	p.seedInventory(t, "SKU-1", 100)

	o, err := p.orderService.Create(ctx, createOrderRequest())
	if err != nil {
		t.Fatalf("Create order failed: %v", err)
	}
	p.waitIdle(t)

	// отправление создано по order.created
	sh, err := p.trackingSvc.GetByOrderNumber(ctx, o.OrderNumber)
	if err != nil {
		t.Fatalf("Expected a shipment for the order: %v", err)
	}
	if sh.CurrentLocation != o.OriginAddress {
		t.Errorf("Expected shipment at origin, got %s", sh.CurrentLocation)
	}

	// резерв по order.created
	items, err := p.inventorySvc.GetBySKU(ctx, "SKU-1")
	if err != nil {
		t.Fatalf("GetBySKU failed: %v", err)
	}
	if items[0].ReservedQuantity != 2 {
		t.Errorf("Expected 2 reserved, got %d", items[0].ReservedQuantity)
	}

	// уведомление о подтверждении заказа
	notifications, total, err := p.notifySvc.List(ctx, "", 1, 10)
	if err != nil {
		t.Fatalf("List notifications failed: %v", err)
	}
	if total != 1 {
		t.Fatalf("Expected 1 notification, got %d", total)
	}
	if notifications[0].NotificationType != events.RoutingKeyOrderCreated {
		t.Errorf("Expected order.created notification, got %s", notifications[0].NotificationType)
	}
	if notifications[0].Recipient != "ivan@example.com" {
		t.Errorf("Expected customer recipient, got %s", notifications[0].Recipient)
	}
}

func TestDuplicateEventDeliveryIsIdempotent(t *testing.T) {
	p := newPlatform(t)
	ctx := context.Background()
	p.seedInventory(t, "SKU-1", 100)

	o, err := p.orderService.Create(ctx, createOrderRequest())
	if err != nil {
		t.Fatalf("Create order failed: %v", err)
	}
	p.waitIdle(t)

	// переиздание того же бизнес-факта (новый event id, тот же номер заказа)
	redeliveryCfg := events.DefaultPublisherConfig("test-redelivery")
	redeliveryCfg.EnableMetrics = false
	pub, err := events.NewPublisher(p.bus, redeliveryCfg)
	if err != nil {
		t.Fatalf("Failed to create publisher: %v", err)
	}
	err = pub.Publish(ctx, events.RoutingKeyOrderCreated, events.OrderCreated{
		OrderNumber:   o.OrderNumber,
		CustomerName:  o.CustomerName,
		CustomerEmail: o.CustomerEmail,
		OriginAddress: o.OriginAddress,
		Items:         []events.OrderItemPayload{{SKU: "SKU-1", Quantity: 2}},
	})
	if err != nil {
		t.Fatalf("Republish failed: %v", err)
	}
	p.waitIdle(t)

	// каждый сервис применил событие ровно один раз
	items, _ := p.inventorySvc.GetBySKU(ctx, "SKU-1")
	if items[0].ReservedQuantity != 2 {
		t.Errorf("Expected 2 reserved after duplicate, got %d", items[0].ReservedQuantity)
	}

	shipments, total, err := p.trackingSvc.List(ctx, "", 1, 10)
	if err != nil {
		t.Fatalf("List shipments failed: %v", err)
	}
	if total != 1 || len(shipments) != 1 {
		t.Errorf("Expected exactly one shipment, got %d", total)
	}

	_, total, err = p.notifySvc.List(ctx, "", 1, 10)
	if err != nil {
		t.Fatalf("List notifications failed: %v", err)
	}
	if total != 1 {
		t.Errorf("Expected exactly one notification, got %d", total)
	}
}

func TestOrderCancellationReleasesReservation(t *testing.T) {
	p := newPlatform(t)
	ctx := context.Background()
	p.seedInventory(t, "SKU-1", 100)

	o, err := p.orderService.Create(ctx, createOrderRequest())
	if err != nil {
		t.Fatalf("Create order failed: %v", err)
	}
	p.waitIdle(t)

	if _, err := p.orderService.Cancel(ctx, o.OrderID); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	p.waitIdle(t)

	items, _ := p.inventorySvc.GetBySKU(ctx, "SKU-1")
	if items[0].ReservedQuantity != 0 {
		t.Errorf("Expected reservation released after cancellation, got %d", items[0].ReservedQuantity)
	}
}

// Доставка tracking.event_added раньше shipment.created: payload
// самодостаточен, обработчик не падает и результат детерминирован
func TestTrackingEventBeforeShipmentCreatedIsTolerated(t *testing.T) {
	p := newPlatform(t)
	ctx := context.Background()

	pubCfg := events.DefaultPublisherConfig("test-out-of-order")
	pubCfg.EnableMetrics = false
	pub, err := events.NewPublisher(p.bus, pubCfg)
	if err != nil {
		t.Fatalf("Failed to create publisher: %v", err)
	}

	whenAdded := time.Now().UTC().Truncate(time.Second)
	err = pub.Publish(ctx, events.RoutingKeyTrackingEventAdded, events.TrackingEventAdded{
		TrackingNumber: "TRK-OUT-OF-ORDER",
		EventType:      "departed",
		Location:       "Sortation hub",
		Timestamp:      whenAdded,
	})
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	p.waitIdle(t)

	err = pub.Publish(ctx, events.RoutingKeyShipmentCreated, events.ShipmentCreated{
		TrackingNumber: "TRK-OUT-OF-ORDER",
		OrderNumber:    "ORD-OUT-OF-ORDER",
		Status:         "in_transit",
	})
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	p.waitIdle(t)

	// в событиях нет адресата, поэтому оба пропущены без ошибок
	_, total, err := p.notifySvc.List(ctx, "", 1, 10)
	if err != nil {
		t.Fatalf("List notifications failed: %v", err)
	}
	if total != 0 {
		t.Errorf("Expected no notifications without a recipient, got %d", total)
	}
}

func TestLowStockEventReachesNotifications(t *testing.T) {
	p := newPlatform(t)
	ctx := context.Background()
	p.seedInventory(t, "SKU-1", 6)

	_, err := p.orderService.Create(ctx, createOrderRequest())
	if err != nil {
		t.Fatalf("Create order failed: %v", err)
	}
	p.waitIdle(t)

	// 6 - 2 = 4 <= reorder level 5: оповещение о низком остатке
	notifications, _, err := p.notifySvc.List(ctx, "", 1, 10)
	if err != nil {
		t.Fatalf("List notifications failed: %v", err)
	}

	var lowStock *notification.Notification
	for _, n := range notifications {
		if n.NotificationType == events.RoutingKeyInventoryLowStock {
			lowStock = n
		}
	}
	if lowStock == nil {
		t.Fatal("Expected a low stock notification")
	}
	if lowStock.Recipient != notification.DefaultServiceConfig().OpsRecipient {
		t.Errorf("Expected ops recipient, got %s", lowStock.Recipient)
	}
}
