package tracking

import (
	"context"
	"errors"
	"strings"
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

func newTestService(t *testing.T) (*Service, *fakePublisher) {
	t.Helper()
	pub := &fakePublisher{}
	svc, err := NewService(NewInMemoryStore(), pub)
	if err != nil {
		t.Fatalf("Failed to create service: %v", err)
	}
	return svc, pub
}

func TestCreateFromOrder(t *testing.T) {
	svc, pub := newTestService(t)
	ctx := context.Background()

	sh, err := svc.CreateFromOrder(ctx, "ORD-1", "Москва, ул. Складская 1")
	if err != nil {
		t.Fatalf("CreateFromOrder failed: %v", err)
	}

	if !strings.HasPrefix(sh.TrackingNumber, "TRK-") {
		t.Errorf("Expected TRK- prefix, got %s", sh.TrackingNumber)
	}
	if sh.Status != StatusInTransit {
		t.Errorf("Expected status in_transit, got %s", sh.Status)
	}
	if sh.Carrier != DefaultCarrier {
		t.Errorf("Expected default carrier, got %s", sh.Carrier)
	}
	if sh.CurrentLocation != "Москва, ул. Складская 1" {
		t.Errorf("Expected origin as current location, got %s", sh.CurrentLocation)
	}

	if len(pub.routings) != 1 || pub.routings[0] != events.RoutingKeyShipmentCreated {
		t.Fatalf("Expected one shipment.created event, got %v", pub.routings)
	}
	payload := pub.payloads[0].(events.ShipmentCreated)
	if payload.OrderNumber != "ORD-1" || payload.TrackingNumber != sh.TrackingNumber {
		t.Errorf("Unexpected event payload: %+v", payload)
	}
}

func TestCreateFromOrderDefaultsLocation(t *testing.T) {
	svc, _ := newTestService(t)

	sh, err := svc.CreateFromOrder(context.Background(), "ORD-1", "")
	if err != nil {
		t.Fatalf("CreateFromOrder failed: %v", err)
	}
	if sh.CurrentLocation != "Warehouse" {
		t.Errorf("Expected 'Warehouse' fallback, got %s", sh.CurrentLocation)
	}
}

func TestCreateFromOrderIsIdempotent(t *testing.T) {
	svc, pub := newTestService(t)
	ctx := context.Background()

	first, err := svc.CreateFromOrder(ctx, "ORD-1", "Москва")
	if err != nil {
		t.Fatalf("CreateFromOrder failed: %v", err)
	}
	// повторная доставка order.created: то же отправление, без второго события
	second, err := svc.CreateFromOrder(ctx, "ORD-1", "Москва")
	if err != nil {
		t.Fatalf("Duplicate CreateFromOrder must succeed: %v", err)
	}

	if second.TrackingNumber != first.TrackingNumber {
		t.Errorf("Expected the same shipment, got %s and %s", first.TrackingNumber, second.TrackingNumber)
	}
	if len(pub.routings) != 1 {
		t.Errorf("Expected exactly one shipment.created event, got %d", len(pub.routings))
	}
}

func TestUpdateStatus(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	sh, _ := svc.CreateFromOrder(ctx, "ORD-1", "Москва")

	updated, err := svc.UpdateStatus(ctx, sh.TrackingNumber, StatusOutForDelivery, "Казань")
	if err != nil {
		t.Fatalf("UpdateStatus failed: %v", err)
	}
	if updated.Status != StatusOutForDelivery {
		t.Errorf("Expected out_for_delivery, got %s", updated.Status)
	}
	if updated.CurrentLocation != "Казань" {
		t.Errorf("Expected location update, got %s", updated.CurrentLocation)
	}

	if _, err := svc.UpdateStatus(ctx, sh.TrackingNumber, StatusInTransit, ""); !core.HasCode(err, core.ErrInvalidTransition) {
		t.Errorf("Expected INVALID_TRANSITION back to in_transit, got %v", err)
	}

	if _, err := svc.UpdateStatus(ctx, sh.TrackingNumber, StatusDelivered, ""); err != nil {
		t.Fatalf("UpdateStatus to delivered failed: %v", err)
	}
	if _, err := svc.UpdateStatus(ctx, sh.TrackingNumber, StatusOutForDelivery, ""); !core.HasCode(err, core.ErrInvalidTransition) {
		t.Errorf("Expected INVALID_TRANSITION out of delivered, got %v", err)
	}
}

func TestAddEvent(t *testing.T) {
	svc, pub := newTestService(t)
	ctx := context.Background()

	sh, _ := svc.CreateFromOrder(ctx, "ORD-1", "Москва")

	event, err := svc.AddEvent(ctx, sh.TrackingNumber, AddEventRequest{
		EventType:   "location_update",
		Location:    "Нижний Новгород",
		Description: "Прибыло в сортировочный центр",
	})
	if err != nil {
		t.Fatalf("AddEvent failed: %v", err)
	}
	if event.TrackingNumber != sh.TrackingNumber {
		t.Errorf("Expected tracking number %s, got %s", sh.TrackingNumber, event.TrackingNumber)
	}

	updated, _ := svc.GetByTrackingNumber(ctx, sh.TrackingNumber)
	if updated.CurrentLocation != "Нижний Новгород" {
		t.Errorf("Expected current location updated, got %s", updated.CurrentLocation)
	}

	last := pub.routings[len(pub.routings)-1]
	if last != events.RoutingKeyTrackingEventAdded {
		t.Errorf("Expected tracking.event_added, got %s", last)
	}
	payload := pub.payloads[len(pub.payloads)-1].(events.TrackingEventAdded)
	if payload.Location != "Нижний Новгород" || payload.OrderNumber != "ORD-1" {
		t.Errorf("Unexpected event payload: %+v", payload)
	}
}

func TestGetEventsNewestFirst(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	sh, _ := svc.CreateFromOrder(ctx, "ORD-1", "Москва")
	_, _ = svc.AddEvent(ctx, sh.TrackingNumber, AddEventRequest{EventType: "a", Location: "L1", Description: "d1"})
	_, _ = svc.AddEvent(ctx, sh.TrackingNumber, AddEventRequest{EventType: "b", Location: "L2", Description: "d2"})

	evs, err := svc.GetEvents(ctx, sh.TrackingNumber)
	if err != nil {
		t.Fatalf("GetEvents failed: %v", err)
	}
	if len(evs) != 2 {
		t.Fatalf("Expected 2 events, got %d", len(evs))
	}
	if evs[0].Timestamp.Before(evs[1].Timestamp) {
		t.Error("Expected newest event first")
	}
}

func TestGetByOrderNumberNotFound(t *testing.T) {
	svc, _ := newTestService(t)

	if _, err := svc.GetByOrderNumber(context.Background(), "ORD-MISSING"); !core.HasCode(err, core.ErrNotFound) {
		t.Errorf("Expected NOT_FOUND, got %v", err)
	}
}

func TestGetStatistics(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	a, _ := svc.CreateFromOrder(ctx, "ORD-1", "")
	_, _ = svc.CreateFromOrder(ctx, "ORD-2", "")
	_, _ = svc.UpdateStatus(ctx, a.TrackingNumber, StatusDelivered, "")

	stats, err := svc.GetStatistics(ctx)
	if err != nil {
		t.Fatalf("GetStatistics failed: %v", err)
	}
	if stats.Total != 2 || stats.InTransit != 1 || stats.Delivered != 1 {
		t.Errorf("Unexpected statistics: %+v", stats)
	}
}
