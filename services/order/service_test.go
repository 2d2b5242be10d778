package order

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

func validCreateRequest() CreateRequest {
	return CreateRequest{
		CustomerName:       "Иван Петров",
		CustomerEmail:      "ivan@example.com",
		OriginAddress:      "Москва, ул. Складская 1",
		DestinationAddress: "Казань, ул. Доставочная 5",
		PackageWeight:      2.5,
		Items: []Item{
			{SKU: "SKU-1", ItemName: "Widget", Quantity: 2},
		},
	}
}

func newTestService(t *testing.T) (*Service, *fakePublisher) {
	t.Helper()
	pub := &fakePublisher{}
	svc, err := NewService(NewInMemoryStore(), pub, DefaultServiceConfig())
	if err != nil {
		t.Fatalf("Failed to create service: %v", err)
	}
	return svc, pub
}

func TestCreateOrder(t *testing.T) {
	svc, pub := newTestService(t)
	ctx := context.Background()

	o, err := svc.Create(ctx, validCreateRequest())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if o.Status != StatusPending {
		t.Errorf("Expected status pending, got %s", o.Status)
	}
	if !strings.HasPrefix(o.OrderNumber, "ORD-") {
		t.Errorf("Expected ORD- prefix, got %s", o.OrderNumber)
	}
	if o.EstimatedDelivery.Before(o.CreatedAt) {
		t.Error("Estimated delivery must be after creation")
	}

	if len(pub.routings) != 1 || pub.routings[0] != events.RoutingKeyOrderCreated {
		t.Fatalf("Expected one order.created event, got %v", pub.routings)
	}
	payload, ok := pub.payloads[0].(events.OrderCreated)
	if !ok {
		t.Fatalf("Expected OrderCreated payload, got %T", pub.payloads[0])
	}
	if payload.OrderNumber != o.OrderNumber {
		t.Errorf("Expected order number %s in event, got %s", o.OrderNumber, payload.OrderNumber)
	}
}

func TestCreateOrderValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	req := validCreateRequest()
	req.Items = nil
	if _, err := svc.Create(ctx, req); !core.HasCode(err, core.ErrInvalidConfig) {
		t.Errorf("Expected INVALID_CONFIG for empty items, got %v", err)
	}

	req = validCreateRequest()
	req.PackageWeight = 0
	if _, err := svc.Create(ctx, req); !core.HasCode(err, core.ErrInvalidConfig) {
		t.Errorf("Expected INVALID_CONFIG for zero weight, got %v", err)
	}
}

func TestCreateOrderSurvivesPublishFailure(t *testing.T) {
	svc, pub := newTestService(t)
	pub.fail = true
	ctx := context.Background()

	// publish-after-commit: потеря события не откатывает заказ
	o, err := svc.Create(ctx, validCreateRequest())
	if err != nil {
		t.Fatalf("Create must not fail on publish failure: %v", err)
	}

	if _, err := svc.GetByID(ctx, o.OrderID); err != nil {
		t.Errorf("Order must be persisted despite publish failure: %v", err)
	}
}

func TestUpdateStatus(t *testing.T) {
	svc, pub := newTestService(t)
	ctx := context.Background()

	o, _ := svc.Create(ctx, validCreateRequest())

	updated, err := svc.UpdateStatus(ctx, o.OrderID, StatusProcessing)
	if err != nil {
		t.Fatalf("UpdateStatus failed: %v", err)
	}
	if updated.Status != StatusProcessing {
		t.Errorf("Expected status processing, got %s", updated.Status)
	}

	last := pub.payloads[len(pub.payloads)-1]
	change, ok := last.(events.OrderStatusChanged)
	if !ok {
		t.Fatalf("Expected OrderStatusChanged payload, got %T", last)
	}
	if change.OldStatus != string(StatusPending) || change.NewStatus != string(StatusProcessing) {
		t.Errorf("Unexpected transition in event: %+v", change)
	}
}

func TestUpdateStatusInvalidTransition(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	o, _ := svc.Create(ctx, validCreateRequest())
	if _, err := svc.UpdateStatus(ctx, o.OrderID, StatusDelivered); !core.HasCode(err, core.ErrInvalidTransition) {
		t.Errorf("Expected INVALID_TRANSITION for pending->delivered, got %v", err)
	}

	// терминальный статус не покидается
	_, _ = svc.UpdateStatus(ctx, o.OrderID, StatusCancelled)
	if _, err := svc.UpdateStatus(ctx, o.OrderID, StatusProcessing); !core.HasCode(err, core.ErrInvalidTransition) {
		t.Errorf("Expected INVALID_TRANSITION out of cancelled, got %v", err)
	}
}

func TestCancelOrder(t *testing.T) {
	svc, pub := newTestService(t)
	ctx := context.Background()

	o, _ := svc.Create(ctx, validCreateRequest())
	cancelled, err := svc.Cancel(ctx, o.OrderID)
	if err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if cancelled.Status != StatusCancelled {
		t.Errorf("Expected status cancelled, got %s", cancelled.Status)
	}

	last := pub.payloads[len(pub.payloads)-1].(events.OrderStatusChanged)
	if last.NewStatus != string(StatusCancelled) {
		t.Errorf("Expected cancellation event, got %+v", last)
	}
}

func TestListOrders(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := svc.Create(ctx, validCreateRequest()); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}

	orders, total, err := svc.List(ctx, "", 1, 3)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if total != 5 {
		t.Errorf("Expected total 5, got %d", total)
	}
	if len(orders) != 3 {
		t.Errorf("Expected page of 3, got %d", len(orders))
	}

	pending, total, err := svc.List(ctx, StatusPending, 1, 10)
	if err != nil {
		t.Fatalf("List by status failed: %v", err)
	}
	if total != 5 || len(pending) != 5 {
		t.Errorf("Expected 5 pending orders, got total=%d len=%d", total, len(pending))
	}

	if _, _, err := svc.List(ctx, Status("bogus"), 1, 10); !core.HasCode(err, core.ErrInvalidConfig) {
		t.Errorf("Expected INVALID_CONFIG for unknown status, got %v", err)
	}
}

func TestGetByNumber(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	o, _ := svc.Create(ctx, validCreateRequest())
	found, err := svc.GetByNumber(ctx, o.OrderNumber)
	if err != nil {
		t.Fatalf("GetByNumber failed: %v", err)
	}
	if found.OrderID != o.OrderID {
		t.Errorf("Expected order %s, got %s", o.OrderID, found.OrderID)
	}

	if _, err := svc.GetByNumber(ctx, "ORD-MISSING"); !core.HasCode(err, core.ErrNotFound) {
		t.Errorf("Expected NOT_FOUND, got %v", err)
	}
}

func TestGetStatistics(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	a, _ := svc.Create(ctx, validCreateRequest())
	b, _ := svc.Create(ctx, validCreateRequest())
	_, _ = svc.Create(ctx, validCreateRequest())
	_, _ = svc.UpdateStatus(ctx, a.OrderID, StatusProcessing)
	_, _ = svc.Cancel(ctx, b.OrderID)

	stats, err := svc.GetStatistics(ctx)
	if err != nil {
		t.Fatalf("GetStatistics failed: %v", err)
	}
	if stats.Total != 3 {
		t.Errorf("Expected total 3, got %d", stats.Total)
	}
	if stats.Pending != 1 || stats.Processing != 1 || stats.Cancelled != 1 {
		t.Errorf("Unexpected statistics: %+v", stats)
	}
}

func TestOrderTransitions(t *testing.T) {
	cases := []struct {
		from  Status
		to    Status
		valid bool
	}{
		{StatusPending, StatusProcessing, true},
		{StatusPending, StatusShipped, true},
		{StatusPending, StatusCancelled, true},
		{StatusPending, StatusDelivered, false},
		{StatusProcessing, StatusShipped, true},
		{StatusProcessing, StatusPending, false},
		{StatusShipped, StatusDelivered, true},
		{StatusDelivered, StatusCancelled, false},
		{StatusCancelled, StatusPending, false},
	}

	for _, tc := range cases {
		o := &Order{OrderID: "id", OrderNumber: "ORD-TEST", Status: tc.from}
		err := o.Transition(tc.to)
		if tc.valid && err != nil {
			t.Errorf("Transition %s->%s must be valid: %v", tc.from, tc.to, err)
		}
		if !tc.valid && !core.HasCode(err, core.ErrInvalidTransition) {
			t.Errorf("Transition %s->%s must fail with INVALID_TRANSITION, got %v", tc.from, tc.to, err)
		}
	}
}
