package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cargoflow/cargoflow/core"
	"github.com/cargoflow/cargoflow/transport"
)

type capturingBus struct {
	mu       sync.Mutex
	failures int
	attempts int
	subjects []string
	payloads [][]byte
	headers  []map[string]string
}

func (b *capturingBus) Publish(ctx context.Context, subject string, data []byte, headers map[string]string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.attempts++
	if b.attempts <= b.failures {
		return errors.New("broker unavailable")
	}
	b.subjects = append(b.subjects, subject)
	b.payloads = append(b.payloads, data)
	b.headers = append(b.headers, headers)
	return nil
}

func fastRetryConfig() PublisherConfig {
	cfg := DefaultPublisherConfig("test-service")
	cfg.EnableMetrics = false
	cfg.Retry.InitialDelay = time.Millisecond
	cfg.Retry.MaxDelay = 5 * time.Millisecond
	return cfg
}

func TestPublisherPublish(t *testing.T) {
	bus := &capturingBus{}
	pub, err := NewPublisher(bus, fastRetryConfig())
	if err != nil {
		t.Fatalf("Failed to create publisher: %v", err)
	}

	err = pub.Publish(context.Background(), RoutingKeyOrderCreated, OrderCreated{
		OrderNumber:   "ORD-1",
		CustomerEmail: "a@b.c",
	})
	if err != nil {
		t.Fatalf("Failed to publish: %v", err)
	}

	if len(bus.subjects) != 1 || bus.subjects[0] != RoutingKeyOrderCreated {
		t.Fatalf("Expected one publish to order.created, got %v", bus.subjects)
	}

	env, err := Decode(bus.payloads[0])
	if err != nil {
		t.Fatalf("Published payload is not a valid envelope: %v", err)
	}
	if env.String("order_number") != "ORD-1" {
		t.Errorf("Expected order_number 'ORD-1', got %s", env.String("order_number"))
	}

	if bus.headers[0][transport.HeaderRoutingKey] != RoutingKeyOrderCreated {
		t.Errorf("Expected routing key header, got %v", bus.headers[0])
	}
	if bus.headers[0][transport.HeaderEventID] == "" {
		t.Error("Expected event id header to be set")
	}
}

func TestPublisherRetriesTransientFailures(t *testing.T) {
	bus := &capturingBus{failures: 2}
	pub, err := NewPublisher(bus, fastRetryConfig())
	if err != nil {
		t.Fatalf("Failed to create publisher: %v", err)
	}

	err = pub.Publish(context.Background(), RoutingKeyOrderCreated, OrderCreated{OrderNumber: "ORD-1"})
	if err != nil {
		t.Fatalf("Expected publish to succeed after retries: %v", err)
	}
	if bus.attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", bus.attempts)
	}
}

func TestPublisherExhaustsRetries(t *testing.T) {
	bus := &capturingBus{failures: 100}
	pub, err := NewPublisher(bus, fastRetryConfig())
	if err != nil {
		t.Fatalf("Failed to create publisher: %v", err)
	}

	err = pub.Publish(context.Background(), RoutingKeyOrderCreated, OrderCreated{OrderNumber: "ORD-1"})
	if err == nil {
		t.Fatal("Expected error after exhausting retries")
	}
	if !core.HasCode(err, core.ErrDeliveryFailed) {
		t.Errorf("Expected DELIVERY_FAILED, got %v", err)
	}
	if bus.attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", bus.attempts)
	}
}

func TestPublisherAcceptsMapPayload(t *testing.T) {
	bus := &capturingBus{}
	pub, err := NewPublisher(bus, fastRetryConfig())
	if err != nil {
		t.Fatalf("Failed to create publisher: %v", err)
	}

	payload := map[string]interface{}{"order_number": "ORD-2"}
	if err := pub.Publish(context.Background(), RoutingKeyOrderCreated, payload); err != nil {
		t.Fatalf("Failed to publish map payload: %v", err)
	}

	env, err := Decode(bus.payloads[0])
	if err != nil {
		t.Fatalf("Published payload is not a valid envelope: %v", err)
	}
	if env.String("order_number") != "ORD-2" {
		t.Errorf("Expected order_number 'ORD-2', got %s", env.String("order_number"))
	}
}
