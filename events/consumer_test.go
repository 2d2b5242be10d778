package events_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cargoflow/cargoflow/adapters/messagebus"
	"github.com/cargoflow/cargoflow/core"
	"github.com/cargoflow/cargoflow/events"
	"github.com/cargoflow/cargoflow/transport"
)

type dlqRecorder struct {
	mu       sync.Mutex
	messages []*transport.Message
	reasons  []string
}

func (r *dlqRecorder) record(ctx context.Context, msg *transport.Message, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msg)
	r.reasons = append(r.reasons, reason)
	return nil
}

func (r *dlqRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.messages)
}

func (r *dlqRecorder) reason(i int) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reasons[i]
}

func newTestBus(t *testing.T) *messagebus.InMemoryAdapter {
	t.Helper()
	cfg := messagebus.DefaultInMemoryConfig()
	cfg.RedeliveryDelay = time.Millisecond
	cfg.MaxRedeliveries = 20
	bus := messagebus.NewInMemoryAdapter(cfg)
	if err := bus.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start bus: %v", err)
	}
	t.Cleanup(func() { _ = bus.Stop(context.Background()) })
	return bus
}

func newTestConsumer(t *testing.T, bus *messagebus.InMemoryAdapter, queue string) *events.Consumer {
	t.Helper()
	cfg := events.DefaultConsumerConfig(queue)
	cfg.HandlerTimeout = time.Second
	cfg.MaxRedeliveries = 3
	cfg.EnableMetrics = false
	cfg.EnableTracing = false

	c, err := events.NewConsumer(bus, cfg)
	if err != nil {
		t.Fatalf("Failed to create consumer: %v", err)
	}
	return c
}

func subscribeDLQ(t *testing.T, bus *messagebus.InMemoryAdapter, queue string) *dlqRecorder {
	t.Helper()
	rec := &dlqRecorder{}
	dlq, err := events.NewBusDeadLetterQueue(bus, queue)
	if err != nil {
		t.Fatalf("Failed to create DLQ: %v", err)
	}
	if err := dlq.Subscribe(context.Background(), rec.record); err != nil {
		t.Fatalf("Failed to subscribe to DLQ: %v", err)
	}
	return rec
}

func waitIdle(t *testing.T, bus *messagebus.InMemoryAdapter) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := bus.WaitIdle(ctx); err != nil {
		t.Fatalf("Bus did not drain: %v", err)
	}
}

func TestConsumerDispatchesToHandler(t *testing.T) {
	bus := newTestBus(t)
	c := newTestConsumer(t, bus, "test.queue")

	var mu sync.Mutex
	var received []string
	err := c.Register("order.*", "record-order-events", func(ctx context.Context, env *events.Envelope) error {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, env.RoutingKey)
		return nil
	})
	if err != nil {
		t.Fatalf("Failed to register handler: %v", err)
	}

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start consumer: %v", err)
	}
	defer c.Stop(context.Background())

	env := events.NewEnvelope("order.created", map[string]interface{}{"order_number": "ORD-1"})
	data, _ := env.Encode()
	if err := bus.Publish(context.Background(), "order.created", data, nil); err != nil {
		t.Fatalf("Failed to publish: %v", err)
	}
	waitIdle(t, bus)

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 1 || received[0] != "order.created" {
		t.Errorf("Expected one order.created delivery, got %v", received)
	}
}

func TestConsumerMalformedEventGoesToDeadLetter(t *testing.T) {
	bus := newTestBus(t)
	c := newTestConsumer(t, bus, "test.queue")
	rec := subscribeDLQ(t, bus, "test.queue")

	calls := 0
	_ = c.Register("#", "count-calls", func(ctx context.Context, env *events.Envelope) error {
		calls++
		return nil
	})

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start consumer: %v", err)
	}
	defer c.Stop(context.Background())

	if err := bus.Publish(context.Background(), "order.created", []byte(`{"no_routing_key": true}`), nil); err != nil {
		t.Fatalf("Failed to publish: %v", err)
	}
	waitIdle(t, bus)

	if calls != 0 {
		t.Errorf("Malformed event must not reach handlers, got %d calls", calls)
	}
	if rec.count() != 1 {
		t.Fatalf("Expected 1 dead-lettered message, got %d", rec.count())
	}
	if rec.reason(0) != events.ReasonMalformedEvent {
		t.Errorf("Expected reason %q, got %q", events.ReasonMalformedEvent, rec.reason(0))
	}
}

func TestConsumerDropsEventWithoutHandler(t *testing.T) {
	bus := newTestBus(t)
	c := newTestConsumer(t, bus, "test.queue")
	rec := subscribeDLQ(t, bus, "test.queue")

	_ = c.Register("order.created", "only-created", func(ctx context.Context, env *events.Envelope) error {
		t.Error("Handler must not be called for a non-matching routing key")
		return nil
	})

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start consumer: %v", err)
	}
	defer c.Stop(context.Background())

	// Очередь получает сообщение, но обработчика для routing key из
	// конверта нет: ack и отбрасывание, не dead-letter
	other := events.NewEnvelope("order.deleted", map[string]interface{}{"order_number": "ORD-1"})
	otherData, _ := other.Encode()
	if err := bus.Publish(context.Background(), "order.created", otherData, nil); err != nil {
		t.Fatalf("Failed to publish: %v", err)
	}
	waitIdle(t, bus)

	if rec.count() != 0 {
		t.Errorf("Unroutable event must be dropped, not dead-lettered; got %d", rec.count())
	}
}

func TestConsumerPermanentFailureGoesToDeadLetter(t *testing.T) {
	bus := newTestBus(t)
	c := newTestConsumer(t, bus, "test.queue")
	rec := subscribeDLQ(t, bus, "test.queue")

	var mu sync.Mutex
	calls := 0
	_ = c.Register("order.created", "always-permanent", func(ctx context.Context, env *events.Envelope) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return events.Permanent(errors.New("unprocessable order"))
	})

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start consumer: %v", err)
	}
	defer c.Stop(context.Background())

	env := events.NewEnvelope("order.created", map[string]interface{}{"order_number": "ORD-1"})
	data, _ := env.Encode()
	if err := bus.Publish(context.Background(), "order.created", data, nil); err != nil {
		t.Fatalf("Failed to publish: %v", err)
	}
	waitIdle(t, bus)

	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Errorf("Permanent failure must not be redelivered, got %d calls", calls)
	}
	if rec.count() != 1 {
		t.Fatalf("Expected 1 dead-lettered message, got %d", rec.count())
	}
	if rec.reason(0) != events.ReasonPermanentFailure {
		t.Errorf("Expected reason %q, got %q", events.ReasonPermanentFailure, rec.reason(0))
	}
}

func TestConsumerTransientFailureRedeliversThenDeadLetters(t *testing.T) {
	bus := newTestBus(t)
	c := newTestConsumer(t, bus, "test.queue")
	rec := subscribeDLQ(t, bus, "test.queue")

	var mu sync.Mutex
	calls := 0
	_ = c.Register("order.created", "always-transient", func(ctx context.Context, env *events.Envelope) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return events.Transient(errors.New("store unavailable"))
	})

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start consumer: %v", err)
	}
	defer c.Stop(context.Background())

	env := events.NewEnvelope("order.created", map[string]interface{}{"order_number": "ORD-1"})
	data, _ := env.Encode()
	if err := bus.Publish(context.Background(), "order.created", data, nil); err != nil {
		t.Fatalf("Failed to publish: %v", err)
	}
	waitIdle(t, bus)

	mu.Lock()
	defer mu.Unlock()
	// MaxRedeliveries = 3: три вызова, затем dead-letter
	if calls != 3 {
		t.Errorf("Expected 3 delivery attempts, got %d", calls)
	}
	if rec.count() != 1 {
		t.Fatalf("Expected 1 dead-lettered message, got %d", rec.count())
	}
	if rec.reason(0) != events.ReasonRedeliveryExceeded {
		t.Errorf("Expected reason %q, got %q", events.ReasonRedeliveryExceeded, rec.reason(0))
	}
}

func TestConsumerTransientFailureEventuallySucceeds(t *testing.T) {
	bus := newTestBus(t)
	c := newTestConsumer(t, bus, "test.queue")
	rec := subscribeDLQ(t, bus, "test.queue")

	var mu sync.Mutex
	calls := 0
	_ = c.Register("order.created", "fails-once", func(ctx context.Context, env *events.Envelope) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls == 1 {
			return events.Transient(errors.New("first attempt fails"))
		}
		return nil
	})

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start consumer: %v", err)
	}
	defer c.Stop(context.Background())

	env := events.NewEnvelope("order.created", map[string]interface{}{"order_number": "ORD-1"})
	data, _ := env.Encode()
	if err := bus.Publish(context.Background(), "order.created", data, nil); err != nil {
		t.Fatalf("Failed to publish: %v", err)
	}
	waitIdle(t, bus)

	mu.Lock()
	defer mu.Unlock()
	if calls != 2 {
		t.Errorf("Expected 2 delivery attempts, got %d", calls)
	}
	if rec.count() != 0 {
		t.Errorf("Recovered message must not be dead-lettered, got %d", rec.count())
	}
}

func TestConsumerHandlerTimeoutIsTransient(t *testing.T) {
	bus := newTestBus(t)

	cfg := events.DefaultConsumerConfig("test.queue")
	cfg.HandlerTimeout = 10 * time.Millisecond
	cfg.MaxRedeliveries = 2
	cfg.EnableMetrics = false
	cfg.EnableTracing = false
	c, err := events.NewConsumer(bus, cfg)
	if err != nil {
		t.Fatalf("Failed to create consumer: %v", err)
	}
	rec := subscribeDLQ(t, bus, "test.queue")

	var mu sync.Mutex
	calls := 0
	_ = c.Register("order.created", "slow-handler", func(ctx context.Context, env *events.Envelope) error {
		mu.Lock()
		calls++
		mu.Unlock()
		<-ctx.Done()
		return ctx.Err()
	})

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start consumer: %v", err)
	}
	defer c.Stop(context.Background())

	env := events.NewEnvelope("order.created", map[string]interface{}{"order_number": "ORD-1"})
	data, _ := env.Encode()
	if err := bus.Publish(context.Background(), "order.created", data, nil); err != nil {
		t.Fatalf("Failed to publish: %v", err)
	}
	waitIdle(t, bus)

	mu.Lock()
	defer mu.Unlock()
	if calls != 2 {
		t.Errorf("Expected 2 delivery attempts for timing out handler, got %d", calls)
	}
	if rec.count() != 1 {
		t.Errorf("Expected timed out message to be dead-lettered, got %d", rec.count())
	}
}

func TestConsumerRejectsRegistrationAfterStart(t *testing.T) {
	bus := newTestBus(t)
	c := newTestConsumer(t, bus, "test.queue")

	_ = c.Register("order.created", "initial", func(ctx context.Context, env *events.Envelope) error { return nil })
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start consumer: %v", err)
	}
	defer c.Stop(context.Background())

	err := c.Register("order.deleted", "late", func(ctx context.Context, env *events.Envelope) error { return nil })
	if err == nil {
		t.Fatal("Expected error when registering after Start")
	}
	if !core.HasCode(err, core.ErrInvalidConfig) {
		t.Errorf("Expected INVALID_CONFIG, got %v", err)
	}
}
