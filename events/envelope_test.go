package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/cargoflow/cargoflow/core"
)

func TestEnvelopeEncodeDecode(t *testing.T) {
	env := NewEnvelope("order.created", map[string]interface{}{
		"order_number": "ORD-1",
		"items":        []interface{}{map[string]interface{}{"sku": "SKU-1"}},
	})

	data, err := env.Encode()
	if err != nil {
		t.Fatalf("Failed to encode envelope: %v", err)
	}

	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("Failed to decode envelope: %v", err)
	}

	if decoded.RoutingKey != "order.created" {
		t.Errorf("Expected routing key 'order.created', got %s", decoded.RoutingKey)
	}
	if decoded.EventID != env.EventID {
		t.Errorf("Expected event id %s, got %s", env.EventID, decoded.EventID)
	}
	if decoded.String("order_number") != "ORD-1" {
		t.Errorf("Expected order_number 'ORD-1', got %s", decoded.String("order_number"))
	}
	if decoded.Timestamp.IsZero() {
		t.Error("Expected decoded timestamp to be set")
	}
}

func TestEnvelopeEncodeIsFlat(t *testing.T) {
	env := NewEnvelope("order.created", map[string]interface{}{"order_number": "ORD-1"})

	data, err := env.Encode()
	if err != nil {
		t.Fatalf("Failed to encode envelope: %v", err)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(data, &body); err != nil {
		t.Fatalf("Encoded envelope is not valid JSON: %v", err)
	}

	// Метаполя и полезная нагрузка лежат в одном объекте
	if body["_routing_key"] != "order.created" {
		t.Errorf("Expected _routing_key in body, got %v", body["_routing_key"])
	}
	if body["order_number"] != "ORD-1" {
		t.Errorf("Expected order_number in body, got %v", body["order_number"])
	}
	if _, ok := body["_timestamp"]; !ok {
		t.Error("Expected _timestamp in body")
	}
}

func TestDecodeMissingRoutingKey(t *testing.T) {
	_, err := Decode([]byte(`{"order_number": "ORD-1"}`))
	if err == nil {
		t.Fatal("Expected error for missing routing key")
	}
	if !core.HasCode(err, core.ErrMalformedEvent) {
		t.Errorf("Expected MALFORMED_EVENT, got %v", err)
	}
}

func TestDecodeInvalidJSON(t *testing.T) {
	_, err := Decode([]byte(`not json`))
	if err == nil {
		t.Fatal("Expected error for invalid JSON")
	}
	if !core.HasCode(err, core.ErrMalformedEvent) {
		t.Errorf("Expected MALFORMED_EVENT, got %v", err)
	}
}

func TestDecodeIgnoresUnknownFields(t *testing.T) {
	// Потребитель обязан переварить поля, добавленные более новым издателем
	data := []byte(`{
		"_routing_key": "order.created",
		"_timestamp": "2026-01-15T10:00:00Z",
		"order_number": "ORD-1",
		"future_field": {"nested": true}
	}`)

	env, err := Decode(data)
	if err != nil {
		t.Fatalf("Failed to decode envelope: %v", err)
	}

	var payload OrderCreated
	if err := env.DecodeAs(&payload); err != nil {
		t.Fatalf("DecodeAs must ignore unknown fields: %v", err)
	}
	if payload.OrderNumber != "ORD-1" {
		t.Errorf("Expected order number 'ORD-1', got %s", payload.OrderNumber)
	}

	expected := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	if !env.Timestamp.Equal(expected) {
		t.Errorf("Expected timestamp %v, got %v", expected, env.Timestamp)
	}
}

func TestDecodeAsMismatchedSchema(t *testing.T) {
	env := &Envelope{
		RoutingKey: "order.created",
		Payload:    map[string]interface{}{"order_number": 42},
	}

	var payload OrderCreated
	err := env.DecodeAs(&payload)
	if err == nil {
		t.Fatal("Expected error for mismatched payload schema")
	}
	if !core.HasCode(err, core.ErrMalformedEvent) {
		t.Errorf("Expected MALFORMED_EVENT, got %v", err)
	}
}

func TestDecodeBodyKnownAndUnknownKeys(t *testing.T) {
	env := &Envelope{
		RoutingKey: "inventory.low_stock",
		Payload: map[string]interface{}{
			"sku":           "SKU-1",
			"remaining_qty": float64(2),
			"reorder_level": float64(10),
		},
	}

	body, err := DecodeBody(env)
	if err != nil {
		t.Fatalf("Failed to decode body: %v", err)
	}
	low, ok := body.(InventoryLowStock)
	if !ok {
		t.Fatalf("Expected InventoryLowStock, got %T", body)
	}
	if low.SKU != "SKU-1" || low.RemainingQty != 2 {
		t.Errorf("Unexpected payload: %+v", low)
	}

	unknown := &Envelope{RoutingKey: "warehouse.audited", Payload: map[string]interface{}{"x": "y"}}
	raw, err := DecodeBody(unknown)
	if err != nil {
		t.Fatalf("Unknown routing key must not fail: %v", err)
	}
	if _, ok := raw.(map[string]interface{}); !ok {
		t.Errorf("Expected raw payload for unknown key, got %T", raw)
	}
}
