// Package metrics предоставляет систему метрик на основе OpenTelemetry.
package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics сборщик метрик платформы
type Metrics struct {
	meter            metric.Meter
	eventsPublished  metric.Int64Counter
	eventsConsumed   metric.Int64Counter
	publishDuration  metric.Float64Histogram
	handlerDuration  metric.Float64Histogram
	deadLetters      metric.Int64Counter
	dedupHits        metric.Int64Counter
	deliveryFailures metric.Int64Counter
	transportTotal   metric.Int64Counter
}

// NewMetrics создает новый сборщик метрик
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter("cargoflow")

	eventsPublished, err := meter.Int64Counter(
		"events_published_total",
		metric.WithDescription("Total number of domain events published"),
	)
	if err != nil {
		return nil, err
	}

	eventsConsumed, err := meter.Int64Counter(
		"events_consumed_total",
		metric.WithDescription("Total number of domain events consumed"),
	)
	if err != nil {
		return nil, err
	}

	publishDuration, err := meter.Float64Histogram(
		"event_publish_duration_seconds",
		metric.WithDescription("Broker hand-off duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	handlerDuration, err := meter.Float64Histogram(
		"event_handler_duration_seconds",
		metric.WithDescription("Event handler execution duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	deadLetters, err := meter.Int64Counter(
		"dead_letters_total",
		metric.WithDescription("Total number of messages routed to dead-letter"),
	)
	if err != nil {
		return nil, err
	}

	dedupHits, err := meter.Int64Counter(
		"dedup_hits_total",
		metric.WithDescription("Total number of duplicate deliveries suppressed"),
	)
	if err != nil {
		return nil, err
	}

	deliveryFailures, err := meter.Int64Counter(
		"delivery_failures_total",
		metric.WithDescription("Total number of failed broker hand-offs"),
	)
	if err != nil {
		return nil, err
	}

	transportTotal, err := meter.Int64Counter(
		"transport_operations_total",
		metric.WithDescription("Total number of transport operations"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		meter:            meter,
		eventsPublished:  eventsPublished,
		eventsConsumed:   eventsConsumed,
		publishDuration:  publishDuration,
		handlerDuration:  handlerDuration,
		deadLetters:      deadLetters,
		dedupHits:        dedupHits,
		deliveryFailures: deliveryFailures,
		transportTotal:   transportTotal,
	}, nil
}

// RecordPublish записывает метрику публикации события
func (m *Metrics) RecordPublish(ctx context.Context, routingKey string, duration time.Duration, success bool) {
	attrs := []attribute.KeyValue{
		attribute.String("routing_key", routingKey),
		attribute.Bool("success", success),
	}

	m.eventsPublished.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.publishDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	if !success {
		m.deliveryFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("routing_key", routingKey)))
	}
}

// RecordConsume записывает метрику обработки события
func (m *Metrics) RecordConsume(ctx context.Context, queue, routingKey string, duration time.Duration, success bool) {
	attrs := []attribute.KeyValue{
		attribute.String("queue", queue),
		attribute.String("routing_key", routingKey),
		attribute.Bool("success", success),
	}

	m.eventsConsumed.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.handlerDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordDeadLetter записывает метрику dead-letter
func (m *Metrics) RecordDeadLetter(ctx context.Context, queue, reason string) {
	m.deadLetters.Add(ctx, 1, metric.WithAttributes(
		attribute.String("queue", queue),
		attribute.String("reason", reason),
	))
}

// RecordDedupHit записывает метрику подавленного дубликата
func (m *Metrics) RecordDedupHit(ctx context.Context, routingKey string) {
	m.dedupHits.Add(ctx, 1, metric.WithAttributes(
		attribute.String("routing_key", routingKey),
	))
}

// RecordTransport записывает метрику транспортной операции
func (m *Metrics) RecordTransport(ctx context.Context, name string, duration time.Duration, success bool) {
	m.transportTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("transport", name),
		attribute.Bool("success", success),
	))
}
