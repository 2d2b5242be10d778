package events

import (
	"context"
	"log/slog"

	"github.com/cargoflow/cargoflow/core"
	"github.com/cargoflow/cargoflow/transport"
)

// DeadLetterPrefix префикс subject для dead-letter очередей
const DeadLetterPrefix = "dlq."

// DeadLetterSubject возвращает subject dead-letter очереди для исходной очереди
func DeadLetterSubject(queue string) string {
	return DeadLetterPrefix + queue
}

// BusDeadLetterQueue dead letter queue поверх message bus.
// Сообщения публикуются в subject dlq.<queue> с заголовками причины
// и исходной очереди; исходные данные сохраняются байт в байт
type BusDeadLetterQueue struct {
	bus   transport.MessageBus
	queue string
	log   *slog.Logger
}

// NewBusDeadLetterQueue создает DLQ для указанной очереди
func NewBusDeadLetterQueue(bus transport.MessageBus, queue string) (*BusDeadLetterQueue, error) {
	if bus == nil {
		return nil, core.NewError(core.ErrInvalidConfig, "message bus is required")
	}
	if queue == "" {
		return nil, core.NewError(core.ErrInvalidConfig, "queue name is required")
	}
	return &BusDeadLetterQueue{
		bus:   bus,
		queue: queue,
		log:   slog.Default().With(slog.String("component", "dead_letter_queue"), slog.String("queue", queue)),
	}, nil
}

// Publish публикует сообщение в DLQ с указанием причины
func (q *BusDeadLetterQueue) Publish(ctx context.Context, msg *transport.Message, reason string) error {
	dead := msg.
		WithHeader(transport.HeaderDeadLetterReason, reason).
		WithHeader(transport.HeaderSourceQueue, q.queue)

	if err := q.bus.Publish(ctx, DeadLetterSubject(q.queue), dead.Data, dead.Headers); err != nil {
		return core.Wrap(err, core.ErrDeliveryFailed, "failed to publish to dead letter queue")
	}

	q.log.WarnContext(ctx, "message_dead_lettered",
		slog.String("routing_key", msg.Subject),
		slog.String("reason", reason),
		slog.Int("delivery_attempt", msg.DeliveryAttempt()))

	return nil
}

// Subscribe подписывается на DLQ
func (q *BusDeadLetterQueue) Subscribe(ctx context.Context, handler func(ctx context.Context, msg *transport.Message, reason string) error) error {
	subject := DeadLetterSubject(q.queue)
	return q.bus.Subscribe(ctx, subject, []string{subject}, func(ctx context.Context, msg *transport.Message) error {
		return handler(ctx, msg, msg.Headers[transport.HeaderDeadLetterReason])
	})
}
