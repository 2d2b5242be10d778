// Package transport предоставляет абстракции для работы с message bus.
package transport

import (
	"context"
	"strconv"
	"strings"
	"time"
)

// Стандартные заголовки сообщений
const (
	// HeaderDeliveryAttempt номер попытки доставки (1 = первая доставка)
	HeaderDeliveryAttempt = "x-delivery-attempt"
	// HeaderEventID идентификатор события
	HeaderEventID = "x-event-id"
	// HeaderRoutingKey ключ маршрутизации события
	HeaderRoutingKey = "x-routing-key"
	// HeaderDeadLetterReason причина попадания сообщения в dead-letter
	HeaderDeadLetterReason = "x-dead-letter-reason"
	// HeaderSourceQueue очередь, из которой сообщение попало в dead-letter
	HeaderSourceQueue = "x-source-queue"
)

// Message представляет сообщение в очереди
type Message struct {
	Subject string
	Data    []byte
	Headers map[string]string
}

// DeliveryAttempt возвращает номер попытки доставки сообщения (минимум 1)
func (m *Message) DeliveryAttempt() int {
	if m.Headers == nil {
		return 1
	}
	n, err := strconv.Atoi(m.Headers[HeaderDeliveryAttempt])
	if err != nil || n < 1 {
		return 1
	}
	return n
}

// WithHeader возвращает копию сообщения с установленным заголовком
func (m *Message) WithHeader(key, value string) *Message {
	headers := make(map[string]string, len(m.Headers)+1)
	for k, v := range m.Headers {
		headers[k] = v
	}
	headers[key] = value
	return &Message{Subject: m.Subject, Data: m.Data, Headers: headers}
}

// MessageHandler обработчик сообщений.
// Возврат nil подтверждает сообщение (ack); ошибка оставляет его
// неподтвержденным и приводит к повторной доставке адаптером.
type MessageHandler func(ctx context.Context, msg *Message) error

// Publisher публикатор сообщений
type Publisher interface {
	// Publish публикует сообщение в subject. Возврат без ошибки означает,
	// что брокер принял сообщение (hand-off завершен)
	Publish(ctx context.Context, subject string, data []byte, headers map[string]string) error
}

// Subscriber подписчик на сообщения
type Subscriber interface {
	// Subscribe привязывает очередь к subject-паттернам и вызывает handler
	// при получении сообщения. Сообщения одной очереди обрабатываются
	// строго последовательно (FIFO per queue)
	Subscribe(ctx context.Context, queue string, patterns []string, handler MessageHandler) error
	// Unsubscribe отписывает очередь
	Unsubscribe(queue string) error
}

// MessageBus объединяет возможности публикации и подписки
type MessageBus interface {
	Publisher
	Subscriber
}

// RetryPolicy политика повторов для сообщений
type RetryPolicy interface {
	// ShouldRetry определяет, нужно ли повторить попытку
	ShouldRetry(attempt int, err error) bool
	// GetDelay возвращает задержку перед повтором
	GetDelay(attempt int) time.Duration
	// GetMaxAttempts возвращает максимальное количество попыток
	GetMaxAttempts() int
}

// ExponentialBackoffRetryPolicy политика повторов с экспоненциальной задержкой
type ExponentialBackoffRetryPolicy struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	MaxAttempts  int
}

// ShouldRetry определяет, нужно ли повторить попытку
func (p *ExponentialBackoffRetryPolicy) ShouldRetry(attempt int, err error) bool {
	return attempt < p.MaxAttempts && err != nil
}

// GetDelay возвращает задержку перед повтором
func (p *ExponentialBackoffRetryPolicy) GetDelay(attempt int) time.Duration {
	delay := time.Duration(float64(p.InitialDelay) * float64(attempt) * p.Multiplier)
	if delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

// GetMaxAttempts возвращает максимальное количество попыток
func (p *ExponentialBackoffRetryPolicy) GetMaxAttempts() int {
	return p.MaxAttempts
}

// DeadLetterQueue интерфейс для dead letter queue
type DeadLetterQueue interface {
	// Publish публикует сообщение в DLQ с указанием причины
	Publish(ctx context.Context, msg *Message, reason string) error
	// Subscribe подписывается на DLQ
	Subscribe(ctx context.Context, handler func(ctx context.Context, msg *Message, reason string) error) error
}

// MatchSubject проверяет соответствие subject topic-style паттерну.
// Поддерживаются wildcards: * (ровно один токен) и > или # (все оставшиеся токены)
func MatchSubject(subject, pattern string) bool {
	if pattern == ">" || pattern == "#" {
		return true
	}

	subjectParts := strings.Split(subject, ".")
	patternParts := strings.Split(pattern, ".")

	for idx, part := range patternParts {
		if part == ">" || part == "#" {
			return true // matches all remaining tokens
		}
		if idx >= len(subjectParts) {
			return false
		}
		if part == "*" {
			continue // * matches one token
		}
		if part != subjectParts[idx] {
			return false
		}
	}

	return len(patternParts) == len(subjectParts)
}
