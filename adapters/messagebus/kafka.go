package messagebus

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/cargoflow/cargoflow/core"
	"github.com/cargoflow/cargoflow/transport"
)

// KafkaConfig конфигурация для Kafka адаптера
type KafkaConfig struct {
	Brokers []string
	// ClientID идентификатор клиента для брокера
	ClientID string
	// MaxRedeliveries максимальное число попыток обработки сообщения
	MaxRedeliveries int
	// RedeliveryDelay задержка между попытками
	RedeliveryDelay time.Duration
	// MinBytes, MaxBytes настройки fetch для reader
	MinBytes int
	MaxBytes int
}

// DefaultKafkaConfig возвращает конфигурацию Kafka по умолчанию
func DefaultKafkaConfig() KafkaConfig {
	return KafkaConfig{
		Brokers:         []string{"localhost:9092"},
		ClientID:        "cargoflow",
		MaxRedeliveries: 5,
		RedeliveryDelay: 100 * time.Millisecond,
		MinBytes:        1,
		MaxBytes:        10e6,
	}
}

// Validate проверяет конфигурацию Kafka
func (c *KafkaConfig) Validate() error {
	if len(c.Brokers) == 0 {
		return core.NewError(core.ErrInvalidConfig, "at least one Kafka broker is required")
	}
	if c.MaxRedeliveries < 1 {
		return core.NewError(core.ErrInvalidConfig, "max redeliveries must be at least 1")
	}
	return nil
}

// kafkaSubscription подписка одной очереди: consumer group reader
type kafkaSubscription struct {
	queue   string
	reader  *kafka.Reader
	handler transport.MessageHandler
	done    chan struct{}
	wg      sync.WaitGroup
}

// KafkaAdapter реализация message bus через Kafka consumer groups.
// Routing key отображается на topic один к одному; wildcard-паттерны
// не поддерживаются брокером, поэтому очередь подписывается на явный
// список ключей. Повторная доставка выполняется in-process: offset
// не коммитится до подтверждения или исчерпания попыток
type KafkaAdapter struct {
	config KafkaConfig
	writer *kafka.Writer
	log    *slog.Logger

	mu      sync.RWMutex
	subs    map[string]*kafkaSubscription
	running bool
}

// NewKafkaAdapter создает новый Kafka адаптер
func NewKafkaAdapter(config KafkaConfig) (*KafkaAdapter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &KafkaAdapter{
		config: config,
		subs:   make(map[string]*kafkaSubscription),
		log:    slog.Default().With(slog.String("component", "kafka_adapter")),
	}, nil
}

// Start инициализирует writer
func (k *KafkaAdapter) Start(ctx context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.running {
		return nil
	}

	k.writer = &kafka.Writer{
		Addr:                   kafka.TCP(k.config.Brokers...),
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		RequiredAcks:           kafka.RequireAll,
	}
	k.running = true
	k.log.InfoContext(ctx, "kafka_started", slog.Any("brokers", k.config.Brokers))
	return nil
}

// Stop закрывает writer и readers
func (k *KafkaAdapter) Stop(ctx context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if !k.running {
		return nil
	}

	for _, sub := range k.subs {
		close(sub.done)
		_ = sub.reader.Close()
		sub.wg.Wait()
	}
	k.subs = make(map[string]*kafkaSubscription)

	if k.writer != nil {
		if err := k.writer.Close(); err != nil {
			return core.Wrap(err, core.ErrDeliveryFailed, "failed to close Kafka writer")
		}
		k.writer = nil
	}
	k.running = false
	return nil
}

// IsRunning проверяет состояние адаптера
func (k *KafkaAdapter) IsRunning() bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.running
}

// Name возвращает имя компонента
func (k *KafkaAdapter) Name() string {
	return "kafka-messagebus-adapter"
}

// Type возвращает тип компонента
func (k *KafkaAdapter) Type() core.ComponentType {
	return core.ComponentTypeAdapter
}

// HealthCheck проверяет доступность брокера
func (k *KafkaAdapter) HealthCheck(ctx context.Context) error {
	k.mu.RLock()
	defer k.mu.RUnlock()

	if !k.running {
		return core.NewError(core.ErrDeliveryFailed, "Kafka adapter is not running")
	}

	conn, err := kafka.DialContext(ctx, "tcp", k.config.Brokers[0])
	if err != nil {
		return core.Wrap(err, core.ErrDeliveryFailed, "Kafka broker is unreachable")
	}
	return conn.Close()
}

// Publish публикует сообщение в topic, соответствующий subject
func (k *KafkaAdapter) Publish(ctx context.Context, subject string, data []byte, headers map[string]string) error {
	k.mu.RLock()
	writer := k.writer
	running := k.running
	k.mu.RUnlock()

	if !running || writer == nil {
		return core.NewError(core.ErrDeliveryFailed, "Kafka adapter is not running")
	}

	msg := kafka.Message{
		Topic: subject,
		Key:   []byte(subject),
		Value: data,
	}
	for key, value := range headers {
		msg.Headers = append(msg.Headers, kafka.Header{Key: key, Value: []byte(value)})
	}

	if err := writer.WriteMessages(ctx, msg); err != nil {
		return core.Wrap(err, core.ErrDeliveryFailed, "failed to publish to Kafka")
	}
	return nil
}

// Subscribe привязывает очередь (consumer group) к списку topics.
// Паттерны с wildcards не поддерживаются
func (k *KafkaAdapter) Subscribe(ctx context.Context, queue string, patterns []string, handler transport.MessageHandler) error {
	for _, p := range patterns {
		if strings.ContainsAny(p, "*#>") {
			return core.NewError(core.ErrInvalidConfig,
				fmt.Sprintf("Kafka adapter does not support wildcard patterns: %s", p))
		}
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	if !k.running {
		return core.NewError(core.ErrDeliveryFailed, "Kafka adapter is not running")
	}
	if _, exists := k.subs[queue]; exists {
		return core.NewError(core.ErrAlreadyExists, fmt.Sprintf("queue already subscribed: %s", queue))
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     k.config.Brokers,
		GroupID:     queue,
		GroupTopics: patterns,
		MinBytes:    k.config.MinBytes,
		MaxBytes:    k.config.MaxBytes,
	})

	sub := &kafkaSubscription{
		queue:   queue,
		reader:  reader,
		handler: handler,
		done:    make(chan struct{}),
	}
	k.subs[queue] = sub

	sub.wg.Add(1)
	go k.consumeLoop(sub)
	return nil
}

// Unsubscribe отписывает очередь
func (k *KafkaAdapter) Unsubscribe(queue string) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	sub, exists := k.subs[queue]
	if !exists {
		return core.NewError(core.ErrNotFound, fmt.Sprintf("queue not subscribed: %s", queue))
	}

	close(sub.done)
	_ = sub.reader.Close()
	delete(k.subs, queue)
	return nil
}

// consumeLoop последовательно читает и обрабатывает сообщения группы.
// Offset коммитится только после исхода обработки, повторные попытки
// выполняются in-process с инкрементом счетчика доставки
func (k *KafkaAdapter) consumeLoop(sub *kafkaSubscription) {
	defer sub.wg.Done()
	ctx := context.Background()

	for {
		kmsg, err := sub.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
				return
			}
			select {
			case <-sub.done:
				return
			case <-time.After(k.config.RedeliveryDelay):
				continue
			}
		}

		msg := &transport.Message{
			Subject: kmsg.Topic,
			Data:    kmsg.Value,
			Headers: flattenKafkaHeaders(kmsg.Headers),
		}
		k.deliver(ctx, sub, msg)

		if err := sub.reader.CommitMessages(ctx, kmsg); err != nil {
			k.log.Error("kafka_commit_failed",
				slog.String("queue", sub.queue),
				slog.String("topic", kmsg.Topic),
				slog.String("error", err.Error()))
		}

		select {
		case <-sub.done:
			return
		default:
		}
	}
}

// deliver вызывает обработчик с in-process повторами до предела
func (k *KafkaAdapter) deliver(ctx context.Context, sub *kafkaSubscription, msg *transport.Message) {
	current := msg
	for {
		err := sub.handler(ctx, current)
		if err == nil {
			return
		}

		attempt := current.DeliveryAttempt()
		if attempt >= k.config.MaxRedeliveries {
			k.log.Error("message_dropped_after_redeliveries",
				slog.String("queue", sub.queue),
				slog.String("subject", current.Subject),
				slog.Int("attempts", attempt))
			return
		}

		select {
		case <-sub.done:
			return
		case <-time.After(k.config.RedeliveryDelay):
		}
		current = current.WithHeader(transport.HeaderDeliveryAttempt, strconv.Itoa(attempt+1))
	}
}

func flattenKafkaHeaders(headers []kafka.Header) map[string]string {
	if len(headers) == 0 {
		return nil
	}
	result := make(map[string]string, len(headers))
	for _, h := range headers {
		result[h.Key] = string(h.Value)
	}
	return result
}
