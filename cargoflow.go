// Package cargoflow — событийная логистическая платформа: сервисы
// заказов, отслеживания, склада и уведомлений, связанные через
// topic-exchange шину доменных событий.
//
// Основные возможности:
//   - Плоский JSON конверт событий с метаполями маршрутизации
//   - Публикация at-least-once с повторами и dead-letter очередями
//   - Идемпотентная обработка через dedup guard и натуральные ключи
//   - Адаптеры шины: in-memory, NATS, Kafka, Redis Streams
//   - Метрики и трассировка на основе OpenTelemetry
package cargoflow

// Version версия платформы
const Version = "1.0.0"
