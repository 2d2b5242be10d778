// Package dedup предоставляет защиту от повторной обработки событий
// при at-least-once доставке.
package dedup

import (
	"context"
)

// Guard атомарная регистрация обработанных событий (first-writer-wins).
//
// Ключ дедупликации — пара (routing key, бизнес-идентификатор события).
// Guard — первый слой защиты; вторым слоем служат естественные
// уникальные ключи в хранилищах сервисов
type Guard interface {
	// Acquire регистрирует пару (routingKey, businessID).
	// Возвращает true, если регистрация выполнена впервые; false,
	// если событие уже было обработано
	Acquire(ctx context.Context, routingKey, businessID string) (bool, error)
	// Release снимает регистрацию: вызывается при временном сбое
	// обработчика, чтобы повторная доставка прошла обработку заново
	Release(ctx context.Context, routingKey, businessID string) error
}

// dedupKey каноничная форма ключа дедупликации
func dedupKey(routingKey, businessID string) string {
	return routingKey + ":" + businessID
}
