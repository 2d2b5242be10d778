package dedup

import (
	"context"
	"sync"
	"time"
)

// InMemoryGuard реализация Guard в памяти процесса.
// Подходит для тестов и одиночных инсталляций; записи не переживают
// рестарт, поэтому вторым слоем остаются уникальные ключи хранилищ
type InMemoryGuard struct {
	mu   sync.Mutex
	seen map[string]time.Time
}

// NewInMemoryGuard создает guard в памяти
func NewInMemoryGuard() *InMemoryGuard {
	return &InMemoryGuard{
		seen: make(map[string]time.Time),
	}
}

// Acquire регистрирует пару (routingKey, businessID)
func (g *InMemoryGuard) Acquire(ctx context.Context, routingKey, businessID string) (bool, error) {
	key := dedupKey(routingKey, businessID)

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.seen[key]; exists {
		return false, nil
	}
	g.seen[key] = time.Now().UTC()
	return true, nil
}

// Release снимает регистрацию
func (g *InMemoryGuard) Release(ctx context.Context, routingKey, businessID string) error {
	key := dedupKey(routingKey, businessID)

	g.mu.Lock()
	defer g.mu.Unlock()

	delete(g.seen, key)
	return nil
}

// Size возвращает количество зарегистрированных ключей
func (g *InMemoryGuard) Size() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.seen)
}
