package repository

import (
	"context"
	"fmt"
	"sync"

	"github.com/cargoflow/cargoflow/core"
)

// InMemoryConfig конфигурация для InMemory репозитория
type InMemoryConfig struct {
	// MaxEntities максимальное количество сущностей (0 = без ограничений)
	MaxEntities int
}

// DefaultInMemoryConfig возвращает конфигурацию InMemory по умолчанию
func DefaultInMemoryConfig() InMemoryConfig {
	return InMemoryConfig{
		MaxEntities: 0,
	}
}

// InMemoryRepository generic in-memory репозиторий с secondary индексами.
// Уникальные индексы обеспечивают first-writer-wins по естественным
// бизнес-ключам: конфликт возвращает ошибку с кодом ALREADY_EXISTS
type InMemoryRepository[T Entity] struct {
	config   InMemoryConfig
	entities map[string]T
	indexes  map[string]map[string][]string // index name -> key -> entity IDs
	keyFuncs map[string]func(T) string      // index name -> key function
	unique   map[string]bool                // index name -> uniqueness flag
	mu       sync.RWMutex
}

// NewInMemoryRepository создает новый in-memory репозиторий
func NewInMemoryRepository[T Entity](config InMemoryConfig) *InMemoryRepository[T] {
	return &InMemoryRepository[T]{
		config:   config,
		entities: make(map[string]T),
		indexes:  make(map[string]map[string][]string),
		keyFuncs: make(map[string]func(T) string),
		unique:   make(map[string]bool),
	}
}

// AddIndex добавляет secondary index
func (r *InMemoryRepository[T]) AddIndex(name string, keyFunc func(T) string) {
	r.addIndex(name, keyFunc, false)
}

// AddUniqueIndex добавляет уникальный index: Insert и Save другой
// сущности с тем же ключом вернут ALREADY_EXISTS
func (r *InMemoryRepository[T]) AddUniqueIndex(name string, keyFunc func(T) string) {
	r.addIndex(name, keyFunc, true)
}

func (r *InMemoryRepository[T]) addIndex(name string, keyFunc func(T) string, unique bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.keyFuncs[name] = keyFunc
	r.unique[name] = unique
	if r.indexes[name] == nil {
		r.indexes[name] = make(map[string][]string)
	}

	for id, entity := range r.entities {
		key := keyFunc(entity)
		if key == "" {
			continue
		}
		r.indexes[name][key] = appendUnique(r.indexes[name][key], id)
	}
}

// Insert сохраняет новую сущность; конфликт по ID или уникальному
// индексу возвращает ALREADY_EXISTS
func (r *InMemoryRepository[T]) Insert(ctx context.Context, entity T) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := entity.ID()
	if id == "" {
		return core.NewError(core.ErrInvalidConfig, "entity ID cannot be empty")
	}
	if _, exists := r.entities[id]; exists {
		return core.NewError(core.ErrAlreadyExists, fmt.Sprintf("entity already exists: %s", id))
	}
	return r.store(id, entity)
}

// Save сохраняет entity (INSERT/UPDATE)
func (r *InMemoryRepository[T]) Save(ctx context.Context, entity T) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := entity.ID()
	if id == "" {
		return core.NewError(core.ErrInvalidConfig, "entity ID cannot be empty")
	}
	return r.store(id, entity)
}

// store выполняет запись под уже взятым локом
func (r *InMemoryRepository[T]) store(id string, entity T) error {
	if r.config.MaxEntities > 0 {
		if _, exists := r.entities[id]; !exists && len(r.entities) >= r.config.MaxEntities {
			return core.NewError(core.ErrInvalidConfig,
				fmt.Sprintf("repository limit reached: max %d entities", r.config.MaxEntities))
		}
	}

	// Проверка уникальных индексов до изменения состояния
	for name, keyFunc := range r.keyFuncs {
		if !r.unique[name] {
			continue
		}
		key := keyFunc(entity)
		if key == "" {
			continue
		}
		for _, existingID := range r.indexes[name][key] {
			if existingID != id {
				return core.NewError(core.ErrAlreadyExists,
					fmt.Sprintf("unique index %s violated: %s", name, key))
			}
		}
	}

	// Убираем старую версию из индексов
	if oldEntity, exists := r.entities[id]; exists {
		for name, keyFunc := range r.keyFuncs {
			r.removeFromIndex(name, keyFunc(oldEntity), id)
		}
	}

	r.entities[id] = entity
	for name, keyFunc := range r.keyFuncs {
		key := keyFunc(entity)
		if key == "" {
			continue
		}
		r.indexes[name][key] = appendUnique(r.indexes[name][key], id)
	}

	return nil
}

// FindByID находит entity по ID
func (r *InMemoryRepository[T]) FindByID(ctx context.Context, id string) (T, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var zero T
	entity, exists := r.entities[id]
	if !exists {
		return zero, core.NewError(core.ErrNotFound, fmt.Sprintf("entity not found: %s", id))
	}
	return entity, nil
}

// FindAll возвращает все entities
func (r *InMemoryRepository[T]) FindAll(ctx context.Context) ([]T, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entities := make([]T, 0, len(r.entities))
	for _, entity := range r.entities {
		entities = append(entities, entity)
	}
	return entities, nil
}

// Find находит entities по предикату
func (r *InMemoryRepository[T]) Find(ctx context.Context, predicate func(T) bool) ([]T, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var results []T
	for _, entity := range r.entities {
		if predicate(entity) {
			results = append(results, entity)
		}
	}
	return results, nil
}

// FindByIndex находит entities по index key
func (r *InMemoryRepository[T]) FindByIndex(ctx context.Context, indexName, key string) ([]T, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	index, exists := r.indexes[indexName]
	if !exists {
		return nil, core.NewError(core.ErrNotFound, fmt.Sprintf("index not found: %s", indexName))
	}

	var results []T
	for _, id := range index[key] {
		if entity, ok := r.entities[id]; ok {
			results = append(results, entity)
		}
	}
	return results, nil
}

// FindOneByIndex находит единственную entity по уникальному index key
func (r *InMemoryRepository[T]) FindOneByIndex(ctx context.Context, indexName, key string) (T, error) {
	var zero T
	results, err := r.FindByIndex(ctx, indexName, key)
	if err != nil {
		return zero, err
	}
	if len(results) == 0 {
		return zero, core.NewError(core.ErrNotFound,
			fmt.Sprintf("entity not found by %s: %s", indexName, key))
	}
	return results[0], nil
}

// Delete удаляет entity
func (r *InMemoryRepository[T]) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entity, exists := r.entities[id]
	if !exists {
		return core.NewError(core.ErrNotFound, fmt.Sprintf("entity not found: %s", id))
	}

	for name, keyFunc := range r.keyFuncs {
		r.removeFromIndex(name, keyFunc(entity), id)
	}
	delete(r.entities, id)
	return nil
}

// Count возвращает количество entities
func (r *InMemoryRepository[T]) Count(ctx context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entities), nil
}

// Clear очищает репозиторий (для тестирования)
func (r *InMemoryRepository[T]) Clear(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entities = make(map[string]T)
	for name := range r.indexes {
		r.indexes[name] = make(map[string][]string)
	}
	return nil
}

func (r *InMemoryRepository[T]) removeFromIndex(name, key, id string) {
	index, ok := r.indexes[name]
	if !ok {
		return
	}
	ids, ok := index[key]
	if !ok {
		return
	}
	newIds := make([]string, 0, len(ids))
	for _, existingID := range ids {
		if existingID != id {
			newIds = append(newIds, existingID)
		}
	}
	if len(newIds) == 0 {
		delete(index, key)
	} else {
		index[key] = newIds
	}
}

func appendUnique(ids []string, id string) []string {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}
