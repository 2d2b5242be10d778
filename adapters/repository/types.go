// Package repository предоставляет generic адаптеры для хранения доменных сущностей.
package repository

import "context"

// Entity интерфейс для entity с ID
type Entity interface {
	ID() string
}

// Repository интерфейс для репозитория.
//
// Insert отличается от Save контрактом уникальности: конфликт по ID или
// по уникальному естественному ключу возвращает ошибку с кодом
// ALREADY_EXISTS. Обработчики событий используют этот код как признак
// "уже применено" при повторной доставке
type Repository[T Entity] interface {
	Save(ctx context.Context, entity T) error
	Insert(ctx context.Context, entity T) error
	FindByID(ctx context.Context, id string) (T, error)
	FindAll(ctx context.Context) ([]T, error)
	Delete(ctx context.Context, id string) error
}
