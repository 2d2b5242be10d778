package repository

import (
	"context"
	"testing"

	"github.com/cargoflow/cargoflow/core"
)

// TestEntity для тестирования
type TestEntity struct {
	IDField string
	Code    string
	Group   string
}

func (e *TestEntity) ID() string {
	return e.IDField
}

func newTestRepo() *InMemoryRepository[*TestEntity] {
	repo := NewInMemoryRepository[*TestEntity](DefaultInMemoryConfig())
	repo.AddUniqueIndex("code", func(e *TestEntity) string { return e.Code })
	repo.AddIndex("group", func(e *TestEntity) string { return e.Group })
	return repo
}

func TestInMemoryRepositoryInsertAndFind(t *testing.T) {
	repo := newTestRepo()
	ctx := context.Background()

	entity := &TestEntity{IDField: "id-1", Code: "A", Group: "g1"}
	if err := repo.Insert(ctx, entity); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	found, err := repo.FindByID(ctx, "id-1")
	if err != nil {
		t.Fatalf("FindByID failed: %v", err)
	}
	if found.Code != "A" {
		t.Errorf("Expected code 'A', got %s", found.Code)
	}
}

func TestInMemoryRepositoryInsertDuplicateID(t *testing.T) {
	repo := newTestRepo()
	ctx := context.Background()

	if err := repo.Insert(ctx, &TestEntity{IDField: "id-1", Code: "A"}); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	err := repo.Insert(ctx, &TestEntity{IDField: "id-1", Code: "B"})
	if err == nil {
		t.Fatal("Expected error for duplicate id")
	}
	if !core.HasCode(err, core.ErrAlreadyExists) {
		t.Errorf("Expected ALREADY_EXISTS, got %v", err)
	}
}

func TestInMemoryRepositoryUniqueIndexConflict(t *testing.T) {
	repo := newTestRepo()
	ctx := context.Background()

	if err := repo.Insert(ctx, &TestEntity{IDField: "id-1", Code: "A"}); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	err := repo.Insert(ctx, &TestEntity{IDField: "id-2", Code: "A"})
	if err == nil {
		t.Fatal("Expected error for duplicate unique key")
	}
	if !core.HasCode(err, core.ErrAlreadyExists) {
		t.Errorf("Expected ALREADY_EXISTS, got %v", err)
	}
}

func TestInMemoryRepositoryEmptyUniqueKeySkipsIndex(t *testing.T) {
	repo := newTestRepo()
	ctx := context.Background()

	// пустой ключ не индексируется: несколько записей без ключа допустимы
	if err := repo.Insert(ctx, &TestEntity{IDField: "id-1", Code: ""}); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if err := repo.Insert(ctx, &TestEntity{IDField: "id-2", Code: ""}); err != nil {
		t.Errorf("Second entity with empty unique key must be allowed: %v", err)
	}
}

func TestInMemoryRepositoryFindByIndex(t *testing.T) {
	repo := newTestRepo()
	ctx := context.Background()

	_ = repo.Insert(ctx, &TestEntity{IDField: "id-1", Code: "A", Group: "g1"})
	_ = repo.Insert(ctx, &TestEntity{IDField: "id-2", Code: "B", Group: "g1"})
	_ = repo.Insert(ctx, &TestEntity{IDField: "id-3", Code: "C", Group: "g2"})

	found, err := repo.FindByIndex(ctx, "group", "g1")
	if err != nil {
		t.Fatalf("FindByIndex failed: %v", err)
	}
	if len(found) != 2 {
		t.Errorf("Expected 2 entities in group g1, got %d", len(found))
	}

	one, err := repo.FindOneByIndex(ctx, "code", "C")
	if err != nil {
		t.Fatalf("FindOneByIndex failed: %v", err)
	}
	if one.IDField != "id-3" {
		t.Errorf("Expected id-3, got %s", one.IDField)
	}
}

func TestInMemoryRepositorySaveUpdatesIndexes(t *testing.T) {
	repo := newTestRepo()
	ctx := context.Background()

	entity := &TestEntity{IDField: "id-1", Code: "A", Group: "g1"}
	if err := repo.Insert(ctx, entity); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	updated := &TestEntity{IDField: "id-1", Code: "A", Group: "g2"}
	if err := repo.Save(ctx, updated); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	g1, _ := repo.FindByIndex(ctx, "group", "g1")
	if len(g1) != 0 {
		t.Errorf("Expected entity removed from old index value, got %d", len(g1))
	}
	g2, _ := repo.FindByIndex(ctx, "group", "g2")
	if len(g2) != 1 {
		t.Errorf("Expected entity in new index value, got %d", len(g2))
	}
}

func TestInMemoryRepositoryFindByIDNotFound(t *testing.T) {
	repo := newTestRepo()

	_, err := repo.FindByID(context.Background(), "missing")
	if err == nil {
		t.Fatal("Expected error for missing entity")
	}
	if !core.HasCode(err, core.ErrNotFound) {
		t.Errorf("Expected NOT_FOUND, got %v", err)
	}
}

func TestInMemoryRepositoryDelete(t *testing.T) {
	repo := newTestRepo()
	ctx := context.Background()

	_ = repo.Insert(ctx, &TestEntity{IDField: "id-1", Code: "A"})
	if err := repo.Delete(ctx, "id-1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	if _, err := repo.FindByID(ctx, "id-1"); !core.HasCode(err, core.ErrNotFound) {
		t.Errorf("Expected NOT_FOUND after delete, got %v", err)
	}
	// уникальный ключ освобожден
	if err := repo.Insert(ctx, &TestEntity{IDField: "id-2", Code: "A"}); err != nil {
		t.Errorf("Unique key must be released after delete: %v", err)
	}
}
