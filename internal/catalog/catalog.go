package catalog

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Resolver looks entities up. Implementations must be safe for concurrent use.
type Resolver interface {
	EntityByRef(ctx context.Context, ref string) (Entity, bool, error)
	Query(ctx context.Context, filter Filter) ([]Entity, error)
}

type indexedEntity struct {
	entity Entity
	doc    map[string]any
}

// Memory is an in-memory Resolver. FileCatalog keeps its state in one.
type Memory struct {
	mu       sync.RWMutex
	entities map[string]indexedEntity
}

func NewMemory(entities ...Entity) (*Memory, error) {
	m := &Memory{}
	if err := m.Replace(entities); err != nil {
		return nil, err
	}
	return m, nil
}

// Replace swaps the whole content atomically.
func (m *Memory) Replace(entities []Entity) error {
	next := make(map[string]indexedEntity, len(entities))
	for _, entity := range entities {
		if err := entity.Validate(); err != nil {
			return err
		}
		doc, err := entity.Document()
		if err != nil {
			return err
		}
		key := entity.Ref().key()
		if _, dup := next[key]; dup {
			return fmt.Errorf("duplicate entity %s", entity.Ref())
		}
		next[key] = indexedEntity{entity: entity, doc: doc}
	}

	m.mu.Lock()
	m.entities = next
	m.mu.Unlock()
	return nil
}

func (m *Memory) EntityByRef(ctx context.Context, ref string) (Entity, bool, error) {
	parsed, err := ParseRef(ref, "")
	if err != nil {
		return Entity{}, false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	item, ok := m.entities[parsed.key()]
	return item.entity, ok, nil
}

// Query returns matching entities ordered by reference.
func (m *Memory) Query(ctx context.Context, filter Filter) ([]Entity, error) {
	matcher, err := filter.Compile()
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	out := make([]Entity, 0)
	for _, item := range m.entities {
		if matcher.Match(item.doc) {
			out = append(out, item.entity)
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].Ref().key() < out[j].Ref().key()
	})
	return out, nil
}

func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entities)
}
