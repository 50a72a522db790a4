// Package registry keeps scene and group definitions in memory, backed by the
// resource_state store. Changes are persisted only on Save.
package registry

import (
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/dokzlo13/lightstage/internal/storage"
)

const (
	KindScene = "scene"
	KindGroup = "group"
)

// table is an id-keyed definition set. clone keeps callers from sharing
// slices with the stored copy.
type table[T any] struct {
	mu    sync.RWMutex
	items map[int]T
	store *storage.TypedStore[T]
	clone func(T) T
}

func newTable[T any](store *storage.TypedStore[T], clone func(T) T) *table[T] {
	return &table[T]{items: make(map[int]T), store: store, clone: clone}
}

func (t *table[T]) get(id int) (T, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	v, ok := t.items[id]
	if !ok {
		return v, false
	}
	return t.clone(v), true
}

func (t *table[T]) ids() []int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ids := make([]int, 0, len(t.items))
	for id := range t.items {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

func (t *table[T]) put(id int, v T) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.items[id] = t.clone(v)
}

// add stores v under the lowest free id and returns it.
func (t *table[T]) add(assign func(id int, v T) T, v T) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := 1
	for {
		if _, ok := t.items[id]; !ok {
			break
		}
		id++
	}
	t.items[id] = t.clone(assign(id, v))
	return id
}

func (t *table[T]) remove(id int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.items[id]; !ok {
		return false
	}
	delete(t.items, id)
	return true
}

func (t *table[T]) len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.items)
}

// load replaces the in-memory set with the stored one.
func (t *table[T]) load(assign func(id int, v T) T) error {
	if t.store == nil {
		return nil
	}
	values, _, err := t.store.GetAll()
	if err != nil {
		return fmt.Errorf("failed to load %s definitions: %w", t.store.Kind(), err)
	}

	items := make(map[int]T, len(values))
	for key, v := range values {
		id, err := strconv.Atoi(key)
		if err != nil {
			return fmt.Errorf("invalid %s id %q: %w", t.store.Kind(), key, err)
		}
		items[id] = assign(id, v)
	}

	t.mu.Lock()
	t.items = items
	t.mu.Unlock()
	return nil
}

func (t *table[T]) save() error {
	if t.store == nil {
		return nil
	}
	t.mu.RLock()
	values := make(map[string]T, len(t.items))
	for id, v := range t.items {
		values[strconv.Itoa(id)] = v
	}
	t.mu.RUnlock()

	if err := t.store.Replace(values); err != nil {
		return fmt.Errorf("failed to save %s definitions: %w", t.store.Kind(), err)
	}
	return nil
}
