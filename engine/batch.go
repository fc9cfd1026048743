package engine

import (
	"errors"
	"slices"
)

// ErrNotLoaded is reported by OrderByKeys for keys without a value.
var ErrNotLoaded = errors.New("engine: key not loaded")

// KeyFunc extracts a key from a loaded value.
type KeyFunc[K comparable, V any] func(V) K

// OrderByKeys reorders values to match the order of the requested keys.
// Missing values are represented as zero values with ErrNotLoaded at the
// same position.
func OrderByKeys[K comparable, V any](keys []K, values []V, keyFn KeyFunc[K, V]) ([]V, []error) {
	lookup := make(map[K]V, len(values))
	for _, v := range values {
		lookup[keyFn(v)] = v
	}
	result := make([]V, len(keys))
	errs := make([]error, len(keys))
	for i, key := range keys {
		if v, ok := lookup[key]; ok {
			result[i] = v
		} else {
			errs[i] = ErrNotLoaded
		}
	}
	return result, errs
}

// BatchFetchQueue holds the entity references and collections that were
// met during loading but not initialized, so that initializing one of them
// can load its pending siblings in the same statement.
type BatchFetchQueue struct {
	entities    map[string][]EntityKey
	collections map[string][]*PersistentCollection
}

// NewBatchFetchQueue returns an empty queue.
func NewBatchFetchQueue() *BatchFetchQueue {
	return &BatchFetchQueue{
		entities:    make(map[string][]EntityKey),
		collections: make(map[string][]*PersistentCollection),
	}
}

// AddBatchLoadableEntityKey queues an uninitialized entity.
func (q *BatchFetchQueue) AddBatchLoadableEntityKey(key EntityKey) {
	if !slices.Contains(q.entities[key.Entity], key) {
		q.entities[key.Entity] = append(q.entities[key.Entity], key)
	}
}

// RemoveBatchLoadableEntityKey removes an entity that was initialized.
func (q *BatchFetchQueue) RemoveBatchLoadableEntityKey(key EntityKey) {
	keys, ok := q.entities[key.Entity]
	if !ok {
		return
	}
	if keys = slices.DeleteFunc(keys, func(k EntityKey) bool { return k == key }); len(keys) == 0 {
		delete(q.entities, key.Entity)
	} else {
		q.entities[key.Entity] = keys
	}
}

// AddBatchLoadableCollection queues an uninitialized collection.
func (q *BatchFetchQueue) AddBatchLoadableCollection(c *PersistentCollection) {
	if c.IsUnreferenced() || slices.Contains(q.collections[c.role], c) {
		return
	}
	q.collections[c.role] = append(q.collections[c.role], c)
}

// RemoveBatchLoadableCollection removes a collection that was initialized
// or dereferenced.
func (q *BatchFetchQueue) RemoveBatchLoadableCollection(role string, c *PersistentCollection) {
	cs, ok := q.collections[role]
	if !ok {
		return
	}
	if cs = slices.DeleteFunc(cs, func(x *PersistentCollection) bool { return x == c }); len(cs) == 0 {
		delete(q.collections, role)
	} else {
		q.collections[role] = cs
	}
}

// EntityBatch returns the identifiers to load together with id: id first,
// then up to size-1 pending identifiers of the same entity in queue order.
func (q *BatchFetchQueue) EntityBatch(entity string, id any, size int) []any {
	ids := []any{id}
	requested := NewEntityKey(entity, id)
	for _, k := range q.entities[entity] {
		if len(ids) >= size {
			break
		}
		if k != requested {
			ids = append(ids, k.ID)
		}
	}
	return ids
}

// CollectionBatch returns the owner keys to initialize together with key:
// key first, then up to size-1 keys of pending uninitialized collections of
// the same role.
func (q *BatchFetchQueue) CollectionBatch(role string, key any, size int) []any {
	keys := []any{key}
	requested := NormalizeID(key)
	for _, c := range q.collections[role] {
		if len(keys) >= size {
			break
		}
		if c.IsInitialized() || c.IsUnreferenced() || NormalizeID(c.key) == requested {
			continue
		}
		keys = append(keys, c.key)
	}
	return keys
}

// PendingEntities returns the number of queued entity keys.
func (q *BatchFetchQueue) PendingEntities() int {
	n := 0
	for _, keys := range q.entities {
		n += len(keys)
	}
	return n
}

// Clear empties the queue.
func (q *BatchFetchQueue) Clear() {
	clear(q.entities)
	clear(q.collections)
}
