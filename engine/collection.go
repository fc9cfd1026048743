package engine

import (
	"slices"

	"github.com/syssam/persist"
	"github.com/syssam/persist/metamodel"
)

// PersistentCollection wraps the value of a collection attribute of a
// managed entity. It records whether it was modified and, while
// uninitialized, queues additions and removals until it is loaded.
//
// A wrapper represents one owner binding for its whole life. When the
// owner drops or replaces the collection, the wrapper is unbound and a
// new wrapper is created for the replacement.
type PersistentCollection struct {
	role  string
	key   any
	owner *Entity
	kind  metamodel.CollectionKind

	elements []any       // bag, set and list
	entries  map[any]any // map
	mapKeys  []any       // insertion order of entries
	queued   []queuedOp
	// loaded is the state read from the database when queued changes were
	// replayed over it, kept until the collection entry takes it.
	loaded any

	initialized bool
	loading     bool
	dirty       bool
}

type queuedOp struct {
	remove bool
	key    any
	value  any
}

// NewCollection returns an empty, initialized and unbound collection of
// the given kind.
func NewCollection(kind metamodel.CollectionKind) *PersistentCollection {
	c := &PersistentCollection{kind: kind, initialized: true}
	if kind == metamodel.CollectionMap {
		c.entries = make(map[any]any)
	}
	return c
}

// NewUninitializedCollection returns the wrapper of a collection that is
// loaded on demand.
func NewUninitializedCollection(p metamodel.CollectionPersister, key any, owner *Entity) *PersistentCollection {
	c := NewCollection(p.Kind())
	c.initialized = false
	c.role, c.key, c.owner = p.Role(), key, owner
	return c
}

// WrapCollection wraps a raw collection value assigned by the application:
// []any, []*Entity, []string, []int64, map[any]any or map[string]any.
func WrapCollection(kind metamodel.CollectionKind, raw any) (*PersistentCollection, error) {
	c := NewCollection(kind)
	add := func(v any) {
		if kind == metamodel.CollectionSet && c.contains(v) {
			return
		}
		c.elements = append(c.elements, v)
	}
	switch v := raw.(type) {
	case nil:
	case []any:
		for _, e := range v {
			add(e)
		}
	case []*Entity:
		for _, e := range v {
			add(e)
		}
	case []string:
		for _, e := range v {
			add(e)
		}
	case []int64:
		for _, e := range v {
			add(e)
		}
	case map[any]any:
		if kind != metamodel.CollectionMap {
			return nil, persist.NewIllegalArgumentError("cannot wrap a map as a %s", kind)
		}
		for k, e := range v {
			c.put(k, e)
		}
		slices.SortFunc(c.mapKeys, compareKeys)
	case map[string]any:
		if kind != metamodel.CollectionMap {
			return nil, persist.NewIllegalArgumentError("cannot wrap a map as a %s", kind)
		}
		for k, e := range v {
			c.put(k, e)
		}
		slices.SortFunc(c.mapKeys, compareKeys)
	default:
		return nil, persist.NewIllegalArgumentError("unsupported collection value %T", raw)
	}
	if kind == metamodel.CollectionMap && c.elements != nil {
		return nil, persist.NewIllegalArgumentError("cannot wrap a slice as a map")
	}
	return c, nil
}

// compareKeys orders map keys by their text for a deterministic iteration
// order of wrapped maps.
func compareKeys(a, b any) int {
	sa, sb := keyText(a), keyText(b)
	switch {
	case sa < sb:
		return -1
	case sa > sb:
		return 1
	}
	return 0
}

// Role returns the collection role, "" once the collection was dereferenced.
func (c *PersistentCollection) Role() string { return c.role }

// Key returns the owner key, nil once the collection was dereferenced.
func (c *PersistentCollection) Key() any { return c.key }

// Owner returns the owning entity.
func (c *PersistentCollection) Owner() *Entity { return c.owner }

// Kind returns the collection kind.
func (c *PersistentCollection) Kind() metamodel.CollectionKind { return c.kind }

// IsInitialized reports whether the elements were loaded or assigned.
func (c *PersistentCollection) IsInitialized() bool { return c.initialized }

// IsDirty reports whether the collection was modified since it was loaded
// or last flushed.
func (c *PersistentCollection) IsDirty() bool { return c.dirty }

// IsUnreferenced reports whether the collection lost its owner binding.
func (c *PersistentCollection) IsUnreferenced() bool { return c.role == "" }

// HasQueuedOperations reports whether changes were made before initialization.
func (c *PersistentCollection) HasQueuedOperations() bool { return len(c.queued) > 0 }

// Len returns the number of elements or entries of an initialized collection.
func (c *PersistentCollection) Len() int {
	if c.kind == metamodel.CollectionMap {
		return len(c.mapKeys)
	}
	return len(c.elements)
}

// Elements returns the elements of a bag, set or list, or the values of a
// map in key order. It returns nil for an uninitialized collection.
func (c *PersistentCollection) Elements() []any {
	if c.kind == metamodel.CollectionMap {
		out := make([]any, len(c.mapKeys))
		for i, k := range c.mapKeys {
			out[i] = c.entries[k]
		}
		return out
	}
	return slices.Clone(c.elements)
}

// Keys returns the keys of a map in insertion order.
func (c *PersistentCollection) Keys() []any { return slices.Clone(c.mapKeys) }

// Get returns the map entry of k.
func (c *PersistentCollection) Get(k any) (any, bool) {
	v, ok := c.entries[k]
	return v, ok
}

// Contains reports whether v is an element of the collection.
func (c *PersistentCollection) Contains(v any) bool { return c.contains(v) }

func (c *PersistentCollection) contains(v any) bool {
	return slices.ContainsFunc(c.elements, func(e any) bool { return Equal(e, v) })
}

// Add appends an element. Sets ignore elements already present and maps
// do not support Add; both report false.
func (c *PersistentCollection) Add(v any) bool {
	if c.kind == metamodel.CollectionMap {
		return false
	}
	if !c.initialized {
		c.queued = append(c.queued, queuedOp{value: v})
		c.dirty = true
		return true
	}
	if c.kind == metamodel.CollectionSet && c.contains(v) {
		return false
	}
	c.elements = append(c.elements, v)
	c.dirty = true
	return true
}

// Remove removes the first occurrence of v.
func (c *PersistentCollection) Remove(v any) bool {
	if c.kind == metamodel.CollectionMap {
		return false
	}
	if !c.initialized {
		c.queued = append(c.queued, queuedOp{remove: true, value: v})
		c.dirty = true
		return true
	}
	i := slices.IndexFunc(c.elements, func(e any) bool { return Equal(e, v) })
	if i < 0 {
		return false
	}
	c.elements = slices.Delete(c.elements, i, i+1)
	c.dirty = true
	return true
}

// Put sets the entry of k in a map.
func (c *PersistentCollection) Put(k, v any) bool {
	if c.kind != metamodel.CollectionMap {
		return false
	}
	if !c.initialized {
		c.queued = append(c.queued, queuedOp{key: k, value: v})
		c.dirty = true
		return true
	}
	c.put(k, v)
	c.dirty = true
	return true
}

func (c *PersistentCollection) put(k, v any) {
	if _, ok := c.entries[k]; !ok {
		c.mapKeys = append(c.mapKeys, k)
	}
	c.entries[k] = v
}

// Delete removes the entry of k from a map.
func (c *PersistentCollection) Delete(k any) bool {
	if c.kind != metamodel.CollectionMap {
		return false
	}
	if !c.initialized {
		c.queued = append(c.queued, queuedOp{remove: true, key: k})
		c.dirty = true
		return true
	}
	if _, ok := c.entries[k]; !ok {
		return false
	}
	delete(c.entries, k)
	c.mapKeys = slices.DeleteFunc(c.mapKeys, func(e any) bool { return e == k })
	c.dirty = true
	return true
}

// Clear removes every element. An uninitialized collection is treated as
// initialized and empty afterwards.
func (c *PersistentCollection) Clear() {
	c.elements = nil
	c.mapKeys = nil
	if c.kind == metamodel.CollectionMap {
		c.entries = make(map[any]any)
	}
	c.queued = nil
	c.initialized = true
	c.dirty = true
}

// BeginLoad prepares an uninitialized collection for reading rows.
func (c *PersistentCollection) BeginLoad() {
	c.loading = true
	c.elements = nil
	c.mapKeys = nil
	if c.kind == metamodel.CollectionMap {
		c.entries = make(map[any]any)
	}
}

// IsLoading reports whether rows are being read into the collection.
func (c *PersistentCollection) IsLoading() bool { return c.loading }

// LoadElement adds a row read from the database. index is the list
// position or map key and is ignored for bags and sets. Sets and
// entity-valued bags skip elements already read, since a row can repeat
// when the owner is joined to other tables.
func (c *PersistentCollection) LoadElement(index, v any) {
	switch c.kind {
	case metamodel.CollectionMap:
		c.put(index, v)
	case metamodel.CollectionList:
		pos, ok := toInt(index)
		if !ok {
			c.elements = append(c.elements, v)
			return
		}
		for len(c.elements) <= pos {
			c.elements = append(c.elements, nil)
		}
		c.elements[pos] = v
	case metamodel.CollectionSet:
		if !c.contains(v) {
			c.elements = append(c.elements, v)
		}
	default:
		if _, isEntity := v.(*Entity); isEntity && c.contains(v) {
			return
		}
		c.elements = append(c.elements, v)
	}
}

// EndLoad marks the collection initialized and replays the changes queued
// while it was not. The collection stays dirty when changes were replayed.
func (c *PersistentCollection) EndLoad() {
	c.loading = false
	c.initialized = true
	c.dirty = false
	queued := c.queued
	c.queued = nil
	if len(queued) > 0 {
		c.loaded = c.snapshot()
	}
	for _, op := range queued {
		switch {
		case c.kind == metamodel.CollectionMap && op.remove:
			c.Delete(op.key)
		case c.kind == metamodel.CollectionMap:
			c.Put(op.key, op.value)
		case op.remove:
			c.Remove(op.value)
		default:
			c.Add(op.value)
		}
	}
}

// snapshot copies the current contents. The result is never nil.
func (c *PersistentCollection) snapshot() any {
	if c.kind == metamodel.CollectionMap {
		m := make(map[any]any, len(c.entries))
		for k, v := range c.entries {
			m[k] = v
		}
		return m
	}
	return append(make([]any, 0, len(c.elements)), c.elements...)
}

func (c *PersistentCollection) bind(role string, key any, owner *Entity) {
	c.role, c.key, c.owner = role, key, owner
}

func (c *PersistentCollection) unbind() {
	c.role, c.key = "", nil
}

func (c *PersistentCollection) clearDirty() { c.dirty = false }

func toInt(v any) (int, bool) {
	switch n := NormalizeID(v).(type) {
	case int64:
		return int(n), n >= 0
	case float64:
		return int(n), n >= 0
	}
	return 0, false
}
