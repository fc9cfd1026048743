package engine

import (
	"slices"

	"github.com/syssam/persist"
	"github.com/syssam/persist/metamodel"
)

// PersistenceContext is the identity map of a session. It tracks every
// managed entity with its EntityEntry and every collection wrapper with its
// CollectionEntry, the latter indexed both by wrapper and by collection key.
type PersistenceContext struct {
	entities map[EntityKey]*Entity
	entries  map[*Entity]*EntityEntry
	order    []*Entity

	collections      map[*PersistentCollection]*CollectionEntry
	collectionOrder  []*PersistentCollection
	collectionsByKey map[CollectionKey]*PersistentCollection

	batch *BatchFetchQueue
}

// NewPersistenceContext returns an empty persistence context.
func NewPersistenceContext() *PersistenceContext {
	return &PersistenceContext{
		entities:         make(map[EntityKey]*Entity),
		entries:          make(map[*Entity]*EntityEntry),
		collections:      make(map[*PersistentCollection]*CollectionEntry),
		collectionsByKey: make(map[CollectionKey]*PersistentCollection),
		batch:            NewBatchFetchQueue(),
	}
}

// BatchFetchQueue returns the queue of pending batch loads.
func (pc *PersistenceContext) BatchFetchQueue() *BatchFetchQueue { return pc.batch }

// AddEntity registers e as managed with the given entry. An uninitialized
// reference registered under the same key is replaced by e unless it is e
// itself. The key is removed from the batch fetch queue.
func (pc *PersistenceContext) AddEntity(e *Entity, entry *EntityEntry) {
	key := entry.Key()
	if prev, ok := pc.entities[key]; ok && prev != e {
		pc.order = slices.DeleteFunc(pc.order, func(x *Entity) bool { return x == prev })
		delete(pc.entries, prev)
	}
	if _, ok := pc.entries[e]; !ok && !slices.Contains(pc.order, e) {
		pc.order = append(pc.order, e)
	}
	pc.entities[key] = e
	pc.entries[e] = entry
	pc.batch.RemoveBatchLoadableEntityKey(key)
}

// AddReference returns the instance registered for the identifier, or
// registers and returns a new uninitialized reference. References carry no
// entry until they are initialized.
func (pc *PersistenceContext) AddReference(p metamodel.EntityPersister, id any) *Entity {
	key := NewEntityKey(p.RootEntityName(), id)
	if e, ok := pc.entities[key]; ok {
		return e
	}
	e := NewReference(p.EntityName(), id)
	pc.entities[key] = e
	pc.order = append(pc.order, e)
	return e
}

// GetEntity returns the instance registered under key, initialized or not.
func (pc *PersistenceContext) GetEntity(key EntityKey) (*Entity, bool) {
	e, ok := pc.entities[key]
	return e, ok
}

// Entry returns the entry of a managed instance, nil for references and
// unknown instances.
func (pc *PersistenceContext) Entry(e *Entity) *EntityEntry { return pc.entries[e] }

// Contains reports whether e is registered in the context.
func (pc *PersistenceContext) Contains(e *Entity) bool {
	if e == nil {
		return false
	}
	if _, ok := pc.entries[e]; ok {
		return true
	}
	for _, x := range pc.entities {
		if x == e {
			return true
		}
	}
	return false
}

// RemoveEntity drops e and its entry.
func (pc *PersistenceContext) RemoveEntity(e *Entity) {
	if entry, ok := pc.entries[e]; ok {
		key := entry.Key()
		if pc.entities[key] == e {
			delete(pc.entities, key)
		}
		delete(pc.entries, e)
	} else {
		for k, x := range pc.entities {
			if x == e {
				delete(pc.entities, k)
			}
		}
	}
	pc.order = slices.DeleteFunc(pc.order, func(x *Entity) bool { return x == e })
}

// Entities returns the managed instances that have an entry, in the order
// they were registered.
func (pc *PersistenceContext) Entities() []*Entity {
	out := make([]*Entity, 0, len(pc.entries))
	for _, e := range pc.order {
		if _, ok := pc.entries[e]; ok {
			out = append(out, e)
		}
	}
	return out
}

// EntityCount returns the number of managed instances with an entry.
func (pc *PersistenceContext) EntityCount() int { return len(pc.entries) }

// AddUninitializedCollection registers a collection that is loaded on
// demand. Its entry is bound to the owner and has no snapshot.
func (pc *PersistenceContext) AddUninitializedCollection(p metamodel.CollectionPersister, c *PersistentCollection, key any) *CollectionEntry {
	c.bind(p.Role(), key, c.owner)
	return pc.addCollection(c, &CollectionEntry{Role: p.Role(), Persister: p, Key: key})
}

// AddInitializedCollection records that c was loaded from the database.
// The snapshot is the loaded state: the current contents, or the contents
// before queued changes were replayed, in which case c stays dirty. A
// collection already registered keeps its entry.
func (pc *PersistenceContext) AddInitializedCollection(p metamodel.CollectionPersister, c *PersistentCollection, key any) *CollectionEntry {
	entry, ok := pc.collections[c]
	if !ok {
		c.bind(p.Role(), key, c.owner)
		entry = pc.addCollection(c, &CollectionEntry{Role: p.Role(), Persister: p, Key: key})
	}
	if c.loaded != nil {
		entry.Snapshot, c.loaded = c.loaded, nil
		return entry
	}
	entry.Snapshot = c.snapshot()
	c.clearDirty()
	return entry
}

// AddNewCollection registers a collection created or assigned by the
// application for owner. The entry is bound to the owner and has no
// snapshot, so flush recreates its rows.
func (pc *PersistenceContext) AddNewCollection(p metamodel.CollectionPersister, c *PersistentCollection, owner *Entity, key any) (*CollectionEntry, error) {
	if prev, ok := pc.collections[c]; ok {
		if prev.Role == p.Role() && Equal(prev.Key, key) {
			return prev, nil
		}
		return nil, persist.NewIllegalStateError("collection is already bound to %s#%v", prev.Role, prev.Key)
	}
	c.bind(p.Role(), key, owner)
	return pc.addCollection(c, &CollectionEntry{Role: p.Role(), Persister: p, Key: key}), nil
}

// ReplaceCollection dereferences old and registers replacement for owner
// under a new entry.
func (pc *PersistenceContext) ReplaceCollection(p metamodel.CollectionPersister, old, replacement *PersistentCollection, owner *Entity, key any) (*CollectionEntry, error) {
	if old == replacement {
		return nil, persist.NewIllegalArgumentError("cannot replace collection %s with itself", p.Role())
	}
	pc.Dereference(old)
	return pc.AddNewCollection(p, replacement, owner, key)
}

// Dereference unbinds c from its owner. The entry and the wrapper lose
// their role, persister and key, and both indexes forget the wrapper. The
// binding c had is returned so that its rows can be removed.
func (pc *PersistenceContext) Dereference(c *PersistentCollection) (metamodel.CollectionPersister, any, bool) {
	entry, ok := pc.collections[c]
	if !ok {
		c.unbind()
		return nil, nil, false
	}
	p, key := entry.Persister, entry.Key
	ck := NewCollectionKey(entry.Role, key)
	if pc.collectionsByKey[ck] == c {
		delete(pc.collectionsByKey, ck)
	}
	delete(pc.collections, c)
	pc.batch.RemoveBatchLoadableCollection(entry.Role, c)
	pc.collectionOrder = slices.DeleteFunc(pc.collectionOrder, func(x *PersistentCollection) bool { return x == c })
	entry.unbind()
	entry.Snapshot = nil
	c.unbind()
	return p, key, true
}

func (pc *PersistenceContext) addCollection(c *PersistentCollection, entry *CollectionEntry) *CollectionEntry {
	if _, ok := pc.collections[c]; !ok {
		pc.collectionOrder = append(pc.collectionOrder, c)
	}
	pc.collections[c] = entry
	pc.collectionsByKey[NewCollectionKey(entry.Role, entry.Key)] = c
	return entry
}

// CollectionEntry returns the entry of a registered wrapper.
func (pc *PersistenceContext) CollectionEntry(c *PersistentCollection) (*CollectionEntry, bool) {
	entry, ok := pc.collections[c]
	return entry, ok
}

// CollectionByKey returns the wrapper registered for a role and owner key.
func (pc *PersistenceContext) CollectionByKey(role string, key any) (*PersistentCollection, bool) {
	c, ok := pc.collectionsByKey[NewCollectionKey(role, key)]
	return c, ok
}

// Collections returns the registered wrappers in registration order.
func (pc *PersistenceContext) Collections() []*PersistentCollection {
	return slices.Clone(pc.collectionOrder)
}

// ResetFlushState clears the flush state of every collection entry. It
// undoes a flush that was prepared but not executed.
func (pc *PersistenceContext) ResetFlushState() {
	for _, entry := range pc.collections {
		entry.resetFlushState()
	}
}

// PostFlush resets the flush state of every collection entry and takes new
// snapshots of the initialized collections.
func (pc *PersistenceContext) PostFlush() {
	for _, c := range pc.collectionOrder {
		entry := pc.collections[c]
		entry.resetFlushState()
		if c.IsInitialized() {
			entry.Snapshot = c.snapshot()
			c.loaded = nil
			c.clearDirty()
		}
	}
}

// Clear forgets every entity and collection. Registered wrappers are
// unbound.
func (pc *PersistenceContext) Clear() {
	for c, entry := range pc.collections {
		entry.unbind()
		c.unbind()
	}
	clear(pc.entities)
	clear(pc.entries)
	clear(pc.collections)
	clear(pc.collectionsByKey)
	pc.order = nil
	pc.collectionOrder = nil
	pc.batch.Clear()
}
