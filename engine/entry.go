package engine

import (
	"maps"

	"github.com/syssam/persist"
	"github.com/syssam/persist/metamodel"
)

// Status is the lifecycle state of a managed entity.
type Status int

// Entity statuses.
const (
	StatusManaged Status = iota
	StatusReadOnly
	StatusDeleted
	StatusGone
	StatusLoading
	StatusSaving
)

var statusNames = [...]string{
	StatusManaged:  "MANAGED",
	StatusReadOnly: "READ_ONLY",
	StatusDeleted:  "DELETED",
	StatusGone:     "GONE",
	StatusLoading:  "LOADING",
	StatusSaving:   "SAVING",
}

// String returns the name of the status.
func (s Status) String() string {
	if s >= 0 && int(s) < len(statusNames) {
		return statusNames[s]
	}
	return "UNKNOWN"
}

// EntityEntry is the metadata the persistence context keeps for a managed
// entity.
type EntityEntry struct {
	Persister metamodel.EntityPersister
	ID        any
	// LoadedState is the attribute state as of the last load or flush.
	// Collection attributes hold the *PersistentCollection bound to the
	// owner at that time.
	LoadedState      map[string]any
	Version          any
	LockMode         persist.LockMode
	Status           Status
	ExistsInDatabase bool
}

// Key returns the entity key of the entry.
func (e *EntityEntry) Key() EntityKey {
	return NewEntityKey(e.Persister.RootEntityName(), e.ID)
}

// IsModifiable reports whether flush may write the entity.
func (e *EntityEntry) IsModifiable() bool {
	return e.Status == StatusManaged || e.Status == StatusSaving
}

// CollectionEntry is the metadata the persistence context keeps for a
// collection wrapper.
type CollectionEntry struct {
	// Role, Persister and Key are the owner binding the collection was
	// loaded or created with. Dereferencing sets them to their zero values.
	Role      string
	Persister metamodel.CollectionPersister
	Key       any
	// Snapshot holds the elements ([]any) or entries (map[any]any) as of
	// the last load or flush, nil while the collection is uninitialized.
	Snapshot any

	// Flush state, reset after every flush.
	CurrentPersister metamodel.CollectionPersister
	CurrentKey       any
	Reached          bool
	DoUpdate         bool
	DoRemove         bool
	DoRecreate       bool
}

// IsProcessed reports whether flush scheduled an action for the collection.
func (e *CollectionEntry) IsProcessed() bool {
	return e.DoUpdate || e.DoRemove || e.DoRecreate
}

// Orphans returns the elements of the snapshot no longer contained in c.
func (e *CollectionEntry) Orphans(c *PersistentCollection) []any {
	var out []any
	for _, old := range snapshotElements(e.Snapshot) {
		if !c.contains(old) && !containsValue(c, old) {
			out = append(out, old)
		}
	}
	return out
}

// Added returns the elements of c that are not part of the snapshot.
func (e *CollectionEntry) Added(c *PersistentCollection) []any {
	prev := snapshotElements(e.Snapshot)
	var out []any
	for _, v := range c.Elements() {
		found := false
		for _, p := range prev {
			if Equal(p, v) {
				found = true
				break
			}
		}
		if !found {
			out = append(out, v)
		}
	}
	return out
}

func (e *CollectionEntry) resetFlushState() {
	e.CurrentPersister, e.CurrentKey = nil, nil
	e.Reached, e.DoUpdate, e.DoRemove, e.DoRecreate = false, false, false, false
}

func (e *CollectionEntry) unbind() {
	e.Role, e.Persister, e.Key = "", nil, nil
	e.resetFlushState()
}

func snapshotElements(s any) []any {
	switch v := s.(type) {
	case []any:
		return v
	case map[any]any:
		out := make([]any, 0, len(v))
		for _, e := range v {
			out = append(out, e)
		}
		return out
	}
	return nil
}

func containsValue(c *PersistentCollection, v any) bool {
	if c.kind != metamodel.CollectionMap {
		return false
	}
	for _, e := range c.entries {
		if Equal(e, v) {
			return true
		}
	}
	return false
}

// Snapshot returns the state of e used for dirty checking: attribute
// values with composite values copied. Collection attributes keep the
// collection value itself.
func Snapshot(p metamodel.EntityPersister, e *Entity) map[string]any {
	state := make(map[string]any, len(p.Attributes()))
	for _, a := range p.Attributes() {
		v, ok := e.values[a.Name]
		if !ok {
			continue
		}
		if a.Kind == metamodel.KindComposite {
			v = copyComposite(v)
		}
		state[a.Name] = v
	}
	return state
}

func copyComposite(v any) any {
	m, ok := v.(map[string]any)
	if !ok {
		return v
	}
	out := maps.Clone(m)
	for k, nested := range out {
		out[k] = copyComposite(nested)
	}
	return out
}

// DirtyAttributes returns the names of the non-collection attributes of e
// whose value differs from the loaded state, in mapping order. The version
// attribute is never reported.
func DirtyAttributes(p metamodel.EntityPersister, loaded map[string]any, e *Entity) []string {
	version := p.VersionAttribute()
	var dirty []string
	for _, a := range p.Attributes() {
		if a.Kind == metamodel.KindCollection || a == version {
			continue
		}
		if !Equal(loaded[a.Name], e.values[a.Name]) {
			dirty = append(dirty, a.Name)
		}
	}
	return dirty
}
