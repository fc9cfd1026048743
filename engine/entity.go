// Package engine holds the session-scoped state of loaded and persisted
// instances: the persistence context with its entity and collection
// entries, the persistent collection wrappers and the batch fetch queue.
//
// Instances are kept in dynamic-map mode: an Entity is an entity name, an
// identifier and a map of attribute values. Composite values are
// map[string]any, to-one values are *Entity and collection values are
// *PersistentCollection once the session manages them.
//
// Nothing in this package is safe for concurrent use; a persistence
// context belongs to one session.
package engine

import (
	"fmt"
	"maps"
	"math"
	"reflect"
	"strings"
)

// Entity is a mapped instance in dynamic-map mode.
type Entity struct {
	name        string
	id          any
	values      map[string]any
	initialized bool
}

// New returns a transient, initialized instance of the named entity.
func New(name string) *Entity {
	return &Entity{name: name, values: make(map[string]any), initialized: true}
}

// NewReference returns an uninitialized instance standing for the row
// with the given identifier. Its state is loaded on first initialization.
func NewReference(name string, id any) *Entity {
	return &Entity{name: name, id: id, values: make(map[string]any)}
}

// Name returns the entity name.
func (e *Entity) Name() string { return e.name }

// ID returns the identifier, nil for transient instances without an
// assigned identifier.
func (e *Entity) ID() any { return e.id }

// SetID sets the identifier.
func (e *Entity) SetID(id any) { e.id = id }

// Get returns the value of an attribute.
func (e *Entity) Get(attr string) any { return e.values[attr] }

// Set sets the value of an attribute. Setting an attribute of an
// uninitialized reference is allowed and survives its initialization.
func (e *Entity) Set(attr string, v any) *Entity {
	e.values[attr] = v
	return e
}

// Has reports whether the attribute was set.
func (e *Entity) Has(attr string) bool {
	_, ok := e.values[attr]
	return ok
}

// Values returns a copy of the attribute values.
func (e *Entity) Values() map[string]any { return maps.Clone(e.values) }

// IsInitialized reports whether the state of the instance was loaded or
// assigned.
func (e *Entity) IsInitialized() bool { return e.initialized }

// Hydrate sets the loaded state of the instance and marks it initialized.
// Attributes already set on an uninitialized reference take precedence.
func (e *Entity) Hydrate(values map[string]any) {
	for k, v := range values {
		if _, set := e.values[k]; set && !e.initialized {
			continue
		}
		e.values[k] = v
	}
	e.initialized = true
}

// String returns "Name#id".
func (e *Entity) String() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s#%v", e.name, e.id)
}

// EntityKey identifies a row of an entity hierarchy.
type EntityKey struct {
	Entity string
	ID     any
}

// NewEntityKey returns the key of id in the hierarchy of entity. The id is
// normalized with NormalizeID so that keys built from driver values and
// from application values compare equal.
func NewEntityKey(entity string, id any) EntityKey {
	return EntityKey{Entity: entity, ID: NormalizeID(id)}
}

// String returns "Entity#id".
func (k EntityKey) String() string { return fmt.Sprintf("%s#%v", k.Entity, k.ID) }

// CollectionKey identifies the rows of a collection role owned by one
// entity.
type CollectionKey struct {
	Role string
	Key  any
}

// NewCollectionKey returns the normalized key of a collection.
func NewCollectionKey(role string, key any) CollectionKey {
	return CollectionKey{Role: role, Key: NormalizeID(key)}
}

// String returns "Role#key".
func (k CollectionKey) String() string { return fmt.Sprintf("%s#%v", k.Role, k.Key) }

// NormalizeID converts identifier values to a canonical comparable form:
// signed and unsigned integers become int64, []byte becomes string and
// multi-column identifiers ([]any) become their parenthesized text.
// Unsigned values above math.MaxInt64 stay uint64.
func NormalizeID(id any) any {
	switch v := id.(type) {
	case int:
		return int64(v)
	case int8:
		return int64(v)
	case int16:
		return int64(v)
	case int32:
		return int64(v)
	case uint:
		return normalizeUint(uint64(v))
	case uint8:
		return int64(v)
	case uint16:
		return int64(v)
	case uint32:
		return int64(v)
	case uint64:
		return normalizeUint(v)
	case []byte:
		return string(v)
	case []any:
		parts := make([]string, len(v))
		for i, p := range v {
			parts[i] = fmt.Sprint(NormalizeID(p))
		}
		return "(" + strings.Join(parts, ",") + ")"
	}
	return id
}

func normalizeUint(v uint64) any {
	if v > math.MaxInt64 {
		return v
	}
	return int64(v)
}

// Equal reports whether two attribute or element values are the same.
// Entities compare by identity, everything else by deep equality after
// identifier normalization of scalars.
func Equal(a, b any) bool {
	ea, aok := a.(*Entity)
	eb, bok := b.(*Entity)
	if aok || bok {
		return aok && bok && ea == eb
	}
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if reflect.TypeOf(a).Comparable() && reflect.TypeOf(b).Comparable() {
		return NormalizeID(a) == NormalizeID(b)
	}
	return reflect.DeepEqual(a, b)
}

func keyText(v any) string { return fmt.Sprint(NormalizeID(v)) }
