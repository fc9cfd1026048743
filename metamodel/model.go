package metamodel

import (
	"sort"

	"github.com/syssam/persist"
)

// Entity is the built model of a mapped entity.
type Entity struct {
	name        string
	table       string
	id          *Attribute
	generator   Generator
	version     *Attribute
	attributes  []*Attribute
	byName      map[string]*Attribute
	secondary   []SecondaryTable
	batchSize   int
	cacheAccess CacheAccess
	naturalID   []string
}

var _ EntityPersister = (*Entity)(nil)

// EntityName returns the entity name.
func (e *Entity) EntityName() string { return e.name }

// RootEntityName returns the name of the hierarchy root. Inheritance is not
// mapped, so every entity is its own root.
func (e *Entity) RootEntityName() string { return e.name }

// TableName returns the primary table.
func (e *Entity) TableName() string { return e.table }

// IdentifierAttribute returns the identifier attribute.
func (e *Entity) IdentifierAttribute() *Attribute { return e.id }

// IdentifierColumns returns the identifier columns of the primary table.
func (e *Entity) IdentifierColumns() []string { return e.id.Columns }

// IdentifierGenerator returns the identifier generation strategy.
func (e *Entity) IdentifierGenerator() Generator { return e.generator }

// VersionAttribute returns the optimistic lock version attribute, or nil.
func (e *Entity) VersionAttribute() *Attribute { return e.version }

// Attributes returns the non-identifier attributes in mapping order.
func (e *Entity) Attributes() []*Attribute { return e.attributes }

// Attribute returns the attribute with the given name, including the identifier.
func (e *Entity) Attribute(name string) (*Attribute, bool) {
	a, ok := e.byName[name]
	return a, ok
}

// SecondaryTables returns the secondary tables in mapping order.
func (e *Entity) SecondaryTables() []SecondaryTable { return e.secondary }

// QuerySpaces returns every table holding state of the entity.
func (e *Entity) QuerySpaces() []string {
	spaces := make([]string, 0, 1+len(e.secondary))
	spaces = append(spaces, e.table)
	for _, st := range e.secondary {
		spaces = append(spaces, st.Table)
	}
	return spaces
}

// BatchSize returns the batch fetch size, 0 or 1 meaning no batching.
func (e *Entity) BatchSize() int { return e.batchSize }

// CacheAccess returns the second-level cache access type.
func (e *Entity) CacheAccess() CacheAccess { return e.cacheAccess }

// NaturalIDAttributes returns the names of the natural identifier attributes.
func (e *Entity) NaturalIDAttributes() []string { return e.naturalID }

// Collection is the built model of a mapped collection.
type Collection struct {
	role           string
	owner          string
	attribute      string
	kind           CollectionKind
	table          string
	keyColumns     []string
	indexColumns   []string
	indexType      string
	elementKind    ElementKind
	elementColumns []string
	elementType    string
	elementEntity  string
	component      *Component
	oneToMany      bool
	inverse        bool
	batchSize      int
	cacheAccess    CacheAccess
}

var _ CollectionPersister = (*Collection)(nil)

// Role returns "<Owner>.<attribute>".
func (c *Collection) Role() string { return c.role }

// OwnerEntityName returns the owning entity name.
func (c *Collection) OwnerEntityName() string { return c.owner }

// AttributeName returns the owning attribute name.
func (c *Collection) AttributeName() string { return c.attribute }

// Kind returns the collection semantics.
func (c *Collection) Kind() CollectionKind { return c.kind }

// TableName returns the table holding the collection rows. For one-to-many
// collections this is the element entity table.
func (c *Collection) TableName() string { return c.table }

// KeyColumns returns the foreign key columns referencing the owner.
func (c *Collection) KeyColumns() []string { return c.keyColumns }

// IndexColumns returns the list position or map key columns.
func (c *Collection) IndexColumns() []string { return c.indexColumns }

// IndexType returns the Go type name of map keys; lists are indexed by int.
func (c *Collection) IndexType() string { return c.indexType }

// ElementKind returns the element category.
func (c *Collection) ElementKind() ElementKind { return c.elementKind }

// ElementColumns returns the basic element columns, or the foreign key
// columns referencing the element entity of a many-to-many collection.
func (c *Collection) ElementColumns() []string { return c.elementColumns }

// ElementType returns the Go type name of basic elements.
func (c *Collection) ElementType() string { return c.elementType }

// ElementEntityName returns the element entity of entity collections.
func (c *Collection) ElementEntityName() string { return c.elementEntity }

// ElementComponent returns the element component of composite collections.
func (c *Collection) ElementComponent() *Component { return c.component }

// IsOneToMany reports whether rows live in the element entity table.
func (c *Collection) IsOneToMany() bool { return c.oneToMany }

// IsManyToMany reports whether entity elements are linked through a join table.
func (c *Collection) IsManyToMany() bool { return c.elementKind == ElementEntity && !c.oneToMany }

// IsInverse reports whether the other side of the association owns the foreign key.
func (c *Collection) IsInverse() bool { return c.inverse }

// BatchSize returns the batch fetch size.
func (c *Collection) BatchSize() int { return c.batchSize }

// CacheAccess returns the second-level cache access type.
func (c *Collection) CacheAccess() CacheAccess { return c.cacheAccess }

// AssociationKey returns the key of the collection's foreign key.
func (c *Collection) AssociationKey() AssociationKey {
	return NewAssociationKey(c.table, c.keyColumns)
}

// Metamodel is an immutable registry of entities and collections.
type Metamodel struct {
	entities    map[string]*Entity
	order       []string
	collections map[string]*Collection
}

var _ Resolver = (*Metamodel)(nil)

// Entity returns the entity persister with the given name.
func (m *Metamodel) Entity(name string) (EntityPersister, error) {
	if e, ok := m.entities[name]; ok {
		return e, nil
	}
	return nil, persist.NewMappingError(name, "", "unknown entity")
}

// Collection returns the collection persister with the given role.
func (m *Metamodel) Collection(role string) (CollectionPersister, error) {
	if c, ok := m.collections[role]; ok {
		return c, nil
	}
	return nil, persist.NewMappingError(role, "", "unknown collection role")
}

// Entities returns every entity in declaration order.
func (m *Metamodel) Entities() []EntityPersister {
	out := make([]EntityPersister, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, m.entities[name])
	}
	return out
}

// Collections returns every collection ordered by role.
func (m *Metamodel) Collections() []CollectionPersister {
	roles := make([]string, 0, len(m.collections))
	for r := range m.collections {
		roles = append(roles, r)
	}
	sort.Strings(roles)
	out := make([]CollectionPersister, 0, len(roles))
	for _, r := range roles {
		out = append(out, m.collections[r])
	}
	return out
}

// CollectionsOf returns the collections owned by the entity, in attribute order.
func (m *Metamodel) CollectionsOf(entity string) []CollectionPersister {
	e, ok := m.entities[entity]
	if !ok {
		return nil
	}
	var out []CollectionPersister
	for _, a := range e.attributes {
		if a.Kind == KindCollection {
			out = append(out, m.collections[a.Role])
		}
	}
	return out
}
