// Package metamodel describes mapped entities, collections and components
// and resolves them by name.
//
// The load plan builder, the walker and the session consume the model
// through the narrow EntityPersister and CollectionPersister interfaces.
// Model instances are created from EntityDef descriptors, either in code
// or decoded from a YAML mapping document, and are immutable once built.
package metamodel

import (
	"strings"

	"github.com/syssam/persist"
)

// AttributeKind classifies a mapped attribute.
type AttributeKind int

// Attribute kinds.
const (
	KindBasic AttributeKind = iota
	KindComposite
	KindManyToOne
	KindOneToOne
	KindCollection
	KindAny
)

var kindNames = [...]string{
	KindBasic:      "basic",
	KindComposite:  "composite",
	KindManyToOne:  "many-to-one",
	KindOneToOne:   "one-to-one",
	KindCollection: "collection",
	KindAny:        "any",
}

// String returns the mapping name of the kind.
func (k AttributeKind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// AssociationNature is the target category of an association.
type AssociationNature int

// Association natures.
const (
	NatureNone AssociationNature = iota
	NatureEntity
	NatureCollection
	NatureAny
)

// AssociationKey identifies the table and columns an association is
// materialized on. Two associations sharing a key describe the same
// foreign key seen from both sides.
type AssociationKey struct {
	Table   string
	Columns string // comma separated, in mapping order
}

// NewAssociationKey returns the key for the given table and columns.
func NewAssociationKey(table string, columns []string) AssociationKey {
	return AssociationKey{Table: table, Columns: strings.Join(columns, ",")}
}

// String returns "table[col1,col2]".
func (k AssociationKey) String() string {
	return k.Table + "[" + k.Columns + "]"
}

// Cascade is a set of operations propagated over an association.
type Cascade uint8

// Cascade styles.
const (
	CascadePersist Cascade = 1 << iota
	CascadeDelete
	CascadeMerge
	CascadeNone Cascade = 0
	CascadeAll          = CascadePersist | CascadeDelete | CascadeMerge
)

// Has reports whether c includes op.
func (c Cascade) Has(op Cascade) bool { return c&op == op && op != 0 }

// Attribute is a single mapped property of an entity or component.
type Attribute struct {
	Name     string
	Kind     AttributeKind
	Type     string   // informational Go type of basic values
	Columns  []string // basic columns, foreign key columns of to-one, or [type, id] for any
	Table    string   // secondary table holding the columns, empty for the primary table
	Nullable bool
	Fetch    persist.FetchStrategy
	Cascade  Cascade

	Target    string     // target entity of to-one associations
	Role      string     // collection role of collection attributes
	Component *Component // members of composite attributes

	owner      string // owning entity name
	ownerTable string
	key        AssociationKey
}

// AssociationKey returns the key of an association attribute. It is the zero
// value for basic and composite attributes.
func (a *Attribute) AssociationKey() AssociationKey { return a.key }

// Owner returns the name of the entity declaring the attribute.
func (a *Attribute) Owner() string { return a.owner }

// IsAssociation reports whether the attribute refers to other entities or a collection.
func (a *Attribute) IsAssociation() bool {
	return a.Nature() != NatureNone
}

// IsToOne reports whether the attribute is a many-to-one or one-to-one association.
func (a *Attribute) IsToOne() bool {
	return a.Kind == KindManyToOne || a.Kind == KindOneToOne
}

// Nature returns the association nature of the attribute.
func (a *Attribute) Nature() AssociationNature {
	switch a.Kind {
	case KindManyToOne, KindOneToOne:
		return NatureEntity
	case KindCollection:
		return NatureCollection
	case KindAny:
		return NatureAny
	default:
		return NatureNone
	}
}

// TableName returns the table holding the attribute columns.
func (a *Attribute) TableName() string {
	if a.Table != "" {
		return a.Table
	}
	return a.ownerTable
}

// Component is an embeddable value type mapped into its owner's table.
type Component struct {
	Role       string // owner path such as "Employee.address"
	Attributes []*Attribute
}

// Attribute returns the member attribute with the given name.
func (c *Component) Attribute(name string) (*Attribute, bool) {
	for _, a := range c.Attributes {
		if a.Name == name {
			return a, true
		}
	}
	return nil, false
}

// SecondaryTable is an additional table holding part of an entity's state.
type SecondaryTable struct {
	Table      string
	KeyColumns []string // join columns referencing the primary table's identifier
}

// Generator names an identifier generation strategy.
type Generator string

// Identifier generators.
const (
	GeneratorAssigned Generator = "assigned"
	GeneratorUUID     Generator = "uuid"
	GeneratorIdentity Generator = "identity"
)

// CacheAccess is the second-level cache access type of an entity or collection.
type CacheAccess string

// Cache access types.
const (
	CacheNone               CacheAccess = ""
	CacheReadOnly           CacheAccess = "read-only"
	CacheReadWrite          CacheAccess = "read-write"
	CacheNonstrictReadWrite CacheAccess = "nonstrict-read-write"
)

// EntityPersister is the metadata contract of a mapped entity.
type EntityPersister interface {
	EntityName() string
	RootEntityName() string
	TableName() string
	IdentifierAttribute() *Attribute
	IdentifierColumns() []string
	IdentifierGenerator() Generator
	VersionAttribute() *Attribute
	Attributes() []*Attribute
	Attribute(name string) (*Attribute, bool)
	SecondaryTables() []SecondaryTable
	QuerySpaces() []string
	BatchSize() int
	CacheAccess() CacheAccess
	NaturalIDAttributes() []string
}

// CollectionKind is the semantics of a mapped collection.
type CollectionKind int

// Collection kinds.
const (
	CollectionBag CollectionKind = iota
	CollectionSet
	CollectionList
	CollectionMap
)

// String returns the mapping name of the kind.
func (k CollectionKind) String() string {
	switch k {
	case CollectionSet:
		return "set"
	case CollectionList:
		return "list"
	case CollectionMap:
		return "map"
	default:
		return "bag"
	}
}

// IsIndexed reports whether elements are addressed by an index column.
func (k CollectionKind) IsIndexed() bool {
	return k == CollectionList || k == CollectionMap
}

// ElementKind is the element category of a collection.
type ElementKind int

// Element kinds.
const (
	ElementBasic ElementKind = iota
	ElementComposite
	ElementEntity
)

// CollectionPersister is the metadata contract of a mapped collection.
type CollectionPersister interface {
	Role() string
	OwnerEntityName() string
	AttributeName() string
	Kind() CollectionKind
	TableName() string
	KeyColumns() []string
	IndexColumns() []string
	IndexType() string
	ElementKind() ElementKind
	ElementColumns() []string
	ElementType() string
	ElementEntityName() string
	ElementComponent() *Component
	IsOneToMany() bool
	IsManyToMany() bool
	IsInverse() bool
	BatchSize() int
	CacheAccess() CacheAccess
	AssociationKey() AssociationKey
}

// Resolver resolves persisters by entity name and collection role.
type Resolver interface {
	Entity(name string) (EntityPersister, error)
	Collection(role string) (CollectionPersister, error)
}
