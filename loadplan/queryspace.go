package loadplan

import (
	"github.com/syssam/persist"
	"github.com/syssam/persist/metamodel"
)

// SpaceKind is the variant of a query space.
type SpaceKind int

// Query space kinds.
const (
	EntitySpace SpaceKind = iota
	CollectionSpace
	CompositeSpace
)

// String returns the upper-case name of the kind.
func (k SpaceKind) String() string {
	switch k {
	case EntitySpace:
		return "ENTITY"
	case CollectionSpace:
		return "COLLECTION"
	default:
		return "COMPOSITE"
	}
}

// Join property names of the element and index joins of a collection space.
const (
	ElementsProperty = "elements"
	IndicesProperty  = "indices"
)

// QuerySpace is a logical source of rows in a load plan. The concrete
// types are *EntityQuerySpace, *CollectionQuerySpace and
// *CompositeQuerySpace; callers dispatch with a type switch.
type QuerySpace interface {
	// UID returns the identifier, unique within the owning QuerySpaces.
	UID() string
	Kind() SpaceKind
	// Joins returns the joins whose left-hand side is this space.
	Joins() []Join
	// CanJoinsBeRequired reports whether joins from this space may be inner joins.
	CanJoinsBeRequired() bool
	// AddJoin registers a join from this space.
	AddJoin(j Join) error

	querySpace()
}

type space struct {
	uid                string
	owner              *Builder
	canJoinsBeRequired bool
	joins              []Join
	names              map[string]struct{}
}

func (s *space) UID() string              { return s.uid }
func (s *space) CanJoinsBeRequired() bool { return s.canJoinsBeRequired }
func (s *space) querySpace()              {}

func (s *space) Joins() []Join {
	out := make([]Join, len(s.joins))
	copy(out, s.joins)
	return out
}

func (s *space) addJoin(self QuerySpace, j Join) error {
	if s.owner.frozen {
		return persist.NewIllegalStateError("query space %s is frozen, joins cannot be added", s.uid)
	}
	if j.LeftHandSide() != self {
		return persist.NewIllegalArgumentError("join left-hand side %s is not query space %s", j.LeftHandSide().UID(), s.uid)
	}
	if m, ok := j.(*JoinDefinedByMetadata); ok {
		if _, dup := s.names[m.property]; dup {
			return persist.NewIllegalStateError("query space %s already has a join for property %q", s.uid, m.property)
		}
		if s.names == nil {
			s.names = make(map[string]struct{})
		}
		s.names[m.property] = struct{}{}
	}
	s.joins = append(s.joins, j)
	return nil
}

// EntityQuerySpace is the rows of one entity table group.
type EntityQuerySpace struct {
	space
	persister metamodel.EntityPersister
}

// Kind implements QuerySpace.
func (q *EntityQuerySpace) Kind() SpaceKind { return EntitySpace }

// Persister returns the entity persister.
func (q *EntityQuerySpace) Persister() metamodel.EntityPersister { return q.persister }

// AddJoin implements QuerySpace.
func (q *EntityQuerySpace) AddJoin(j Join) error { return q.addJoin(q, j) }

// CollectionQuerySpace is the rows of a collection table. It accepts only
// an element join and an index join.
type CollectionQuerySpace struct {
	space
	persister   metamodel.CollectionPersister
	elementJoin Join
	indexJoin   Join
}

// Kind implements QuerySpace.
func (q *CollectionQuerySpace) Kind() SpaceKind { return CollectionSpace }

// Persister returns the collection persister.
func (q *CollectionQuerySpace) Persister() metamodel.CollectionPersister { return q.persister }

// ElementJoin returns the "elements" join, or nil.
func (q *CollectionQuerySpace) ElementJoin() Join { return q.elementJoin }

// IndexJoin returns the "indices" join, or nil.
func (q *CollectionQuerySpace) IndexJoin() Join { return q.indexJoin }

// AddJoin implements QuerySpace. Only joins named "elements" or "indices"
// are accepted, each at most once.
func (q *CollectionQuerySpace) AddJoin(j Join) error {
	m, ok := j.(*JoinDefinedByMetadata)
	if !ok {
		return persist.NewIllegalStateError("collection query space %s accepts only element and index joins", q.uid)
	}
	switch m.property {
	case ElementsProperty:
		if q.elementJoin != nil {
			return persist.NewIllegalStateError("collection query space %s already has an element join", q.uid)
		}
		if err := q.addJoin(q, j); err != nil {
			return err
		}
		q.elementJoin = j
	case IndicesProperty:
		if q.indexJoin != nil {
			return persist.NewIllegalStateError("collection query space %s already has an index join", q.uid)
		}
		if err := q.addJoin(q, j); err != nil {
			return err
		}
		q.indexJoin = j
	default:
		return persist.NewIllegalStateError("collection query space %s cannot join property %q, expected %q or %q",
			q.uid, m.property, ElementsProperty, IndicesProperty)
	}
	return nil
}

// CompositeQuerySpace is a component mapped into the table of the space it
// is joined from. It contributes no table of its own.
type CompositeQuerySpace struct {
	space
	component *metamodel.Component
}

// Kind implements QuerySpace.
func (q *CompositeQuerySpace) Kind() SpaceKind { return CompositeSpace }

// Component returns the component mapping.
func (q *CompositeQuerySpace) Component() *metamodel.Component { return q.component }

// AddJoin implements QuerySpace.
func (q *CompositeQuerySpace) AddJoin(j Join) error { return q.addJoin(q, j) }

// Join connects two query spaces.
type Join interface {
	LeftHandSide() QuerySpace
	RightHandSide() QuerySpace
	// IsRightHandSideRequired reports whether the join may be rendered as an inner join.
	IsRightHandSideRequired() bool
}

// JoinDefinedByMetadata is a join that follows a mapped attribute, or the
// "elements"/"indices" of a collection.
type JoinDefinedByMetadata struct {
	lhs, rhs  QuerySpace
	property  string
	required  bool
	attribute *metamodel.Attribute
}

// NewJoin returns a join following the given property. attribute is nil
// for element and index joins.
func NewJoin(lhs, rhs QuerySpace, property string, required bool, attribute *metamodel.Attribute) *JoinDefinedByMetadata {
	return &JoinDefinedByMetadata{lhs: lhs, rhs: rhs, property: property, required: required, attribute: attribute}
}

// LeftHandSide implements Join.
func (j *JoinDefinedByMetadata) LeftHandSide() QuerySpace { return j.lhs }

// RightHandSide implements Join.
func (j *JoinDefinedByMetadata) RightHandSide() QuerySpace { return j.rhs }

// IsRightHandSideRequired implements Join.
func (j *JoinDefinedByMetadata) IsRightHandSideRequired() bool { return j.required }

// JoinedPropertyName returns the attribute name, "elements" or "indices".
func (j *JoinDefinedByMetadata) JoinedPropertyName() string { return j.property }

// Attribute returns the joined attribute, or nil for element and index joins.
func (j *JoinDefinedByMetadata) Attribute() *metamodel.Attribute { return j.attribute }
