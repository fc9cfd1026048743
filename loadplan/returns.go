package loadplan

import (
	"github.com/syssam/persist"
	"github.com/syssam/persist/metamodel"
)

// Return is a root result of a load plan: *EntityReturn, *CollectionReturn
// or *ScalarReturn.
type Return interface {
	isReturn()
}

// Fetch is an association or composite loaded together with its source.
// The concrete types are *EntityFetch, *CollectionAttributeFetch,
// *CompositeAttributeFetch, *AnyAttributeFetch and
// *BidirectionalEntityReference.
type Fetch interface {
	Source() FetchSource
	Attribute() *metamodel.Attribute
	Strategy() persist.FetchStrategy
	PropertyPath() *PropertyPath
	IsNullable() bool

	isFetch()
}

// FetchSource is a node fetches hang off.
type FetchSource interface {
	// QuerySpaceUID returns the uid of the space providing the rows, or ""
	// when the source was not join fetched.
	QuerySpaceUID() string
	PropertyPath() *PropertyPath
	Fetches() []Fetch
	BidirectionalEntityReferences() []*BidirectionalEntityReference
	// ResolveEntityReference returns the nearest entity reference, the
	// source itself for entities and the owner for composites.
	ResolveEntityReference() EntityReference
}

// EntityReference is a fetch source that yields entity instances.
type EntityReference interface {
	FetchSource
	EntityPersister() metamodel.EntityPersister
}

// ExpandingFetchSource is a fetch source that can still grow while a load
// plan is built.
type ExpandingFetchSource interface {
	FetchSource

	// ValidateFetchPlan checks that the strategy is usable for the attribute
	// from this source.
	ValidateFetchPlan(strategy persist.FetchStrategy, attr *metamodel.Attribute) error
	BuildEntityAttributeFetch(attr *metamodel.Attribute, strategy persist.FetchStrategy) (*EntityFetch, error)
	BuildCollectionAttributeFetch(attr *metamodel.Attribute, strategy persist.FetchStrategy) (*CollectionAttributeFetch, error)
	BuildCompositeAttributeFetch(attr *metamodel.Attribute) (*CompositeAttributeFetch, error)
	BuildAnyAttributeFetch(attr *metamodel.Attribute, strategy persist.FetchStrategy) (*AnyAttributeFetch, error)
	BuildBidirectionalEntityReference(attr *metamodel.Attribute, strategy persist.FetchStrategy, target EntityReference) (*BidirectionalEntityReference, error)
}

// CollectionReference is a node yielding collection rows.
type CollectionReference interface {
	QuerySpaceUID() string
	CollectionPersister() metamodel.CollectionPersister
	PropertyPath() *PropertyPath
	// ElementGraph returns the fetch source of entity or composite
	// elements, or nil for basic elements and non-joined collections.
	ElementGraph() CollectionElementGraph
}

// CollectionElementGraph is the fetch source of collection elements:
// *CollectionElementEntityGraph or *CollectionElementCompositeGraph.
type CollectionElementGraph interface {
	ExpandingFetchSource
	Collection() CollectionReference
}

// EntityReturn is a root entity result.
type EntityReturn struct {
	fetchSource
	persister metamodel.EntityPersister
}

// NewEntityReturn creates an entity return with its root query space.
func NewEntityReturn(b *Builder, p metamodel.EntityPersister) (*EntityReturn, error) {
	qs, err := b.MakeRootEntityQuerySpace(b.GenerateImplicitUID(), p)
	if err != nil {
		return nil, err
	}
	r := &EntityReturn{persister: p}
	r.fetchSource = fetchSource{self: r, spaces: b, qs: qs, path: NewPropertyPath(p.EntityName())}
	b.refs.put(r)
	return r, nil
}

func (*EntityReturn) isReturn() {}

// EntityPersister implements EntityReference.
func (r *EntityReturn) EntityPersister() metamodel.EntityPersister { return r.persister }

// ResolveEntityReference implements FetchSource.
func (r *EntityReturn) ResolveEntityReference() EntityReference { return r }

// EntityFetch is a to-one association fetch.
type EntityFetch struct {
	fetchSource
	source    FetchSource
	attribute *metamodel.Attribute
	strategy  persist.FetchStrategy
	persister metamodel.EntityPersister
}

func (*EntityFetch) isFetch() {}

// Source implements Fetch.
func (f *EntityFetch) Source() FetchSource { return f.source }

// Attribute implements Fetch.
func (f *EntityFetch) Attribute() *metamodel.Attribute { return f.attribute }

// Strategy implements Fetch.
func (f *EntityFetch) Strategy() persist.FetchStrategy { return f.strategy }

// IsNullable implements Fetch.
func (f *EntityFetch) IsNullable() bool { return f.attribute.Nullable }

// EntityPersister implements EntityReference.
func (f *EntityFetch) EntityPersister() metamodel.EntityPersister { return f.persister }

// ResolveEntityReference implements FetchSource.
func (f *EntityFetch) ResolveEntityReference() EntityReference { return f }

// CompositeAttributeFetch is a composite attribute of an entity or of
// another composite.
type CompositeAttributeFetch struct {
	fetchSource
	source    FetchSource
	attribute *metamodel.Attribute
}

func (*CompositeAttributeFetch) isFetch() {}

// Source implements Fetch.
func (f *CompositeAttributeFetch) Source() FetchSource { return f.source }

// Attribute implements Fetch.
func (f *CompositeAttributeFetch) Attribute() *metamodel.Attribute { return f.attribute }

// Strategy implements Fetch. Composites are always part of their owner's row.
func (f *CompositeAttributeFetch) Strategy() persist.FetchStrategy {
	return persist.Eager(persist.StyleJoin)
}

// IsNullable implements Fetch.
func (f *CompositeAttributeFetch) IsNullable() bool { return f.attribute.Nullable }

// Component returns the composite mapping.
func (f *CompositeAttributeFetch) Component() *metamodel.Component { return f.attribute.Component }

// ResolveEntityReference implements FetchSource.
func (f *CompositeAttributeFetch) ResolveEntityReference() EntityReference {
	return f.source.ResolveEntityReference()
}

// AnyAttributeFetch is a polymorphic any-association. It is always
// resolved with a separate select.
type AnyAttributeFetch struct {
	source    FetchSource
	attribute *metamodel.Attribute
	strategy  persist.FetchStrategy
	path      *PropertyPath
}

func (*AnyAttributeFetch) isFetch() {}

// Source implements Fetch.
func (f *AnyAttributeFetch) Source() FetchSource { return f.source }

// Attribute implements Fetch.
func (f *AnyAttributeFetch) Attribute() *metamodel.Attribute { return f.attribute }

// Strategy implements Fetch.
func (f *AnyAttributeFetch) Strategy() persist.FetchStrategy { return f.strategy }

// PropertyPath implements Fetch.
func (f *AnyAttributeFetch) PropertyPath() *PropertyPath { return f.path }

// IsNullable implements Fetch.
func (f *AnyAttributeFetch) IsNullable() bool { return f.attribute.Nullable }

// BidirectionalEntityReference marks an association that leads back to an
// entity reference already present in the plan. It keeps only the uid of
// the target's query space and resolves the target through the plan.
type BidirectionalEntityReference struct {
	source    FetchSource
	attribute *metamodel.Attribute
	strategy  persist.FetchStrategy
	path      *PropertyPath
	targetUID string
	arena     *referenceArena
}

func (*BidirectionalEntityReference) isFetch() {}

// Source implements Fetch.
func (r *BidirectionalEntityReference) Source() FetchSource { return r.source }

// Attribute implements Fetch.
func (r *BidirectionalEntityReference) Attribute() *metamodel.Attribute { return r.attribute }

// Strategy implements Fetch.
func (r *BidirectionalEntityReference) Strategy() persist.FetchStrategy { return r.strategy }

// PropertyPath implements Fetch.
func (r *BidirectionalEntityReference) PropertyPath() *PropertyPath { return r.path }

// IsNullable implements Fetch.
func (r *BidirectionalEntityReference) IsNullable() bool { return r.attribute.Nullable }

// TargetUID returns the query space uid of the referenced entity.
func (r *BidirectionalEntityReference) TargetUID() string { return r.targetUID }

// TargetEntityReference returns the entity reference the association leads back to.
func (r *BidirectionalEntityReference) TargetEntityReference() EntityReference {
	t, _ := r.arena.get(r.targetUID)
	return t
}

// collectionReference holds the state shared by collection returns and fetches.
type collectionReference struct {
	qs        *CollectionQuerySpace
	persister metamodel.CollectionPersister
	path      *PropertyPath
	elements  CollectionElementGraph
}

// QuerySpaceUID implements CollectionReference.
func (c *collectionReference) QuerySpaceUID() string {
	if c.qs == nil {
		return ""
	}
	return c.qs.UID()
}

// CollectionPersister implements CollectionReference.
func (c *collectionReference) CollectionPersister() metamodel.CollectionPersister { return c.persister }

// PropertyPath implements CollectionReference.
func (c *collectionReference) PropertyPath() *PropertyPath { return c.path }

// ElementGraph implements CollectionReference.
func (c *collectionReference) ElementGraph() CollectionElementGraph { return c.elements }

// QuerySpace returns the collection query space, or nil when not join fetched.
func (c *collectionReference) QuerySpace() *CollectionQuerySpace { return c.qs }

// CollectionReturn is a root collection result of a collection initializer.
type CollectionReturn struct {
	collectionReference
}

// NewCollectionReturn creates a collection return with its root query space.
func NewCollectionReturn(b *Builder, c metamodel.CollectionPersister) (*CollectionReturn, error) {
	qs, err := b.MakeRootCollectionQuerySpace(b.GenerateImplicitUID(), c)
	if err != nil {
		return nil, err
	}
	r := &CollectionReturn{collectionReference{qs: qs, persister: c, path: NewPropertyPath("[" + c.Role() + "]")}}
	if err := buildElementGraph(b, r, &r.collectionReference); err != nil {
		return nil, err
	}
	return r, nil
}

func (*CollectionReturn) isReturn() {}

// CollectionAttributeFetch is a collection attribute fetch.
type CollectionAttributeFetch struct {
	collectionReference
	source    FetchSource
	attribute *metamodel.Attribute
	strategy  persist.FetchStrategy
}

func (*CollectionAttributeFetch) isFetch() {}

// Source implements Fetch.
func (f *CollectionAttributeFetch) Source() FetchSource { return f.source }

// Attribute implements Fetch.
func (f *CollectionAttributeFetch) Attribute() *metamodel.Attribute { return f.attribute }

// Strategy implements Fetch.
func (f *CollectionAttributeFetch) Strategy() persist.FetchStrategy { return f.strategy }

// IsNullable implements Fetch. A collection is never null, only empty.
func (f *CollectionAttributeFetch) IsNullable() bool { return false }

// CollectionElementEntityGraph is the fetch source of entity elements.
type CollectionElementEntityGraph struct {
	fetchSource
	collection CollectionReference
	persister  metamodel.EntityPersister
}

// Collection implements CollectionElementGraph.
func (g *CollectionElementEntityGraph) Collection() CollectionReference { return g.collection }

// EntityPersister implements EntityReference.
func (g *CollectionElementEntityGraph) EntityPersister() metamodel.EntityPersister {
	return g.persister
}

// ResolveEntityReference implements FetchSource.
func (g *CollectionElementEntityGraph) ResolveEntityReference() EntityReference { return g }

// CollectionElementCompositeGraph is the fetch source of composite elements.
type CollectionElementCompositeGraph struct {
	fetchSource
	collection CollectionReference
	component  *metamodel.Component
}

// Collection implements CollectionElementGraph.
func (g *CollectionElementCompositeGraph) Collection() CollectionReference { return g.collection }

// Component returns the element component.
func (g *CollectionElementCompositeGraph) Component() *metamodel.Component { return g.component }

// ResolveEntityReference implements FetchSource. Composite elements have no
// owning entity reference within the plan.
func (g *CollectionElementCompositeGraph) ResolveEntityReference() EntityReference { return nil }

// ScalarReturn is a plain value result.
type ScalarReturn struct {
	Name string
	Type string
}

func (*ScalarReturn) isReturn() {}

var (
	_ EntityReference        = (*EntityReturn)(nil)
	_ ExpandingFetchSource   = (*EntityReturn)(nil)
	_ EntityReference        = (*EntityFetch)(nil)
	_ ExpandingFetchSource   = (*EntityFetch)(nil)
	_ Fetch                  = (*EntityFetch)(nil)
	_ ExpandingFetchSource   = (*CompositeAttributeFetch)(nil)
	_ Fetch                  = (*CompositeAttributeFetch)(nil)
	_ Fetch                  = (*AnyAttributeFetch)(nil)
	_ Fetch                  = (*BidirectionalEntityReference)(nil)
	_ Fetch                  = (*CollectionAttributeFetch)(nil)
	_ CollectionReference    = (*CollectionAttributeFetch)(nil)
	_ CollectionReference    = (*CollectionReturn)(nil)
	_ CollectionElementGraph = (*CollectionElementEntityGraph)(nil)
	_ EntityReference        = (*CollectionElementEntityGraph)(nil)
	_ CollectionElementGraph = (*CollectionElementCompositeGraph)(nil)
	_ Return                 = (*EntityReturn)(nil)
	_ Return                 = (*CollectionReturn)(nil)
	_ Return                 = (*ScalarReturn)(nil)
)
