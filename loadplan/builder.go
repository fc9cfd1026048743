package loadplan

import (
	"fmt"

	"github.com/syssam/persist"
	"github.com/syssam/persist/metamodel"
)

// Builder accumulates query spaces while a load plan is built. Build
// freezes it and returns the immutable QuerySpaces.
type Builder struct {
	resolver metamodel.Resolver
	all      []QuerySpace
	roots    []QuerySpace
	byUID    map[string]QuerySpace
	implicit int
	frozen   bool
	refs     *referenceArena
}

// NewBuilder returns an empty builder resolving persisters through r.
func NewBuilder(r metamodel.Resolver) *Builder {
	return &Builder{
		resolver: r,
		byUID:    make(map[string]QuerySpace),
		refs:     &referenceArena{byUID: make(map[string]EntityReference)},
	}
}

// Resolver returns the persister resolver.
func (b *Builder) Resolver() metamodel.Resolver { return b.resolver }

// GenerateImplicitUID returns a fresh "<gen:N>" uid that no registered
// query space uses.
func (b *Builder) GenerateImplicitUID() string {
	for {
		uid := fmt.Sprintf("<gen:%d>", b.implicit)
		b.implicit++
		if _, taken := b.byUID[uid]; !taken {
			return uid
		}
	}
}

func (b *Builder) register(q QuerySpace, root bool) error {
	if b.frozen {
		return persist.NewIllegalStateError("query spaces already built, cannot register %s", q.UID())
	}
	if q.UID() == "" {
		return persist.NewIllegalArgumentError("query space uid cannot be empty")
	}
	if _, dup := b.byUID[q.UID()]; dup {
		return persist.NewIllegalStateError("query space uid %q already registered", q.UID())
	}
	b.byUID[q.UID()] = q
	b.all = append(b.all, q)
	if root {
		b.roots = append(b.roots, q)
	}
	return nil
}

// MakeRootEntityQuerySpace registers a root entity query space.
func (b *Builder) MakeRootEntityQuerySpace(uid string, p metamodel.EntityPersister) (*EntityQuerySpace, error) {
	q := &EntityQuerySpace{space: space{uid: uid, owner: b, canJoinsBeRequired: true}, persister: p}
	if err := b.register(q, true); err != nil {
		return nil, err
	}
	return q, nil
}

// MakeEntityQuerySpace registers a joined entity query space.
func (b *Builder) MakeEntityQuerySpace(uid string, p metamodel.EntityPersister, canJoinsBeRequired bool) (*EntityQuerySpace, error) {
	q := &EntityQuerySpace{space: space{uid: uid, owner: b, canJoinsBeRequired: canJoinsBeRequired}, persister: p}
	if err := b.register(q, false); err != nil {
		return nil, err
	}
	return q, nil
}

// MakeRootCollectionQuerySpace registers a root collection query space.
func (b *Builder) MakeRootCollectionQuerySpace(uid string, c metamodel.CollectionPersister) (*CollectionQuerySpace, error) {
	q := &CollectionQuerySpace{space: space{uid: uid, owner: b, canJoinsBeRequired: true}, persister: c}
	if err := b.register(q, true); err != nil {
		return nil, err
	}
	return q, nil
}

// MakeCollectionQuerySpace registers a joined collection query space.
func (b *Builder) MakeCollectionQuerySpace(uid string, c metamodel.CollectionPersister, canJoinsBeRequired bool) (*CollectionQuerySpace, error) {
	q := &CollectionQuerySpace{space: space{uid: uid, owner: b, canJoinsBeRequired: canJoinsBeRequired}, persister: c}
	if err := b.register(q, false); err != nil {
		return nil, err
	}
	return q, nil
}

// MakeCompositeQuerySpace registers a composite query space.
func (b *Builder) MakeCompositeQuerySpace(uid string, c *metamodel.Component, canJoinsBeRequired bool) (*CompositeQuerySpace, error) {
	q := &CompositeQuerySpace{space: space{uid: uid, owner: b, canJoinsBeRequired: canJoinsBeRequired}, component: c}
	if err := b.register(q, false); err != nil {
		return nil, err
	}
	return q, nil
}

// Build freezes the builder and returns the immutable query spaces.
// Subsequent registrations and joins fail with an illegal-state error.
func (b *Builder) Build() *QuerySpaces {
	b.frozen = true
	return &QuerySpaces{roots: b.roots, all: b.all, byUID: b.byUID}
}

func (b *Builder) hasEntityRoot() bool {
	return len(b.roots) > 0 && b.roots[0].Kind() == EntitySpace
}

// QuerySpaces is the frozen set of query spaces of a load plan.
type QuerySpaces struct {
	roots []QuerySpace
	all   []QuerySpace
	byUID map[string]QuerySpace
}

// RootQuerySpaces returns the root spaces in registration order.
func (s *QuerySpaces) RootQuerySpaces() []QuerySpace {
	out := make([]QuerySpace, len(s.roots))
	copy(out, s.roots)
	return out
}

// All returns every space in registration order.
func (s *QuerySpaces) All() []QuerySpace {
	out := make([]QuerySpace, len(s.all))
	copy(out, s.all)
	return out
}

// FindQuerySpaceByUID returns the space with the given uid.
func (s *QuerySpaces) FindQuerySpaceByUID(uid string) (QuerySpace, bool) {
	q, ok := s.byUID[uid]
	return q, ok
}

// QuerySpaceByUID returns the space with the given uid or an illegal-state error.
func (s *QuerySpaces) QuerySpaceByUID(uid string) (QuerySpace, error) {
	q, ok := s.byUID[uid]
	if !ok {
		return nil, persist.NewIllegalStateError("query space uid %q is not registered", uid)
	}
	return q, nil
}

// EntityQuerySpaceByUID returns the entity space with the given uid.
func (s *QuerySpaces) EntityQuerySpaceByUID(uid string) (*EntityQuerySpace, error) {
	q, err := s.QuerySpaceByUID(uid)
	if err != nil {
		return nil, err
	}
	eq, ok := q.(*EntityQuerySpace)
	if !ok {
		return nil, persist.NewIllegalStateError("query space %q is a %s space, expected ENTITY", uid, q.Kind())
	}
	return eq, nil
}

// CollectionQuerySpaceByUID returns the collection space with the given uid.
func (s *QuerySpaces) CollectionQuerySpaceByUID(uid string) (*CollectionQuerySpace, error) {
	q, err := s.QuerySpaceByUID(uid)
	if err != nil {
		return nil, err
	}
	cq, ok := q.(*CollectionQuerySpace)
	if !ok {
		return nil, persist.NewIllegalStateError("query space %q is a %s space, expected COLLECTION", uid, q.Kind())
	}
	return cq, nil
}

// referenceArena maps query space uids to the entity references owning
// them. Bidirectional references keep only the uid and resolve through it.
type referenceArena struct {
	byUID map[string]EntityReference
}

func (a *referenceArena) put(r EntityReference) {
	if uid := r.QuerySpaceUID(); uid != "" {
		a.byUID[uid] = r
	}
}

func (a *referenceArena) get(uid string) (EntityReference, bool) {
	r, ok := a.byUID[uid]
	return r, ok
}
