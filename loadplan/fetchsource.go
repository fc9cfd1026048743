package loadplan

import (
	"github.com/syssam/persist"
	"github.com/syssam/persist/metamodel"
)

// fetchSource holds the state and expansion operations shared by every
// expanding fetch source. self is the embedding node.
type fetchSource struct {
	self    ExpandingFetchSource
	spaces  *Builder
	qs      QuerySpace
	path    *PropertyPath
	fetches []Fetch
	bidirs  []*BidirectionalEntityReference
}

// QuerySpaceUID implements FetchSource.
func (s *fetchSource) QuerySpaceUID() string {
	if s.qs == nil {
		return ""
	}
	return s.qs.UID()
}

// QuerySpace returns the space providing the rows, or nil when the source
// was not join fetched.
func (s *fetchSource) QuerySpace() QuerySpace { return s.qs }

// PropertyPath implements FetchSource.
func (s *fetchSource) PropertyPath() *PropertyPath { return s.path }

// Fetches implements FetchSource.
func (s *fetchSource) Fetches() []Fetch {
	out := make([]Fetch, len(s.fetches))
	copy(out, s.fetches)
	return out
}

// BidirectionalEntityReferences implements FetchSource.
func (s *fetchSource) BidirectionalEntityReferences() []*BidirectionalEntityReference {
	out := make([]*BidirectionalEntityReference, len(s.bidirs))
	copy(out, s.bidirs)
	return out
}

// ValidateFetchPlan implements ExpandingFetchSource.
func (s *fetchSource) ValidateFetchPlan(strategy persist.FetchStrategy, attr *metamodel.Attribute) error {
	switch strategy.Style {
	case persist.StyleJoin:
		if strategy.Timing != persist.FetchImmediate {
			return persist.NewMappingError(attr.Owner(), attr.Name, "join fetching must be immediate, got %s", strategy)
		}
		if s.qs == nil {
			return persist.NewMappingError(attr.Owner(), attr.Name,
				"cannot join fetch from %s, which was not itself join fetched", s.path.FullPath())
		}
	case persist.StyleSubselect:
		if attr.Kind != metamodel.KindCollection {
			return persist.NewMappingError(attr.Owner(), attr.Name, "subselect fetching applies to collections only")
		}
		if !s.spaces.hasEntityRoot() {
			return persist.NewMappingError(attr.Owner(), attr.Name,
				"subselect fetching needs an entity root to re-run as a subquery")
		}
	}
	return nil
}

func (s *fetchSource) requireSpace(attr *metamodel.Attribute) (QuerySpace, error) {
	if s.qs == nil {
		return nil, persist.NewIllegalStateError("fetch source %s has no query space to join %s from",
			s.path.FullPath(), attr.Name)
	}
	return s.qs, nil
}

// BuildEntityAttributeFetch implements ExpandingFetchSource. A join fetch
// adds exactly one join from this source's space to a new entity space.
func (s *fetchSource) BuildEntityAttributeFetch(attr *metamodel.Attribute, strategy persist.FetchStrategy) (*EntityFetch, error) {
	if !attr.IsToOne() {
		return nil, persist.NewIllegalArgumentError("%s is not a to-one association", attr.Name)
	}
	target, err := s.spaces.resolver.Entity(attr.Target)
	if err != nil {
		return nil, err
	}
	f := &EntityFetch{source: s.self, attribute: attr, strategy: strategy, persister: target}
	f.fetchSource = fetchSource{self: f, spaces: s.spaces, path: s.path.Append(attr.Name)}
	if strategy.Style == persist.StyleJoin {
		lhs, err := s.requireSpace(attr)
		if err != nil {
			return nil, err
		}
		required := lhs.CanJoinsBeRequired() && !attr.Nullable
		rhs, err := s.spaces.MakeEntityQuerySpace(s.spaces.GenerateImplicitUID(), target, required)
		if err != nil {
			return nil, err
		}
		if err := lhs.AddJoin(NewJoin(lhs, rhs, attr.Name, required, attr)); err != nil {
			return nil, err
		}
		f.qs = rhs
		s.spaces.refs.put(f)
	}
	s.fetches = append(s.fetches, f)
	return f, nil
}

// BuildCollectionAttributeFetch implements ExpandingFetchSource.
func (s *fetchSource) BuildCollectionAttributeFetch(attr *metamodel.Attribute, strategy persist.FetchStrategy) (*CollectionAttributeFetch, error) {
	if attr.Kind != metamodel.KindCollection {
		return nil, persist.NewIllegalArgumentError("%s is not a collection", attr.Name)
	}
	coll, err := s.spaces.resolver.Collection(attr.Role)
	if err != nil {
		return nil, err
	}
	f := &CollectionAttributeFetch{source: s.self, attribute: attr, strategy: strategy}
	f.collectionReference = collectionReference{persister: coll, path: s.path.Append(attr.Name)}
	if strategy.Style == persist.StyleJoin {
		lhs, err := s.requireSpace(attr)
		if err != nil {
			return nil, err
		}
		rhs, err := s.spaces.MakeCollectionQuerySpace(s.spaces.GenerateImplicitUID(), coll, false)
		if err != nil {
			return nil, err
		}
		if err := lhs.AddJoin(NewJoin(lhs, rhs, attr.Name, false, attr)); err != nil {
			return nil, err
		}
		f.qs = rhs
		if err := buildElementGraph(s.spaces, f, &f.collectionReference); err != nil {
			return nil, err
		}
	}
	s.fetches = append(s.fetches, f)
	return f, nil
}

// BuildCompositeAttributeFetch implements ExpandingFetchSource.
func (s *fetchSource) BuildCompositeAttributeFetch(attr *metamodel.Attribute) (*CompositeAttributeFetch, error) {
	if attr.Kind != metamodel.KindComposite {
		return nil, persist.NewIllegalArgumentError("%s is not a composite", attr.Name)
	}
	lhs, err := s.requireSpace(attr)
	if err != nil {
		return nil, err
	}
	rhs, err := s.spaces.MakeCompositeQuerySpace(s.spaces.GenerateImplicitUID(), attr.Component, lhs.CanJoinsBeRequired())
	if err != nil {
		return nil, err
	}
	if err := lhs.AddJoin(NewJoin(lhs, rhs, attr.Name, true, attr)); err != nil {
		return nil, err
	}
	f := &CompositeAttributeFetch{source: s.self, attribute: attr}
	f.fetchSource = fetchSource{self: f, spaces: s.spaces, qs: rhs, path: s.path.Append(attr.Name)}
	s.fetches = append(s.fetches, f)
	return f, nil
}

// BuildAnyAttributeFetch implements ExpandingFetchSource.
func (s *fetchSource) BuildAnyAttributeFetch(attr *metamodel.Attribute, strategy persist.FetchStrategy) (*AnyAttributeFetch, error) {
	if attr.Kind != metamodel.KindAny {
		return nil, persist.NewIllegalArgumentError("%s is not an any association", attr.Name)
	}
	f := &AnyAttributeFetch{source: s.self, attribute: attr, strategy: strategy, path: s.path.Append(attr.Name)}
	s.fetches = append(s.fetches, f)
	return f, nil
}

// BuildBidirectionalEntityReference implements ExpandingFetchSource.
func (s *fetchSource) BuildBidirectionalEntityReference(attr *metamodel.Attribute, strategy persist.FetchStrategy, target EntityReference) (*BidirectionalEntityReference, error) {
	uid := target.QuerySpaceUID()
	if uid == "" {
		return nil, persist.NewIllegalStateError("bidirectional target of %s has no query space", attr.Name)
	}
	if _, ok := s.spaces.refs.get(uid); !ok {
		return nil, persist.NewIllegalStateError("bidirectional target %s is not an entity reference of this plan", uid)
	}
	r := &BidirectionalEntityReference{
		source:    s.self,
		attribute: attr,
		strategy:  strategy,
		path:      s.path.Append(attr.Name),
		targetUID: uid,
		arena:     s.spaces.refs,
	}
	s.bidirs = append(s.bidirs, r)
	return r, nil
}

// buildElementGraph adds the element join and element fetch source of a
// joined collection reference.
func buildElementGraph(b *Builder, owner CollectionReference, c *collectionReference) error {
	lhs := c.qs
	required := lhs.CanJoinsBeRequired()
	elementsPath := c.path.Append("<elements>")
	switch c.persister.ElementKind() {
	case metamodel.ElementEntity:
		target, err := b.resolver.Entity(c.persister.ElementEntityName())
		if err != nil {
			return err
		}
		rhs, err := b.MakeEntityQuerySpace(b.GenerateImplicitUID(), target, required)
		if err != nil {
			return err
		}
		if err := lhs.AddJoin(NewJoin(lhs, rhs, ElementsProperty, required, nil)); err != nil {
			return err
		}
		g := &CollectionElementEntityGraph{collection: owner, persister: target}
		g.fetchSource = fetchSource{self: g, spaces: b, qs: rhs, path: elementsPath}
		b.refs.put(g)
		c.elements = g
	case metamodel.ElementComposite:
		rhs, err := b.MakeCompositeQuerySpace(b.GenerateImplicitUID(), c.persister.ElementComponent(), required)
		if err != nil {
			return err
		}
		if err := lhs.AddJoin(NewJoin(lhs, rhs, ElementsProperty, true, nil)); err != nil {
			return err
		}
		g := &CollectionElementCompositeGraph{collection: owner, component: c.persister.ElementComponent()}
		g.fetchSource = fetchSource{self: g, spaces: b, qs: rhs, path: elementsPath}
		c.elements = g
	}
	return nil
}
