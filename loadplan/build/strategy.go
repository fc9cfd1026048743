// Package build builds load plans by walking the metamodel.
//
// Strategy implements walker.AssociationVisitationStrategy. It keeps a stack
// of fetch sources and a stack of collection references, and grows the
// query space graph and the fetch graph together as the walk descends.
package build

import (
	"log/slog"

	"github.com/syssam/persist"
	"github.com/syssam/persist/loadplan"
	"github.com/syssam/persist/metamodel"
	"github.com/syssam/persist/walker"
)

// Option configures a Strategy.
type Option func(*Strategy)

// WithLogger sets the logger for Debug tracing of the build.
func WithLogger(l *slog.Logger) Option {
	return func(s *Strategy) { s.log = l }
}

// WithLockMode sets the lock mode of the load.
func WithLockMode(m persist.LockMode) Option {
	return func(s *Strategy) { s.fetch.LockMode = m }
}

// WithMaxFetchDepth limits the depth of join fetching.
func WithMaxFetchDepth(n int) Option {
	return func(s *Strategy) { s.fetch.MaxFetchDepth = n }
}

// WithFetchOverride fetches the association at path with fs instead of
// its mapped strategy.
func WithFetchOverride(path string, fs persist.FetchStrategy) Option {
	return func(s *Strategy) {
		if s.fetch.Overrides == nil {
			s.fetch.Overrides = make(map[string]persist.FetchStrategy)
		}
		s.fetch.Overrides[path] = fs
	}
}

// WithCascade builds a plan for a cascading operation: associations that
// cascade c are join fetched, all others are not fetched.
func WithCascade(c metamodel.Cascade) Option {
	return func(s *Strategy) { s.fetch.Cascade = c }
}

// frame records what a StartingAttribute call pushed so that the matching
// FinishingAttribute pops exactly that.
type frame struct {
	attr       *metamodel.Attribute
	source     bool
	collection bool
}

// Strategy builds one load plan. It must not be reused.
type Strategy struct {
	spaces *loadplan.Builder
	fetch  FetchResolver
	log    *slog.Logger

	root              loadplan.Return
	sources           []loadplan.ExpandingFetchSource
	collections       []loadplan.CollectionReference
	frames            []frame
	keySources        map[metamodel.AssociationKey]loadplan.FetchSource
	joinedCollections int
}

var _ walker.AssociationVisitationStrategy = (*Strategy)(nil)

// NewStrategy returns a strategy resolving persisters through r.
func NewStrategy(r metamodel.Resolver, opts ...Option) *Strategy {
	s := &Strategy{
		spaces:     loadplan.NewBuilder(r),
		log:        slog.Default(),
		keySources: make(map[metamodel.AssociationKey]loadplan.FetchSource),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EntityLoadPlan builds the plan loading instances of p by identifier.
func EntityLoadPlan(r metamodel.Resolver, p metamodel.EntityPersister, opts ...Option) (*loadplan.LoadPlan, error) {
	s := NewStrategy(r, opts...)
	if err := walker.WalkEntity(s, p, r, walker.WithLogger(s.log)); err != nil {
		return nil, err
	}
	return s.Plan(loadplan.EntityLoader)
}

// CollectionLoadPlan builds the plan initializing collections of c by owner key.
func CollectionLoadPlan(r metamodel.Resolver, c metamodel.CollectionPersister, opts ...Option) (*loadplan.LoadPlan, error) {
	s := NewStrategy(r, opts...)
	if err := walker.WalkCollection(s, c, r, walker.WithLogger(s.log)); err != nil {
		return nil, err
	}
	return s.Plan(loadplan.CollectionInitializer)
}

// Plan freezes the query spaces and returns the built plan.
func (s *Strategy) Plan(d loadplan.Disposition) (*loadplan.LoadPlan, error) {
	if s.root == nil {
		return nil, persist.NewIllegalStateError("no root return was built")
	}
	return loadplan.New(d, []loadplan.Return{s.root}, s.spaces.Build())
}

func (s *Strategy) push(src loadplan.ExpandingFetchSource) {
	s.sources = append(s.sources, src)
}

func (s *Strategy) pop() loadplan.ExpandingFetchSource {
	last := s.sources[len(s.sources)-1]
	s.sources = s.sources[:len(s.sources)-1]
	return last
}

func (s *Strategy) current() loadplan.ExpandingFetchSource {
	if len(s.sources) == 0 {
		return nil
	}
	return s.sources[len(s.sources)-1]
}

func (s *Strategy) currentCollection() loadplan.CollectionReference {
	if len(s.collections) == 0 {
		return nil
	}
	return s.collections[len(s.collections)-1]
}

func (s *Strategy) popCollection() {
	s.collections = s.collections[:len(s.collections)-1]
}

// Start implements walker.AssociationVisitationStrategy.
func (s *Strategy) Start() {}

// Finish implements walker.AssociationVisitationStrategy.
func (s *Strategy) Finish() {
	s.sources = nil
	s.collections = nil
	s.frames = nil
}

// StartingEntity implements walker.AssociationVisitationStrategy. Only the
// root entity is handled here, fetched entities are built by StartingAttribute.
func (s *Strategy) StartingEntity(p metamodel.EntityPersister) error {
	if len(s.sources) > 0 || s.root != nil {
		return nil
	}
	r, err := loadplan.NewEntityReturn(s.spaces, p)
	if err != nil {
		return err
	}
	s.log.Debug("starting root entity", "entity", p.EntityName())
	s.root = r
	s.push(r)
	// The root key lets associations leading back to the root be recognized.
	s.AssociationKeyRegistered(metamodel.NewAssociationKey(p.TableName(), p.IdentifierColumns()))
	return nil
}

// FinishingEntity implements walker.AssociationVisitationStrategy.
func (s *Strategy) FinishingEntity(p metamodel.EntityPersister) error {
	r, ok := s.current().(*loadplan.EntityReturn)
	if !ok || r.EntityPersister().EntityName() != p.EntityName() {
		return nil
	}
	s.pop()
	s.log.Debug("finished root entity", "entity", p.EntityName())
	return nil
}

// StartingCollection implements walker.AssociationVisitationStrategy. Only
// a root collection is handled here.
func (s *Strategy) StartingCollection(c metamodel.CollectionPersister) error {
	if len(s.sources) > 0 || s.root != nil {
		return nil
	}
	r, err := loadplan.NewCollectionReturn(s.spaces, c)
	if err != nil {
		return err
	}
	s.log.Debug("starting root collection", "role", c.Role())
	s.root = r
	s.collections = append(s.collections, r)
	s.AssociationKeyRegistered(c.AssociationKey())
	return nil
}

// FinishingCollection implements walker.AssociationVisitationStrategy.
func (s *Strategy) FinishingCollection(c metamodel.CollectionPersister) error {
	if len(s.sources) > 0 || len(s.collections) != 1 {
		return nil
	}
	if _, ok := s.currentCollection().(*loadplan.CollectionReturn); !ok {
		return nil
	}
	if got := s.currentCollection().CollectionPersister().Role(); got != c.Role() {
		return persist.NewIllegalStateError("mismatched collection reference on pop, expected %s, found %s", c.Role(), got)
	}
	s.popCollection()
	return nil
}

// StartingCollectionIndex implements walker.AssociationVisitationStrategy.
// Indexes are basic values and contribute no fetch source.
func (s *Strategy) StartingCollectionIndex(c metamodel.CollectionPersister) error {
	return nil
}

// FinishingCollectionIndex implements walker.AssociationVisitationStrategy.
func (s *Strategy) FinishingCollectionIndex(c metamodel.CollectionPersister) error {
	return nil
}

// StartingCollectionElements implements walker.AssociationVisitationStrategy.
func (s *Strategy) StartingCollectionElements(c metamodel.CollectionPersister) error {
	ref := s.currentCollection()
	if ref == nil {
		return persist.NewIllegalStateError("no collection reference for elements of %s", c.Role())
	}
	g := ref.ElementGraph()
	if c.ElementKind() == metamodel.ElementBasic {
		if g != nil {
			return persist.NewIllegalStateError("collection reference returned an unexpected element graph: %s", c.Role())
		}
		return nil
	}
	if g == nil {
		return persist.NewIllegalStateError("collection reference did not return an expected element graph: %s", c.Role())
	}
	s.push(g)
	return nil
}

// FinishingCollectionElements implements walker.AssociationVisitationStrategy.
func (s *Strategy) FinishingCollectionElements(c metamodel.CollectionPersister) error {
	if c.ElementKind() == metamodel.ElementBasic {
		return nil
	}
	if _, ok := s.pop().(loadplan.CollectionElementGraph); !ok {
		return persist.NewIllegalStateError("mismatched fetch source on pop, expected the element graph of %s", c.Role())
	}
	return nil
}

// StartingComposite implements walker.AssociationVisitationStrategy. The
// composite fetch was pushed by StartingAttribute.
func (s *Strategy) StartingComposite(attr *metamodel.Attribute) error {
	if _, ok := s.current().(*loadplan.CompositeAttributeFetch); !ok {
		return persist.NewIllegalStateError("a composite cannot be the root of a walk")
	}
	return nil
}

// FinishingComposite implements walker.AssociationVisitationStrategy.
func (s *Strategy) FinishingComposite(attr *metamodel.Attribute) error {
	return nil
}

func (s *Strategy) attributePath(attr *metamodel.Attribute) string {
	var base string
	if src := s.current(); src != nil {
		base = src.PropertyPath().FullPath()
	} else if c := s.currentCollection(); c != nil {
		base = c.PropertyPath().FullPath()
	}
	return base + "." + attr.Name
}

// StartingAttribute implements walker.AssociationVisitationStrategy.
func (s *Strategy) StartingAttribute(attr *metamodel.Attribute) (bool, error) {
	s.log.Debug("starting attribute", "path", s.attributePath(attr), "depth", len(s.sources))
	f := frame{attr: attr}
	var (
		descend bool
		err     error
	)
	switch {
	case attr.IsAssociation():
		descend, err = s.handleAssociation(attr, &f)
	case attr.Kind == metamodel.KindComposite:
		descend, err = s.handleComposite(attr, &f)
	default:
		descend = true
	}
	if err != nil {
		return false, err
	}
	s.frames = append(s.frames, f)
	return descend, nil
}

// FinishingAttribute implements walker.AssociationVisitationStrategy.
func (s *Strategy) FinishingAttribute(attr *metamodel.Attribute) error {
	if len(s.frames) == 0 {
		return persist.NewIllegalStateError("finishing attribute %s that was never started", attr.Name)
	}
	f := s.frames[len(s.frames)-1]
	s.frames = s.frames[:len(s.frames)-1]
	if f.attr != attr {
		return persist.NewIllegalStateError("mismatched attribute on finish, expected %s, found %s", f.attr.Name, attr.Name)
	}
	switch {
	case f.source:
		popped := s.pop()
		if fetch, ok := popped.(loadplan.Fetch); !ok || fetch.Attribute() != attr {
			return persist.NewIllegalStateError("mismatched fetch source on pop for attribute %s", attr.Name)
		}
	case f.collection:
		s.popCollection()
	}
	s.log.Debug("finishing attribute", "attribute", attr.Name, "depth", len(s.sources))
	return nil
}

func (s *Strategy) handleComposite(attr *metamodel.Attribute, f *frame) (bool, error) {
	src := s.current()
	if src == nil {
		return false, persist.NewIllegalStateError("no fetch source for composite %s", attr.Name)
	}
	fetch, err := src.BuildCompositeAttributeFetch(attr)
	if err != nil {
		return false, err
	}
	s.push(fetch)
	f.source = true
	return true, nil
}

func (s *Strategy) determineFetchStrategy(attr *metamodel.Attribute) persist.FetchStrategy {
	_, collectionRoot := s.root.(*loadplan.CollectionReturn)
	tooMany := collectionRoot || s.joinedCollections > 0
	return s.fetch.Resolve(s.attributePath(attr), attr, len(s.sources), tooMany)
}

func (s *Strategy) handleAssociation(attr *metamodel.Attribute, f *frame) (bool, error) {
	fs := s.determineFetchStrategy(attr)
	if fs.Timing != persist.FetchImmediate {
		return false, nil
	}
	src := s.current()
	if src == nil {
		return false, persist.NewIllegalStateError("no fetch source for association %s", attr.Name)
	}
	if err := src.ValidateFetchPlan(fs, attr); err != nil {
		return false, err
	}
	switch attr.Nature() {
	case metamodel.NatureAny:
		_, err := src.BuildAnyAttributeFetch(attr, fs)
		return false, err
	case metamodel.NatureEntity:
		fetch, err := src.BuildEntityAttributeFetch(attr, fs)
		if err != nil || !fs.IsJoin() {
			return false, err
		}
		s.push(fetch)
		f.source = true
		return true, nil
	default:
		fetch, err := src.BuildCollectionAttributeFetch(attr, fs)
		if err != nil || !fs.IsJoin() {
			return false, err
		}
		s.collections = append(s.collections, fetch)
		s.joinedCollections++
		f.collection = true
		return true, nil
	}
}

// FoundAny implements walker.AssociationVisitationStrategy.
func (s *Strategy) FoundAny(attr *metamodel.Attribute) error { return nil }

// IsDuplicateAssociationKey implements walker.AssociationVisitationStrategy.
func (s *Strategy) IsDuplicateAssociationKey(key metamodel.AssociationKey) bool {
	_, ok := s.keySources[key]
	return ok
}

// AssociationKeyRegistered implements walker.AssociationVisitationStrategy.
// The key is mapped to the current fetch source, which becomes the target
// of bidirectional references found later.
func (s *Strategy) AssociationKeyRegistered(key metamodel.AssociationKey) {
	var src loadplan.FetchSource
	if cur := s.current(); cur != nil {
		src = cur
	}
	s.log.Debug("registering association key", "key", key.String(), "depth", len(s.sources))
	s.keySources[key] = src
}

// FoundCircularAssociation implements walker.AssociationVisitationStrategy.
// A join fetched entity association leading back to a registered source
// becomes a bidirectional reference to that source's entity.
func (s *Strategy) FoundCircularAssociation(attr *metamodel.Attribute) error {
	fs := s.determineFetchStrategy(attr)
	if !fs.IsJoin() || attr.Nature() != metamodel.NatureEntity {
		return nil
	}
	src := s.current()
	if src == nil {
		return nil
	}
	ref := src.ResolveEntityReference()
	if ref == nil {
		return nil
	}
	key := attr.AssociationKey()
	own := ref.EntityPersister()
	// A key equal to the current entity's own key is a derived identifier,
	// not a bidirectional association.
	if key == metamodel.NewAssociationKey(own.TableName(), own.IdentifierColumns()) {
		return nil
	}
	registered := s.keySources[key]
	if registered == nil {
		return nil
	}
	target := registered.ResolveEntityReference()
	if target == nil {
		return nil
	}
	_, err := src.BuildBidirectionalEntityReference(attr, fs, target)
	return err
}
