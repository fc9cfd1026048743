package loader

import (
	"fmt"
	"slices"

	"github.com/syssam/persist"
	"github.com/syssam/persist/engine"
	"github.com/syssam/persist/loadplan"
	"github.com/syssam/persist/metamodel"
)

// Result is the outcome of processing the rows of a load plan statement.
type Result struct {
	// Entities are the root entities in row order, without duplicates.
	Entities []*engine.Entity
	// Collections are the root collections initialized by a collection
	// initializer plan.
	Collections []*engine.PersistentCollection
	// PendingEntities are uninitialized references reached through eager
	// associations that were not join fetched.
	PendingEntities []*engine.Entity
	// PendingCollections are uninitialized collections of eager
	// associations that were not join fetched.
	PendingCollections []*engine.PersistentCollection
}

// ProcessOption configures a ResultSetProcessor.
type ProcessOption func(*ResultSetProcessor)

// WithLockMode sets the lock mode recorded for the root entities.
func WithLockMode(m persist.LockMode) ProcessOption {
	return func(p *ResultSetProcessor) { p.lock = m }
}

// WithCollectionKeys names the owner keys a collection initializer plan
// was executed for. Collections without rows are initialized empty.
func WithCollectionKeys(keys ...any) ProcessOption {
	return func(p *ResultSetProcessor) { p.keys = keys }
}

// ResultSetProcessor turns the rows of a load plan statement into managed
// instances of a persistence context. Rows map lower case column aliases
// to values.
type ResultSetProcessor struct {
	plan     *loadplan.LoadPlan
	aliases  *AliasResolutionContext
	resolver metamodel.Resolver
	pc       *engine.PersistenceContext
	lock     persist.LockMode
	keys     []any

	hydrated map[*engine.Entity]bool
	loading  []loadingCollection
	result   *Result
	pending  map[*engine.Entity]bool
}

type loadingCollection struct {
	persister  metamodel.CollectionPersister
	collection *engine.PersistentCollection
	key        any
}

// NewResultSetProcessor returns a processor registering instances in pc.
func NewResultSetProcessor(plan *loadplan.LoadPlan, aliases *AliasResolutionContext, r metamodel.Resolver, pc *engine.PersistenceContext, opts ...ProcessOption) *ResultSetProcessor {
	p := &ResultSetProcessor{plan: plan, aliases: aliases, resolver: r, pc: pc, lock: persist.LockRead}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process reads the rows. Entities met for the first time are hydrated and
// registered with a snapshot of their loaded state; managed instances are
// reused as they are. Join fetched collections are initialized from the
// rows, other collections and references are queued for batch fetching.
func (p *ResultSetProcessor) Process(rows []map[string]any) (*Result, error) {
	p.hydrated = make(map[*engine.Entity]bool)
	p.pending = make(map[*engine.Entity]bool)
	p.loading = nil
	p.result = &Result{}
	seen := make(map[*engine.Entity]bool)

	var roots []*engine.PersistentCollection
	if cr, ok := p.collectionReturn(); ok {
		for _, k := range p.keys {
			roots = append(roots, p.rootCollection(cr.CollectionPersister(), k))
		}
	}
	for _, row := range rows {
		for _, r := range p.plan.Returns() {
			switch r := r.(type) {
			case *loadplan.EntityReturn:
				e, err := p.entity(row, r, r.QuerySpaceUID(), true)
				if err != nil {
					return nil, err
				}
				if e != nil && !seen[e] {
					seen[e] = true
					p.result.Entities = append(p.result.Entities, e)
				}
			case *loadplan.CollectionReturn:
				ca := p.aliases.ResolveCollectionReferenceAliases(r.QuerySpaceUID())
				key, ok := readValue(row, ca.SuffixedKeyAliases())
				if !ok {
					continue
				}
				c := p.rootCollection(r.CollectionPersister(), key)
				if !slices.Contains(roots, c) {
					roots = append(roots, c)
				}
				if err := p.element(row, r, c); err != nil {
					return nil, err
				}
			case *loadplan.ScalarReturn:
			default:
				return nil, persist.NewIllegalStateError("unknown return %T", r)
			}
		}
	}
	for _, lc := range p.loading {
		lc.collection.EndLoad()
		p.pc.AddInitializedCollection(lc.persister, lc.collection, lc.key)
		p.pc.BatchFetchQueue().RemoveBatchLoadableCollection(lc.persister.Role(), lc.collection)
	}
	p.result.Collections = roots
	p.result.PendingEntities = slices.DeleteFunc(p.result.PendingEntities, (*engine.Entity).IsInitialized)
	p.result.PendingCollections = slices.DeleteFunc(p.result.PendingCollections, (*engine.PersistentCollection).IsInitialized)
	return p.result, nil
}

func (p *ResultSetProcessor) collectionReturn() (*loadplan.CollectionReturn, bool) {
	for _, r := range p.plan.Returns() {
		if cr, ok := r.(*loadplan.CollectionReturn); ok {
			return cr, true
		}
	}
	return nil, false
}

// rootCollection returns the collection of a collection initializer for
// key, starting its load when it is not initialized.
func (p *ResultSetProcessor) rootCollection(cp metamodel.CollectionPersister, key any) *engine.PersistentCollection {
	c, ok := p.pc.CollectionByKey(cp.Role(), key)
	if !ok {
		var owner *engine.Entity
		if op, err := p.resolver.Entity(cp.OwnerEntityName()); err == nil {
			owner, _ = p.pc.GetEntity(engine.NewEntityKey(op.RootEntityName(), key))
		}
		c = engine.NewUninitializedCollection(cp, key, owner)
		p.pc.AddUninitializedCollection(cp, c, key)
	}
	p.beginLoad(cp, c, key)
	return c
}

func (p *ResultSetProcessor) beginLoad(cp metamodel.CollectionPersister, c *engine.PersistentCollection, key any) {
	if c.IsInitialized() || c.IsLoading() {
		return
	}
	c.BeginLoad()
	p.loading = append(p.loading, loadingCollection{persister: cp, collection: c, key: key})
}

// entity resolves the instance of an entity reference in the row. It
// returns nil when the identifier columns are null.
func (p *ResultSetProcessor) entity(row map[string]any, ref loadplan.EntityReference, uid string, root bool) (*engine.Entity, error) {
	ea := p.aliases.ResolveEntityReferenceAliases(uid)
	if ea == nil {
		return nil, persist.NewIllegalStateError("no aliases resolved for query space %s", uid)
	}
	id, ok := readValue(row, ea.SuffixedKeyAliases())
	if !ok {
		return nil, nil
	}
	pers := ref.EntityPersister()
	e := p.pc.AddReference(pers, id)
	if entry := p.pc.Entry(e); entry != nil {
		if root && p.lock > entry.LockMode {
			entry.LockMode = p.lock
		}
	} else if !p.hydrated[e] {
		p.hydrated[e] = true
		delete(p.pending, e)
		if err := p.hydrate(row, ref, pers, ea, e, id, root); err != nil {
			return nil, err
		}
	}
	if err := p.fetches(row, ref, e); err != nil {
		return nil, err
	}
	return e, nil
}

func (p *ResultSetProcessor) hydrate(row map[string]any, src loadplan.FetchSource, pers metamodel.EntityPersister, ea *EntityReferenceAliases, e *engine.Entity, id any, root bool) error {
	values := make(map[string]any, len(pers.Attributes()))
	for _, a := range pers.Attributes() {
		v, err := p.value(row, ea.Columns(), src, a, e, id)
		if err != nil {
			return err
		}
		values[a.Name] = v
	}
	e.Hydrate(values)
	e.SetID(id)
	lock := persist.LockRead
	if root && p.lock > lock {
		lock = p.lock
	}
	entry := &engine.EntityEntry{
		Persister:        pers,
		ID:               id,
		LoadedState:      engine.Snapshot(pers, e),
		LockMode:         lock,
		Status:           engine.StatusManaged,
		ExistsInDatabase: true,
	}
	if v := pers.VersionAttribute(); v != nil {
		entry.Version = e.Get(v.Name)
	}
	p.pc.AddEntity(e, entry)
	return nil
}

// value reads the state of an attribute from the row. owner and ownerID
// are nil for the members of composite collection elements.
func (p *ResultSetProcessor) value(row map[string]any, cols *ColumnAliases, src loadplan.FetchSource, a *metamodel.Attribute, owner *engine.Entity, ownerID any) (any, error) {
	switch a.Kind {
	case metamodel.KindBasic:
		v, _ := readValue(row, cols.Aliases(a.TableName(), a.Columns))
		return v, nil
	case metamodel.KindComposite:
		var nested loadplan.FetchSource
		if f, ok := fetchFor(src, a.Name).(*loadplan.CompositeAttributeFetch); ok {
			nested = f
		}
		m := make(map[string]any, len(a.Component.Attributes))
		empty := true
		for _, member := range a.Component.Attributes {
			v, err := p.value(row, cols, nested, member, owner, ownerID)
			if err != nil {
				return nil, err
			}
			if v != nil {
				empty = false
			}
			m[member.Name] = v
		}
		if empty {
			return nil, nil
		}
		return m, nil
	case metamodel.KindManyToOne, metamodel.KindOneToOne:
		fk, ok := readValue(row, cols.Aliases(a.TableName(), a.Columns))
		if !ok {
			return nil, nil
		}
		target, err := p.resolver.Entity(a.Target)
		if err != nil {
			return nil, err
		}
		return p.reference(target, fk, fetchFor(src, a.Name), a.Fetch), nil
	case metamodel.KindAny:
		if len(a.Columns) != 2 {
			return nil, persist.NewMappingError(a.Owner(), a.Name, "any association needs a type and an identifier column")
		}
		typ, _ := readValue(row, cols.Aliases(a.TableName(), a.Columns[:1]))
		id, ok := readValue(row, cols.Aliases(a.TableName(), a.Columns[1:]))
		if !ok || typ == nil {
			return nil, nil
		}
		target, err := p.resolver.Entity(fmt.Sprint(typ))
		if err != nil {
			return nil, err
		}
		return p.reference(target, id, fetchFor(src, a.Name), a.Fetch), nil
	case metamodel.KindCollection:
		if owner == nil {
			return nil, persist.NewMappingError(a.Owner(), a.Name, "collection outside of an entity")
		}
		cp, err := p.resolver.Collection(a.Role)
		if err != nil {
			return nil, err
		}
		c, ok := p.pc.CollectionByKey(cp.Role(), ownerID)
		if !ok {
			c = engine.NewUninitializedCollection(cp, ownerID, owner)
			p.pc.AddUninitializedCollection(cp, c, ownerID)
		}
		strategy := a.Fetch
		if f, ok := fetchFor(src, a.Name).(*loadplan.CollectionAttributeFetch); ok {
			if f.QuerySpaceUID() != "" {
				return c, nil
			}
			strategy = f.Strategy()
		}
		if !c.IsInitialized() {
			p.pc.BatchFetchQueue().AddBatchLoadableCollection(c)
			if strategy.Timing == persist.FetchImmediate && !slices.Contains(p.result.PendingCollections, c) {
				p.result.PendingCollections = append(p.result.PendingCollections, c)
			}
		}
		return c, nil
	}
	return nil, persist.NewMappingError(a.Owner(), a.Name, "unsupported attribute kind %s", a.Kind)
}

// reference returns the instance of target identified by id. Unless the
// association is join fetched or the instance is already loaded, the
// reference is queued for batch fetching and, for eager associations,
// reported as pending.
func (p *ResultSetProcessor) reference(target metamodel.EntityPersister, id any, f loadplan.Fetch, mapped persist.FetchStrategy) *engine.Entity {
	e := p.pc.AddReference(target, id)
	if e.IsInitialized() || p.hydrated[e] {
		return e
	}
	strategy := mapped
	switch f := f.(type) {
	case *loadplan.EntityFetch:
		if f.QuerySpaceUID() != "" {
			return e
		}
		strategy = f.Strategy()
	case *loadplan.BidirectionalEntityReference, *loadplan.AnyAttributeFetch:
		strategy = f.Strategy()
	}
	p.pc.BatchFetchQueue().AddBatchLoadableEntityKey(engine.NewEntityKey(target.RootEntityName(), id))
	if strategy.Timing == persist.FetchImmediate && !p.pending[e] {
		p.pending[e] = true
		p.result.PendingEntities = append(p.result.PendingEntities, e)
	}
	return e
}

// fetches walks the join fetches of src for one row: joined entities are
// resolved and joined collections receive the row's element.
func (p *ResultSetProcessor) fetches(row map[string]any, src loadplan.FetchSource, owner *engine.Entity) error {
	for _, f := range src.Fetches() {
		switch f := f.(type) {
		case *loadplan.EntityFetch:
			if uid := f.QuerySpaceUID(); uid != "" {
				if _, err := p.entity(row, f, uid, false); err != nil {
					return err
				}
			}
		case *loadplan.CompositeAttributeFetch:
			if err := p.fetches(row, f, owner); err != nil {
				return err
			}
		case *loadplan.CollectionAttributeFetch:
			if f.QuerySpaceUID() == "" || owner == nil {
				continue
			}
			c, ok := owner.Get(f.Attribute().Name).(*engine.PersistentCollection)
			if !ok || c.IsUnreferenced() {
				continue
			}
			p.beginLoad(f.CollectionPersister(), c, c.Key())
			if err := p.element(row, f, c); err != nil {
				return err
			}
		case *loadplan.AnyAttributeFetch, *loadplan.BidirectionalEntityReference:
		default:
			return persist.NewIllegalStateError("unknown fetch %T", f)
		}
	}
	return nil
}

// element adds the element of the row to a loading collection.
func (p *ResultSetProcessor) element(row map[string]any, ref loadplan.CollectionReference, c *engine.PersistentCollection) error {
	if !c.IsLoading() {
		return nil
	}
	ca := p.aliases.ResolveCollectionReferenceAliases(ref.QuerySpaceUID())
	if ca == nil {
		return persist.NewIllegalStateError("no aliases resolved for query space %s", ref.QuerySpaceUID())
	}
	if _, ok := readValue(row, ca.SuffixedKeyAliases()); !ok {
		return nil
	}
	cp := ref.CollectionPersister()
	var index any
	if len(cp.IndexColumns()) > 0 {
		index, _ = readValue(row, ca.SuffixedIndexAliases())
	}
	var v any
	switch g := ref.ElementGraph().(type) {
	case *loadplan.CollectionElementEntityGraph:
		e, err := p.entity(row, g, g.QuerySpaceUID(), false)
		if err != nil || e == nil {
			return err
		}
		v = e
	case *loadplan.CollectionElementCompositeGraph:
		m, err := p.compositeElement(row, ca, g, cp.ElementComponent())
		if err != nil {
			return err
		}
		v = m
	default:
		switch cp.ElementKind() {
		case metamodel.ElementEntity:
			id, ok := readValue(row, ca.SuffixedElementAliases())
			if !ok {
				return nil
			}
			target, err := p.resolver.Entity(cp.ElementEntityName())
			if err != nil {
				return err
			}
			v = p.reference(target, id, nil, persist.Lazy(persist.StyleSelect))
		case metamodel.ElementComposite:
			m, err := p.compositeElement(row, ca, nil, cp.ElementComponent())
			if err != nil {
				return err
			}
			v = m
		default:
			v, _ = readValue(row, ca.SuffixedElementAliases())
		}
	}
	c.LoadElement(index, v)
	return nil
}

func (p *ResultSetProcessor) compositeElement(row map[string]any, ca *CollectionReferenceAliases, src loadplan.FetchSource, comp *metamodel.Component) (map[string]any, error) {
	if comp == nil {
		return nil, persist.NewIllegalStateError("collection %s has no element component", ca.persister.Role())
	}
	m := make(map[string]any, len(comp.Attributes))
	for _, a := range comp.Attributes {
		v, err := p.value(row, ca.Columns(), src, a, nil, nil)
		if err != nil {
			return nil, err
		}
		m[a.Name] = v
	}
	if src != nil {
		if err := p.fetches(row, src, nil); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// fetchFor returns the fetch of src for the named attribute, or nil.
func fetchFor(src loadplan.FetchSource, name string) loadplan.Fetch {
	if src == nil {
		return nil
	}
	for _, f := range src.Fetches() {
		if f.Attribute() != nil && f.Attribute().Name == name {
			return f
		}
	}
	return nil
}

// readValue reads the value of the aliased columns: the single value, or
// []any for several columns. It reports false when every column is null
// or missing.
func readValue(row map[string]any, aliases []string) (any, bool) {
	if len(aliases) == 0 {
		return nil, false
	}
	vals := make([]any, len(aliases))
	null := true
	for i, a := range aliases {
		if a == "" {
			continue
		}
		vals[i] = row[a]
		if vals[i] != nil {
			null = false
		}
	}
	if null {
		return nil, false
	}
	if len(vals) == 1 {
		return vals[0], true
	}
	return vals, true
}
