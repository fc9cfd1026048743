package session

import (
	"context"
	"maps"
	"slices"
	"strings"

	"github.com/syssam/persist"
	"github.com/syssam/persist/action"
	"github.com/syssam/persist/cache"
	"github.com/syssam/persist/dialect/sql"
	"github.com/syssam/persist/engine"
	"github.com/syssam/persist/loader"
	"github.com/syssam/persist/locking"
	"github.com/syssam/persist/metamodel"
	"github.com/syssam/persist/sqlast"
)

// Get returns the instance of the named entity with the given identifier.
// A managed instance is returned as it is; otherwise the instance is read
// from the second-level cache or loaded with the entity load plan. It
// fails with a *persist.NotFoundError when no row exists.
func (s *Session) Get(ctx context.Context, entity string, id any) (*engine.Entity, error) {
	return s.GetWithLock(ctx, entity, id, persist.LockNone)
}

// GetWithLock is like Get and acquires the lock mode on the row. Managed
// instances holding a weaker lock are upgraded.
func (s *Session) GetWithLock(ctx context.Context, entity string, id any, mode persist.LockMode) (*engine.Entity, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if id == nil {
		return nil, persist.NewIllegalArgumentError("nil identifier for %s", entity)
	}
	p, err := s.factory.mm.Entity(entity)
	if err != nil {
		return nil, err
	}
	return s.load(ctx, p, id, mode)
}

// GetMultiple returns the instances of the named entity with the given
// identifiers, in identifier order. The position of an identifier without a
// row, or of an instance deleted in the session, holds nil. Identifiers that
// are neither managed nor cached are loaded in statements of the entity
// batch size, or in one statement when the entity maps none.
func (s *Session) GetMultiple(ctx context.Context, entity string, ids ...any) ([]*engine.Entity, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	p, err := s.factory.mm.Entity(entity)
	if err != nil {
		return nil, err
	}
	var (
		root    = p.RootEntityName()
		keys    = make([]engine.EntityKey, len(ids))
		found   []*engine.Entity
		pending []any
	)
	for i, id := range ids {
		if id == nil {
			return nil, persist.NewIllegalArgumentError("nil identifier for %s", entity)
		}
		keys[i] = engine.NewEntityKey(root, id)
		if e, ok := s.pc.GetEntity(keys[i]); ok && s.pc.Entry(e) != nil {
			found = append(found, e)
			continue
		}
		e, err := s.cachedEntity(ctx, p, id)
		if err != nil {
			return nil, err
		}
		if e != nil {
			found = append(found, e)
			continue
		}
		if !slices.ContainsFunc(pending, func(x any) bool { return engine.NormalizeID(x) == keys[i].ID }) {
			pending = append(pending, id)
		}
	}
	if len(pending) > 0 {
		pl, err := s.factory.entityPlan(p, persist.LockNone)
		if err != nil {
			return nil, err
		}
		size := p.BatchSize()
		if size < 1 {
			size = len(pending)
		}
		for batch := range slices.Chunk(pending, size) {
			res, _, err := s.execute(ctx, pl, loader.IDRestriction{IDs: batch}, s.factory.settings.LockOptions(persist.LockNone))
			if err != nil {
				return nil, err
			}
			s.cacheLoaded(ctx, res.Entities)
			if err := s.resolvePending(ctx, res); err != nil {
				return nil, err
			}
			found = append(found, res.Entities...)
		}
	}
	out, errs := engine.OrderByKeys(keys, found, func(e *engine.Entity) engine.EntityKey {
		return engine.NewEntityKey(root, e.ID())
	})
	missing := 0
	for i, e := range out {
		if errs[i] != nil {
			missing++
			continue
		}
		if entry := s.pc.Entry(e); entry == nil || entry.Status == engine.StatusDeleted || entry.Status == engine.StatusGone {
			out[i] = nil
		}
	}
	s.logger.DebugContext(ctx, "multiple load", "entity", entity, "requested", len(ids), "loaded", len(pending), "missing", missing)
	return out, nil
}

// Reference returns the instance of the named entity with the given
// identifier without loading it. The returned instance is initialized on
// Initialize, or together with other references of its entity when the
// entity maps a batch size.
func (s *Session) Reference(entity string, id any) (*engine.Entity, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	p, err := s.factory.mm.Entity(entity)
	if err != nil {
		return nil, err
	}
	return s.reference(p, id), nil
}

// Initialize loads the state of an uninitialized reference.
func (s *Session) Initialize(ctx context.Context, e *engine.Entity) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if e.IsInitialized() {
		return nil
	}
	p, err := s.factory.mm.Entity(e.Name())
	if err != nil {
		return err
	}
	if !s.pc.Contains(e) {
		return persist.NewIllegalStateError("reference %s is not managed by the session", e)
	}
	_, err = s.load(ctx, p, e.ID(), persist.LockNone)
	return err
}

func (s *Session) load(ctx context.Context, p metamodel.EntityPersister, id any, mode persist.LockMode) (*engine.Entity, error) {
	key := engine.NewEntityKey(p.RootEntityName(), id)
	if e, ok := s.pc.GetEntity(key); ok {
		if entry := s.pc.Entry(e); entry != nil {
			if entry.Status == engine.StatusDeleted || entry.Status == engine.StatusGone {
				return nil, persist.NewNotFoundError(p.EntityName(), id)
			}
			if mode.GreaterThan(entry.LockMode) {
				if err := s.Lock(ctx, e, mode); err != nil {
					return nil, err
				}
			}
			return e, nil
		}
	}
	if !mode.IsPessimistic() {
		e, err := s.cachedEntity(ctx, p, id)
		if err != nil {
			return nil, err
		}
		if e != nil {
			if entry := s.pc.Entry(e); mode.GreaterThan(entry.LockMode) {
				entry.LockMode = mode
			}
			return e, nil
		}
	}
	return s.loadFromDatabase(ctx, p, id, mode)
}

func (s *Session) loadFromDatabase(ctx context.Context, p metamodel.EntityPersister, id any, mode persist.LockMode) (*engine.Entity, error) {
	pl, err := s.factory.entityPlan(p, mode)
	if err != nil {
		return nil, err
	}
	ids := []any{id}
	if n := p.BatchSize(); n > 1 && !mode.IsPessimistic() {
		ids = s.pc.BatchFetchQueue().EntityBatch(p.RootEntityName(), id, n)
	}
	lock := s.factory.settings.LockOptions(mode)
	res, rendered, err := s.execute(ctx, pl, loader.IDRestriction{IDs: ids}, lock, loader.WithLockMode(mode))
	if err != nil {
		return nil, err
	}
	if rendered.FollowOnLocking {
		if err := s.followOnLock(ctx, p, res.Entities, lock); err != nil {
			return nil, err
		}
	}
	s.cacheLoaded(ctx, res.Entities)
	if err := s.resolvePending(ctx, res); err != nil {
		return nil, err
	}
	e, ok := s.pc.GetEntity(engine.NewEntityKey(p.RootEntityName(), id))
	if !ok || s.pc.Entry(e) == nil {
		return nil, persist.NewNotFoundError(p.EntityName(), id)
	}
	return e, nil
}

// execute lowers, renders and runs a load plan statement and processes
// its rows into the persistence context.
func (s *Session) execute(ctx context.Context, pl *plan, r loader.Restriction, lock persist.LockOptions, opts ...loader.ProcessOption) (*loader.Result, *sqlast.Rendered, error) {
	stmt, err := loader.Lower(pl.plan, pl.aliases, r, lock)
	if err != nil {
		return nil, nil, err
	}
	rendered, err := loader.Translate(stmt, s.factory.dialect, locking.WithResolver(s.factory.mm))
	if err != nil {
		return nil, nil, err
	}
	rows, err := s.query(ctx, rendered.SQL, rendered.Params)
	if err != nil {
		return nil, nil, err
	}
	res, err := loader.NewResultSetProcessor(pl.plan, pl.aliases, s.factory.mm, s.pc, opts...).Process(rows)
	if err != nil {
		return nil, nil, err
	}
	return res, rendered, nil
}

func (s *Session) query(ctx context.Context, query string, args []any) ([]map[string]any, error) {
	s.logger.DebugContext(ctx, "executing query", "sql", query, "args", len(args))
	var rows sql.Rows
	if err := s.conn().Query(s.statementContext(ctx), query, args, &rows); err != nil {
		return nil, err
	}
	return sql.ScanMaps(rows)
}

// resolvePending initializes the eager references and collections a load
// met without fetching them.
func (s *Session) resolvePending(ctx context.Context, res *loader.Result) error {
	for _, e := range res.PendingEntities {
		if e.IsInitialized() {
			continue
		}
		p, err := s.factory.mm.Entity(e.Name())
		if err != nil {
			return err
		}
		if _, err := s.load(ctx, p, e.ID(), persist.LockNone); err != nil && !persist.IsNotFound(err) {
			return err
		}
	}
	for _, c := range res.PendingCollections {
		if err := s.initializeCollection(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

// InitializeCollection loads the elements of an uninitialized collection.
// Other uninitialized collections of the same role are loaded with it when
// the role maps a batch size.
func (s *Session) InitializeCollection(ctx context.Context, c *engine.PersistentCollection) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.initializeCollection(ctx, c)
}

func (s *Session) initializeCollection(ctx context.Context, c *engine.PersistentCollection) error {
	if c.IsInitialized() {
		return nil
	}
	if c.IsUnreferenced() {
		return persist.NewIllegalStateError("cannot initialize a collection that lost its owner")
	}
	if _, ok := s.pc.CollectionEntry(c); !ok {
		return persist.NewIllegalStateError("collection %s#%v is not managed by the session", c.Role(), c.Key())
	}
	cp, err := s.factory.mm.Collection(c.Role())
	if err != nil {
		return err
	}
	if hit, err := s.cachedCollection(ctx, cp, c); err != nil || hit {
		return err
	}
	pl, err := s.factory.collectionPlan(cp)
	if err != nil {
		return err
	}
	keys := []any{c.Key()}
	if n := cp.BatchSize(); n > 1 {
		keys = s.pc.BatchFetchQueue().CollectionBatch(cp.Role(), c.Key(), n)
	}
	res, _, err := s.execute(ctx, pl, loader.KeyRestriction{Keys: keys}, persist.NoLock(), loader.WithCollectionKeys(keys...))
	if err != nil {
		return err
	}
	s.cacheCollections(ctx, cp, res.Collections)
	if !c.IsInitialized() {
		return persist.NewIllegalStateError("collection %s#%v was not initialized by its load", c.Role(), c.Key())
	}
	return s.resolvePending(ctx, res)
}

// Query returns the instances of the named entity whose attribute equals
// value. A nil value matches null columns and an entity value matches its
// identifier. Pending changes to the tables of the entity are flushed
// first unless the flush mode says otherwise.
func (s *Session) Query(ctx context.Context, entity, attribute string, value any) ([]*engine.Entity, error) {
	return s.find(ctx, entity, loader.AttributeRestriction{Attribute: attribute, Value: value})
}

// GetByNaturalID returns the instance of the named entity with the given
// natural identifier values, keyed by attribute name. The resolution is
// cached when the entity is. It returns a *persist.NotFoundError when no
// row matches.
func (s *Session) GetByNaturalID(ctx context.Context, entity string, values map[string]any) (*engine.Entity, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	p, err := s.factory.mm.Entity(entity)
	if err != nil {
		return nil, err
	}
	names := p.NaturalIDAttributes()
	if len(names) == 0 {
		return nil, persist.NewMappingError(p.EntityName(), "", "entity has no natural identifier")
	}
	if len(values) != len(names) {
		return nil, persist.NewIllegalArgumentError("natural identifier of %s is %s", p.EntityName(), strings.Join(names, ", "))
	}
	vals := make([]any, len(names))
	restriction := make(loader.AllRestriction, len(names))
	for i, n := range names {
		v, ok := values[n]
		if !ok {
			return nil, persist.NewIllegalArgumentError("missing natural identifier attribute %s.%s", p.EntityName(), n)
		}
		vals[i] = v
		restriction[i] = loader.AttributeRestriction{Attribute: n, Value: v}
	}

	var access cache.Access
	var key any
	if s.factory.cache != nil {
		if a, ok := s.factory.cache.NaturalIDAccess(p); ok {
			access, key = a, s.factory.cache.NaturalIDKey(p, vals)
			ce, err := a.Get(ctx, key, s.timestamp(a))
			if err != nil {
				return nil, err
			}
			if ce != nil {
				e, err := s.load(ctx, p, ce.Values["id"], persist.LockNone)
				if err == nil || !persist.IsNotFound(err) {
					return e, err
				}
			}
		}
	}

	found, err := s.find(ctx, entity, restriction)
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, persist.NewNotFoundError(p.EntityName(), vals)
	}
	e := found[0]
	if access != nil {
		if _, err := access.PutFromLoad(ctx, key, &cache.Entry{Values: map[string]any{"id": e.ID()}}, s.timestamp(access)); err != nil {
			s.logger.WarnContext(ctx, "caching natural id resolution", "entity", p.EntityName(), "error", err)
		}
	}
	return e, nil
}

func (s *Session) find(ctx context.Context, entity string, r loader.Restriction) ([]*engine.Entity, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	p, err := s.factory.mm.Entity(entity)
	if err != nil {
		return nil, err
	}
	if err := s.autoFlush(ctx, p.QuerySpaces()); err != nil {
		return nil, err
	}
	pl, err := s.factory.entityPlan(p, persist.LockNone)
	if err != nil {
		return nil, err
	}
	res, _, err := s.execute(ctx, pl, r, persist.NoLock(), loader.WithLockMode(persist.LockNone))
	if err != nil {
		return nil, err
	}
	s.cacheLoaded(ctx, res.Entities)
	if err := s.resolvePending(ctx, res); err != nil {
		return nil, err
	}
	out := make([]*engine.Entity, 0, len(res.Entities))
	for _, e := range res.Entities {
		if entry := s.pc.Entry(e); entry != nil && (entry.Status == engine.StatusDeleted || entry.Status == engine.StatusGone) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// Lock acquires the lock mode for a managed instance. Pessimistic modes
// lock the row and verify its version, PessimisticForceIncrement also
// increments the version right away. Optimistic modes are verified or
// applied when the transaction commits or the session flushes.
func (s *Session) Lock(ctx context.Context, e *engine.Entity, mode persist.LockMode) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	entry := s.pc.Entry(e)
	if entry == nil && !e.IsInitialized() && s.pc.Contains(e) {
		p, err := s.factory.mm.Entity(e.Name())
		if err != nil {
			return err
		}
		_, err = s.load(ctx, p, e.ID(), mode)
		return err
	}
	if entry == nil {
		return persist.NewIllegalArgumentError("instance %s is not managed by the session", e)
	}
	switch entry.Status {
	case engine.StatusDeleted, engine.StatusGone:
		return persist.NewIllegalStateError("cannot lock deleted instance %s", e)
	}
	if !mode.GreaterThan(entry.LockMode) {
		return nil
	}
	p := entry.Persister
	if !entry.ExistsInDatabase {
		entry.LockMode = mode
		return nil
	}
	switch {
	case mode == persist.LockPessimisticForceIncrement:
		if err := s.lockRows(ctx, p, []*engine.EntityEntry{entry}, s.factory.settings.LockOptions(persist.LockPessimisticWrite)); err != nil {
			return err
		}
		if err := s.forceIncrement(ctx, e, entry); err != nil {
			return err
		}
	case mode.IsPessimistic():
		if err := s.lockRows(ctx, p, []*engine.EntityEntry{entry}, s.factory.settings.LockOptions(mode)); err != nil {
			return err
		}
	case mode == persist.LockOptimistic || mode == persist.LockOptimisticForceIncrement:
		if v := p.VersionAttribute(); v == nil {
			return persist.NewIllegalArgumentError("lock mode %s needs a versioned entity, %s is not", mode, p.EntityName())
		}
	case mode == persist.LockRead:
		if err := s.checkVersion(ctx, entry, persist.NoLock()); err != nil {
			return err
		}
	}
	entry.LockMode = mode
	return nil
}

// forceIncrement increments the version of a locked instance without
// writing its other pending changes.
func (s *Session) forceIncrement(ctx context.Context, e *engine.Entity, entry *engine.EntityEntry) error {
	p := entry.Persister
	v := p.VersionAttribute()
	if v == nil {
		return nil
	}
	loaded := maps.Clone(entry.LoadedState)
	update := &action.EntityUpdateAction{Entity: e, Persister: p, Entry: entry, Dirty: []string{}, ForceIncrement: true}
	if err := update.Execute(s.statementContext(ctx), s.executor()); err != nil {
		return err
	}
	loaded[v.Name] = entry.Version
	entry.LoadedState = loaded
	if a, ok := s.entityAccess(p); ok {
		if err := a.Remove(ctx, s.factory.cache.EntityKey(p, entry.ID)); err != nil {
			s.logger.WarnContext(ctx, "evicting cache entry", "entity", e.String(), "error", err)
		}
	}
	return nil
}

// followOnLock locks the root rows of a load whose statement could not
// carry the locking clause.
func (s *Session) followOnLock(ctx context.Context, p metamodel.EntityPersister, entities []*engine.Entity, lock persist.LockOptions) error {
	entries := make([]*engine.EntityEntry, 0, len(entities))
	for _, e := range entities {
		if entry := s.pc.Entry(e); entry != nil {
			entries = append(entries, entry)
		}
	}
	if len(entries) == 0 {
		return nil
	}
	s.logger.DebugContext(ctx, "follow-on locking", "entity", p.EntityName(), "rows", len(entries))
	return s.lockRows(ctx, p, entries, lock)
}

// checkVersion reads the version of the row of entry.
func (s *Session) checkVersion(ctx context.Context, entry *engine.EntityEntry, lock persist.LockOptions) error {
	return s.lockRows(ctx, entry.Persister, []*engine.EntityEntry{entry}, lock)
}

// lockRows selects the identifier and version columns of the rows of the
// entries with the lock and fails with a *persist.OptimisticLockError when
// a row is missing or carries another version.
func (s *Session) lockRows(ctx context.Context, p metamodel.EntityPersister, entries []*engine.EntityEntry, lock persist.LockOptions) error {
	ids := make([]any, len(entries))
	for i, entry := range entries {
		ids[i] = entry.ID
	}
	rendered, err := loader.Translate(loader.LowerLock(p, ids, lock), s.factory.dialect, locking.WithResolver(s.factory.mm))
	if err != nil {
		return err
	}
	rows, err := s.query(ctx, rendered.SQL, rendered.Params)
	if err != nil {
		return err
	}
	versions := make(map[any]any, len(rows))
	for _, row := range rows {
		versions[engine.NormalizeID(columnValue(row, p.IdentifierColumns()))] = versionValue(row, p)
	}
	for _, entry := range entries {
		got, ok := versions[engine.NormalizeID(entry.ID)]
		if !ok {
			return persist.NewOptimisticLockError(p.EntityName(), entry.ID)
		}
		if p.VersionAttribute() != nil && !engine.Equal(got, entry.Version) {
			return persist.NewOptimisticLockError(p.EntityName(), entry.ID)
		}
	}
	return nil
}

// columnValue reads an unaliased column, or []any for several columns.
func columnValue(row map[string]any, columns []string) any {
	if len(columns) == 1 {
		return row[strings.ToLower(columns[0])]
	}
	out := make([]any, len(columns))
	for i, c := range columns {
		out[i] = row[strings.ToLower(c)]
	}
	return out
}

func versionValue(row map[string]any, p metamodel.EntityPersister) any {
	v := p.VersionAttribute()
	if v == nil {
		return nil
	}
	return columnValue(row, v.Columns)
}
