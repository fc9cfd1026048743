package session

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/syssam/persist"
	"github.com/syssam/persist/action"
	"github.com/syssam/persist/cache"
	"github.com/syssam/persist/engine"
	"github.com/syssam/persist/metamodel"
)

// Persist makes a transient instance managed. Its row is inserted on the
// next flush, or right away when the entity uses identity generation.
// The operation cascades to associations mapped with CascadePersist.
func (s *Session) Persist(ctx context.Context, e *engine.Entity) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.persist(ctx, e, make(map[*engine.Entity]bool))
}

func (s *Session) persist(ctx context.Context, e *engine.Entity, visited map[*engine.Entity]bool) error {
	if e == nil || visited[e] {
		return nil
	}
	visited[e] = true
	p, err := s.factory.mm.Entity(e.Name())
	if err != nil {
		return err
	}
	if entry := s.pc.Entry(e); entry != nil {
		switch entry.Status {
		case engine.StatusDeleted:
			entry.Status = engine.StatusManaged
		case engine.StatusGone:
			return persist.NewIllegalStateError("cannot persist removed instance %s", e)
		}
		return s.cascadePersist(ctx, p, e, visited)
	}
	if s.pc.Contains(e) {
		// An uninitialized reference is persistent already.
		return nil
	}
	if e.ID() == nil {
		switch p.IdentifierGenerator() {
		case metamodel.GeneratorUUID:
			e.SetID(uuid.NewString())
		case metamodel.GeneratorIdentity:
		default:
			return persist.NewIllegalArgumentError("%s needs an assigned identifier", p.EntityName())
		}
	}
	if e.ID() != nil {
		if other, ok := s.pc.GetEntity(engine.NewEntityKey(p.RootEntityName(), e.ID())); ok && other != e {
			return persist.NewIllegalStateError("another instance of %s#%v is already managed", p.EntityName(), e.ID())
		}
	}
	if err := s.cascadeToOnes(ctx, p, e, visited); err != nil {
		return err
	}
	entry := &engine.EntityEntry{
		Persister: p,
		ID:        e.ID(),
		Status:    engine.StatusSaving,
	}
	if e.ID() == nil {
		if err := s.insertNow(ctx, e, entry); err != nil {
			return err
		}
	} else {
		s.pc.AddEntity(e, entry)
	}
	s.logger.DebugContext(ctx, "persisted", "entity", e.String())
	return s.cascadeCollections(ctx, p, e, visited)
}

func (s *Session) cascadePersist(ctx context.Context, p metamodel.EntityPersister, e *engine.Entity, visited map[*engine.Entity]bool) error {
	if err := s.cascadeToOnes(ctx, p, e, visited); err != nil {
		return err
	}
	return s.cascadeCollections(ctx, p, e, visited)
}

func (s *Session) cascadeToOnes(ctx context.Context, p metamodel.EntityPersister, e *engine.Entity, visited map[*engine.Entity]bool) error {
	for _, a := range p.Attributes() {
		if !a.IsToOne() || !a.Cascade.Has(metamodel.CascadePersist) {
			continue
		}
		if ref, ok := e.Get(a.Name).(*engine.Entity); ok {
			if err := s.persist(ctx, ref, visited); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Session) cascadeCollections(ctx context.Context, p metamodel.EntityPersister, e *engine.Entity, visited map[*engine.Entity]bool) error {
	for _, a := range p.Attributes() {
		if a.Kind != metamodel.KindCollection || !a.Cascade.Has(metamodel.CascadePersist) {
			continue
		}
		elements, err := s.loadedElements(a, e)
		if err != nil {
			return err
		}
		for _, el := range elements {
			if ref, ok := el.(*engine.Entity); ok {
				if err := s.persist(ctx, ref, visited); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// loadedElements returns the elements of a collection attribute value
// without initializing it. Raw values are wrapped for reading only.
func (s *Session) loadedElements(a *metamodel.Attribute, e *engine.Entity) ([]any, error) {
	switch v := e.Get(a.Name).(type) {
	case nil:
		return nil, nil
	case *engine.PersistentCollection:
		if !v.IsInitialized() {
			return nil, nil
		}
		return v.Elements(), nil
	default:
		cp, err := s.factory.mm.Collection(a.Role)
		if err != nil {
			return nil, err
		}
		c, err := engine.WrapCollection(cp.Kind(), v)
		if err != nil {
			return nil, err
		}
		return c.Elements(), nil
	}
}

// insertNow inserts a saving instance right away, the entities it
// references first. Identity generated instances are registered once
// their identifier is known.
func (s *Session) insertNow(ctx context.Context, e *engine.Entity, entry *engine.EntityEntry) error {
	p := entry.Persister
	for _, a := range p.Attributes() {
		if !a.IsToOne() {
			continue
		}
		ref, ok := e.Get(a.Name).(*engine.Entity)
		if !ok {
			continue
		}
		if re := s.pc.Entry(ref); re != nil && re.Status == engine.StatusSaving && !re.ExistsInDatabase {
			if err := s.insertNow(ctx, ref, re); err != nil {
				return err
			}
		}
	}
	var insert action.Action
	if e.ID() == nil {
		insert = &action.EntityIdentityInsertAction{Entity: e, Persister: p, Entry: entry}
	} else {
		insert = &action.EntityInsertAction{Entity: e, Persister: p, Entry: entry}
	}
	if err := insert.Execute(s.statementContext(ctx), s.executor()); err != nil {
		return err
	}
	s.pc.AddEntity(e, entry)
	s.afterInsert(ctx, e, entry)
	return nil
}

// Delete schedules the removal of a managed instance. The row is deleted
// on the next flush. The operation cascades to associations mapped with
// CascadeDelete.
func (s *Session) Delete(ctx context.Context, e *engine.Entity) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.delete(ctx, e, make(map[*engine.Entity]bool))
}

func (s *Session) delete(ctx context.Context, e *engine.Entity, visited map[*engine.Entity]bool) error {
	if e == nil || visited[e] {
		return nil
	}
	visited[e] = true
	if !e.IsInitialized() && s.pc.Contains(e) {
		if err := s.Initialize(ctx, e); err != nil {
			return err
		}
	}
	entry := s.pc.Entry(e)
	if entry == nil {
		return persist.NewIllegalArgumentError("cannot delete detached instance %s", e)
	}
	switch {
	case entry.Status == engine.StatusDeleted || entry.Status == engine.StatusGone:
		return nil
	case entry.Status == engine.StatusSaving && !entry.ExistsInDatabase:
		s.pc.RemoveEntity(e)
		return nil
	}
	p := entry.Persister
	for _, a := range p.Attributes() {
		if !a.Cascade.Has(metamodel.CascadeDelete) {
			continue
		}
		switch {
		case a.Kind == metamodel.KindCollection:
			if c, ok := e.Get(a.Name).(*engine.PersistentCollection); ok && !c.IsInitialized() {
				if err := s.initializeCollection(ctx, c); err != nil {
					return err
				}
			}
			elements, err := s.loadedElements(a, e)
			if err != nil {
				return err
			}
			for _, el := range elements {
				if ref, ok := el.(*engine.Entity); ok {
					if err := s.delete(ctx, ref, visited); err != nil {
						return err
					}
				}
			}
		case a.IsToOne():
			if ref, ok := e.Get(a.Name).(*engine.Entity); ok {
				if err := s.delete(ctx, ref, visited); err != nil {
					return err
				}
			}
		}
	}
	entry.Status = engine.StatusDeleted
	s.logger.DebugContext(ctx, "deleted", "entity", e.String())
	return nil
}

// Flush writes the changes of managed instances and collections to the
// database: inserts of saving instances, updates of dirty ones, collection
// changes and deletions.
func (s *Session) Flush(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if err := s.prepareFlush(ctx); err != nil {
		s.cancelFlush()
		return err
	}
	return s.executeFlush(ctx)
}

// prepareFlush cascades persist, reaches the collections of the managed
// instances and schedules the actions of the flush.
func (s *Session) prepareFlush(ctx context.Context) error {
	s.queue.Clear()
	s.post = nil
	visited := make(map[*engine.Entity]bool)
	for _, e := range s.pc.Entities() {
		entry := s.pc.Entry(e)
		if !entry.IsModifiable() {
			continue
		}
		if err := s.cascadePersist(ctx, entry.Persister, e, visited); err != nil {
			return err
		}
	}
	entities := s.pc.Entities()
	for _, e := range entities {
		entry := s.pc.Entry(e)
		if !entry.IsModifiable() {
			continue
		}
		if err := s.checkReferences(entry.Persister, e); err != nil {
			return err
		}
		if err := s.reachCollections(entry.Persister, e, entry); err != nil {
			return err
		}
	}
	if err := s.scheduleCollections(ctx); err != nil {
		return err
	}
	for _, e := range entities {
		if err := s.scheduleEntity(e, s.pc.Entry(e)); err != nil {
			return err
		}
	}
	return nil
}

// checkReferences fails when e references an instance the session does
// not manage.
func (s *Session) checkReferences(p metamodel.EntityPersister, e *engine.Entity) error {
	for _, a := range p.Attributes() {
		switch a.Kind {
		case metamodel.KindManyToOne, metamodel.KindOneToOne, metamodel.KindAny:
			if ref, ok := e.Get(a.Name).(*engine.Entity); ok && !s.pc.Contains(ref) {
				return persist.NewTransientObjectError(p.EntityName(), a.Name, ref.Name())
			}
		case metamodel.KindCollection:
			elements, err := s.loadedElements(a, e)
			if err != nil {
				return err
			}
			for _, el := range elements {
				if ref, ok := el.(*engine.Entity); ok && !s.pc.Contains(ref) {
					return persist.NewTransientObjectError(p.EntityName(), a.Name, ref.Name())
				}
			}
		}
	}
	return nil
}

// reachCollections binds the collection values of e to their role and
// owner key. Raw values assigned by the application are wrapped.
func (s *Session) reachCollections(p metamodel.EntityPersister, e *engine.Entity, entry *engine.EntityEntry) error {
	for _, a := range p.Attributes() {
		if a.Kind != metamodel.KindCollection {
			continue
		}
		v := e.Get(a.Name)
		if v == nil {
			s.loadedCollection(entry, a.Name, nil)
			continue
		}
		cp, err := s.factory.mm.Collection(a.Role)
		if err != nil {
			return err
		}
		c, ok := v.(*engine.PersistentCollection)
		if !ok {
			if c, err = engine.WrapCollection(cp.Kind(), v); err != nil {
				return persist.NewMappingError(p.EntityName(), a.Name, "%v", err)
			}
			e.Set(a.Name, c)
		}
		ce, ok := s.pc.CollectionEntry(c)
		if !ok {
			if ce, err = s.pc.AddNewCollection(cp, c, e, e.ID()); err != nil {
				return err
			}
		}
		if ce.Persister == nil || ce.Role != cp.Role() || !engine.Equal(ce.Key, e.ID()) {
			return persist.NewIllegalStateError("collection of %s.%s is shared with %s#%v", e, a.Name, ce.Role, ce.Key)
		}
		if ce.Reached {
			return persist.NewIllegalStateError("collection %s#%v is referenced twice", ce.Role, ce.Key)
		}
		ce.Reached = true
		ce.CurrentPersister = cp
		ce.CurrentKey = e.ID()
		s.loadedCollection(entry, a.Name, c)
	}
	return nil
}

// loadedCollection sets the loaded value of the collection attribute name
// to v once the flush completes.
func (s *Session) loadedCollection(entry *engine.EntityEntry, name string, v any) {
	s.post = append(s.post, func() {
		if entry.LoadedState == nil {
			entry.LoadedState = make(map[string]any)
		}
		entry.LoadedState[name] = v
	})
}

// scheduleCollections schedules the removal of unreached collections and
// the recreation or update of reached ones.
func (s *Session) scheduleCollections(ctx context.Context) error {
	for _, c := range s.pc.Collections() {
		ce, ok := s.pc.CollectionEntry(c)
		if !ok || ce.Persister == nil {
			continue
		}
		if !ce.Reached {
			switch {
			case s.ownerWritable(c) && (!c.IsInitialized() || ce.Snapshot != nil):
				ce.DoRemove = true
				s.queue.AddCollectionRemove(&action.CollectionRemoveAction{Persister: ce.Persister, Key: ce.Key, Collection: c})
				s.post = append(s.post, func() { s.pc.Dereference(c) })
			case s.ownerReleased(c):
				// The collection has no rows to remove.
				s.post = append(s.post, func() { s.pc.Dereference(c) })
			}
			continue
		}
		cp := ce.CurrentPersister
		switch {
		case ce.Snapshot == nil && c.IsInitialized():
			ce.DoRecreate = true
			s.queue.AddCollectionRecreate(&action.CollectionRecreateAction{Collection: c, Persister: cp, Key: ce.CurrentKey})
		case !c.IsInitialized() && c.HasQueuedOperations():
			if err := s.initializeCollection(ctx, c); err != nil {
				return err
			}
			fallthrough
		case c.IsDirty():
			ce.DoUpdate = true
			s.queue.AddCollectionUpdate(&action.CollectionUpdateAction{Collection: c, Persister: cp, Key: ce.CurrentKey, Entry: ce})
		}
	}
	return nil
}

// ownerWritable reports whether the owner row of c exists and flush may
// write the rows of its collections.
func (s *Session) ownerWritable(c *engine.PersistentCollection) bool {
	entry := s.pc.Entry(c.Owner())
	if entry == nil || !entry.ExistsInDatabase {
		return false
	}
	switch entry.Status {
	case engine.StatusManaged, engine.StatusSaving, engine.StatusDeleted:
		return true
	}
	return false
}

// ownerReleased reports whether the owner of c no longer references it:
// the owner was walked by the flush without reaching c, or the session
// dropped the owner. Collections of read-only owners are not walked and
// stay bound.
func (s *Session) ownerReleased(c *engine.PersistentCollection) bool {
	entry := s.pc.Entry(c.Owner())
	return entry == nil || entry.IsModifiable()
}

// scheduleEntity schedules the insert, update or delete of one instance.
func (s *Session) scheduleEntity(e *engine.Entity, entry *engine.EntityEntry) error {
	p := entry.Persister
	switch {
	case entry.Status == engine.StatusSaving && !entry.ExistsInDatabase:
		s.queue.AddInsert(&action.EntityInsertAction{Entity: e, Persister: p, Entry: entry})
	case entry.Status == engine.StatusManaged && entry.ExistsInDatabase:
		dirty := engine.DirtyAttributes(p, entry.LoadedState, e)
		force := entry.LockMode == persist.LockOptimisticForceIncrement
		if !force && len(dirty) == 0 && p.VersionAttribute() != nil {
			force = s.collectionChanged(p, e)
		}
		if len(dirty) == 0 && !force {
			return nil
		}
		s.queue.AddUpdate(&action.EntityUpdateAction{Entity: e, Persister: p, Entry: entry, Dirty: dirty, ForceIncrement: force})
		if force && entry.LockMode == persist.LockOptimisticForceIncrement {
			s.post = append(s.post, func() { entry.LockMode = persist.LockOptimistic })
		}
	case entry.Status == engine.StatusDeleted && entry.ExistsInDatabase:
		s.queue.AddDelete(&action.EntityDeleteAction{Entity: e, Persister: p, Entry: entry})
		for _, a := range p.Attributes() {
			if a.Kind != metamodel.KindCollection {
				continue
			}
			if c, ok := e.Get(a.Name).(*engine.PersistentCollection); ok {
				if _, registered := s.pc.CollectionEntry(c); registered {
					continue
				}
			}
			cp, err := s.factory.mm.Collection(a.Role)
			if err != nil {
				return err
			}
			s.queue.AddCollectionRemove(&action.CollectionRemoveAction{Persister: cp, Key: entry.ID})
		}
	}
	return nil
}

// collectionChanged reports whether a collection owned by e changes the
// state a version of e covers. Inverse collections are written by the
// other side.
func (s *Session) collectionChanged(p metamodel.EntityPersister, e *engine.Entity) bool {
	for _, a := range p.Attributes() {
		if a.Kind != metamodel.KindCollection {
			continue
		}
		c, ok := e.Get(a.Name).(*engine.PersistentCollection)
		if !ok {
			continue
		}
		ce, ok := s.pc.CollectionEntry(c)
		if !ok || !ce.IsProcessed() {
			continue
		}
		if cp := ce.CurrentPersister; cp != nil && !cp.IsInverse() {
			return true
		}
	}
	return false
}

// executeFlush runs the scheduled actions and writes the results through
// to the second-level cache.
func (s *Session) executeFlush(ctx context.Context) error {
	actions := s.queue.Actions()
	if len(actions) == 0 {
		s.finishFlush()
		return nil
	}
	locks := s.lockCached(ctx, actions)
	if err := s.queue.Execute(s.statementContext(ctx), s.executor()); err != nil {
		for _, l := range locks {
			if uerr := l.access.UnlockItem(ctx, l.key, l.lock); uerr != nil {
				s.logger.WarnContext(ctx, "unlocking cache entry", "region", l.access.Region().Name(), "error", uerr)
			}
		}
		s.cancelFlush()
		return fmt.Errorf("session: flush: %w", err)
	}
	for _, a := range actions {
		s.writeThrough(ctx, a, locks)
	}
	s.finishFlush()
	return nil
}

type cacheLock struct {
	access cache.Access
	key    any
	lock   *cache.SoftLock
}

// lockCached soft locks the cache entries of the instances an update or
// delete is about to write.
func (s *Session) lockCached(ctx context.Context, actions []action.Action) map[*engine.Entity]cacheLock {
	locks := make(map[*engine.Entity]cacheLock)
	for _, a := range actions {
		var (
			e     *engine.Entity
			entry *engine.EntityEntry
		)
		switch a := a.(type) {
		case *action.EntityUpdateAction:
			e, entry = a.Entity, a.Entry
		case *action.EntityDeleteAction:
			e, entry = a.Entity, a.Entry
		default:
			continue
		}
		access, ok := s.entityAccess(entry.Persister)
		if !ok {
			continue
		}
		key := s.factory.cache.EntityKey(entry.Persister, entry.ID)
		lock, err := access.LockItem(ctx, key, entry.Version)
		if err != nil {
			s.logger.WarnContext(ctx, "locking cache entry", "entity", e.String(), "error", err)
			if err := access.Remove(ctx, key); err != nil {
				s.logger.WarnContext(ctx, "evicting cache entry", "entity", e.String(), "error", err)
			}
			continue
		}
		locks[e] = cacheLock{access: access, key: key, lock: lock}
	}
	return locks
}

func (s *Session) writeThrough(ctx context.Context, a action.Action, locks map[*engine.Entity]cacheLock) {
	switch a := a.(type) {
	case *action.EntityInsertAction:
		s.afterInsert(ctx, a.Entity, a.Entry)
	case *action.EntityIdentityInsertAction:
		s.afterInsert(ctx, a.Entity, a.Entry)
	case *action.EntityUpdateAction:
		l, ok := locks[a.Entity]
		if !ok {
			return
		}
		ce, ok := disassemble(a.Persister, a.Entity)
		if !ok {
			s.evict(ctx, l.access, l.key)
			return
		}
		if _, err := l.access.AfterUpdate(ctx, l.key, ce, l.lock); err != nil {
			s.logger.WarnContext(ctx, "caching updated entity", "entity", a.Entity.String(), "error", err)
			s.evict(ctx, l.access, l.key)
			return
		}
		s.recordWrite(l.access, l.key)
	case *action.EntityDeleteAction:
		if l, ok := locks[a.Entity]; ok {
			s.evict(ctx, l.access, l.key)
		}
		if access, ok := s.naturalIDAccess(a.Persister); ok {
			s.evictNaturalID(ctx, access, a.Persister, a.Entry)
		}
	case *action.CollectionRecreateAction:
		s.evictCollection(ctx, a.Persister, a.Key)
	case *action.CollectionUpdateAction:
		s.evictCollection(ctx, a.Persister, a.Key)
	case *action.CollectionRemoveAction:
		s.evictCollection(ctx, a.Persister, a.Key)
	}
}

func (s *Session) afterInsert(ctx context.Context, e *engine.Entity, entry *engine.EntityEntry) {
	if entry == nil {
		return
	}
	access, ok := s.entityAccess(entry.Persister)
	if !ok {
		return
	}
	ce, ok := disassemble(entry.Persister, e)
	if !ok {
		return
	}
	key := s.factory.cache.EntityKey(entry.Persister, entry.ID)
	written, err := access.AfterInsert(ctx, key, ce)
	if err != nil {
		s.logger.WarnContext(ctx, "caching inserted entity", "entity", e.String(), "error", err)
		return
	}
	if written {
		s.recordWrite(access, key)
	}
}

func (s *Session) evict(ctx context.Context, a cache.Access, key any) {
	if err := a.Remove(ctx, key); err != nil {
		s.logger.WarnContext(ctx, "evicting cache entry", "region", a.Region().Name(), "error", err)
	}
}

func (s *Session) evictCollection(ctx context.Context, cp metamodel.CollectionPersister, key any) {
	if access, ok := s.collectionAccess(cp); ok {
		s.evict(ctx, access, s.factory.cache.CollectionKey(cp, key))
	}
}

// evictNaturalID drops the natural identifier resolution of a deleted
// instance. The loaded state holds the natural identifier values.
func (s *Session) evictNaturalID(ctx context.Context, a cache.Access, p metamodel.EntityPersister, entry *engine.EntityEntry) {
	names := p.NaturalIDAttributes()
	vals := make([]any, len(names))
	for i, n := range names {
		vals[i] = entry.LoadedState[n]
	}
	s.evict(ctx, a, s.factory.cache.NaturalIDKey(p, vals))
}

// finishFlush applies the deferred context changes, takes new collection
// snapshots and drops the removed instances.
func (s *Session) finishFlush() {
	for _, op := range s.post {
		op()
	}
	s.post = nil
	s.pc.PostFlush()
	for _, e := range s.pc.Entities() {
		if entry := s.pc.Entry(e); entry.Status == engine.StatusGone {
			s.evictCollections(e, entry.Persister)
			s.pc.RemoveEntity(e)
		}
	}
}

// evictCollections dereferences the collection wrappers of a removed
// instance.
func (s *Session) evictCollections(e *engine.Entity, p metamodel.EntityPersister) {
	for _, a := range p.Attributes() {
		if c, ok := e.Get(a.Name).(*engine.PersistentCollection); ok && a.Kind == metamodel.KindCollection {
			s.pc.Dereference(c)
		}
	}
}

// cancelFlush drops a prepared flush.
func (s *Session) cancelFlush() {
	s.pc.ResetFlushState()
	s.post = nil
	s.queue.Clear()
}

// autoFlush flushes before a query reading the given tables when the
// flush mode is auto and pending changes write any of them.
func (s *Session) autoFlush(ctx context.Context, spaces []string) error {
	if s.flushMode != FlushAuto {
		return nil
	}
	if err := s.prepareFlush(ctx); err != nil {
		s.cancelFlush()
		return err
	}
	if !s.queue.AreTablesToBeUpdated(spaces) {
		s.cancelFlush()
		return nil
	}
	s.logger.DebugContext(ctx, "auto flush", "spaces", spaces)
	return s.executeFlush(ctx)
}
