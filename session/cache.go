package session

import (
	"context"
	"fmt"
	"time"

	"github.com/syssam/persist"
	"github.com/syssam/persist/cache"
	"github.com/syssam/persist/engine"
	"github.com/syssam/persist/metamodel"
)

// Collection cache entries hold the disassembled elements and, for lists
// and maps, the index of each element.
const (
	elementsKey = "elements"
	indexKey    = "index"
)

func (s *Session) entityAccess(p metamodel.EntityPersister) (cache.Access, bool) {
	if s.factory.cache == nil {
		return nil, false
	}
	return s.factory.cache.EntityAccess(p)
}

func (s *Session) collectionAccess(cp metamodel.CollectionPersister) (cache.Access, bool) {
	if s.factory.cache == nil {
		return nil, false
	}
	return s.factory.cache.CollectionAccess(cp)
}

func (s *Session) naturalIDAccess(p metamodel.EntityPersister) (cache.Access, bool) {
	if s.factory.cache == nil {
		return nil, false
	}
	return s.factory.cache.NaturalIDAccess(p)
}

// timestamp returns the transaction timestamp used for reads and
// put-from-load of a region.
func (s *Session) timestamp(a cache.Access) time.Time {
	if s.tx != nil {
		return s.tx.started
	}
	return a.Region().Timestamp()
}

// disassemble returns the cached form of the state of e. Entity
// references become identifiers and collections are left out. It reports
// false when e references a transient instance.
func disassemble(p metamodel.EntityPersister, e *engine.Entity) (*cache.Entry, bool) {
	values := make(map[string]any, len(p.Attributes()))
	for _, a := range p.Attributes() {
		if a.Kind == metamodel.KindCollection {
			continue
		}
		v, ok := disassembleValue(a, e.Get(a.Name))
		if !ok {
			return nil, false
		}
		values[a.Name] = v
	}
	entry := &cache.Entry{Values: values}
	if v := p.VersionAttribute(); v != nil {
		entry.Version = e.Get(v.Name)
	}
	return entry, true
}

func disassembleValue(a *metamodel.Attribute, v any) (any, bool) {
	if v == nil {
		return nil, true
	}
	switch a.Kind {
	case metamodel.KindManyToOne, metamodel.KindOneToOne:
		ref, ok := v.(*engine.Entity)
		if !ok || ref.ID() == nil {
			return nil, false
		}
		return ref.ID(), true
	case metamodel.KindAny:
		ref, ok := v.(*engine.Entity)
		if !ok || ref.ID() == nil {
			return nil, false
		}
		return []any{ref.Name(), ref.ID()}, true
	case metamodel.KindComposite:
		m, ok := v.(map[string]any)
		if !ok {
			return nil, false
		}
		out := make(map[string]any, len(m))
		for _, member := range a.Component.Attributes {
			mv, ok := disassembleValue(member, m[member.Name])
			if !ok {
				return nil, false
			}
			out[member.Name] = mv
		}
		return out, true
	}
	return v, true
}

// assemble registers an instance built from a cache entry. References are
// resolved through the persistence context and collections are left
// uninitialized.
func (s *Session) assemble(p metamodel.EntityPersister, id any, ce *cache.Entry) (*engine.Entity, error) {
	e := s.pc.AddReference(p, id)
	values := make(map[string]any, len(p.Attributes()))
	for _, a := range p.Attributes() {
		if a.Kind == metamodel.KindCollection {
			c, err := s.uninitializedCollection(a, e, id)
			if err != nil {
				return nil, err
			}
			values[a.Name] = c
			continue
		}
		v, err := s.assembleValue(a, ce.Values[a.Name])
		if err != nil {
			return nil, err
		}
		values[a.Name] = v
	}
	e.Hydrate(values)
	e.SetID(id)
	entry := &engine.EntityEntry{
		Persister:        p,
		ID:               id,
		LoadedState:      engine.Snapshot(p, e),
		Version:          ce.Version,
		LockMode:         persist.LockRead,
		Status:           engine.StatusManaged,
		ExistsInDatabase: true,
	}
	s.pc.AddEntity(e, entry)
	return e, nil
}

func (s *Session) assembleValue(a *metamodel.Attribute, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch a.Kind {
	case metamodel.KindManyToOne, metamodel.KindOneToOne:
		target, err := s.factory.mm.Entity(a.Target)
		if err != nil {
			return nil, err
		}
		return s.reference(target, v), nil
	case metamodel.KindAny:
		pair, ok := v.([]any)
		if !ok || len(pair) != 2 {
			return nil, persist.NewIllegalStateError("cached any value of %s.%s is %T", a.Owner(), a.Name, v)
		}
		target, err := s.factory.mm.Entity(fmt.Sprint(pair[0]))
		if err != nil {
			return nil, err
		}
		return s.reference(target, pair[1]), nil
	case metamodel.KindComposite:
		m, ok := v.(map[string]any)
		if !ok {
			return nil, persist.NewIllegalStateError("cached composite value of %s.%s is %T", a.Owner(), a.Name, v)
		}
		out := make(map[string]any, len(m))
		for _, member := range a.Component.Attributes {
			mv, err := s.assembleValue(member, m[member.Name])
			if err != nil {
				return nil, err
			}
			out[member.Name] = mv
		}
		return out, nil
	}
	return v, nil
}

// reference returns the instance of target for id, queueing it for batch
// fetching when it is not loaded.
func (s *Session) reference(target metamodel.EntityPersister, id any) *engine.Entity {
	ref := s.pc.AddReference(target, id)
	if !ref.IsInitialized() {
		s.pc.BatchFetchQueue().AddBatchLoadableEntityKey(engine.NewEntityKey(target.RootEntityName(), id))
	}
	return ref
}

// uninitializedCollection returns the wrapper of a collection attribute of
// owner, registering an uninitialized one when none is known.
func (s *Session) uninitializedCollection(a *metamodel.Attribute, owner *engine.Entity, key any) (*engine.PersistentCollection, error) {
	cp, err := s.factory.mm.Collection(a.Role)
	if err != nil {
		return nil, err
	}
	if c, ok := s.pc.CollectionByKey(cp.Role(), key); ok {
		return c, nil
	}
	c := engine.NewUninitializedCollection(cp, key, owner)
	s.pc.AddUninitializedCollection(cp, c, key)
	s.pc.BatchFetchQueue().AddBatchLoadableCollection(c)
	return c, nil
}

// cachedEntity reads the instance from the second-level cache. It returns
// nil on a miss.
func (s *Session) cachedEntity(ctx context.Context, p metamodel.EntityPersister, id any) (*engine.Entity, error) {
	a, ok := s.entityAccess(p)
	if !ok {
		return nil, nil
	}
	ce, err := a.Get(ctx, s.factory.cache.EntityKey(p, id), s.timestamp(a))
	if err != nil || ce == nil {
		return nil, err
	}
	s.logger.DebugContext(ctx, "entity cache hit", "entity", p.EntityName(), "id", id)
	return s.assemble(p, id, ce)
}

// cacheLoaded puts the state of instances just read from the database.
// Cache failures are logged, the load itself succeeded.
func (s *Session) cacheLoaded(ctx context.Context, entities []*engine.Entity) {
	for _, e := range entities {
		entry := s.pc.Entry(e)
		if entry == nil {
			continue
		}
		a, ok := s.entityAccess(entry.Persister)
		if !ok {
			continue
		}
		ce, ok := disassemble(entry.Persister, e)
		if !ok {
			continue
		}
		if _, err := a.PutFromLoad(ctx, s.factory.cache.EntityKey(entry.Persister, entry.ID), ce, s.timestamp(a)); err != nil {
			s.logger.WarnContext(ctx, "caching loaded entity", "entity", e.String(), "error", err)
		}
	}
}

// disassembleCollection returns the cached form of c. It reports false
// when an element is a transient instance.
func disassembleCollection(cp metamodel.CollectionPersister, c *engine.PersistentCollection) (*cache.Entry, bool) {
	elements := c.Elements()
	out := make([]any, len(elements))
	for i, el := range elements {
		switch v := el.(type) {
		case *engine.Entity:
			if v.ID() == nil {
				return nil, false
			}
			out[i] = v.ID()
		default:
			out[i] = v
		}
	}
	values := map[string]any{elementsKey: out}
	switch cp.Kind() {
	case metamodel.CollectionList:
		index := make([]any, len(elements))
		for i := range index {
			index[i] = int64(i)
		}
		values[indexKey] = index
	case metamodel.CollectionMap:
		values[indexKey] = c.Keys()
	}
	return &cache.Entry{Values: values}, true
}

// cachedCollection initializes c from the second-level cache. It reports
// false on a miss.
func (s *Session) cachedCollection(ctx context.Context, cp metamodel.CollectionPersister, c *engine.PersistentCollection) (bool, error) {
	a, ok := s.collectionAccess(cp)
	if !ok {
		return false, nil
	}
	ce, err := a.Get(ctx, s.factory.cache.CollectionKey(cp, c.Key()), s.timestamp(a))
	if err != nil || ce == nil {
		return false, err
	}
	elements, _ := ce.Values[elementsKey].([]any)
	index, _ := ce.Values[indexKey].([]any)
	var target metamodel.EntityPersister
	if cp.ElementKind() == metamodel.ElementEntity {
		if target, err = s.factory.mm.Entity(cp.ElementEntityName()); err != nil {
			return false, err
		}
	}
	c.BeginLoad()
	for i, el := range elements {
		var idx any
		if i < len(index) {
			idx = index[i]
		}
		if target != nil && el != nil {
			el = s.reference(target, el)
		}
		c.LoadElement(idx, el)
	}
	c.EndLoad()
	s.pc.AddInitializedCollection(cp, c, c.Key())
	s.pc.BatchFetchQueue().RemoveBatchLoadableCollection(cp.Role(), c)
	s.logger.DebugContext(ctx, "collection cache hit", "role", cp.Role(), "key", c.Key())
	return true, nil
}

// cacheCollections puts collections just initialized from the database.
func (s *Session) cacheCollections(ctx context.Context, cp metamodel.CollectionPersister, cs []*engine.PersistentCollection) {
	a, ok := s.collectionAccess(cp)
	if !ok {
		return
	}
	for _, c := range cs {
		if !c.IsInitialized() || c.IsUnreferenced() {
			continue
		}
		ce, ok := disassembleCollection(cp, c)
		if !ok {
			continue
		}
		if _, err := a.PutFromLoad(ctx, s.factory.cache.CollectionKey(cp, c.Key()), ce, s.timestamp(a)); err != nil {
			s.logger.WarnContext(ctx, "caching loaded collection", "role", cp.Role(), "key", c.Key(), "error", err)
		}
	}
}
