package cache

import (
	"context"
	"log/slog"
	"sync"

	"github.com/syssam/persist"
	"github.com/syssam/persist/metamodel"
)

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithKeysFactory sets the factory of cache keys. DefaultKeys is used
// otherwise.
func WithKeysFactory(k KeysFactory) ManagerOption {
	return func(m *Manager) { m.keys = k }
}

// WithTenant sets the tenant embedded in the keys.
func WithTenant(tenant string) ManagerOption {
	return func(m *Manager) { m.tenant = tenant }
}

// WithRegionOptions sets the options of every region the manager creates.
func WithRegionOptions(opts ...RegionOption) ManagerOption {
	return func(m *Manager) { m.regionOpts = append(m.regionOpts, opts...) }
}

// WithLogger sets the logger of the manager and its regions.
func WithLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = l
		m.regionOpts = append(m.regionOpts, WithRegionLogger(l))
	}
}

// Manager owns the regions of one session factory: one region per cached
// entity hierarchy, named after the root entity, and one per cached
// collection role. It is safe for concurrent use.
type Manager struct {
	store      persist.Cache
	keys       KeysFactory
	tenant     string
	regionOpts []RegionOption
	logger     *slog.Logger

	mu     sync.Mutex
	access map[string]Access
}

// NewManager returns a manager storing entries in store.
func NewManager(store persist.Cache, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:  store,
		keys:   DefaultKeys{},
		logger: slog.Default(),
		access: make(map[string]Access),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Keys returns the keys factory.
func (m *Manager) Keys() KeysFactory { return m.keys }

// EntityKey returns the key of an entity instance.
func (m *Manager) EntityKey(p metamodel.EntityPersister, id any) any {
	return m.keys.CreateEntityKey(id, p, m.tenant)
}

// CollectionKey returns the key of a collection.
func (m *Manager) CollectionKey(p metamodel.CollectionPersister, key any) any {
	return m.keys.CreateCollectionKey(key, p, m.tenant)
}

// NaturalIDKey returns the key of natural id values.
func (m *Manager) NaturalIDKey(p metamodel.EntityPersister, values []any) any {
	return m.keys.CreateNaturalIDKey(values, p, m.tenant)
}

// EntityAccess returns the access strategy of an entity, false when the
// entity is not cached.
func (m *Manager) EntityAccess(p metamodel.EntityPersister) (Access, bool) {
	if p.CacheAccess() == metamodel.CacheNone {
		return nil, false
	}
	return m.lookup(p.RootEntityName(), p.CacheAccess())
}

// NaturalIDAccess returns the access strategy of the natural id
// resolutions of an entity, false when the entity is not cached or has no
// natural id.
func (m *Manager) NaturalIDAccess(p metamodel.EntityPersister) (Access, bool) {
	if p.CacheAccess() == metamodel.CacheNone || len(p.NaturalIDAttributes()) == 0 {
		return nil, false
	}
	return m.lookup(p.RootEntityName()+"##NaturalId", p.CacheAccess())
}

// CollectionAccess returns the access strategy of a collection role, false
// when the role is not cached.
func (m *Manager) CollectionAccess(p metamodel.CollectionPersister) (Access, bool) {
	if p.CacheAccess() == metamodel.CacheNone {
		return nil, false
	}
	return m.lookup(p.Role(), p.CacheAccess())
}

func (m *Manager) lookup(region string, ca metamodel.CacheAccess) (Access, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.access[region]; ok {
		return a, true
	}
	a, err := NewAccess(ca, NewRegion(region, m.store, m.regionOpts...))
	if err != nil {
		// Mapping validation rejects unknown access types.
		m.logger.Error("cache region without strategy", "region", region, "error", err)
		return nil, false
	}
	m.access[region] = a
	return a, true
}

// EvictAll removes every entry of every region the manager created.
func (m *Manager) EvictAll(ctx context.Context) error {
	m.mu.Lock()
	regions := make([]*Region, 0, len(m.access))
	for _, a := range m.access {
		regions = append(regions, a.Region())
	}
	m.mu.Unlock()
	for _, r := range regions {
		if err := r.EvictAll(ctx); err != nil {
			return err
		}
	}
	return nil
}
