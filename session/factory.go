package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/syssam/persist"
	"github.com/syssam/persist/cache"
	"github.com/syssam/persist/config"
	"github.com/syssam/persist/dialect"
	"github.com/syssam/persist/dialect/sql"
	sqlschema "github.com/syssam/persist/dialect/sql/schema"
	"github.com/syssam/persist/loader"
	"github.com/syssam/persist/loadplan"
	"github.com/syssam/persist/loadplan/build"
	"github.com/syssam/persist/metamodel"
	"github.com/syssam/persist/schema"
)

// FactoryOption configures a Factory.
type FactoryOption func(*Factory)

// WithSettings sets the factory settings. config.Default() is used
// otherwise.
func WithSettings(s *config.Settings) FactoryOption {
	return func(f *Factory) { f.settings = s }
}

// WithLogger sets the logger of the factory and of its sessions.
func WithLogger(l *slog.Logger) FactoryOption {
	return func(f *Factory) { f.logger = l }
}

// WithCacheStore sets the store behind the second-level cache regions and
// enables the cache. Without it, an enabled cache keeps its entries in
// memory.
func WithCacheStore(store persist.Cache) FactoryOption {
	return func(f *Factory) { f.store = store }
}

// Factory creates sessions over one metamodel and one database. It is
// safe for concurrent use; sessions are not.
type Factory struct {
	mm       *metamodel.Metamodel
	driver   dialect.Driver
	dialect  dialect.Dialect
	settings *config.Settings
	logger   *slog.Logger
	store    persist.Cache
	cache    *cache.Manager

	mu    sync.Mutex
	plans map[planKey]*plan
	// dropOnClose is set once a create-drop action created the schema.
	dropOnClose *sqlschema.Migrate
}

// planKey identifies a cached load plan: the entity name or collection
// role and the lock mode it was built for.
type planKey struct {
	name       string
	collection bool
	lock       persist.LockMode
}

type plan struct {
	plan    *loadplan.LoadPlan
	aliases *loader.AliasResolutionContext
}

// NewFactory returns a factory for the entities of mm stored through drv.
// The dialect is derived from the driver, falling back to the configured
// one. A positive slow query threshold wraps *sql.Driver with a
// StatsDriver logging slow statements, and ShowSQL logs every statement
// through a DebugDriver.
func NewFactory(mm *metamodel.Metamodel, drv dialect.Driver, opts ...FactoryOption) (*Factory, error) {
	f := &Factory{
		mm:     mm,
		driver: drv,
		logger: slog.Default(),
		plans:  make(map[planKey]*plan),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.settings == nil {
		f.settings = config.Default()
	}
	if err := f.settings.Validate(); err != nil {
		return nil, err
	}
	d, err := dialect.For(drv.Dialect())
	if err != nil {
		if d, err = f.settings.SQLDialect(); err != nil {
			return nil, err
		}
	}
	f.dialect = d
	if t := f.settings.SlowQueryThreshold; t > 0 {
		if sd, ok := drv.(*sql.Driver); ok {
			f.driver = sql.NewStatsDriver(sd, sql.WithLogger(f.logger), sql.WithSlowThreshold(t), sql.WithSlowQueryLog())
		}
	}
	if f.settings.ShowSQL {
		f.driver = sql.NewDebugDriver(f.driver, f.logger)
	}
	if f.store != nil || f.settings.Cache.Enabled {
		if f.store == nil {
			f.store = cache.NewMemoryRegion()
		}
		keys, err := f.settings.KeysFactory()
		if err != nil {
			return nil, err
		}
		mopts := []cache.ManagerOption{
			cache.WithKeysFactory(keys),
			cache.WithTenant(f.settings.Cache.Tenant),
			cache.WithLogger(f.logger),
		}
		if ttl := f.settings.Cache.RegionTTL; ttl > 0 {
			mopts = append(mopts, cache.WithRegionOptions(cache.WithTTL(ttl)))
		}
		f.cache = cache.NewManager(f.store, mopts...)
	}
	return f, nil
}

// Metamodel returns the metamodel of the factory.
func (f *Factory) Metamodel() *metamodel.Metamodel { return f.mm }

// Dialect returns the SQL dialect of the factory.
func (f *Factory) Dialect() dialect.Dialect { return f.dialect }

// Driver returns the driver statements run on.
func (f *Factory) Driver() dialect.Driver { return f.driver }

// Settings returns the factory settings.
func (f *Factory) Settings() *config.Settings { return f.settings }

// Cache returns the second-level cache manager, nil when the cache is
// disabled.
func (f *Factory) Cache() *cache.Manager { return f.cache }

// Close drops the schema created by a create-drop action and closes the
// driver.
func (f *Factory) Close() error {
	var err error
	f.mu.Lock()
	m := f.dropOnClose
	f.dropOnClose = nil
	f.mu.Unlock()
	if m != nil {
		err = m.Drop(context.Background())
	}
	return errors.Join(err, f.driver.Close())
}

// ManageSchema runs the configured database schema action against the
// tables of the metamodel.
func (f *Factory) ManageSchema(ctx context.Context) error {
	g, err := f.settings.Schema.Actions()
	if err != nil {
		return err
	}
	if g.Database == schema.None || g.Database == schema.Populate {
		return nil
	}
	tables, err := sqlschema.Tables(f.mm)
	if err != nil {
		return err
	}
	m := sqlschema.NewMigrate(f.driver, f.dialect, tables, sqlschema.WithLogger(f.logger))
	f.logger.InfoContext(ctx, "schema management", "action", g.Database.String(), "tables", len(tables))
	switch g.Database {
	case schema.CreateOnly:
		return m.Create(ctx)
	case schema.Drop:
		return m.Drop(ctx)
	case schema.Create, schema.CreateDrop:
		if err := m.Drop(ctx); err != nil {
			return err
		}
		if err := m.Create(ctx); err != nil {
			return err
		}
		if g.Database == schema.CreateDrop {
			f.mu.Lock()
			f.dropOnClose = m
			f.mu.Unlock()
		}
		return nil
	case schema.Validate:
		res, err := m.Validate(ctx)
		if err != nil {
			return err
		}
		return res.Err()
	case schema.Update:
		return m.Update(ctx)
	case schema.Truncate:
		return m.Truncate(ctx)
	default:
		return persist.NewIllegalArgumentError("unsupported schema action %s", g.Database)
	}
}

// EvictAll empties the second-level cache.
func (f *Factory) EvictAll(ctx context.Context) error {
	if f.cache == nil {
		return nil
	}
	return f.cache.EvictAll(ctx)
}

// entityPlan returns the load plan of p for lock mode m, building it on
// first use.
func (f *Factory) entityPlan(p metamodel.EntityPersister, m persist.LockMode) (*plan, error) {
	return f.cachedPlan(planKey{name: p.EntityName(), lock: m}, func(opts ...build.Option) (*loadplan.LoadPlan, error) {
		return build.EntityLoadPlan(f.mm, p, opts...)
	})
}

// collectionPlan returns the initializer plan of cp.
func (f *Factory) collectionPlan(cp metamodel.CollectionPersister) (*plan, error) {
	return f.cachedPlan(planKey{name: cp.Role(), collection: true}, func(opts ...build.Option) (*loadplan.LoadPlan, error) {
		return build.CollectionLoadPlan(f.mm, cp, opts...)
	})
}

func (f *Factory) cachedPlan(key planKey, buildPlan func(...build.Option) (*loadplan.LoadPlan, error)) (*plan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.plans[key]; ok {
		return p, nil
	}
	opts := []build.Option{build.WithLogger(f.logger), build.WithLockMode(key.lock)}
	if n := f.settings.MaxFetchDepth; n > 0 {
		opts = append(opts, build.WithMaxFetchDepth(n))
	}
	lp, err := buildPlan(opts...)
	if err != nil {
		return nil, fmt.Errorf("session: build load plan of %s: %w", key.name, err)
	}
	aliases, err := loader.NewAliasResolutionContext(lp.QuerySpaces())
	if err != nil {
		return nil, fmt.Errorf("session: resolve aliases of %s: %w", key.name, err)
	}
	p := &plan{plan: lp, aliases: aliases}
	f.plans[key] = p
	return p, nil
}

// OpenSession opens a session.
func (f *Factory) OpenSession(opts ...Option) *Session {
	return newSession(f, opts...)
}
