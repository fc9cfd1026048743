package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/syssam/persist"
	"github.com/syssam/persist/internal/testmodel"
	"github.com/syssam/persist/metamodel"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clock is a manually advanced time source.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock { return &clock{now: time.Unix(1_700_000_000, 0)} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

func TestKeysFactories(t *testing.T) {
	mm := testmodel.Company()
	emp, err := mm.Entity("Employee")
	require.NoError(t, err)
	nicknames, err := mm.Collection("Employee.nicknames")
	require.NoError(t, err)

	t.Run("simple", func(t *testing.T) {
		var k SimpleKeys
		key := k.CreateEntityKey(int32(5), emp, "acme")
		assert.Equal(t, int64(5), key)
		assert.Equal(t, int64(5), k.GetEntityID(key))
		assert.Equal(t, int64(5), k.CreateCollectionKey(5, nicknames, ""))
		assert.Equal(t, "x", k.CreateNaturalIDKey([]any{"x"}, emp, ""))
		nk := k.CreateNaturalIDKey([]any{"x", 1}, emp, "")
		assert.Equal(t, []any{"x", 1}, k.GetNaturalIDValues(nk))
		assert.Equal(t, "[x,1]", keyText(nk))
	})

	t.Run("default", func(t *testing.T) {
		var k DefaultKeys
		key := k.CreateEntityKey(5, emp, "")
		assert.Equal(t, EntityCacheKey{Entity: "Employee", ID: int64(5)}, key)
		assert.Equal(t, int64(5), k.GetEntityID(key))
		assert.Equal(t, "Employee#5", keyText(key))
		assert.Equal(t, "acme/Employee#5", keyText(k.CreateEntityKey(5, emp, "acme")))

		ck := k.CreateCollectionKey(int64(5), nicknames, "")
		assert.Equal(t, "Employee.nicknames#5", keyText(ck))
		assert.Equal(t, int64(5), k.GetCollectionKey(ck))

		nk := k.CreateNaturalIDKey([]any{"a", "b"}, emp, "acme")
		assert.Equal(t, "acme/Employee##[a,b]", keyText(nk))
		assert.Equal(t, []any{"a", "b"}, k.GetNaturalIDValues(nk))
		assert.Nil(t, k.GetEntityID(nk))
	})

	t.Run("lookup", func(t *testing.T) {
		k, err := KeysFactoryFor("SIMPLE")
		require.NoError(t, err)
		assert.Equal(t, SimpleKeys{}, k)
		k, err = KeysFactoryFor("")
		require.NoError(t, err)
		assert.Equal(t, DefaultKeys{}, k)
		_, err = KeysFactoryFor("hashed")
		assert.True(t, persist.IsUnrecognizedSetting(err))
	})
}

func TestMemoryRegion(t *testing.T) {
	ctx := context.Background()
	c := newClock()
	m := NewMemoryRegion()
	m.now = c.Now

	v, err := m.Get(ctx, "a")
	require.NoError(t, err)
	assert.Nil(t, v)

	require.NoError(t, m.Set(ctx, "r1:a", []byte("1"), 0))
	require.NoError(t, m.Set(ctx, "r1:b", []byte("2"), time.Second))
	require.NoError(t, m.Set(ctx, "r2:a", []byte("3"), 0))
	v, err = m.Get(ctx, "r1:b")
	require.NoError(t, err)
	assert.Equal(t, []byte("2"), v)

	c.Advance(time.Second)
	v, err = m.Get(ctx, "r1:b")
	require.NoError(t, err)
	assert.Nil(t, v)

	require.NoError(t, m.DeletePrefix(ctx, "r1:"))
	v, _ = m.Get(ctx, "r1:a")
	assert.Nil(t, v)
	v, _ = m.Get(ctx, "r2:a")
	assert.Equal(t, []byte("3"), v)

	require.NoError(t, m.Delete(ctx, "r2:a"))
	require.NoError(t, m.Clear(ctx))
	assert.Zero(t, m.Len())
}

func TestRegionEncoding(t *testing.T) {
	ctx := context.Background()
	r := NewRegion("Employee", NewMemoryRegion())
	a := &ReadOnly{region: r}
	e := &Entry{
		Values: map[string]any{
			"name":    "ann",
			"manager": int64(2),
			"address": map[string]any{"city": "x"},
			"bio":     nil,
		},
		Version: int64(3),
	}
	ok, err := a.PutFromLoad(ctx, 1, e, time.Now())
	require.NoError(t, err)
	require.True(t, ok)

	got, err := a.Get(ctx, 1, time.Now())
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "ann", got.Values["name"])
	assert.Equal(t, int64(2), got.Values["manager"])
	assert.Equal(t, map[string]any{"city": "x"}, got.Values["address"])
	assert.Nil(t, got.Values["bio"])
	assert.Equal(t, int64(3), got.Version)

	require.NoError(t, r.store.Set(ctx, r.storageKey(1), []byte{0xc1}, 0))
	got, err = a.Get(ctx, 1, time.Now())
	require.NoError(t, err)
	assert.Nil(t, got)

	snap := r.Stats().Snapshot()
	assert.Equal(t, RegionStatsSnapshot{Hits: 1, Misses: 1, Puts: 1}, snap)
}

func TestReadOnly(t *testing.T) {
	ctx := context.Background()
	a, err := NewAccess(metamodel.CacheReadOnly, NewRegion("Country", NewMemoryRegion()))
	require.NoError(t, err)

	ok, err := a.AfterInsert(ctx, "NZ", &Entry{Values: map[string]any{"name": "New Zealand"}})
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = a.PutFromLoad(ctx, "NZ", &Entry{Values: map[string]any{"name": "other"}}, time.Now())
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := a.Get(ctx, "NZ", time.Now())
	require.NoError(t, err)
	assert.Equal(t, "New Zealand", got.Values["name"])

	_, err = a.AfterUpdate(ctx, "NZ", &Entry{}, nil)
	assert.True(t, persist.IsIllegalState(err))

	require.NoError(t, a.Remove(ctx, "NZ"))
	got, err = a.Get(ctx, "NZ", time.Now())
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestNonstrictReadWrite(t *testing.T) {
	ctx := context.Background()
	a, err := NewAccess(metamodel.CacheNonstrictReadWrite, NewRegion("Project", NewMemoryRegion()))
	require.NoError(t, err)

	ok, err := a.AfterInsert(ctx, 1, &Entry{Values: map[string]any{"title": "a"}})
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = a.PutFromLoad(ctx, 1, &Entry{Values: map[string]any{"title": "a"}}, time.Now())
	require.NoError(t, err)
	assert.True(t, ok)

	lock, err := a.LockItem(ctx, 1, nil)
	require.NoError(t, err)
	assert.Nil(t, lock)

	ok, err = a.AfterUpdate(ctx, 1, &Entry{Values: map[string]any{"title": "b"}}, lock)
	require.NoError(t, err)
	assert.False(t, ok)
	got, err := a.Get(ctx, 1, time.Now())
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestReadWrite(t *testing.T) {
	ctx := context.Background()
	newAccess := func() (*ReadWrite, *clock) {
		c := newClock()
		return &ReadWrite{region: NewRegion("Employee", NewMemoryRegion(), WithClock(c.Now), WithLockTimeout(time.Minute))}, c
	}
	entry := func(name string, version int64) *Entry {
		return &Entry{Values: map[string]any{"name": name}, Version: version}
	}

	t.Run("readable_after_put", func(t *testing.T) {
		a, c := newAccess()
		ok, err := a.PutFromLoad(ctx, 1, entry("ann", 1), c.Now())
		require.NoError(t, err)
		require.True(t, ok)

		// Not readable by a transaction that started before the put.
		got, err := a.Get(ctx, 1, c.Now())
		require.NoError(t, err)
		assert.Nil(t, got)

		got, err = a.Get(ctx, 1, c.Advance(time.Millisecond))
		require.NoError(t, err)
		assert.Equal(t, "ann", got.Values["name"])
	})

	t.Run("newer_version_replaces", func(t *testing.T) {
		a, c := newAccess()
		_, err := a.PutFromLoad(ctx, 1, entry("ann", 2), c.Now())
		require.NoError(t, err)
		ok, err := a.PutFromLoad(ctx, 1, entry("old", 1), c.Now())
		require.NoError(t, err)
		assert.False(t, ok)
		ok, err = a.PutFromLoad(ctx, 1, entry("new", 3), c.Now())
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("locked_entry_is_a_miss", func(t *testing.T) {
		a, c := newAccess()
		_, err := a.PutFromLoad(ctx, 1, entry("ann", 1), c.Now())
		require.NoError(t, err)
		lock, err := a.LockItem(ctx, 1, int64(1))
		require.NoError(t, err)
		require.NotNil(t, lock)

		got, err := a.Get(ctx, 1, c.Advance(time.Second))
		require.NoError(t, err)
		assert.Nil(t, got)
		ok, err := a.PutFromLoad(ctx, 1, entry("stale", 1), c.Now())
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = a.AfterUpdate(ctx, 1, entry("bob", 2), lock)
		require.NoError(t, err)
		assert.True(t, ok)
		got, err = a.Get(ctx, 1, c.Advance(time.Second))
		require.NoError(t, err)
		assert.Equal(t, "bob", got.Values["name"])
	})

	t.Run("concurrent_locks_do_not_cache", func(t *testing.T) {
		a, c := newAccess()
		unversioned := &Entry{Values: map[string]any{"name": "a"}}
		l1, err := a.LockItem(ctx, 1, nil)
		require.NoError(t, err)
		l2, err := a.LockItem(ctx, 1, nil)
		require.NoError(t, err)
		assert.Equal(t, l1.ID, l2.ID)

		ok, err := a.AfterUpdate(ctx, 1, unversioned, l1)
		require.NoError(t, err)
		assert.False(t, ok)
		require.NoError(t, a.UnlockItem(ctx, 1, l2))

		// Released but written by two transactions: loads started before
		// the unlock must not cache.
		ok, err = a.PutFromLoad(ctx, 1, unversioned, c.Now().Add(-time.Millisecond))
		require.NoError(t, err)
		assert.False(t, ok)
		ok, err = a.PutFromLoad(ctx, 1, unversioned, c.Advance(time.Millisecond))
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("expired_lock_is_writeable", func(t *testing.T) {
		a, c := newAccess()
		_, err := a.LockItem(ctx, 1, int64(1))
		require.NoError(t, err)
		ok, err := a.PutFromLoad(ctx, 1, entry("a", 1), c.Advance(2*time.Minute))
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("foreign_lock_expires", func(t *testing.T) {
		a, c := newAccess()
		_, err := a.PutFromLoad(ctx, 1, entry("a", 1), c.Now())
		require.NoError(t, err)
		ok, err := a.AfterUpdate(ctx, 1, entry("b", 2), &SoftLock{ID: "other"})
		require.NoError(t, err)
		assert.False(t, ok)
		got, err := a.Get(ctx, 1, c.Advance(time.Second))
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("insert", func(t *testing.T) {
		a, c := newAccess()
		ok, err := a.AfterInsert(ctx, 1, entry("a", 0))
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = a.AfterInsert(ctx, 1, entry("b", 0))
		require.NoError(t, err)
		assert.False(t, ok)
		require.NoError(t, a.Remove(ctx, 1))
		got, err := a.Get(ctx, 1, c.Advance(time.Second))
		require.NoError(t, err)
		assert.Nil(t, got)
	})
}

func TestGetOrLoadCollapsesMisses(t *testing.T) {
	ctx := context.Background()
	a, err := NewAccess(metamodel.CacheNonstrictReadWrite, NewRegion("Department", NewMemoryRegion()))
	require.NoError(t, err)

	var loads atomic.Int32
	release := make(chan struct{})
	load := func(context.Context) (*Entry, error) {
		loads.Add(1)
		<-release
		return &Entry{Values: map[string]any{"name": "ops"}}, nil
	}
	var wg sync.WaitGroup
	results := make([]*Entry, 8)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e, err := GetOrLoad(ctx, a, 10, time.Now(), load)
			assert.NoError(t, err)
			results[i] = e
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), loads.Load())
	for _, e := range results {
		require.NotNil(t, e)
		assert.Equal(t, "ops", e.Values["name"])
	}

	e, err := GetOrLoad(ctx, a, 10, time.Now(), func(context.Context) (*Entry, error) {
		t.Fatal("cached entry reloaded")
		return nil, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ops", e.Values["name"])
}

func TestManager(t *testing.T) {
	ctx := context.Background()
	mm := testmodel.Company()
	store := NewMemoryRegion()
	m := NewManager(store, WithTenant("acme"))

	country, err := mm.Entity("Country")
	require.NoError(t, err)
	emp, err := mm.Entity("Employee")
	require.NoError(t, err)

	a, ok := m.EntityAccess(country)
	require.True(t, ok)
	assert.IsType(t, &ReadOnly{}, a)
	assert.Equal(t, "Country", a.Region().Name())
	again, _ := m.EntityAccess(country)
	assert.Same(t, a, again)

	_, ok = m.EntityAccess(emp)
	assert.False(t, ok)
	nat, ok := m.NaturalIDAccess(country)
	require.True(t, ok)
	assert.Equal(t, "Country##NaturalId", nat.Region().Name())

	key := m.EntityKey(country, "NZ")
	assert.Equal(t, EntityCacheKey{Entity: "Country", Tenant: "acme", ID: "NZ"}, key)
	_, err = a.AfterInsert(ctx, key, &Entry{Values: map[string]any{"name": "New Zealand"}})
	require.NoError(t, err)
	assert.Equal(t, 1, store.Len())

	require.NoError(t, m.EvictAll(ctx))
	assert.Zero(t, store.Len())

	_, err = NewAccess(metamodel.CacheNone, NewRegion("x", store))
	assert.True(t, persist.IsIllegalArgument(err))
}
