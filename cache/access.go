package cache

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/syssam/persist"
	"github.com/syssam/persist/metamodel"

	"github.com/google/uuid"
)

// SoftLock is the handle of a lock taken on an entry for the duration of
// a write. Strategies that do not lock return nil.
type SoftLock struct {
	ID string
}

// Access is a region access strategy. ts is the timestamp of the
// transaction performing the access.
type Access interface {
	// Region returns the region the strategy reads and writes.
	Region() *Region
	// Get returns the cached entry of key, or nil when it is missing or
	// not readable at ts.
	Get(ctx context.Context, key any, ts time.Time) (*Entry, error)
	// PutFromLoad caches an entry just read from the database. It reports
	// whether the entry was stored.
	PutFromLoad(ctx context.Context, key any, e *Entry, ts time.Time) (bool, error)
	// LockItem locks key before the database row is updated or deleted.
	LockItem(ctx context.Context, key any, version any) (*SoftLock, error)
	// UnlockItem releases a lock after the transaction completed without
	// writing a new value.
	UnlockItem(ctx context.Context, key any, lock *SoftLock) error
	// AfterInsert caches the entry of an inserted row.
	AfterInsert(ctx context.Context, key any, e *Entry) (bool, error)
	// AfterUpdate caches the entry of an updated row and releases lock.
	AfterUpdate(ctx context.Context, key any, e *Entry, lock *SoftLock) (bool, error)
	// Remove drops the entry of a deleted row.
	Remove(ctx context.Context, key any) error
}

// NewAccess returns the strategy of an access type on region.
func NewAccess(ca metamodel.CacheAccess, region *Region) (Access, error) {
	switch ca {
	case metamodel.CacheReadOnly:
		return &ReadOnly{region: region}, nil
	case metamodel.CacheReadWrite:
		return &ReadWrite{region: region}, nil
	case metamodel.CacheNonstrictReadWrite:
		return &NonstrictReadWrite{region: region}, nil
	}
	return nil, persist.NewIllegalArgumentError("no cache access strategy for %q", ca)
}

// GetOrLoad returns the cached entry of key or loads and caches it.
// Concurrent misses of the same key share one load.
func GetOrLoad(ctx context.Context, a Access, key any, ts time.Time, load func(context.Context) (*Entry, error)) (*Entry, error) {
	r := a.Region()
	e, err := a.Get(ctx, key, ts)
	if err != nil || e != nil {
		return e, err
	}
	v, err, _ := r.group.Do(r.storageKey(key), func() (any, error) {
		if e, err := a.Get(ctx, key, ts); err != nil || e != nil {
			return e, err
		}
		e, err := load(ctx)
		if err != nil || e == nil {
			return e, err
		}
		if _, err := a.PutFromLoad(ctx, key, e, ts); err != nil {
			return nil, err
		}
		return e, nil
	})
	if err != nil {
		return nil, err
	}
	e, ok := v.(*Entry)
	if !ok && v != nil {
		return nil, fmt.Errorf("cache: unexpected load result %T", v)
	}
	return e, nil
}

// ReadOnly caches entities that are never updated. Updates fail.
type ReadOnly struct {
	region *Region
}

// Region implements Access.
func (a *ReadOnly) Region() *Region { return a.region }

// Get implements Access.
func (a *ReadOnly) Get(ctx context.Context, key any, _ time.Time) (*Entry, error) {
	return hit(ctx, a.region, key, func(it *item) bool { return it.Entry != nil })
}

// PutFromLoad implements Access. Existing entries are kept.
func (a *ReadOnly) PutFromLoad(ctx context.Context, key any, e *Entry, _ time.Time) (bool, error) {
	return putIfAbsent(ctx, a.region, key, e)
}

// LockItem implements Access.
func (a *ReadOnly) LockItem(context.Context, any, any) (*SoftLock, error) { return nil, nil }

// UnlockItem implements Access.
func (a *ReadOnly) UnlockItem(ctx context.Context, key any, _ *SoftLock) error {
	return a.region.Evict(ctx, key)
}

// AfterInsert implements Access.
func (a *ReadOnly) AfterInsert(ctx context.Context, key any, e *Entry) (bool, error) {
	return putIfAbsent(ctx, a.region, key, e)
}

// AfterUpdate implements Access.
func (a *ReadOnly) AfterUpdate(context.Context, any, *Entry, *SoftLock) (bool, error) {
	return false, persist.NewIllegalStateError("cannot update an entry of read-only region %s", a.region.name)
}

// Remove implements Access.
func (a *ReadOnly) Remove(ctx context.Context, key any) error { return a.region.Evict(ctx, key) }

// NonstrictReadWrite caches entities that are rarely updated. Writes
// invalidate the entry instead of locking it, so a concurrent load may
// briefly cache stale state.
type NonstrictReadWrite struct {
	region *Region
}

// Region implements Access.
func (a *NonstrictReadWrite) Region() *Region { return a.region }

// Get implements Access.
func (a *NonstrictReadWrite) Get(ctx context.Context, key any, _ time.Time) (*Entry, error) {
	return hit(ctx, a.region, key, func(it *item) bool { return it.Entry != nil })
}

// PutFromLoad implements Access.
func (a *NonstrictReadWrite) PutFromLoad(ctx context.Context, key any, e *Entry, _ time.Time) (bool, error) {
	return putIfAbsent(ctx, a.region, key, e)
}

// LockItem implements Access.
func (a *NonstrictReadWrite) LockItem(context.Context, any, any) (*SoftLock, error) { return nil, nil }

// UnlockItem implements Access.
func (a *NonstrictReadWrite) UnlockItem(ctx context.Context, key any, _ *SoftLock) error {
	return a.region.Evict(ctx, key)
}

// AfterInsert implements Access. Inserted rows are cached on first load.
func (a *NonstrictReadWrite) AfterInsert(context.Context, any, *Entry) (bool, error) {
	return false, nil
}

// AfterUpdate implements Access. The entry is invalidated.
func (a *NonstrictReadWrite) AfterUpdate(ctx context.Context, key any, _ *Entry, _ *SoftLock) (bool, error) {
	return false, a.region.Evict(ctx, key)
}

// Remove implements Access.
func (a *NonstrictReadWrite) Remove(ctx context.Context, key any) error {
	return a.region.Evict(ctx, key)
}

// ReadWrite caches updatable entities. A write locks the entry until the
// transaction completes; while locked the entry is a miss and loads do not
// cache. Locks expire after the lock timeout of the region.
type ReadWrite struct {
	region *Region
}

// Region implements Access.
func (a *ReadWrite) Region() *Region { return a.region }

// Get implements Access. Entries cached after ts are not readable.
func (a *ReadWrite) Get(ctx context.Context, key any, ts time.Time) (*Entry, error) {
	return hit(ctx, a.region, key, func(it *item) bool {
		return it.Lock == nil && it.Entry != nil && ts.UnixNano() > it.Timestamp
	})
}

// PutFromLoad implements Access. An entry is stored when the key is free,
// when it replaces an older version, or when the lock on it has expired.
func (a *ReadWrite) PutFromLoad(ctx context.Context, key any, e *Entry, ts time.Time) (bool, error) {
	r := a.region
	it, err := r.read(ctx, key)
	if err != nil {
		return false, err
	}
	if it != nil && !writeable(it, ts.UnixNano(), e.Version) {
		return false, nil
	}
	return true, put(ctx, r, key, e)
}

// LockItem implements Access. Locking an entry another transaction holds
// counts a concurrent lock.
func (a *ReadWrite) LockItem(ctx context.Context, key any, version any) (*SoftLock, error) {
	r := a.region
	it, err := r.read(ctx, key)
	if err != nil {
		return nil, err
	}
	if it == nil || it.Lock == nil {
		it = &item{Lock: &softLock{ID: uuid.NewString(), Version: version}}
	} else {
		it.Lock.Shared = true
		it.Lock.Unlocked = 0
	}
	it.Lock.Timeout = r.now().Add(r.lockTimeout).UnixNano()
	it.Lock.Concurrent++
	if err := r.write(ctx, key, it); err != nil {
		return nil, err
	}
	return &SoftLock{ID: it.Lock.ID}, nil
}

// UnlockItem implements Access.
func (a *ReadWrite) UnlockItem(ctx context.Context, key any, lock *SoftLock) error {
	r := a.region
	it, err := r.read(ctx, key)
	if err != nil {
		return err
	}
	if unlockable(it, lock) {
		a.decrement(it)
		return r.write(ctx, key, it)
	}
	return a.expire(ctx, key)
}

// AfterInsert implements Access. The entry is cached unless another
// transaction cached or locked the key meanwhile.
func (a *ReadWrite) AfterInsert(ctx context.Context, key any, e *Entry) (bool, error) {
	it, err := a.region.read(ctx, key)
	if err != nil || it != nil {
		return false, err
	}
	return true, put(ctx, a.region, key, e)
}

// AfterUpdate implements Access. The entry is cached when no other
// transaction locked the key meanwhile; otherwise the lock is released and
// the key stays uncached.
func (a *ReadWrite) AfterUpdate(ctx context.Context, key any, e *Entry, lock *SoftLock) (bool, error) {
	r := a.region
	it, err := r.read(ctx, key)
	if err != nil {
		return false, err
	}
	if !unlockable(it, lock) {
		return false, a.expire(ctx, key)
	}
	if it.Lock.Shared {
		a.decrement(it)
		return false, r.write(ctx, key, it)
	}
	return true, put(ctx, r, key, e)
}

// Remove implements Access.
func (a *ReadWrite) Remove(ctx context.Context, key any) error { return a.region.Evict(ctx, key) }

func (a *ReadWrite) decrement(it *item) {
	it.Lock.Concurrent--
	if it.Lock.Concurrent <= 0 {
		it.Lock.Concurrent = 0
		it.Lock.Unlocked = a.region.now().UnixNano()
	}
}

// expire replaces whatever is stored under key with an unlocked lock, so
// loads started before now do not cache state that may be stale.
func (a *ReadWrite) expire(ctx context.Context, key any) error {
	r := a.region
	now := r.now().UnixNano()
	r.logger.WarnContext(ctx, "cache lock expired or not held", "region", r.name, "key", keyText(key))
	return r.write(ctx, key, &item{Lock: &softLock{ID: uuid.NewString(), Timeout: now, Unlocked: now}})
}

func unlockable(it *item, lock *SoftLock) bool {
	return it != nil && it.Lock != nil && lock != nil && it.Lock.ID == lock.ID
}

func writeable(it *item, ts int64, version any) bool {
	if l := it.Lock; l != nil {
		if ts > l.Timeout {
			return true
		}
		if l.Concurrent > 0 {
			return false
		}
		if l.Version == nil || version == nil {
			return ts > l.Unlocked
		}
		return compareVersions(l.Version, version) < 0
	}
	if version == nil || it.Version == nil {
		return false
	}
	return compareVersions(it.Version, version) < 0
}

// compareVersions orders integer versions. Other versions compare equal.
func compareVersions(a, b any) int {
	x, ok1 := asInt64(a)
	y, ok2 := asInt64(b)
	if !ok1 || !ok2 {
		return 0
	}
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	}
	return 0
}

func asInt64(v any) (int64, bool) {
	switch v := v.(type) {
	case int:
		return int64(v), true
	case int8:
		return int64(v), true
	case int16:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case uint8:
		return int64(v), true
	case uint16:
		return int64(v), true
	case uint32:
		return int64(v), true
	case uint64:
		return int64(v), v <= math.MaxInt64
	}
	return 0, false
}

func hit(ctx context.Context, r *Region, key any, readable func(*item) bool) (*Entry, error) {
	it, err := r.read(ctx, key)
	if err != nil {
		return nil, err
	}
	if it == nil || !readable(it) {
		r.stats.Misses.Add(1)
		return nil, nil
	}
	r.stats.Hits.Add(1)
	return it.Entry, nil
}

func putIfAbsent(ctx context.Context, r *Region, key any, e *Entry) (bool, error) {
	it, err := r.read(ctx, key)
	if err != nil || it != nil {
		return false, err
	}
	return true, put(ctx, r, key, e)
}

func put(ctx context.Context, r *Region, key any, e *Entry) error {
	if err := r.write(ctx, key, &item{Entry: e, Version: e.Version, Timestamp: r.now().UnixNano()}); err != nil {
		return err
	}
	r.stats.Puts.Add(1)
	return nil
}
