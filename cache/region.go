package cache

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/syssam/persist"

	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/sync/singleflight"
)

// Entry is the cached state of an entity or collection. Values holds the
// disassembled attribute values: identifiers in place of entity
// references and maps in place of composites.
type Entry struct {
	Values  map[string]any `msgpack:"values"`
	Version any            `msgpack:"version,omitempty"`
}

// item is the stored form of a region entry: a cached value or a soft
// lock held while the value is being written.
type item struct {
	Entry     *Entry    `msgpack:"entry,omitempty"`
	Version   any       `msgpack:"version,omitempty"`
	Timestamp int64     `msgpack:"ts"`
	Lock      *softLock `msgpack:"lock,omitempty"`
}

type softLock struct {
	ID         string `msgpack:"id"`
	Timeout    int64  `msgpack:"timeout"`
	Version    any    `msgpack:"version,omitempty"`
	Concurrent int    `msgpack:"concurrent"`
	Shared     bool   `msgpack:"shared,omitempty"`
	Unlocked   int64  `msgpack:"unlocked"`
}

// RegionStats holds the access statistics of a region.
type RegionStats struct {
	Hits   atomic.Int64
	Misses atomic.Int64
	Puts   atomic.Int64
}

// RegionStatsSnapshot is a point-in-time copy of RegionStats.
type RegionStatsSnapshot struct {
	Hits, Misses, Puts int64
}

// Snapshot returns the current statistics.
func (s *RegionStats) Snapshot() RegionStatsSnapshot {
	return RegionStatsSnapshot{Hits: s.Hits.Load(), Misses: s.Misses.Load(), Puts: s.Puts.Load()}
}

// RegionOption configures a Region.
type RegionOption func(*Region)

// WithTTL sets the time to live of stored entries.
func WithTTL(ttl time.Duration) RegionOption {
	return func(r *Region) { r.ttl = ttl }
}

// WithLockTimeout sets how long a soft lock blocks writes from loads.
func WithLockTimeout(d time.Duration) RegionOption {
	return func(r *Region) { r.lockTimeout = d }
}

// WithClock sets the time source of the region.
func WithClock(now func() time.Time) RegionOption {
	return func(r *Region) { r.now = now }
}

// WithRegionLogger sets the logger of the region.
func WithRegionLogger(l *slog.Logger) RegionOption {
	return func(r *Region) { r.logger = l }
}

// Region is a named partition of a persist.Cache store. Entries are
// stored under "region:key" and encoded with msgpack.
type Region struct {
	name        string
	store       persist.Cache
	ttl         time.Duration
	lockTimeout time.Duration
	now         func() time.Time
	logger      *slog.Logger
	group       singleflight.Group
	stats       RegionStats
}

// NewRegion returns the region name of store.
func NewRegion(name string, store persist.Cache, opts ...RegionOption) *Region {
	r := &Region{
		name:        name,
		store:       store,
		lockTimeout: time.Minute,
		now:         time.Now,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Name returns the region name.
func (r *Region) Name() string { return r.name }

// Stats returns the access statistics of the region.
func (r *Region) Stats() *RegionStats { return &r.stats }

// Timestamp returns the current region time. Sessions use it as the
// timestamp of their transaction.
func (r *Region) Timestamp() time.Time { return r.now() }

func (r *Region) storageKey(key any) string {
	return persist.RegionKey{Region: r.name, Key: keyText(key)}.String()
}

func (r *Region) read(ctx context.Context, key any) (*item, error) {
	b, err := r.store.Get(ctx, r.storageKey(key))
	if err != nil {
		return nil, fmt.Errorf("cache: get %s: %w", r.storageKey(key), err)
	}
	if b == nil {
		return nil, nil
	}
	dec := msgpack.NewDecoder(bytes.NewReader(b))
	dec.UseLooseInterfaceDecoding(true)
	var it item
	if err := dec.Decode(&it); err != nil {
		// An undecodable entry is treated as missing and dropped.
		r.logger.WarnContext(ctx, "dropping undecodable cache entry", "region", r.name, "key", keyText(key), "error", err)
		return nil, r.store.Delete(ctx, r.storageKey(key))
	}
	return &it, nil
}

func (r *Region) write(ctx context.Context, key any, it *item) error {
	b, err := msgpack.Marshal(it)
	if err != nil {
		return fmt.Errorf("cache: encode %s: %w", r.storageKey(key), err)
	}
	if err := r.store.Set(ctx, r.storageKey(key), b, r.ttl); err != nil {
		return fmt.Errorf("cache: set %s: %w", r.storageKey(key), err)
	}
	return nil
}

// Evict removes the entry of key.
func (r *Region) Evict(ctx context.Context, key any) error {
	if err := r.store.Delete(ctx, r.storageKey(key)); err != nil {
		return fmt.Errorf("cache: delete %s: %w", r.storageKey(key), err)
	}
	return nil
}

// EvictAll removes every entry of the region.
func (r *Region) EvictAll(ctx context.Context) error {
	if err := r.store.DeletePrefix(ctx, r.name+":"); err != nil {
		return fmt.Errorf("cache: clear region %s: %w", r.name, err)
	}
	return nil
}
