package persist

import (
	"context"
	"time"
)

// Cache is the storage contract behind second-level cache regions.
// Users may implement it with their preferred caching solution
// (e.g., Redis, Memcached, in-memory).
type Cache interface {
	// Get retrieves a value from the cache.
	// Returns nil, nil if the key doesn't exist.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value in the cache with an optional TTL.
	// If ttl is 0, the value should not expire.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from the cache.
	Delete(ctx context.Context, key string) error

	// DeletePrefix removes all values with the given prefix.
	DeletePrefix(ctx context.Context, prefix string) error

	// Clear removes all values from the cache.
	Clear(ctx context.Context) error
}

// RegionKey addresses an entry within a named cache region.
type RegionKey struct {
	Region string
	Key    string
}

// String returns the storage key of the entry.
func (k RegionKey) String() string {
	return k.Region + ":" + k.Key
}
