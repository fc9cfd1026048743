// Package cache implements the second-level cache: key creation, named
// regions over a persist.Cache store and the read-only, read-write and
// nonstrict read-write access strategies.
package cache

import (
	"fmt"
	"strings"

	"github.com/syssam/persist"
	"github.com/syssam/persist/engine"
	"github.com/syssam/persist/metamodel"
)

// KeysFactory creates the keys entries are cached under.
type KeysFactory interface {
	// CreateEntityKey returns the key of an entity instance.
	CreateEntityKey(id any, p metamodel.EntityPersister, tenant string) any
	// CreateCollectionKey returns the key of a collection of an owner.
	CreateCollectionKey(key any, p metamodel.CollectionPersister, tenant string) any
	// CreateNaturalIDKey returns the key of a natural identifier.
	CreateNaturalIDKey(values []any, p metamodel.EntityPersister, tenant string) any
	// GetEntityID returns the identifier an entity key was created from.
	GetEntityID(key any) any
	// GetCollectionKey returns the owner key a collection key was created from.
	GetCollectionKey(key any) any
	// GetNaturalIDValues returns the values a natural id key was created from.
	GetNaturalIDValues(key any) []any
}

// KeysFactoryFor returns the factory registered under name: "default"
// (or empty) and "simple".
func KeysFactoryFor(name string) (KeysFactory, error) {
	switch strings.ToLower(name) {
	case "", "default":
		return DefaultKeys{}, nil
	case "simple":
		return SimpleKeys{}, nil
	}
	return nil, persist.NewUnrecognizedSettingError(name, "hibernate.cache.keys_factory")
}

// SimpleKeys uses the bare identifier as key. It is only safe when every
// region holds one entity hierarchy and the store is not shared between
// tenants.
type SimpleKeys struct{}

var _ KeysFactory = SimpleKeys{}

// CreateEntityKey implements KeysFactory.
func (SimpleKeys) CreateEntityKey(id any, _ metamodel.EntityPersister, _ string) any {
	return engine.NormalizeID(id)
}

// CreateCollectionKey implements KeysFactory.
func (SimpleKeys) CreateCollectionKey(key any, _ metamodel.CollectionPersister, _ string) any {
	return engine.NormalizeID(key)
}

// CreateNaturalIDKey implements KeysFactory. A single value is used as is.
func (SimpleKeys) CreateNaturalIDKey(values []any, _ metamodel.EntityPersister, _ string) any {
	if len(values) == 1 {
		return values[0]
	}
	return NaturalIDValues(values)
}

// GetEntityID implements KeysFactory.
func (SimpleKeys) GetEntityID(key any) any { return key }

// GetCollectionKey implements KeysFactory.
func (SimpleKeys) GetCollectionKey(key any) any { return key }

// GetNaturalIDValues implements KeysFactory.
func (SimpleKeys) GetNaturalIDValues(key any) []any {
	if v, ok := key.(NaturalIDValues); ok {
		return v
	}
	return []any{key}
}

// NaturalIDValues is the key of a multi-attribute natural id in SimpleKeys.
type NaturalIDValues []any

// String returns the values joined with commas.
func (v NaturalIDValues) String() string {
	parts := make([]string, len(v))
	for i, p := range v {
		parts[i] = fmt.Sprint(p)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// DefaultKeys embeds the root entity name or collection role and the
// tenant in every key, so that entities of different hierarchies and
// tenants never collide in a shared store.
type DefaultKeys struct{}

var _ KeysFactory = DefaultKeys{}

// EntityCacheKey is an entity key created by DefaultKeys.
type EntityCacheKey struct {
	Entity string
	Tenant string
	ID     any
}

// String returns "Entity#id" with the tenant prefixed when set.
func (k EntityCacheKey) String() string {
	return withTenant(k.Tenant, fmt.Sprintf("%s#%v", k.Entity, k.ID))
}

// CollectionCacheKey is a collection key created by DefaultKeys.
type CollectionCacheKey struct {
	Role   string
	Tenant string
	Key    any
}

// String returns "Role#key" with the tenant prefixed when set.
func (k CollectionCacheKey) String() string {
	return withTenant(k.Tenant, fmt.Sprintf("%s#%v", k.Role, k.Key))
}

// NaturalIDCacheKey is a natural id key created by DefaultKeys.
type NaturalIDCacheKey struct {
	Entity string
	Tenant string
	Values NaturalIDValues
}

// String returns "Entity##[values]" with the tenant prefixed when set.
func (k NaturalIDCacheKey) String() string {
	return withTenant(k.Tenant, k.Entity+"##"+k.Values.String())
}

func withTenant(tenant, s string) string {
	if tenant == "" {
		return s
	}
	return tenant + "/" + s
}

// CreateEntityKey implements KeysFactory.
func (DefaultKeys) CreateEntityKey(id any, p metamodel.EntityPersister, tenant string) any {
	return EntityCacheKey{Entity: p.RootEntityName(), Tenant: tenant, ID: engine.NormalizeID(id)}
}

// CreateCollectionKey implements KeysFactory.
func (DefaultKeys) CreateCollectionKey(key any, p metamodel.CollectionPersister, tenant string) any {
	return CollectionCacheKey{Role: p.Role(), Tenant: tenant, Key: engine.NormalizeID(key)}
}

// CreateNaturalIDKey implements KeysFactory.
func (DefaultKeys) CreateNaturalIDKey(values []any, p metamodel.EntityPersister, tenant string) any {
	return NaturalIDCacheKey{Entity: p.RootEntityName(), Tenant: tenant, Values: NaturalIDValues(values)}
}

// GetEntityID implements KeysFactory.
func (DefaultKeys) GetEntityID(key any) any {
	if k, ok := key.(EntityCacheKey); ok {
		return k.ID
	}
	return nil
}

// GetCollectionKey implements KeysFactory.
func (DefaultKeys) GetCollectionKey(key any) any {
	if k, ok := key.(CollectionCacheKey); ok {
		return k.Key
	}
	return nil
}

// GetNaturalIDValues implements KeysFactory.
func (DefaultKeys) GetNaturalIDValues(key any) []any {
	if k, ok := key.(NaturalIDCacheKey); ok {
		return k.Values
	}
	return nil
}

// keyText returns the storage text of a key.
func keyText(key any) string {
	if s, ok := key.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprint(key)
}
