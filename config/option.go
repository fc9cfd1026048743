package config

import (
	"strings"
	"time"

	"github.com/syssam/persist"
	"github.com/syssam/persist/cache"
	"github.com/syssam/persist/dialect"
	"github.com/syssam/persist/schema"
)

// Option configures Settings.
type Option func(*Settings) error

// WithDialect sets the SQL dialect.
// Supported names: "postgres", "mysql", "sqlite", "sqlserver", "oracle".
func WithDialect(name string) Option {
	return func(s *Settings) error {
		name = strings.ToLower(name)
		if _, err := dialect.For(name); err != nil {
			return err
		}
		s.Dialect = name
		return nil
	}
}

// WithBatchFetchSize sets the default batch fetch size.
func WithBatchFetchSize(n int) Option {
	return func(s *Settings) error {
		if n < 0 {
			return persist.NewUnrecognizedSettingError(n, KeyBatchFetchSize)
		}
		s.DefaultBatchFetchSize = n
		return nil
	}
}

// WithMaxFetchDepth limits join fetching.
func WithMaxFetchDepth(n int) Option {
	return func(s *Settings) error {
		if n < 0 {
			return persist.NewUnrecognizedSettingError(n, KeyMaxFetchDepth)
		}
		s.MaxFetchDepth = n
		return nil
	}
}

// WithLockScope sets the default lock scope.
func WithLockScope(scope persist.LockScope) Option {
	return func(s *Settings) error {
		s.Lock.Scope = scope.String()
		return nil
	}
}

// WithLockTimeout sets the default lock timeout in milliseconds, or one of
// persist.WaitForever, persist.NoWait and persist.SkipLocked.
func WithLockTimeout(millis int) Option {
	return func(s *Settings) error {
		if millis < persist.SkipLocked {
			return persist.NewUnrecognizedSettingError(millis, KeyLockTimeout)
		}
		s.Lock.Timeout = &millis
		return nil
	}
}

// WithQueryTimeout sets the statement timeout.
func WithQueryTimeout(d time.Duration) Option {
	return func(s *Settings) error {
		s.QueryTimeout = d
		return nil
	}
}

// WithSlowQueryThreshold enables the slow statement log.
func WithSlowQueryThreshold(d time.Duration) Option {
	return func(s *Settings) error {
		s.SlowQueryThreshold = d
		return nil
	}
}

// WithShowSQL logs every statement.
func WithShowSQL() Option {
	return func(s *Settings) error {
		s.ShowSQL = true
		return nil
	}
}

// WithCache enables the second-level cache with the named keys factory.
func WithCache(keysFactory string) Option {
	return func(s *Settings) error {
		if _, err := cache.KeysFactoryFor(keysFactory); err != nil {
			return err
		}
		s.Cache.Enabled = true
		s.Cache.KeysFactory = keysFactory
		return nil
	}
}

// WithTenant sets the tenant embedded in cache keys.
func WithTenant(tenant string) Option {
	return func(s *Settings) error {
		s.Cache.Tenant = tenant
		return nil
	}
}

// WithSchemaAction sets the schema database action from a JPA or legacy
// name.
func WithSchemaAction(value string) Option {
	return func(s *Settings) error {
		if _, err := schema.InterpretJpaSetting(value); err != nil {
			return err
		}
		s.Schema.DatabaseAction = value
		return nil
	}
}

// WithMappings adds YAML mapping document paths.
func WithMappings(paths ...string) Option {
	return func(s *Settings) error {
		s.Mappings = append(s.Mappings, paths...)
		return nil
	}
}
