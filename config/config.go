// Package config loads the settings of a session factory from YAML
// documents, from flat property maps using the hibernate.* and
// jakarta.persistence.* keys, or from functional options.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/syssam/persist"
	"github.com/syssam/persist/cache"
	"github.com/syssam/persist/dialect"
	"github.com/syssam/persist/metamodel"
	"github.com/syssam/persist/schema"

	"gopkg.in/yaml.v3"
)

// Property keys understood by FromProperties.
const (
	KeyDialect          = "hibernate.dialect"
	KeyBatchFetchSize   = "hibernate.default_batch_fetch_size"
	KeyMaxFetchDepth    = "hibernate.max_fetch_depth"
	KeyLockScope        = "jakarta.persistence.lock.scope"
	KeyLockTimeout      = "jakarta.persistence.lock.timeout"
	KeyQueryTimeout     = "jakarta.persistence.query.timeout"
	KeySlowQuery        = "hibernate.log_slow_query"
	KeyShowSQL          = "hibernate.show_sql"
	KeySecondLevelCache = "hibernate.cache.use_second_level_cache"
	KeyCacheKeysFactory = "hibernate.cache.keys_factory"
	KeyCacheRegionTTL   = "hibernate.cache.region_ttl"
	KeyTenant           = "hibernate.tenant_identifier"
	KeyMappings         = "hibernate.mapping.files"

	legacyLockScope    = "javax.persistence.lock.scope"
	legacyLockTimeout  = "javax.persistence.lock.timeout"
	legacyQueryTimeout = "javax.persistence.query.timeout"
)

const defaultLockTimeout = persist.WaitForever

// Settings configure a session factory.
type Settings struct {
	// Dialect is the name of the SQL dialect, such as "postgres".
	Dialect string `yaml:"dialect"`
	// DefaultBatchFetchSize applies to entities and collections that do
	// not map a batch size. Zero disables batch fetching.
	DefaultBatchFetchSize int `yaml:"default_batch_fetch_size"`
	// MaxFetchDepth limits join fetching. Zero means unlimited.
	MaxFetchDepth int           `yaml:"max_fetch_depth"`
	Lock          LockSettings  `yaml:"lock"`
	QueryTimeout  time.Duration `yaml:"query_timeout"`
	// SlowQueryThreshold enables the slow statement log when positive.
	SlowQueryThreshold time.Duration `yaml:"slow_query_threshold"`
	// ShowSQL logs every statement at Debug level on the factory logger.
	ShowSQL bool           `yaml:"show_sql"`
	Cache   CacheSettings  `yaml:"cache"`
	Schema  SchemaSettings `yaml:"schema"`
	// Mappings are paths of YAML mapping documents.
	Mappings []string `yaml:"mappings"`
}

// LockSettings are the defaults of pessimistic locks.
type LockSettings struct {
	// Scope is ROOT_ONLY, INCLUDE_FETCHES or INCLUDE_COLLECTIONS.
	Scope string `yaml:"scope"`
	// Timeout in milliseconds; -1 waits forever, 0 does not wait and -2
	// skips locked rows.
	Timeout *int `yaml:"timeout"`
}

// CacheSettings configure the second-level cache.
type CacheSettings struct {
	Enabled bool `yaml:"enabled"`
	// KeysFactory is "default" or "simple".
	KeysFactory string        `yaml:"keys_factory"`
	Tenant      string        `yaml:"tenant"`
	RegionTTL   time.Duration `yaml:"region_ttl"`
}

// SchemaSettings carry the schema management action under its JPA name
// or its legacy hbm2ddl name. The JPA name wins when both are set.
type SchemaSettings struct {
	DatabaseAction string `yaml:"database_action"`
	ScriptsAction  string `yaml:"scripts_action"`
	Hbm2ddlAuto    string `yaml:"hbm2ddl_auto"`
}

// Actions resolves the schema actions.
func (s SchemaSettings) Actions() (schema.Grouping, error) {
	props := make(map[string]any)
	if s.DatabaseAction != "" {
		props[schema.JakartaDatabaseAction] = s.DatabaseAction
	}
	if s.ScriptsAction != "" {
		props[schema.JakartaScriptsAction] = s.ScriptsAction
	}
	if s.Hbm2ddlAuto != "" {
		props[schema.Hbm2ddlAuto] = s.Hbm2ddlAuto
	}
	return schema.InterpretSettings(props)
}

// Default returns the default settings: postgres, no batch fetching, no
// cache and locks waiting forever on the root rows only.
func Default() *Settings {
	timeout := defaultLockTimeout
	return &Settings{
		Dialect: dialect.Postgres,
		Lock:    LockSettings{Scope: persist.ScopeRootOnly.String(), Timeout: &timeout},
		Cache:   CacheSettings{KeysFactory: "default"},
	}
}

// New returns the default settings with opts applied.
func New(opts ...Option) (*Settings, error) {
	s := Default()
	if err := s.Apply(opts...); err != nil {
		return nil, err
	}
	return validated(s)
}

// Load reads the YAML settings file at path.
func Load(path string, opts ...Option) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data, opts...)
}

// Parse decodes YAML settings over the defaults and applies opts.
func Parse(data []byte, opts ...Option) (*Settings, error) {
	s := Default()
	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := s.Apply(opts...); err != nil {
		return nil, err
	}
	return validated(s)
}

// FromProperties reads settings from a flat property map. Durations are
// milliseconds and numbers may be given as strings.
func FromProperties(props map[string]any, opts ...Option) (*Settings, error) {
	s := Default()
	if v, ok := props[KeyDialect]; ok {
		s.Dialect = strings.ToLower(fmt.Sprint(v))
	}
	ints := []struct {
		keys []string
		set  func(int)
	}{
		{[]string{KeyBatchFetchSize}, func(n int) { s.DefaultBatchFetchSize = n }},
		{[]string{KeyMaxFetchDepth}, func(n int) { s.MaxFetchDepth = n }},
		{[]string{KeyLockTimeout, legacyLockTimeout}, func(n int) { s.Lock.Timeout = &n }},
		{[]string{KeyQueryTimeout, legacyQueryTimeout}, func(n int) { s.QueryTimeout = time.Duration(n) * time.Millisecond }},
		{[]string{KeySlowQuery}, func(n int) { s.SlowQueryThreshold = time.Duration(n) * time.Millisecond }},
		{[]string{KeyCacheRegionTTL}, func(n int) { s.Cache.RegionTTL = time.Duration(n) * time.Millisecond }},
	}
	for _, p := range ints {
		v, key, ok := first(props, p.keys...)
		if !ok {
			continue
		}
		n, err := toInt(v)
		if err != nil {
			return nil, persist.NewUnrecognizedSettingError(v, key)
		}
		p.set(n)
	}
	if v, _, ok := first(props, KeyLockScope, legacyLockScope); ok {
		s.Lock.Scope = fmt.Sprint(v)
	}
	if v, ok := props[KeySecondLevelCache]; ok {
		b, err := toBool(v)
		if err != nil {
			return nil, persist.NewUnrecognizedSettingError(v, KeySecondLevelCache)
		}
		s.Cache.Enabled = b
	}
	if v, ok := props[KeyShowSQL]; ok {
		b, err := toBool(v)
		if err != nil {
			return nil, persist.NewUnrecognizedSettingError(v, KeyShowSQL)
		}
		s.ShowSQL = b
	}
	if v, ok := props[KeyCacheKeysFactory]; ok {
		s.Cache.KeysFactory = fmt.Sprint(v)
	}
	if v, ok := props[KeyTenant]; ok {
		s.Cache.Tenant = fmt.Sprint(v)
	}
	if v, ok := props[KeyMappings]; ok {
		for _, p := range strings.Split(fmt.Sprint(v), ",") {
			if p = strings.TrimSpace(p); p != "" {
				s.Mappings = append(s.Mappings, p)
			}
		}
	}
	if v, _, ok := first(props, schema.JakartaDatabaseAction, schema.JavaxDatabaseAction); ok {
		s.Schema.DatabaseAction = fmt.Sprint(v)
	}
	if v, _, ok := first(props, schema.JakartaScriptsAction, schema.JavaxScriptsAction); ok {
		s.Schema.ScriptsAction = fmt.Sprint(v)
	}
	if v, ok := props[schema.Hbm2ddlAuto]; ok {
		s.Schema.Hbm2ddlAuto = fmt.Sprint(v)
	}
	if err := s.Apply(opts...); err != nil {
		return nil, err
	}
	return validated(s)
}

func validated(s *Settings) (*Settings, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Apply applies opts in order and stops at the first error.
func (s *Settings) Apply(opts ...Option) error {
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks that every named value is known.
func (s *Settings) Validate() error {
	if _, err := dialect.For(s.Dialect); err != nil {
		return err
	}
	if s.DefaultBatchFetchSize < 0 {
		return persist.NewUnrecognizedSettingError(s.DefaultBatchFetchSize, KeyBatchFetchSize)
	}
	if s.MaxFetchDepth < 0 {
		return persist.NewUnrecognizedSettingError(s.MaxFetchDepth, KeyMaxFetchDepth)
	}
	if _, err := s.LockScope(); err != nil {
		return err
	}
	if t := s.LockTimeout(); t < persist.SkipLocked {
		return persist.NewUnrecognizedSettingError(t, KeyLockTimeout)
	}
	if _, err := cache.KeysFactoryFor(s.Cache.KeysFactory); err != nil {
		return err
	}
	if _, err := s.Schema.Actions(); err != nil {
		return err
	}
	return nil
}

// SQLDialect returns the configured dialect.
func (s *Settings) SQLDialect() (dialect.Dialect, error) {
	return dialect.For(s.Dialect)
}

// LockScope returns the configured default lock scope.
func (s *Settings) LockScope() (persist.LockScope, error) {
	if s.Lock.Scope == "" {
		return persist.ScopeRootOnly, nil
	}
	scope, err := persist.ParseLockScope(s.Lock.Scope)
	if err != nil {
		return scope, persist.NewUnrecognizedSettingError(s.Lock.Scope, KeyLockScope, legacyLockScope)
	}
	return scope, nil
}

// LockTimeout returns the configured default lock timeout in milliseconds.
func (s *Settings) LockTimeout() int {
	if s.Lock.Timeout == nil {
		return defaultLockTimeout
	}
	return *s.Lock.Timeout
}

// LockOptions returns lock options for mode with the configured scope and
// timeout.
func (s *Settings) LockOptions(mode persist.LockMode) persist.LockOptions {
	scope, _ := s.LockScope()
	return persist.LockOptions{Mode: mode, Scope: scope, Timeout: s.LockTimeout()}
}

// KeysFactory returns the configured cache keys factory.
func (s *Settings) KeysFactory() (cache.KeysFactory, error) {
	return cache.KeysFactoryFor(s.Cache.KeysFactory)
}

// Metamodel loads the configured mapping documents. Entities and
// collections without a batch size get the default batch fetch size.
func (s *Settings) Metamodel() (*metamodel.Metamodel, error) {
	if len(s.Mappings) == 0 {
		return nil, persist.NewUnrecognizedSettingError("", KeyMappings)
	}
	return metamodel.LoadMappingFiles(s.Mappings, metamodel.WithDefaultBatchSize(s.DefaultBatchFetchSize))
}

func first(props map[string]any, keys ...string) (any, string, bool) {
	for _, k := range keys {
		if v, ok := props[k]; ok {
			return v, k, true
		}
	}
	return nil, "", false
}

func toInt(v any) (int, error) {
	switch v := v.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		if v != float64(int(v)) {
			return 0, fmt.Errorf("not an integer: %v", v)
		}
		return int(v), nil
	case string:
		return strconv.Atoi(strings.TrimSpace(v))
	}
	return 0, fmt.Errorf("not an integer: %T", v)
}

func toBool(v any) (bool, error) {
	switch v := v.(type) {
	case bool:
		return v, nil
	case string:
		return strconv.ParseBool(strings.TrimSpace(v))
	}
	return false, fmt.Errorf("not a boolean: %T", v)
}
