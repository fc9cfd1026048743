// Package locking decides which tables of a select take part in a
// pessimistic lock and renders the dialect's lock clause for them.
package locking

import (
	"strings"

	"github.com/syssam/persist"
	"github.com/syssam/persist/dialect"
	"github.com/syssam/persist/metamodel"
	"github.com/syssam/persist/sqlast"
)

// Strategy is built for one statement translation and discarded after
// rendering.
type Strategy interface {
	sqlast.LockingClause
}

// Option configures a strategy.
type Option func(*base)

// WithResolver sets the resolver used to find the entity of association
// model parts when key columns are listed.
func WithResolver(r metamodel.Resolver) Option {
	return func(b *base) { b.resolver = r }
}

// For returns the strategy of d for opts. Non pessimistic modes and
// dialects without row locks get NonLocking.
func For(d dialect.Dialect, opts persist.LockOptions, options ...Option) Strategy {
	if !opts.Mode.IsPessimistic() {
		return NonLocking{}
	}
	b := base{mode: opts.Mode, scope: opts.Scope, timeout: opts.EffectiveTimeout()}
	for _, opt := range options {
		opt(&b)
	}
	switch d.LockingClauseStyle() {
	case dialect.ClauseTableHint:
		return &TransactSQL{base: b}
	case dialect.ClauseTrailing:
		s := &Standard{base: b, dialect: d, rowLock: d.WriteRowLockStrategy()}
		if opts.Mode.IsShared() {
			s.rowLock = d.ReadRowLockStrategy()
		}
		return s
	}
	return NonLocking{}
}

// NonLocking tracks nothing and renders nothing.
type NonLocking struct{}

func (NonLocking) RegisterRoot(*sqlast.TableGroup) bool     { return false }
func (NonLocking) RegisterJoin(*sqlast.TableGroupJoin) bool { return false }
func (NonLocking) ContainsOuterJoins() bool                 { return false }
func (NonLocking) ShouldLock(*sqlast.TableGroup) bool       { return false }
func (NonLocking) Render() (string, error)                  { return "", nil }

// base tracks the groups to lock under a lock scope.
type base struct {
	mode     persist.LockMode
	scope    persist.LockScope
	timeout  int
	resolver metamodel.Resolver

	roots []*sqlast.TableGroup
	joins []*sqlast.TableGroupJoin
}

func (b *base) trackRoot(g *sqlast.TableGroup) bool {
	b.roots = append(b.roots, g)
	return true
}

// RegisterJoin tracks fetch joins under ScopeIncludeFetches, and joins of
// owned basic element collections under ScopeIncludeCollections.
func (b *base) RegisterJoin(j *sqlast.TableGroupJoin) bool {
	switch b.scope {
	case persist.ScopeIncludeCollections:
		c, ok := j.Joined.ModelPart.(metamodel.CollectionPersister)
		if !ok || c.IsInverse() || c.ElementKind() != metamodel.ElementBasic {
			return false
		}
	case persist.ScopeIncludeFetches:
		if !j.Fetched {
			return false
		}
	default:
		return false
	}
	b.joins = append(b.joins, j)
	return true
}

// ShouldLock reports whether g was tracked as a root or joined group.
func (b *base) ShouldLock(g *sqlast.TableGroup) bool {
	for _, r := range b.roots {
		if r == g {
			return true
		}
	}
	for _, j := range b.joins {
		if j.Joined == g {
			return true
		}
	}
	return false
}

// groups returns the tracked groups, roots first.
func (b *base) groups() []*sqlast.TableGroup {
	gs := make([]*sqlast.TableGroup, 0, len(b.roots)+len(b.joins))
	gs = append(gs, b.roots...)
	for _, j := range b.joins {
		gs = append(gs, j.Joined)
	}
	return gs
}

// Standard renders a trailing "for update" or "for share" clause.
type Standard struct {
	base
	dialect    dialect.Dialect
	rowLock    dialect.RowLockStrategy
	outerJoins bool
}

// RegisterRoot records the outer joins of secondary tables and tracks the
// root when the clause lists items.
func (s *Standard) RegisterRoot(g *sqlast.TableGroup) bool {
	if !s.dialect.SupportsOuterJoinForUpdate() && len(g.ReferenceJoins) > 0 {
		s.outerJoins = true
	}
	if s.rowLock == dialect.RowLockNone {
		return false
	}
	return s.trackRoot(g)
}

// RegisterJoin records outer join exposure and tracks the join per scope.
func (s *Standard) RegisterJoin(j *sqlast.TableGroupJoin) bool {
	if !s.dialect.SupportsOuterJoinForUpdate() && !s.outerJoins {
		// Secondary tables of an inner joined group may still be rendered
		// outer, so any of them counts.
		s.outerJoins = j.Type != sqlast.JoinInner || len(j.Joined.ReferenceJoins) > 0
	}
	return s.base.RegisterJoin(j)
}

// ContainsOuterJoins reports whether a registered table may be null
// extended on a dialect that cannot lock through outer joins.
func (s *Standard) ContainsOuterJoins() bool { return s.outerJoins }

// Render returns the lock clause.
func (s *Standard) Render() (string, error) {
	shared := s.mode.IsShared()
	if s.rowLock == dialect.RowLockNone {
		if shared {
			return s.dialect.ReadLockString(s.timeout), nil
		}
		return s.dialect.WriteLockString(s.timeout), nil
	}
	items, err := s.lockItems()
	if err != nil {
		return "", err
	}
	if shared {
		return s.dialect.ReadLockStringFor(items, s.timeout), nil
	}
	return s.dialect.WriteLockStringFor(items, s.timeout), nil
}

func (s *Standard) lockItems() (string, error) {
	var (
		items []string
		seen  = make(map[string]bool)
	)
	add := func(item string) {
		if !seen[item] {
			seen[item] = true
			items = append(items, item)
		}
	}
	for _, g := range s.groups() {
		if s.rowLock == dialect.RowLockTable {
			add(g.Primary.Alias)
			for _, j := range g.ReferenceJoins {
				add(j.Reference.Alias)
			}
			continue
		}
		cols, err := s.KeyColumns(g.ModelPart)
		if err != nil {
			return "", err
		}
		for _, c := range cols {
			add(g.Primary.Alias + "." + c)
		}
	}
	return strings.Join(items, ", "), nil
}

// KeyColumns returns the columns identifying the rows of a model part:
// the identifier of an entity, the foreign key of a collection, and the
// identifier of the target of an association.
func (b *base) KeyColumns(part sqlast.ModelPart) ([]string, error) {
	switch p := part.(type) {
	case metamodel.EntityPersister:
		return p.IdentifierColumns(), nil
	case metamodel.CollectionPersister:
		return p.KeyColumns(), nil
	case *metamodel.Attribute:
		switch {
		case p.IsToOne() && b.resolver != nil:
			target, err := b.resolver.Entity(p.Target)
			if err != nil {
				return nil, err
			}
			return b.KeyColumns(target)
		case p.Kind == metamodel.KindCollection && b.resolver != nil:
			c, err := b.resolver.Collection(p.Role)
			if err != nil {
				return nil, err
			}
			return b.KeyColumns(c)
		}
	}
	return nil, persist.NewIllegalArgumentError("cannot determine key columns of model part %T", part)
}

// TransactSQL locks through table hints the renderer asks for with
// ShouldLock. It renders no clause and ignores outer joins.
type TransactSQL struct {
	base
}

// RegisterRoot tracks the root.
func (t *TransactSQL) RegisterRoot(g *sqlast.TableGroup) bool { return t.trackRoot(g) }

// ContainsOuterJoins always returns false.
func (*TransactSQL) ContainsOuterJoins() bool { return false }

// Render returns "".
func (*TransactSQL) Render() (string, error) { return "", nil }

var (
	_ Strategy = NonLocking{}
	_ Strategy = (*Standard)(nil)
	_ Strategy = (*TransactSQL)(nil)
)
