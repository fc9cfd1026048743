package loader

import (
	"github.com/syssam/persist"
	"github.com/syssam/persist/dialect"
	"github.com/syssam/persist/engine"
	"github.com/syssam/persist/loadplan"
	"github.com/syssam/persist/locking"
	"github.com/syssam/persist/metamodel"
	"github.com/syssam/persist/sqlast"
)

// Restriction limits the rows of the root query space of a lowered
// statement.
type Restriction interface {
	predicate(l *lowering, root loadplan.QuerySpace) (sqlast.Predicate, error)
}

// IDRestriction restricts an entity root to the given identifiers.
// Identifiers of entities with several identifier columns are []any.
type IDRestriction struct {
	IDs []any
}

func (r IDRestriction) predicate(l *lowering, root loadplan.QuerySpace) (sqlast.Predicate, error) {
	q, ok := root.(*loadplan.EntityQuerySpace)
	if !ok {
		return nil, persist.NewIllegalArgumentError("identifier restriction on %s query space %s", root.Kind(), root.UID())
	}
	alias := l.aliases.ResolveSQLTableAlias(q.UID())
	return MatchValues(alias, q.Persister().IdentifierColumns(), r.IDs), nil
}

// KeyRestriction restricts a collection root to the given owner keys.
type KeyRestriction struct {
	Keys []any
}

func (r KeyRestriction) predicate(l *lowering, root loadplan.QuerySpace) (sqlast.Predicate, error) {
	q, ok := root.(*loadplan.CollectionQuerySpace)
	if !ok {
		return nil, persist.NewIllegalArgumentError("key restriction on %s query space %s", root.Kind(), root.UID())
	}
	alias := l.aliases.ResolveSQLTableAlias(q.UID())
	return MatchValues(alias, q.Persister().KeyColumns(), r.Keys), nil
}

// AttributeRestriction restricts an entity root to rows whose basic or
// to-one attribute equals Value. A nil Value matches null columns and an
// *engine.Entity value matches its identifier.
type AttributeRestriction struct {
	Attribute string
	Value     any
}

func (r AttributeRestriction) predicate(l *lowering, root loadplan.QuerySpace) (sqlast.Predicate, error) {
	q, ok := root.(*loadplan.EntityQuerySpace)
	if !ok {
		return nil, persist.NewIllegalArgumentError("attribute restriction on %s query space %s", root.Kind(), root.UID())
	}
	p := q.Persister()
	a, ok := p.Attribute(r.Attribute)
	if !ok {
		if id := p.IdentifierAttribute(); id != nil && id.Name == r.Attribute {
			a = id
		} else {
			return nil, persist.NewMappingError(p.EntityName(), r.Attribute, "unknown attribute")
		}
	}
	switch a.Kind {
	case metamodel.KindBasic, metamodel.KindManyToOne, metamodel.KindOneToOne:
	default:
		return nil, persist.NewIllegalArgumentError("cannot restrict on %s attribute %s.%s", a.Kind, p.EntityName(), a.Name)
	}
	qualifier := l.aliases.ResolveEntityReferenceAliases(q.UID()).TableAliasFor(a.TableName())
	v := r.Value
	if e, ok := v.(*engine.Entity); ok {
		if v = e.ID(); v == nil {
			return nil, persist.NewTransientObjectError(p.EntityName(), a.Name, e.Name())
		}
	}
	if v == nil {
		preds := make([]sqlast.Predicate, len(a.Columns))
		for i, c := range a.Columns {
			preds[i] = &sqlast.NullnessPredicate{Expression: sqlast.Column(qualifier, c)}
		}
		return sqlast.And(preds...), nil
	}
	return MatchValues(qualifier, a.Columns, []any{v}), nil
}

// AllRestriction matches the rows matched by every restriction.
type AllRestriction []Restriction

func (r AllRestriction) predicate(l *lowering, root loadplan.QuerySpace) (sqlast.Predicate, error) {
	preds := make([]sqlast.Predicate, 0, len(r))
	for _, x := range r {
		p, err := x.predicate(l, root)
		if err != nil {
			return nil, err
		}
		preds = append(preds, p)
	}
	return sqlast.And(preds...), nil
}

// MatchValues returns a predicate matching the columns of qualifier against
// any of the values: an equality for one value, an in-list otherwise.
// Values of several columns are []any.
func MatchValues(qualifier string, columns []string, values []any) sqlast.Predicate {
	split := func(v any) []sqlast.Expression {
		parts, ok := v.([]any)
		if !ok || len(columns) == 1 {
			parts = []any{v}
		}
		out := make([]sqlast.Expression, len(columns))
		for i := range columns {
			var pv any
			if i < len(parts) {
				pv = parts[i]
			}
			out[i] = sqlast.Param(pv)
		}
		return out
	}
	if len(values) == 1 {
		vals := split(values[0])
		preds := make([]sqlast.Predicate, len(columns))
		for i, c := range columns {
			preds[i] = sqlast.Eq(sqlast.Column(qualifier, c), vals[i])
		}
		return sqlast.And(preds...)
	}
	in := &sqlast.InListPredicate{Tuple: make([]sqlast.Expression, len(columns))}
	for i, c := range columns {
		in.Tuple[i] = sqlast.Column(qualifier, c)
	}
	for _, v := range values {
		in.Values = append(in.Values, split(v))
	}
	return in
}

// lowering holds the state of one Lower call.
type lowering struct {
	plan    *loadplan.LoadPlan
	aliases *AliasResolutionContext
}

// Lower turns a load plan into a select statement. Every entity and
// collection query space becomes a table group joined to the group of its
// left-hand side; composite spaces contribute to their owner's group and
// the element entity of a one-to-many collection shares the collection's
// group. Selections follow the query space order of the plan.
func Lower(plan *loadplan.LoadPlan, aliases *AliasResolutionContext, r Restriction, lock persist.LockOptions) (*sqlast.SelectStatement, error) {
	l := &lowering{plan: plan, aliases: aliases}
	stmt := &sqlast.SelectStatement{Lock: lock}
	roots := plan.QuerySpaces().RootQuerySpaces()
	if len(roots) == 0 {
		return nil, persist.NewIllegalStateError("load plan has no root query space")
	}
	for _, q := range roots {
		g, err := l.rootGroup(q)
		if err != nil {
			return nil, err
		}
		stmt.Roots = append(stmt.Roots, g)
		if err := l.joins(q, g); err != nil {
			return nil, err
		}
	}
	if err := l.selections(stmt); err != nil {
		return nil, err
	}
	if r != nil {
		where, err := r.predicate(l, roots[0])
		if err != nil {
			return nil, err
		}
		stmt.Where = where
	}
	if q, ok := roots[0].(*loadplan.CollectionQuerySpace); ok && q.Persister().Kind() == metamodel.CollectionList {
		alias := aliases.ResolveSQLTableAlias(q.UID())
		for _, c := range q.Persister().KeyColumns() {
			stmt.OrderBy = append(stmt.OrderBy, sqlast.Column(alias, c))
		}
		for _, c := range q.Persister().IndexColumns() {
			stmt.OrderBy = append(stmt.OrderBy, sqlast.Column(alias, c))
		}
	}
	return stmt, nil
}

func (l *lowering) rootGroup(q loadplan.QuerySpace) (*sqlast.TableGroup, error) {
	switch q := q.(type) {
	case *loadplan.EntityQuerySpace:
		return l.entityGroup(q, true), nil
	case *loadplan.CollectionQuerySpace:
		return l.collectionGroup(q, true), nil
	default:
		return nil, persist.NewIllegalStateError("%s query space %s cannot be a root", q.Kind(), q.UID())
	}
}

func (l *lowering) entityGroup(q *loadplan.EntityQuerySpace, inner bool) *sqlast.TableGroup {
	p := q.Persister()
	g := &sqlast.TableGroup{
		UID:              q.UID(),
		Primary:          &sqlast.NamedTableReference{Table: p.TableName(), Alias: l.aliases.ResolveSQLTableAlias(q.UID())},
		ModelPart:        p,
		CanUseInnerJoins: inner,
	}
	l.addSecondaryTables(g, q)
	return g
}

// addSecondaryTables joins the secondary tables of the entity of q into g.
// A row may lack its secondary rows, so the joins are outer joins.
func (l *lowering) addSecondaryTables(g *sqlast.TableGroup, q *loadplan.EntityQuerySpace) {
	p := q.Persister()
	ea := l.aliases.ResolveEntityReferenceAliases(q.UID())
	for _, st := range p.SecondaryTables() {
		alias := ea.TableAliasFor(st.Table)
		g.ReferenceJoins = append(g.ReferenceJoins, &sqlast.TableReferenceJoin{
			Type:      sqlast.JoinLeft,
			Reference: &sqlast.NamedTableReference{Table: st.Table, Alias: alias},
			Predicate: sqlast.ColumnsEqual(g.Primary.Alias, p.IdentifierColumns(), alias, st.KeyColumns),
		})
	}
}

func (l *lowering) collectionGroup(q *loadplan.CollectionQuerySpace, inner bool) *sqlast.TableGroup {
	p := q.Persister()
	g := &sqlast.TableGroup{
		UID:              q.UID(),
		Primary:          &sqlast.NamedTableReference{Table: p.TableName(), Alias: l.aliases.ResolveSQLTableAlias(q.UID())},
		ModelPart:        p,
		CanUseInnerJoins: inner,
	}
	return g
}

// joins lowers the joins leaving q, whose columns live in group g.
func (l *lowering) joins(q loadplan.QuerySpace, g *sqlast.TableGroup) error {
	for _, j := range q.Joins() {
		m, ok := j.(*loadplan.JoinDefinedByMetadata)
		if !ok {
			return persist.NewIllegalStateError("unsupported join %T from %s", j, q.UID())
		}
		typ := sqlast.JoinLeft
		if m.IsRightHandSideRequired() && g.CanUseInnerJoins {
			typ = sqlast.JoinInner
		}
		switch rhs := m.RightHandSide().(type) {
		case *loadplan.CompositeQuerySpace:
			if err := l.joins(rhs, g); err != nil {
				return err
			}
		case *loadplan.EntityQuerySpace:
			if err := l.entityJoin(m, rhs, g, typ); err != nil {
				return err
			}
		case *loadplan.CollectionQuerySpace:
			if err := l.collectionJoin(m, rhs, g, typ); err != nil {
				return err
			}
		default:
			return persist.NewIllegalStateError("unknown query space kind %T", rhs)
		}
	}
	return nil
}

func (l *lowering) entityJoin(m *loadplan.JoinDefinedByMetadata, rhs *loadplan.EntityQuerySpace, g *sqlast.TableGroup, typ sqlast.JoinType) error {
	target := rhs.Persister()
	if m.JoinedPropertyName() == loadplan.ElementsProperty {
		cq, ok := m.LeftHandSide().(*loadplan.CollectionQuerySpace)
		if !ok {
			return persist.NewIllegalStateError("element join from non-collection space %s", m.LeftHandSide().UID())
		}
		cp := cq.Persister()
		if cp.IsOneToMany() {
			l.addSecondaryTables(g, rhs)
			return l.joins(rhs, g)
		}
		eg := l.entityGroup(rhs, typ == sqlast.JoinInner)
		g.AddJoin(&sqlast.TableGroupJoin{
			Type:      typ,
			Joined:    eg,
			Predicate: sqlast.ColumnsEqual(g.Primary.Alias, cp.ElementColumns(), eg.Primary.Alias, target.IdentifierColumns()),
			Fetched:   true,
		})
		return l.joins(rhs, eg)
	}
	a := m.Attribute()
	if a == nil {
		return persist.NewIllegalStateError("join %s from %s carries no attribute", m.JoinedPropertyName(), m.LeftHandSide().UID())
	}
	if len(a.Columns) != len(target.IdentifierColumns()) {
		return persist.NewMappingError(a.Owner(), a.Name, "foreign key has %d columns, the identifier of %s has %d",
			len(a.Columns), target.EntityName(), len(target.IdentifierColumns()))
	}
	qualifier := l.qualifier(m.LeftHandSide().UID(), a.TableName())
	eg := l.entityGroup(rhs, typ == sqlast.JoinInner)
	g.AddJoin(&sqlast.TableGroupJoin{
		Type:      typ,
		Joined:    eg,
		Predicate: sqlast.ColumnsEqual(qualifier, a.Columns, eg.Primary.Alias, target.IdentifierColumns()),
		Fetched:   true,
	})
	return l.joins(rhs, eg)
}

func (l *lowering) collectionJoin(m *loadplan.JoinDefinedByMetadata, rhs *loadplan.CollectionQuerySpace, g *sqlast.TableGroup, typ sqlast.JoinType) error {
	owner, ok := m.LeftHandSide().(*loadplan.EntityQuerySpace)
	if !ok {
		return persist.NewIllegalStateError("collection %s joined from non-entity space %s", rhs.Persister().Role(), m.LeftHandSide().UID())
	}
	cp := rhs.Persister()
	ownerAlias := l.aliases.ResolveSQLTableAlias(owner.UID())
	cg := l.collectionGroup(rhs, typ == sqlast.JoinInner)
	g.AddJoin(&sqlast.TableGroupJoin{
		Type:      typ,
		Joined:    cg,
		Predicate: sqlast.ColumnsEqual(ownerAlias, owner.Persister().IdentifierColumns(), cg.Primary.Alias, cp.KeyColumns()),
		Fetched:   true,
	})
	return l.joins(rhs, cg)
}

// qualifier returns the alias of table within the space uid. Entity spaces
// and composites of entities resolve secondary tables; other spaces use
// their own table alias.
func (l *lowering) qualifier(uid, table string) string {
	if ea := l.aliases.ResolveEntityReferenceAliases(uid); ea != nil {
		return ea.TableAliasFor(table)
	}
	return l.aliases.ResolveSQLTableAlias(uid)
}

func (l *lowering) selections(stmt *sqlast.SelectStatement) error {
	for _, q := range l.plan.QuerySpaces().All() {
		switch q := q.(type) {
		case *loadplan.EntityQuerySpace:
			ea := l.aliases.ResolveEntityReferenceAliases(q.UID())
			if ea == nil {
				return persist.NewIllegalStateError("no aliases resolved for query space %s", q.UID())
			}
			for _, c := range ea.Columns().Entries() {
				stmt.Selections = append(stmt.Selections, sqlast.Selection{
					Expression: sqlast.Column(ea.TableAliasFor(c.Table), c.Column),
					Alias:      c.Alias,
				})
			}
		case *loadplan.CollectionQuerySpace:
			ca := l.aliases.ResolveCollectionReferenceAliases(q.UID())
			if ca == nil {
				return persist.NewIllegalStateError("no aliases resolved for query space %s", q.UID())
			}
			for _, c := range ca.Columns().Entries() {
				stmt.Selections = append(stmt.Selections, sqlast.Selection{
					Expression: sqlast.Column(ca.TableAlias, c.Column),
					Alias:      c.Alias,
				})
			}
		}
	}
	return nil
}

// Translate renders stmt for the dialect with the locking clause strategy
// of its lock options. The result asks for follow-on locking when the
// strategy found outer joins the dialect cannot lock through.
func Translate(stmt *sqlast.SelectStatement, d dialect.Dialect, opts ...locking.Option) (*sqlast.Rendered, error) {
	r := sqlast.Renderer{Dialect: d, Locking: locking.For(d, stmt.Lock, opts...)}
	return r.Render(stmt)
}

// LowerLock returns the statement locking the root table rows of the given
// entities, selecting their identifier and version columns. It serves
// follow-on locking, so only the root table is locked.
func LowerLock(p metamodel.EntityPersister, ids []any, lock persist.LockOptions) *sqlast.SelectStatement {
	alias := aliasRoot(p.EntityName()) + "0_"
	lock.Scope = persist.ScopeRootOnly
	stmt := &sqlast.SelectStatement{
		Roots: []*sqlast.TableGroup{{
			UID:              "lock",
			Primary:          &sqlast.NamedTableReference{Table: p.TableName(), Alias: alias},
			ModelPart:        p,
			CanUseInnerJoins: true,
		}},
		Where: MatchValues(alias, p.IdentifierColumns(), ids),
		Lock:  lock,
	}
	for _, c := range p.IdentifierColumns() {
		stmt.Selections = append(stmt.Selections, sqlast.Selection{Expression: sqlast.Column(alias, c)})
	}
	if v := p.VersionAttribute(); v != nil {
		for _, c := range v.Columns {
			stmt.Selections = append(stmt.Selections, sqlast.Selection{Expression: sqlast.Column(alias, c)})
		}
	}
	return stmt
}
