package sqlast

import (
	"strings"

	"github.com/syssam/persist"
	"github.com/syssam/persist/dialect"
)

// LockingClause decides which tables of a statement are locked and
// renders the trailing lock clause. Package locking implements it.
type LockingClause interface {
	// RegisterRoot is called for each root group before it is rendered.
	RegisterRoot(*TableGroup) bool
	// RegisterJoin is called for each group join before it is rendered.
	RegisterJoin(*TableGroupJoin) bool
	// ContainsOuterJoins reports whether a registered join may null
	// extend rows the dialect would need to lock.
	ContainsOuterJoins() bool
	// ShouldLock reports whether the tables of g are locked.
	ShouldLock(g *TableGroup) bool
	// Render returns the trailing clause, or "".
	Render() (string, error)
}

// Rendered is the text of a statement and its parameters in marker order.
type Rendered struct {
	SQL    string
	Params []any
	// FollowOnLocking is set when a lock was requested but the clause was
	// left out, so the rows must be locked by separate statements.
	FollowOnLocking bool
}

// Renderer renders statements for one dialect.
type Renderer struct {
	Dialect dialect.Dialect
	// Locking may be nil for statements without pessimistic locks.
	Locking LockingClause
}

// Render renders stmt.
func (r Renderer) Render(stmt *SelectStatement) (*Rendered, error) {
	if len(stmt.Roots) == 0 {
		return nil, persist.NewIllegalStateError("select statement without root table group")
	}
	w := &writer{Renderer: r, stmt: stmt}
	if err := w.statement(); err != nil {
		return nil, err
	}
	return &Rendered{SQL: w.b.String(), Params: w.params, FollowOnLocking: w.followOn}, nil
}

type writer struct {
	Renderer
	stmt     *SelectStatement
	b        strings.Builder
	params   []any
	followOn bool
}

func (w *writer) statement() error {
	w.b.WriteString("select ")
	for i, s := range w.stmt.Selections {
		if i > 0 {
			w.b.WriteString(", ")
		}
		w.expression(s.Expression)
		if s.Alias != "" {
			w.b.WriteString(" as ")
			w.b.WriteString(s.Alias)
		}
	}
	w.b.WriteString(" from ")
	for i, root := range w.stmt.Roots {
		if i > 0 {
			w.b.WriteString(", ")
		}
		if w.Locking != nil {
			w.Locking.RegisterRoot(root)
		}
		w.table(root, root.Primary)
		w.referenceJoins(root, JoinInner, -1)
		if err := w.groupJoins(root); err != nil {
			return err
		}
	}
	if w.stmt.Where != nil {
		w.b.WriteString(" where ")
		w.predicate(w.stmt.Where, false)
	}
	if len(w.stmt.OrderBy) > 0 {
		w.b.WriteString(" order by ")
		for i, e := range w.stmt.OrderBy {
			if i > 0 {
				w.b.WriteString(", ")
			}
			w.expression(e)
		}
	}
	return w.lockClause()
}

func (w *writer) lockClause() error {
	if w.Locking == nil || !w.stmt.Lock.Mode.IsPessimistic() {
		return nil
	}
	if w.Locking.ContainsOuterJoins() && !w.Dialect.SupportsOuterJoinForUpdate() {
		w.followOn = true
		return nil
	}
	clause, err := w.Locking.Render()
	if err != nil {
		return err
	}
	w.b.WriteString(clause)
	return nil
}

// table writes "table alias" and the lock hint of the group, if any.
func (w *writer) table(g *TableGroup, ref *NamedTableReference) {
	w.b.WriteString(ref.Table)
	w.b.WriteByte(' ')
	w.b.WriteString(ref.Alias)
	if w.Locking != nil && w.Dialect.LockingClauseStyle() == dialect.ClauseTableHint && w.Locking.ShouldLock(g) {
		w.b.WriteString(w.Dialect.TableHint(w.stmt.Lock.Mode, w.stmt.Lock.EffectiveTimeout()))
	}
}

// referenceJoins writes the secondary table joins of g, skipping the one
// at index skip. Under an outer group join every secondary join is outer.
func (w *writer) referenceJoins(g *TableGroup, outer JoinType, skip int) {
	for i, j := range g.ReferenceJoins {
		if i == skip {
			continue
		}
		t := j.Type
		if outer == JoinLeft {
			t = JoinLeft
		}
		w.b.WriteByte(' ')
		w.b.WriteString(t.SQL())
		w.b.WriteByte(' ')
		w.table(g, j.Reference)
		w.b.WriteString(" on ")
		w.predicate(j.Predicate, false)
	}
}

func (w *writer) groupJoins(g *TableGroup) error {
	for _, j := range g.GroupJoins {
		if err := w.groupJoin(j); err != nil {
			return err
		}
	}
	return nil
}

func (w *writer) groupJoin(j *TableGroupJoin) error {
	if j.Predicate == nil {
		return persist.NewIllegalStateError("join of %s without predicate", j.Joined.Primary.Table)
	}
	if w.Locking != nil {
		w.Locking.RegisterJoin(j)
	}
	g := j.Joined
	w.b.WriteByte(' ')
	w.b.WriteString(j.Type.SQL())
	w.b.WriteByte(' ')
	switch idx := FindReferenceJoinForPredicateSwap(g, j.Predicate); idx {
	case NoTableGroupRequired:
		w.table(g, g.Primary)
		w.b.WriteString(" on ")
		w.predicate(j.Predicate, false)
		w.referenceJoins(g, j.Type, -1)
	case RealTableGroupRequired:
		w.b.WriteByte('(')
		w.table(g, g.Primary)
		w.referenceJoins(g, JoinInner, -1)
		w.b.WriteString(") on ")
		w.predicate(j.Predicate, false)
	default:
		swapped := g.ReferenceJoins[idx]
		w.table(g, swapped.Reference)
		w.b.WriteString(" on ")
		w.predicate(j.Predicate, false)
		w.b.WriteByte(' ')
		w.b.WriteString(j.Type.SQL())
		w.b.WriteByte(' ')
		w.table(g, g.Primary)
		w.b.WriteString(" on ")
		w.predicate(swapped.Predicate, false)
		w.referenceJoins(g, j.Type, idx)
	}
	return w.groupJoins(g)
}

func (w *writer) expression(e Expression) {
	switch e := e.(type) {
	case *ColumnReference:
		if e.Qualifier != "" {
			w.b.WriteString(e.Qualifier)
			w.b.WriteByte('.')
		}
		w.b.WriteString(e.Column)
	case *Parameter:
		w.params = append(w.params, e.Value)
		w.b.WriteString(w.Dialect.ParameterMarker(len(w.params)))
	case *Literal:
		w.b.WriteString(e.Text)
	}
}

func (w *writer) predicate(p Predicate, nested bool) {
	switch p := p.(type) {
	case *ComparisonPredicate:
		w.expression(p.Left)
		w.b.WriteString(p.Operator)
		w.expression(p.Right)
	case *Junction:
		sep := " and "
		if p.Disjunction {
			sep = " or "
		}
		if nested {
			w.b.WriteByte('(')
		}
		for i, c := range p.Predicates {
			if i > 0 {
				w.b.WriteString(sep)
			}
			w.predicate(c, true)
		}
		if nested {
			w.b.WriteByte(')')
		}
	case *InListPredicate:
		w.inList(p)
	case *NullnessPredicate:
		w.expression(p.Expression)
		if p.Negated {
			w.b.WriteString(" is not null")
		} else {
			w.b.WriteString(" is null")
		}
	}
}

func (w *writer) inList(p *InListPredicate) {
	if len(p.Values) == 0 {
		w.b.WriteString("1=0")
		return
	}
	tuple := len(p.Tuple) > 1
	w.tuple(p.Tuple, tuple)
	w.b.WriteString(" in (")
	for i, vs := range p.Values {
		if i > 0 {
			w.b.WriteByte(',')
		}
		w.tuple(vs, tuple)
	}
	w.b.WriteByte(')')
}

func (w *writer) tuple(es []Expression, parens bool) {
	if parens {
		w.b.WriteByte('(')
	}
	for i, e := range es {
		if i > 0 {
			w.b.WriteByte(',')
		}
		w.expression(e)
	}
	if parens {
		w.b.WriteByte(')')
	}
}
