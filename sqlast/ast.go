// Package sqlast is the SQL tree a load plan is lowered into before it is
// rendered as text.
//
// A SelectStatement selects from root TableGroups. A TableGroup is the
// primary table of an entity or collection plus the secondary tables
// joined to it (TableReferenceJoins), and joins other groups through
// TableGroupJoins. Expressions and predicates are small closed sets of
// node types dispatched with type switches.
package sqlast

import (
	"github.com/syssam/persist"
)

// JoinType is the SQL join kind.
type JoinType int

// Join types.
const (
	JoinInner JoinType = iota
	JoinLeft
)

// SQL returns the join keyword.
func (t JoinType) SQL() string {
	if t == JoinLeft {
		return "left outer join"
	}
	return "inner join"
}

// String returns the upper-case name of the type.
func (t JoinType) String() string {
	if t == JoinLeft {
		return "LEFT"
	}
	return "INNER"
}

// NamedTableReference is a table with its alias.
type NamedTableReference struct {
	Table string
	Alias string
}

// TableReferenceJoin joins a secondary table into its table group.
type TableReferenceJoin struct {
	Type      JoinType
	Reference *NamedTableReference
	Predicate Predicate
}

// ModelPart is the mapping a table group was created for. It is a
// metamodel.EntityPersister, a metamodel.CollectionPersister or an
// association *metamodel.Attribute.
type ModelPart any

// TableGroup is a primary table with its secondary tables, and the
// groups joined from it.
type TableGroup struct {
	// UID is the uid of the query space the group was created for.
	UID            string
	Primary        *NamedTableReference
	ReferenceJoins []*TableReferenceJoin
	GroupJoins     []*TableGroupJoin
	ModelPart      ModelPart
	// CanUseInnerJoins reports whether the group's own rows are never
	// null extended, so its reference joins may be rendered inner.
	CanUseInnerJoins bool
}

// AddJoin appends a joined group.
func (g *TableGroup) AddJoin(j *TableGroupJoin) { g.GroupJoins = append(g.GroupJoins, j) }

// HasQualifier reports whether alias is the primary or a secondary table alias of the group.
func (g *TableGroup) HasQualifier(alias string) bool {
	if g.Primary.Alias == alias {
		return true
	}
	for _, j := range g.ReferenceJoins {
		if j.Reference.Alias == alias {
			return true
		}
	}
	return false
}

// TableGroupJoin joins a table group from another.
type TableGroupJoin struct {
	Type      JoinType
	Joined    *TableGroup
	Predicate Predicate
	// Fetched reports whether the join populates an association, as
	// opposed to only restricting rows.
	Fetched bool
}

// Expression is a value in SQL: *ColumnReference, *Parameter or *Literal.
type Expression interface {
	expression()
}

// ColumnReference is a qualified column.
type ColumnReference struct {
	Qualifier string
	Column    string
}

// Parameter is a bound value.
type Parameter struct {
	Value any
}

// Literal is SQL text rendered verbatim.
type Literal struct {
	Text string
}

func (*ColumnReference) expression() {}
func (*Parameter) expression()       {}
func (*Literal) expression()         {}

// Column returns a column reference.
func Column(qualifier, column string) *ColumnReference {
	return &ColumnReference{Qualifier: qualifier, Column: column}
}

// Param returns a parameter.
func Param(v any) *Parameter { return &Parameter{Value: v} }

// Predicate is a boolean SQL condition: *ComparisonPredicate, *Junction,
// *InListPredicate or *NullnessPredicate.
type Predicate interface {
	predicate()
}

// ComparisonPredicate compares two expressions.
type ComparisonPredicate struct {
	Left     Expression
	Operator string
	Right    Expression
}

// Junction combines predicates with "and", or with "or" when Disjunction is set.
type Junction struct {
	Disjunction bool
	Predicates  []Predicate
}

// InListPredicate tests a tuple of expressions against a list of tuples.
// A single element tuple renders as "x in (?,?)".
type InListPredicate struct {
	Tuple  []Expression
	Values [][]Expression
}

// NullnessPredicate tests for null.
type NullnessPredicate struct {
	Expression Expression
	Negated    bool
}

func (*ComparisonPredicate) predicate() {}
func (*Junction) predicate()            {}
func (*InListPredicate) predicate()     {}
func (*NullnessPredicate) predicate()   {}

// Eq returns "left = right".
func Eq(left, right Expression) *ComparisonPredicate {
	return &ComparisonPredicate{Left: left, Operator: "=", Right: right}
}

// And conjoins the predicates, dropping nils. It returns nil for none and
// the predicate itself for one.
func And(preds ...Predicate) Predicate {
	var out []Predicate
	for _, p := range preds {
		if p != nil {
			out = append(out, p)
		}
	}
	switch len(out) {
	case 0:
		return nil
	case 1:
		return out[0]
	}
	return &Junction{Predicates: out}
}

// ColumnsEqual returns the conjunction of lq.lcols[i] = rq.rcols[i].
func ColumnsEqual(lq string, lcols []string, rq string, rcols []string) Predicate {
	preds := make([]Predicate, len(lcols))
	for i := range lcols {
		preds[i] = Eq(Column(lq, lcols[i]), Column(rq, rcols[i]))
	}
	return And(preds...)
}

// Selection is a selected expression and its result set alias.
type Selection struct {
	Expression Expression
	Alias      string
}

// SelectStatement is a query over root table groups.
type SelectStatement struct {
	Selections []Selection
	Roots      []*TableGroup
	Where      Predicate
	OrderBy    []Expression
	Lock       persist.LockOptions
}
