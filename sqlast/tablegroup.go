package sqlast

import "math"

// Results of FindReferenceJoinForPredicateSwap that are not a join index.
const (
	// NoTableGroupRequired means the join predicate can be attached to the
	// primary table and the secondary tables joined after it.
	NoTableGroupRequired = -1
	// RealTableGroupRequired means the group must be rendered as a
	// parenthesized join tree with the predicate outside it.
	RealTableGroupRequired = math.MaxInt
)

// FindReferenceJoinForPredicateSwap decides how a joined table group with
// secondary tables is rendered under the join predicate pred.
//
// A group that may not use inner joins needs every secondary table joined
// by a plain key equality with the primary, or RealTableGroupRequired is
// returned. Then, when pred only refers to the primary table or to no
// table of the group, it returns NoTableGroupRequired. When it refers to
// exactly one secondary table it returns the index of its
// TableReferenceJoin: the secondary table is joined first with pred and
// the primary joined to it. A predicate referring to several tables of the
// group returns RealTableGroupRequired.
func FindReferenceJoinForPredicateSwap(g *TableGroup, pred Predicate) int {
	if len(g.ReferenceJoins) == 0 || pred == nil {
		return NoTableGroupRequired
	}
	if !g.CanUseInnerJoins {
		// The primary row may be absent, so the group can only be
		// flattened when every secondary table is a plain key join.
		for _, j := range g.ReferenceJoins {
			if !isPrimaryKeyJoin(g.Primary.Alias, j) {
				return RealTableGroupRequired
			}
		}
	}
	s := &qualifierScan{group: g, index: NoTableGroupRequired}
	if !s.predicate(pred) {
		return RealTableGroupRequired
	}
	return s.index
}

// qualifierScan accumulates the single table of a group a predicate refers
// to. Its methods return false as soon as a second table is found.
type qualifierScan struct {
	group   *TableGroup
	primary bool
	index   int
}

func (s *qualifierScan) predicate(p Predicate) bool {
	switch p := p.(type) {
	case *ComparisonPredicate:
		return s.expression(p.Left) && s.expression(p.Right)
	case *Junction:
		for _, c := range p.Predicates {
			if !s.predicate(c) {
				return false
			}
		}
	case *InListPredicate:
		for _, e := range p.Tuple {
			if !s.expression(e) {
				return false
			}
		}
		for _, vs := range p.Values {
			for _, e := range vs {
				if !s.expression(e) {
					return false
				}
			}
		}
	case *NullnessPredicate:
		return s.expression(p.Expression)
	}
	return true
}

func (s *qualifierScan) expression(e Expression) bool {
	c, ok := e.(*ColumnReference)
	if !ok {
		return true
	}
	if c.Qualifier == s.group.Primary.Alias {
		s.primary = true
		return s.index == NoTableGroupRequired
	}
	for i, j := range s.group.ReferenceJoins {
		if j.Reference.Alias != c.Qualifier {
			continue
		}
		switch {
		case s.primary:
			return false
		case s.index == NoTableGroupRequired:
			s.index = i
		case s.index != i:
			return false
		}
		return true
	}
	// Qualifiers of other groups do not matter.
	return true
}

// isPrimaryKeyJoin reports whether the join predicate only equates columns
// of the primary table with columns of the joined table.
func isPrimaryKeyJoin(primary string, j *TableReferenceJoin) bool {
	var eq func(Predicate) bool
	eq = func(p Predicate) bool {
		switch p := p.(type) {
		case *ComparisonPredicate:
			l, lok := p.Left.(*ColumnReference)
			r, rok := p.Right.(*ColumnReference)
			if !lok || !rok || p.Operator != "=" {
				return false
			}
			alias := j.Reference.Alias
			return l.Qualifier == primary && r.Qualifier == alias ||
				l.Qualifier == alias && r.Qualifier == primary
		case *Junction:
			if p.Disjunction || len(p.Predicates) == 0 {
				return false
			}
			for _, c := range p.Predicates {
				if !eq(c) {
					return false
				}
			}
			return true
		}
		return false
	}
	return j.Predicate != nil && eq(j.Predicate)
}
