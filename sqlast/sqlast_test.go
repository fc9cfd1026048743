package sqlast

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/persist"
	"github.com/syssam/persist/dialect"
)

// employeeGroup returns employees e1_ with two secondary tables.
func employeeGroup(inner bool) *TableGroup {
	return &TableGroup{
		UID:     "<gen:1>",
		Primary: &NamedTableReference{Table: "employees", Alias: "e1_"},
		ReferenceJoins: []*TableReferenceJoin{
			{
				Type:      JoinLeft,
				Reference: &NamedTableReference{Table: "employee_details", Alias: "e1_1_"},
				Predicate: Eq(Column("e1_", "id"), Column("e1_1_", "employee_id")),
			},
			{
				Type:      JoinLeft,
				Reference: &NamedTableReference{Table: "employee_badges", Alias: "e1_2_"},
				Predicate: Eq(Column("e1_", "id"), Column("e1_2_", "employee_id")),
			},
		},
		CanUseInnerJoins: inner,
	}
}

func TestFindReferenceJoinForPredicateSwap(t *testing.T) {
	filtered := employeeGroup(false)
	filtered.ReferenceJoins[1].Predicate = And(
		Eq(Column("e1_", "id"), Column("e1_2_", "employee_id")),
		Eq(Column("e1_2_", "active"), &Literal{Text: "1"}),
	)
	filteredInner := employeeGroup(true)
	filteredInner.ReferenceJoins = filtered.ReferenceJoins

	tests := []struct {
		name  string
		group *TableGroup
		pred  Predicate
		want  int
	}{
		{
			name:  "no secondary tables",
			group: &TableGroup{Primary: &NamedTableReference{Table: "departments", Alias: "d0_"}},
			pred:  Eq(Column("e1_", "department_id"), Column("d0_", "id")),
			want:  NoTableGroupRequired,
		},
		{
			name:  "nil predicate",
			group: employeeGroup(false),
			want:  NoTableGroupRequired,
		},
		{
			name:  "primary table",
			group: employeeGroup(false),
			pred:  Eq(Column("d0_", "id"), Column("e1_", "department_id")),
			want:  NoTableGroupRequired,
		},
		{
			name:  "other group only",
			group: employeeGroup(false),
			pred:  &NullnessPredicate{Expression: Column("d0_", "name")},
			want:  NoTableGroupRequired,
		},
		{
			name:  "single secondary table",
			group: employeeGroup(false),
			pred:  Eq(Column("d0_", "id"), Column("e1_2_", "department_id")),
			want:  1,
		},
		{
			name:  "secondary table twice",
			group: employeeGroup(false),
			pred: And(
				Eq(Column("d0_", "id"), Column("e1_1_", "department_id")),
				&NullnessPredicate{Expression: Column("e1_1_", "left_at")},
			),
			want: 0,
		},
		{
			name:  "two secondary tables",
			group: employeeGroup(true),
			pred: And(
				Eq(Column("d0_", "id"), Column("e1_1_", "department_id")),
				Eq(Column("d0_", "site"), Column("e1_2_", "site")),
			),
			want: RealTableGroupRequired,
		},
		{
			name:  "primary then secondary",
			group: employeeGroup(true),
			pred: And(
				Eq(Column("d0_", "id"), Column("e1_", "department_id")),
				Eq(Column("d0_", "site"), Column("e1_1_", "site")),
			),
			want: RealTableGroupRequired,
		},
		{
			name:  "secondary then primary",
			group: employeeGroup(true),
			pred: &InListPredicate{
				Tuple:  []Expression{Column("e1_1_", "site"), Column("e1_", "id")},
				Values: [][]Expression{{Param(1), Param(2)}},
			},
			want: RealTableGroupRequired,
		},
		{
			name:  "filtering secondary join on outer group",
			group: filtered,
			pred:  Eq(Column("d0_", "id"), Column("e1_1_", "department_id")),
			want:  RealTableGroupRequired,
		},
		{
			name:  "filtering secondary join on inner group",
			group: filteredInner,
			pred:  Eq(Column("d0_", "id"), Column("e1_1_", "department_id")),
			want:  0,
		},
		{
			name:  "filtering secondary join on outer group, primary table",
			group: filtered,
			pred:  Eq(Column("d0_", "id"), Column("e1_", "department_id")),
			want:  RealTableGroupRequired,
		},
		{
			name:  "filtering secondary join on outer group, other group only",
			group: filtered,
			pred:  &NullnessPredicate{Expression: Column("d0_", "name")},
			want:  RealTableGroupRequired,
		},
		{
			name:  "filtering secondary join on inner group, primary table",
			group: filteredInner,
			pred:  Eq(Column("d0_", "id"), Column("e1_", "department_id")),
			want:  NoTableGroupRequired,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FindReferenceJoinForPredicateSwap(tt.group, tt.pred))
		})
	}
}

func departmentRoot() *TableGroup {
	return &TableGroup{
		UID:              "<gen:0>",
		Primary:          &NamedTableReference{Table: "departments", Alias: "d0_"},
		CanUseInnerJoins: true,
	}
}

func TestRenderSimpleSelect(t *testing.T) {
	root := departmentRoot()
	stmt := &SelectStatement{
		Selections: []Selection{
			{Expression: Column("d0_", "id"), Alias: "id0_0_"},
			{Expression: Column("d0_", "name"), Alias: "name1_0_"},
		},
		Roots: []*TableGroup{root},
		Where: Eq(Column("d0_", "id"), Param(int64(7))),
	}
	out, err := Renderer{Dialect: dialect.MustFor(dialect.Postgres)}.Render(stmt)
	require.NoError(t, err)
	assert.Equal(t, "select d0_.id as id0_0_, d0_.name as name1_0_ from departments d0_ where d0_.id=$1", out.SQL)
	assert.Equal(t, []any{int64(7)}, out.Params)
	assert.False(t, out.FollowOnLocking)
}

func TestRenderGroupJoins(t *testing.T) {
	tests := []struct {
		name string
		pred Predicate
		typ  JoinType
		want string
	}{
		{
			name: "flattened",
			pred: Eq(Column("d0_", "id"), Column("e1_", "department_id")),
			typ:  JoinLeft,
			want: "select d0_.id from departments d0_" +
				" left outer join employees e1_ on d0_.id=e1_.department_id" +
				" left outer join employee_details e1_1_ on e1_.id=e1_1_.employee_id" +
				" left outer join employee_badges e1_2_ on e1_.id=e1_2_.employee_id",
		},
		{
			name: "swapped",
			pred: Eq(Column("d0_", "id"), Column("e1_1_", "department_id")),
			typ:  JoinInner,
			want: "select d0_.id from departments d0_" +
				" inner join employee_details e1_1_ on d0_.id=e1_1_.department_id" +
				" inner join employees e1_ on e1_.id=e1_1_.employee_id" +
				" left outer join employee_badges e1_2_ on e1_.id=e1_2_.employee_id",
		},
		{
			name: "nested",
			pred: And(
				Eq(Column("d0_", "id"), Column("e1_1_", "department_id")),
				Eq(Column("d0_", "site"), Column("e1_2_", "site")),
			),
			typ: JoinLeft,
			want: "select d0_.id from departments d0_" +
				" left outer join (employees e1_" +
				" left outer join employee_details e1_1_ on e1_.id=e1_1_.employee_id" +
				" left outer join employee_badges e1_2_ on e1_.id=e1_2_.employee_id)" +
				" on d0_.id=e1_1_.department_id and d0_.site=e1_2_.site",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := departmentRoot()
			root.AddJoin(&TableGroupJoin{Type: tt.typ, Joined: employeeGroup(false), Predicate: tt.pred, Fetched: true})
			stmt := &SelectStatement{
				Selections: []Selection{{Expression: Column("d0_", "id")}},
				Roots:      []*TableGroup{root},
			}
			out, err := Renderer{Dialect: dialect.MustFor(dialect.MySQL)}.Render(stmt)
			require.NoError(t, err)
			assert.Equal(t, tt.want, out.SQL)
		})
	}
}

func TestRenderPredicates(t *testing.T) {
	root := departmentRoot()
	stmt := &SelectStatement{
		Selections: []Selection{{Expression: Column("d0_", "id"), Alias: "id0_0_"}},
		Roots:      []*TableGroup{root},
		Where: And(
			&InListPredicate{
				Tuple:  []Expression{Column("d0_", "region"), Column("d0_", "id")},
				Values: [][]Expression{{Param("eu"), Param(1)}, {Param("us"), Param(2)}},
			},
			&Junction{Disjunction: true, Predicates: []Predicate{
				&NullnessPredicate{Expression: Column("d0_", "closed_at")},
				&NullnessPredicate{Expression: Column("d0_", "name"), Negated: true},
			}},
		),
		OrderBy: []Expression{Column("d0_", "id")},
	}
	out, err := Renderer{Dialect: dialect.MustFor(dialect.SQLServer)}.Render(stmt)
	require.NoError(t, err)
	assert.Equal(t, "select d0_.id as id0_0_ from departments d0_"+
		" where (d0_.region,d0_.id) in ((@p1,@p2),(@p3,@p4))"+
		" and (d0_.closed_at is null or d0_.name is not null)"+
		" order by d0_.id", out.SQL)
	assert.Equal(t, []any{"eu", 1, "us", 2}, out.Params)

	stmt.Where = &InListPredicate{Tuple: []Expression{Column("d0_", "id")}}
	stmt.OrderBy = nil
	out, err = Renderer{Dialect: dialect.MustFor(dialect.SQLite)}.Render(stmt)
	require.NoError(t, err)
	assert.Equal(t, "select d0_.id as id0_0_ from departments d0_ where 1=0", out.SQL)
	assert.Empty(t, out.Params)
}

func TestRenderErrors(t *testing.T) {
	_, err := Renderer{Dialect: dialect.MustFor(dialect.SQLite)}.Render(&SelectStatement{})
	assert.True(t, persist.IsIllegalState(err))

	root := departmentRoot()
	root.AddJoin(&TableGroupJoin{Joined: employeeGroup(true)})
	_, err = Renderer{Dialect: dialect.MustFor(dialect.SQLite)}.Render(&SelectStatement{Roots: []*TableGroup{root}})
	assert.True(t, persist.IsIllegalState(err))
}

// lockAll locks every group and reports outer joins as configured.
type lockAll struct {
	outer   bool
	clause  string
	roots   int
	joins   int
	renders int
}

func (l *lockAll) RegisterRoot(*TableGroup) bool     { l.roots++; return true }
func (l *lockAll) RegisterJoin(*TableGroupJoin) bool { l.joins++; return true }
func (l *lockAll) ContainsOuterJoins() bool          { return l.outer }
func (l *lockAll) ShouldLock(*TableGroup) bool       { return true }
func (l *lockAll) Render() (string, error)           { l.renders++; return l.clause, nil }

func TestRenderLocking(t *testing.T) {
	write := persist.LockOptions{Mode: persist.LockPessimisticWrite, Timeout: persist.WaitForever}
	newStmt := func() *SelectStatement {
		root := departmentRoot()
		root.AddJoin(&TableGroupJoin{
			Type:      JoinLeft,
			Joined:    &TableGroup{Primary: &NamedTableReference{Table: "countries", Alias: "c1_"}},
			Predicate: Eq(Column("d0_", "country_code"), Column("c1_", "code")),
			Fetched:   true,
		})
		return &SelectStatement{
			Selections: []Selection{{Expression: Column("d0_", "id")}},
			Roots:      []*TableGroup{root},
			Lock:       write,
		}
	}

	t.Run("trailing clause", func(t *testing.T) {
		lc := &lockAll{clause: " for update of d0_"}
		out, err := Renderer{Dialect: dialect.MustFor(dialect.MySQL), Locking: lc}.Render(newStmt())
		require.NoError(t, err)
		assert.Equal(t, "select d0_.id from departments d0_"+
			" left outer join countries c1_ on d0_.country_code=c1_.code for update of d0_", out.SQL)
		assert.Equal(t, 1, lc.roots)
		assert.Equal(t, 1, lc.joins)
	})
	t.Run("follow on", func(t *testing.T) {
		lc := &lockAll{outer: true, clause: " for update of d0_"}
		out, err := Renderer{Dialect: dialect.MustFor(dialect.Postgres), Locking: lc}.Render(newStmt())
		require.NoError(t, err)
		assert.True(t, out.FollowOnLocking)
		assert.NotContains(t, out.SQL, "for update")
		assert.Zero(t, lc.renders)
	})
	t.Run("table hints", func(t *testing.T) {
		out, err := Renderer{Dialect: dialect.MustFor(dialect.SQLServer), Locking: &lockAll{}}.Render(newStmt())
		require.NoError(t, err)
		assert.Equal(t, "select d0_.id from departments d0_ with (updlock,rowlock)"+
			" left outer join countries c1_ with (updlock,rowlock) on d0_.country_code=c1_.code", out.SQL)
	})
	t.Run("optimistic mode ignores strategy", func(t *testing.T) {
		stmt := newStmt()
		stmt.Lock = persist.LockOptions{Mode: persist.LockOptimistic}
		lc := &lockAll{outer: true, clause: " for update"}
		out, err := Renderer{Dialect: dialect.MustFor(dialect.Postgres), Locking: lc}.Render(stmt)
		require.NoError(t, err)
		assert.False(t, out.FollowOnLocking)
		assert.Zero(t, lc.renders)
	})
}
