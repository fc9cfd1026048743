package loader

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/persist"
	"github.com/syssam/persist/dialect"
	"github.com/syssam/persist/engine"
	"github.com/syssam/persist/internal/testmodel"
	"github.com/syssam/persist/loadplan"
	"github.com/syssam/persist/loadplan/build"
	"github.com/syssam/persist/sqlast"
)

func lower(t *testing.T, plan *loadplan.LoadPlan, r Restriction, lock persist.LockOptions) *sqlast.SelectStatement {
	t.Helper()
	aliases, err := NewAliasResolutionContext(plan.QuerySpaces())
	require.NoError(t, err)
	stmt, err := Lower(plan, aliases, r, lock)
	require.NoError(t, err)
	return stmt
}

func TestLowerEntityPlan(t *testing.T) {
	t.Parallel()
	stmt := lower(t, employeePlan(t), IDRestriction{IDs: []any{int64(7)}}, persist.LockOptions{})
	require.Len(t, stmt.Roots, 1)
	root := stmt.Roots[0]
	assert.Equal(t, "employee0_", root.Primary.Alias)
	require.Len(t, root.ReferenceJoins, 1)
	assert.Equal(t, sqlast.JoinLeft, root.ReferenceJoins[0].Type)

	require.Len(t, root.GroupJoins, 3)
	types := make(map[string]sqlast.JoinType)
	for _, j := range root.GroupJoins {
		assert.True(t, j.Fetched)
		types[j.Joined.Primary.Alias] = j.Type
	}
	assert.Equal(t, map[string]sqlast.JoinType{
		"country1_":    sqlast.JoinLeft,
		"department2_": sqlast.JoinInner,
		"employee3_":   sqlast.JoinLeft,
	}, types)

	out, err := Translate(stmt, dialect.MustFor(dialect.Postgres))
	require.NoError(t, err)
	assert.Contains(t, out.SQL, " from employees employee0_"+
		" left outer join employee_details employee0_1_ on employee0_.id=employee0_1_.employee_id"+
		" left outer join countries country1_ on employee0_.country_id=country1_.code"+
		" inner join departments department2_ on employee0_.department_id=department2_.id"+
		" left outer join employees employee3_ on employee0_.manager_id=employee3_.id"+
		" left outer join employee_details employee3_1_ on employee3_.id=employee3_1_.employee_id"+
		" where employee0_.id=$1")
	assert.Contains(t, out.SQL, "employee0_1_.bio as bio2_0_")
	assert.Contains(t, out.SQL, "department2_.name as name1_2_")
	assert.Equal(t, []any{int64(7)}, out.Params)
	assert.False(t, out.FollowOnLocking)
}

func TestLowerProductPlan(t *testing.T) {
	t.Parallel()
	mm := testmodel.Shop()
	p, err := mm.Entity("Product")
	require.NoError(t, err)
	plan, err := build.EntityLoadPlan(mm, p)
	require.NoError(t, err)

	tests := []struct {
		name    string
		dialect string
		r       Restriction
		want    string
		params  []any
	}{
		{
			name:    "single id",
			dialect: dialect.SQLite,
			r:       IDRestriction{IDs: []any{1}},
			want:    "select product0_.id as id0_0_, product0_.sku as sku1_0_ from products product0_ where product0_.id=?",
			params:  []any{1},
		},
		{
			name:    "batch",
			dialect: dialect.Oracle,
			r:       IDRestriction{IDs: []any{1, 2, 3}},
			want:    "select product0_.id as id0_0_, product0_.sku as sku1_0_ from products product0_ where product0_.id in (:1,:2,:3)",
			params:  []any{1, 2, 3},
		},
		{
			name:    "attribute",
			dialect: dialect.Postgres,
			r:       AttributeRestriction{Attribute: "sku", Value: "A-1"},
			want:    "select product0_.id as id0_0_, product0_.sku as sku1_0_ from products product0_ where product0_.sku=$1",
			params:  []any{"A-1"},
		},
		{
			name:    "conjunction",
			dialect: dialect.Postgres,
			r:       AllRestriction{AttributeRestriction{Attribute: "sku", Value: "A-1"}, IDRestriction{IDs: []any{2}}},
			want:    "select product0_.id as id0_0_, product0_.sku as sku1_0_ from products product0_ where product0_.sku=$1 and product0_.id=$2",
			params:  []any{"A-1", 2},
		},
		{
			name:    "null attribute",
			dialect: dialect.MySQL,
			r:       AttributeRestriction{Attribute: "sku"},
			want:    "select product0_.id as id0_0_, product0_.sku as sku1_0_ from products product0_ where product0_.sku is null",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := Translate(lower(t, plan, tt.r, persist.LockOptions{}), dialect.MustFor(tt.dialect))
			require.NoError(t, err)
			assert.Equal(t, tt.want, out.SQL)
			assert.Equal(t, tt.params, out.Params)
		})
	}
}

func TestLowerCollectionPlan(t *testing.T) {
	t.Parallel()
	mm := testmodel.Company()
	c, err := mm.Collection("Employee.nicknames")
	require.NoError(t, err)
	plan, err := build.CollectionLoadPlan(mm, c)
	require.NoError(t, err)

	out, err := Translate(lower(t, plan, KeyRestriction{Keys: []any{int64(1), int64(2)}}, persist.LockOptions{}), dialect.MustFor(dialect.SQLite))
	require.NoError(t, err)
	assert.Equal(t, "select nicknames0_.employee_id as employee0_0_, nicknames0_.position as position1_0_,"+
		" nicknames0_.nickname as nickname2_0_ from employee_nicknames nicknames0_"+
		" where nicknames0_.employee_id in (?,?)"+
		" order by nicknames0_.employee_id, nicknames0_.position", out.SQL)
	assert.Equal(t, []any{int64(1), int64(2)}, out.Params)

	aliases, err := NewAliasResolutionContext(plan.QuerySpaces())
	require.NoError(t, err)
	_, err = Lower(plan, aliases, IDRestriction{IDs: []any{1}}, persist.LockOptions{})
	assert.True(t, persist.IsIllegalArgument(err), "identifier restriction on a collection root")
}

func TestLowerOneToManyCollectionPlan(t *testing.T) {
	t.Parallel()
	mm := testmodel.Company()
	c, err := mm.Collection("Department.employees")
	require.NoError(t, err)
	plan, err := build.CollectionLoadPlan(mm, c)
	require.NoError(t, err)

	stmt := lower(t, plan, KeyRestriction{Keys: []any{int64(3)}}, persist.LockOptions{})
	root := stmt.Roots[0]
	assert.Equal(t, "employees", root.Primary.Table)
	require.Len(t, root.ReferenceJoins, 1, "element secondary table joins the collection group")
	assert.Equal(t, "employee0_1_", root.ReferenceJoins[0].Reference.Alias)

	out, err := Translate(stmt, dialect.MustFor(dialect.Postgres))
	require.NoError(t, err)
	assert.Contains(t, out.SQL, " from employees employee0_ left outer join employee_details employee0_1_")
	assert.Contains(t, out.SQL, " where employee0_.department_id=$1")
	assert.NotContains(t, out.SQL, "order by")
}

func TestAttributeRestrictionErrors(t *testing.T) {
	t.Parallel()
	plan := employeePlan(t)
	aliases, err := NewAliasResolutionContext(plan.QuerySpaces())
	require.NoError(t, err)

	_, err = Lower(plan, aliases, AttributeRestriction{Attribute: "salary", Value: 1}, persist.LockOptions{})
	assert.True(t, persist.IsMappingError(err))

	_, err = Lower(plan, aliases, AttributeRestriction{Attribute: "nicknames", Value: "x"}, persist.LockOptions{})
	assert.True(t, persist.IsIllegalArgument(err))

	_, err = Lower(plan, aliases, AttributeRestriction{Attribute: "department", Value: engine.New("Department")}, persist.LockOptions{})
	assert.True(t, persist.IsTransientObject(err))

	dept := engine.New("Department")
	dept.SetID(int64(4))
	stmt, err := Lower(plan, aliases, AttributeRestriction{Attribute: "department", Value: dept}, persist.LockOptions{})
	require.NoError(t, err)
	out, err := Translate(stmt, dialect.MustFor(dialect.SQLite))
	require.NoError(t, err)
	assert.Contains(t, out.SQL, " where employee0_.department_id=?")
	assert.Equal(t, []any{int64(4)}, out.Params)

	stmt, err = Lower(plan, aliases, AttributeRestriction{Attribute: "bio", Value: "x"}, persist.LockOptions{})
	require.NoError(t, err)
	out, err = Translate(stmt, dialect.MustFor(dialect.SQLite))
	require.NoError(t, err)
	assert.Contains(t, out.SQL, " where employee0_1_.bio=?", "secondary table attributes use the secondary alias")
}

func TestMatchValuesCompositeIdentifier(t *testing.T) {
	t.Parallel()
	root := &sqlast.TableGroup{Primary: &sqlast.NamedTableReference{Table: "line_items", Alias: "l0_"}}
	stmt := &sqlast.SelectStatement{
		Selections: []sqlast.Selection{{Expression: sqlast.Column("l0_", "order_id")}},
		Roots:      []*sqlast.TableGroup{root},
		Where:      MatchValues("l0_", []string{"order_id", "line"}, []any{[]any{1, 2}, []any{1, 3}}),
	}
	out, err := sqlast.Renderer{Dialect: dialect.MustFor(dialect.Postgres)}.Render(stmt)
	require.NoError(t, err)
	assert.Equal(t, "select l0_.order_id from line_items l0_ where (l0_.order_id,l0_.line) in (($1,$2),($3,$4))", out.SQL)
	assert.Equal(t, []any{1, 2, 1, 3}, out.Params)

	stmt.Where = MatchValues("l0_", []string{"order_id", "line"}, []any{[]any{5, 6}})
	out, err = sqlast.Renderer{Dialect: dialect.MustFor(dialect.Postgres)}.Render(stmt)
	require.NoError(t, err)
	assert.Equal(t, "select l0_.order_id from line_items l0_ where l0_.order_id=$1 and l0_.line=$2", out.SQL)
}

func TestTranslateLocking(t *testing.T) {
	t.Parallel()
	write := persist.LockOptions{Mode: persist.LockPessimisticWrite, Scope: persist.ScopeRootOnly}
	plan := employeePlan(t)

	out, err := Translate(lower(t, plan, IDRestriction{IDs: []any{1}}, write), dialect.MustFor(dialect.Postgres))
	require.NoError(t, err)
	assert.True(t, out.FollowOnLocking, "outer joins cannot be locked")
	assert.NotContains(t, out.SQL, "for update")

	out, err = Translate(lower(t, plan, IDRestriction{IDs: []any{1}}, write), dialect.MustFor(dialect.MySQL))
	require.NoError(t, err)
	assert.False(t, out.FollowOnLocking)
	assert.Contains(t, out.SQL, " for update")

	out, err = Translate(lower(t, plan, IDRestriction{IDs: []any{1}}, write), dialect.MustFor(dialect.SQLite))
	require.NoError(t, err)
	assert.False(t, out.FollowOnLocking)
	assert.NotContains(t, out.SQL, "for update")
}

func TestLowerLock(t *testing.T) {
	t.Parallel()
	mm := testmodel.Company()
	p, err := mm.Entity("Employee")
	require.NoError(t, err)
	write := persist.LockOptions{Mode: persist.LockPessimisticWrite, Scope: persist.ScopeIncludeFetches}

	stmt := LowerLock(p, []any{int64(1), int64(2)}, write)
	assert.Equal(t, persist.ScopeRootOnly, stmt.Lock.Scope)

	out, err := Translate(stmt, dialect.MustFor(dialect.Postgres))
	require.NoError(t, err)
	assert.Equal(t, "select employee0_.id, employee0_.version from employees employee0_"+
		" where employee0_.id in ($1,$2) for update of employee0_", out.SQL)
	assert.False(t, out.FollowOnLocking)

	out, err = Translate(LowerLock(p, []any{int64(1)}, write), dialect.MustFor(dialect.Oracle))
	require.NoError(t, err)
	assert.Equal(t, "select employee0_.id, employee0_.version from employees employee0_"+
		" where employee0_.id=:1 for update of employee0_.id", out.SQL)
}

func TestLowerRejectsEmptyPlan(t *testing.T) {
	t.Parallel()
	b := loadplan.NewBuilder(testmodel.Company())
	plan, err := loadplan.New(loadplan.Mixed, []loadplan.Return{&loadplan.ScalarReturn{Name: "n"}}, b.Build())
	require.NoError(t, err)
	aliases, err := NewAliasResolutionContext(plan.QuerySpaces())
	require.NoError(t, err)
	_, err = Lower(plan, aliases, nil, persist.LockOptions{})
	assert.True(t, persist.IsIllegalState(err))
}
