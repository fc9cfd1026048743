package loader

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/persist/internal/testmodel"
	"github.com/syssam/persist/loadplan"
	"github.com/syssam/persist/loadplan/build"
)

func employeePlan(t *testing.T) *loadplan.LoadPlan {
	t.Helper()
	mm := testmodel.Company()
	p, err := mm.Entity("Employee")
	require.NoError(t, err)
	plan, err := build.EntityLoadPlan(mm, p)
	require.NoError(t, err)
	return plan
}

func TestAliasResolutionEntityPlan(t *testing.T) {
	plan := employeePlan(t)
	ctx, err := NewAliasResolutionContext(plan.QuerySpaces())
	require.NoError(t, err)

	tables := map[string]string{
		"<gen:0>": "employee0_",
		"<gen:1>": "employee0_",
		"<gen:2>": "country1_",
		"<gen:3>": "department2_",
		"<gen:4>": "employee3_",
		"<gen:5>": "employee3_",
	}
	for uid, want := range tables {
		assert.Equal(t, want, ctx.ResolveSQLTableAlias(uid), uid)
	}

	root := ctx.ResolveEntityReferenceAliases("<gen:0>")
	require.NotNil(t, root)
	assert.Same(t, root, ctx.ResolveEntityReferenceAliases("<gen:1>"), "composite resolves to its owner")
	assert.Equal(t, "<gen:0>", ctx.OwnerUID("<gen:1>"))
	assert.Equal(t, "0_", root.Suffix())
	assert.Equal(t, []string{"id0_0_"}, root.SuffixedKeyAliases())

	cols := root.Columns()
	for _, tt := range []struct{ table, column, alias string }{
		{"employees", "name", "name1_0_"},
		{"employee_details", "bio", "bio2_0_"},
		{"employees", "street", "street3_0_"},
		{"employees", "country_id", "country_5_0_"},
		{"employees", "department_id", "departme6_0_"},
		{"employees", "manager_id", "manager_7_0_"},
		{"employees", "version", "version8_0_"},
	} {
		a, ok := cols.Alias(tt.table, tt.column)
		assert.True(t, ok, tt.column)
		assert.Equal(t, tt.alias, a, tt.column)
	}
	_, ok := cols.Alias("employees", "bio")
	assert.False(t, ok, "bio lives in the secondary table")
	assert.Equal(t, "employee0_1_", root.TableAliasFor("employee_details"))
	assert.Equal(t, "employee0_", root.TableAliasFor("employees"))

	manager := ctx.ResolveEntityReferenceAliases("<gen:4>")
	assert.Equal(t, "3_", manager.Suffix())
	assert.Equal(t, []string{"id0_3_"}, manager.SuffixedKeyAliases())
	assert.Nil(t, ctx.ResolveCollectionReferenceAliases("<gen:0>"))
}

func TestAliasResolutionOneToManyCollection(t *testing.T) {
	mm := testmodel.Company()
	c, err := mm.Collection("Department.employees")
	require.NoError(t, err)
	plan, err := build.CollectionLoadPlan(mm, c)
	require.NoError(t, err)
	ctx, err := NewAliasResolutionContext(plan.QuerySpaces())
	require.NoError(t, err)

	coll := ctx.ResolveCollectionReferenceAliases("<gen:0>")
	require.NotNil(t, coll)
	assert.Equal(t, "employee0_", coll.TableAlias)
	assert.Equal(t, "0_", coll.Suffix())
	assert.Equal(t, []string{"departme0_0_"}, coll.SuffixedKeyAliases())
	assert.Empty(t, coll.SuffixedIndexAliases())

	require.NotNil(t, coll.Element)
	assert.Same(t, coll.Element, ctx.ResolveEntityReferenceAliases("<gen:1>"))
	assert.Equal(t, "employee0_", coll.Element.TableAlias, "one-to-many elements share the collection alias")
	assert.Equal(t, "1_", coll.Element.Suffix())

	assert.Equal(t, "country1_", ctx.ResolveSQLTableAlias("<gen:3>"))
	assert.Equal(t, "employee2_", ctx.ResolveSQLTableAlias("<gen:4>"))
}

func TestAliasResolutionElementCollection(t *testing.T) {
	mm := testmodel.Company()
	c, err := mm.Collection("Employee.nicknames")
	require.NoError(t, err)
	plan, err := build.CollectionLoadPlan(mm, c)
	require.NoError(t, err)
	ctx, err := NewAliasResolutionContext(plan.QuerySpaces())
	require.NoError(t, err)

	coll := ctx.ResolveCollectionReferenceAliases("<gen:0>")
	require.NotNil(t, coll)
	assert.Equal(t, "nicknames0_", coll.TableAlias)
	assert.Equal(t, []string{"employee0_0_"}, coll.SuffixedKeyAliases())
	assert.Equal(t, []string{"position1_0_"}, coll.SuffixedIndexAliases())
	assert.Equal(t, []string{"nickname2_0_"}, coll.SuffixedElementAliases())
	assert.Nil(t, coll.Element)
}

func TestAliasRoot(t *testing.T) {
	tests := []struct{ in, want string }{
		{"Employee", "employee"},
		{"Employee.reports", "reports"},
		{"LineItem", "lineitem"},
		{"Order2", "order2x"},
		{"VeryLongEntityName", "verylongen"},
		{"1abc", "abc"},
		{"42", "alias"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, aliasRoot(tt.in))
		})
	}
}

func TestColumnAlias(t *testing.T) {
	tests := []struct {
		column string
		n      int
		want   string
	}{
		{"name", 1, "name1_"},
		{"NAME", 1, "name1_"},
		{"department_id", 6, "departme6_"},
		{"col_1", 0, "col0_"},
		{"123", 3, "column3_"},
		{"employee_id", 12, "employe12_"},
	}
	for _, tt := range tests {
		t.Run(tt.column, func(t *testing.T) {
			assert.Equal(t, tt.want, columnAlias(tt.column, tt.n))
		})
	}
}
