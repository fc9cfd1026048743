package print

import (
	"bytes"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/persist"
	"github.com/syssam/persist/internal/testmodel"
	"github.com/syssam/persist/loader"
	"github.com/syssam/persist/loadplan"
	"github.com/syssam/persist/loadplan/build"
	"github.com/syssam/persist/metamodel"
)

func entityPlan(t *testing.T, mm *metamodel.Metamodel, name string, opts ...build.Option) *loadplan.LoadPlan {
	t.Helper()
	p, err := mm.Entity(name)
	require.NoError(t, err)
	plan, err := build.EntityLoadPlan(mm, p, opts...)
	require.NoError(t, err)
	return plan
}

func assertGolden(t *testing.T, name string, plan *loadplan.LoadPlan) {
	t.Helper()
	aliases, err := loader.NewAliasResolutionContext(plan.QuerySpaces())
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, LoadPlanTreePrinter{}.Write(&buf, plan, aliases))
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, buf.Bytes())
}

func TestLoadPlanTreeGolden(t *testing.T) {
	t.Run("employee_entity_loader", func(t *testing.T) {
		assertGolden(t, "employee_entity_loader", entityPlan(t, testmodel.Company(), "Employee"))
	})
	t.Run("order_cascade_persist", func(t *testing.T) {
		plan := entityPlan(t, testmodel.Shop(), "Order", build.WithCascade(metamodel.CascadePersist))
		assertGolden(t, "order_cascade_persist", plan)
	})
}

func TestLoadPlanTreeWithoutAliases(t *testing.T) {
	plan := entityPlan(t, testmodel.Shop(), "LineItem")
	out := LoadPlanTreePrinter{}.String(plan, nil)
	assert.Equal(t, `LoadPlan(ENTITY_LOADER)
    Returns
        EntityReturn(entity=LineItem, querySpaceUid=<gen:0>, path=LineItem)
            EntityFetch(entity=Product, querySpaceUid=<gen:1>, path=LineItem.product, strategy=(IMMEDIATE, JOIN))
    QuerySpaces
        EntityQuerySpace(uid=<gen:0>, entity=LineItem)
            JOIN (product, LEFT OUTER) : <gen:0> -> <gen:1>
                EntityQuerySpace(uid=<gen:1>, entity=Product)
`, out)
}

func TestReturnGraphCollectionReturn(t *testing.T) {
	mm := testmodel.Company()
	c, err := mm.Collection("Employee.nicknames")
	require.NoError(t, err)
	plan, err := build.CollectionLoadPlan(mm, c)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, ReturnGraphTreePrinter{}.Write(&buf, plan.Returns()[0], 0))
	assert.Equal(t, "CollectionReturn(collection=Employee.nicknames, querySpaceUid=<gen:0>, path=[Employee.nicknames])\n", buf.String())

	aliases, err := loader.NewAliasResolutionContext(plan.QuerySpaces())
	require.NoError(t, err)
	buf.Reset()
	require.NoError(t, QuerySpaceTreePrinter{}.Write(&buf, plan.QuerySpaces(), 1, aliases))
	assert.Equal(t, `    CollectionQuerySpace(uid=<gen:0>, collection=Employee.nicknames)
        SQL table alias mapping - nicknames0_
        alias suffix - 0_
        suffixed key columns - {employee0_0_}
`, buf.String())
}

func TestReturnGraphScalarAndLazyFetch(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, ReturnGraphTreePrinter{}.Write(&buf, &loadplan.ScalarReturn{Name: "count", Type: "int64"}, 1))
	assert.Equal(t, "    ScalarReturn(name=count, type=int64)\n", buf.String())

	plan := entityPlan(t, testmodel.Company(), "Employee", build.WithFetchOverride("Employee.manager", persist.Eager(persist.StyleSelect)))
	out := LoadPlanTreePrinter{}.String(plan, nil)
	assert.Contains(t, out, "EntityFetch(entity=Employee, querySpaceUid=<none>, path=Employee.manager, strategy=(IMMEDIATE, SELECT))")
}
