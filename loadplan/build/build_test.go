package build

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/persist"
	"github.com/syssam/persist/internal/testmodel"
	"github.com/syssam/persist/loadplan"
	"github.com/syssam/persist/metamodel"
)

func entityPlan(t *testing.T, mm *metamodel.Metamodel, name string, opts ...Option) *loadplan.LoadPlan {
	t.Helper()
	p, err := mm.Entity(name)
	require.NoError(t, err)
	plan, err := EntityLoadPlan(mm, p, opts...)
	require.NoError(t, err)
	return plan
}

func rootReturn(t *testing.T, plan *loadplan.LoadPlan) *loadplan.EntityReturn {
	t.Helper()
	require.Len(t, plan.Returns(), 1)
	r, ok := plan.Returns()[0].(*loadplan.EntityReturn)
	require.True(t, ok)
	return r
}

// joins returns "property->uid" for every join of the space.
func joins(t *testing.T, plan *loadplan.LoadPlan, uid string) []string {
	t.Helper()
	q, err := plan.QuerySpaces().QuerySpaceByUID(uid)
	require.NoError(t, err)
	var out []string
	for _, j := range q.Joins() {
		m := j.(*loadplan.JoinDefinedByMetadata)
		req := ""
		if m.IsRightHandSideRequired() {
			req = " required"
		}
		out = append(out, m.JoinedPropertyName()+"->"+m.RightHandSide().UID()+req)
	}
	return out
}

func fetchPaths(t *testing.T, plan *loadplan.LoadPlan) []string {
	t.Helper()
	var out []string
	require.NoError(t, plan.WalkFetches(func(f loadplan.Fetch) error {
		line := f.PropertyPath().FullPath() + " " + f.Strategy().String()
		if b, ok := f.(*loadplan.BidirectionalEntityReference); ok {
			line += " -> " + b.TargetUID()
		}
		out = append(out, line)
		return nil
	}))
	return out
}

func TestEntityLoadPlanCompany(t *testing.T) {
	plan := entityPlan(t, testmodel.Company(), "Employee")
	assert.Equal(t, loadplan.EntityLoader, plan.Disposition())
	root := rootReturn(t, plan)
	assert.Equal(t, "<gen:0>", root.QuerySpaceUID())

	assert.Len(t, plan.QuerySpaces().All(), 6)
	assert.Equal(t, []string{"address-><gen:1> required", "department-><gen:3> required", "manager-><gen:4>"},
		joins(t, plan, "<gen:0>"))
	assert.Equal(t, []string{"country-><gen:2>"}, joins(t, plan, "<gen:1>"))
	assert.Empty(t, joins(t, plan, "<gen:3>"))
	assert.Equal(t, []string{"address-><gen:5> required"}, joins(t, plan, "<gen:4>"))

	assert.Equal(t, []string{
		"Employee.address (IMMEDIATE, JOIN)",
		"Employee.address.country (IMMEDIATE, JOIN)",
		"Employee.department (IMMEDIATE, JOIN)",
		"Employee.manager (IMMEDIATE, JOIN)",
		"Employee.manager.address (IMMEDIATE, JOIN)",
		"Employee.manager.address.country (IMMEDIATE, JOIN) -> <gen:2>",
		"Employee.manager.department (IMMEDIATE, JOIN) -> <gen:3>",
		"Employee.manager.manager (IMMEDIATE, JOIN) -> <gen:4>",
	}, fetchPaths(t, plan))
}

func TestBidirectionalTargetsResolve(t *testing.T) {
	plan := entityPlan(t, testmodel.Company(), "Employee")
	root := rootReturn(t, plan)
	var mgr *loadplan.EntityFetch
	for _, f := range root.Fetches() {
		if f.Attribute().Name == "manager" {
			mgr = f.(*loadplan.EntityFetch)
		}
	}
	require.NotNil(t, mgr)
	bidirs := mgr.BidirectionalEntityReferences()
	require.Len(t, bidirs, 2)
	assert.Same(t, mgr, bidirs[1].TargetEntityReference())
	assert.Equal(t, "Department", bidirs[0].TargetEntityReference().EntityPersister().EntityName())
}

func TestEntityLoadPlanAdjustments(t *testing.T) {
	mm := testmodel.Company()

	t.Run("MaxFetchDepth", func(t *testing.T) {
		plan := entityPlan(t, mm, "Employee", WithMaxFetchDepth(1))
		assert.Equal(t, []string{
			"Employee.address (IMMEDIATE, JOIN)",
			"Employee.address.country (IMMEDIATE, SELECT)",
			"Employee.department (IMMEDIATE, JOIN)",
			"Employee.manager (IMMEDIATE, JOIN)",
			"Employee.manager.address (IMMEDIATE, JOIN)",
			"Employee.manager.address.country (IMMEDIATE, SELECT)",
		}, fetchPaths(t, plan))
	})
	t.Run("PessimisticLock", func(t *testing.T) {
		plan := entityPlan(t, mm, "Employee", WithLockMode(persist.LockPessimisticWrite))
		assert.Equal(t, []string{"address-><gen:1> required"}, joins(t, plan, "<gen:0>"))
		assert.Len(t, plan.QuerySpaces().All(), 2)
		assert.Equal(t, []string{
			"Employee.address (IMMEDIATE, JOIN)",
			"Employee.address.country (IMMEDIATE, SELECT)",
			"Employee.department (IMMEDIATE, SELECT)",
			"Employee.manager (IMMEDIATE, SELECT)",
		}, fetchPaths(t, plan))
	})
	t.Run("ReadLockKeepsJoins", func(t *testing.T) {
		plan := entityPlan(t, mm, "Employee", WithLockMode(persist.LockRead))
		assert.Len(t, plan.QuerySpaces().All(), 6)
	})
	t.Run("TooManyCollections", func(t *testing.T) {
		plan := entityPlan(t, mm, "Employee",
			WithFetchOverride("Employee.nicknames", persist.Eager(persist.StyleJoin)),
			WithFetchOverride("Employee.projects", persist.Eager(persist.StyleJoin)),
		)
		assert.Equal(t, []string{
			"address-><gen:1> required",
			"department-><gen:3> required",
			"manager-><gen:4>",
			"nicknames-><gen:6>",
		}, joins(t, plan, "<gen:0>"))
		q, err := plan.QuerySpaces().CollectionQuerySpaceByUID("<gen:6>")
		require.NoError(t, err)
		assert.Nil(t, q.ElementJoin(), "basic elements have no element join")
		paths := fetchPaths(t, plan)
		assert.Contains(t, paths, "Employee.nicknames (IMMEDIATE, JOIN)")
		assert.Contains(t, paths, "Employee.projects (IMMEDIATE, SELECT)")
	})
}

func TestEntityLoadPlanShop(t *testing.T) {
	mm := testmodel.Shop()

	t.Run("LazyAssociationsHaveNoFetch", func(t *testing.T) {
		plan := entityPlan(t, mm, "Order")
		assert.Empty(t, fetchPaths(t, plan))
		assert.Len(t, plan.QuerySpaces().All(), 1)
	})
	t.Run("LineItem", func(t *testing.T) {
		plan := entityPlan(t, mm, "LineItem")
		assert.Equal(t, []string{"LineItem.product (IMMEDIATE, JOIN)"}, fetchPaths(t, plan))
		assert.Equal(t, []string{"product-><gen:1>"}, joins(t, plan, "<gen:0>"))
	})
	t.Run("CascadePersist", func(t *testing.T) {
		plan := entityPlan(t, mm, "Order", WithCascade(metamodel.CascadePersist))
		assert.Equal(t, []string{
			"Order.items (IMMEDIATE, JOIN)",
			"Order.items.<elements>.product (IMMEDIATE, JOIN)",
		}, fetchPaths(t, plan))
		assert.Equal(t, []string{"items-><gen:1>"}, joins(t, plan, "<gen:0>"))
		assert.Equal(t, []string{"elements-><gen:2>"}, joins(t, plan, "<gen:1>"))
		assert.Equal(t, []string{"product-><gen:3>"}, joins(t, plan, "<gen:2>"))
	})
}

func TestCollectionLoadPlan(t *testing.T) {
	mm := testmodel.Company()
	coll, err := mm.Collection("Department.employees")
	require.NoError(t, err)
	plan, err := CollectionLoadPlan(mm, coll)
	require.NoError(t, err)

	assert.Equal(t, loadplan.CollectionInitializer, plan.Disposition())
	r, ok := plan.Returns()[0].(*loadplan.CollectionReturn)
	require.True(t, ok)
	assert.Equal(t, "[Department.employees]", r.PropertyPath().FullPath())
	assert.Equal(t, []string{"elements-><gen:1> required"}, joins(t, plan, "<gen:0>"))
	assert.Equal(t, []string{"address-><gen:2> required", "manager-><gen:4>"}, joins(t, plan, "<gen:1>"))
	assert.Equal(t, []string{
		"[Department.employees].<elements>.address (IMMEDIATE, JOIN)",
		"[Department.employees].<elements>.address.country (IMMEDIATE, JOIN)",
		"[Department.employees].<elements>.manager (IMMEDIATE, JOIN)",
		"[Department.employees].<elements>.manager.address (IMMEDIATE, JOIN)",
		"[Department.employees].<elements>.manager.address.country (IMMEDIATE, JOIN) -> <gen:3>",
		"[Department.employees].<elements>.manager.manager (IMMEDIATE, JOIN) -> <gen:4>",
	}, fetchPaths(t, plan))
}

func TestCollectionLoadPlanBasicElements(t *testing.T) {
	mm := testmodel.Company()
	coll, err := mm.Collection("Employee.nicknames")
	require.NoError(t, err)
	plan, err := CollectionLoadPlan(mm, coll)
	require.NoError(t, err)
	assert.Len(t, plan.QuerySpaces().All(), 1)
	assert.Empty(t, fetchPaths(t, plan))
}

func TestAnyFetch(t *testing.T) {
	plan := entityPlan(t, testmodel.Company(), "Document")
	assert.Equal(t, []string{"Document.subject (IMMEDIATE, SELECT)"}, fetchPaths(t, plan))

	plan = entityPlan(t, testmodel.Company(), "Document",
		WithFetchOverride("Document.subject", persist.Eager(persist.StyleJoin)))
	assert.Equal(t, []string{"Document.subject (IMMEDIATE, SELECT)"}, fetchPaths(t, plan),
		"any associations cannot be joined")
}

func TestInvalidFetchPlanAbortsBuild(t *testing.T) {
	mm := testmodel.Company()
	emp, err := mm.Entity("Employee")
	require.NoError(t, err)
	_, err = EntityLoadPlan(mm, emp, WithFetchOverride("Employee.manager", persist.Eager(persist.StyleSubselect)))
	require.Error(t, err)
	assert.True(t, persist.IsMappingError(err))
}

func TestFetchResolver(t *testing.T) {
	mm := testmodel.Shop()
	order, err := mm.Entity("Order")
	require.NoError(t, err)
	item, err := mm.Entity("LineItem")
	require.NoError(t, err)
	items, _ := order.Attribute("items")
	product, _ := item.Attribute("product")
	orderAttr, _ := item.Attribute("order")

	tests := []struct {
		name     string
		resolver FetchResolver
		attr     *metamodel.Attribute
		depth    int
		tooMany  bool
		want     persist.FetchStrategy
	}{
		{"MappingDefault", FetchResolver{}, product, 1, false, persist.Eager(persist.StyleJoin)},
		{"LazyDefault", FetchResolver{}, orderAttr, 1, false, persist.Lazy(persist.StyleSelect)},
		{"Override", FetchResolver{Overrides: map[string]persist.FetchStrategy{
			"LineItem.product": persist.Eager(persist.StyleBatch)}}, product, 1, false, persist.Eager(persist.StyleBatch)},
		{"OverrideBeatsCascade", FetchResolver{Cascade: metamodel.CascadePersist, Overrides: map[string]persist.FetchStrategy{
			"LineItem.product": persist.Lazy(persist.StyleSelect)}}, product, 1, false, persist.Lazy(persist.StyleSelect)},
		{"Lock", FetchResolver{LockMode: persist.LockPessimisticRead}, product, 1, false, persist.Eager(persist.StyleSelect)},
		{"Depth", FetchResolver{MaxFetchDepth: 2}, product, 3, false, persist.Eager(persist.StyleSelect)},
		{"DepthWithinLimit", FetchResolver{MaxFetchDepth: 2}, product, 2, false, persist.Eager(persist.StyleJoin)},
		{"TooManyCollections", FetchResolver{Overrides: map[string]persist.FetchStrategy{
			"LineItem.items": persist.Eager(persist.StyleJoin)}}, items, 1, true, persist.Eager(persist.StyleSelect)},
		{"TooManyIgnoredForToOne", FetchResolver{}, product, 1, true, persist.Eager(persist.StyleJoin)},
		{"CascadeMatch", FetchResolver{Cascade: metamodel.CascadeDelete}, items, 1, false, persist.Eager(persist.StyleJoin)},
		{"CascadeMiss", FetchResolver{Cascade: metamodel.CascadeDelete}, product, 1, false, persist.Lazy(persist.StyleSelect)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := "LineItem." + tt.attr.Name
			assert.Equal(t, tt.want, tt.resolver.Resolve(path, tt.attr, tt.depth, tt.tooMany))
		})
	}
}
