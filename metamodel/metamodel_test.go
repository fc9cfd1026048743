package metamodel_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/persist"
	"github.com/syssam/persist/internal/testmodel"
	"github.com/syssam/persist/metamodel"
)

func TestNewCompany(t *testing.T) {
	t.Parallel()
	mm := testmodel.Company()

	emp, err := mm.Entity("Employee")
	require.NoError(t, err)
	assert.Equal(t, "employees", emp.TableName())
	assert.Equal(t, []string{"id"}, emp.IdentifierColumns())
	assert.Equal(t, metamodel.GeneratorAssigned, emp.IdentifierGenerator())
	assert.Equal(t, []string{"employees", "employee_details"}, emp.QuerySpaces())
	require.NotNil(t, emp.VersionAttribute())
	assert.Equal(t, "version", emp.VersionAttribute().Name)

	manager, ok := emp.Attribute("manager")
	require.True(t, ok)
	assert.Equal(t, metamodel.KindManyToOne, manager.Kind)
	assert.Equal(t, []string{"manager_id"}, manager.Columns)
	assert.True(t, manager.Nullable)
	assert.Equal(t, persist.Eager(persist.StyleJoin), manager.Fetch)
	assert.Equal(t, metamodel.NewAssociationKey("employees", []string{"manager_id"}), manager.AssociationKey())

	bio, ok := emp.Attribute("bio")
	require.True(t, ok)
	assert.Equal(t, "employee_details", bio.TableName())

	address, ok := emp.Attribute("address")
	require.True(t, ok)
	require.NotNil(t, address.Component)
	assert.Equal(t, "Employee.address", address.Component.Role)
	country, ok := address.Component.Attribute("country")
	require.True(t, ok)
	assert.Equal(t, []string{"country_id"}, country.Columns)

	countryEntity, err := mm.Entity("Country")
	require.NoError(t, err)
	assert.Equal(t, "countries", countryEntity.TableName())
	assert.Equal(t, []string{"code"}, countryEntity.IdentifierColumns())
	assert.Equal(t, metamodel.CacheReadOnly, countryEntity.CacheAccess())
}

func TestCollections(t *testing.T) {
	t.Parallel()
	mm := testmodel.Company()

	tests := []struct {
		role      string
		table     string
		key       []string
		index     []string
		elements  []string
		kind      metamodel.CollectionKind
		element   metamodel.ElementKind
		oneToMany bool
		inverse   bool
	}{
		{role: "Department.employees", table: "employees", key: []string{"department_id"},
			kind: metamodel.CollectionBag, element: metamodel.ElementEntity, oneToMany: true, inverse: true},
		{role: "Employee.nicknames", table: "employee_nicknames", key: []string{"employee_id"},
			index: []string{"position"}, elements: []string{"nickname"},
			kind: metamodel.CollectionList, element: metamodel.ElementBasic},
		{role: "Employee.projects", table: "employee_projects", key: []string{"employee_id"},
			elements: []string{"project_id"}, kind: metamodel.CollectionSet, element: metamodel.ElementEntity},
	}
	for _, tt := range tests {
		t.Run(tt.role, func(t *testing.T) {
			c, err := mm.Collection(tt.role)
			require.NoError(t, err)
			assert.Equal(t, tt.table, c.TableName())
			assert.Equal(t, tt.key, c.KeyColumns())
			assert.Equal(t, tt.index, c.IndexColumns())
			assert.Equal(t, tt.elements, c.ElementColumns())
			assert.Equal(t, tt.kind, c.Kind())
			assert.Equal(t, tt.element, c.ElementKind())
			assert.Equal(t, tt.oneToMany, c.IsOneToMany())
			assert.Equal(t, tt.inverse, c.IsInverse())
		})
	}

	projects, err := mm.Collection("Employee.projects")
	require.NoError(t, err)
	assert.True(t, projects.IsManyToMany())
	assert.Len(t, mm.CollectionsOf("Employee"), 3)
}

func TestNewErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		defs []metamodel.EntityDef
		want string
	}{
		{
			name: "unknown target",
			defs: []metamodel.EntityDef{{Name: "A", Attributes: []metamodel.AttributeDef{
				{Name: "b", Kind: metamodel.DefManyToOne, Target: "B"},
			}}},
			want: `persist: mapping error in A.b: unknown target entity "B"`,
		},
		{
			name: "duplicate entity",
			defs: []metamodel.EntityDef{{Name: "A"}, {Name: "A"}},
			want: "persist: mapping error in A: duplicate entity name",
		},
		{
			name: "duplicate attribute",
			defs: []metamodel.EntityDef{{Name: "A", Attributes: []metamodel.AttributeDef{
				{Name: "x"}, {Name: "x"},
			}}},
			want: "persist: mapping error in A.x: duplicate attribute name",
		},
		{
			name: "attribute shadows identifier",
			defs: []metamodel.EntityDef{{Name: "A", Attributes: []metamodel.AttributeDef{{Name: "id"}}}},
			want: "persist: mapping error in A.id: duplicate attribute name",
		},
		{
			name: "collection in composite",
			defs: []metamodel.EntityDef{{Name: "A", Attributes: []metamodel.AttributeDef{
				{Name: "c", Kind: metamodel.DefComposite, Members: []metamodel.AttributeDef{
					{Name: "tags", Kind: metamodel.DefElementCollection},
				}},
			}}},
			want: "persist: mapping error in A.tags: collections inside composite attributes are not supported",
		},
		{
			name: "index on bag",
			defs: []metamodel.EntityDef{{Name: "A", Attributes: []metamodel.AttributeDef{
				{Name: "tags", Kind: metamodel.DefElementCollection, Index: &metamodel.IndexDef{}},
			}}},
			want: "persist: mapping error in A.tags: bag collections have no index",
		},
		{
			name: "unknown secondary table",
			defs: []metamodel.EntityDef{{Name: "A", Attributes: []metamodel.AttributeDef{
				{Name: "x", Table: "nowhere"},
			}}},
			want: `persist: mapping error in A.x: unknown secondary table "nowhere"`,
		},
		{
			name: "any needs two columns",
			defs: []metamodel.EntityDef{{Name: "A", Attributes: []metamodel.AttributeDef{
				{Name: "x", Kind: metamodel.DefAny, Columns: metamodel.StringList{"t"}},
			}}},
			want: "persist: mapping error in A.x: any association needs exactly two columns (type, id)",
		},
		{
			name: "unknown generator",
			defs: []metamodel.EntityDef{{Name: "A", ID: metamodel.IDDef{Generator: "hilo"}}},
			want: `persist: mapping error in A: unknown identifier generator "hilo"`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := metamodel.New(tt.defs)
			require.Error(t, err)
			assert.True(t, persist.IsMappingError(err))
			assert.Equal(t, tt.want, err.Error())
		})
	}
}

func TestFetchDefaults(t *testing.T) {
	t.Parallel()
	lazy := true
	mm, err := metamodel.New([]metamodel.EntityDef{
		{Name: "Parent", Attributes: []metamodel.AttributeDef{
			{Name: "children", Kind: metamodel.DefOneToMany, Target: "Child", Inverse: true},
			{Name: "eagerChildren", Kind: metamodel.DefOneToMany, Target: "Child", Key: metamodel.StringList{"eager_parent_id"}, Fetch: "join"},
		}},
		{Name: "Child", Attributes: []metamodel.AttributeDef{
			{Name: "parent", Kind: metamodel.DefManyToOne, Target: "Parent", Lazy: &lazy},
			{Name: "batchParent", Kind: metamodel.DefManyToOne, Target: "Parent", Fetch: "batch"},
		}},
	})
	require.NoError(t, err)
	parent, _ := mm.Entity("Parent")
	child, _ := mm.Entity("Child")

	children, _ := parent.Attribute("children")
	assert.Equal(t, persist.Lazy(persist.StyleSelect), children.Fetch)
	eager, _ := parent.Attribute("eagerChildren")
	assert.Equal(t, persist.Eager(persist.StyleJoin), eager.Fetch)
	p, _ := child.Attribute("parent")
	assert.Equal(t, persist.Lazy(persist.StyleSelect), p.Fetch)
	bp, _ := child.Attribute("batchParent")
	assert.Equal(t, persist.Eager(persist.StyleBatch), bp.Fetch)
	assert.Equal(t, []string{"batch_parent_id"}, bp.Columns)
}

func TestLoadMapping(t *testing.T) {
	t.Parallel()
	doc := []byte(`
entities:
  - name: LineItem
    batch_size: 8
    attributes:
      - name: quantity
        type: int64
      - name: order
        kind: many-to-one
        target: Order
        columns: order_ref
  - name: Order
    id:
      generator: uuid
    attributes:
      - name: items
        kind: one-to-many
        target: LineItem
        key: order_ref
        inverse: true
        fetch: subselect
`)
	mm, err := metamodel.LoadMapping(doc)
	require.NoError(t, err)
	order, err := mm.Entity("Order")
	require.NoError(t, err)
	assert.Equal(t, metamodel.GeneratorUUID, order.IdentifierGenerator())
	items, err := mm.Collection("Order.items")
	require.NoError(t, err)
	assert.Equal(t, "line_items", items.TableName())
	assert.Equal(t, []string{"order_ref"}, items.KeyColumns())
	attr, _ := order.Attribute("items")
	assert.Equal(t, persist.Lazy(persist.StyleSubselect), attr.Fetch)

	li, _ := mm.Entity("LineItem")
	assert.Equal(t, 8, li.BatchSize())

	_, err = metamodel.LoadMapping([]byte("entities: [}"))
	assert.True(t, persist.IsMappingError(err))
	_, err = metamodel.LoadMapping([]byte("entities: []"))
	assert.True(t, persist.IsMappingError(err))
}

func TestValidate(t *testing.T) {
	t.Parallel()
	assert.False(t, metamodel.Validate(testmodel.Company()).HasErrors())

	mm, err := metamodel.New([]metamodel.EntityDef{
		{Name: "A", Table: "a", Attributes: []metamodel.AttributeDef{
			{Name: "x", Columns: metamodel.StringList{"shared"}},
			{Name: "y", Columns: metamodel.StringList{"shared"}},
			{Name: "bs", Kind: metamodel.DefOneToMany, Target: "B", Inverse: true},
		}},
		{Name: "B", Table: "b"},
	})
	require.NoError(t, err)
	r := metamodel.Validate(mm)
	require.True(t, r.HasErrors())
	assert.Equal(t, "A.y: repeated column a.shared (already mapped by x)", r.Errors[0].Error())
	require.True(t, r.HasWarnings())
	assert.Contains(t, r.Warnings[0].Error(), "inverse collection")
	assert.True(t, persist.IsMappingError(r.Err()))
	assert.Contains(t, r.String(), "Errors:")
}

func TestDefaultNaming(t *testing.T) {
	t.Parallel()
	n := metamodel.DefaultNaming{}
	assert.Equal(t, "line_items", n.TableName("LineItem"))
	assert.Equal(t, "first_name", n.ColumnName("firstName"))
	assert.Equal(t, "manager_id", n.ForeignKeyColumn("manager"))
	assert.Equal(t, "orders_tags", n.CollectionTableName("orders", "tags"))
	assert.Equal(t, "tag", n.ElementColumn("tags"))
	assert.Equal(t, "tags_order", n.IndexColumn("tags", metamodel.CollectionList))
}
