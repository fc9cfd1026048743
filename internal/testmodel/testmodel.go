// Package testmodel provides the mapping fixtures shared by package tests.
package testmodel

import (
	"github.com/syssam/persist/metamodel"
)

func boolp(b bool) *bool { return &b }

// CompanyDefs returns the definitions of the company fixture:
//
//	Department 1-* Employee (inverse, lazy)
//	Employee *-1 Department (join, required)
//	Employee *-1 Employee as manager (join, nullable)
//	Employee 1-* Employee as reports (inverse, lazy)
//	Employee.address composite with a Country join
//	Employee.nicknames list element collection (lazy)
//	Employee *-* Project (lazy)
//	Employee secondary table employee_details (bio)
//	Document any-association subject
func CompanyDefs() []metamodel.EntityDef {
	return []metamodel.EntityDef{
		{
			Name:      "Country",
			ID:        metamodel.IDDef{Name: "code", Type: "string"},
			Cache:     metamodel.CacheReadOnly,
			NaturalID: metamodel.StringList{"name"},
			Attributes: []metamodel.AttributeDef{
				{Name: "name", Type: "string"},
			},
		},
		{
			Name:      "Department",
			BatchSize: 4,
			Attributes: []metamodel.AttributeDef{
				{Name: "name", Type: "string"},
				{Name: "employees", Kind: metamodel.DefOneToMany, Target: "Employee",
					Key: metamodel.StringList{"department_id"}, Inverse: true},
			},
		},
		{
			Name:    "Employee",
			Version: &metamodel.VersionDef{Name: "version"},
			SecondaryTables: []metamodel.SecondaryTableDef{
				{Table: "employee_details", Key: metamodel.StringList{"employee_id"}},
			},
			Attributes: []metamodel.AttributeDef{
				{Name: "name", Type: "string", NotNull: true},
				{Name: "bio", Type: "string", Table: "employee_details"},
				{Name: "address", Kind: metamodel.DefComposite, Members: []metamodel.AttributeDef{
					{Name: "street", Type: "string"},
					{Name: "city", Type: "string"},
					{Name: "country", Kind: metamodel.DefManyToOne, Target: "Country"},
				}},
				{Name: "department", Kind: metamodel.DefManyToOne, Target: "Department", NotNull: true,
					Cascade: metamodel.StringList{"persist"}},
				{Name: "manager", Kind: metamodel.DefManyToOne, Target: "Employee"},
				{Name: "reports", Kind: metamodel.DefOneToMany, Target: "Employee",
					Key: metamodel.StringList{"manager_id"}, Inverse: true},
				{Name: "nicknames", Kind: metamodel.DefElementCollection, Collection: "list",
					Table: "employee_nicknames", Key: metamodel.StringList{"employee_id"},
					Index:   &metamodel.IndexDef{Columns: metamodel.StringList{"position"}, Type: "int"},
					Element: &metamodel.ElementDef{Columns: metamodel.StringList{"nickname"}, Type: "string"}},
				{Name: "projects", Kind: metamodel.DefManyToMany, Target: "Project", Collection: "set",
					Table: "employee_projects", Key: metamodel.StringList{"employee_id"},
					Element: &metamodel.ElementDef{Columns: metamodel.StringList{"project_id"}}},
			},
		},
		{
			Name: "Project",
			Attributes: []metamodel.AttributeDef{
				{Name: "title", Type: "string"},
			},
		},
		{
			Name: "Document",
			Attributes: []metamodel.AttributeDef{
				{Name: "title", Type: "string"},
				{Name: "subject", Kind: metamodel.DefAny, Columns: metamodel.StringList{"subject_type", "subject_id"}},
			},
		},
	}
}

// Company builds the company fixture. It panics on error since the fixture is static.
func Company(opts ...metamodel.Option) *metamodel.Metamodel {
	mm, err := metamodel.New(CompanyDefs(), opts...)
	if err != nil {
		panic(err)
	}
	return mm
}

// ShopDefs returns a parent/child fixture without cycles:
//
//	Order 1-* LineItem (owning side on LineItem, cascade all)
//	LineItem *-1 Order (select)
//	LineItem *-1 Product (join)
//	Order.tags set element collection
func ShopDefs() []metamodel.EntityDef {
	return []metamodel.EntityDef{
		{
			Name:    "Order",
			Version: &metamodel.VersionDef{Name: "version"},
			Attributes: []metamodel.AttributeDef{
				{Name: "customer", Type: "string"},
				{Name: "items", Kind: metamodel.DefOneToMany, Target: "LineItem", Collection: "bag",
					Key: metamodel.StringList{"order_id"}, Inverse: true, Cascade: metamodel.StringList{"all"}},
				{Name: "tags", Kind: metamodel.DefElementCollection, Collection: "set",
					Element: &metamodel.ElementDef{Columns: metamodel.StringList{"tag"}, Type: "string"}},
			},
		},
		{
			Name: "LineItem",
			Attributes: []metamodel.AttributeDef{
				{Name: "quantity", Type: "int64"},
				{Name: "order", Kind: metamodel.DefManyToOne, Target: "Order", NotNull: true,
					Fetch: "select", Lazy: boolp(true)},
				{Name: "product", Kind: metamodel.DefManyToOne, Target: "Product", Cascade: metamodel.StringList{"persist"}},
			},
		},
		{
			Name: "Product",
			Attributes: []metamodel.AttributeDef{
				{Name: "sku", Type: "string"},
			},
		},
	}
}

// Shop builds the shop fixture.
func Shop(opts ...metamodel.Option) *metamodel.Metamodel {
	mm, err := metamodel.New(ShopDefs(), opts...)
	if err != nil {
		panic(err)
	}
	return mm
}
