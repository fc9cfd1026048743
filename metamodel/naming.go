package metamodel

import (
	"github.com/go-openapi/inflect"
)

// NamingStrategy supplies table and column names the mapping leaves implicit.
type NamingStrategy interface {
	// TableName returns the primary table of an entity.
	TableName(entity string) string
	// ColumnName returns the column of a basic attribute.
	ColumnName(attribute string) string
	// ForeignKeyColumn returns the foreign key column of a to-one attribute.
	ForeignKeyColumn(attribute string) string
	// JoinKeyColumn returns the collection key column referencing an owner entity.
	JoinKeyColumn(owner string) string
	// CollectionTableName returns the table of an element or many-to-many collection.
	CollectionTableName(ownerTable, attribute string) string
	// IndexColumn returns the index column of a list or map collection.
	IndexColumn(attribute string, kind CollectionKind) string
	// ElementColumn returns the element column of a basic collection.
	ElementColumn(attribute string) string
}

// DefaultNaming derives snake_case names with pluralized tables,
// e.g. entity "LineItem" maps to table "line_items".
type DefaultNaming struct{}

var _ NamingStrategy = DefaultNaming{}

// TableName implements NamingStrategy.
func (DefaultNaming) TableName(entity string) string {
	return inflect.Underscore(inflect.Pluralize(entity))
}

// ColumnName implements NamingStrategy.
func (DefaultNaming) ColumnName(attribute string) string {
	return inflect.Underscore(attribute)
}

// ForeignKeyColumn implements NamingStrategy.
func (DefaultNaming) ForeignKeyColumn(attribute string) string {
	return inflect.Underscore(attribute) + "_id"
}

// JoinKeyColumn implements NamingStrategy.
func (DefaultNaming) JoinKeyColumn(owner string) string {
	return inflect.Underscore(owner) + "_id"
}

// CollectionTableName implements NamingStrategy.
func (DefaultNaming) CollectionTableName(ownerTable, attribute string) string {
	return ownerTable + "_" + inflect.Underscore(attribute)
}

// IndexColumn implements NamingStrategy.
func (DefaultNaming) IndexColumn(attribute string, kind CollectionKind) string {
	if kind == CollectionMap {
		return inflect.Underscore(inflect.Singularize(attribute)) + "_key"
	}
	return inflect.Underscore(attribute) + "_order"
}

// ElementColumn implements NamingStrategy.
func (DefaultNaming) ElementColumn(attribute string) string {
	return inflect.Underscore(inflect.Singularize(attribute))
}
