package schema

import (
	"context"
	"fmt"

	"ariga.io/atlas/sql/migrate"
	"ariga.io/atlas/sql/mysql"
	"ariga.io/atlas/sql/postgres"
	"ariga.io/atlas/sql/schema"
	"ariga.io/atlas/sql/sqlite"

	"github.com/syssam/persist/dialect"
)

// atlasTypes maps Go type names to the column types of a dialect. Unknown
// types map to the "string" type of the dialect.
var atlasTypes = map[string]map[string]func() schema.Type{
	dialect.Postgres: {
		"string":    func() schema.Type { return &schema.StringType{T: postgres.TypeVarChar, Size: 255} },
		"int":       func() schema.Type { return &schema.IntegerType{T: postgres.TypeInteger} },
		"int32":     func() schema.Type { return &schema.IntegerType{T: postgres.TypeInteger} },
		"int64":     func() schema.Type { return &schema.IntegerType{T: postgres.TypeBigInt} },
		"bool":      func() schema.Type { return &schema.BoolType{T: postgres.TypeBoolean} },
		"float32":   func() schema.Type { return &schema.FloatType{T: postgres.TypeReal} },
		"float64":   func() schema.Type { return &schema.FloatType{T: postgres.TypeDouble} },
		"time.Time": func() schema.Type { return &schema.TimeType{T: postgres.TypeTimestamp} },
		"[]byte":    func() schema.Type { return &schema.BinaryType{T: postgres.TypeBytea} },
		"uuid":      func() schema.Type { return &schema.UUIDType{T: postgres.TypeUUID} },
	},
	dialect.MySQL: {
		"string":    func() schema.Type { return &schema.StringType{T: mysql.TypeVarchar, Size: 255} },
		"int":       func() schema.Type { return &schema.IntegerType{T: mysql.TypeInt} },
		"int32":     func() schema.Type { return &schema.IntegerType{T: mysql.TypeInt} },
		"int64":     func() schema.Type { return &schema.IntegerType{T: mysql.TypeBigInt} },
		"bool":      func() schema.Type { return &schema.BoolType{T: mysql.TypeBool} },
		"float32":   func() schema.Type { return &schema.FloatType{T: mysql.TypeFloat} },
		"float64":   func() schema.Type { return &schema.FloatType{T: mysql.TypeDouble} },
		"time.Time": func() schema.Type { return &schema.TimeType{T: mysql.TypeDateTime} },
		"[]byte":    func() schema.Type { return &schema.BinaryType{T: mysql.TypeLongBlob} },
		"uuid":      func() schema.Type { return &schema.StringType{T: mysql.TypeChar, Size: 36} },
	},
	dialect.SQLite: {
		"string":    func() schema.Type { return &schema.StringType{T: "text"} },
		"int":       func() schema.Type { return &schema.IntegerType{T: "integer"} },
		"int32":     func() schema.Type { return &schema.IntegerType{T: "integer"} },
		"int64":     func() schema.Type { return &schema.IntegerType{T: "integer"} },
		"bool":      func() schema.Type { return &schema.BoolType{T: "boolean"} },
		"float32":   func() schema.Type { return &schema.FloatType{T: "real"} },
		"float64":   func() schema.Type { return &schema.FloatType{T: "real"} },
		"time.Time": func() schema.Type { return &schema.TimeType{T: "datetime"} },
		"[]byte":    func() schema.Type { return &schema.BinaryType{T: "blob"} },
		"uuid":      func() schema.Type { return &schema.StringType{T: "text"} },
	},
}

// UnsupportedDialectError is returned for dialects without schema
// management.
type UnsupportedDialectError struct {
	Dialect string
}

func (e *UnsupportedDialectError) Error() string {
	return fmt.Sprintf("schema: dialect %q does not support schema management", e.Dialect)
}

func columnType(name string, c *Column) (schema.Type, error) {
	types, ok := atlasTypes[name]
	if !ok {
		return nil, &UnsupportedDialectError{Dialect: name}
	}
	if t, ok := types[c.Type]; ok {
		return t(), nil
	}
	return types["string"](), nil
}

// identityAttrs returns the attributes of a database generated column.
// sqlite aliases integer primary keys to the rowid.
func identityAttrs(name string) []schema.Attr {
	switch name {
	case dialect.Postgres:
		return []schema.Attr{&postgres.Identity{Generation: "BY DEFAULT"}}
	case dialect.MySQL:
		return []schema.Attr{&mysql.AutoIncrement{}}
	default:
		return nil
	}
}

// Realm converts tables to an atlas schema of the given name for dialect
// d. Columns keep the order of the tables.
func Realm(d dialect.Dialect, name string, tables []*Table) (*schema.Schema, error) {
	var (
		s    = schema.New(name)
		byT  = make(map[*Table]*schema.Table, len(tables))
		cols = make(map[*Column]*schema.Column)
	)
	for _, t := range tables {
		at := schema.NewTable(t.Name)
		for _, c := range t.Columns {
			typ, err := columnType(d.Name(), c)
			if err != nil {
				return nil, err
			}
			ac := schema.NewColumn(c.Name).SetType(typ).SetNull(c.Nullable)
			if c.Identity {
				ac.AddAttrs(identityAttrs(d.Name())...)
			}
			at.AddColumns(ac)
			cols[c] = ac
		}
		if len(t.PrimaryKey) > 0 {
			pk := make([]*schema.Column, len(t.PrimaryKey))
			for i, c := range t.PrimaryKey {
				pk[i] = cols[c]
			}
			at.SetPrimaryKey(schema.NewPrimaryKey(pk...))
		}
		s.AddTables(at)
		byT[t] = at
	}
	for _, t := range tables {
		at := byT[t]
		for _, fk := range t.ForeignKeys {
			ref, ok := byT[fk.RefTable]
			if !ok {
				return nil, fmt.Errorf("schema: %s references unknown table %s", t.Name, fk.RefTable.Name)
			}
			afk := schema.NewForeignKey(fk.Symbol).SetRefTable(ref)
			for _, c := range fk.Columns {
				afk.AddColumns(cols[c])
			}
			for _, name := range fk.RefColumns {
				rc, ok := ref.Column(name)
				if !ok {
					return nil, fmt.Errorf("schema: %s references unknown column %s.%s", t.Name, ref.Name, name)
				}
				afk.AddRefColumns(rc)
			}
			at.AddForeignKeys(afk)
		}
	}
	return s, nil
}

// openAtlas opens the atlas driver of dialect d on db. Opening a postgres
// or mysql driver queries the server version.
func openAtlas(d dialect.Dialect, db schema.ExecQuerier) (migrate.Driver, error) {
	switch d.Name() {
	case dialect.SQLite:
		return sqlite.Open(db)
	case dialect.Postgres:
		return postgres.Open(db)
	case dialect.MySQL:
		return mysql.Open(db)
	default:
		return nil, &UnsupportedDialectError{Dialect: d.Name()}
	}
}

// offlinePlanner returns the planner of dialect d that needs no
// connection.
func offlinePlanner(d dialect.Dialect) (migrate.PlanApplier, error) {
	switch d.Name() {
	case dialect.SQLite:
		return sqlite.DefaultPlan, nil
	case dialect.Postgres:
		return postgres.DefaultPlan, nil
	case dialect.MySQL:
		return mysql.DefaultPlan, nil
	default:
		return nil, &UnsupportedDialectError{Dialect: d.Name()}
	}
}

// unqualified plans statements without a schema qualifier.
func unqualified(o *migrate.PlanOptions) { o.SchemaQualifier = new(string) }

// statements plans changes and returns the statements of the plan.
func statements(ctx context.Context, p migrate.PlanApplier, name string, changes []schema.Change) ([]*migrate.Change, error) {
	if len(changes) == 0 {
		return nil, nil
	}
	plan, err := p.PlanChanges(ctx, name, changes, unqualified)
	if err != nil {
		return nil, fmt.Errorf("schema: plan %s: %w", name, err)
	}
	return plan.Changes, nil
}
