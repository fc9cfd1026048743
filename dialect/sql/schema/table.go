// Package schema derives the tables of a metamodel and manages them in a
// database: create, drop, truncate, update and validate.
package schema

import (
	"strings"

	"github.com/syssam/persist/metamodel"
)

// Table describes a mapped table.
type Table struct {
	Name        string
	Columns     []*Column
	PrimaryKey  []*Column
	ForeignKeys []*ForeignKey
}

// Column is a table column. Type is the Go type name of the mapped values,
// the dialect decides the SQL type.
type Column struct {
	Name     string
	Type     string
	Nullable bool
	// Identity columns are generated by the database on insert.
	Identity bool
}

// ForeignKey references the primary key of another table.
type ForeignKey struct {
	Symbol     string
	Columns    []*Column
	RefTable   *Table
	RefColumns []string
}

// Column returns the column with the given name.
func (t *Table) Column(name string) (*Column, bool) {
	for _, c := range t.Columns {
		if strings.EqualFold(c.Name, name) {
			return c, true
		}
	}
	return nil, false
}

// addColumn adds c unless a column of the same name exists. The existing
// column is returned in that case; a NOT NULL mapping wins.
func (t *Table) addColumn(c *Column) *Column {
	if prev, ok := t.Column(c.Name); ok {
		prev.Nullable = prev.Nullable && c.Nullable
		return prev
	}
	t.Columns = append(t.Columns, c)
	return c
}

func (t *Table) addColumns(names []string, typ string, nullable bool) []*Column {
	cols := make([]*Column, len(names))
	for i, n := range names {
		cols[i] = t.addColumn(&Column{Name: n, Type: typ, Nullable: nullable})
	}
	return cols
}

func (t *Table) setPrimaryKey(cols []*Column) {
	if len(t.PrimaryKey) > 0 {
		return
	}
	for _, c := range cols {
		c.Nullable = false
	}
	t.PrimaryKey = cols
}

// tableSet builds the tables of a metamodel.
type tableSet struct {
	mm      *metamodel.Metamodel
	byName  map[string]*Table
	order   []*Table
	pending []pendingKey
}

type pendingKey struct {
	table   *Table
	columns []*Column
	target  metamodel.EntityPersister
}

// Tables derives the tables of mm. Referenced tables come before the
// tables referencing them, except within cycles.
func Tables(mm *metamodel.Metamodel) ([]*Table, error) {
	s := &tableSet{mm: mm, byName: make(map[string]*Table)}
	for _, p := range mm.Entities() {
		if err := s.entity(p); err != nil {
			return nil, err
		}
	}
	for _, c := range mm.Collections() {
		if err := s.collection(c); err != nil {
			return nil, err
		}
	}
	for _, k := range s.pending {
		ref := s.table(k.target.TableName())
		fk := &ForeignKey{
			Symbol:     foreignKeySymbol(k.table.Name, k.columns),
			Columns:    k.columns,
			RefTable:   ref,
			RefColumns: k.target.IdentifierColumns(),
		}
		if !hasForeignKey(k.table, fk) {
			k.table.ForeignKeys = append(k.table.ForeignKeys, fk)
		}
	}
	return sortTables(s.order), nil
}

func (s *tableSet) table(name string) *Table {
	if t, ok := s.byName[name]; ok {
		return t
	}
	t := &Table{Name: name}
	s.byName[name] = t
	s.order = append(s.order, t)
	return t
}

func (s *tableSet) reference(t *Table, cols []*Column, target string) error {
	p, err := s.mm.Entity(target)
	if err != nil {
		return err
	}
	s.pending = append(s.pending, pendingKey{table: t, columns: cols, target: p})
	return nil
}

func (s *tableSet) entity(p metamodel.EntityPersister) error {
	t := s.table(p.TableName())
	typ := idType(p)
	ids := t.addColumns(p.IdentifierColumns(), typ, false)
	if p.IdentifierGenerator() == metamodel.GeneratorIdentity {
		for _, c := range ids {
			c.Identity = true
		}
	}
	t.setPrimaryKey(ids)
	for _, st := range p.SecondaryTables() {
		sec := s.table(st.Table)
		key := sec.addColumns(st.KeyColumns, typ, false)
		sec.setPrimaryKey(key)
		if err := s.reference(sec, key, p.EntityName()); err != nil {
			return err
		}
	}
	for _, a := range p.Attributes() {
		if err := s.attribute(a); err != nil {
			return err
		}
	}
	return nil
}

// attribute adds the columns of an entity or component attribute to the
// table holding them.
func (s *tableSet) attribute(a *metamodel.Attribute) error {
	if a.Kind == metamodel.KindCollection || len(a.Columns) == 0 && a.Component == nil {
		return nil
	}
	return s.member(s.table(a.TableName()), a)
}

func (s *tableSet) member(t *Table, a *metamodel.Attribute) error {
	switch a.Kind {
	case metamodel.KindBasic:
		t.addColumns(a.Columns, a.Type, a.Nullable)
	case metamodel.KindComposite:
		for _, m := range a.Component.Attributes {
			if err := s.member(t, m); err != nil {
				return err
			}
		}
	case metamodel.KindManyToOne, metamodel.KindOneToOne:
		target, err := s.mm.Entity(a.Target)
		if err != nil {
			return err
		}
		cols := t.addColumns(a.Columns, idType(target), a.Nullable)
		return s.reference(t, cols, a.Target)
	case metamodel.KindAny:
		t.addColumn(&Column{Name: a.Columns[0], Type: "string", Nullable: a.Nullable})
		typ := a.Type
		if typ == "" {
			typ = "int64"
		}
		t.addColumn(&Column{Name: a.Columns[1], Type: typ, Nullable: a.Nullable})
	}
	return nil
}

func (s *tableSet) collection(c metamodel.CollectionPersister) error {
	owner, err := s.mm.Entity(c.OwnerEntityName())
	if err != nil {
		return err
	}
	t := s.table(c.TableName())
	// Rows of one-to-many collections are entity rows which may exist
	// unlinked.
	key := t.addColumns(c.KeyColumns(), idType(owner), c.IsOneToMany())
	if err := s.reference(t, key, owner.EntityName()); err != nil {
		return err
	}
	var index []*Column
	if c.Kind().IsIndexed() {
		typ := c.IndexType()
		if typ == "" {
			typ = "string"
		}
		index = t.addColumns(c.IndexColumns(), typ, c.IsOneToMany())
	}
	if c.IsOneToMany() {
		return nil
	}
	var elements []*Column
	switch c.ElementKind() {
	case metamodel.ElementEntity:
		target, err := s.mm.Entity(c.ElementEntityName())
		if err != nil {
			return err
		}
		elements = t.addColumns(c.ElementColumns(), idType(target), false)
		if err := s.reference(t, elements, target.EntityName()); err != nil {
			return err
		}
	case metamodel.ElementComposite:
		for _, m := range c.ElementComponent().Attributes {
			if err := s.member(t, m); err != nil {
				return err
			}
		}
	default:
		elements = t.addColumns(c.ElementColumns(), c.ElementType(), false)
	}
	switch {
	case c.Kind().IsIndexed():
		t.setPrimaryKey(append(key, index...))
	case c.Kind() == metamodel.CollectionSet && len(elements) > 0:
		t.setPrimaryKey(append(key, elements...))
	}
	return nil
}

// idType returns the type of the identifier of p. Untyped generated UUIDs
// use the uuid type and other untyped identifiers int64.
func idType(p metamodel.EntityPersister) string {
	if t := p.IdentifierAttribute().Type; t != "" {
		return t
	}
	if p.IdentifierGenerator() == metamodel.GeneratorUUID {
		return "uuid"
	}
	return "int64"
}

func foreignKeySymbol(table string, cols []*Column) string {
	var sb strings.Builder
	sb.WriteString("fk_")
	sb.WriteString(table)
	for _, c := range cols {
		sb.WriteByte('_')
		sb.WriteString(c.Name)
	}
	return sb.String()
}

func hasForeignKey(t *Table, fk *ForeignKey) bool {
	for _, prev := range t.ForeignKeys {
		if prev.Symbol == fk.Symbol {
			return true
		}
	}
	return false
}

// sortTables orders tables so that referenced tables come first. Tables
// keep their mapping order otherwise.
func sortTables(tables []*Table) []*Table {
	var (
		out   = make([]*Table, 0, len(tables))
		state = make(map[*Table]int, len(tables))
		visit func(*Table)
	)
	visit = func(t *Table) {
		if state[t] != 0 {
			return
		}
		state[t] = 1
		for _, fk := range t.ForeignKeys {
			visit(fk.RefTable)
		}
		state[t] = 2
		out = append(out, t)
	}
	for _, t := range tables {
		visit(t)
	}
	return out
}
