package action

import (
	"github.com/syssam/persist"
	"github.com/syssam/persist/engine"
	"github.com/syssam/persist/metamodel"
)

// TableValues are the column values of an entity grouped by table. Tables
// holds the table names in mapping order, the primary table first.
type TableValues struct {
	Tables []string
	Values map[string]*Assignments
}

func (t *TableValues) table(name string) *Assignments {
	if t.Values == nil {
		t.Values = make(map[string]*Assignments)
	}
	a, ok := t.Values[name]
	if !ok {
		a = &Assignments{}
		t.Values[name] = a
		t.Tables = append(t.Tables, name)
	}
	return a
}

// EntityValues returns the column values of the named attributes of e, or
// of every attribute when names is nil. Collection attributes own no
// columns and are skipped. Tables without values are still listed when
// they are the primary table.
func EntityValues(p metamodel.EntityPersister, e *engine.Entity, names []string) (*TableValues, error) {
	tv := &TableValues{}
	tv.table(p.TableName())
	for _, st := range p.SecondaryTables() {
		if names == nil {
			tv.table(st.Table)
		}
	}
	attrs := p.Attributes()
	if names != nil {
		attrs = attrs[:0:0]
		for _, n := range names {
			a, ok := p.Attribute(n)
			if !ok {
				return nil, persist.NewMappingError(p.EntityName(), n, "unknown attribute")
			}
			attrs = append(attrs, a)
		}
	}
	for _, a := range attrs {
		if err := addAttribute(tv, p.EntityName(), a, e.Get(a.Name)); err != nil {
			return nil, err
		}
	}
	return tv, nil
}

// addAttribute adds the columns of one attribute value.
func addAttribute(tv *TableValues, entity string, a *metamodel.Attribute, v any) error {
	switch a.Kind {
	case metamodel.KindBasic:
		tv.table(a.TableName()).Add(a.Columns, v)
	case metamodel.KindComposite:
		m, _ := v.(map[string]any)
		for _, member := range a.Component.Attributes {
			if err := addAttribute(tv, entity, member, m[member.Name]); err != nil {
				return err
			}
		}
	case metamodel.KindManyToOne, metamodel.KindOneToOne:
		id, err := referenceID(entity, a.Name, v)
		if err != nil {
			return err
		}
		tv.table(a.TableName()).Add(a.Columns, id)
	case metamodel.KindAny:
		if len(a.Columns) != 2 {
			return persist.NewMappingError(entity, a.Name, "any association needs a type and an identifier column")
		}
		t := tv.table(a.TableName())
		target, ok := v.(*engine.Entity)
		if !ok || target == nil {
			t.Add(a.Columns, nil)
			return nil
		}
		id, err := referenceID(entity, a.Name, target)
		if err != nil {
			return err
		}
		t.Add(a.Columns[:1], target.Name())
		t.Add(a.Columns[1:], id)
	case metamodel.KindCollection:
	default:
		return persist.NewMappingError(entity, a.Name, "unsupported attribute kind %s", a.Kind)
	}
	return nil
}

// referenceID returns the identifier a to-one value stores. Instances
// without identifier are transient.
func referenceID(entity, attr string, v any) (any, error) {
	e, ok := v.(*engine.Entity)
	if !ok {
		return v, nil
	}
	if e == nil {
		return nil, nil
	}
	if e.ID() == nil {
		return nil, persist.NewTransientObjectError(entity, attr, e.Name())
	}
	return e.ID(), nil
}

// IDCondition returns the condition matching the identifier columns.
func IDCondition(columns []string, id any) Assignments {
	var a Assignments
	a.Add(columns, id)
	return a
}

// elementRow returns the row of one collection element: key, index and
// element columns.
func elementRow(cp metamodel.CollectionPersister, key, index, el any) (Assignments, error) {
	var row Assignments
	row.Add(cp.KeyColumns(), key)
	if len(cp.IndexColumns()) > 0 {
		row.Add(cp.IndexColumns(), index)
	}
	if err := addElement(&row, cp, el); err != nil {
		return Assignments{}, err
	}
	return row, nil
}

// elementCondition returns the condition matching the row of el.
func elementCondition(cp metamodel.CollectionPersister, key, el any) (Assignments, error) {
	var cond Assignments
	cond.Add(cp.KeyColumns(), key)
	if err := addElement(&cond, cp, el); err != nil {
		return Assignments{}, err
	}
	return cond, nil
}

func addElement(row *Assignments, cp metamodel.CollectionPersister, el any) error {
	switch cp.ElementKind() {
	case metamodel.ElementEntity:
		id, err := referenceID(cp.OwnerEntityName(), cp.AttributeName(), el)
		if err != nil {
			return err
		}
		row.Add(cp.ElementColumns(), id)
	case metamodel.ElementComposite:
		tv := &TableValues{}
		m, _ := el.(map[string]any)
		for _, member := range cp.ElementComponent().Attributes {
			if err := addAttribute(tv, cp.OwnerEntityName(), member, m[member.Name]); err != nil {
				return err
			}
		}
		for _, t := range tv.Tables {
			row.Columns = append(row.Columns, tv.Values[t].Columns...)
			row.Values = append(row.Values, tv.Values[t].Values...)
		}
	default:
		row.Add(cp.ElementColumns(), el)
	}
	return nil
}
