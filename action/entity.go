package action

import (
	"context"
	"fmt"
	"math"

	"github.com/syssam/persist"
	"github.com/syssam/persist/engine"
	"github.com/syssam/persist/metamodel"
)

// EntityInsertAction inserts an entity with an assigned or generated
// identifier.
type EntityInsertAction struct {
	Entity    *engine.Entity
	Persister metamodel.EntityPersister
	// Entry is updated once the rows exist. It may be nil.
	Entry *engine.EntityEntry
}

// QuerySpaces implements Action.
func (a *EntityInsertAction) QuerySpaces() []string { return a.Persister.QuerySpaces() }

// Execute inserts the primary row and one row per secondary table.
func (a *EntityInsertAction) Execute(ctx context.Context, x *Executor) error {
	seedVersion(a.Persister, a.Entity)
	tv, err := EntityValues(a.Persister, a.Entity, nil)
	if err != nil {
		return err
	}
	p := a.Persister
	for _, t := range tv.Tables {
		row := Assignments{}
		if t == p.TableName() {
			row.Add(p.IdentifierColumns(), a.Entity.ID())
		} else {
			row.Add(secondaryKey(p, t), a.Entity.ID())
		}
		row.Columns = append(row.Columns, tv.Values[t].Columns...)
		row.Values = append(row.Values, tv.Values[t].Values...)
		if _, err := x.exec(ctx, InsertSQL(x.Dialect, t, row)); err != nil {
			return fmt.Errorf("action: insert %s: %w", p.EntityName(), err)
		}
	}
	markInserted(a.Entry, p, a.Entity)
	return nil
}

// EntityIdentityInsertAction inserts an entity whose identifier is
// generated by the database. The identifier is read back and set on the
// entity before the secondary rows are written.
type EntityIdentityInsertAction struct {
	Entity    *engine.Entity
	Persister metamodel.EntityPersister
	Entry     *engine.EntityEntry
}

// QuerySpaces implements Action.
func (a *EntityIdentityInsertAction) QuerySpaces() []string { return a.Persister.QuerySpaces() }

// Execute inserts the primary row, reads the generated identifier and
// inserts the secondary rows.
func (a *EntityIdentityInsertAction) Execute(ctx context.Context, x *Executor) error {
	p := a.Persister
	if len(p.IdentifierColumns()) != 1 {
		return persist.NewMappingError(p.EntityName(), p.IdentifierAttribute().Name, "identity generation needs a single identifier column")
	}
	seedVersion(p, a.Entity)
	tv, err := EntityValues(p, a.Entity, nil)
	if err != nil {
		return err
	}
	primary := *tv.Values[p.TableName()]
	var id any
	if x.Dialect.SupportsInsertReturning() {
		row, err := x.queryRow(ctx, InsertReturningSQL(x.Dialect, p.TableName(), primary, p.IdentifierColumns()))
		if err != nil {
			return fmt.Errorf("action: insert %s: %w", p.EntityName(), err)
		}
		id = row[0]
	} else {
		res, err := x.execResult(ctx, InsertSQL(x.Dialect, p.TableName(), primary))
		if err != nil {
			return fmt.Errorf("action: insert %s: %w", p.EntityName(), err)
		}
		if id, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("action: generated identifier of %s: %w", p.EntityName(), err)
		}
	}
	id = engine.NormalizeID(id)
	a.Entity.SetID(id)
	for _, t := range tv.Tables[1:] {
		row := Assignments{}
		row.Add(secondaryKey(p, t), id)
		row.Columns = append(row.Columns, tv.Values[t].Columns...)
		row.Values = append(row.Values, tv.Values[t].Values...)
		if _, err := x.exec(ctx, InsertSQL(x.Dialect, t, row)); err != nil {
			return fmt.Errorf("action: insert %s: %w", p.EntityName(), err)
		}
	}
	if a.Entry != nil {
		a.Entry.ID = id
	}
	markInserted(a.Entry, p, a.Entity)
	return nil
}

// EntityUpdateAction writes the dirty attributes of a managed entity. A
// versioned entity is matched on its loaded version, which is incremented.
type EntityUpdateAction struct {
	Entity    *engine.Entity
	Persister metamodel.EntityPersister
	Entry     *engine.EntityEntry
	Dirty     []string
	// ForceIncrement increments the version even without dirty attributes.
	ForceIncrement bool
}

// QuerySpaces implements Action.
func (a *EntityUpdateAction) QuerySpaces() []string { return a.Persister.QuerySpaces() }

// Execute updates the tables holding dirty columns. A secondary row that
// does not exist yet is inserted. A primary row that is not matched fails
// with an optimistic lock error.
func (a *EntityUpdateAction) Execute(ctx context.Context, x *Executor) error {
	p := a.Persister
	dirty := a.Dirty
	if dirty == nil {
		dirty = []string{}
	}
	tv, err := EntityValues(p, a.Entity, dirty)
	if err != nil {
		return err
	}
	id := a.Entry.ID
	v := p.VersionAttribute()
	bump := v != nil && (len(dirty) > 0 || a.ForceIncrement)
	var next any
	if bump {
		if next, err = NextVersion(a.Entry.Version); err != nil {
			return persist.NewMappingError(p.EntityName(), v.Name, "%v", err)
		}
	}
	for _, t := range tv.Tables {
		set := *tv.Values[t]
		if t == p.TableName() {
			cond := IDCondition(p.IdentifierColumns(), id)
			if bump {
				set.Add(v.Columns, next)
				cond.Add(v.Columns, a.Entry.Version)
			}
			if set.Len() == 0 {
				continue
			}
			n, err := x.exec(ctx, UpdateSQL(x.Dialect, t, set, cond))
			if err != nil {
				return fmt.Errorf("action: update %s: %w", p.EntityName(), err)
			}
			if n == 0 {
				return persist.NewOptimisticLockError(p.EntityName(), id)
			}
			continue
		}
		if set.Len() == 0 {
			continue
		}
		n, err := x.exec(ctx, UpdateSQL(x.Dialect, t, set, IDCondition(secondaryKey(p, t), id)))
		if err != nil {
			return fmt.Errorf("action: update %s: %w", p.EntityName(), err)
		}
		if n == 0 {
			row := IDCondition(secondaryKey(p, t), id)
			row.Columns = append(row.Columns, set.Columns...)
			row.Values = append(row.Values, set.Values...)
			if _, err := x.exec(ctx, InsertSQL(x.Dialect, t, row)); err != nil {
				return fmt.Errorf("action: insert %s: %w", p.EntityName(), err)
			}
		}
	}
	if bump {
		a.Entity.Set(v.Name, next)
		a.Entry.Version = next
	}
	a.Entry.LoadedState = engine.Snapshot(p, a.Entity)
	return nil
}

// EntityDeleteAction deletes a managed entity. A versioned entity is
// matched on its loaded version.
type EntityDeleteAction struct {
	Entity    *engine.Entity
	Persister metamodel.EntityPersister
	Entry     *engine.EntityEntry
}

// QuerySpaces implements Action.
func (a *EntityDeleteAction) QuerySpaces() []string { return a.Persister.QuerySpaces() }

// Execute deletes the secondary rows and then the primary row.
func (a *EntityDeleteAction) Execute(ctx context.Context, x *Executor) error {
	p := a.Persister
	id := a.Entry.ID
	for _, st := range p.SecondaryTables() {
		if _, err := x.exec(ctx, DeleteSQL(x.Dialect, st.Table, IDCondition(st.KeyColumns, id))); err != nil {
			return fmt.Errorf("action: delete %s: %w", p.EntityName(), err)
		}
	}
	cond := IDCondition(p.IdentifierColumns(), id)
	if v := p.VersionAttribute(); v != nil {
		cond.Add(v.Columns, a.Entry.Version)
	}
	n, err := x.exec(ctx, DeleteSQL(x.Dialect, p.TableName(), cond))
	if err != nil {
		return fmt.Errorf("action: delete %s: %w", p.EntityName(), err)
	}
	if n == 0 {
		return persist.NewOptimisticLockError(p.EntityName(), id)
	}
	a.Entry.Status = engine.StatusGone
	a.Entry.ExistsInDatabase = false
	return nil
}

// NextVersion returns the version following v. Integer versions are
// incremented, a nil version starts at 1.
func NextVersion(v any) (any, error) {
	switch v := v.(type) {
	case nil:
		return int64(1), nil
	case int:
		return int64(v) + 1, nil
	case int32:
		return int64(v) + 1, nil
	case int64:
		return v + 1, nil
	case uint32:
		return int64(v) + 1, nil
	case uint64:
		if v >= math.MaxInt64 {
			return nil, fmt.Errorf("version %d overflows int64", v)
		}
		return int64(v) + 1, nil
	}
	return nil, fmt.Errorf("unsupported version value %T", v)
}

// seedVersion sets the initial version of a new versioned entity.
func seedVersion(p metamodel.EntityPersister, e *engine.Entity) {
	if v := p.VersionAttribute(); v != nil && e.Get(v.Name) == nil {
		e.Set(v.Name, int64(0))
	}
}

func markInserted(entry *engine.EntityEntry, p metamodel.EntityPersister, e *engine.Entity) {
	if entry == nil {
		return
	}
	entry.ExistsInDatabase = true
	entry.Status = engine.StatusManaged
	entry.LoadedState = engine.Snapshot(p, e)
	if v := p.VersionAttribute(); v != nil {
		entry.Version = e.Get(v.Name)
	}
}

// secondaryKey returns the key columns of a secondary table.
func secondaryKey(p metamodel.EntityPersister, table string) []string {
	for _, st := range p.SecondaryTables() {
		if st.Table == table {
			return st.KeyColumns
		}
	}
	return p.IdentifierColumns()
}
