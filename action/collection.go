package action

import (
	"context"
	"fmt"

	"github.com/syssam/persist"
	"github.com/syssam/persist/engine"
	"github.com/syssam/persist/metamodel"
)

// CollectionRecreateAction writes every row of a new or replaced
// collection.
type CollectionRecreateAction struct {
	Collection *engine.PersistentCollection
	Persister  metamodel.CollectionPersister
	Key        any
}

// QuerySpaces implements Action.
func (a *CollectionRecreateAction) QuerySpaces() []string { return []string{a.Persister.TableName()} }

// Execute inserts one row per element. One-to-many elements are linked by
// updating their foreign key. Inverse collections write nothing.
func (a *CollectionRecreateAction) Execute(ctx context.Context, x *Executor) error {
	cp := a.Persister
	if cp.IsInverse() {
		return nil
	}
	if cp.IsOneToMany() {
		for i, el := range a.Collection.Elements() {
			if err := link(ctx, x, cp, a.Key, indexOf(a.Collection, i), el); err != nil {
				return err
			}
		}
		return nil
	}
	return insertRows(ctx, x, cp, a.Key, a.Collection)
}

// CollectionRemoveAction deletes every row of a collection whose owner
// was deleted or no longer references it.
type CollectionRemoveAction struct {
	Persister metamodel.CollectionPersister
	Key       any
	// Collection is the removed wrapper, nil when it was never loaded.
	Collection *engine.PersistentCollection
}

// QuerySpaces implements Action.
func (a *CollectionRemoveAction) QuerySpaces() []string { return []string{a.Persister.TableName()} }

// Execute deletes the rows of the key. One-to-many elements are unlinked
// by nulling their foreign key. Inverse collections write nothing.
func (a *CollectionRemoveAction) Execute(ctx context.Context, x *Executor) error {
	cp := a.Persister
	if cp.IsInverse() {
		return nil
	}
	cond := IDCondition(cp.KeyColumns(), a.Key)
	if cp.IsOneToMany() {
		var set Assignments
		set.Add(cp.KeyColumns(), nil)
		if len(cp.IndexColumns()) > 0 {
			set.Add(cp.IndexColumns(), nil)
		}
		if _, err := x.exec(ctx, UpdateSQL(x.Dialect, cp.TableName(), set, cond)); err != nil {
			return fmt.Errorf("action: remove %s: %w", cp.Role(), err)
		}
		return nil
	}
	if _, err := x.exec(ctx, DeleteSQL(x.Dialect, cp.TableName(), cond)); err != nil {
		return fmt.Errorf("action: remove %s: %w", cp.Role(), err)
	}
	return nil
}

// CollectionUpdateAction writes the changes of a dirty collection since
// its snapshot.
type CollectionUpdateAction struct {
	Collection *engine.PersistentCollection
	Persister  metamodel.CollectionPersister
	Key        any
	Entry      *engine.CollectionEntry
}

// QuerySpaces implements Action.
func (a *CollectionUpdateAction) QuerySpaces() []string { return []string{a.Persister.TableName()} }

// Execute deletes the rows of removed elements and inserts the rows of
// added ones. Sets are updated element by element; bags, lists and maps
// have no row identity and are rewritten. One-to-many elements are
// unlinked and linked instead, and inverse collections write nothing.
func (a *CollectionUpdateAction) Execute(ctx context.Context, x *Executor) error {
	cp, c := a.Persister, a.Collection
	if cp.IsInverse() {
		return nil
	}
	if a.Entry == nil {
		return persist.NewIllegalStateError("collection %s#%v updated without entry", cp.Role(), a.Key)
	}
	switch {
	case cp.IsOneToMany():
		for _, el := range a.Entry.Orphans(c) {
			if err := link(ctx, x, cp, nil, nil, el); err != nil {
				return err
			}
		}
		if cp.Kind().IsIndexed() {
			for i, el := range c.Elements() {
				if err := link(ctx, x, cp, a.Key, indexOf(c, i), el); err != nil {
					return err
				}
			}
			return nil
		}
		for _, el := range a.Entry.Added(c) {
			if err := link(ctx, x, cp, a.Key, nil, el); err != nil {
				return err
			}
		}
		return nil
	case cp.Kind() == metamodel.CollectionSet:
		for _, el := range a.Entry.Orphans(c) {
			cond, err := elementCondition(cp, a.Key, el)
			if err != nil {
				return err
			}
			if _, err := x.exec(ctx, DeleteSQL(x.Dialect, cp.TableName(), cond)); err != nil {
				return fmt.Errorf("action: update %s: %w", cp.Role(), err)
			}
		}
		for _, el := range a.Entry.Added(c) {
			row, err := elementRow(cp, a.Key, nil, el)
			if err != nil {
				return err
			}
			if _, err := x.exec(ctx, InsertSQL(x.Dialect, cp.TableName(), row)); err != nil {
				return fmt.Errorf("action: update %s: %w", cp.Role(), err)
			}
		}
		return nil
	default:
		if _, err := x.exec(ctx, DeleteSQL(x.Dialect, cp.TableName(), IDCondition(cp.KeyColumns(), a.Key))); err != nil {
			return fmt.Errorf("action: update %s: %w", cp.Role(), err)
		}
		return insertRows(ctx, x, cp, a.Key, c)
	}
}

func insertRows(ctx context.Context, x *Executor, cp metamodel.CollectionPersister, key any, c *engine.PersistentCollection) error {
	for i, el := range c.Elements() {
		row, err := elementRow(cp, key, indexOf(c, i), el)
		if err != nil {
			return err
		}
		if _, err := x.exec(ctx, InsertSQL(x.Dialect, cp.TableName(), row)); err != nil {
			return fmt.Errorf("action: insert %s: %w", cp.Role(), err)
		}
	}
	return nil
}

// link points the foreign key of a one-to-many element at key. A nil key
// unlinks the element.
func link(ctx context.Context, x *Executor, cp metamodel.CollectionPersister, key, index, el any) error {
	target, err := x.Resolver.Entity(cp.ElementEntityName())
	if err != nil {
		return err
	}
	id, err := referenceID(cp.OwnerEntityName(), cp.AttributeName(), el)
	if err != nil {
		return err
	}
	if id == nil {
		return nil
	}
	var set Assignments
	set.Add(cp.KeyColumns(), key)
	if len(cp.IndexColumns()) > 0 {
		set.Add(cp.IndexColumns(), index)
	}
	if _, err := x.exec(ctx, UpdateSQL(x.Dialect, cp.TableName(), set, IDCondition(target.IdentifierColumns(), id))); err != nil {
		return fmt.Errorf("action: link %s: %w", cp.Role(), err)
	}
	return nil
}

// indexOf returns the index column value of the i-th element: the
// position of list elements and the key of map entries.
func indexOf(c *engine.PersistentCollection, i int) any {
	switch c.Kind() {
	case metamodel.CollectionList:
		return int64(i)
	case metamodel.CollectionMap:
		return c.Keys()[i]
	}
	return nil
}
