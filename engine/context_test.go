package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/persist"
	"github.com/syssam/persist/internal/testmodel"
	"github.com/syssam/persist/metamodel"
)

func managedOrder(t *testing.T, pc *PersistenceContext, mm *metamodel.Metamodel, id int64) (*Entity, *PersistentCollection) {
	t.Helper()
	op, err := mm.Entity("Order")
	require.NoError(t, err)
	cp, err := mm.Collection("Order.tags")
	require.NoError(t, err)

	order := NewReference("Order", id)
	tags := NewUninitializedCollection(cp, id, order)
	tags.BeginLoad()
	tags.LoadElement(nil, "rush")
	tags.EndLoad()
	pc.AddInitializedCollection(cp, tags, id)

	order.Hydrate(map[string]any{"customer": "acme", "tags": tags, "version": int64(0)})
	pc.AddEntity(order, &EntityEntry{
		Persister:        op,
		ID:               id,
		LoadedState:      Snapshot(op, order),
		Status:           StatusManaged,
		ExistsInDatabase: true,
	})
	return order, tags
}

func TestPersistenceContextEntities(t *testing.T) {
	t.Parallel()
	mm := testmodel.Shop()
	p, err := mm.Entity("Product")
	require.NoError(t, err)
	pc := NewPersistenceContext()

	ref := pc.AddReference(p, 1)
	assert.Same(t, ref, pc.AddReference(p, int32(1)))
	assert.Nil(t, pc.Entry(ref))
	assert.True(t, pc.Contains(ref))
	assert.Empty(t, pc.Entities())

	pc.BatchFetchQueue().AddBatchLoadableEntityKey(NewEntityKey("Product", 1))
	ref.Hydrate(map[string]any{"sku": "A-1"})
	pc.AddEntity(ref, &EntityEntry{Persister: p, ID: int64(1), Status: StatusManaged})
	assert.Equal(t, []*Entity{ref}, pc.Entities())
	assert.Zero(t, pc.BatchFetchQueue().PendingEntities())

	got, ok := pc.GetEntity(NewEntityKey("Product", 1))
	require.True(t, ok)
	assert.Same(t, ref, got)

	other := New("Product").Set("sku", "B-2")
	other.SetID(int64(2))
	pc.AddEntity(other, &EntityEntry{Persister: p, ID: int64(2), Status: StatusManaged})
	assert.Equal(t, 2, pc.EntityCount())

	pc.RemoveEntity(ref)
	assert.False(t, pc.Contains(ref))
	assert.Equal(t, []*Entity{other}, pc.Entities())
}

func TestPersistenceContextCollections(t *testing.T) {
	t.Parallel()
	mm := testmodel.Shop()
	pc := NewPersistenceContext()
	_, tags := managedOrder(t, pc, mm, 1)

	entry, ok := pc.CollectionEntry(tags)
	require.True(t, ok)
	assert.Equal(t, "Order.tags", entry.Role)
	assert.Equal(t, []any{"rush"}, entry.Snapshot)
	assert.False(t, tags.IsDirty())

	byKey, ok := pc.CollectionByKey("Order.tags", 1)
	require.True(t, ok)
	assert.Same(t, tags, byKey)

	tags.Add("fragile")
	entry.Reached, entry.DoUpdate = true, true
	pc.PostFlush()
	assert.False(t, entry.Reached)
	assert.False(t, entry.IsProcessed())
	assert.Equal(t, []any{"rush", "fragile"}, entry.Snapshot)
	assert.False(t, tags.IsDirty())
}

func TestCollectionDereferenceLifecycle(t *testing.T) {
	t.Parallel()
	mm := testmodel.Shop()
	cp, err := mm.Collection("Order.tags")
	require.NoError(t, err)

	t.Run("Nulled", func(t *testing.T) {
		pc := NewPersistenceContext()
		_, tags := managedOrder(t, pc, mm, 1)
		entry, _ := pc.CollectionEntry(tags)

		p, key, ok := pc.Dereference(tags)
		require.True(t, ok)
		assert.Same(t, cp, p)
		assert.Equal(t, int64(1), key)

		assert.Empty(t, tags.Role())
		assert.Nil(t, tags.Key())
		assert.True(t, tags.IsUnreferenced())
		assert.Empty(t, entry.Role)
		assert.Nil(t, entry.Persister)
		assert.Nil(t, entry.Key)
		assert.Nil(t, entry.Snapshot)
		_, ok = pc.CollectionEntry(tags)
		assert.False(t, ok)
		_, ok = pc.CollectionByKey("Order.tags", 1)
		assert.False(t, ok)
		assert.Empty(t, pc.Collections())
	})

	t.Run("Replaced", func(t *testing.T) {
		pc := NewPersistenceContext()
		order, tags := managedOrder(t, pc, mm, 2)
		old, _ := pc.CollectionEntry(tags)

		replacement, err := WrapCollection(metamodel.CollectionSet, []string{"bulk"})
		require.NoError(t, err)
		entry, err := pc.ReplaceCollection(cp, tags, replacement, order, int64(2))
		require.NoError(t, err)

		assert.NotSame(t, old, entry)
		assert.Equal(t, "Order.tags", entry.Role)
		assert.Same(t, cp, entry.Persister)
		assert.Equal(t, int64(2), entry.Key)
		assert.Nil(t, entry.Snapshot)
		assert.Equal(t, "Order.tags", replacement.Role())
		assert.Same(t, order, replacement.Owner())

		assert.True(t, tags.IsUnreferenced())
		assert.Empty(t, old.Role)
		assert.Nil(t, old.Persister)
		assert.Nil(t, old.Key)

		byKey, ok := pc.CollectionByKey("Order.tags", 2)
		require.True(t, ok)
		assert.Same(t, replacement, byKey)
		assert.Equal(t, []*PersistentCollection{replacement}, pc.Collections())

		_, err = pc.ReplaceCollection(cp, replacement, replacement, order, int64(2))
		assert.True(t, persist.IsIllegalArgument(err))
	})
}

func TestAddNewCollectionRebind(t *testing.T) {
	t.Parallel()
	mm := testmodel.Shop()
	cp, err := mm.Collection("Order.tags")
	require.NoError(t, err)
	pc := NewPersistenceContext()

	c := NewCollection(metamodel.CollectionSet)
	owner := New("Order")
	first, err := pc.AddNewCollection(cp, c, owner, int64(1))
	require.NoError(t, err)
	again, err := pc.AddNewCollection(cp, c, owner, 1)
	require.NoError(t, err)
	assert.Same(t, first, again)

	_, err = pc.AddNewCollection(cp, c, New("Order"), int64(9))
	assert.True(t, persist.IsIllegalState(err))
}

func TestPersistenceContextClear(t *testing.T) {
	t.Parallel()
	mm := testmodel.Shop()
	pc := NewPersistenceContext()
	order, tags := managedOrder(t, pc, mm, 1)
	pc.BatchFetchQueue().AddBatchLoadableEntityKey(NewEntityKey("Product", 5))

	pc.Clear()
	assert.False(t, pc.Contains(order))
	assert.Empty(t, pc.Collections())
	assert.True(t, tags.IsUnreferenced())
	assert.Zero(t, pc.BatchFetchQueue().PendingEntities())
}

func TestBatchFetchQueue(t *testing.T) {
	t.Parallel()
	mm := testmodel.Company()
	cp, err := mm.Collection("Department.employees")
	require.NoError(t, err)

	q := NewBatchFetchQueue()
	for _, id := range []any{1, 2, 3, 4, 5} {
		q.AddBatchLoadableEntityKey(NewEntityKey("Department", id))
	}
	q.AddBatchLoadableEntityKey(NewEntityKey("Department", 2))
	assert.Equal(t, 5, q.PendingEntities())
	assert.Equal(t, []any{int64(3), int64(1), int64(2), int64(4)}, q.EntityBatch("Department", int64(3), 4))
	q.RemoveBatchLoadableEntityKey(NewEntityKey("Department", 1))
	assert.Equal(t, []any{9, int64(2)}, q.EntityBatch("Department", 9, 2))

	var cs []*PersistentCollection
	for i := int64(1); i <= 3; i++ {
		c := NewUninitializedCollection(cp, i, nil)
		cs = append(cs, c)
		q.AddBatchLoadableCollection(c)
	}
	cs[1].BeginLoad()
	cs[1].EndLoad()
	assert.Equal(t, []any{int64(1), int64(3)}, q.CollectionBatch("Department.employees", int64(1), 5))
	q.RemoveBatchLoadableCollection("Department.employees", cs[2])
	assert.Equal(t, []any{int64(1)}, q.CollectionBatch("Department.employees", int64(1), 5))

	q.Clear()
	assert.Zero(t, q.PendingEntities())
}

func TestOrderByKeys(t *testing.T) {
	t.Parallel()
	a := New("Project")
	a.SetID(int64(1))
	b := New("Project")
	b.SetID(int64(2))
	byID := func(e *Entity) any { return NormalizeID(e.ID()) }

	got, errs := OrderByKeys([]any{int64(2), int64(3), int64(1)}, []*Entity{a, b}, byID)
	assert.Equal(t, []*Entity{b, nil, a}, got)
	assert.Nil(t, errs[0])
	assert.ErrorIs(t, errs[1], ErrNotLoaded)
}

func TestInitializedCollectionKeepsQueuedChanges(t *testing.T) {
	t.Parallel()
	mm := testmodel.Shop()
	cp, err := mm.Collection("Order.tags")
	require.NoError(t, err)
	pc := NewPersistenceContext()
	order := NewReference("Order", int64(1))
	tags := NewUninitializedCollection(cp, int64(1), order)
	entry := pc.AddUninitializedCollection(cp, tags, int64(1))
	tags.Add("gift")

	tags.BeginLoad()
	tags.LoadElement(nil, "rush")
	tags.EndLoad()
	pc.AddInitializedCollection(cp, tags, int64(1))

	assert.Equal(t, []any{"rush"}, entry.Snapshot)
	assert.True(t, tags.IsDirty())
	assert.Equal(t, []any{"gift"}, entry.Added(tags))

	entry.DoUpdate = true
	pc.ResetFlushState()
	assert.False(t, entry.IsProcessed())
	pc.PostFlush()
	assert.Equal(t, []any{"rush", "gift"}, entry.Snapshot)
	assert.False(t, tags.IsDirty())
}
