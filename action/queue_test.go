package action

import (
	"context"
	"testing"

	"github.com/syssam/persist/dialect"
	"github.com/syssam/persist/engine"
	"github.com/syssam/persist/internal/testmodel"
	"github.com/syssam/persist/metamodel"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func shopGraph(t *testing.T, mm *metamodel.Metamodel) (order, item, product *engine.Entity) {
	t.Helper()
	order = engine.New("Order").Set("customer", "bob")
	order.SetID(int64(1))
	product = engine.New("Product").Set("sku", "p")
	product.SetID(int64(2))
	item = engine.New("LineItem").Set("quantity", int64(3)).Set("order", order).Set("product", product)
	item.SetID(int64(3))
	return order, item, product
}

func TestQueueInsertsParentsFirst(t *testing.T) {
	mm := testmodel.Shop()
	x, mock := executor(t, dialect.Postgres, mm)
	order, item, product := shopGraph(t, mm)

	q := NewQueue()
	q.AddInsert(&EntityInsertAction{Entity: item, Persister: entity(t, mm, "LineItem")})
	q.AddInsert(&EntityInsertAction{Entity: order, Persister: entity(t, mm, "Order")})
	q.AddInsert(&EntityInsertAction{Entity: product, Persister: entity(t, mm, "Product")})
	require.Equal(t, 3, q.Len())

	mock.ExpectExec("insert into orders (id, customer, version) values ($1, $2, $3)").
		WithArgs(1, "bob", 0).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("insert into products (id, sku) values ($1, $2)").
		WithArgs(2, "p").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("insert into line_items (id, quantity, order_id, product_id) values ($1, $2, $3, $4)").
		WithArgs(3, 3, 1, 2).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, q.Execute(context.Background(), x))
	require.NoError(t, mock.ExpectationsWereMet())
	assert.Zero(t, q.Len())
}

func TestQueueDeletesChildrenFirst(t *testing.T) {
	mm := testmodel.Shop()
	order, item, _ := shopGraph(t, mm)
	orderDel := &EntityDeleteAction{Entity: order, Persister: entity(t, mm, "Order")}
	itemDel := &EntityDeleteAction{Entity: item, Persister: entity(t, mm, "LineItem")}

	q := NewQueue()
	q.AddDelete(orderDel)
	q.AddDelete(itemDel)
	assert.Equal(t, []Action{itemDel, orderDel}, q.Actions())
	assert.True(t, q.IsScheduledForDeletion(order))
	assert.False(t, q.IsScheduledForDeletion(engine.New("Order")))
}

func TestQueueExecutionOrder(t *testing.T) {
	mm := testmodel.Shop()
	order, item, product := shopGraph(t, mm)
	tags := collection(t, mm, "Order.tags")

	ins := &EntityInsertAction{Entity: product, Persister: entity(t, mm, "Product")}
	upd := &EntityUpdateAction{Entity: order, Persister: entity(t, mm, "Order")}
	del := &EntityDeleteAction{Entity: item, Persister: entity(t, mm, "LineItem")}
	rm := &CollectionRemoveAction{Persister: tags, Key: int64(1)}
	cu := &CollectionUpdateAction{Persister: tags, Key: int64(1)}
	cr := &CollectionRecreateAction{Persister: tags, Key: int64(1)}

	q := NewQueue()
	q.AddDelete(del)
	q.AddCollectionRecreate(cr)
	q.AddCollectionUpdate(cu)
	q.AddCollectionRemove(rm)
	q.AddUpdate(upd)
	q.AddInsert(ins)
	assert.Equal(t, []Action{ins, upd, rm, cu, cr, del}, q.Actions())

	assert.True(t, q.AreTablesToBeUpdated([]string{"orders_tags"}))
	assert.True(t, q.AreTablesToBeUpdated([]string{"customers", "line_items"}))
	assert.False(t, q.AreTablesToBeUpdated([]string{"customers"}))
	assert.False(t, q.AreTablesToBeUpdated(nil))

	q.Clear()
	assert.Zero(t, q.Len())
	assert.False(t, q.AreTablesToBeUpdated([]string{"orders"}))
}

func TestQueueGroupsInsertsByEntity(t *testing.T) {
	mm := testmodel.Shop()
	p1 := engine.New("Product").Set("sku", "a")
	o1 := engine.New("Order")
	p2 := engine.New("Product").Set("sku", "b")
	a1 := &EntityInsertAction{Entity: p1, Persister: entity(t, mm, "Product")}
	a2 := &EntityInsertAction{Entity: o1, Persister: entity(t, mm, "Order")}
	a3 := &EntityInsertAction{Entity: p2, Persister: entity(t, mm, "Product")}

	q := NewQueue()
	q.AddInsert(a1)
	q.AddInsert(a2)
	q.AddInsert(a3)
	assert.Equal(t, []Action{a1, a3, a2}, q.Actions())
}

func TestQueueBreaksCycles(t *testing.T) {
	mm := testmodel.Company()
	p := entity(t, mm, "Employee")
	a := engine.New("Employee")
	b := engine.New("Employee").Set("manager", a)
	a.Set("manager", b)
	first := &EntityInsertAction{Entity: a, Persister: p}
	second := &EntityInsertAction{Entity: b, Persister: p}

	q := NewQueue()
	q.AddInsert(first)
	q.AddInsert(second)
	assert.Equal(t, []Action{first, second}, q.Actions())
}

func TestQueueStopsOnFailure(t *testing.T) {
	mm := testmodel.Shop()
	x, mock := executor(t, dialect.Postgres, mm)
	order, _, product := shopGraph(t, mm)

	q := NewQueue()
	q.AddInsert(&EntityInsertAction{Entity: order, Persister: entity(t, mm, "Order")})
	q.AddInsert(&EntityInsertAction{Entity: product, Persister: entity(t, mm, "Product")})
	mock.ExpectExec("insert into orders (id, customer, version) values ($1, $2, $3)").
		WithArgs(1, "bob", 0).
		WillReturnResult(sqlmock.NewResult(0, 0)).
		WillReturnError(assert.AnError)

	err := q.Execute(context.Background(), x)
	require.ErrorIs(t, err, assert.AnError)
	require.NoError(t, mock.ExpectationsWereMet())
	assert.Zero(t, q.Len())
}
