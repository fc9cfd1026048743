// Package persist is the root of an object/relational persistence core.
//
// It turns a mapping metamodel (package metamodel) into load plans
// (packages walker, loadplan and loadplan/build), lowers them into SQL
// (packages loader, sqlast and locking), and keeps a unit of work in a
// session-scoped persistence context that is flushed through an ordered
// action queue (packages engine, action and session). A second-level
// cache (package cache) can sit in front of the database.
//
// The root package holds what every other package shares: the error
// taxonomy, lock modes and scopes, fetch strategies and the storage
// contract for cache regions.
//
// A typical program builds a metamodel, opens a factory and works
// inside sessions:
//
//	mm, err := metamodel.LoadMapping(data)
//	drv, err := sql.Open(dialect.SQLite, "file:app.db")
//	factory, err := session.NewFactory(mm, drv)
//	s := factory.OpenSession()
//	defer s.Close()
//	emp, err := s.Get(ctx, "Employee", 1)
package persist
