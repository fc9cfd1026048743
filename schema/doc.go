// Package schema holds the vocabulary of schema management actions.
//
// An Action names what tooling should do to the database schema when a
// session factory starts: nothing, create, drop, recreate, validate or
// update it. Settings carry the action under the JPA keys
//
//	jakarta.persistence.schema-generation.database.action
//	javax.persistence.schema-generation.database.action
//
// with the values none, create, drop and drop-and-create, or under the
// legacy key hibernate.hbm2ddl.auto with the values none, create-only,
// drop, create, create-drop, validate, update and populate. Both forms
// resolve to the same Action; note that the JPA "create" is the legacy
// "create-only" and the JPA "drop-and-create" is the legacy "create".
//
// Package dialect/sql/schema executes the database actions and
// session.Factory.ManageSchema applies the configured one.
package schema
