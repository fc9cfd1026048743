package schema

import (
	"context"
	"slices"

	"ariga.io/atlas/sql/schema"

	"github.com/syssam/persist/dialect"
)

// CreateStatements returns the statements creating tables in dialect d.
// Foreign keys are declared with their table unless the dialect needs
// them added afterwards to break a cycle.
func CreateStatements(d dialect.Dialect, tables []*Table) ([]string, error) {
	if res := ValidateSchema(tables); res.HasErrors() {
		return nil, res.Err()
	}
	s, err := Realm(d, "", tables)
	if err != nil {
		return nil, err
	}
	changes := make([]schema.Change, len(s.Tables))
	for i, t := range s.Tables {
		changes[i] = &schema.AddTable{T: t}
	}
	return offlineStatements(d, "create", changes)
}

// DropStatements returns the statements dropping tables in dialect d,
// referencing tables first.
func DropStatements(d dialect.Dialect, tables []*Table) ([]string, error) {
	s, err := Realm(d, "", tables)
	if err != nil {
		return nil, err
	}
	changes := make([]schema.Change, 0, len(s.Tables))
	for _, t := range slices.Backward(s.Tables) {
		changes = append(changes, &schema.DropTable{T: t, Extra: []schema.Clause{&schema.IfExists{}}})
	}
	return offlineStatements(d, "drop", changes)
}

func offlineStatements(d dialect.Dialect, name string, changes []schema.Change) ([]string, error) {
	p, err := offlinePlanner(d)
	if err != nil {
		return nil, err
	}
	planned, err := statements(context.Background(), p, name, changes)
	if err != nil {
		return nil, err
	}
	stmts := make([]string, len(planned))
	for i, c := range planned {
		stmts[i] = c.Cmd
	}
	return stmts, nil
}

// TruncateStatements returns the statements deleting the rows of every
// table, referencing tables first.
func TruncateStatements(tables []*Table) []string {
	stmts := make([]string, 0, len(tables))
	for _, t := range slices.Backward(tables) {
		stmts = append(stmts, "delete from "+t.Name)
	}
	return stmts
}
