package schema

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"ariga.io/atlas/sql/migrate"
	"ariga.io/atlas/sql/schema"

	"github.com/syssam/persist/dialect"
	"github.com/syssam/persist/dialect/sql"
)

// MigrateOption configures a Migrate.
type MigrateOption func(*Migrate)

// WithLogger sets the logger of executed statements.
func WithLogger(l *slog.Logger) MigrateOption {
	return func(m *Migrate) { m.log = l }
}

// WithAtlasDriver sets the driver inspecting and planning the database.
// By default it is opened on the *sql.DB under the statement driver.
func WithAtlasDriver(drv migrate.Driver) MigrateOption {
	return func(m *Migrate) { m.atlas = drv }
}

// Migrate manages a set of tables in a database. The database is
// inspected and changes are planned with atlas; the planned statements
// run on the statement driver.
type Migrate struct {
	drv    dialect.ExecQuerier
	d      dialect.Dialect
	tables []*Table
	log    *slog.Logger

	once  sync.Once
	atlas migrate.Driver
	err   error
}

// NewMigrate returns a Migrate of tables running statements on drv.
func NewMigrate(drv dialect.ExecQuerier, d dialect.Dialect, tables []*Table, opts ...MigrateOption) *Migrate {
	m := &Migrate{drv: drv, d: d, tables: tables, log: slog.Default()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Tables returns the managed tables.
func (m *Migrate) Tables() []*Table { return m.tables }

func (m *Migrate) driver() (migrate.Driver, error) {
	m.once.Do(func() {
		if m.atlas != nil {
			return
		}
		drv, ok := sql.Unwrap(m.drv)
		if !ok {
			m.err = fmt.Errorf("schema: cannot inspect the database through %T", m.drv)
			return
		}
		m.atlas, m.err = openAtlas(m.d, drv.DB())
	})
	return m.atlas, m.err
}

// inspect returns the managed tables existing in the database.
func (m *Migrate) inspect(ctx context.Context) (migrate.Driver, *schema.Schema, error) {
	drv, err := m.driver()
	if err != nil {
		return nil, nil, err
	}
	names := make([]string, len(m.tables))
	for i, t := range m.tables {
		names[i] = t.Name
	}
	current, err := drv.InspectSchema(ctx, "", &schema.InspectOptions{Tables: names})
	if err != nil {
		return nil, nil, fmt.Errorf("schema: inspect: %w", err)
	}
	return drv, current, nil
}

// apply plans changes and runs the statements in order.
func (m *Migrate) apply(ctx context.Context, p migrate.PlanApplier, name string, changes []schema.Change) error {
	planned, err := statements(ctx, p, name, changes)
	if err != nil {
		return err
	}
	for _, c := range planned {
		m.log.DebugContext(ctx, "schema statement", "sql", c.Cmd)
		args := c.Args
		if args == nil {
			args = []any{}
		}
		if err := m.drv.Exec(ctx, c.Cmd, args, nil); err != nil {
			return fmt.Errorf("schema: %s: %w", c.Cmd, err)
		}
	}
	return nil
}

// Create creates the tables and their foreign keys. It fails if a table
// exists.
func (m *Migrate) Create(ctx context.Context) error {
	if res := ValidateSchema(m.tables); res.HasErrors() {
		return res.Err()
	}
	drv, err := m.driver()
	if err != nil {
		return err
	}
	desired, err := Realm(m.d, "", m.tables)
	if err != nil {
		return err
	}
	changes := make([]schema.Change, len(desired.Tables))
	for i, t := range desired.Tables {
		changes[i] = &schema.AddTable{T: t}
	}
	return m.apply(ctx, drv, "create", changes)
}

// Drop drops the managed tables existing in the database, referencing
// tables first.
func (m *Migrate) Drop(ctx context.Context) error {
	drv, current, err := m.inspect(ctx)
	if err != nil {
		return err
	}
	var changes []schema.Change
	for _, t := range slices.Backward(m.tables) {
		if ct, ok := findTable(current, t.Name); ok {
			changes = append(changes, &schema.DropTable{T: ct})
		}
	}
	return m.apply(ctx, drv, "drop", changes)
}

// Truncate deletes the rows of every table.
func (m *Migrate) Truncate(ctx context.Context) error {
	for _, s := range TruncateStatements(m.tables) {
		m.log.DebugContext(ctx, "schema statement", "sql", s)
		if err := m.drv.Exec(ctx, s, []any{}, nil); err != nil {
			return fmt.Errorf("schema: %s: %w", s, err)
		}
	}
	return nil
}

// Update creates the missing tables and adds the missing columns of
// existing ones. Nothing is dropped or altered.
func (m *Migrate) Update(ctx context.Context) error {
	if res := ValidateSchema(m.tables); res.HasErrors() {
		return res.Err()
	}
	drv, current, err := m.inspect(ctx)
	if err != nil {
		return err
	}
	desired, err := Realm(m.d, current.Name, m.tables)
	if err != nil {
		return err
	}
	changes, err := drv.SchemaDiff(current, desired, schema.DiffSkipChanges(
		&schema.DropTable{}, &schema.DropColumn{}, &schema.ModifyColumn{},
		&schema.DropIndex{}, &schema.ModifyIndex{}, &schema.DropForeignKey{},
		&schema.ModifyForeignKey{}, &schema.ModifySchema{},
	))
	if err != nil {
		return fmt.Errorf("schema: diff: %w", err)
	}
	return m.apply(ctx, drv, "update", additive(changes))
}

// additive keeps the table and column additions of changes. Added
// columns are nullable since the table may hold rows.
func additive(changes []schema.Change) []schema.Change {
	var out []schema.Change
	for _, c := range changes {
		switch c := c.(type) {
		case *schema.AddTable:
			out = append(out, c)
		case *schema.ModifyTable:
			var adds []schema.Change
			for _, tc := range c.Changes {
				if add, ok := tc.(*schema.AddColumn); ok {
					add.C.Type.Null = true
					adds = append(adds, add)
				}
			}
			if len(adds) > 0 {
				out = append(out, &schema.ModifyTable{T: c.T, Changes: adds})
			}
		}
	}
	return out
}

// Validate checks that every table and column exists in the database.
// Column types are not compared.
func (m *Migrate) Validate(ctx context.Context) (*ValidationResult, error) {
	result := ValidateSchema(m.tables)
	_, current, err := m.inspect(ctx)
	if err != nil {
		return nil, err
	}
	for _, t := range m.tables {
		ct, ok := findTable(current, t.Name)
		if !ok {
			result.Errors = append(result.Errors, &ValidationError{Table: t.Name, Message: "missing table"})
			continue
		}
		for _, c := range t.Columns {
			if !hasColumn(ct, c.Name) {
				result.Errors = append(result.Errors, &ValidationError{Table: t.Name, Column: c.Name, Message: "missing column"})
			}
		}
	}
	return result, nil
}

func findTable(s *schema.Schema, name string) (*schema.Table, bool) {
	for _, t := range s.Tables {
		if strings.EqualFold(t.Name, name) {
			return t, true
		}
	}
	return nil, false
}

func hasColumn(t *schema.Table, name string) bool {
	for _, c := range t.Columns {
		if strings.EqualFold(c.Name, name) {
			return true
		}
	}
	return false
}
