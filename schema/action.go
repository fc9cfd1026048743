package schema

import (
	"fmt"
	"strings"

	"github.com/syssam/persist"

	"golang.org/x/text/cases"
)

// Setting keys carrying a schema action.
const (
	JakartaDatabaseAction = "jakarta.persistence.schema-generation.database.action"
	JavaxDatabaseAction   = "javax.persistence.schema-generation.database.action"
	JakartaScriptsAction  = "jakarta.persistence.schema-generation.scripts.action"
	JavaxScriptsAction    = "javax.persistence.schema-generation.scripts.action"
	Hbm2ddlAuto           = "hibernate.hbm2ddl.auto"
)

// Action is a schema management action.
type Action int

// Schema actions.
const (
	// None does nothing.
	None Action = iota
	// CreateOnly creates the schema without dropping anything first.
	CreateOnly
	// Drop drops the schema.
	Drop
	// Create drops and then creates the schema.
	Create
	// CreateDrop creates the schema and drops it when the factory closes.
	CreateDrop
	// Validate checks the schema against the mapping.
	Validate
	// Update alters the schema to match the mapping.
	Update
	// Truncate deletes the data of every mapped table.
	Truncate
	// Populate runs the import scripts only.
	Populate
)

type names struct {
	name, jpa, hbm2ddl string
}

var actionNames = [...]names{
	None:       {"NONE", "none", "none"},
	CreateOnly: {"CREATE_ONLY", "create", "create-only"},
	Drop:       {"DROP", "drop", "drop"},
	Create:     {"CREATE", "drop-and-create", "create"},
	CreateDrop: {"CREATE_DROP", "", "create-drop"},
	Validate:   {"VALIDATE", "", "validate"},
	Update:     {"UPDATE", "", "update"},
	Truncate:   {"TRUNCATE", "", ""},
	Populate:   {"POPULATE", "", "populate"},
}

// Actions returns every action in declaration order.
func Actions() []Action {
	out := make([]Action, len(actionNames))
	for i := range actionNames {
		out[i] = Action(i)
	}
	return out
}

// String returns the enum name of the action, e.g. "CREATE_DROP".
func (a Action) String() string {
	if a >= 0 && int(a) < len(actionNames) {
		return actionNames[a].name
	}
	return fmt.Sprintf("Action(%d)", int(a))
}

// JPAName returns the JPA setting value of the action, empty when JPA
// does not define one.
func (a Action) JPAName() string {
	if a >= 0 && int(a) < len(actionNames) {
		return actionNames[a].jpa
	}
	return ""
}

// Hbm2ddlName returns the hibernate.hbm2ddl.auto value of the action,
// empty when there is none.
func (a Action) Hbm2ddlName() string {
	if a >= 0 && int(a) < len(actionNames) {
		return actionNames[a].hbm2ddl
	}
	return ""
}

// IncludesCreate reports whether the action creates schema objects.
func (a Action) IncludesCreate() bool {
	return a == CreateOnly || a == Create || a == CreateDrop
}

// IncludesDrop reports whether the action drops schema objects, either
// before creating or on shutdown.
func (a Action) IncludesDrop() bool {
	return a == Drop || a == Create || a == CreateDrop
}

// InterpretJpaSetting resolves a JPA schema action setting. JPA names are
// tried first, then the legacy names, then the enum names ignoring case.
// A nil or blank value is None.
func InterpretJpaSetting(value any) (Action, error) {
	return interpret(value, []string{JakartaDatabaseAction, JavaxDatabaseAction}, Action.JPAName, Action.Hbm2ddlName)
}

// InterpretHbm2ddlSetting resolves a hibernate.hbm2ddl.auto setting. The
// legacy names are tried first, then the JPA names, then the enum names
// ignoring case. A nil or blank value is None.
func InterpretHbm2ddlSetting(value any) (Action, error) {
	return interpret(value, []string{Hbm2ddlAuto}, Action.Hbm2ddlName, Action.JPAName)
}

func interpret(value any, keys []string, first, second func(Action) string) (Action, error) {
	var name string
	switch v := value.(type) {
	case nil:
		return None, nil
	case Action:
		return v, nil
	case string:
		name = strings.TrimSpace(v)
	case fmt.Stringer:
		name = strings.TrimSpace(v.String())
	default:
		return None, persist.NewUnrecognizedSettingError(value, keys...)
	}
	if name == "" {
		return None, nil
	}
	for _, names := range []func(Action) string{first, second} {
		for _, a := range Actions() {
			if n := names(a); n != "" && n == name {
				return a, nil
			}
		}
	}
	fold := cases.Fold()
	folded := fold.String(name)
	for _, a := range Actions() {
		if fold.String(a.String()) == folded {
			return a, nil
		}
	}
	return None, persist.NewUnrecognizedSettingError(value, keys...)
}

// Grouping is the schema actions resolved from a set of settings.
type Grouping struct {
	// Database is applied to the database the factory connects to.
	Database Action
	// Scripts is written to script targets.
	Scripts Action
}

// InterpretSettings resolves the schema actions of a settings map. The
// database action comes from the JPA keys when present and from
// hibernate.hbm2ddl.auto otherwise.
func InterpretSettings(props map[string]any) (Grouping, error) {
	var (
		g   Grouping
		err error
	)
	switch v, key := lookup(props, JakartaDatabaseAction, JavaxDatabaseAction); {
	case key != "":
		g.Database, err = InterpretJpaSetting(v)
	default:
		g.Database, err = InterpretHbm2ddlSetting(props[Hbm2ddlAuto])
	}
	if err != nil {
		return Grouping{}, err
	}
	if v, key := lookup(props, JakartaScriptsAction, JavaxScriptsAction); key != "" {
		if g.Scripts, err = interpret(v, []string{JakartaScriptsAction, JavaxScriptsAction}, Action.JPAName, Action.Hbm2ddlName); err != nil {
			return Grouping{}, err
		}
	}
	return g, nil
}

// lookup returns the value of the first key present in props.
func lookup(props map[string]any, keys ...string) (any, string) {
	for _, k := range keys {
		if v, ok := props[k]; ok {
			return v, k
		}
	}
	return nil, ""
}
