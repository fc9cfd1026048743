package metamodel

import (
	"fmt"
	"strings"

	"github.com/syssam/persist"
)

// ValidationError is a problem found in a built metamodel.
type ValidationError struct {
	Entity    string
	Attribute string
	Message   string
}

func (e *ValidationError) Error() string {
	if e.Attribute != "" {
		return fmt.Sprintf("%s.%s: %s", e.Entity, e.Attribute, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Entity, e.Message)
}

// ValidationResult holds the results of metamodel validation.
type ValidationResult struct {
	Errors   []*ValidationError
	Warnings []*ValidationError
}

// HasErrors returns true if there are any validation errors.
func (r *ValidationResult) HasErrors() bool {
	return len(r.Errors) > 0
}

// HasWarnings returns true if there are any validation warnings.
func (r *ValidationResult) HasWarnings() bool {
	return len(r.Warnings) > 0
}

// Err returns the errors as a single *persist.MappingError, or nil.
func (r *ValidationResult) Err() error {
	if !r.HasErrors() {
		return nil
	}
	msgs := make([]string, len(r.Errors))
	for i, e := range r.Errors {
		msgs[i] = e.Error()
	}
	return persist.NewMappingError("", "", "%s", strings.Join(msgs, "; "))
}

// String returns a human-readable summary of the validation result.
func (r *ValidationResult) String() string {
	var sb strings.Builder
	if len(r.Errors) > 0 {
		sb.WriteString("Errors:\n")
		for _, e := range r.Errors {
			sb.WriteString("  - ")
			sb.WriteString(e.Error())
			sb.WriteString("\n")
		}
	}
	if len(r.Warnings) > 0 {
		sb.WriteString("Warnings:\n")
		for _, w := range r.Warnings {
			sb.WriteString("  - ")
			sb.WriteString(w.Error())
			sb.WriteString("\n")
		}
	}
	if !r.HasErrors() && !r.HasWarnings() {
		sb.WriteString("Mapping is valid.\n")
	}
	return sb.String()
}

// Validate checks consistency rules that span several mappings:
// repeated columns within one table are errors, and eagerly joined
// collections beyond the first or inverse collections nobody maintains
// are warnings.
func Validate(mm *Metamodel) *ValidationResult {
	r := &ValidationResult{}
	for _, name := range mm.order {
		e := mm.entities[name]
		seen := map[string]string{}
		note := func(attr, table, col string) {
			k := table + "." + col
			if prev, dup := seen[k]; dup {
				r.Errors = append(r.Errors, &ValidationError{
					Entity:    name,
					Attribute: attr,
					Message:   fmt.Sprintf("repeated column %s (already mapped by %s)", k, prev),
				})
				return
			}
			seen[k] = attr
		}
		for _, col := range e.id.Columns {
			note(e.id.Name, e.table, col)
		}
		var walk func(prefix string, attrs []*Attribute)
		walk = func(prefix string, attrs []*Attribute) {
			for _, a := range attrs {
				switch a.Kind {
				case KindBasic, KindManyToOne, KindOneToOne, KindAny:
					for _, col := range a.Columns {
						note(prefix+a.Name, a.TableName(), col)
					}
				case KindComposite:
					walk(prefix+a.Name+".", a.Component.Attributes)
				}
			}
		}
		walk("", e.attributes)

		joined := 0
		for _, a := range e.attributes {
			if a.Kind != KindCollection {
				continue
			}
			c := mm.collections[a.Role]
			if a.Fetch.Timing == persist.FetchImmediate && a.Fetch.Style == persist.StyleJoin {
				joined++
				if joined > 1 {
					r.Warnings = append(r.Warnings, &ValidationError{
						Entity:    name,
						Attribute: a.Name,
						Message:   "only one collection per entity is join fetched, this one falls back to select fetching",
					})
				}
			}
			if c.inverse && c.oneToMany && !hasOwningSide(mm, c) {
				r.Warnings = append(r.Warnings, &ValidationError{
					Entity:    name,
					Attribute: a.Name,
					Message:   fmt.Sprintf("inverse collection but %s maps no to-one on columns %v", c.elementEntity, c.keyColumns),
				})
			}
		}
	}
	return r
}

func hasOwningSide(mm *Metamodel, c *Collection) bool {
	target := mm.entities[c.elementEntity]
	key := c.AssociationKey()
	for _, a := range target.attributes {
		if a.IsToOne() && a.Target == c.owner && a.key == key {
			return true
		}
	}
	return false
}
