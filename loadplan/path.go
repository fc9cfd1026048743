package loadplan

import "strings"

// PropertyPath is the navigation path from a return to a fetch, such as
// "Employee.manager.department".
type PropertyPath struct {
	parent   *PropertyPath
	property string
}

// NewPropertyPath returns a root path.
func NewPropertyPath(root string) *PropertyPath {
	return &PropertyPath{property: root}
}

// Append returns the child path for the given property.
func (p *PropertyPath) Append(property string) *PropertyPath {
	return &PropertyPath{parent: p, property: property}
}

// Parent returns the parent path, or nil at the root.
func (p *PropertyPath) Parent() *PropertyPath { return p.parent }

// Property returns the last path element.
func (p *PropertyPath) Property() string { return p.property }

// IsRoot reports whether the path has no parent.
func (p *PropertyPath) IsRoot() bool { return p.parent == nil }

// FullPath returns the dot separated path.
func (p *PropertyPath) FullPath() string {
	if p == nil {
		return ""
	}
	var parts []string
	for cur := p; cur != nil; cur = cur.parent {
		parts = append(parts, cur.property)
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, ".")
}

// String implements fmt.Stringer.
func (p *PropertyPath) String() string {
	return "PropertyPath[" + p.FullPath() + "]"
}
