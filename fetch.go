package persist

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
)

// FetchTiming says when an association is loaded.
type FetchTiming int

const (
	// FetchImmediate loads the association together with its owner.
	FetchImmediate FetchTiming = iota
	// FetchDelayed leaves the association uninitialized until accessed.
	FetchDelayed
)

// String returns the external name of the timing.
func (t FetchTiming) String() string {
	if t == FetchDelayed {
		return "DELAYED"
	}
	return "IMMEDIATE"
}

// FetchStyle says how an association is loaded.
type FetchStyle int

const (
	// StyleJoin loads the association through an SQL join in the owner's query.
	StyleJoin FetchStyle = iota
	// StyleSelect loads the association with a separate select.
	StyleSelect
	// StyleSubselect loads collections of all owners from the same query at once.
	StyleSubselect
	// StyleBatch loads pending associations in batches of the configured size.
	StyleBatch
)

// String returns the external name of the style.
func (s FetchStyle) String() string {
	switch s {
	case StyleJoin:
		return "JOIN"
	case StyleSelect:
		return "SELECT"
	case StyleSubselect:
		return "SUBSELECT"
	case StyleBatch:
		return "BATCH"
	default:
		return fmt.Sprintf("FetchStyle(%d)", int(s))
	}
}

// ParseFetchStyle resolves a style from its external name, ignoring case.
func ParseFetchStyle(s string) (FetchStyle, error) {
	folded := cases.Fold().String(strings.TrimSpace(s))
	for _, style := range []FetchStyle{StyleJoin, StyleSelect, StyleSubselect, StyleBatch} {
		if cases.Fold().String(style.String()) == folded {
			return style, nil
		}
	}
	return StyleSelect, NewUnrecognizedSettingError(s, "fetch style")
}

// FetchStrategy pairs a timing with a style.
type FetchStrategy struct {
	Timing FetchTiming
	Style  FetchStyle
}

// String returns "(TIMING, STYLE)".
func (f FetchStrategy) String() string {
	return "(" + f.Timing.String() + ", " + f.Style.String() + ")"
}

// Eager returns an immediate strategy with the given style.
func Eager(style FetchStyle) FetchStrategy {
	return FetchStrategy{Timing: FetchImmediate, Style: style}
}

// Lazy returns a delayed strategy with the given style.
func Lazy(style FetchStyle) FetchStrategy {
	return FetchStrategy{Timing: FetchDelayed, Style: style}
}

// IsJoin reports whether the association is loaded by an SQL join.
func (f FetchStrategy) IsJoin() bool { return f.Style == StyleJoin }
