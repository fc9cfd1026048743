// Package loadplan holds the load plan model: query spaces and their joins,
// and the graph of returns and fetches describing what a load produces.
//
// Query spaces are collected in a Builder while a plan is built and frozen
// into QuerySpaces afterwards. Fetch sources grow through the
// ExpandingFetchSource operations, which keep the fetch graph and the join
// graph consistent: a join fetch adds exactly one join, any other fetch
// style adds none.
package loadplan

import (
	"fmt"

	"github.com/syssam/persist"
)

// Disposition is the purpose of a load plan.
type Disposition int

// Dispositions.
const (
	// EntityLoader loads instances of a single entity.
	EntityLoader Disposition = iota
	// CollectionInitializer loads the rows of a single collection role.
	CollectionInitializer
	// Mixed is any other combination of returns.
	Mixed
)

// String returns the upper-case name of the disposition.
func (d Disposition) String() string {
	switch d {
	case EntityLoader:
		return "ENTITY_LOADER"
	case CollectionInitializer:
		return "COLLECTION_INITIALIZER"
	case Mixed:
		return "MIXED"
	default:
		return fmt.Sprintf("Disposition(%d)", int(d))
	}
}

// LoadPlan is the immutable description of a load.
type LoadPlan struct {
	disposition Disposition
	returns     []Return
	spaces      *QuerySpaces
}

// New returns a load plan after checking that the returns match the disposition.
func New(d Disposition, returns []Return, spaces *QuerySpaces) (*LoadPlan, error) {
	if spaces == nil {
		return nil, persist.NewIllegalArgumentError("load plan needs query spaces")
	}
	switch d {
	case EntityLoader:
		if len(returns) != 1 {
			return nil, persist.NewIllegalArgumentError("entity loader plan needs exactly one return, got %d", len(returns))
		}
		if _, ok := returns[0].(*EntityReturn); !ok {
			return nil, persist.NewIllegalArgumentError("entity loader plan needs an entity return, got %T", returns[0])
		}
	case CollectionInitializer:
		if len(returns) != 1 {
			return nil, persist.NewIllegalArgumentError("collection initializer plan needs exactly one return, got %d", len(returns))
		}
		if _, ok := returns[0].(*CollectionReturn); !ok {
			return nil, persist.NewIllegalArgumentError("collection initializer plan needs a collection return, got %T", returns[0])
		}
	case Mixed:
		if len(returns) == 0 {
			return nil, persist.NewIllegalArgumentError("load plan needs at least one return")
		}
	default:
		return nil, persist.NewIllegalArgumentError("unknown disposition %d", int(d))
	}
	out := make([]Return, len(returns))
	copy(out, returns)
	return &LoadPlan{disposition: d, returns: out, spaces: spaces}, nil
}

// Disposition returns the plan's purpose.
func (p *LoadPlan) Disposition() Disposition { return p.disposition }

// Returns returns the root results in order.
func (p *LoadPlan) Returns() []Return {
	out := make([]Return, len(p.returns))
	copy(out, p.returns)
	return out
}

// QuerySpaces returns the frozen query spaces.
func (p *LoadPlan) QuerySpaces() *QuerySpaces { return p.spaces }

// HasAnyScalarReturns reports whether any return is a scalar.
func (p *LoadPlan) HasAnyScalarReturns() bool {
	for _, r := range p.returns {
		if _, ok := r.(*ScalarReturn); ok {
			return true
		}
	}
	return false
}

// WalkFetches visits every fetch of the plan depth first, in fetch order,
// including the fetches of collection element graphs.
func (p *LoadPlan) WalkFetches(fn func(Fetch) error) error {
	for _, r := range p.returns {
		switch r := r.(type) {
		case *EntityReturn:
			if err := walkSource(r, fn); err != nil {
				return err
			}
		case *CollectionReturn:
			if g := r.ElementGraph(); g != nil {
				if err := walkSource(g, fn); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func walkSource(src FetchSource, fn func(Fetch) error) error {
	for _, f := range src.Fetches() {
		if err := fn(f); err != nil {
			return err
		}
		switch f := f.(type) {
		case *EntityFetch:
			if err := walkSource(f, fn); err != nil {
				return err
			}
		case *CompositeAttributeFetch:
			if err := walkSource(f, fn); err != nil {
				return err
			}
		case *CollectionAttributeFetch:
			if g := f.ElementGraph(); g != nil {
				if err := walkSource(g, fn); err != nil {
					return err
				}
			}
		}
	}
	for _, b := range src.BidirectionalEntityReferences() {
		if err := fn(b); err != nil {
			return err
		}
	}
	return nil
}
