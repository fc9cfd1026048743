package build

import (
	"github.com/syssam/persist"
	"github.com/syssam/persist/metamodel"
)

// FetchResolver decides how an association is fetched at a given point of
// the walk.
type FetchResolver struct {
	// Overrides maps a full property path, such as "Employee.manager", to
	// the strategy to use instead of the mapping default.
	Overrides map[string]persist.FetchStrategy
	// LockMode is the lock requested for the load. Join fetching is
	// disabled above LockRead.
	LockMode persist.LockMode
	// MaxFetchDepth limits join fetching to the given depth, 0 meaning no limit.
	MaxFetchDepth int
	// Cascade, when set, makes the plan join fetch every association
	// cascading one of these operations and skip all the others.
	Cascade metamodel.Cascade
}

// Resolve returns the strategy for the attribute at path. depth is the
// number of open fetch sources, and tooManyCollections reports whether a
// collection join fetch would multiply an already joined collection.
func (r FetchResolver) Resolve(path string, attr *metamodel.Attribute, depth int, tooManyCollections bool) persist.FetchStrategy {
	fs := attr.Fetch
	if r.Cascade != metamodel.CascadeNone {
		if attr.Cascade&r.Cascade != 0 {
			fs = persist.Eager(persist.StyleJoin)
		} else {
			fs = persist.Lazy(persist.StyleSelect)
		}
	}
	if o, ok := r.Overrides[path]; ok {
		fs = o
	}
	if attr.Kind == metamodel.KindAny && fs.Style == persist.StyleJoin {
		fs.Style = persist.StyleSelect
	}
	if fs.Style == persist.StyleJoin {
		fs = r.adjustJoinFetch(attr, fs, depth, tooManyCollections)
	}
	return fs
}

func (r FetchResolver) adjustJoinFetch(attr *metamodel.Attribute, fs persist.FetchStrategy, depth int, tooManyCollections bool) persist.FetchStrategy {
	switch {
	case r.LockMode.GreaterThan(persist.LockRead):
		return persist.FetchStrategy{Timing: fs.Timing, Style: persist.StyleSelect}
	case r.MaxFetchDepth > 0 && depth > r.MaxFetchDepth:
		return persist.FetchStrategy{Timing: fs.Timing, Style: persist.StyleSelect}
	case attr.Kind == metamodel.KindCollection && tooManyCollections:
		return persist.FetchStrategy{Timing: fs.Timing, Style: persist.StyleSelect}
	}
	return fs
}
