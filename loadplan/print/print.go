// Package print renders load plans as indented text trees for debugging
// and logging.
//
// The printers are stateless values:
//
//	var p print.LoadPlanTreePrinter
//	fmt.Println(p.String(plan, aliases))
//
// Each depth level is indented by four spaces. The layout is stable and
// used by golden tests.
package print

import (
	"fmt"
	"io"
	"strings"

	"github.com/syssam/persist/loader"
	"github.com/syssam/persist/loadplan"
)

const indent = "    "

type treeWriter struct {
	w   io.Writer
	err error
}

func (t *treeWriter) line(depth int, format string, args ...any) {
	if t.err != nil {
		return
	}
	_, t.err = fmt.Fprintf(t.w, strings.Repeat(indent, depth)+format+"\n", args...)
}

// LoadPlanTreePrinter prints a whole load plan: its returns followed by
// its query spaces.
type LoadPlanTreePrinter struct{}

// Write writes the tree of plan to w. aliases may be nil, in which case
// alias details are omitted.
func (LoadPlanTreePrinter) Write(w io.Writer, plan *loadplan.LoadPlan, aliases *loader.AliasResolutionContext) error {
	t := &treeWriter{w: w}
	t.line(0, "LoadPlan(%s)", plan.Disposition())
	t.line(1, "Returns")
	for _, r := range plan.Returns() {
		ReturnGraphTreePrinter{}.write(t, r, 2)
	}
	t.line(1, "QuerySpaces")
	QuerySpaceTreePrinter{}.write(t, plan.QuerySpaces(), 2, aliases)
	return t.err
}

// String returns the tree of plan.
func (p LoadPlanTreePrinter) String(plan *loadplan.LoadPlan, aliases *loader.AliasResolutionContext) string {
	var sb strings.Builder
	_ = p.Write(&sb, plan, aliases)
	return sb.String()
}

// ReturnGraphTreePrinter prints a return and its fetches.
type ReturnGraphTreePrinter struct{}

// Write writes the fetch tree of r to w, starting at depth.
func (p ReturnGraphTreePrinter) Write(w io.Writer, r loadplan.Return, depth int) error {
	t := &treeWriter{w: w}
	p.write(t, r, depth)
	return t.err
}

func (p ReturnGraphTreePrinter) write(t *treeWriter, r loadplan.Return, depth int) {
	switch r := r.(type) {
	case *loadplan.EntityReturn:
		t.line(depth, "EntityReturn(entity=%s, querySpaceUid=%s, path=%s)",
			r.EntityPersister().EntityName(), uidOf(r.QuerySpaceUID()), r.PropertyPath().FullPath())
		p.writeFetchSource(t, r, depth+1)
	case *loadplan.CollectionReturn:
		t.line(depth, "CollectionReturn(collection=%s, querySpaceUid=%s, path=%s)",
			r.CollectionPersister().Role(), uidOf(r.QuerySpaceUID()), r.PropertyPath().FullPath())
		p.writeElements(t, r, depth+1)
	case *loadplan.ScalarReturn:
		t.line(depth, "ScalarReturn(name=%s, type=%s)", r.Name, r.Type)
	}
}

func (p ReturnGraphTreePrinter) writeFetchSource(t *treeWriter, src loadplan.FetchSource, depth int) {
	for _, f := range src.Fetches() {
		p.writeFetch(t, f, depth)
	}
	for _, b := range src.BidirectionalEntityReferences() {
		p.writeFetch(t, b, depth)
	}
}

func (p ReturnGraphTreePrinter) writeFetch(t *treeWriter, f loadplan.Fetch, depth int) {
	switch f := f.(type) {
	case *loadplan.EntityFetch:
		t.line(depth, "EntityFetch(entity=%s, querySpaceUid=%s, path=%s, strategy=%s)",
			f.EntityPersister().EntityName(), uidOf(f.QuerySpaceUID()), f.PropertyPath().FullPath(), f.Strategy())
		p.writeFetchSource(t, f, depth+1)
	case *loadplan.CompositeAttributeFetch:
		t.line(depth, "CompositeAttributeFetch(composite=%s, querySpaceUid=%s, path=%s)",
			f.Component().Role, uidOf(f.QuerySpaceUID()), f.PropertyPath().FullPath())
		p.writeFetchSource(t, f, depth+1)
	case *loadplan.CollectionAttributeFetch:
		t.line(depth, "CollectionAttributeFetch(collection=%s, querySpaceUid=%s, path=%s, strategy=%s)",
			f.CollectionPersister().Role(), uidOf(f.QuerySpaceUID()), f.PropertyPath().FullPath(), f.Strategy())
		p.writeElements(t, f, depth+1)
	case *loadplan.AnyAttributeFetch:
		t.line(depth, "AnyAttributeFetch(path=%s, strategy=%s)", f.PropertyPath().FullPath(), f.Strategy())
	case *loadplan.BidirectionalEntityReference:
		entity := "?"
		if target := f.TargetEntityReference(); target != nil {
			entity = target.EntityPersister().EntityName()
		}
		t.line(depth, "BidirectionalEntityReference(entity=%s, targetQuerySpaceUid=%s, path=%s)",
			entity, f.TargetUID(), f.PropertyPath().FullPath())
	}
}

func (p ReturnGraphTreePrinter) writeElements(t *treeWriter, c loadplan.CollectionReference, depth int) {
	switch g := c.ElementGraph().(type) {
	case *loadplan.CollectionElementEntityGraph:
		t.line(depth, "(collection element) CollectionElementEntityGraph(entity=%s, querySpaceUid=%s, path=%s)",
			g.EntityPersister().EntityName(), uidOf(g.QuerySpaceUID()), g.PropertyPath().FullPath())
		p.writeFetchSource(t, g, depth+1)
	case *loadplan.CollectionElementCompositeGraph:
		t.line(depth, "(collection element) CollectionElementCompositeGraph(composite=%s, querySpaceUid=%s, path=%s)",
			g.Component().Role, uidOf(g.QuerySpaceUID()), g.PropertyPath().FullPath())
		p.writeFetchSource(t, g, depth+1)
	}
}

// QuerySpaceTreePrinter prints the query spaces reachable from the roots,
// following joins.
type QuerySpaceTreePrinter struct{}

// Write writes the query space tree to w, starting at depth. aliases may be nil.
func (p QuerySpaceTreePrinter) Write(w io.Writer, spaces *loadplan.QuerySpaces, depth int, aliases *loader.AliasResolutionContext) error {
	t := &treeWriter{w: w}
	p.write(t, spaces, depth, aliases)
	return t.err
}

func (p QuerySpaceTreePrinter) write(t *treeWriter, spaces *loadplan.QuerySpaces, depth int, aliases *loader.AliasResolutionContext) {
	for _, q := range spaces.RootQuerySpaces() {
		p.writeSpace(t, q, depth, aliases)
	}
}

func (p QuerySpaceTreePrinter) writeSpace(t *treeWriter, q loadplan.QuerySpace, depth int, aliases *loader.AliasResolutionContext) {
	switch q := q.(type) {
	case *loadplan.EntityQuerySpace:
		t.line(depth, "EntityQuerySpace(uid=%s, entity=%s)", q.UID(), q.Persister().EntityName())
		if aliases != nil {
			if a := aliases.ResolveEntityReferenceAliases(q.UID()); a != nil {
				t.line(depth+1, "SQL table alias mapping - %s", a.TableAlias)
				t.line(depth+1, "alias suffix - %s", a.Suffix())
				t.line(depth+1, "suffixed key columns - {%s}", strings.Join(a.SuffixedKeyAliases(), ", "))
			}
		}
	case *loadplan.CollectionQuerySpace:
		t.line(depth, "CollectionQuerySpace(uid=%s, collection=%s)", q.UID(), q.Persister().Role())
		if aliases != nil {
			if a := aliases.ResolveCollectionReferenceAliases(q.UID()); a != nil {
				t.line(depth+1, "SQL table alias mapping - %s", a.TableAlias)
				t.line(depth+1, "alias suffix - %s", a.Suffix())
				t.line(depth+1, "suffixed key columns - {%s}", strings.Join(a.SuffixedKeyAliases(), ", "))
				if e := a.Element; e != nil {
					t.line(depth+1, "entity-element alias suffix - %s", e.Suffix())
					t.line(depth+1, "entity-element suffixed key columns - {%s}", strings.Join(e.SuffixedKeyAliases(), ", "))
				}
			}
		}
	case *loadplan.CompositeQuerySpace:
		t.line(depth, "CompositeQuerySpace(uid=%s, component=%s)", q.UID(), q.Component().Role)
		if aliases != nil {
			t.line(depth+1, "SQL table alias mapping - %s", aliases.ResolveSQLTableAlias(q.UID()))
		}
	}
	for _, j := range q.Joins() {
		t.line(depth+1, "JOIN (%s) : %s -> %s", joinDetails(j), j.LeftHandSide().UID(), j.RightHandSide().UID())
		p.writeSpace(t, j.RightHandSide(), depth+2, aliases)
	}
}

func joinDetails(j loadplan.Join) string {
	kind := "LEFT OUTER"
	if j.IsRightHandSideRequired() {
		kind = "INNER"
	}
	if m, ok := j.(*loadplan.JoinDefinedByMetadata); ok {
		return m.JoinedPropertyName() + ", " + kind
	}
	return kind
}

func uidOf(uid string) string {
	if uid == "" {
		return "<none>"
	}
	return uid
}
