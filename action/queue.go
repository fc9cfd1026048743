package action

import (
	"context"
	"log/slog"
	"slices"

	"github.com/syssam/persist/engine"
	"github.com/syssam/persist/metamodel"
)

// Option configures a Queue.
type Option func(*Queue)

// WithLogger sets the logger of the queue.
func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) { q.logger = l }
}

// Queue collects the actions of a flush.
type Queue struct {
	insertions          []Action
	updates             []*EntityUpdateAction
	collectionRemovals  []*CollectionRemoveAction
	collectionUpdates   []*CollectionUpdateAction
	collectionCreations []*CollectionRecreateAction
	deletions           []*EntityDeleteAction
	logger              *slog.Logger
}

// NewQueue returns an empty queue.
func NewQueue(opts ...Option) *Queue {
	q := &Queue{logger: slog.Default()}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// AddInsert schedules an *EntityInsertAction or *EntityIdentityInsertAction.
func (q *Queue) AddInsert(a Action) { q.insertions = append(q.insertions, a) }

// AddUpdate schedules an entity update.
func (q *Queue) AddUpdate(a *EntityUpdateAction) { q.updates = append(q.updates, a) }

// AddDelete schedules an entity deletion.
func (q *Queue) AddDelete(a *EntityDeleteAction) { q.deletions = append(q.deletions, a) }

// AddCollectionRemove schedules a collection removal.
func (q *Queue) AddCollectionRemove(a *CollectionRemoveAction) {
	q.collectionRemovals = append(q.collectionRemovals, a)
}

// AddCollectionUpdate schedules a collection update.
func (q *Queue) AddCollectionUpdate(a *CollectionUpdateAction) {
	q.collectionUpdates = append(q.collectionUpdates, a)
}

// AddCollectionRecreate schedules a collection recreation.
func (q *Queue) AddCollectionRecreate(a *CollectionRecreateAction) {
	q.collectionCreations = append(q.collectionCreations, a)
}

// Len returns the number of scheduled actions.
func (q *Queue) Len() int {
	return len(q.insertions) + len(q.updates) + len(q.collectionRemovals) +
		len(q.collectionUpdates) + len(q.collectionCreations) + len(q.deletions)
}

// IsScheduledForDeletion reports whether a deletion of e is queued.
func (q *Queue) IsScheduledForDeletion(e *engine.Entity) bool {
	return slices.ContainsFunc(q.deletions, func(a *EntityDeleteAction) bool { return a.Entity == e })
}

// Actions returns the scheduled actions in execution order.
func (q *Queue) Actions() []Action {
	out := make([]Action, 0, q.Len())
	out = append(out, sortInsertions(q.insertions)...)
	for _, a := range q.updates {
		out = append(out, a)
	}
	for _, a := range q.collectionRemovals {
		out = append(out, a)
	}
	for _, a := range q.collectionUpdates {
		out = append(out, a)
	}
	for _, a := range q.collectionCreations {
		out = append(out, a)
	}
	for _, a := range sortDeletions(q.deletions) {
		out = append(out, a)
	}
	return out
}

// AreTablesToBeUpdated reports whether a scheduled action writes any of
// the given tables.
func (q *Queue) AreTablesToBeUpdated(spaces []string) bool {
	if len(spaces) == 0 {
		return false
	}
	for _, a := range q.Actions() {
		for _, s := range a.QuerySpaces() {
			if slices.Contains(spaces, s) {
				return true
			}
		}
	}
	return false
}

// Execute runs the scheduled actions in order and clears the queue. The
// queue is cleared on failure too; the caller is expected to roll back.
func (q *Queue) Execute(ctx context.Context, x *Executor) error {
	defer q.Clear()
	q.logger.DebugContext(ctx, "executing flush",
		"insertions", len(q.insertions),
		"updates", len(q.updates),
		"deletions", len(q.deletions),
		"collection_removals", len(q.collectionRemovals),
		"collection_updates", len(q.collectionUpdates),
		"collection_creations", len(q.collectionCreations),
	)
	if x.Logger == nil {
		x.Logger = q.logger
	}
	for _, a := range q.Actions() {
		if err := a.Execute(ctx, x); err != nil {
			return err
		}
	}
	return nil
}

// Clear drops every scheduled action.
func (q *Queue) Clear() {
	q.insertions = nil
	q.updates = nil
	q.collectionRemovals = nil
	q.collectionUpdates = nil
	q.collectionCreations = nil
	q.deletions = nil
}

// sortInsertions orders insertions so that an entity referenced through a
// to-one association is inserted before the entities referencing it. The
// order is otherwise kept, and actions of one entity name stay together
// when the dependencies allow it. Cycles are broken in scheduling order.
func sortInsertions(actions []Action) []Action {
	nodes := make([]node, len(actions))
	for i, a := range actions {
		switch a := a.(type) {
		case *EntityInsertAction:
			nodes[i] = node{action: a, entity: a.Entity, persister: a.Persister}
		case *EntityIdentityInsertAction:
			nodes[i] = node{action: a, entity: a.Entity, persister: a.Persister}
		default:
			nodes[i] = node{action: a}
		}
	}
	sorted := topological(nodes)
	out := make([]Action, len(sorted))
	for i, n := range sorted {
		out[i] = n.action
	}
	return out
}

// sortDeletions orders deletions so that an entity is deleted before the
// entities it references.
func sortDeletions(actions []*EntityDeleteAction) []*EntityDeleteAction {
	nodes := make([]node, len(actions))
	for i, a := range actions {
		nodes[i] = node{action: a, entity: a.Entity, persister: a.Persister}
	}
	sorted := topological(nodes)
	out := make([]*EntityDeleteAction, len(sorted))
	for i, n := range sorted {
		out[len(sorted)-1-i] = n.action.(*EntityDeleteAction)
	}
	return out
}

type node struct {
	action    Action
	entity    *engine.Entity
	persister metamodel.EntityPersister
}

// topological returns the nodes with every referenced entity before its
// referrers. Among ready nodes the next one of the same entity name as the
// last emitted is preferred, then the earliest scheduled.
func topological(nodes []node) []node {
	index := make(map[*engine.Entity]int, len(nodes))
	for i, n := range nodes {
		if n.entity != nil {
			index[n.entity] = i
		}
	}
	deps := make([][]int, len(nodes))
	for i, n := range nodes {
		for _, ref := range references(n) {
			if j, ok := index[ref]; ok && j != i {
				deps[i] = append(deps[i], j)
			}
		}
	}
	done := make([]bool, len(nodes))
	ready := func(i int) bool {
		if done[i] {
			return false
		}
		for _, j := range deps[i] {
			if !done[j] {
				return false
			}
		}
		return true
	}
	out := make([]node, 0, len(nodes))
	last := ""
	for len(out) < len(nodes) {
		pick := -1
		for i := range nodes {
			if !ready(i) {
				continue
			}
			if pick == -1 {
				pick = i
			}
			if name(nodes[i]) == last {
				pick = i
				break
			}
		}
		if pick == -1 {
			for i := range nodes {
				if !done[i] {
					pick = i
					break
				}
			}
		}
		done[pick] = true
		last = name(nodes[pick])
		out = append(out, nodes[pick])
	}
	return out
}

func name(n node) string {
	if n.persister == nil {
		return ""
	}
	return n.persister.EntityName()
}

// references returns the entities a node refers to through to-one and any
// associations, including those nested in composites.
func references(n node) []*engine.Entity {
	if n.entity == nil || n.persister == nil {
		return nil
	}
	var out []*engine.Entity
	var walk func(attrs []*metamodel.Attribute, get func(string) any)
	walk = func(attrs []*metamodel.Attribute, get func(string) any) {
		for _, a := range attrs {
			switch a.Kind {
			case metamodel.KindManyToOne, metamodel.KindOneToOne, metamodel.KindAny:
				if e, ok := get(a.Name).(*engine.Entity); ok && e != nil {
					out = append(out, e)
				}
			case metamodel.KindComposite:
				m, _ := get(a.Name).(map[string]any)
				walk(a.Component.Attributes, func(k string) any { return m[k] })
			}
		}
	}
	walk(n.persister.Attributes(), n.entity.Get)
	return out
}
