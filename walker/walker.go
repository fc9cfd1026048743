// Package walker traverses the mapping metamodel depth first, starting at a
// root entity or collection, and reports what it finds to an
// AssociationVisitationStrategy.
//
// Associations are tracked by their metamodel.AssociationKey: an association
// whose key was already walked, or that the strategy reports as a duplicate,
// is reported through FoundCircularAssociation and not descended into. This
// is what terminates the walk of self-referencing and bidirectional mappings.
package walker

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/syssam/persist"
	"github.com/syssam/persist/metamodel"
)

// AssociationVisitationStrategy receives the walk callbacks. Starting*
// and Finishing* calls are always balanced for a successful walk.
type AssociationVisitationStrategy interface {
	// Start is called before the root is visited.
	Start()
	// Finish is called after the root was visited.
	Finish()

	StartingEntity(p metamodel.EntityPersister) error
	FinishingEntity(p metamodel.EntityPersister) error

	StartingCollection(c metamodel.CollectionPersister) error
	FinishingCollection(c metamodel.CollectionPersister) error
	// StartingCollectionIndex is called for lists and maps only.
	StartingCollectionIndex(c metamodel.CollectionPersister) error
	FinishingCollectionIndex(c metamodel.CollectionPersister) error
	StartingCollectionElements(c metamodel.CollectionPersister) error
	FinishingCollectionElements(c metamodel.CollectionPersister) error

	StartingComposite(attr *metamodel.Attribute) error
	FinishingComposite(attr *metamodel.Attribute) error

	// StartingAttribute reports whether the walker should descend into the
	// attribute's target. FinishingAttribute is called either way.
	StartingAttribute(attr *metamodel.Attribute) (bool, error)
	FinishingAttribute(attr *metamodel.Attribute) error

	FoundAny(attr *metamodel.Attribute) error

	// AssociationKeyRegistered is called when the walker descends into an association.
	AssociationKeyRegistered(key metamodel.AssociationKey)
	// IsDuplicateAssociationKey reports whether the strategy already
	// registered the key itself, such as the key of a root entity.
	IsDuplicateAssociationKey(key metamodel.AssociationKey) bool
	// FoundCircularAssociation replaces StartingAttribute/FinishingAttribute
	// for an association whose key was already walked.
	FoundCircularAssociation(attr *metamodel.Attribute) error
}

// Option configures a walk.
type Option func(*Walker)

// WithLogger sets the logger used for Debug tracing of the walk.
func WithLogger(l *slog.Logger) Option {
	return func(w *Walker) { w.log = l }
}

// Walker holds the state of a single walk.
type Walker struct {
	strategy AssociationVisitationStrategy
	resolver metamodel.Resolver
	log      *slog.Logger
	visited  map[metamodel.AssociationKey]struct{}
	path     []string
	open     []metamodel.EntityPersister
}

func newWalker(s AssociationVisitationStrategy, r metamodel.Resolver, opts []Option) *Walker {
	w := &Walker{
		strategy: s,
		resolver: r,
		log:      slog.Default(),
		visited:  make(map[metamodel.AssociationKey]struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// WalkEntity walks the graph reachable from the entity.
func WalkEntity(s AssociationVisitationStrategy, p metamodel.EntityPersister, r metamodel.Resolver, opts ...Option) error {
	w := newWalker(s, r, opts)
	s.Start()
	w.path = append(w.path, p.EntityName())
	if err := w.visitEntity(p); err != nil {
		return err
	}
	s.Finish()
	return nil
}

// WalkCollection walks the graph reachable from the collection.
func WalkCollection(s AssociationVisitationStrategy, c metamodel.CollectionPersister, r metamodel.Resolver, opts ...Option) error {
	w := newWalker(s, r, opts)
	s.Start()
	w.path = append(w.path, "["+c.Role()+"]")
	if err := w.visitCollection(c); err != nil {
		return err
	}
	s.Finish()
	return nil
}

func (w *Walker) propertyPath() string { return strings.Join(w.path, ".") }

func (w *Walker) visitEntity(p metamodel.EntityPersister) error {
	if err := w.strategy.StartingEntity(p); err != nil {
		return err
	}
	w.open = append(w.open, p)
	w.log.Debug("walking entity", "entity", p.EntityName(), "path", w.propertyPath(), "depth", len(w.open))
	if err := w.visitAttributes(p.Attributes()); err != nil {
		return err
	}
	w.open = w.open[:len(w.open)-1]
	return w.strategy.FinishingEntity(p)
}

func (w *Walker) visitAttributes(attrs []*metamodel.Attribute) error {
	for _, a := range attrs {
		if err := w.visitAttribute(a); err != nil {
			return err
		}
	}
	return nil
}

func (w *Walker) visitAttribute(a *metamodel.Attribute) error {
	if a.IsAssociation() && w.isDuplicateAssociationKey(a.AssociationKey()) {
		w.log.Debug("property path deemed to be circular",
			"path", w.propertyPath()+"."+a.Name, "depth", len(w.open))
		return w.strategy.FoundCircularAssociation(a)
	}
	descend, err := w.strategy.StartingAttribute(a)
	if err != nil {
		return err
	}
	if descend {
		w.path = append(w.path, a.Name)
		switch {
		case a.IsAssociation():
			err = w.visitAssociation(a)
		case a.Kind == metamodel.KindComposite:
			err = w.visitComposite(a)
		}
		w.path = w.path[:len(w.path)-1]
		if err != nil {
			return err
		}
	}
	return w.strategy.FinishingAttribute(a)
}

func (w *Walker) isDuplicateAssociationKey(key metamodel.AssociationKey) bool {
	if _, ok := w.visited[key]; ok {
		return true
	}
	return w.strategy.IsDuplicateAssociationKey(key)
}

func (w *Walker) addAssociationKey(key metamodel.AssociationKey) error {
	if _, ok := w.visited[key]; ok {
		return persist.NewIllegalStateError("association key %s already visited", key)
	}
	w.visited[key] = struct{}{}
	w.strategy.AssociationKeyRegistered(key)
	return nil
}

func (w *Walker) visitAssociation(a *metamodel.Attribute) error {
	if err := w.addAssociationKey(a.AssociationKey()); err != nil {
		return err
	}
	switch a.Nature() {
	case metamodel.NatureAny:
		return w.strategy.FoundAny(a)
	case metamodel.NatureCollection:
		c, err := w.resolver.Collection(a.Role)
		if err != nil {
			return w.mappingError(a, err)
		}
		return w.visitCollection(c)
	default:
		p, err := w.resolver.Entity(a.Target)
		if err != nil {
			return w.mappingError(a, err)
		}
		return w.visitEntity(p)
	}
}

func (w *Walker) mappingError(a *metamodel.Attribute, err error) error {
	return &persist.MappingError{
		Entity:    a.Owner(),
		Attribute: a.Name,
		Message:   fmt.Sprintf("cannot resolve association target at %s", w.propertyPath()),
		Cause:     err,
	}
}

func (w *Walker) visitComposite(a *metamodel.Attribute) error {
	if err := w.strategy.StartingComposite(a); err != nil {
		return err
	}
	if err := w.visitAttributes(a.Component.Attributes); err != nil {
		return err
	}
	return w.strategy.FinishingComposite(a)
}

func (w *Walker) visitCollection(c metamodel.CollectionPersister) error {
	if err := w.strategy.StartingCollection(c); err != nil {
		return err
	}
	if c.Kind().IsIndexed() {
		if err := w.strategy.StartingCollectionIndex(c); err != nil {
			return err
		}
		if err := w.strategy.FinishingCollectionIndex(c); err != nil {
			return err
		}
	}
	if err := w.visitElements(c); err != nil {
		return err
	}
	return w.strategy.FinishingCollection(c)
}

func (w *Walker) visitElements(c metamodel.CollectionPersister) error {
	if err := w.strategy.StartingCollectionElements(c); err != nil {
		return err
	}
	switch c.ElementKind() {
	case metamodel.ElementEntity:
		p, err := w.resolver.Entity(c.ElementEntityName())
		if err != nil {
			return &persist.MappingError{Entity: c.OwnerEntityName(), Attribute: c.AttributeName(),
				Message: "cannot resolve collection element entity", Cause: err}
		}
		w.path = append(w.path, "<elements>")
		err = w.visitEntity(p)
		w.path = w.path[:len(w.path)-1]
		if err != nil {
			return err
		}
	case metamodel.ElementComposite:
		w.path = append(w.path, "<elements>")
		err := w.visitAttributes(c.ElementComponent().Attributes)
		w.path = w.path[:len(w.path)-1]
		if err != nil {
			return err
		}
	}
	return w.strategy.FinishingCollectionElements(c)
}
