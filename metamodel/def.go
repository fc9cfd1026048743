package metamodel

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/syssam/persist"
)

// StringList is a YAML value that may be written either as a single string
// or as a list of strings.
type StringList []string

// UnmarshalYAML implements yaml.Unmarshaler for StringList.
func (s *StringList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		*s = []string{node.Value}
		return nil
	case yaml.SequenceNode:
		var list []string
		if err := node.Decode(&list); err != nil {
			return err
		}
		*s = list
		return nil
	default:
		return fmt.Errorf("expected string or list, got %v", node.Kind)
	}
}

// EntityDef describes an entity mapping.
type EntityDef struct {
	Name            string              `yaml:"name"`
	Table           string              `yaml:"table,omitempty"`
	ID              IDDef               `yaml:"id,omitempty"`
	Version         *VersionDef         `yaml:"version,omitempty"`
	BatchSize       int                 `yaml:"batch_size,omitempty"`
	Cache           CacheAccess         `yaml:"cache,omitempty"`
	NaturalID       StringList          `yaml:"natural_id,omitempty"`
	SecondaryTables []SecondaryTableDef `yaml:"secondary_tables,omitempty"`
	Attributes      []AttributeDef      `yaml:"attributes,omitempty"`
}

// IDDef describes an identifier. An empty name defaults to "id".
type IDDef struct {
	Name      string     `yaml:"name,omitempty"`
	Type      string     `yaml:"type,omitempty"`
	Columns   StringList `yaml:"columns,omitempty"`
	Generator Generator  `yaml:"generator,omitempty"`
}

// VersionDef describes an optimistic lock version attribute.
type VersionDef struct {
	Name   string `yaml:"name"`
	Column string `yaml:"column,omitempty"`
}

// SecondaryTableDef describes a secondary table.
type SecondaryTableDef struct {
	Table string     `yaml:"table"`
	Key   StringList `yaml:"key,omitempty"`
}

// Attribute kinds as written in mappings.
const (
	DefBasic             = "basic"
	DefComposite         = "composite"
	DefManyToOne         = "many-to-one"
	DefOneToOne          = "one-to-one"
	DefOneToMany         = "one-to-many"
	DefManyToMany        = "many-to-many"
	DefElementCollection = "element-collection"
	DefAny               = "any"
)

// AttributeDef describes an attribute mapping. Kind defaults to basic.
type AttributeDef struct {
	Name    string         `yaml:"name"`
	Kind    string         `yaml:"kind,omitempty"`
	Type    string         `yaml:"type,omitempty"`
	Columns StringList     `yaml:"columns,omitempty"`
	Table   string         `yaml:"table,omitempty"`
	NotNull bool           `yaml:"not_null,omitempty"`
	Fetch   string         `yaml:"fetch,omitempty"`
	Lazy    *bool          `yaml:"lazy,omitempty"`
	Cascade StringList     `yaml:"cascade,omitempty"`
	Target  string         `yaml:"target,omitempty"`
	Members []AttributeDef `yaml:"attributes,omitempty"`

	// Collection mapping.
	Collection string      `yaml:"collection,omitempty"`
	Key        StringList  `yaml:"key,omitempty"`
	Index      *IndexDef   `yaml:"index,omitempty"`
	Element    *ElementDef `yaml:"element,omitempty"`
	Inverse    bool        `yaml:"inverse,omitempty"`
	BatchSize  int         `yaml:"batch_size,omitempty"`
	Cache      CacheAccess `yaml:"cache,omitempty"`
}

// IndexDef describes the index of a list or map collection.
type IndexDef struct {
	Columns StringList `yaml:"columns,omitempty"`
	Type    string     `yaml:"type,omitempty"`
}

// ElementDef describes the element of an element collection, or the join
// table columns of a many-to-many collection.
type ElementDef struct {
	Columns StringList     `yaml:"columns,omitempty"`
	Type    string         `yaml:"type,omitempty"`
	Members []AttributeDef `yaml:"attributes,omitempty"`
}

// Option configures metamodel construction.
type Option func(*builder) error

// WithNamingStrategy sets the strategy for implicit names.
func WithNamingStrategy(ns NamingStrategy) Option {
	return func(b *builder) error {
		if ns == nil {
			return fmt.Errorf("metamodel: naming strategy cannot be nil")
		}
		b.naming = ns
		return nil
	}
}

// WithDefaultBatchSize sets the batch size of entities and collections that
// do not declare one.
func WithDefaultBatchSize(n int) Option {
	return func(b *builder) error {
		if n < 0 {
			return fmt.Errorf("metamodel: negative default batch size %d", n)
		}
		b.defaultBatch = n
		return nil
	}
}

type builder struct {
	naming       NamingStrategy
	defaultBatch int
	mm           *Metamodel
	defs         map[string]*EntityDef
}

// New builds a metamodel from entity definitions. All cross references are
// resolved eagerly and any inconsistency fails with a *persist.MappingError.
func New(defs []EntityDef, opts ...Option) (*Metamodel, error) {
	b := &builder{
		naming: DefaultNaming{},
		mm: &Metamodel{
			entities:    make(map[string]*Entity, len(defs)),
			collections: make(map[string]*Collection),
		},
		defs: make(map[string]*EntityDef, len(defs)),
	}
	for _, opt := range opts {
		if err := opt(b); err != nil {
			return nil, err
		}
	}
	for i := range defs {
		d := &defs[i]
		if d.Name == "" {
			return nil, persist.NewMappingError("", "", "entity #%d has no name", i)
		}
		if _, dup := b.defs[d.Name]; dup {
			return nil, persist.NewMappingError(d.Name, "", "duplicate entity name")
		}
		b.defs[d.Name] = d
		b.mm.order = append(b.mm.order, d.Name)
	}
	// Tables and identifiers first, so that associations can reference them.
	for _, name := range b.mm.order {
		e, err := b.entityShell(b.defs[name])
		if err != nil {
			return nil, err
		}
		b.mm.entities[name] = e
	}
	for _, name := range b.mm.order {
		if err := b.attributes(b.mm.entities[name], b.defs[name]); err != nil {
			return nil, err
		}
	}
	return b.mm, nil
}

func (b *builder) entityShell(d *EntityDef) (*Entity, error) {
	e := &Entity{
		name:        d.Name,
		table:       d.Table,
		generator:   d.ID.Generator,
		batchSize:   d.BatchSize,
		cacheAccess: d.Cache,
		naturalID:   d.NaturalID,
		byName:      make(map[string]*Attribute),
	}
	if e.table == "" {
		e.table = b.naming.TableName(d.Name)
	}
	if e.batchSize == 0 {
		e.batchSize = b.defaultBatch
	}
	switch e.generator {
	case "":
		e.generator = GeneratorAssigned
	case GeneratorAssigned, GeneratorUUID, GeneratorIdentity:
	default:
		return nil, persist.NewMappingError(d.Name, "", "unknown identifier generator %q", e.generator)
	}
	if err := checkCacheAccess(d.Name, d.Cache); err != nil {
		return nil, err
	}
	idName := d.ID.Name
	if idName == "" {
		idName = "id"
	}
	idCols := []string(d.ID.Columns)
	if len(idCols) == 0 {
		idCols = []string{b.naming.ColumnName(idName)}
	}
	e.id = &Attribute{
		Name:       idName,
		Kind:       KindBasic,
		Type:       d.ID.Type,
		Columns:    idCols,
		owner:      d.Name,
		ownerTable: e.table,
	}
	e.byName[idName] = e.id
	for _, st := range d.SecondaryTables {
		if st.Table == "" {
			return nil, persist.NewMappingError(d.Name, "", "secondary table without a name")
		}
		key := []string(st.Key)
		if len(key) == 0 {
			key = idCols
		}
		if len(key) != len(idCols) {
			return nil, persist.NewMappingError(d.Name, "", "secondary table %s key has %d columns, identifier has %d",
				st.Table, len(key), len(idCols))
		}
		e.secondary = append(e.secondary, SecondaryTable{Table: st.Table, KeyColumns: key})
	}
	return e, nil
}

func (b *builder) attributes(e *Entity, d *EntityDef) error {
	for i := range d.Attributes {
		ad := &d.Attributes[i]
		a, err := b.attribute(e, e.name, ad)
		if err != nil {
			return err
		}
		if _, dup := e.byName[a.Name]; dup {
			return persist.NewMappingError(e.name, a.Name, "duplicate attribute name")
		}
		e.byName[a.Name] = a
		e.attributes = append(e.attributes, a)
	}
	if d.Version != nil {
		col := d.Version.Column
		if col == "" {
			col = b.naming.ColumnName(d.Version.Name)
		}
		v := &Attribute{
			Name:       d.Version.Name,
			Kind:       KindBasic,
			Type:       "int64",
			Columns:    []string{col},
			owner:      e.name,
			ownerTable: e.table,
		}
		if _, dup := e.byName[v.Name]; dup {
			return persist.NewMappingError(e.name, v.Name, "duplicate attribute name")
		}
		e.byName[v.Name] = v
		e.attributes = append(e.attributes, v)
		e.version = v
	}
	for _, n := range e.naturalID {
		a, ok := e.byName[n]
		if !ok || a.Kind != KindBasic {
			return persist.NewMappingError(e.name, n, "natural id must name a basic attribute")
		}
	}
	return nil
}

// attribute builds an entity or component member. path is the owner path
// used for component roles, e.g. "Employee" or "Employee.address".
func (b *builder) attribute(e *Entity, path string, d *AttributeDef) (*Attribute, error) {
	if d.Name == "" {
		return nil, persist.NewMappingError(e.name, "", "attribute without a name")
	}
	a := &Attribute{
		Name:       d.Name,
		Type:       d.Type,
		Columns:    d.Columns,
		Table:      d.Table,
		Nullable:   !d.NotNull,
		owner:      e.name,
		ownerTable: e.table,
	}
	if d.Table != "" && !isCollectionKind(d.Kind) && !hasSecondary(e, d.Table) {
		return nil, persist.NewMappingError(e.name, d.Name, "unknown secondary table %q", d.Table)
	}
	cascade, err := parseCascade(e.name, d)
	if err != nil {
		return nil, err
	}
	a.Cascade = cascade
	switch d.Kind {
	case "", DefBasic:
		a.Kind = KindBasic
		if len(a.Columns) == 0 {
			a.Columns = []string{b.naming.ColumnName(d.Name)}
		}
	case DefComposite:
		a.Kind = KindComposite
		comp, err := b.component(e, path+"."+d.Name, d.Members)
		if err != nil {
			return nil, err
		}
		a.Component = comp
	case DefManyToOne, DefOneToOne:
		a.Kind = KindManyToOne
		if d.Kind == DefOneToOne {
			a.Kind = KindOneToOne
		}
		target, ok := b.mm.entities[d.Target]
		if !ok {
			return nil, persist.NewMappingError(e.name, d.Name, "unknown target entity %q", d.Target)
		}
		a.Target = d.Target
		if len(a.Columns) == 0 {
			if len(target.IdentifierColumns()) == 1 {
				a.Columns = []string{b.naming.ForeignKeyColumn(d.Name)}
			} else {
				for _, c := range target.IdentifierColumns() {
					a.Columns = append(a.Columns, b.naming.ColumnName(d.Name)+"_"+c)
				}
			}
		}
		if len(a.Columns) != len(target.IdentifierColumns()) {
			return nil, persist.NewMappingError(e.name, d.Name, "foreign key has %d columns, %s identifier has %d",
				len(a.Columns), d.Target, len(target.IdentifierColumns()))
		}
		a.Fetch, err = fetchStrategy(e.name, d, persist.Eager(persist.StyleJoin))
		if err != nil {
			return nil, err
		}
		a.key = NewAssociationKey(a.TableName(), a.Columns)
	case DefOneToMany, DefManyToMany, DefElementCollection:
		if path != e.name {
			return nil, persist.NewMappingError(e.name, d.Name, "collections inside composite attributes are not supported")
		}
		a.Kind = KindCollection
		a.Columns = nil
		a.Table = ""
		c, err := b.collection(e, d)
		if err != nil {
			return nil, err
		}
		a.Role = c.role
		a.Fetch, err = fetchStrategy(e.name, d, persist.Lazy(persist.StyleSelect))
		if err != nil {
			return nil, err
		}
		a.key = c.AssociationKey()
		b.mm.collections[c.role] = c
	case DefAny:
		a.Kind = KindAny
		if len(a.Columns) != 2 {
			return nil, persist.NewMappingError(e.name, d.Name, "any association needs exactly two columns (type, id)")
		}
		a.Fetch = persist.Eager(persist.StyleSelect)
		a.key = NewAssociationKey(a.TableName(), a.Columns)
	default:
		return nil, persist.NewMappingError(e.name, d.Name, "unknown attribute kind %q", d.Kind)
	}
	return a, nil
}

func (b *builder) component(e *Entity, role string, members []AttributeDef) (*Component, error) {
	if len(members) == 0 {
		return nil, persist.NewMappingError(e.name, role, "composite without attributes")
	}
	comp := &Component{Role: role}
	for i := range members {
		m, err := b.attribute(e, role, &members[i])
		if err != nil {
			return nil, err
		}
		if _, dup := comp.Attribute(m.Name); dup {
			return nil, persist.NewMappingError(e.name, role+"."+m.Name, "duplicate attribute name")
		}
		comp.Attributes = append(comp.Attributes, m)
	}
	return comp, nil
}

func (b *builder) collection(e *Entity, d *AttributeDef) (*Collection, error) {
	c := &Collection{
		role:        e.name + "." + d.Name,
		owner:       e.name,
		attribute:   d.Name,
		keyColumns:  d.Key,
		inverse:     d.Inverse,
		batchSize:   d.BatchSize,
		cacheAccess: d.Cache,
	}
	if c.batchSize == 0 {
		c.batchSize = b.defaultBatch
	}
	if err := checkCacheAccess(c.role, d.Cache); err != nil {
		return nil, err
	}
	switch d.Collection {
	case "", "bag":
		c.kind = CollectionBag
	case "set":
		c.kind = CollectionSet
	case "list":
		c.kind = CollectionList
	case "map":
		c.kind = CollectionMap
	default:
		return nil, persist.NewMappingError(e.name, d.Name, "unknown collection kind %q", d.Collection)
	}
	if len(c.keyColumns) == 0 {
		if len(e.IdentifierColumns()) == 1 {
			c.keyColumns = []string{b.naming.JoinKeyColumn(e.name)}
		} else {
			for _, col := range e.IdentifierColumns() {
				c.keyColumns = append(c.keyColumns, b.naming.ColumnName(e.name)+"_"+col)
			}
		}
	}
	if len(c.keyColumns) != len(e.IdentifierColumns()) {
		return nil, persist.NewMappingError(e.name, d.Name, "collection key has %d columns, identifier has %d",
			len(c.keyColumns), len(e.IdentifierColumns()))
	}
	switch d.Kind {
	case DefOneToMany:
		target, ok := b.mm.entities[d.Target]
		if !ok {
			return nil, persist.NewMappingError(e.name, d.Name, "unknown target entity %q", d.Target)
		}
		c.oneToMany = true
		c.elementKind = ElementEntity
		c.elementEntity = d.Target
		c.table = target.table
		if d.Element != nil && len(d.Element.Columns) > 0 {
			return nil, persist.NewMappingError(e.name, d.Name, "one-to-many collections have no element columns")
		}
	case DefManyToMany:
		target, ok := b.mm.entities[d.Target]
		if !ok {
			return nil, persist.NewMappingError(e.name, d.Name, "unknown target entity %q", d.Target)
		}
		c.elementKind = ElementEntity
		c.elementEntity = d.Target
		c.table = d.Table
		if c.table == "" {
			c.table = b.naming.CollectionTableName(e.table, d.Name)
		}
		if d.Element != nil {
			c.elementColumns = d.Element.Columns
		}
		if len(c.elementColumns) == 0 {
			if len(target.IdentifierColumns()) == 1 {
				c.elementColumns = []string{b.naming.JoinKeyColumn(d.Target)}
			} else {
				for _, col := range target.IdentifierColumns() {
					c.elementColumns = append(c.elementColumns, b.naming.ColumnName(d.Target)+"_"+col)
				}
			}
		}
		if len(c.elementColumns) != len(target.IdentifierColumns()) {
			return nil, persist.NewMappingError(e.name, d.Name, "element columns do not match %s identifier", d.Target)
		}
	case DefElementCollection:
		c.table = d.Table
		if c.table == "" {
			c.table = b.naming.CollectionTableName(e.table, d.Name)
		}
		el := d.Element
		if el == nil {
			el = &ElementDef{}
		}
		if len(el.Members) > 0 {
			c.elementKind = ElementComposite
			comp, err := b.component(e, c.role, el.Members)
			if err != nil {
				return nil, err
			}
			for _, m := range comp.Attributes {
				m.ownerTable = c.table
				if m.IsAssociation() {
					m.key = NewAssociationKey(c.table, m.Columns)
				}
			}
			c.component = comp
		} else {
			c.elementKind = ElementBasic
			c.elementType = el.Type
			c.elementColumns = el.Columns
			if len(c.elementColumns) == 0 {
				c.elementColumns = []string{b.naming.ElementColumn(d.Name)}
			}
		}
	}
	if c.kind.IsIndexed() {
		if d.Index != nil {
			c.indexColumns = d.Index.Columns
			c.indexType = d.Index.Type
		}
		if c.kind == CollectionList {
			c.indexType = "int"
		}
		if len(c.indexColumns) == 0 {
			c.indexColumns = []string{b.naming.IndexColumn(d.Name, c.kind)}
		}
	} else if d.Index != nil {
		return nil, persist.NewMappingError(e.name, d.Name, "%s collections have no index", c.kind)
	}
	return c, nil
}

func fetchStrategy(entity string, d *AttributeDef, def persist.FetchStrategy) (persist.FetchStrategy, error) {
	fs := def
	if d.Fetch != "" {
		style, err := persist.ParseFetchStyle(d.Fetch)
		if err != nil {
			return fs, &persist.MappingError{Entity: entity, Attribute: d.Name, Message: "invalid fetch style", Cause: err}
		}
		fs.Style = style
		if style == persist.StyleJoin {
			// A join fetch is always eager.
			fs.Timing = persist.FetchImmediate
		}
	}
	if d.Lazy != nil {
		if *d.Lazy && fs.Style == persist.StyleJoin && d.Fetch != "" {
			return fs, persist.NewMappingError(entity, d.Name, "join fetching cannot be lazy")
		}
		if *d.Lazy {
			fs.Timing = persist.FetchDelayed
			if fs.Style == persist.StyleJoin {
				fs.Style = persist.StyleSelect
			}
		} else {
			fs.Timing = persist.FetchImmediate
		}
	}
	return fs, nil
}

func parseCascade(entity string, d *AttributeDef) (Cascade, error) {
	var c Cascade
	for _, s := range d.Cascade {
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "persist", "save-update":
			c |= CascadePersist
		case "delete", "remove":
			c |= CascadeDelete
		case "merge":
			c |= CascadeMerge
		case "all":
			c |= CascadeAll
		case "none":
		default:
			return 0, persist.NewMappingError(entity, d.Name, "unknown cascade style %q", s)
		}
	}
	return c, nil
}

func checkCacheAccess(name string, ca CacheAccess) error {
	switch ca {
	case CacheNone, CacheReadOnly, CacheReadWrite, CacheNonstrictReadWrite:
		return nil
	}
	return persist.NewMappingError(name, "", "unknown cache access type %q", ca)
}

func isCollectionKind(kind string) bool {
	return kind == DefOneToMany || kind == DefManyToMany || kind == DefElementCollection
}

func hasSecondary(e *Entity, table string) bool {
	for _, st := range e.secondary {
		if st.Table == table {
			return true
		}
	}
	return false
}
