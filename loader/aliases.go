package loader

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/syssam/persist"
	"github.com/syssam/persist/loadplan"
	"github.com/syssam/persist/metamodel"
)

// maxAliasLength bounds generated table alias roots and column alias
// roots, before the uniqueness suffixes are appended.
const maxAliasLength = 10

// ColumnAlias is one selected column of a query space.
type ColumnAlias struct {
	Table  string
	Column string
	Alias  string
}

// ColumnAliases maps the columns selected for one query space to their
// result set aliases.
type ColumnAliases struct {
	suffix  string
	byTable map[string]map[string]string
	entries []ColumnAlias
}

func newColumnAliases(suffix string) *ColumnAliases {
	return &ColumnAliases{suffix: suffix, byTable: make(map[string]map[string]string)}
}

// add registers the column of table unless it is already aliased.
func (c *ColumnAliases) add(table, column string) string {
	cols, ok := c.byTable[table]
	if !ok {
		cols = make(map[string]string)
		c.byTable[table] = cols
	}
	if a, ok := cols[column]; ok {
		return a
	}
	a := columnAlias(column, len(c.entries)) + c.suffix
	cols[column] = a
	c.entries = append(c.entries, ColumnAlias{Table: table, Column: column, Alias: a})
	return a
}

// Entries returns the aliased columns in selection order.
func (c *ColumnAliases) Entries() []ColumnAlias {
	out := make([]ColumnAlias, len(c.entries))
	copy(out, c.entries)
	return out
}

// Suffix returns the numeric suffix shared by the aliases, such as "0_".
func (c *ColumnAliases) Suffix() string { return c.suffix }

// Alias returns the alias of the column of table.
func (c *ColumnAliases) Alias(table, column string) (string, bool) {
	a, ok := c.byTable[table][column]
	return a, ok
}

// Aliases returns the aliases of the given columns of table. Unknown
// columns yield empty strings.
func (c *ColumnAliases) Aliases(table string, columns []string) []string {
	out := make([]string, len(columns))
	for i, col := range columns {
		out[i] = c.byTable[table][col]
	}
	return out
}

// EntityReferenceAliases are the aliases of an entity query space.
type EntityReferenceAliases struct {
	TableAlias string
	persister  metamodel.EntityPersister
	columns    *ColumnAliases
}

// Columns returns the column aliases.
func (a *EntityReferenceAliases) Columns() *ColumnAliases { return a.columns }

// Suffix returns the alias suffix.
func (a *EntityReferenceAliases) Suffix() string { return a.columns.suffix }

// SuffixedKeyAliases returns the aliases of the identifier columns.
func (a *EntityReferenceAliases) SuffixedKeyAliases() []string {
	return a.columns.Aliases(a.persister.TableName(), a.persister.IdentifierColumns())
}

// TableAliasFor returns the alias of the primary table or of a secondary
// table of the entity.
func (a *EntityReferenceAliases) TableAliasFor(table string) string {
	for i, st := range a.persister.SecondaryTables() {
		if st.Table == table {
			return secondaryTableAlias(a.TableAlias, i+1)
		}
	}
	return a.TableAlias
}

// CollectionReferenceAliases are the aliases of a collection query space.
type CollectionReferenceAliases struct {
	// TableAlias is the alias of the collection table. One-to-many
	// collections share it with their element entity.
	TableAlias string
	persister  metamodel.CollectionPersister
	columns    *ColumnAliases
	// Element holds the aliases of entity elements, nil otherwise.
	Element *EntityReferenceAliases
}

// Columns returns the key, index and element column aliases.
func (a *CollectionReferenceAliases) Columns() *ColumnAliases { return a.columns }

// Suffix returns the alias suffix.
func (a *CollectionReferenceAliases) Suffix() string { return a.columns.suffix }

// SuffixedKeyAliases returns the aliases of the collection key columns.
func (a *CollectionReferenceAliases) SuffixedKeyAliases() []string {
	return a.columns.Aliases(a.persister.TableName(), a.persister.KeyColumns())
}

// SuffixedIndexAliases returns the aliases of the index columns.
func (a *CollectionReferenceAliases) SuffixedIndexAliases() []string {
	return a.columns.Aliases(a.persister.TableName(), a.persister.IndexColumns())
}

// SuffixedElementAliases returns the aliases of basic element columns and
// of the element foreign key of many-to-many collections.
func (a *CollectionReferenceAliases) SuffixedElementAliases() []string {
	return a.columns.Aliases(a.persister.TableName(), a.persister.ElementColumns())
}

// AliasResolutionContext assigns SQL table aliases and column aliases to
// the query spaces of a load plan. It is immutable once created.
type AliasResolutionContext struct {
	entities    map[string]*EntityReferenceAliases
	collections map[string]*CollectionReferenceAliases
	tableAlias  map[string]string
	owner       map[string]string
	incoming    map[string]*loadplan.JoinDefinedByMetadata
	tables      int
	suffixes    int
}

// NewAliasResolutionContext resolves aliases for every query space, in
// registration order.
func NewAliasResolutionContext(spaces *loadplan.QuerySpaces) (*AliasResolutionContext, error) {
	c := &AliasResolutionContext{
		entities:    make(map[string]*EntityReferenceAliases),
		collections: make(map[string]*CollectionReferenceAliases),
		tableAlias:  make(map[string]string),
		owner:       make(map[string]string),
		incoming:    make(map[string]*loadplan.JoinDefinedByMetadata),
	}
	all := spaces.All()
	for _, q := range all {
		for _, j := range q.Joins() {
			if m, ok := j.(*loadplan.JoinDefinedByMetadata); ok {
				c.incoming[j.RightHandSide().UID()] = m
			}
		}
	}
	for _, q := range all {
		switch q := q.(type) {
		case *loadplan.EntityQuerySpace:
			c.resolveEntity(q)
		case *loadplan.CollectionQuerySpace:
			c.resolveCollection(q)
		case *loadplan.CompositeQuerySpace:
			j, ok := c.incoming[q.UID()]
			if !ok {
				return nil, persist.NewIllegalStateError("composite query space %s is not joined from any space", q.UID())
			}
			owner := j.LeftHandSide().UID()
			if o, ok := c.owner[owner]; ok {
				owner = o
			}
			c.owner[q.UID()] = owner
			c.tableAlias[q.UID()] = c.tableAlias[owner]
		default:
			return nil, persist.NewIllegalArgumentError("unknown query space kind %T", q)
		}
	}
	return c, nil
}

func (c *AliasResolutionContext) nextTableAlias(name string) string {
	a := aliasRoot(name) + strconv.Itoa(c.tables) + "_"
	c.tables++
	return a
}

func (c *AliasResolutionContext) nextSuffix() string {
	s := strconv.Itoa(c.suffixes) + "_"
	c.suffixes++
	return s
}

func (c *AliasResolutionContext) resolveEntity(q *loadplan.EntityQuerySpace) {
	p := q.Persister()
	var table string
	if j, ok := c.incoming[q.UID()]; ok && j.JoinedPropertyName() == loadplan.ElementsProperty {
		if cq, ok := j.LeftHandSide().(*loadplan.CollectionQuerySpace); ok && cq.Persister().IsOneToMany() {
			table = c.tableAlias[cq.UID()]
		}
	}
	if table == "" {
		table = c.nextTableAlias(p.EntityName())
	}
	a := &EntityReferenceAliases{TableAlias: table, persister: p, columns: newColumnAliases(c.nextSuffix())}
	for _, col := range p.IdentifierColumns() {
		a.columns.add(p.TableName(), col)
	}
	addAttributeColumns(a.columns, p.Attributes())
	c.entities[q.UID()] = a
	c.tableAlias[q.UID()] = table
	if j, ok := c.incoming[q.UID()]; ok && j.JoinedPropertyName() == loadplan.ElementsProperty {
		if ca, ok := c.collections[j.LeftHandSide().UID()]; ok {
			ca.Element = a
		}
	}
}

func (c *AliasResolutionContext) resolveCollection(q *loadplan.CollectionQuerySpace) {
	p := q.Persister()
	name := p.Role()
	if p.IsOneToMany() {
		name = p.ElementEntityName()
	}
	a := &CollectionReferenceAliases{
		TableAlias: c.nextTableAlias(name),
		persister:  p,
		columns:    newColumnAliases(c.nextSuffix()),
	}
	t := p.TableName()
	for _, col := range p.KeyColumns() {
		a.columns.add(t, col)
	}
	for _, col := range p.IndexColumns() {
		a.columns.add(t, col)
	}
	for _, col := range p.ElementColumns() {
		a.columns.add(t, col)
	}
	if comp := p.ElementComponent(); comp != nil {
		addAttributeColumns(a.columns, comp.Attributes)
	}
	c.collections[q.UID()] = a
	c.tableAlias[q.UID()] = a.TableAlias
}

// addAttributeColumns aliases the columns stored in the owner's row:
// basic, to-one foreign key, any and composite member columns.
func addAttributeColumns(ca *ColumnAliases, attrs []*metamodel.Attribute) {
	for _, a := range attrs {
		switch a.Kind {
		case metamodel.KindComposite:
			addAttributeColumns(ca, a.Component.Attributes)
		case metamodel.KindCollection:
		default:
			for _, col := range a.Columns {
				ca.add(a.TableName(), col)
			}
		}
	}
}

// ResolveSQLTableAlias returns the table alias of the space. Composite
// spaces resolve to the alias of the space owning their columns.
func (c *AliasResolutionContext) ResolveSQLTableAlias(uid string) string {
	return c.tableAlias[uid]
}

// ResolveEntityReferenceAliases returns the aliases of an entity space, or
// of the entity owning a composite space. It returns nil for collection
// spaces and composite collection elements.
func (c *AliasResolutionContext) ResolveEntityReferenceAliases(uid string) *EntityReferenceAliases {
	if o, ok := c.owner[uid]; ok {
		uid = o
	}
	return c.entities[uid]
}

// ResolveCollectionReferenceAliases returns the aliases of a collection
// space, or of the collection owning a composite element space.
func (c *AliasResolutionContext) ResolveCollectionReferenceAliases(uid string) *CollectionReferenceAliases {
	if o, ok := c.owner[uid]; ok {
		uid = o
	}
	return c.collections[uid]
}

// OwnerUID returns the uid of the entity or collection space holding the
// columns of the given space.
func (c *AliasResolutionContext) OwnerUID(uid string) string {
	if o, ok := c.owner[uid]; ok {
		return o
	}
	return uid
}

// aliasRoot derives a lower case table alias root from an entity name or
// collection role: "Employee.reports" gives "reports".
func aliasRoot(name string) string {
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		name = name[i+1:]
	}
	if len(name) > maxAliasLength {
		name = name[:maxAliasLength]
	}
	name = strings.TrimLeftFunc(strings.ToLower(name), func(r rune) bool { return !unicode.IsLetter(r) })
	if name == "" {
		return "alias"
	}
	if last := name[len(name)-1]; last >= '0' && last <= '9' {
		name += "x"
	}
	return name
}

// columnAlias returns the alias root of the column at position n, such as
// "name2_" or "departme3_" for a long name.
func columnAlias(column string, n int) string {
	unique := strconv.Itoa(n) + "_"
	alias := strings.ToLower(column)
	last := strings.LastIndexFunc(alias, unicode.IsLetter)
	switch {
	case last < 0:
		alias = "column"
	case last+1 < len(alias):
		alias = alias[:last+1]
	}
	if len(alias)+len(unique) > maxAliasLength {
		alias = alias[:maxAliasLength-len(unique)]
	}
	return alias + unique
}

// secondaryTableAlias returns the alias of the n-th secondary table,
// "employee0_1_" for n = 1.
func secondaryTableAlias(root string, n int) string {
	if n == 0 {
		return root
	}
	if !strings.HasSuffix(root, "_") {
		root += "_"
	}
	return root + strconv.Itoa(n) + "_"
}
