package catalog

import (
	"maps"
	"slices"
	"strings"

	"github.com/andreyvit/docrel/pathref"
)

// Snapshot is an immutable version of the whole catalog.
type Snapshot struct {
	version   uint64
	databases map[string]*Database
}

func EmptySnapshot() *Snapshot {
	return &Snapshot{databases: map[string]*Database{}}
}

func (s *Snapshot) Version() uint64 { return s.version }

func (s *Snapshot) Database(name string) *Database {
	return s.databases[name]
}

func (s *Snapshot) DatabaseByIdentifier(id string) *Database {
	for _, db := range s.databases {
		if db.identifier == id {
			return db
		}
	}
	return nil
}

func (s *Snapshot) Databases() []*Database {
	return sortedValues(s.databases)
}

type Database struct {
	name        string
	identifier  string
	collections map[string]*Collection
}

func (db *Database) Name() string       { return db.name }
func (db *Database) Identifier() string { return db.identifier }

func (db *Database) Collection(name string) *Collection {
	return db.collections[name]
}

func (db *Database) CollectionByIdentifier(id string) *Collection {
	for _, c := range db.collections {
		if c.identifier == id {
			return c
		}
	}
	return nil
}

func (db *Database) Collections() []*Collection {
	return sortedValues(db.collections)
}

// DocPartByIdentifier searches all collections; doc part identifiers are
// unique within a database.
func (db *Database) DocPartByIdentifier(id string) *DocPart {
	for _, c := range db.collections {
		if dp := c.DocPartByIdentifier(id); dp != nil {
			return dp
		}
	}
	return nil
}

type Collection struct {
	name       string
	identifier string
	docParts   map[string]*DocPart
	indexes    map[string]*Index
}

func (c *Collection) Name() string       { return c.name }
func (c *Collection) Identifier() string { return c.identifier }

func (c *Collection) DocPart(ref *pathref.PathRef) *DocPart {
	return c.docParts[ref.Key()]
}

func (c *Collection) DocPartByIdentifier(id string) *DocPart {
	for _, dp := range c.docParts {
		if dp.identifier == id {
			return dp
		}
	}
	return nil
}

// DocParts returns doc parts parents first.
func (c *Collection) DocParts() []*DocPart {
	return sortDocParts(slices.Collect(maps.Values(c.docParts)))
}

func (c *Collection) Index(name string) *Index {
	return c.indexes[name]
}

func (c *Collection) Indexes() []*Index {
	return sortedValues(c.indexes)
}

func sortDocParts(dps []*DocPart) []*DocPart {
	slices.SortFunc(dps, func(a, b *DocPart) int {
		if a.ref.Depth() != b.ref.Depth() {
			return a.ref.Depth() - b.ref.Depth()
		}
		return strings.Compare(a.ref.Key(), b.ref.Key())
	})
	return dps
}

type DocPart struct {
	ref        *pathref.PathRef
	identifier string
	fields     []*Field
	scalars    []*Scalar
	nextPos    int
	indexes    map[string]*DocPartIndex
}

func (dp *DocPart) Ref() *pathref.PathRef { return dp.ref }
func (dp *DocPart) Identifier() string    { return dp.identifier }

// NextPosition is the position the next added column will take.
func (dp *DocPart) NextPosition() int { return dp.nextPos }

func (dp *DocPart) Fields() []*Field   { return slices.Clone(dp.fields) }
func (dp *DocPart) Scalars() []*Scalar { return slices.Clone(dp.scalars) }

func (dp *DocPart) Field(name string, typ FieldType) *Field {
	return findField(dp.fields, name, typ)
}

func (dp *DocPart) FieldsNamed(name string) []*Field {
	var result []*Field
	for _, f := range dp.fields {
		if f.name == name {
			result = append(result, f)
		}
	}
	return result
}

func (dp *DocPart) Scalar(typ FieldType) *Scalar {
	return findScalar(dp.scalars, typ)
}

// Columns returns fields and scalars ordered by position.
func (dp *DocPart) Columns() []Column {
	return sortColumns(dp.fields, dp.scalars)
}

func (dp *DocPart) ColumnByIdentifier(id string) Column {
	return findColumnByIdentifier(dp.fields, dp.scalars, id)
}

func (dp *DocPart) ColumnAt(pos int) Column {
	for _, f := range dp.fields {
		if f.position == pos {
			return f
		}
	}
	for _, s := range dp.scalars {
		if s.position == pos {
			return s
		}
	}
	return nil
}

func (dp *DocPart) DocPartIndex(id string) *DocPartIndex {
	return dp.indexes[id]
}

func (dp *DocPart) DocPartIndexes() []*DocPartIndex {
	return sortedValues(dp.indexes)
}

type Field struct {
	name       string
	identifier string
	typ        FieldType
	position   int
}

func NewField(name, identifier string, typ FieldType, position int) *Field {
	return &Field{name, identifier, typ, position}
}

func (f *Field) Name() string       { return f.name }
func (f *Field) Identifier() string { return f.identifier }
func (f *Field) Type() FieldType    { return f.typ }
func (f *Field) Position() int      { return f.position }
func (f *Field) IsScalar() bool     { return false }

type Scalar struct {
	identifier string
	typ        FieldType
	position   int
}

func NewScalar(identifier string, typ FieldType, position int) *Scalar {
	return &Scalar{identifier, typ, position}
}

func (s *Scalar) Identifier() string { return s.identifier }
func (s *Scalar) Type() FieldType    { return s.typ }
func (s *Scalar) Position() int      { return s.position }
func (s *Scalar) IsScalar() bool     { return true }

// IndexField is one key of a logical index: a field name at a path.
type IndexField struct {
	Path       *pathref.PathRef
	Name       string
	Descending bool
}

// Index is a logical, type-agnostic index over document fields. It is
// materialized as DocPartIndexes over the typed columns of its doc part.
type Index struct {
	name       string
	identifier string
	unique     bool
	fields     []IndexField
}

func NewIndex(name, identifier string, unique bool, fields []IndexField) *Index {
	return &Index{name, identifier, unique, slices.Clone(fields)}
}

func (idx *Index) Name() string          { return idx.name }
func (idx *Index) Identifier() string    { return idx.identifier }
func (idx *Index) Unique() bool          { return idx.unique }
func (idx *Index) Fields() []IndexField  { return slices.Clone(idx.fields) }
func (idx *Index) Path() *pathref.PathRef { return idx.fields[0].Path }

// SameDefinition compares everything but the identifier.
func (idx *Index) SameDefinition(o *Index) bool {
	return idx.name == o.name && idx.unique == o.unique && slices.EqualFunc(idx.fields, o.fields, func(a, b IndexField) bool {
		return a.Name == b.Name && a.Descending == b.Descending && a.Path.Equal(b.Path)
	})
}

// Covers reports whether field name at path is one of the index keys.
func (idx *Index) Covers(path *pathref.PathRef, name string) bool {
	for _, f := range idx.fields {
		if f.Name == name && f.Path.Equal(path) {
			return true
		}
	}
	return false
}

type DocPartIndexColumn struct {
	Position   int
	Identifier string
	Descending bool
}

// DocPartIndex is a physical index over specific typed columns of one doc
// part, materializing (part of) the logical index it belongs to.
type DocPartIndex struct {
	identifier string
	index      string // identifier of the logical index
	unique     bool
	columns    []DocPartIndexColumn
}

func NewDocPartIndex(identifier, index string, unique bool, columns []DocPartIndexColumn) *DocPartIndex {
	return &DocPartIndex{identifier, index, unique, slices.Clone(columns)}
}

func (dpi *DocPartIndex) Identifier() string            { return dpi.identifier }
func (dpi *DocPartIndex) Index() string                 { return dpi.index }
func (dpi *DocPartIndex) Unique() bool                  { return dpi.unique }
func (dpi *DocPartIndex) Columns() []DocPartIndexColumn { return slices.Clone(dpi.columns) }

// SameColumns matches columns by position, falling back to identifier.
func (dpi *DocPartIndex) SameColumns(o *DocPartIndex) bool {
	return dpi.index == o.index && dpi.unique == o.unique && slices.EqualFunc(dpi.columns, o.columns, func(a, b DocPartIndexColumn) bool {
		return a.Descending == b.Descending && (a.Position == b.Position || a.Identifier == b.Identifier)
	})
}

// WithRemappedColumns returns a copy whose column positions are translated
// through remap; columns absent from remap keep their position.
func (dpi *DocPartIndex) WithRemappedColumns(remap map[int]int) *DocPartIndex {
	if len(remap) == 0 {
		return dpi
	}
	cols := slices.Clone(dpi.columns)
	changed := false
	for i, c := range cols {
		if p, ok := remap[c.Position]; ok && p != c.Position {
			cols[i].Position = p
			changed = true
		}
	}
	if !changed {
		return dpi
	}
	return &DocPartIndex{dpi.identifier, dpi.index, dpi.unique, cols}
}

type named interface {
	*Database | *Collection | *Index | *DocPartIndex
}

func sortedValues[T named](m map[string]T) []T {
	keys := slices.Sorted(maps.Keys(m))
	result := make([]T, len(keys))
	for i, k := range keys {
		result[i] = m[k]
	}
	return result
}

func findField(fields []*Field, name string, typ FieldType) *Field {
	for _, f := range fields {
		if f.name == name && f.typ == typ {
			return f
		}
	}
	return nil
}

func findScalar(scalars []*Scalar, typ FieldType) *Scalar {
	for _, s := range scalars {
		if s.typ == typ {
			return s
		}
	}
	return nil
}

func findColumnByIdentifier(fields []*Field, scalars []*Scalar, id string) Column {
	for _, f := range fields {
		if f.identifier == id {
			return f
		}
	}
	for _, s := range scalars {
		if s.identifier == id {
			return s
		}
	}
	return nil
}

func sortColumns(fields []*Field, scalars []*Scalar) []Column {
	cols := make([]Column, 0, len(fields)+len(scalars))
	for _, f := range fields {
		cols = append(cols, f)
	}
	for _, s := range scalars {
		cols = append(cols, s)
	}
	slices.SortFunc(cols, func(a, b Column) int {
		return a.Position() - b.Position()
	})
	return cols
}
