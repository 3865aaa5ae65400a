package catalog

import (
	"fmt"
	"maps"
	"slices"

	"github.com/andreyvit/docrel/pathref"
)

// SnapshotBuilder derives a new Snapshot from a base one. Untouched
// databases are shared with the base. Build returns the base itself when
// nothing changed.
type SnapshotBuilder struct {
	base      *Snapshot
	databases map[string]*Database
	dirty     bool
}

func NewSnapshotBuilder(base *Snapshot) *SnapshotBuilder {
	return &SnapshotBuilder{base: base, databases: base.databases}
}

func (b *SnapshotBuilder) mutate() {
	if !b.dirty {
		b.databases = maps.Clone(b.databases)
		b.dirty = true
	}
}

func (b *SnapshotBuilder) Database(name string) *Database {
	return b.databases[name]
}

func (b *SnapshotBuilder) DatabaseIdentifierTaken(id string) bool {
	for _, db := range b.databases {
		if db.identifier == id {
			return true
		}
	}
	return false
}

func (b *SnapshotBuilder) PutDatabase(db *Database) {
	if b.databases[db.name] == db {
		return
	}
	b.mutate()
	b.databases[db.name] = db
}

func (b *SnapshotBuilder) RemoveDatabase(name string) {
	if _, ok := b.databases[name]; !ok {
		return
	}
	b.mutate()
	delete(b.databases, name)
}

func (b *SnapshotBuilder) Build() *Snapshot {
	if !b.dirty {
		return b.base
	}
	b.base = &Snapshot{version: b.base.version + 1, databases: b.databases}
	b.dirty = false
	return b.base
}

type DatabaseBuilder struct {
	base        *Database
	name        string
	identifier  string
	collections map[string]*Collection
	dirty       bool
}

func NewDatabaseBuilder(name, identifier string) *DatabaseBuilder {
	return &DatabaseBuilder{
		name:        name,
		identifier:  identifier,
		collections: make(map[string]*Collection),
		dirty:       true,
	}
}

func (db *Database) Builder() *DatabaseBuilder {
	return &DatabaseBuilder{base: db, name: db.name, identifier: db.identifier, collections: db.collections}
}

func (b *DatabaseBuilder) mutate() {
	if !b.dirty {
		b.collections = maps.Clone(b.collections)
		b.dirty = true
	}
}

func (b *DatabaseBuilder) Name() string       { return b.name }
func (b *DatabaseBuilder) Identifier() string { return b.identifier }

func (b *DatabaseBuilder) Collection(name string) *Collection {
	return b.collections[name]
}

func (b *DatabaseBuilder) CollectionIdentifierTaken(id string) bool {
	for _, c := range b.collections {
		if c.identifier == id {
			return true
		}
	}
	return false
}

func (b *DatabaseBuilder) DocPartIdentifierTaken(id string) bool {
	_, dp := b.DocPartByIdentifier(id)
	return dp != nil
}

// DocPartByIdentifier finds the doc part using id and its collection.
func (b *DatabaseBuilder) DocPartByIdentifier(id string) (*Collection, *DocPart) {
	for _, c := range b.collections {
		if dp := c.DocPartByIdentifier(id); dp != nil {
			return c, dp
		}
	}
	return nil, nil
}

func (b *DatabaseBuilder) PutCollection(c *Collection) {
	if b.collections[c.name] == c {
		return
	}
	b.mutate()
	b.collections[c.name] = c
}

func (b *DatabaseBuilder) RemoveCollection(name string) {
	if _, ok := b.collections[name]; !ok {
		return
	}
	b.mutate()
	delete(b.collections, name)
}

func (b *DatabaseBuilder) Build() *Database {
	if !b.dirty {
		return b.base
	}
	b.base = &Database{name: b.name, identifier: b.identifier, collections: b.collections}
	b.dirty = false
	return b.base
}

type CollectionBuilder struct {
	base       *Collection
	name       string
	identifier string
	docParts   map[string]*DocPart
	indexes    map[string]*Index
	dirty      bool
}

func NewCollectionBuilder(name, identifier string) *CollectionBuilder {
	return &CollectionBuilder{
		name:       name,
		identifier: identifier,
		docParts:   make(map[string]*DocPart),
		indexes:    make(map[string]*Index),
		dirty:      true,
	}
}

func (c *Collection) Builder() *CollectionBuilder {
	return &CollectionBuilder{base: c, name: c.name, identifier: c.identifier, docParts: c.docParts, indexes: c.indexes}
}

func (b *CollectionBuilder) mutate() {
	if !b.dirty {
		b.docParts = maps.Clone(b.docParts)
		b.indexes = maps.Clone(b.indexes)
		b.dirty = true
	}
}

func (b *CollectionBuilder) Name() string       { return b.name }
func (b *CollectionBuilder) Identifier() string { return b.identifier }

func (b *CollectionBuilder) DocPart(ref *pathref.PathRef) *DocPart {
	return b.docParts[ref.Key()]
}

func (b *CollectionBuilder) PutDocPart(dp *DocPart) {
	if b.docParts[dp.ref.Key()] == dp {
		return
	}
	b.mutate()
	b.docParts[dp.ref.Key()] = dp
}

func (b *CollectionBuilder) Index(name string) *Index {
	return b.indexes[name]
}

func (b *CollectionBuilder) IndexIdentifierTaken(id string) bool {
	for _, idx := range b.indexes {
		if idx.identifier == id {
			return true
		}
	}
	return false
}

func (b *CollectionBuilder) PutIndex(idx *Index) {
	if b.indexes[idx.name] == idx {
		return
	}
	b.mutate()
	b.indexes[idx.name] = idx
}

func (b *CollectionBuilder) RemoveIndex(name string) {
	if _, ok := b.indexes[name]; !ok {
		return
	}
	b.mutate()
	delete(b.indexes, name)
}

func (b *CollectionBuilder) Build() *Collection {
	if !b.dirty {
		return b.base
	}
	b.base = &Collection{name: b.name, identifier: b.identifier, docParts: b.docParts, indexes: b.indexes}
	b.dirty = false
	return b.base
}

// DocPartBuilder appends columns and edits doc part indexes. Column
// positions only grow: a column is never placed below NextPosition.
type DocPartBuilder struct {
	base       *DocPart
	ref        *pathref.PathRef
	identifier string
	fields     []*Field
	scalars    []*Scalar
	nextPos    int
	indexes    map[string]*DocPartIndex
	dirty      bool
}

func NewDocPartBuilder(ref *pathref.PathRef, identifier string) *DocPartBuilder {
	return &DocPartBuilder{
		ref:        ref,
		identifier: identifier,
		indexes:    make(map[string]*DocPartIndex),
		dirty:      true,
	}
}

func (dp *DocPart) Builder() *DocPartBuilder {
	return &DocPartBuilder{
		base:       dp,
		ref:        dp.ref,
		identifier: dp.identifier,
		fields:     dp.fields,
		scalars:    dp.scalars,
		nextPos:    dp.nextPos,
		indexes:    dp.indexes,
	}
}

func (b *DocPartBuilder) mutate() {
	if !b.dirty {
		b.fields = slices.Clone(b.fields)
		b.scalars = slices.Clone(b.scalars)
		b.indexes = maps.Clone(b.indexes)
		b.dirty = true
	}
}

func (b *DocPartBuilder) Ref() *pathref.PathRef { return b.ref }
func (b *DocPartBuilder) Identifier() string    { return b.identifier }
func (b *DocPartBuilder) NextPosition() int     { return b.nextPos }

func (b *DocPartBuilder) Field(name string, typ FieldType) *Field {
	return findField(b.fields, name, typ)
}

func (b *DocPartBuilder) FieldsNamed(name string) []*Field {
	var result []*Field
	for _, f := range b.fields {
		if f.name == name {
			result = append(result, f)
		}
	}
	return result
}

func (b *DocPartBuilder) Scalar(typ FieldType) *Scalar {
	return findScalar(b.scalars, typ)
}

func (b *DocPartBuilder) ColumnByIdentifier(id string) Column {
	return findColumnByIdentifier(b.fields, b.scalars, id)
}

func (b *DocPartBuilder) checkNewColumn(id string, pos int) {
	if b.ColumnByIdentifier(id) != nil {
		panic(fmt.Errorf("%s: duplicate column identifier %q", b.identifier, id))
	}
	if pos < b.nextPos {
		panic(fmt.Errorf("%s: column %q at position %d below next position %d", b.identifier, id, pos, b.nextPos))
	}
}

func (b *DocPartBuilder) AddField(f *Field) {
	if b.Field(f.name, f.typ) != nil {
		panic(fmt.Errorf("%s: duplicate field %s:%v", b.identifier, f.name, f.typ))
	}
	b.checkNewColumn(f.identifier, f.position)
	b.mutate()
	b.fields = append(b.fields, f)
	b.nextPos = f.position + 1
}

func (b *DocPartBuilder) AddScalar(s *Scalar) {
	if b.Scalar(s.typ) != nil {
		panic(fmt.Errorf("%s: duplicate scalar %v", b.identifier, s.typ))
	}
	b.checkNewColumn(s.identifier, s.position)
	b.mutate()
	b.scalars = append(b.scalars, s)
	b.nextPos = s.position + 1
}

func (b *DocPartBuilder) DocPartIndex(id string) *DocPartIndex {
	return b.indexes[id]
}

func (b *DocPartBuilder) PutDocPartIndex(dpi *DocPartIndex) {
	if b.indexes[dpi.identifier] == dpi {
		return
	}
	b.mutate()
	b.indexes[dpi.identifier] = dpi
}

func (b *DocPartBuilder) RemoveDocPartIndex(id string) {
	if _, ok := b.indexes[id]; !ok {
		return
	}
	b.mutate()
	delete(b.indexes, id)
}

func (b *DocPartBuilder) Build() *DocPart {
	if !b.dirty {
		return b.base
	}
	b.base = &DocPart{
		ref:        b.ref,
		identifier: b.identifier,
		fields:     b.fields,
		scalars:    b.scalars,
		nextPos:    b.nextPos,
		indexes:    b.indexes,
	}
	b.dirty = false
	return b.base
}
