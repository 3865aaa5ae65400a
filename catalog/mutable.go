package catalog

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/andreyvit/docrel/pathref"
)

var (
	ErrIndexExists   = errors.New("index already exists")
	ErrIndexNotFound = errors.New("index not found")
)

// MutableSnapshot is a transaction-private fork of an immutable Snapshot.
// Elements are only ever added (indexes may also be removed), and every
// addition is remembered so that it can be replayed onto a newer snapshot.
//
// Not safe for concurrent use.
type MutableSnapshot struct {
	origin    *Snapshot
	databases map[string]*MutableDatabase
}

func Fork(origin *Snapshot) *MutableSnapshot {
	return &MutableSnapshot{origin: origin, databases: make(map[string]*MutableDatabase)}
}

func (ms *MutableSnapshot) Origin() *Snapshot {
	return ms.origin
}

// Database returns nil when the database neither exists in the origin nor
// has been added.
func (ms *MutableSnapshot) Database(name string) *MutableDatabase {
	if mdb, ok := ms.databases[name]; ok {
		return mdb
	}
	db := ms.origin.Database(name)
	if db == nil {
		return nil
	}
	mdb := &MutableDatabase{snap: ms, origin: db, name: name, identifier: db.identifier}
	ms.databases[name] = mdb
	return mdb
}

func (ms *MutableSnapshot) GetOrAddDatabase(name string) *MutableDatabase {
	if mdb := ms.Database(name); mdb != nil {
		return mdb
	}
	id := uniqueIdentifier(databaseIdentifierBase(name), func(id string) bool {
		if ms.origin.DatabaseByIdentifier(id) != nil {
			return true
		}
		for _, mdb := range ms.databases {
			if mdb.identifier == id {
				return true
			}
		}
		return false
	})
	mdb := &MutableDatabase{snap: ms, name: name, identifier: id}
	ms.databases[name] = mdb
	return mdb
}

func (ms *MutableSnapshot) ChangedDatabases() []ChangedElement[*MutableDatabase] {
	var result []ChangedElement[*MutableDatabase]
	for _, name := range slices.Sorted(maps.Keys(ms.databases)) {
		mdb := ms.databases[name]
		if ct, ok := mdb.Change(); ok {
			result = append(result, ChangedElement[*MutableDatabase]{mdb, ct})
		}
	}
	return result
}

func (ms *MutableSnapshot) HasChanges() bool {
	return len(ms.ChangedDatabases()) > 0
}

type MutableDatabase struct {
	snap        *MutableSnapshot
	origin      *Database
	name        string
	identifier  string
	collections map[string]*MutableCollection
	addedDocIDs map[string]bool
}

// Origin is nil for databases added by this fork.
func (mdb *MutableDatabase) Origin() *Database  { return mdb.origin }
func (mdb *MutableDatabase) Name() string       { return mdb.name }
func (mdb *MutableDatabase) Identifier() string { return mdb.identifier }

func (mdb *MutableDatabase) Collection(name string) *MutableCollection {
	if mc, ok := mdb.collections[name]; ok {
		return mc
	}
	if mdb.origin == nil {
		return nil
	}
	c := mdb.origin.Collection(name)
	if c == nil {
		return nil
	}
	mc := &MutableCollection{db: mdb, origin: c, name: name, identifier: c.identifier}
	mdb.putCollection(mc)
	return mc
}

func (mdb *MutableDatabase) GetOrAddCollection(name string) *MutableCollection {
	if mc := mdb.Collection(name); mc != nil {
		return mc
	}
	id := uniqueIdentifier(collectionIdentifierBase(name), func(id string) bool {
		if mdb.origin != nil && mdb.origin.CollectionByIdentifier(id) != nil {
			return true
		}
		for _, mc := range mdb.collections {
			if mc.identifier == id {
				return true
			}
		}
		return false
	})
	mc := &MutableCollection{db: mdb, name: name, identifier: id}
	mdb.putCollection(mc)
	return mc
}

func (mdb *MutableDatabase) putCollection(mc *MutableCollection) {
	if mdb.collections == nil {
		mdb.collections = make(map[string]*MutableCollection)
	}
	mdb.collections[mc.name] = mc
}

func (mdb *MutableDatabase) docPartIdentifierTaken(id string) bool {
	if mdb.origin != nil && mdb.origin.DocPartByIdentifier(id) != nil {
		return true
	}
	return mdb.addedDocIDs[id]
}

func (mdb *MutableDatabase) Change() (ChangeType, bool) {
	if mdb.origin == nil {
		return Added, true
	}
	if len(mdb.ChangedCollections()) > 0 {
		return Modified, true
	}
	return 0, false
}

func (mdb *MutableDatabase) ChangedCollections() []ChangedElement[*MutableCollection] {
	var result []ChangedElement[*MutableCollection]
	for _, name := range slices.Sorted(maps.Keys(mdb.collections)) {
		mc := mdb.collections[name]
		if ct, ok := mc.Change(); ok {
			result = append(result, ChangedElement[*MutableCollection]{mc, ct})
		}
	}
	return result
}

type MutableCollection struct {
	db             *MutableDatabase
	origin         *Collection
	name           string
	identifier     string
	docParts       map[string]*MutableDocPart
	addedIndexes   map[string]*Index
	removedIndexes map[string]*Index
}

func (mc *MutableCollection) Origin() *Collection       { return mc.origin }
func (mc *MutableCollection) Database() *MutableDatabase { return mc.db }
func (mc *MutableCollection) Name() string              { return mc.name }
func (mc *MutableCollection) Identifier() string        { return mc.identifier }

func (mc *MutableCollection) DocPart(ref *pathref.PathRef) *MutableDocPart {
	if mdp, ok := mc.docParts[ref.Key()]; ok {
		return mdp
	}
	if mc.origin == nil {
		return nil
	}
	dp := mc.origin.DocPart(ref)
	if dp == nil {
		return nil
	}
	mdp := &MutableDocPart{coll: mc, origin: dp, ref: ref, identifier: dp.identifier, nextPos: dp.nextPos}
	mc.putDocPart(mdp)
	return mdp
}

func (mc *MutableCollection) GetOrAddDocPart(ref *pathref.PathRef) *MutableDocPart {
	if mdp := mc.DocPart(ref); mdp != nil {
		return mdp
	}
	id := uniqueIdentifier(docPartIdentifierBase(mc.identifier, ref.Sequence()), mc.db.docPartIdentifierTaken)
	if mc.db.addedDocIDs == nil {
		mc.db.addedDocIDs = make(map[string]bool)
	}
	mc.db.addedDocIDs[id] = true
	mdp := &MutableDocPart{coll: mc, ref: ref, identifier: id}
	mc.putDocPart(mdp)
	return mdp
}

func (mc *MutableCollection) putDocPart(mdp *MutableDocPart) {
	if mc.docParts == nil {
		mc.docParts = make(map[string]*MutableDocPart)
	}
	mc.docParts[mdp.ref.Key()] = mdp
}

// DocParts returns every doc part visible to the fork, parents first.
func (mc *MutableCollection) DocParts() []*MutableDocPart {
	if mc.origin != nil {
		for _, dp := range mc.origin.docParts {
			mc.DocPart(dp.ref)
		}
	}
	dps := slices.Collect(maps.Values(mc.docParts))
	slices.SortFunc(dps, func(a, b *MutableDocPart) int {
		if a.ref.Depth() != b.ref.Depth() {
			return a.ref.Depth() - b.ref.Depth()
		}
		return strings.Compare(a.ref.Key(), b.ref.Key())
	})
	return dps
}

func (mc *MutableCollection) Index(name string) *Index {
	if idx, ok := mc.addedIndexes[name]; ok {
		return idx
	}
	if _, ok := mc.removedIndexes[name]; ok || mc.origin == nil {
		return nil
	}
	return mc.origin.Index(name)
}

func (mc *MutableCollection) Indexes() []*Index {
	all := make(map[string]*Index)
	if mc.origin != nil {
		maps.Copy(all, mc.origin.indexes)
	}
	for name := range mc.removedIndexes {
		delete(all, name)
	}
	maps.Copy(all, mc.addedIndexes)
	return sortedValues(all)
}

// AddIndex defines a new logical index. It does not create doc part
// indexes; callers derive those from the columns that exist.
func (mc *MutableCollection) AddIndex(name string, unique bool, fields []IndexField) (*Index, error) {
	if mc.Index(name) != nil {
		return nil, fmt.Errorf("%s.%s: %w", mc.name, name, ErrIndexExists)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("%s.%s: index has no fields", mc.name, name)
	}
	id := uniqueIdentifier(mc.identifier+"_"+strings.TrimPrefix(sanitize(name), "_"), func(id string) bool {
		for _, idx := range mc.Indexes() {
			if idx.identifier == id {
				return true
			}
		}
		if old, ok := mc.removedIndexes[name]; ok && old.identifier == id {
			// the dropped index still exists until commit
			return true
		}
		return false
	})
	idx := NewIndex(name, id, unique, fields)
	if mc.addedIndexes == nil {
		mc.addedIndexes = make(map[string]*Index)
	}
	mc.addedIndexes[name] = idx
	return idx, nil
}

func (mc *MutableCollection) RemoveIndex(name string) (*Index, error) {
	if idx, ok := mc.addedIndexes[name]; ok {
		delete(mc.addedIndexes, name)
		return idx, nil
	}
	idx := mc.Index(name)
	if idx == nil {
		return nil, fmt.Errorf("%s.%s: %w", mc.name, name, ErrIndexNotFound)
	}
	if mc.removedIndexes == nil {
		mc.removedIndexes = make(map[string]*Index)
	}
	mc.removedIndexes[name] = idx
	return idx, nil
}

func (mc *MutableCollection) Change() (ChangeType, bool) {
	if mc.origin == nil {
		return Added, true
	}
	if len(mc.addedIndexes) > 0 || len(mc.removedIndexes) > 0 || len(mc.ChangedDocParts()) > 0 {
		return Modified, true
	}
	return 0, false
}

// ChangedDocParts lists added and modified doc parts, parents first.
func (mc *MutableCollection) ChangedDocParts() []ChangedElement[*MutableDocPart] {
	var result []ChangedElement[*MutableDocPart]
	dps := slices.Collect(maps.Values(mc.docParts))
	slices.SortFunc(dps, func(a, b *MutableDocPart) int {
		if a.ref.Depth() != b.ref.Depth() {
			return a.ref.Depth() - b.ref.Depth()
		}
		return strings.Compare(a.ref.Key(), b.ref.Key())
	})
	for _, mdp := range dps {
		if ct, ok := mdp.Change(); ok {
			result = append(result, ChangedElement[*MutableDocPart]{mdp, ct})
		}
	}
	return result
}

// ChangedIndexes lists removals before additions so that an index dropped
// and recreated under the same name replays correctly.
func (mc *MutableCollection) ChangedIndexes() []ChangedElement[*Index] {
	var result []ChangedElement[*Index]
	for _, name := range slices.Sorted(maps.Keys(mc.removedIndexes)) {
		result = append(result, ChangedElement[*Index]{mc.removedIndexes[name], Removed})
	}
	for _, name := range slices.Sorted(maps.Keys(mc.addedIndexes)) {
		result = append(result, ChangedElement[*Index]{mc.addedIndexes[name], Added})
	}
	return result
}

type MutableDocPart struct {
	coll           *MutableCollection
	origin         *DocPart
	ref            *pathref.PathRef
	identifier     string
	addedFields    []*Field
	addedScalars   []*Scalar
	nextPos        int
	addedIndexes   []*DocPartIndex
	removedIndexes []*DocPartIndex
}

func (mdp *MutableDocPart) Origin() *DocPart                { return mdp.origin }
func (mdp *MutableDocPart) Collection() *MutableCollection  { return mdp.coll }
func (mdp *MutableDocPart) Ref() *pathref.PathRef           { return mdp.ref }
func (mdp *MutableDocPart) Identifier() string              { return mdp.identifier }
func (mdp *MutableDocPart) NextPosition() int               { return mdp.nextPos }
func (mdp *MutableDocPart) AddedFields() []*Field           { return slices.Clone(mdp.addedFields) }
func (mdp *MutableDocPart) AddedScalars() []*Scalar         { return slices.Clone(mdp.addedScalars) }

func (mdp *MutableDocPart) Field(name string, typ FieldType) *Field {
	if mdp.origin != nil {
		if f := mdp.origin.Field(name, typ); f != nil {
			return f
		}
	}
	return findField(mdp.addedFields, name, typ)
}

func (mdp *MutableDocPart) FieldsNamed(name string) []*Field {
	var result []*Field
	if mdp.origin != nil {
		result = mdp.origin.FieldsNamed(name)
	}
	for _, f := range mdp.addedFields {
		if f.name == name {
			result = append(result, f)
		}
	}
	return result
}

func (mdp *MutableDocPart) Scalar(typ FieldType) *Scalar {
	if mdp.origin != nil {
		if s := mdp.origin.Scalar(typ); s != nil {
			return s
		}
	}
	return findScalar(mdp.addedScalars, typ)
}

func (mdp *MutableDocPart) ColumnByIdentifier(id string) Column {
	if mdp.origin != nil {
		if c := mdp.origin.ColumnByIdentifier(id); c != nil {
			return c
		}
	}
	return findColumnByIdentifier(mdp.addedFields, mdp.addedScalars, id)
}

func (mdp *MutableDocPart) columnIdentifierTaken(id string) bool {
	return IsReservedColumnIdentifier(id) || mdp.ColumnByIdentifier(id) != nil
}

// AddField appends a column for name:typ at the next position. The field
// must not exist yet.
func (mdp *MutableDocPart) AddField(name string, typ FieldType) *Field {
	if mdp.Field(name, typ) != nil {
		panic(fmt.Errorf("%s: duplicate field %s:%v", mdp.identifier, name, typ))
	}
	id := uniqueIdentifier(fieldIdentifierBase(name, typ), mdp.columnIdentifierTaken)
	f := NewField(name, id, typ, mdp.nextPos)
	mdp.nextPos++
	mdp.addedFields = append(mdp.addedFields, f)
	return f
}

func (mdp *MutableDocPart) AddScalar(typ FieldType) *Scalar {
	if mdp.Scalar(typ) != nil {
		panic(fmt.Errorf("%s: duplicate scalar %v", mdp.identifier, typ))
	}
	id := uniqueIdentifier(scalarIdentifierBase(typ), mdp.columnIdentifierTaken)
	s := NewScalar(id, typ, mdp.nextPos)
	mdp.nextPos++
	mdp.addedScalars = append(mdp.addedScalars, s)
	return s
}

func (mdp *MutableDocPart) DocPartIndex(id string) *DocPartIndex {
	for _, dpi := range mdp.addedIndexes {
		if dpi.identifier == id {
			return dpi
		}
	}
	for _, dpi := range mdp.removedIndexes {
		if dpi.identifier == id {
			return nil
		}
	}
	if mdp.origin == nil {
		return nil
	}
	return mdp.origin.DocPartIndex(id)
}

func (mdp *MutableDocPart) DocPartIndexes() []*DocPartIndex {
	all := make(map[string]*DocPartIndex)
	if mdp.origin != nil {
		maps.Copy(all, mdp.origin.indexes)
	}
	for _, dpi := range mdp.removedIndexes {
		delete(all, dpi.identifier)
	}
	for _, dpi := range mdp.addedIndexes {
		all[dpi.identifier] = dpi
	}
	return sortedValues(all)
}

// AddDocPartIndex creates a physical index named after this doc part and
// the logical index identifier, numbered to be unique.
func (mdp *MutableDocPart) AddDocPartIndex(indexIdentifier string, unique bool, columns []DocPartIndexColumn) *DocPartIndex {
	base := mdp.identifier + "_" + indexIdentifier
	var id string
	for n := 1; ; n++ {
		suffix := "_" + strconv.Itoa(n)
		id = truncate(base, MaxIdentifierLength-len(suffix)) + suffix
		if mdp.DocPartIndex(id) == nil && !mdp.wasRemoved(id) {
			break
		}
	}
	dpi := NewDocPartIndex(id, indexIdentifier, unique, columns)
	mdp.addedIndexes = append(mdp.addedIndexes, dpi)
	return dpi
}

func (mdp *MutableDocPart) wasRemoved(id string) bool {
	for _, dpi := range mdp.removedIndexes {
		if dpi.identifier == id {
			return true
		}
	}
	return false
}

func (mdp *MutableDocPart) RemoveDocPartIndex(id string) bool {
	for i, dpi := range mdp.addedIndexes {
		if dpi.identifier == id {
			mdp.addedIndexes = slices.Delete(mdp.addedIndexes, i, i+1)
			return true
		}
	}
	dpi := mdp.DocPartIndex(id)
	if dpi == nil {
		return false
	}
	mdp.removedIndexes = append(mdp.removedIndexes, dpi)
	return true
}

// ChangedDocPartIndexes lists removals before additions.
func (mdp *MutableDocPart) ChangedDocPartIndexes() []ChangedElement[*DocPartIndex] {
	var result []ChangedElement[*DocPartIndex]
	for _, dpi := range mdp.removedIndexes {
		result = append(result, ChangedElement[*DocPartIndex]{dpi, Removed})
	}
	for _, dpi := range mdp.addedIndexes {
		result = append(result, ChangedElement[*DocPartIndex]{dpi, Added})
	}
	return result
}

func (mdp *MutableDocPart) Change() (ChangeType, bool) {
	if mdp.origin == nil {
		return Added, true
	}
	if len(mdp.addedFields) > 0 || len(mdp.addedScalars) > 0 || len(mdp.addedIndexes) > 0 || len(mdp.removedIndexes) > 0 {
		return Modified, true
	}
	return 0, false
}
