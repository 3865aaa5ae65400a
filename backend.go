package docrel

import (
	"context"
	"fmt"
	"strings"

	"github.com/andreyvit/docrel/catalog"
	"github.com/andreyvit/docrel/docval"
	"github.com/andreyvit/docrel/pathref"
)

// Backend physically stores what the catalog describes. It receives schema
// changes and rows with identifiers, types and positions fully resolved.
type Backend interface {
	// LoadCatalog returns the schema as of the last successful Apply.
	LoadCatalog(ctx context.Context) (*catalog.Snapshot, error)

	// Apply creates the structures described by changes and inserts the
	// rows, atomically.
	Apply(ctx context.Context, changes []SchemaChange, batches []RowBatch) error

	// ReadDocument returns all rows of document did, resolved against snap.
	ReadDocument(ctx context.Context, snap *catalog.Snapshot, database, collection string, did int64) (*CollectionData, error)

	Close() error
}

type SchemaOp int

const (
	OpAddDatabase SchemaOp = iota + 1
	OpAddCollection
	OpAddDocPart
	OpAddField
	OpAddScalar
	OpAddIndex
	OpDropIndex
	OpAddDocPartIndex
	OpDropDocPartIndex
)

func (v SchemaOp) String() string {
	switch v {
	case OpAddDatabase:
		return "add-database"
	case OpAddCollection:
		return "add-collection"
	case OpAddDocPart:
		return "add-docpart"
	case OpAddField:
		return "add-field"
	case OpAddScalar:
		return "add-scalar"
	case OpAddIndex:
		return "add-index"
	case OpDropIndex:
		return "drop-index"
	case OpAddDocPartIndex:
		return "add-docpart-index"
	case OpDropDocPartIndex:
		return "drop-docpart-index"
	default:
		return fmt.Sprintf("invalid op %d", int(v))
	}
}

// SchemaChange is one physical schema operation. Which fields are set
// depends on Op; names are always accompanied by their identifiers.
type SchemaChange struct {
	Op           SchemaOp                     `msgpack:"op"`
	Database     string                       `msgpack:"db"`
	DatabaseID   string                       `msgpack:"dbid"`
	Collection   string                       `msgpack:"coll,omitempty"`
	CollectionID string                       `msgpack:"collid,omitempty"`
	Path         []string                     `msgpack:"path,omitempty"`
	DocPartID    string                       `msgpack:"dpid,omitempty"`
	Name         string                       `msgpack:"name,omitempty"`
	Identifier   string                       `msgpack:"id,omitempty"`
	Type         catalog.FieldType            `msgpack:"type,omitempty"`
	Position     int                          `msgpack:"pos,omitempty"`
	Unique       bool                         `msgpack:"unique,omitempty"`
	IndexID      string                       `msgpack:"index,omitempty"`
	IndexFields  []SchemaIndexField           `msgpack:"fields,omitempty"`
	Columns      []catalog.DocPartIndexColumn `msgpack:"cols,omitempty"`
}

type SchemaIndexField struct {
	Path       []string `msgpack:"path"`
	Name       string   `msgpack:"name"`
	Descending bool     `msgpack:"desc,omitempty"`
}

func (c SchemaChange) String() string {
	var buf strings.Builder
	buf.WriteString(c.Op.String())
	buf.WriteByte(' ')
	buf.WriteString(c.DatabaseID)
	if c.CollectionID != "" {
		buf.WriteByte('.')
		buf.WriteString(c.CollectionID)
	}
	if c.DocPartID != "" {
		buf.WriteByte('/')
		buf.WriteString(c.DocPartID)
	}
	switch c.Op {
	case OpAddField:
		fmt.Fprintf(&buf, " %s (%s:%v) @%d", c.Identifier, c.Name, c.Type, c.Position)
	case OpAddScalar:
		fmt.Fprintf(&buf, " %s (scalar:%v) @%d", c.Identifier, c.Type, c.Position)
	case OpAddIndex, OpDropIndex, OpAddDocPartIndex, OpDropDocPartIndex:
		fmt.Fprintf(&buf, " %s", c.Identifier)
	}
	return buf.String()
}

// diffSnapshots lists the changes that turn old into cur. Databases,
// collections, doc parts and columns are only ever added; indexes may also
// be dropped.
func diffSnapshots(old, cur *catalog.Snapshot) []SchemaChange {
	var changes []SchemaChange
	for _, db := range cur.Databases() {
		odb := old.Database(db.Name())
		if odb == db {
			continue
		}
		base := SchemaChange{Database: db.Name(), DatabaseID: db.Identifier()}
		if odb == nil {
			c := base
			c.Op = OpAddDatabase
			changes = append(changes, c)
		}
		for _, coll := range db.Collections() {
			var ocoll *catalog.Collection
			if odb != nil {
				ocoll = odb.Collection(coll.Name())
			}
			if ocoll == coll {
				continue
			}
			changes = diffCollection(changes, base, ocoll, coll)
		}
	}
	return changes
}

func diffCollection(changes []SchemaChange, base SchemaChange, old, coll *catalog.Collection) []SchemaChange {
	base.Collection = coll.Name()
	base.CollectionID = coll.Identifier()
	if old == nil {
		c := base
		c.Op = OpAddCollection
		changes = append(changes, c)
	}

	if old != nil {
		for _, idx := range old.Indexes() {
			if cur := coll.Index(idx.Name()); cur == nil || cur.Identifier() != idx.Identifier() {
				c := base
				c.Op = OpDropIndex
				c.Name = idx.Name()
				c.Identifier = idx.Identifier()
				changes = append(changes, c)
			}
		}
	}
	for _, idx := range coll.Indexes() {
		if old != nil {
			if prev := old.Index(idx.Name()); prev != nil && prev.Identifier() == idx.Identifier() {
				continue
			}
		}
		c := base
		c.Op = OpAddIndex
		c.Name = idx.Name()
		c.Identifier = idx.Identifier()
		c.Unique = idx.Unique()
		for _, f := range idx.Fields() {
			c.IndexFields = append(c.IndexFields, SchemaIndexField{Path: f.Path.Sequence(), Name: f.Name, Descending: f.Descending})
		}
		changes = append(changes, c)
	}

	for _, dp := range coll.DocParts() {
		var odp *catalog.DocPart
		if old != nil {
			odp = old.DocPart(dp.Ref())
		}
		if odp == dp {
			continue
		}
		changes = diffDocPart(changes, base, odp, dp)
	}
	return changes
}

func diffDocPart(changes []SchemaChange, base SchemaChange, old, dp *catalog.DocPart) []SchemaChange {
	base.Path = dp.Ref().Sequence()
	base.DocPartID = dp.Identifier()
	if old == nil {
		c := base
		c.Op = OpAddDocPart
		changes = append(changes, c)
	}

	for _, col := range dp.Columns() {
		if old != nil && old.ColumnByIdentifier(col.Identifier()) != nil {
			continue
		}
		c := base
		c.Identifier = col.Identifier()
		c.Type = col.Type()
		c.Position = col.Position()
		if f, ok := col.(*catalog.Field); ok {
			c.Op = OpAddField
			c.Name = f.Name()
		} else {
			c.Op = OpAddScalar
		}
		changes = append(changes, c)
	}

	if old != nil {
		for _, dpi := range old.DocPartIndexes() {
			if dp.DocPartIndex(dpi.Identifier()) == nil {
				c := base
				c.Op = OpDropDocPartIndex
				c.Identifier = dpi.Identifier()
				changes = append(changes, c)
			}
		}
	}
	for _, dpi := range dp.DocPartIndexes() {
		if old != nil && old.DocPartIndex(dpi.Identifier()) != nil {
			continue
		}
		c := base
		c.Op = OpAddDocPartIndex
		c.Identifier = dpi.Identifier()
		c.IndexID = dpi.Index()
		c.Unique = dpi.Unique()
		c.Columns = dpi.Columns()
		changes = append(changes, c)
	}
	return changes
}

// applySchemaChanges replays changes onto base, producing one new snapshot.
func applySchemaChanges(base *catalog.Snapshot, changes []SchemaChange) (*catalog.Snapshot, error) {
	r := &schemaReplayer{
		snap:  catalog.NewSnapshotBuilder(base),
		dbs:   make(map[string]*catalog.DatabaseBuilder),
		colls: make(map[[2]string]*catalog.CollectionBuilder),
		parts: make(map[[3]string]*catalog.DocPartBuilder),
	}
	for i, c := range changes {
		if err := r.apply(c); err != nil {
			return nil, fmt.Errorf("schema change %d (%v): %w", i, c, err)
		}
	}
	return r.build(), nil
}

type schemaReplayer struct {
	snap  *catalog.SnapshotBuilder
	dbs   map[string]*catalog.DatabaseBuilder
	colls map[[2]string]*catalog.CollectionBuilder
	parts map[[3]string]*catalog.DocPartBuilder

	dbOrder   []string
	collOrder [][2]string
	partOrder [][3]string
}

func (r *schemaReplayer) apply(c SchemaChange) error {
	if c.Op == OpAddDatabase {
		if r.dbs[c.Database] != nil || r.snap.Database(c.Database) != nil {
			return fmt.Errorf("database %q already exists", c.Database)
		}
		r.putDB(c.Database, catalog.NewDatabaseBuilder(c.Database, c.DatabaseID))
		return nil
	}
	db, err := r.db(c.Database)
	if err != nil {
		return err
	}

	ck := [2]string{c.Database, c.Collection}
	if c.Op == OpAddCollection {
		if r.colls[ck] != nil || db.Collection(c.Collection) != nil {
			return fmt.Errorf("collection %q already exists", c.Collection)
		}
		r.putColl(ck, catalog.NewCollectionBuilder(c.Collection, c.CollectionID))
		return nil
	}
	coll, err := r.coll(db, ck)
	if err != nil {
		return err
	}

	switch c.Op {
	case OpAddIndex:
		fields := make([]catalog.IndexField, len(c.IndexFields))
		for i, f := range c.IndexFields {
			path, err := pathref.FromSequence(f.Path)
			if err != nil {
				return err
			}
			fields[i] = catalog.IndexField{Path: path, Name: f.Name, Descending: f.Descending}
		}
		coll.PutIndex(catalog.NewIndex(c.Name, c.Identifier, c.Unique, fields))
		return nil
	case OpDropIndex:
		if coll.Index(c.Name) == nil {
			return fmt.Errorf("index %q does not exist", c.Name)
		}
		coll.RemoveIndex(c.Name)
		return nil
	}

	ref, err := pathref.FromSequence(c.Path)
	if err != nil {
		return err
	}
	pk := [3]string{c.Database, c.Collection, ref.Key()}
	if c.Op == OpAddDocPart {
		if r.parts[pk] != nil || coll.DocPart(ref) != nil {
			return fmt.Errorf("doc part %v already exists", ref)
		}
		r.putPart(pk, catalog.NewDocPartBuilder(ref, c.DocPartID))
		return nil
	}
	dp, err := r.part(coll, pk, ref)
	if err != nil {
		return err
	}

	switch c.Op {
	case OpAddField:
		dp.AddField(catalog.NewField(c.Name, c.Identifier, c.Type, c.Position))
	case OpAddScalar:
		dp.AddScalar(catalog.NewScalar(c.Identifier, c.Type, c.Position))
	case OpAddDocPartIndex:
		dp.PutDocPartIndex(catalog.NewDocPartIndex(c.Identifier, c.IndexID, c.Unique, c.Columns))
	case OpDropDocPartIndex:
		dp.RemoveDocPartIndex(c.Identifier)
	default:
		return fmt.Errorf("unknown op %v", c.Op)
	}
	return nil
}

func (r *schemaReplayer) db(name string) (*catalog.DatabaseBuilder, error) {
	if b := r.dbs[name]; b != nil {
		return b, nil
	}
	db := r.snap.Database(name)
	if db == nil {
		return nil, fmt.Errorf("database %q does not exist", name)
	}
	b := db.Builder()
	r.putDB(name, b)
	return b, nil
}

func (r *schemaReplayer) coll(db *catalog.DatabaseBuilder, k [2]string) (*catalog.CollectionBuilder, error) {
	if b := r.colls[k]; b != nil {
		return b, nil
	}
	c := db.Collection(k[1])
	if c == nil {
		return nil, fmt.Errorf("collection %q does not exist", k[1])
	}
	b := c.Builder()
	r.putColl(k, b)
	return b, nil
}

func (r *schemaReplayer) part(coll *catalog.CollectionBuilder, k [3]string, ref *pathref.PathRef) (*catalog.DocPartBuilder, error) {
	if b := r.parts[k]; b != nil {
		return b, nil
	}
	dp := coll.DocPart(ref)
	if dp == nil {
		return nil, fmt.Errorf("doc part %v does not exist", ref)
	}
	b := dp.Builder()
	r.putPart(k, b)
	return b, nil
}

func (r *schemaReplayer) putDB(name string, b *catalog.DatabaseBuilder) {
	r.dbs[name] = b
	r.dbOrder = append(r.dbOrder, name)
}

func (r *schemaReplayer) putColl(k [2]string, b *catalog.CollectionBuilder) {
	r.colls[k] = b
	r.collOrder = append(r.collOrder, k)
}

func (r *schemaReplayer) putPart(k [3]string, b *catalog.DocPartBuilder) {
	r.parts[k] = b
	r.partOrder = append(r.partOrder, k)
}

// build folds the pending builders bottom-up.
func (r *schemaReplayer) build() *catalog.Snapshot {
	for _, k := range r.partOrder {
		r.colls[[2]string{k[0], k[1]}].PutDocPart(r.parts[k].Build())
	}
	for _, k := range r.collOrder {
		r.dbs[k[0]].PutCollection(r.colls[k].Build())
	}
	for _, name := range r.dbOrder {
		r.snap.PutDatabase(r.dbs[name].Build())
	}
	return r.snap.Build()
}

// RowBatch holds rows of one doc part with columns resolved against a
// published snapshot.
type RowBatch struct {
	Database   *catalog.Database
	Collection *catalog.Collection
	DocPart    *catalog.DocPart
	Rows       []ResolvedRow
}

type ResolvedRow struct {
	Did     int64
	Rid     int64
	Pid     int64
	Seq     int32
	Columns []catalog.Column
	Values  []docval.Value
}

// resolveBatches binds the rows of each CollectionData to the columns of
// snap. Every referenced column must exist in snap.
func resolveBatches(snap *catalog.Snapshot, cds []*CollectionData) ([]RowBatch, error) {
	var batches []RowBatch
	for _, cd := range cds {
		db := snap.Database(cd.Database)
		if db == nil {
			return nil, fmt.Errorf("%w: database %q", ErrUnknownRef, cd.Database)
		}
		coll := db.Collection(cd.Collection)
		if coll == nil {
			return nil, fmt.Errorf("%w: collection %s.%s", ErrUnknownRef, cd.Database, cd.Collection)
		}
		for _, dpd := range cd.DocParts() {
			dp := coll.DocPart(dpd.Ref)
			if dp == nil {
				return nil, docPartErrf(cd.Collection, dpd.Ref.String(), 0, ErrUnknownRef, "doc part not in catalog")
			}
			batch := RowBatch{Database: db, Collection: coll, DocPart: dp, Rows: make([]ResolvedRow, 0, len(dpd.Rows))}
			for _, row := range dpd.Rows {
				rr := ResolvedRow{
					Did:     row.Did,
					Rid:     row.Rid,
					Pid:     row.Pid,
					Seq:     row.Seq,
					Columns: make([]catalog.Column, len(row.Values)),
					Values:  make([]docval.Value, len(row.Values)),
				}
				for i, cv := range row.Values {
					col := cv.Column.Resolve(dp)
					if col == nil {
						return nil, docPartErrf(cd.Collection, dp.Identifier(), row.Rid, ErrUnknownRef, "column %v not in catalog", cv.Column)
					}
					rr.Columns[i] = col
					rr.Values[i] = cv.Value
				}
				batch.Rows = append(batch.Rows, rr)
			}
			batches = append(batches, batch)
		}
	}
	return batches, nil
}
