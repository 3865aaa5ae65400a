package docrel

import (
	"context"
	"maps"
	"runtime/debug"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/andreyvit/docrel/catalog"
	"github.com/andreyvit/docrel/docval"
)

// Tx accumulates documents and schema additions until Commit. The schema
// view is a private fork of the catalog published at Begin; nothing is
// visible to others until Commit succeeds.
//
// A Tx is not safe for concurrent use.
type Tx struct {
	db        *DB
	id        uuid.UUID
	schema    *catalog.MutableSnapshot
	data      map[[2]string]*CollectionData
	dataOrder []*CollectionData
	closed    bool

	startTime time.Time
	stack     []byte
}

func (db *DB) Begin() *Tx {
	tx := &Tx{
		db:        db,
		id:        uuid.New(),
		schema:    catalog.Fork(db.committed.Load()),
		data:      make(map[[2]string]*CollectionData),
		startTime: time.Now(),
	}
	if trackTxns {
		tx.stack = debug.Stack()
	}
	db.addTx(tx)
	return tx
}

func (tx *Tx) ID() uuid.UUID { return tx.id }

func (tx *Tx) DB() *DB { return tx.db }

// Schema returns the transaction's private catalog view.
func (tx *Tx) Schema() *catalog.MutableSnapshot {
	return tx.schema
}

// Insert translates doc into rows of database.collection, creating the
// database, collection, doc parts and columns it needs, and returns the
// new document's did.
func (tx *Tx) Insert(ctx context.Context, database, collection string, doc *docval.Document) (int64, error) {
	if tx.closed {
		return 0, ErrTxClosed
	}
	mc := tx.schema.GetOrAddDatabase(database).GetOrAddCollection(collection)
	return Translate(ctx, tx.db.alloc, mc, doc, tx.collection(database, collection))
}

// Data returns the rows inserted into database.collection so far.
func (tx *Tx) Data(database, collection string) *CollectionData {
	return tx.data[[2]string{database, collection}]
}

func (tx *Tx) collection(database, collection string) *CollectionData {
	k := [2]string{database, collection}
	cd := tx.data[k]
	if cd == nil {
		cd = NewCollectionData(database, collection)
		tx.data[k] = cd
		tx.dataOrder = append(tx.dataOrder, cd)
	}
	return cd
}

func (tx *Tx) collectionData() []*CollectionData {
	return tx.dataOrder
}

// CreateIndex defines a logical index on one path of a collection.
func (tx *Tx) CreateIndex(database, collection, name string, unique bool, fields []catalog.IndexField) (*catalog.Index, error) {
	if tx.closed {
		return nil, ErrTxClosed
	}
	mc := tx.schema.GetOrAddDatabase(database).GetOrAddCollection(collection)
	return createIndex(mc, name, unique, fields)
}

func (tx *Tx) DropIndex(database, collection, name string) error {
	if tx.closed {
		return ErrTxClosed
	}
	mdb := tx.schema.Database(database)
	if mdb == nil {
		return ErrUnknownRef
	}
	mc := mdb.Collection(collection)
	if mc == nil {
		return ErrUnknownRef
	}
	return dropIndex(mc, name)
}

// touchedDatabases lists, sorted, the databases this transaction changes
// or writes rows to.
func (tx *Tx) touchedDatabases() []string {
	set := make(map[string]bool)
	for _, ch := range tx.schema.ChangedDatabases() {
		set[ch.Element.Name()] = true
	}
	for _, cd := range tx.dataOrder {
		if !cd.IsEmpty() {
			set[cd.Database] = true
		}
	}
	return slices.Sorted(maps.Keys(set))
}

// Commit merges the transaction's schema into the published catalog and
// hands the rows to the backend. A SchemaMergeConflict means the whole
// transaction has to be redone; see DB.Update.
func (tx *Tx) Commit(ctx context.Context) error {
	if tx.closed {
		return ErrTxClosed
	}
	defer tx.close()
	return tx.db.commit(ctx, tx)
}

// Abort discards the transaction. Row ids it consumed are not reused.
func (tx *Tx) Abort() {
	if !tx.closed {
		tx.close()
	}
}

func (tx *Tx) close() {
	tx.closed = true
	tx.db.removeTx(tx)
}
