package docrel

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"

	"github.com/andreyvit/docrel/catalog"
	"github.com/andreyvit/docrel/rid"
)

const (
	ddlBucket        = "_ddl"
	ridBucket        = "_rids"
	dataBucketPrefix = "d:"
)

// kvBackend lays the relational model over a sorted key-value store. Every
// database is a bucket, every doc part a nested bucket keyed by (did, rid).
// Schema changes are kept in an append-only log that LoadCatalog replays.
//
// kvBackend is also a rid.Authority, persisting reservation bounds.
type kvBackend struct {
	st     storage
	logger *slog.Logger
}

var (
	_ Backend       = (*kvBackend)(nil)
	_ rid.Authority = (*kvBackend)(nil)
)

func newKVBackend(st storage, logger *slog.Logger) *kvBackend {
	return &kvBackend{st: st, logger: logger}
}

func dataBucket(db *catalog.Database) string {
	return dataBucketPrefix + db.Identifier()
}

func (b *kvBackend) LoadCatalog(ctx context.Context) (*catalog.Snapshot, error) {
	tx, err := b.st.BeginTx(false)
	if err != nil {
		return nil, backendErrf("load catalog", err)
	}
	defer tx.Rollback()

	// Every published catalog version wrote exactly one log record, so
	// replaying record by record restores the version as well.
	snap := catalog.EmptySnapshot()
	var changes int
	if bkt := tx.Bucket(ddlBucket, ""); bkt != nil {
		c := bkt.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var batch []SchemaChange
			if err := decodeMsgpack(v, &batch); err != nil {
				return nil, backendErrf("load catalog", err)
			}
			next, err := applySchemaChanges(snap, batch)
			if err != nil {
				return nil, backendErrf("load catalog", fmt.Errorf("log record %d: %w", binary.BigEndian.Uint64(k), err))
			}
			if next == snap {
				return nil, backendErrf("load catalog", dataErrf(v, 0, nil, "log record %d changes nothing", binary.BigEndian.Uint64(k)))
			}
			snap = next
			changes += len(batch)
		}
	}
	b.logger.Debug("docrel: catalog loaded", "changes", changes, "version", snap.Version(), "databases", len(snap.Databases()))
	return snap, nil
}

func (b *kvBackend) Apply(ctx context.Context, changes []SchemaChange, batches []RowBatch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx, err := b.st.BeginTx(true)
	if err != nil {
		return backendErrf("apply", err)
	}
	defer tx.Rollback()

	if len(changes) > 0 {
		if err := b.appendDDL(tx, changes); err != nil {
			return backendErrf("apply", err)
		}
	}
	for _, c := range changes {
		if err := b.applyDDL(tx, c); err != nil {
			return backendErrf(c.Op.String(), err)
		}
	}
	for _, batch := range batches {
		bkt := tx.Bucket(dataBucket(batch.Database), batch.DocPart.Identifier())
		if bkt == nil {
			return backendErrf("insert", fmt.Errorf("no table for %s", batch.DocPart.Identifier()))
		}
		for i := range batch.Rows {
			row := &batch.Rows[i]
			if err := bkt.Put(rowKey(row.Did, row.Rid), encodeRow(row)); err != nil {
				return backendErrf("insert", err)
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return backendErrf("commit", err)
	}
	return nil
}

// appendDDL stores one commit's changes under the next log sequence number.
func (b *kvBackend) appendDDL(tx storageTx, changes []SchemaChange) error {
	bkt, err := tx.CreateBucket(ddlBucket, "")
	if err != nil {
		return err
	}
	var seq uint64
	if k, _ := bkt.Cursor().Last(); k != nil {
		seq = binary.BigEndian.Uint64(k)
	}
	return bkt.Put(binary.BigEndian.AppendUint64(nil, seq+1), encodeMsgpack(changes))
}

// applyDDL creates physical structures. Only databases and doc parts have
// any; columns and indexes live in the catalog alone.
func (b *kvBackend) applyDDL(tx storageTx, c SchemaChange) error {
	switch c.Op {
	case OpAddDatabase:
		_, err := tx.CreateBucket(dataBucketPrefix+c.DatabaseID, "")
		return err
	case OpAddDocPart:
		_, err := tx.CreateBucket(dataBucketPrefix+c.DatabaseID, c.DocPartID)
		return err
	default:
		return nil
	}
}

func (b *kvBackend) ReadDocument(ctx context.Context, snap *catalog.Snapshot, database, collection string, did int64) (*CollectionData, error) {
	db := snap.Database(database)
	if db == nil {
		return nil, fmt.Errorf("%w: database %q", ErrUnknownRef, database)
	}
	coll := db.Collection(collection)
	if coll == nil {
		return nil, fmt.Errorf("%w: collection %s.%s", ErrUnknownRef, database, collection)
	}

	tx, err := b.st.BeginTx(false)
	if err != nil {
		return nil, backendErrf("read", err)
	}
	defer tx.Rollback()

	cd := NewCollectionData(database, collection)
	prefix := didPrefix(did)
	for _, dp := range coll.DocParts() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		bkt := tx.Bucket(dataBucket(db), dp.Identifier())
		if bkt == nil {
			continue
		}
		c := bkt.Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			kdid, krid, ok := parseRowKey(k)
			if !ok {
				return nil, docPartErrf(collection, dp.Identifier(), 0, nil, "invalid row key %s", hexstr(k))
			}
			row, err := decodeRow(v, dp, kdid, krid)
			if err != nil {
				b.logger.Error("docrel: corrupt row", "docpart", dp.Identifier(), hexAttr("key", k), "err", err)
				return nil, docPartErrf(collection, dp.Identifier(), krid, err, "")
			}
			dpd := cd.docPart(dp.Ref())
			dpd.Rows = append(dpd.Rows, row)
		}
	}
	return cd, nil
}

// Reserve implements rid.Authority.
func (b *kvBackend) Reserve(ctx context.Context, key rid.Key, n int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	tx, err := b.st.BeginTx(true)
	if err != nil {
		return 0, backendErrf("reserve", err)
	}
	defer tx.Rollback()

	bkt, err := tx.CreateBucket(ridBucket, "")
	if err != nil {
		return 0, backendErrf("reserve", err)
	}
	k := ridKey(key)
	var bound int64
	if v := bkt.Get(k); v != nil {
		if len(v) != 8 {
			return 0, backendErrf("reserve", dataErrf(v, 0, nil, "invalid bound for %v", key))
		}
		bound = int64(binary.BigEndian.Uint64(v))
	}
	bound += n
	if err := bkt.Put(k, binary.BigEndian.AppendUint64(nil, uint64(bound))); err != nil {
		return 0, backendErrf("reserve", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, backendErrf("reserve", err)
	}
	return bound, nil
}

func ridKey(key rid.Key) []byte {
	var buf []byte
	buf = append(buf, key.Database...)
	buf = append(buf, 0)
	buf = append(buf, key.Collection...)
	buf = append(buf, 0)
	buf = append(buf, key.Path.Key()...)
	return buf
}

// DocPartStats counts stored rows of one doc part.
type DocPartStats struct {
	Database   string
	Collection string
	DocPart    string
	Rows       int
}

func (b *kvBackend) docPartStats(snap *catalog.Snapshot) ([]DocPartStats, int64, error) {
	tx, err := b.st.BeginTx(false)
	if err != nil {
		return nil, 0, backendErrf("stats", err)
	}
	defer tx.Rollback()

	var result []DocPartStats
	for _, db := range snap.Databases() {
		for _, coll := range db.Collections() {
			for _, dp := range coll.DocParts() {
				s := DocPartStats{Database: db.Name(), Collection: coll.Name(), DocPart: dp.Identifier()}
				if bkt := tx.Bucket(dataBucket(db), dp.Identifier()); bkt != nil {
					s.Rows = bkt.KeyCount()
				}
				result = append(result, s)
			}
		}
	}
	return result, tx.Size(), nil
}

func (b *kvBackend) Close() error {
	return b.st.Close()
}
