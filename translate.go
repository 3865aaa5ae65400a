package docrel

import (
	"context"
	"strings"

	"github.com/andreyvit/docrel/catalog"
	"github.com/andreyvit/docrel/docval"
	"github.com/andreyvit/docrel/pathref"
	"github.com/andreyvit/docrel/rid"
)

// RidAllocator issues row identifiers; *rid.Allocator implements it.
type RidAllocator interface {
	NextRid(ctx context.Context, key rid.Key) (int64, error)
}

// Translate maps doc into relational rows appended to data, growing the
// schema of coll as needed, and returns the new document's did.
//
// Every object under key k and every array under k share the child doc
// part named k. The parent row records which of the two it was via a
// TypeChild column k holding false (object) or true (array). Array
// elements become rows of the child doc part with seq set to their index;
// scalar elements go into the scalar column of their type, object elements
// spread their keys into fields, and arrays nested directly inside arrays
// go one level down into the `$N` doc part, marked by a true TypeChild
// scalar.
//
// On error the rows written so far are left in data and the schema changes
// in coll; callers discard both by aborting the transaction.
func Translate(ctx context.Context, alloc RidAllocator, coll *catalog.MutableCollection, doc *docval.Document, data *CollectionData) (int64, error) {
	t := &translator{
		ctx:   ctx,
		alloc: alloc,
		coll:  coll,
		data:  data,
	}
	return t.translateRoot(doc)
}

type translator struct {
	ctx   context.Context
	alloc RidAllocator
	coll  *catalog.MutableCollection
	data  *CollectionData
	did   int64
}

func (t *translator) nextRid(ref *pathref.PathRef) (int64, error) {
	return t.alloc.NextRid(t.ctx, rid.Key{
		Database:   t.coll.Database().Name(),
		Collection: t.coll.Name(),
		Path:       ref,
	})
}

func (t *translator) translateRoot(doc *docval.Document) (int64, error) {
	ref := pathref.Root()
	dp := t.coll.GetOrAddDocPart(ref)
	did, err := t.nextRid(ref)
	if err != nil {
		return 0, err
	}
	t.did = did
	row := t.data.newRow(ref, did, did, 0, NoSeq)
	if err := t.translateObject(dp, row, doc); err != nil {
		return 0, err
	}
	return did, nil
}

func (t *translator) translateObject(dp *catalog.MutableDocPart, row *Row, doc *docval.Document) error {
	for key, v := range doc.Entries() {
		if strings.HasPrefix(key, "$") {
			return nameErrf(t.data.Database, t.data.Collection, dp.Ref(), key, "keys starting with $ are reserved for array nesting levels")
		}
		typ := catalog.TypeOf(v)
		t.ensureField(dp, key, typ)

		switch v := v.(type) {
		case *docval.Document:
			row.set(fieldRef(key, typ), docval.Bool(false))
			childRef, err := dp.Ref().Child(key, false)
			if err != nil {
				return err
			}
			child := t.coll.GetOrAddDocPart(childRef)
			childRid, err := t.nextRid(childRef)
			if err != nil {
				return err
			}
			childRow := t.data.newRow(childRef, t.did, childRid, row.Rid, NoSeq)
			if err := t.translateObject(child, childRow, v); err != nil {
				return err
			}
		case docval.Array:
			row.set(fieldRef(key, typ), docval.Bool(true))
			childRef, err := dp.Ref().Child(key, false)
			if err != nil {
				return err
			}
			if err := t.translateArray(childRef, row.Rid, v); err != nil {
				return err
			}
		default:
			row.set(fieldRef(key, typ), v)
		}
	}
	return nil
}

func (t *translator) translateArray(ref *pathref.PathRef, pid int64, arr docval.Array) error {
	if len(arr) == 0 {
		return nil
	}
	dp := t.coll.GetOrAddDocPart(ref)
	for i, elem := range arr {
		elemRid, err := t.nextRid(ref)
		if err != nil {
			return err
		}
		row := t.data.newRow(ref, t.did, elemRid, pid, int32(i))

		switch elem := elem.(type) {
		case *docval.Document:
			if err := t.translateObject(dp, row, elem); err != nil {
				return err
			}
		case docval.Array:
			t.ensureScalar(dp, catalog.TypeChild)
			row.set(scalarRef(catalog.TypeChild), docval.Bool(true))
			nested, err := ref.ArrayChild()
			if err != nil {
				return err
			}
			if err := t.translateArray(nested, elemRid, elem); err != nil {
				return err
			}
		default:
			typ := catalog.TypeOf(elem)
			t.ensureScalar(dp, typ)
			row.set(scalarRef(typ), elem)
		}
	}
	return nil
}

func (t *translator) ensureField(dp *catalog.MutableDocPart, name string, typ catalog.FieldType) {
	if dp.Field(name, typ) != nil {
		return
	}
	f := dp.AddField(name, typ)
	coverNewField(t.coll, dp, f)
}

func (t *translator) ensureScalar(dp *catalog.MutableDocPart, typ catalog.FieldType) {
	if dp.Scalar(typ) == nil {
		dp.AddScalar(typ)
	}
}
