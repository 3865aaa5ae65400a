package docrel

import (
	"fmt"
	"slices"
	"strings"

	"github.com/andreyvit/docrel/catalog"
	"github.com/andreyvit/docrel/docval"
	"github.com/andreyvit/docrel/pathref"
)

// NoSeq is the seq of rows that are not array elements.
const NoSeq = -1

// ColumnRef names a column by what it holds rather than where it lives.
// Rows built inside a transaction refer to columns this way because
// positions may still change when the transaction's schema is merged.
type ColumnRef struct {
	Name   string // empty for scalars
	Type   catalog.FieldType
	Scalar bool
}

func fieldRef(name string, typ catalog.FieldType) ColumnRef {
	return ColumnRef{Name: name, Type: typ}
}

func scalarRef(typ catalog.FieldType) ColumnRef {
	return ColumnRef{Type: typ, Scalar: true}
}

func (c ColumnRef) String() string {
	if c.Scalar {
		return "scalar:" + c.Type.String()
	}
	return c.Name + ":" + c.Type.String()
}

// Resolve finds the column in a doc part.
func (c ColumnRef) Resolve(dp *catalog.DocPart) catalog.Column {
	if c.Scalar {
		if s := dp.Scalar(c.Type); s != nil {
			return s
		}
		return nil
	}
	if f := dp.Field(c.Name, c.Type); f != nil {
		return f
	}
	return nil
}

func columnRefOf(col catalog.Column) ColumnRef {
	if f, ok := col.(*catalog.Field); ok {
		return fieldRef(f.Name(), f.Type())
	}
	return scalarRef(col.Type())
}

// Row is one relational row of a doc part.
type Row struct {
	Did    int64
	Rid    int64
	Pid    int64 // 0 for root rows
	Seq    int32 // NoSeq unless the row is an array element
	Values []ColumnValue
}

type ColumnValue struct {
	Column ColumnRef
	Value  docval.Value
}

func (r *Row) set(col ColumnRef, v docval.Value) {
	r.Values = append(r.Values, ColumnValue{col, v})
}

func (r *Row) Get(col ColumnRef) (docval.Value, bool) {
	for _, cv := range r.Values {
		if cv.Column == col {
			return cv.Value, true
		}
	}
	return nil, false
}

// DocPartData holds the rows of one doc part in insertion order.
type DocPartData struct {
	Ref  *pathref.PathRef
	Rows []*Row
}

// CollectionData is the relational form of a set of documents of one
// collection, grouped by doc part.
type CollectionData struct {
	Database   string
	Collection string

	parts map[string]*DocPartData
	order []*DocPartData
}

func NewCollectionData(database, collection string) *CollectionData {
	return &CollectionData{
		Database:   database,
		Collection: collection,
		parts:      make(map[string]*DocPartData),
	}
}

func (cd *CollectionData) DocPart(ref *pathref.PathRef) *DocPartData {
	return cd.parts[ref.Key()]
}

// DocParts returns doc parts in the order they were first written to.
func (cd *CollectionData) DocParts() []*DocPartData {
	return slices.Clone(cd.order)
}

func (cd *CollectionData) RowCount() int {
	var n int
	for _, dpd := range cd.order {
		n += len(dpd.Rows)
	}
	return n
}

func (cd *CollectionData) IsEmpty() bool {
	return len(cd.order) == 0
}

func (cd *CollectionData) docPart(ref *pathref.PathRef) *DocPartData {
	dpd := cd.parts[ref.Key()]
	if dpd == nil {
		dpd = &DocPartData{Ref: ref}
		cd.parts[ref.Key()] = dpd
		cd.order = append(cd.order, dpd)
	}
	return dpd
}

// newRow appends an empty row; values are filled in afterwards.
func (cd *CollectionData) newRow(ref *pathref.PathRef, did, rid, pid int64, seq int32) *Row {
	row := &Row{Did: did, Rid: rid, Pid: pid, Seq: seq}
	dpd := cd.docPart(ref)
	dpd.Rows = append(dpd.Rows, row)
	return row
}

// Dump renders rows as text, one line per row, for debugging and tests.
func (cd *CollectionData) Dump() string {
	var buf strings.Builder
	for _, dpd := range cd.order {
		fmt.Fprintf(&buf, "%s.%s/%v (%d rows)\n", cd.Database, cd.Collection, dpd.Ref, len(dpd.Rows))
		for _, row := range dpd.Rows {
			fmt.Fprintf(&buf, "  did=%d rid=%d pid=%d seq=%d", row.Did, row.Rid, row.Pid, row.Seq)
			for _, cv := range row.Values {
				js, err := docval.AppendJSON(nil, cv.Value)
				if err != nil {
					js = []byte(fmt.Sprintf("<%v>", err))
				}
				fmt.Fprintf(&buf, " %v=%s", cv.Column, js)
			}
			buf.WriteByte('\n')
		}
	}
	return buf.String()
}
