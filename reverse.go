package docrel

import (
	"slices"

	"github.com/andreyvit/docrel/catalog"
	"github.com/andreyvit/docrel/docval"
	"github.com/andreyvit/docrel/pathref"
)

// Reverse rebuilds document did from its rows. It is the inverse of
// Translate: Reverse(Translate(d)) equals d up to object key order.
func Reverse(data *CollectionData, did int64) (*docval.Document, error) {
	r := &reverser{
		data:     data,
		children: make(map[childrenKey][]*Row),
	}
	var root *Row
	for _, dpd := range data.DocParts() {
		for _, row := range dpd.Rows {
			if row.Did != did {
				continue
			}
			if dpd.Ref.IsRoot() {
				if root != nil {
					return nil, docPartErrf(data.Collection, dpd.Ref.String(), row.Rid, nil, "duplicate root row for did %d", did)
				}
				root = row
				continue
			}
			k := childrenKey{dpd.Ref.Key(), row.Pid}
			r.children[k] = append(r.children[k], row)
		}
	}
	if root == nil {
		return nil, ErrNotFound
	}
	return r.object(pathref.Root(), root)
}

type childrenKey struct {
	ref string
	pid int64
}

type reverser struct {
	data     *CollectionData
	children map[childrenKey][]*Row
}

func (r *reverser) rowsOf(ref *pathref.PathRef, pid int64) []*Row {
	return r.children[childrenKey{ref.Key(), pid}]
}

func (r *reverser) object(ref *pathref.PathRef, row *Row) (*docval.Document, error) {
	doc := docval.NewDocument()
	for _, cv := range row.Values {
		col := cv.Column
		if col.Scalar {
			return nil, docPartErrf(r.data.Collection, ref.String(), row.Rid, nil, "object row has scalar value %v", col)
		}
		if col.Type != catalog.TypeChild {
			doc.Set(col.Name, cv.Value)
			continue
		}
		isArray, ok := cv.Value.(docval.Bool)
		if !ok {
			return nil, docPartErrf(r.data.Collection, ref.String(), row.Rid, nil, "child marker %v holds %v", col, cv.Value.Kind())
		}
		childRef, err := ref.Child(col.Name, false)
		if err != nil {
			return nil, err
		}
		var v docval.Value
		if isArray {
			v, err = r.array(childRef, row.Rid)
		} else {
			v, err = r.nestedObject(childRef, row.Rid)
		}
		if err != nil {
			return nil, err
		}
		doc.Set(col.Name, v)
	}
	return doc, nil
}

func (r *reverser) nestedObject(ref *pathref.PathRef, pid int64) (*docval.Document, error) {
	rows := r.rowsOf(ref, pid)
	if len(rows) != 1 {
		return nil, docPartErrf(r.data.Collection, ref.String(), pid, nil, "object has %d rows, wanted 1", len(rows))
	}
	return r.object(ref, rows[0])
}

func (r *reverser) array(ref *pathref.PathRef, pid int64) (docval.Array, error) {
	rows := slices.Clone(r.rowsOf(ref, pid))
	slices.SortFunc(rows, func(a, b *Row) int {
		return int(a.Seq) - int(b.Seq)
	})
	arr := make(docval.Array, 0, len(rows))
	for i, row := range rows {
		if int(row.Seq) != i {
			return nil, docPartErrf(r.data.Collection, ref.String(), row.Rid, nil, "array element seq %d, wanted %d", row.Seq, i)
		}
		v, err := r.element(ref, row)
		if err != nil {
			return nil, err
		}
		arr = append(arr, v)
	}
	return arr, nil
}

// element decodes an array element row: a single scalar value, a nested
// array marker, or otherwise an object.
func (r *reverser) element(ref *pathref.PathRef, row *Row) (docval.Value, error) {
	for _, cv := range row.Values {
		if !cv.Column.Scalar {
			continue
		}
		if len(row.Values) != 1 {
			return nil, docPartErrf(r.data.Collection, ref.String(), row.Rid, nil, "array element mixes a scalar with %d other values", len(row.Values)-1)
		}
		if cv.Column.Type != catalog.TypeChild {
			return cv.Value, nil
		}
		nested, err := ref.ArrayChild()
		if err != nil {
			return nil, err
		}
		return r.array(nested, row.Rid)
	}
	return r.object(ref, row)
}
