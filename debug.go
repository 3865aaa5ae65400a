package docrel

import (
	"context"
	"fmt"
	"strings"

	"github.com/andreyvit/docrel/catalog"
	"github.com/andreyvit/docrel/docval"
)

type DumpFlags uint64

const (
	DumpDocParts = DumpFlags(1 << iota)
	DumpColumns
	DumpIndexes
	DumpRows
	DumpStats

	DumpAll = DumpFlags(0xFFFFFFFFFFFFFFFF)

	indentStep = "  "
)

var (
	dumpSep1 = strings.Repeat("=", 80)
	dumpSep2 = strings.Repeat("-", 60)
)

func (f DumpFlags) Contains(v DumpFlags) bool {
	return (f & v) == v
}

// Dump renders the published catalog and, with DumpRows, the stored rows
// of every doc part. Rows are only available with the built-in backends.
func (db *DB) Dump(ctx context.Context, f DumpFlags) (string, error) {
	snap := db.Snapshot()
	var buf strings.Builder
	for _, d := range snap.Databases() {
		for _, coll := range d.Collections() {
			for _, dp := range coll.DocParts() {
				if err := ctx.Err(); err != nil {
					return "", err
				}
				if err := db.dumpDocPart(&buf, f, d, coll, dp); err != nil {
					return "", err
				}
			}
		}
	}
	return buf.String(), nil
}

func (db *DB) dumpDocPart(w *strings.Builder, f DumpFlags, d *catalog.Database, coll *catalog.Collection, dp *catalog.DocPart) error {
	prefix := d.Name() + "." + coll.Name() + "/" + dp.Ref().String()

	var rows []*Row
	if db.kv != nil && (f.Contains(DumpRows) || f.Contains(DumpStats)) {
		var err error
		rows, err = db.kv.scanDocPart(d, dp)
		if err != nil {
			return err
		}
	}

	if f.Contains(DumpDocParts) {
		fmt.Fprintln(w, dumpSep1)
		fmt.Fprintf(w, "%s (%s)\n", prefix, dp.Identifier())
	}
	if f.Contains(DumpStats) {
		fmt.Fprintf(w, "%s.stats: rows = %d, columns = %d, indexes = %d\n", prefix, len(rows), len(dp.Columns()), len(dp.DocPartIndexes()))
	}
	if f.Contains(DumpColumns) {
		for _, col := range dp.Columns() {
			fmt.Fprintf(w, "%s%d %s %v\n", indentStep, col.Position(), col.Identifier(), columnRefOf(col))
		}
	}
	if f.Contains(DumpIndexes) {
		for _, dpi := range dp.DocPartIndexes() {
			var cols []string
			for _, c := range dpi.Columns() {
				s := c.Identifier
				if c.Descending {
					s += " desc"
				}
				cols = append(cols, s)
			}
			unique := ""
			if dpi.Unique() {
				unique = " unique"
			}
			fmt.Fprintf(w, "%sindex %s%s (%s)\n", indentStep, dpi.Identifier(), unique, strings.Join(cols, ", "))
		}
	}
	if f.Contains(DumpRows) && len(rows) > 0 {
		fmt.Fprintln(w, dumpSep2)
		for _, row := range rows {
			dumpRow(w, row)
		}
	}
	return nil
}

func dumpRow(w *strings.Builder, row *Row) {
	fmt.Fprintf(w, "%sdid=%d rid=%d pid=%d seq=%d", indentStep, row.Did, row.Rid, row.Pid, row.Seq)
	for _, cv := range row.Values {
		js, err := docval.AppendJSON(nil, cv.Value)
		if err != nil {
			js = []byte(fmt.Sprintf("<%v>", err))
		}
		fmt.Fprintf(w, " %v=%s", cv.Column, js)
	}
	w.WriteByte('\n')
}

func (b *kvBackend) scanDocPart(d *catalog.Database, dp *catalog.DocPart) ([]*Row, error) {
	tx, err := b.st.BeginTx(false)
	if err != nil {
		return nil, backendErrf("scan", err)
	}
	defer tx.Rollback()

	bkt := tx.Bucket(dataBucket(d), dp.Identifier())
	if bkt == nil {
		return nil, nil
	}
	var rows []*Row
	c := bkt.Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		did, rid, ok := parseRowKey(k)
		if !ok {
			return nil, docPartErrf("", dp.Identifier(), 0, nil, "invalid row key %s", hexstr(k))
		}
		row, err := decodeRow(v, dp, did, rid)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}
