package docrel

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/andreyvit/docrel/catalog"
	"github.com/andreyvit/docrel/docval"
	"github.com/andreyvit/docrel/pathref"
)

func TestSchemaChangesReplay(t *testing.T) {
	db := setup(t)
	snaps := []*catalog.Snapshot{db.Snapshot()}
	step := func(fn func(tx *Tx) error) {
		t.Helper()
		ensure(db.Update(ctx, fn))
		snaps = append(snaps, db.Snapshot())
	}
	insert := func(database, js string) func(tx *Tx) error {
		return func(tx *Tx) error {
			_, err := tx.Insert(ctx, database, "c", parseDoc(t, js))
			return err
		}
	}

	step(insert("d", `{"a": 1, "b": [{"c": "x"}, [1, [true]]]}`))
	step(func(tx *Tx) error {
		_, err := tx.CreateIndex("d", "c", "by_a", true, []catalog.IndexField{{Path: pathref.Root(), Name: "a", Descending: true}})
		return err
	})
	step(insert("d", `{"a": "s", "e": 1.5}`))
	step(insert("other", `{"z": null}`))
	step(func(tx *Tx) error {
		return tx.DropIndex("d", "c", "by_a")
	})
	step(func(tx *Tx) error {
		_, err := tx.CreateIndex("d", "c", "by_a", false, []catalog.IndexField{{Path: pathref.MustFromSequence("b"), Name: "c"}})
		return err
	})

	final := snaps[len(snaps)-1]

	whole := must(applySchemaChanges(catalog.EmptySnapshot(), diffSnapshots(catalog.EmptySnapshot(), final)))
	if diff := cmp.Diff(final.Dump(), whole.Dump()); diff != "" {
		t.Errorf("replay of full diff differs (-want +got):\n%s", diff)
	}

	var log []SchemaChange
	for i := 1; i < len(snaps); i++ {
		log = append(log, diffSnapshots(snaps[i-1], snaps[i])...)
	}
	var decoded []SchemaChange
	ensure(decodeMsgpack(encodeMsgpack(log), &decoded))
	incremental := must(applySchemaChanges(catalog.EmptySnapshot(), decoded))
	if diff := cmp.Diff(final.Dump(), incremental.Dump()); diff != "" {
		t.Errorf("replay of incremental log differs (-want +got):\n%s", diff)
	}

	var ops []string
	for _, c := range diffSnapshots(snaps[4], snaps[5]) {
		ops = append(ops, c.Op.String())
	}
	deepEqual(t, ops, []string{"drop-index", "drop-docpart-index", "drop-docpart-index"})
}

func TestDiffOrdersParentsFirst(t *testing.T) {
	db := setup(t)
	must(db.Insert(ctx, "d", "c", parseDoc(t, `{"a": [[{"b": 1}]]}`)))

	var lines []string
	for _, c := range diffSnapshots(catalog.EmptySnapshot(), db.Snapshot()) {
		lines = append(lines, c.String())
	}
	want := []string{
		"add-database d",
		"add-collection d.c",
		"add-docpart d.c/c",
		"add-field d.c/c a_e (a:child) @0",
		"add-docpart d.c/c_a",
		"add-scalar d.c/c_a v_e (scalar:child) @0",
		"add-docpart d.c/c_a_2",
		"add-field d.c/c_a_2 b_i (b:integer) @0",
	}
	if diff := cmp.Diff(want, lines); diff != "" {
		t.Errorf("changes mismatch (-want +got):\n%s", diff)
	}
}

func TestApplySchemaChangesRejectsUnknownParents(t *testing.T) {
	_, err := applySchemaChanges(catalog.EmptySnapshot(), []SchemaChange{
		{Op: OpAddCollection, Database: "nope", DatabaseID: "nope", Collection: "c", CollectionID: "c"},
	})
	if err == nil {
		t.Fatalf("applySchemaChanges succeeded")
	}
}

func TestSchemaOpString(t *testing.T) {
	deepEqual(t, OpAddDocPartIndex.String(), "add-docpart-index")
	deepEqual(t, SchemaOp(42).String(), "invalid op 42")
}

func TestRowEncoding(t *testing.T) {
	db := setup(t)
	doc := parseDoc(t, `{"n": null, "b": false, "i": 3, "l": 12345678901, "d": -0.5, "s": "str", "o": {}}`)
	doc.Set("r", docval.Binary("raw"))
	doc.Set("t", docval.Time(time.Date(2020, 1, 2, 3, 4, 5, 6, time.UTC)))
	must(db.Insert(ctx, "d", "c", doc))

	dp := db.Snapshot().Database("d").Collection("c").DocPart(pathref.Root())
	row := &ResolvedRow{Did: 10, Rid: 10, Pid: 0, Seq: NoSeq}
	for k, v := range doc.Entries() {
		col := catalog.Column(dp.Field(k, catalog.TypeOf(v)))
		if v.Kind() == docval.KindDocument {
			v = docval.Bool(false)
		}
		row.Columns = append(row.Columns, col)
		row.Values = append(row.Values, v)
	}

	got, err := decodeRow(encodeRow(row), dp, 10, 10)
	if err != nil {
		t.Fatal(err)
	}
	deepEqual(t, got.Pid, int64(0))
	deepEqual(t, got.Seq, int32(NoSeq))
	if len(got.Values) != len(row.Values) {
		t.Fatalf("decoded %d values, wanted %d", len(got.Values), len(row.Values))
	}
	for i, cv := range got.Values {
		deepEqual(t, cv.Column, columnRefOf(row.Columns[i]))
		if !docval.Equal(cv.Value, row.Values[i]) {
			t.Errorf("%v = %v, wanted %v", cv.Column, cv.Value, row.Values[i])
		}
	}
}

func TestRowEncodingRejectsTypeMismatch(t *testing.T) {
	db := setup(t)
	must(db.Insert(ctx, "d", "c", parseDoc(t, `{"i": 1}`)))
	dp := db.Snapshot().Database("d").Collection("c").DocPart(pathref.Root())
	row := &ResolvedRow{
		Columns: []catalog.Column{dp.Field("i", catalog.TypeInteger)},
		Values:  []docval.Value{docval.String("oops")},
	}
	var buf bytes.Buffer
	err := writeRow(msgpack.NewEncoder(&buf), row)
	if err == nil || !strings.Contains(err.Error(), "string value in integer column") {
		t.Fatalf("err = %v", err)
	}
}

func TestDecodeRowErrors(t *testing.T) {
	db := setup(t)
	must(db.Insert(ctx, "d", "c", parseDoc(t, `{"i": 1}`)))
	dp := db.Snapshot().Database("d").Collection("c").DocPart(pathref.Root())

	tests := []struct {
		name string
		data []byte
		want string
	}{
		{"garbage", []byte{0xc1}, ""},
		{"wrong arity", encodeMsgpack([]any{1, 2}), "row has 2 elements"},
		{"unknown position", encodeMsgpack([]any{0, -1, []any{7, 1}}), "no column at position 7"},
		{"odd columns", encodeMsgpack([]any{0, -1, []any{0}}), "odd number"},
		{"wrong type", encodeMsgpack([]any{0, -1, []any{0, "x"}}), "i_i"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := decodeRow(tt.data, dp, 1, 1)
			var de *DataError
			if !errors.As(err, &de) {
				t.Fatalf("err = %v, wanted *DataError", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %q, wanted to contain %q", err, tt.want)
			}
		})
	}
}
