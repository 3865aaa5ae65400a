package docrel

import (
	"context"
	"errors"
	"math/rand/v2"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/andreyvit/docrel/catalog"
	"github.com/andreyvit/docrel/docval"
	"github.com/andreyvit/docrel/pathref"
	"github.com/andreyvit/docrel/rid"
)

func TestTranslateRows(t *testing.T) {
	doc := parseDoc(t, `{"a": 1, "b": {"c": "x"}, "d": [1, "s", [true], {"e": null}], "f": []}`)
	tr := newTranslation()

	did := tr.translate(t, doc)
	deepEqual(t, did, int64(1))

	want := `d.c/<root> (1 rows)
  did=1 rid=1 pid=0 seq=-1 a:integer=1 b:child=false d:child=true f:child=true
d.c/b (1 rows)
  did=1 rid=1 pid=1 seq=-1 c:string="x"
d.c/d (4 rows)
  did=1 rid=1 pid=1 seq=0 scalar:integer=1
  did=1 rid=2 pid=1 seq=1 scalar:string="s"
  did=1 rid=3 pid=1 seq=2 scalar:child=true
  did=1 rid=4 pid=1 seq=3 e:null=null
d.c/d.$2 (1 rows)
  did=1 rid=1 pid=3 seq=0 scalar:boolean=true
`
	if diff := cmp.Diff(want, tr.data.Dump()); diff != "" {
		t.Errorf("rows mismatch (-want +got):\n%s", diff)
	}

	f := pathref.MustFromSequence("f")
	if tr.mc.DocPart(f) != nil {
		t.Errorf("empty array created doc part %v", f)
	}
	if tr.data.DocPart(f) != nil {
		t.Errorf("empty array produced rows")
	}
}

func TestTranslateGrowsSchema(t *testing.T) {
	tr := newTranslation()
	tr.translate(t, parseDoc(t, `{"a": 1, "b": [1]}`))
	tr.translate(t, parseDoc(t, `{"a": "one", "b": [[2], "x"]}`))

	root := tr.mc.DocPart(pathref.Root())
	for _, typ := range []catalog.FieldType{catalog.TypeInteger, catalog.TypeString} {
		if root.Field("a", typ) == nil {
			t.Errorf("a:%v missing", typ)
		}
	}
	b := tr.mc.DocPart(pathref.MustFromSequence("b"))
	for _, typ := range []catalog.FieldType{catalog.TypeInteger, catalog.TypeChild, catalog.TypeString} {
		if b.Scalar(typ) == nil {
			t.Errorf("b scalar %v missing", typ)
		}
	}
	if tr.mc.DocPart(pathref.MustFromSequence("b", "$2")) == nil {
		t.Errorf("b.$2 missing")
	}
	deepEqual(t, tr.data.RowCount(), 2+1+2+1)
}

func TestTranslateIdempotentSchema(t *testing.T) {
	doc := parseDoc(t, `{"a": 1, "b": {"c": [1.5, {"d": true}]}}`)
	tr := newTranslation()
	tr.translate(t, doc)
	before := tr.schema()

	tr.translate(t, doc)
	if diff := cmp.Diff(before, tr.schema()); diff != "" {
		t.Errorf("second translation changed schema (-first +second):\n%s", diff)
	}
}

func TestTranslateReservedKeys(t *testing.T) {
	tests := []string{
		`{"$x": 1}`,
		`{"a": {"$2": 1}}`,
		`{"a": [{"$": true}]}`,
	}
	for _, js := range tests {
		tr := newTranslation()
		_, err := Translate(context.Background(), tr.alloc, tr.mc, parseDoc(t, js), tr.data)
		if !errors.Is(err, ErrSchemaNameConflict) {
			t.Errorf("Translate(%s) err = %v, wanted ErrSchemaNameConflict", js, err)
		}
	}
}

func TestTranslateAllocatorUnavailable(t *testing.T) {
	alloc := rid.New(failingAuthority{}, rid.Options{Attempts: 2, Backoff: time.Millisecond, Logger: quietLogger()})
	tr := newTranslation()
	_, err := Translate(context.Background(), alloc, tr.mc, parseDoc(t, `{"a": 1}`), tr.data)
	if !errors.Is(err, ErrAllocatorUnavailable) {
		t.Fatalf("err = %v, wanted ErrAllocatorUnavailable", err)
	}
}

func TestRoundTrip(t *testing.T) {
	tests := []string{
		`{}`,
		`{"a": null}`,
		`{"a": []}`,
		`{"a": {}}`,
		`{"a": [[]]}`,
		`{"a": [[[1, 2], []], [[3]]]}`,
		`{"a": [{}, {"b": [{}]}]}`,
		`{"a": 1, "b": 2.5, "c": "s", "d": true, "e": 12345678901}`,
		`{"x": {"x": {"x": [{"x": [null, false]}]}}}`,
	}
	for _, js := range tests {
		doc := parseDoc(t, js)
		tr := newTranslation()
		did := tr.translate(t, doc)
		got, err := Reverse(tr.data, did)
		if err != nil {
			t.Errorf("Reverse(%s) failed: %v", js, err)
			continue
		}
		if !docval.Equal(doc, got) {
			t.Errorf("Reverse(Translate(%s)) = %s", js, jsonOf(t, got))
		}
	}
}

func TestRoundTripRandom(t *testing.T) {
	r := rand.New(rand.NewPCG(42, 1024))
	tr := newTranslation()
	docs := make(map[int64]*docval.Document)
	for range 200 {
		doc := randomDocument(r, 0)
		did := tr.translate(t, doc)
		docs[did] = doc
	}
	deepEqual(t, len(docs), 200)
	for did, doc := range docs {
		got, err := Reverse(tr.data, did)
		if err != nil {
			t.Fatalf("Reverse(%d) failed: %v", did, err)
		}
		if !docval.Equal(doc, got) {
			t.Fatalf("Reverse(%d) = %s, wanted %s", did, jsonOf(t, got), jsonOf(t, doc))
		}
	}
}

func TestReverseNotFound(t *testing.T) {
	tr := newTranslation()
	tr.translate(t, parseDoc(t, `{"a": 1}`))
	_, err := Reverse(tr.data, 999)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, wanted ErrNotFound", err)
	}
}

func TestReverseMalformed(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(data *CollectionData)
		want   string
	}{
		{"missing object row", func(data *CollectionData) {
			data.DocPart(pathref.MustFromSequence("b")).Rows = nil
		}, "object has 0 rows"},
		{"seq gap", func(data *CollectionData) {
			data.DocPart(pathref.MustFromSequence("a")).Rows[1].Seq = 5
		}, "array element seq 5, wanted 1"},
		{"mixed element", func(data *CollectionData) {
			row := data.DocPart(pathref.MustFromSequence("a")).Rows[0]
			row.set(fieldRef("z", catalog.TypeInteger), docval.Int(1))
		}, "mixes a scalar"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := newTranslation()
			did := tr.translate(t, parseDoc(t, `{"a": [1, 2], "b": {"c": 1}}`))
			tt.mutate(tr.data)
			_, err := Reverse(tr.data, did)
			var dpe *DocPartError
			if !errors.As(err, &dpe) {
				t.Fatalf("err = %v, wanted DocPartError", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %q, wanted to contain %q", err, tt.want)
			}
		})
	}
}

func newAlloc() *rid.Allocator {
	return rid.New(rid.NewMemoryAuthority(), rid.Options{Logger: quietLogger()})
}

type translation struct {
	ms    *catalog.MutableSnapshot
	mc    *catalog.MutableCollection
	data  *CollectionData
	alloc *rid.Allocator
}

func newTranslation() *translation {
	ms := catalog.Fork(catalog.EmptySnapshot())
	return &translation{
		ms:    ms,
		mc:    ms.GetOrAddDatabase("d").GetOrAddCollection("c"),
		data:  NewCollectionData("d", "c"),
		alloc: newAlloc(),
	}
}

func (tr *translation) translate(t testing.TB, doc *docval.Document) int64 {
	t.Helper()
	did, err := Translate(context.Background(), tr.alloc, tr.mc, doc, tr.data)
	if err != nil {
		t.Fatalf("Translate failed: %v", err)
	}
	return did
}

// schema lists doc parts with their column identifiers.
func (tr *translation) schema() string {
	var buf strings.Builder
	for _, dp := range tr.mc.DocParts() {
		buf.WriteString(dp.Identifier())
		for _, f := range dp.AddedFields() {
			buf.WriteString(" " + f.Identifier())
		}
		for _, s := range dp.AddedScalars() {
			buf.WriteString(" " + s.Identifier())
		}
		buf.WriteString("\n")
	}
	return buf.String()
}

func parseDoc(t testing.TB, js string) *docval.Document {
	t.Helper()
	doc, err := docval.ParseDocument([]byte(js))
	if err != nil {
		t.Fatalf("ParseDocument(%s): %v", js, err)
	}
	return doc
}

func jsonOf(t testing.TB, v docval.Value) string {
	t.Helper()
	b, err := docval.AppendJSON(nil, v)
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}

var randomKeys = []string{"a", "b", "c", "id", "tags", "x"}

func randomDocument(r *rand.Rand, depth int) *docval.Document {
	doc := docval.NewDocument()
	for range r.IntN(5) {
		doc.Set(randomKeys[r.IntN(len(randomKeys))], randomValue(r, depth+1))
	}
	return doc
}

func randomValue(r *rand.Rand, depth int) docval.Value {
	n := 10
	if depth >= 4 {
		n = 8 // scalars only
	}
	switch r.IntN(n) {
	case 0:
		return docval.Null{}
	case 1:
		return docval.Bool(r.IntN(2) == 1)
	case 2:
		return docval.Int(r.Int32() - r.Int32())
	case 3:
		return docval.Long(int64(1)<<40 + r.Int64N(1<<40))
	case 4:
		return docval.Double(r.Float64() * 1000)
	case 5:
		return docval.String(randomKeys[r.IntN(len(randomKeys))])
	case 6:
		b := make([]byte, r.IntN(4))
		for i := range b {
			b[i] = byte(r.IntN(256))
		}
		return docval.Binary(b)
	case 7:
		return docval.Time(time.Unix(r.Int64N(2e9), r.Int64N(1e9)).UTC())
	case 8:
		arr := make(docval.Array, r.IntN(4))
		for i := range arr {
			arr[i] = randomValue(r, depth+1)
		}
		return arr
	default:
		return randomDocument(r, depth)
	}
}
