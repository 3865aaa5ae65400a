package docrel

import (
	"slices"
	"strings"
	"testing"

	"github.com/andreyvit/docrel/catalog"
	"github.com/andreyvit/docrel/pathref"
)

func TestIndexCoversColumnsAsTheyAppear(t *testing.T) {
	tr := newTranslation()
	idx, err := createIndex(tr.mc, "by_ab", false, []catalog.IndexField{
		{Path: pathref.Root(), Name: "a"},
		{Path: pathref.Root(), Name: "b", Descending: true},
	})
	if err != nil {
		t.Fatal(err)
	}

	tr.translate(t, parseDoc(t, `{"a": 1, "b": "x"}`))
	deepEqual(t, dpiColumns(tr, idx), []string{"a_i,b_s desc"})

	tr.translate(t, parseDoc(t, `{"a": "s"}`))
	deepEqual(t, dpiColumns(tr, idx), []string{"a_i,b_s desc", "a_s,b_s desc"})

	tr.translate(t, parseDoc(t, `{"b": 2}`))
	deepEqual(t, dpiColumns(tr, idx), []string{"a_i,b_i desc", "a_i,b_s desc", "a_s,b_i desc", "a_s,b_s desc"})

	// unrelated and child columns stay out
	tr.translate(t, parseDoc(t, `{"a": {"z": 1}, "c": 1}`))
	deepEqual(t, len(dpiColumns(tr, idx)), 4)
}

func TestCreateIndexOverExistingColumns(t *testing.T) {
	tr := newTranslation()
	tr.translate(t, parseDoc(t, `{"a": 1, "items": [{"q": 1.5}, {"q": 2}]}`))
	tr.translate(t, parseDoc(t, `{"a": "s"}`))

	byA, err := createIndex(tr.mc, "by_a", true, []catalog.IndexField{{Path: pathref.Root(), Name: "a"}})
	if err != nil {
		t.Fatal(err)
	}
	deepEqual(t, dpiColumns(tr, byA), []string{"a_i", "a_s"})
	for _, dpi := range tr.mc.DocPart(pathref.Root()).DocPartIndexes() {
		if !dpi.Unique() {
			t.Errorf("%s not unique", dpi.Identifier())
		}
	}

	items := pathref.MustFromSequence("items")
	byQ, err := createIndex(tr.mc, "by_q", false, []catalog.IndexField{{Path: items, Name: "q"}})
	if err != nil {
		t.Fatal(err)
	}
	dpis := tr.mc.DocPart(items).DocPartIndexes()
	deepEqual(t, len(dpis), 2)
	for _, dpi := range dpis {
		deepEqual(t, dpi.Index(), byQ.Identifier())
	}
}

func TestCreateIndexOnMissingPath(t *testing.T) {
	tr := newTranslation()
	tags := pathref.MustFromSequence("tags")
	idx, err := createIndex(tr.mc, "by_tag", false, []catalog.IndexField{{Path: tags, Name: "name"}})
	if err != nil {
		t.Fatal(err)
	}
	tr.translate(t, parseDoc(t, `{"tags": [{"name": "x"}]}`))
	deepEqual(t, dpiColumns(tr, idx), []string{"name_s"})
}

func TestCreateIndexRejectsMixedPaths(t *testing.T) {
	tr := newTranslation()
	_, err := createIndex(tr.mc, "bad", false, []catalog.IndexField{
		{Path: pathref.Root(), Name: "a"},
		{Path: pathref.MustFromSequence("b"), Name: "c"},
	})
	if err == nil || !strings.Contains(err.Error(), "must share one path") {
		t.Fatalf("err = %v, wanted path error", err)
	}
	_, err = createIndex(tr.mc, "empty", false, nil)
	if err == nil {
		t.Fatalf("createIndex with no fields succeeded")
	}
}

func TestDropIndexRemovesOnlyItsDocPartIndexes(t *testing.T) {
	tr := newTranslation()
	tr.translate(t, parseDoc(t, `{"a": 1, "ab": 2}`))
	byA := must(createIndex(tr.mc, "by", false, []catalog.IndexField{{Path: pathref.Root(), Name: "a"}}))
	byAB := must(createIndex(tr.mc, "by_x", false, []catalog.IndexField{{Path: pathref.Root(), Name: "ab"}}))
	deepEqual(t, len(tr.mc.DocPart(pathref.Root()).DocPartIndexes()), 2)

	if err := dropIndex(tr.mc, "by"); err != nil {
		t.Fatal(err)
	}
	if tr.mc.Index("by") != nil {
		t.Errorf("index still defined")
	}
	deepEqual(t, dpiColumns(tr, byA), []string(nil))
	deepEqual(t, dpiColumns(tr, byAB), []string{"ab_i"})

	if err := dropIndex(tr.mc, "by"); err == nil {
		t.Errorf("second drop succeeded")
	}
}

// dpiColumns lists the column sets of idx's doc part indexes, sorted.
func dpiColumns(tr *translation, idx *catalog.Index) []string {
	mdp := tr.mc.DocPart(idx.Path())
	if mdp == nil {
		return nil
	}
	var result []string
	for _, dpi := range mdp.DocPartIndexes() {
		if dpi.Index() != idx.Identifier() {
			continue
		}
		var cols []string
		for _, c := range dpi.Columns() {
			s := c.Identifier
			if c.Descending {
				s += " desc"
			}
			cols = append(cols, s)
		}
		result = append(result, strings.Join(cols, ","))
	}
	slices.Sort(result)
	return result
}
