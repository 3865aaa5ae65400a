package docrel

import (
	"fmt"

	"github.com/andreyvit/docrel/catalog"
)

// createIndex defines a logical index and materializes it over the columns
// that already exist. Later columns are picked up by coverNewField as
// documents introduce them.
func createIndex(mc *catalog.MutableCollection, name string, unique bool, fields []catalog.IndexField) (*catalog.Index, error) {
	if len(fields) == 0 {
		return nil, fmt.Errorf("index %s.%s: no fields", mc.Name(), name)
	}
	path := fields[0].Path
	for _, f := range fields[1:] {
		if !f.Path.Equal(path) {
			return nil, fmt.Errorf("index %s.%s: fields span %v and %v, must share one path", mc.Name(), name, path, f.Path)
		}
	}
	idx, err := mc.AddIndex(name, unique, fields)
	if err != nil {
		return nil, err
	}
	mdp := mc.DocPart(path)
	if mdp == nil {
		return idx, nil
	}
	for _, cols := range indexColumnCombos(mdp, idx, nil) {
		mdp.AddDocPartIndex(idx.Identifier(), idx.Unique(), cols)
	}
	return idx, nil
}

// dropIndex removes a logical index along with its doc part indexes.
func dropIndex(mc *catalog.MutableCollection, name string) error {
	idx, err := mc.RemoveIndex(name)
	if err != nil {
		return err
	}
	mdp := mc.DocPart(idx.Path())
	if mdp == nil {
		return nil
	}
	for _, dpi := range mdp.DocPartIndexes() {
		if dpi.Index() == idx.Identifier() {
			mdp.RemoveDocPartIndex(dpi.Identifier())
		}
	}
	return nil
}

// coverNewField adds the doc part indexes that become possible now that f
// exists. Only combinations including f are new; the rest were created
// when their last column appeared.
func coverNewField(mc *catalog.MutableCollection, mdp *catalog.MutableDocPart, f *catalog.Field) {
	if f.Type() == catalog.TypeChild {
		return
	}
	for _, idx := range mc.Indexes() {
		if !idx.Covers(mdp.Ref(), f.Name()) {
			continue
		}
		for _, cols := range indexColumnCombos(mdp, idx, f) {
			mdp.AddDocPartIndex(idx.Identifier(), idx.Unique(), cols)
		}
	}
}

// indexColumnCombos enumerates every assignment of a typed column to each
// index key. With must set, only assignments using must are returned.
func indexColumnCombos(mdp *catalog.MutableDocPart, idx *catalog.Index, must *catalog.Field) [][]catalog.DocPartIndexColumn {
	keys := idx.Fields()
	candidates := make([][]*catalog.Field, len(keys))
	for i, k := range keys {
		for _, f := range mdp.FieldsNamed(k.Name) {
			if f.Type() != catalog.TypeChild {
				candidates[i] = append(candidates[i], f)
			}
		}
		if len(candidates[i]) == 0 {
			return nil
		}
	}

	var result [][]catalog.DocPartIndexColumn
	cur := make([]*catalog.Field, len(keys))
	var walk func(i int, used bool)
	walk = func(i int, used bool) {
		if i == len(keys) {
			if must != nil && !used {
				return
			}
			cols := make([]catalog.DocPartIndexColumn, len(keys))
			for j, f := range cur {
				cols[j] = catalog.DocPartIndexColumn{
					Position:   f.Position(),
					Identifier: f.Identifier(),
					Descending: keys[j].Descending,
				}
			}
			result = append(result, cols)
			return
		}
		for _, f := range candidates[i] {
			cur[i] = f
			walk(i+1, used || f == must)
		}
	}
	walk(0, false)
	return result
}
