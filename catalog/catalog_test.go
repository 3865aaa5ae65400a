package catalog

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/andreyvit/docrel/pathref"
)

func TestSanitize(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"abc", "abc"},
		{"ABC", "abc"},
		{"a-b c", "a_b_c"},
		{"9lives", "_9lives"},
		{"", "_"},
		{"ünï", "_n_"},
	}
	for _, tt := range tests {
		if got := sanitize(tt.in); got != tt.want {
			t.Errorf("sanitize(%q) = %q, wanted %q", tt.in, got, tt.want)
		}
	}
}

func TestUniqueIdentifierTruncates(t *testing.T) {
	long := strings.Repeat("x", 100)
	taken := map[string]bool{}
	for range 12 {
		id := uniqueIdentifier(long, func(s string) bool { return taken[s] })
		if len(id) > MaxIdentifierLength {
			t.Fatalf("len(%q) = %d, wanted <= %d", id, len(id), MaxIdentifierLength)
		}
		if taken[id] {
			t.Fatalf("identifier %q issued twice", id)
		}
		taken[id] = true
	}
}

func TestForkAddsElements(t *testing.T) {
	ms := Fork(EmptySnapshot())
	mdb := ms.GetOrAddDatabase("Shop")
	mc := mdb.GetOrAddCollection("orders")
	root := mc.GetOrAddDocPart(pathref.Root())
	f := root.AddField("total", TypeDouble)
	s := root.AddScalar(TypeInteger)

	deepEqual(t, mdb.Identifier(), "shop")
	deepEqual(t, root.Identifier(), "orders")
	deepEqual(t, f.Identifier(), "total_d")
	deepEqual(t, f.Position(), 0)
	deepEqual(t, s.Identifier(), "v_i")
	deepEqual(t, s.Position(), 1)

	if root.Field("total", TypeDouble) != f {
		t.Errorf("Field lookup failed")
	}
	if root.Field("total", TypeString) != nil {
		t.Errorf("Field lookup matched a different type")
	}

	changed := ms.ChangedDatabases()
	if len(changed) != 1 || changed[0].Change != Added {
		t.Fatalf("ChangedDatabases = %v, wanted one ADDED", changed)
	}
}

func TestSameNameDifferentTypesCoexist(t *testing.T) {
	mdp := Fork(EmptySnapshot()).GetOrAddDatabase("d").GetOrAddCollection("c").GetOrAddDocPart(pathref.Root())
	a := mdp.AddField("x", TypeInteger)
	b := mdp.AddField("x", TypeString)
	if a.Identifier() == b.Identifier() || a.Position() == b.Position() {
		t.Fatalf("x:integer and x:string collide: %q@%d vs %q@%d", a.Identifier(), a.Position(), b.Identifier(), b.Position())
	}
	deepEqual(t, len(mdp.FieldsNamed("x")), 2)
}

func TestColumnIdentifiersAvoidCollisions(t *testing.T) {
	mdp := Fork(EmptySnapshot()).GetOrAddDatabase("d").GetOrAddCollection("c").GetOrAddDocPart(pathref.Root())
	a := mdp.AddField("A", TypeInteger)
	b := mdp.AddField("a", TypeInteger)
	deepEqual(t, a.Identifier(), "a_i")
	deepEqual(t, b.Identifier(), "a_i_2")
}

func TestDocPartIdentifiersUniquePerDatabase(t *testing.T) {
	mdb := Fork(EmptySnapshot()).GetOrAddDatabase("d")
	c1 := mdb.GetOrAddCollection("a_b")
	c2 := mdb.GetOrAddCollection("a")
	dp1 := c1.GetOrAddDocPart(pathref.Root())
	dp2 := c2.GetOrAddDocPart(pathref.MustFromSequence("b"))
	deepEqual(t, dp1.Identifier(), "a_b")
	deepEqual(t, dp2.Identifier(), "a_b_2")
}

func TestBuildersShareUntouchedSubtrees(t *testing.T) {
	s0 := buildSample(t)
	db0 := s0.Database("d")

	sb := NewSnapshotBuilder(s0)
	if sb.Build() != s0 {
		t.Fatalf("Build without changes returned a new snapshot")
	}

	dbb := db0.Builder()
	cb := db0.Collection("c1").Builder()
	dpb := db0.Collection("c1").DocPart(pathref.Root()).Builder()
	dpb.AddField(NewField("y", "y_s", TypeString, dpb.NextPosition()))
	cb.PutDocPart(dpb.Build())
	dbb.PutCollection(cb.Build())
	sb.PutDatabase(dbb.Build())
	s1 := sb.Build()

	if s1 == s0 {
		t.Fatalf("Build with changes returned the base")
	}
	deepEqual(t, s1.Version(), s0.Version()+1)
	if s1.Database("d").Collection("c2") != db0.Collection("c2") {
		t.Errorf("untouched collection not shared")
	}
	if s0.Database("d").Collection("c1").DocPart(pathref.Root()).Field("y", TypeString) != nil {
		t.Errorf("base snapshot was modified")
	}
	if s1.Database("d").Collection("c1").DocPart(pathref.Root()).Field("y", TypeString) == nil {
		t.Errorf("new field missing")
	}
}

func TestBuilderRejectsPositionReuse(t *testing.T) {
	dpb := NewDocPartBuilder(pathref.Root(), "c")
	dpb.AddField(NewField("a", "a_i", TypeInteger, 0))
	defer func() {
		if recover() == nil {
			t.Errorf("AddField at a used position did not panic")
		}
	}()
	dpb.AddField(NewField("b", "b_i", TypeInteger, 0))
}

func TestMutableIndexes(t *testing.T) {
	mc := Fork(EmptySnapshot()).GetOrAddDatabase("d").GetOrAddCollection("c")
	fields := []IndexField{{Path: pathref.Root(), Name: "x"}}
	idx, err := mc.AddIndex("by_x", false, fields)
	if err != nil {
		t.Fatal(err)
	}
	deepEqual(t, idx.Identifier(), "c_by_x")
	if _, err := mc.AddIndex("by_x", true, fields); !errors.Is(err, ErrIndexExists) {
		t.Errorf("AddIndex duplicate err = %v, wanted ErrIndexExists", err)
	}
	if _, err := mc.RemoveIndex("nope"); !errors.Is(err, ErrIndexNotFound) {
		t.Errorf("RemoveIndex err = %v, wanted ErrIndexNotFound", err)
	}
	if _, err := mc.RemoveIndex("by_x"); err != nil {
		t.Errorf("RemoveIndex err = %v", err)
	}
	if mc.Index("by_x") != nil {
		t.Errorf("index still visible after removal")
	}
}

func TestDocPartIndexRemap(t *testing.T) {
	dpi := NewDocPartIndex("i_1", "i", false, []DocPartIndexColumn{{Position: 3, Identifier: "x_i"}})
	moved := dpi.WithRemappedColumns(map[int]int{3: 5})
	deepEqual(t, moved.Columns()[0].Position, 5)
	deepEqual(t, dpi.Columns()[0].Position, 3)
	if !moved.SameColumns(dpi) {
		t.Errorf("SameColumns should fall back to identifiers")
	}
	if dpi.WithRemappedColumns(nil) != dpi {
		t.Errorf("empty remap should return the receiver")
	}
}

func TestDumpIsDeterministic(t *testing.T) {
	a := buildSample(t).Dump()
	b := buildSample(t).Dump()
	deepEqual(t, a, b)
	if !strings.Contains(a, "x_i (x:integer)") {
		t.Errorf("dump lacks column description:\n%s", a)
	}
}

func buildSample(t testing.TB) *Snapshot {
	t.Helper()
	sb := NewSnapshotBuilder(EmptySnapshot())
	dbb := NewDatabaseBuilder("d", "d")
	for _, name := range []string{"c1", "c2"} {
		cb := NewCollectionBuilder(name, name)
		dpb := NewDocPartBuilder(pathref.Root(), name)
		dpb.AddField(NewField("x", "x_i", TypeInteger, 0))
		dpb.AddScalar(NewScalar("v_s", TypeString, 1))
		cb.PutDocPart(dpb.Build())
		dbb.PutCollection(cb.Build())
	}
	sb.PutDatabase(dbb.Build())
	return sb.Build()
}

func deepEqual[T any](t testing.TB, a, e T) {
	t.Helper()
	if !reflect.DeepEqual(a, e) {
		t.Errorf("** got %v, wanted %v", a, e)
	}
}
