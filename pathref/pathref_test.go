package pathref

import (
	"errors"
	"reflect"
	"sync"
	"testing"
)

func TestRoot(t *testing.T) {
	r := Root()
	if !r.IsRoot() {
		t.Fatalf("IsRoot = false, wanted true")
	}
	if r.Depth() != 0 {
		t.Fatalf("Depth = %d, wanted 0", r.Depth())
	}
	if len(r.Sequence()) != 0 {
		t.Fatalf("Sequence = %v, wanted empty", r.Sequence())
	}
	_, err := r.Parent()
	if !errors.Is(err, ErrInvalidReference) {
		t.Fatalf("Parent err = %v, wanted ErrInvalidReference", err)
	}
}

func TestChildNavigation(t *testing.T) {
	a := must(Root().Child("a", false))
	b := must(a.Child("b", false))
	if b.Depth() != 2 {
		t.Errorf("Depth = %d, wanted 2", b.Depth())
	}
	if p := must(b.Parent()); p != a {
		t.Errorf("Parent = %v, wanted %v", p, a)
	}
	if p := must(a.Parent()); p != Root() {
		t.Errorf("Parent = %v, wanted root", p)
	}
	deepEqual(t, b.Sequence(), []string{"a", "b"})
	deepEqual(t, b.String(), "a.b")
}

func TestArrayDimensions(t *testing.T) {
	a := must(Root().Child("a", false))
	if a.ArrayDimension() != 1 {
		t.Errorf("ArrayDimension(a) = %d, wanted 1", a.ArrayDimension())
	}
	a2 := must(a.ArrayChild())
	deepEqual(t, a2.Name(), "$2")
	if !a2.IsArrayElement() || a2.ArrayDimension() != 2 {
		t.Errorf("a.$2 = array %v dim %d, wanted array dim 2", a2.IsArrayElement(), a2.ArrayDimension())
	}
	a3 := must(a2.ArrayChild())
	deepEqual(t, a3.Name(), "$3")
	deepEqual(t, a3.Sequence(), []string{"a", "$2", "$3"})

	// objects inside nested arrays reset the dimension
	x := must(a3.Child("x", false))
	deepEqual(t, must(x.ArrayChild()).Name(), "$2")
}

func TestInvalidChildren(t *testing.T) {
	a := must(Root().Child("a", false))
	tests := []struct {
		name    string
		parent  *PathRef
		child   string
		isArray bool
	}{
		{"array child of root", Root(), "$2", true},
		{"wrong dimension", a, "$3", true},
		{"array element without $", a, "b", true},
		{"object child with array form", a, "$2", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.parent.Child(tt.child, tt.isArray)
			if !errors.Is(err, ErrInvalidReference) {
				t.Fatalf("Child(%q, %v) err = %v, wanted ErrInvalidReference", tt.child, tt.isArray, err)
			}
		})
	}
}

func TestDollarLookalikesAreObjectNames(t *testing.T) {
	for _, name := range []string{"$", "$1", "$02", "$x"} {
		c, err := Root().Child(name, false)
		if err != nil {
			t.Errorf("Child(%q) err = %v, wanted nil", name, err)
			continue
		}
		if c.IsArrayElement() {
			t.Errorf("Child(%q).IsArrayElement = true, wanted false", name)
		}
	}
}

func TestSequenceRoundTrip(t *testing.T) {
	seqs := [][]string{
		{},
		{"a"},
		{"a", "b", "c"},
		{"a", "$2"},
		{"a", "$2", "$3", "b", "$2"},
		{"with.dot", "", "ünïcode"},
	}
	for _, seq := range seqs {
		p, err := FromSequence(seq)
		if err != nil {
			t.Fatalf("FromSequence(%q) err = %v", seq, err)
		}
		deepEqual(t, p.Sequence(), seq)
		q := MustFromSequence(p.Sequence()...)
		if !p.Equal(q) {
			t.Errorf("round trip of %q not equal", seq)
		}
		if p.Key() != q.Key() || p.Hash() != q.Hash() {
			t.Errorf("round trip of %q changed key or hash", seq)
		}
	}
}

func TestEquality(t *testing.T) {
	ab := MustFromSequence("a", "b")
	if !ab.Equal(MustFromSequence("a", "b")) {
		t.Errorf("a.b != a.b")
	}
	if ab.Equal(MustFromSequence("a", "c")) {
		t.Errorf("a.b == a.c")
	}
	if ab.Equal(MustFromSequence("a")) {
		t.Errorf("a.b == a")
	}
	// keys must not collide for names containing the separator
	if MustFromSequence("a.b").Key() == ab.Key() {
		t.Errorf("key collision between [a.b] and [a b]")
	}
	if MustFromSequence("a.b").Equal(ab) {
		t.Errorf("[a.b] equal to [a b]")
	}
}

func TestConcurrentInterning(t *testing.T) {
	const n = 16
	results := make([]*PathRef, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = MustFromSequence("x", "y", "$2", "z")
		}()
	}
	wg.Wait()
	for i := 1; i < n; i++ {
		if results[i] != results[0] {
			t.Fatalf("goroutine %d got a different instance", i)
		}
	}
}

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

func deepEqual[T any](t testing.TB, a, e T) {
	t.Helper()
	if !reflect.DeepEqual(a, e) {
		t.Errorf("** got %v, wanted %v", a, e)
	}
}
