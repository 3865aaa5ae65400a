package docval

import (
	"math"
	"reflect"
	"testing"
	"time"
)

func TestParseJSONPreservesOrderAndTypes(t *testing.T) {
	d, err := ParseDocument([]byte(`{
		// comments are fine
		"z": 1,
		"a": 5000000000,
		"m": 1.5,
		"s": "str",
		"n": null,
		"b": true,
		"arr": [1, [2, 3], {"x": 1}],
		"o": {"k": "v"},
	}`))
	if err != nil {
		t.Fatal(err)
	}
	deepEqual(t, d.Keys(), []string{"z", "a", "m", "s", "n", "b", "arr", "o"})

	kinds := map[string]Kind{
		"z": KindInt, "a": KindLong, "m": KindDouble, "s": KindString,
		"n": KindNull, "b": KindBool, "arr": KindArray, "o": KindDocument,
	}
	for k, want := range kinds {
		v, _ := d.Get(k)
		if v.Kind() != want {
			t.Errorf("%s kind = %v, wanted %v", k, v.Kind(), want)
		}
	}
}

func TestParseJSONRejectsTrailingData(t *testing.T) {
	if _, err := ParseJSON([]byte(`{} {}`)); err == nil {
		t.Fatalf("ParseJSON err = nil, wanted error")
	}
	if _, err := ParseDocument([]byte(`[1]`)); err == nil {
		t.Fatalf("ParseDocument err = nil, wanted error")
	}
}

func TestMarshalJSON(t *testing.T) {
	d := NewDocument(
		E("b", Int(1)),
		E("a", Double(2)),
		E("c", Array{String("x"), Null{}, NewDocument(E("y", Bool(false)))}),
	)
	out, err := d.MarshalJSON()
	if err != nil {
		t.Fatal(err)
	}
	deepEqual(t, string(out), `{"b":1,"a":2.0,"c":["x",null,{"y":false}]}`)

	back, err := ParseDocument(out)
	if err != nil {
		t.Fatal(err)
	}
	if !Equal(d, back) {
		t.Errorf("round trip changed the document: %s", out)
	}
}

func TestEqual(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name string
		a, b Value
		want bool
	}{
		{"key order ignored", NewDocument(E("a", Int(1)), E("b", Int(2))), NewDocument(E("b", Int(2)), E("a", Int(1))), true},
		{"array order matters", Array{Int(1), Int(2)}, Array{Int(2), Int(1)}, false},
		{"int vs long", Int(1), Long(1), false},
		{"nan", Double(math.NaN()), Double(math.NaN()), true},
		{"binary", Binary{1, 2}, Binary{1, 2}, true},
		{"time", Time(now), Time(now.UTC()), true},
		{"missing key", NewDocument(E("a", Null{})), NewDocument(E("b", Null{})), false},
		{"nested", NewDocument(E("a", Array{NewDocument()})), NewDocument(E("a", Array{NewDocument()})), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Equal(tt.a, tt.b); got != tt.want {
				t.Errorf("Equal = %v, wanted %v", got, tt.want)
			}
		})
	}
}

func TestSetReplacesInPlace(t *testing.T) {
	d := NewDocument(E("a", Int(1)), E("b", Int(2)))
	d.Set("a", String("x"))
	deepEqual(t, d.Keys(), []string{"a", "b"})
	v, _ := d.Get("a")
	deepEqual[Value](t, v, String("x"))
}

func TestFrom(t *testing.T) {
	v, err := From(map[string]any{"b": 1, "a": []any{int64(1 << 40), "s", nil}})
	if err != nil {
		t.Fatal(err)
	}
	want := NewDocument(
		E("a", Array{Long(1 << 40), String("s"), Null{}}),
		E("b", Int(1)),
	)
	if !Equal(v, want) {
		t.Errorf("From = %v, wanted %v", v, want)
	}
	deepEqual(t, v.(*Document).Keys(), []string{"a", "b"})

	if _, err := From(struct{}{}); err == nil {
		t.Errorf("From(struct{}{}) err = nil, wanted error")
	}
}

func deepEqual[T any](t testing.TB, a, e T) {
	t.Helper()
	if !reflect.DeepEqual(a, e) {
		t.Errorf("** got %v, wanted %v", a, e)
	}
}
