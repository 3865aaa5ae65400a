// Package docval models schemaless documents: ordered key/value maps whose
// values are scalars, arrays or nested documents.
package docval

import (
	"bytes"
	"fmt"
	"iter"
	"math"
	"slices"
	"sort"
	"time"
)

type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindLong
	KindDouble
	KindString
	KindBinary
	KindTime
	KindArray
	KindDocument
)

var kindNames = [...]string{
	KindNull:     "null",
	KindBool:     "bool",
	KindInt:      "int",
	KindLong:     "long",
	KindDouble:   "double",
	KindString:   "string",
	KindBinary:   "binary",
	KindTime:     "time",
	KindArray:    "array",
	KindDocument: "document",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Value is one of Null, Bool, Int, Long, Double, String, Binary, Time,
// Array or *Document.
type Value interface {
	Kind() Kind
}

type (
	Null   struct{}
	Bool   bool
	Int    int32
	Long   int64
	Double float64
	String string
	Binary []byte
	Time   time.Time
	Array  []Value
)

func (Null) Kind() Kind   { return KindNull }
func (Bool) Kind() Kind   { return KindBool }
func (Int) Kind() Kind    { return KindInt }
func (Long) Kind() Kind   { return KindLong }
func (Double) Kind() Kind { return KindDouble }
func (String) Kind() Kind { return KindString }
func (Binary) Kind() Kind { return KindBinary }
func (Time) Kind() Kind   { return KindTime }
func (Array) Kind() Kind  { return KindArray }

func (v Time) T() time.Time { return time.Time(v) }

// Entry is a single key/value pair of a Document.
type Entry struct {
	Key   string
	Value Value
}

func E(key string, value Value) Entry {
	return Entry{key, value}
}

// Document is an ordered map. Setting an existing key replaces its value in
// place.
type Document struct {
	entries []Entry
	index   map[string]int
}

func NewDocument(entries ...Entry) *Document {
	d := &Document{}
	for _, e := range entries {
		d.Set(e.Key, e.Value)
	}
	return d
}

func (*Document) Kind() Kind { return KindDocument }

func (d *Document) Len() int {
	return len(d.entries)
}

func (d *Document) Set(key string, value Value) {
	if value == nil {
		value = Null{}
	}
	if i, ok := d.index[key]; ok {
		d.entries[i].Value = value
		return
	}
	if d.index == nil {
		d.index = make(map[string]int)
	}
	d.index[key] = len(d.entries)
	d.entries = append(d.entries, Entry{key, value})
}

func (d *Document) Get(key string) (Value, bool) {
	i, ok := d.index[key]
	if !ok {
		return nil, false
	}
	return d.entries[i].Value, true
}

func (d *Document) Keys() []string {
	keys := make([]string, len(d.entries))
	for i, e := range d.entries {
		keys[i] = e.Key
	}
	return keys
}

func (d *Document) Entries() iter.Seq2[string, Value] {
	return func(yield func(string, Value) bool) {
		for _, e := range d.entries {
			if !yield(e.Key, e.Value) {
				return
			}
		}
	}
}

// Equal compares values structurally. Document key order is ignored; array
// order is not. NaN equals NaN.
func Equal(a, b Value) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if a.Kind() != b.Kind() {
		return false
	}
	switch a := a.(type) {
	case Null:
		return true
	case Bool:
		return a == b.(Bool)
	case Int:
		return a == b.(Int)
	case Long:
		return a == b.(Long)
	case Double:
		bv := b.(Double)
		return a == bv || (math.IsNaN(float64(a)) && math.IsNaN(float64(bv)))
	case String:
		return a == b.(String)
	case Binary:
		return bytes.Equal(a, b.(Binary))
	case Time:
		return a.T().Equal(b.(Time).T())
	case Array:
		bv := b.(Array)
		return slices.EqualFunc(a, bv, Equal)
	case *Document:
		bv := b.(*Document)
		if a.Len() != bv.Len() {
			return false
		}
		for k, av := range a.Entries() {
			bvv, ok := bv.Get(k)
			if !ok || !Equal(av, bvv) {
				return false
			}
		}
		return true
	default:
		panic(fmt.Errorf("unknown value %T", a))
	}
}

// From converts native Go values (as produced by encoding/json, YAML
// decoders or literals) into document values. Map keys are sorted since Go
// maps carry no order.
func From(v any) (Value, error) {
	switch v := v.(type) {
	case nil:
		return Null{}, nil
	case Value:
		return v, nil
	case bool:
		return Bool(v), nil
	case int:
		return intValue(int64(v)), nil
	case int32:
		return Int(v), nil
	case int64:
		return intValue(v), nil
	case float64:
		return Double(v), nil
	case float32:
		return Double(v), nil
	case string:
		return String(v), nil
	case []byte:
		return Binary(v), nil
	case time.Time:
		return Time(v), nil
	case []any:
		arr := make(Array, len(v))
		for i, e := range v {
			ev, err := From(e)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			arr[i] = ev
		}
		return arr, nil
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		d := &Document{}
		for _, k := range keys {
			ev, err := From(v[k])
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			d.Set(k, ev)
		}
		return d, nil
	default:
		return nil, fmt.Errorf("unsupported value type %T", v)
	}
}

func intValue(v int64) Value {
	if v >= math.MinInt32 && v <= math.MaxInt32 {
		return Int(v)
	}
	return Long(v)
}
