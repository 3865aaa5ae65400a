// Package catalog describes the relational schema that documents are
// mapped onto: databases, collections, doc parts with their fields and
// scalars, logical indexes and their per-doc-part physical indexes.
//
// Snapshot and everything reachable from it is immutable. Builders derive
// new snapshots copy-on-write, sharing every untouched subtree, so pointer
// equality of two entities means "unchanged". MutableSnapshot is a
// transaction's private fork that records what it added.
package catalog

import (
	"fmt"

	"github.com/andreyvit/docrel/docval"
)

// FieldType is the column type a value is stored under.
type FieldType uint8

const (
	TypeNull FieldType = iota + 1
	TypeBoolean
	TypeInteger
	TypeLong
	TypeDouble
	TypeString
	TypeBinary
	TypeInstant
	// TypeChild marks a nested object (false) or array (true) stored in a
	// child doc part.
	TypeChild
)

var fieldTypeNames = [...]string{
	TypeNull:    "null",
	TypeBoolean: "boolean",
	TypeInteger: "integer",
	TypeLong:    "long",
	TypeDouble:  "double",
	TypeString:  "string",
	TypeBinary:  "binary",
	TypeInstant: "instant",
	TypeChild:   "child",
}

// identifier suffixes; distinct per type so that same-named columns of
// different types never collide
var fieldTypeChars = [...]byte{
	TypeNull:    'n',
	TypeBoolean: 'b',
	TypeInteger: 'i',
	TypeLong:    'l',
	TypeDouble:  'd',
	TypeString:  's',
	TypeBinary:  'r',
	TypeInstant: 't',
	TypeChild:   'e',
}

func (t FieldType) Valid() bool {
	return t >= TypeNull && t <= TypeChild
}

func (t FieldType) String() string {
	if t.Valid() {
		return fieldTypeNames[t]
	}
	return fmt.Sprintf("fieldtype(%d)", uint8(t))
}

func (t FieldType) Char() byte {
	return fieldTypeChars[t]
}

func ParseFieldType(s string) (FieldType, error) {
	for t := TypeNull; t <= TypeChild; t++ {
		if fieldTypeNames[t] == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown field type %q", s)
}

// TypeOf classifies a document value. Arrays and documents are TypeChild.
func TypeOf(v docval.Value) FieldType {
	switch v.Kind() {
	case docval.KindNull:
		return TypeNull
	case docval.KindBool:
		return TypeBoolean
	case docval.KindInt:
		return TypeInteger
	case docval.KindLong:
		return TypeLong
	case docval.KindDouble:
		return TypeDouble
	case docval.KindString:
		return TypeString
	case docval.KindBinary:
		return TypeBinary
	case docval.KindTime:
		return TypeInstant
	case docval.KindArray, docval.KindDocument:
		return TypeChild
	default:
		panic(fmt.Errorf("unknown kind %v", v.Kind()))
	}
}

type ChangeType uint8

const (
	Added ChangeType = iota + 1
	Modified
	Removed
)

func (c ChangeType) String() string {
	switch c {
	case Added:
		return "ADDED"
	case Modified:
		return "MODIFIED"
	case Removed:
		return "REMOVED"
	default:
		return fmt.Sprintf("change(%d)", uint8(c))
	}
}

// ChangedElement pairs a schema element with how a transaction changed it.
type ChangedElement[T any] struct {
	Element T
	Change  ChangeType
}

// Column is a Field or a Scalar. Both share one position space per doc
// part.
type Column interface {
	Identifier() string
	Type() FieldType
	Position() int
	IsScalar() bool
}
